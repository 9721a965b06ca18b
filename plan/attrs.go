package plan

// Attribute accessors for the untyped maps carried in Before/After. Terraform
// plan JSON decodes numbers as float64 and nested blocks as []any of
// map[string]any; these helpers absorb the type assertions.

// Str returns the string attribute or "" when absent or not a string.
func Str(attrs map[string]any, key string) string {
	s, _ := attrs[key].(string)
	return s
}

// Num returns the numeric attribute and whether it was present.
func Num(attrs map[string]any, key string) (float64, bool) {
	f, ok := attrs[key].(float64)
	return f, ok
}

// Bool returns the boolean attribute or false when absent.
func Bool(attrs map[string]any, key string) bool {
	b, _ := attrs[key].(bool)
	return b
}

// Strings returns the string list attribute, skipping non-string elements.
func Strings(attrs map[string]any, key string) []string {
	list, ok := attrs[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, v := range list {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Objects returns the nested block list attribute, skipping non-object
// elements.
func Objects(attrs map[string]any, key string) []map[string]any {
	list, ok := attrs[key].([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(list))
	for _, v := range list {
		if m, ok := v.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// Object returns the first element of a nested block list, or nil. Terraform
// encodes single-block attributes as one-element lists.
func Object(attrs map[string]any, key string) map[string]any {
	objs := Objects(attrs, key)
	if len(objs) == 0 {
		return nil
	}
	return objs[0]
}
