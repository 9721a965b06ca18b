// Package plan loads Terraform plan JSON and normalizes it into the immutable
// Document consumed by validators and the model prompt. Normalization keeps
// only resource diffs, variables and provider metadata; verbose plan internals
// are discarded to reduce token usage downstream.
package plan

import (
	"encoding/json"
	"errors"
	"fmt"
)

// DefaultMaxBytes bounds the accepted plan payload. Platform run task
// payloads are capped well below this; anything larger is rejected outright.
const DefaultMaxBytes = 10 << 20

// Action describes what Terraform intends to do with a resource.
type Action string

const (
	ActionCreate  Action = "create"
	ActionUpdate  Action = "update"
	ActionDelete  Action = "delete"
	ActionReplace Action = "replace"
	ActionNoop    Action = "no-op"
)

type (
	// Document is the normalized, read-only view of a Terraform plan. It is
	// created once by Load and never mutated afterwards; validators may share
	// it freely across goroutines.
	Document struct {
		// ResourceChanges lists planned changes in plan order.
		ResourceChanges []ResourceChange
		// Variables holds the resolved input variable values.
		Variables map[string]any
		// ProviderConfigs maps provider key to its normalized configuration.
		ProviderConfigs map[string]ProviderConfig
	}

	// ResourceChange is one planned resource diff.
	ResourceChange struct {
		// Address is the full resource address (e.g. "aws_instance.web").
		Address string
		// Type is the resource type (e.g. "aws_instance").
		Type string
		// Provider is the provider name that manages the resource.
		Provider string
		// Action is the normalized change action.
		Action Action
		// Before holds the pre-change attributes; nil for creates.
		Before map[string]any
		// After holds the post-change attributes; nil for deletes.
		After map[string]any
	}

	// ProviderConfig captures the subset of provider configuration the
	// validators care about.
	ProviderConfig struct {
		Name   string
		Region string
	}

	// MalformedError reports an unparseable or oversized plan payload. It is
	// terminal: the caller must not retry.
	MalformedError struct {
		Reason string
		Err    error
	}

	// Options tunes plan loading.
	Options struct {
		// MaxBytes caps the accepted payload size. Zero means DefaultMaxBytes.
		MaxBytes int
	}
)

// Error implements the error interface.
func (e *MalformedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed plan: %s: %v", e.Reason, e.Err)
	}
	return "malformed plan: " + e.Reason
}

// Unwrap returns the parse error, if any.
func (e *MalformedError) Unwrap() error { return e.Err }

// IsMalformed reports whether err is a MalformedError.
func IsMalformed(err error) bool {
	var me *MalformedError
	return errors.As(err, &me)
}

// rawPlan mirrors the subset of the Terraform plan JSON representation that
// survives normalization.
type rawPlan struct {
	FormatVersion   string                    `json:"format_version"`
	Variables       map[string]rawVariable    `json:"variables"`
	ResourceChanges []rawResourceChange       `json:"resource_changes"`
	Configuration   *rawConfiguration         `json:"configuration"`
}

type rawVariable struct {
	Value any `json:"value"`
}

type rawResourceChange struct {
	Address      string    `json:"address"`
	Type         string    `json:"type"`
	ProviderName string    `json:"provider_name"`
	Change       rawChange `json:"change"`
}

type rawChange struct {
	Actions []string       `json:"actions"`
	Before  map[string]any `json:"before"`
	After   map[string]any `json:"after"`
}

type rawConfiguration struct {
	ProviderConfig map[string]rawProviderConfig `json:"provider_config"`
}

type rawProviderConfig struct {
	Name        string                   `json:"name"`
	Expressions map[string]rawExpression `json:"expressions"`
}

type rawExpression struct {
	ConstantValue any `json:"constant_value"`
}

// Load parses raw plan JSON into a normalized Document. It fails with
// MalformedError when the payload is not valid plan JSON or exceeds the size
// ceiling.
func Load(raw []byte, opts Options) (*Document, error) {
	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if len(raw) > maxBytes {
		return nil, &MalformedError{Reason: fmt.Sprintf("payload size %d exceeds ceiling %d", len(raw), maxBytes)}
	}
	if len(raw) == 0 {
		return nil, &MalformedError{Reason: "empty payload"}
	}
	var rp rawPlan
	if err := json.Unmarshal(raw, &rp); err != nil {
		return nil, &MalformedError{Reason: "invalid JSON", Err: err}
	}
	if rp.FormatVersion == "" && rp.ResourceChanges == nil {
		return nil, &MalformedError{Reason: "not a Terraform plan document"}
	}

	doc := &Document{
		ResourceChanges: make([]ResourceChange, 0, len(rp.ResourceChanges)),
		Variables:       make(map[string]any, len(rp.Variables)),
		ProviderConfigs: make(map[string]ProviderConfig),
	}
	for name, v := range rp.Variables {
		doc.Variables[name] = v.Value
	}
	for _, rc := range rp.ResourceChanges {
		action, ok := normalizeActions(rc.Change.Actions)
		if !ok {
			return nil, &MalformedError{Reason: fmt.Sprintf("resource %q has unsupported action set %v", rc.Address, rc.Change.Actions)}
		}
		doc.ResourceChanges = append(doc.ResourceChanges, ResourceChange{
			Address:  rc.Address,
			Type:     rc.Type,
			Provider: rc.ProviderName,
			Action:   action,
			Before:   rc.Change.Before,
			After:    rc.Change.After,
		})
	}
	if rp.Configuration != nil {
		for key, pc := range rp.Configuration.ProviderConfig {
			cfg := ProviderConfig{Name: pc.Name}
			if expr, ok := pc.Expressions["region"]; ok {
				if region, ok := expr.ConstantValue.(string); ok {
					cfg.Region = region
				}
			}
			doc.ProviderConfigs[key] = cfg
		}
	}
	return doc, nil
}

// normalizeActions folds the Terraform action list into a single Action.
// Terraform emits ["delete","create"] (or the reverse) for replacements.
func normalizeActions(actions []string) (Action, bool) {
	switch len(actions) {
	case 0:
		return ActionNoop, true
	case 1:
		switch actions[0] {
		case "create":
			return ActionCreate, true
		case "update":
			return ActionUpdate, true
		case "delete":
			return ActionDelete, true
		case "no-op", "read":
			return ActionNoop, true
		}
	case 2:
		if (actions[0] == "delete" && actions[1] == "create") ||
			(actions[0] == "create" && actions[1] == "delete") {
			return ActionReplace, true
		}
	}
	return "", false
}

// ChangesOfType returns the resource changes whose type matches the given
// prefix, preserving plan order. A trailing '*' matches any suffix, mirroring
// the validator contracts (e.g. "aws_s3_bucket*").
func (d *Document) ChangesOfType(pattern string) []ResourceChange {
	prefix, wildcard := pattern, false
	if n := len(pattern); n > 0 && pattern[n-1] == '*' {
		prefix, wildcard = pattern[:n-1], true
	}
	var out []ResourceChange
	for _, rc := range d.ResourceChanges {
		if rc.Type == prefix || (wildcard && len(rc.Type) >= len(prefix) && rc.Type[:len(prefix)] == prefix) {
			out = append(out, rc)
		}
	}
	return out
}

// Counts tallies resource changes by action.
func (d *Document) Counts() (create, update, del int) {
	for _, rc := range d.ResourceChanges {
		switch rc.Action {
		case ActionCreate:
			create++
		case ActionUpdate:
			update++
		case ActionDelete:
			del++
		case ActionReplace:
			create++
			del++
		}
	}
	return create, update, del
}
