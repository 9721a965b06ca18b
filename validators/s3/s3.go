// Package s3 validates S3 bucket security posture in a Terraform plan:
// public exposure through ACLs or missing public access blocks, and
// server-side encryption configuration. Purely static, no cloud calls.
package s3

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"goa.design/planguard/plan"
	"goa.design/planguard/tools"
)

// ToolName is the identifier advertised to the model.
const ToolName = "validate_s3"

type (
	// Validator checks S3 bucket changes for public access and encryption
	// issues. Companion resources (public access block, encryption
	// configuration) are matched to their bucket by reference or by resource
	// name.
	Validator struct{}

	args struct {
		ResourceAddresses []string `json:"resource_addresses"`
	}
)

// New builds the S3 validator.
func New() *Validator { return &Validator{} }

// Definition describes the tool for the model.
func (v *Validator) Definition() tools.Definition {
	return tools.Definition{
		Name: ToolName,
		Description: "Validates S3 bucket security configurations including public access " +
			"block settings, bucket ACLs, and server-side encryption. Use this tool when " +
			"the plan creates or modifies S3 buckets to identify public exposure or " +
			"missing encryption.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"resource_addresses": map[string]any{
					"type":        "array",
					"description": "Bucket addresses to validate. Empty validates all buckets in the plan.",
					"items":       map[string]any{"type": "string"},
				},
			},
			"additionalProperties": false,
		},
	}
}

// Validate scans bucket changes together with their companion resources.
func (v *Validator) Validate(_ context.Context, doc *plan.Document, raw json.RawMessage) ([]tools.Finding, error) {
	var a args
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, fmt.Errorf("decode arguments: %w", err)
		}
	}
	filter := addressSet(a.ResourceAddresses)

	accessBlocks := doc.ChangesOfType("aws_s3_bucket_public_access_block")
	encryptionConfigs := doc.ChangesOfType("aws_s3_bucket_server_side_encryption_configuration")

	var findings []tools.Finding
	for _, rc := range doc.ChangesOfType("aws_s3_bucket") {
		if rc.Action == plan.ActionDelete || rc.Action == plan.ActionNoop {
			continue
		}
		if filter != nil && !filter[rc.Address] {
			continue
		}
		findings = append(findings, checkBucket(rc, accessBlocks, encryptionConfigs)...)
	}
	return findings, nil
}

// checkBucket evaluates one bucket change.
func checkBucket(rc plan.ResourceChange, accessBlocks, encryptionConfigs []plan.ResourceChange) []tools.Finding {
	var findings []tools.Finding

	aclPublic := false
	switch acl := plan.Str(rc.After, "acl"); acl {
	case "public-read", "public-read-write":
		aclPublic = true
		findings = append(findings, tools.Critical(tools.CategorySecurity, rc.Address,
			"bucket ACL %q makes the bucket contents readable by anyone on the internet", acl))
	}

	if pab := companion(rc, accessBlocks); pab == nil {
		// The ACL finding already reports the exposure; a second critical for
		// the same bucket would be noise.
		if !aclPublic {
			findings = append(findings, tools.Critical(tools.CategorySecurity, rc.Address,
				"no public access block configuration; the bucket could be made public through ACLs or policies"))
		}
	} else if disabled := disabledAccessSettings(pab.After); len(disabled) > 0 {
		findings = append(findings, tools.Critical(tools.CategorySecurity, rc.Address,
			"public access block settings disabled: %s", strings.Join(disabled, ", ")))
	}

	findings = append(findings, checkEncryption(rc, encryptionConfigs)...)

	if len(findings) == 0 {
		findings = append(findings, tools.Ok(tools.CategorySecurity, rc.Address,
			"bucket blocks public access and has server-side encryption enabled"))
	}
	return findings
}

// checkEncryption verifies server-side encryption from the companion
// configuration resource or the legacy inline block.
func checkEncryption(rc plan.ResourceChange, encryptionConfigs []plan.ResourceChange) []tools.Finding {
	enc := encryptionSettings(rc, encryptionConfigs)
	if enc == nil {
		return []tools.Finding{tools.Warning(tools.CategorySecurity, rc.Address,
			"no server-side encryption configured; data will not be encrypted at rest")}
	}

	switch algorithm := strings.ToLower(plan.Str(enc, "sse_algorithm")); algorithm {
	case "":
		return []tools.Finding{tools.Warning(tools.CategorySecurity, rc.Address,
			"encryption configuration present but no sse_algorithm specified; encryption will not be applied")}
	case "aes256":
		return nil
	case "aws:kms", "aws:kms:dsse":
		if plan.Str(enc, "kms_master_key_id") == "" {
			return []tools.Finding{tools.Ok(tools.CategorySecurity, rc.Address,
				"KMS encryption enabled with the default aws/s3 key; consider a customer-managed key")}
		}
		return nil
	default:
		return []tools.Finding{tools.Warning(tools.CategorySecurity, rc.Address,
			"unsupported encryption algorithm %q; use AES256 or aws:kms", algorithm)}
	}
}

// encryptionSettings resolves the apply_server_side_encryption_by_default
// block from the companion resource, falling back to the inline bucket
// attribute used by older provider versions.
func encryptionSettings(rc plan.ResourceChange, encryptionConfigs []plan.ResourceChange) map[string]any {
	if cfg := companion(rc, encryptionConfigs); cfg != nil {
		if rule := plan.Object(cfg.After, "rule"); rule != nil {
			if def := plan.Object(rule, "apply_server_side_encryption_by_default"); def != nil {
				return def
			}
		}
		return map[string]any{}
	}
	if inline := plan.Object(rc.After, "server_side_encryption_configuration"); inline != nil {
		if rule := plan.Object(inline, "rule"); rule != nil {
			if def := plan.Object(rule, "apply_server_side_encryption_by_default"); def != nil {
				return def
			}
		}
		return map[string]any{}
	}
	return nil
}

// companion finds the companion resource for a bucket: either its "bucket"
// attribute names the bucket, or the resource shares the bucket's name.
func companion(bucket plan.ResourceChange, candidates []plan.ResourceChange) *plan.ResourceChange {
	bucketName := plan.Str(bucket.After, "bucket")
	for i, c := range candidates {
		if c.Action == plan.ActionDelete {
			continue
		}
		if bucketName != "" && plan.Str(c.After, "bucket") == bucketName {
			return &candidates[i]
		}
		if resourceName(c.Address) == resourceName(bucket.Address) {
			return &candidates[i]
		}
	}
	return nil
}

// resourceName returns the name portion of an address ("aws_s3_bucket.logs"
// yields "logs").
func resourceName(address string) string {
	if i := strings.LastIndex(address, "."); i >= 0 {
		return address[i+1:]
	}
	return address
}

// disabledAccessSettings lists the public access block settings not enabled.
func disabledAccessSettings(attrs map[string]any) []string {
	var disabled []string
	for _, setting := range []struct{ key, label string }{
		{"block_public_acls", "Block Public ACLs"},
		{"block_public_policy", "Block Public Policy"},
		{"ignore_public_acls", "Ignore Public ACLs"},
		{"restrict_public_buckets", "Restrict Public Buckets"},
	} {
		if !plan.Bool(attrs, setting.key) {
			disabled = append(disabled, setting.label)
		}
	}
	return disabled
}

func addressSet(addresses []string) map[string]bool {
	if len(addresses) == 0 {
		return nil
	}
	set := make(map[string]bool, len(addresses))
	for _, a := range addresses {
		set[a] = true
	}
	return set
}
