package s3

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"goa.design/planguard/plan"
	"goa.design/planguard/tools"
)

func bucket(name string, attrs map[string]any) plan.ResourceChange {
	if attrs == nil {
		attrs = map[string]any{}
	}
	if _, ok := attrs["bucket"]; !ok {
		attrs["bucket"] = name + "-bucket"
	}
	return plan.ResourceChange{
		Address: "aws_s3_bucket." + name,
		Type:    "aws_s3_bucket",
		Action:  plan.ActionCreate,
		After:   attrs,
	}
}

func accessBlock(name string, allEnabled bool) plan.ResourceChange {
	return plan.ResourceChange{
		Address: "aws_s3_bucket_public_access_block." + name,
		Type:    "aws_s3_bucket_public_access_block",
		Action:  plan.ActionCreate,
		After: map[string]any{
			"bucket":                  name + "-bucket",
			"block_public_acls":       allEnabled,
			"block_public_policy":     allEnabled,
			"ignore_public_acls":      allEnabled,
			"restrict_public_buckets": allEnabled,
		},
	}
}

func encryptionConfig(name, algorithm, kmsKey string) plan.ResourceChange {
	return plan.ResourceChange{
		Address: "aws_s3_bucket_server_side_encryption_configuration." + name,
		Type:    "aws_s3_bucket_server_side_encryption_configuration",
		Action:  plan.ActionCreate,
		After: map[string]any{
			"bucket": name + "-bucket",
			"rule": []any{map[string]any{
				"apply_server_side_encryption_by_default": []any{map[string]any{
					"sse_algorithm":     algorithm,
					"kms_master_key_id": kmsKey,
				}},
			}},
		},
	}
}

func validate(t *testing.T, changes ...plan.ResourceChange) []tools.Finding {
	t.Helper()
	doc := &plan.Document{ResourceChanges: changes}
	findings, err := New().Validate(context.Background(), doc, nil)
	require.NoError(t, err)
	return findings
}

func criticals(findings []tools.Finding) []tools.Finding {
	var out []tools.Finding
	for _, f := range findings {
		if f.Severity == tools.SeverityCritical {
			out = append(out, f)
		}
	}
	return out
}

func TestPublicReadACLYieldsExactlyOneCritical(t *testing.T) {
	findings := validate(t, bucket("logs", map[string]any{"acl": "public-read"}))
	crit := criticals(findings)
	require.Len(t, crit, 1)
	require.Contains(t, crit[0].Message, "public-read")
	require.Equal(t, "aws_s3_bucket.logs", crit[0].Resource)
}

func TestMissingPublicAccessBlockIsCritical(t *testing.T) {
	findings := validate(t, bucket("data", nil), encryptionConfig("data", "AES256", ""))
	crit := criticals(findings)
	require.Len(t, crit, 1)
	require.Contains(t, crit[0].Message, "no public access block")
}

func TestDisabledAccessBlockSettingsAreCritical(t *testing.T) {
	findings := validate(t,
		bucket("data", nil),
		accessBlock("data", false),
		encryptionConfig("data", "AES256", ""),
	)
	crit := criticals(findings)
	require.Len(t, crit, 1)
	require.Contains(t, crit[0].Message, "Block Public ACLs")
	require.Contains(t, crit[0].Message, "Restrict Public Buckets")
}

func TestMissingEncryptionIsWarning(t *testing.T) {
	findings := validate(t, bucket("plain", nil), accessBlock("plain", true))
	require.Len(t, findings, 1)
	require.Equal(t, tools.SeverityWarning, findings[0].Severity)
	require.Contains(t, findings[0].Message, "encrypted at rest")
}

func TestUnsupportedAlgorithmIsWarning(t *testing.T) {
	findings := validate(t,
		bucket("odd", nil),
		accessBlock("odd", true),
		encryptionConfig("odd", "ROT13", ""),
	)
	require.Len(t, findings, 1)
	require.Equal(t, tools.SeverityWarning, findings[0].Severity)
	require.Contains(t, findings[0].Message, "rot13")
}

func TestDefaultKMSKeyIsInformational(t *testing.T) {
	findings := validate(t,
		bucket("kms", nil),
		accessBlock("kms", true),
		encryptionConfig("kms", "aws:kms", ""),
	)
	require.Len(t, findings, 1)
	require.Equal(t, tools.SeverityOk, findings[0].Severity)
	require.Contains(t, findings[0].Message, "default aws/s3 key")
}

func TestCompliantBucketIsClean(t *testing.T) {
	findings := validate(t,
		bucket("good", nil),
		accessBlock("good", true),
		encryptionConfig("good", "aws:kms", "arn:aws:kms:eu-west-1:123456789012:key/abc"),
	)
	require.Len(t, findings, 1)
	require.Equal(t, tools.SeverityOk, findings[0].Severity)
}

func TestInlineEncryptionBlockIsRecognized(t *testing.T) {
	findings := validate(t,
		bucket("legacy", map[string]any{
			"server_side_encryption_configuration": []any{map[string]any{
				"rule": []any{map[string]any{
					"apply_server_side_encryption_by_default": []any{map[string]any{
						"sse_algorithm": "AES256",
					}},
				}},
			}},
		}),
		accessBlock("legacy", true),
	)
	require.Len(t, findings, 1)
	require.Equal(t, tools.SeverityOk, findings[0].Severity)
}

func TestCompanionMatchedByResourceName(t *testing.T) {
	b := bucket("byname", nil)
	delete(b.After, "bucket")
	pab := accessBlock("byname", true)
	delete(pab.After, "bucket")
	findings := validate(t, b, pab, encryptionConfig("byname", "AES256", ""))
	require.Len(t, findings, 1)
	require.Equal(t, tools.SeverityOk, findings[0].Severity)
}

func TestAddressFilter(t *testing.T) {
	doc := &plan.Document{ResourceChanges: []plan.ResourceChange{
		bucket("a", map[string]any{"acl": "public-read"}),
		bucket("b", map[string]any{"acl": "public-read"}),
	}}
	findings, err := New().Validate(context.Background(), doc,
		json.RawMessage(`{"resource_addresses": ["aws_s3_bucket.b"]}`))
	require.NoError(t, err)
	for _, f := range findings {
		require.Equal(t, "aws_s3_bucket.b", f.Resource)
	}
}

func TestEmptyPlanYieldsNoFindings(t *testing.T) {
	require.Empty(t, validate(t))
}
