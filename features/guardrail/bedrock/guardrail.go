// Package bedrock implements the guardrail gateway on top of the AWS Bedrock
// ApplyGuardrail API. Model prompts and completions are screened against a
// configured guardrail; interventions surface the sanitized replacement text
// and a summary of each triggered policy.
package bedrock

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"goa.design/planguard/guardrail"
	"goa.design/planguard/telemetry"
)

// GuardrailAPI mirrors the subset of the Bedrock runtime client used by the
// gateway. It matches *bedrockruntime.Client.
type GuardrailAPI interface {
	ApplyGuardrail(ctx context.Context, params *bedrockruntime.ApplyGuardrailInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ApplyGuardrailOutput, error)
}

// Options configures the Bedrock guardrail gateway.
type Options struct {
	// Runtime provides access to the Bedrock runtime. Required.
	Runtime GuardrailAPI

	// GuardrailID identifies the guardrail to apply. Required.
	GuardrailID string

	// GuardrailVersion selects the guardrail version. Defaults to "DRAFT".
	GuardrailVersion string

	// Logger is used to record interventions. Nil defaults to a no-op.
	Logger telemetry.Logger
}

// Gateway screens text through a Bedrock guardrail.
type Gateway struct {
	runtime GuardrailAPI
	id      string
	version string
	logger  telemetry.Logger
}

// New builds a Bedrock-backed guardrail gateway.
func New(opts Options) (*Gateway, error) {
	if opts.Runtime == nil {
		return nil, errors.New("bedrock guardrail runtime client is required")
	}
	if opts.GuardrailID == "" {
		return nil, errors.New("guardrail identifier is required")
	}
	version := opts.GuardrailVersion
	if version == "" {
		version = "DRAFT"
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Gateway{
		runtime: opts.Runtime,
		id:      opts.GuardrailID,
		version: version,
		logger:  logger,
	}, nil
}

// Apply screens text in the given direction. Transport failures are returned
// to the caller, which decides the fail-open policy.
func (g *Gateway) Apply(ctx context.Context, text string, dir guardrail.Direction) (guardrail.Decision, error) {
	if text == "" {
		return guardrail.Decision{Text: text}, nil
	}
	output, err := g.runtime.ApplyGuardrail(ctx, &bedrockruntime.ApplyGuardrailInput{
		GuardrailIdentifier: aws.String(g.id),
		GuardrailVersion:    aws.String(g.version),
		Source:              contentSource(dir),
		Content: []brtypes.GuardrailContentBlock{
			&brtypes.GuardrailContentBlockMemberText{
				Value: brtypes.GuardrailTextBlock{Text: aws.String(text)},
			},
		},
	})
	if err != nil {
		return guardrail.Decision{}, fmt.Errorf("apply guardrail: %w", err)
	}
	if output.Action != brtypes.GuardrailActionGuardrailIntervened {
		return guardrail.Decision{Text: text}, nil
	}

	decision := guardrail.Decision{
		Intervened:    true,
		Text:          sanitizedText(output.Outputs, text),
		Interventions: summarize(output.Assessments),
	}
	g.logger.Warn(ctx, "guardrail intervened",
		"direction", string(dir),
		"interventions", strings.Join(decision.Interventions, "; "),
	)
	return decision, nil
}

func contentSource(dir guardrail.Direction) brtypes.GuardrailContentSource {
	if dir == guardrail.DirectionOutput {
		return brtypes.GuardrailContentSourceOutput
	}
	return brtypes.GuardrailContentSourceInput
}

// sanitizedText returns the guardrail's replacement output, falling back to
// the original text when the guardrail blocked without rewriting.
func sanitizedText(outputs []brtypes.GuardrailOutputContent, original string) string {
	for _, out := range outputs {
		if out.Text != nil && *out.Text != "" {
			return *out.Text
		}
	}
	return original
}

// summarize flattens guardrail assessments into one label per triggered
// policy, preserving the assessment order.
func summarize(assessments []brtypes.GuardrailAssessment) []string {
	var labels []string
	for _, a := range assessments {
		if a.TopicPolicy != nil {
			for _, topic := range a.TopicPolicy.Topics {
				labels = append(labels, fmt.Sprintf("topic policy: %s", aws.ToString(topic.Name)))
			}
		}
		if a.ContentPolicy != nil {
			for _, filter := range a.ContentPolicy.Filters {
				labels = append(labels, fmt.Sprintf("content policy: %s (%s confidence)",
					filter.Type, filter.Confidence))
			}
		}
		if a.SensitiveInformationPolicy != nil {
			for _, pii := range a.SensitiveInformationPolicy.PiiEntities {
				labels = append(labels, fmt.Sprintf("sensitive information: %s", pii.Type))
			}
			for _, re := range a.SensitiveInformationPolicy.Regexes {
				labels = append(labels, fmt.Sprintf("sensitive information pattern: %s", aws.ToString(re.Name)))
			}
		}
		if a.WordPolicy != nil {
			for _, word := range a.WordPolicy.CustomWords {
				labels = append(labels, fmt.Sprintf("word policy: %s", aws.ToString(word.Match)))
			}
		}
	}
	return labels
}
