// Package guardrail defines the content screening gateway applied at the
// model boundary. Text crossing the boundary (model output, tool results fed
// back to the model) passes through the gateway; interventions replace the
// text with the sanitized version and are surfaced as findings, never as run
// failures.
package guardrail

import "context"

// Direction identifies which side of the model boundary the text is on.
type Direction string

const (
	// DirectionInput screens text sent to the model.
	DirectionInput Direction = "input"
	// DirectionOutput screens text generated by the model.
	DirectionOutput Direction = "output"
)

type (
	// Gateway screens text crossing the model boundary. Implementations must
	// fail open on transport errors: screening is advisory and an unreachable
	// guardrail service must not abort the analysis.
	Gateway interface {
		// Apply screens the text. A nil error with Intervened true means the
		// caller must use Text (the sanitized replacement) instead of the
		// original.
		Apply(ctx context.Context, text string, dir Direction) (Decision, error)
	}

	// Decision is the outcome of one screening call.
	Decision struct {
		// Intervened is true when the guardrail altered or blocked the text.
		Intervened bool
		// Text is the content to use downstream: the original when no
		// intervention occurred, the sanitized replacement otherwise.
		Text string
		// Interventions summarizes the triggered policies, one entry each.
		Interventions []string
	}

	// Noop passes all text through unaltered. Used when no guardrail is
	// configured.
	Noop struct{}
)

// NewNoop returns a gateway that never intervenes.
func NewNoop() Gateway { return Noop{} }

// Apply returns the text unchanged.
func (Noop) Apply(_ context.Context, text string, _ Direction) (Decision, error) {
	return Decision{Text: text}, nil
}
