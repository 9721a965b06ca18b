// Package model provides a provider-agnostic abstraction over function-calling
// chat completion APIs. The conversation loop works exclusively against these
// normalized types; adapters under features/ translate them into SDK formats.
package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

type (
	// Client defines the contract the conversation loop uses to invoke the
	// model. Implementations wrap provider SDKs and translate Request/Response
	// to provider-specific formats. Clients must be safe for concurrent use.
	Client interface {
		// Complete sends a chat completion request and returns the generated
		// response. A nil error with a non-empty ToolCalls slice means the
		// model wants tools executed before it can continue.
		Complete(ctx context.Context, req Request) (Response, error)
	}

	// Request captures the normalized parameters for one model invocation.
	Request struct {
		// Model is the provider-specific model identifier.
		Model string
		// Messages is the ordered conversation history, including the system
		// prompt, user input, assistant turns, and tool results.
		Messages []Message
		// Tools describes the tool schemas exposed for function calling.
		Tools []ToolDefinition
		// Temperature controls sampling. Zero means provider default.
		Temperature float32
		// MaxTokens caps completion length. Zero means provider default.
		MaxTokens int
	}

	// Response wraps the generated content and any tool call requests.
	Response struct {
		// Content is the assistant text, empty when the model only requested
		// tool calls.
		Content string
		// ToolCalls lists the tool invocations the model requested this turn.
		ToolCalls []ToolCall
		// StopReason explains why generation stopped: "end_turn", "tool_use",
		// "max_tokens", or a provider-specific value.
		StopReason string
		// Usage reports token counts when the provider supplies them.
		Usage TokenUsage
	}

	// Message is one entry of the conversation history.
	Message struct {
		// Role is one of the Role constants.
		Role string
		// Content is the message text. Empty for pure tool-call turns.
		Content string
		// ToolCalls carries the calls requested in an assistant turn.
		ToolCalls []ToolCall
		// ToolResults carries executed tool outputs in a tool turn.
		ToolResults []ToolResult
	}

	// ToolDefinition describes a tool schema advertised to the model.
	ToolDefinition struct {
		// Name is the identifier the model uses in tool calls.
		Name string
		// Description tells the model when to invoke the tool.
		Description string
		// InputSchema is the JSON Schema for the tool arguments.
		InputSchema map[string]any
	}

	// ToolCall is one tool invocation requested by the model.
	ToolCall struct {
		// ID correlates the call with its result across turns.
		ID string
		// Name identifies the requested tool.
		Name string
		// Args is the raw JSON argument payload the model generated.
		Args json.RawMessage
	}

	// ToolResult feeds one executed tool outcome back to the model.
	ToolResult struct {
		// CallID echoes the originating ToolCall.ID.
		CallID string
		// Content is the serialized tool output.
		Content string
		// IsError marks results that describe a tool failure.
		IsError bool
	}

	// TokenUsage records token counts reported by the provider.
	TokenUsage struct {
		InputTokens  int
		OutputTokens int
		TotalTokens  int
	}

	// ErrorKind classifies provider failures for retry decisions.
	ErrorKind string

	// ProviderError wraps a provider SDK failure with a retry classification.
	ProviderError struct {
		// Kind classifies the failure.
		Kind ErrorKind
		// Provider names the backing provider ("bedrock").
		Provider string
		// Err is the underlying SDK error.
		Err error
	}
)

// Provider error kinds.
const (
	// ErrorKindRateLimited marks throttling responses. Retryable with backoff.
	ErrorKindRateLimited ErrorKind = "rate_limited"
	// ErrorKindTransient marks temporary service faults. Retryable.
	ErrorKindTransient ErrorKind = "transient"
	// ErrorKindFatal marks permanent failures (bad request, auth, model not
	// found). Not retryable.
	ErrorKindFatal ErrorKind = "fatal"
)

// ErrRateLimited is matched by errors.Is for throttled provider calls.
var ErrRateLimited = errors.New("model: rate limited")

// Error implements the error interface.
func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider error (%s): %v", e.Provider, e.Kind, e.Err)
}

// Unwrap returns the underlying SDK error.
func (e *ProviderError) Unwrap() error { return e.Err }

// Is makes rate-limited provider errors match ErrRateLimited.
func (e *ProviderError) Is(target error) bool {
	return target == ErrRateLimited && e.Kind == ErrorKindRateLimited
}

// Retryable reports whether the failure may succeed on retry.
func (e *ProviderError) Retryable() bool {
	return e.Kind == ErrorKindRateLimited || e.Kind == ErrorKindTransient
}

// SystemMessage builds a system message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage builds a user message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage builds an assistant message carrying the model turn.
func AssistantMessage(content string, calls []ToolCall) Message {
	return Message{Role: RoleAssistant, Content: content, ToolCalls: calls}
}

// ToolMessage builds a tool turn carrying executed results.
func ToolMessage(results []ToolResult) Message {
	return Message{Role: RoleTool, ToolResults: results}
}

// WantsTools reports whether the model requested tool execution.
func (r Response) WantsTools() bool { return len(r.ToolCalls) > 0 }

// ValidateContext checks that ctx is usable before an expensive provider call.
func ValidateContext(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
