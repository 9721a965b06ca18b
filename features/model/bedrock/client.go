// Package bedrock provides a model.Client implementation backed by the AWS
// Bedrock Converse API. It encodes the normalized conversation (system prompt,
// user turns, tool calls and results) into Bedrock content blocks and
// translates Converse responses back, classifying provider failures for the
// retry layer.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"goa.design/planguard/model"
	"goa.design/planguard/telemetry"
)

const providerName = "bedrock"

// RuntimeClient mirrors the subset of the AWS Bedrock runtime client required
// by the adapter. It matches *bedrockruntime.Client so callers can pass either
// the real client or a mock in tests.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Options configures the Bedrock client adapter.
type Options struct {
	// Runtime provides access to the Bedrock runtime. Required.
	Runtime RuntimeClient

	// MaxTokens caps completions when a request does not specify MaxTokens.
	// Zero omits the cap so Bedrock applies its default.
	MaxTokens int

	// Temperature applies when a request does not specify Temperature.
	Temperature float32

	// Logger is used for non-fatal diagnostics. Nil defaults to a no-op.
	Logger telemetry.Logger
}

// Client implements model.Client on top of AWS Bedrock Converse.
type Client struct {
	runtime RuntimeClient
	maxTok  int
	temp    float32
	logger  telemetry.Logger
}

// New builds a Bedrock-backed model client.
func New(opts Options) (*Client, error) {
	if opts.Runtime == nil {
		return nil, errors.New("bedrock runtime client is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Client{
		runtime: opts.Runtime,
		maxTok:  opts.MaxTokens,
		temp:    opts.Temperature,
		logger:  logger,
	}, nil
}

// Complete issues one Converse call and translates the result.
func (c *Client) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	if err := model.ValidateContext(ctx); err != nil {
		return model.Response{}, err
	}
	input, err := c.buildInput(ctx, req)
	if err != nil {
		return model.Response{}, err
	}
	output, err := c.runtime.Converse(ctx, input)
	if err != nil {
		return model.Response{}, wrapError("converse", err)
	}
	return translateResponse(output)
}

func (c *Client) buildInput(ctx context.Context, req model.Request) (*bedrockruntime.ConverseInput, error) {
	if req.Model == "" {
		return nil, errors.New("bedrock: model identifier is required")
	}
	messages, system, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(req.Model),
		Messages: messages,
	}
	if len(system) > 0 {
		input.System = system
	}
	if cfg := encodeTools(ctx, req.Tools, c.logger); cfg != nil {
		input.ToolConfig = cfg
	}
	if cfg := c.inferenceConfig(req.MaxTokens, req.Temperature); cfg != nil {
		input.InferenceConfig = cfg
	}
	return input, nil
}

// encodeMessages splits the conversation into Bedrock system blocks and
// user/assistant messages. Tool turns become user messages carrying
// tool_result blocks, per the Converse contract.
func encodeMessages(msgs []model.Message) ([]brtypes.Message, []brtypes.SystemContentBlock, error) {
	var (
		conversation []brtypes.Message
		system       []brtypes.SystemContentBlock
	)
	for _, m := range msgs {
		switch m.Role {
		case model.RoleSystem:
			if m.Content != "" {
				system = append(system, &brtypes.SystemContentBlockMemberText{Value: m.Content})
			}
		case model.RoleUser:
			if m.Content == "" {
				continue
			}
			conversation = append(conversation, brtypes.Message{
				Role:    brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: m.Content}},
			})
		case model.RoleAssistant:
			blocks := make([]brtypes.ContentBlock, 0, 1+len(m.ToolCalls))
			if m.Content != "" {
				blocks = append(blocks, &brtypes.ContentBlockMemberText{Value: m.Content})
			}
			for _, call := range m.ToolCalls {
				blocks = append(blocks, &brtypes.ContentBlockMemberToolUse{
					Value: brtypes.ToolUseBlock{
						ToolUseId: aws.String(call.ID),
						Name:      aws.String(call.Name),
						Input:     rawDocument(call.Args),
					},
				})
			}
			if len(blocks) == 0 {
				continue
			}
			conversation = append(conversation, brtypes.Message{
				Role:    brtypes.ConversationRoleAssistant,
				Content: blocks,
			})
		case model.RoleTool:
			blocks := make([]brtypes.ContentBlock, 0, len(m.ToolResults))
			for _, result := range m.ToolResults {
				tr := brtypes.ToolResultBlock{
					ToolUseId: aws.String(result.CallID),
					Content: []brtypes.ToolResultContentBlock{
						&brtypes.ToolResultContentBlockMemberText{Value: result.Content},
					},
				}
				if result.IsError {
					tr.Status = brtypes.ToolResultStatusError
				}
				blocks = append(blocks, &brtypes.ContentBlockMemberToolResult{Value: tr})
			}
			if len(blocks) == 0 {
				continue
			}
			conversation = append(conversation, brtypes.Message{
				Role:    brtypes.ConversationRoleUser,
				Content: blocks,
			})
		default:
			return nil, nil, fmt.Errorf("bedrock: unsupported message role %q", m.Role)
		}
	}
	if len(conversation) == 0 {
		return nil, nil, errors.New("bedrock: at least one user or assistant message is required")
	}
	return conversation, system, nil
}

// encodeTools builds the Converse tool configuration from the advertised
// definitions. Definitions without a name are dropped with a warning rather
// than failing the whole request.
func encodeTools(ctx context.Context, defs []model.ToolDefinition, logger telemetry.Logger) *brtypes.ToolConfiguration {
	if len(defs) == 0 {
		return nil
	}
	toolList := make([]brtypes.Tool, 0, len(defs))
	for _, def := range defs {
		if def.Name == "" {
			logger.Warn(ctx, "dropping tool definition without a name")
			continue
		}
		schema := def.InputSchema
		if schema == nil {
			schema = map[string]any{"type": "object"}
		}
		toolList = append(toolList, &brtypes.ToolMemberToolSpec{
			Value: brtypes.ToolSpecification{
				Name:        aws.String(def.Name),
				Description: aws.String(def.Description),
				InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: lazyDocument(schema)},
			},
		})
	}
	if len(toolList) == 0 {
		return nil
	}
	return &brtypes.ToolConfiguration{Tools: toolList}
}

func (c *Client) inferenceConfig(maxTokens int, temp float32) *brtypes.InferenceConfiguration {
	var cfg brtypes.InferenceConfiguration
	if maxTokens <= 0 {
		maxTokens = c.maxTok
	}
	if maxTokens > 0 {
		cfg.MaxTokens = aws.Int32(int32(maxTokens)) //nolint:gosec // token caps fit in int32
	}
	if temp <= 0 {
		temp = c.temp
	}
	if temp > 0 {
		cfg.Temperature = aws.Float32(temp)
	}
	if cfg.MaxTokens == nil && cfg.Temperature == nil {
		return nil
	}
	return &cfg
}

// translateResponse converts a Converse output into the provider-neutral
// response shape. Multiple text blocks are joined with newlines.
func translateResponse(output *bedrockruntime.ConverseOutput) (model.Response, error) {
	if output == nil {
		return model.Response{}, errors.New("bedrock: response is nil")
	}
	resp := model.Response{StopReason: string(output.StopReason)}
	if msg, ok := output.Output.(*brtypes.ConverseOutputMemberMessage); ok {
		for _, block := range msg.Value.Content {
			switch v := block.(type) {
			case *brtypes.ContentBlockMemberText:
				if v.Value == "" {
					continue
				}
				if resp.Content != "" {
					resp.Content += "\n"
				}
				resp.Content += v.Value
			case *brtypes.ContentBlockMemberToolUse:
				call := model.ToolCall{Args: decodeDocument(v.Value.Input)}
				if v.Value.ToolUseId != nil {
					call.ID = *v.Value.ToolUseId
				}
				if v.Value.Name != nil {
					call.Name = *v.Value.Name
				}
				resp.ToolCalls = append(resp.ToolCalls, call)
			}
		}
	}
	if usage := output.Usage; usage != nil {
		resp.Usage = model.TokenUsage{
			InputTokens:  int(ptrValue(usage.InputTokens)),
			OutputTokens: int(ptrValue(usage.OutputTokens)),
			TotalTokens:  int(ptrValue(usage.TotalTokens)),
		}
	}
	return resp, nil
}

// wrapError classifies a Bedrock SDK failure into the model error taxonomy so
// the retry layer can distinguish throttling from permanent faults.
func wrapError(operation string, err error) error {
	kind := model.ErrorKindFatal
	switch {
	case isRateLimited(err):
		kind = model.ErrorKindRateLimited
	case isTransient(err):
		kind = model.ErrorKindTransient
	}
	return &model.ProviderError{
		Kind:     kind,
		Provider: providerName,
		Err:      fmt.Errorf("%s: %w", operation, err),
	}
}

// isRateLimited reports whether err represents provider throttling, either as
// a throttling error code or an HTTP 429.
func isRateLimited(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			return true
		}
	}
	var respErr *smithyhttp.ResponseError
	return errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusTooManyRequests
}

// isTransient reports whether err represents a temporary service fault worth
// retrying.
func isTransient(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ServiceUnavailableException", "InternalServerException", "ModelTimeoutException":
			return true
		}
	}
	var respErr *smithyhttp.ResponseError
	return errors.As(err, &respErr) && respErr.HTTPStatusCode() >= http.StatusInternalServerError
}

// rawDocument decodes raw JSON arguments into a Smithy document, falling back
// to an empty object on malformed input.
func rawDocument(raw json.RawMessage) document.Interface {
	if len(raw) == 0 {
		return lazyDocument(map[string]any{})
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return lazyDocument(map[string]any{})
	}
	return lazyDocument(decoded)
}

func decodeDocument(doc document.Interface) json.RawMessage {
	if doc == nil {
		return nil
	}
	data, err := doc.MarshalSmithyDocument()
	if err != nil || len(data) == 0 {
		return nil
	}
	return json.RawMessage(data)
}

func lazyDocument(v any) document.Interface {
	return document.NewLazyDocument(&v)
}

func ptrValue[T ~int32 | ~int64](ptr *T) T {
	if ptr == nil {
		return 0
	}
	return *ptr
}
