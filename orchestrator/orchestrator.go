// Package orchestrator drives the multi-turn conversation between the model
// and the validator tools for one plan analysis run. The loop is an explicit
// state machine with a hard deadline budget: when the model becomes
// unavailable or the budget runs out, the run degrades to a partial report
// built from the findings gathered so far instead of failing.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"

	"goa.design/planguard/guardrail"
	"goa.design/planguard/model"
	"goa.design/planguard/plan"
	"goa.design/planguard/report"
	"goa.design/planguard/retry"
	"goa.design/planguard/telemetry"
	"goa.design/planguard/tools"
)

// State identifies a phase of the conversation loop.
type State string

const (
	StateInit          State = "init"
	StateAwaitModel    State = "await_model"
	StateDispatchTools State = "dispatch_tools"
	StateFinalizing    State = "finalizing"
	StateDegraded      State = "degraded"
	StateDone          State = "done"
)

type (
	// Budget bounds one analysis run. The deadline is a hard wall: it is
	// checked on every state transition and an expired budget degrades the
	// run instead of aborting it.
	Budget struct {
		// Deadline is the total wall-clock budget for the run.
		Deadline time.Duration
		// MaxTurns caps the number of model turns. Exhausting turns is
		// handled exactly like exhausting the deadline.
		MaxTurns int
		// CallTimeout bounds each individual model call.
		CallTimeout time.Duration
	}

	// Options configures an Orchestrator.
	Options struct {
		// Client is the model provider client. Required.
		Client model.Client
		// ModelID is the provider-specific model identifier. Required.
		ModelID string
		// Tools is the view of enabled validator tools. Required.
		Tools *tools.View
		// Guardrail screens text at the model boundary. Nil disables
		// screening.
		Guardrail guardrail.Gateway
		// Budget bounds the run. Zero fields take defaults.
		Budget Budget
		// Retry configures model call retries. Zero takes retry defaults.
		Retry retry.Config
		// Temperature and MaxTokens pass through to the model request.
		Temperature float32
		MaxTokens   int

		Logger  telemetry.Logger
		Metrics telemetry.Metrics
		Tracer  telemetry.Tracer
	}

	// ConfigError reports invalid orchestrator configuration. It is terminal:
	// no run is attempted.
	ConfigError struct {
		Field  string
		Reason string
	}

	// Orchestrator runs analysis conversations. Safe for concurrent use; each
	// Run carries its own state.
	Orchestrator struct {
		client    model.Client
		modelID   string
		tools     *tools.View
		guard     guardrail.Gateway
		budget    Budget
		retryCfg  retry.Config
		temp      float32
		maxTokens int
		logger    telemetry.Logger
		metrics   telemetry.Metrics
		tracer    telemetry.Tracer
	}

	// run is the mutable state of one conversation.
	run struct {
		o           *Orchestrator
		doc         *plan.Document
		state       State
		messages    []model.Message
		invocations []tools.Invocation
		extras      []tools.Finding
		narrative   string
		partial     bool
		deadline    time.Time
	}
)

// DefaultBudget returns the budget used when none is configured: enough for a
// handful of tool round trips inside a platform callback window.
func DefaultBudget() Budget {
	return Budget{
		Deadline:    50 * time.Second,
		MaxTurns:    8,
		CallTimeout: 20 * time.Second,
	}
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// New validates the options and builds an Orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Client == nil {
		return nil, &ConfigError{Field: "Client", Reason: "model client is required"}
	}
	if opts.ModelID == "" {
		return nil, &ConfigError{Field: "ModelID", Reason: "model identifier is required"}
	}
	if opts.Tools == nil {
		return nil, &ConfigError{Field: "Tools", Reason: "tool view is required"}
	}
	if opts.Budget.Deadline < 0 || opts.Budget.MaxTurns < 0 || opts.Budget.CallTimeout < 0 {
		return nil, &ConfigError{Field: "Budget", Reason: "budget values must not be negative"}
	}
	budget := opts.Budget
	def := DefaultBudget()
	if budget.Deadline == 0 {
		budget.Deadline = def.Deadline
	}
	if budget.MaxTurns == 0 {
		budget.MaxTurns = def.MaxTurns
	}
	if budget.CallTimeout == 0 {
		budget.CallTimeout = def.CallTimeout
	}
	retryCfg := opts.Retry
	if retryCfg.MaxAttempts == 0 {
		retryCfg = retry.DefaultConfig()
	}
	guard := opts.Guardrail
	if guard == nil {
		guard = guardrail.NewNoop()
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = telemetry.NewNoopTracer()
	}
	return &Orchestrator{
		client:    opts.Client,
		modelID:   opts.ModelID,
		tools:     opts.Tools,
		guard:     guard,
		budget:    budget,
		retryCfg:  retryCfg,
		temp:      opts.Temperature,
		maxTokens: opts.MaxTokens,
		logger:    logger,
		metrics:   metrics,
		tracer:    tracer,
	}, nil
}

// Run analyzes one plan document. The returned report is never nil on a nil
// error: degraded runs produce a partial report, not a failure.
func (o *Orchestrator) Run(ctx context.Context, doc *plan.Document) (*report.Report, error) {
	if doc == nil {
		return nil, &ConfigError{Field: "doc", Reason: "plan document is required"}
	}

	corr, ok := telemetry.FromContext(ctx)
	if !ok {
		corr = telemetry.NewCorrelation("")
		ctx = telemetry.WithCorrelation(ctx, corr)
	}
	ctx, cancel := context.WithTimeout(ctx, o.budget.Deadline)
	defer cancel()

	ctx, span := o.tracer.Start(ctx, "orchestrator.run")
	defer span.End()

	start := time.Now()
	r := &run{
		o:        o,
		doc:      doc,
		state:    StateInit,
		deadline: start.Add(o.budget.Deadline),
	}
	o.logger.Info(ctx, "analysis run started",
		"resources", len(doc.ResourceChanges), "tools", len(o.tools.Definitions()))

	rep := r.loop(ctx)

	status := string(rep.Status())
	o.metrics.RecordTimer(telemetry.MetricRunDuration, time.Since(start), "status", status)
	if rep.Partial {
		span.SetStatus(codes.Error, "degraded")
	}
	o.logger.Info(ctx, "analysis run finished",
		"status", status, "findings", len(rep.Findings), "partial", rep.Partial,
		"duration", time.Since(start))
	return rep, nil
}

// loop executes the state machine until done.
func (r *run) loop(ctx context.Context) *report.Report {
	r.transition(ctx, StateInit)

	// An empty plan needs no conversation.
	if len(r.doc.ResourceChanges) == 0 {
		r.narrative = "No changes detected in this plan; there is nothing to analyze."
		r.transition(ctx, StateFinalizing)
		r.transition(ctx, StateDone)
		return report.Aggregate(nil, r.narrative, false)
	}

	r.messages = []model.Message{
		model.SystemMessage(systemPrompt),
		model.UserMessage(userPrompt(r.doc, r.o.tools.Definitions())),
	}

	for turn := 1; ; turn++ {
		if r.expired(ctx) {
			r.degrade(ctx, "analysis deadline exhausted before the model completed its assessment")
			break
		}
		if turn > r.o.budget.MaxTurns {
			// Turn exhaustion is budget exhaustion under another name.
			r.degrade(ctx, fmt.Sprintf("turn budget (%d) exhausted before the model completed its assessment", r.o.budget.MaxTurns))
			break
		}

		r.transition(ctx, StateAwaitModel)
		resp, err := r.complete(ctx)
		if err != nil {
			r.degrade(ctx, modelFailureMessage(err))
			break
		}

		text := r.screen(ctx, resp.Content, guardrail.DirectionOutput)

		if !resp.WantsTools() {
			r.narrative = text
			r.transition(ctx, StateFinalizing)
			break
		}

		r.messages = append(r.messages, model.AssistantMessage(text, resp.ToolCalls))

		r.transition(ctx, StateDispatchTools)
		if r.expired(ctx) {
			r.degrade(ctx, "analysis deadline exhausted before tool execution")
			break
		}
		results := r.dispatch(ctx, resp.ToolCalls)
		r.messages = append(r.messages, model.ToolMessage(results))
	}

	r.transition(ctx, StateDone)
	invs := r.invocations
	if len(r.extras) > 0 {
		invs = append(invs, tools.Invocation{Tool: "conversation", Findings: r.extras})
	}
	return report.Aggregate(invs, r.narrative, r.partial)
}

// complete performs one model call with retry and per-call timeouts.
func (r *run) complete(ctx context.Context) (model.Response, error) {
	req := model.Request{
		Model:       r.o.modelID,
		Messages:    r.messages,
		Tools:       toolDefinitions(r.o.tools.Definitions()),
		Temperature: r.o.temp,
		MaxTokens:   r.o.maxTokens,
	}
	var resp model.Response
	err := retry.Do(ctx, r.o.retryCfg, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, r.o.budget.CallTimeout)
		defer cancel()
		var err error
		resp, err = r.o.client.Complete(callCtx, req)
		return err
	})
	return resp, err
}

// dispatch fans the requested calls out to the tool view, one goroutine per
// call, and merges the results back in request order.
func (r *run) dispatch(ctx context.Context, calls []model.ToolCall) []model.ToolResult {
	invs := make([]tools.Invocation, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call model.ToolCall) {
			defer wg.Done()
			invs[i] = r.o.tools.Dispatch(ctx, r.doc, tools.Call{ID: call.ID, Name: call.Name, Args: call.Args})
		}(i, call)
	}
	wg.Wait()

	results := make([]model.ToolResult, len(invs))
	for i, inv := range invs {
		r.invocations = append(r.invocations, inv)
		if inv.Err != nil {
			r.recordToolFault(ctx, inv)
		}
		results[i] = r.toolResult(ctx, inv)
	}
	return results
}

// toolResult serializes one invocation outcome for the model, screening the
// content on its way back into the conversation.
func (r *run) toolResult(ctx context.Context, inv tools.Invocation) model.ToolResult {
	if inv.Err != nil {
		var na *tools.NotAvailableError
		content := fmt.Sprintf("tool execution failed: %v", inv.Err)
		if errors.As(inv.Err, &na) {
			content = fmt.Sprintf("tool %q is not available in this run; continue the analysis without it", na.Tool)
		}
		return model.ToolResult{CallID: inv.ID, Content: content, IsError: true}
	}
	content := encodeFindings(inv.Findings)
	content = r.screen(ctx, content, guardrail.DirectionInput)
	return model.ToolResult{CallID: inv.ID, Content: content}
}

// recordToolFault converts a failed invocation into an operations finding so
// the report shows what did not run.
func (r *run) recordToolFault(ctx context.Context, inv tools.Invocation) {
	var na *tools.NotAvailableError
	switch {
	case errors.As(inv.Err, &na):
		r.extras = append(r.extras, tools.Warning(tools.CategoryOperations, "",
			"requested tool %q is not available; its checks were skipped", na.Tool))
	default:
		r.extras = append(r.extras, tools.Warning(tools.CategoryOperations, "",
			"tool %q failed: %v", inv.Tool, inv.Err))
	}
	r.o.logger.Warn(ctx, "tool fault recorded", "tool", inv.Tool, "err", inv.Err)
}

// screen passes text through the guardrail gateway. Interventions replace the
// text and leave a warning finding; gateway transport failures fail open.
func (r *run) screen(ctx context.Context, text string, dir guardrail.Direction) string {
	if text == "" {
		return text
	}
	decision, err := r.o.guard.Apply(ctx, text, dir)
	if err != nil {
		r.o.logger.Warn(ctx, "guardrail unavailable, passing content through", "direction", string(dir), "err", err)
		return text
	}
	if !decision.Intervened {
		return text
	}
	for _, policy := range decision.Interventions {
		r.extras = append(r.extras, tools.Warning(tools.CategorySecurity, "",
			"guardrail intervention: %s", policy))
	}
	r.o.logger.Warn(ctx, "guardrail intervened", "direction", string(dir), "policies", len(decision.Interventions))
	return decision.Text
}

// degrade switches the run to partial mode, preserving everything gathered so
// far. Degradation never blocks: the report keeps its findings and the run
// ends normally.
func (r *run) degrade(ctx context.Context, reason string) {
	r.transition(ctx, StateDegraded)
	r.partial = true
	r.extras = append(r.extras, tools.Warning(tools.CategoryOperations, "", "%s", reason))
	r.o.logger.Warn(ctx, "run degraded", "reason", reason, "invocations", len(r.invocations))
	r.transition(ctx, StateFinalizing)
}

// transition moves the state machine, logging the edge.
func (r *run) transition(ctx context.Context, next State) {
	if r.state == next {
		return
	}
	r.o.logger.Debug(ctx, "state transition", "from", string(r.state), "to", string(next))
	r.state = next
}

// expired reports whether the run budget is gone.
func (r *run) expired(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	return !time.Now().Before(r.deadline)
}

// modelFailureMessage describes a model failure for the report.
func modelFailureMessage(err error) string {
	switch {
	case errors.Is(err, model.ErrRateLimited):
		return "model provider throttled the run; analysis is incomplete"
	case errors.Is(err, context.DeadlineExceeded):
		return "model call timed out; analysis is incomplete"
	default:
		return fmt.Sprintf("model unavailable (%v); analysis is incomplete", err)
	}
}

// encodeFindings serializes findings for the model as compact JSON.
func encodeFindings(findings []tools.Finding) string {
	type item struct {
		Severity string  `json:"severity"`
		Category string  `json:"category"`
		Resource string  `json:"resource,omitempty"`
		Message  string  `json:"message"`
		Monthly  float64 `json:"monthly_usd,omitempty"`
	}
	items := make([]item, len(findings))
	for i, f := range findings {
		items[i] = item{
			Severity: string(f.Severity),
			Category: string(f.Category),
			Resource: f.Resource,
			Message:  f.Message,
		}
		if f.Cost != nil {
			items[i].Monthly = f.Cost.MonthlyUSD
		}
	}
	raw, err := json.Marshal(map[string]any{"findings": items})
	if err != nil {
		return `{"findings": []}`
	}
	return string(raw)
}

// toolDefinitions converts registry definitions to model definitions.
func toolDefinitions(defs []tools.Definition) []model.ToolDefinition {
	out := make([]model.ToolDefinition, len(defs))
	for i, d := range defs {
		out[i] = model.ToolDefinition{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: d.InputSchema,
		}
	}
	return out
}
