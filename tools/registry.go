package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"goa.design/planguard/plan"
	"goa.design/planguard/telemetry"
)

type (
	// Validator analyzes the plan document and returns findings. Validate must
	// be safe for concurrent use: the registry fans out one goroutine per
	// requested tool within a turn.
	Validator interface {
		// Definition describes the tool as advertised to the model.
		Definition() Definition
		// Validate runs the analysis. args holds the raw JSON arguments the
		// model supplied, already validated against the definition schema.
		Validate(ctx context.Context, doc *plan.Document, args json.RawMessage) ([]Finding, error)
	}

	// Definition describes one callable tool.
	Definition struct {
		// Name is the tool identifier used in model tool calls.
		Name string
		// Description tells the model when to call the tool.
		Description string
		// InputSchema is the JSON Schema for the tool arguments.
		InputSchema map[string]any
	}

	// Call is one tool invocation request extracted from a model turn.
	Call struct {
		// ID correlates the invocation with its result in the conversation.
		ID string
		// Name is the requested tool name.
		Name string
		// Args is the raw JSON argument payload.
		Args json.RawMessage
	}

	// Invocation records one dispatched tool call, successful or not. The
	// orchestrator appends these to the conversation state and the report
	// references them for the execution summary.
	Invocation struct {
		ID        string
		Tool      string
		Args      json.RawMessage
		Findings  []Finding
		Err       error
		StartedAt time.Time
		Duration  time.Duration
	}

	// NotAvailableError reports a call to an unknown or disabled tool.
	NotAvailableError struct {
		Tool string
	}

	// ArgumentError reports tool arguments rejected by the input schema.
	ArgumentError struct {
		Tool string
		Err  error
	}

	// Registry holds the full validator set keyed by tool name.
	Registry struct {
		logger  telemetry.Logger
		metrics telemetry.Metrics
		tracer  telemetry.Tracer
		entries map[string]*entry
		order   []string
	}

	// View is a filtered, read-only window over a registry. The conversation
	// loop works against a view so that disabling a tool never requires
	// re-registration.
	View struct {
		reg     *Registry
		allowed map[string]bool
	}

	// Options configures a registry.
	Options struct {
		Logger  telemetry.Logger
		Metrics telemetry.Metrics
		Tracer  telemetry.Tracer
	}

	entry struct {
		validator Validator
		def       Definition
		schema    *jsonschema.Schema
	}
)

// Error implements the error interface.
func (e *NotAvailableError) Error() string {
	return fmt.Sprintf("tool %q is not available", e.Tool)
}

// Error implements the error interface.
func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid arguments for tool %q: %v", e.Tool, e.Err)
}

// Unwrap returns the schema validation error.
func (e *ArgumentError) Unwrap() error { return e.Err }

// NewRegistry builds an empty registry. Nil telemetry options default to
// no-ops.
func NewRegistry(opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = telemetry.NewNoopLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = telemetry.NewNoopMetrics()
	}
	if opts.Tracer == nil {
		opts.Tracer = telemetry.NewNoopTracer()
	}
	return &Registry{
		logger:  opts.Logger,
		metrics: opts.Metrics,
		tracer:  opts.Tracer,
		entries: make(map[string]*entry),
	}
}

// Register adds a validator to the registry. The tool name must be unique and
// the input schema must compile; both failures are configuration errors.
func (r *Registry) Register(v Validator) error {
	def := v.Definition()
	if def.Name == "" {
		return fmt.Errorf("validator has empty tool name")
	}
	if _, ok := r.entries[def.Name]; ok {
		return fmt.Errorf("tool %q already registered", def.Name)
	}
	schema, err := compileSchema(def.Name, def.InputSchema)
	if err != nil {
		return fmt.Errorf("tool %q: %w", def.Name, err)
	}
	r.entries[def.Name] = &entry{validator: v, def: def, schema: schema}
	r.order = append(r.order, def.Name)
	return nil
}

// Names returns all registered tool names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Enabled returns a view restricted to the named tools. With no names the view
// exposes every registered tool. Unknown names are ignored; callers that care
// should cross-check against Names.
func (r *Registry) Enabled(names ...string) *View {
	v := &View{reg: r, allowed: make(map[string]bool)}
	if len(names) == 0 {
		names = r.order
	}
	for _, name := range names {
		if _, ok := r.entries[name]; ok {
			v.allowed[name] = true
		}
	}
	return v
}

// Definitions lists the tool definitions visible through the view, in
// registration order.
func (v *View) Definitions() []Definition {
	var defs []Definition
	for _, name := range v.reg.order {
		if v.allowed[name] {
			defs = append(defs, v.reg.entries[name].def)
		}
	}
	return defs
}

// Dispatch executes one tool call against the plan document. Faults never
// escape as panics or bare errors: unknown tools, bad arguments, and validator
// failures all come back inside the Invocation so the conversation can report
// them to the model and keep going.
func (v *View) Dispatch(ctx context.Context, doc *plan.Document, call Call) Invocation {
	inv := Invocation{ID: call.ID, Tool: call.Name, Args: call.Args, StartedAt: time.Now()}

	ctx, span := v.reg.tracer.Start(ctx, "tools.dispatch",
		trace.WithAttributes(attribute.String("tool.name", call.Name)))
	defer span.End()

	ent, ok := v.reg.entries[call.Name]
	if !ok || !v.allowed[call.Name] {
		inv.Err = &NotAvailableError{Tool: call.Name}
		span.SetStatus(codes.Error, inv.Err.Error())
		v.reg.logger.Warn(ctx, "tool not available", "tool", call.Name)
		v.reg.metrics.IncCounter(telemetry.MetricToolFailure, 1, "tool", call.Name, "reason", "not_available")
		return inv
	}

	if err := validateArgs(ent.schema, call.Args); err != nil {
		inv.Err = &ArgumentError{Tool: call.Name, Err: err}
		span.SetStatus(codes.Error, inv.Err.Error())
		v.reg.logger.Warn(ctx, "tool arguments rejected", "tool", call.Name, "err", err)
		v.reg.metrics.IncCounter(telemetry.MetricToolFailure, 1, "tool", call.Name, "reason", "bad_arguments")
		return inv
	}

	findings, err := safeValidate(ctx, ent.validator, doc, call.Args)
	inv.Duration = time.Since(inv.StartedAt)
	v.reg.metrics.RecordTimer(telemetry.MetricToolDuration, inv.Duration, "tool", call.Name)

	if err != nil {
		inv.Err = err
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		v.reg.logger.Error(ctx, "tool execution failed", "tool", call.Name, "err", err)
		v.reg.metrics.IncCounter(telemetry.MetricToolFailure, 1, "tool", call.Name, "reason", "execution")
		return inv
	}

	inv.Findings = findings
	v.reg.logger.Info(ctx, "tool executed", "tool", call.Name, "findings", len(findings), "duration", inv.Duration)
	v.reg.metrics.IncCounter(telemetry.MetricToolSuccess, 1, "tool", call.Name)
	return inv
}

// safeValidate shields the dispatcher from panicking validators.
func safeValidate(ctx context.Context, v Validator, doc *plan.Document, args json.RawMessage) (findings []Finding, err error) {
	defer func() {
		if r := recover(); r != nil {
			findings = nil
			err = fmt.Errorf("validator panic: %v", r)
		}
	}()
	return v.Validate(ctx, doc, args)
}

// compileSchema compiles a tool input schema once at registration.
func compileSchema(name string, schema map[string]any) (*jsonschema.Schema, error) {
	if schema == nil {
		return nil, nil
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name+".json", schema); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile(name + ".json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return compiled, nil
}

// validateArgs checks the raw argument payload against the compiled schema.
// Empty arguments are treated as an empty object.
func validateArgs(schema *jsonschema.Schema, args json.RawMessage) error {
	if schema == nil {
		return nil
	}
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	var decoded any
	if err := json.Unmarshal(args, &decoded); err != nil {
		return fmt.Errorf("unmarshal arguments: %w", err)
	}
	return schema.Validate(decoded)
}
