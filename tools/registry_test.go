package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"goa.design/planguard/plan"
)

type stubValidator struct {
	def      Definition
	findings []Finding
	err      error
	panics   bool
	gotArgs  json.RawMessage
}

func (s *stubValidator) Definition() Definition { return s.def }

func (s *stubValidator) Validate(_ context.Context, _ *plan.Document, args json.RawMessage) ([]Finding, error) {
	s.gotArgs = args
	if s.panics {
		panic("boom")
	}
	return s.findings, s.err
}

func newStub(name string) *stubValidator {
	return &stubValidator{
		def: Definition{
			Name:        name,
			Description: "stub",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"resource_addresses": map[string]any{
						"type":  "array",
						"items": map[string]any{"type": "string"},
					},
				},
				"additionalProperties": false,
			},
		},
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	reg := NewRegistry(Options{})
	require.NoError(t, reg.Register(newStub("validate_ec2")))
	err := reg.Register(newStub("validate_ec2"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "already registered")
}

func TestEnabledFiltersDefinitions(t *testing.T) {
	reg := NewRegistry(Options{})
	require.NoError(t, reg.Register(newStub("validate_ec2")))
	require.NoError(t, reg.Register(newStub("validate_s3")))
	require.NoError(t, reg.Register(newStub("estimate_cost")))

	all := reg.Enabled()
	require.Len(t, all.Definitions(), 3)

	some := reg.Enabled("validate_s3", "estimate_cost", "no_such_tool")
	defs := some.Definitions()
	require.Len(t, defs, 2)
	require.Equal(t, "validate_s3", defs[0].Name)
	require.Equal(t, "estimate_cost", defs[1].Name)
}

func TestDispatchSuccess(t *testing.T) {
	stub := newStub("validate_ec2")
	stub.findings = []Finding{Warning(CategorySecurity, "aws_instance.web", "old generation type")}

	reg := NewRegistry(Options{})
	require.NoError(t, reg.Register(stub))

	inv := reg.Enabled().Dispatch(context.Background(), &plan.Document{}, Call{
		ID:   "call-1",
		Name: "validate_ec2",
		Args: json.RawMessage(`{"resource_addresses": ["aws_instance.web"]}`),
	})
	require.NoError(t, inv.Err)
	require.Len(t, inv.Findings, 1)
	require.Equal(t, SeverityWarning, inv.Findings[0].Severity)
	require.JSONEq(t, `{"resource_addresses": ["aws_instance.web"]}`, string(stub.gotArgs))
}

func TestDispatchUnknownTool(t *testing.T) {
	reg := NewRegistry(Options{})
	require.NoError(t, reg.Register(newStub("validate_ec2")))

	inv := reg.Enabled().Dispatch(context.Background(), &plan.Document{}, Call{Name: "validate_rds"})
	var na *NotAvailableError
	require.ErrorAs(t, inv.Err, &na)
	require.Equal(t, "validate_rds", na.Tool)
	require.Empty(t, inv.Findings)
}

func TestDispatchDisabledTool(t *testing.T) {
	reg := NewRegistry(Options{})
	require.NoError(t, reg.Register(newStub("validate_ec2")))
	require.NoError(t, reg.Register(newStub("validate_s3")))

	view := reg.Enabled("validate_ec2")
	inv := view.Dispatch(context.Background(), &plan.Document{}, Call{Name: "validate_s3"})
	var na *NotAvailableError
	require.ErrorAs(t, inv.Err, &na)
}

func TestDispatchRejectsBadArguments(t *testing.T) {
	reg := NewRegistry(Options{})
	require.NoError(t, reg.Register(newStub("validate_ec2")))

	inv := reg.Enabled().Dispatch(context.Background(), &plan.Document{}, Call{
		Name: "validate_ec2",
		Args: json.RawMessage(`{"resource_addresses": "not-an-array"}`),
	})
	var ae *ArgumentError
	require.ErrorAs(t, inv.Err, &ae)
	require.Equal(t, "validate_ec2", ae.Tool)
}

func TestDispatchEmptyArgsTreatedAsObject(t *testing.T) {
	reg := NewRegistry(Options{})
	require.NoError(t, reg.Register(newStub("validate_ec2")))

	inv := reg.Enabled().Dispatch(context.Background(), &plan.Document{}, Call{Name: "validate_ec2"})
	require.NoError(t, inv.Err)
}

func TestDispatchRecoversFromPanic(t *testing.T) {
	stub := newStub("validate_ec2")
	stub.panics = true

	reg := NewRegistry(Options{})
	require.NoError(t, reg.Register(stub))

	inv := reg.Enabled().Dispatch(context.Background(), &plan.Document{}, Call{Name: "validate_ec2"})
	require.Error(t, inv.Err)
	require.Contains(t, inv.Err.Error(), "validator panic")
}

func TestDispatchSurfacesValidatorError(t *testing.T) {
	stub := newStub("validate_ec2")
	stub.err = errors.New("lookup timed out")

	reg := NewRegistry(Options{})
	require.NoError(t, reg.Register(stub))

	inv := reg.Enabled().Dispatch(context.Background(), &plan.Document{}, Call{Name: "validate_ec2"})
	require.EqualError(t, inv.Err, "lookup timed out")
}

func TestSeverityOrdering(t *testing.T) {
	require.True(t, SeverityCritical.MoreSevere(SeverityWarning))
	require.True(t, SeverityWarning.MoreSevere(SeverityCost))
	require.True(t, SeverityCost.MoreSevere(SeverityOk))
	require.False(t, SeverityOk.MoreSevere(SeverityCritical))
}
