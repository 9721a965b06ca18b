package ec2

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"goa.design/planguard/lookup"
	"goa.design/planguard/plan"
	"goa.design/planguard/tools"
)

type fakeEC2 struct {
	types      map[string]lookup.InstanceTypeInfo
	images     map[string]*lookup.Image
	typeErr    error
	imageErr   error
	lastRegion string
}

func (f *fakeEC2) InstanceType(_ context.Context, region, instanceType string) (lookup.InstanceTypeInfo, error) {
	f.lastRegion = region
	if f.typeErr != nil {
		return lookup.InstanceTypeInfo{}, f.typeErr
	}
	return f.types[instanceType], nil
}

func (f *fakeEC2) Image(_ context.Context, region, imageID string) (*lookup.Image, error) {
	f.lastRegion = region
	if f.imageErr != nil {
		return nil, f.imageErr
	}
	return f.images[imageID], nil
}

func instance(name string, attrs map[string]any) plan.ResourceChange {
	return plan.ResourceChange{
		Address: "aws_instance." + name,
		Type:    "aws_instance",
		Action:  plan.ActionCreate,
		After:   attrs,
	}
}

func docWith(changes ...plan.ResourceChange) *plan.Document {
	return &plan.Document{
		ResourceChanges: changes,
		ProviderConfigs: map[string]plan.ProviderConfig{
			"aws": {Name: "aws", Region: "eu-west-1"},
		},
	}
}

func TestAvailableCurrentGenerationType(t *testing.T) {
	fake := &fakeEC2{types: map[string]lookup.InstanceTypeInfo{
		"t3.micro": {Known: true, Available: true, CurrentGeneration: true},
	}}
	findings, err := New(fake).Validate(context.Background(),
		docWith(instance("web", map[string]any{"instance_type": "t3.micro"})), nil)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	require.Equal(t, tools.SeverityOk, findings[0].Severity)
	require.Equal(t, "eu-west-1", fake.lastRegion)
}

func TestUnknownInstanceTypeIsCritical(t *testing.T) {
	fake := &fakeEC2{types: map[string]lookup.InstanceTypeInfo{}}
	findings, err := New(fake).Validate(context.Background(),
		docWith(instance("web", map[string]any{"instance_type": "t3.mcro"})), nil)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	require.Equal(t, tools.SeverityCritical, findings[0].Severity)
	require.Contains(t, findings[0].Message, "does not exist")
	require.Contains(t, findings[0].Message, "t3a.mcro")
}

func TestUnavailableInRegionIsCritical(t *testing.T) {
	fake := &fakeEC2{types: map[string]lookup.InstanceTypeInfo{
		"m5.metal": {Known: true, Available: false},
	}}
	findings, err := New(fake).Validate(context.Background(),
		docWith(instance("big", map[string]any{"instance_type": "m5.metal"})), nil)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	require.Equal(t, tools.SeverityCritical, findings[0].Severity)
	require.Contains(t, findings[0].Message, "not available in eu-west-1")
	require.Contains(t, findings[0].Message, "m6i.metal")
}

func TestPreviousGenerationIsWarning(t *testing.T) {
	fake := &fakeEC2{types: map[string]lookup.InstanceTypeInfo{
		"t2.small": {Known: true, Available: true, CurrentGeneration: false},
	}}
	findings, err := New(fake).Validate(context.Background(),
		docWith(instance("old", map[string]any{"instance_type": "t2.small"})), nil)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	require.Equal(t, tools.SeverityWarning, findings[0].Severity)
	require.Contains(t, findings[0].Message, "previous generation")
	require.Contains(t, findings[0].Message, "t3.small")
}

func TestLookupFailureDegradesToWarning(t *testing.T) {
	fake := &fakeEC2{typeErr: errors.New("throttled")}
	findings, err := New(fake).Validate(context.Background(),
		docWith(instance("web", map[string]any{"instance_type": "t3.micro"})), nil)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	require.Equal(t, tools.SeverityWarning, findings[0].Severity)
	require.Equal(t, tools.CategoryOperations, findings[0].Category)
}

func TestAMIResolution(t *testing.T) {
	fake := &fakeEC2{
		types: map[string]lookup.InstanceTypeInfo{
			"t3.micro": {Known: true, Available: true, CurrentGeneration: true},
		},
		images: map[string]*lookup.Image{
			"ami-0abc": {ID: "ami-0abc", Name: "al2023-ami-2023.5"},
		},
	}
	findings, err := New(fake).Validate(context.Background(),
		docWith(instance("web", map[string]any{"instance_type": "t3.micro", "ami": "ami-0abc"})), nil)
	require.NoError(t, err)
	require.Len(t, findings, 2)
	require.Equal(t, tools.SeverityOk, findings[1].Severity)
	require.Contains(t, findings[1].Message, "al2023-ami-2023.5")
}

func TestMissingAMIIsCritical(t *testing.T) {
	fake := &fakeEC2{
		types: map[string]lookup.InstanceTypeInfo{
			"t3.micro": {Known: true, Available: true, CurrentGeneration: true},
		},
	}
	findings, err := New(fake).Validate(context.Background(),
		docWith(instance("web", map[string]any{"instance_type": "t3.micro", "ami": "ami-gone"})), nil)
	require.NoError(t, err)
	require.Len(t, findings, 2)
	require.Equal(t, tools.SeverityCritical, findings[1].Severity)
	require.Contains(t, findings[1].Message, "not found")
}

func TestDeprecatedAMIIsWarning(t *testing.T) {
	fake := &fakeEC2{
		types: map[string]lookup.InstanceTypeInfo{
			"t3.micro": {Known: true, Available: true, CurrentGeneration: true},
		},
		images: map[string]*lookup.Image{
			"ami-old": {ID: "ami-old", Name: "amzn-ami-2017.03", Deprecated: true},
		},
	}
	findings, err := New(fake).Validate(context.Background(),
		docWith(instance("web", map[string]any{"instance_type": "t3.micro", "ami": "ami-old"})), nil)
	require.NoError(t, err)
	require.Equal(t, tools.SeverityWarning, findings[1].Severity)
	require.Contains(t, findings[1].Message, "deprecated")
}

func TestArchitectureMismatchIsCritical(t *testing.T) {
	fake := &fakeEC2{
		types: map[string]lookup.InstanceTypeInfo{
			"t4g.micro": {Known: true, Available: true, CurrentGeneration: true,
				Architectures: []string{"arm64"}},
		},
		images: map[string]*lookup.Image{
			"ami-x86": {ID: "ami-x86", Name: "al2023-ami-2023.5", Architecture: "x86_64"},
		},
	}
	findings, err := New(fake).Validate(context.Background(),
		docWith(instance("web", map[string]any{"instance_type": "t4g.micro", "ami": "ami-x86"})), nil)
	require.NoError(t, err)
	require.Len(t, findings, 3)
	require.Equal(t, tools.SeverityCritical, findings[2].Severity)
	require.Contains(t, findings[2].Message, "will not boot")
	require.Contains(t, findings[2].Message, "x86_64")
}

func TestMatchingArchitectureIsClean(t *testing.T) {
	fake := &fakeEC2{
		types: map[string]lookup.InstanceTypeInfo{
			"t3.micro": {Known: true, Available: true, CurrentGeneration: true,
				Architectures: []string{"x86_64"}},
		},
		images: map[string]*lookup.Image{
			"ami-x86": {ID: "ami-x86", Name: "al2023-ami-2023.5", Architecture: "x86_64"},
		},
	}
	findings, err := New(fake).Validate(context.Background(),
		docWith(instance("web", map[string]any{"instance_type": "t3.micro", "ami": "ami-x86"})), nil)
	require.NoError(t, err)
	for _, f := range findings {
		require.NotEqual(t, tools.SeverityCritical, f.Severity)
	}
}

func TestLaunchTemplateValidated(t *testing.T) {
	fake := &fakeEC2{
		types: map[string]lookup.InstanceTypeInfo{
			"t3.micro": {Known: true, Available: true, CurrentGeneration: true},
		},
		images: map[string]*lookup.Image{
			"ami-0abc": {ID: "ami-0abc", Name: "al2023-ami-2023.5"},
		},
	}
	findings, err := New(fake).Validate(context.Background(),
		docWith(plan.ResourceChange{
			Address: "aws_launch_template.web",
			Type:    "aws_launch_template",
			Action:  plan.ActionCreate,
			After:   map[string]any{"instance_type": "t3.micro", "image_id": "ami-0abc"},
		}), nil)
	require.NoError(t, err)
	require.Len(t, findings, 2)
	require.Equal(t, "aws_launch_template.web", findings[0].Resource)
	require.Contains(t, findings[1].Message, "al2023-ami-2023.5")
}

func TestLaunchTemplateWithoutTypeIsSilent(t *testing.T) {
	fake := &fakeEC2{}
	findings, err := New(fake).Validate(context.Background(),
		docWith(plan.ResourceChange{
			Address: "aws_launch_template.bare",
			Type:    "aws_launch_template",
			Action:  plan.ActionCreate,
			After:   map[string]any{},
		}), nil)
	require.NoError(t, err)
	require.Empty(t, findings)
}

func TestRegionOverrideArgument(t *testing.T) {
	fake := &fakeEC2{types: map[string]lookup.InstanceTypeInfo{
		"t3.micro": {Known: true, Available: true, CurrentGeneration: true},
	}}
	_, err := New(fake).Validate(context.Background(),
		docWith(instance("web", map[string]any{"instance_type": "t3.micro"})),
		json.RawMessage(`{"region": "ap-south-1"}`))
	require.NoError(t, err)
	require.Equal(t, "ap-south-1", fake.lastRegion)
}

func TestAddressFilter(t *testing.T) {
	fake := &fakeEC2{types: map[string]lookup.InstanceTypeInfo{
		"t3.micro": {Known: true, Available: true, CurrentGeneration: true},
	}}
	findings, err := New(fake).Validate(context.Background(),
		docWith(
			instance("a", map[string]any{"instance_type": "t3.micro"}),
			instance("b", map[string]any{"instance_type": "t3.micro"}),
		),
		json.RawMessage(`{"resource_addresses": ["aws_instance.a"]}`))
	require.NoError(t, err)
	require.Len(t, findings, 1)
	require.Equal(t, "aws_instance.a", findings[0].Resource)
}

func TestRegionDefaults(t *testing.T) {
	require.Equal(t, "us-east-1", Region(&plan.Document{}))
	require.Equal(t, "eu-west-1", Region(docWith()))
}
