// Package ec2 validates EC2 instance and launch template configurations in a
// Terraform plan: instance type existence and regional availability,
// generation currency, and AMI resolution. Cloud metadata comes from the
// lookup contracts; lookup failures degrade to operational warnings instead of
// failing the tool.
package ec2

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"goa.design/planguard/lookup"
	"goa.design/planguard/plan"
	"goa.design/planguard/tools"
)

// ToolName is the identifier advertised to the model.
const ToolName = "validate_ec2"

// upgradePaths suggests a current generation replacement per instance family.
var upgradePaths = map[string]string{
	"t2": "t3",
	"t3": "t3a",
	"m4": "m5",
	"m5": "m6i",
	"c4": "c5",
	"c5": "c6i",
	"r4": "r5",
	"r5": "r6i",
}

type (
	// Validator checks EC2 instance changes against live instance type and
	// image metadata.
	Validator struct {
		ec2 lookup.EC2
	}

	args struct {
		ResourceAddresses []string `json:"resource_addresses"`
		Region            string   `json:"region"`
	}
)

// New builds the EC2 validator on top of the given lookup implementation.
func New(ec2 lookup.EC2) *Validator {
	return &Validator{ec2: ec2}
}

// Definition describes the tool for the model.
func (v *Validator) Definition() tools.Definition {
	return tools.Definition{
		Name: ToolName,
		Description: "Validates EC2 instance and launch template configurations including " +
			"instance type availability in the deployment region and AMI resolution. Use this " +
			"tool when the plan creates or modifies EC2 instances to catch nonexistent or " +
			"unavailable instance types before they fail at apply time.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"resource_addresses": map[string]any{
					"type":        "array",
					"description": "Instance addresses to validate. Empty validates all EC2 instances in the plan.",
					"items":       map[string]any{"type": "string"},
				},
				"region": map[string]any{
					"type":        "string",
					"description": "AWS region override. Defaults to the provider region from the plan.",
				},
			},
			"additionalProperties": false,
		},
	}
}

// Validate checks every selected instance change.
func (v *Validator) Validate(ctx context.Context, doc *plan.Document, raw json.RawMessage) ([]tools.Finding, error) {
	var a args
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, fmt.Errorf("decode arguments: %w", err)
		}
	}
	region := a.Region
	if region == "" {
		region = Region(doc)
	}
	filter := addressSet(a.ResourceAddresses)

	var findings []tools.Finding
	changes := doc.ChangesOfType("aws_instance")
	changes = append(changes, doc.ChangesOfType("aws_launch_template")...)
	for _, rc := range changes {
		if rc.Action == plan.ActionDelete || rc.Action == plan.ActionNoop {
			continue
		}
		if filter != nil && !filter[rc.Address] {
			continue
		}
		findings = append(findings, v.checkInstance(ctx, region, rc)...)
	}
	return findings, nil
}

// checkInstance validates one instance change's type, AMI, and the
// compatibility between the two.
func (v *Validator) checkInstance(ctx context.Context, region string, rc plan.ResourceChange) []tools.Finding {
	var (
		findings []tools.Finding
		typeInfo lookup.InstanceTypeInfo
		resolved bool
	)

	instanceType := plan.Str(rc.After, "instance_type")
	if instanceType == "" {
		// Launch templates may defer the type to the consuming resource.
		if rc.Type == "aws_instance" {
			findings = append(findings, tools.Warning(tools.CategoryOperations, rc.Address,
				"instance has no instance_type attribute in the plan"))
		}
	} else {
		fs, info, ok := v.checkInstanceType(ctx, region, rc.Address, instanceType)
		findings = append(findings, fs...)
		typeInfo, resolved = info, ok
	}

	ami := plan.Str(rc.After, "ami")
	if ami == "" {
		ami = plan.Str(rc.After, "image_id") // launch template attribute
	}
	if ami != "" {
		fs, img := v.checkImage(ctx, region, rc.Address, ami)
		findings = append(findings, fs...)
		if img != nil && resolved && !architectureSupported(typeInfo, img.Architecture) {
			findings = append(findings, tools.Critical(tools.CategoryOperations, rc.Address,
				"AMI %s is built for %s but instance type %q supports %s; the instance will not boot",
				ami, img.Architecture, instanceType, strings.Join(typeInfo.Architectures, "/")))
		}
	}
	return findings
}

// checkInstanceType grades the instance type. The returned info is only
// meaningful when ok is true (lookup succeeded and the type exists).
func (v *Validator) checkInstanceType(ctx context.Context, region, address, instanceType string) ([]tools.Finding, lookup.InstanceTypeInfo, bool) {
	info, err := v.ec2.InstanceType(ctx, region, instanceType)
	if err != nil {
		return []tools.Finding{tools.Warning(tools.CategoryOperations, address,
			"unable to validate instance type %q: %v", instanceType, err)}, info, false
	}

	switch {
	case !info.Known:
		return []tools.Finding{tools.Critical(tools.CategorySecurity, address,
			"instance type %q does not exist, likely a typo or a retired type; %s",
			instanceType, recommendation(instanceType, region))}, info, false
	case !info.Available:
		return []tools.Finding{tools.Critical(tools.CategoryOperations, address,
			"instance type %q is not available in %s and will fail at apply time; %s",
			instanceType, region, recommendation(instanceType, region))}, info, true
	case !info.CurrentGeneration:
		return []tools.Finding{tools.Warning(tools.CategoryOperations, address,
			"instance type %q is a previous generation type; %s",
			instanceType, recommendation(instanceType, region))}, info, true
	default:
		return []tools.Finding{tools.Ok(tools.CategoryOperations, address,
			"instance type %q is available in %s", instanceType, region)}, info, true
	}
}

func (v *Validator) checkImage(ctx context.Context, region, address, ami string) ([]tools.Finding, *lookup.Image) {
	img, err := v.ec2.Image(ctx, region, ami)
	if err != nil {
		return []tools.Finding{tools.Warning(tools.CategoryOperations, address,
			"unable to retrieve information for AMI %s: %v", ami, err)}, nil
	}
	if img == nil {
		return []tools.Finding{tools.Critical(tools.CategoryOperations, address,
			"AMI %s was not found in %s; the apply will fail unless the image is shared with this account", ami, region)}, nil
	}
	if img.Deprecated {
		return []tools.Finding{tools.Warning(tools.CategoryOperations, address,
			"AMI %s (%s) is deprecated; switch to a current image for security patches", ami, img.Name)}, img
	}
	return []tools.Finding{tools.Ok(tools.CategoryOperations, address,
		"AMI %s resolves to %q", ami, img.Name)}, img
}

// architectureSupported reports whether the image architecture is launchable
// on the instance type. Missing metadata on either side is treated as
// compatible rather than guessed at.
func architectureSupported(info lookup.InstanceTypeInfo, imageArch string) bool {
	if imageArch == "" || len(info.Architectures) == 0 {
		return true
	}
	for _, arch := range info.Architectures {
		if arch == imageArch {
			return true
		}
	}
	return false
}

// recommendation names a current generation alternative for the given type.
func recommendation(instanceType, region string) string {
	family, size, ok := strings.Cut(instanceType, ".")
	if !ok {
		return fmt.Sprintf("use a valid instance type format (e.g. t3.micro) in %s", region)
	}
	alternative, ok := upgradePaths[family]
	if !ok {
		alternative = "t3"
	}
	return fmt.Sprintf("consider %s.%s, a current generation type available in most regions", alternative, size)
}

// Region resolves the deployment region from the plan's provider
// configuration. Defaults to us-east-1 when the plan does not pin one.
func Region(doc *plan.Document) string {
	if cfg, ok := doc.ProviderConfigs["aws"]; ok && cfg.Region != "" {
		return cfg.Region
	}
	for _, cfg := range doc.ProviderConfigs {
		if cfg.Name == "aws" && cfg.Region != "" {
			return cfg.Region
		}
	}
	return "us-east-1"
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
