// Package secgroup validates security group ingress and egress rules in a
// Terraform plan. It is purely static: rules come from the plan diff, never
// from the cloud.
package secgroup

import (
	"context"
	"encoding/json"
	"fmt"

	"goa.design/planguard/plan"
	"goa.design/planguard/tools"
)

// ToolName is the identifier advertised to the model.
const ToolName = "validate_security_groups"

// sensitivePorts lists well-known ports whose internet exposure is always
// critical, in fixed order so findings are deterministic.
var sensitivePorts = []struct {
	port    int
	service string
}{
	{22, "SSH"},
	{3389, "RDP"},
	{3306, "MySQL"},
	{5432, "PostgreSQL"},
}

type (
	// Validator checks security group ingress rules for overly permissive
	// CIDR blocks on sensitive ports.
	Validator struct{}

	args struct {
		ResourceAddresses []string `json:"resource_addresses"`
	}
)

// New builds the security group validator.
func New() *Validator { return &Validator{} }

// Definition describes the tool for the model.
func (v *Validator) Definition() tools.Definition {
	return tools.Definition{
		Name: ToolName,
		Description: "Validates security group configurations to identify overly permissive " +
			"rules. Flags 0.0.0.0/0 CIDR blocks on sensitive ports including SSH (22), " +
			"RDP (3389), MySQL (3306), and PostgreSQL (5432) as critical, warns on any other " +
			"internet-open ingress, and notes unrestricted egress. Use this tool when the " +
			"plan creates or modifies security groups.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"resource_addresses": map[string]any{
					"type":        "array",
					"description": "Security group addresses to validate. Empty validates all security groups in the plan.",
					"items":       map[string]any{"type": "string"},
				},
			},
			"additionalProperties": false,
		},
	}
}

// Validate scans security group changes for ingress rules open to the world.
func (v *Validator) Validate(_ context.Context, doc *plan.Document, raw json.RawMessage) ([]tools.Finding, error) {
	var a args
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, fmt.Errorf("decode arguments: %w", err)
		}
	}
	filter := addressSet(a.ResourceAddresses)

	var findings []tools.Finding
	for _, rc := range doc.ChangesOfType("aws_security_group") {
		if rc.Action == plan.ActionDelete || rc.Action == plan.ActionNoop {
			continue
		}
		if filter != nil && !filter[rc.Address] {
			continue
		}
		findings = append(findings, checkGroup(rc)...)
	}
	return findings, nil
}

// checkGroup evaluates one security group's planned ingress and egress rules.
func checkGroup(rc plan.ResourceChange) []tools.Finding {
	var findings []tools.Finding
	for _, rule := range plan.Objects(rc.After, "ingress") {
		if !openToWorld(rule) {
			continue
		}
		findings = append(findings, checkRule(rc.Address, rule)...)
	}
	if len(findings) == 0 {
		findings = append(findings, tools.Ok(tools.CategorySecurity, rc.Address,
			"no ingress rules expose the group to the internet"))
	}
	for _, rule := range plan.Objects(rc.After, "egress") {
		if openToWorld(rule) {
			findings = append(findings, tools.Ok(tools.CategorySecurity, rc.Address,
				"allows unrestricted egress to 0.0.0.0/0, the common default for outbound traffic"))
			break
		}
	}
	return findings
}

// checkRule grades one world-open ingress rule. Sensitive ports are critical;
// any other world-open rule still warns.
func checkRule(address string, rule map[string]any) []tools.Finding {
	protocol := plan.Str(rule, "protocol")
	fromPort, fromOK := plan.Num(rule, "from_port")
	toPort, toOK := plan.Num(rule, "to_port")

	if protocol == "-1" || !fromOK || !toOK {
		return []tools.Finding{tools.Critical(tools.CategorySecurity, address,
			"allows ALL traffic (all protocols and ports) from 0.0.0.0/0, exposing every service to the internet")}
	}

	var findings []tools.Finding
	for _, info := range sensitivePorts {
		if int(fromPort) <= info.port && info.port <= int(toPort) {
			findings = append(findings, tools.Critical(tools.CategorySecurity, address,
				"exposes %s (port %d) to the internet via 0.0.0.0/0, "+
					"inviting brute force attacks and unauthorized access", info.service, info.port))
		}
	}
	if len(findings) == 0 {
		findings = append(findings, tools.Warning(tools.CategorySecurity, address,
			"allows ingress from 0.0.0.0/0 on %s; restrict the source CIDR unless the service is meant to be public",
			portRange(int(fromPort), int(toPort))))
	}
	return findings
}

// portRange formats a port span for finding messages.
func portRange(from, to int) string {
	if from == to {
		return fmt.Sprintf("port %d", from)
	}
	return fmt.Sprintf("ports %d-%d", from, to)
}

// openToWorld reports whether the rule admits traffic from any address.
func openToWorld(rule map[string]any) bool {
	for _, cidr := range plan.Strings(rule, "cidr_blocks") {
		if cidr == "0.0.0.0/0" {
			return true
		}
	}
	for _, cidr := range plan.Strings(rule, "ipv6_cidr_blocks") {
		if cidr == "::/0" {
			return true
		}
	}
	return false
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
