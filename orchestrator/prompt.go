package orchestrator

import (
	"encoding/json"
	"fmt"
	"strings"

	"goa.design/planguard/plan"
	"goa.design/planguard/tools"
)

// maxPromptChanges caps the number of resource diffs embedded in the prompt
// to keep the token footprint bounded on large plans.
const maxPromptChanges = 20

const systemPrompt = "You are an AWS infrastructure analyst reviewing a Terraform plan. " +
	"Use the available tools to validate the resources the plan touches: call the " +
	"relevant tools first, then write a concise assessment of the plan covering " +
	"security concerns, cost impact, and operational risks. Base every statement on " +
	"the plan contents or tool results. When a tool is unavailable or fails, note " +
	"the gap and continue with the remaining checks."

// userPrompt renders the plan summary and analysis instructions for the
// opening user turn.
func userPrompt(doc *plan.Document, defs []tools.Definition) string {
	create, update, del := doc.Counts()

	var b strings.Builder
	fmt.Fprintf(&b, "Analyze this Terraform plan: %d to add, %d to change, %d to destroy.\n\n",
		create, update, del)

	if len(defs) > 0 {
		b.WriteString("Available validation tools: ")
		names := make([]string, len(defs))
		for i, d := range defs {
			names[i] = d.Name
		}
		b.WriteString(strings.Join(names, ", "))
		b.WriteString(".\n\n")
	}

	b.WriteString("Resource changes:\n")
	b.WriteString(encodeChanges(doc.ResourceChanges))

	if len(doc.ResourceChanges) > maxPromptChanges {
		fmt.Fprintf(&b, "\n(%d additional changes omitted; tools operate on the full plan)\n",
			len(doc.ResourceChanges)-maxPromptChanges)
	}
	return b.String()
}

// encodeChanges serializes a bounded slice of resource changes as JSON for
// the prompt. Attribute maps are included so the model can reason about
// configuration details without extra round trips.
func encodeChanges(changes []plan.ResourceChange) string {
	if len(changes) > maxPromptChanges {
		changes = changes[:maxPromptChanges]
	}
	type change struct {
		Address string         `json:"address"`
		Type    string         `json:"type"`
		Action  string         `json:"action"`
		After   map[string]any `json:"after,omitempty"`
	}
	items := make([]change, len(changes))
	for i, rc := range changes {
		items[i] = change{
			Address: rc.Address,
			Type:    rc.Type,
			Action:  string(rc.Action),
			After:   rc.After,
		}
	}
	raw, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return "[]"
	}
	return string(raw)
}
