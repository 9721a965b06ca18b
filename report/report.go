// Package report aggregates validator findings into the final analysis
// report and renders it as markdown. Rendering is deterministic: the same
// findings in the same order always produce the same output.
package report

import (
	"fmt"
	"sort"
	"strings"

	"goa.design/planguard/tools"
)

// MaxRenderLength caps the rendered markdown. Platform result payloads reject
// longer bodies.
const MaxRenderLength = 9000

// Severity markers used in the rendered markdown.
var severityMarkers = map[tools.Severity]string{
	tools.SeverityCritical: "🔴",
	tools.SeverityWarning:  "🟡",
	tools.SeverityCost:     "💰",
	tools.SeverityOk:       "🟢",
}

type (
	// Report is the aggregated outcome of one analysis run.
	Report struct {
		// Findings holds every finding, sorted by severity (critical first)
		// with the original order preserved within a severity.
		Findings []tools.Finding
		// Narrative is the model's closing summary. Empty on degraded runs
		// that never reached a final model turn.
		Narrative string
		// Partial marks runs that degraded before completing every requested
		// analysis step.
		Partial bool
		// Truncated is set by Render when findings had to be dropped to fit
		// the output cap.
		Truncated bool
	}

	// Status is the overall verdict attached to the run.
	Status string
)

const (
	// StatusPassed means the analysis completed. Findings, critical ones
	// included, surface in the report body rather than the status: the run
	// never blocks a deployment on what it found.
	StatusPassed Status = "passed"
	// StatusPartial means the analysis degraded before completing every
	// requested step. Collected findings are still delivered.
	StatusPartial Status = "partial"
	// StatusFailed means a hard failure (malformed input, fatal
	// configuration) preempted analysis. Such runs produce no report, so
	// Status never returns this value; it exists for callers serializing a
	// failure outcome.
	StatusFailed Status = "failed"
)

// Aggregate merges the findings of all tool invocations into a report.
// Failed invocations contribute nothing here; the orchestrator records their
// failures as findings before aggregation.
func Aggregate(invocations []tools.Invocation, narrative string, partial bool) *Report {
	var findings []tools.Finding
	for _, inv := range invocations {
		findings = append(findings, inv.Findings...)
	}
	sortFindings(findings)
	return &Report{
		Findings:  findings,
		Narrative: narrative,
		Partial:   partial,
	}
}

// Status reports the run outcome. Degraded runs are partial; everything else
// passes regardless of finding severity.
func (r *Report) Status() Status {
	if r.Partial {
		return StatusPartial
	}
	return StatusPassed
}

// CriticalCount returns the number of critical findings.
func (r *Report) CriticalCount() int {
	n := 0
	for _, f := range r.Findings {
		if f.Severity == tools.SeverityCritical {
			n++
		}
	}
	return n
}

// Render produces the markdown body for the report. When the full rendering
// exceeds MaxRenderLength, findings are dropped least-severe-first (Ok, then
// Cost, then Warning) until the output fits; critical findings are only ever
// dropped once nothing less severe remains. Dropping anything sets Truncated.
func (r *Report) Render() string {
	out := render(r.Findings, r.Narrative, r.Partial, 0)
	if len(out) <= MaxRenderLength {
		return out
	}

	r.Truncated = true
	kept := r.Findings
	for _, drop := range []tools.Severity{tools.SeverityOk, tools.SeverityCost, tools.SeverityWarning} {
		kept = without(kept, drop)
		out = render(kept, r.Narrative, r.Partial, len(r.Findings)-len(kept))
		if len(out) <= MaxRenderLength {
			return out
		}
	}

	// Only critical findings remain. Keep as many as fit.
	for len(kept) > 1 {
		kept = kept[:len(kept)-1]
		out = render(kept, r.Narrative, r.Partial, len(r.Findings)-len(kept))
		if len(out) <= MaxRenderLength {
			return out
		}
	}
	return render(kept, "", r.Partial, len(r.Findings)-len(kept))
}

// sortFindings orders by severity rank, keeping input order within a rank.
func sortFindings(findings []tools.Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		return findings[i].Severity.MoreSevere(findings[j].Severity)
	})
}

// without returns findings excluding the given severity.
func without(findings []tools.Finding, drop tools.Severity) []tools.Finding {
	out := make([]tools.Finding, 0, len(findings))
	for _, f := range findings {
		if f.Severity != drop {
			out = append(out, f)
		}
	}
	return out
}

func render(findings []tools.Finding, narrative string, partial bool, omitted int) string {
	var b strings.Builder
	b.WriteString("## 🔍 Analysis Summary\n")

	if partial {
		b.WriteString("\n⚠️ *Analysis completed partially; some checks did not run.*\n")
	}
	if omitted > 0 {
		b.WriteString(fmt.Sprintf("\n⚠️ *%d findings omitted due to length constraints*\n", omitted))
	}

	security := byCategory(findings, tools.CategorySecurity)
	cost := byCategory(findings, tools.CategoryCost)
	operations := byCategory(findings, tools.CategoryOperations)

	if len(security) > 0 {
		b.WriteString("\n### 🚨 Security Findings\n")
		for _, f := range security {
			writeFinding(&b, f)
		}
	}

	if len(cost) > 0 {
		b.WriteString("\n### 💰 Cost Analysis\n")
		writeCostTable(&b, cost)
		for _, f := range cost {
			if f.Cost == nil {
				writeFinding(&b, f)
			}
		}
	}

	if len(operations) > 0 {
		b.WriteString("\n### ⚙️ Operational Findings\n")
		for _, f := range operations {
			writeFinding(&b, f)
		}
	}

	if len(findings) == 0 {
		b.WriteString("\n### 🟢 All Clear\n\nNo security, cost, or operational issues detected in this Terraform plan.\n")
	}

	if narrative != "" {
		b.WriteString("\n### 📋 Assessment\n\n")
		b.WriteString(narrative)
		b.WriteString("\n")
	}

	return b.String()
}

func writeFinding(b *strings.Builder, f tools.Finding) {
	marker, ok := severityMarkers[f.Severity]
	if !ok {
		marker = "⚪"
	}
	b.WriteString(fmt.Sprintf("\n%s **%s**: %s\n", marker, titleCase(string(f.Severity)), f.Message))
	if f.Resource != "" {
		b.WriteString(fmt.Sprintf("- **Resource**: `%s`\n", f.Resource))
	}
}

// writeCostTable renders cost line items as a markdown table. Findings
// without structured cost data are listed after the table by the caller.
func writeCostTable(b *strings.Builder, findings []tools.Finding) {
	var rows []tools.Finding
	for _, f := range findings {
		if f.Cost != nil {
			rows = append(rows, f)
		}
	}
	if len(rows) == 0 {
		return
	}

	b.WriteString("\n| Resource | Current Cost | New Cost | Change |\n")
	b.WriteString("|----------|--------------|----------|--------|\n")
	totalBefore, totalAfter := 0.0, 0.0
	estimated := false
	for _, f := range rows {
		after := fmt.Sprintf("$%.2f/mo", f.Cost.MonthlyUSD)
		if f.Cost.Estimated {
			after += " *"
			estimated = true
		}
		b.WriteString(fmt.Sprintf("| %s | %s | %s | %s |\n",
			f.Resource, dollars(f.Cost.BeforeUSD), after, change(f.Cost.BeforeUSD, f.Cost.MonthlyUSD)))
		totalBefore += f.Cost.BeforeUSD
		totalAfter += f.Cost.MonthlyUSD
	}
	b.WriteString(fmt.Sprintf("| **Total** | %s | **$%.2f/mo** | %s |\n",
		dollars(totalBefore), totalAfter, change(totalBefore, totalAfter)))
	if estimated {
		b.WriteString("\n\\* estimated from the fallback pricing table\n")
	}
}

// dollars renders a monthly amount, collapsing zero to a bare figure.
func dollars(usd float64) string {
	if usd <= 0 {
		return "$0.00"
	}
	return fmt.Sprintf("$%.2f/mo", usd)
}

// change renders the cost delta between two monthly amounts, with the
// percentage when a prior cost exists to compare against.
func change(before, after float64) string {
	diff := after - before
	switch {
	case diff > 0.005:
		if before > 0 {
			return fmt.Sprintf("+$%.2f (+%.1f%%) 🔴", diff, diff/before*100)
		}
		return fmt.Sprintf("+$%.2f 🔴", diff)
	case diff < -0.005:
		if before > 0 {
			return fmt.Sprintf("-$%.2f (-%.1f%%) 🟢", -diff, -diff/before*100)
		}
		return fmt.Sprintf("-$%.2f 🟢", -diff)
	default:
		return "$0.00"
	}
}

func byCategory(findings []tools.Finding, cat tools.Category) []tools.Finding {
	var out []tools.Finding
	for _, f := range findings {
		if f.Category == cat {
			out = append(out, f)
		}
	}
	return out
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
