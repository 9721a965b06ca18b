package report

import (
	"fmt"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"goa.design/planguard/tools"
)

func TestAggregateSortsBySeverity(t *testing.T) {
	invs := []tools.Invocation{
		{Tool: "validate_ec2", Findings: []tools.Finding{
			tools.Ok(tools.CategorySecurity, "aws_instance.a", "instance type is current generation"),
			tools.Warning(tools.CategorySecurity, "aws_instance.b", "previous generation instance type"),
		}},
		{Tool: "validate_sg", Findings: []tools.Finding{
			tools.Critical(tools.CategorySecurity, "aws_security_group.open", "port 22 open to 0.0.0.0/0"),
		}},
		{Tool: "estimate_cost", Findings: []tools.Finding{
			{Severity: tools.SeverityCost, Category: tools.CategoryCost, Resource: "aws_instance.a",
				Message: "estimated monthly cost", Cost: &tools.CostDetail{InstanceType: "t3.micro", MonthlyUSD: 7.59}},
		}},
	}

	rep := Aggregate(invs, "summary", false)
	require.Len(t, rep.Findings, 4)
	require.Equal(t, tools.SeverityCritical, rep.Findings[0].Severity)
	require.Equal(t, tools.SeverityWarning, rep.Findings[1].Severity)
	require.Equal(t, tools.SeverityCost, rep.Findings[2].Severity)
	require.Equal(t, tools.SeverityOk, rep.Findings[3].Severity)
}

func TestStatus(t *testing.T) {
	passed := Aggregate([]tools.Invocation{{Findings: []tools.Finding{
		tools.Warning(tools.CategorySecurity, "aws_instance.a", "old type"),
	}}}, "", false)
	require.Equal(t, StatusPassed, passed.Status())

	// Critical findings surface in the report, not the status.
	withCritical := Aggregate([]tools.Invocation{{Findings: []tools.Finding{
		tools.Critical(tools.CategorySecurity, "aws_s3_bucket.b", "public-read ACL"),
	}}}, "", false)
	require.Equal(t, StatusPassed, withCritical.Status())
	require.Equal(t, 1, withCritical.CriticalCount())
}

func TestDegradedRunReportsPartial(t *testing.T) {
	rep := Aggregate([]tools.Invocation{{Findings: []tools.Finding{
		tools.Warning(tools.CategoryOperations, "", "model unavailable, analysis incomplete"),
	}}}, "", true)
	require.True(t, rep.Partial)
	require.Equal(t, StatusPartial, rep.Status())
	require.NotEqual(t, StatusFailed, rep.Status())
}

func TestRenderSections(t *testing.T) {
	rep := Aggregate([]tools.Invocation{
		{Findings: []tools.Finding{
			tools.Critical(tools.CategorySecurity, "aws_security_group.open", "port 3389 open to 0.0.0.0/0"),
			tools.Warning(tools.CategoryOperations, "aws_instance.web", "no monitoring enabled"),
			{Severity: tools.SeverityCost, Category: tools.CategoryCost, Resource: "aws_instance.web",
				Message: "estimated monthly cost", Cost: &tools.CostDetail{InstanceType: "m5.large", MonthlyUSD: 70.08}},
		}},
	}, "The plan opens remote desktop to the internet.", false)

	out := rep.Render()
	require.Contains(t, out, "## 🔍 Analysis Summary")
	require.Contains(t, out, "### 🚨 Security Findings")
	require.Contains(t, out, "🔴 **Critical**: port 3389 open to 0.0.0.0/0")
	require.Contains(t, out, "`aws_security_group.open`")
	require.Contains(t, out, "### 💰 Cost Analysis")
	require.Contains(t, out, "| aws_instance.web | $0.00 | $70.08/mo | +$70.08 🔴 |")
	require.Contains(t, out, "| **Total** | $0.00 | **$70.08/mo** | +$70.08 🔴 |")
	require.Contains(t, out, "### ⚙️ Operational Findings")
	require.Contains(t, out, "### 📋 Assessment")
	require.Contains(t, out, "remote desktop")
	require.False(t, rep.Truncated)
}

func TestRenderEmptyPlanAllClear(t *testing.T) {
	rep := Aggregate(nil, "", false)
	out := rep.Render()
	require.Contains(t, out, "All Clear")
	require.Equal(t, StatusPassed, rep.Status())
}

func TestRenderPartialBanner(t *testing.T) {
	rep := Aggregate(nil, "", true)
	require.Contains(t, rep.Render(), "completed partially")
}

func TestRenderCostTableDeltas(t *testing.T) {
	rep := Aggregate([]tools.Invocation{{Findings: []tools.Finding{
		{Severity: tools.SeverityCost, Category: tools.CategoryCost, Resource: "aws_instance.up",
			Message: "estimated monthly cost", Cost: &tools.CostDetail{InstanceType: "m5.large", MonthlyUSD: 70.08, BeforeUSD: 7.59}},
		{Severity: tools.SeverityCost, Category: tools.CategoryCost, Resource: "aws_instance.down",
			Message: "estimated monthly cost", Cost: &tools.CostDetail{InstanceType: "t3.micro", MonthlyUSD: 7.59, BeforeUSD: 70.08}},
		{Severity: tools.SeverityCost, Category: tools.CategoryCost, Resource: "aws_instance.same",
			Message: "estimated monthly cost", Cost: &tools.CostDetail{InstanceType: "t3.micro", MonthlyUSD: 7.59, BeforeUSD: 7.59}},
	}}}, "", false)

	out := rep.Render()
	require.Contains(t, out, "| aws_instance.up | $7.59/mo | $70.08/mo | +$62.49 (+823.3%) 🔴 |")
	require.Contains(t, out, "| aws_instance.down | $70.08/mo | $7.59/mo | -$62.49 (-89.2%) 🟢 |")
	require.Contains(t, out, "| aws_instance.same | $7.59/mo | $7.59/mo | $0.00 |")
}

func TestRenderEstimatedCostMarker(t *testing.T) {
	rep := Aggregate([]tools.Invocation{{Findings: []tools.Finding{
		{Severity: tools.SeverityCost, Category: tools.CategoryCost, Resource: "aws_instance.w",
			Message: "estimated monthly cost", Cost: &tools.CostDetail{InstanceType: "t9.mega", MonthlyUSD: 50, Estimated: true}},
	}}}, "", false)
	out := rep.Render()
	require.Contains(t, out, "$50.00/mo *")
	require.Contains(t, out, "fallback pricing table")
}

func TestRenderIsIdempotent(t *testing.T) {
	rep := Aggregate([]tools.Invocation{{Findings: manyFindings(40, 40, 40, 40)}}, "narrative", false)
	first := rep.Render()
	second := rep.Render()
	require.Equal(t, first, second)
}

func TestRenderTruncationProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("rendered output never exceeds the cap", prop.ForAll(
		func(nCrit, nWarn, nCost, nOk int) bool {
			rep := Aggregate([]tools.Invocation{{Findings: manyFindings(nCrit, nWarn, nCost, nOk)}}, "", false)
			return len(rep.Render()) <= MaxRenderLength
		},
		gen.IntRange(0, 60), gen.IntRange(0, 60), gen.IntRange(0, 60), gen.IntRange(0, 60),
	))

	properties.Property("critical findings survive while lower severities are dropped", prop.ForAll(
		func(nCrit, nOk int) bool {
			rep := Aggregate([]tools.Invocation{{Findings: manyFindings(nCrit, 0, 0, nOk)}}, "", false)
			out := rep.Render()
			if !rep.Truncated {
				return true
			}
			// If anything non-critical was dropped, every critical finding
			// must still be present.
			kept := strings.Count(out, "🔴 **Critical**")
			return kept == nCrit || strings.Count(out, "🟢 **Ok**") == 0
		},
		gen.IntRange(0, 30), gen.IntRange(0, 120),
	))

	properties.Property("truncated flag set exactly when findings are omitted", prop.ForAll(
		func(nWarn int) bool {
			rep := Aggregate([]tools.Invocation{{Findings: manyFindings(0, nWarn, 0, 0)}}, "", false)
			out := rep.Render()
			omitted := strings.Contains(out, "omitted due to length constraints")
			return rep.Truncated == omitted
		},
		gen.IntRange(0, 200),
	))

	properties.TestingRun(t)
}

func manyFindings(nCrit, nWarn, nCost, nOk int) []tools.Finding {
	var out []tools.Finding
	for i := 0; i < nCrit; i++ {
		out = append(out, tools.Critical(tools.CategorySecurity,
			fmt.Sprintf("aws_security_group.sg%d", i), "security group %d allows unrestricted ingress on a sensitive port", i))
	}
	for i := 0; i < nWarn; i++ {
		out = append(out, tools.Warning(tools.CategorySecurity,
			fmt.Sprintf("aws_instance.i%d", i), "instance %d uses a previous generation instance type", i))
	}
	for i := 0; i < nCost; i++ {
		out = append(out, tools.Finding{
			Severity: tools.SeverityCost, Category: tools.CategoryCost,
			Resource: fmt.Sprintf("aws_instance.c%d", i),
			Message:  "estimated monthly cost",
			Cost:     &tools.CostDetail{InstanceType: "t3.micro", MonthlyUSD: 7.59},
		})
	}
	for i := 0; i < nOk; i++ {
		out = append(out, tools.Ok(tools.CategorySecurity,
			fmt.Sprintf("aws_s3_bucket.b%d", i), "bucket %d blocks public access and is encrypted", i))
	}
	return out
}
