// Package tools defines the validator contract and the registry that exposes
// validators to the conversation loop as callable tools. Validators are pure
// functions over the loaded plan document; the registry adds argument schema
// validation, dispatch instrumentation, and availability filtering on top.
package tools

import "fmt"

// Severity grades a finding. Ordering matters for aggregation and truncation:
// Critical outranks Warning, Warning outranks Cost, Cost outranks Ok.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityCost     Severity = "cost"
	SeverityOk       Severity = "ok"
)

// Category groups findings by concern for report sections.
type Category string

const (
	CategorySecurity   Category = "security"
	CategoryCost       Category = "cost"
	CategoryOperations Category = "operations"
)

type (
	// Finding is one observation produced by a validator. Findings are value
	// types: validators return fresh slices and never retain them.
	Finding struct {
		// Severity grades the finding.
		Severity Severity
		// Category names the concern the finding belongs to.
		Category Category
		// Resource is the plan address of the offending resource. Empty for
		// plan-wide summary findings.
		Resource string
		// Message is the human-readable description rendered in the report.
		Message string
		// Cost carries structured pricing data for cost line items. Nil for
		// non-cost findings.
		Cost *CostDetail
	}

	// CostDetail is the structured payload behind a cost finding. The report
	// renders these as rows of the cost table.
	CostDetail struct {
		// InstanceType or service identifier the price applies to.
		InstanceType string
		// MonthlyUSD is the estimated monthly cost in US dollars.
		MonthlyUSD float64
		// BeforeUSD is the monthly cost of the configuration being replaced.
		// Zero for newly created resources.
		BeforeUSD float64
		// Estimated is true when the figure comes from the fallback table
		// rather than the live pricing API.
		Estimated bool
	}
)

// rank orders severities for sorting and truncation. Lower is more severe.
func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityWarning:
		return 1
	case SeverityCost:
		return 2
	default:
		return 3
	}
}

// MoreSevere reports whether s outranks other.
func (s Severity) MoreSevere(other Severity) bool {
	return s.rank() < other.rank()
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityCritical, SeverityWarning, SeverityCost, SeverityOk:
		return true
	}
	return false
}

// String implements fmt.Stringer.
func (s Severity) String() string { return string(s) }

// String implements fmt.Stringer.
func (c Category) String() string { return string(c) }

// Critical builds a critical security finding for the given resource.
func Critical(category Category, resource, format string, args ...any) Finding {
	return Finding{Severity: SeverityCritical, Category: category, Resource: resource, Message: fmt.Sprintf(format, args...)}
}

// Warning builds a warning finding for the given resource.
func Warning(category Category, resource, format string, args ...any) Finding {
	return Finding{Severity: SeverityWarning, Category: category, Resource: resource, Message: fmt.Sprintf(format, args...)}
}

// Ok builds a passing finding.
func Ok(category Category, resource, format string, args ...any) Finding {
	return Finding{Severity: SeverityOk, Category: category, Resource: resource, Message: fmt.Sprintf(format, args...)}
}
