// Package cost estimates the monthly EC2 cost impact of a Terraform plan.
// Prices come from the pricing lookup; when the catalog is unreachable or has
// no match the estimator falls back to a static table and family-based
// approximation so the tool always produces an answer.
package cost

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"goa.design/planguard/lookup"
	"goa.design/planguard/plan"
	"goa.design/planguard/tools"
	ec2validator "goa.design/planguard/validators/ec2"
)

// ToolName is the identifier advertised to the model.
const ToolName = "estimate_cost"

// DefaultHoursPerMonth is the billing convention for always-on instances.
const DefaultHoursPerMonth = 730

// ThresholdPercent is the default percentage above which a cost increase is
// flagged as high impact.
const ThresholdPercent = 20.0

// fallbackHourlyUSD holds on-demand Linux rates for common types, used when
// the pricing catalog is unavailable.
var fallbackHourlyUSD = map[string]float64{
	"t3.nano":     0.0052,
	"t3.micro":    0.0104,
	"t3.small":    0.0208,
	"t3.medium":   0.0416,
	"t3.large":    0.0832,
	"t3.xlarge":   0.1664,
	"t3.2xlarge":  0.3328,
	"t3a.nano":    0.0047,
	"t3a.micro":   0.0094,
	"t3a.small":   0.0188,
	"t3a.medium":  0.0376,
	"t3a.large":   0.0752,
	"t3a.xlarge":  0.1504,
	"t3a.2xlarge": 0.3008,
	"m5.large":    0.096,
	"m5.xlarge":   0.192,
	"m5.2xlarge":  0.384,
	"m5.4xlarge":  0.768,
	"c5.large":    0.085,
	"c5.xlarge":   0.17,
	"c5.2xlarge":  0.34,
	"c5.4xlarge":  0.68,
}

// familyBaseHourlyUSD approximates the micro-size rate per family for types
// absent from the fallback table.
var familyBaseHourlyUSD = map[string]float64{
	"t3":  0.0104,
	"t3a": 0.0094,
	"t2":  0.0116,
	"m5":  0.024,
	"m6i": 0.024,
	"c5":  0.0212,
	"c6i": 0.0212,
	"r5":  0.0315,
	"r6i": 0.0315,
}

// sizeMultipliers scales the family base rate by instance size.
var sizeMultipliers = map[string]float64{
	"nano":    0.5,
	"micro":   1.0,
	"small":   2.0,
	"medium":  4.0,
	"large":   8.0,
	"xlarge":  16.0,
	"2xlarge": 32.0,
	"4xlarge": 64.0,
	"8xlarge": 128.0,
}

type (
	// Estimator prices the EC2 instance changes in a plan.
	Estimator struct {
		pricing   lookup.Pricing
		threshold float64
	}

	// Option configures an Estimator.
	Option func(*Estimator)

	args struct {
		ResourceAddresses []string `json:"resource_addresses"`
		Region            string   `json:"region"`
		HoursPerMonth     int      `json:"hours_per_month"`
	}

	// estimate is one priced instance type.
	estimate struct {
		monthlyUSD float64
		estimated  bool
	}
)

// New builds the cost estimator on top of the given pricing lookup.
func New(pricing lookup.Pricing, opts ...Option) *Estimator {
	e := &Estimator{pricing: pricing, threshold: ThresholdPercent}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WithThreshold overrides the percentage above which a cost increase is
// flagged as high impact.
func WithThreshold(percent float64) Option {
	return func(e *Estimator) {
		if percent > 0 {
			e.threshold = percent
		}
	}
}

// Definition describes the tool for the model.
func (e *Estimator) Definition() tools.Definition {
	return tools.Definition{
		Name: ToolName,
		Description: "Estimates monthly EC2 instance costs using the AWS pricing catalog. " +
			"Compares old and new instance types on updates and flags cost increases " +
			"exceeding 20% as high impact. Use this tool when the plan creates or resizes " +
			"EC2 instances to quantify the cost impact.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"resource_addresses": map[string]any{
					"type":        "array",
					"description": "Instance addresses to price. Empty prices all EC2 instances in the plan.",
					"items":       map[string]any{"type": "string"},
				},
				"region": map[string]any{
					"type":        "string",
					"description": "AWS region override. Defaults to the provider region from the plan.",
				},
				"hours_per_month": map[string]any{
					"type":        "integer",
					"description": "Hours per month for the calculation. Defaults to 730.",
					"minimum":     1,
				},
			},
			"additionalProperties": false,
		},
	}
}

// Validate prices every selected instance change and compares old against new
// configurations.
func (e *Estimator) Validate(ctx context.Context, doc *plan.Document, raw json.RawMessage) ([]tools.Finding, error) {
	var a args
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, fmt.Errorf("decode arguments: %w", err)
		}
	}
	region := a.Region
	if region == "" {
		region = ec2validator.Region(doc)
	}
	hours := a.HoursPerMonth
	if hours <= 0 {
		hours = DefaultHoursPerMonth
	}
	filter := addressSet(a.ResourceAddresses)

	var findings []tools.Finding
	total := 0.0
	priced := 0
	for _, rc := range doc.ChangesOfType("aws_instance") {
		if rc.Action == plan.ActionDelete || rc.Action == plan.ActionNoop {
			continue
		}
		if filter != nil && !filter[rc.Address] {
			continue
		}
		newType := plan.Str(rc.After, "instance_type")
		if newType == "" {
			continue
		}

		est := e.price(ctx, region, newType, hours)
		before := 0.0
		if oldType := plan.Str(rc.Before, "instance_type"); oldType != "" {
			if oldType == newType {
				before = est.monthlyUSD
			} else {
				old := e.price(ctx, region, oldType, hours)
				before = old.monthlyUSD
			}
		}
		findings = append(findings, tools.Finding{
			Severity: tools.SeverityCost,
			Category: tools.CategoryCost,
			Resource: rc.Address,
			Message:  fmt.Sprintf("estimated monthly cost for %s in %s", newType, region),
			Cost: &tools.CostDetail{
				InstanceType: newType,
				MonthlyUSD:   est.monthlyUSD,
				BeforeUSD:    before,
				Estimated:    est.estimated,
			},
		})
		total += est.monthlyUSD
		priced++

		if oldType := plan.Str(rc.Before, "instance_type"); oldType != "" && oldType != newType {
			findings = append(findings, e.compare(rc.Address, oldType, before, newType, est.monthlyUSD))
		}
	}

	if priced > 0 {
		findings = append(findings, tools.Finding{
			Severity: tools.SeverityCost,
			Category: tools.CategoryCost,
			Message:  fmt.Sprintf("estimated total monthly EC2 cost: $%.2f across %d instances", total, priced),
		})
	}
	return findings, nil
}

// price resolves the monthly cost of one instance type, falling back to the
// static table and family approximation when the catalog has no answer.
func (e *Estimator) price(ctx context.Context, region, instanceType string, hours int) estimate {
	if e.pricing != nil {
		rate, err := e.pricing.OnDemandHourlyRate(ctx, region, instanceType)
		if err == nil {
			return estimate{monthlyUSD: rate * float64(hours)}
		}
	}
	if rate, ok := fallbackHourlyUSD[instanceType]; ok {
		return estimate{monthlyUSD: rate * float64(hours), estimated: true}
	}
	return estimate{monthlyUSD: familyEstimate(instanceType) * float64(hours), estimated: true}
}

// familyEstimate derives an hourly rate from the family base rate and size
// multiplier when no exact price exists.
func familyEstimate(instanceType string) float64 {
	family, size, ok := strings.Cut(instanceType, ".")
	if !ok {
		return 0.10
	}
	base, ok := familyBaseHourlyUSD[family]
	if !ok {
		base = familyBaseHourlyUSD["t3"]
	}
	multiplier, ok := sizeMultipliers[size]
	if !ok {
		multiplier = 1.0
	}
	return base * multiplier
}

// compare grades the cost delta between old and new instance types.
func (e *Estimator) compare(address, oldType string, oldCost float64, newType string, newCost float64) tools.Finding {
	diff := newCost - oldCost
	var percent float64
	switch {
	case oldCost > 0:
		percent = diff / oldCost * 100
	case newCost > 0:
		percent = 100
	}

	switch {
	case percent >= e.threshold:
		return tools.Warning(tools.CategoryCost, address,
			"high-impact cost increase %s to %s: +$%.2f/month (%.1f%%), at or above the %.0f%% threshold; old $%.2f, new $%.2f",
			oldType, newType, diff, percent, e.threshold, oldCost, newCost)
	case percent > 0:
		return tools.Finding{
			Severity: tools.SeverityCost, Category: tools.CategoryCost, Resource: address,
			Message: fmt.Sprintf("cost increase %s to %s: +$%.2f/month (%.1f%%); old $%.2f, new $%.2f",
				oldType, newType, diff, percent, oldCost, newCost),
		}
	case percent < 0:
		return tools.Finding{
			Severity: tools.SeverityCost, Category: tools.CategoryCost, Resource: address,
			Message: fmt.Sprintf("cost savings %s to %s: -$%.2f/month (%.1f%%); old $%.2f, new $%.2f",
				oldType, newType, -diff, -percent, oldCost, newCost),
		}
	default:
		return tools.Finding{
			Severity: tools.SeverityCost, Category: tools.CategoryCost, Resource: address,
			Message: fmt.Sprintf("no cost change from %s to %s: both approximately $%.2f/month",
				oldType, newType, newCost),
		}
	}
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
