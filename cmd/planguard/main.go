// Command planguard analyzes a Terraform plan JSON export. It drives a
// function-calling model through the validator tool set and prints a markdown
// report; the exit code reflects whether the plan passed.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/pricing"
	"goa.design/clue/log"

	guardrailbedrock "goa.design/planguard/features/guardrail/bedrock"
	awslookup "goa.design/planguard/features/lookup/aws"
	modelbedrock "goa.design/planguard/features/model/bedrock"
	"goa.design/planguard/guardrail"
	"goa.design/planguard/orchestrator"
	"goa.design/planguard/plan"
	"goa.design/planguard/retry"
	"goa.design/planguard/telemetry"
	"goa.design/planguard/tools"
	"goa.design/planguard/validators/cost"
	ec2validator "goa.design/planguard/validators/ec2"
	"goa.design/planguard/validators/s3"
	"goa.design/planguard/validators/secgroup"
)

// Exit codes: 0 analysis delivered without critical findings (partial runs
// included), 1 critical findings present, 2 the run itself could not
// complete.
const (
	exitPassed   = 0
	exitCritical = 1
	exitError    = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		planF   = flag.String("plan", "", "Path to the Terraform plan JSON export (required)")
		configF = flag.String("config", "", "Path to the YAML configuration file")
		dbgF    = flag.Bool("debug", false, "Enable debug logs")
	)
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
	}

	if *planF == "" {
		fmt.Fprintln(os.Stderr, "usage: planguard -plan <plan.json> [-config <config.yaml>]")
		return exitError
	}

	cfg, err := LoadConfig(*configF)
	if err != nil {
		log.Errorf(ctx, err, "invalid configuration")
		return exitError
	}

	raw, err := os.ReadFile(*planF)
	if err != nil {
		log.Errorf(ctx, err, "read plan")
		return exitError
	}
	doc, err := plan.Load(raw, plan.Options{MaxBytes: cfg.MaxPlanBytes})
	if err != nil {
		log.Errorf(ctx, err, "load plan")
		return exitError
	}

	orc, err := buildOrchestrator(ctx, cfg)
	if err != nil {
		log.Errorf(ctx, err, "configure analyzer")
		return exitError
	}

	rep, err := orc.Run(ctx, doc)
	if err != nil {
		log.Errorf(ctx, err, "run analysis")
		return exitError
	}

	out := rep.Render()
	fmt.Println(out)
	log.Print(ctx, log.KV{K: "status", V: string(rep.Status())},
		log.KV{K: "critical", V: rep.CriticalCount()},
		log.KV{K: "truncated", V: rep.Truncated})

	if rep.CriticalCount() > 0 {
		return exitCritical
	}
	return exitPassed
}

// buildOrchestrator wires the AWS clients, validator registry, and model
// adapter from the configuration.
func buildOrchestrator(ctx context.Context, cfg Config) (*orchestrator.Orchestrator, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	logger := telemetry.NewClueLogger()
	metrics := telemetry.NewClueMetrics()
	tracer := telemetry.NewClueTracer()

	runtime := bedrockruntime.NewFromConfig(awsCfg)
	client, err := modelbedrock.New(modelbedrock.Options{
		Runtime:     runtime,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	var gate guardrail.Gateway = guardrail.NewNoop()
	if cfg.GuardrailID != "" {
		gate, err = guardrailbedrock.New(guardrailbedrock.Options{
			Runtime:          runtime,
			GuardrailID:      cfg.GuardrailID,
			GuardrailVersion: cfg.GuardrailVersion,
			Logger:           logger,
		})
		if err != nil {
			return nil, err
		}
	}

	// The Pricing API is only served from a few regions; us-east-1 covers
	// every partition this tool targets.
	lookups, err := awslookup.New(awslookup.Options{
		EC2: ec2.NewFromConfig(awsCfg),
		Pricing: pricing.NewFromConfig(awsCfg, func(o *pricing.Options) {
			o.Region = "us-east-1"
		}),
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}

	registry := tools.NewRegistry(tools.Options{Logger: logger, Metrics: metrics, Tracer: tracer})
	for _, v := range []tools.Validator{
		secgroup.New(),
		s3.New(),
		ec2validator.New(lookups),
		cost.New(lookups, cost.WithThreshold(cfg.CostThresholdPercent)),
	} {
		if err := registry.Register(v); err != nil {
			return nil, err
		}
	}

	retryCfg := retry.DefaultConfig()
	if cfg.MaxAttempts > 0 {
		retryCfg.MaxAttempts = cfg.MaxAttempts
	}

	return orchestrator.New(orchestrator.Options{
		Client:    client,
		ModelID:   cfg.ModelID,
		Tools:     registry.Enabled(cfg.Tools...),
		Guardrail: gate,
		Retry:     retryCfg,
		Budget: orchestrator.Budget{
			Deadline:    cfg.Deadline,
			MaxTurns:    cfg.MaxTurns,
			CallTimeout: cfg.CallTimeout,
		},
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Logger:      logger,
		Metrics:     metrics,
		Tracer:      tracer,
	})
}
