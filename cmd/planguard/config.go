package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the CLI configuration. Values load from an optional YAML file
// and are overridden by environment variables, matching the deployment
// convention where the model and guardrail identifiers arrive through the
// environment.
type Config struct {
	// ModelID is the Bedrock model identifier. Required.
	ModelID string `yaml:"model_id"`

	// GuardrailID enables guardrail screening when set.
	GuardrailID string `yaml:"guardrail_id"`

	// GuardrailVersion selects the guardrail version. Defaults to DRAFT.
	GuardrailVersion string `yaml:"guardrail_version"`

	// Region overrides the AWS region for the Bedrock and EC2 clients.
	Region string `yaml:"region"`

	// Tools restricts the enabled validator tools. Empty enables all.
	Tools []string `yaml:"tools"`

	// Deadline is the total wall-clock budget for a run.
	Deadline time.Duration `yaml:"deadline"`

	// MaxTurns caps the number of model turns.
	MaxTurns int `yaml:"max_turns"`

	// CallTimeout bounds each model call.
	CallTimeout time.Duration `yaml:"call_timeout"`

	// MaxAttempts caps model call retries. Zero uses the retry default.
	MaxAttempts int `yaml:"max_attempts"`

	// CostThresholdPercent flags cost increases above this percentage as
	// high impact. Zero uses the estimator default.
	CostThresholdPercent float64 `yaml:"cost_threshold_percent"`

	// MaxTokens caps completion length. Zero uses the provider default.
	MaxTokens int `yaml:"max_tokens"`

	// Temperature for model sampling.
	Temperature float32 `yaml:"temperature"`

	// MaxPlanBytes bounds the plan document size. Zero uses the default.
	MaxPlanBytes int `yaml:"max_plan_bytes"`
}

// LoadConfig reads the YAML file at path (when non-empty) and applies
// environment overrides.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	applyEnv(&cfg)
	if cfg.ModelID == "" {
		return Config{}, fmt.Errorf("model identifier is required (model_id or BEDROCK_LLM_MODEL)")
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("BEDROCK_LLM_MODEL"); v != "" {
		cfg.ModelID = v
	}
	if v := os.Getenv("BEDROCK_GUARDRAIL_ID"); v != "" {
		cfg.GuardrailID = v
	}
	if v := os.Getenv("BEDROCK_GUARDRAIL_VERSION"); v != "" {
		cfg.GuardrailVersion = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" && cfg.Region == "" {
		cfg.Region = v
	}
}
