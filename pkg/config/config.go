// Package config loads relay settings from defaults, .env files, RELAY_*
// environment variables and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"time"
)

const (
	// EnvPrefix marks environment variables that configure relay.
	EnvPrefix = "RELAY_"
	// VarPrefix marks environment variables injected as workflow variables.
	VarPrefix = "RELAY_VAR_"

	LoopbackHost = "127.0.0.1"
)

// Config is loaded once at startup and treated as read-only afterwards.
type Config struct {
	Webhook  WebhookConfig  `koanf:"webhook"  json:"webhook"`
	Executor ExecutorConfig `koanf:"executor" json:"executor"`
}

// WebhookConfig configures the webhook ingress server.
type WebhookConfig struct {
	Host            string          `koanf:"host"             json:"host"             validate:"required,eq=127.0.0.1"`
	Port            uint16          `koanf:"port"             json:"port"             validate:"required"`
	Secret          SensitiveString `koanf:"secret"           json:"secret"                                            sensitive:"true"`
	WorkflowDir     string          `koanf:"workflow_dir"     json:"workflow_dir"     validate:"required"`
	Mock            bool            `koanf:"mock"             json:"mock"`
	GateMode        string          `koanf:"gate_mode"        json:"gate_mode"        validate:"oneof=auto fail"`
	MaxBody         int64           `koanf:"max_body"         json:"max_body"         validate:"min=1"`
	RateLimit       int64           `koanf:"rate_limit"       json:"rate_limit"       validate:"min=0"`
	ShutdownTimeout time.Duration   `koanf:"shutdown_timeout" json:"shutdown_timeout"`
}

// ExecutorConfig configures how workflows are interpreted.
type ExecutorConfig struct {
	// Command is the interpreter command line; the workflow path is appended.
	Command     string        `koanf:"command"      json:"command"`
	StepTimeout time.Duration `koanf:"step_timeout" json:"step_timeout"`
	StepRetries uint          `koanf:"step_retries" json:"step_retries" validate:"lte=10"`
}

func Default() *Config {
	return &Config{
		Webhook: WebhookConfig{
			Host:            LoopbackHost,
			Port:            9480,
			WorkflowDir:     ".",
			GateMode:        "fail",
			MaxBody:         1 << 20,
			RateLimit:       60,
			ShutdownTimeout: 10 * time.Second,
		},
		Executor: ExecutorConfig{
			StepTimeout: 30 * time.Second,
			StepRetries: 2,
		},
	}
}

// ValidateWebhook checks the settings only the webhook command requires.
func (c *Config) ValidateWebhook() error {
	if c.Webhook.Secret == "" {
		return errors.New("webhook secret is required (--secret or RELAY_WEBHOOK_SECRET)")
	}
	return nil
}

func (c *Config) validateDurations() error {
	if c.Webhook.ShutdownTimeout <= 0 {
		return fmt.Errorf("webhook.shutdown_timeout must be positive, got %s", c.Webhook.ShutdownTimeout)
	}
	if c.Executor.StepTimeout <= 0 {
		return fmt.Errorf("executor.step_timeout must be positive, got %s", c.Executor.StepTimeout)
	}
	return nil
}
