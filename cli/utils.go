package cli

import (
	"fmt"
	"math"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/xhit/go-str2duration/v2"

	"github.com/compozy/relay/engine/executor"
	"github.com/compozy/relay/pkg/config"
)

// extractCLIFlags collects the explicitly changed flags of cmd that map to
// configuration keys.
func extractCLIFlags(cmd *cobra.Command) map[string]any {
	flags := make(map[string]any)
	addFlag := func(flagName, key string, getter func(string) (any, error)) {
		if cmd.Flags().Lookup(flagName) == nil || !cmd.Flags().Changed(flagName) {
			return
		}
		if value, err := getter(flagName); err == nil {
			flags[key] = value
		}
	}

	getString := func(name string) (any, error) { return cmd.Flags().GetString(name) }
	getUint16 := func(name string) (any, error) { return cmd.Flags().GetUint16(name) }
	getInt64 := func(name string) (any, error) { return cmd.Flags().GetInt64(name) }
	getUint := func(name string) (any, error) { return cmd.Flags().GetUint(name) }
	getBool := func(name string) (any, error) { return cmd.Flags().GetBool(name) }
	getDuration := func(name string) (any, error) { return cmd.Flags().GetDuration(name) }
	getValue := func(name string) (any, error) { return cmd.Flags().Lookup(name).Value.String(), nil }

	flagDefs := []struct {
		flagName string
		key      string
		getter   func(string) (any, error)
	}{
		{"port", "webhook.port", getUint16},
		{"secret", "webhook.secret", getString},
		{"workflow-dir", "webhook.workflow_dir", getString},
		{"mock", "webhook.mock", getBool},
		{"gate-mode", "webhook.gate_mode", getValue},
		{"rate-limit", "webhook.rate_limit", getInt64},
		{"shutdown-timeout", "webhook.shutdown_timeout", getDuration},
		{"interpreter", "executor.command", getString},
		{"step-timeout", "executor.step_timeout", getDuration},
		{"step-retries", "executor.step_retries", getUint},
	}
	for _, def := range flagDefs {
		addFlag(def.flagName, def.key, def.getter)
	}
	return flags
}

func addExecutorFlags(cmd *cobra.Command) {
	cmd.Flags().String("interpreter", "", "Interpreter command line; the workflow path is appended (env RELAY_EXECUTOR_COMMAND)")
	cmd.Flags().Duration("step-timeout", 0, "Base per-attempt step timeout for mock runs (default 30s)")
	cmd.Flags().Uint("step-retries", 0, "Default retries for steps without their own setting")
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(extractCLIFlags(cmd))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// buildHeadless wires the execution façade from configuration.
func buildHeadless(fs afero.Fs, cfg *config.Config, extra ...executor.Option) (*executor.Headless, error) {
	opts := []executor.Option{
		executor.WithFs(fs),
		executor.WithMockInterpreter(executor.NewMockInterpreter(executor.MockConfig{
			StepTimeout: cfg.Executor.StepTimeout,
			Retries:     cfg.Executor.StepRetries,
		})),
	}
	if cfg.Executor.Command != "" {
		argv, err := executor.ParseCommand(cfg.Executor.Command)
		if err != nil {
			return nil, fmt.Errorf("invalid interpreter command: %w", err)
		}
		interp, err := executor.NewProcessInterpreter(argv)
		if err != nil {
			return nil, err
		}
		opts = append(opts, executor.WithInterpreter(interp))
	}
	return executor.NewHeadless(append(opts, extra...)...), nil
}

// parseTimeoutOverride accepts durations such as "90s", "5m" or "1d2h" and
// returns whole seconds, rounding up.
func parseTimeoutOverride(raw string) (uint64, error) {
	d, err := str2duration.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q: %w", raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("timeout must not be negative, got %s", raw)
	}
	return uint64(math.Ceil(d.Seconds())), nil
}
