package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/compozy/relay/pkg/config"
	"github.com/compozy/relay/pkg/logger"
	"github.com/compozy/relay/pkg/version"
)

const defaultEnvFile = ".env"

func RootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "relay",
		Short:         "Trigger, gate and time-bound automation workflows",
		Version:       version.Get().String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return setupGlobal(cmd)
		},
	}

	root.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	root.PersistentFlags().Bool("log-source", false, "Include source code location in logs")
	root.PersistentFlags().String("env-file", defaultEnvFile, "Path to an environment variables file")

	root.AddCommand(
		RunCmd(),
		WebhookCmd(),
	)
	return root
}

// setupGlobal loads the env file before anything reads the environment,
// then configures logging.
func setupGlobal(cmd *cobra.Command) error {
	envFile, err := cmd.Flags().GetString("env-file")
	if err != nil {
		return fmt.Errorf("failed to get env-file flag: %w", err)
	}
	if err := config.LoadEnvFile(envFile); err != nil {
		return err
	}
	level, logJSON, logSource, err := logger.GetLoggerConfig(cmd)
	if err != nil {
		return err
	}
	logger.SetupLogger(level, logJSON, logSource)
	return nil
}
