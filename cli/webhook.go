package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/compozy/relay/engine/ingress"
	"github.com/compozy/relay/engine/slot"
	"github.com/compozy/relay/engine/workflow"
	"github.com/compozy/relay/pkg/config"
	"github.com/compozy/relay/pkg/logger"
	"github.com/compozy/relay/pkg/version"
)

func WebhookCmd() *cobra.Command {
	gateMode := workflow.GateModeFail
	cmd := &cobra.Command{
		Use:   "webhook",
		Short: "Serve a loopback webhook that triggers workflows",
		Long: `Listen on 127.0.0.1 for signed POST requests ({"workflow":"<name>"}) and run
the named workflow. Requests must carry X-Hub-Signature-256: sha256=<hex HMAC of the body>.
Only one workflow runs at a time; concurrent triggers are rejected with 429.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serveWebhook(cmd)
		},
	}
	cmd.Flags().Uint16("port", ingress.DefaultPort, "Port to listen on (loopback only)")
	cmd.Flags().String("secret", "", "Shared HMAC secret (required, env RELAY_WEBHOOK_SECRET)")
	cmd.Flags().String("workflow-dir", ".", "Directory containing <name>.json workflow definitions")
	cmd.Flags().Bool("mock", false, "Run workflows without side effects")
	cmd.Flags().Var(&gateMode, "gate-mode", "How approval steps resolve: auto|fail")
	cmd.Flags().Int64("rate-limit", ingress.DefaultRateLimit, "Requests per minute per client, 0 disables")
	cmd.Flags().Duration("shutdown-timeout", 0, "How long shutdown waits for an in-flight run (default 10s)")
	addExecutorFlags(cmd)
	return cmd
}

func serveWebhook(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.ValidateWebhook(); err != nil {
		return err
	}
	gateMode, err := workflow.ParseGateMode(cfg.Webhook.GateMode)
	if err != nil {
		return err
	}
	fs := afero.NewOsFs()
	headless, err := buildHeadless(fs, cfg)
	if err != nil {
		return err
	}
	log := logger.GetDefault()
	srv, err := ingress.NewServer(
		ingressConfig(cfg, gateMode),
		workflow.NewResolver(fs, cfg.Webhook.WorkflowDir),
		headless,
		ingress.WithSlot(slot.New()),
		ingress.WithLogger(log),
	)
	if err != nil {
		return err
	}
	gin.SetMode(gin.ReleaseMode)
	log.Info("Starting webhook server",
		"address", srv.Addr(),
		"version", version.Version,
		"workflow_dir", cfg.Webhook.WorkflowDir,
		"gate_mode", gateMode,
		"mock", cfg.Webhook.Mock,
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("webhook server: %w", err)
	}
	return nil
}

func ingressConfig(cfg *config.Config, gateMode workflow.GateMode) ingress.Config {
	return ingress.Config{
		Host:            cfg.Webhook.Host,
		Port:            cfg.Webhook.Port,
		Secret:          cfg.Webhook.Secret.Bytes(),
		MaxBody:         cfg.Webhook.MaxBody,
		RateLimit:       cfg.Webhook.RateLimit,
		Mock:            cfg.Webhook.Mock,
		GateMode:        gateMode,
		ShutdownTimeout: cfg.Webhook.ShutdownTimeout,
	}
}
