package cli

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/compozy/relay/engine/executor"
	"github.com/compozy/relay/engine/workflow"
)

// ErrRunFailed is returned after a non-successful run has been reported.
var ErrRunFailed = errors.New("workflow run did not succeed")

type runOptions struct {
	workflow string
	vars     []string
	repo     string
	mock     bool
	json     bool
	gateMode workflow.GateMode
	timeout  string
}

func RunCmd() *cobra.Command {
	opts := &runOptions{gateMode: workflow.GateModeAuto}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a workflow headlessly and wait for it to finish",
		Example: `  relay run --workflow deploy --var env=prod
  relay run --workflow ./flows/deploy.json --mock --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWorkflow(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.workflow, "workflow", "", "Workflow name or path to a definition file")
	cmd.Flags().StringArrayVar(&opts.vars, "var", nil, "Workflow variable KEY=VALUE (repeatable)")
	cmd.Flags().StringVar(&opts.repo, "repo", "", "Repository path the interpreter runs in")
	cmd.Flags().BoolVar(&opts.mock, "mock", false, "Walk the workflow without side effects")
	cmd.Flags().BoolVar(&opts.json, "json", false, "Print the result as JSON")
	cmd.Flags().Var(&opts.gateMode, "gate-mode", "How approval steps resolve: auto|fail")
	cmd.Flags().String("workflow-dir", ".", "Directory workflow names resolve against")
	cmd.Flags().StringVar(&opts.timeout, "timeout", "", "Override the workflow timeout (e.g. 90s, 5m, 1h30m)")
	addExecutorFlags(cmd)
	_ = cmd.MarkFlagRequired("workflow")
	return cmd
}

func runWorkflow(cmd *cobra.Command, opts *runOptions) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	fs := afero.NewOsFs()
	path, name, err := resolveRunTarget(fs, opts.workflow, cfg.Webhook.WorkflowDir)
	if err != nil {
		return err
	}
	vars, err := collectVars(fs, opts.vars)
	if err != nil {
		return err
	}
	reqOpts := []workflow.RunOption{
		workflow.WithVariables(vars),
		workflow.WithMock(opts.mock),
		workflow.WithGateMode(opts.gateMode),
	}
	if opts.repo != "" {
		repo, err := filepath.Abs(opts.repo)
		if err != nil {
			return fmt.Errorf("invalid --repo: %w", err)
		}
		reqOpts = append(reqOpts, workflow.WithRepoPath(repo))
	}
	req, err := workflow.NewRunRequest(name, reqOpts...)
	if err != nil {
		return err
	}

	var extra []executor.Option
	if opts.timeout != "" {
		seconds, err := parseTimeoutOverride(opts.timeout)
		if err != nil {
			return err
		}
		extra = append(extra, executor.WithTimeoutOverride(seconds))
	}
	if !opts.json {
		extra = append(extra, executor.WithEventHandler(eventPrinter(cmd.ErrOrStderr())))
	}
	headless, err := buildHeadless(fs, cfg, extra...)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	res := headless.Execute(ctx, path, req)

	out := cmd.OutOrStdout()
	if opts.json {
		err = writeJSONResult(out, res)
	} else {
		err = writeTextResult(out, res)
	}
	if err != nil {
		return err
	}
	if !res.Status.OK() {
		return ErrRunFailed
	}
	return nil
}

// resolveRunTarget accepts either a bare workflow name, resolved inside dir,
// or a path to a definition file. It returns the file path and run name.
func resolveRunTarget(fs afero.Fs, ref, dir string) (string, string, error) {
	if workflow.ValidName(ref) {
		path, err := workflow.NewResolver(fs, dir).Resolve(ref)
		if err != nil {
			return "", "", err
		}
		return path, ref, nil
	}
	info, err := fs.Stat(ref)
	if err != nil {
		if os.IsNotExist(err) {
			return "", "", fmt.Errorf("%w: %s", workflow.ErrNotFound, ref)
		}
		return "", "", fmt.Errorf("failed to stat workflow %s: %w", ref, err)
	}
	if info.IsDir() {
		return "", "", fmt.Errorf("%w: %s is a directory", workflow.ErrNotFound, ref)
	}
	name := strings.TrimSuffix(filepath.Base(ref), filepath.Ext(ref))
	return ref, name, nil
}
