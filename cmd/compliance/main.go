package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/prompt-compliance/internal/config"
	"github.com/danielpatrickdp/prompt-compliance/internal/failure"
)

// #region main
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		log.Printf("error: %v", err)
		stop()
		os.Exit(exitCode(err))
	}
}

// exitCode is 2 for invalid input and 1 when the check could not be completed.
func exitCode(err error) int {
	if failure.IsCallerError(err) {
		return 2
	}
	return 1
}

// #endregion main

// #region root
type rootOptions struct {
	configPath string
	dbPath     string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "compliance",
		Short: "Check prompts against organizational policies",
		Long: `compliance stores organizational policy statements and checks free-text
prompts against the ones most relevant to them, returning a verdict of
COMPLIANT, NON_COMPLIANT or UNCERTAIN with per-issue severities.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", os.Getenv("COMPLIANCE_CONFIG"), "Path to config YAML file")
	root.PersistentFlags().StringVar(&opts.dbPath, "db", "", "Policy database path (overrides config)")

	root.AddCommand(
		newVerifyCmd(opts),
		newPolicyCmd(opts),
		newReplCmd(opts),
		newReplayCmd(),
	)
	return root
}

// load reads config and wires the application.
func (o *rootOptions) load(ctx context.Context) (*app, config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, config.Config{}, err
	}
	if o.dbPath != "" {
		cfg.Store.Path = o.dbPath
	}
	a, err := build(ctx, cfg)
	if err != nil {
		return nil, config.Config{}, err
	}
	return a, cfg, nil
}

// #endregion root
