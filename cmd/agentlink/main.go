// Package main is the entry point for the agentlink CLI.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"agentlink/internal/infra/config"
	"agentlink/internal/infra/logger"
	"agentlink/internal/infra/tracer"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "agentlink: %v\n", err)
		os.Exit(1)
	}
}

// rootOptions are the flags shared by every subcommand.
type rootOptions struct {
	configPath string
}

func defaultConfigPath() string {
	if p := os.Getenv("AGENTLINK_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

// newRootCmd creates the agentlink command tree. Without a subcommand it
// serves the gateway.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "agentlink",
		Short: "Agent-to-agent routing and coordination service",
		Long: "agentlink routes @mentioned messages between agents discovered through\n" +
			"registry directories and runs debate, consensus and hierarchical\n" +
			"coordination protocols across them.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", defaultConfigPath(), "path to the config file")

	root.AddCommand(
		newServeCmd(opts),
		newAgentsCmd(opts),
		newRouteCmd(opts),
		newCoordinateCmd(opts),
		newDoctorCmd(opts),
		newConfigCmd(),
	)
	return root
}

// session is a loaded config with its logger and tracer.
type session struct {
	cfg     *config.Config
	log     *slog.Logger
	closeFn func() error
	tracer  func(context.Context) error
}

func (s *session) Close(ctx context.Context) {
	if s.tracer != nil {
		_ = s.tracer(ctx)
	}
	if s.closeFn != nil {
		_ = s.closeFn()
	}
}

// openSession loads the config and sets up logging and tracing.
func openSession(ctx context.Context, opts *rootOptions) (*session, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	log, closeFn, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	shutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		_ = closeFn()
		return nil, fmt.Errorf("tracer: %w", err)
	}
	return &session{cfg: cfg, log: log, closeFn: closeFn, tracer: shutdown}, nil
}
