package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"agentlink/internal/adapter/directory"
	"agentlink/internal/adapter/gateway"
	"agentlink/internal/domain"
	"agentlink/internal/infra/config"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway",
		Long:  "Serve the A2A, search, registry and coordination endpoints until interrupted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

func runServe(ctx context.Context, opts *rootOptions) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sess, err := openSession(ctx, opts)
	if err != nil {
		return err
	}
	defer sess.Close(context.Background())
	cfg, log := sess.cfg, sess.log

	a, cleanup, err := buildApp(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := cleanup(shutdownCtx); err != nil {
			log.Error("cleanup error", "error", err)
		}
	}()

	if cfg.Registry.RefreshOnStart {
		if _, err := a.registry.Refresh(ctx); err != nil {
			log.Warn("initial registry refresh failed", "error", err)
		}
	}
	if a.static != nil {
		if err := a.static.Watch(ctx, a.registry.SetStatic); err != nil {
			log.Warn("static agents file not watched", "error", err)
		}
	}
	if a.scheduler != nil {
		if err := a.scheduler.Start(ctx); err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
	}

	if cfg.Registry.Advertise.Enabled {
		go advertise(ctx, cfg, log.With("component", "mdns"))
	}

	log.Info("agentlink starting",
		"agent_id", cfg.Agent.ID,
		"directories", len(cfg.Registry.Directories),
		"llm", cfg.LLM.Provider,
		"ranker", cfg.Matcher.Ranker,
		"agents", a.registry.Len(),
	)

	srv := gateway.NewServer(a.gatewayDeps(), cfg, log.With("component", "gateway"))
	return srv.Start(ctx)
}

// advertise publishes this agent over mDNS until ctx is done.
func advertise(ctx context.Context, cfg *config.Config, log *slog.Logger) {
	port, err := gatewayPort(cfg.Gateway.Addr)
	if err != nil {
		log.Warn("mdns advertise skipped", "addr", cfg.Gateway.Addr, "error", err)
		return
	}
	rec := domain.AgentRecord{ID: cfg.Agent.ID, Name: cfg.Agent.Name, Description: cfg.Agent.Description}
	adv := cfg.Registry.Advertise
	if err := directory.Advertise(ctx, adv.Service, adv.Domain, port, rec, log); err != nil {
		log.Warn("mdns advertise failed", "error", err)
	}
}

// gatewayPort extracts the fixed listen port from addr.
func gatewayPort(addr string) (int, error) {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}
	port, err := strconv.Atoi(p)
	if err != nil || port <= 0 {
		return 0, fmt.Errorf("no fixed port in %q", addr)
	}
	return port, nil
}
