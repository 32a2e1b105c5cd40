package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"agentlink/internal/adapter/audit"
	"agentlink/internal/adapter/directory"
	"agentlink/internal/adapter/gateway"
	"agentlink/internal/adapter/llm"
	"agentlink/internal/adapter/remote"
	"agentlink/internal/domain"
	"agentlink/internal/infra/config"
	"agentlink/internal/infra/metrics"
	"agentlink/internal/security"
	"agentlink/internal/usecase"
	"agentlink/internal/usecase/coordination"
	"agentlink/internal/usecase/multiagent"
	"agentlink/internal/usecase/scheduling"
)

// app holds the wired components shared by the subcommands.
type app struct {
	cfg       *config.Config
	log       *slog.Logger
	metrics   *metrics.Metrics
	registry  *multiagent.Registry
	router    *usecase.Router
	engine    *coordination.Engine
	remote    *remote.Client
	static    *directory.StaticFile
	fileAudit *audit.FileLogger
	store     *audit.SQLiteStore
	auditLog  domain.AuditLogger
	scheduler *scheduling.Scheduler
}

// buildApp wires every component from cfg. The returned cleanup closes the
// audit sinks and flushes metrics.
func buildApp(cfg *config.Config, log *slog.Logger) (*app, func(context.Context) error, error) {
	a := &app{cfg: cfg, log: log}

	m, err := metrics.New(cfg.Metrics)
	if err != nil {
		return nil, nil, fmt.Errorf("metrics: %w", err)
	}
	a.metrics = m

	if err := a.initAudit(); err != nil {
		return nil, nil, err
	}

	dirs := make([]domain.Directory, 0, len(cfg.Registry.Directories))
	for _, d := range cfg.Registry.Directories {
		dirs = append(dirs, newDirectory(d, cfg.Registry.Timeout, log.With("component", "directory", "directory", d.Name)))
	}
	regOpts := []multiagent.RegistryOption{
		multiagent.WithEndpointSuffix(cfg.Registry.EndpointSuffix),
		multiagent.WithRefreshRecorder(m),
	}
	remoteOpts := []remote.Option{
		remote.WithWireStyle(remote.WireStyle(cfg.Router.WireStyle)),
		remote.WithCircuitBreaker(cfg.Router.CircuitBreaker),
	}
	if cfg.Router.BlockPrivateNetworks {
		regOpts = append(regOpts, multiagent.WithEndpointCheck(security.CheckEndpoint))
		remoteOpts = append(remoteOpts, remote.WithHTTPClient(&http.Client{Transport: security.NewGuardedTransport()}))
	}
	a.registry = multiagent.NewRegistry(cfg.Agent.ID, dirs, log.With("component", "registry"), regOpts...)
	if cfg.Registry.StaticFile != "" {
		a.static = directory.NewStaticFile(cfg.Registry.StaticFile, log.With("component", "static-agents"))
		recs, err := a.static.Load()
		if err != nil {
			return nil, nil, fmt.Errorf("static agents: %w", err)
		}
		a.registry.SetStatic(recs)
	}

	provider, err := llm.New(cfg.LLM, log.With("component", "llm"))
	if err != nil {
		return nil, nil, fmt.Errorf("llm: %w", err)
	}
	ranker, err := buildRanker(cfg, provider, log)
	if err != nil {
		return nil, nil, err
	}

	caller := remote.NewClient(log.With("component", "remote"), remoteOpts...)
	a.remote = caller
	local := llm.NewLocalAgent(provider, cfg.Agent.Persona, log.With("component", "local-agent"))

	a.router = usecase.NewRouter(local, caller, a.registry, a.auditLog, log.With("component", "router"),
		usecase.WithForwardTimeout(cfg.Router.ForwardTimeout),
		usecase.WithSelector(multiagent.NewMatcher(ranker, log.With("component", "matcher"))),
		usecase.WithDecisionRecorder(m),
	)
	a.engine = coordination.NewEngine(a.router, a.auditLog, log.With("component", "coordination"),
		coordination.WithStepTimeout(cfg.Coordination.StepTimeout),
		coordination.WithMaxRounds(cfg.Coordination.MaxRounds),
		coordination.WithRunRecorder(m),
	)

	if err := a.initScheduler(); err != nil {
		return nil, nil, err
	}

	cleanup := func(ctx context.Context) error {
		var errs []error
		if a.scheduler != nil {
			errs = append(errs, a.scheduler.Stop())
		}
		errs = append(errs, a.auditLog.Close(), m.Shutdown(ctx))
		return errors.Join(errs...)
	}
	return a, cleanup, nil
}

// newDirectory builds the directory client for one configured source.
func newDirectory(d config.DirectoryConfig, timeout time.Duration, log *slog.Logger) domain.Directory {
	if d.DirectoryKind() == "mdns" {
		return directory.NewMDNSDirectory(d.Name, d.Service, d.Domain, timeout, log)
	}
	return directory.NewHTTPDirectoryWithLogger(d.Name, d.URL, timeout, log)
}

func (a *app) initAudit() error {
	var sinks []domain.AuditLogger
	if a.cfg.Audit.Path != "" {
		fl, err := audit.NewFileLogger(a.cfg.Audit.Path)
		if err != nil {
			return fmt.Errorf("audit file: %w", err)
		}
		a.fileAudit = fl
		sinks = append(sinks, fl)
	}
	if a.cfg.Audit.SQLitePath != "" {
		st, err := audit.NewSQLiteStore(a.cfg.Audit.SQLitePath)
		if err != nil {
			for _, s := range sinks {
				_ = s.Close()
			}
			return fmt.Errorf("audit store: %w", err)
		}
		a.store = st
		sinks = append(sinks, st)
	}
	if len(sinks) == 0 {
		a.auditLog = audit.Nop{}
		return nil
	}
	a.auditLog = audit.NewMulti(sinks...)
	return nil
}

// buildRanker selects the ranking primitive behind /search.
func buildRanker(cfg *config.Config, provider domain.LLMProvider, log *slog.Logger) (domain.Ranker, error) {
	keyword := multiagent.NewKeywordRanker()
	if cfg.Matcher.Ranker == "keyword" || cfg.Matcher.Ranker == "" {
		return keyword, nil
	}
	if provider == nil {
		return nil, fmt.Errorf("matcher: ranker %q needs an llm provider", cfg.Matcher.Ranker)
	}
	llmRanker := llm.NewRanker(provider, log.With("component", "llm-ranker"),
		llm.WithRankerModel(cfg.LLM.Model),
		llm.WithTokenBudget(cfg.Matcher.MaxPromptTokens),
		llm.WithTokenCounter(llm.NewTiktokenCounter(cfg.LLM.Model)),
	)
	switch cfg.Matcher.Ranker {
	case "llm":
		return llmRanker, nil
	case "fallback":
		return multiagent.NewFallbackRanker(llmRanker, keyword, log.With("component", "matcher")), nil
	default:
		return nil, fmt.Errorf("matcher: unknown ranker %q", cfg.Matcher.Ranker)
	}
}

// initScheduler registers the housekeeping actions and the configured tasks.
// registry.refresh_schedule adds a refresh task even with the scheduler
// section disabled.
func (a *app) initScheduler() error {
	var tasks []scheduling.ScheduledTask
	if a.cfg.Scheduler.Enabled {
		tasks = scheduling.TasksFromConfig(a.cfg.Scheduler.Tasks)
	}
	if a.cfg.Registry.RefreshSchedule != "" {
		tasks = append(tasks, scheduling.ScheduledTask{
			Name:     "registry-refresh",
			Schedule: a.cfg.Registry.RefreshSchedule,
			Action:   scheduling.ActionRegistryRefresh,
		})
	}
	if len(tasks) == 0 {
		return nil
	}

	s := scheduling.NewScheduler(a.log.With("component", "scheduler"))
	hk := scheduling.Housekeeping{
		Registry: a.registry,
		MaxAge:   a.cfg.RetentionMaxAge(),
		Logger:   a.log.With("component", "housekeeping"),
	}
	if a.fileAudit != nil {
		hk.File = a.fileAudit
	}
	if a.store != nil {
		hk.Store = a.store
	}
	hk.Register(s)
	for _, t := range tasks {
		if err := s.AddTask(t); err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
	}
	a.scheduler = s
	return nil
}

// gatewayDeps adapts the app to the gateway's collaborators.
func (a *app) gatewayDeps() gateway.Deps {
	deps := gateway.Deps{
		Router:      a.router,
		Registry:    a.registry,
		Coordinator: a.engine,
		Metrics:     a.metrics,
		Breakers:    a.remote,
	}
	if a.store != nil {
		deps.Audit = a.store
	}
	if a.scheduler != nil {
		deps.Tasks = a.scheduler
	}
	return deps
}
