package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"agentlink/internal/adapter/directory"
	"agentlink/internal/infra/config"
	"agentlink/internal/infra/logger"
	"agentlink/internal/usecase/scheduling"
)

// CheckStatus represents the result of a health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // optional fix suggestion
}

// Check is a named health check function.
type Check struct {
	Name string
	Fn   func(cfg *config.Config) CheckResult
}

const notLoaded = "cannot check: config not loaded"

func newDoctorCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run health checks on your setup",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd.OutOrStdout(), opts.configPath)
		},
	}
}

// runDoctor executes all health checks and reports results.
func runDoctor(w io.Writer, cfgPath string) error {
	// Some checks work without a loaded config.
	cfg, cfgErr := config.Load(cfgPath)

	checks := []Check{
		{Name: "Config file", Fn: checkConfigFile(cfgPath, cfgErr)},
		{Name: "LLM API key", Fn: checkLLMAPIKey},
		{Name: "Ranker", Fn: checkRanker},
		{Name: "Directories", Fn: checkDirectories},
		{Name: "Static agents", Fn: checkStaticAgents},
		{Name: "Audit sinks", Fn: checkAuditPaths},
		{Name: "Schedules", Fn: checkSchedules},
		{Name: "Public URL", Fn: checkPublicURL},
		{Name: "Admin token", Fn: checkAdminToken},
	}

	fmt.Fprintln(w, "agentlink doctor")
	fmt.Fprintln(w, strings.Repeat("=", 50))
	fmt.Fprintln(w)

	var pass, warn, fail int
	for _, check := range checks {
		result := check.Fn(cfg)
		result.Name = check.Name

		fmt.Fprintf(w, "  %s %s: %s\n", statusIcon(result.Status), result.Name, result.Message)
		if result.Fix != "" {
			fmt.Fprintf(w, "      Fix: %s\n", result.Fix)
		}

		switch result.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Repeat("-", 50))
	fmt.Fprintf(w, "Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)

	if fail > 0 {
		fmt.Fprintln(w, "\nFix the FAIL issues above before running agentlink serve.")
		return fmt.Errorf("%d check(s) failed", fail)
	}
	if warn > 0 {
		fmt.Fprintln(w, "\nagentlink should work, but consider addressing the warnings.")
	} else {
		fmt.Fprintln(w, "\nAll checks passed! agentlink is ready to run.")
	}
	return nil
}

func statusIcon(s CheckStatus) string {
	switch s {
	case StatusPass:
		return "[PASS]"
	case StatusWarn:
		return "[WARN]"
	case StatusFail:
		return "[FAIL]"
	default:
		return "[????]"
	}
}

// checkConfigFile returns a check that verifies the config file exists and parses correctly.
func checkConfigFile(cfgPath string, cfgErr error) func(*config.Config) CheckResult {
	return func(_ *config.Config) CheckResult {
		if cfgErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("config error: %v", cfgErr),
				Fix:     "Check the YAML syntax and the values reported above",
			}
		}
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("no config file at %s; using defaults and AGENTLINK_* variables", cfgPath),
				Fix:     "Create config.yaml or pass --config",
			}
		}
		return CheckResult{
			Status:  StatusPass,
			Message: fmt.Sprintf("config loaded from %s", cfgPath),
		}
	}
}

// checkLLMAPIKey verifies the local agent has a usable provider.
func checkLLMAPIKey(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: notLoaded}
	}
	if cfg.LLM.Provider == "" {
		return CheckResult{
			Status:  StatusWarn,
			Message: "no llm provider configured; unmentioned messages on /query will fail",
			Fix:     "Set llm.provider to openai or anthropic",
		}
	}
	if cfg.LLM.APIKey == "" {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("no API key for provider %s", cfg.LLM.Provider),
			Fix:     "Set OPENAI_API_KEY / ANTHROPIC_API_KEY or llm.api_key",
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%s key configured (model %s)", cfg.LLM.Provider, cfg.LLM.Model),
	}
}

// checkRanker verifies the search ranker has what it needs.
func checkRanker(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: notLoaded}
	}
	switch cfg.Matcher.Ranker {
	case "llm", "fallback":
		if cfg.LLM.Provider == "" {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("ranker %q needs an llm provider", cfg.Matcher.Ranker),
				Fix:     "Set llm.provider or use matcher.ranker: keyword",
			}
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%s ranker", cfg.Matcher.Ranker),
	}
}

// checkDirectories fetches every configured directory once.
func checkDirectories(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: notLoaded}
	}
	if len(cfg.Registry.Directories) == 0 {
		return CheckResult{
			Status:  StatusWarn,
			Message: "no directories configured; only manual and static agents are known",
		}
	}

	var ok, failed []string
	for _, d := range cfg.Registry.Directories {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Registry.Timeout)
		start := time.Now()
		recs, err := newDirectory(d, cfg.Registry.Timeout, logger.Discard()).Fetch(ctx)
		cancel()
		if err != nil {
			failed = append(failed, fmt.Sprintf("%s (%v)", d.Name, err))
			continue
		}
		ok = append(ok, fmt.Sprintf("%s: %d agents in %dms", d.Name, len(recs), time.Since(start).Milliseconds()))
	}

	switch {
	case len(ok) == 0:
		return CheckResult{
			Status:  StatusFail,
			Message: "no directory reachable: " + strings.Join(failed, "; "),
			Fix:     "Check registry.directories URLs and network access",
		}
	case len(failed) > 0:
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("%s; unreachable: %s", strings.Join(ok, ", "), strings.Join(failed, "; ")),
		}
	}
	return CheckResult{Status: StatusPass, Message: strings.Join(ok, ", ")}
}

// checkStaticAgents parses the static agents file when one is configured.
func checkStaticAgents(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: notLoaded}
	}
	path := cfg.Registry.StaticFile
	if path == "" {
		return CheckResult{Status: StatusPass, Message: "no static agents file"}
	}
	recs, err := directory.NewStaticFile(path, logger.Discard()).Load()
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: err.Error(),
			Fix:     "Fix the YAML in " + path,
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%d agent(s) in %s", len(recs), path),
	}
}

// checkAuditPaths verifies the audit log and store directories are writable.
func checkAuditPaths(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: notLoaded}
	}
	paths := []string{cfg.Audit.Path, cfg.Audit.SQLitePath}
	var checked []string
	for _, p := range paths {
		if p == "" {
			continue
		}
		dir, _ := filepath.Abs(filepath.Dir(p))
		if err := checkWritableDir(dir); err != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: err.Error(),
				Fix:     fmt.Sprintf("Create the directory: mkdir -p %s", dir),
			}
		}
		checked = append(checked, p)
	}
	if len(checked) == 0 {
		return CheckResult{
			Status:  StatusWarn,
			Message: "audit disabled; routing decisions are not recorded",
		}
	}
	return CheckResult{Status: StatusPass, Message: "writable: " + strings.Join(checked, ", ")}
}

func checkWritableDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("directory %s cannot be created: %w", dir, err)
	}
	testFile := filepath.Join(dir, ".doctor-check")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return fmt.Errorf("directory %s is not writable: %w", dir, err)
	}
	os.Remove(testFile)
	return nil
}

// checkSchedules parses the refresh schedule and every scheduler task.
func checkSchedules(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: notLoaded}
	}
	now := time.Now()
	var next []string
	if s := cfg.Registry.RefreshSchedule; s != "" {
		at, err := scheduling.NextRun(s, now)
		if err != nil {
			return CheckResult{Status: StatusFail, Message: "registry.refresh_schedule: " + err.Error()}
		}
		next = append(next, fmt.Sprintf("registry-refresh at %s", at.Format(time.RFC3339)))
	}
	if cfg.Scheduler.Enabled {
		for _, t := range cfg.Scheduler.Tasks {
			at, err := scheduling.NextRun(t.Schedule, now)
			if err != nil {
				return CheckResult{Status: StatusFail, Message: fmt.Sprintf("task %s: %v", t.Name, err)}
			}
			next = append(next, fmt.Sprintf("%s at %s", t.Name, at.Format(time.RFC3339)))
		}
	}
	if len(next) == 0 {
		return CheckResult{Status: StatusPass, Message: "no scheduled tasks"}
	}
	return CheckResult{Status: StatusPass, Message: "next runs: " + strings.Join(next, ", ")}
}

// checkPublicURL warns when the advertised URL falls back to the listen address.
func checkPublicURL(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: notLoaded}
	}
	if cfg.Agent.PublicURL == "" {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("agent.public_url not set; advertising %s", cfg.BaseURL()),
			Fix:     "Set agent.public_url (or PUBLIC_URL) to the address other agents reach",
		}
	}
	return CheckResult{Status: StatusPass, Message: "advertising " + cfg.BaseURL()}
}

// checkAdminToken warns when registry management is open.
func checkAdminToken(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: notLoaded}
	}
	if cfg.Gateway.AdminToken == "" {
		return CheckResult{
			Status:  StatusWarn,
			Message: "no admin token; anyone can register, remove and refresh agents",
			Fix:     "Set gateway.admin_token (see 'agentlink config encrypt')",
		}
	}
	return CheckResult{Status: StatusPass, Message: "registry management requires a bearer token"}
}
