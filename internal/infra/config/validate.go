package config

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateAgent(cfg, ve)
	validateRegistry(cfg, ve)
	validateRouter(cfg, ve)
	validateMatcher(cfg, ve)
	validateLLM(cfg, ve)
	validateCoordination(cfg, ve)
	validateAudit(cfg, ve)
	validateScheduler(cfg, ve)
	validateGateway(cfg, ve)
	validateObservability(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

var agentIDRe = regexp.MustCompile(`^[\w-]+$`)

func validateAgent(cfg *Config, ve *ValidationError) {
	if cfg.Agent.ID == "" {
		ve.Add("agent.id must not be empty")
	} else if !agentIDRe.MatchString(cfg.Agent.ID) {
		ve.Add("agent.id %q must contain only letters, digits, '_' or '-'", cfg.Agent.ID)
	}
	if cfg.Agent.Persona == "" {
		ve.Add("agent.persona must not be empty")
	}
	if cfg.Agent.PublicURL != "" && !isHTTPURL(cfg.Agent.PublicURL) {
		ve.Add("agent.public_url %q is not an http(s) URL", cfg.Agent.PublicURL)
	}
}

func validateRegistry(cfg *Config, ve *ValidationError) {
	if cfg.Registry.Timeout <= 0 {
		ve.Add("registry.timeout must be > 0")
	}
	seen := make(map[string]bool)
	for i, d := range cfg.Registry.Directories {
		if d.Name == "" {
			ve.Add("registry.directories[%d].name must not be empty", i)
		} else if seen[d.Name] {
			ve.Add("registry.directories[%d]: duplicate directory name %q", i, d.Name)
		}
		seen[d.Name] = true
		switch d.DirectoryKind() {
		case "http":
			if !isHTTPURL(d.URL) {
				ve.Add("registry.directories[%d].url %q is not an http(s) URL", i, d.URL)
			}
		case "mdns":
			if d.Service != "" && !strings.HasPrefix(d.Service, "_") {
				ve.Add("registry.directories[%d].service %q must look like _name._tcp", i, d.Service)
			}
		default:
			ve.Add("registry.directories[%d].kind %q is invalid (want: http, mdns)", i, d.Kind)
		}
	}
	if s := cfg.Registry.RefreshSchedule; s != "" && !looksLikeSchedule(s) {
		ve.Add("registry.refresh_schedule %q is neither a duration nor a cron expression", s)
	}
}

var validWireStyles = map[string]bool{"a2a": true, "query": true}

func validateRouter(cfg *Config, ve *ValidationError) {
	if cfg.Router.ForwardTimeout <= 0 {
		ve.Add("router.forward_timeout must be > 0")
	}
	if !validWireStyles[cfg.Router.WireStyle] {
		ve.Add("router.wire_style %q is invalid (want: a2a, query)", cfg.Router.WireStyle)
	}
	validateBreaker("router.circuit_breaker", cfg.Router.CircuitBreaker, ve)
}

var validRankers = map[string]bool{"keyword": true, "llm": true, "fallback": true}

func validateMatcher(cfg *Config, ve *ValidationError) {
	if !validRankers[cfg.Matcher.Ranker] {
		ve.Add("matcher.ranker %q is invalid (want: keyword, llm, fallback)", cfg.Matcher.Ranker)
		return
	}
	if cfg.Matcher.Ranker != "keyword" && cfg.LLM.Provider == "" {
		ve.Add("matcher.ranker %q requires llm.provider to be set", cfg.Matcher.Ranker)
	}
	if cfg.Matcher.MaxPromptTokens < 0 {
		ve.Add("matcher.max_prompt_tokens must be >= 0")
	}
}

var validProviders = map[string]bool{"": true, "openai": true, "anthropic": true}

func validateLLM(cfg *Config, ve *ValidationError) {
	if !validProviders[cfg.LLM.Provider] {
		ve.Add("llm.provider %q is invalid (want: openai, anthropic)", cfg.LLM.Provider)
		return
	}
	if cfg.LLM.Provider == "" {
		return
	}
	if cfg.LLM.APIKey == "" && cfg.LLM.BaseURL == "" {
		ve.Add("llm.api_key is empty (set via AGENTLINK_LLM_API_KEY or %s_API_KEY)", strings.ToUpper(cfg.LLM.Provider))
	}
	if cfg.LLM.Model == "" {
		ve.Add("llm.model must not be empty")
	}
	if cfg.LLM.Temperature < 0 || cfg.LLM.Temperature > 2 {
		ve.Add("llm.temperature must be within [0, 2]")
	}
	if cfg.LLM.Timeout <= 0 {
		ve.Add("llm.timeout must be > 0")
	}
	validateBreaker("llm.circuit_breaker", cfg.LLM.CircuitBreaker, ve)
}

func validateBreaker(prefix string, cb CircuitBreakerConfig, ve *ValidationError) {
	if !cb.Enabled {
		return
	}
	if cb.MaxFailures == 0 {
		ve.Add("%s.max_failures must be > 0 when enabled", prefix)
	}
	if cb.Timeout < 0 || cb.Interval < 0 {
		ve.Add("%s durations must not be negative", prefix)
	}
}

func validateCoordination(cfg *Config, ve *ValidationError) {
	c := cfg.Coordination
	if c.StepTimeout < 0 {
		ve.Add("coordination.step_timeout must not be negative")
	}
	if c.MaxRounds <= 0 {
		ve.Add("coordination.max_rounds must be > 0")
	}
	if c.DefaultRounds < 0 || (c.MaxRounds > 0 && c.DefaultRounds > c.MaxRounds) {
		ve.Add("coordination.default_rounds must be within [0, max_rounds]")
	}
}

func validateAudit(cfg *Config, ve *ValidationError) {
	if s := cfg.Audit.Retention.MaxAge; s != "" {
		if d, err := time.ParseDuration(s); err != nil || d < 0 {
			ve.Add("audit.retention.max_age %q is not a valid duration", s)
		}
	}
}

var validActions = map[string]bool{"registry_refresh": true, "audit_retention": true}

func validateScheduler(cfg *Config, ve *ValidationError) {
	if !cfg.Scheduler.Enabled {
		return
	}
	for i, t := range cfg.Scheduler.Tasks {
		if t.Name == "" {
			ve.Add("scheduler.tasks[%d].name is required", i)
		}
		if t.Schedule == "" {
			ve.Add("scheduler.tasks[%d].schedule is required", i)
		} else if !looksLikeSchedule(t.Schedule) {
			ve.Add("scheduler.tasks[%d].schedule %q is neither a duration nor a cron expression", i, t.Schedule)
		}
		if !validActions[t.Action] {
			ve.Add("scheduler.tasks[%d].action %q is invalid (want: registry_refresh, audit_retention)", i, t.Action)
		}
	}
}

func validateGateway(cfg *Config, ve *ValidationError) {
	if cfg.Gateway.Addr == "" {
		ve.Add("gateway.addr is required")
	} else if _, _, err := net.SplitHostPort(cfg.Gateway.Addr); err != nil {
		ve.Add("gateway.addr %q is not a valid host:port", cfg.Gateway.Addr)
	}
	if rl := cfg.Gateway.RateLimit; rl.Enabled && (rl.Rate <= 0 || rl.Burst <= 0) {
		ve.Add("gateway.rate_limit rate and burst must be > 0 when enabled")
	}
}

var validExporters = map[string]bool{"": true, "noop": true, "stdout": true}

func validateObservability(cfg *Config, ve *ValidationError) {
	if !validExporters[cfg.Tracer.Exporter] {
		ve.Add("tracer.exporter %q is invalid (want: noop, stdout)", cfg.Tracer.Exporter)
	}
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		ve.Add("metrics.path %q must start with '/'", cfg.Metrics.Path)
	}
}

func isHTTPURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// looksLikeSchedule accepts a Go duration or a 5/6-field cron expression
// (or a robfig descriptor such as "@hourly").
func looksLikeSchedule(s string) bool {
	if d, err := time.ParseDuration(s); err == nil {
		return d > 0
	}
	if strings.HasPrefix(s, "@") {
		return true
	}
	n := len(strings.Fields(s))
	return n == 5 || n == 6
}
