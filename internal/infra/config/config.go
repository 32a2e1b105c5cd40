package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"agentlink/internal/domain"
)

// Config is the top-level application configuration.
type Config struct {
	Agent        AgentConfig        `yaml:"agent"`
	Registry     RegistryConfig     `yaml:"registry"`
	Router       RouterConfig       `yaml:"router"`
	Matcher      MatcherConfig      `yaml:"matcher"`
	LLM          LLMConfig          `yaml:"llm"`
	Coordination CoordinationConfig `yaml:"coordination"`
	Audit        AuditConfig        `yaml:"audit"`
	Scheduler    SchedulerConfig    `yaml:"scheduler"`
	Gateway      GatewayConfig      `yaml:"gateway"`
	Logger       LoggerConfig       `yaml:"logger"`
	Tracer       TracerConfig       `yaml:"tracer"`
	Metrics      MetricsConfig      `yaml:"metrics"`
}

// AgentConfig describes this service's own agent identity.
type AgentConfig struct {
	ID           string        `yaml:"id"`
	Name         string        `yaml:"name"`
	Description  string        `yaml:"description"`
	Version      string        `yaml:"version"`
	Provider     string        `yaml:"provider"`
	ProviderURL  string        `yaml:"provider_url"`
	Jurisdiction string        `yaml:"jurisdiction"`
	PublicURL    string        `yaml:"public_url"` // advertised base URL, e.g. https://agent.example.com
	UUID         string        `yaml:"uuid"`       // stable agentfacts id; random per process if empty
	Persona      string        `yaml:"persona"`    // system prompt of the local agent
	Skills       []SkillConfig `yaml:"skills,omitempty"`
}

// SkillConfig is one advertised capability.
type SkillConfig struct {
	ID          string `yaml:"id"`
	Description string `yaml:"description"`
}

// RegistryConfig holds remote agent discovery settings.
type RegistryConfig struct {
	Directories     []DirectoryConfig `yaml:"directories"`
	Timeout         time.Duration     `yaml:"timeout"`
	EndpointSuffix  string            `yaml:"endpoint_suffix"`
	StaticFile      string            `yaml:"static_file,omitempty"` // YAML list of agents, reloaded on change
	RefreshOnStart  bool              `yaml:"refresh_on_start"`
	RefreshSchedule string            `yaml:"refresh_schedule,omitempty"` // cron expression or duration; empty = manual only
	Advertise       AdvertiseConfig   `yaml:"advertise"`
}

// DirectoryConfig is one upstream agent directory.
type DirectoryConfig struct {
	Name    string `yaml:"name"`
	Kind    string `yaml:"kind,omitempty"`    // "http" (default) or "mdns"
	URL     string `yaml:"url,omitempty"`     // http listing address
	Service string `yaml:"service,omitempty"` // mdns service type, default _a2a._tcp
	Domain  string `yaml:"domain,omitempty"`  // mdns browse domain, default local.
}

// DirectoryKind returns the directory kind, defaulting to http.
func (d DirectoryConfig) DirectoryKind() string {
	if d.Kind == "" {
		return "http"
	}
	return d.Kind
}

// AdvertiseConfig publishes this agent over mDNS for LAN directories.
type AdvertiseConfig struct {
	Enabled bool   `yaml:"enabled"`
	Service string `yaml:"service,omitempty"`
	Domain  string `yaml:"domain,omitempty"`
}

// RouterConfig holds message forwarding settings.
type RouterConfig struct {
	ForwardTimeout       time.Duration        `yaml:"forward_timeout"`
	WireStyle            string               `yaml:"wire_style"` // "a2a" or "query"
	CircuitBreaker       CircuitBreakerConfig `yaml:"circuit_breaker"`
	BlockPrivateNetworks bool                 `yaml:"block_private_networks"` // refuse agent endpoints in private/reserved ranges
}

// MatcherConfig selects the ranking primitive used by /search.
type MatcherConfig struct {
	Ranker          string `yaml:"ranker"`            // "keyword", "llm" or "fallback"
	MaxPromptTokens int    `yaml:"max_prompt_tokens"` // candidate list budget for the llm ranker
}

// LLMConfig holds the language model backend settings.
type LLMConfig struct {
	Provider       string               `yaml:"provider"` // "openai", "anthropic" or "" (disabled)
	Model          string               `yaml:"model"`
	APIKey         string               `yaml:"api_key"`
	BaseURL        string               `yaml:"base_url,omitempty"`
	Temperature    float64              `yaml:"temperature"`
	MaxTokens      int                  `yaml:"max_tokens"`
	Timeout        time.Duration        `yaml:"timeout"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig holds circuit breaker settings.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// CoordinationConfig holds multi-agent protocol settings.
type CoordinationConfig struct {
	StepTimeout   time.Duration `yaml:"step_timeout"`
	DefaultRounds int           `yaml:"default_rounds"`
	MaxRounds     int           `yaml:"max_rounds"`
}

// AuditConfig holds audit log settings.
type AuditConfig struct {
	Path       string          `yaml:"path"`        // line log; empty disables it
	SQLitePath string          `yaml:"sqlite_path"` // queryable store; empty disables it
	Retention  RetentionConfig `yaml:"retention"`
}

// RetentionConfig holds audit log retention policy settings.
type RetentionConfig struct {
	MaxAge string `yaml:"max_age"` // duration string, e.g. "2160h" (90 days)
}

// SchedulerConfig holds cron/scheduler settings.
type SchedulerConfig struct {
	Enabled bool                  `yaml:"enabled"`
	Tasks   []ScheduledTaskConfig `yaml:"tasks"`
}

// ScheduledTaskConfig defines a single scheduled task.
type ScheduledTaskConfig struct {
	Name     string `yaml:"name"`
	Schedule string `yaml:"schedule"` // cron expression or duration string
	Action   string `yaml:"action"`
	OneShot  bool   `yaml:"one_shot,omitempty"`
}

// GatewayConfig holds HTTP gateway settings.
type GatewayConfig struct {
	Addr           string          `yaml:"addr"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
	A2ARPC         bool            `yaml:"a2a_rpc"`                   // mount the JSON-RPC surface and agent card
	AdminToken     string          `yaml:"admin_token,omitempty"`     // bearer token for register/delete/refresh; empty leaves them open
	TrustedProxies []string        `yaml:"trusted_proxies,omitempty"` // peers whose forwarding headers are believed
}

// RateLimitConfig holds per-client request limits.
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled"`
	Rate    float64 `yaml:"rate"` // requests per second
	Burst   int     `yaml:"burst"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// MetricsConfig holds Prometheus exposition settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// defaultDataDir returns the persistent data directory under $HOME/.agentlink.
// Falls back to "./data" if $HOME cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".agentlink")
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	dataDir := defaultDataDir()
	return &Config{
		Agent: AgentConfig{
			ID:           "agentlink",
			Name:         "agentlink",
			Description:  "A2A coordination agent that routes messages between agents.",
			Version:      "1.0.0",
			Jurisdiction: "USA",
			Persona:      "You are a helpful AI assistant. Answer clearly and concisely.",
		},
		Registry: RegistryConfig{
			Directories: []DirectoryConfig{
				{Name: "nanda", URL: "https://nest.projectnanda.org/api/agents"},
			},
			Timeout:        10 * time.Second,
			EndpointSuffix: "/a2a",
			RefreshOnStart: true,
		},
		Router: RouterConfig{
			ForwardTimeout: 30 * time.Second,
			WireStyle:      "a2a",
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:     true,
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
		},
		Matcher: MatcherConfig{
			Ranker:          "keyword",
			MaxPromptTokens: 6000,
		},
		LLM: LLMConfig{
			Model:       "gpt-4o-mini",
			Temperature: 0.3,
			MaxTokens:   1024,
			Timeout:     60 * time.Second,
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:     true,
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
		},
		Coordination: CoordinationConfig{
			StepTimeout:   2 * time.Minute,
			DefaultRounds: 1,
			MaxRounds:     5,
		},
		Audit: AuditConfig{
			Path:       filepath.Join("logs", "a2a_messages.log"),
			SQLitePath: filepath.Join(dataDir, "audit.db"),
			Retention:  RetentionConfig{MaxAge: "2160h"},
		},
		Gateway: GatewayConfig{
			Addr: ":8000",
			RateLimit: RateLimitConfig{
				Enabled: true,
				Rate:    10,
				Burst:   20,
			},
			A2ARPC: true,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Load reads a YAML config file, loads .env files, applies env var
// overrides, and decrypts secrets. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if err := loadDotEnv(filepath.Dir(path)); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("%w: resolve config path: %w", domain.ErrConfigLoad, err)
		}
		if err := validatePermissions(absPath); err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: parse config: %w", domain.ErrConfigLoad, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("%w: read config: %w", domain.ErrConfigLoad, err)
	}

	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv("AGENTLINK_CONFIG_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("%w: decrypt secrets: %w", domain.ErrConfigLoad, err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadDotEnv loads .env from the working directory and the config directory.
// Variables already set in the environment win.
func loadDotEnv(configDir string) error {
	candidates := []string{".env"}
	if configDir != "" && configDir != "." {
		candidates = append(candidates, filepath.Join(configDir, ".env"))
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnvOverrides maps AGENTLINK_* env vars (plus the conventional
// REGISTRY_URL, PUBLIC_URL, PORT and provider API key variables) to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AGENTLINK_AGENT_ID"); v != "" {
		cfg.Agent.ID = v
	}
	if v := os.Getenv("AGENTLINK_AGENT_NAME"); v != "" {
		cfg.Agent.Name = v
	}
	if v := os.Getenv("AGENTLINK_AGENT_DESCRIPTION"); v != "" {
		cfg.Agent.Description = v
	}
	if v := os.Getenv("AGENT_UUID"); v != "" {
		cfg.Agent.UUID = v
	}
	if v := firstEnv("AGENTLINK_PUBLIC_URL", "PUBLIC_URL", "RAILWAY_PUBLIC_DOMAIN"); v != "" {
		if !strings.HasPrefix(v, "http") {
			v = "https://" + v
		}
		cfg.Agent.PublicURL = v
	}

	if v := firstEnv("AGENTLINK_REGISTRY_URL", "REGISTRY_URL"); v != "" {
		cfg.Registry.Directories = nil
		for i, u := range splitAndTrim(v, ",") {
			if u == "" {
				continue
			}
			cfg.Registry.Directories = append(cfg.Registry.Directories, DirectoryConfig{
				Name: "env-" + strconv.Itoa(i),
				URL:  u,
			})
		}
	}
	if v := os.Getenv("AGENTLINK_REGISTRY_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Registry.Timeout = d
		}
	}
	if v := os.Getenv("AGENTLINK_REGISTRY_STATIC_FILE"); v != "" {
		cfg.Registry.StaticFile = v
	}
	if v := os.Getenv("AGENTLINK_REGISTRY_REFRESH_SCHEDULE"); v != "" {
		cfg.Registry.RefreshSchedule = v
	}

	if v := os.Getenv("AGENTLINK_ROUTER_FORWARD_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Router.ForwardTimeout = d
		}
	}
	if v := os.Getenv("AGENTLINK_ROUTER_BLOCK_PRIVATE_NETWORKS"); v == "true" {
		cfg.Router.BlockPrivateNetworks = true
	}
	if v := os.Getenv("AGENTLINK_ROUTER_WIRE_STYLE"); v != "" {
		cfg.Router.WireStyle = v
	}
	if v := os.Getenv("AGENTLINK_MATCHER_RANKER"); v != "" {
		cfg.Matcher.Ranker = v
	}

	if v := os.Getenv("AGENTLINK_LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := os.Getenv("AGENTLINK_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("AGENTLINK_LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("AGENTLINK_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if cfg.LLM.APIKey == "" {
		switch cfg.LLM.Provider {
		case "openai":
			cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		case "anthropic":
			cfg.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		}
	}

	if v := os.Getenv("AGENTLINK_COORDINATION_STEP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Coordination.StepTimeout = d
		}
	}
	if v := os.Getenv("AGENTLINK_COORDINATION_DEFAULT_ROUNDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Coordination.DefaultRounds = n
		}
	}

	if v := os.Getenv("AGENTLINK_AUDIT_PATH"); v != "" {
		cfg.Audit.Path = v
	}
	if v := os.Getenv("AGENTLINK_AUDIT_SQLITE_PATH"); v != "" {
		cfg.Audit.SQLitePath = v
	}

	if v := os.Getenv("AGENTLINK_GATEWAY_ADDR"); v != "" {
		cfg.Gateway.Addr = v
	} else if v := os.Getenv("PORT"); v != "" {
		cfg.Gateway.Addr = ":" + v
	}
	if v := os.Getenv("AGENTLINK_GATEWAY_ADMIN_TOKEN"); v != "" {
		cfg.Gateway.AdminToken = v
	}
	if v := os.Getenv("AGENTLINK_GATEWAY_RATE_LIMIT_ENABLED"); v == "false" {
		cfg.Gateway.RateLimit.Enabled = false
	}

	if v := os.Getenv("AGENTLINK_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("AGENTLINK_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("AGENTLINK_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("AGENTLINK_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
	if v := os.Getenv("AGENTLINK_METRICS_ENABLED"); v == "false" {
		cfg.Metrics.Enabled = false
	}
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// splitAndTrim splits s by sep and trims whitespace from each element.
func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// RetentionMaxAge parses Audit.Retention.MaxAge. Zero means keep forever.
func (c *Config) RetentionMaxAge() time.Duration {
	d, err := time.ParseDuration(c.Audit.Retention.MaxAge)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// BaseURL is the advertised base URL of this service.
func (c *Config) BaseURL() string {
	if c.Agent.PublicURL != "" {
		return strings.TrimRight(c.Agent.PublicURL, "/")
	}
	addr := c.Gateway.Addr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr
}

// validatePermissions checks the config file has restrictive permissions.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// Allow 0600 and 0644 (readable by others but not writable)
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
