package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"agentlink/internal/domain"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Router.ForwardTimeout != 30*time.Second {
		t.Errorf("ForwardTimeout = %v, want 30s", cfg.Router.ForwardTimeout)
	}
	if cfg.Registry.Timeout != 10*time.Second {
		t.Errorf("Registry.Timeout = %v, want 10s", cfg.Registry.Timeout)
	}
	if cfg.Registry.EndpointSuffix != "/a2a" {
		t.Errorf("EndpointSuffix = %q, want /a2a", cfg.Registry.EndpointSuffix)
	}
	if cfg.Matcher.Ranker != "keyword" {
		t.Errorf("Ranker = %q, want keyword", cfg.Matcher.Ranker)
	}
	if cfg.Logger.Level != "info" {
		t.Errorf("Logger.Level = %q, want %q", cfg.Logger.Level, "info")
	}
}

func TestLoadNonExistentReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.ID != "agentlink" {
		t.Errorf("expected defaults, got Agent.ID=%q", cfg.Agent.ID)
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, `
agent:
  id: "mimo"
  name: "Mimo"
registry:
  directories:
    - name: "local"
      url: "http://localhost:9000/api/agents"
  refresh_schedule: "5m"
router:
  forward_timeout: 5s
  wire_style: query
llm:
  provider: openai
  api_key: "sk-test"
  model: "gpt-4o-mini"
matcher:
  ranker: fallback
logger:
  level: "debug"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.ID != "mimo" || cfg.Agent.Name != "Mimo" {
		t.Errorf("Agent = %+v", cfg.Agent)
	}
	if len(cfg.Registry.Directories) != 1 || cfg.Registry.Directories[0].URL != "http://localhost:9000/api/agents" {
		t.Errorf("Directories = %+v", cfg.Registry.Directories)
	}
	if cfg.Router.ForwardTimeout != 5*time.Second {
		t.Errorf("ForwardTimeout = %v, want 5s", cfg.Router.ForwardTimeout)
	}
	if cfg.Router.WireStyle != "query" {
		t.Errorf("WireStyle = %q, want query", cfg.Router.WireStyle)
	}
	if cfg.Matcher.Ranker != "fallback" {
		t.Errorf("Ranker = %q, want fallback", cfg.Matcher.Ranker)
	}
	// Untouched sections keep their defaults.
	if cfg.Registry.Timeout != 10*time.Second {
		t.Errorf("Registry.Timeout = %v, want default", cfg.Registry.Timeout)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "agent: [unclosed")
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected parse error")
	}
	if !errors.Is(err, domain.ErrConfigLoad) {
		t.Errorf("err = %v, want ErrConfigLoad", err)
	}
	if code := domain.ErrorCodeOf(err); code != domain.CodeConfigLoad {
		t.Errorf("code = %s, want %s", code, domain.CodeConfigLoad)
	}
}

func TestLoadValidationError(t *testing.T) {
	path := writeConfig(t, "router:\n  wire_style: carrier-pigeon\n")
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if _, ok := err.(*ValidationError); !ok {
		t.Errorf("err = %T, want *ValidationError", err)
	}
}

func TestLoadInsecurePermissions(t *testing.T) {
	path := writeConfig(t, "agent:\n  id: x\n")
	if err := os.Chmod(path, 0666); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for insecure permissions")
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("agent:\n  id: fromfile\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("AGENTLINK_AGENT_ID=fromdotenv\n"), 0600); err != nil {
		t.Fatal(err)
	}
	// godotenv sets the variable on the process; t.Setenv restores it afterwards.
	t.Setenv("AGENTLINK_AGENT_ID", "")
	os.Unsetenv("AGENTLINK_AGENT_ID")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.ID != "fromdotenv" {
		t.Errorf("Agent.ID = %q, want fromdotenv", cfg.Agent.ID)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("AGENTLINK_LLM_PROVIDER", "anthropic")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant")
	t.Setenv("AGENTLINK_LOGGER_LEVEL", "debug")
	t.Setenv("AGENTLINK_ROUTER_FORWARD_TIMEOUT", "3s")
	t.Setenv("AGENTLINK_COORDINATION_DEFAULT_ROUNDS", "2")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	if cfg.LLM.Provider != "anthropic" {
		t.Errorf("Provider = %q, want anthropic", cfg.LLM.Provider)
	}
	if cfg.LLM.APIKey != "sk-ant" {
		t.Errorf("APIKey = %q, want provider key fallback", cfg.LLM.APIKey)
	}
	if cfg.Logger.Level != "debug" {
		t.Errorf("Logger.Level = %q, want %q", cfg.Logger.Level, "debug")
	}
	if cfg.Router.ForwardTimeout != 3*time.Second {
		t.Errorf("ForwardTimeout = %v, want 3s", cfg.Router.ForwardTimeout)
	}
	if cfg.Coordination.DefaultRounds != 2 {
		t.Errorf("DefaultRounds = %d, want 2", cfg.Coordination.DefaultRounds)
	}
}

func TestEnvOverridesRegistryURL(t *testing.T) {
	t.Setenv("REGISTRY_URL", "http://a.example/agents, http://b.example/agents")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	if len(cfg.Registry.Directories) != 2 {
		t.Fatalf("Directories = %+v, want 2", cfg.Registry.Directories)
	}
	if cfg.Registry.Directories[1].URL != "http://b.example/agents" {
		t.Errorf("Directories[1].URL = %q", cfg.Registry.Directories[1].URL)
	}
}

func TestEnvOverridesPublicURLAndPort(t *testing.T) {
	t.Setenv("RAILWAY_PUBLIC_DOMAIN", "mimo.up.railway.app")
	t.Setenv("PORT", "9090")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	if cfg.Agent.PublicURL != "https://mimo.up.railway.app" {
		t.Errorf("PublicURL = %q", cfg.Agent.PublicURL)
	}
	if cfg.Gateway.Addr != ":9090" {
		t.Errorf("Addr = %q, want :9090", cfg.Gateway.Addr)
	}
	if got := cfg.BaseURL(); got != "https://mimo.up.railway.app" {
		t.Errorf("BaseURL = %q", got)
	}
}

func TestBaseURLFromAddr(t *testing.T) {
	cfg := Defaults()
	if got := cfg.BaseURL(); got != "http://localhost:8000" {
		t.Errorf("BaseURL = %q, want http://localhost:8000", got)
	}
}

func TestRetentionMaxAge(t *testing.T) {
	cfg := Defaults()
	if got := cfg.RetentionMaxAge(); got != 2160*time.Hour {
		t.Errorf("RetentionMaxAge = %v, want 2160h", got)
	}
	cfg.Audit.Retention.MaxAge = ""
	if got := cfg.RetentionMaxAge(); got != 0 {
		t.Errorf("RetentionMaxAge = %v, want 0", got)
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	passphrase := "test-passphrase-123"
	plaintext := "sk-abcdef123456"

	encrypted, err := EncryptValue(plaintext, passphrase)
	if err != nil {
		t.Fatalf("EncryptValue: %v", err)
	}
	decrypted, err := DecryptValue(encrypted, passphrase)
	if err != nil {
		t.Fatalf("DecryptValue: %v", err)
	}
	if decrypted != plaintext {
		t.Errorf("got %q, want %q", decrypted, plaintext)
	}
}

func TestDecryptWrongPassphrase(t *testing.T) {
	encrypted, err := EncryptValue("secret", "correct-pass")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := DecryptValue(encrypted, "wrong-pass"); err == nil {
		t.Error("expected error with wrong passphrase")
	}
}

func TestDecryptValueInvalidInput(t *testing.T) {
	for _, in := range []string{"nocolon", "zz:00", "00:zz", "00:00"} {
		if _, err := DecryptValue(in, "pass"); err == nil {
			t.Errorf("DecryptValue(%q): expected error", in)
		}
	}
}

func TestDecryptSecretsLeavesPlainKeys(t *testing.T) {
	cfg := Defaults()
	cfg.LLM.APIKey = "sk-plain-key"
	if err := decryptSecrets(cfg, "any-passphrase"); err != nil {
		t.Fatalf("decryptSecrets: %v", err)
	}
	if cfg.LLM.APIKey != "sk-plain-key" {
		t.Errorf("APIKey should remain unchanged")
	}
}

func TestLoadWithConfigKey(t *testing.T) {
	passphrase := "test-load-key"
	plainKey := "sk-loadtest"

	encrypted, err := EncryptValue(plainKey, passphrase)
	if err != nil {
		t.Fatalf("EncryptValue: %v", err)
	}
	path := writeConfig(t, `
llm:
  provider: openai
  api_key: "enc:`+encrypted+`"
`)

	t.Setenv("AGENTLINK_CONFIG_KEY", passphrase)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.APIKey != plainKey {
		t.Errorf("APIKey = %q, want %q", cfg.LLM.APIKey, plainKey)
	}
}

func TestLoadDecryptSecretsError(t *testing.T) {
	path := writeConfig(t, "llm:\n  provider: openai\n  api_key: \"enc:notvalid\"\n")
	t.Setenv("AGENTLINK_CONFIG_KEY", "key")
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected decrypt error")
	}
	if !errors.Is(err, domain.ErrConfigLoad) {
		t.Errorf("err = %v, want ErrConfigLoad", err)
	}
}
