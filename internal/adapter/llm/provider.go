// Package llm adapts hosted language models to domain.LLMProvider and builds
// the pieces that sit on top of one: the LLM ranker and the persona-driven
// local agent.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"agentlink/internal/domain"
	"agentlink/internal/infra/config"
)

// New builds the provider named by cfg.Provider, wrapped in a circuit breaker
// when enabled. It returns (nil, nil) when no provider is configured.
func New(cfg config.LLMConfig, logger *slog.Logger) (domain.LLMProvider, error) {
	var p domain.LLMProvider
	switch cfg.Provider {
	case "":
		return nil, nil
	case "openai":
		p = NewOpenAIProvider(cfg, logger)
	case "anthropic":
		p = NewAnthropicProvider(cfg, logger)
	default:
		return nil, domain.NewSubSystemError("llm", "llm.New", domain.ErrInvalidInput,
			fmt.Sprintf("unknown provider %q", cfg.Provider))
	}
	if cfg.CircuitBreaker.Enabled {
		p = NewCircuitBreakerProvider(p, cfg.CircuitBreaker, logger)
	}
	return p, nil
}

// providerError maps an SDK failure to a domain error. Deadline errors become
// ErrTimeout so the gateway can answer PROVIDER_TIMEOUT.
func providerError(op, provider string, status int, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewSubSystemError("llm", op, domain.ErrTimeout, provider)
	}
	detail := provider
	if status != 0 {
		detail = fmt.Sprintf("%s: status %d", provider, status)
	}
	return domain.NewSubSystemError("llm", op, fmt.Errorf("%w: %w", domain.ErrProviderError, err), detail)
}

func orDefault[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
