package llm

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.opentelemetry.io/otel/trace"

	"agentlink/internal/domain"
	"agentlink/internal/infra/config"
	"agentlink/internal/infra/tracer"
)

const (
	defaultAnthropicModel     = "claude-3-5-haiku-latest"
	defaultAnthropicMaxTokens = 1024
)

// AnthropicProvider implements domain.LLMProvider on the Anthropic Messages API.
type AnthropicProvider struct {
	client      *anthropic.Client
	model       string
	temperature float64
	maxTokens   int
	logger      *slog.Logger
}

// NewAnthropicProvider creates a provider from cfg.
func NewAnthropicProvider(cfg config.LLMConfig, logger *slog.Logger) *AnthropicProvider {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	opts := []option.RequestOption{
		option.WithHTTPClient(NewHTTPClient(cfg.Timeout)),
		option.WithMaxRetries(0),
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	// The shared default model is an OpenAI one.
	model := cfg.Model
	if model == "" || strings.HasPrefix(model, "gpt-") {
		model = defaultAnthropicModel
	}

	client := anthropic.NewClient(opts...)
	return &AnthropicProvider{
		client:      &client,
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   orDefault(cfg.MaxTokens, defaultAnthropicMaxTokens),
		logger:      logger,
	}
}

// Complete implements domain.LLMProvider.
func (p *AnthropicProvider) Complete(ctx context.Context, req domain.CompletionRequest) (*domain.CompletionResponse, error) {
	model := orDefault(req.Model, p.model)
	ctx, span := tracer.StartSpan(ctx, "llm.complete",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", p.Name()),
			tracer.StringAttr("llm.model", model),
		),
	)
	defer span.End()

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   int64(orDefault(req.MaxTokens, p.maxTokens)),
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt))},
		Temperature: anthropic.Float(orDefault(req.Temperature, p.temperature)),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		status := 0
		if errors.As(err, &apiErr) {
			status = apiErr.StatusCode
		}
		err = providerError("AnthropicProvider.Complete", p.Name(), status, err)
		tracer.RecordError(span, err)
		return nil, err
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.AsText().Text)
		}
	}

	out := &domain.CompletionResponse{
		Model: orDefault(string(resp.Model), model),
		Text:  text.String(),
		Usage: domain.Usage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
		},
	}
	recordCompletion(span, p.logger, p.Name(), out)
	return out, nil
}

// Name implements domain.LLMProvider.
func (p *AnthropicProvider) Name() string { return "anthropic" }

var _ domain.LLMProvider = (*AnthropicProvider)(nil)
