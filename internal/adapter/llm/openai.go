package llm

import (
	"context"
	"errors"
	"log/slog"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.opentelemetry.io/otel/trace"

	"agentlink/internal/domain"
	"agentlink/internal/infra/config"
	"agentlink/internal/infra/tracer"
)

// OpenAIProvider implements domain.LLMProvider on the OpenAI chat completions
// API (or any compatible server via base_url).
type OpenAIProvider struct {
	client      *openai.Client
	model       string
	temperature float64
	maxTokens   int
	logger      *slog.Logger
}

// NewOpenAIProvider creates a provider from cfg. SDK retries are disabled;
// the router never retries and the breaker sees every failure.
func NewOpenAIProvider(cfg config.LLMConfig, logger *slog.Logger) *OpenAIProvider {
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
	client := openai.NewClient(opts...)
	return &OpenAIProvider{
		client:      &client,
		model:       orDefault(cfg.Model, string(openai.ChatModelGPT4oMini)),
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		logger:      logger,
	}
}

// Complete implements domain.LLMProvider.
func (p *OpenAIProvider) Complete(ctx context.Context, req domain.CompletionRequest) (*domain.CompletionResponse, error) {
	model := orDefault(req.Model, p.model)
	ctx, span := tracer.StartSpan(ctx, "llm.complete",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", p.Name()),
			tracer.StringAttr("llm.model", model),
		),
	)
	defer span.End()

	var messages []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(model),
		Messages:    messages,
		Temperature: openai.Float(orDefault(req.Temperature, p.temperature)),
	}
	if n := orDefault(req.MaxTokens, p.maxTokens); n > 0 {
		params.MaxCompletionTokens = openai.Int(int64(n))
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		status := 0
		if errors.As(err, &apiErr) {
			status = apiErr.StatusCode
		}
		err = providerError("OpenAIProvider.Complete", p.Name(), status, err)
		tracer.RecordError(span, err)
		return nil, err
	}
	if len(resp.Choices) == 0 {
		err := domain.NewSubSystemError("llm", "OpenAIProvider.Complete", domain.ErrProviderError, "no choices in response")
		tracer.RecordError(span, err)
		return nil, err
	}

	out := &domain.CompletionResponse{
		Model: orDefault(resp.Model, model),
		Text:  resp.Choices[0].Message.Content,
		Usage: domain.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
		},
	}
	recordCompletion(span, p.logger, p.Name(), out)
	return out, nil
}

// Name implements domain.LLMProvider.
func (p *OpenAIProvider) Name() string { return "openai" }

func recordCompletion(span trace.Span, logger *slog.Logger, provider string, resp *domain.CompletionResponse) {
	span.SetAttributes(
		tracer.IntAttr("llm.prompt_tokens", resp.Usage.PromptTokens),
		tracer.IntAttr("llm.completion_tokens", resp.Usage.CompletionTokens),
	)
	tracer.SetOK(span)
	logger.Debug("llm completion",
		"provider", provider,
		"model", resp.Model,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
	)
}

var _ domain.LLMProvider = (*OpenAIProvider)(nil)
