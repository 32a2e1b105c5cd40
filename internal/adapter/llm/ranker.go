package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"agentlink/internal/domain"
	"agentlink/internal/infra/jsonout"
)

// Ranker settings.
const (
	rankerTemperature = 0.3
	rankerMaxTokens   = 256
)

var selectionSchema = jsonout.MustCompile(`{
  "type": "object",
  "required": ["selected_agent_id"],
  "properties": {
    "selected_agent_id": {"type": ["string", "null"]},
    "reasoning": {"type": "string"}
  }
}`)

type selection struct {
	SelectedAgentID *string `json:"selected_agent_id"`
	Reasoning       string  `json:"reasoning"`
}

type agentSummary struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description"`
}

// Ranker asks a language model to pick the single best agent for a query.
// The chosen agent scores 1.0; a null choice (or an id outside the candidate
// list) abstains. Unparseable answers are errors so a FallbackRanker can take
// over.
type Ranker struct {
	provider domain.LLMProvider
	model    string
	budget   int
	counter  TokenCounter
	logger   *slog.Logger
}

// RankerOption configures a Ranker.
type RankerOption func(*Ranker)

// WithRankerModel overrides the provider's default model.
func WithRankerModel(model string) RankerOption {
	return func(r *Ranker) { r.model = model }
}

// WithTokenBudget caps the candidate list in the prompt at n tokens.
// Zero disables the cap.
func WithTokenBudget(n int) RankerOption {
	return func(r *Ranker) { r.budget = n }
}

// WithTokenCounter sets the counter used for the budget.
func WithTokenCounter(c TokenCounter) RankerOption {
	return func(r *Ranker) { r.counter = c }
}

// NewRanker creates a Ranker over provider.
func NewRanker(provider domain.LLMProvider, logger *slog.Logger, opts ...RankerOption) *Ranker {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	r := &Ranker{provider: provider, logger: logger}
	for _, o := range opts {
		o(r)
	}
	if r.counter == nil {
		r.counter = NewTiktokenCounter(r.model)
	}
	return r
}

// Rank implements domain.Ranker.
func (r *Ranker) Rank(ctx context.Context, query string, candidates []domain.AgentRecord) ([]domain.ScoredAgent, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	listing, shown := r.fitListing(summarize(candidates))
	if shown < len(candidates) {
		r.logger.Debug("ranker listing trimmed to token budget",
			"candidates", len(candidates), "shown", shown, "budget", r.budget)
	}

	resp, err := r.provider.Complete(ctx, domain.CompletionRequest{
		Model:       r.model,
		Prompt:      selectionPrompt(query, listing),
		Temperature: rankerTemperature,
		MaxTokens:   rankerMaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("llm ranker: %w", err)
	}

	var sel selection
	if err := selectionSchema.Decode(resp.Text, &sel); err != nil {
		return nil, domain.NewSubSystemError("llm", "Ranker.Rank", domain.ErrProviderError, "unusable selection: "+err.Error())
	}
	if sel.SelectedAgentID == nil || strings.TrimSpace(*sel.SelectedAgentID) == "" {
		r.logger.Debug("llm ranker abstained", "reasoning", sel.Reasoning)
		return nil, nil
	}

	id := strings.TrimSpace(*sel.SelectedAgentID)
	for _, c := range candidates {
		if c.ID == id {
			return []domain.ScoredAgent{{Agent: c, Score: 1, Reason: sel.Reasoning}}, nil
		}
	}
	r.logger.Warn("llm ranker selected an unknown agent", "agent_id", id)
	return nil, nil
}

func summarize(candidates []domain.AgentRecord) []agentSummary {
	out := make([]agentSummary, len(candidates))
	for i, c := range candidates {
		out[i] = agentSummary{ID: c.ID, Label: c.Label(), Description: c.Description}
	}
	return out
}

// fitListing renders summaries as indented JSON within the token budget.
// Descriptions are halved until the listing fits; if it still does not, the
// trailing agents are dropped (at least one always remains). It returns the
// listing and the number of agents it contains.
func (r *Ranker) fitListing(summaries []agentSummary) (string, int) {
	listing := render(summaries)
	if r.budget <= 0 || r.counter.Count(listing) <= r.budget {
		return listing, len(summaries)
	}

	full := make([]string, len(summaries))
	limit := 0
	for i, s := range summaries {
		full[i] = s.Description
		limit = max(limit, utf8.RuneCountInString(s.Description))
	}
	for limit > 0 {
		limit /= 2
		for i := range summaries {
			summaries[i].Description = truncateRunes(full[i], limit)
		}
		listing = render(summaries)
		if r.counter.Count(listing) <= r.budget {
			return listing, len(summaries)
		}
	}

	for len(summaries) > 1 {
		summaries = summaries[:len(summaries)-1]
		listing = render(summaries)
		if r.counter.Count(listing) <= r.budget {
			break
		}
	}
	return listing, len(summaries)
}

func render(summaries []agentSummary) string {
	b, _ := json.MarshalIndent(summaries, "", "  ")
	return string(b)
}

func selectionPrompt(query, listing string) string {
	return fmt.Sprintf(`You are an agent router. Given a user query and a list of available agents, select the single best agent to handle the query.

User Query: %q

Available Agents:
%s

Analyze the query and select the ONE agent that best matches the user's intent. Consider:
- The agent's description and label
- How well the agent's capabilities match the query

Respond with ONLY a JSON object in this exact format:
{
    "selected_agent_id": "the id of the selected agent",
    "reasoning": "brief explanation of why this agent was selected"
}

If no agent is suitable, respond with:
{
    "selected_agent_id": null,
    "reasoning": "explanation of why no agent matches"
}`, query, listing)
}

var _ domain.Ranker = (*Ranker)(nil)
