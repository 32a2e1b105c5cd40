package llm

import (
	"context"
	"log/slog"
	"strings"

	"agentlink/internal/domain"
)

// Persona is a role prompt for the local agent.
type Persona struct {
	Title     string
	Goal      string
	Backstory string
}

func (p Persona) system(base string) string {
	var b strings.Builder
	b.WriteString("You are the " + p.Title + ".")
	if p.Goal != "" {
		b.WriteString(" Your goal: " + p.Goal + ".")
	}
	if p.Backstory != "" {
		b.WriteString(" " + p.Backstory)
	}
	if base != "" {
		b.WriteString("\n\n" + base)
	}
	return b.String()
}

// Personas keyed by lowercase role. Coordination protocols assign these roles
// when a participant has none.
var Personas = map[string]Persona{
	"advocate": {
		Title:     "Advocate",
		Goal:      "Present strong arguments in favor of the proposition",
		Backstory: "You are a skilled debater who builds compelling cases with evidence, logic and persuasive argument, and you anticipate counterarguments.",
	},
	"opponent": {
		Title:     "Opponent",
		Goal:      "Present strong arguments against the proposition",
		Backstory: "You are a critical thinker who challenges ideas, identifies weaknesses and presents counterevidence.",
	},
	"judge": {
		Title:     "Judge",
		Goal:      "Evaluate both sides objectively and reach a fair conclusion",
		Backstory: "You are an impartial judge who weighs evidence carefully and reaches a balanced, well-reasoned verdict.",
	},
	"manager": {
		Title:     "Project Manager",
		Goal:      "Coordinate the team and synthesize results into a final answer",
		Backstory: "You are an experienced project manager who breaks down complex problems, delegates to specialists and combines their outputs.",
	},
	"researcher": {
		Title:     "Research Specialist",
		Goal:      "Gather relevant information and facts",
		Backstory: "You are a thorough researcher who finds the facts, data and background needed to answer questions comprehensively.",
	},
	"analyst": {
		Title:     "Data Analyst",
		Goal:      "Analyze information and identify patterns",
		Backstory: "You are an analytical thinker who interprets data, draws insights and evaluates information critically.",
	},
	"writer": {
		Title:     "Content Writer",
		Goal:      "Create clear, polished final output",
		Backstory: "You are a skilled writer who presents complex information in an accessible, well-structured way.",
	},
	"voter": {
		Title:     "Panelist",
		Goal:      "Give your own short, direct answer",
		Backstory: "Answer independently and state only your conclusion.",
	},
}

// LocalAgent answers messages in-process with a language model. The role
// picks a persona; unknown roles are used as the persona title verbatim and
// an empty role uses the base system prompt alone.
type LocalAgent struct {
	provider domain.LLMProvider
	base     string
	logger   *slog.Logger
}

// NewLocalAgent creates a LocalAgent. base is the agent's own system prompt.
// A nil provider makes every Invoke fail with ErrUnavailable.
func NewLocalAgent(provider domain.LLMProvider, base string, logger *slog.Logger) *LocalAgent {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &LocalAgent{provider: provider, base: base, logger: logger}
}

// Invoke implements domain.LocalAgent.
func (a *LocalAgent) Invoke(ctx context.Context, role string, msg domain.Message) (string, error) {
	if a.provider == nil {
		return "", domain.NewSubSystemError("llm", "LocalAgent.Invoke", domain.ErrUnavailable, "no llm provider configured")
	}
	resp, err := a.provider.Complete(ctx, domain.CompletionRequest{
		System: a.SystemPrompt(role),
		Prompt: msg.Text(),
	})
	if err != nil {
		return "", err
	}
	a.logger.Debug("local agent answered",
		"role", role,
		"conversation_id", msg.ConversationID,
		"response_length", len(resp.Text),
	)
	return strings.TrimSpace(resp.Text), nil
}

// SystemPrompt returns the system prompt used for role.
func (a *LocalAgent) SystemPrompt(role string) string {
	role = strings.TrimSpace(role)
	if role == "" {
		return a.base
	}
	if p, ok := Personas[strings.ToLower(role)]; ok {
		return p.system(a.base)
	}
	return Persona{Title: role}.system(a.base)
}

var _ domain.LocalAgent = (*LocalAgent)(nil)
