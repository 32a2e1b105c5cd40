package domain

import "context"

// LocalAgent answers messages in-process. Its reasoning is out of scope for
// the router; role selects a persona for coordination participants.
type LocalAgent interface {
	Invoke(ctx context.Context, role string, msg Message) (string, error)
}

// RemoteCaller forwards a message to a remote agent and returns its reply text.
type RemoteCaller interface {
	Call(ctx context.Context, agent AgentRecord, msg Message) (string, error)
}

// Ranker scores candidate agents against a free-text query.
// An empty result (or no positive score) means the ranker abstained.
type Ranker interface {
	Rank(ctx context.Context, query string, candidates []AgentRecord) ([]ScoredAgent, error)
}

// Directory is one upstream listing of remote agents.
type Directory interface {
	// Fetch returns the current listing. Any error fails the whole refresh.
	Fetch(ctx context.Context) ([]AgentRecord, error)
	// Name identifies the directory in logs.
	Name() string
}

// CompletionRequest is a single-turn prompt sent to an LLM backend.
type CompletionRequest struct {
	Model       string  `json:"model,omitempty"`
	System      string  `json:"system,omitempty"`
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

// CompletionResponse is the text returned by an LLM backend.
type CompletionResponse struct {
	Model string `json:"model"`
	Text  string `json:"text"`
	Usage Usage  `json:"usage"`
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// LLMProvider is the interface for any LLM backend.
type LLMProvider interface {
	// Complete sends a prompt and returns the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	// Name returns the provider's identifier (e.g., "openai", "anthropic").
	Name() string
}
