package llm

import (
	"context"
	"sync"

	"agentlink/internal/domain"
)

// fakeProvider records requests and answers from a script.
type fakeProvider struct {
	mu    sync.Mutex
	reqs  []domain.CompletionRequest
	reply string
	err   error
	calls int
}

func (f *fakeProvider) Complete(_ context.Context, req domain.CompletionRequest) (*domain.CompletionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	return &domain.CompletionResponse{Model: "fake", Text: f.reply}, nil
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) last() domain.CompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reqs[len(f.reqs)-1]
}

// wordCounter counts whitespace-separated words.
type wordCounter struct{}

func (wordCounter) Count(text string) int {
	n, in := 0, false
	for _, r := range text {
		space := r == ' ' || r == '\n' || r == '\t'
		if !space && !in {
			n++
		}
		in = !space
	}
	return n
}
