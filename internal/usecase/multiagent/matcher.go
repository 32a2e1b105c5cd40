package multiagent

import (
	"context"
	"fmt"
	"log/slog"

	"agentlink/internal/domain"
)

// Matcher picks the single best candidate for a query using a Ranker.
// It never mutates the registry and never forwards.
type Matcher struct {
	ranker domain.Ranker
	logger *slog.Logger
}

// NewMatcher creates a Matcher over ranker.
func NewMatcher(ranker domain.Ranker, logger *slog.Logger) *Matcher {
	if logger == nil {
		logger = discardLogger()
	}
	return &Matcher{ranker: ranker, logger: logger}
}

// Select returns the highest-scoring candidate. Ties go to the most recently
// seen record, then to the lexically smallest id. Scores for agents not in
// candidates are ignored.
func (m *Matcher) Select(ctx context.Context, query string, candidates []domain.AgentRecord) (domain.AgentRecord, error) {
	if len(candidates) == 0 {
		return domain.AgentRecord{}, domain.NewDomainError("Matcher.Select", domain.ErrNoSuitableAgent, "no candidates")
	}

	scored, err := m.ranker.Rank(ctx, query, candidates)
	if err != nil {
		return domain.AgentRecord{}, fmt.Errorf("matcher: rank: %w", err)
	}

	byID := make(map[string]domain.AgentRecord, len(candidates))
	for _, c := range candidates {
		byID[c.ID] = c
	}

	var (
		best  domain.AgentRecord
		score float64
		found bool
	)
	for _, s := range scored {
		rec, ok := byID[s.Agent.ID]
		if !ok || s.Score <= 0 {
			continue
		}
		if !found || better(rec, s.Score, best, score) {
			best, score, found = rec, s.Score, true
		}
	}
	if !found {
		m.logger.Debug("ranker abstained", "query_len", len(query), "candidates", len(candidates))
		return domain.AgentRecord{}, domain.NewDomainError("Matcher.Select", domain.ErrNoSuitableAgent, "no candidate scored above zero")
	}
	m.logger.Debug("agent selected", "agent_id", best.ID, "score", score)
	return best, nil
}

func better(a domain.AgentRecord, as float64, b domain.AgentRecord, bs float64) bool {
	if as != bs {
		return as > bs
	}
	if !a.LastSeen.Equal(b.LastSeen) {
		return a.LastSeen.After(b.LastSeen)
	}
	return a.ID < b.ID
}

// FallbackRanker consults primary and, when it errors, secondary.
type FallbackRanker struct {
	primary   domain.Ranker
	secondary domain.Ranker
	logger    *slog.Logger
}

// NewFallbackRanker creates a FallbackRanker.
func NewFallbackRanker(primary, secondary domain.Ranker, logger *slog.Logger) *FallbackRanker {
	if logger == nil {
		logger = discardLogger()
	}
	return &FallbackRanker{primary: primary, secondary: secondary, logger: logger}
}

func (f *FallbackRanker) Rank(ctx context.Context, query string, candidates []domain.AgentRecord) ([]domain.ScoredAgent, error) {
	scored, err := f.primary.Rank(ctx, query, candidates)
	if err == nil {
		return scored, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}
	f.logger.Warn("primary ranker failed, using fallback", "error", err)
	return f.secondary.Rank(ctx, query, candidates)
}
