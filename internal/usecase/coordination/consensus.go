package coordination

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"agentlink/internal/domain"
)

// consensus asks every participant the same task concurrently and tallies
// the normalized answers.
func (e *Engine) consensus(ctx context.Context, st *runState, req Request) error {
	calls := make([]call, len(req.Participants))
	for i, p := range req.Participants {
		calls[i] = call{
			name:   fmt.Sprintf("answer_%d", i+1),
			ref:    roleOr(p, "voter"),
			prompt: consensusPrompt(req.Task),
		}
	}
	outs, err := st.parallel(ctx, calls)
	if err != nil {
		return err
	}

	result := Tally(outs)
	st.mu.Lock()
	st.run.Consensus = &result
	st.mu.Unlock()
	if result.Tag != domain.ConsensusNone {
		st.setFinal(result.Answer)
	}
	e.logger.Debug("consensus tallied", "run_id", st.run.ID, "tag", result.Tag, "distinct", len(result.Counts))
	return nil
}

// Normalize lowercases s, collapses whitespace runs to one space and trims it.
func Normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Tally groups answers by their normalized form. A group holding more than
// half of the answers wins: unanimous when it holds all of them, majority
// otherwise. Counts lists every distinct answer (first-seen spelling) by
// count descending, then by first appearance.
func Tally(answers []string) domain.ConsensusResult {
	type group struct {
		first string
		count int
		order int
	}
	groups := make(map[string]*group)
	var ordered []*group
	for _, a := range answers {
		key := Normalize(a)
		g, ok := groups[key]
		if !ok {
			g = &group{first: strings.TrimSpace(a), order: len(ordered)}
			groups[key] = g
			ordered = append(ordered, g)
		}
		g.count++
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].count != ordered[j].count {
			return ordered[i].count > ordered[j].count
		}
		return ordered[i].order < ordered[j].order
	})

	res := domain.ConsensusResult{Tag: domain.ConsensusNone, Counts: make([]domain.AnswerCount, 0, len(ordered))}
	for _, g := range ordered {
		res.Counts = append(res.Counts, domain.AnswerCount{Answer: g.first, Count: g.count})
	}
	n := len(answers)
	if len(ordered) > 0 && ordered[0].count*2 > n {
		res.Answer = ordered[0].first
		res.Tag = domain.ConsensusMajority
		if ordered[0].count == n {
			res.Tag = domain.ConsensusUnanimous
		}
	}
	return res
}
