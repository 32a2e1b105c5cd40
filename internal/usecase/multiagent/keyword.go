package multiagent

import (
	"context"
	"strings"
	"unicode"

	"agentlink/internal/domain"
)

// stopwords are dropped from queries before token overlap is computed.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "the": {}, "to": {}, "of": {}, "for": {}, "in": {},
	"on": {}, "is": {}, "it": {}, "me": {}, "my": {}, "i": {}, "you": {}, "please": {},
	"can": {}, "what": {}, "with": {}, "how": {}, "do": {}, "be": {}, "this": {}, "that": {},
}

// KeywordRanker scores candidates by token overlap between the query and the
// agent's name and description. A query found verbatim in the description or
// label scores 1.0.
type KeywordRanker struct{}

// NewKeywordRanker creates a KeywordRanker.
func NewKeywordRanker() *KeywordRanker { return &KeywordRanker{} }

func (KeywordRanker) Rank(_ context.Context, query string, candidates []domain.AgentRecord) ([]domain.ScoredAgent, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	qTokens := tokenize(q)

	out := make([]domain.ScoredAgent, 0, len(candidates))
	for _, c := range candidates {
		desc := strings.ToLower(c.Description)
		label := strings.ToLower(c.Label())
		if q != "" && (strings.Contains(desc, q) || strings.Contains(label, q)) {
			out = append(out, domain.ScoredAgent{Agent: c, Score: 1.0, Reason: "query matches description"})
			continue
		}
		if len(qTokens) == 0 {
			continue
		}
		have := make(map[string]struct{})
		for _, tok := range tokenize(label + " " + desc) {
			have[tok] = struct{}{}
		}
		hits := 0
		for _, tok := range qTokens {
			if _, ok := have[tok]; ok {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		out = append(out, domain.ScoredAgent{
			Agent:  c,
			Score:  float64(hits) / float64(len(qTokens)),
			Reason: "keyword overlap",
		})
	}
	return out, nil
}

// tokenize splits s on non-alphanumerics, drops stopwords and deduplicates.
func tokenize(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]struct{}, len(fields))
	out := fields[:0]
	for _, f := range fields {
		if _, skip := stopwords[f]; skip {
			continue
		}
		f = stem(f)
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

// stem strips a plural "s" so "emails" matches "email".
func stem(w string) string {
	if len(w) > 3 && strings.HasSuffix(w, "s") && !strings.HasSuffix(w, "ss") {
		return w[:len(w)-1]
	}
	return w
}
