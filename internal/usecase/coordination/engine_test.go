package coordination

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"

	"agentlink/internal/domain"
	"agentlink/internal/infra/tracer"
)

// scriptInvoker answers by participant role (falling back to id).
type scriptInvoker struct {
	mu      sync.Mutex
	answers map[string]string
	errs    map[string]error
	delays  map[string]time.Duration
	prompts map[string][]string
	order   []string
	active  int
	maxPar  int
	torn    int // calls that saw their context cancelled
}

func newScript() *scriptInvoker {
	return &scriptInvoker{
		answers: map[string]string{},
		errs:    map[string]error{},
		delays:  map[string]time.Duration{},
		prompts: map[string][]string{},
	}
}

func key(ref domain.AgentRef) string {
	if ref.Role != "" {
		return ref.Role
	}
	return ref.ID
}

func (s *scriptInvoker) Invoke(ctx context.Context, ref domain.AgentRef, text, _ string) (string, error) {
	k := key(ref)
	s.mu.Lock()
	s.prompts[k] = append(s.prompts[k], text)
	s.active++
	if s.active > s.maxPar {
		s.maxPar = s.active
	}
	delay, err, answer := s.delays[k], s.errs[k], s.answers[k]
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.active--
		s.order = append(s.order, k)
		s.mu.Unlock()
	}()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			s.mu.Lock()
			s.torn++
			s.mu.Unlock()
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	if answer == "" {
		answer = k + " output"
	}
	return answer, nil
}

type memAudit struct {
	mu              sync.Mutex
	events          []domain.AuditEvent
	ctxCheck        bool
	cancelledWrites int
}

func (m *memAudit) Log(ctx context.Context, ev domain.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctxCheck && ctx.Err() != nil {
		m.cancelledWrites++
		return ctx.Err()
	}
	m.events = append(m.events, ev)
	return nil
}
func (m *memAudit) Close() error { return nil }

func refs(specs ...string) []domain.AgentRef {
	out := make([]domain.AgentRef, len(specs))
	for i, s := range specs {
		out[i] = domain.ParseAgentRef(s)
	}
	return out
}

func TestRunValidation(t *testing.T) {
	e := NewEngine(newScript(), nil, nil)
	tests := []Request{
		{Protocol: "chess", Task: "x", Participants: refs("a")},
		{Protocol: domain.ProtocolDebate, Task: "", Participants: refs("a", "b", "c")},
		{Protocol: domain.ProtocolDebate, Task: "x", Participants: refs("a", "b")},
		{Protocol: domain.ProtocolDebate, Task: "x", Participants: refs("a", "b", "c"), Options: Options{Rounds: 99}},
		{Protocol: domain.ProtocolConsensus, Task: "x"},
		{Protocol: domain.ProtocolHierarchical, Task: "x", Participants: refs("m")},
	}
	for _, req := range tests {
		run, err := e.Run(context.Background(), req)
		assert.ErrorIs(t, err, domain.ErrInvalidInput, "req %+v", req)
		assert.Equal(t, domain.CodeProtocolInvalid, domain.ErrorCodeOf(err))
		assert.Nil(t, run)
	}
}

func TestDebateJudgeAfterArguments(t *testing.T) {
	inv := newScript()
	inv.answers["judge"] = "The FOR side wins."
	inv.delays["advocate"] = 30 * time.Millisecond
	inv.delays["opponent"] = 30 * time.Millisecond
	audit := &memAudit{}
	e := NewEngine(inv, audit, nil)

	run, err := e.Run(context.Background(), Request{
		Protocol:     domain.ProtocolDebate,
		Task:         "Remote work is better",
		Participants: refs("local:advocate", "local:opponent", "local:judge"),
		Options:      Options{Rounds: 1},
	})
	require.NoError(t, err)

	assert.Equal(t, "The FOR side wins.", run.FinalOutput)
	assert.True(t, run.Sealed())
	require.Len(t, run.Steps, 5)
	last := run.Steps[len(run.Steps)-1]
	assert.Equal(t, "verdict", last.Name)
	for _, s := range run.Steps[:4] {
		assert.False(t, s.FinishedAt.After(last.StartedAt), "judge started before %s finished", s.Name)
	}
	assert.Equal(t, "judge", inv.order[len(inv.order)-1])
	assert.Equal(t, 2, inv.maxPar, "openings and rebuttals run pairwise")

	verdictPrompt := inv.prompts["judge"][0]
	assert.Contains(t, verdictPrompt, "advocate output")
	assert.Contains(t, verdictPrompt, "opponent output")
	assert.Contains(t, verdictPrompt, "Rebuttal FOR (round 1)")

	// Each rebuttal sees the other side's argument.
	assert.Contains(t, inv.prompts["advocate"][1], "opponent output")
	assert.Contains(t, inv.prompts["opponent"][1], "advocate output")

	assert.Len(t, audit.events, 5)
	for _, ev := range audit.events {
		assert.Equal(t, domain.AuditStep, ev.Kind)
		assert.Equal(t, run.ID, ev.Fields["run_id"])
	}
}

func TestDebateDefaultRoles(t *testing.T) {
	inv := newScript()
	e := NewEngine(inv, nil, nil)
	run, err := e.Run(context.Background(), Request{
		Protocol:     domain.ProtocolDebate,
		Task:         "t",
		Participants: refs("local", "local", "local"),
	})
	require.NoError(t, err)
	assert.Len(t, run.Steps, 3)
	assert.Equal(t, "judge output", run.FinalOutput)
}

func TestDebateOpeningFailureAborts(t *testing.T) {
	inv := newScript()
	inv.errs["opponent"] = errors.New("opponent crashed")
	inv.delays["advocate"] = time.Second
	e := NewEngine(inv, nil, nil)

	start := time.Now()
	run, err := e.Run(context.Background(), Request{
		Protocol:     domain.ProtocolDebate,
		Task:         "t",
		Participants: refs("local:advocate", "local:opponent", "local:judge"),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrProtocolFailed)
	assert.Less(t, time.Since(start), 900*time.Millisecond, "returns at the first failure")

	require.NotNil(t, run)
	assert.NotNil(t, run.Err)
	assert.Empty(t, run.FinalOutput)
	require.Len(t, run.Steps, 1)
	assert.Equal(t, "opening_against", run.Steps[0].Name)
	assert.True(t, run.Steps[0].Failed())
	assert.Empty(t, inv.prompts["judge"])
}

func TestConsensusUnanimous(t *testing.T) {
	inv := newScript()
	inv.answers["a"] = "Paris"
	inv.answers["b"] = "paris"
	inv.answers["c"] = "  PARIS "
	e := NewEngine(inv, nil, nil)

	run, err := e.Run(context.Background(), Request{
		Protocol:     domain.ProtocolConsensus,
		Task:         "Capital of France?",
		Participants: refs("local:a", "local:b", "local:c"),
	})
	require.NoError(t, err)
	require.NotNil(t, run.Consensus)
	assert.Equal(t, domain.ConsensusUnanimous, run.Consensus.Tag)
	assert.Equal(t, "Paris", run.FinalOutput)
	assert.Equal(t, []domain.AnswerCount{{Answer: "Paris", Count: 3}}, run.Consensus.Counts)
	assert.Len(t, run.Steps, 3)
}

func TestRunSpanCarriesDuration(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(tracer.NewProvider(sdktrace.WithSpanProcessor(rec)))
	t.Cleanup(func() { otel.SetTracerProvider(noop.NewTracerProvider()) })

	inv := newScript()
	inv.answers["a"] = "yes"
	inv.answers["b"] = "yes"
	_, err := NewEngine(inv, nil, nil).Run(context.Background(), Request{
		Protocol:     domain.ProtocolConsensus,
		Task:         "Ship it?",
		Participants: refs("local:a", "local:b"),
	})
	require.NoError(t, err)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "coordination.consensus", spans[0].Name())
	attrs := map[string]int64{}
	for _, kv := range spans[0].Attributes() {
		if kv.Value.Type() == attribute.INT64 {
			attrs[string(kv.Key)] = kv.Value.AsInt64()
		}
	}
	assert.Equal(t, int64(2), attrs["run.steps"])
	assert.Contains(t, attrs, "run.duration_ms")
	assert.GreaterOrEqual(t, attrs["run.duration_ms"], int64(0))
}

func TestConsensusMajority(t *testing.T) {
	inv := newScript()
	inv.answers["a"] = "Paris"
	inv.answers["b"] = "Lyon"
	inv.answers["c"] = "paris"
	e := NewEngine(inv, nil, nil)

	run, err := e.Run(context.Background(), Request{
		Protocol:     domain.ProtocolConsensus,
		Task:         "Capital of France?",
		Participants: refs("local:a", "local:b", "local:c"),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ConsensusMajority, run.Consensus.Tag)
	assert.Equal(t, "Paris", run.Consensus.Answer)
	assert.Equal(t, 2, run.Consensus.Counts[0].Count)
}

func TestConsensusFailureAborts(t *testing.T) {
	inv := newScript()
	inv.errs["b"] = &domain.RemoteError{Status: 500}
	inv.delays["a"] = time.Second
	e := NewEngine(inv, nil, nil)

	run, err := e.Run(context.Background(), Request{
		Protocol:     domain.ProtocolConsensus,
		Task:         "q",
		Participants: refs("local:a", "local:b"),
	})
	require.ErrorIs(t, err, domain.ErrRemote)
	assert.Nil(t, run.Consensus)
	assert.Len(t, run.Steps, 1)
}

func TestTally(t *testing.T) {
	tests := []struct {
		name    string
		answers []string
		tag     domain.ConsensusTag
		answer  string
		counts  []domain.AnswerCount
	}{
		{"single", []string{"yes"}, domain.ConsensusUnanimous, "yes", []domain.AnswerCount{{Answer: "yes", Count: 1}}},
		{"all distinct", []string{"a", "b", "c"}, domain.ConsensusNone, "", []domain.AnswerCount{{Answer: "a", Count: 1}, {Answer: "b", Count: 1}, {Answer: "c", Count: 1}}},
		{"even split", []string{"x", "y", "Y", "X"}, domain.ConsensusNone, "", []domain.AnswerCount{{Answer: "x", Count: 2}, {Answer: "y", Count: 2}}},
		{"order by count", []string{"b", "a", "a"}, domain.ConsensusMajority, "a", []domain.AnswerCount{{Answer: "a", Count: 2}, {Answer: "b", Count: 1}}},
		{"whitespace", []string{"New  York", "new york\n"}, domain.ConsensusUnanimous, "New  York", []domain.AnswerCount{{Answer: "New  York", Count: 2}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Tally(tt.answers)
			assert.Equal(t, tt.tag, got.Tag)
			assert.Equal(t, tt.answer, got.Answer)
			assert.Equal(t, tt.counts, got.Counts)
		})
	}
}

func TestConsensusNoneHasEmptyOutput(t *testing.T) {
	inv := newScript()
	inv.answers["a"] = "red"
	inv.answers["b"] = "blue"
	e := NewEngine(inv, nil, nil)
	run, err := e.Run(context.Background(), Request{
		Protocol:     domain.ProtocolConsensus,
		Task:         "favourite colour",
		Participants: refs("local:a", "local:b"),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ConsensusNone, run.Consensus.Tag)
	assert.Empty(t, run.FinalOutput)
	assert.Len(t, run.Consensus.Counts, 2)
}

func TestHierarchicalWithPlan(t *testing.T) {
	inv := newScript()
	inv.answers["manager"] = "```json\n{\"subtasks\":[{\"worker\":\"researcher\",\"task\":\"find facts\"},{\"worker\":\"writer\",\"task\":\"write it up\"}]}\n```"
	e := NewEngine(inv, nil, nil)

	run, err := e.Run(context.Background(), Request{
		Protocol:     domain.ProtocolHierarchical,
		Task:         "Explain ML",
		Participants: refs("local:manager", "local:researcher", "local:writer"),
	})
	require.NoError(t, err)

	names := make([]string, len(run.Steps))
	for i, s := range run.Steps {
		names[i] = s.Name
	}
	assert.Equal(t, []string{"plan", "work_1_researcher", "work_2_writer", "synthesis"}, names)
	assert.Equal(t, []string{"manager", "researcher", "writer", "manager"}, inv.order)

	assert.Contains(t, inv.prompts["researcher"][0], "find facts")
	writerPrompt := inv.prompts["writer"][0]
	assert.Contains(t, writerPrompt, "write it up")
	assert.Contains(t, writerPrompt, "researcher output", "workers see prior outputs")
	assert.Contains(t, inv.prompts["manager"][1], "researcher output")
}

func TestHierarchicalFallbackPlan(t *testing.T) {
	inv := newScript()
	inv.answers["manager"] = "First research, then analyse."
	e := NewEngine(inv, nil, nil)

	run, err := e.Run(context.Background(), Request{
		Protocol:     domain.ProtocolHierarchical,
		Task:         "Explain ML",
		Participants: refs("local", "local"),
	})
	require.NoError(t, err)
	p := inv.prompts["researcher"][0]
	assert.Contains(t, p, "Your assignment:\nExplain ML")
	assert.Contains(t, p, "First research, then analyse.")
	assert.Equal(t, "First research, then analyse.", run.FinalOutput, "manager answer reused for synthesis")
}

func TestHierarchicalManagerFailure(t *testing.T) {
	inv := newScript()
	inv.errs["manager"] = errors.New("down")
	e := NewEngine(inv, nil, nil)
	run, err := e.Run(context.Background(), Request{
		Protocol:     domain.ProtocolHierarchical,
		Task:         "t",
		Participants: refs("local:manager", "local:researcher"),
	})
	require.Error(t, err)
	require.Len(t, run.Steps, 1)
	assert.Empty(t, inv.prompts["researcher"])
}

func TestStepTimeout(t *testing.T) {
	inv := newScript()
	inv.delays["a"] = time.Second
	e := NewEngine(inv, nil, nil, WithStepTimeout(20*time.Millisecond))
	_, err := e.Run(context.Background(), Request{
		Protocol:     domain.ProtocolConsensus,
		Task:         "q",
		Participants: refs("local:a"),
	})
	require.ErrorIs(t, err, domain.ErrTimeout)
}

func TestCancellationDiscardsInFlight(t *testing.T) {
	inv := newScript()
	inv.delays["a"] = 100 * time.Millisecond
	inv.delays["b"] = 100 * time.Millisecond
	audit := &memAudit{}
	e := NewEngine(inv, audit, nil)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	start := time.Now()
	run, err := e.Run(ctx, Request{
		Protocol:     domain.ProtocolConsensus,
		Task:         "q",
		Participants: refs("local:a", "local:b"),
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 90*time.Millisecond, "run returns on cancellation")
	assert.True(t, run.Sealed())

	// Both calls run to completion instead of being torn down.
	require.Eventually(t, func() bool {
		inv.mu.Lock()
		defer inv.mu.Unlock()
		return len(inv.order) == 2
	}, 2*time.Second, 10*time.Millisecond)
	inv.mu.Lock()
	assert.Zero(t, inv.torn, "in-flight steps must not see a cancelled context")
	inv.mu.Unlock()
	assert.Empty(t, run.Steps, "late results are discarded")
	audit.mu.Lock()
	assert.Empty(t, audit.events)
	audit.mu.Unlock()
}

func TestFailedStepLeavesSiblingRunning(t *testing.T) {
	inv := newScript()
	inv.errs["b"] = errors.New("b crashed")
	inv.delays["a"] = 50 * time.Millisecond
	e := NewEngine(inv, nil, nil)

	run, err := e.Run(context.Background(), Request{
		Protocol:     domain.ProtocolConsensus,
		Task:         "q",
		Participants: refs("local:a", "local:b"),
	})
	require.Error(t, err)
	require.Eventually(t, func() bool {
		inv.mu.Lock()
		defer inv.mu.Unlock()
		return len(inv.order) == 2
	}, 2*time.Second, 10*time.Millisecond)
	inv.mu.Lock()
	assert.Zero(t, inv.torn)
	inv.mu.Unlock()
	require.Len(t, run.Steps, 1)
	assert.Equal(t, "b", run.Steps[0].Participant.Role)
}

func TestStepAuditOutlivesCancellation(t *testing.T) {
	audit := &memAudit{}
	st := &runState{
		engine:  NewEngine(newScript(), audit, nil),
		run:     &domain.ProtocolRun{ID: "r", Protocol: domain.ProtocolConsensus},
		runDone: make(chan struct{}),
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	audit.ctxCheck = true

	// The invoker ignores ctx; the step still lands with a live audit context.
	_, err := st.invoke(ctx, call{name: "answer_1", ref: domain.AgentRef{ID: "local", Role: "a"}, prompt: "q"})
	require.NoError(t, err)
	require.Len(t, audit.events, 1)
	assert.Equal(t, domain.AuditStep, audit.events[0].Kind)
	assert.Zero(t, audit.cancelledWrites)
}

func TestParsePlan(t *testing.T) {
	_, ok := ParsePlan(`{"subtasks": []}`)
	assert.False(t, ok, "empty plan rejected")
	p, ok := ParsePlan(`{"subtasks": [{"task": "do it"}]}`)
	require.True(t, ok)
	assert.Equal(t, "do it", p.Subtasks[0].Task)
	assert.Equal(t, []string{"do it", "whole"}, assignments("whole", p, ok, 2))
	assert.True(t, strings.HasPrefix(stepSlug("Data Analyst"), "data_analyst"))
}
