// Package coordination runs multi-agent protocols (debate, consensus,
// hierarchical) over local and remote participants.
package coordination

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"agentlink/internal/domain"
	"agentlink/internal/infra/tracer"
)

// Invoker sends one prompt to one participant. The Router satisfies it.
type Invoker interface {
	Invoke(ctx context.Context, ref domain.AgentRef, text, conversationID string) (string, error)
}

// RunRecorder observes finished runs (metrics).
type RunRecorder interface {
	RecordRun(ctx context.Context, run *domain.ProtocolRun)
}

// Options tune a protocol run.
type Options struct {
	// Rounds is the number of debate rebuttal rounds after the openings.
	Rounds int `json:"rounds,omitempty"`
}

// Request starts one protocol run.
type Request struct {
	Protocol       domain.Protocol
	Task           string
	Participants   []domain.AgentRef
	ConversationID string
	Options        Options
}

// Engine executes coordination protocols. Participant errors abort the run;
// nothing is retried.
type Engine struct {
	invoker     Invoker
	audit       domain.AuditLogger
	recorder    RunRecorder
	stepTimeout time.Duration
	maxRounds   int
	logger      *slog.Logger
	now         func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithStepTimeout bounds every participant invocation.
func WithStepTimeout(d time.Duration) EngineOption {
	return func(e *Engine) { e.stepTimeout = d }
}

// WithMaxRounds caps debate rebuttal rounds.
func WithMaxRounds(n int) EngineOption {
	return func(e *Engine) { e.maxRounds = n }
}

// WithRunRecorder attaches a metrics observer.
func WithRunRecorder(rec RunRecorder) EngineOption {
	return func(e *Engine) { e.recorder = rec }
}

// NewEngine creates an Engine. audit may be nil.
func NewEngine(invoker Invoker, audit domain.AuditLogger, logger *slog.Logger, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	e := &Engine{
		invoker:   invoker,
		audit:     audit,
		maxRounds: 5,
		logger:    logger,
		now:       time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Run executes req and returns the sealed run. On failure the run is still
// returned with its partial steps and Err set.
func (e *Engine) Run(ctx context.Context, req Request) (*domain.ProtocolRun, error) {
	if err := e.validate(req); err != nil {
		return nil, err
	}
	if req.ConversationID == "" {
		req.ConversationID = uuid.NewString()
	}

	ctx, span := tracer.StartSpan(ctx, "coordination."+string(req.Protocol))
	defer span.End()

	start := e.now()
	run := &domain.ProtocolRun{
		ID:             domain.NewID(start),
		Protocol:       req.Protocol,
		Task:           req.Task,
		ConversationID: req.ConversationID,
		Participants:   append([]domain.AgentRef(nil), req.Participants...),
		StartedAt:      start,
	}
	span.SetAttributes(
		tracer.StringAttr("run.id", run.ID),
		tracer.IntAttr("run.participants", len(run.Participants)),
	)
	st := &runState{engine: e, run: run, runDone: ctx.Done()}

	var err error
	switch req.Protocol {
	case domain.ProtocolDebate:
		err = e.debate(ctx, st, req)
	case domain.ProtocolConsensus:
		err = e.consensus(ctx, st, req)
	case domain.ProtocolHierarchical:
		err = e.hierarchical(ctx, st, req)
	}

	st.seal(err)
	span.SetAttributes(
		tracer.IntAttr("run.steps", len(run.Steps)),
		tracer.DurationAttr("run.duration_ms", run.SealedAt.Sub(run.StartedAt)),
	)
	if e.recorder != nil {
		e.recorder.RecordRun(ctx, run)
	}
	if err != nil {
		tracer.RecordError(span, err)
		e.logger.Warn("protocol run failed", "run_id", run.ID, "protocol", run.Protocol, "steps", len(run.Steps), "error", err)
		return run, fmt.Errorf("%w: %w", domain.ErrProtocolFailed, err)
	}
	tracer.SetOK(span)
	e.logger.Info("protocol run completed", "run_id", run.ID, "protocol", run.Protocol, "steps", len(run.Steps), "duration", run.SealedAt.Sub(run.StartedAt))
	return run, nil
}

func (e *Engine) validate(req Request) error {
	invalid := func(detail string) error {
		return domain.NewSubSystemError("coordination", "Engine.Run", domain.ErrInvalidInput, detail)
	}
	if !req.Protocol.Valid() {
		return invalid(fmt.Sprintf("unknown protocol %q", req.Protocol))
	}
	if strings.TrimSpace(req.Task) == "" {
		return invalid("task is required")
	}
	n := len(req.Participants)
	switch req.Protocol {
	case domain.ProtocolDebate:
		if n != 3 {
			return invalid(fmt.Sprintf("debate needs exactly 3 participants (proponent, opponent, judge), got %d", n))
		}
		if req.Options.Rounds < 0 || req.Options.Rounds > e.maxRounds {
			return invalid(fmt.Sprintf("rounds must be between 0 and %d", e.maxRounds))
		}
	case domain.ProtocolConsensus:
		if n < 1 {
			return invalid("consensus needs at least 1 participant")
		}
	case domain.ProtocolHierarchical:
		if n < 2 {
			return invalid(fmt.Sprintf("hierarchical needs a manager and at least 1 worker, got %d", n))
		}
	}
	return nil
}

// call is one planned participant invocation.
type call struct {
	name   string
	ref    domain.AgentRef
	prompt string
}

// runState guards the run while concurrent steps complete.
type runState struct {
	engine  *Engine
	mu      sync.Mutex
	run     *domain.ProtocolRun
	runDone <-chan struct{}
	aborted bool
}

func (s *runState) cancelled() bool {
	select {
	case <-s.runDone:
		return true
	default:
		return false
	}
}

// invoke runs c and records its step. Results arriving after the run aborted
// or was sealed are discarded.
func (s *runState) invoke(ctx context.Context, c call) (string, error) {
	e := s.engine
	sctx := ctx
	if e.stepTimeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(ctx, e.stepTimeout)
		defer cancel()
	}

	started := e.now()
	out, err := e.invoker.Invoke(sctx, c.ref, c.prompt, s.run.ConversationID)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, domain.ErrTimeout) {
		err = domain.NewDomainError("Engine.Step", domain.ErrTimeout, c.name)
	}
	step := domain.StepResult{
		Name:        c.name,
		Participant: c.ref,
		Output:      out,
		Err:         err,
		StartedAt:   started,
		FinishedAt:  e.now(),
	}

	s.mu.Lock()
	if s.aborted || s.run.Sealed() || s.cancelled() {
		s.mu.Unlock()
		return out, err
	}
	step.Index = len(s.run.Steps)
	s.run.Steps = append(s.run.Steps, step)
	if err != nil {
		s.aborted = true
	}
	s.mu.Unlock()

	if e.audit != nil {
		if aerr := e.audit.Log(context.WithoutCancel(ctx), step.AuditEvent(s.run.ID, s.run.Protocol, s.run.ConversationID)); aerr != nil {
			e.logger.Warn("audit write failed", "run_id", s.run.ID, "step", c.name, "error", aerr)
		}
	}
	if err != nil {
		return out, fmt.Errorf("step %s (%s): %w", c.name, c.ref, err)
	}
	return out, nil
}

// parallel runs calls concurrently and returns at the first error or when
// ctx is cancelled. Steps run on a context that ignores cancellation, so
// in-flight calls finish on their own (bounded by the step timeout) and
// results arriving after the abort are discarded.
func (s *runState) parallel(ctx context.Context, calls []call) ([]string, error) {
	outs := make([]string, len(calls))
	sctx := context.WithoutCancel(ctx)
	failed := make(chan error, len(calls))
	var g errgroup.Group
	for i, c := range calls {
		g.Go(func() error {
			out, err := s.invoke(sctx, c)
			if err != nil {
				failed <- err
				return err
			}
			outs[i] = out
			return nil
		})
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()
	select {
	case err := <-done:
		if err != nil {
			return nil, err
		}
		return outs, nil
	case err := <-failed:
		return nil, err
	case <-ctx.Done():
		s.abort()
		return nil, ctx.Err()
	}
}

func (s *runState) abort() {
	s.mu.Lock()
	s.aborted = true
	s.mu.Unlock()
}

func (s *runState) setFinal(output string) {
	s.mu.Lock()
	s.run.FinalOutput = output
	s.mu.Unlock()
}

func (s *runState) seal(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.run.Err = err
	s.run.SealedAt = s.engine.now()
}

// roleOr returns the participant's role, or def when none was given.
func roleOr(ref domain.AgentRef, def string) domain.AgentRef {
	if ref.Role == "" {
		ref.Role = def
	}
	return ref
}
