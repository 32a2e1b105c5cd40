package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"agentlink/internal/domain"
	"agentlink/internal/infra/tracer"
	"agentlink/internal/usecase/multiagent"
)

// DefaultForwardTimeout bounds a single remote forward.
const DefaultForwardTimeout = 30 * time.Second

// NoTargetHint is returned to clients that call the strict endpoint without a mention.
const NoTargetHint = "Mention a target agent with @agent-id, e.g. '@weather-agent what is the forecast?'. Use /query for questions to this agent."

// Endpoint selects how a message without a mention is handled.
type Endpoint int

const (
	// EndpointStrict rejects messages that do not mention a target agent.
	EndpointStrict Endpoint = iota
	// EndpointGeneral answers unmentioned messages with the local agent.
	EndpointGeneral
)

func (e Endpoint) String() string {
	if e == EndpointStrict {
		return "strict"
	}
	return "general"
}

// AgentDirectory is the registry view the router reads from.
type AgentDirectory interface {
	Lookup(id string) (domain.AgentRecord, error)
	Candidates() []domain.AgentRecord
	Len() int
}

// Selector picks one agent for a free-text query.
type Selector interface {
	Select(ctx context.Context, query string, candidates []domain.AgentRecord) (domain.AgentRecord, error)
}

// DecisionRecorder observes every routing decision (metrics).
type DecisionRecorder interface {
	RecordDecision(ctx context.Context, d domain.RoutingDecision)
}

// RouteRequest is one inbound message.
type RouteRequest struct {
	Message  domain.Message
	Endpoint Endpoint
}

// RouteResult is the reply to an inbound message.
type RouteResult struct {
	Reply          string
	RawReply       string
	AgentID        string // empty when answered locally
	ConversationID string
	Decision       domain.RoutingDecision
	ProcessingTime time.Duration
}

// SearchRequest asks the router to pick and call the best agent for a query.
type SearchRequest struct {
	Query          string
	ConversationID string
	UserID         string
}

// SearchResult is the selected agent and its reply.
type SearchResult struct {
	Agent          domain.AgentRecord
	Reply          string
	ConversationID string
	Decision       domain.RoutingDecision
	ProcessingTime time.Duration
}

// Router dispatches inbound messages to the local agent, to a mentioned
// remote agent, or to the agent the selector ranks highest. Exactly one
// RoutingDecision is written per routing attempt. Nothing is retried.
type Router struct {
	local          domain.LocalAgent
	remote         domain.RemoteCaller
	agents         AgentDirectory
	selector       Selector
	audit          domain.AuditLogger
	recorder       DecisionRecorder
	forwardTimeout time.Duration
	logger         *slog.Logger
	now            func() time.Time
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithForwardTimeout bounds each remote forward.
func WithForwardTimeout(d time.Duration) RouterOption {
	return func(r *Router) {
		if d > 0 {
			r.forwardTimeout = d
		}
	}
}

// WithSelector enables Search.
func WithSelector(s Selector) RouterOption {
	return func(r *Router) { r.selector = s }
}

// WithDecisionRecorder attaches a metrics observer.
func WithDecisionRecorder(rec DecisionRecorder) RouterOption {
	return func(r *Router) { r.recorder = rec }
}

// WithRouterClock overrides the time source (tests).
func WithRouterClock(now func() time.Time) RouterOption {
	return func(r *Router) { r.now = now }
}

// NewRouter creates a Router. audit may be nil to disable auditing.
func NewRouter(local domain.LocalAgent, remote domain.RemoteCaller, agents AgentDirectory, audit domain.AuditLogger, logger *slog.Logger, opts ...RouterOption) *Router {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	r := &Router{
		local:          local,
		remote:         remote,
		agents:         agents,
		audit:          audit,
		forwardTimeout: DefaultForwardTimeout,
		logger:         logger,
		now:            time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// routeTrace follows one message through the router state machine.
type routeTrace struct {
	id    string
	conv  string
	state domain.RouteState
	start time.Time
}

func (r *Router) newTrace(conv string) *routeTrace {
	now := r.now()
	return &routeTrace{id: domain.NewID(now), conv: conv, state: domain.StateReceived, start: now}
}

func (r *Router) move(t *routeTrace, to domain.RouteState) {
	if !domain.CanTransition(t.state, to) {
		r.logger.Error("illegal route transition", "decision_id", t.id, "from", t.state, "to", to)
	}
	r.logger.Debug("route transition", "decision_id", t.id, "from", t.state, "to", to)
	t.state = to
}

// Route handles one inbound message.
// With a leading @mention the cleaned text is forwarded to that agent.
// Without one, the strict endpoint fails with ErrNoTarget and the general
// endpoint answers with the local agent.
func (r *Router) Route(ctx context.Context, req RouteRequest) (*RouteResult, error) {
	msg := req.Message
	if msg.ConversationID == "" {
		msg.ConversationID = uuid.NewString()
	}
	if err := msg.Validate(); err != nil {
		r.reject(ctx, msg.ConversationID, req.Endpoint.String(), err)
		return nil, err
	}

	ctx, span := tracer.StartSpan(ctx, "router.route")
	defer span.End()
	span.SetAttributes(
		tracer.StringAttr("router.endpoint", req.Endpoint.String()),
		tracer.StringAttr("conversation.id", msg.ConversationID),
	)

	t := r.newTrace(msg.ConversationID)
	r.write(ctx, domain.AuditEvent{
		Timestamp:      t.start,
		Level:          domain.LevelInfo,
		Kind:           domain.AuditIncoming,
		ConversationID: msg.ConversationID,
		Message:        msg.Text(),
		Fields:         map[string]string{"endpoint": req.Endpoint.String()},
	})

	target, clean := multiagent.ParseMention(msg.Text())
	var (
		res *RouteResult
		err error
	)
	switch {
	case target != "":
		res, err = r.direct(ctx, t, domain.ModeDirect, target, msg.WithText(clean))
		if err == nil && req.Endpoint == EndpointStrict {
			res.Reply = fmt.Sprintf("[Forwarded to @%s]\n\n%s", target, res.RawReply)
		}
	case req.Endpoint == EndpointStrict:
		r.move(t, domain.StateError)
		err = domain.NewDomainError("Router.Route", domain.ErrNoTarget, NoTargetHint)
		r.finish(ctx, t, domain.ModeDirect, "", "", err)
	default:
		res, err = r.runLocal(ctx, t, "", msg)
	}
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	tracer.SetOK(span)
	return res, nil
}

// Search ranks the registry's described agents for query and forwards the
// query to the winner.
func (r *Router) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	conv := req.ConversationID
	if conv == "" {
		conv = uuid.NewString()
	}
	msg := domain.NewTextMessage(domain.RoleUser, req.Query, conv)
	if err := msg.Validate(); err != nil {
		r.reject(ctx, conv, "search", err)
		return nil, err
	}

	ctx, span := tracer.StartSpan(ctx, "router.search")
	defer span.End()
	span.SetAttributes(tracer.StringAttr("conversation.id", conv))

	t := r.newTrace(conv)
	fields := map[string]string{"endpoint": "search"}
	if req.UserID != "" {
		fields["user_id"] = req.UserID
	}
	r.write(ctx, domain.AuditEvent{
		Timestamp:      t.start,
		Level:          domain.LevelInfo,
		Kind:           domain.AuditIncoming,
		ConversationID: conv,
		Message:        req.Query,
		Fields:         fields,
	})
	r.move(t, domain.StateSearchRoute)

	selected, err := r.selectAgent(ctx, req.Query)
	if err != nil {
		r.move(t, domain.StateError)
		r.finish(ctx, t, domain.ModeSearch, "", "", err)
		tracer.RecordError(span, err)
		return nil, err
	}

	r.move(t, domain.StateDirectRoute)
	reply, d, err := r.forward(ctx, t, domain.ModeSearch, selected, msg)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	tracer.SetOK(span)
	return &SearchResult{
		Agent:          selected,
		Reply:          reply,
		ConversationID: conv,
		Decision:       d,
		ProcessingTime: d.Latency,
	}, nil
}

func (r *Router) selectAgent(ctx context.Context, query string) (domain.AgentRecord, error) {
	if r.agents.Len() == 0 {
		return domain.AgentRecord{}, domain.NewSubSystemError("registry", "Router.Search", domain.ErrNoSuitableAgent, "no agents available")
	}
	if r.selector == nil {
		return domain.AgentRecord{}, domain.NewDomainError("Router.Search", domain.ErrNoSuitableAgent, "no selector configured")
	}
	selected, err := r.selector.Select(ctx, query, r.agents.Candidates())
	if err != nil {
		if errors.Is(err, domain.ErrNoSuitableAgent) {
			return domain.AgentRecord{}, err
		}
		// Ranker outages keep their category so a timeout stays a timeout.
		return domain.AgentRecord{}, domain.WrapOp("Router.Search", err)
	}
	return selected, nil
}

// Invoke sends text to one protocol participant. A local ref runs the local
// agent with the ref's role; a remote ref is forwarded like a direct mention.
func (r *Router) Invoke(ctx context.Context, ref domain.AgentRef, text, conversationID string) (string, error) {
	msg := domain.NewTextMessage(domain.RoleUser, text, conversationID)
	t := r.newTrace(conversationID)
	if ref.IsLocal() {
		res, err := r.runLocal(ctx, t, ref.Role, msg)
		if err != nil {
			return "", err
		}
		return res.RawReply, nil
	}
	res, err := r.direct(ctx, t, domain.ModeDirect, ref.ID, msg)
	if err != nil {
		return "", err
	}
	return res.RawReply, nil
}

func (r *Router) direct(ctx context.Context, t *routeTrace, mode domain.RoutingMode, target string, msg domain.Message) (*RouteResult, error) {
	r.move(t, domain.StateDirectRoute)
	agent, err := r.agents.Lookup(target)
	if err != nil {
		r.move(t, domain.StateError)
		r.finish(ctx, t, mode, target, "", err)
		return nil, err
	}
	reply, d, err := r.forward(ctx, t, mode, agent, msg)
	if err != nil {
		return nil, err
	}
	return &RouteResult{
		Reply:          reply,
		RawReply:       reply,
		AgentID:        agent.ID,
		ConversationID: msg.ConversationID,
		Decision:       d,
		ProcessingTime: d.Latency,
	}, nil
}

// forward calls agent with a bounded timeout and writes the terminal decision.
func (r *Router) forward(ctx context.Context, t *routeTrace, mode domain.RoutingMode, agent domain.AgentRecord, msg domain.Message) (string, domain.RoutingDecision, error) {
	r.write(ctx, domain.AuditEvent{
		Timestamp:      r.now(),
		Level:          domain.LevelInfo,
		Kind:           domain.AuditRouting,
		ConversationID: msg.ConversationID,
		Target:         agent.ID,
		Message:        msg.Text(),
		Fields:         map[string]string{"endpoint": agent.Endpoint, "mode": string(mode)},
	})

	fctx, cancel := context.WithTimeout(ctx, r.forwardTimeout)
	defer cancel()

	reply, err := r.remote.Call(fctx, agent, msg)
	if err != nil {
		if !errors.Is(err, domain.ErrTimeout) && errors.Is(err, context.DeadlineExceeded) {
			err = domain.NewDomainError("Router.Forward", domain.ErrTimeout, fmt.Sprintf("agent %q after %s", agent.ID, r.forwardTimeout))
		}
		r.move(t, domain.StateError)
		d := r.finish(ctx, t, mode, agent.ID, "", err)
		r.logger.Warn("forward failed", "agent_id", agent.ID, "conversation_id", msg.ConversationID, "error", err)
		return "", d, err
	}
	r.move(t, domain.StateForwarded)
	d := r.finish(ctx, t, mode, agent.ID, reply, nil)
	r.logger.Info("message forwarded", "agent_id", agent.ID, "conversation_id", msg.ConversationID, "latency", d.Latency)
	return reply, d, nil
}

func (r *Router) runLocal(ctx context.Context, t *routeTrace, role string, msg domain.Message) (*RouteResult, error) {
	r.move(t, domain.StateLocal)
	reply, err := r.local.Invoke(ctx, role, msg)
	if err != nil {
		r.move(t, domain.StateError)
		r.finish(ctx, t, domain.ModeLocal, domain.LocalAgentID, "", err)
		return nil, fmt.Errorf("local agent: %w", err)
	}
	r.move(t, domain.StateCompleted)
	d := r.finish(ctx, t, domain.ModeLocal, domain.LocalAgentID, reply, nil)
	return &RouteResult{
		Reply:          reply,
		RawReply:       reply,
		ConversationID: msg.ConversationID,
		Decision:       d,
		ProcessingTime: d.Latency,
	}, nil
}

// finish builds and writes the one decision for t.
func (r *Router) finish(ctx context.Context, t *routeTrace, mode domain.RoutingMode, target, reply string, err error) domain.RoutingDecision {
	now := r.now()
	d := domain.RoutingDecision{
		ID:             t.id,
		ConversationID: t.conv,
		Mode:           mode,
		TargetID:       target,
		Outcome:        domain.OutcomeOf(err),
		State:          t.state,
		Latency:        now.Sub(t.start),
		ResponseLength: len(reply),
		Timestamp:      now,
	}
	if err != nil {
		d.Detail = err.Error()
	}
	r.write(ctx, d.AuditEvent())
	if r.recorder != nil {
		r.recorder.RecordDecision(ctx, d)
	}
	return d
}

// reject records an inbound message that failed validation. No routing
// decision exists for it since routing never began.
func (r *Router) reject(ctx context.Context, conv, endpoint string, err error) {
	r.write(ctx, domain.AuditEvent{
		Timestamp:      r.now(),
		Level:          domain.LevelError,
		Kind:           domain.AuditError,
		ConversationID: conv,
		Message:        err.Error(),
		Fields:         map[string]string{"endpoint": endpoint, "code": string(domain.ErrorCodeOf(err))},
	})
}

// write appends an audit event. Failures are logged and never surface to the
// caller. The write outlives a cancelled request so terminal records land.
func (r *Router) write(ctx context.Context, ev domain.AuditEvent) {
	if r.audit == nil {
		return
	}
	if err := r.audit.Log(context.WithoutCancel(ctx), ev); err != nil {
		r.logger.Warn("audit write failed", "kind", ev.Kind, "conversation_id", ev.ConversationID, "error", err)
	}
}
