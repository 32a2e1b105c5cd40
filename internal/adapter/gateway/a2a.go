package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2asrv"
	"github.com/a2aproject/a2a-go/a2asrv/eventqueue"
	"github.com/go-chi/chi/v5"

	"agentlink/internal/domain"
	"agentlink/internal/usecase"
)

const rpcPath = "/rpc"

// Executor bridges A2A JSON-RPC message/send calls onto the general
// endpoint of the router.
type Executor struct {
	router MessageRouter
	logger *slog.Logger
}

// NewExecutor creates an executor over router.
func NewExecutor(router MessageRouter, logger *slog.Logger) *Executor {
	return &Executor{router: router, logger: logger}
}

var _ a2asrv.AgentExecutor = (*Executor)(nil)

// Execute implements a2asrv.AgentExecutor. The reply is written as a single
// agent message; routing failures become a failed task status.
func (e *Executor) Execute(ctx context.Context, reqCtx *a2asrv.RequestContext, queue eventqueue.Queue) error {
	if reqCtx.Message == nil {
		return errors.New("message not provided")
	}
	text := messageText(reqCtx.Message)

	res, err := e.router.Route(ctx, usecase.RouteRequest{
		Message:  domain.NewTextMessage(domain.RoleUser, text, reqCtx.ContextID),
		Endpoint: usecase.EndpointGeneral,
	})
	if err != nil {
		e.logger.Warn("a2a rpc routing failed", "context_id", reqCtx.ContextID, "error", err)
		if reqCtx.StoredTask == nil {
			if werr := queue.Write(ctx, a2a.NewStatusUpdateEvent(reqCtx, a2a.TaskStateSubmitted, nil)); werr != nil {
				return fmt.Errorf("write submitted event: %w", werr)
			}
		}
		cause := fmt.Sprintf("%s: %s", domain.ErrorCodeOf(err), err)
		msg := a2a.NewMessageForTask(a2a.MessageRoleAgent, reqCtx, a2a.TextPart{Text: cause})
		ev := a2a.NewStatusUpdateEvent(reqCtx, a2a.TaskStateFailed, msg)
		ev.Final = true
		return queue.Write(ctx, ev)
	}

	reply := a2a.NewMessageForTask(a2a.MessageRoleAgent, reqCtx, a2a.TextPart{Text: res.Reply})
	return queue.Write(ctx, reply)
}

// Cancel implements a2asrv.AgentExecutor. Routing is synchronous, so there
// is nothing to interrupt beyond marking the task.
func (e *Executor) Cancel(ctx context.Context, reqCtx *a2asrv.RequestContext, queue eventqueue.Queue) error {
	ev := a2a.NewStatusUpdateEvent(reqCtx, a2a.TaskStateCanceled, nil)
	ev.Final = true
	return queue.Write(ctx, ev)
}

// messageText concatenates the text parts of msg.
func messageText(msg *a2a.Message) string {
	var parts []string
	for _, p := range msg.Parts {
		switch tp := p.(type) {
		case a2a.TextPart:
			parts = append(parts, tp.Text)
		case *a2a.TextPart:
			parts = append(parts, tp.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// agentCard describes this service to A2A clients.
func (s *Server) agentCard() *a2a.AgentCard {
	skills := make([]a2a.AgentSkill, 0, len(s.skills()))
	for _, sk := range s.skills() {
		skills = append(skills, a2a.AgentSkill{
			ID:          sk.ID,
			Name:        sk.ID,
			Description: sk.Description,
			Tags:        []string{"a2a"},
		})
	}
	card := &a2a.AgentCard{
		Name:               s.agent.Name,
		Description:        s.agent.Description,
		URL:                s.baseURL + rpcPath,
		Version:            s.agent.Version,
		ProtocolVersion:    "1.0",
		DefaultInputModes:  []string{"text/plain"},
		DefaultOutputModes: []string{"text/plain"},
		Skills:             skills,
		Capabilities:       a2a.AgentCapabilities{},
		PreferredTransport: a2a.TransportProtocolJSONRPC,
	}
	if s.agent.Provider != "" {
		card.Provider = &a2a.AgentProvider{Org: s.agent.Provider, URL: s.agent.ProviderURL}
	}
	return card
}

// mountA2A serves the JSON-RPC surface and the well-known agent card.
func (s *Server) mountA2A(r chi.Router) {
	handler := a2asrv.NewHandler(NewExecutor(s.deps.Router, s.logger))
	r.Method("POST", rpcPath, a2asrv.NewJSONRPCHandler(handler))
	r.Method("GET", a2asrv.WellKnownAgentCardPath, a2asrv.NewStaticAgentCardHandler(s.agentCard()))
}
