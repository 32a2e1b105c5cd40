package gateway

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"agentlink/internal/domain"
	"agentlink/internal/usecase/coordination"
)

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 1000
)

type coordinateRequest struct {
	Task           string            `json:"task"`
	Participants   []domain.AgentRef `json:"participants"`
	ConversationID string            `json:"conversation_id"`
	Rounds         *int              `json:"rounds"`
}

// stepView exposes the step error, which the domain type keeps out of JSON.
type stepView struct {
	domain.StepResult
	Error string `json:"error,omitempty"`
}

type runView struct {
	*domain.ProtocolRun
	Steps      []stepView       `json:"steps"`
	DurationMs int64            `json:"duration_ms"`
	Error      string           `json:"error,omitempty"`
	ErrorCode  domain.ErrorCode `json:"error_code,omitempty"`
}

func newRunView(run *domain.ProtocolRun) runView {
	v := runView{ProtocolRun: run, Steps: make([]stepView, len(run.Steps))}
	for i, st := range run.Steps {
		v.Steps[i] = stepView{StepResult: st}
		if st.Err != nil {
			v.Steps[i].Error = st.Err.Error()
		}
	}
	if run.Sealed() {
		v.DurationMs = run.SealedAt.Sub(run.StartedAt).Milliseconds()
	}
	if run.Err != nil {
		v.Error = run.Err.Error()
		v.ErrorCode = domain.ErrorCodeOf(run.Err)
	}
	return v
}

type failedRunResponse struct {
	Error errorDetail `json:"error"`
	Run   runView     `json:"run"`
}

// handleCoordinate runs one protocol. A run that starts and then fails
// answers 422 with its partial steps.
func (s *Server) handleCoordinate(w http.ResponseWriter, r *http.Request) {
	var req coordinateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	rounds := s.rounds
	if req.Rounds != nil {
		rounds = *req.Rounds
	}

	run, err := s.deps.Coordinator.Run(r.Context(), coordination.Request{
		Protocol:       domain.Protocol(strings.ToLower(chi.URLParam(r, "protocol"))),
		Task:           req.Task,
		Participants:   req.Participants,
		ConversationID: req.ConversationID,
		Options:        coordination.Options{Rounds: rounds},
	})
	switch {
	case err != nil && run != nil:
		writeJSON(w, http.StatusUnprocessableEntity, failedRunResponse{
			Error: errorDetail{Code: domain.CodeProtocolFailed, Message: err.Error()},
			Run:   newRunView(run),
		})
	case err != nil:
		s.writeError(w, r, err)
	default:
		writeJSON(w, http.StatusOK, newRunView(run))
	}
}

type auditResponse struct {
	Events []domain.AuditEvent `json:"events"`
	Count  int                 `json:"count"`
}

// handleAudit reads back stored audit events, newest first.
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if s.deps.Audit == nil {
		s.writeError(w, r, domain.NewDomainError("gateway.audit", domain.ErrUnavailable, "audit store not configured"))
		return
	}
	filter, err := parseAuditFilter(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	events, err := s.deps.Audit.Query(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if events == nil {
		events = []domain.AuditEvent{}
	}
	writeJSON(w, http.StatusOK, auditResponse{Events: events, Count: len(events)})
}

func parseAuditFilter(r *http.Request) (domain.AuditFilter, error) {
	q := r.URL.Query()
	f := domain.AuditFilter{
		ConversationID: q.Get("conversation_id"),
		Kind:           domain.AuditKind(strings.ToUpper(q.Get("kind"))),
		Limit:          defaultAuditLimit,
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return f, invalidInput("gateway.audit", "limit must be a positive integer")
		}
		f.Limit = min(n, maxAuditLimit)
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, invalidInput("gateway.audit", "since must be an RFC 3339 timestamp")
		}
		f.Since = t
	}
	return f, nil
}
