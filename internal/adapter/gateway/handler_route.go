package gateway

import (
	"net/http"
	"strings"

	"agentlink/internal/domain"
	"agentlink/internal/usecase"
)

// a2aResponse is the reply envelope of the strict endpoint.
type a2aResponse struct {
	Content        domain.Content `json:"content"`
	Role           domain.Role    `json:"role"`
	ConversationID string         `json:"conversation_id"`
	Timestamp      string         `json:"timestamp"`
	AgentID        string         `json:"agent_id,omitempty"`
}

// queryRequest accepts both the A2A message shape and the simple
// {question, user_id} form.
type queryRequest struct {
	Question       string          `json:"question"`
	UserID         string          `json:"user_id"`
	Content        *domain.Content `json:"content"`
	Role           domain.Role     `json:"role"`
	ConversationID string          `json:"conversation_id"`
}

func (q queryRequest) message() domain.Message {
	if strings.TrimSpace(q.Question) != "" {
		return domain.NewTextMessage(domain.RoleUser, q.Question, q.ConversationID)
	}
	msg := domain.Message{Role: q.Role, ConversationID: q.ConversationID}
	if q.Content != nil {
		msg.Content = *q.Content
	}
	if msg.Role == "" {
		msg.Role = domain.RoleUser
	}
	return msg
}

type queryResponse struct {
	Answer         string         `json:"answer"`
	Content        domain.Content `json:"content"`
	Role           domain.Role    `json:"role"`
	ConversationID string         `json:"conversation_id"`
	AgentID        string         `json:"agent_id,omitempty"`
	Timestamp      string         `json:"timestamp"`
	ProcessingTime float64        `json:"processing_time"`
}

type searchRequest struct {
	Query          string `json:"query"`
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
}

type selectedAgent struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description"`
	Endpoint    string `json:"endpoint"`
}

type searchResponse struct {
	SelectedAgent  selectedAgent `json:"selected_agent"`
	AgentResponse  string        `json:"agent_response"`
	ConversationID string        `json:"conversation_id"`
	Timestamp      string        `json:"timestamp"`
	ProcessingTime float64       `json:"processing_time"`
}

// handleA2A is the strict endpoint: a message must mention its target.
func (s *Server) handleA2A(w http.ResponseWriter, r *http.Request) {
	var msg domain.Message
	if err := decodeJSON(r, &msg); err != nil {
		s.writeError(w, r, err)
		return
	}
	if msg.Role == "" {
		msg.Role = domain.RoleUser
	}

	res, err := s.deps.Router.Route(r.Context(), usecase.RouteRequest{Message: msg, Endpoint: usecase.EndpointStrict})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a2aResponse{
		Content:        domain.Content{Text: res.Reply, Type: domain.ContentText},
		Role:           domain.RoleAgent,
		ConversationID: res.ConversationID,
		Timestamp:      s.timestamp(),
		AgentID:        res.AgentID,
	})
}

// handleQuery is the general endpoint: mentions are forwarded, everything
// else is answered locally.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.deps.Router.Route(r.Context(), usecase.RouteRequest{Message: req.message(), Endpoint: usecase.EndpointGeneral})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, queryResponse{
		Answer:         res.Reply,
		Content:        domain.Content{Text: res.Reply, Type: domain.ContentText},
		Role:           domain.RoleAgent,
		ConversationID: res.ConversationID,
		AgentID:        res.AgentID,
		Timestamp:      s.timestamp(),
		ProcessingTime: res.ProcessingTime.Seconds(),
	})
}

// handleSearch picks the best described agent for a query and forwards it.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.deps.Router.Search(r.Context(), usecase.SearchRequest{
		Query:          req.Query,
		ConversationID: req.ConversationID,
		UserID:         req.UserID,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, searchResponse{
		SelectedAgent: selectedAgent{
			ID:          res.Agent.ID,
			Label:       res.Agent.Label(),
			Description: res.Agent.Description,
			Endpoint:    res.Agent.Endpoint,
		},
		AgentResponse:  res.Reply,
		ConversationID: res.ConversationID,
		Timestamp:      s.timestamp(),
		ProcessingTime: res.ProcessingTime.Seconds(),
	})
}
