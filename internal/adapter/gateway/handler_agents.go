package gateway

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"agentlink/internal/domain"
)

const agentsUsage = "Send messages using @agent-id syntax in the /a2a endpoint"

type registerRequest struct {
	AgentID     string `json:"agent_id"`
	AgentURL    string `json:"agent_url"`
	Description string `json:"description"`
}

type registerResponse struct {
	Message  string `json:"message"`
	AgentID  string `json:"agent_id"`
	AgentURL string `json:"agent_url"`
}

type knownAgent struct {
	Name        string             `json:"name,omitempty"`
	Endpoint    string             `json:"endpoint"`
	Description string             `json:"description,omitempty"`
	Source      domain.AgentSource `json:"source"`
	LastSeen    time.Time          `json:"last_seen"`
}

type agentsResponse struct {
	MyAgentID   string                `json:"my_agent_id"`
	MyAgentName string                `json:"my_agent_name"`
	KnownAgents map[string]knownAgent `json:"known_agents"`
	Total       int                   `json:"total"`
	Usage       string                `json:"usage"`
}

type refreshResponse struct {
	Agents      int       `json:"agents"`
	RefreshedAt time.Time `json:"refreshed_at"`
}

// handleRegister accepts agent_id and agent_url as query parameters or as a
// JSON body.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	req := registerRequest{
		AgentID:     r.URL.Query().Get("agent_id"),
		AgentURL:    r.URL.Query().Get("agent_url"),
		Description: r.URL.Query().Get("description"),
	}
	if req.AgentID == "" && req.AgentURL == "" && r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	rec, err := s.deps.Registry.RegisterManual(req.AgentID, req.AgentURL, req.Description)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, registerResponse{
		Message:  fmt.Sprintf("Agent '%s' registered successfully", rec.ID),
		AgentID:  rec.ID,
		AgentURL: rec.Endpoint,
	})
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.deps.Registry.RemoveManual(id); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message":  fmt.Sprintf("Agent '%s' removed", id),
		"agent_id": id,
	})
}

func (s *Server) handleListAgents(w http.ResponseWriter, _ *http.Request) {
	agents := s.deps.Registry.List()
	known := make(map[string]knownAgent, len(agents))
	for _, a := range agents {
		known[a.ID] = knownAgent{
			Name:        a.Name,
			Endpoint:    a.Endpoint,
			Description: a.Description,
			Source:      a.Source,
			LastSeen:    a.LastSeen,
		}
	}
	writeJSON(w, http.StatusOK, agentsResponse{
		MyAgentID:   s.agent.ID,
		MyAgentName: s.agent.Name,
		KnownAgents: known,
		Total:       len(known),
		Usage:       agentsUsage,
	})
}

// handleRefresh re-fetches the directories. On failure the previous snapshot
// stays in place and the client gets 503.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if _, err := s.deps.Registry.Refresh(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	info := s.deps.Registry.Info()
	writeJSON(w, http.StatusOK, refreshResponse{
		Agents:      info.Directory,
		RefreshedAt: info.RefreshedAt,
	})
}
