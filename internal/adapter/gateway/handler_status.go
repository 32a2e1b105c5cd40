package gateway

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"agentlink/internal/infra/config"
	"agentlink/internal/usecase/scheduling"
)

type agentCounts struct {
	Total     int `json:"total"`
	Directory int `json:"directory"`
	Static    int `json:"static"`
	Manual    int `json:"manual"`
}

type healthResponse struct {
	Status        string                `json:"status"`
	AgentID       string                `json:"agent_id"`
	Agents        agentCounts           `json:"agents"`
	LastRefresh   time.Time             `json:"last_refresh,omitzero"`
	LastError     string                `json:"registry_error,omitempty"`
	UptimeSeconds int64                 `json:"uptime_seconds"`
	A2AEnabled    bool                  `json:"a2a_enabled"`
	Tasks         []scheduling.TaskInfo `json:"scheduled_tasks,omitempty"`
	OpenBreakers  map[string]string     `json:"open_breakers,omitempty"`
}

// handleHealth reports "degraded" while the last directory refresh failed
// or a remote breaker is open; routing keeps working from the previous
// snapshot.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	info := s.deps.Registry.Info()
	resp := healthResponse{
		Status:  "healthy",
		AgentID: s.agent.ID,
		Agents: agentCounts{
			Total:     len(s.deps.Registry.List()),
			Directory: info.Directory,
			Static:    info.Static,
			Manual:    info.Manual,
		},
		LastRefresh:   info.RefreshedAt,
		LastError:     info.LastError,
		UptimeSeconds: int64(s.now().Sub(s.started).Seconds()),
		A2AEnabled:    s.cfg.A2ARPC,
	}
	if info.LastError != "" {
		resp.Status = "degraded"
	}
	if s.deps.Tasks != nil {
		resp.Tasks = s.deps.Tasks.Tasks()
	}
	if s.deps.Breakers != nil {
		if open := s.deps.Breakers.OpenBreakers(); len(open) > 0 {
			resp.OpenBreakers = open
			resp.Status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	endpoints := map[string]string{
		"health":     "GET /health",
		"a2a":        "POST /a2a",
		"query":      "POST /query",
		"search":     "POST /search",
		"agents":     "GET /agents",
		"register":   "POST /agents/register",
		"coordinate": "POST /coordinate/{debate|consensus|hierarchical}",
		"audit":      "GET /audit",
		"agentfacts": "GET /agentfacts",
	}
	if s.cfg.A2ARPC {
		endpoints["rpc"] = "POST /rpc"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"agent_id":   s.agent.ID,
		"agent_name": s.agent.Name,
		"version":    s.agent.Version,
		"endpoints":  endpoints,
	})
}

// agentFacts is a NANDA-style self description.
type agentFacts struct {
	ID               string            `json:"id"`
	AgentName        string            `json:"agent_name"`
	Label            string            `json:"label"`
	Description      string            `json:"description"`
	Version          string            `json:"version"`
	DocumentationURL string            `json:"documentationUrl"`
	Jurisdiction     string            `json:"jurisdiction"`
	Provider         factsProvider     `json:"provider"`
	Endpoints        factsEndpoints    `json:"endpoints"`
	Capabilities     factsCapabilities `json:"capabilities"`
	Skills           []factsSkill      `json:"skills"`
}

type factsProvider struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	DID  string `json:"did,omitempty"`
}

type factsEndpoints struct {
	Static           []string      `json:"static"`
	AdaptiveResolver factsResolver `json:"adaptive_resolver"`
}

type factsResolver struct {
	URL      string   `json:"url"`
	Policies []string `json:"policies"`
}

type factsCapabilities struct {
	Modalities     []string  `json:"modalities"`
	Streaming      bool      `json:"streaming"`
	Batch          bool      `json:"batch"`
	Authentication factsAuth `json:"authentication"`
}

type factsAuth struct {
	Methods        []string `json:"methods"`
	RequiredScopes []string `json:"requiredScopes"`
}

type factsSkill struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	InputModes  []string `json:"inputModes"`
	OutputModes []string `json:"outputModes"`
}

// defaultSkills are advertised when the config lists none.
var defaultSkills = []config.SkillConfig{
	{ID: "agent_routing", Description: "Forward @mentioned messages to registered agents"},
	{ID: "agent_search", Description: "Pick the best registered agent for a free-text query"},
	{ID: "coordination", Description: "Run debate, consensus and hierarchical protocols across agents"},
	{ID: "question_answering", Description: "Answer questions directly"},
}

func (s *Server) skills() []config.SkillConfig {
	if len(s.agent.Skills) > 0 {
		return s.agent.Skills
	}
	return defaultSkills
}

func (s *Server) handleAgentFacts(w http.ResponseWriter, _ *http.Request) {
	id := s.agent.UUID
	if id == "" {
		id = uuid.NewString()
	}
	providerHost := strings.TrimPrefix(strings.TrimPrefix(s.agent.ProviderURL, "https://"), "http://")

	facts := agentFacts{
		ID:               "nanda:" + id,
		AgentName:        "urn:agent:nanda:" + s.agent.ID,
		Label:            s.agent.Name,
		Description:      s.agent.Description,
		Version:          s.agent.Version,
		DocumentationURL: s.baseURL + "/",
		Jurisdiction:     s.agent.Jurisdiction,
		Provider:         factsProvider{Name: s.agent.Provider, URL: s.agent.ProviderURL},
		Endpoints: factsEndpoints{
			Static:           []string{s.baseURL + "/a2a"},
			AdaptiveResolver: factsResolver{URL: s.baseURL + "/a2a", Policies: []string{"load"}},
		},
		Capabilities: factsCapabilities{
			Modalities: []string{"text"},
			Authentication: factsAuth{
				Methods:        []string{"none"},
				RequiredScopes: []string{},
			},
		},
	}
	if providerHost != "" {
		facts.Provider.DID = "did:web:" + providerHost
	}
	for _, sk := range s.skills() {
		facts.Skills = append(facts.Skills, factsSkill{
			ID:          sk.ID,
			Description: sk.Description,
			InputModes:  []string{"text"},
			OutputModes: []string{"text"},
		})
	}
	writeJSON(w, http.StatusOK, facts)
}
