package domain

import (
	"strings"
	"time"
)

// AgentSource identifies where an AgentRecord came from.
type AgentSource string

const (
	SourceDirectory AgentSource = "directory"
	SourceManual    AgentSource = "manual"
	SourceStatic    AgentSource = "static"
)

// LocalAgentID is the reserved reference id for the in-process agent.
const LocalAgentID = "local"

// AgentRecord describes a remote agent known to the registry.
type AgentRecord struct {
	ID          string      `json:"id"                    yaml:"id"`
	Name        string      `json:"name,omitempty"        yaml:"name,omitempty"`
	Endpoint    string      `json:"endpoint"              yaml:"endpoint"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	Source      AgentSource `json:"source"                yaml:"-"`
	LastSeen    time.Time   `json:"last_seen"             yaml:"-"`
}

// Label returns the display name, falling back to the id.
func (a AgentRecord) Label() string {
	if strings.TrimSpace(a.Name) != "" {
		return a.Name
	}
	return a.ID
}

// Described reports whether the record carries a capability description.
func (a AgentRecord) Described() bool {
	return strings.TrimSpace(a.Description) != ""
}

// AgentRef names a protocol participant. An empty or "local" ID is the local agent.
type AgentRef struct {
	ID   string `json:"id"`
	Role string `json:"role,omitempty"`
}

// IsLocal reports whether the reference resolves to the in-process agent.
func (r AgentRef) IsLocal() bool {
	return r.ID == "" || r.ID == LocalAgentID
}

// String renders the ref as "id:role" (or just the id when no role is set).
func (r AgentRef) String() string {
	id := r.ID
	if id == "" {
		id = LocalAgentID
	}
	if r.Role == "" {
		return id
	}
	return id + ":" + r.Role
}

// ParseAgentRef parses an "id:role" pair. A bare id yields an empty role.
func ParseAgentRef(s string) AgentRef {
	s = strings.TrimSpace(s)
	id, role, _ := strings.Cut(s, ":")
	return AgentRef{ID: strings.TrimSpace(id), Role: strings.TrimSpace(role)}
}

// ScoredAgent is one ranker verdict over a candidate.
type ScoredAgent struct {
	Agent  AgentRecord `json:"agent"`
	Score  float64     `json:"score"`
	Reason string      `json:"reason,omitempty"`
}
