package domain

import (
	"strconv"
	"time"
)

// Protocol names a coordination protocol.
type Protocol string

const (
	ProtocolDebate       Protocol = "debate"
	ProtocolConsensus    Protocol = "consensus"
	ProtocolHierarchical Protocol = "hierarchical"
)

// Valid reports whether p is a known protocol.
func (p Protocol) Valid() bool {
	switch p {
	case ProtocolDebate, ProtocolConsensus, ProtocolHierarchical:
		return true
	}
	return false
}

// StepResult is one participant invocation inside a ProtocolRun.
type StepResult struct {
	Index       int       `json:"index"`
	Name        string    `json:"name"`
	Participant AgentRef  `json:"participant"`
	Output      string    `json:"output,omitempty"`
	Err         error     `json:"-"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
}

// Failed reports whether the step returned an error.
func (s StepResult) Failed() bool { return s.Err != nil }

// AuditEvent converts the step to its STEP audit record.
func (s StepResult) AuditEvent(runID string, protocol Protocol, conversationID string) AuditEvent {
	ev := AuditEvent{
		Timestamp:      s.FinishedAt,
		Level:          LevelInfo,
		Kind:           AuditStep,
		ConversationID: conversationID,
		Target:         s.Participant.ID,
		Message:        s.Name,
		Fields: map[string]string{
			"run_id":        runID,
			"protocol":      string(protocol),
			"step":          strconv.Itoa(s.Index),
			"role":          s.Participant.Role,
			"duration_ms":   strconv.FormatInt(s.FinishedAt.Sub(s.StartedAt).Milliseconds(), 10),
			"output_length": strconv.Itoa(len(s.Output)),
		},
	}
	if s.Err != nil {
		ev.Level = LevelError
		ev.Fields["error"] = s.Err.Error()
	}
	return ev
}

// ConsensusTag classifies the agreement reached by a consensus run.
type ConsensusTag string

const (
	ConsensusUnanimous ConsensusTag = "unanimous"
	ConsensusMajority  ConsensusTag = "majority"
	ConsensusNone      ConsensusTag = "none"
)

// AnswerCount is one distinct normalized answer and how many participants gave it.
type AnswerCount struct {
	Answer string `json:"answer"`
	Count  int    `json:"count"`
}

// ConsensusResult is the aggregate of a consensus run.
type ConsensusResult struct {
	Answer string        `json:"answer,omitempty"`
	Tag    ConsensusTag  `json:"tag"`
	Counts []AnswerCount `json:"counts"`
}

// ProtocolRun is the ordered trace of a coordination protocol execution.
// Steps are appended in completion order; the run is sealed once FinalOutput
// is produced or the run aborts.
type ProtocolRun struct {
	ID             string           `json:"id"`
	Protocol       Protocol         `json:"protocol"`
	Task           string           `json:"task"`
	ConversationID string           `json:"conversation_id"`
	Participants   []AgentRef       `json:"participants"`
	Steps          []StepResult     `json:"steps"`
	FinalOutput    string           `json:"final_output"`
	Consensus      *ConsensusResult `json:"consensus,omitempty"`
	Err            error            `json:"-"`
	StartedAt      time.Time        `json:"started_at"`
	SealedAt       time.Time        `json:"sealed_at"`
}

// Sealed reports whether the run has finished.
func (r *ProtocolRun) Sealed() bool { return !r.SealedAt.IsZero() }

// Step returns the first step with the given name.
func (r *ProtocolRun) Step(name string) (StepResult, bool) {
	for _, s := range r.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return StepResult{}, false
}
