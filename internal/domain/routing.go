package domain

import (
	"errors"
	"strconv"
	"time"
)

// RoutingMode is the path a message took through the router.
type RoutingMode string

const (
	ModeLocal  RoutingMode = "LOCAL"
	ModeDirect RoutingMode = "DIRECT"
	ModeSearch RoutingMode = "SEARCH"
)

// RoutingOutcome is the terminal result of one routing attempt.
type RoutingOutcome string

const (
	OutcomeOK          RoutingOutcome = "OK"
	OutcomeNoTarget    RoutingOutcome = "NO_TARGET"
	OutcomeNotFound    RoutingOutcome = "NOT_FOUND"
	OutcomeTimeout     RoutingOutcome = "TIMEOUT"
	OutcomeRemoteError RoutingOutcome = "REMOTE_ERROR"
)

// RouteState is a node in the router state machine.
type RouteState string

const (
	StateReceived    RouteState = "RECEIVED"
	StateLocal       RouteState = "LOCAL"
	StateDirectRoute RouteState = "DIRECT_ROUTE"
	StateSearchRoute RouteState = "SEARCH_ROUTE"
	StateForwarded   RouteState = "FORWARDED"
	StateCompleted   RouteState = "COMPLETED"
	StateError       RouteState = "ERROR"
)

// Terminal reports whether no further transition leaves s.
func (s RouteState) Terminal() bool {
	return s == StateForwarded || s == StateCompleted || s == StateError
}

// routeTransitions lists the legal edges of the router state machine.
var routeTransitions = map[RouteState][]RouteState{
	StateReceived:    {StateLocal, StateDirectRoute, StateSearchRoute, StateError},
	StateLocal:       {StateCompleted, StateError},
	StateDirectRoute: {StateForwarded, StateError},
	StateSearchRoute: {StateDirectRoute, StateError},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to RouteState) bool {
	for _, s := range routeTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// RoutingDecision is the single record written for each inbound message.
// It is built once at the terminal transition and never mutated afterwards.
type RoutingDecision struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	Mode           RoutingMode    `json:"mode"`
	TargetID       string         `json:"target_id,omitempty"`
	Outcome        RoutingOutcome `json:"outcome"`
	State          RouteState     `json:"state"`
	Detail         string         `json:"detail,omitempty"`
	Latency        time.Duration  `json:"latency"`
	ResponseLength int            `json:"response_length,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

// OutcomeOf maps a routing error to its outcome tag. A nil error is OK.
func OutcomeOf(err error) RoutingOutcome {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, ErrNoTarget):
		return OutcomeNoTarget
	case errors.Is(err, ErrAgentNotFound), errors.Is(err, ErrNoSuitableAgent):
		return OutcomeNotFound
	case errors.Is(err, ErrTimeout):
		return OutcomeTimeout
	default:
		return OutcomeRemoteError
	}
}

// AuditEvent converts the decision to its audit record.
func (d RoutingDecision) AuditEvent() AuditEvent {
	ev := AuditEvent{
		Timestamp:      d.Timestamp,
		ConversationID: d.ConversationID,
		Target:         d.TargetID,
		Message:        d.Detail,
		Fields: map[string]string{
			"decision_id": d.ID,
			"mode":        string(d.Mode),
			"outcome":     string(d.Outcome),
			"latency_ms":  strconv.FormatInt(d.Latency.Milliseconds(), 10),
		},
	}
	switch d.Outcome {
	case OutcomeOK:
		ev.Level = LevelInfo
		ev.Kind = AuditSuccess
		ev.Fields["response_length"] = strconv.Itoa(d.ResponseLength)
	case OutcomeNoTarget:
		ev.Level = LevelError
		ev.Kind = AuditNoTarget
	default:
		ev.Level = LevelError
		ev.Kind = AuditError
	}
	return ev
}
