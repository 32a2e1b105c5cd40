package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOutcomeOf(t *testing.T) {
	tests := []struct {
		err  error
		want RoutingOutcome
	}{
		{nil, OutcomeOK},
		{ErrNoTarget, OutcomeNoTarget},
		{WrapOp("lookup", ErrAgentNotFound), OutcomeNotFound},
		{ErrNoSuitableAgent, OutcomeNotFound},
		{NewDomainError("Remote.Call", ErrTimeout, "30s"), OutcomeTimeout},
		{&RemoteError{Status: 500}, OutcomeRemoteError},
		{errors.New("connection refused"), OutcomeRemoteError},
	}
	for _, tt := range tests {
		if got := OutcomeOf(tt.err); got != tt.want {
			t.Errorf("OutcomeOf(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StateReceived, StateDirectRoute))
	assert.True(t, CanTransition(StateSearchRoute, StateDirectRoute))
	assert.True(t, CanTransition(StateDirectRoute, StateForwarded))
	assert.True(t, CanTransition(StateLocal, StateCompleted))
	assert.False(t, CanTransition(StateLocal, StateForwarded))
	assert.False(t, CanTransition(StateForwarded, StateError))
	assert.True(t, StateError.Terminal())
	assert.False(t, StateDirectRoute.Terminal())
}

func TestDecisionAuditEvent(t *testing.T) {
	now := time.Now()
	d := RoutingDecision{
		ID:             "01H",
		ConversationID: "c1",
		Mode:           ModeDirect,
		TargetID:       "bob",
		Outcome:        OutcomeOK,
		Latency:        1500 * time.Millisecond,
		ResponseLength: 42,
		Timestamp:      now,
	}
	ev := d.AuditEvent()
	assert.Equal(t, AuditSuccess, ev.Kind)
	assert.Equal(t, LevelInfo, ev.Level)
	assert.Equal(t, "bob", ev.Target)
	assert.Equal(t, "42", ev.Fields["response_length"])
	assert.Equal(t, "1500", ev.Fields["latency_ms"])

	d.Outcome = OutcomeNoTarget
	assert.Equal(t, AuditNoTarget, d.AuditEvent().Kind)
	d.Outcome = OutcomeTimeout
	ev = d.AuditEvent()
	assert.Equal(t, AuditError, ev.Kind)
	assert.NotContains(t, ev.Fields, "response_length")
}
