package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainErrorFormat(t *testing.T) {
	err := NewDomainError("Registry.Lookup", ErrAgentNotFound, "agent 'bob'")
	want := "Registry.Lookup: agent 'bob': agent not found"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorFormatNoDetail(t *testing.T) {
	err := NewDomainError("Router.Route", ErrNoTarget, "")
	want := "Router.Route: no target agent mentioned"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorUnwrap(t *testing.T) {
	err := NewDomainError("Registry.Refresh", ErrRegistryUnavailable, "dial tcp")
	if !errors.Is(err, ErrRegistryUnavailable) {
		t.Error("errors.Is should match ErrRegistryUnavailable")
	}
	if !errors.Is(err, ErrUnavailable) {
		t.Error("errors.Is should match the ErrUnavailable category")
	}
}

func TestWrapOpNil(t *testing.T) {
	if WrapOp("op", nil) != nil {
		t.Error("WrapOp(nil) should return nil")
	}
	err := WrapOp("Remote.Call", ErrTimeout)
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("wrapped error lost sentinel: %v", err)
	}
}

func TestRemoteErrorUnwrap(t *testing.T) {
	var err error = &RemoteError{Endpoint: "http://a/a2a", Status: 500, Body: "boom"}
	assert.True(t, errors.Is(err, ErrRemote))
	assert.Equal(t, 500, RemoteStatus(fmt.Errorf("forward: %w", err)))
	assert.Equal(t, 0, RemoteStatus(ErrTimeout))
	assert.Contains(t, err.Error(), "status 500")
}

func TestErrorCodeOf_DirectSentinel(t *testing.T) {
	assert.Equal(t, CodeNoTarget, ErrorCodeOf(ErrNoTarget))
	assert.Equal(t, CodeAgentNotFound, ErrorCodeOf(ErrAgentNotFound))
	assert.Equal(t, CodeTimeout, ErrorCodeOf(ErrTimeout))
	assert.Equal(t, CodeRegistryUnavailable, ErrorCodeOf(ErrRegistryUnavailable))
}

func TestErrorCodeOf_SpecificBeatsCategory(t *testing.T) {
	err := fmt.Errorf("lookup: %w", ErrAgentNotFound)
	assert.Equal(t, CodeAgentNotFound, ErrorCodeOf(err))
	assert.Equal(t, CodeNotFound, ErrorCodeOf(fmt.Errorf("x: %w", ErrNotFound)))
}

func TestErrorCodeOf_RemoteError(t *testing.T) {
	err := WrapOp("Router.Forward", &RemoteError{Status: 502})
	assert.Equal(t, CodeRemoteError, ErrorCodeOf(err))
}

func TestErrorCodeOf_SubSystem(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"registry empty", NewSubSystemError("registry", "Router.Search", ErrNoSuitableAgent, "no agents available"), CodeNoAgentsAvailable},
		{"matcher empty", NewDomainError("Matcher.Select", ErrNoSuitableAgent, ""), CodeNoSuitableAgent},
		{"coordination input", NewSubSystemError("coordination", "Engine.Run", ErrInvalidInput, "need 3"), CodeProtocolInvalid},
		{"llm timeout", NewSubSystemError("llm", "OpenAI.Complete", ErrTimeout, ""), CodeProviderTimeout},
		{"unknown subsystem", NewSubSystemError("other", "X", ErrTimeout, ""), CodeTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorCodeOf(tt.err))
		})
	}
}

func TestErrorCodeOf_Unknown(t *testing.T) {
	assert.Equal(t, CodeUnknown, ErrorCodeOf(nil))
	assert.Equal(t, CodeUnknown, ErrorCodeOf(errors.New("plain")))
}

func TestDomainErrorAs(t *testing.T) {
	err := WrapOp("outer", NewDomainError("Matcher.Select", ErrNoSuitableAgent, "empty"))
	var de *DomainError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "Matcher.Select", de.Op)
}
