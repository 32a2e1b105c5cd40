package gateway

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2asrv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentlink/internal/infra/config"
)

func TestMessageTextJoinsParts(t *testing.T) {
	msg := a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: "hello"}, a2a.TextPart{Text: "world"})
	if got := messageText(msg); got != "hello\nworld" {
		t.Fatalf("messageText = %q", got)
	}
}

func TestAgentCardServed(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.Agent.Provider = "Acme" })
	rec := env.do(t, http.MethodGet, a2asrv.WellKnownAgentCardPath, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var card map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &card))
	assert.Equal(t, "Self Agent", card["name"])
	assert.Equal(t, "https://self.example.com/rpc", card["url"])
	assert.NotEmpty(t, card["skills"])
}

func TestRPCMessageSendRoutesGeneral(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodPost, rpcPath, `{
		"jsonrpc": "2.0",
		"id": 1,
		"method": "message/send",
		"params": {"message": {"kind": "message", "messageId": "m1", "role": "user",
			"parts": [{"kind": "text", "text": "hello"}]}}
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "local: hello")
}

func TestRPCDisabled(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.Gateway.A2ARPC = false })
	rec := env.do(t, http.MethodPost, rpcPath, `{}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
