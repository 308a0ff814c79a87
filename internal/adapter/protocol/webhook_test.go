package protocol

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentrelay/internal/domain"
)

func newTestWebhook(t *testing.T, agent domain.Agent) *WebhookAdapter {
	t.Helper()
	a, err := NewWebhookAdapter(agent, domain.AdapterConfig{Name: "webhook", Prefix: "webhook"}, testManifests(agent), nil, slog.Default())
	require.NoError(t, err)
	return a
}

func postJSON(t *testing.T, handler http.HandlerFunc, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	handler(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec.Code, out
}

func TestWebhookGenericRoundTrip(t *testing.T) {
	agent := &stubAgent{}
	a := newTestWebhook(t, agent)

	code, out := postJSON(t, a.handleGeneric,
		`{"message":"hi","user_id":"u1","session_id":"s9","platform":"custom"}`)
	require.Equal(t, http.StatusOK, code)

	assert.Equal(t, "echo: hi", out["message"])
	assert.Equal(t, "s9", out["session_id"])
	assert.Equal(t, "u1", out["user_id"])
	assert.Equal(t, "custom", out["platform"])

	require.Len(t, agent.calls, 1)
	assert.Equal(t, "s9", agent.calls[0].SessionID)
	assert.Equal(t, "webhook", agent.calls[0].Metadata["source_protocol"])
}

func TestWebhookDerivesSessionFromUser(t *testing.T) {
	agent := &stubAgent{}
	a := newTestWebhook(t, agent)

	code, _ := postJSON(t, a.handleGeneric, `{"message":"hi","user_id":"u1","platform":"custom"}`)
	require.Equal(t, http.StatusOK, code)

	require.Len(t, agent.calls, 1)
	assert.Equal(t, "custom-u1", agent.calls[0].SessionID)
}

func TestWebhookEmptyMessageAccepted(t *testing.T) {
	agent := &stubAgent{}
	a := newTestWebhook(t, agent)

	code, _ := postJSON(t, a.handleGeneric, `{"message":""}`)
	assert.Equal(t, http.StatusOK, code)
	require.Len(t, agent.calls, 1)
	assert.Equal(t, "", agent.calls[0].Message)
}

func TestWebhookMalformedJSONRejected(t *testing.T) {
	agent := &stubAgent{}
	a := newTestWebhook(t, agent)

	code, out := postJSON(t, a.handleGeneric, `{broken`)
	assert.Equal(t, http.StatusBadRequest, code)
	errObj := out["error"].(map[string]any)
	assert.Equal(t, "INVALID_PAYLOAD", errObj["code"])
	assert.Empty(t, agent.calls)
}

func TestTelegramNormalization(t *testing.T) {
	agent := &stubAgent{}
	a := newTestWebhook(t, agent)

	code, out := postJSON(t, a.handleTelegram,
		`{"message":{"text":"hi","from":{"id":1},"chat":{"id":42}}}`)
	require.Equal(t, http.StatusOK, code)

	require.Len(t, agent.calls, 1)
	call := agent.calls[0]
	assert.Equal(t, "hi", call.Message)
	assert.Equal(t, "42", call.SessionID, "session id is the native chat identifier")
	assert.Equal(t, "telegram", call.Metadata["platform"])
	assert.Equal(t, "1", call.Metadata["user_id"])

	assert.Equal(t, "42", out["session_id"])
	assert.Equal(t, "telegram", out["platform"])
}

func TestTelegramMissingFieldsRejected(t *testing.T) {
	agent := &stubAgent{}
	a := newTestWebhook(t, agent)

	for name, body := range map[string]string{
		"no message": `{"update_id":1}`,
		"no text":    `{"message":{"from":{"id":1},"chat":{"id":42}}}`,
		"no chat":    `{"message":{"text":"hi","from":{"id":1}}}`,
	} {
		t.Run(name, func(t *testing.T) {
			code, _ := postJSON(t, a.handleTelegram, body)
			assert.Equal(t, http.StatusBadRequest, code)
		})
	}
	assert.Empty(t, agent.calls)
}

func TestSlackURLVerification(t *testing.T) {
	agent := &stubAgent{}
	a := newTestWebhook(t, agent)

	code, out := postJSON(t, a.handleSlack,
		`{"type":"url_verification","challenge":"tok123"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "tok123", out["challenge"])
	assert.Empty(t, agent.calls)
}

func TestSlackEventCallback(t *testing.T) {
	agent := &stubAgent{}
	a := newTestWebhook(t, agent)

	code, out := postJSON(t, a.handleSlack, `{
		"type": "event_callback",
		"event": {"type": "message", "text": "hello", "user": "U1", "channel": "C7"}
	}`)
	require.Equal(t, http.StatusOK, code)

	require.Len(t, agent.calls, 1)
	assert.Equal(t, "hello", agent.calls[0].Message)
	assert.Equal(t, "C7", agent.calls[0].SessionID)
	assert.Equal(t, "slack", agent.calls[0].Metadata["platform"])
	assert.Equal(t, "C7", out["session_id"])
}

func TestSlackBotMessagesIgnored(t *testing.T) {
	agent := &stubAgent{}
	a := newTestWebhook(t, agent)

	code, out := postJSON(t, a.handleSlack, `{
		"type": "event_callback",
		"event": {"type": "message", "text": "self", "bot_id": "B1", "channel": "C7"}
	}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ignored", out["status"])
	assert.Empty(t, agent.calls)
}

func TestWebhookManifestListsRoutes(t *testing.T) {
	agent := &stubAgent{}
	a := newTestWebhook(t, agent)

	m := a.Manifest()
	endpoints := m["endpoints"].(map[string]any)
	assert.Contains(t, endpoints["generic"], "/webhook")
	assert.Contains(t, endpoints["telegram"], "/webhook/telegram")
	assert.Empty(t, agent.calls, "manifest generation must not touch the agent")
}
