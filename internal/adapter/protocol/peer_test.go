package protocol

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentrelay/internal/domain"
)

func newTestPeer(t *testing.T, agent domain.Agent, protocol string) (*peerAdapter, *ExchangeStore) {
	t.Helper()
	store := NewExchangeStore(10, time.Minute, slog.Default())
	t.Cleanup(store.Close)

	cfg := domain.AdapterConfig{Name: protocol, Prefix: protocol}
	switch protocol {
	case "a2a":
		a, err := NewA2AAdapter(agent, cfg, testManifests(agent), store, slog.Default())
		require.NoError(t, err)
		return a.peerAdapter, store
	default:
		a, err := NewACPAdapter(agent, cfg, testManifests(agent), store, slog.Default())
		require.NoError(t, err)
		return a.peerAdapter, store
	}
}

func TestPeerMessagePassThrough(t *testing.T) {
	agent := &stubAgent{}
	a, store := newTestPeer(t, agent, "a2a")

	body := `{"sender_id":"agent-x","message":"ping","session_id":"s1"}`
	req := httptest.NewRequest(http.MethodPost, "/a2a/message", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	a.handleMessage(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	// The reply is the full internal response shape, untranslated.
	var resp domain.AgentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "echo: ping", resp.Message)
	assert.Equal(t, "s1", resp.SessionID)
	assert.False(t, resp.Timestamp.IsZero())

	require.Len(t, agent.calls, 1)
	assert.Equal(t, "a2a", agent.calls[0].Metadata["source_protocol"])
	assert.Equal(t, "agent-x", agent.calls[0].Metadata["sender_id"])

	assert.Equal(t, 1, store.Len(), "exchange recorded")
	recent := store.Recent(1)
	require.Len(t, recent, 1)
	assert.Equal(t, "agent-x", recent[0].SenderID)
	assert.Equal(t, "echo: ping", recent[0].Reply)
}

func TestExchangeIDsUniqueUnderRapidCalls(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := newExchangeID()
		require.False(t, seen[id], "duplicate exchange id %s", id)
		seen[id] = true
	}
}

func TestPeerMessageRequiresSender(t *testing.T) {
	agent := &stubAgent{}
	a, _ := newTestPeer(t, agent, "a2a")

	req := httptest.NewRequest(http.MethodPost, "/a2a/message", bytes.NewBufferString(`{"message":"ping"}`))
	rec := httptest.NewRecorder()
	a.handleMessage(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "sender_id")
	assert.Empty(t, agent.calls)
}

func TestPeerProtocolTagDiffers(t *testing.T) {
	agent := &stubAgent{}
	acp, _ := newTestPeer(t, agent, "acp")

	req := httptest.NewRequest(http.MethodPost, "/acp/message", bytes.NewBufferString(`{"sender_id":"x","message":"m"}`))
	rec := httptest.NewRecorder()
	acp.handleMessage(rec, req)

	require.Len(t, agent.calls, 1)
	assert.Equal(t, "acp", agent.calls[0].Metadata["source_protocol"])
}

func TestPeerCardAndTasks(t *testing.T) {
	agent := &stubAgent{}
	a, store := newTestPeer(t, agent, "a2a")

	rec := httptest.NewRecorder()
	a.handleCard(rec, httptest.NewRequest(http.MethodGet, "/a2a/card", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var card map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &card))
	assert.Equal(t, "a2a", card["protocol"])
	assert.Equal(t, "stub", card["name"])

	store.Put(ExchangeRecord{ID: "e1", Protocol: "a2a", CreatedAt: time.Now()})

	rec = httptest.NewRecorder()
	a.handleTasks(rec, httptest.NewRequest(http.MethodGet, "/a2a/tasks", nil))
	var tasks map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tasks))
	assert.Len(t, tasks["tasks"], 1)
}

func TestPeerTaskNotFound(t *testing.T) {
	agent := &stubAgent{}
	a, _ := newTestPeer(t, agent, "a2a")

	mux := http.NewServeMux()
	for _, route := range a.Routes() {
		mux.HandleFunc(route.Method+" "+route.Path, route.Handler)
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/a2a/tasks/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
