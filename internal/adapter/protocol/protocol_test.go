package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentrelay/internal/domain"
)

var testInputSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"message": {"type": "string"},
		"session_id": {"type": "string"},
		"metadata": {"type": "object"}
	},
	"required": ["message"]
}`)

var testOutputSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"message": {"type": "string"},
		"session_id": {"type": "string"}
	}
}`)

// stubAgent echoes requests back and records every invocation so tests can
// assert the agent was (or was not) reached.
type stubAgent struct {
	calls []domain.AgentRequest
	fail  error
}

func (s *stubAgent) Name() string                     { return "stub" }
func (s *stubAgent) Initialize(context.Context) error { return nil }

func (s *stubAgent) Process(_ context.Context, req domain.AgentRequest) (*domain.AgentResponse, error) {
	s.calls = append(s.calls, req)
	if s.fail != nil {
		return nil, s.fail
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = "minted-session"
	}
	return &domain.AgentResponse{
		Message:   "echo: " + req.Message,
		SessionID: sessionID,
		Metadata:  map[string]any{"agent": "stub"},
		Timestamp: time.Now(),
	}, nil
}

func (s *stubAgent) Schema() domain.AgentSchema {
	return domain.AgentSchema{
		Name:         "stub",
		Description:  "test agent",
		Version:      "1.0.0",
		InputSchema:  testInputSchema,
		OutputSchema: testOutputSchema,
		Tools: []domain.ToolDescriptor{
			{Name: "clock", Description: "current time", InputSchema: json.RawMessage(`{"type":"object"}`)},
		},
	}
}

func testManifests(agent domain.Agent) *ManifestGenerator {
	return NewManifestGenerator(agent.Schema(), "http://localhost:8000")
}

func TestRegistryUnknownTypeFailsBeforeConstruction(t *testing.T) {
	r := NewRegistry()

	_, err := r.Create("grpc", &stubAgent{}, domain.AdapterConfig{Name: "grpc-main"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrAdapterTypeUnknown)
	assert.Empty(t, r.All())
}

func TestRegistryLastWriteWins(t *testing.T) {
	r := NewRegistry()
	agent := &stubAgent{}
	manifests := testManifests(agent)
	store := NewExchangeStore(10, time.Minute, slog.Default())
	defer store.Close()

	r.RegisterType("a2a", A2AConstructor(manifests, store, slog.Default()))

	first, err := r.Create("a2a", agent, domain.AdapterConfig{Name: "peer", Prefix: "a2a"})
	require.NoError(t, err)
	second, err := r.Create("a2a", agent, domain.AdapterConfig{Name: "peer", Prefix: "a2a-v2"})
	require.NoError(t, err)

	got, ok := r.Get("peer")
	require.True(t, ok)
	assert.Same(t, second.(*A2AAdapter), got.(*A2AAdapter))
	assert.NotSame(t, first.(*A2AAdapter), got.(*A2AAdapter))
	assert.Len(t, r.All(), 1)
}

func TestRegistryConstructorErrorLeavesNoInstance(t *testing.T) {
	r := NewRegistry()
	r.RegisterType("broken", func(domain.Agent, domain.AdapterConfig) (domain.Adapter, error) {
		return nil, errors.New("boom")
	})

	_, err := r.Create("broken", &stubAgent{}, domain.AdapterConfig{Name: "b"})
	require.Error(t, err)
	assert.Empty(t, r.All())
}

func TestRegistryManifestsAreFresh(t *testing.T) {
	r := NewRegistry()
	agent := &stubAgent{}
	manifests := testManifests(agent)
	r.RegisterType("mcp", MCPConstructor(manifests, slog.Default()))

	_, err := r.Create("mcp", agent, domain.AdapterConfig{Name: "mcp", Prefix: "mcp"})
	require.NoError(t, err)

	first := r.Manifests()
	second := r.Manifests()
	require.Contains(t, first, "mcp")
	require.Contains(t, second, "mcp")
	assert.Equal(t, first["mcp"]["protocol"], second["mcp"]["protocol"])
}

func TestExchangeStoreTTLEviction(t *testing.T) {
	s := NewExchangeStore(100, time.Minute, slog.Default())
	defer s.Close()

	now := time.Now()
	s.Put(ExchangeRecord{ID: "old", CreatedAt: now.Add(-2 * time.Minute)})
	s.Put(ExchangeRecord{ID: "fresh", CreatedAt: now})

	// Expired records are invisible even before the sweep runs.
	_, ok := s.Get("old")
	assert.False(t, ok)

	evicted := s.Sweep(now)
	assert.Equal(t, 1, evicted)
	assert.Equal(t, 1, s.Len())

	_, ok = s.Get("fresh")
	assert.True(t, ok)
}

func TestExchangeStoreBounded(t *testing.T) {
	s := NewExchangeStore(3, time.Hour, slog.Default())
	defer s.Close()

	for _, id := range []string{"a", "b", "c", "d"} {
		s.Put(ExchangeRecord{ID: id, CreatedAt: time.Now()})
	}

	assert.Equal(t, 3, s.Len())
	_, ok := s.Get("a")
	assert.False(t, ok, "oldest record should be evicted first")
	_, ok = s.Get("d")
	assert.True(t, ok)
}

func TestExchangeStoreRecentNewestFirst(t *testing.T) {
	s := NewExchangeStore(10, time.Hour, slog.Default())
	defer s.Close()

	now := time.Now()
	s.Put(ExchangeRecord{ID: "first", CreatedAt: now})
	s.Put(ExchangeRecord{ID: "second", CreatedAt: now})

	recent := s.Recent(10)
	require.Len(t, recent, 2)
	assert.Equal(t, "second", recent[0].ID)
	assert.Equal(t, "first", recent[1].ID)
}
