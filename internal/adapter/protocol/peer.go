package protocol

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"

	"agentrelay/internal/domain"
)

// peerMessage is the inbound agent-to-agent envelope. Both dialects share
// it; only the protocol tag and discovery card differ.
type peerMessage struct {
	SenderID  string         `json:"sender_id"`
	Message   string         `json:"message"`
	SessionID string         `json:"session_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// peerAdapter implements the shared mechanics of the agent-to-agent
// surfaces: a message route that replies with the full AgentResponse, a
// discovery card, and a bounded exchange history.
type peerAdapter struct {
	protocol  string
	agent     domain.Agent
	cfg       domain.AdapterConfig
	manifests *ManifestGenerator
	store     *ExchangeStore
	log       *slog.Logger
}

func newPeerAdapter(protocol string, agent domain.Agent, cfg domain.AdapterConfig, manifests *ManifestGenerator, store *ExchangeStore, log *slog.Logger) *peerAdapter {
	return &peerAdapter{
		protocol:  protocol,
		agent:     agent,
		cfg:       cfg,
		manifests: manifests,
		store:     store,
		log:       log,
	}
}

func (a *peerAdapter) Name() string   { return a.cfg.Name }
func (a *peerAdapter) Prefix() string { return a.cfg.Prefix }

func (a *peerAdapter) Routes() []domain.Route {
	base := "/" + a.cfg.Prefix
	return []domain.Route{
		{Method: http.MethodPost, Path: base + "/message", Handler: a.handleMessage},
		{Method: http.MethodGet, Path: base + "/card", Handler: a.handleCard},
		{Method: http.MethodGet, Path: base + "/tasks", Handler: a.handleTasks},
		{Method: http.MethodGet, Path: base + "/tasks/{id}", Handler: a.handleTask},
	}
}

func (a *peerAdapter) Manifest() domain.Manifest {
	return a.manifests.PeerCard(a.protocol, a.cfg.Prefix)
}

func (a *peerAdapter) handleMessage(w http.ResponseWriter, r *http.Request) {
	var msg peerMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeClientError(w, "invalid message: "+err.Error())
		return
	}
	if msg.SenderID == "" {
		writeClientError(w, "invalid message: missing sender_id")
		return
	}

	meta := map[string]any{
		metaSourceProtocol: a.protocol,
		"sender_id":        msg.SenderID,
	}
	for k, v := range msg.Metadata {
		meta[k] = v
	}

	resp := process(r.Context(), a.agent, a.protocol, domain.AgentRequest{
		Message:   msg.Message,
		SessionID: msg.SessionID,
		Metadata:  meta,
	})

	a.store.Put(ExchangeRecord{
		ID:        newExchangeID(),
		Protocol:  a.protocol,
		SenderID:  msg.SenderID,
		SessionID: resp.SessionID,
		Message:   msg.Message,
		Reply:     resp.Message,
		CreatedAt: time.Now(),
	})

	// The reply is the AgentResponse itself, untranslated.
	writeJSON(w, http.StatusOK, resp)
}

func (a *peerAdapter) handleCard(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.Manifest())
}

func (a *peerAdapter) handleTasks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"tasks": a.store.Recent(50),
	})
}

func (a *peerAdapter) handleTask(w http.ResponseWriter, r *http.Request) {
	rec, ok := a.store.Get(r.PathValue("id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"error": map[string]any{
				"code":   "TASK_NOT_FOUND",
				"detail": "no such task",
			},
		})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func newExchangeID() string {
	return ulid.Make().String()
}

// A2AAdapter is the peer dialect whose discovery document is an agent
// card; message exchange is shared peer mechanics.
type A2AAdapter struct {
	*peerAdapter
}

func NewA2AAdapter(agent domain.Agent, cfg domain.AdapterConfig, manifests *ManifestGenerator, store *ExchangeStore, log *slog.Logger) (*A2AAdapter, error) {
	return &A2AAdapter{peerAdapter: newPeerAdapter("a2a", agent, cfg, manifests, store, log)}, nil
}

func A2AConstructor(manifests *ManifestGenerator, store *ExchangeStore, log *slog.Logger) domain.AdapterConstructor {
	return func(agent domain.Agent, cfg domain.AdapterConfig) (domain.Adapter, error) {
		return NewA2AAdapter(agent, cfg, manifests, store, log)
	}
}

// ACPAdapter is the second peer dialect. Same envelope, its own protocol
// tag and card.
type ACPAdapter struct {
	*peerAdapter
}

func NewACPAdapter(agent domain.Agent, cfg domain.AdapterConfig, manifests *ManifestGenerator, store *ExchangeStore, log *slog.Logger) (*ACPAdapter, error) {
	return &ACPAdapter{peerAdapter: newPeerAdapter("acp", agent, cfg, manifests, store, log)}, nil
}

func ACPConstructor(manifests *ManifestGenerator, store *ExchangeStore, log *slog.Logger) domain.AdapterConstructor {
	return func(agent domain.Agent, cfg domain.AdapterConfig) (domain.Adapter, error) {
		return NewACPAdapter(agent, cfg, manifests, store, log)
	}
}
