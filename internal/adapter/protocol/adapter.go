// Package protocol contains the adapter layer: protocol-specific
// translation units that map external wire formats onto the shared
// AgentRequest/AgentResponse contract, the registry that manages them,
// and the manifest generator that describes them.
package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"

	"agentrelay/internal/domain"
	"agentrelay/internal/infra/tracer"
)

// The protocol tag each adapter stamps into AgentRequest metadata so the
// agent can see where a request came from without knowing wire details.
const metaSourceProtocol = "source_protocol"

// process invokes the agent and converts any failure into a response-shaped
// error. The agent reference is non-nil by construction (adapters are only
// created once the agent is bound); agent absence is handled one layer up
// by the gateway's readiness guard.
func process(ctx context.Context, agent domain.Agent, protocol string, req domain.AgentRequest) *domain.AgentResponse {
	ctx, span := tracer.StartSpan(ctx, "adapter.process",
		trace.WithAttributes(tracer.StringAttr("adapter.protocol", protocol)),
	)
	defer span.End()

	resp, err := agent.Process(ctx, req)
	if err != nil {
		tracer.RecordError(span, err)
		return domain.ErrorResponse(req.SessionID, fmt.Errorf("%w: %v", domain.ErrAgentFailure, err))
	}

	if resp.Timestamp.IsZero() {
		resp.Timestamp = time.Now()
	}
	tracer.SetOK(span)
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeClientError reports a malformed inbound payload with enough
// structure to name the offending field.
func writeClientError(w http.ResponseWriter, detail string) {
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"error": map[string]any{
			"code":   string(domain.CodeInvalidPayload),
			"detail": detail,
		},
	})
}
