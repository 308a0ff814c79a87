package gateway

import (
	"encoding/json"
	"net/http"

	"agentrelay/internal/domain"
)

const serverVersion = "1.0.0"

func (s *Server) registerCoreRoutes() {
	s.mux.HandleFunc("GET /{$}", s.handleRoot)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /adapters", s.handleAdapters)
	s.mux.HandleFunc("POST /agent/chat", s.requireReady(s.handleChat))
	s.mux.HandleFunc("GET /agent/schema", s.requireReady(s.handleSchema))
	s.mux.HandleFunc("GET /manifests", s.handleManifests)
	s.mux.HandleFunc("GET /chat/stream", s.handleStream)
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":     "agentrelay",
		"version":  serverVersion,
		"state":    s.State().String(),
		"adapters": s.registry.Names(),
		"endpoints": map[string]any{
			"health":    "/health",
			"chat":      "/agent/chat",
			"schema":    "/agent/schema",
			"stream":    "/chat/stream",
			"manifests": "/manifests",
			"adapters":  "/adapters",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	state := s.State()
	status := "degraded"
	if state == StateReady {
		status = "healthy"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      status,
		"state":       state.String(),
		"agent_ready": state == StateReady,
		"adapters":    len(s.registry.All()),
	})
}

func (s *Server) handleAdapters(w http.ResponseWriter, _ *http.Request) {
	adapters := make([]map[string]any, 0)
	for _, name := range s.registry.Names() {
		a, ok := s.registry.Get(name)
		if !ok {
			continue
		}
		routes := make([]string, 0, len(a.Routes()))
		for _, route := range a.Routes() {
			routes = append(routes, route.Method+" "+route.Path)
		}
		adapters = append(adapters, map[string]any{
			"name":   a.Name(),
			"prefix": a.Prefix(),
			"routes": routes,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"adapters": adapters})
}

// handleChat is the direct, protocol-free chat route.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req domain.AgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": map[string]any{
				"code":   string(domain.CodeInvalidPayload),
				"detail": "invalid chat request: " + err.Error(),
			},
		})
		return
	}

	if req.Metadata == nil {
		req.Metadata = make(map[string]any)
	}
	req.Metadata["source_protocol"] = "http"

	resp, err := s.agent.Process(r.Context(), req)
	if err != nil {
		resp = domain.ErrorResponse(req.SessionID, err)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSchema(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.agent.Schema())
}

// handleManifests aggregates every adapter manifest plus the OpenAPI
// projection of the gateway's own routes. Everything is recomputed per
// request.
func (s *Server) handleManifests(w http.ResponseWriter, _ *http.Request) {
	out := make(map[string]any)
	for name, m := range s.registry.Manifests() {
		out[name] = m
	}
	if s.manifests != nil {
		out["openapi"] = s.manifests.OpenAPI()
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
