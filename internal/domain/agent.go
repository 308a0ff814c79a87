package domain

import (
	"context"
	"encoding/json"
	"time"
)

// AgentRequest is the single internal request shape every protocol adapter
// translates into. An empty message is accepted here; validating it is the
// agent's call, not the translation layer's.
type AgentRequest struct {
	Message   string         `json:"message"`
	SessionID string         `json:"session_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Tools     []string       `json:"tools,omitempty"`
}

// AgentResponse is the single internal response shape adapters translate
// back out of. Message is always set, even on failure (error text takes the
// place of a normal reply). Timestamp is set at construction time.
type AgentResponse struct {
	Message   string         `json:"message"`
	SessionID string         `json:"session_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	ToolsUsed []string       `json:"tools_used,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// ErrorResponse builds an AgentResponse carrying an error description in
// place of a normal reply, with metadata marking it as an error. The
// transport still reports success; only the payload signals failure.
func ErrorResponse(sessionID string, err error) *AgentResponse {
	return &AgentResponse{
		Message:   "Error processing request: " + err.Error(),
		SessionID: sessionID,
		Metadata: map[string]any{
			"error":      true,
			"error_code": string(ErrorCodeOf(err)),
		},
		Timestamp: time.Now(),
	}
}

// ToolDescriptor describes one tool the agent can use, for manifest
// generation. InputSchema is the raw JSON Schema document; adapters must
// project it verbatim rather than authoring a parallel copy.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// AgentSchema is the agent's self-description, consumed by manifest
// generation and the MCP tool list. Input/output schemas are kept as raw
// JSON so every projection shares the same bytes.
type AgentSchema struct {
	Name         string           `json:"name"`
	Description  string           `json:"description"`
	Version      string           `json:"version"`
	InputSchema  json.RawMessage  `json:"input_schema"`
	OutputSchema json.RawMessage  `json:"output_schema"`
	Tools        []ToolDescriptor `json:"tools,omitempty"`
}

// Agent is the opaque conversational capability every adapter shares.
// Exactly one instance is borrowed by reference across all adapters for
// the process lifetime.
type Agent interface {
	Name() string
	// Initialize is called once at startup before the first Process call.
	Initialize(ctx context.Context) error
	Process(ctx context.Context, req AgentRequest) (*AgentResponse, error)
	Schema() AgentSchema
}

// StreamDelta is one incremental chunk of a streaming agent reply.
type StreamDelta struct {
	Content string `json:"content,omitempty"`
	Done    bool   `json:"done,omitempty"`
}

// StreamingAgent is implemented by agents that can produce incremental
// output. The gateway falls back to a single chunk of the full Process
// reply when the agent does not implement it.
type StreamingAgent interface {
	Agent
	ProcessStream(ctx context.Context, req AgentRequest) (<-chan StreamDelta, error)
}
