// Package agent hosts the conversational capability behind the relay:
// the demo echo agent, the Bedrock-backed agent, and the conversation
// history they share.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"agentrelay/internal/domain"
)

var chatInputSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"message": {
			"type": "string",
			"description": "Message to send to the agent"
		},
		"session_id": {
			"type": "string",
			"description": "Session identifier for conversation continuity"
		},
		"metadata": {
			"type": "object",
			"description": "Optional request metadata"
		}
	},
	"required": ["message"]
}`)

var chatOutputSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"message": {"type": "string"},
		"session_id": {"type": "string"},
		"metadata": {"type": "object"},
		"tools_used": {"type": "array", "items": {"type": "string"}},
		"timestamp": {"type": "string", "format": "date-time"}
	},
	"required": ["message", "timestamp"]
}`)

var clockToolSchema = json.RawMessage(`{
	"type": "object",
	"properties": {},
	"additionalProperties": false
}`)

// ExampleAgent is a self-contained demo capability: it echoes messages,
// answers time questions with its clock tool, and keeps per-session
// history so replies can reference conversation length. It exists so the
// relay runs end to end without external credentials.
type ExampleAgent struct {
	name    string
	history HistoryStore
	logger  *slog.Logger
	clock   func() time.Time
}

// ExampleOption configures the agent.
type ExampleOption func(*ExampleAgent)

// WithClock overrides the time source, used by tests.
func WithClock(fn func() time.Time) ExampleOption {
	return func(a *ExampleAgent) { a.clock = fn }
}

func NewExampleAgent(history HistoryStore, logger *slog.Logger, opts ...ExampleOption) *ExampleAgent {
	a := &ExampleAgent{
		name:    "example-agent",
		history: history,
		logger:  logger,
		clock:   time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *ExampleAgent) Name() string { return a.name }

func (a *ExampleAgent) Initialize(ctx context.Context) error {
	a.logger.Info("example agent initialized")
	return nil
}

func (a *ExampleAgent) Schema() domain.AgentSchema {
	return domain.AgentSchema{
		Name:         a.name,
		Description:  "Echo agent with a clock tool and session memory",
		Version:      "1.0.0",
		InputSchema:  chatInputSchema,
		OutputSchema: chatOutputSchema,
		Tools: []domain.ToolDescriptor{
			{
				Name:        "clock",
				Description: "Report the current server time",
				InputSchema: clockToolSchema,
			},
		},
	}
}

func (a *ExampleAgent) Process(ctx context.Context, req domain.AgentRequest) (*domain.AgentResponse, error) {
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = MintSessionID()
	}

	turns, err := a.history.History(ctx, sessionID, 50)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	reply, toolsUsed := a.reply(req, len(turns))

	now := a.clock()
	if err := a.history.Append(ctx, sessionID, Turn{Role: "user", Content: req.Message, CreatedAt: now}); err != nil {
		a.logger.Warn("history append failed", "session_id", sessionID, "error", err)
	}
	if err := a.history.Append(ctx, sessionID, Turn{Role: "assistant", Content: reply, CreatedAt: now}); err != nil {
		a.logger.Warn("history append failed", "session_id", sessionID, "error", err)
	}

	return &domain.AgentResponse{
		Message:   reply,
		SessionID: sessionID,
		Metadata:  map[string]any{"agent": a.name, "turns": len(turns)},
		ToolsUsed: toolsUsed,
		Timestamp: now,
	}, nil
}

// ProcessStream emits the reply in word-sized chunks.
func (a *ExampleAgent) ProcessStream(ctx context.Context, req domain.AgentRequest) (<-chan domain.StreamDelta, error) {
	resp, err := a.Process(ctx, req)
	if err != nil {
		return nil, err
	}

	words := strings.SplitAfter(resp.Message, " ")
	ch := make(chan domain.StreamDelta, len(words)+1)
	go func() {
		defer close(ch)
		for _, w := range words {
			select {
			case ch <- domain.StreamDelta{Content: w}:
			case <-ctx.Done():
				return
			}
		}
		ch <- domain.StreamDelta{Done: true}
	}()
	return ch, nil
}

func (a *ExampleAgent) reply(req domain.AgentRequest, turns int) (string, []string) {
	msg := strings.ToLower(strings.TrimSpace(req.Message))

	switch {
	case wantsTool(req, "clock") || strings.Contains(msg, "time") || strings.Contains(msg, "clock"):
		return fmt.Sprintf("The current time is %s.", a.clock().Format(time.RFC1123)), []string{"clock"}
	case msg == "help":
		return "I echo what you say. Ask about the time to see my clock tool.", nil
	case msg == "":
		return "Say something and I will echo it back.", nil
	default:
		if turns > 0 {
			return fmt.Sprintf("You said: %q (turn %d of this session)", req.Message, turns/2+1), nil
		}
		return fmt.Sprintf("You said: %q", req.Message), nil
	}
}

func wantsTool(req domain.AgentRequest, name string) bool {
	for _, t := range req.Tools {
		if t == name {
			return true
		}
	}
	return false
}

// MintSessionID produces a sortable unique session identifier.
func MintSessionID() string {
	return ulid.Make().String()
}

var (
	_ domain.Agent          = (*ExampleAgent)(nil)
	_ domain.StreamingAgent = (*ExampleAgent)(nil)
)
