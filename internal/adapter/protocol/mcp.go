package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"agentrelay/internal/domain"
)

// mcpMethod enumerates the JSON-RPC methods this adapter serves. Dispatch
// is a closed switch over these values; anything else is a method-not-found
// error, never a silent fallthrough.
type mcpMethod string

const (
	methodInitialize    mcpMethod = "initialize"
	methodToolsList     mcpMethod = "tools/list"
	methodToolsCall     mcpMethod = "tools/call"
	methodResourcesList mcpMethod = "resources/list"
	methodResourcesRead mcpMethod = "resources/read"
	methodPromptsList   mcpMethod = "prompts/list"
	methodPromptsGet    mcpMethod = "prompts/get"
)

const schemaResourceURI = "agent://schema"

type mcpRequest struct {
	JSONRPC string          `json:"jsonrpc,omitempty"`
	Method  mcpMethod       `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

type mcpResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  any             `json:"result,omitempty"`
	Error   *mcpError       `json:"error,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

type mcpError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// toolCallResult is the tools/call payload: text content plus the agent
// reply's metadata so callers keep session and error context.
type toolCallResult struct {
	Content  []mcp.Content  `json:"content"`
	IsError  bool           `json:"isError,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// MCPAdapter serves the tool-protocol surface over a single JSON-RPC
// endpoint. Transport errors (malformed JSON-RPC, unknown methods, bad
// params) become JSON-RPC error objects inside an HTTP 200; agent failures
// become error-marked tool results. Neither surfaces as an HTTP error.
type MCPAdapter struct {
	agent     domain.Agent
	cfg       domain.AdapterConfig
	manifests *ManifestGenerator
	log       *slog.Logger

	// Compiled from the agent's raw input schema at construction. Nil when
	// the schema does not compile; validation is then skipped with a warn,
	// the call path stays open.
	chatSchema *jsonschema.Schema
	toolNames  map[string]bool
}

// NewMCPAdapter wires the adapter to an agent. The chat tool's input
// schema is the agent's schema bytes untouched.
func NewMCPAdapter(agent domain.Agent, cfg domain.AdapterConfig, manifests *ManifestGenerator, log *slog.Logger) (*MCPAdapter, error) {
	a := &MCPAdapter{
		agent:     agent,
		cfg:       cfg,
		manifests: manifests,
		log:       log,
		toolNames: make(map[string]bool),
	}
	schema := agent.Schema()
	for _, t := range schema.Tools {
		a.toolNames[t.Name] = true
	}

	if len(schema.InputSchema) > 0 {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("chat.json", bytes.NewReader(schema.InputSchema)); err == nil {
			if compiled, err := compiler.Compile("chat.json"); err == nil {
				a.chatSchema = compiled
			} else {
				log.Warn("chat input schema does not compile, argument validation disabled", "error", err)
			}
		}
	}
	return a, nil
}

// MCPConstructor adapts NewMCPAdapter to the registry's constructor shape.
func MCPConstructor(manifests *ManifestGenerator, log *slog.Logger) domain.AdapterConstructor {
	return func(agent domain.Agent, cfg domain.AdapterConfig) (domain.Adapter, error) {
		return NewMCPAdapter(agent, cfg, manifests, log)
	}
}

func (a *MCPAdapter) Name() string   { return a.cfg.Name }
func (a *MCPAdapter) Prefix() string { return a.cfg.Prefix }

func (a *MCPAdapter) Routes() []domain.Route {
	return []domain.Route{
		{Method: http.MethodPost, Path: "/" + a.cfg.Prefix, Handler: a.handleRPC},
	}
}

func (a *MCPAdapter) Manifest() domain.Manifest {
	return a.manifests.MCP(a.cfg.Prefix)
}

func (a *MCPAdapter) handleRPC(w http.ResponseWriter, r *http.Request) {
	var req mcpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.reply(w, mcpResponse{Error: &mcpError{Code: mcp.PARSE_ERROR, Message: "parse error: " + err.Error()}})
		return
	}

	resp := mcpResponse{ID: req.ID}
	switch req.Method {
	case methodInitialize:
		resp.Result = a.initialize()
	case methodToolsList:
		resp.Result = map[string]any{"tools": a.manifests.Tools()}
	case methodToolsCall:
		resp.Result, resp.Error = a.callTool(r, req.Params)
	case methodResourcesList:
		resp.Result = a.listResources()
	case methodResourcesRead:
		resp.Result, resp.Error = a.readResource(req.Params)
	case methodPromptsList:
		resp.Result = a.listPrompts()
	case methodPromptsGet:
		resp.Result, resp.Error = a.getPrompt(req.Params)
	default:
		resp.Error = &mcpError{
			Code:    mcp.METHOD_NOT_FOUND,
			Message: fmt.Sprintf("method not found: %q", req.Method),
		}
	}

	a.reply(w, resp)
}

func (a *MCPAdapter) reply(w http.ResponseWriter, resp mcpResponse) {
	resp.JSONRPC = "2.0"
	writeJSON(w, http.StatusOK, resp)
}

func (a *MCPAdapter) initialize() any {
	schema := a.agent.Schema()
	return map[string]any{
		"protocolVersion": mcp.LATEST_PROTOCOL_VERSION,
		"capabilities": map[string]any{
			"tools":     map[string]any{"listChanged": false},
			"resources": map[string]any{"listChanged": false},
			"prompts":   map[string]any{"listChanged": false},
		},
		"serverInfo": mcp.Implementation{
			Name:    schema.Name,
			Version: schema.Version,
		},
	}
}

type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

func (a *MCPAdapter) callTool(r *http.Request, params json.RawMessage) (any, *mcpError) {
	var p toolCallParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &mcpError{Code: mcp.INVALID_PARAMS, Message: "invalid params: " + err.Error()}
	}
	if p.Name == "" {
		return nil, &mcpError{Code: mcp.INVALID_PARAMS, Message: "invalid params: missing tool name"}
	}

	// Tool name resolution happens before the agent is touched; calling an
	// unknown tool must not invoke the capability.
	switch {
	case p.Name == "chat":
		return a.callChat(r, p.Arguments)
	case a.toolNames[p.Name]:
		return a.callAgentTool(r, p.Name, p.Arguments)
	default:
		return nil, &mcpError{
			Code:    mcp.INVALID_PARAMS,
			Message: fmt.Sprintf("unknown tool: %q", p.Name),
		}
	}
}

type chatArguments struct {
	Message   string         `json:"message"`
	SessionID string         `json:"session_id"`
	Metadata  map[string]any `json:"metadata"`
}

func (a *MCPAdapter) callChat(r *http.Request, rawArgs json.RawMessage) (any, *mcpError) {
	if len(rawArgs) == 0 {
		rawArgs = json.RawMessage("{}")
	}

	if a.chatSchema != nil {
		var decoded any
		if err := json.Unmarshal(rawArgs, &decoded); err != nil {
			return nil, &mcpError{Code: mcp.INVALID_PARAMS, Message: "invalid params: " + err.Error()}
		}
		if err := a.chatSchema.Validate(decoded); err != nil {
			return nil, &mcpError{Code: mcp.INVALID_PARAMS, Message: "invalid params: " + err.Error()}
		}
	}

	var args chatArguments
	if err := json.Unmarshal(rawArgs, &args); err != nil {
		return nil, &mcpError{Code: mcp.INVALID_PARAMS, Message: "invalid params: " + err.Error()}
	}

	meta := map[string]any{metaSourceProtocol: "mcp", "tool": "chat"}
	for k, v := range args.Metadata {
		meta[k] = v
	}

	resp := process(r.Context(), a.agent, "mcp", domain.AgentRequest{
		Message:   args.Message,
		SessionID: args.SessionID,
		Metadata:  meta,
	})
	return a.toolResult(resp), nil
}

func (a *MCPAdapter) callAgentTool(r *http.Request, name string, rawArgs json.RawMessage) (any, *mcpError) {
	args := "{}"
	if len(rawArgs) > 0 {
		args = string(rawArgs)
	}
	resp := process(r.Context(), a.agent, "mcp", domain.AgentRequest{
		Message: fmt.Sprintf("Use the %s tool with arguments: %s", name, args),
		Tools:   []string{name},
		Metadata: map[string]any{
			metaSourceProtocol: "mcp",
			"tool":             name,
		},
	})
	return a.toolResult(resp), nil
}

func (a *MCPAdapter) toolResult(resp *domain.AgentResponse) toolCallResult {
	isError := false
	if v, ok := resp.Metadata["error"].(bool); ok {
		isError = v
	}
	return toolCallResult{
		Content:  []mcp.Content{mcp.NewTextContent(resp.Message)},
		IsError:  isError,
		Metadata: resp.Metadata,
	}
}

func (a *MCPAdapter) listResources() any {
	return map[string]any{
		"resources": []mcp.Resource{
			{
				URI:         schemaResourceURI,
				Name:        "Agent schema",
				Description: "Capability description and input/output schemas",
				MIMEType:    "application/json",
			},
		},
	}
}

type resourceReadParams struct {
	URI string `json:"uri"`
}

func (a *MCPAdapter) readResource(params json.RawMessage) (any, *mcpError) {
	var p resourceReadParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &mcpError{Code: mcp.INVALID_PARAMS, Message: "invalid params: " + err.Error()}
	}
	if p.URI != schemaResourceURI {
		return nil, &mcpError{Code: mcp.INVALID_PARAMS, Message: fmt.Sprintf("unknown resource: %q", p.URI)}
	}

	text, err := json.Marshal(a.agent.Schema())
	if err != nil {
		return nil, &mcpError{Code: mcp.INTERNAL_ERROR, Message: "marshal schema: " + err.Error()}
	}
	return map[string]any{
		"contents": []map[string]any{
			{
				"uri":      schemaResourceURI,
				"mimeType": "application/json",
				"text":     string(text),
			},
		},
	}, nil
}

func (a *MCPAdapter) listPrompts() any {
	return map[string]any{
		"prompts": []mcp.Prompt{
			{
				Name:        "chat",
				Description: a.manifests.chatToolDescription(),
				Arguments: []mcp.PromptArgument{
					{Name: "message", Description: "Message to send to the agent", Required: true},
				},
			},
		},
	}
}

type promptGetParams struct {
	Name      string            `json:"name"`
	Arguments map[string]string `json:"arguments"`
}

func (a *MCPAdapter) getPrompt(params json.RawMessage) (any, *mcpError) {
	var p promptGetParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &mcpError{Code: mcp.INVALID_PARAMS, Message: "invalid params: " + err.Error()}
	}
	if p.Name != "chat" {
		return nil, &mcpError{Code: mcp.INVALID_PARAMS, Message: fmt.Sprintf("unknown prompt: %q", p.Name)}
	}

	return map[string]any{
		"description": a.manifests.chatToolDescription(),
		"messages": []map[string]any{
			{
				"role":    "user",
				"content": mcp.NewTextContent(p.Arguments["message"]),
			},
		},
	}, nil
}
