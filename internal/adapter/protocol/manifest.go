package protocol

import (
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"agentrelay/internal/domain"
)

// ManifestGenerator derives every protocol-facing description of the
// capability from a single AgentSchema. Each projection is a pure function
// of the schema and static config; nothing here mutates shared state or
// caches output, so manifests can be produced in any order, any number of
// times, before or after traffic.
type ManifestGenerator struct {
	schema  domain.AgentSchema
	baseURL string
}

func NewManifestGenerator(schema domain.AgentSchema, baseURL string) *ManifestGenerator {
	return &ManifestGenerator{schema: schema, baseURL: baseURL}
}

// chatTool builds the single conversational tool every protocol exposes.
// The input schema is the agent's raw schema bytes, never a re-typed copy.
func (g *ManifestGenerator) chatTool() mcp.Tool {
	return mcp.NewToolWithRawSchema("chat", g.chatToolDescription(), g.schema.InputSchema)
}

func (g *ManifestGenerator) chatToolDescription() string {
	if g.schema.Description != "" {
		return g.schema.Description
	}
	return "Send a message to the agent and receive a reply"
}

// Tools lists the chat tool followed by the agent's declared helper tools.
func (g *ManifestGenerator) Tools() []mcp.Tool {
	tools := make([]mcp.Tool, 0, len(g.schema.Tools)+1)
	tools = append(tools, g.chatTool())
	for _, t := range g.schema.Tools {
		tools = append(tools, mcp.NewToolWithRawSchema(t.Name, t.Description, t.InputSchema))
	}
	return tools
}

// MCP renders the tool-protocol server manifest.
func (g *ManifestGenerator) MCP(prefix string) domain.Manifest {
	return domain.Manifest{
		"protocol":        "mcp",
		"protocolVersion": mcp.LATEST_PROTOCOL_VERSION,
		"endpoint":        g.endpoint(prefix),
		"serverInfo": map[string]any{
			"name":    g.schema.Name,
			"version": g.schema.Version,
		},
		"capabilities": map[string]any{
			"tools":     map[string]any{"listChanged": false},
			"resources": map[string]any{"listChanged": false},
			"prompts":   map[string]any{"listChanged": false},
		},
		"tools": g.Tools(),
	}
}

// Webhook renders the generic webhook manifest, naming every route the
// adapter serves.
func (g *ManifestGenerator) Webhook(prefix string) domain.Manifest {
	base := g.endpoint(prefix)
	return domain.Manifest{
		"protocol":    "webhook",
		"name":        g.schema.Name,
		"description": g.schema.Description,
		"version":     g.schema.Version,
		"endpoints": map[string]any{
			"generic":  base,
			"telegram": base + "/telegram",
			"slack":    base + "/slack",
		},
		"input_schema":  g.schema.InputSchema,
		"output_schema": g.schema.OutputSchema,
	}
}

// PeerCard renders the discovery card shared by the agent-to-agent
// protocols; protocol distinguishes the two dialects.
func (g *ManifestGenerator) PeerCard(protocol, prefix string) domain.Manifest {
	base := g.endpoint(prefix)
	return domain.Manifest{
		"protocol":    protocol,
		"name":        g.schema.Name,
		"description": g.schema.Description,
		"version":     g.schema.Version,
		"url":         base,
		"skills": []map[string]any{
			{
				"id":           "chat",
				"name":         "chat",
				"description":  g.chatToolDescription(),
				"input_schema": g.schema.InputSchema,
			},
		},
		"capabilities": map[string]any{
			"streaming":          false,
			"push_notifications": false,
		},
	}
}

// OpenAPI renders a minimal OpenAPI 3 document covering the gateway's
// direct chat route, referencing the same raw schema bytes as every other
// projection.
func (g *ManifestGenerator) OpenAPI() domain.Manifest {
	return domain.Manifest{
		"openapi": "3.0.3",
		"info": map[string]any{
			"title":       g.schema.Name,
			"description": g.schema.Description,
			"version":     g.schema.Version,
		},
		"paths": map[string]any{
			"/agent/chat": map[string]any{
				"post": map[string]any{
					"operationId": "chat",
					"requestBody": map[string]any{
						"required": true,
						"content": map[string]any{
							"application/json": map[string]any{
								"schema": g.schema.InputSchema,
							},
						},
					},
					"responses": map[string]any{
						"200": map[string]any{
							"description": "Agent reply",
							"content": map[string]any{
								"application/json": map[string]any{
									"schema": g.schema.OutputSchema,
								},
							},
						},
					},
				},
			},
		},
	}
}

func (g *ManifestGenerator) endpoint(prefix string) string {
	return fmt.Sprintf("%s/%s", g.baseURL, prefix)
}
