package domain

import "net/http"

// AdapterConfig identifies one adapter instance within the registry.
// Immutable after construction.
type AdapterConfig struct {
	Name    string         `json:"name"    yaml:"name"`
	Prefix  string         `json:"prefix"  yaml:"prefix"`
	Enabled bool           `json:"enabled" yaml:"enabled"`
	Config  map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// Route is one path+method an adapter owns under its prefix.
type Route struct {
	Method  string
	Path    string // absolute, prefix included (e.g. "/mcp/")
	Handler http.HandlerFunc
}

// Manifest is a protocol-specific capability document.
type Manifest map[string]any

// Adapter is a protocol-specific translation unit. Implementations own a
// set of routes under a unique path prefix, translate payloads in both
// directions, and report a manifest derived from their static config and
// the agent's schema. Manifest must be pure: no side effects, safe to call
// repeatedly and concurrently.
type Adapter interface {
	Name() string
	Prefix() string
	Routes() []Route
	Manifest() Manifest
}

// AdapterConstructor builds an adapter bound to the shared agent and its
// config. Registered once per adapter type at startup.
type AdapterConstructor func(agent Agent, cfg AdapterConfig) (Adapter, error)
