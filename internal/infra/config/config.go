package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Agent    AgentConfig    `yaml:"agent"`
	Adapters AdaptersConfig `yaml:"adapters"`
	Notify   NotifyConfig   `yaml:"notify"`
	Logger   LoggerConfig   `yaml:"logger"`
	Tracer   TracerConfig   `yaml:"tracer"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr      string          `yaml:"addr"`
	BaseURL   string          `yaml:"base_url"` // externally reachable base URL, used in manifests
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig holds per-IP token bucket settings.
type RateLimitConfig struct {
	Enabled        bool `yaml:"enabled"`
	RequestsPerMin int  `yaml:"requests_per_min"`
	BurstSize      int  `yaml:"burst_size"`
}

// AgentConfig selects and configures the agent capability backend.
type AgentConfig struct {
	Backend      string        `yaml:"backend"` // "example" or "bedrock"
	Model        string        `yaml:"model"`
	Region       string        `yaml:"region"`
	SystemPrompt string        `yaml:"system_prompt"`
	HistoryPath  string        `yaml:"history_path"` // sqlite file; empty = in-memory only
	MaxTokens    int           `yaml:"max_tokens"`
	Timeout      time.Duration `yaml:"timeout"`
}

// AdapterToggle enables one protocol adapter and fixes its path prefix.
type AdapterToggle struct {
	Enabled bool   `yaml:"enabled"`
	Prefix  string `yaml:"prefix"`
}

// AdaptersConfig holds per-protocol adapter settings.
type AdaptersConfig struct {
	MCP     AdapterToggle `yaml:"mcp"`
	Webhook AdapterToggle `yaml:"webhook"`
	A2A     AdapterToggle `yaml:"a2a"`
	ACP     AdapterToggle `yaml:"acp"`
}

// NotifyConfig holds credentials for outbound delivery sinks. A sink is
// active when its token is non-empty.
type NotifyConfig struct {
	Telegram TelegramNotifyConfig `yaml:"telegram"`
	Slack    SlackNotifyConfig    `yaml:"slack"`
	Discord  DiscordNotifyConfig  `yaml:"discord"`
}

// TelegramNotifyConfig holds Telegram Bot API settings.
type TelegramNotifyConfig struct {
	Token string `yaml:"token"`
}

// SlackNotifyConfig holds Slack Web API settings.
type SlackNotifyConfig struct {
	BotToken string `yaml:"bot_token"`
	Channel  string `yaml:"channel,omitempty"` // default channel when the notification has no recipient
}

// DiscordNotifyConfig holds Discord bot settings.
type DiscordNotifyConfig struct {
	Token     string `yaml:"token"`
	ChannelID string `yaml:"channel_id,omitempty"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
	Output string `yaml:"output"` // stdout, stderr, or a file path
}

// TracerConfig holds OpenTelemetry settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // "stdout" or "noop"
}

// Defaults returns the baseline configuration.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:    ":8000",
			BaseURL: "http://localhost:8000",
			RateLimit: RateLimitConfig{
				Enabled:        true,
				RequestsPerMin: 120,
				BurstSize:      20,
			},
		},
		Agent: AgentConfig{
			Backend:   "example",
			Model:     "anthropic.claude-3-5-sonnet-20241022-v2:0",
			Region:    "us-east-1",
			MaxTokens: 4096,
			Timeout:   60 * time.Second,
		},
		Adapters: AdaptersConfig{
			MCP:     AdapterToggle{Enabled: true, Prefix: "mcp"},
			Webhook: AdapterToggle{Enabled: true, Prefix: "webhook"},
			A2A:     AdapterToggle{Enabled: true, Prefix: "a2a"},
			ACP:     AdapterToggle{Enabled: true, Prefix: "acp"},
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
	}
}

// Load reads a YAML config file and applies env var overrides. A missing
// file is not an error; defaults plus env overrides are returned.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			return cfg, Validate(cfg)
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	ApplyEnvOverrides(cfg)
	return cfg, Validate(cfg)
}

// ApplyEnvOverrides applies AGENTRELAY_* environment variables on top of
// the loaded configuration.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AGENTRELAY_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("AGENTRELAY_BASE_URL"); v != "" {
		cfg.Server.BaseURL = v
	}
	if v := os.Getenv("AGENTRELAY_AGENT_BACKEND"); v != "" {
		cfg.Agent.Backend = v
	}
	if v := os.Getenv("AGENTRELAY_AGENT_MODEL"); v != "" {
		cfg.Agent.Model = v
	}
	if v := os.Getenv("AGENTRELAY_AGENT_REGION"); v != "" {
		cfg.Agent.Region = v
	}
	if v := os.Getenv("AGENTRELAY_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("AGENTRELAY_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("AGENTRELAY_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
		if cfg.Tracer.Exporter == "" || cfg.Tracer.Exporter == "noop" {
			cfg.Tracer.Exporter = "stdout"
		}
	}

	applyToggleEnv("AGENTRELAY_MCP_ENABLED", &cfg.Adapters.MCP)
	applyToggleEnv("AGENTRELAY_WEBHOOK_ENABLED", &cfg.Adapters.Webhook)
	applyToggleEnv("AGENTRELAY_A2A_ENABLED", &cfg.Adapters.A2A)
	applyToggleEnv("AGENTRELAY_ACP_ENABLED", &cfg.Adapters.ACP)

	if v := os.Getenv("AGENTRELAY_TELEGRAM_TOKEN"); v != "" {
		cfg.Notify.Telegram.Token = v
	}
	if v := os.Getenv("AGENTRELAY_SLACK_BOT_TOKEN"); v != "" {
		cfg.Notify.Slack.BotToken = v
	}
	if v := os.Getenv("AGENTRELAY_DISCORD_TOKEN"); v != "" {
		cfg.Notify.Discord.Token = v
	}
}

func applyToggleEnv(key string, t *AdapterToggle) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if b, err := strconv.ParseBool(v); err == nil {
		t.Enabled = b
	}
}

// Validate checks invariants that would otherwise surface as route
// collisions or silent misconfiguration at startup.
func Validate(cfg *Config) error {
	if cfg.Server.Addr == "" {
		return fmt.Errorf("server.addr must not be empty")
	}

	seen := map[string]string{}
	for name, t := range map[string]AdapterToggle{
		"mcp":     cfg.Adapters.MCP,
		"webhook": cfg.Adapters.Webhook,
		"a2a":     cfg.Adapters.A2A,
		"acp":     cfg.Adapters.ACP,
	} {
		if !t.Enabled {
			continue
		}
		if t.Prefix == "" {
			return fmt.Errorf("adapter %q enabled with empty prefix", name)
		}
		if other, dup := seen[t.Prefix]; dup {
			return fmt.Errorf("adapters %q and %q share prefix %q", other, name, t.Prefix)
		}
		seen[t.Prefix] = name
	}

	switch cfg.Agent.Backend {
	case "", "example", "bedrock":
	default:
		return fmt.Errorf("unknown agent backend %q", cfg.Agent.Backend)
	}

	return nil
}
