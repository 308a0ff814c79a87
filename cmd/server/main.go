package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	agentadapter "agentrelay/internal/adapter/agent"
	"agentrelay/internal/adapter/gateway"
	"agentrelay/internal/adapter/notify"
	"agentrelay/internal/adapter/protocol"
	"agentrelay/internal/domain"
	"agentrelay/internal/infra/config"
	"agentrelay/internal/infra/logger"
	"agentrelay/internal/infra/tracer"
)

const (
	exchangeStoreSize = 1000
	exchangeStoreTTL  = time.Hour
)

func main() {
	configPath := flag.String("config", "agentrelay.yaml", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer shutdownTracer(context.Background())

	registry := protocol.NewRegistry()
	srv := gateway.NewServer(cfg, registry, log)
	srv.SetState(gateway.StateInitializing)

	// Agent init failure leaves the gateway serving in a degraded state:
	// health and discovery stay up, agent-dependent routes answer 503.
	agent, history, err := buildAgent(cfg, log)
	if err == nil {
		if ierr := agent.Initialize(ctx); ierr != nil {
			err = ierr
		}
	}
	if err != nil {
		log.Error("agent initialization failed, serving degraded", "error", err)
		srv.ReserveUnavailable(enabledPrefixes(cfg))
		srv.SetState(gateway.StateUninitialized)
		return srv.Start(ctx)
	}
	if history != nil {
		defer history.Close()
	}

	manifests := protocol.NewManifestGenerator(agent.Schema(), cfg.Server.BaseURL)
	srv.SetAgent(agent, manifests)

	dispatcher := buildDispatcher(cfg, log)

	stores := registerAdapterTypes(registry, manifests, dispatcher, log)
	defer func() {
		for _, s := range stores {
			s.Close()
		}
	}()

	if err := createAdapters(cfg, registry, agent, log); err != nil {
		return err
	}
	registry.RegisterRoutes(srv)

	srv.SetState(gateway.StateReady)
	return srv.Start(ctx)
}

func buildAgent(cfg *config.Config, log *slog.Logger) (domain.Agent, agentadapter.HistoryStore, error) {
	var history agentadapter.HistoryStore
	if cfg.Agent.HistoryPath != "" {
		sqlite, err := agentadapter.NewSQLiteHistory(cfg.Agent.HistoryPath)
		if err != nil {
			return nil, nil, err
		}
		history = sqlite
	} else {
		history = agentadapter.NewMemoryHistory()
	}

	switch cfg.Agent.Backend {
	case "bedrock":
		agent, err := agentadapter.NewBedrockAgent(cfg.Agent, history, log)
		if err != nil {
			history.Close()
			return nil, nil, err
		}
		return agent, history, nil
	default:
		return agentadapter.NewExampleAgent(history, log), history, nil
	}
}

func buildDispatcher(cfg *config.Config, log *slog.Logger) *notify.Dispatcher {
	dispatcher := notify.NewDispatcher(log)

	if cfg.Notify.Telegram.Token != "" {
		dispatcher.Register(notify.NewBreakerNotifier(
			notify.NewTelegramNotifier(cfg.Notify.Telegram.Token), log))
	}
	if cfg.Notify.Slack.BotToken != "" {
		dispatcher.Register(notify.NewBreakerNotifier(
			notify.NewSlackNotifier(cfg.Notify.Slack.BotToken, cfg.Notify.Slack.Channel), log))
	}
	if cfg.Notify.Discord.Token != "" {
		discord, err := notify.NewDiscordNotifier(cfg.Notify.Discord.Token, cfg.Notify.Discord.ChannelID)
		if err != nil {
			log.Warn("discord notifier disabled", "error", err)
		} else {
			dispatcher.Register(notify.NewBreakerNotifier(discord, log))
		}
	}
	return dispatcher
}

// registerAdapterTypes binds every known adapter constructor; each peer
// dialect gets its own exchange store so task listings stay separate.
func registerAdapterTypes(registry *protocol.Registry, manifests *protocol.ManifestGenerator, dispatcher *notify.Dispatcher, log *slog.Logger) []*protocol.ExchangeStore {
	a2aStore := protocol.NewExchangeStore(exchangeStoreSize, exchangeStoreTTL, log)
	acpStore := protocol.NewExchangeStore(exchangeStoreSize, exchangeStoreTTL, log)

	registry.RegisterType("mcp", protocol.MCPConstructor(manifests, log))
	registry.RegisterType("webhook", protocol.WebhookConstructor(manifests, dispatcher, log))
	registry.RegisterType("a2a", protocol.A2AConstructor(manifests, a2aStore, log))
	registry.RegisterType("acp", protocol.ACPConstructor(manifests, acpStore, log))

	return []*protocol.ExchangeStore{a2aStore, acpStore}
}

func createAdapters(cfg *config.Config, registry *protocol.Registry, agent domain.Agent, log *slog.Logger) error {
	toggles := []struct {
		typeName string
		toggle   config.AdapterToggle
	}{
		{"mcp", cfg.Adapters.MCP},
		{"webhook", cfg.Adapters.Webhook},
		{"a2a", cfg.Adapters.A2A},
		{"acp", cfg.Adapters.ACP},
	}

	for _, t := range toggles {
		if !t.toggle.Enabled {
			continue
		}
		_, err := registry.Create(t.typeName, agent, domain.AdapterConfig{
			Name:    t.typeName,
			Prefix:  t.toggle.Prefix,
			Enabled: true,
		})
		if err != nil {
			return fmt.Errorf("create %s adapter: %w", t.typeName, err)
		}
		log.Info("adapter registered", "type", t.typeName, "prefix", t.toggle.Prefix)
	}
	return nil
}

func enabledPrefixes(cfg *config.Config) []string {
	var prefixes []string
	for _, t := range []config.AdapterToggle{
		cfg.Adapters.MCP, cfg.Adapters.Webhook, cfg.Adapters.A2A, cfg.Adapters.ACP,
	} {
		if t.Enabled {
			prefixes = append(prefixes, t.Prefix)
		}
	}
	return prefixes
}
