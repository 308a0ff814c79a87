package protocol

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/slack-go/slack/slackevents"

	"agentrelay/internal/adapter/notify"
	"agentrelay/internal/domain"
)

// webhookPayload is the normalized inbound shape every platform route is
// reduced to before the agent sees it.
type webhookPayload struct {
	Message   string         `json:"message"`
	UserID    string         `json:"user_id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Platform  string         `json:"platform,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// webhookReply mirrors the payload shape on the way out, carrying the
// agent's answer and its metadata.
type webhookReply struct {
	Message   string         `json:"message"`
	UserID    string         `json:"user_id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Platform  string         `json:"platform,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// WebhookAdapter serves a generic JSON webhook plus per-platform routes
// that normalize native payloads (Telegram updates, Slack event callbacks)
// into the generic shape. When a notifier is configured for the source
// platform, the reply is additionally pushed back out-of-band; that push
// is fire-and-forget and never affects the HTTP response.
type WebhookAdapter struct {
	agent      domain.Agent
	cfg        domain.AdapterConfig
	manifests  *ManifestGenerator
	dispatcher *notify.Dispatcher
	log        *slog.Logger
}

func NewWebhookAdapter(agent domain.Agent, cfg domain.AdapterConfig, manifests *ManifestGenerator, dispatcher *notify.Dispatcher, log *slog.Logger) (*WebhookAdapter, error) {
	return &WebhookAdapter{
		agent:      agent,
		cfg:        cfg,
		manifests:  manifests,
		dispatcher: dispatcher,
		log:        log,
	}, nil
}

func WebhookConstructor(manifests *ManifestGenerator, dispatcher *notify.Dispatcher, log *slog.Logger) domain.AdapterConstructor {
	return func(agent domain.Agent, cfg domain.AdapterConfig) (domain.Adapter, error) {
		return NewWebhookAdapter(agent, cfg, manifests, dispatcher, log)
	}
}

func (a *WebhookAdapter) Name() string   { return a.cfg.Name }
func (a *WebhookAdapter) Prefix() string { return a.cfg.Prefix }

func (a *WebhookAdapter) Routes() []domain.Route {
	base := "/" + a.cfg.Prefix
	return []domain.Route{
		{Method: http.MethodPost, Path: base, Handler: a.handleGeneric},
		{Method: http.MethodPost, Path: base + "/telegram", Handler: a.handleTelegram},
		{Method: http.MethodPost, Path: base + "/slack", Handler: a.handleSlack},
	}
}

func (a *WebhookAdapter) Manifest() domain.Manifest {
	return a.manifests.Webhook(a.cfg.Prefix)
}

func (a *WebhookAdapter) handleGeneric(w http.ResponseWriter, r *http.Request) {
	var payload webhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeClientError(w, "invalid webhook payload: "+err.Error())
		return
	}
	a.respond(r.Context(), w, payload)
}

// telegramUpdate covers the slice of the Telegram Bot API update we care
// about: message text, sender, chat.
type telegramUpdate struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		MessageID int64  `json:"message_id"`
		Text      string `json:"text"`
		From      struct {
			ID int64 `json:"id"`
		} `json:"from"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
	} `json:"message"`
}

func (a *WebhookAdapter) handleTelegram(w http.ResponseWriter, r *http.Request) {
	var update telegramUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeClientError(w, "invalid telegram update: "+err.Error())
		return
	}
	if update.Message == nil {
		writeClientError(w, "invalid telegram update: missing message")
		return
	}
	if update.Message.Text == "" {
		writeClientError(w, "invalid telegram update: missing message.text")
		return
	}
	if update.Message.Chat.ID == 0 {
		writeClientError(w, "invalid telegram update: missing message.chat.id")
		return
	}

	chatID := strconv.FormatInt(update.Message.Chat.ID, 10)
	a.respond(r.Context(), w, webhookPayload{
		Message:   update.Message.Text,
		UserID:    strconv.FormatInt(update.Message.From.ID, 10),
		SessionID: chatID,
		Platform:  "telegram",
		Metadata: map[string]any{
			"chat_id":    chatID,
			"message_id": update.Message.MessageID,
		},
	})
}

func (a *WebhookAdapter) handleSlack(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeClientError(w, "read slack event: "+err.Error())
		return
	}

	event, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		writeClientError(w, "invalid slack event: "+err.Error())
		return
	}

	switch event.Type {
	case slackevents.URLVerification:
		var challenge slackevents.ChallengeResponse
		if err := json.Unmarshal(body, &challenge); err != nil {
			writeClientError(w, "invalid slack challenge: "+err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"challenge": challenge.Challenge})
		return

	case slackevents.CallbackEvent:
		var text, user, channel string
		switch ev := event.InnerEvent.Data.(type) {
		case *slackevents.MessageEvent:
			// Ignore messages the bot itself produced.
			if ev.BotID != "" {
				writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
				return
			}
			text, user, channel = ev.Text, ev.User, ev.Channel
		case *slackevents.AppMentionEvent:
			text, user, channel = ev.Text, ev.User, ev.Channel
		default:
			writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
			return
		}

		a.respond(r.Context(), w, webhookPayload{
			Message:   text,
			UserID:    user,
			SessionID: channel,
			Platform:  "slack",
			Metadata:  map[string]any{"channel": channel},
		})
		return

	default:
		writeClientError(w, "unsupported slack event type: "+event.Type)
	}
}

// respond runs the normalized payload through the agent and writes the
// reply. When a session id is absent but a user id is present, the session
// is derived as platform-scoped so repeat callers keep their history.
func (a *WebhookAdapter) respond(ctx context.Context, w http.ResponseWriter, payload webhookPayload) {
	sessionID := payload.SessionID
	if sessionID == "" && payload.UserID != "" {
		platform := payload.Platform
		if platform == "" {
			platform = "webhook"
		}
		sessionID = platform + "-" + payload.UserID
	}

	meta := map[string]any{metaSourceProtocol: "webhook"}
	if payload.Platform != "" {
		meta["platform"] = payload.Platform
	}
	if payload.UserID != "" {
		meta["user_id"] = payload.UserID
	}
	for k, v := range payload.Metadata {
		meta[k] = v
	}

	resp := process(ctx, a.agent, "webhook", domain.AgentRequest{
		Message:   payload.Message,
		SessionID: sessionID,
		Metadata:  meta,
	})

	a.pushReply(payload, resp.Message)

	writeJSON(w, http.StatusOK, webhookReply{
		Message:   resp.Message,
		UserID:    payload.UserID,
		SessionID: resp.SessionID,
		Platform:  payload.Platform,
		Metadata:  resp.Metadata,
		Timestamp: resp.Timestamp,
	})
}

// pushReply sends the agent's answer back through the platform's own
// channel when one is wired. Failures are logged and dropped; webhook
// callers already have the reply in the HTTP response.
func (a *WebhookAdapter) pushReply(payload webhookPayload, text string) {
	if a.dispatcher == nil || payload.Platform == "" || !a.dispatcher.Supports(payload.Platform) {
		return
	}

	recipient := payload.SessionID
	if recipient == "" {
		recipient = payload.UserID
	}
	if recipient == "" {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.dispatcher.Send(ctx, domain.Notification{
			Platform:  payload.Platform,
			Recipient: recipient,
			Text:      text,
		}); err != nil {
			a.log.Warn("webhook reply push failed", "platform", payload.Platform, "error", err)
		}
	}()
}
