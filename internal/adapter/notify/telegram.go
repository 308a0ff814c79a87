package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"agentrelay/internal/domain"
)

const defaultTelegramAPI = "https://api.telegram.org"

// TelegramNotifier delivers replies through the Telegram Bot API's
// sendMessage call.
type TelegramNotifier struct {
	token   string
	baseURL string
	client  *http.Client
}

// TelegramOption configures the notifier.
type TelegramOption func(*TelegramNotifier)

// WithTelegramBaseURL overrides the API host, used by tests.
func WithTelegramBaseURL(url string) TelegramOption {
	return func(t *TelegramNotifier) { t.baseURL = url }
}

// WithTelegramHTTPClient overrides the HTTP client.
func WithTelegramHTTPClient(c *http.Client) TelegramOption {
	return func(t *TelegramNotifier) { t.client = c }
}

func NewTelegramNotifier(token string, opts ...TelegramOption) *TelegramNotifier {
	t := &TelegramNotifier{
		token:   token,
		baseURL: defaultTelegramAPI,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (t *TelegramNotifier) Platform() string { return "telegram" }

func (t *TelegramNotifier) Send(ctx context.Context, n domain.Notification) error {
	body, err := json.Marshal(map[string]string{
		"chat_id": n.Recipient,
		"text":    n.Text,
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telegram sendMessage: status %d: %s", resp.StatusCode, detail)
	}
	return nil
}
