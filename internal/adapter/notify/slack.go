package notify

import (
	"context"

	"github.com/slack-go/slack"

	"agentrelay/internal/domain"
)

// slackPoster is the slice of the Slack client this sink needs; tests
// substitute a fake.
type slackPoster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// SlackNotifier posts replies into a Slack channel via the Web API.
type SlackNotifier struct {
	api            slackPoster
	defaultChannel string
}

func NewSlackNotifier(botToken, defaultChannel string) *SlackNotifier {
	return &SlackNotifier{
		api:            slack.New(botToken),
		defaultChannel: defaultChannel,
	}
}

func (s *SlackNotifier) Platform() string { return "slack" }

func (s *SlackNotifier) Send(ctx context.Context, n domain.Notification) error {
	channel := n.Recipient
	if channel == "" {
		channel = s.defaultChannel
	}
	_, _, err := s.api.PostMessageContext(ctx, channel, slack.MsgOptionText(n.Text, false))
	return err
}
