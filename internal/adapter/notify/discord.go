package notify

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"agentrelay/internal/domain"
)

// discordSender mirrors the one discordgo call this sink makes.
type discordSender interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordNotifier delivers replies to a Discord channel over the REST API.
// No gateway connection is opened; plain HTTP is enough for outbound-only
// use.
type DiscordNotifier struct {
	session        discordSender
	defaultChannel string
}

func NewDiscordNotifier(token, defaultChannel string) (*DiscordNotifier, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	return &DiscordNotifier{session: session, defaultChannel: defaultChannel}, nil
}

func (d *DiscordNotifier) Platform() string { return "discord" }

func (d *DiscordNotifier) Send(ctx context.Context, n domain.Notification) error {
	channel := n.Recipient
	if channel == "" {
		channel = d.defaultChannel
	}
	_, err := d.session.ChannelMessageSend(channel, n.Text, discordgo.WithContext(ctx))
	return err
}
