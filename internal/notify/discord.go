package notify

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// discordSession abstracts the discordgo methods we use, enabling test mocks.
type discordSession interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord posts operator alerts to a Discord channel as embeds. Alerts go
// over the REST API only; no Gateway WebSocket is needed for send-only use.
type Discord struct {
	sess      discordSession
	channelID string
}

// DiscordOpts holds parameters for creating a Discord notifier.
type DiscordOpts struct {
	BotToken  string
	ChannelID string
	// For testing: inject a mock session instead of the real Discord API.
	Session discordSession
}

// NewDiscord creates a Discord notifier.
func NewDiscord(opts DiscordOpts) (*Discord, error) {
	if opts.ChannelID == "" {
		return nil, fmt.Errorf("notify: discord: channel is required")
	}
	if opts.Session == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("notify: discord: bot token is required")
	}

	n := &Discord{channelID: opts.ChannelID}
	if opts.Session != nil {
		n.sess = opts.Session
	} else {
		dg, err := discordgo.New("Bot " + opts.BotToken)
		if err != nil {
			return nil, fmt.Errorf("notify: discord: create session: %w", err)
		}
		n.sess = dg
	}
	return n, nil
}

// Notify implements Notifier.
func (n *Discord) Notify(ctx context.Context, alert Alert) error {
	embed := &discordgo.MessageEmbed{
		Title:       alert.Title,
		Description: alert.Body,
		Color:       hexColor(severityColor(alert.Severity)),
	}
	if _, err := n.sess.ChannelMessageSendEmbed(n.channelID, embed, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("notify: discord: post alert: %w", err)
	}
	return nil
}

// hexColor converts "#rrggbb" to the integer form Discord embeds use.
func hexColor(s string) int {
	v, err := strconv.ParseInt(strings.TrimPrefix(s, "#"), 16, 32)
	if err != nil {
		return 0
	}
	return int(v)
}
