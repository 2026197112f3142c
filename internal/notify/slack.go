package notify

import (
	"context"
	"fmt"

	slackapi "github.com/slack-go/slack"
)

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// Slack posts operator alerts to a Slack channel as colored attachments.
type Slack struct {
	client    slackClient
	channelID string
}

// SlackOpts holds parameters for creating a Slack notifier.
type SlackOpts struct {
	BotToken  string
	ChannelID string
	// For testing: inject a mock client instead of the real Slack API.
	Client slackClient
}

// NewSlack creates a Slack notifier.
func NewSlack(opts SlackOpts) (*Slack, error) {
	if opts.ChannelID == "" {
		return nil, fmt.Errorf("notify: slack: channel is required")
	}
	if opts.Client == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("notify: slack: bot token is required")
	}

	n := &Slack{channelID: opts.ChannelID}
	if opts.Client != nil {
		n.client = opts.Client
	} else {
		n.client = slackapi.New(opts.BotToken)
	}
	return n, nil
}

// Notify implements Notifier.
func (n *Slack) Notify(ctx context.Context, alert Alert) error {
	attachment := slackapi.Attachment{
		Title: alert.Title,
		Text:  alert.Body,
		Color: severityColor(alert.Severity),
	}
	_, _, err := n.client.PostMessageContext(ctx, n.channelID,
		slackapi.MsgOptionAttachments(attachment))
	if err != nil {
		return fmt.Errorf("notify: slack: post alert: %w", err)
	}
	return nil
}
