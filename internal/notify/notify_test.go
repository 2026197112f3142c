package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/bwmarrin/discordgo"
	slackapi "github.com/slack-go/slack"
)

// --- Slack ---

type mockSlackClient struct {
	channels []string
	err      error
}

func (m *mockSlackClient) PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error) {
	if m.err != nil {
		return "", "", m.err
	}
	m.channels = append(m.channels, channelID)
	return channelID, "ts", nil
}

func TestSlack_Notify(t *testing.T) {
	client := &mockSlackClient{}
	n, err := NewSlack(SlackOpts{ChannelID: "C01", Client: client})
	if err != nil {
		t.Fatalf("NewSlack: %v", err)
	}

	err = n.Notify(context.Background(), Alert{Title: "Unroutable event", Body: "details", Severity: SeverityWarning})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(client.channels) != 1 || client.channels[0] != "C01" {
		t.Errorf("posted to %v, want [C01]", client.channels)
	}
}

func TestSlack_NotifyError(t *testing.T) {
	client := &mockSlackClient{err: errors.New("channel_not_found")}
	n, _ := NewSlack(SlackOpts{ChannelID: "C01", Client: client})

	if err := n.Notify(context.Background(), Alert{Title: "x"}); err == nil {
		t.Fatal("expected error to propagate")
	}
}

func TestNewSlack_Validation(t *testing.T) {
	if _, err := NewSlack(SlackOpts{BotToken: "xoxb"}); err == nil {
		t.Error("expected error without channel")
	}
	if _, err := NewSlack(SlackOpts{ChannelID: "C01"}); err == nil {
		t.Error("expected error without token or injected client")
	}
}

// --- Discord ---

type mockDiscordSession struct {
	embeds []*discordgo.MessageEmbed
	err    error
}

func (m *mockDiscordSession) ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.embeds = append(m.embeds, embed)
	return &discordgo.Message{}, nil
}

func TestDiscord_Notify(t *testing.T) {
	sess := &mockDiscordSession{}
	n, err := NewDiscord(DiscordOpts{ChannelID: "123", Session: sess})
	if err != nil {
		t.Fatalf("NewDiscord: %v", err)
	}

	err = n.Notify(context.Background(), Alert{Title: "Worker spawn failed", Body: "details", Severity: SeverityError})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(sess.embeds) != 1 {
		t.Fatalf("sent %d embeds, want 1", len(sess.embeds))
	}
	if sess.embeds[0].Title != "Worker spawn failed" {
		t.Errorf("Title = %q", sess.embeds[0].Title)
	}
	if sess.embeds[0].Color != 0xd62828 {
		t.Errorf("Color = %#x, want error red", sess.embeds[0].Color)
	}
}

func TestNewDiscord_Validation(t *testing.T) {
	if _, err := NewDiscord(DiscordOpts{BotToken: "tok"}); err == nil {
		t.Error("expected error without channel")
	}
	if _, err := NewDiscord(DiscordOpts{ChannelID: "123"}); err == nil {
		t.Error("expected error without token or injected session")
	}
}

// --- shared ---

func TestNop(t *testing.T) {
	if err := (Nop{}).Notify(context.Background(), Alert{Title: "x"}); err != nil {
		t.Fatalf("Nop.Notify: %v", err)
	}
}

func TestSeverityColor(t *testing.T) {
	if severityColor(SeverityError) == severityColor(SeverityInfo) {
		t.Error("error and info should differ")
	}
	if severityColor("unknown") != severityColor(SeverityInfo) {
		t.Error("unknown severity should fall back to info")
	}
}

func TestHexColor(t *testing.T) {
	if got := hexColor("#d62828"); got != 0xd62828 {
		t.Errorf("hexColor = %#x, want 0xd62828", got)
	}
	if got := hexColor("bogus"); got != 0 {
		t.Errorf("hexColor(bogus) = %d, want 0", got)
	}
}
