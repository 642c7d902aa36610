package notify

import (
	"context"
	"fmt"
	"net/http"
)

// DiscordSender delivers ledger alerts to a Discord channel webhook.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender for the given webhook URL. It uses
// the package HTTP client, which gives up on a request after sendTimeout so a
// slow webhook cannot hold up the notifier.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{webhookURL: webhookURL, client: newHTTPClient()}
}

// Send posts a message to the Discord webhook. The title is rendered in bold
// using Discord markdown. Discord answers 204 No Content on success; any
// other non-2xx status is returned as an error with the start of the body.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	payload := map[string]string{
		"content": fmt.Sprintf("**%s**\n%s", title, message),
	}
	if err := postJSON(ctx, d.client, d.webhookURL, payload); err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	return nil
}

// Name returns the sender identifier used in notifier logs.
func (d *DiscordSender) Name() string { return "discord" }
