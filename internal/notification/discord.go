package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"divergence-monitor/internal/model"
)

// Discord embed colors for the two signal directions.
const (
	colorBullish = 3066993  // green
	colorBearish = 15158332 // red
)

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordEmbed struct {
	Title  string         `json:"title"`
	Fields []discordField `json:"fields"`
	Color  int            `json:"color"`
}

type discordPayload struct {
	Embeds []discordEmbed `json:"embeds"`
}

// DiscordNotifier posts alerts to a Discord webhook as a single embed.
type DiscordNotifier struct {
	url    string
	client *http.Client
}

// NewDiscordNotifier creates a Discord webhook notifier.
// webhookURL: the full webhook URL from the channel's integration settings.
func NewDiscordNotifier(webhookURL string) *DiscordNotifier {
	return &DiscordNotifier{
		url: webhookURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (d *DiscordNotifier) Name() string { return "discord" }

func buildDiscordPayload(alert Alert) discordPayload {
	sig := alert.Signal
	color := colorBullish
	if sig.Direction == model.Bearish {
		color = colorBearish
	}
	return discordPayload{
		Embeds: []discordEmbed{{
			Title: alert.Title(),
			Fields: []discordField{
				{Name: "Symbol", Value: sig.Symbol, Inline: true},
				{Name: "Timeframe", Value: alert.Timeframe(), Inline: true},
				{Name: "Pivot", Value: alert.Pivot()},
				{Name: "Confirmations", Value: alert.ConfirmationList()},
				{Name: "Reason", Value: sig.Reason},
			},
			Color: color,
		}},
	}
}

func (d *DiscordNotifier) Send(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(buildDiscordPayload(alert))
	if err != nil {
		return fmt.Errorf("discord: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", d.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("discord: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("discord: send: %w", err)
	}
	defer resp.Body.Close()

	// Discord answers 204 No Content on success.
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("discord: unexpected status %d", resp.StatusCode)
	}

	log.Printf("[discord] sent alert %s: %s", alert.DeliveryID, alert.Title())
	return nil
}
