// Package notification delivers divergence alerts to external channels
// (Discord webhooks, Telegram) and fans each signal out to every
// configured backend.
package notification

import (
	"context"
	"log"
	"strings"
	"time"

	"divergence-monitor/internal/model"
)

// Alert is one deliverable rendering of an emitted signal. DeliveryID is
// unique per dispatch so multi-channel sends can be traced in logs.
type Alert struct {
	DeliveryID string
	Signal     model.Signal
}

// Title renders the alert headline, e.g. "Bullish divergence (STRONG)".
func (a *Alert) Title() string {
	return titleCase(string(a.Signal.Direction)) + " divergence (" + string(a.Signal.Strength) + ")"
}

// Timeframe renders the signal timeframe in its human form ("10m").
func (a *Alert) Timeframe() string { return model.FormatTF(a.Signal.TF) }

// Pivot renders the open time of the divergence candle.
func (a *Alert) Pivot() string { return a.Signal.OpenTime.UTC().Format(time.RFC3339) }

// ConfirmationList renders the confirmation set, "None" when empty.
func (a *Alert) ConfirmationList() string {
	if len(a.Signal.Confirmations) == 0 {
		return "None"
	}
	parts := make([]string, len(a.Signal.Confirmations))
	for i, c := range a.Signal.Confirmations {
		parts[i] = string(c)
	}
	return strings.Join(parts, ", ")
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}

// Notifier is the interface for all delivery backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error

	// Name identifies the backend in logs.
	Name() string
}

// LogNotifier writes alerts to the process log (useful for development).
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Name() string { return "log" }

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s %s @ %.2f | confirmations: %s | %s",
		alert.DeliveryID, alert.Title(), alert.Signal.Symbol, alert.Signal.Price,
		alert.ConfirmationList(), alert.Signal.Reason)
	return nil
}
