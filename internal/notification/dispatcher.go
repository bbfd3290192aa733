package notification

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync/atomic"

	"github.com/google/uuid"

	"divergence-monitor/internal/model"
)

// Dispatcher fans one emitted signal out to every configured backend.
// Delivery is best-effort: a failing backend is logged and does not stop
// the others, and never unwinds the ledger record that preceded it.
type Dispatcher struct {
	notifiers []Notifier
	dryRun    bool

	sent   atomic.Uint64
	failed atomic.Uint64
}

// NewDispatcher creates a dispatcher over the given backends. With dryRun
// set, alerts are logged instead of delivered.
func NewDispatcher(dryRun bool, notifiers ...Notifier) *Dispatcher {
	return &Dispatcher{notifiers: notifiers, dryRun: dryRun}
}

// Dispatch renders sig as an alert and sends it to every backend. Returns
// the joined delivery errors, nil when every backend accepted it.
func (d *Dispatcher) Dispatch(ctx context.Context, sig model.Signal) error {
	alert := Alert{DeliveryID: uuid.NewString(), Signal: sig}

	if d.dryRun {
		payload, _ := json.Marshal(buildDiscordPayload(alert))
		log.Printf("[notify] DRY_RUN enabled. Payload: %s", payload)
		return nil
	}

	var errs []error
	for _, n := range d.notifiers {
		if err := n.Send(ctx, alert); err != nil {
			log.Printf("[notify] %s delivery failed for %s: %v", n.Name(), alert.DeliveryID, err)
			d.failed.Add(1)
			errs = append(errs, err)
			continue
		}
		d.sent.Add(1)
	}
	return errors.Join(errs...)
}

// Sent returns the count of successful backend deliveries.
func (d *Dispatcher) Sent() uint64 { return d.sent.Load() }

// Failed returns the count of failed backend deliveries.
func (d *Dispatcher) Failed() uint64 { return d.failed.Load() }
