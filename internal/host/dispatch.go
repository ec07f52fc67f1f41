package host

import (
	"context"
	"fmt"

	"github.com/john/unichat/internal/clock"
)

// Sink receives envelopes from scrapers.
type Sink interface {
	Publish(ctx context.Context, env Envelope) error
}

// Dispatcher stamps payloads for one scraper and hands them to a Sink.
type Dispatcher struct {
	scraperID string
	sink      Sink
	clock     clock.Clock
}

// NewDispatcher creates a dispatcher for scraperID.
func NewDispatcher(scraperID string, sink Sink, clk clock.Clock) *Dispatcher {
	if clk == nil {
		clk = clock.Real()
	}
	return &Dispatcher{scraperID: scraperID, sink: sink, clock: clk}
}

// ScraperID returns the id stamped on every envelope.
func (d *Dispatcher) ScraperID() string { return d.scraperID }

// Dispatch builds an envelope of the given type and publishes it.
func (d *Dispatcher) Dispatch(ctx context.Context, typ string, payload any) error {
	env, err := NewEnvelope(typ, d.scraperID, d.clock.Now().UnixMilli(), payload)
	if err != nil {
		return err
	}
	if err := d.sink.Publish(ctx, env); err != nil {
		return fmt.Errorf("publish %s: %w", typ, err)
	}
	return nil
}
