// Package metrics turns the envelope stream into Prometheus series.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/john/unichat/internal/event"
	"github.com/john/unichat/internal/host"
	"github.com/john/unichat/internal/scraper"
)

var states = []scraper.State{scraper.StateIdle, scraper.StateInitializing, scraper.StateReady, scraper.StateFatal}

// Metrics holds the scraper series.
type Metrics struct {
	EventsTotal  *prometheus.CounterVec
	ErrorsTotal  *prometheus.CounterVec
	ScraperState *prometheus.GaugeVec
}

// New registers the series on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "unichat",
			Name:      "events_total",
			Help:      "Total number of chat events dispatched, by scraper and event type.",
		}, []string{"scraper", "type"}),
		ErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "unichat",
			Name:      "errors_total",
			Help:      "Total number of error and fatal envelopes, by scraper.",
		}, []string{"scraper", "kind"}), // kind: error, fatal
		ScraperState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "unichat",
			Name:      "scraper_state",
			Help:      "1 for the current lifecycle state of each scraper, 0 otherwise.",
		}, []string{"scraper", "state"}),
	}
}

// Observe updates the series for one envelope.
func (m *Metrics) Observe(env host.Envelope) {
	switch env.Type {
	case host.TypeIdle:
		m.setState(env.ScraperID, scraper.StateIdle)
	case host.TypeReady, host.TypePing:
		m.setState(env.ScraperID, scraper.StateReady)
	case host.TypeFatal:
		m.setState(env.ScraperID, scraper.StateFatal)
		m.ErrorsTotal.WithLabelValues(env.ScraperID, env.Type).Inc()
	case host.TypeError:
		m.ErrorsTotal.WithLabelValues(env.ScraperID, env.Type).Inc()
	default:
		if event.IsContent(env.Type) {
			m.EventsTotal.WithLabelValues(env.ScraperID, env.Type).Inc()
		}
	}
}

// Consume observes envelopes until envs closes or ctx is done.
func (m *Metrics) Consume(ctx context.Context, envs <-chan host.Envelope) {
	for {
		select {
		case env, ok := <-envs:
			if !ok {
				return
			}
			m.Observe(env)
		case <-ctx.Done():
			return
		}
	}
}

func (m *Metrics) setState(scraperID string, current scraper.State) {
	for _, s := range states {
		v := 0.0
		if s == current {
			v = 1
		}
		m.ScraperState.WithLabelValues(scraperID, string(s)).Set(v)
	}
}
