package metrics

import (
	"errors"

	"github.com/layer-3/warden/core"
	"github.com/layer-3/warden/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector records session metrics in Prometheus
type Collector struct {
	sessionsStarted prometheus.Counter
	sessionsExpired *prometheus.CounterVec
	refreshes       *prometheus.CounterVec
	refreshWaiters  prometheus.Histogram
}

// NewCollector registers the warden metrics with reg
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		sessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "session",
			Name:      "started_total",
			Help:      "Sessions started.",
		}),
		sessionsExpired: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "session",
			Name:      "expired_total",
			Help:      "Sessions ended, by reason.",
		}, []string{"reason"}),
		refreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "token",
			Name:      "refresh_total",
			Help:      "Settled token refreshes, by outcome.",
		}, []string{"outcome"}),
		refreshWaiters: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "warden",
			Subsystem: "token",
			Name:      "refresh_waiters",
			Help:      "Callers that waited on a single refresh.",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50},
		}),
	}
}

var _ ports.Metrics = (*Collector)(nil)

// SessionStarted counts a new session
func (c *Collector) SessionStarted() {
	c.sessionsStarted.Inc()
}

// SessionExpired counts an ended session
func (c *Collector) SessionExpired(reason core.ExpiryReason) {
	c.sessionsExpired.WithLabelValues(string(reason)).Inc()
}

// RefreshSettled counts a refresh outcome and how many callers shared it
func (c *Collector) RefreshSettled(err error, waiters int) {
	c.refreshes.WithLabelValues(outcome(err)).Inc()
	c.refreshWaiters.Observe(float64(waiters))
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, core.ErrNoRefreshToken):
		return "no_refresh_token"
	case errors.Is(err, core.ErrNoSession):
		return "discarded"
	case errors.Is(err, core.ErrRefreshTokenExpired):
		return "expired"
	case errors.Is(err, core.ErrGatewayUnavailable):
		return "unavailable"
	default:
		return "invalid"
	}
}

// Nop discards every measurement
type Nop struct{}

func (Nop) SessionStarted() {}

func (Nop) SessionExpired(core.ExpiryReason) {}

func (Nop) RefreshSettled(error, int) {}
