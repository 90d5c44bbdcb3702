// Package pacing spaces successive requests to the same source API.
// It is not a hard rate limiter: it only enforces a minimum gap between
// consecutive calls per source to keep bursts from tripping upstream
// rate limits. State lives in-process and is discarded on exit.
package pacing

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/fcat-validator/econfetch/pkg/catalog"
)

// Prometheus metrics for request pacing.
var (
	pacingWaitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "econfetch_pacing_wait_seconds",
		Help:    "Time spent waiting on the per-source pacer",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"source"})

	pacingDelaysTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "econfetch_pacing_delays_total",
		Help: "Total requests delayed by the per-source pacer",
	}, []string{"source"})
)

// DefaultInterval returns the minimum spacing between requests to a
// source. Values are conservative enough to run the full catalog
// without tripping burst limits.
func DefaultInterval(source catalog.Source) time.Duration {
	switch source {
	case catalog.SourceFRED:
		return 600 * time.Millisecond
	case catalog.SourceBLS:
		return 800 * time.Millisecond
	case catalog.SourceCoinGecko:
		return 1600 * time.Millisecond
	case catalog.SourceOECD:
		return 1200 * time.Millisecond
	case catalog.SourceECB:
		return 800 * time.Millisecond
	case catalog.SourceCensus:
		return 800 * time.Millisecond
	case catalog.SourceIMF:
		return 1 * time.Second
	default:
		return 600 * time.Millisecond
	}
}

// Pacer enforces per-source minimum spacing between requests. It is
// safe for concurrent use; datasets sharing a source share its limiter.
type Pacer struct {
	logger    zerolog.Logger
	overrides map[catalog.Source]time.Duration

	mu       sync.Mutex
	limiters map[catalog.Source]*rate.Limiter
}

// New creates a pacer. Overrides replace the default interval for the
// listed sources; an override of zero disables pacing for that source.
func New(logger zerolog.Logger, overrides map[catalog.Source]time.Duration) *Pacer {
	return &Pacer{
		logger:    logger,
		overrides: overrides,
		limiters:  make(map[catalog.Source]*rate.Limiter),
	}
}

// Interval returns the effective minimum spacing for a source.
func (p *Pacer) Interval(source catalog.Source) time.Duration {
	if iv, ok := p.overrides[source]; ok {
		return iv
	}
	return DefaultInterval(source)
}

// Wait blocks until the source's next request slot, or until ctx is
// done. The first call per source proceeds immediately.
func (p *Pacer) Wait(ctx context.Context, source catalog.Source) error {
	limiter := p.limiter(source)

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return err
	}

	waited := time.Since(start)
	pacingWaitSeconds.WithLabelValues(string(source)).Observe(waited.Seconds())
	if waited > time.Millisecond {
		pacingDelaysTotal.WithLabelValues(string(source)).Inc()
		p.logger.Debug().
			Str("source", string(source)).
			Dur("waited", waited).
			Msg("Paced request")
	}
	return nil
}

// limiter returns the source's limiter, creating it on first use.
// rate.Every(0) yields an unlimited limiter, so a zero interval
// disables pacing naturally.
func (p *Pacer) limiter(source catalog.Source) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	limiter, ok := p.limiters[source]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(p.Interval(source)), 1)
		p.limiters[source] = limiter
	}
	return limiter
}
