// Package fetch downloads one (dataset, year) of raw JSON with pacing,
// bounded retries, and outcome classification.
package fetch

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fcat-validator/econfetch/pkg/cache"
	"github.com/fcat-validator/econfetch/pkg/catalog"
	"github.com/fcat-validator/econfetch/pkg/pacing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for fetch operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "econfetch_requests_total",
		Help: "Total upstream requests by source and status",
	}, []string{"source", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "econfetch_request_duration_seconds",
		Help:    "Upstream request duration in seconds by source",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"source"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "econfetch_errors_total",
		Help: "Total fetch errors by class",
	}, []string{"class"})
)

// Fetcher performs the retrying download of yearly payloads.
type Fetcher struct {
	httpClient     *http.Client
	insecureClient *http.Client
	pacer          *pacing.Pacer
	policy         RetryPolicy
	cache          *cache.Cache
	logger         zerolog.Logger
}

// Config holds the fetcher configuration.
type Config struct {
	// Pacer spaces requests per source; required.
	Pacer *pacing.Pacer

	// Policy bounds the retry loop. The zero value selects DefaultRetryPolicy.
	Policy RetryPolicy

	// Cache optionally serves payloads stored by earlier runs. Nil
	// disables caching and every year goes to the network.
	Cache *cache.Cache

	// Logger for fetch lifecycle events.
	Logger zerolog.Logger
}

// New creates a new fetcher.
func New(cfg Config) (*Fetcher, error) {
	if cfg.Pacer == nil {
		return nil, fmt.Errorf("pacer is required")
	}

	if cfg.Policy.MaxAttempts == 0 {
		cfg.Policy = DefaultRetryPolicy()
	}
	if cfg.Policy.MaxAttempts < 1 {
		return nil, fmt.Errorf("max_attempts must be >= 1 (got %d)", cfg.Policy.MaxAttempts)
	}
	if cfg.Policy.BackoffMultiplier < 1 {
		return nil, fmt.Errorf("backoff_multiplier must be >= 1 (got %g)", cfg.Policy.BackoffMultiplier)
	}

	// Request deadlines come from per-attempt contexts, so the clients
	// themselves carry no timeout. The relaxed client exists for the
	// one source whose certificate chain fails strict verification.
	insecureTransport := http.DefaultTransport.(*http.Transport).Clone()
	insecureTransport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}

	return &Fetcher{
		httpClient:     &http.Client{},
		insecureClient: &http.Client{Transport: insecureTransport},
		pacer:          cfg.Pacer,
		policy:         cfg.Policy,
		cache:          cfg.Cache,
		logger:         cfg.Logger,
	}, nil
}

// Policy returns the active retry policy.
func (f *Fetcher) Policy() RetryPolicy {
	return f.policy
}

// FetchYear downloads the payload for one (dataset, year) and returns
// the classified outcome. It never returns an error: every failure mode
// is folded into the outcome so callers record it uniformly.
func (f *Fetcher) FetchYear(ctx context.Context, d catalog.Descriptor, apiKey string, year int) Outcome {
	slug := d.Slug()
	logger := f.logger.With().
		Str("dataset", slug).
		Str("source", string(d.Source)).
		Int("year", year).
		Logger()

	// Step 1: Check payload cache
	if f.cache != nil {
		entry, err := f.cache.Get(ctx, slug, year)
		if err == nil {
			logger.Debug().Msg("Payload served from cache")
			return Outcome{
				Year:      year,
				Status:    StatusOK,
				Message:   "Success",
				Request:   RequestMeta{URL: entry.URL, StatusCode: entry.StatusCode},
				Payload:   entry.Payload,
				FromCache: true,
			}
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			logger.Warn().Err(err).Msg("Cache get error")
		}
	}

	// Step 2: IMF has no generic yearly endpoint; descriptors must
	// carry a concrete API URL and none of the built-in ones do.
	if d.Source == catalog.SourceIMF {
		return imfOutcome(d, year)
	}

	var (
		attempts    int
		statusCode  int
		body        []byte
		contentType string
	)
	lastMeta := RequestMeta{URL: d.SeriesID}

	// Step 3: Execute with pacing and retry. The attempt function
	// returns nil for any response whose status is terminal; those are
	// classified below.
	retryErr := retryWithBackoff(ctx, f.policy, logger, isRetryable, func() error {
		attempts++

		// Pace before every attempt, retries included.
		if err := f.pacer.Wait(ctx, d.Source); err != nil {
			return fmt.Errorf("pacing wait: %w", err)
		}

		plan, err := buildRequest(ctx, d, apiKey, year)
		if err != nil {
			return &permanentError{err: err}
		}
		lastMeta = plan.meta

		attemptCtx, cancel := context.WithTimeout(ctx, plan.timeout)
		defer cancel()

		client := f.httpClient
		if plan.insecure {
			client = f.insecureClient
		}

		start := time.Now()
		resp, reqErr := client.Do(plan.req.WithContext(attemptCtx))
		if reqErr != nil {
			logger.Warn().Err(reqErr).Msg("HTTP request failed")
			errorsTotal.WithLabelValues(string(ErrorNetwork)).Inc()
			requestsTotal.WithLabelValues(string(d.Source), "network_error").Inc()
			return reqErr
		}
		defer resp.Body.Close()

		data, readErr := io.ReadAll(resp.Body)
		requestDuration.WithLabelValues(string(d.Source)).Observe(time.Since(start).Seconds())
		if readErr != nil {
			logger.Warn().Err(readErr).Msg("Reading response body failed")
			errorsTotal.WithLabelValues(string(ErrorNetwork)).Inc()
			requestsTotal.WithLabelValues(string(d.Source), "network_error").Inc()
			return readErr
		}

		lastMeta.StatusCode = resp.StatusCode
		requestsTotal.WithLabelValues(string(d.Source), strconv.Itoa(resp.StatusCode)).Inc()

		if retryableStatus(resp.StatusCode) {
			statusErr := &StatusError{StatusCode: resp.StatusCode}
			errorsTotal.WithLabelValues(string(errorClassOf(statusErr))).Inc()
			logger.Warn().Int("status", resp.StatusCode).Msg("Retryable upstream status")
			return statusErr
		}

		if resp.StatusCode >= 400 {
			errorsTotal.WithLabelValues(string(ErrorClient)).Inc()
		}

		statusCode = resp.StatusCode
		body = data
		contentType = resp.Header.Get("Content-Type")
		return nil
	})

	// Step 4: Classify
	if retryErr != nil {
		return f.failedOutcome(year, retryErr, lastMeta, attempts)
	}

	payload := ensureJSON(body, contentType)

	if statusCode >= 200 && statusCode < 300 {
		if noData(d.Source, payload) {
			return errOutcome(year, ErrorNoData, ActionAcceptOrChangeRange,
				"Request succeeded but the API returned no data for this year.", lastMeta, attempts)
		}
		f.storeInCache(ctx, logger, slug, year, payload, lastMeta)
		return okOutcome(year, lastMeta, payload, attempts)
	}

	errType, action, message := classifyTerminalStatus(statusCode)
	return errOutcome(year, errType, action, message, lastMeta, attempts)
}

// failedOutcome classifies an error surfaced by the retry loop.
func (f *Fetcher) failedOutcome(year int, retryErr error, meta RequestMeta, attempts int) Outcome {
	var perm *permanentError
	if errors.As(retryErr, &perm) {
		return errOutcome(year, ErrorClient, ActionFixRequest,
			fmt.Sprintf("Invalid dataset configuration: %v", perm.err), meta, attempts)
	}

	errType := errorClassOf(retryErr)
	var message string
	switch errType {
	case ErrorRateLimited:
		message = "Rate limit persisted after retries."
	case ErrorServer:
		message = "Upstream server errors persisted after retries."
	default:
		message = retryErr.Error()
	}
	return errOutcome(year, errType, ActionRetryLater, message, meta, attempts)
}

func (f *Fetcher) storeInCache(ctx context.Context, logger zerolog.Logger, slug string, year int, payload json.RawMessage, meta RequestMeta) {
	if f.cache == nil {
		return
	}
	entry := &cache.Entry{
		Payload:    payload,
		URL:        meta.URL,
		StatusCode: meta.StatusCode,
		FetchedAt:  time.Now().UTC(),
	}
	if err := f.cache.Set(ctx, slug, year, entry); err != nil {
		logger.Warn().Err(err).Msg("Failed to cache payload")
		return
	}
	logger.Debug().Msg("Cached payload")
}

func imfOutcome(d catalog.Descriptor, year int) Outcome {
	meta := RequestMeta{URL: d.SeriesID}
	if strings.TrimSpace(d.SeriesID) == "" {
		return errOutcome(year, ErrorClient, ActionFixRequest,
			"Dataset URL is empty. Configure a concrete IMF API URL.", meta, 0)
	}
	return errOutcome(year, ErrorClient, ActionFixRequest,
		"IMF downloads expect a concrete IMF API URL in the series slot.", meta, 0)
}

// SetHTTPClient sets a custom HTTP client for both the strict and the
// relaxed transport (for testing).
func (f *Fetcher) SetHTTPClient(client *http.Client) {
	f.httpClient = client
	f.insecureClient = client
}
