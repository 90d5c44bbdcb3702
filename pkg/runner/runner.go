// Package runner executes the year loop for datasets, persists payload
// and summary artifacts, and aggregates full runs into a report.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fcat-validator/econfetch/pkg/catalog"
	"github.com/fcat-validator/econfetch/pkg/credentials"
	"github.com/fcat-validator/econfetch/pkg/fetch"
	"github.com/fcat-validator/econfetch/pkg/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for dataset runs.
var (
	yearOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "econfetch_year_outcomes_total",
		Help: "Terminal year outcomes by source and status",
	}, []string{"source", "status"})

	datasetDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "econfetch_dataset_duration_seconds",
		Help:    "Wall-clock duration of one dataset's year loop",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	}, []string{"source"})
)

// WriteFailure marks a dataset-level artifact write failure.
type WriteFailure struct {
	Path string
	Err  error
}

// Error implements the error interface.
func (e *WriteFailure) Error() string {
	return fmt.Sprintf("write %s: %v", e.Path, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *WriteFailure) Unwrap() error {
	return e.Err
}

// Runner downloads all years of a dataset and writes its artifacts.
type Runner struct {
	fetcher *fetch.Fetcher
	creds   *credentials.Resolver
	store   *storage.Store
	logger  zerolog.Logger
}

// Config holds the runner configuration.
type Config struct {
	// Fetcher performs the per-year downloads; required.
	Fetcher *fetch.Fetcher

	// Credentials resolves source API keys; required.
	Credentials *credentials.Resolver

	// Store writes payloads and summaries; required.
	Store *storage.Store

	// Logger for run lifecycle events.
	Logger zerolog.Logger
}

// New creates a new runner.
func New(cfg Config) (*Runner, error) {
	if cfg.Fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if cfg.Credentials == nil {
		return nil, fmt.Errorf("credential resolver is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}

	return &Runner{
		fetcher: cfg.Fetcher,
		creds:   cfg.Credentials,
		store:   cfg.Store,
		logger:  cfg.Logger,
	}, nil
}

// Store returns the artifact store the runner writes through.
func (r *Runner) Store() *storage.Store {
	return r.store
}

// RunDataset downloads every year of one dataset, writes payload files
// for ok years, and persists the summary. A failed year never aborts
// the remaining years; the returned error is reserved for dataset-level
// failures (missing required credential, unusable summary path) that
// prevented a complete run.
func (r *Runner) RunDataset(ctx context.Context, d catalog.Descriptor) (*Summary, error) {
	slug := d.Slug()
	logger := r.logger.With().
		Str("dataset", slug).
		Str("source", string(d.Source)).
		Logger()

	if !d.Source.Valid() {
		return nil, fmt.Errorf("dataset %s: unsupported source %q", slug, d.Source)
	}

	apiKey, err := r.resolveKey(logger, d.Source)
	if err != nil {
		return nil, fmt.Errorf("dataset %s: %w", slug, err)
	}

	start := time.Now()
	logger.Info().
		Int("start_year", catalog.StartYear).
		Int("end_year", catalog.EndYear).
		Msg("Downloading dataset")

	summary := &Summary{
		Metadata: newMetadata(d),
		Errors:   []ErrorDetail{},
		Years:    make([]YearStatus, 0, catalog.EndYear-catalog.StartYear+1),
	}

	for _, year := range catalog.Years() {
		outcome := r.fetcher.FetchYear(ctx, d, apiKey, year)

		if outcome.Status == fetch.StatusOK {
			outcome = r.persistPayload(logger, d, outcome)
		}

		yearOutcomesTotal.WithLabelValues(string(d.Source), string(outcome.Status)).Inc()
		r.record(summary, outcome)

		if outcome.Status != fetch.StatusOK {
			logger.Warn().
				Int("year", year).
				Str("error_type", string(outcome.ErrorType)).
				Str("recommended_action", string(outcome.Action)).
				Msg("Year failed")
		}
	}

	summaryPath := r.store.SummaryPath(slug)
	if err := r.store.WriteJSON(summaryPath, summary); err != nil {
		logger.Error().Err(err).Msg("Failed to write summary")
		return summary, &WriteFailure{Path: summaryPath, Err: err}
	}

	datasetDuration.WithLabelValues(string(d.Source)).Observe(time.Since(start).Seconds())
	logger.Info().
		Int("ok", summary.Totals.OK).
		Int("error", summary.Totals.Error).
		Str("summary", summaryPath).
		Msg("Dataset complete")

	return summary, nil
}

// resolveKey obtains the source's API key according to its requirement.
// A missing optional key downgrades to anonymous access; a missing
// required key fails the dataset before any request is made.
func (r *Runner) resolveKey(logger zerolog.Logger, source catalog.Source) (string, error) {
	switch source.Credential() {
	case catalog.CredentialRequired:
		key, err := r.creds.Resolve(source)
		if err != nil {
			return "", err
		}
		return key, nil

	case catalog.CredentialOptional:
		key, err := r.creds.Resolve(source)
		if err != nil {
			if errors.Is(err, credentials.ErrMissingCredential) {
				logger.Debug().Msg("No API key configured, using anonymous quota")
				return "", nil
			}
			return "", err
		}
		return key, nil

	default:
		return "", nil
	}
}

// persistPayload writes the ok year's envelope; a filesystem failure
// converts the year into a write_error outcome.
func (r *Runner) persistPayload(logger zerolog.Logger, d catalog.Descriptor, outcome fetch.Outcome) fetch.Outcome {
	envelope := Envelope{
		Metadata: newMetadata(d),
		Year:     outcome.Year,
		Request:  outcome.Request,
		Status:   fetch.StatusOK,
		Message:  outcome.Message,
		Response: outcome.Payload,
	}

	path := r.store.PayloadPath(d.Slug(), outcome.Year)
	if err := r.store.WriteJSON(path, envelope); err != nil {
		logger.Error().Err(err).Int("year", outcome.Year).Msg("Failed to write payload")
		return fetch.Outcome{
			Year:      outcome.Year,
			Status:    fetch.StatusError,
			ErrorType: fetch.ErrorWrite,
			Action:    fetch.ActionCheckFilesystem,
			Message:   fmt.Sprintf("Failed to write payload file: %v", err),
			Request:   outcome.Request,
			Attempts:  outcome.Attempts,
		}
	}

	logger.Debug().Int("year", outcome.Year).Str("path", path).Msg("Saved payload")
	return outcome
}

func (r *Runner) record(summary *Summary, outcome fetch.Outcome) {
	if outcome.Status == fetch.StatusOK {
		summary.Totals.OK++
	} else {
		summary.Totals.Error++
		summary.Errors = append(summary.Errors, ErrorDetail{
			Year:      outcome.Year,
			ErrorType: outcome.ErrorType,
			Action:    outcome.Action,
			Message:   outcome.Message,
			Request:   outcome.Request,
		})
	}

	summary.Years = append(summary.Years, YearStatus{
		Year:      outcome.Year,
		Status:    outcome.Status,
		ErrorType: outcome.ErrorType,
		Action:    outcome.Action,
	})
}
