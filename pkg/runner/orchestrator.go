package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fcat-validator/econfetch/pkg/catalog"
	"github.com/fcat-validator/econfetch/pkg/credentials"
	"github.com/fcat-validator/econfetch/pkg/fetch"
	"github.com/fcat-validator/econfetch/pkg/storage"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for full runs.
var (
	datasetsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "econfetch_datasets_total",
		Help: "Datasets processed by dataset-level status",
	}, []string{"status"})

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "econfetch_run_duration_seconds",
		Help:    "Wall-clock duration of a full download run",
		Buckets: []float64{10, 30, 60, 300, 600, 1800, 3600},
	})
)

// runStampLayout names run report files, e.g. run_all_20260825T120000Z.json.
const runStampLayout = "20060102T150405Z"

// RunTotals aggregates year outcomes across all datasets of a run.
type RunTotals struct {
	Datasets   int `json:"datasets"`
	OKYears    int `json:"ok_years"`
	ErrorYears int `json:"error_years"`
}

// DatasetEntry is one dataset's record in the run report. Status ok
// means the dataset ran to completion and its summary was written;
// year-level failures are visible in Totals and Errors. Status error
// means a dataset-level failure stopped the dataset itself.
type DatasetEntry struct {
	Group       string          `json:"group"`
	Name        string          `json:"dataset_name"`
	Source      catalog.Source  `json:"source_type"`
	Status      fetch.Status    `json:"status"`
	ErrorType   fetch.ErrorType `json:"error_type,omitempty"`
	Action      fetch.Action    `json:"recommended_action,omitempty"`
	Message     string          `json:"message,omitempty"`
	SummaryPath string          `json:"summary_path,omitempty"`
	Totals      *Totals         `json:"totals,omitempty"`
	Errors      []ErrorDetail   `json:"errors,omitempty"`
}

// RunReport is the aggregate artifact of one full run, keyed by
// dataset slug.
type RunReport struct {
	RunID         string                  `json:"run_id"`
	RunStartedAt  time.Time               `json:"run_started_at"`
	RunFinishedAt time.Time               `json:"run_finished_at"`
	Totals        RunTotals               `json:"totals"`
	Datasets      map[string]DatasetEntry `json:"datasets"`
}

// ReportPath returns where this run's report lives under the given
// store. The file name carries the run start time, not the run ID, so
// reports sort chronologically in a directory listing.
func (r *RunReport) ReportPath(store *storage.Store) string {
	return store.RunReportPath(r.RunStartedAt.Format(runStampLayout))
}

// HasFailures reports whether any dataset or year of the run failed.
func (r *RunReport) HasFailures() bool {
	if r.Totals.ErrorYears > 0 {
		return true
	}
	for _, entry := range r.Datasets {
		if entry.Status != fetch.StatusOK {
			return true
		}
	}
	return false
}

// Orchestrator runs every catalog dataset and writes the aggregate run
// report.
type Orchestrator struct {
	runner      *Runner
	store       *storage.Store
	logger      zerolog.Logger
	concurrency int
}

// NewOrchestrator creates an orchestrator running up to concurrency
// datasets in parallel. Pacing stays scoped per source inside the
// shared fetcher, so parallel datasets on the same API still space
// their requests.
func NewOrchestrator(r *Runner, concurrency int, logger zerolog.Logger) *Orchestrator {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Orchestrator{
		runner:      r,
		store:       r.Store(),
		logger:      logger,
		concurrency: concurrency,
	}
}

type datasetResult struct {
	descriptor catalog.Descriptor
	summary    *Summary
	err        error
}

// RunAll processes every descriptor and persists one run report. A
// dataset-level failure becomes an error entry in the report and never
// stops the remaining datasets. The returned error covers only the
// report write itself.
func (o *Orchestrator) RunAll(ctx context.Context, descriptors []catalog.Descriptor) (*RunReport, error) {
	startedAt := time.Now().UTC()
	start := time.Now()

	report := &RunReport{
		RunID:        uuid.NewString(),
		RunStartedAt: startedAt,
		Datasets:     make(map[string]DatasetEntry, len(descriptors)),
	}

	o.logger.Info().
		Str("run_id", report.RunID).
		Int("datasets", len(descriptors)).
		Int("concurrency", o.concurrency).
		Msg("Starting full download run")

	jobs := make(chan catalog.Descriptor)
	results := make(chan datasetResult)

	// Start worker pool
	var wg sync.WaitGroup
	for i := 0; i < o.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range jobs {
				summary, err := o.runDatasetSafe(ctx, d)
				results <- datasetResult{descriptor: d, summary: summary, err: err}
			}
		}()
	}

	go func() {
		for _, d := range descriptors {
			jobs <- d
		}
		close(jobs)
	}()

	// Close results channel when all workers done
	go func() {
		wg.Wait()
		close(results)
	}()

	for res := range results {
		entry := o.datasetEntry(res)
		report.Datasets[res.descriptor.Slug()] = entry
		datasetsTotal.WithLabelValues(string(entry.Status)).Inc()

		report.Totals.Datasets++
		if res.summary != nil {
			report.Totals.OKYears += res.summary.Totals.OK
			report.Totals.ErrorYears += res.summary.Totals.Error
		}
	}

	report.RunFinishedAt = time.Now().UTC()
	runDuration.Observe(time.Since(start).Seconds())

	reportPath := o.store.RunReportPath(startedAt.Format(runStampLayout))
	if err := o.store.WriteJSON(reportPath, report); err != nil {
		o.logger.Error().Err(err).Msg("Failed to write run report")
		return report, &WriteFailure{Path: reportPath, Err: err}
	}

	o.logger.Info().
		Str("run_id", report.RunID).
		Str("report", reportPath).
		Int("datasets", report.Totals.Datasets).
		Int("ok_years", report.Totals.OKYears).
		Int("error_years", report.Totals.ErrorYears).
		Msg("Run complete")

	return report, nil
}

// runDatasetSafe isolates one dataset: a panic inside its processing is
// converted into a dataset-level error instead of taking down the run.
func (o *Orchestrator) runDatasetSafe(ctx context.Context, d catalog.Descriptor) (summary *Summary, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			o.logger.Error().
				Str("dataset", d.Slug()).
				Interface("panic", rec).
				Msg("Dataset processing panicked")
			summary = nil
			err = fmt.Errorf("dataset %s: panic: %v", d.Slug(), rec)
		}
	}()
	return o.runner.RunDataset(ctx, d)
}

// datasetEntry folds one dataset result into its report entry.
func (o *Orchestrator) datasetEntry(res datasetResult) DatasetEntry {
	d := res.descriptor
	entry := DatasetEntry{
		Group:  d.Group,
		Name:   d.Name,
		Source: d.Source,
	}

	if res.err == nil {
		entry.Status = fetch.StatusOK
		entry.SummaryPath = o.store.SummaryPath(d.Slug())
		totals := res.summary.Totals
		entry.Totals = &totals
		entry.Errors = res.summary.Errors
		return entry
	}

	entry.Status = fetch.StatusError
	entry.Message = res.err.Error()

	var wf *WriteFailure
	switch {
	case errors.Is(res.err, credentials.ErrMissingCredential):
		entry.ErrorType = fetch.ErrorMissingCredential
		entry.Action = fetch.ActionCheckCredentials
	case errors.As(res.err, &wf):
		entry.ErrorType = fetch.ErrorWrite
		entry.Action = fetch.ActionCheckFilesystem
	default:
		entry.ErrorType = fetch.ErrorClient
		entry.Action = fetch.ActionSkip
	}

	// The year loop may have completed even though persisting failed;
	// keep its totals visible.
	if res.summary != nil {
		totals := res.summary.Totals
		entry.Totals = &totals
		entry.Errors = res.summary.Errors
	}
	return entry
}
