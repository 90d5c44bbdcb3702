package runner

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fcat-validator/econfetch/internal/testutil"
	"github.com/fcat-validator/econfetch/pkg/catalog"
	"github.com/fcat-validator/econfetch/pkg/credentials"
	"github.com/fcat-validator/econfetch/pkg/fetch"
	"github.com/fcat-validator/econfetch/pkg/storage"
)

func TestRunAll_WritesReportAndSummaries(t *testing.T) {
	t.Setenv("FRED_API_KEY", "test-key")
	t.Setenv("BLS_API_KEY", "")

	api := testutil.NewMockAPI()
	defer api.Close()
	api.SetResponse(testutil.BLSPath, testutil.NewBLSResponse("4.1"))

	r := newTestRunner(t, api, t.TempDir())
	orch := NewOrchestrator(r, 1, zerolog.Nop())

	datasets := []catalog.Descriptor{fredDataset, blsDataset}
	report, err := orch.RunAll(context.Background(), datasets)
	if err != nil {
		t.Fatalf("RunAll() error: %v", err)
	}

	if _, err := uuid.Parse(report.RunID); err != nil {
		t.Errorf("run id %q is not a UUID: %v", report.RunID, err)
	}
	if report.RunFinishedAt.Before(report.RunStartedAt) {
		t.Errorf("finished %v before started %v", report.RunFinishedAt, report.RunStartedAt)
	}

	want := RunTotals{Datasets: 2, OKYears: 2 * yearCount, ErrorYears: 0}
	if report.Totals != want {
		t.Errorf("totals = %+v, want %+v", report.Totals, want)
	}
	if report.HasFailures() {
		t.Error("HasFailures() = true for a clean run")
	}

	for _, slug := range []string{fredDataset.Slug(), blsDataset.Slug()} {
		entry, ok := report.Datasets[slug]
		if !ok {
			t.Fatalf("report missing dataset %s", slug)
		}
		if entry.Status != fetch.StatusOK {
			t.Errorf("%s status = %s, want ok", slug, entry.Status)
		}
		if entry.SummaryPath == "" {
			t.Errorf("%s has no summary path", slug)
		}
		if entry.Totals == nil || entry.Totals.OK != yearCount {
			t.Errorf("%s totals = %+v", slug, entry.Totals)
		}
		if _, err := os.Stat(r.Store().SummaryPath(slug)); err != nil {
			t.Errorf("%s summary file missing: %v", slug, err)
		}
	}

	// The report artifact round-trips from disk.
	raw, err := os.ReadFile(report.ReportPath(r.Store()))
	if err != nil {
		t.Fatalf("report file missing: %v", err)
	}
	var persisted RunReport
	if err := json.Unmarshal(raw, &persisted); err != nil {
		t.Fatalf("report file is not valid JSON: %v", err)
	}
	if persisted.RunID != report.RunID {
		t.Errorf("persisted run id = %q, want %q", persisted.RunID, report.RunID)
	}
}

func TestRunAll_MissingCredentialIsolatedToDataset(t *testing.T) {
	t.Setenv("FRED_API_KEY", "")
	t.Setenv("BLS_API_KEY", "")

	api := testutil.NewMockAPI()
	defer api.Close()
	api.SetResponse(testutil.BLSPath, testutil.NewBLSResponse("4.1"))

	r := newTestRunner(t, api, t.TempDir())
	orch := NewOrchestrator(r, 1, zerolog.Nop())

	report, err := orch.RunAll(context.Background(), []catalog.Descriptor{fredDataset, blsDataset})
	if err != nil {
		t.Fatalf("RunAll() error: %v", err)
	}

	fred := report.Datasets[fredDataset.Slug()]
	if fred.Status != fetch.StatusError {
		t.Fatalf("fred status = %s, want error", fred.Status)
	}
	if fred.ErrorType != fetch.ErrorMissingCredential || fred.Action != fetch.ActionCheckCredentials {
		t.Errorf("fred classification = %s/%s", fred.ErrorType, fred.Action)
	}
	if !strings.Contains(fred.Message, "FRED_API_KEY") {
		t.Errorf("fred message does not name the key: %q", fred.Message)
	}
	if fred.Totals != nil {
		t.Errorf("fred totals = %+v, want nil (no years ran)", fred.Totals)
	}

	// The failing dataset never stops its siblings.
	bls := report.Datasets[blsDataset.Slug()]
	if bls.Status != fetch.StatusOK || bls.Totals == nil || bls.Totals.OK != yearCount {
		t.Errorf("bls entry = %+v, want complete ok run", bls)
	}

	if report.Totals.Datasets != 2 || report.Totals.OKYears != yearCount {
		t.Errorf("totals = %+v", report.Totals)
	}
	if !report.HasFailures() {
		t.Error("HasFailures() = false with a failed dataset")
	}
	if _, err := os.Stat(report.ReportPath(r.Store())); err != nil {
		t.Errorf("report file missing: %v", err)
	}
}

func TestRunAll_RecoverFromPanic(t *testing.T) {
	// A runner with no fetcher panics on the first year of every
	// dataset; the run must still produce a complete report.
	r := &Runner{
		creds:  credentials.NewResolver("does-not-exist.toml"),
		store:  storage.New(t.TempDir()),
		logger: zerolog.Nop(),
	}
	orch := NewOrchestrator(r, 1, zerolog.Nop())

	gecko := catalog.Descriptor{
		Group: "CoinGecko", Name: "Bitcoin Price",
		Source: catalog.SourceCoinGecko, SeriesID: "bitcoin",
	}
	report, err := orch.RunAll(context.Background(), []catalog.Descriptor{gecko})
	if err != nil {
		t.Fatalf("RunAll() error: %v", err)
	}

	entry := report.Datasets[gecko.Slug()]
	if entry.Status != fetch.StatusError {
		t.Fatalf("status = %s, want error", entry.Status)
	}
	if !strings.Contains(entry.Message, "panic") {
		t.Errorf("message = %q, want panic note", entry.Message)
	}
	if !report.HasFailures() {
		t.Error("HasFailures() = false after panic")
	}
}

func TestRunAll_ConcurrentDatasets(t *testing.T) {
	t.Setenv("FRED_API_KEY", "test-key")
	t.Setenv("BLS_API_KEY", "")

	api := testutil.NewMockAPI()
	defer api.Close()
	api.SetResponse(testutil.BLSPath, testutil.NewBLSResponse("4.1"))

	r := newTestRunner(t, api, t.TempDir())
	orch := NewOrchestrator(r, 3, zerolog.Nop())

	datasets := []catalog.Descriptor{
		fredDataset,
		{Group: "FRED", Name: "US GDP", Source: catalog.SourceFRED, SeriesID: "GDPA"},
		blsDataset,
	}
	report, err := orch.RunAll(context.Background(), datasets)
	if err != nil {
		t.Fatalf("RunAll() error: %v", err)
	}

	want := RunTotals{Datasets: 3, OKYears: 3 * yearCount, ErrorYears: 0}
	if report.Totals != want {
		t.Errorf("totals = %+v, want %+v", report.Totals, want)
	}
	if len(report.Datasets) != 3 {
		t.Errorf("got %d dataset entries, want 3", len(report.Datasets))
	}
}

func TestNewOrchestrator_ClampsConcurrency(t *testing.T) {
	r := newTestRunner(t, nil, t.TempDir())
	if got := NewOrchestrator(r, 0, zerolog.Nop()).concurrency; got != 1 {
		t.Errorf("concurrency = %d, want 1", got)
	}
	if got := NewOrchestrator(r, -3, zerolog.Nop()).concurrency; got != 1 {
		t.Errorf("concurrency = %d, want 1", got)
	}
}

func TestHasFailures(t *testing.T) {
	clean := &RunReport{
		Totals: RunTotals{Datasets: 1, OKYears: 32},
		Datasets: map[string]DatasetEntry{
			"a": {Status: fetch.StatusOK},
		},
	}
	if clean.HasFailures() {
		t.Error("clean report reports failures")
	}

	yearFailed := &RunReport{
		Totals: RunTotals{Datasets: 1, OKYears: 31, ErrorYears: 1},
		Datasets: map[string]DatasetEntry{
			"a": {Status: fetch.StatusOK},
		},
	}
	if !yearFailed.HasFailures() {
		t.Error("year-level failure not reported")
	}

	datasetFailed := &RunReport{
		Totals: RunTotals{Datasets: 1},
		Datasets: map[string]DatasetEntry{
			"a": {Status: fetch.StatusError},
		},
	}
	if !datasetFailed.HasFailures() {
		t.Error("dataset-level failure not reported")
	}
}

func TestReportPath(t *testing.T) {
	report := &RunReport{
		RunStartedAt: time.Date(2026, 8, 25, 6, 0, 0, 0, time.UTC),
	}
	store := storage.New("out")

	got := report.ReportPath(store)
	if !strings.HasSuffix(got, "run_all_20260825T060000Z.json") {
		t.Errorf("ReportPath() = %q", got)
	}
}
