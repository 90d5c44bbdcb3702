// Package storage lays out the on-disk artifact tree: per-dataset
// payload files and summaries, plus cross-dataset run reports, all
// under one output root.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultBaseDir is the output root used when none is configured.
const DefaultBaseDir = "data/raw_json"

const (
	// RunsDirName holds cross-dataset run reports.
	RunsDirName = "_runs"

	// SummaryFileName is the per-dataset summary artifact.
	SummaryFileName = "_summary.json"
)

// Store writes JSON artifacts under a base directory.
type Store struct {
	baseDir string
}

// New creates a store rooted at baseDir. An empty baseDir selects
// DefaultBaseDir.
func New(baseDir string) *Store {
	if baseDir == "" {
		baseDir = DefaultBaseDir
	}
	return &Store{baseDir: baseDir}
}

// BaseDir returns the output root.
func (s *Store) BaseDir() string {
	return s.baseDir
}

// DatasetDir returns the directory holding one dataset's artifacts.
func (s *Store) DatasetDir(slug string) string {
	return filepath.Join(s.baseDir, slug)
}

// PayloadPath returns the payload file for one (dataset, year).
func (s *Store) PayloadPath(slug string, year int) string {
	return filepath.Join(s.baseDir, slug, fmt.Sprintf("%d.json", year))
}

// SummaryPath returns the dataset's summary file.
func (s *Store) SummaryPath(slug string) string {
	return filepath.Join(s.baseDir, slug, SummaryFileName)
}

// RunReportPath returns the report file for a run stamp like
// 20260825T120000Z.
func (s *Store) RunReportPath(stamp string) string {
	return filepath.Join(s.baseDir, RunsDirName, fmt.Sprintf("run_all_%s.json", stamp))
}

// WriteJSON writes v as indented JSON to path, creating parent
// directories as needed. Files are replaced whole, so re-running a
// download converges on the latest result.
func (s *Store) WriteJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
