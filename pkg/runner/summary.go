package runner

import (
	"encoding/json"

	"github.com/fcat-validator/econfetch/pkg/catalog"
	"github.com/fcat-validator/econfetch/pkg/fetch"
)

// Metadata identifies the dataset a summary or payload file belongs to.
type Metadata struct {
	Group     string         `json:"group"`
	Name      string         `json:"dataset_name"`
	Source    catalog.Source `json:"source_type"`
	SeriesID  string         `json:"dataset_id"`
	StartYear int            `json:"start_year"`
	EndYear   int            `json:"end_year"`
}

// Totals counts year outcomes for one dataset.
type Totals struct {
	OK    int `json:"ok"`
	Error int `json:"error"`
}

// YearStatus is the per-year status line in a summary. The error
// fields are present only for failed years.
type YearStatus struct {
	Year      int             `json:"year"`
	Status    fetch.Status    `json:"status"`
	ErrorType fetch.ErrorType `json:"error_type,omitempty"`
	Action    fetch.Action    `json:"recommended_action,omitempty"`
}

// ErrorDetail is the expanded record for one failed year.
type ErrorDetail struct {
	Year      int               `json:"year"`
	ErrorType fetch.ErrorType   `json:"error_type"`
	Action    fetch.Action      `json:"recommended_action"`
	Message   string            `json:"message"`
	Request   fetch.RequestMeta `json:"request"`
}

// Summary is the per-dataset download summary, written to
// _summary.json after every year has been processed.
type Summary struct {
	Metadata Metadata      `json:"metadata"`
	Totals   Totals        `json:"totals"`
	Errors   []ErrorDetail `json:"errors"`
	Years    []YearStatus  `json:"years"`
}

// Envelope is the payload artifact for one successfully fetched year.
// Failed years never produce an envelope, so it carries no error
// fields.
type Envelope struct {
	Metadata Metadata          `json:"metadata"`
	Year     int               `json:"year"`
	Request  fetch.RequestMeta `json:"request"`
	Status   fetch.Status      `json:"status"`
	Message  string            `json:"message"`
	Response json.RawMessage   `json:"response"`
}

func newMetadata(d catalog.Descriptor) Metadata {
	return Metadata{
		Group:     d.Group,
		Name:      d.Name,
		Source:    d.Source,
		SeriesID:  d.SeriesID,
		StartYear: catalog.StartYear,
		EndYear:   catalog.EndYear,
	}
}
