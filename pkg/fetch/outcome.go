package fetch

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/fcat-validator/econfetch/pkg/catalog"
)

// Status of one (dataset, year) fetch.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// ErrorType classifies a terminal failure.
type ErrorType string

const (
	ErrorMissingCredential ErrorType = "missing_credential"
	ErrorClient            ErrorType = "client_error"
	ErrorRateLimited       ErrorType = "rate_limited"
	ErrorServer            ErrorType = "server_error"
	ErrorNetwork           ErrorType = "network_error"
	ErrorWrite             ErrorType = "write_error"
	ErrorNoData            ErrorType = "no_data"
)

// Action is the operator hint attached to a failure.
type Action string

const (
	ActionRetryLater          Action = "retry_later"
	ActionCheckCredentials    Action = "check_credentials"
	ActionFixRequest          Action = "fix_request"
	ActionInspectResponse     Action = "inspect_response"
	ActionAcceptOrChangeRange Action = "accept_or_change_time_range"
	ActionCheckFilesystem     Action = "check_filesystem"
	ActionSkip                Action = "skip"
)

// RequestMeta records how the upstream was invoked. For POST sources
// Body carries the request document with secrets redacted.
type RequestMeta struct {
	URL        string `json:"url"`
	StatusCode int    `json:"status_code,omitempty"`
	Body       any    `json:"body,omitempty"`
}

// Outcome is the terminal result of fetching one (dataset, year).
// ErrorType and Action are populated only when Status is StatusError;
// Payload is populated only when Status is StatusOK.
type Outcome struct {
	Year      int
	Status    Status
	ErrorType ErrorType
	Action    Action
	Message   string
	Request   RequestMeta
	Payload   json.RawMessage
	Attempts  int
	FromCache bool
}

func okOutcome(year int, meta RequestMeta, payload json.RawMessage, attempts int) Outcome {
	return Outcome{
		Year:     year,
		Status:   StatusOK,
		Message:  "Success",
		Request:  meta,
		Payload:  payload,
		Attempts: attempts,
	}
}

func errOutcome(year int, errType ErrorType, action Action, message string, meta RequestMeta, attempts int) Outcome {
	return Outcome{
		Year:      year,
		Status:    StatusError,
		ErrorType: errType,
		Action:    action,
		Message:   message,
		Request:   meta,
		Attempts:  attempts,
	}
}

// classifyTerminalStatus maps a non-retryable, non-2xx HTTP status to
// its error classification.
func classifyTerminalStatus(code int) (ErrorType, Action, string) {
	switch code {
	case 400:
		return ErrorClient, ActionFixRequest, "API rejected the request format or parameters."
	case 401, 403:
		return ErrorClient, ActionCheckCredentials, "API rejected the credentials or the key lacks access."
	case 404:
		return ErrorClient, ActionFixRequest, "Series or endpoint was not found."
	default:
		return ErrorClient, ActionInspectResponse, fmt.Sprintf("Unexpected status code %d.", code)
	}
}

// ensureJSON returns the body unchanged when it is valid JSON and wraps
// it otherwise, so a malformed upstream response is still captured.
func ensureJSON(body []byte, contentType string) json.RawMessage {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && json.Valid(trimmed) {
		return append(json.RawMessage{}, trimmed...)
	}
	wrapped, err := json.Marshal(map[string]string{
		"non_json_response": string(body),
		"content_type":      contentType,
	})
	if err != nil {
		return json.RawMessage(`{"non_json_response":""}`)
	}
	return wrapped
}

// noData reports whether a 2xx payload is an empty result set for the
// requested year. Each source has its own shape for "nothing here":
// FRED returns an empty observations array, BLS an empty series data
// list, CoinGecko an empty prices array, and Census a bare header row.
func noData(source catalog.Source, payload json.RawMessage) bool {
	switch source {
	case catalog.SourceFRED:
		var doc struct {
			Observations []json.RawMessage `json:"observations"`
		}
		if err := json.Unmarshal(payload, &doc); err != nil {
			return false
		}
		return doc.Observations != nil && len(doc.Observations) == 0

	case catalog.SourceBLS:
		var doc struct {
			Results struct {
				Series []struct {
					Data []json.RawMessage `json:"data"`
				} `json:"series"`
			} `json:"Results"`
		}
		if err := json.Unmarshal(payload, &doc); err != nil {
			return false
		}
		if len(doc.Results.Series) == 0 {
			return true
		}
		return len(doc.Results.Series[0].Data) == 0

	case catalog.SourceCoinGecko:
		var doc struct {
			Prices []json.RawMessage `json:"prices"`
		}
		if err := json.Unmarshal(payload, &doc); err != nil {
			return false
		}
		return doc.Prices != nil && len(doc.Prices) == 0

	case catalog.SourceCensus:
		var rows []json.RawMessage
		if err := json.Unmarshal(payload, &rows); err != nil {
			return false
		}
		return len(rows) <= 1

	default:
		return false
	}
}
