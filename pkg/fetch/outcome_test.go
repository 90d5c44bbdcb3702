package fetch

import (
	"encoding/json"
	"testing"

	"github.com/fcat-validator/econfetch/pkg/catalog"
)

func TestEnsureJSON_ValidPassthrough(t *testing.T) {
	body := []byte(` {"observations":[{"value":"4.2"}]} `)
	got := ensureJSON(body, "application/json")

	if string(got) != `{"observations":[{"value":"4.2"}]}` {
		t.Errorf("ensureJSON() = %s, want trimmed passthrough", got)
	}
}

func TestEnsureJSON_WrapsNonJSON(t *testing.T) {
	got := ensureJSON([]byte("<html>rate limited</html>"), "text/html")

	var wrapped struct {
		NonJSONResponse string `json:"non_json_response"`
		ContentType     string `json:"content_type"`
	}
	if err := json.Unmarshal(got, &wrapped); err != nil {
		t.Fatalf("wrapped payload is not valid JSON: %v", err)
	}
	if wrapped.NonJSONResponse != "<html>rate limited</html>" {
		t.Errorf("non_json_response = %q", wrapped.NonJSONResponse)
	}
	if wrapped.ContentType != "text/html" {
		t.Errorf("content_type = %q, want text/html", wrapped.ContentType)
	}
}

func TestEnsureJSON_WrapsEmptyBody(t *testing.T) {
	got := ensureJSON(nil, "")

	var wrapped map[string]string
	if err := json.Unmarshal(got, &wrapped); err != nil {
		t.Fatalf("wrapped payload is not valid JSON: %v", err)
	}
	if wrapped["non_json_response"] != "" {
		t.Errorf("non_json_response = %q, want empty", wrapped["non_json_response"])
	}
}

func TestNoData(t *testing.T) {
	tests := []struct {
		name    string
		source  catalog.Source
		payload string
		want    bool
	}{
		{
			name:    "fred empty observations",
			source:  catalog.SourceFRED,
			payload: `{"count":0,"observations":[]}`,
			want:    true,
		},
		{
			name:    "fred with observations",
			source:  catalog.SourceFRED,
			payload: `{"observations":[{"date":"2001-01-01","value":"4.2"}]}`,
			want:    false,
		},
		{
			name:    "fred without observations key",
			source:  catalog.SourceFRED,
			payload: `{"error_code":400}`,
			want:    false,
		},
		{
			name:    "bls empty series list",
			source:  catalog.SourceBLS,
			payload: `{"status":"REQUEST_SUCCEEDED","Results":{"series":[]}}`,
			want:    true,
		},
		{
			name:    "bls series without data",
			source:  catalog.SourceBLS,
			payload: `{"Results":{"series":[{"seriesID":"LNS14000000","data":[]}]}}`,
			want:    true,
		},
		{
			name:    "bls missing results block",
			source:  catalog.SourceBLS,
			payload: `{"status":"REQUEST_NOT_PROCESSED"}`,
			want:    true,
		},
		{
			name:    "bls series with data",
			source:  catalog.SourceBLS,
			payload: `{"Results":{"series":[{"data":[{"year":"2001","value":"4.7"}]}]}}`,
			want:    false,
		},
		{
			name:    "coingecko empty prices",
			source:  catalog.SourceCoinGecko,
			payload: `{"prices":[],"market_caps":[]}`,
			want:    true,
		},
		{
			name:    "coingecko with prices",
			source:  catalog.SourceCoinGecko,
			payload: `{"prices":[[1483228800000,998.33]]}`,
			want:    false,
		},
		{
			name:    "census header only",
			source:  catalog.SourceCensus,
			payload: `[["NAME","P1_001N","state"]]`,
			want:    true,
		},
		{
			name:    "census with rows",
			source:  catalog.SourceCensus,
			payload: `[["NAME","P1_001N","state"],["Alabama","5024279","01"]]`,
			want:    false,
		},
		{
			name:    "census object payload",
			source:  catalog.SourceCensus,
			payload: `{"error":"unknown dataset"}`,
			want:    false,
		},
		{
			name:    "oecd never probed",
			source:  catalog.SourceOECD,
			payload: `{"data":{"dataSets":[]}}`,
			want:    false,
		},
		{
			name:    "ecb never probed",
			source:  catalog.SourceECB,
			payload: `{}`,
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := noData(tt.source, json.RawMessage(tt.payload))
			if got != tt.want {
				t.Errorf("noData(%s) = %v, want %v", tt.source, got, tt.want)
			}
		})
	}
}

func TestClassifyTerminalStatus(t *testing.T) {
	tests := []struct {
		code       int
		wantType   ErrorType
		wantAction Action
	}{
		{400, ErrorClient, ActionFixRequest},
		{401, ErrorClient, ActionCheckCredentials},
		{403, ErrorClient, ActionCheckCredentials},
		{404, ErrorClient, ActionFixRequest},
		{302, ErrorClient, ActionInspectResponse},
		{418, ErrorClient, ActionInspectResponse},
	}

	for _, tt := range tests {
		errType, action, message := classifyTerminalStatus(tt.code)
		if errType != tt.wantType {
			t.Errorf("classifyTerminalStatus(%d) type = %q, want %q", tt.code, errType, tt.wantType)
		}
		if action != tt.wantAction {
			t.Errorf("classifyTerminalStatus(%d) action = %q, want %q", tt.code, action, tt.wantAction)
		}
		if message == "" {
			t.Errorf("classifyTerminalStatus(%d) returned empty message", tt.code)
		}
	}
}
