package fetch

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/fcat-validator/econfetch/pkg/catalog"
)

func TestSetPeriodParams(t *testing.T) {
	tests := []struct {
		name      string
		url       string
		year      int
		wantStart string
		wantEnd   string
	}{
		{
			name:      "quarterly template",
			url:       "https://sdmx.oecd.org/public/rest/data/X?startPeriod=2015-Q1&dimensionAtObservation=AllDimensions",
			year:      2003,
			wantStart: "2003-Q1",
			wantEnd:   "2003-Q4",
		},
		{
			name:      "monthly template",
			url:       "https://sdmx.oecd.org/public/rest/data/X?startPeriod=2015-M01",
			year:      1999,
			wantStart: "1999-M01",
			wantEnd:   "1999-M12",
		},
		{
			name:      "annual template",
			url:       "https://sdmx.oecd.org/public/rest/data/X?startPeriod=2020",
			year:      2010,
			wantStart: "2010",
			wantEnd:   "2010",
		},
		{
			name:      "no period params at all",
			url:       "https://sdmx.oecd.org/public/rest/data/X?dimensionAtObservation=AllDimensions",
			year:      2026,
			wantStart: "2026",
			wantEnd:   "2026",
		},
		{
			name:      "existing endPeriod replaced",
			url:       "https://sdmx.oecd.org/public/rest/data/X?startPeriod=2021&endPeriod=2021",
			year:      1995,
			wantStart: "1995",
			wantEnd:   "1995",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := setPeriodParams(tt.url, tt.year)
			if err != nil {
				t.Fatalf("setPeriodParams() error: %v", err)
			}

			u, err := url.Parse(got)
			if err != nil {
				t.Fatalf("result is not a valid URL: %v", err)
			}
			q := u.Query()
			if q.Get("startPeriod") != tt.wantStart {
				t.Errorf("startPeriod = %q, want %q", q.Get("startPeriod"), tt.wantStart)
			}
			if q.Get("endPeriod") != tt.wantEnd {
				t.Errorf("endPeriod = %q, want %q", q.Get("endPeriod"), tt.wantEnd)
			}
		})
	}
}

func TestSetPeriodParams_PreservesOtherParams(t *testing.T) {
	got, err := setPeriodParams("https://sdmx.oecd.org/public/rest/data/X?startPeriod=2015-Q1&dimensionAtObservation=AllDimensions", 2003)
	if err != nil {
		t.Fatalf("setPeriodParams() error: %v", err)
	}

	u, _ := url.Parse(got)
	if u.Query().Get("dimensionAtObservation") != "AllDimensions" {
		t.Errorf("dimensionAtObservation dropped from %q", got)
	}
}

func TestECBResourcePath(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"EXR.D.USD.EUR.SP00.A", "EXR/D.USD.EUR.SP00.A"},
		{"ICP.M.U2.N.000000.4.ANR", "ICP/M.U2.N.000000.4.ANR"},
		{"EXR/D.USD.EUR.SP00.A", "EXR/D.USD.EUR.SP00.A"},
		{"PLAIN", "PLAIN"},
	}

	for _, tt := range tests {
		if got := ecbResourcePath(tt.key); got != tt.want {
			t.Errorf("ecbResourcePath(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestCensusURLForYear(t *testing.T) {
	tests := []struct {
		name string
		url  string
		year int
		want string
	}{
		{
			name: "year path segment replaced",
			url:  "https://api.census.gov/data/2020/dec/pl?get=NAME,P1_001N&for=state:*",
			year: 2010,
			want: "/data/2010/dec/pl",
		},
		{
			name: "timeseries url untouched path",
			url:  "https://api.census.gov/data/timeseries/poverty/saipe?get=NAME&for=state:*&time=2021",
			year: 1998,
			want: "/data/timeseries/poverty/saipe",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := censusURLForYear(tt.url, tt.year)
			if err != nil {
				t.Fatalf("censusURLForYear() error: %v", err)
			}

			u, err := url.Parse(got)
			if err != nil {
				t.Fatalf("result is not a valid URL: %v", err)
			}
			if u.Path != tt.want {
				t.Errorf("path = %q, want %q", u.Path, tt.want)
			}
		})
	}
}

func TestCensusURLForYear_TimeParam(t *testing.T) {
	got, err := censusURLForYear("https://api.census.gov/data/timeseries/poverty/saipe?get=NAME&for=state:*&time=2021", 1998)
	if err != nil {
		t.Fatalf("censusURLForYear() error: %v", err)
	}

	u, _ := url.Parse(got)
	if u.Query().Get("time") != "1998" {
		t.Errorf("time = %q, want 1998", u.Query().Get("time"))
	}
	if u.Query().Get("get") != "NAME" {
		t.Errorf("get param dropped from %q", got)
	}
}

func TestBuildFREDRequest(t *testing.T) {
	plan, err := buildFREDRequest(context.Background(), "CXUTOTALEXPLB0407M", "secret-key", 2001)
	if err != nil {
		t.Fatalf("buildFREDRequest() error: %v", err)
	}

	if plan.req.Method != http.MethodGet {
		t.Errorf("method = %q, want GET", plan.req.Method)
	}

	q := plan.req.URL.Query()
	if q.Get("series_id") != "CXUTOTALEXPLB0407M" {
		t.Errorf("series_id = %q", q.Get("series_id"))
	}
	if q.Get("api_key") != "secret-key" {
		t.Errorf("api_key = %q, want secret-key", q.Get("api_key"))
	}
	if q.Get("file_type") != "json" {
		t.Errorf("file_type = %q, want json", q.Get("file_type"))
	}
	if q.Get("observation_start") != "2001-01-01" || q.Get("observation_end") != "2001-12-31" {
		t.Errorf("observation range = %q..%q", q.Get("observation_start"), q.Get("observation_end"))
	}

	if strings.Contains(plan.meta.URL, "secret-key") {
		t.Errorf("meta URL leaks the api key: %q", plan.meta.URL)
	}
	if !strings.Contains(plan.meta.URL, "api_key=REDACTED") {
		t.Errorf("meta URL missing redaction marker: %q", plan.meta.URL)
	}
	if plan.timeout != defaultRequestTimeout {
		t.Errorf("timeout = %v, want %v", plan.timeout, defaultRequestTimeout)
	}
}

func TestBuildBLSRequest(t *testing.T) {
	plan, err := buildBLSRequest(context.Background(), "LNS14000000", "reg-key", 1997)
	if err != nil {
		t.Fatalf("buildBLSRequest() error: %v", err)
	}

	if plan.req.Method != http.MethodPost {
		t.Errorf("method = %q, want POST", plan.req.Method)
	}
	if plan.req.Header.Get("Content-Type") != "application/json" {
		t.Errorf("Content-Type = %q", plan.req.Header.Get("Content-Type"))
	}

	body, ok := plan.meta.Body.(blsRequestBody)
	if !ok {
		t.Fatalf("meta body has type %T, want blsRequestBody", plan.meta.Body)
	}
	if len(body.SeriesID) != 1 || body.SeriesID[0] != "LNS14000000" {
		t.Errorf("seriesid = %v", body.SeriesID)
	}
	if body.StartYear != "1997" || body.EndYear != "1997" {
		t.Errorf("year range = %s..%s, want 1997..1997", body.StartYear, body.EndYear)
	}
	if body.RegistrationKey != "REDACTED" {
		t.Errorf("meta registration key = %q, want REDACTED", body.RegistrationKey)
	}
}

func TestBuildBLSRequest_NoKey(t *testing.T) {
	plan, err := buildBLSRequest(context.Background(), "CUSR0000SA0", "", 2005)
	if err != nil {
		t.Fatalf("buildBLSRequest() error: %v", err)
	}

	body := plan.meta.Body.(blsRequestBody)
	if body.RegistrationKey != "" {
		t.Errorf("meta registration key = %q, want empty", body.RegistrationKey)
	}
}

func TestBuildCoinGeckoRequest(t *testing.T) {
	plan, err := buildCoinGeckoRequest(context.Background(), "bitcoin", 2017)
	if err != nil {
		t.Fatalf("buildCoinGeckoRequest() error: %v", err)
	}

	if !strings.Contains(plan.req.URL.Path, "/coins/bitcoin/market_chart/range") {
		t.Errorf("path = %q", plan.req.URL.Path)
	}

	q := plan.req.URL.Query()
	if q.Get("vs_currency") != "usd" {
		t.Errorf("vs_currency = %q", q.Get("vs_currency"))
	}
	// 2017-01-01T00:00:00Z and 2017-12-31T23:59:59Z.
	if q.Get("from") != "1483228800" {
		t.Errorf("from = %q, want 1483228800", q.Get("from"))
	}
	if q.Get("to") != "1514764799" {
		t.Errorf("to = %q, want 1514764799", q.Get("to"))
	}

	if plan.req.Header.Get("User-Agent") != "FCAT_Validator" {
		t.Errorf("User-Agent = %q", plan.req.Header.Get("User-Agent"))
	}
}

func TestBuildOECDRequest(t *testing.T) {
	plan, err := buildOECDRequest(context.Background(), "https://sdmx.oecd.org/public/rest/data/X?startPeriod=2015-Q1", 2000)
	if err != nil {
		t.Fatalf("buildOECDRequest() error: %v", err)
	}

	if !plan.insecure {
		t.Error("OECD plan should use the relaxed TLS client")
	}
	if plan.timeout != oecdRequestTimeout {
		t.Errorf("timeout = %v, want %v", plan.timeout, oecdRequestTimeout)
	}
	if plan.req.Header.Get("User-Agent") != "Mozilla/5.0" {
		t.Errorf("User-Agent = %q", plan.req.Header.Get("User-Agent"))
	}
	if plan.req.Header.Get("Referer") != "https://data-explorer.oecd.org/" {
		t.Errorf("Referer = %q", plan.req.Header.Get("Referer"))
	}
	if plan.req.URL.Query().Get("startPeriod") != "2000-Q1" {
		t.Errorf("startPeriod = %q, want 2000-Q1", plan.req.URL.Query().Get("startPeriod"))
	}
}

func TestBuildECBRequest(t *testing.T) {
	plan, err := buildECBRequest(context.Background(), "EXR.D.USD.EUR.SP00.A", 2008)
	if err != nil {
		t.Fatalf("buildECBRequest() error: %v", err)
	}

	if !strings.HasPrefix(plan.req.URL.String(), "https://data-api.ecb.europa.eu/service/data/EXR/D.USD.EUR.SP00.A") {
		t.Errorf("url = %q", plan.req.URL.String())
	}
	q := plan.req.URL.Query()
	if q.Get("startPeriod") != "2008-01-01" || q.Get("endPeriod") != "2008-12-31" {
		t.Errorf("period = %q..%q", q.Get("startPeriod"), q.Get("endPeriod"))
	}
	if plan.req.Header.Get("Accept") != "application/json" {
		t.Errorf("Accept = %q", plan.req.Header.Get("Accept"))
	}
}

func TestBuildRequest_AllSources(t *testing.T) {
	descriptors := catalog.Builtin()
	for _, d := range descriptors {
		plan, err := buildRequest(context.Background(), d, "key", 2020)
		if err != nil {
			t.Errorf("buildRequest(%s) error: %v", d.Slug(), err)
			continue
		}
		if plan.req == nil {
			t.Errorf("buildRequest(%s) returned nil request", d.Slug())
		}
		if plan.timeout < 30*time.Second {
			t.Errorf("buildRequest(%s) timeout = %v", d.Slug(), plan.timeout)
		}
	}
}

func TestBuildRequest_UnknownSource(t *testing.T) {
	d := catalog.Descriptor{Group: "X", Name: "Y", Source: catalog.Source("wat"), SeriesID: "z"}
	if _, err := buildRequest(context.Background(), d, "", 2020); err == nil {
		t.Error("expected error for unknown source")
	}
}
