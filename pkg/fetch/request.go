package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/fcat-validator/econfetch/pkg/catalog"
)

const (
	fredObservationsURL = "https://api.stlouisfed.org/fred/series/observations"
	blsTimeseriesURL    = "https://api.bls.gov/publicAPI/v2/timeseries/data/"
	coinGeckoBaseURL    = "https://api.coingecko.com/api/v3"
	ecbDataBaseURL      = "https://data-api.ecb.europa.eu/service/data"

	defaultRequestTimeout = 30 * time.Second
	oecdRequestTimeout    = 45 * time.Second
)

// requestPlan is one fully prepared upstream request. Meta is the
// redacted description recorded in payload envelopes and summaries.
type requestPlan struct {
	req      *http.Request
	meta     RequestMeta
	timeout  time.Duration
	insecure bool
}

// buildRequest prepares the request for one (dataset, year). A returned
// error means the dataset configuration cannot produce a valid request
// and the year is a permanent failure.
func buildRequest(ctx context.Context, d catalog.Descriptor, apiKey string, year int) (*requestPlan, error) {
	switch d.Source {
	case catalog.SourceFRED:
		return buildFREDRequest(ctx, d.SeriesID, apiKey, year)
	case catalog.SourceBLS:
		return buildBLSRequest(ctx, d.SeriesID, apiKey, year)
	case catalog.SourceCoinGecko:
		return buildCoinGeckoRequest(ctx, d.SeriesID, year)
	case catalog.SourceOECD:
		return buildOECDRequest(ctx, d.SeriesID, year)
	case catalog.SourceECB:
		return buildECBRequest(ctx, d.SeriesID, year)
	case catalog.SourceCensus:
		return buildCensusRequest(ctx, d.SeriesID, year)
	default:
		return nil, fmt.Errorf("no request builder for source %q", d.Source)
	}
}

func fredValues(seriesID, apiKey string, year int) url.Values {
	params := url.Values{}
	params.Set("series_id", seriesID)
	params.Set("api_key", apiKey)
	params.Set("file_type", "json")
	params.Set("observation_start", fmt.Sprintf("%d-01-01", year))
	params.Set("observation_end", fmt.Sprintf("%d-12-31", year))
	return params
}

func buildFREDRequest(ctx context.Context, seriesID, apiKey string, year int) (*requestPlan, error) {
	reqURL := fredObservationsURL + "?" + fredValues(seriesID, apiKey, year).Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build fred request: %w", err)
	}

	// The key never goes into envelopes or summaries.
	metaURL := fredObservationsURL + "?" + fredValues(seriesID, "REDACTED", year).Encode()
	return &requestPlan{
		req:     req,
		meta:    RequestMeta{URL: metaURL},
		timeout: defaultRequestTimeout,
	}, nil
}

// blsRequestBody is the v2 timeseries request document.
type blsRequestBody struct {
	SeriesID        []string `json:"seriesid"`
	StartYear       string   `json:"startyear"`
	EndYear         string   `json:"endyear"`
	RegistrationKey string   `json:"registrationkey,omitempty"`
}

func buildBLSRequest(ctx context.Context, seriesID, apiKey string, year int) (*requestPlan, error) {
	body := blsRequestBody{
		SeriesID:  []string{seriesID},
		StartYear: strconv.Itoa(year),
		EndYear:   strconv.Itoa(year),
	}
	// The registration key is optional; without it BLS serves the
	// unregistered quota.
	body.RegistrationKey = apiKey

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode bls request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, blsTimeseriesURL, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("build bls request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	metaBody := body
	if metaBody.RegistrationKey != "" {
		metaBody.RegistrationKey = "REDACTED"
	}
	return &requestPlan{
		req:     req,
		meta:    RequestMeta{URL: blsTimeseriesURL, Body: metaBody},
		timeout: defaultRequestTimeout,
	}, nil
}

func buildCoinGeckoRequest(ctx context.Context, coinID string, year int) (*requestPlan, error) {
	start := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(year, 12, 31, 23, 59, 59, 0, time.UTC)

	params := url.Values{}
	params.Set("vs_currency", "usd")
	params.Set("from", strconv.FormatInt(start.Unix(), 10))
	params.Set("to", strconv.FormatInt(end.Unix(), 10))

	reqURL := fmt.Sprintf("%s/coins/%s/market_chart/range?%s", coinGeckoBaseURL, url.PathEscape(coinID), params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build coingecko request: %w", err)
	}
	req.Header.Set("User-Agent", "FCAT_Validator")

	return &requestPlan{
		req:     req,
		meta:    RequestMeta{URL: reqURL},
		timeout: defaultRequestTimeout,
	}, nil
}

func buildOECDRequest(ctx context.Context, datasetURL string, year int) (*requestPlan, error) {
	reqURL, err := setPeriodParams(datasetURL, year)
	if err != nil {
		return nil, fmt.Errorf("rewrite oecd period params: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build oecd request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")
	req.Header.Set("Accept", "application/json, text/csv;q=0.9, */*;q=0.8")
	req.Header.Set("Referer", "https://data-explorer.oecd.org/")

	// The OECD SDMX endpoint presents a certificate chain that fails
	// strict verification, so this request uses the relaxed client.
	return &requestPlan{
		req:      req,
		meta:     RequestMeta{URL: reqURL},
		timeout:  oecdRequestTimeout,
		insecure: true,
	}, nil
}

func buildECBRequest(ctx context.Context, seriesKey string, year int) (*requestPlan, error) {
	params := url.Values{}
	params.Set("startPeriod", fmt.Sprintf("%d-01-01", year))
	params.Set("endPeriod", fmt.Sprintf("%d-12-31", year))

	reqURL := fmt.Sprintf("%s/%s?%s", ecbDataBaseURL, ecbResourcePath(seriesKey), params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build ecb request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "FCAT_Validator")

	return &requestPlan{
		req:     req,
		meta:    RequestMeta{URL: reqURL},
		timeout: defaultRequestTimeout,
	}, nil
}

func buildCensusRequest(ctx context.Context, datasetURL string, year int) (*requestPlan, error) {
	reqURL, err := censusURLForYear(datasetURL, year)
	if err != nil {
		return nil, fmt.Errorf("rewrite census url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build census request: %w", err)
	}

	return &requestPlan{
		req:     req,
		meta:    RequestMeta{URL: reqURL},
		timeout: defaultRequestTimeout,
	}, nil
}

// setPeriodParams rewrites the startPeriod/endPeriod query parameters
// of an OECD SDMX URL for the requested year. The catalog URL carries a
// period template whose shape decides the granularity: "-Q" means
// quarterly, "-M" monthly, anything else annual.
func setPeriodParams(rawURL string, year int) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}

	q := u.Query()
	template := q.Get("startPeriod")
	if template == "" {
		template = "YYYY"
	}

	switch {
	case strings.Contains(template, "-Q"):
		q.Set("startPeriod", fmt.Sprintf("%d-Q1", year))
		q.Set("endPeriod", fmt.Sprintf("%d-Q4", year))
	case strings.Contains(template, "-M"):
		q.Set("startPeriod", fmt.Sprintf("%d-M01", year))
		q.Set("endPeriod", fmt.Sprintf("%d-M12", year))
	default:
		q.Set("startPeriod", strconv.Itoa(year))
		q.Set("endPeriod", strconv.Itoa(year))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ecbResourcePath turns a dotted series key like EXR.D.USD.EUR.SP00.A
// into the flow/key form the ECB data API expects. Keys already
// containing a slash pass through unchanged.
func ecbResourcePath(seriesKey string) string {
	if strings.Contains(seriesKey, ".") && !strings.Contains(seriesKey, "/") {
		parts := strings.SplitN(seriesKey, ".", 2)
		return parts[0] + "/" + parts[1]
	}
	return seriesKey
}

var censusDataPathRe = regexp.MustCompile(`/data/\d{4}/`)

// censusURLForYear rebases the year segment of a Census API URL and,
// when present, the time query parameter.
func censusURLForYear(datasetURL string, year int) (string, error) {
	rebased := censusDataPathRe.ReplaceAllString(datasetURL, fmt.Sprintf("/data/%d/", year))

	u, err := url.Parse(rebased)
	if err != nil {
		return "", err
	}

	q := u.Query()
	if q.Has("time") {
		q.Set("time", strconv.Itoa(year))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
