// Package catalog defines the static dataset catalog: which economic
// series are downloaded, from which source API, and under which slug
// their artifacts are stored.
package catalog

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Download range shared by every dataset, inclusive on both ends.
const (
	StartYear = 1995
	EndYear   = 2026
)

// Years returns the full download range in ascending order.
func Years() []int {
	years := make([]int, 0, EndYear-StartYear+1)
	for y := StartYear; y <= EndYear; y++ {
		years = append(years, y)
	}
	return years
}

// Source identifies an upstream API.
type Source string

const (
	SourceFRED      Source = "fred"
	SourceBLS       Source = "bls"
	SourceCoinGecko Source = "coingecko"
	SourceOECD      Source = "oecd"
	SourceECB       Source = "ecb"
	SourceCensus    Source = "census"
	SourceIMF       Source = "imf"
)

// Valid reports whether s names a supported source API.
func (s Source) Valid() bool {
	switch s {
	case SourceFRED, SourceBLS, SourceCoinGecko, SourceOECD, SourceECB, SourceCensus, SourceIMF:
		return true
	}
	return false
}

// Sources lists every supported source API.
func Sources() []Source {
	return []Source{SourceFRED, SourceBLS, SourceCoinGecko, SourceOECD, SourceECB, SourceCensus, SourceIMF}
}

// CredentialEnvKey returns the environment variable consulted for the
// source's API key, e.g. FRED_API_KEY. The same name is looked up in
// the secrets file when the variable is unset.
func (s Source) CredentialEnvKey() string {
	return strings.ToUpper(string(s)) + "_API_KEY"
}

// CredentialRequirement describes whether a source needs an API key.
type CredentialRequirement int

const (
	// CredentialNone means the source is queried without a key.
	CredentialNone CredentialRequirement = iota

	// CredentialOptional means a key is sent when available (BLS grants
	// higher daily quotas to registered keys but accepts anonymous calls).
	CredentialOptional

	// CredentialRequired means requests are pointless without a key;
	// a dataset on such a source is skipped when no key resolves.
	CredentialRequired
)

// Credential returns the source's API key requirement.
func (s Source) Credential() CredentialRequirement {
	switch s {
	case SourceFRED:
		return CredentialRequired
	case SourceBLS:
		return CredentialOptional
	default:
		return CredentialNone
	}
}

// Descriptor identifies one dataset: a named series on a source API.
// Descriptors are immutable; runners only ever read them.
type Descriptor struct {
	// Group is the catalog section the dataset belongs to ("BLS",
	// "US Census", ...). Combined with Name it forms the slug.
	Group string `toml:"group"`

	// Name is the human-readable dataset name.
	Name string `toml:"name"`

	// Source is the upstream API the dataset is fetched from.
	Source Source `toml:"source"`

	// SeriesID is the source-specific identifier: a series code for
	// FRED/BLS/ECB, a coin id for CoinGecko, or a full request URL for
	// OECD/Census.
	SeriesID string `toml:"series_id"`
}

// Slug returns the dataset's directory name under the output root.
func (d Descriptor) Slug() string {
	return Slugify(d.Group + "_" + d.Name)
}

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases v, collapses every non-alphanumeric run to a
// single underscore, and trims leading/trailing underscores.
func Slugify(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	v = slugRe.ReplaceAllString(v, "_")
	return strings.Trim(v, "_")
}

// Builtin returns the compiled-in catalog in its canonical order.
func Builtin() []Descriptor {
	return []Descriptor{
		{Group: "35 Years", Name: "Retirement Expenses (Age 65+)", Source: SourceFRED, SeriesID: "CXUTOTALEXPLB0407M"},
		{Group: "BLS", Name: "US Unemployment", Source: SourceBLS, SeriesID: "LNS14000000"},
		{Group: "BLS", Name: "US CPI (Inflation)", Source: SourceBLS, SeriesID: "CUSR0000SA0"},
		{Group: "ECB", Name: "USD/EUR Exchange Rate", Source: SourceECB, SeriesID: "EXR.D.USD.EUR.SP00.A"},
		{Group: "ECB", Name: "Eurozone Inflation (HICP)", Source: SourceECB, SeriesID: "ICP.M.U2.N.000000.4.ANR"},
		{Group: "OECD", Name: "USA GDP (Quarterly)", Source: SourceOECD, SeriesID: "https://sdmx.oecd.org/public/rest/data/OECD.SDD.NAD,DSD_NAMAIN1@DF_QNA,1.1/Q.USA.B1GQ...?startPeriod=2015-Q1&dimensionAtObservation=AllDimensions"},
		{Group: "OECD", Name: "Trust in Government (Map)", Source: SourceOECD, SeriesID: "https://sdmx.oecd.org/public/rest/data/OECD.GOV.GG,DSD_GOV_TRUST@DF_TRUST_INST,1.0/.......?startPeriod=2020&dimensionAtObservation=AllDimensions"},
		{Group: "OECD", Name: "Scientific Collaboration (2021)", Source: SourceOECD, SeriesID: "https://sdmx.oecd.org/public/rest/data/OECD.STI.STP,DSD_BIBLIO@DF_BIBLIO_COLLAB,1.1/all?startPeriod=2021&endPeriod=2021&dimensionAtObservation=AllDimensions"},
		{Group: "US Census", Name: "Population by State (2020)", Source: SourceCensus, SeriesID: "https://api.census.gov/data/2020/dec/pl?get=NAME,P1_001N&for=state:*"},
		{Group: "US Census", Name: "Median Income by County (2021)", Source: SourceCensus, SeriesID: "https://api.census.gov/data/2021/acs/acs1/profile?get=NAME,DP03_0062E&for=county:*"},
		{Group: "US Census", Name: "Poverty Rate by State", Source: SourceCensus, SeriesID: "https://api.census.gov/data/timeseries/poverty/saipe?get=NAME,SAEPOVRTALL_PT&for=state:*&time=2021"},
	}
}

// catalogFile is the on-disk TOML shape for a catalog override.
type catalogFile struct {
	Datasets []Descriptor `toml:"datasets"`
}

// Load reads a catalog override from a TOML file. The file fully
// replaces the built-in catalog; order is preserved.
func Load(path string) ([]Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	var file catalogFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	if len(file.Datasets) == 0 {
		return nil, fmt.Errorf("catalog %s contains no datasets", path)
	}

	seen := make(map[string]bool, len(file.Datasets))
	for _, d := range file.Datasets {
		if d.Group == "" || d.Name == "" {
			return nil, fmt.Errorf("catalog entry %q/%q: group and name are required", d.Group, d.Name)
		}
		if !d.Source.Valid() {
			return nil, fmt.Errorf("catalog entry %s: unsupported source %q", d.Slug(), d.Source)
		}
		if seen[d.Slug()] {
			return nil, fmt.Errorf("catalog entry %s: duplicate slug", d.Slug())
		}
		seen[d.Slug()] = true
	}

	return file.Datasets, nil
}

// Find returns the descriptor with the given slug.
func Find(descriptors []Descriptor, slug string) (Descriptor, bool) {
	for _, d := range descriptors {
		if d.Slug() == slug {
			return d, true
		}
	}
	return Descriptor{}, false
}
