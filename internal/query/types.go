package query

import (
	"time"

	"github.com/shopspring/decimal"
)

// SnapshotRequest asks for the dataset as it looked on a given date.
type SnapshotRequest struct {
	Dataset string
	AsOf    time.Time

	// Geo filters to one geo value when non-empty.
	Geo string

	// Start and End bound time_value inclusively; zero means unbounded.
	Start time.Time
	End   time.Time
}

// SlideRequest asks for a rolling-window computation over a snapshot.
type SlideRequest struct {
	SnapshotRequest

	// Column is the value column to slide over.
	Column string

	// Op is a registered slide operator (mean, sum, median, ...).
	Op string

	// Window is the trailing window size: a bare step count or a
	// suffixed form matching the dataset's time type ("7d", "4w").
	Window string

	// SkipMissing reduces over whatever the window holds instead of
	// yielding missing for incomplete windows.
	SkipMissing bool
}

// TableResponse is the JSON shape of a returned snapshot or slide table.
type TableResponse struct {
	Dataset  string        `json:"dataset"`
	GeoType  string        `json:"geo_type"`
	TimeType string        `json:"time_type"`
	AsOf     time.Time     `json:"as_of"`
	Columns  []string      `json:"columns"`
	Rows     []ResponseRow `json:"rows"`
}

// ResponseRow is one table row on the wire. A null entry in Values is a
// missing value; a gap-completed row carries all-null values.
type ResponseRow struct {
	GeoValue  string                         `json:"geo_value"`
	OtherKeys map[string]string              `json:"other_keys,omitempty"`
	TimeValue time.Time                      `json:"time_value"`
	Values    map[string]decimal.NullDecimal `json:"values"`
}

// DatasetInfo describes one loaded dataset definition.
type DatasetInfo struct {
	Name         string   `json:"name"`
	GeoType      string   `json:"geo_type"`
	TimeType     string   `json:"time_type"`
	OtherKeys    []string `json:"other_keys,omitempty"`
	ValueColumns []string `json:"value_columns"`
	Fingerprint  string   `json:"fingerprint"`
}
