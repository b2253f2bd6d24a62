package v1

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Observation is the atomic unit of the system: one reported value for
// a (geo, time) cell, tagged with the version (report date) it was
// published under. The same cell reappears across versions as the data
// source revises its history.
type Observation struct {
	// GeoValue identifies the geographic unit the observation covers
	// (e.g. "ca", "06059"). Its resolution is fixed by the dataset's
	// geo_type. REQUIRED.
	GeoValue string `json:"geo_value"`

	// OtherKeys carries values for the dataset's extra key columns
	// (e.g. age_group). Must match the dataset definition exactly.
	OtherKeys map[string]string `json:"other_keys,omitempty"`

	// TimeValue is the date the observation is about, aligned to the
	// dataset's time_type.
	TimeValue time.Time `json:"time_value"`

	// Version is the report date the value was published under.
	// Never before TimeValue: data cannot be reported before it occurs.
	Version time.Time `json:"version"`

	// Values holds the dataset's value columns. A null entry is a
	// reported-missing value, distinct from the column being absent.
	Values map[string]decimal.NullDecimal `json:"values"`

	// IssueID groups the observations accepted in one ingest request.
	// Set by the ingestion service, not the client.
	IssueID string `json:"issue_id,omitempty"`

	// IngestedAt is when the service received the observation.
	IngestedAt time.Time `json:"ingested_at,omitempty"`

	// IngestSeq is a monotonic sequence number assigned on ingestion.
	// Set by database (BIGSERIAL), not exposed in the public API.
	IngestSeq int64 `json:"-"`
}

// Validate ensures the observation has all required attributes.
// Dataset-specific checks (time alignment, declared columns) happen in
// the ingestion service, which knows the dataset definition.
func (o *Observation) Validate() error {
	if o.GeoValue == "" {
		return fmt.Errorf("geo_value is required")
	}

	if o.TimeValue.IsZero() {
		return fmt.Errorf("time_value is required")
	}

	if o.Version.IsZero() {
		return fmt.Errorf("version is required")
	}

	if o.Version.Before(o.TimeValue) {
		return fmt.Errorf("version %s predates time_value %s",
			o.Version.Format(time.DateOnly), o.TimeValue.Format(time.DateOnly))
	}

	if len(o.Values) == 0 {
		return fmt.Errorf("values is required")
	}

	return nil
}
