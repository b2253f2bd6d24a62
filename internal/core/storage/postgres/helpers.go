package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	v1 "github.com/cmu-delphi/epitools/internal/api/v1"
)

// marshalObservationJSON marshals an observation's other_keys and values
// maps to JSON for the JSONB columns.
//
// Empty other_keys produces "{}" rather than SQL NULL: the column
// participates in the table's uniqueness constraint, and NULLs never
// compare equal there. json.Marshal sorts map keys, so equal key sets
// always produce identical bytes.
func marshalObservationJSON(obs *v1.Observation) (otherKeysJSON, valuesJSON []byte, err error) {
	otherKeys := obs.OtherKeys
	if otherKeys == nil {
		otherKeys = map[string]string{}
	}
	otherKeysJSON, err = json.Marshal(otherKeys)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal other_keys: %w", err)
	}

	valuesJSON, err = json.Marshal(obs.Values)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal values: %w", err)
	}

	return otherKeysJSON, valuesJSON, nil
}

// nullableTime converts a zero time to SQL NULL so open-ended range
// bounds pass through as "no filter".
func nullableTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

type scanner interface {
	Scan(dest ...interface{}) error
}

// scanObservationRow scans a database row into an Observation struct.
// Handles JSON unmarshalling for the other_keys and values columns.
// Compatible with both sql.Row (single) and sql.Rows (multiple).
func scanObservationRow(row scanner) (*v1.Observation, error) {
	var obs v1.Observation
	var otherKeysJSON, valuesJSON []byte

	err := row.Scan(
		&obs.GeoValue,
		&otherKeysJSON,
		&obs.TimeValue,
		&obs.Version,
		&valuesJSON,
		&obs.IssueID,
		&obs.IngestedAt,
		&obs.IngestSeq,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan observation row: %w", err)
	}

	if err := json.Unmarshal(otherKeysJSON, &obs.OtherKeys); err != nil {
		return nil, fmt.Errorf("failed to unmarshal other_keys: %w", err)
	}
	if len(obs.OtherKeys) == 0 {
		obs.OtherKeys = nil
	}

	if err := json.Unmarshal(valuesJSON, &obs.Values); err != nil {
		return nil, fmt.Errorf("failed to unmarshal values: %w", err)
	}

	return &obs, nil
}
