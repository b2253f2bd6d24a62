package epidf

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cmu-delphi/epitools/internal/core/timestep"
)

// Metadata describes the shape of a snapshot table: the geographic
// resolution of its rows, the granularity of its time column, the
// report date the data was observed as of, and any key columns beyond
// geo and time.
type Metadata struct {
	GeoType   string
	TimeType  timestep.TimeType
	AsOf      time.Time
	OtherKeys []string
}

// Row is a single observation: one (geo, other keys, time) cell with
// one or more named values. A value may be present-but-missing
// (NullDecimal with Valid=false), which is distinct from the row being
// absent entirely.
type Row struct {
	GeoValue  string
	Extra     map[string]string
	TimeValue time.Time
	Values    map[string]decimal.NullDecimal
}

// Table is a point-in-time snapshot of reported data: rows keyed by
// geo plus the metadata's other keys, indexed by time, canonically
// sorted by key then time. Construct with New; the validation there is
// what the rest of the package relies on.
type Table struct {
	Meta         Metadata
	ValueColumns []string
	Rows         []Row
}

// New validates rows against the metadata and returns a canonical
// table: every time value aligned to the declared time type, no
// duplicate (key, time) pairs, rows sorted by key then time, and every
// declared value column materialized on every row (missing when not
// supplied).
func New(meta Metadata, valueColumns []string, rows []Row) (*Table, error) {
	if meta.GeoType == "" {
		return nil, fmt.Errorf("geo_type is required")
	}
	if !meta.TimeType.Valid() {
		return nil, fmt.Errorf("unsupported time_type %q", meta.TimeType)
	}
	if len(valueColumns) == 0 {
		return nil, fmt.Errorf("at least one value column is required")
	}
	declared := make(map[string]bool, len(valueColumns))
	for _, col := range valueColumns {
		if col == "" {
			return nil, fmt.Errorf("value column names must not be empty")
		}
		if declared[col] {
			return nil, fmt.Errorf("duplicate value column %q", col)
		}
		declared[col] = true
	}

	t := &Table{
		Meta:         meta,
		ValueColumns: append([]string(nil), valueColumns...),
		Rows:         make([]Row, 0, len(rows)),
	}

	seen := make(map[rowKey]bool, len(rows))
	weekAnchor := make(map[GroupKey]time.Weekday)

	for i, r := range rows {
		if r.GeoValue == "" {
			return nil, fmt.Errorf("row %d: geo_value is required", i)
		}
		if len(r.Extra) != len(meta.OtherKeys) {
			return nil, fmt.Errorf("row %d: expected key columns %v", i, meta.OtherKeys)
		}
		for _, k := range meta.OtherKeys {
			if _, ok := r.Extra[k]; !ok {
				return nil, fmt.Errorf("row %d: missing key column %q", i, k)
			}
		}
		if err := timestep.ValidateValue(r.TimeValue, meta.TimeType); err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		for col := range r.Values {
			if !declared[col] {
				return nil, fmt.Errorf("row %d: undeclared value column %q", i, col)
			}
		}

		group := t.groupKeyOf(r)
		if meta.TimeType == timestep.TypeWeek {
			// All time values within one series must share a weekday anchor.
			if anchor, ok := weekAnchor[group]; ok && anchor != r.TimeValue.Weekday() {
				return nil, fmt.Errorf("row %d: week value %s breaks the series weekday anchor (%s)",
					i, r.TimeValue.Format(time.DateOnly), anchor)
			}
			weekAnchor[group] = r.TimeValue.Weekday()
		}

		key := rowKey{group: group, time: r.TimeValue}
		if seen[key] {
			return nil, fmt.Errorf("row %d: duplicate observation for (%s, %s)",
				i, group, r.TimeValue.Format(time.DateOnly))
		}
		seen[key] = true

		t.Rows = append(t.Rows, normalizeRow(r, valueColumns))
	}

	t.sortRows()
	return t, nil
}

// rowKey identifies one observation cell for duplicate detection.
type rowKey struct {
	group GroupKey
	time  time.Time
}

// normalizeRow copies the row and materializes every declared value
// column, so downstream code never distinguishes nil-map from missing.
func normalizeRow(r Row, valueColumns []string) Row {
	out := Row{
		GeoValue:  r.GeoValue,
		TimeValue: r.TimeValue,
		Values:    make(map[string]decimal.NullDecimal, len(valueColumns)),
	}
	if len(r.Extra) > 0 {
		out.Extra = make(map[string]string, len(r.Extra))
		for k, v := range r.Extra {
			out.Extra[k] = v
		}
	}
	for _, col := range valueColumns {
		out.Values[col] = r.Values[col]
	}
	return out
}

func (t *Table) sortRows() {
	keys := make([]GroupKey, len(t.Rows))
	for i, r := range t.Rows {
		keys[i] = t.groupKeyOf(r)
	}
	sort.SliceStable(t.Rows, func(i, j int) bool {
		if keys[i] != keys[j] {
			if keys[i].Geo != keys[j].Geo {
				return keys[i].Geo < keys[j].Geo
			}
			return keys[i].Extra < keys[j].Extra
		}
		return t.Rows[i].TimeValue.Before(t.Rows[j].TimeValue)
	})
}

// HasColumn reports whether col is a declared value column.
func (t *Table) HasColumn(col string) bool {
	for _, c := range t.ValueColumns {
		if c == col {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the table.
func (t *Table) Clone() *Table {
	out := &Table{
		Meta:         t.Meta,
		ValueColumns: append([]string(nil), t.ValueColumns...),
		Rows:         make([]Row, len(t.Rows)),
	}
	out.Meta.OtherKeys = append([]string(nil), t.Meta.OtherKeys...)
	for i, r := range t.Rows {
		out.Rows[i] = normalizeRow(r, t.ValueColumns)
	}
	return out
}

// TimeRange returns the minimum and maximum time values in the table.
// ok is false when the table is empty.
func (t *Table) TimeRange() (min, max time.Time, ok bool) {
	for _, r := range t.Rows {
		if !ok || r.TimeValue.Before(min) {
			min = r.TimeValue
		}
		if !ok || r.TimeValue.After(max) {
			max = r.TimeValue
		}
		ok = true
	}
	return min, max, ok
}

// groupKeyOf encodes the non-time key of a row. Extra key values are
// joined in OtherKeys order with a separator that cannot occur in them.
func (t *Table) groupKeyOf(r Row) GroupKey {
	if len(t.Meta.OtherKeys) == 0 {
		return GroupKey{Geo: r.GeoValue}
	}
	parts := make([]string, len(t.Meta.OtherKeys))
	for i, k := range t.Meta.OtherKeys {
		parts[i] = r.Extra[k]
	}
	return GroupKey{Geo: r.GeoValue, Extra: strings.Join(parts, "\x1f")}
}
