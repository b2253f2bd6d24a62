// Package archive implements the versioned observation archive: every
// value a data source ever reported for a (key, time) cell, tagged with
// the report date (version) it was published under. The archive exists
// to answer as-of queries — reconstructing the snapshot a consumer
// would have seen on a given date, before later revisions arrived.
package archive

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cmu-delphi/epitools/internal/core/epidf"
	"github.com/cmu-delphi/epitools/internal/core/timestep"
)

// VersionRow is one reported value: an observation cell plus the
// version (report date) it was published under.
type VersionRow struct {
	GeoValue  string
	Extra     map[string]string
	TimeValue time.Time
	Version   time.Time
	Values    map[string]decimal.NullDecimal
}

// Archive holds compact version history for one dataset. Rows are kept
// sorted by key, time, then version; construction validates the
// version >= time invariant and optionally compactifies.
type Archive struct {
	GeoType      string
	TimeType     timestep.TimeType
	OtherKeys    []string
	ValueColumns []string

	rows []VersionRow
}

// New builds an archive from version rows. Every version must be on or
// after the time value it reports on, and a (key, time, version) cell
// may appear only once. When compactify is set, rows that merely repeat
// the previous version's values are dropped.
func New(geoType string, tt timestep.TimeType, otherKeys, valueColumns []string, rows []VersionRow, compactify bool) (*Archive, error) {
	if geoType == "" {
		return nil, fmt.Errorf("geo_type is required")
	}
	if !tt.Valid() {
		return nil, fmt.Errorf("unsupported time_type %q", tt)
	}
	if len(valueColumns) == 0 {
		return nil, fmt.Errorf("at least one value column is required")
	}

	a := &Archive{
		GeoType:      geoType,
		TimeType:     tt,
		OtherKeys:    append([]string(nil), otherKeys...),
		ValueColumns: append([]string(nil), valueColumns...),
		rows:         make([]VersionRow, 0, len(rows)),
	}

	seen := make(map[cellVersion]bool, len(rows))
	for i, r := range rows {
		if r.GeoValue == "" {
			return nil, fmt.Errorf("row %d: geo_value is required", i)
		}
		if err := timestep.ValidateValue(r.TimeValue, tt); err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		if r.Version.Before(r.TimeValue) {
			return nil, fmt.Errorf("row %d: version %s predates time value %s",
				i, r.Version.Format(time.DateOnly), r.TimeValue.Format(time.DateOnly))
		}
		cv := cellVersion{key: a.keyOf(r), time: r.TimeValue, version: r.Version}
		if seen[cv] {
			return nil, fmt.Errorf("row %d: duplicate version row for (%s, %s, %s)",
				i, r.GeoValue, r.TimeValue.Format(time.DateOnly), r.Version.Format(time.DateOnly))
		}
		seen[cv] = true
		a.rows = append(a.rows, r)
	}

	a.sortRows()
	if compactify {
		a.Compactify()
	}
	return a, nil
}

type cellVersion struct {
	key     string
	time    time.Time
	version time.Time
}

func (a *Archive) keyOf(r VersionRow) string {
	if len(a.OtherKeys) == 0 {
		return r.GeoValue
	}
	parts := make([]string, 0, len(a.OtherKeys)+1)
	parts = append(parts, r.GeoValue)
	for _, k := range a.OtherKeys {
		parts = append(parts, r.Extra[k])
	}
	return strings.Join(parts, "\x1f")
}

func (a *Archive) sortRows() {
	sort.SliceStable(a.rows, func(i, j int) bool {
		ki, kj := a.keyOf(a.rows[i]), a.keyOf(a.rows[j])
		if ki != kj {
			return ki < kj
		}
		if !a.rows[i].TimeValue.Equal(a.rows[j].TimeValue) {
			return a.rows[i].TimeValue.Before(a.rows[j].TimeValue)
		}
		return a.rows[i].Version.Before(a.rows[j].Version)
	})
}

// Len returns the number of version rows held.
func (a *Archive) Len() int {
	return len(a.rows)
}

// Rows returns a copy of the version rows in canonical order.
func (a *Archive) Rows() []VersionRow {
	return append([]VersionRow(nil), a.rows...)
}

// VersionsEnd returns the newest version in the archive. ok is false
// when the archive is empty.
func (a *Archive) VersionsEnd() (time.Time, bool) {
	var end time.Time
	ok := false
	for _, r := range a.rows {
		if !ok || r.Version.After(end) {
			end = r.Version
		}
		ok = true
	}
	return end, ok
}

// Compactify drops version rows whose values repeat the previous
// version's values for the same (key, time) — the rows an as-of query
// can never distinguish. Returns the number of rows dropped.
func (a *Archive) Compactify() int {
	out := a.rows[:0]
	dropped := 0
	for i, r := range a.rows {
		if i > 0 {
			prev := a.rows[i-1]
			if a.keyOf(prev) == a.keyOf(r) && prev.TimeValue.Equal(r.TimeValue) && sameValues(prev.Values, r.Values, a.ValueColumns) {
				dropped++
				continue
			}
		}
		out = append(out, r)
	}
	a.rows = out
	return dropped
}

func sameValues(a, b map[string]decimal.NullDecimal, cols []string) bool {
	for _, col := range cols {
		va, vb := a[col], b[col]
		if va.Valid != vb.Valid {
			return false
		}
		if va.Valid && !va.Decimal.Equal(vb.Decimal) {
			return false
		}
	}
	return true
}

// AsOf reconstructs the snapshot as it was known on the given version
// date: per (key, time), the values of the latest version on or before
// asOf. Cells first reported after asOf are absent.
func (a *Archive) AsOf(asOf time.Time) (*epidf.Table, error) {
	type cell struct {
		row     epidf.Row
		version time.Time
	}
	latest := make(map[cellVersion]*cell)

	for _, r := range a.rows {
		if r.Version.After(asOf) {
			continue
		}
		id := cellVersion{key: a.keyOf(r), time: r.TimeValue}
		cur, ok := latest[id]
		if ok && cur.version.After(r.Version) {
			continue
		}
		latest[id] = &cell{
			row: epidf.Row{
				GeoValue:  r.GeoValue,
				Extra:     r.Extra,
				TimeValue: r.TimeValue,
				Values:    r.Values,
			},
			version: r.Version,
		}
	}

	rows := make([]epidf.Row, 0, len(latest))
	for _, c := range latest {
		rows = append(rows, c.row)
	}

	meta := epidf.Metadata{
		GeoType:   a.GeoType,
		TimeType:  a.TimeType,
		AsOf:      asOf,
		OtherKeys: append([]string(nil), a.OtherKeys...),
	}
	return epidf.New(meta, a.ValueColumns, rows)
}

// Merge unions two archives with identical shape. Overlapping
// (key, time, version) cells must agree on their values.
func Merge(a, b *Archive) (*Archive, error) {
	if a.GeoType != b.GeoType || a.TimeType != b.TimeType {
		return nil, fmt.Errorf("archives disagree on geo_type/time_type")
	}
	if strings.Join(a.OtherKeys, ",") != strings.Join(b.OtherKeys, ",") {
		return nil, fmt.Errorf("archives disagree on key columns")
	}
	if strings.Join(a.ValueColumns, ",") != strings.Join(b.ValueColumns, ",") {
		return nil, fmt.Errorf("archives disagree on value columns")
	}

	index := make(map[cellVersion]VersionRow, len(a.rows))
	for _, r := range a.rows {
		index[cellVersion{key: a.keyOf(r), time: r.TimeValue, version: r.Version}] = r
	}

	merged := a.Rows()
	for _, r := range b.rows {
		id := cellVersion{key: b.keyOf(r), time: r.TimeValue, version: r.Version}
		if existing, ok := index[id]; ok {
			if !sameValues(existing.Values, r.Values, a.ValueColumns) {
				return nil, fmt.Errorf("conflicting values for (%s, %s, %s)",
					r.GeoValue, r.TimeValue.Format(time.DateOnly), r.Version.Format(time.DateOnly))
			}
			continue
		}
		merged = append(merged, r)
	}

	return New(a.GeoType, a.TimeType, a.OtherKeys, a.ValueColumns, merged, true)
}
