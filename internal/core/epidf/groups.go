package epidf

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// GroupKey is the full non-time key of a row: the geo value plus the
// encoded extra key values. Comparable, so it can key maps directly.
type GroupKey struct {
	Geo   string
	Extra string
}

func (k GroupKey) String() string {
	if k.Extra == "" {
		return k.Geo
	}
	return k.Geo + "/" + strings.ReplaceAll(k.Extra, "\x1f", ",")
}

// Group is one keyed series: the rows sharing a GroupKey, in time order.
type Group struct {
	Key  GroupKey
	Rows []Row
}

// Groups splits the table into its keyed series. Groups come back in
// key order and each group's rows in time order (the table's canonical
// sort guarantees both). Row slices alias the table; they must not be
// mutated.
func (t *Table) Groups() []Group {
	var groups []Group
	start := 0
	for i := 1; i <= len(t.Rows); i++ {
		if i == len(t.Rows) || t.groupKeyOf(t.Rows[i]) != t.groupKeyOf(t.Rows[start]) {
			groups = append(groups, Group{
				Key:  t.groupKeyOf(t.Rows[start]),
				Rows: t.Rows[start:i],
			})
			start = i
		}
	}
	return groups
}

// SumGroups collapses the named key columns by summing every value
// column across them, per (remaining key, time). The geo column can
// never be collapsed: geographic aggregation is out of scope. A missing
// value in any summed cell makes the result cell missing.
func (t *Table) SumGroups(dropKeys []string) (*Table, error) {
	if len(dropKeys) == 0 {
		return nil, fmt.Errorf("sum_groups requires at least one key column to collapse")
	}

	drop := make(map[string]bool, len(dropKeys))
	for _, k := range dropKeys {
		if k == "geo_value" {
			return nil, fmt.Errorf("geo_value cannot be collapsed (geographic aggregation is unsupported)")
		}
		found := false
		for _, ok := range t.Meta.OtherKeys {
			if ok == k {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown key column %q", k)
		}
		drop[k] = true
	}

	var remaining []string
	for _, k := range t.Meta.OtherKeys {
		if !drop[k] {
			remaining = append(remaining, k)
		}
	}

	type cell struct {
		row  Row
		seen bool
	}
	sums := make(map[rowKey]*cell)
	outMeta := Metadata{
		GeoType:   t.Meta.GeoType,
		TimeType:  t.Meta.TimeType,
		AsOf:      t.Meta.AsOf,
		OtherKeys: remaining,
	}
	out := &Table{Meta: outMeta}

	for _, r := range t.Rows {
		reduced := Row{
			GeoValue:  r.GeoValue,
			TimeValue: r.TimeValue,
			Values:    make(map[string]decimal.NullDecimal, len(t.ValueColumns)),
		}
		if len(remaining) > 0 {
			reduced.Extra = make(map[string]string, len(remaining))
			for _, k := range remaining {
				reduced.Extra[k] = r.Extra[k]
			}
		}

		key := rowKey{group: out.groupKeyOf(reduced), time: r.TimeValue}
		c, ok := sums[key]
		if !ok {
			c = &cell{row: reduced}
			sums[key] = c
		}

		for _, col := range t.ValueColumns {
			v := r.Values[col]
			if !c.seen {
				c.row.Values[col] = v
				continue
			}
			cur := c.row.Values[col]
			if !cur.Valid || !v.Valid {
				c.row.Values[col] = decimal.NullDecimal{}
				continue
			}
			c.row.Values[col] = decimal.NullDecimal{Decimal: cur.Decimal.Add(v.Decimal), Valid: true}
		}
		c.seen = true
	}

	rows := make([]Row, 0, len(sums))
	for _, c := range sums {
		rows = append(rows, c.row)
	}
	return New(outMeta, t.ValueColumns, rows)
}
