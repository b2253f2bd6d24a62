package epidf

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cmu-delphi/epitools/internal/core/timestep"
)

// FillMethod controls what value newly materialized rows carry.
type FillMethod string

const (
	// FillNone inserts rows with missing values.
	FillNone FillMethod = "none"
	// FillZero inserts rows with zero values.
	FillZero FillMethod = "zero"
	// FillLOCF carries the last observed value forward, including over
	// cells that were present but missing.
	FillLOCF FillMethod = "locf"
)

// ValidFill reports whether m is a known fill method.
func ValidFill(m FillMethod) bool {
	switch m {
	case FillNone, FillZero, FillLOCF:
		return true
	}
	return false
}

// Gaps returns, per group, the time points absent from the series
// between the group's first and last observation, stepping by the
// declared time type.
func (t *Table) Gaps() (map[GroupKey][]time.Time, error) {
	gaps := make(map[GroupKey][]time.Time)
	for _, g := range t.Groups() {
		missing, err := groupGaps(g, t.Meta.TimeType)
		if err != nil {
			return nil, fmt.Errorf("group %s: %w", g.Key, err)
		}
		if len(missing) > 0 {
			gaps[g.Key] = missing
		}
	}
	return gaps, nil
}

func groupGaps(g Group, tt timestep.TimeType) ([]time.Time, error) {
	if len(g.Rows) < 2 {
		return nil, nil
	}

	present := make(map[time.Time]bool, len(g.Rows))
	for _, r := range g.Rows {
		present[r.TimeValue] = true
	}

	first := g.Rows[0].TimeValue
	last := g.Rows[len(g.Rows)-1].TimeValue
	steps, err := timestep.Between(first, last, tt)
	if err != nil {
		return nil, err
	}

	var missing []time.Time
	for i := 1; i < steps; i++ {
		cur := timestep.PlusN(first, i, tt)
		if !present[cur] {
			missing = append(missing, cur)
		}
	}
	return missing, nil
}

// Complete materializes absent time points in every group, stepping
// from the group's first to last observation by the declared time type.
// Inserted rows carry values per the fill method; with FillLOCF,
// present-but-missing cells are also carried forward. Returns a new
// table; the receiver is unchanged.
func (t *Table) Complete(fill FillMethod) (*Table, error) {
	return t.CompleteRange(time.Time{}, time.Time{}, fill)
}

// CompleteRange is Complete with an explicit range: a non-zero start or
// end widens every group's span to cover it, so rows are materialized
// out to the requested bounds even where no group has observations.
// Bounds inside a group's span never truncate it. Bounds must be
// reachable from each group's first observation in whole steps.
func (t *Table) CompleteRange(start, end time.Time, fill FillMethod) (*Table, error) {
	if !ValidFill(fill) {
		return nil, fmt.Errorf("unsupported fill method %q", fill)
	}
	tt := t.Meta.TimeType
	if !start.IsZero() {
		if err := timestep.ValidateValue(start, tt); err != nil {
			return nil, fmt.Errorf("range start: %w", err)
		}
	}
	if !end.IsZero() {
		if err := timestep.ValidateValue(end, tt); err != nil {
			return nil, fmt.Errorf("range end: %w", err)
		}
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return nil, fmt.Errorf("range end %s precedes start %s",
			end.Format(time.DateOnly), start.Format(time.DateOnly))
	}

	rows := make([]Row, 0, len(t.Rows))
	for _, g := range t.Groups() {
		completed, err := completeGroup(g, tt, t.ValueColumns, fill, start, end)
		if err != nil {
			return nil, fmt.Errorf("group %s: %w", g.Key, err)
		}
		rows = append(rows, completed...)
	}
	return New(t.Meta, t.ValueColumns, rows)
}

func completeGroup(g Group, tt timestep.TimeType, cols []string, fill FillMethod, start, end time.Time) ([]Row, error) {
	if len(g.Rows) == 0 {
		return nil, nil
	}

	byTime := make(map[time.Time]Row, len(g.Rows))
	for _, r := range g.Rows {
		byTime[r.TimeValue] = r
	}

	first := g.Rows[0].TimeValue
	last := g.Rows[len(g.Rows)-1].TimeValue
	if !start.IsZero() && start.Before(first) {
		if _, err := timestep.Between(start, first, tt); err != nil {
			return nil, fmt.Errorf("range start: %w", err)
		}
		first = start
	}
	if !end.IsZero() && end.After(last) {
		if _, err := timestep.Between(first, end, tt); err != nil {
			return nil, fmt.Errorf("range end: %w", err)
		}
		last = end
	}
	steps, err := timestep.Between(first, last, tt)
	if err != nil {
		return nil, err
	}

	template := g.Rows[0]
	lastSeen := make(map[string]decimal.NullDecimal, len(cols))

	out := make([]Row, 0, steps+1)
	for i := 0; i <= steps; i++ {
		cur := timestep.PlusN(first, i, tt)
		row, present := byTime[cur]
		if !present {
			row = Row{
				GeoValue:  template.GeoValue,
				Extra:     template.Extra,
				TimeValue: cur,
				Values:    make(map[string]decimal.NullDecimal, len(cols)),
			}
			for _, col := range cols {
				switch fill {
				case FillZero:
					row.Values[col] = decimal.NullDecimal{Decimal: decimal.Zero, Valid: true}
				case FillLOCF:
					row.Values[col] = lastSeen[col]
				}
			}
		} else if fill == FillLOCF {
			filled := make(map[string]decimal.NullDecimal, len(cols))
			for _, col := range cols {
				v := row.Values[col]
				if !v.Valid {
					v = lastSeen[col]
				}
				filled[col] = v
			}
			row.Values = filled
		}

		for _, col := range cols {
			if v := row.Values[col]; v.Valid {
				lastSeen[col] = v
			}
		}
		out = append(out, row)
	}
	return out, nil
}
