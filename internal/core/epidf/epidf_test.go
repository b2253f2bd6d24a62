package epidf

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/cmu-delphi/epitools/internal/core/timestep"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func val(n int64) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: decimal.NewFromInt(n), Valid: true}
}

func missing() decimal.NullDecimal {
	return decimal.NullDecimal{}
}

func dailyMeta() Metadata {
	return Metadata{GeoType: "state", TimeType: timestep.TypeDay, AsOf: date(2024, 4, 1)}
}

func row(geo string, t time.Time, cases int64) Row {
	return Row{GeoValue: geo, TimeValue: t, Values: map[string]decimal.NullDecimal{"cases": val(cases)}}
}

func TestNewSortsByKeyThenTime(t *testing.T) {
	tbl, err := New(dailyMeta(), []string{"cases"}, []Row{
		row("wa", date(2024, 3, 2), 4),
		row("ca", date(2024, 3, 1), 1),
		row("wa", date(2024, 3, 1), 3),
		row("ca", date(2024, 3, 2), 2),
	})
	require.NoError(t, err)
	require.Len(t, tbl.Rows, 4)

	require.Equal(t, "ca", tbl.Rows[0].GeoValue)
	require.Equal(t, date(2024, 3, 1), tbl.Rows[0].TimeValue)
	require.Equal(t, "ca", tbl.Rows[1].GeoValue)
	require.Equal(t, "wa", tbl.Rows[2].GeoValue)
	require.Equal(t, date(2024, 3, 1), tbl.Rows[2].TimeValue)
}

func TestNewRejectsBadRows(t *testing.T) {
	meta := dailyMeta()

	_, err := New(meta, []string{"cases"}, []Row{row("", date(2024, 3, 1), 1)})
	require.ErrorContains(t, err, "geo_value is required")

	_, err = New(meta, []string{"cases"}, []Row{
		row("ca", date(2024, 3, 1), 1),
		row("ca", date(2024, 3, 1), 2),
	})
	require.ErrorContains(t, err, "duplicate observation")

	_, err = New(meta, []string{"cases"}, []Row{
		{GeoValue: "ca", TimeValue: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
			Values: map[string]decimal.NullDecimal{"cases": val(1)}},
	})
	require.ErrorContains(t, err, "midnight UTC")

	_, err = New(meta, []string{"cases"}, []Row{
		{GeoValue: "ca", TimeValue: date(2024, 3, 1),
			Values: map[string]decimal.NullDecimal{"deaths": val(1)}},
	})
	require.ErrorContains(t, err, "undeclared value column")
}

func TestNewEnforcesWeekAnchor(t *testing.T) {
	meta := Metadata{GeoType: "state", TimeType: timestep.TypeWeek}

	// Both Wednesdays: fine.
	_, err := New(meta, []string{"cases"}, []Row{
		row("ca", date(2024, 3, 6), 1),
		row("ca", date(2024, 3, 13), 2),
	})
	require.NoError(t, err)

	// Wednesday then Thursday within one series: rejected.
	_, err = New(meta, []string{"cases"}, []Row{
		row("ca", date(2024, 3, 6), 1),
		row("ca", date(2024, 3, 14), 2),
	})
	require.ErrorContains(t, err, "weekday anchor")

	// Different anchors in different series: fine.
	_, err = New(meta, []string{"cases"}, []Row{
		row("ca", date(2024, 3, 6), 1),
		row("wa", date(2024, 3, 14), 2),
	})
	require.NoError(t, err)
}

func TestNewRequiresDeclaredOtherKeys(t *testing.T) {
	meta := dailyMeta()
	meta.OtherKeys = []string{"age_group"}

	_, err := New(meta, []string{"cases"}, []Row{row("ca", date(2024, 3, 1), 1)})
	require.ErrorContains(t, err, "expected key columns")

	tbl, err := New(meta, []string{"cases"}, []Row{
		{GeoValue: "ca", Extra: map[string]string{"age_group": "0-17"}, TimeValue: date(2024, 3, 1),
			Values: map[string]decimal.NullDecimal{"cases": val(1)}},
		{GeoValue: "ca", Extra: map[string]string{"age_group": "18-64"}, TimeValue: date(2024, 3, 1),
			Values: map[string]decimal.NullDecimal{"cases": val(2)}},
	})
	require.NoError(t, err)
	require.Len(t, tbl.Groups(), 2)
}

func TestGroups(t *testing.T) {
	tbl, err := New(dailyMeta(), []string{"cases"}, []Row{
		row("ca", date(2024, 3, 1), 1),
		row("ca", date(2024, 3, 2), 2),
		row("wa", date(2024, 3, 1), 3),
	})
	require.NoError(t, err)

	groups := tbl.Groups()
	require.Len(t, groups, 2)
	require.Equal(t, GroupKey{Geo: "ca"}, groups[0].Key)
	require.Len(t, groups[0].Rows, 2)
	require.Equal(t, GroupKey{Geo: "wa"}, groups[1].Key)
	require.Len(t, groups[1].Rows, 1)
}

func TestSumGroups(t *testing.T) {
	meta := dailyMeta()
	meta.OtherKeys = []string{"age_group"}

	mk := func(geo, age string, day int, v decimal.NullDecimal) Row {
		return Row{
			GeoValue: geo, Extra: map[string]string{"age_group": age},
			TimeValue: date(2024, 3, day),
			Values:    map[string]decimal.NullDecimal{"cases": v},
		}
	}

	tbl, err := New(meta, []string{"cases"}, []Row{
		mk("ca", "0-17", 1, val(10)),
		mk("ca", "18-64", 1, val(20)),
		mk("ca", "0-17", 2, val(5)),
		mk("ca", "18-64", 2, missing()),
		mk("wa", "0-17", 1, val(7)),
	})
	require.NoError(t, err)

	summed, err := tbl.SumGroups([]string{"age_group"})
	require.NoError(t, err)
	require.Empty(t, summed.Meta.OtherKeys)
	require.Len(t, summed.Rows, 3)

	require.Equal(t, "ca", summed.Rows[0].GeoValue)
	require.True(t, summed.Rows[0].Values["cases"].Valid)
	require.Equal(t, "30", summed.Rows[0].Values["cases"].Decimal.String())

	// Missing contribution poisons the sum.
	require.False(t, summed.Rows[1].Values["cases"].Valid)

	require.Equal(t, "wa", summed.Rows[2].GeoValue)
	require.Equal(t, "7", summed.Rows[2].Values["cases"].Decimal.String())
}

func TestSumGroupsRejectsGeo(t *testing.T) {
	meta := dailyMeta()
	meta.OtherKeys = []string{"age_group"}
	tbl, err := New(meta, []string{"cases"}, []Row{
		{GeoValue: "ca", Extra: map[string]string{"age_group": "0-17"}, TimeValue: date(2024, 3, 1),
			Values: map[string]decimal.NullDecimal{"cases": val(1)}},
	})
	require.NoError(t, err)

	_, err = tbl.SumGroups([]string{"geo_value"})
	require.ErrorContains(t, err, "geographic aggregation")

	_, err = tbl.SumGroups([]string{"sex"})
	require.ErrorContains(t, err, "unknown key column")

	_, err = tbl.SumGroups(nil)
	require.Error(t, err)
}

func TestCloneIsDeep(t *testing.T) {
	tbl, err := New(dailyMeta(), []string{"cases"}, []Row{row("ca", date(2024, 3, 1), 1)})
	require.NoError(t, err)

	clone := tbl.Clone()
	clone.Rows[0].Values["cases"] = val(99)
	require.Equal(t, "1", tbl.Rows[0].Values["cases"].Decimal.String())
}
