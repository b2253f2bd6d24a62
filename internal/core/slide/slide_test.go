package slide

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/cmu-delphi/epitools/internal/core/epidf"
	"github.com/cmu-delphi/epitools/internal/core/timestep"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func val(n int64) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: decimal.NewFromInt(n), Valid: true}
}

func dailyTable(t *testing.T, rows []epidf.Row) *epidf.Table {
	t.Helper()
	tbl, err := epidf.New(epidf.Metadata{GeoType: "state", TimeType: timestep.TypeDay}, []string{"cases"}, rows)
	require.NoError(t, err)
	return tbl
}

func caseRow(geo string, tm time.Time, cases int64) epidf.Row {
	return epidf.Row{GeoValue: geo, TimeValue: tm, Values: map[string]decimal.NullDecimal{"cases": val(cases)}}
}

func TestSumTrailingWindow(t *testing.T) {
	tbl := dailyTable(t, []epidf.Row{
		caseRow("ca", date(2024, 3, 1), 1),
		caseRow("ca", date(2024, 3, 2), 2),
		caseRow("ca", date(2024, 3, 3), 3),
		caseRow("ca", date(2024, 3, 4), 4),
	})

	out, err := Sum(tbl, "cases", Options{Window: 3})
	require.NoError(t, err)
	require.Contains(t, out.ValueColumns, "cases_sum3")

	got := out.Rows
	// First two windows are incomplete.
	require.False(t, got[0].Values["cases_sum3"].Valid)
	require.False(t, got[1].Values["cases_sum3"].Valid)
	require.Equal(t, "6", got[2].Values["cases_sum3"].Decimal.String())
	require.Equal(t, "9", got[3].Values["cases_sum3"].Decimal.String())

	// Input table untouched.
	require.NotContains(t, tbl.ValueColumns, "cases_sum3")
}

func TestMeanSkipMissingOverIncompleteWindows(t *testing.T) {
	tbl := dailyTable(t, []epidf.Row{
		caseRow("ca", date(2024, 3, 1), 2),
		caseRow("ca", date(2024, 3, 2), 4),
		// 3rd missing entirely
		caseRow("ca", date(2024, 3, 4), 6),
	})

	strict, err := Mean(tbl, "cases", Options{Window: 2})
	require.NoError(t, err)
	require.False(t, strict.Rows[0].Values["cases_mean2"].Valid)
	require.Equal(t, "3", strict.Rows[1].Values["cases_mean2"].Decimal.String())
	// Window [3rd, 4th] misses the 3rd.
	require.False(t, strict.Rows[2].Values["cases_mean2"].Valid)

	relaxed, err := Mean(tbl, "cases", Options{Window: 2, SkipMissing: true})
	require.NoError(t, err)
	require.Equal(t, "2", relaxed.Rows[0].Values["cases_mean2"].Decimal.String())
	require.Equal(t, "6", relaxed.Rows[2].Values["cases_mean2"].Decimal.String())
}

func TestWindowMembershipIsByTimeNotRowCount(t *testing.T) {
	tbl := dailyTable(t, []epidf.Row{
		caseRow("ca", date(2024, 3, 1), 10),
		caseRow("ca", date(2024, 3, 10), 1),
		caseRow("ca", date(2024, 3, 11), 2),
		caseRow("ca", date(2024, 3, 12), 3),
	})

	out, err := Sum(tbl, "cases", Options{Window: 3, SkipMissing: true})
	require.NoError(t, err)

	// The window ending 3/12 covers 3/10..3/12 only; 3/1 is long gone
	// even though it is only three rows back.
	require.Equal(t, "6", out.Rows[3].Values["cases_sum3"].Decimal.String())
	// Window ending 3/10 covers 3/8..3/10: only 3/10 present.
	require.Equal(t, "1", out.Rows[1].Values["cases_sum3"].Decimal.String())
}

func TestSlideGroupsAreIndependent(t *testing.T) {
	tbl := dailyTable(t, []epidf.Row{
		caseRow("ca", date(2024, 3, 1), 1),
		caseRow("ca", date(2024, 3, 2), 2),
		caseRow("wa", date(2024, 3, 2), 100),
	})

	out, err := Sum(tbl, "cases", Options{Window: 2, SkipMissing: true, Workers: 2})
	require.NoError(t, err)

	require.Equal(t, "3", out.Rows[1].Values["cases_sum2"].Decimal.String())
	// wa's window must not see ca's rows.
	require.Equal(t, "100", out.Rows[2].Values["cases_sum2"].Decimal.String())
}

func TestWeeklyWindowStepsSevenDays(t *testing.T) {
	meta := epidf.Metadata{GeoType: "state", TimeType: timestep.TypeWeek}
	tbl, err := epidf.New(meta, []string{"cases"}, []epidf.Row{
		caseRow("ca", date(2024, 3, 6), 1),
		caseRow("ca", date(2024, 3, 13), 2),
		caseRow("ca", date(2024, 3, 20), 3),
	})
	require.NoError(t, err)

	out, err := Sum(tbl, "cases", Options{Window: 2})
	require.NoError(t, err)
	require.False(t, out.Rows[0].Values["cases_sum2"].Valid)
	require.Equal(t, "3", out.Rows[1].Values["cases_sum2"].Decimal.String())
	require.Equal(t, "5", out.Rows[2].Values["cases_sum2"].Decimal.String())
}

func TestApplyRegistryOperators(t *testing.T) {
	tbl := dailyTable(t, []epidf.Row{
		caseRow("ca", date(2024, 3, 1), 1),
		caseRow("ca", date(2024, 3, 2), 5),
		caseRow("ca", date(2024, 3, 3), 3),
	})

	tests := []struct {
		op   string
		want string
	}{
		{op: OpMin, want: "1"},
		{op: OpMax, want: "5"},
		{op: OpMedian, want: "3"},
		{op: OpCount, want: "3"},
	}

	for _, tc := range tests {
		t.Run(tc.op, func(t *testing.T) {
			out, err := Apply(tbl, "cases", tc.op, Options{Window: 3})
			require.NoError(t, err)
			col := "cases_" + tc.op + "3"
			require.True(t, out.Rows[2].Values[col].Valid)
			require.Equal(t, tc.want, out.Rows[2].Values[col].Decimal.String())
		})
	}
}

func TestApplyValidation(t *testing.T) {
	tbl := dailyTable(t, []epidf.Row{caseRow("ca", date(2024, 3, 1), 1)})

	_, err := Apply(tbl, "cases", "mode", Options{Window: 3})
	require.ErrorContains(t, err, "unknown slide operator")

	_, err = Apply(tbl, "deaths", OpSum, Options{Window: 3})
	require.ErrorContains(t, err, "unknown value column")

	_, err = Apply(tbl, "cases", OpSum, Options{Window: 0})
	require.ErrorContains(t, err, "window must be")
}

func TestApplyFunc(t *testing.T) {
	tbl := dailyTable(t, []epidf.Row{
		caseRow("ca", date(2024, 3, 1), 1),
		caseRow("ca", date(2024, 3, 2), 2),
		caseRow("ca", date(2024, 3, 3), 3),
	})

	// Count of rows in each trailing 2-step window.
	out, err := ApplyFunc(tbl, "n", Options{Window: 2}, func(window []epidf.Row, _ time.Time) (decimal.NullDecimal, error) {
		return decimal.NullDecimal{Decimal: decimal.NewFromInt(int64(len(window))), Valid: true}, nil
	})
	require.NoError(t, err)
	require.Equal(t, "1", out.Rows[0].Values["n"].Decimal.String())
	require.Equal(t, "2", out.Rows[1].Values["n"].Decimal.String())
	require.Equal(t, "2", out.Rows[2].Values["n"].Decimal.String())
}
