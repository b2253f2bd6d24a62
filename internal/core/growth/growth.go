// Package growth estimates trailing-window growth rates of a value
// column, per group. Two methods are offered: a relative-change
// estimate comparing the two halves of the window, and the slope of a
// least-squares linear fit normalized by the window mean.
package growth

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat"

	"github.com/cmu-delphi/epitools/internal/core/epidf"
	"github.com/cmu-delphi/epitools/internal/core/slide"
	"github.com/cmu-delphi/epitools/internal/core/timestep"
)

const (
	MethodRelChange = "rel_change"
	MethodLinearReg = "linear_reg"
)

// ValidMethod reports whether m is a known growth-rate method.
func ValidMethod(m string) bool {
	return m == MethodRelChange || m == MethodLinearReg
}

// Rate computes per-group trailing-window growth rates of col and
// returns a copy of the table with a new column <col>_growth<window>.
// A reference time whose window is incomplete yields a missing result.
func Rate(t *epidf.Table, col string, window int, method string) (*epidf.Table, error) {
	if !t.HasColumn(col) {
		return nil, fmt.Errorf("unknown value column %q", col)
	}
	if !ValidMethod(method) {
		return nil, fmt.Errorf("unknown growth method %q (must be %s or %s)", method, MethodRelChange, MethodLinearReg)
	}
	if window < 2 {
		return nil, fmt.Errorf("growth window must be >= 2, got %d", window)
	}

	tt := t.Meta.TimeType
	outCol := fmt.Sprintf("%s_growth%d", col, window)

	return slide.ApplyFunc(t, outCol, slide.Options{Window: window}, func(rows []epidf.Row, ref time.Time) (decimal.NullDecimal, error) {
		values, ok := steppedValues(rows, ref, tt, col, window)
		if !ok {
			return decimal.NullDecimal{}, nil
		}

		var rate float64
		var defined bool
		switch method {
		case MethodRelChange:
			rate, defined = relChange(values)
		case MethodLinearReg:
			rate, defined = linearReg(values)
		}
		if !defined {
			return decimal.NullDecimal{}, nil
		}
		return decimal.NullDecimal{Decimal: decimal.NewFromFloat(rate), Valid: true}, nil
	})
}

// steppedValues lays the window's observations out by step position.
// ok is false when any step is absent or its value missing.
func steppedValues(rows []epidf.Row, ref time.Time, tt timestep.TimeType, col string, window int) ([]float64, bool) {
	if len(rows) != window {
		return nil, false
	}
	values := make([]float64, window)
	for _, r := range rows {
		v := r.Values[col]
		if !v.Valid {
			return nil, false
		}
		back, err := timestep.Between(r.TimeValue, ref, tt)
		if err != nil || back < 0 || back >= window {
			return nil, false
		}
		values[window-1-back] = v.Decimal.InexactFloat64()
	}
	return values, true
}

// relChange compares the means of the window's two halves:
// (mean(second) - mean(first)) / (half * mean(first)).
func relChange(values []float64) (float64, bool) {
	half := len(values) / 2
	first := values[:len(values)-half]
	second := values[len(values)-half:]

	m1 := mean(first)
	m2 := mean(second)
	if m1 == 0 {
		return 0, false
	}
	return (m2 - m1) / (float64(half) * m1), true
}

// linearReg fits value against step index by least squares and
// normalizes the slope by the window mean.
func linearReg(values []float64) (float64, bool) {
	xs := make([]float64, len(values))
	for i := range xs {
		xs[i] = float64(i)
	}
	_, slope := stat.LinearRegression(xs, values, nil, false)

	m := mean(values)
	if m == 0 {
		return 0, false
	}
	return slope / m, true
}

func mean(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
