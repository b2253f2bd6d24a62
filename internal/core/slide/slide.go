// Package slide implements grouped rolling-window computations over
// snapshot tables. Windows are trailing and inclusive: the window for a
// reference time covers the observations whose time value lies within
// the preceding window-1 steps, measured in the table's declared time
// type. Membership is by time, never by row count, so irregular series
// produce incomplete windows rather than silently shrunken ones.
package slide

import (
	"fmt"
	"runtime"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/cmu-delphi/epitools/internal/core/epidf"
	"github.com/cmu-delphi/epitools/internal/core/timestep"
)

// Options controls one slide computation.
type Options struct {
	// Window is the trailing window size in time-type steps, including
	// the reference point. Must be >= 1.
	Window int

	// SkipMissing reduces over whatever observations the window holds.
	// When false (the default), a window with an absent time point or a
	// missing value yields a missing result.
	SkipMissing bool

	// Workers bounds the per-group parallelism. <= 0 means GOMAXPROCS.
	Workers int
}

func (o Options) validate() error {
	if o.Window < 1 {
		return fmt.Errorf("window must be >= 1, got %d", o.Window)
	}
	return nil
}

func (o Options) workers() int {
	if o.Workers > 0 {
		return o.Workers
	}
	return runtime.GOMAXPROCS(0)
}

// Func is a caller-supplied window computation. It receives the rows
// present in the window in time order (possibly fewer than the window
// size) and the reference time, and returns the result cell.
type Func func(window []epidf.Row, ref time.Time) (decimal.NullDecimal, error)

// Apply runs a registered operator over col for every group and
// reference time, returning a copy of the table with a new value column
// named <col>_<op><window>.
func Apply(t *epidf.Table, col, op string, opts Options) (*epidf.Table, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if !t.HasColumn(col) {
		return nil, fmt.Errorf("unknown value column %q", col)
	}
	reducer, ok := Operators[op]
	if !ok {
		return nil, fmt.Errorf("unknown slide operator %q", op)
	}

	outCol := fmt.Sprintf("%s_%s%d", col, op, opts.Window)
	return run(t, outCol, opts, func(g epidf.Group, out []decimal.NullDecimal) error {
		return slideGroup(g, t.Meta.TimeType, col, reducer, opts, out)
	})
}

// Mean computes the trailing-window mean of col. Equivalent to
// Apply(t, col, OpMean, opts), with the running-sum fast path.
func Mean(t *epidf.Table, col string, opts Options) (*epidf.Table, error) {
	return Apply(t, col, OpMean, opts)
}

// Sum computes the trailing-window sum of col.
func Sum(t *epidf.Table, col string, opts Options) (*epidf.Table, error) {
	return Apply(t, col, OpSum, opts)
}

// ApplyFunc runs a caller-supplied computation over every group and
// reference time, writing results into a new column named outCol.
func ApplyFunc(t *epidf.Table, outCol string, opts Options, fn Func) (*epidf.Table, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return run(t, outCol, opts, func(g epidf.Group, out []decimal.NullDecimal) error {
		for i, r := range g.Rows {
			window := windowRows(g, i, t.Meta.TimeType, opts.Window)
			result, err := fn(window, r.TimeValue)
			if err != nil {
				return fmt.Errorf("ref %s: %w", r.TimeValue.Format(time.DateOnly), err)
			}
			out[i] = result
		}
		return nil
	})
}

// run clones the table, appends the output column, and executes the
// per-group computation on a bounded worker pool. Each worker writes
// only its own group's rows, so no locking is needed.
func run(t *epidf.Table, outCol string, opts Options, compute func(g epidf.Group, out []decimal.NullDecimal) error) (*epidf.Table, error) {
	if t.HasColumn(outCol) {
		return nil, fmt.Errorf("output column %q already exists", outCol)
	}

	result := t.Clone()
	result.ValueColumns = append(result.ValueColumns, outCol)

	var eg errgroup.Group
	eg.SetLimit(opts.workers())

	for _, g := range result.Groups() {
		eg.Go(func() error {
			out := make([]decimal.NullDecimal, len(g.Rows))
			if err := compute(g, out); err != nil {
				return fmt.Errorf("group %s: %w", g.Key, err)
			}
			for i := range g.Rows {
				g.Rows[i].Values[outCol] = out[i]
			}
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

// slideGroup computes one operator over one group. Mean and sum take a
// running-sum path over the two-pointer window; everything else
// collects the window values and reduces them.
func slideGroup(g epidf.Group, tt timestep.TimeType, col string, reducer Reducer, opts Options, out []decimal.NullDecimal) error {
	switch reducer.(type) {
	case sumOp, meanOp:
		return slideRunningSum(g, tt, col, reducer, opts, out)
	}

	for i := range g.Rows {
		window := windowRows(g, i, tt, opts.Window)
		values, complete := windowValues(window, col, opts.Window)
		out[i] = reduceWindow(reducer, values, complete, opts.SkipMissing)
	}
	return nil
}

// slideRunningSum maintains the window sum incrementally as the two
// pointers advance, instead of re-summing every window.
func slideRunningSum(g epidf.Group, tt timestep.TimeType, col string, reducer Reducer, opts Options, out []decimal.NullDecimal) error {
	sum := decimal.Zero
	validCount := 0
	start := 0 // first row index inside the current window

	for i, r := range g.Rows {
		if v := r.Values[col]; v.Valid {
			sum = sum.Add(v.Decimal)
			validCount++
		}

		windowStart := timestep.MinusN(r.TimeValue, opts.Window-1, tt)
		for g.Rows[start].TimeValue.Before(windowStart) {
			if v := g.Rows[start].Values[col]; v.Valid {
				sum = sum.Sub(v.Decimal)
				validCount--
			}
			start++
		}

		present := i - start + 1
		complete := present == opts.Window && validCount == present
		switch {
		case complete || (opts.SkipMissing && validCount > 0):
			total := sum
			if _, isMean := reducer.(meanOp); isMean {
				total = sum.Div(decimal.NewFromInt(int64(validCount)))
			}
			out[i] = decimal.NullDecimal{Decimal: total, Valid: true}
		default:
			out[i] = decimal.NullDecimal{}
		}
	}
	return nil
}

// windowRows returns the rows of g whose time falls within the trailing
// window ending at row refIdx, in time order.
func windowRows(g epidf.Group, refIdx int, tt timestep.TimeType, window int) []epidf.Row {
	ref := g.Rows[refIdx].TimeValue
	windowStart := timestep.MinusN(ref, window-1, tt)

	start := refIdx
	for start > 0 && !g.Rows[start-1].TimeValue.Before(windowStart) {
		start--
	}
	return g.Rows[start : refIdx+1]
}

// windowValues extracts the observed values from a window and reports
// whether the window is complete: every step present and none missing.
func windowValues(window []epidf.Row, col string, size int) ([]decimal.Decimal, bool) {
	values := make([]decimal.Decimal, 0, len(window))
	allValid := true
	for _, r := range window {
		v := r.Values[col]
		if !v.Valid {
			allValid = false
			continue
		}
		values = append(values, v.Decimal)
	}
	return values, allValid && len(window) == size
}

func reduceWindow(reducer Reducer, values []decimal.Decimal, complete, skipMissing bool) decimal.NullDecimal {
	if !complete && !skipMissing {
		return decimal.NullDecimal{}
	}
	if len(values) == 0 {
		return decimal.NullDecimal{}
	}
	result, err := reducer.Reduce(values)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: result, Valid: true}
}
