package slide

import (
	"fmt"

	"github.com/montanaflynn/stats"
	"github.com/shopspring/decimal"
)

// Supported slide operators.
const (
	OpMean   = "mean"
	OpSum    = "sum"
	OpCount  = "count"
	OpMin    = "min"
	OpMax    = "max"
	OpMedian = "median"
	OpStddev = "stddev"
)

// Reducer collapses the values inside one window into a single result.
// The engine handles missing-value policy before calling Reduce: the
// input holds only the observed values, and is never empty.
type Reducer interface {
	Reduce(values []decimal.Decimal) (decimal.Decimal, error)
}

// Operators is the registry of all slide operators. To add an operator:
// implement Reducer and add an entry here.
var Operators = map[string]Reducer{
	OpMean:   meanOp{},
	OpSum:    sumOp{},
	OpCount:  countOp{},
	OpMin:    minOp{},
	OpMax:    maxOp{},
	OpMedian: medianOp{},
	OpStddev: stddevOp{},
}

// ValidOperator reports whether op is a registered slide operator.
func ValidOperator(op string) bool {
	_, ok := Operators[op]
	return ok
}

// sumOp and meanOp keep exact decimal arithmetic; they also back the
// running-sum fast path in the engine.
type sumOp struct{}

func (sumOp) Reduce(values []decimal.Decimal) (decimal.Decimal, error) {
	return decimal.Sum(values[0], values[1:]...), nil
}

type meanOp struct{}

func (meanOp) Reduce(values []decimal.Decimal) (decimal.Decimal, error) {
	return decimal.Avg(values[0], values[1:]...), nil
}

type countOp struct{}

func (countOp) Reduce(values []decimal.Decimal) (decimal.Decimal, error) {
	return decimal.NewFromInt(int64(len(values))), nil
}

type minOp struct{}

func (minOp) Reduce(values []decimal.Decimal) (decimal.Decimal, error) {
	return decimal.Min(values[0], values[1:]...), nil
}

type maxOp struct{}

func (maxOp) Reduce(values []decimal.Decimal) (decimal.Decimal, error) {
	return decimal.Max(values[0], values[1:]...), nil
}

// medianOp and stddevOp go through float64: ranking statistics don't
// benefit from exact decimal arithmetic the way sums do.
type medianOp struct{}

func (medianOp) Reduce(values []decimal.Decimal) (decimal.Decimal, error) {
	return floatReduce(values, stats.Median)
}

type stddevOp struct{}

func (stddevOp) Reduce(values []decimal.Decimal) (decimal.Decimal, error) {
	return floatReduce(values, stats.StandardDeviationSample)
}

func floatReduce(values []decimal.Decimal, fn func(stats.Float64Data) (float64, error)) (decimal.Decimal, error) {
	floats := make([]float64, len(values))
	for i, v := range values {
		floats[i] = v.InexactFloat64()
	}
	out, err := fn(floats)
	if err != nil {
		return decimal.Zero, fmt.Errorf("reduce window: %w", err)
	}
	return decimal.NewFromFloat(out), nil
}
