package partition

import (
	"strconv"
	"testing"
)

func TestFor_Determinism(t *testing.T) {
	// Same input must always produce the same partition.
	id := For("ca")
	for i := 0; i < 100; i++ {
		if got := For("ca"); got != id {
			t.Fatalf("For(\"ca\") = %d on iteration %d, want %d", got, i, id)
		}
	}
}

func TestFor_Range(t *testing.T) {
	// All outputs must be in [0, Count).
	inputs := []string{"", "a", "ca", "06059", "very-long-geo-code-that-should-still-hash-correctly"}
	for _, s := range inputs {
		p := For(s)
		if p < 0 || p >= Count {
			t.Errorf("For(%q) = %d, want [0, %d)", s, p, Count)
		}
	}
}

func TestFor_Distribution(t *testing.T) {
	// 1 000 county codes should hit at least 40 distinct partitions
	// (sanity check that FNV-32a spreads well). With 64 buckets and
	// 1000 keys the expected unique count is ~64 — 40 is a very
	// conservative floor.
	seen := make(map[int]struct{})
	for i := 0; i < 1000; i++ {
		seen[For("county-"+strconv.Itoa(i))] = struct{}{}
	}
	if len(seen) < 40 {
		t.Errorf("only %d distinct partitions from 1000 inputs, want >= 40", len(seen))
	}
}
