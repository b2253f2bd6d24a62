package compaction

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	v1 "github.com/cmu-delphi/epitools/internal/api/v1"
	"github.com/cmu-delphi/epitools/internal/core/dataset"
	"github.com/cmu-delphi/epitools/internal/core/storage"
)

// CompactShard removes LOCF-redundant version rows from one
// (dataset, partition) shard: rows whose values merely repeat the
// previous version of the same cell. An as-of query can never
// distinguish such a row from its predecessor, so deleting it preserves
// every reconstructable snapshot. Returns the number of rows deleted.
func CompactShard(ctx context.Context, store storage.ObservationStore, ds dataset.Dataset, partitionID int) (int64, error) {
	observations, err := store.RetrieveVersions(ctx, ds.Name, partitionID)
	if err != nil {
		return 0, fmt.Errorf("retrieving versions: %w", err)
	}

	seqs := redundantSeqs(observations, ds.ValueColumns)
	if len(seqs) == 0 {
		return 0, nil
	}

	deleted, err := store.DeleteObservations(ctx, seqs)
	if err != nil {
		return 0, fmt.Errorf("deleting redundant rows: %w", err)
	}
	return deleted, nil
}

// redundantSeqs finds the ingest sequences of rows whose values repeat
// the previous version of the same (geo, other keys, time) cell.
func redundantSeqs(observations []*v1.Observation, valueColumns []string) []int64 {
	byCell := make(map[string][]*v1.Observation)
	for _, obs := range observations {
		key := cellOf(obs)
		byCell[key] = append(byCell[key], obs)
	}

	var seqs []int64
	for _, versions := range byCell {
		sort.Slice(versions, func(i, j int) bool {
			return versions[i].Version.Before(versions[j].Version)
		})
		for i := 1; i < len(versions); i++ {
			if sameValues(versions[i-1].Values, versions[i].Values, valueColumns) {
				seqs = append(seqs, versions[i].IngestSeq)
			}
		}
	}

	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	return seqs
}

func cellOf(obs *v1.Observation) string {
	keys := make([]string, 0, len(obs.OtherKeys))
	for k := range obs.OtherKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys)+2)
	parts = append(parts, obs.GeoValue)
	for _, k := range keys {
		parts = append(parts, k+"="+obs.OtherKeys[k])
	}
	parts = append(parts, obs.TimeValue.UTC().String())
	return strings.Join(parts, "\x1f")
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
