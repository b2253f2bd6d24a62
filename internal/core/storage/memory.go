package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	v1 "github.com/cmu-delphi/epitools/internal/api/v1"
	"github.com/cmu-delphi/epitools/internal/core/partition"
)

// MemoryStore is an in-memory ObservationStore. It backs tests and
// local development; the service runs on the postgres adapter.
type MemoryStore struct {
	mu      sync.RWMutex
	rows    map[int64]memoryRow
	index   map[string]int64 // duplicate detection, keyed by full cell identity
	nextSeq int64
}

type memoryRow struct {
	dataset string
	obs     v1.Observation
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows:  make(map[int64]memoryRow),
		index: make(map[string]int64),
	}
}

func cellKey(dataset string, obs *v1.Observation) string {
	parts := []string{dataset, obs.GeoValue}
	keys := make([]string, 0, len(obs.OtherKeys))
	for k := range obs.OtherKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, k+"="+obs.OtherKeys[k])
	}
	parts = append(parts, obs.TimeValue.Format(time.RFC3339), obs.Version.Format(time.RFC3339))
	return strings.Join(parts, "\x1f")
}

// SaveObservation stores a copy of obs and assigns the next sequence.
func (s *MemoryStore) SaveObservation(_ context.Context, dataset string, obs *v1.Observation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := cellKey(dataset, obs)
	if _, exists := s.index[key]; exists {
		return ErrDuplicate
	}

	s.nextSeq++
	obs.IngestSeq = s.nextSeq
	s.rows[s.nextSeq] = memoryRow{dataset: dataset, obs: *obs}
	s.index[key] = s.nextSeq
	return nil
}

// RetrieveAsOf returns the latest version <= asOf per cell.
func (s *MemoryStore) RetrieveAsOf(_ context.Context, dataset string, asOf time.Time, geo string, start, end time.Time) ([]*v1.Observation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type cell struct {
		obs     v1.Observation
		version time.Time
	}
	latest := make(map[string]cell)

	for _, r := range s.rows {
		obs := r.obs
		if r.dataset != dataset || obs.Version.After(asOf) {
			continue
		}
		if geo != "" && obs.GeoValue != geo {
			continue
		}
		if !start.IsZero() && obs.TimeValue.Before(start) {
			continue
		}
		if !end.IsZero() && obs.TimeValue.After(end) {
			continue
		}

		id := cellKey(dataset, &v1.Observation{
			GeoValue: obs.GeoValue, OtherKeys: obs.OtherKeys, TimeValue: obs.TimeValue,
		})
		if cur, ok := latest[id]; ok && cur.version.After(obs.Version) {
			continue
		}
		latest[id] = cell{obs: obs, version: obs.Version}
	}

	out := make([]*v1.Observation, 0, len(latest))
	for _, c := range latest {
		obs := c.obs
		out = append(out, &obs)
	}
	sortObservations(out)
	return out, nil
}

// RetrieveVersions returns one partition shard's full history.
func (s *MemoryStore) RetrieveVersions(_ context.Context, dataset string, partitionID int) ([]*v1.Observation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*v1.Observation
	for _, r := range s.rows {
		if r.dataset != dataset || partition.For(r.obs.GeoValue) != partitionID {
			continue
		}
		obs := r.obs
		out = append(out, &obs)
	}
	sortObservations(out)
	return out, nil
}

// DeleteObservations removes rows by sequence number.
func (s *MemoryStore) DeleteObservations(_ context.Context, seqs []int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := int64(0)
	for _, seq := range seqs {
		r, ok := s.rows[seq]
		if !ok {
			continue
		}
		delete(s.rows, seq)
		delete(s.index, cellKey(r.dataset, &r.obs))
		deleted++
	}
	return deleted, nil
}

// Len reports the number of stored rows.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

func sortObservations(obs []*v1.Observation) {
	sort.Slice(obs, func(i, j int) bool {
		a, b := obs[i], obs[j]
		if a.GeoValue != b.GeoValue {
			return a.GeoValue < b.GeoValue
		}
		if !a.TimeValue.Equal(b.TimeValue) {
			return a.TimeValue.Before(b.TimeValue)
		}
		return a.Version.Before(b.Version)
	})
}
