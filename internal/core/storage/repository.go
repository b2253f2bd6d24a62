package storage

import (
	"context"
	"errors"
	"time"

	v1 "github.com/cmu-delphi/epitools/internal/api/v1"
)

// ErrDuplicate is returned when an observation with the same
// (dataset, geo, other keys, time, version) already exists.
var ErrDuplicate = errors.New("observation already exists")

// ObservationStore defines the interface for persisting and querying
// the versioned observation archive.
type ObservationStore interface {
	// SaveObservation persists one version row and populates IngestSeq.
	SaveObservation(ctx context.Context, dataset string, obs *v1.Observation) error

	// RetrieveAsOf fetches, per (geo, other keys, time) cell, the row
	// with the latest version <= asOf. geo filters to one geo value when
	// non-empty; zero start/end leave the time range unbounded.
	RetrieveAsOf(ctx context.Context, dataset string, asOf time.Time, geo string, start, end time.Time) ([]*v1.Observation, error)

	// RetrieveVersions fetches the full version history of one
	// (dataset, partition) shard in key, time, version order.
	// Used by the compactor.
	RetrieveVersions(ctx context.Context, dataset string, partitionID int) ([]*v1.Observation, error)

	// DeleteObservations removes rows by ingest sequence. Returns the
	// number of rows actually deleted.
	DeleteObservations(ctx context.Context, seqs []int64) (int64, error)
}
