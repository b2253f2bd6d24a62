package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/cmu-delphi/epitools/internal/core/dataset"
	"github.com/cmu-delphi/epitools/internal/core/epidf"
	"github.com/cmu-delphi/epitools/internal/core/slide"
	"github.com/cmu-delphi/epitools/internal/core/storage"
	"github.com/cmu-delphi/epitools/internal/core/timestep"
)

// ErrInvalidQuery marks request validation errors that should return HTTP 400.
var ErrInvalidQuery = errors.New("invalid query")

// ErrDatasetNotFound marks unknown-dataset errors that should return HTTP 404.
var ErrDatasetNotFound = errors.New("dataset not found")

func invalidQueryf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidQuery, fmt.Sprintf(format, args...))
}

// Service implements the read side: snapshot reconstruction and
// server-side slide computations over reconstructed snapshots.
type Service struct {
	datasets     dataset.Repository
	store        storage.ObservationStore
	slideWorkers int
	nowFn        func() time.Time
}

// NewService creates a new query service.
func NewService(datasets dataset.Repository, store storage.ObservationStore, slideWorkers int) *Service {
	if datasets == nil {
		panic("query: dataset repository must not be nil")
	}
	if store == nil {
		panic("query: store must not be nil")
	}
	return &Service{
		datasets:     datasets,
		store:        store,
		slideWorkers: slideWorkers,
		nowFn: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Snapshot reconstructs the dataset as it looked on req.AsOf.
func (s *Service) Snapshot(ctx context.Context, req SnapshotRequest) (*TableResponse, error) {
	ds, err := s.lookupDataset(ctx, req.Dataset)
	if err != nil {
		return nil, err
	}

	table, err := s.buildSnapshot(ctx, ds, req)
	if err != nil {
		return nil, err
	}

	return tableResponse(ds, table), nil
}

// Slide reconstructs the snapshot, gap-completes it so windows see
// absent time points as missing, and runs the requested operator.
func (s *Service) Slide(ctx context.Context, req SlideRequest) (*TableResponse, error) {
	ds, err := s.lookupDataset(ctx, req.Dataset)
	if err != nil {
		return nil, err
	}

	if !slide.ValidOperator(req.Op) {
		return nil, invalidQueryf("unknown operator %q", req.Op)
	}
	window, err := timestep.ParseWindow(req.Window, ds.TimeType)
	if err != nil {
		return nil, invalidQueryf("window: %v", err)
	}
	if !hasColumn(ds, req.Column) {
		return nil, invalidQueryf("unknown value column %q", req.Column)
	}

	table, err := s.buildSnapshot(ctx, ds, req.SnapshotRequest)
	if err != nil {
		return nil, err
	}

	// Complete out to the request's bounds so windows anchored near
	// them see absent time points as missing rows.
	completed, err := table.CompleteRange(req.Start, req.End, epidf.FillNone)
	if err != nil {
		return nil, invalidQueryf("completing snapshot: %v", err)
	}

	result, err := slide.Apply(completed, req.Column, req.Op, slide.Options{
		Window:      window,
		SkipMissing: req.SkipMissing,
		Workers:     s.slideWorkers,
	})
	if err != nil {
		return nil, fmt.Errorf("sliding %s over %s: %w", req.Op, req.Column, err)
	}

	slog.Debug("Served slide query",
		"dataset", ds.Name, "op", req.Op, "window", window,
		"column", req.Column, "rows", len(result.Rows))

	return tableResponse(ds, result), nil
}

// ListDatasets returns the loaded dataset definitions, sorted by name.
func (s *Service) ListDatasets(ctx context.Context) ([]DatasetInfo, error) {
	datasets, err := s.datasets.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing datasets: %w", err)
	}

	infos := make([]DatasetInfo, len(datasets))
	for i, ds := range datasets {
		infos[i] = DatasetInfo{
			Name:         ds.Name,
			GeoType:      ds.GeoType,
			TimeType:     string(ds.TimeType),
			OtherKeys:    ds.OtherKeys,
			ValueColumns: ds.ValueColumns,
			Fingerprint:  ds.Fingerprint,
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

func (s *Service) lookupDataset(ctx context.Context, name string) (*dataset.Dataset, error) {
	if name == "" {
		return nil, invalidQueryf("dataset is required")
	}
	ds, err := s.datasets.Get(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrDatasetNotFound, name)
	}
	return ds, nil
}

// buildSnapshot fetches the latest version per cell from the archive and
// assembles a canonical snapshot table.
func (s *Service) buildSnapshot(ctx context.Context, ds *dataset.Dataset, req SnapshotRequest) (*epidf.Table, error) {
	asOf := req.AsOf
	if asOf.IsZero() {
		asOf = s.nowFn()
	}
	if !req.Start.IsZero() && !req.End.IsZero() && req.End.Before(req.Start) {
		return nil, invalidQueryf("end %s before start %s",
			req.End.Format(time.DateOnly), req.Start.Format(time.DateOnly))
	}

	observations, err := s.store.RetrieveAsOf(ctx, ds.Name, asOf, req.Geo, req.Start, req.End)
	if err != nil {
		return nil, fmt.Errorf("retrieving snapshot rows: %w", err)
	}

	rows := make([]epidf.Row, len(observations))
	for i, obs := range observations {
		rows[i] = epidf.Row{
			GeoValue:  obs.GeoValue,
			Extra:     obs.OtherKeys,
			TimeValue: obs.TimeValue,
			Values:    obs.Values,
		}
	}

	table, err := epidf.New(epidf.Metadata{
		GeoType:   ds.GeoType,
		TimeType:  ds.TimeType,
		AsOf:      asOf,
		OtherKeys: ds.OtherKeys,
	}, ds.ValueColumns, rows)
	if err != nil {
		return nil, fmt.Errorf("assembling snapshot: %w", err)
	}
	return table, nil
}

func hasColumn(ds *dataset.Dataset, col string) bool {
	for _, c := range ds.ValueColumns {
		if c == col {
			return true
		}
	}
	return false
}

func tableResponse(ds *dataset.Dataset, t *epidf.Table) *TableResponse {
	rows := make([]ResponseRow, len(t.Rows))
	for i, r := range t.Rows {
		rows[i] = ResponseRow{
			GeoValue:  r.GeoValue,
			OtherKeys: r.Extra,
			TimeValue: r.TimeValue,
			Values:    r.Values,
		}
	}
	return &TableResponse{
		Dataset:  ds.Name,
		GeoType:  t.Meta.GeoType,
		TimeType: string(t.Meta.TimeType),
		AsOf:     t.Meta.AsOf,
		Columns:  t.ValueColumns,
		Rows:     rows,
	}
}
