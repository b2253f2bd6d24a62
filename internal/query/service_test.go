package query

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	v1 "github.com/cmu-delphi/epitools/internal/api/v1"
	"github.com/cmu-delphi/epitools/internal/core/dataset"
	httperr "github.com/cmu-delphi/epitools/internal/core/errors"
	"github.com/cmu-delphi/epitools/internal/core/storage"
)

const testDatasetYAML = `name: cases
geo_type: state
time_type: day
value_columns:
  - cases
`

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func newTestService(t *testing.T) (*Service, *storage.MemoryStore) {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cases.yaml"), []byte(testDatasetYAML), 0o644))
	repo, err := dataset.NewFileSystemRepository(dir)
	require.NoError(t, err)

	store := storage.NewMemoryStore()
	return NewService(repo, store, 2), store
}

func seed(t *testing.T, store *storage.MemoryStore, geo string, timeValue, version time.Time, cases int64) {
	t.Helper()
	err := store.SaveObservation(context.Background(), "cases", &v1.Observation{
		GeoValue:  geo,
		TimeValue: timeValue,
		Version:   version,
		Values: map[string]decimal.NullDecimal{
			"cases": {Decimal: decimal.NewFromInt(cases), Valid: true},
		},
		IngestedAt: version,
	})
	require.NoError(t, err)
}

func TestSnapshotPicksLatestVersionPerCell(t *testing.T) {
	svc, store := newTestService(t)

	// 2024-03-01 reported as 10, then revised to 12 on 03-05.
	seed(t, store, "ca", date(2024, 3, 1), date(2024, 3, 2), 10)
	seed(t, store, "ca", date(2024, 3, 1), date(2024, 3, 5), 12)

	early, err := svc.Snapshot(context.Background(), SnapshotRequest{
		Dataset: "cases", AsOf: date(2024, 3, 3),
	})
	require.NoError(t, err)
	require.Len(t, early.Rows, 1)
	require.Equal(t, "10", early.Rows[0].Values["cases"].Decimal.String())

	late, err := svc.Snapshot(context.Background(), SnapshotRequest{
		Dataset: "cases", AsOf: date(2024, 3, 10),
	})
	require.NoError(t, err)
	require.Len(t, late.Rows, 1)
	require.Equal(t, "12", late.Rows[0].Values["cases"].Decimal.String())
}

func TestSnapshotFilters(t *testing.T) {
	svc, store := newTestService(t)

	for d := 1; d <= 4; d++ {
		seed(t, store, "ca", date(2024, 3, d), date(2024, 3, d+1), int64(10*d))
		seed(t, store, "ny", date(2024, 3, d), date(2024, 3, d+1), int64(100*d))
	}

	resp, err := svc.Snapshot(context.Background(), SnapshotRequest{
		Dataset: "cases",
		AsOf:    date(2024, 3, 31),
		Geo:     "ca",
		Start:   date(2024, 3, 2),
		End:     date(2024, 3, 3),
	})
	require.NoError(t, err)
	require.Len(t, resp.Rows, 2)
	for _, r := range resp.Rows {
		require.Equal(t, "ca", r.GeoValue)
	}
	require.Equal(t, date(2024, 3, 2), resp.Rows[0].TimeValue)
	require.Equal(t, date(2024, 3, 3), resp.Rows[1].TimeValue)
}

func TestSnapshotRejectsInvertedRange(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Snapshot(context.Background(), SnapshotRequest{
		Dataset: "cases",
		Start:   date(2024, 3, 5),
		End:     date(2024, 3, 1),
	})
	require.ErrorIs(t, err, ErrInvalidQuery)
}

func TestSlideMeanOverSnapshot(t *testing.T) {
	svc, store := newTestService(t)

	seed(t, store, "ca", date(2024, 3, 1), date(2024, 3, 2), 10)
	seed(t, store, "ca", date(2024, 3, 2), date(2024, 3, 3), 20)
	seed(t, store, "ca", date(2024, 3, 3), date(2024, 3, 4), 30)

	resp, err := svc.Slide(context.Background(), SlideRequest{
		SnapshotRequest: SnapshotRequest{Dataset: "cases", AsOf: date(2024, 3, 31)},
		Column:          "cases",
		Op:              "mean",
		Window:          "2d",
	})
	require.NoError(t, err)
	require.Contains(t, resp.Columns, "cases_mean2")
	require.Len(t, resp.Rows, 3)

	// First window is incomplete.
	require.False(t, resp.Rows[0].Values["cases_mean2"].Valid)
	require.Equal(t, "15", resp.Rows[1].Values["cases_mean2"].Decimal.String())
	require.Equal(t, "25", resp.Rows[2].Values["cases_mean2"].Decimal.String())
}

func TestSlideGapCompletesBeforeSliding(t *testing.T) {
	svc, store := newTestService(t)

	// 03-02 was never reported.
	seed(t, store, "ca", date(2024, 3, 1), date(2024, 3, 2), 10)
	seed(t, store, "ca", date(2024, 3, 3), date(2024, 3, 4), 30)

	resp, err := svc.Slide(context.Background(), SlideRequest{
		SnapshotRequest: SnapshotRequest{Dataset: "cases", AsOf: date(2024, 3, 31)},
		Column:          "cases",
		Op:              "sum",
		Window:          "2",
		SkipMissing:     true,
	})
	require.NoError(t, err)
	require.Len(t, resp.Rows, 3, "absent day must be materialized")

	gap := resp.Rows[1]
	require.Equal(t, date(2024, 3, 2), gap.TimeValue)
	require.False(t, gap.Values["cases"].Valid)
	require.Equal(t, "10", gap.Values["cases_sum2"].Decimal.String())
}

func TestSlideCompletesToRequestBounds(t *testing.T) {
	svc, store := newTestService(t)

	// Stored data starts on 03-03; the request asks from 03-01.
	seed(t, store, "ca", date(2024, 3, 3), date(2024, 3, 4), 30)
	seed(t, store, "ca", date(2024, 3, 4), date(2024, 3, 5), 40)

	resp, err := svc.Slide(context.Background(), SlideRequest{
		SnapshotRequest: SnapshotRequest{
			Dataset: "cases",
			AsOf:    date(2024, 3, 31),
			Start:   date(2024, 3, 1),
			End:     date(2024, 3, 5),
		},
		Column:      "cases",
		Op:          "sum",
		Window:      "2",
		SkipMissing: true,
	})
	require.NoError(t, err)
	require.Len(t, resp.Rows, 5, "range bounds must be materialized")

	require.Equal(t, date(2024, 3, 1), resp.Rows[0].TimeValue)
	require.False(t, resp.Rows[0].Values["cases"].Valid)
	require.False(t, resp.Rows[0].Values["cases_sum2"].Valid)

	require.Equal(t, date(2024, 3, 5), resp.Rows[4].TimeValue)
	require.False(t, resp.Rows[4].Values["cases"].Valid)
	require.Equal(t, "40", resp.Rows[4].Values["cases_sum2"].Decimal.String())
}

func TestSlideValidation(t *testing.T) {
	svc, _ := newTestService(t)

	tests := []struct {
		name string
		req  SlideRequest
	}{
		{
			name: "unknown operator",
			req: SlideRequest{
				SnapshotRequest: SnapshotRequest{Dataset: "cases"},
				Column:          "cases", Op: "mode", Window: "7",
			},
		},
		{
			name: "window unit mismatch",
			req: SlideRequest{
				SnapshotRequest: SnapshotRequest{Dataset: "cases"},
				Column:          "cases", Op: "mean", Window: "4w",
			},
		},
		{
			name: "unknown column",
			req: SlideRequest{
				SnapshotRequest: SnapshotRequest{Dataset: "cases"},
				Column:          "deaths", Op: "mean", Window: "7",
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Slide(context.Background(), tc.req)
			require.ErrorIs(t, err, ErrInvalidQuery)
		})
	}
}

func TestSlideUnknownDataset(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Snapshot(context.Background(), SnapshotRequest{Dataset: "nope"})
	require.ErrorIs(t, err, ErrDatasetNotFound)
}

func TestHandlers(t *testing.T) {
	gin.SetMode(gin.TestMode)

	svc, store := newTestService(t)
	seed(t, store, "ca", date(2024, 3, 1), date(2024, 3, 2), 10)
	seed(t, store, "ca", date(2024, 3, 2), date(2024, 3, 3), 20)

	r := gin.New()
	svc.RegisterRoutes(r)

	get := func(path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, req)
		return resp
	}

	t.Run("snapshot ok", func(t *testing.T) {
		resp := get("/v1/datasets/cases/snapshot?as_of=2024-03-31&geo=ca")
		require.Equal(t, http.StatusOK, resp.Code)

		var body TableResponse
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
		require.Equal(t, "cases", body.Dataset)
		require.Equal(t, "day", body.TimeType)
		require.Len(t, body.Rows, 2)
	})

	t.Run("slide ok", func(t *testing.T) {
		resp := get("/v1/datasets/cases/slide?as_of=2024-03-31&op=mean&window=2&column=cases")
		require.Equal(t, http.StatusOK, resp.Code)

		var body TableResponse
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
		require.Contains(t, body.Columns, "cases_mean2")
	})

	t.Run("slide missing params", func(t *testing.T) {
		resp := get("/v1/datasets/cases/slide?op=mean")
		require.Equal(t, http.StatusBadRequest, resp.Code)

		var errResp httperr.ErrorResponse
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &errResp))
		require.Equal(t, httperr.HttpInvalidJsonError, errResp.ErrorType)
	})

	t.Run("list datasets", func(t *testing.T) {
		resp := get("/v1/datasets")
		require.Equal(t, http.StatusOK, resp.Code)

		var body struct {
			Datasets []DatasetInfo `json:"datasets"`
		}
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
		require.Len(t, body.Datasets, 1)
		require.Equal(t, "cases", body.Datasets[0].Name)
		require.Equal(t, "day", body.Datasets[0].TimeType)
		require.NotEmpty(t, body.Datasets[0].Fingerprint)
	})

	t.Run("unknown dataset", func(t *testing.T) {
		resp := get("/v1/datasets/nope/snapshot")
		require.Equal(t, http.StatusNotFound, resp.Code)

		var errResp httperr.ErrorResponse
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &errResp))
		require.Equal(t, httperr.HttpDatasetNotFoundError, errResp.ErrorType)
	})
}
