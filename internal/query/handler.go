package query

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	httperr "github.com/cmu-delphi/epitools/internal/core/errors"
)

// RegisterRoutes registers the read-side API routes on the given router.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.GET("/v1/datasets", s.HandleListDatasets)
	r.GET("/v1/datasets/:dataset/snapshot", s.HandleSnapshot)
	r.GET("/v1/datasets/:dataset/slide", s.HandleSlide)
}

// HandleListDatasets handles GET /v1/datasets
func (s *Service) HandleListDatasets(c *gin.Context) {
	infos, err := s.ListDatasets(c.Request.Context())
	if err != nil {
		writeQueryError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"datasets": infos})
}

// snapshotParams are the query parameters shared by both endpoints.
// Dates are plain days; as_of defaults to now.
type snapshotParams struct {
	AsOf  time.Time `form:"as_of" time_format:"2006-01-02"`
	Geo   string    `form:"geo"`
	Start time.Time `form:"start" time_format:"2006-01-02"`
	End   time.Time `form:"end" time_format:"2006-01-02"`
}

// HandleSnapshot handles GET /v1/datasets/:dataset/snapshot
// Query parameters: as_of, geo, start, end
func (s *Service) HandleSnapshot(c *gin.Context) {
	var params snapshotParams
	if err := c.ShouldBindQuery(&params); err != nil {
		writeQueryError(c, invalidQueryf("%v", err))
		return
	}

	resp, err := s.Snapshot(c.Request.Context(), SnapshotRequest{
		Dataset: c.Param("dataset"),
		AsOf:    params.AsOf,
		Geo:     params.Geo,
		Start:   params.Start,
		End:     params.End,
	})
	if err != nil {
		writeQueryError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// HandleSlide handles GET /v1/datasets/:dataset/slide
// Query parameters: as_of, geo, start, end, op, window, column, skip_missing
func (s *Service) HandleSlide(c *gin.Context) {
	var params struct {
		snapshotParams
		Op          string `form:"op" binding:"required"`
		Window      string `form:"window" binding:"required"`
		Column      string `form:"column" binding:"required"`
		SkipMissing bool   `form:"skip_missing"`
	}
	if err := c.ShouldBindQuery(&params); err != nil {
		writeQueryError(c, invalidQueryf("%v", err))
		return
	}

	resp, err := s.Slide(c.Request.Context(), SlideRequest{
		SnapshotRequest: SnapshotRequest{
			Dataset: c.Param("dataset"),
			AsOf:    params.AsOf,
			Geo:     params.Geo,
			Start:   params.Start,
			End:     params.End,
		},
		Column:      params.Column,
		Op:          params.Op,
		Window:      params.Window,
		SkipMissing: params.SkipMissing,
	})
	if err != nil {
		writeQueryError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func writeQueryError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrInvalidQuery):
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidJsonError,
			Message:   "Invalid query parameters",
			Details:   err.Error(),
		})
	case errors.Is(err, ErrDatasetNotFound):
		c.JSON(http.StatusNotFound, httperr.ErrorResponse{
			ErrorType: httperr.HttpDatasetNotFoundError,
			Message:   err.Error(),
		})
	default:
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   "Failed to execute query",
			Details:   err.Error(),
		})
	}
}
