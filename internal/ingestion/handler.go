package ingestion

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	v1 "github.com/cmu-delphi/epitools/internal/api/v1"
	"github.com/cmu-delphi/epitools/internal/core/dataset"
	httperr "github.com/cmu-delphi/epitools/internal/core/errors"
	"github.com/cmu-delphi/epitools/internal/core/storage"
	"github.com/cmu-delphi/epitools/internal/core/timestep"
)

const (
	msgReadBodyFailed = "Failed to read request body"
	msgInvalidJSON    = "Invalid JSON body"
	msgPersistFailed  = "Failed to persist observations"
	msgDuplicate      = "Observation version already exists"
)

// ingestRequest is the batch envelope clients POST. All observations in
// one request share an issue: they were reported together.
type ingestRequest struct {
	Observations []*v1.Observation `json:"observations"`
}

// ingestResponse reports the batch outcome.
type ingestResponse struct {
	IssueID  string `json:"issue_id"`
	Accepted int    `json:"accepted"`
}

// ingestionError carries the structured HTTP error shape from a helper back to the orchestrator.
// Helpers return this instead of writing to gin.Context directly, keeping them decoupled from HTTP.
type ingestionError struct {
	statusCode int
	errorType  string
	message    string
	details    interface{}
}

func (e *ingestionError) Error() string {
	return e.message
}

// IngestHandler handles HTTP POST requests for batch observation ingestion.
func (s *Service) IngestHandler(c *gin.Context) {
	ds, err := s.lookupDataset(c.Request.Context(), c.Param("dataset"))
	if err != nil {
		writeError(c, err)
		return
	}

	req, payloadSize, err := s.parseBatch(c)
	if err != nil {
		writeError(c, err)
		return
	}

	issueID := uuid.New().String()
	ingestedAt := time.Now().UTC()

	for i, obs := range req.Observations {
		if err := s.validateObservation(ds, obs); err != nil {
			err.details = map[string]interface{}{"observation_index": i}
			writeError(c, err)
			return
		}
		obs.IssueID = issueID
		obs.IngestedAt = ingestedAt
	}

	slog.Info("Received observation batch",
		"dataset", ds.Name,
		"issue_id", issueID,
		"observations", len(req.Observations),
		"payload_size", payloadSize)

	accepted, err := s.persistBatch(c.Request.Context(), ds.Name, req.Observations)
	if err != nil {
		writeError(c, err)
		return
	}

	// Rows persisted to DB. Compaction sweeps redundant versions later.
	c.JSON(http.StatusAccepted, ingestResponse{
		IssueID:  issueID,
		Accepted: accepted,
	})
}

// lookupDataset resolves the path parameter against the loaded definitions.
func (s *Service) lookupDataset(ctx context.Context, name string) (*dataset.Dataset, *ingestionError) {
	ds, err := s.datasets.Get(ctx, name)
	if err != nil {
		slog.Warn("Unknown dataset in ingest request", "dataset", name)
		return nil, &ingestionError{
			statusCode: http.StatusNotFound,
			errorType:  httperr.HttpDatasetNotFoundError,
			message:    err.Error(),
		}
	}
	return ds, nil
}

// parseBatch reads the raw request body and binds it into an ingestRequest.
// Returns the parsed batch and the raw payload size (used for structured logging upstream).
func (s *Service) parseBatch(c *gin.Context) (*ingestRequest, int, *ingestionError) {
	// Enforce maximum body size to prevent OOM attacks
	maxBytes := int64(s.maxBodySizeBytes)
	limitedBody := io.LimitReader(c.Request.Body, maxBytes+1) // +1 to detect oversized requests

	bodyBytes, err := io.ReadAll(limitedBody)
	if err != nil {
		slog.Error("Failed to read request body", "error", err)
		return nil, 0, &ingestionError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpInternalError,
			message:    msgReadBodyFailed,
		}
	}

	// Check if body exceeds maximum size
	if int64(len(bodyBytes)) > maxBytes {
		slog.Warn("Request body exceeds maximum size", "size", len(bodyBytes), "max", maxBytes)
		return nil, len(bodyBytes), &ingestionError{
			statusCode: http.StatusRequestEntityTooLarge,
			errorType:  httperr.HttpInvalidJsonError,
			message:    "Request body exceeds maximum allowed size",
			details: map[string]interface{}{
				"max_size_mb": maxBytes / (1024 * 1024),
			},
		}
	}

	c.Request.Body = io.NopCloser(bytes.NewReader(bodyBytes))

	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.Warn("Invalid JSON body received", "error", err, "payload_size", len(bodyBytes))
		return nil, len(bodyBytes), &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpInvalidJsonError,
			message:    msgInvalidJSON,
		}
	}

	if len(req.Observations) == 0 {
		return nil, len(bodyBytes), &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpInvalidJsonError,
			message:    "observations must not be empty",
		}
	}

	return &req, len(bodyBytes), nil
}

// validateObservation runs envelope validation, then dataset-specific
// checks: time values aligned to the dataset's time type, extra keys
// matching the declared other_keys, and only declared value columns.
func (s *Service) validateObservation(ds *dataset.Dataset, obs *v1.Observation) *ingestionError {
	validationErr := func(err error) *ingestionError {
		slog.Warn("Observation validation failed",
			"dataset", ds.Name, "geo_value", obs.GeoValue, "error", err)
		return &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpValidationError,
			message:    err.Error(),
		}
	}

	if err := obs.Validate(); err != nil {
		return validationErr(err)
	}

	if err := timestep.ValidateValue(obs.TimeValue, ds.TimeType); err != nil {
		return validationErr(fmt.Errorf("time_value: %w", err))
	}

	if len(obs.OtherKeys) != len(ds.OtherKeys) {
		return validationErr(fmt.Errorf("expected other_keys %v, got %d keys", ds.OtherKeys, len(obs.OtherKeys)))
	}
	for _, k := range ds.OtherKeys {
		if _, ok := obs.OtherKeys[k]; !ok {
			return validationErr(fmt.Errorf("missing other_keys entry %q", k))
		}
	}

	declared := make(map[string]bool, len(ds.ValueColumns))
	for _, col := range ds.ValueColumns {
		declared[col] = true
	}
	for col := range obs.Values {
		if !declared[col] {
			return validationErr(fmt.Errorf("undeclared value column %q", col))
		}
	}

	return nil
}

// persistBatch saves the observations to the backing store. A version
// row that already exists rejects the batch: re-publishing a version is
// a client error, not a revision.
func (s *Service) persistBatch(ctx context.Context, datasetName string, observations []*v1.Observation) (accepted int, _ *ingestionError) {
	for i, obs := range observations {
		err := s.store.SaveObservation(ctx, datasetName, obs)
		if errors.Is(err, storage.ErrDuplicate) {
			slog.Info("Duplicate observation rejected",
				"dataset", datasetName, "geo_value", obs.GeoValue,
				"time_value", obs.TimeValue.Format(time.DateOnly),
				"version", obs.Version.Format(time.DateOnly))
			return 0, &ingestionError{
				statusCode: http.StatusConflict,
				errorType:  httperr.HttpDuplicateObservationError,
				message:    msgDuplicate,
				details:    map[string]interface{}{"observation_index": i},
			}
		}
		if err != nil {
			slog.Error("Failed to persist observation",
				"error", err, "dataset", datasetName, "geo_value", obs.GeoValue)
			return 0, &ingestionError{
				statusCode: http.StatusInternalServerError,
				errorType:  httperr.HttpInternalError,
				message:    msgPersistFailed,
			}
		}
		accepted++
	}

	return accepted, nil
}

// writeError serializes an ingestionError as the JSON HTTP response.
func writeError(c *gin.Context, err *ingestionError) {
	c.JSON(err.statusCode, httperr.ErrorResponse{
		ErrorType: err.errorType,
		Message:   err.message,
		Details:   err.details,
	})
}
