package errors

const (
	HttpInternalError             = "internal_error"
	HttpInvalidJsonError          = "invalid_json"
	HttpDatasetNotFoundError      = "dataset_not_found"
	HttpValidationError           = "observation_validation_failed"
	HttpDuplicateObservationError = "duplicate_observation"
)

// ErrorResponse is the error response body for API errors.
type ErrorResponse struct {
	ErrorType string      `json:"error_type"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
}
