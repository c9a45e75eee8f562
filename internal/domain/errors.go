package domain

import (
	"fmt"
	"time"
)

// APIError represents a standardized error response
type APIError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error codes for different failure scenarios
const (
	ErrInvalidInput  = "INVALID_INPUT"
	ErrInvalidConfig = "INVALID_CONFIG"
	ErrIngestFailure = "INGEST_FAILURE"
	ErrDatabaseError = "DATABASE_ERROR"
	ErrScoreService  = "SCORE_SERVICE_ERROR"
	ErrRunFailure    = "RUN_FAILURE"
	ErrNotFound      = "NOT_FOUND"
	ErrInternal      = "INTERNAL_SERVER_ERROR"
)

// ConfigurationError reports an explicitly supplied study-criteria value that
// has the wrong logical type or violates a numeric invariant. Absent fields
// never produce one: they take the documented defaults. A run never proceeds
// past a ConfigurationError.
type ConfigurationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value"`
}

// Error implements the error interface
func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error for field '%s': %s", e.Field, e.Message)
}

// NewConfigurationError creates a new ConfigurationError
func NewConfigurationError(field, message string, value interface{}) *ConfigurationError {
	return &ConfigurationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// IngestError reports a batch-level input failure (unreadable file, missing
// required column, duplicate admission identifier). Batch failures are fatal:
// the engine does not attempt partial processing of a malformed input table.
// Per-record anomalies are logged and absorbed instead and never become an
// IngestError.
type IngestError struct {
	Source  string `json:"source"`
	Row     int    `json:"row,omitempty"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Error implements the error interface
func (e *IngestError) Error() string {
	if e.Row > 0 {
		return fmt.Sprintf("ingest error in %s (row %d): %s", e.Source, e.Row, e.Message)
	}
	return fmt.Sprintf("ingest error in %s: %s", e.Source, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *IngestError) Unwrap() error {
	return e.Err
}

// NewIngestError creates a new IngestError
func NewIngestError(source string, row int, message string, err error) *IngestError {
	return &IngestError{
		Source:  source,
		Row:     row,
		Message: message,
		Err:     err,
	}
}

// NewAPIError creates a new APIError with timestamp
func NewAPIError(code, message, details, requestID string) *APIError {
	return &APIError{
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
	}
}
