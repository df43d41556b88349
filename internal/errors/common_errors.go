package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents the type of error
type ErrorType string

const (
	ErrTypeMalformedSession      ErrorType = "MALFORMED_SESSION_STATE"
	ErrTypeLoginFormNotFound     ErrorType = "LOGIN_FORM_NOT_FOUND"
	ErrTypeLoginTimeout          ErrorType = "LOGIN_TIMEOUT"
	ErrTypeExportControlNotFound ErrorType = "EXPORT_CONTROL_NOT_FOUND"
	ErrTypeDownloadTimeout       ErrorType = "DOWNLOAD_TIMEOUT"
	ErrTypeUpstreamRequest       ErrorType = "UPSTREAM_REQUEST_FAILED"
	ErrTypeNormalization         ErrorType = "NORMALIZATION"
	ErrTypePublish               ErrorType = "PUBLISH_FAILED"
	ErrTypeBrowser               ErrorType = "BROWSER"
	ErrTypeStorage               ErrorType = "STORAGE"
	ErrTypeValidation            ErrorType = "VALIDATION"
	ErrTypeConfig                ErrorType = "CONFIG"
)

// Sentinel kinds usable with errors.Is. Any *AppError of the same Type matches.
var (
	ErrMalformedSession      = &AppError{Type: ErrTypeMalformedSession}
	ErrLoginFormNotFound     = &AppError{Type: ErrTypeLoginFormNotFound}
	ErrLoginTimeout          = &AppError{Type: ErrTypeLoginTimeout}
	ErrExportControlNotFound = &AppError{Type: ErrTypeExportControlNotFound}
	ErrDownloadTimeout       = &AppError{Type: ErrTypeDownloadTimeout}
	ErrUpstreamRequest       = &AppError{Type: ErrTypeUpstreamRequest}
	ErrNormalization         = &AppError{Type: ErrTypeNormalization}
	ErrPublish               = &AppError{Type: ErrTypePublish}
	ErrBrowser               = &AppError{Type: ErrTypeBrowser}
	ErrStorage               = &AppError{Type: ErrTypeStorage}
	ErrValidation            = &AppError{Type: ErrTypeValidation}
	ErrConfig                = &AppError{Type: ErrTypeConfig}
)

// AppError represents an application-specific error
type AppError struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap allows errors.Is and errors.As to work with AppError
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an AppError of the same type.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Type == e.Type
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a new application error
func NewAppError(errType ErrorType, message string, cause error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// TypeOf returns the type of the first AppError in err's chain, or "" if none.
func TypeOf(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ""
}

// Helper functions for common error types

// NewMalformedSessionError reports a session snapshot that cannot be decoded.
func NewMalformedSessionError(message string, cause error) *AppError {
	return NewAppError(ErrTypeMalformedSession, message, cause)
}

// NewLoginFormNotFoundError reports that no frame exposed the login form.
func NewLoginFormNotFoundError(message string) *AppError {
	return NewAppError(ErrTypeLoginFormNotFound, message, nil)
}

// NewLoginTimeoutError reports that authentication was not confirmed in time.
func NewLoginTimeoutError(message string, cause error) *AppError {
	return NewAppError(ErrTypeLoginTimeout, message, cause)
}

// NewExportControlNotFoundError carries the texts scanned while searching.
func NewExportControlNotFoundError(scanned map[string][]string) *AppError {
	return NewAppError(ErrTypeExportControlNotFound, "CSV export control not found", nil).
		WithContext("scanned_texts", scanned)
}

// NewDownloadTimeoutError reports a download that never completed.
func NewDownloadTimeoutError(message string, cause error) *AppError {
	return NewAppError(ErrTypeDownloadTimeout, message, cause)
}

// NewUpstreamRequestError reports a non-2xx response from the export endpoint.
func NewUpstreamRequestError(status int, url string) *AppError {
	return NewAppError(ErrTypeUpstreamRequest, fmt.Sprintf("export request returned status %d", status), nil).
		WithContext("status", status).
		WithContext("url", url)
}

// NewNormalizationError creates a normalization error
func NewNormalizationError(message string, cause error) *AppError {
	return NewAppError(ErrTypeNormalization, message, cause)
}

// NewPublishError creates a spreadsheet publishing error
func NewPublishError(message string, cause error) *AppError {
	return NewAppError(ErrTypePublish, message, cause)
}

// NewBrowserError creates a browser automation error
func NewBrowserError(message string, cause error) *AppError {
	return NewAppError(ErrTypeBrowser, message, cause)
}

// NewStorageError creates a storage-related error
func NewStorageError(message string, cause error) *AppError {
	return NewAppError(ErrTypeStorage, message, cause)
}

// NewAppValidationError creates a validation error for AppError type
func NewAppValidationError(message string) *AppError {
	return NewAppError(ErrTypeValidation, message, nil)
}

// NewConfigError creates a configuration error
func NewConfigError(message string, cause error) *AppError {
	return NewAppError(ErrTypeConfig, message, cause)
}
