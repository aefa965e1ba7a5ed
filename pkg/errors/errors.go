// Package errors provides custom error types for the sync engine.
// These errors enable programmatic error checking against the failure
// taxonomy: source unavailable, remote unavailable, validation conflict,
// and recoverable per-call failures.
package errors

import (
	"errors"
	"fmt"
)

// New returns an error that formats as the given text.
// It's an alias for the standard library errors.New for convenience.
var New = errors.New

// Common sentinel errors for the sync engine.
var (
	// ErrSourceUnavailable indicates the source directory cannot be
	// reached or authenticated to. Fatal before any encoding happens.
	ErrSourceUnavailable = errors.New("source directory unavailable")

	// ErrRemoteUnavailable indicates the target service is unreachable
	// or the credentials are invalid. Fatal before reconciliation.
	ErrRemoteUnavailable = errors.New("target service unavailable")

	// ErrConflict indicates the source hierarchy contains an integrity
	// violation (duplicate identity or duplicate membership alias).
	ErrConflict = errors.New("validation conflict")

	// ErrNotFound indicates that a requested resource was not found.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates that provided input was invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrRetriesExhausted indicates a single remote call failed after
	// its whole retry budget was spent.
	ErrRetriesExhausted = errors.New("retries exhausted")

	// ErrRateLimited indicates that the API rate limit has been exceeded.
	ErrRateLimited = errors.New("rate limited")

	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = errors.New("operation timed out")
)

// NotFoundError represents an error when a resource is not found.
type NotFoundError struct {
	Resource string
	ID       string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID %s not found", e.Resource, e.ID)
}

// Is implements errors.Is support.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// ValidationError represents a validation failure.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// Is implements errors.Is support.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Message: message}
}

// ConflictError represents a fatal integrity violation found in the
// source hierarchy. Paths identifies every offending entry so an
// operator can locate the conflicting records.
type ConflictError struct {
	Check   string // "duplicate-identity", "duplicate-membership", ...
	Subject string // the identifier or alias that collided
	Paths   []string
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	if len(e.Paths) > 0 {
		return fmt.Sprintf("%s conflict for %q at %v", e.Check, e.Subject, e.Paths)
	}
	return fmt.Sprintf("%s conflict for %q", e.Check, e.Subject)
}

// Is implements errors.Is support.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// NewConflictError creates a new ConflictError.
func NewConflictError(check, subject string, paths []string) *ConflictError {
	return &ConflictError{Check: check, Subject: subject, Paths: paths}
}

// APIError represents an error from the target service API.
type APIError struct {
	Service    string
	StatusCode int
	Message    string
	Endpoint   string
	Err        error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("API error from %s (status %d): %s", e.Service, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API error from %s: %s", e.Service, e.Message)
}

// Unwrap implements errors.Unwrap.
func (e *APIError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support.
func (e *APIError) Is(target error) bool {
	if e.StatusCode == 404 {
		return target == ErrNotFound
	}
	if e.StatusCode == 429 {
		return target == ErrRateLimited
	}
	if e.StatusCode >= 500 {
		return target == ErrRemoteUnavailable
	}
	if e.StatusCode == 401 || e.StatusCode == 403 {
		return target == ErrRemoteUnavailable
	}
	return false
}

// NewAPIError creates a new APIError.
func NewAPIError(service string, statusCode int, message string) *APIError {
	return &APIError{
		Service:    service,
		StatusCode: statusCode,
		Message:    message,
	}
}

// SourceError represents a failure of the source directory collaborator.
type SourceError struct {
	Operation string // "bind", "search", "page"
	Message   string
	Err       error
}

// Error implements the error interface.
func (e *SourceError) Error() string {
	return fmt.Sprintf("source directory error during %s: %s", e.Operation, e.Message)
}

// Unwrap implements errors.Unwrap.
func (e *SourceError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support.
func (e *SourceError) Is(target error) bool {
	return target == ErrSourceUnavailable
}

// NewSourceError creates a new SourceError.
func NewSourceError(operation, message string, err error) *SourceError {
	return &SourceError{Operation: operation, Message: message, Err: err}
}

// ConfigError represents a configuration error.
type ConfigError struct {
	Component string
	Message   string
	Err       error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Component != "" {
		return fmt.Sprintf("configuration error in %s: %s", e.Component, e.Message)
	}
	return fmt.Sprintf("configuration error: %s", e.Message)
}

// Unwrap implements errors.Unwrap.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a new ConfigError.
func NewConfigError(component, message string, err error) *ConfigError {
	return &ConfigError{
		Component: component,
		Message:   message,
		Err:       err,
	}
}

// CallError represents a single mutating call that exhausted its retry
// budget. It is recovered locally: the run continues with remaining
// independent operations and ends in partial-success status.
type CallError struct {
	Operation string // "create", "patch", "delete", "assign"
	Resource  string // "department", "user"
	ID        string
	Err       error
}

// Error implements the error interface.
func (e *CallError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("failed to %s %s %s: %v", e.Operation, e.Resource, e.ID, e.Err)
	}
	return fmt.Sprintf("failed to %s %s: %v", e.Operation, e.Resource, e.Err)
}

// Unwrap implements errors.Unwrap.
func (e *CallError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support.
func (e *CallError) Is(target error) bool {
	return target == ErrRetriesExhausted
}

// NewCallError creates a new CallError.
func NewCallError(operation, resource, id string, err error) *CallError {
	return &CallError{Operation: operation, Resource: resource, ID: id, Err: err}
}

// IOError represents an error during I/O operations.
type IOError struct {
	Operation string // "read", "write", "create", "open", "close"
	Path      string
	Message   string
	Err       error
}

// Error implements the error interface.
func (e *IOError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("IO error during %s of %s: %s", e.Operation, e.Path, e.Message)
	}
	return fmt.Sprintf("IO error during %s: %s", e.Operation, e.Message)
}

// Unwrap implements errors.Unwrap.
func (e *IOError) Unwrap() error {
	return e.Err
}

// NewIOError creates a new IOError.
func NewIOError(operation, path string, err error) *IOError {
	message := ""
	if err != nil {
		message = err.Error()
	}
	return &IOError{
		Operation: operation,
		Path:      path,
		Message:   message,
		Err:       err,
	}
}

// ParseError represents an error when parsing data formats.
type ParseError struct {
	Format  string // "dump", "yaml", "json"
	File    string
	Line    int
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	if e.File != "" && e.Line > 0 {
		return fmt.Sprintf("parse error in %s file %s:%d: %s", e.Format, e.File, e.Line, e.Message)
	}
	if e.File != "" {
		return fmt.Sprintf("parse error in %s file %s: %s", e.Format, e.File, e.Message)
	}
	return fmt.Sprintf("%s parse error: %s", e.Format, e.Message)
}

// Unwrap implements errors.Unwrap.
func (e *ParseError) Unwrap() error {
	return e.Err
}

// NewParseError creates a new ParseError.
func NewParseError(format, file, message string, err error) *ParseError {
	return &ParseError{Format: format, File: file, Message: message, Err: err}
}

// Helper functions for error checking.

// IsSourceUnavailable checks if an error means the source directory is down.
func IsSourceUnavailable(err error) bool {
	return errors.Is(err, ErrSourceUnavailable)
}

// IsRemoteUnavailable checks if an error means the target service is down.
func IsRemoteUnavailable(err error) bool {
	return errors.Is(err, ErrRemoteUnavailable)
}

// IsConflict checks if an error is a validation conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsNotFound checks if an error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsRetriesExhausted checks if an error is a spent per-call retry budget.
func IsRetriesExhausted(err error) bool {
	return errors.Is(err, ErrRetriesExhausted)
}

// IsRateLimited checks if an error is a rate limit error.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// IsTimeout checks if an error is a timeout error.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// Helper wrapping functions for common patterns.

// WrapIO wraps an error as an IOError.
func WrapIO(operation, path string, err error) error {
	if err == nil {
		return nil
	}
	return NewIOError(operation, path, err)
}

// WrapCall wraps an error as a CallError.
func WrapCall(operation, resource, id string, err error) error {
	if err == nil {
		return nil
	}
	return NewCallError(operation, resource, id, err)
}

// WrapAPI wraps an error as an APIError.
func WrapAPI(service string, statusCode int, err error) error {
	if err == nil {
		return nil
	}
	return &APIError{
		Service:    service,
		StatusCode: statusCode,
		Message:    err.Error(),
		Err:        err,
	}
}
