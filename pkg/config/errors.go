// Package config loads and validates the Autotune Control Loop's
// configuration: required AUTOTUNE_* environment variables plus an
// optional thresholds.yaml overlay for promotion-gate tuning.
package config

import (
	"errors"
	"fmt"
)

// Sentinel errors for configuration loading/validation, mirroring the
// teacher's wrap-with-context idiom so callers can errors.Is/errors.As
// through the wrappers below.
var (
	// ErrMissingRequired indicates a required AUTOTUNE_* env var was unset.
	ErrMissingRequired = errors.New("missing required configuration")

	// ErrInvalidValue indicates a configuration value failed validation.
	ErrInvalidValue = errors.New("invalid configuration value")

	// ErrConfigNotFound indicates an optional overlay file was requested
	// but does not exist.
	ErrConfigNotFound = errors.New("configuration file not found")

	// ErrInvalidYAML indicates the overlay file could not be parsed.
	ErrInvalidYAML = errors.New("invalid YAML syntax")
)

// LoadError wraps a configuration key/file with the underlying error.
type LoadError struct {
	Key string
	Err error
}

func (e *LoadError) Error() string { return fmt.Sprintf("config %q: %v", e.Key, e.Err) }
func (e *LoadError) Unwrap() error { return e.Err }

// NewLoadError creates a LoadError.
func NewLoadError(key string, err error) *LoadError { return &LoadError{Key: key, Err: err} }

// ValidationError wraps a single field's validation failure.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string { return fmt.Sprintf("field %q: %v", e.Field, e.Err) }
func (e *ValidationError) Unwrap() error { return e.Err }

// NewValidationError creates a ValidationError.
func NewValidationError(field string, err error) *ValidationError {
	return &ValidationError{Field: field, Err: err}
}
