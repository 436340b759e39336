package models

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrUnknownModel  = errors.New("no pricing known for model")
	ErrInvalidFilter = errors.New("invalid filter value")
)

// ExtractionError reports a provider usage payload that could not be
// normalized. Callers must surface it rather than recording zero tokens.
type ExtractionError struct {
	Provider string
	Field    string
	Err      error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s usage payload, field %q: %v", e.Provider, e.Field, e.Err)
	}
	return fmt.Sprintf("%s usage payload missing field %q", e.Provider, e.Field)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// StorageError wraps a disk-level failure while appending or reading
// telemetry. The tracker logs it and continues; the CLI surfaces it.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// PricingFetchError reports a failed pricing refresh with no cached entry to
// fall back on.
type PricingFetchError struct {
	Model string
	Err   error
}

func (e *PricingFetchError) Error() string {
	if e.Model != "" {
		return fmt.Sprintf("pricing unavailable for model %q: %v", e.Model, e.Err)
	}
	return fmt.Sprintf("pricing fetch failed: %v", e.Err)
}

func (e *PricingFetchError) Unwrap() error { return e.Err }

// ConfigError reports an invalid environment value. Configuration fails fast
// at startup, never at call time.
type ConfigError struct {
	Variable string
	Value    string
	Err      error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid value %q for %s: %v", e.Value, e.Variable, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }
