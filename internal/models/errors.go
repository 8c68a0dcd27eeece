package models

import (
	"errors"
	"fmt"
)

// ErrorKind is the caller-visible error taxonomy.
type ErrorKind string

const (
	KindProviderFetch      ErrorKind = "provider_fetch_error"
	KindPricingUnavailable ErrorKind = "pricing_unavailable"
	KindIncompleteTrade    ErrorKind = "incomplete_trade"
	KindDataQuality        ErrorKind = "data_quality"
	KindConfiguration      ErrorKind = "configuration_error"
)

// IsFatal returns true for kinds that abort the whole computation.
func (k ErrorKind) IsFatal() bool {
	return k == KindConfiguration
}

// PipelineError is the structured error surfaced to callers.
type PipelineError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Entity  string    `json:"entity,omitempty"`
	Err     error     `json:"-"`
}

func (e *PipelineError) Error() string {
	if e.Entity != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Entity)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// NewConfigurationError builds a fatal configuration error.
func NewConfigurationError(entity, format string, args ...any) *PipelineError {
	return &PipelineError{
		Kind:    KindConfiguration,
		Message: fmt.Sprintf(format, args...),
		Entity:  entity,
	}
}

// NewProviderFetchError wraps a provider failure.
func NewProviderFetchError(provider string, err error) *PipelineError {
	return &PipelineError{
		Kind:    KindProviderFetch,
		Message: err.Error(),
		Entity:  provider,
		Err:     err,
	}
}

// IsConfigurationError reports whether err carries a configuration kind.
func IsConfigurationError(err error) bool {
	var pe *PipelineError
	return errors.As(err, &pe) && pe.Kind == KindConfiguration
}

// ErrPriceNotFound is returned by price lookups with no quote for the date.
var ErrPriceNotFound = errors.New("price not found")

// ErrFXDefaulted accompanies a fallback FX rate of 1.0.
var ErrFXDefaulted = errors.New("fx rate unavailable, defaulted to 1.0")
