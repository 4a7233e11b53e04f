// Package model holds the domain types shared by the simulation engine and
// its adapters: bars, trades, positions and the error taxonomy.
package model

import (
	"errors"
	"fmt"
)

// Data error causes. Wrapped inside a DataError.
var (
	ErrNotFound = errors.New("ticker not found")
	ErrRange    = errors.New("invalid date range")
	ErrDataGap  = errors.New("data gap")
)

// ConfigError reports a strategy configuration that was rejected before
// any simulation step ran. Always fatal to the request.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "invalid config: " + e.Reason
	}
	return "invalid config: " + e.Field + ": " + e.Reason
}

// ConfigErrorf builds a ConfigError for field.
func ConfigErrorf(field, format string, args ...any) error {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// DataError reports missing or unusable market data for a ticker.
type DataError struct {
	Ticker string
	Err    error
}

func (e *DataError) Error() string {
	return fmt.Sprintf("data error for %s: %v", e.Ticker, e.Err)
}

func (e *DataError) Unwrap() error { return e.Err }

// NewDataError wraps err as a DataError unless it already is one.
func NewDataError(ticker string, err error) error {
	var de *DataError
	if errors.As(err, &de) {
		return err
	}
	return &DataError{Ticker: ticker, Err: err}
}

// IsConfigError reports whether err carries a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// IsDataError reports whether err carries a DataError.
func IsDataError(err error) bool {
	var de *DataError
	return errors.As(err, &de)
}
