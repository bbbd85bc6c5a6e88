// Package cverr defines the two error kinds shared by the modulation core.
//
// Configuration errors are reported by constructors and mean no usable
// instance was created. Range errors are reported by per-call mutators and
// mean the call was rejected with the receiver's state left unchanged.
package cverr

import (
	"errors"
	"fmt"
)

var (
	ErrConfiguration   = errors.New("configuration error")
	ErrValueOutOfRange = errors.New("value out of range")
)

// ConfigError describes an invalid construction parameter.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrConfiguration }

// RangeError describes a rejected per-call input.
type RangeError struct {
	Field string
	Value float64
	Min   float64
	Max   float64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("value out of range: %s=%g (want %g..%g)", e.Field, e.Value, e.Min, e.Max)
}

func (e *RangeError) Unwrap() error { return ErrValueOutOfRange }

// Config returns a *ConfigError for field.
func Config(field, format string, args ...any) error {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// CheckRange returns a *RangeError when v is outside [lo, hi].
func CheckRange(field string, v, lo, hi int) error {
	if v < lo || v > hi {
		return &RangeError{Field: field, Value: float64(v), Min: float64(lo), Max: float64(hi)}
	}
	return nil
}

// CheckFloat is CheckRange for real-valued inputs; NaN is always rejected.
func CheckFloat(field string, v, lo, hi float64) error {
	if !(v >= lo && v <= hi) {
		return &RangeError{Field: field, Value: v, Min: lo, Max: hi}
	}
	return nil
}
