package vram

import (
	"errors"
	"fmt"
)

// Sentinel errors for the allocator's failure classes. Callers should use
// errors.Is against these, not string comparison.
var (
	// ErrInvalidArgument is returned for malformed requests: null required
	// pointer, non-power-of-two alignment, zero size, inconsistent pool
	// description, or an upper-address request against TLSF metadata.
	ErrInvalidArgument = errors.New("vram: invalid argument")

	// ErrOutOfMemory is returned when a suballocation failed in every block
	// and no new block could be created, either because a cap was reached
	// or because creating one would exceed budget under WithinBudget.
	ErrOutOfMemory = errors.New("vram: out of memory")

	// ErrNotImplemented is returned for requests this core deliberately does
	// not support: a GPU-upload heap on a device that lacks one, or a
	// nonzero castable-format count in the allocation-info path.
	ErrNotImplemented = errors.New("vram: not implemented")

	// ErrValidationFailed is returned by Validate() call sites (debug-only
	// callers) when internal bookkeeping is inconsistent.
	ErrValidationFailed = errors.New("vram: validation failed")
)

// DeviceError wraps an error returned verbatim by the Device collaborator
// (CreateHeap, CreateCommittedResource, CreatePlacedResource, ...). The
// allocator never interprets the cause; it only propagates it.
type DeviceError struct {
	Op    string // the Device method that failed, e.g. "CreateHeap"
	Cause error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("vram: device error in %s: %v", e.Op, e.Cause)
}

func (e *DeviceError) Unwrap() error { return e.Cause }

func newDeviceError(op string, cause error) error {
	if cause == nil {
		return nil
	}
	return &DeviceError{Op: op, Cause: cause}
}

// ValidationError carries field-level context for an invalid-argument
// failure.
type ValidationError struct {
	Subject string // e.g. "PoolDesc", "Allocator.CreateResource"
	Field   string
	Message string
	Cause   error
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s.%s: %s", e.Subject, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Subject, e.Message)
}

func (e *ValidationError) Unwrap() error {
	if e.Cause != nil {
		return e.Cause
	}
	return ErrInvalidArgument
}

func newValidationError(subject, field, format string, args ...any) *ValidationError {
	return &ValidationError{Subject: subject, Field: field, Message: fmt.Sprintf(format, args...)}
}
