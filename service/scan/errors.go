package scan

import (
	"errors"
	"fmt"
)

// Sentinel errors for orchestrator-level outcomes. These are reported
// distinctly to callers; everything below the orchestrator degrades
// into a neutral StageResult instead of surfacing.
var (
	// ErrOverloaded is returned when admission control rejects a scan
	// because the in-flight limit is saturated. No work is performed.
	ErrOverloaded = errors.New("scan rejected: concurrency limit saturated")

	// ErrScanTimeout is returned when the total scan deadline elapses
	// before aggregation completes.
	ErrScanTimeout = errors.New("scan deadline exceeded")

	// ErrModelNotReady is returned by a model runner whose lifecycle
	// has not reached the ready state. The orchestrator records the ML
	// stage as degraded rather than failing the scan.
	ErrModelNotReady = errors.New("ml model not ready")
)

// ParseError indicates the raw input could not be decoded at all: an
// undecodable string, or a type with no defined decoding such as a
// bare number or list.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse transaction: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("parse transaction: %s", e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ValidationError indicates the input decoded but the resulting
// structure is malformed, e.g. an instruction without an index or an
// object bearing none of the transaction fields.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid transaction: %s", e.Reason)
}

// IsInputError reports whether err is a parsing or validation failure,
// i.e. fatal for the request but attributable to the caller.
func IsInputError(err error) bool {
	var pe *ParseError
	var ve *ValidationError
	return errors.As(err, &pe) || errors.As(err, &ve)
}
