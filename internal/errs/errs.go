// Package errs defines the error taxonomy shared by the agent and gateway.
// Every operation that can fail for a domain reason (as opposed to a bug)
// returns one of these types, wrapped with fmt.Errorf("...: %w", err) as it
// crosses layers so errors.Is/As still reach the root cause.
package errs

import (
	"context"
	stdErrors "errors"
	"fmt"
	"time"
)

// kindMarker is implemented by every taxonomy error so callers can classify
// an error chain without a type switch over every concrete type.
type kindMarker interface {
	error
	Kind() string
}

// CancelledError indicates an operation was stopped via its cancellation token.
type CancelledError struct {
	Op string
}

func (e *CancelledError) Error() string { return fmt.Sprintf("cancelled: %s", e.Op) }
func (e *CancelledError) Kind() string  { return "cancelled" }

// DeviceNotFoundError indicates a requested device, display, or app target
// does not exist on the agent host.
type DeviceNotFoundError struct {
	Op  string
	Who string
}

func (e *DeviceNotFoundError) Error() string {
	return fmt.Sprintf("device not found: %s (%s)", e.Who, e.Op)
}
func (e *DeviceNotFoundError) Kind() string { return "device_not_found" }

// PermissionDeniedError indicates the OS refused a privileged action
// (input injection, process control, power control).
type PermissionDeniedError struct {
	Op  string
	Err error
}

func (e *PermissionDeniedError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("permission denied: %s", e.Op)
	}
	return fmt.Sprintf("permission denied: %s: %v", e.Op, e.Err)
}
func (e *PermissionDeniedError) Unwrap() error { return e.Err }
func (e *PermissionDeniedError) Kind() string  { return "permission_denied" }

// EncoderError indicates the external streaming encoder process failed or
// emitted malformed output.
type EncoderError struct {
	Op  string
	Err error
}

func (e *EncoderError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("encoder error: %s", e.Op)
	}
	return fmt.Sprintf("encoder error: %s: %v", e.Op, e.Err)
}
func (e *EncoderError) Unwrap() error { return e.Err }
func (e *EncoderError) Kind() string  { return "encoder_error" }

// BusyError indicates a slot, stream, or resource is already in use.
type BusyError struct {
	Op string
}

func (e *BusyError) Error() string { return fmt.Sprintf("busy: %s", e.Op) }
func (e *BusyError) Kind() string  { return "busy" }

// TimeoutError indicates an operation exceeded a deadline or idle timeout.
type TimeoutError struct {
	Op       string
	Duration time.Duration
	Err      error
}

func (e *TimeoutError) Error() string {
	base := fmt.Sprintf("timeout: %s (after %s)", e.Op, e.Duration)
	if e.Err != nil {
		return base + ": " + e.Err.Error()
	}
	return base
}
func (e *TimeoutError) Unwrap() error { return e.Err }
func (e *TimeoutError) Kind() string  { return "timeout" }

// ExternalToolMissingError indicates a required external binary (encoder,
// capture tool) could not be located on PATH.
type ExternalToolMissingError struct {
	Tool string
}

func (e *ExternalToolMissingError) Error() string {
	return fmt.Sprintf("external tool missing: %s", e.Tool)
}
func (e *ExternalToolMissingError) Kind() string { return "external_tool_missing" }

// ProtocolError indicates a framing or wire-format violation on the control
// or data channel (bad header, unknown command, malformed discovery packet).
type ProtocolError struct {
	Op  string
	Err error
}

func (e *ProtocolError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("protocol error: %s", e.Op)
	}
	return fmt.Sprintf("protocol error: %s: %v", e.Op, e.Err)
}
func (e *ProtocolError) Unwrap() error { return e.Err }
func (e *ProtocolError) Kind() string  { return "protocol_error" }

// FatalError indicates an unrecoverable condition; the caller should tear
// down the owning session or connection rather than retry.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("fatal: %s", e.Op)
	}
	return fmt.Sprintf("fatal: %s: %v", e.Op, e.Err)
}
func (e *FatalError) Unwrap() error { return e.Err }
func (e *FatalError) Kind() string  { return "fatal" }

// Constructors. Callers wrap with fmt.Errorf("...: %w", err) as the error
// crosses layers so the chain stays walkable with errors.Is/As.
func NewCancelledError(op string) error { return &CancelledError{Op: op} }
func NewDeviceNotFoundError(op, who string) error {
	return &DeviceNotFoundError{Op: op, Who: who}
}
func NewPermissionDeniedError(op string, cause error) error {
	return &PermissionDeniedError{Op: op, Err: cause}
}
func NewEncoderError(op string, cause error) error { return &EncoderError{Op: op, Err: cause} }
func NewBusyError(op string) error                 { return &BusyError{Op: op} }
func NewTimeoutError(op string, d time.Duration, cause error) error {
	return &TimeoutError{Op: op, Duration: d, Err: cause}
}
func NewExternalToolMissingError(tool string) error { return &ExternalToolMissingError{Tool: tool} }
func NewProtocolError(op string, cause error) error { return &ProtocolError{Op: op, Err: cause} }
func NewFatalError(op string, cause error) error    { return &FatalError{Op: op, Err: cause} }

// Kind returns the taxonomy kind of err, or "" if err does not carry one.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	var km kindMarker
	if stdErrors.As(err, &km) {
		return km.Kind()
	}
	return ""
}

// IsTimeout returns true if err is (or wraps) a TimeoutError, a context
// deadline, or any error exposing Timeout() bool that returns true.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	var te *TimeoutError
	if stdErrors.As(err, &te) {
		return true
	}
	if stdErrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var toErr interface{ Timeout() bool }
	if stdErrors.As(err, &toErr) && toErr.Timeout() {
		return true
	}
	return false
}

// IsCancelled returns true if err is (or wraps) a CancelledError or
// context.Canceled.
func IsCancelled(err error) bool {
	if err == nil {
		return false
	}
	var ce *CancelledError
	if stdErrors.As(err, &ce) {
		return true
	}
	return stdErrors.Is(err, context.Canceled)
}

// IsProtocol returns true if the error chain contains a ProtocolError.
func IsProtocol(err error) bool {
	if err == nil {
		return false
	}
	var pe *ProtocolError
	return stdErrors.As(err, &pe)
}

// IsFatal returns true if the error chain contains a FatalError.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var fe *FatalError
	return stdErrors.As(err, &fe)
}
