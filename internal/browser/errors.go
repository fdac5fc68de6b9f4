// internal/browser/errors.go
package browser

import (
	"errors"
	"fmt"
)

// ErrEngineClosed is matched by every *EngineClosedError through errors.Is.
var ErrEngineClosed = errors.New("browser engine is closed")

// ErrAlreadyFingerprinted is returned when a surface is dressed twice.
var ErrAlreadyFingerprinted = errors.New("surface already has a fingerprint")

// EngineClosedError reports use of a manager after Close.
type EngineClosedError struct {
	Op string
}

func (e *EngineClosedError) Error() string {
	if e.Op == "" {
		return ErrEngineClosed.Error()
	}
	return fmt.Sprintf("%s: %s", e.Op, ErrEngineClosed)
}

// Is lets errors.Is(err, ErrEngineClosed) match.
func (e *EngineClosedError) Is(target error) bool { return target == ErrEngineClosed }

// ErrEngineUnavailable is matched by every *EngineUnavailableError.
var ErrEngineUnavailable = errors.New("browser engine is unavailable")

// EngineUnavailableError reports that the engine could not be brought up.
// The manager keeps returning it until the process restarts.
type EngineUnavailableError struct {
	Cause error
}

func (e *EngineUnavailableError) Error() string {
	return fmt.Sprintf("%s: %v", ErrEngineUnavailable, e.Cause)
}

func (e *EngineUnavailableError) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, ErrEngineUnavailable) match.
func (e *EngineUnavailableError) Is(target error) bool { return target == ErrEngineUnavailable }

// ApplyFingerprintError wraps any failure while dressing a surface.
type ApplyFingerprintError struct {
	Cause error
}

func (e *ApplyFingerprintError) Error() string {
	return fmt.Sprintf("failed to apply fingerprint: %v", e.Cause)
}

func (e *ApplyFingerprintError) Unwrap() error { return e.Cause }

// ElementNotFoundError means a selector matched nothing on the page.
type ElementNotFoundError struct {
	Selector string
}

func (e *ElementNotFoundError) Error() string {
	return fmt.Sprintf("element not found: %s", e.Selector)
}

// CommandExecutionError wraps an engine failure during a browser command.
// Params holds the caller's request for diagnostics.
type CommandExecutionError struct {
	Action string
	Params interface{}
	Err    error
}

func (e *CommandExecutionError) Error() string {
	return fmt.Sprintf("failed to execute %s: %v", e.Action, e.Err)
}

func (e *CommandExecutionError) Unwrap() error { return e.Err }

// NotFoundError reports an unknown view id.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("webview not found: %s", e.ID)
}

// ErrSurfaceClosed is returned by operations on a closed or crashed surface.
var ErrSurfaceClosed = errors.New("surface is closed")
