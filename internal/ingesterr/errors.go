// Package ingesterr collects the error taxonomy shared by the ingest
// pipeline: sentinel values for conditions every caller needs to branch on,
// and small typed errors where a single sentinel can't carry enough detail.
package ingesterr

import (
	"errors"
	"fmt"
)

// Sentinels any component may return. Test with errors.Is.
var (
	// ErrNotFound is returned by the registry and the segment index on a miss.
	ErrNotFound = errors.New("not found")

	// ErrInvalidParam rejects a publish attempt with a missing/invalid stream key.
	ErrInvalidParam = errors.New("invalid parameter")

	// ErrBrokenPipe is returned by the packager when its child's stdin can no
	// longer accept writes. Callers must stop forwarding for the stream.
	ErrBrokenPipe = errors.New("packager stdin broken")

	// ErrWatchInit is returned when a File Watcher cannot observe its directory.
	ErrWatchInit = errors.New("watch init failed")

	// ErrSpawn is returned when the packager child cannot be started.
	ErrSpawn = errors.New("packager spawn failed")

	// ErrAlreadyExists is returned by the registry when inserting a duplicate id.
	ErrAlreadyExists = errors.New("already exists")
)

// AuthKind classifies an authentication failure.
type AuthKind int

const (
	// AuthDenied means the gateway explicitly rejected the stream key.
	AuthDenied AuthKind = iota
	// AuthTimeout means the gateway did not respond within the caller's budget.
	AuthTimeout
	// AuthTransport means the gateway could not be reached at all.
	AuthTransport
)

func (k AuthKind) String() string {
	switch k {
	case AuthDenied:
		return "denied"
	case AuthTimeout:
		return "timeout"
	case AuthTransport:
		return "transport"
	default:
		return "unknown"
	}
}

// AuthError reports why a publish-time authentication call failed.
type AuthError struct {
	Kind AuthKind
	Err  error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("auth %s", e.Kind)
}

func (e *AuthError) Unwrap() error { return e.Err }

// NewAuthError constructs an AuthError of the given kind.
func NewAuthError(kind AuthKind, err error) *AuthError {
	return &AuthError{Kind: kind, Err: err}
}

// UploadKind classifies whether an upload failure is worth retrying.
type UploadKind int

const (
	// UploadTransient is eligible for another attempt.
	UploadTransient UploadKind = iota
	// UploadTerminal should not be retried (e.g. the local file is gone).
	UploadTerminal
)

// UploadError reports why an upload attempt failed and whether retrying helps.
type UploadError struct {
	Kind UploadKind
	Err  error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload: %v", e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// NewUploadError constructs an UploadError of the given kind.
func NewUploadError(kind UploadKind, err error) *UploadError {
	return &UploadError{Kind: kind, Err: err}
}

// SessionError wraps a fatal session-scoped failure (auth or packager) that
// propagates the session handler back to Idle.
type SessionError struct {
	StreamID string
	Err      error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session %s: %v", e.StreamID, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }
