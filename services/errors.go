package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"

	"github.com/gorilla/websocket"
)

// ErrMalformed marks a payload that could not be decoded into a Reading.
var ErrMalformed = errors.New("malformed payload")

// ErrPromptCancelled is returned by a DevicePrompt when the user dismisses
// the device chooser.
var ErrPromptCancelled = errors.New("device selection cancelled by user")

// DecodeError describes why a raw payload was dropped.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed payload: %s: %v", e.Reason, e.Err)
	}
	return "malformed payload: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == ErrMalformed }

func malformed(reason string, err error) error {
	return &DecodeError{Reason: reason, Err: err}
}

// ConnectionErrorKind drives how the connection manager reacts to a failure.
type ConnectionErrorKind int

const (
	// Transient failures are network level and worth retrying.
	Transient ConnectionErrorKind = iota
	// UserCancelled is a dismissed device prompt; never surfaced.
	UserCancelled
	// Fatal failures are surfaced and need a manual reconnect.
	Fatal
	// PlatformUnsupported means the transport API is not available here.
	PlatformUnsupported
)

func (k ConnectionErrorKind) String() string {
	switch k {
	case Transient:
		return "transient"
	case UserCancelled:
		return "user_cancelled"
	case Fatal:
		return "fatal"
	case PlatformUnsupported:
		return "platform_unsupported"
	default:
		return "unknown"
	}
}

// ConnectionError is a classified transport failure.
type ConnectionError struct {
	Kind   ConnectionErrorKind
	Source string
	Err    error
}

func (e *ConnectionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s connection error (%s)", e.Source, e.Kind)
	}
	return fmt.Sprintf("%s connection error (%s): %v", e.Source, e.Kind, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

func connectionError(kind ConnectionErrorKind, source string, err error) *ConnectionError {
	return &ConnectionError{Kind: kind, Source: source, Err: err}
}

// ClassifyConnectionError maps err to a ConnectionErrorKind. Errors that are
// already classified keep their kind; network and closure errors are
// transient; anything else is fatal.
func ClassifyConnectionError(err error) ConnectionErrorKind {
	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return connErr.Kind
	}
	if errors.Is(err, ErrPromptCancelled) {
		return UserCancelled
	}

	var netErr net.Error
	var closeErr *websocket.CloseError
	switch {
	case errors.As(err, &netErr),
		errors.As(err, &closeErr),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, websocket.ErrBadHandshake):
		return Transient
	}
	return Fatal
}
