package bridge

import (
	"errors"
	"fmt"
)

// ErrorKind classifies bridge errors.
type ErrorKind string

const (
	KindAlreadyInitialized ErrorKind = "already_initialized"
	KindNotInitialized     ErrorKind = "not_initialized"
	KindInitFailed         ErrorKind = "init_failed"
	KindTypeConflict       ErrorKind = "type_conflict"
	KindInvalidTopic       ErrorKind = "invalid_topic"
	KindNotEnabled         ErrorKind = "not_enabled"
	KindClosed             ErrorKind = "closed"
	KindEncoding           ErrorKind = "encoding"
	KindTransport          ErrorKind = "transport"
)

// Error is the structured error returned by the bridge. Use errors.Is with the
// sentinel values below to test the kind.
type Error struct {
	Kind    ErrorKind
	Topic   string
	Message string
	Cause   error
}

// Sentinel errors, one per kind.
var (
	ErrAlreadyInitialized = &Error{Kind: KindAlreadyInitialized, Message: "bridge already initialized"}
	ErrNotInitialized     = &Error{Kind: KindNotInitialized, Message: "bridge not initialized"}
	ErrInitFailed         = &Error{Kind: KindInitFailed, Message: "bridge initialization failed"}
	ErrTypeConflict       = &Error{Kind: KindTypeConflict, Message: "topic type conflict"}
	ErrInvalidTopic       = &Error{Kind: KindInvalidTopic, Message: "invalid topic name"}
	ErrNotEnabled         = &Error{Kind: KindNotEnabled, Message: "channel not enabled"}
	ErrClosed             = &Error{Kind: KindClosed, Message: "channel closed"}
	ErrEncoding           = &Error{Kind: KindEncoding, Message: "message encoding failed"}
	ErrTransport          = &Error{Kind: KindTransport, Message: "transport error"}
)

// ErrNilHandler is returned when a reader is enabled without a callback.
var ErrNilHandler = errors.New("bridge: nil message handler")

func newError(kind ErrorKind, topic, message string, cause error) *Error {
	return &Error{Kind: kind, Topic: topic, Message: message, Cause: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Topic != "" {
		msg = fmt.Sprintf("%s: topic %q", msg, e.Topic)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a bridge error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}
