package protocol

import (
	"errors"
	"fmt"
	"time"
)

// Core synchronization errors
var (
	// Identity errors

	ErrUnknownIdentity = errors.New("unknown network identity")
	ErrUnknownHandle   = errors.New("unknown world handle")
	ErrIdentityBound   = errors.New("network identity already bound")
	ErrHandleBound     = errors.New("world handle already bound")

	// Registry errors

	ErrUnknownComponent  = errors.New("unknown component")
	ErrAlreadyRegistered = errors.New("already registered")
	ErrTypeMismatch      = errors.New("component type mismatch")

	// Encoding errors

	ErrSerializationFailed   = errors.New("serialization failed")
	ErrDeserializationFailed = errors.New("deserialization failed")
	ErrCompressionMismatch   = errors.New("compression strategy mismatch")
	ErrInvalidFrame          = errors.New("invalid frame")

	// Transport errors

	ErrPostBoxClosed    = errors.New("postbox is closed")
	ErrConnectionClosed = errors.New("connection is closed")

	// World errors

	ErrNoSuchHandle = errors.New("no such world handle")

	// Configuration errors

	ErrInvalidConfig = errors.New("invalid configuration")
)

// ErrorCode represents a numeric error code for efficient error handling
type ErrorCode int

const (
	ErrorCodeSuccess ErrorCode = 0

	// Protocol violation codes (1000-1999)

	ErrorCodeProtocolViolation ErrorCode = 1001
	ErrorCodeUnknownIdentity   ErrorCode = 1002
	ErrorCodeUnknownComponent  ErrorCode = 1003
	ErrorCodeIdentityBound     ErrorCode = 1004

	// Encoding error codes (3000-3999)

	ErrorCodeSerializationFailed   ErrorCode = 3005
	ErrorCodeDeserializationFailed ErrorCode = 3006
	ErrorCodeCompressionMismatch   ErrorCode = 3007

	// Transport error codes (7000-7999)

	ErrorCodeTransportClosed ErrorCode = 7002

	// Configuration error codes (8000-8999)

	ErrorCodeInvalidConfig     ErrorCode = 8001
	ErrorCodeAlreadyRegistered ErrorCode = 8002

	ErrorCodeUnknownError ErrorCode = 9999
)

// Error is a synchronization error with additional context.
type Error struct {
	Code      ErrorCode
	Message   string
	Cause     error
	Context   map[string]interface{}
	Timestamp int64
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := e.Message
	if len(e.Context) > 0 {
		msg += fmt.Sprintf(" %v", e.Context)
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewProtocolError creates a new protocol error
func NewProtocolError(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Cause:     cause,
		Context:   make(map[string]interface{}),
		Timestamp: time.Now().Unix(),
	}
}

// WithContext adds context to the error
func (e *Error) WithContext(key string, value interface{}) *Error {
	e.Context[key] = value
	return e
}

// IsFatal reports whether the error desynchronizes the connection.
// Registry or identity skew and malformed payloads can only be recovered by a resync.
func (e *Error) IsFatal() bool {
	switch e.Code {
	case ErrorCodeProtocolViolation,
		ErrorCodeUnknownIdentity,
		ErrorCodeUnknownComponent,
		ErrorCodeIdentityBound,
		ErrorCodeDeserializationFailed,
		ErrorCodeCompressionMismatch:
		return true
	default:
		return false
	}
}

var errorCodeMap = map[error]ErrorCode{
	ErrUnknownIdentity:       ErrorCodeUnknownIdentity,
	ErrUnknownHandle:         ErrorCodeUnknownIdentity,
	ErrIdentityBound:         ErrorCodeIdentityBound,
	ErrHandleBound:           ErrorCodeIdentityBound,
	ErrUnknownComponent:      ErrorCodeUnknownComponent,
	ErrAlreadyRegistered:     ErrorCodeAlreadyRegistered,
	ErrTypeMismatch:          ErrorCodeProtocolViolation,
	ErrSerializationFailed:   ErrorCodeSerializationFailed,
	ErrDeserializationFailed: ErrorCodeDeserializationFailed,
	ErrCompressionMismatch:   ErrorCodeCompressionMismatch,
	ErrInvalidFrame:          ErrorCodeProtocolViolation,
	ErrPostBoxClosed:         ErrorCodeTransportClosed,
	ErrConnectionClosed:      ErrorCodeTransportClosed,
	ErrNoSuchHandle:          ErrorCodeProtocolViolation,
	ErrInvalidConfig:         ErrorCodeInvalidConfig,
}

// GetErrorCode returns the error code for a given error
func GetErrorCode(err error) ErrorCode {
	var protocolErr *Error
	if errors.As(err, &protocolErr) {
		return protocolErr.Code
	}

	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return ErrorCodeUnknownError
}

// WrapError wraps a standard error into a protocol Error
func WrapError(err error, message string) *Error {
	code := GetErrorCode(err)
	return NewProtocolError(code, message, err)
}

// IsFatal reports whether err is a fatal synchronization error.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var protocolErr *Error
	if errors.As(err, &protocolErr) {
		return protocolErr.IsFatal()
	}
	return WrapError(err, "").IsFatal()
}
