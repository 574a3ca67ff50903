package rdma

import (
	"errors"
	"fmt"

	"github.com/ehrlich-b/go-rdma/internal/fastpath"
)

// Error represents a structured rdma error with operation context
type Error struct {
	Op     string    // Operation that failed (e.g., "POST_WRITE", "BUMP")
	FlowID uint32    // Flow id (0 if not applicable)
	Code   ErrorCode // High-level error category
	Msg    string    // Human-readable message
	Inner  error     // Wrapped error
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Op != "" {
		return fmt.Sprintf("rdma: %s (op=%s)", msg, e.Op)
	}
	return fmt.Sprintf("rdma: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is provides errors.Is support by error code
func (e *Error) Is(target error) bool {
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// ErrorCode represents high-level error categories
type ErrorCode string

const (
	ErrCodeInvalidArgument   ErrorCode = "invalid argument"
	ErrCodeInvalidRange      ErrorCode = "offset out of memory region"
	ErrCodeQueueFull         ErrorCode = "work queue full"
	ErrCodeBumpRejected      ErrorCode = "cursor bump rejected"
	ErrCodeOutOfBounds       ErrorCode = "request out of bounds"
	ErrCodeProtocolViolation ErrorCode = "protocol violation"
	ErrCodeTransport         ErrorCode = "transport error"
	ErrCodeNotImplemented    ErrorCode = "not implemented"
	ErrCodeFlowClosed        ErrorCode = "flow closed"
)

// Error constructors

// NewError creates a new structured error
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{
		Op:   op,
		Code: code,
		Msg:  msg,
	}
}

// NewFlowError creates a new flow-specific error
func NewFlowError(op string, flowID uint32, code ErrorCode, msg string) *Error {
	return &Error{
		Op:     op,
		FlowID: flowID,
		Code:   code,
		Msg:    msg,
	}
}

// WrapError wraps an error from the dataplane or the transport with rdma
// context, mapping the fastpath sentinels onto error codes.
func WrapError(op string, flowID uint32, inner error) *Error {
	if inner == nil {
		return nil
	}

	if re, ok := inner.(*Error); ok {
		return &Error{
			Op:     op,
			FlowID: re.FlowID,
			Code:   re.Code,
			Msg:    re.Msg,
			Inner:  re.Inner,
		}
	}

	code := ErrCodeTransport
	switch {
	case errors.Is(inner, fastpath.ErrBumpRejected):
		code = ErrCodeBumpRejected
	case errors.Is(inner, fastpath.ErrProtocolViolation):
		code = ErrCodeProtocolViolation
	case errors.Is(inner, fastpath.ErrNotImplemented):
		code = ErrCodeNotImplemented
	}

	return &Error{
		Op:     op,
		FlowID: flowID,
		Code:   code,
		Msg:    inner.Error(),
		Inner:  inner,
	}
}

// IsCode checks if an error matches a specific error code
func IsCode(err error, code ErrorCode) bool {
	var re *Error
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}
