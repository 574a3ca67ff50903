package rdma

import (
	"errors"
	"fmt"
	"testing"

	"github.com/ehrlich-b/go-rdma/internal/fastpath"
)

func TestStructuredError(t *testing.T) {
	err := NewError("POST_WRITE", ErrCodeInvalidRange, "offset past region end")

	if err.Op != "POST_WRITE" {
		t.Errorf("Expected Op=POST_WRITE, got %s", err.Op)
	}
	if err.Code != ErrCodeInvalidRange {
		t.Errorf("Expected Code=ErrCodeInvalidRange, got %s", err.Code)
	}

	expected := "rdma: offset past region end (op=POST_WRITE)"
	if err.Error() != expected {
		t.Errorf("Expected error message %q, got %q", expected, err.Error())
	}
}

func TestFlowError(t *testing.T) {
	err := NewFlowError("BUMP", 7, ErrCodeBumpRejected, "cursor ordering violated")

	if err.FlowID != 7 {
		t.Errorf("Expected FlowID=7, got %d", err.FlowID)
	}
	if !IsCode(err, ErrCodeBumpRejected) {
		t.Error("IsCode should match ErrCodeBumpRejected")
	}
	if IsCode(err, ErrCodeQueueFull) {
		t.Error("IsCode should not match a different code")
	}
}

func TestWrapErrorMapsFastpathSentinels(t *testing.T) {
	tests := []struct {
		inner error
		code  ErrorCode
	}{
		{fmt.Errorf("wrapped: %w", fastpath.ErrBumpRejected), ErrCodeBumpRejected},
		{fmt.Errorf("wrapped: %w", fastpath.ErrProtocolViolation), ErrCodeProtocolViolation},
		{fmt.Errorf("wrapped: %w", fastpath.ErrNotImplemented), ErrCodeNotImplemented},
		{errors.New("connection reset by peer"), ErrCodeTransport},
	}

	for _, tt := range tests {
		err := WrapError("RX", 3, tt.inner)
		if err.Code != tt.code {
			t.Errorf("WrapError(%v) code = %s, want %s", tt.inner, err.Code, tt.code)
		}
		if !errors.Is(err, tt.inner) {
			t.Errorf("wrapped error should unwrap to the inner error")
		}
	}
}

func TestWrapErrorNil(t *testing.T) {
	if WrapError("OP", 0, nil) != nil {
		t.Error("WrapError(nil) should return nil")
	}
}

func TestErrorsIsByCode(t *testing.T) {
	err := NewError("CQ_POLL", ErrCodeQueueFull, "")
	target := &Error{Code: ErrCodeQueueFull}
	if !errors.Is(err, target) {
		t.Error("errors.Is should match errors with the same code")
	}
}
