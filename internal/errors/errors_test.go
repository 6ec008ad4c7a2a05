package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestTrackerError_Error(t *testing.T) {
	err := New(ErrCategoryConfig, CodeEmptyEndpoint, "endpoint cannot be null or empty")
	expected := "[CONFIG:EMPTY_ENDPOINT] endpoint cannot be null or empty"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestTrackerError_ErrorWithCause(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := Wrap(ErrCategoryTransport, CodeRequestFailed, "post failed", cause)
	expected := "[TRANSPORT:REQUEST_FAILED] post failed: connection refused"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestTrackerError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("disk busy")
	err := Wrap(ErrCategoryStore, CodeStoreIO, "insert failed", cause)
	if !errors.Is(err, cause) {
		t.Error("Unwrap should allow errors.Is to find the cause")
	}
}

func TestTrackerError_Is(t *testing.T) {
	err1 := New(ErrCategoryStore, CodeStoreFull, "first")
	err2 := New(ErrCategoryStore, CodeStoreFull, "second")
	err3 := New(ErrCategoryStore, CodeStoreIO, "different code")

	if !errors.Is(err1, err2) {
		t.Error("errors with same category+code should match via Is")
	}
	if errors.Is(err1, err3) {
		t.Error("errors with different codes should not match via Is")
	}

	wrapped := fmt.Errorf("add: %w", err1)
	if !errors.Is(wrapped, err2) {
		t.Error("Is should see through fmt.Errorf wrapping")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		category  ErrorCategory
		code      string
		retryable bool
	}{
		{ErrCategoryStore, CodeStoreIO, true},
		{ErrCategoryStore, CodeStoreFull, false},
		{ErrCategoryStore, CodeStoreCorrupt, false},
		{ErrCategoryTransport, CodeRequestFailed, true},
		{ErrCategoryTransport, CodeBadStatus, true},
		{ErrCategoryTransport, CodeTimeout, true},
		{ErrCategoryArchive, CodeUploadFailed, true},
		{ErrCategoryArchive, CodeObjectNotFound, false},
		{ErrCategoryConfig, CodeEmptyEndpoint, false},
		{ErrCategorySession, CodePersistFailed, false},
		{ErrCategoryInternal, CodeUnexpected, false},
	}

	for _, tt := range tests {
		err := New(tt.category, tt.code, "test")
		if IsRetryable(err) != tt.retryable {
			t.Errorf("%s:%s retryable=%v, want %v", tt.category, tt.code, IsRetryable(err), tt.retryable)
		}
	}

	if IsRetryable(fmt.Errorf("plain error")) {
		t.Error("plain errors are never retryable")
	}
}

func TestGetCategory(t *testing.T) {
	err := New(ErrCategorySession, CodeLoadFailed, "bad state file")
	if GetCategory(err) != ErrCategorySession {
		t.Errorf("got %q, want %q", GetCategory(err), ErrCategorySession)
	}
	if GetCategory(fmt.Errorf("plain error")) != "" {
		t.Error("non-TrackerError should return empty category")
	}
}

func TestGetCode(t *testing.T) {
	err := New(ErrCategorySession, CodeLoadFailed, "bad state file")
	if GetCode(err) != CodeLoadFailed {
		t.Errorf("got %q, want %q", GetCode(err), CodeLoadFailed)
	}
	if GetCode(fmt.Errorf("plain error")) != "" {
		t.Error("non-TrackerError should return empty code")
	}
}

func TestWithDetails(t *testing.T) {
	err := New(ErrCategoryConfig, CodeInvalidConfig, "bad send limit")
	detailed := err.WithDetails(map[string]interface{}{"field": "send_limit"})

	if detailed.Details["field"] != "send_limit" {
		t.Error("WithDetails should set details")
	}
	// Original should be unmodified
	if err.Details != nil {
		t.Error("WithDetails should not modify original")
	}
}

func TestConvenienceConstructors(t *testing.T) {
	cause := fmt.Errorf("io error")

	c := NewConfigError(CodeEmptyEndpoint, "no endpoint")
	if c.Category != ErrCategoryConfig || c.Code != CodeEmptyEndpoint {
		t.Error("NewConfigError mismatch")
	}

	s := NewStoreError(CodeStoreIO, "write failed", cause)
	if s.Category != ErrCategoryStore || !errors.Is(s, cause) {
		t.Error("NewStoreError mismatch")
	}

	tr := NewTransportError(CodeTimeout, "deadline exceeded", cause)
	if tr.Category != ErrCategoryTransport || !tr.Retryable {
		t.Error("NewTransportError mismatch")
	}

	se := NewSessionError(CodePersistFailed, "write state", cause)
	if se.Category != ErrCategorySession {
		t.Error("NewSessionError mismatch")
	}

	a := NewArchiveError(CodeUploadFailed, "s3 down", cause)
	if a.Category != ErrCategoryArchive {
		t.Error("NewArchiveError mismatch")
	}

	i := NewInternalError("unexpected", cause)
	if i.Category != ErrCategoryInternal || i.Code != CodeUnexpected {
		t.Error("NewInternalError mismatch")
	}
}
