package errors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name         string
		code         ErrorCode
		message      string
		wantCategory ErrorCategory
	}{
		{"timeout", ErrCodeTimeout, "operation timed out", CategoryTransient},
		{"not_found", ErrCodeNotFound, "resource not found", CategoryPermanent},
		{"rate_limit", ErrCodeRateLimit, "too many requests", CategoryResource},
		{"internal", ErrCodeInternal, "internal error", CategoryInternal},
		{"source_unavailable", ErrCodeSourceUnavailable, "source down", CategoryTransient},
		{"config_invalid", ErrCodeConfigInvalid, "bad rule", CategoryPermanent},
		{"query_rejected", ErrCodeQueryRejected, "mutating query", CategoryPermanent},
		{"store_failure", ErrCodeStoreFailure, "write failed", CategoryTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, tt.message)
			if err.Code() != tt.code {
				t.Errorf("Code() = %v, want %v", err.Code(), tt.code)
			}
			if err.Category() != tt.wantCategory {
				t.Errorf("Category() = %v, want %v", err.Category(), tt.wantCategory)
			}
			if err.Error() != tt.message {
				t.Errorf("Error() = %v, want %v", err.Error(), tt.message)
			}
			if err.Timestamp().IsZero() {
				t.Error("Timestamp() should not be zero")
			}
		})
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name      string
		code      ErrorCode
		wantRetry bool
	}{
		{"timeout is retryable", ErrCodeTimeout, true},
		{"source_unavailable is retryable", ErrCodeSourceUnavailable, true},
		{"store_failure is retryable", ErrCodeStoreFailure, true},
		{"config_invalid is not retryable", ErrCodeConfigInvalid, false},
		{"query_rejected is not retryable", ErrCodeQueryRejected, false},
		{"canceled is not retryable", ErrCodeCanceled, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, "msg")
			if err.Retryable() != tt.wantRetry {
				t.Errorf("Retryable() = %v, want %v", err.Retryable(), tt.wantRetry)
			}
		})
	}
}

func TestRetryableOverride(t *testing.T) {
	err := New(ErrCodeTimeout, "msg", WithRetryable(false))
	if err.Retryable() {
		t.Error("explicit WithRetryable(false) should win over category default")
	}
}

func TestConstructors(t *testing.T) {
	cause := fmt.Errorf("connection refused")

	src := SourceUnavailable("keyword", cause)
	if src.Code() != ErrCodeSourceUnavailable {
		t.Errorf("Code() = %v", src.Code())
	}
	if src.SourceTag() != "keyword" {
		t.Errorf("SourceTag() = %q, want keyword", src.SourceTag())
	}
	if !errors.Is(src, cause) {
		t.Error("cause should be in the chain")
	}

	st := StoreFailure("sess-1", cause)
	if st.SessionID() != "sess-1" {
		t.Errorf("SessionID() = %q, want sess-1", st.SessionID())
	}
	if !st.Retryable() {
		t.Error("store failure should be retryable")
	}

	q := QueryRejected("contains DROP")
	if q.Retryable() {
		t.Error("rejected query should not be retryable")
	}
}

func TestWrapPreservesProperties(t *testing.T) {
	inner := New(ErrCodeSourceUnavailable, "semantic source down",
		WithSourceTag("semantic"), WithMetadata("collection", "docs"))

	wrapped := Wrap(inner, "retrieval fan-out")
	if wrapped.Code() != ErrCodeSourceUnavailable {
		t.Errorf("Code() = %v, want SOURCE_UNAVAILABLE", wrapped.Code())
	}
	if wrapped.SourceTag() != "semantic" {
		t.Errorf("SourceTag() = %q, want semantic", wrapped.SourceTag())
	}
	if wrapped.Metadata()["collection"] != "docs" {
		t.Error("metadata should be preserved through Wrap")
	}
	if !errors.Is(wrapped, inner) {
		t.Error("inner error should be in the chain")
	}
}

func TestWrapContextErrors(t *testing.T) {
	if got := Wrap(context.DeadlineExceeded, "retrieve"); got.Code() != ErrCodeTimeout {
		t.Errorf("deadline wrap Code() = %v, want TIMEOUT", got.Code())
	}
	if got := Wrap(context.Canceled, "retrieve"); got.Code() != ErrCodeCanceled {
		t.Errorf("cancel wrap Code() = %v, want CANCELED", got.Code())
	}
	if got := Wrap(nil, "noop"); got != nil {
		t.Error("Wrap(nil) should return nil")
	}
}

func TestIs(t *testing.T) {
	err := StoreFailure("sess-9", fmt.Errorf("io error"))
	wrapped := Wrap(err, "saving turn")

	if !Is(wrapped, ErrCodeStoreFailure) {
		t.Error("Is() should find STORE_FAILURE through the chain")
	}
	if Is(wrapped, ErrCodeTimeout) {
		t.Error("Is() should not match a different code")
	}
	if Is(fmt.Errorf("plain"), ErrCodeTimeout) {
		t.Error("Is() should be false for plain errors")
	}
}

func TestJSONRoundTrip(t *testing.T) {
	orig := SourceUnavailable("structured", fmt.Errorf("db locked"),
		WithMetadata("statement", "SELECT"), WithSessionID("sess-3"))

	data, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded Error
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if decoded.Code() != orig.Code() {
		t.Errorf("Code() = %v, want %v", decoded.Code(), orig.Code())
	}
	if decoded.SourceTag() != "structured" {
		t.Errorf("SourceTag() = %q, want structured", decoded.SourceTag())
	}
	if decoded.SessionID() != "sess-3" {
		t.Errorf("SessionID() = %q, want sess-3", decoded.SessionID())
	}
	if decoded.Retryable() != orig.Retryable() {
		t.Error("retryable flag should survive the round trip")
	}
}
