package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	err := New(ErrCodeOrphanSignal, "no session for surface")

	if err.Code != ErrCodeOrphanSignal {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeOrphanSignal)
	}
	if err.Message != "no session for surface" {
		t.Errorf("Message = %v", err.Message)
	}
	if err.Underlying != nil {
		t.Error("Underlying should be nil for New error")
	}
	if err.Retryable {
		t.Error("Retryable should default to false")
	}
}

func TestWrap(t *testing.T) {
	underlying := errors.New("connection refused")
	err := Wrap(underlying, ErrCodeReportTransmission, "post result")

	if err.Underlying != underlying {
		t.Error("Underlying should be preserved")
	}
	if !errors.Is(err, underlying) {
		t.Error("errors.Is should reach the underlying error")
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Error("Error string should include underlying error")
	}
}

func TestWrap_Nil(t *testing.T) {
	if err := Wrap(nil, ErrCodeInternal, "test"); err != nil {
		t.Errorf("Wrap(nil) should return nil, got %v", err)
	}
}

func TestErrorStringSortsContext(t *testing.T) {
	err := New(ErrCodeSurfaceOpen, "open failed").
		WithContext("url", "https://x/").
		WithContext("request_id", "r1")

	want := "[SURFACE_OPEN] open failed {request_id: r1, url: https://x/}"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestIsCodeWalksChain(t *testing.T) {
	inner := New(ErrCodeResolutionFailure, "redirect")
	outer := fmt.Errorf("resolve: %w", Wrap(inner, ErrCodeInternal, "wrapped"))

	if !IsCode(outer, ErrCodeResolutionFailure) {
		t.Error("IsCode should find inner code")
	}
	if !IsCode(outer, ErrCodeInternal) {
		t.Error("IsCode should find outer code")
	}
	if IsCode(outer, ErrCodeOrphanSignal) {
		t.Error("IsCode should not match absent code")
	}
	if IsCode(errors.New("plain"), ErrCodeInternal) {
		t.Error("plain errors carry no code")
	}
}

func TestGetCode(t *testing.T) {
	if got := GetCode(nil); got != "" {
		t.Errorf("GetCode(nil) = %q", got)
	}
	if got := GetCode(errors.New("plain")); got != ErrCodeInternal {
		t.Errorf("GetCode(plain) = %q", got)
	}
	if got := GetCode(New(ErrCodeStreamDecode, "bad json")); got != ErrCodeStreamDecode {
		t.Errorf("GetCode = %q", got)
	}
}

func TestIsMatchesSentinelByCode(t *testing.T) {
	sentinel := New(ErrCodeOrphanSignal, "orphan")
	err := New(ErrCodeOrphanSignal, "other message").WithContext("surface", "t1")
	if !errors.Is(err, sentinel) {
		t.Error("errors.Is should compare codes")
	}
}

func TestIsRetryable(t *testing.T) {
	err := New(ErrCodeReportTransmission, "timeout").WithRetryable(true)
	if !IsRetryable(fmt.Errorf("x: %w", err)) {
		t.Error("wrapped retryable error should be retryable")
	}
	if IsRetryable(errors.New("plain")) {
		t.Error("plain errors are not retryable")
	}
}
