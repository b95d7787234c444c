package vision_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/MrWong99/lookout/pkg/provider/vision"
)

func TestKindForStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code int
		want error
	}{
		{http.StatusOK, nil},
		{http.StatusUnauthorized, vision.ErrAuth},
		{http.StatusForbidden, vision.ErrAuth},
		{http.StatusTooManyRequests, vision.ErrRateLimited},
		{http.StatusRequestTimeout, vision.ErrTimeout},
		{http.StatusGatewayTimeout, vision.ErrTimeout},
		{http.StatusInternalServerError, vision.ErrUnavailable},
		{http.StatusBadGateway, vision.ErrUnavailable},
		{http.StatusBadRequest, vision.ErrBadResponse},
		{http.StatusNotFound, vision.ErrBadResponse},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.code), func(t *testing.T) {
			t.Parallel()
			if got := vision.KindForStatus(tt.code); got != tt.want {
				t.Errorf("KindForStatus(%d) = %v, want %v", tt.code, got, tt.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	cause := errors.New("boom")

	tests := []struct {
		name   string
		status int
		err    error
		want   error
	}{
		{"rate limited", http.StatusTooManyRequests, cause, vision.ErrRateLimited},
		{"auth", http.StatusUnauthorized, nil, vision.ErrAuth},
		{"deadline", 0, fmt.Errorf("post: %w", context.DeadlineExceeded), vision.ErrTimeout},
		{"transport", 0, cause, vision.ErrUnavailable},
		{"ok status with decode error", http.StatusOK, cause, vision.ErrBadResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := vision.Classify("moondream", "caption", tt.status, tt.err)
			if !errors.Is(err, tt.want) {
				t.Fatalf("errors.Is(%v, %v) = false", err, tt.want)
			}
			var verr *vision.Error
			if !errors.As(err, &verr) {
				t.Fatalf("expected *vision.Error, got %T", err)
			}
			if verr.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", verr.StatusCode, tt.status)
			}
			if tt.err != nil && !errors.Is(err, tt.err) {
				t.Errorf("cause %v not reachable from %v", tt.err, err)
			}
		})
	}
}

func TestClassify_CanceledIsNotAVisionError(t *testing.T) {
	t.Parallel()

	err := vision.Classify("openai", "query", 0, context.Canceled)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	var verr *vision.Error
	if errors.As(err, &verr) {
		t.Fatalf("cancellation should not be classified, got %v", verr)
	}
}

func TestClassify_KeepsExistingError(t *testing.T) {
	t.Parallel()

	orig := &vision.Error{Provider: "gemini", Op: "caption", Kind: vision.ErrAuth}
	if got := vision.Classify("other", "query", 500, orig); got != orig {
		t.Errorf("Classify re-wrapped an existing *Error: %v", got)
	}
}

func TestClassify_Nil(t *testing.T) {
	t.Parallel()

	if err := vision.Classify("x", "caption", 0, nil); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestError_Message(t *testing.T) {
	t.Parallel()

	err := &vision.Error{Provider: "moondream", Op: "query", StatusCode: 429, Kind: vision.ErrRateLimited, Err: errors.New("slow down")}
	msg := err.Error()
	for _, want := range []string{"moondream", "query", "rate limited", "429", "slow down"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q missing %q", msg, want)
		}
	}
}
