// Package vision defines the Provider interface for image understanding
// backends.
//
// A vision provider answers questions about a single still image: a short
// caption of the whole scene or a free-form answer to a question. Lookout uses
// it from the describe_scene and locate_least_crowded_area tools with the most
// recent camera snapshot.
//
// Failures are reported as *Error values whose Kind is one of the sentinel
// errors below, so callers can branch with errors.Is without knowing which
// backend produced them:
//
//	if errors.Is(err, vision.ErrRateLimited) { ... }
//
// Implementations must be safe for concurrent use.
package vision

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/MrWong99/lookout/pkg/types"
)

// CaptionLength selects how verbose a caption should be.
type CaptionLength string

const (
	// CaptionShort asks for a one-sentence caption.
	CaptionShort CaptionLength = "short"

	// CaptionNormal asks for a paragraph-length caption.
	CaptionNormal CaptionLength = "normal"
)

// Provider is the abstraction over any vision-language backend.
type Provider interface {
	// Caption describes the whole image.
	Caption(ctx context.Context, img types.Image, length CaptionLength) (string, error)

	// Query answers question about the image.
	Query(ctx context.Context, img types.Image, question string) (string, error)

	// Name identifies the backend in logs and metrics (e.g. "moondream").
	Name() string
}

// Error kinds. Every *Error carries exactly one of these as its Kind.
var (
	// ErrAuth means the backend rejected the credentials (HTTP 401/403).
	ErrAuth = errors.New("vision: authentication failed")

	// ErrRateLimited means the backend throttled the request (HTTP 429).
	ErrRateLimited = errors.New("vision: rate limited")

	// ErrTimeout means the request deadline passed before the backend answered.
	ErrTimeout = errors.New("vision: timeout")

	// ErrUnavailable covers transport failures and 5xx responses.
	ErrUnavailable = errors.New("vision: backend unavailable")

	// ErrBadResponse means the backend answered with something unusable: an
	// unexpected status, an undecodable body or an empty result.
	ErrBadResponse = errors.New("vision: bad response")
)

// Error is a classified vision backend failure.
type Error struct {
	// Provider is the backend name, Op is "caption" or "query".
	Provider string
	Op       string

	// StatusCode is the HTTP status when the backend answered, otherwise 0.
	StatusCode int

	// Kind is one of the package sentinel errors.
	Kind error

	// Err is the underlying cause, may be nil.
	Err error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("vision %s: %s: %v", e.Provider, e.Op, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// KindForStatus maps an HTTP status code to an error kind. It returns nil for
// 2xx codes.
func KindForStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return ErrAuth
	case code == http.StatusTooManyRequests:
		return ErrRateLimited
	case code == http.StatusRequestTimeout, code == http.StatusGatewayTimeout:
		return ErrTimeout
	case code >= 500:
		return ErrUnavailable
	default:
		return ErrBadResponse
	}
}

// Classify wraps err into an *Error for provider and op. status is the HTTP
// status of the response, or 0 when no response was received.
//
// Cancellation is returned as a plain wrapped error rather than a vision
// failure: the caller gave up, the backend did nothing wrong. An err that is
// already an *Error is returned unchanged.
func Classify(provider, op string, status int, err error) error {
	if err == nil && status == 0 {
		return nil
	}
	var verr *Error
	if errors.As(err, &verr) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("vision %s: %s: %w", provider, op, err)
	}

	kind := ErrUnavailable
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = ErrTimeout
	case status != 0:
		if k := KindForStatus(status); k != nil {
			kind = k
		} else {
			kind = ErrBadResponse
		}
	}
	return &Error{Provider: provider, Op: op, StatusCode: status, Kind: kind, Err: err}
}
