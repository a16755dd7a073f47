// Package retryclass classifies Provider Gateway errors (C7 in the design)
// as retryable or not, and wraps an operation with exponential backoff.
//
// Classification is grounded on three independent signals: an HTTP-style
// status code, a transport-level failure (timeout, reset, premature close),
// or a known-retryable semantic error code. A response body with none of
// message/code/nested-error present is treated as empty and retryable —
// providers sometimes fail open with a blank body under load.
package retryclass

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net"
	"strconv"
	"strings"
	"time"
)

// transportErrorCodes mirrors the substrings the original implementation
// checks for on nested provider error codes.
var transportErrorCodes = [...]string{"ERR_STREAM_PREMATURE_CLOSE", "ECONNRESET", "ETIMEDOUT"}

// retryableSemanticCodes are provider-reported error codes that are
// retryable regardless of HTTP status.
var retryableSemanticCodes = map[string]bool{
	"rate_limit_exceeded": true,
	"server_error":        true,
	"timeout":             true,
	"overloaded":          true,
}

// Config controls which statuses are retryable and the backoff shape.
type Config struct {
	MaxAttempts      int
	RetryStatusCodes []int
	InitialDelay     time.Duration
	MaxDelay         time.Duration
}

// DefaultConfig matches the defaults named in the design (429/500/502/503/504).
func DefaultConfig() Config {
	return Config{
		MaxAttempts:      3,
		RetryStatusCodes: []int{429, 500, 502, 503, 504},
		InitialDelay:     500 * time.Millisecond,
		MaxDelay:         20 * time.Second,
	}
}

func (c Config) hasStatus(code int) bool {
	for _, s := range c.RetryStatusCodes {
		if s == code {
			return true
		}
	}
	return false
}

// StatusCoder is implemented by provider errors that carry an HTTP-style
// status code (e.g. a non-2xx response).
type StatusCoder interface {
	StatusCode() int
}

// NestedCoder is implemented by provider errors whose body carries a
// structured error document: a code, a message, and optionally a nested
// cause. ErrorDocument below is the canonical implementation, but gateway
// adapters may wrap their SDK's native error type to satisfy this
// interface directly instead of translating into ErrorDocument.
type NestedCoder interface {
	ErrorCode() (string, bool)
	ErrorMessage() (string, bool)
	NestedError() (NestedCoder, bool)
}

// ErrorDocument is a concrete, provider-agnostic error body shape used by
// the bundled Provider Gateway adapters (§4.2) to report structured
// failures up through the classifier.
type ErrorDocument struct {
	Code    any // string or number, per the wire format
	Message string
	HasMessage bool
	Nested  *ErrorDocument
}

func (d *ErrorDocument) ErrorCode() (string, bool) {
	if d == nil || d.Code == nil {
		return "", false
	}
	switch v := d.Code.(type) {
	case string:
		return v, true
	case int:
		return strconv.Itoa(v), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	default:
		return "", false
	}
}

func (d *ErrorDocument) ErrorMessage() (string, bool) {
	if d == nil {
		return "", false
	}
	return d.Message, d.HasMessage
}

func (d *ErrorDocument) NestedError() (NestedCoder, bool) {
	if d == nil || d.Nested == nil {
		return nil, false
	}
	return d.Nested, true
}

func (d *ErrorDocument) numericCode() (int, bool) {
	code, ok := d.ErrorCode()
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(code)
	if err != nil {
		return 0, false
	}
	return n, true
}

// TransportError is implemented by errors the classifier should always
// treat as retryable transport failures (timeouts, resets, premature
// stream closes) regardless of status code.
type TransportError interface {
	IsTransportError() bool
}

// Classify reports whether err should be retried under cfg. It walks a
// NestedCoder to any depth looking for a transport-error code, checks for
// a status code against cfg.RetryStatusCodes, checks for known-retryable
// semantic codes, checks stdlib transport error shapes (net.Error,
// context.DeadlineExceeded), and finally treats a structurally empty
// error document as retryable.
func Classify(err error, cfg Config) bool {
	if err == nil {
		return false
	}

	var sc StatusCoder
	if errors.As(err, &sc) && cfg.hasStatus(sc.StatusCode()) {
		return true
	}

	var te TransportError
	if errors.As(err, &te) && te.IsTransportError() {
		return true
	}

	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, code := range transportErrorCodes {
		if strings.Contains(err.Error(), code) {
			return true
		}
	}
	if strings.Contains(msg, "connection reset") || strings.Contains(msg, "econnreset") {
		return true
	}

	var nc NestedCoder
	if errors.As(err, &nc) {
		if hasTransportErrorCode(nc) {
			return true
		}
		if code, ok := firstErrorCode(nc); ok {
			if retryableSemanticCodes[code] {
				return true
			}
			if n, convErr := strconv.Atoi(code); convErr == nil && cfg.hasStatus(n) {
				return true
			}
		}
		if isEmptyDocument(nc) {
			return true
		}
	}

	return false
}

// hasTransportErrorCode recursively walks a NestedCoder looking for a
// transport-error code at any depth.
func hasTransportErrorCode(nc NestedCoder) bool {
	if nc == nil {
		return false
	}
	if code, ok := nc.ErrorCode(); ok {
		for _, t := range transportErrorCodes {
			if code == t {
				return true
			}
		}
	}
	if nested, ok := nc.NestedError(); ok {
		return hasTransportErrorCode(nested)
	}
	return false
}

func firstErrorCode(nc NestedCoder) (string, bool) {
	if nc == nil {
		return "", false
	}
	if code, ok := nc.ErrorCode(); ok {
		return code, true
	}
	if nested, ok := nc.NestedError(); ok {
		return firstErrorCode(nested)
	}
	return "", false
}

// isEmptyDocument reports whether the top-level document carries no
// message, no code, and no nested error — a structurally empty body.
func isEmptyDocument(nc NestedCoder) bool {
	if nc == nil {
		return false
	}
	_, hasMsg := nc.ErrorMessage()
	_, hasCode := nc.ErrorCode()
	_, hasNested := nc.NestedError()
	return !hasMsg && !hasCode && !hasNested
}

// Result carries the outcome of a Do invocation.
type Result struct {
	Attempts int
	Err      error
}

// RetryEvent is emitted once per retried attempt, before sleeping.
type RetryEvent struct {
	Attempt  int
	Err      error
	Delay    time.Duration
}

// Do executes op, retrying while Classify(err, cfg) is true, up to
// cfg.MaxAttempts (invariant 8: retry count never exceeds MaxAttempts).
// onRetry, if non-nil, is invoked before each backoff sleep.
func Do(ctx context.Context, cfg Config, onRetry func(RetryEvent), op func(ctx context.Context) error) Result {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 500 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 20 * time.Second
	}

	var lastErr error
	delay := cfg.InitialDelay
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return Result{Attempts: attempt - 1, Err: ctx.Err()}
		}
		err := op(ctx)
		if err == nil {
			return Result{Attempts: attempt, Err: nil}
		}
		lastErr = err
		if attempt >= cfg.MaxAttempts || !Classify(err, cfg) {
			return Result{Attempts: attempt, Err: lastErr}
		}

		sleep := jittered(delay)
		if onRetry != nil {
			onRetry(RetryEvent{Attempt: attempt, Err: err, Delay: sleep})
		}
		select {
		case <-ctx.Done():
			return Result{Attempts: attempt, Err: ctx.Err()}
		case <-time.After(sleep):
		}
		delay = time.Duration(float64(delay) * 2)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
	return Result{Attempts: cfg.MaxAttempts, Err: lastErr}
}

func jittered(d time.Duration) time.Duration {
	factor := 0.5 + rand.Float64() // #nosec G404 -- jitter, not security sensitive
	return time.Duration(math.Min(float64(d)*factor, float64(d)*1.5))
}
