package retryclass

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

type statusError struct{ code int }

func (e statusError) Error() string   { return "status error" }
func (e statusError) StatusCode() int { return e.code }

type transportErr struct{ msg string }

func (e transportErr) Error() string           { return e.msg }
func (e transportErr) IsTransportError() bool  { return true }

type timeoutNetError struct{}

func (timeoutNetError) Error() string   { return "dial tcp: i/o timeout" }
func (timeoutNetError) Timeout() bool   { return true }
func (timeoutNetError) Temporary() bool { return true }

var _ net.Error = timeoutNetError{}

func TestClassifyStatusCodeMatchingRetryList(t *testing.T) {
	if !Classify(statusError{code: 429}, DefaultConfig()) {
		t.Fatal("429 should be retryable")
	}
}

func TestClassifyStatusCodeNotInRetryList(t *testing.T) {
	if Classify(statusError{code: 404}, DefaultConfig()) {
		t.Fatal("404 should not be retryable")
	}
}

func TestClassifyTransportErrorInterface(t *testing.T) {
	if !Classify(transportErr{msg: "stream reset"}, DefaultConfig()) {
		t.Fatal("transport error should be retryable")
	}
}

func TestClassifyNetTimeout(t *testing.T) {
	if !Classify(timeoutNetError{}, DefaultConfig()) {
		t.Fatal("net timeout should be retryable")
	}
}

func TestClassifyTransportErrorCodeSubstring(t *testing.T) {
	err := errors.New("write: ECONNRESET by peer")
	if !Classify(err, DefaultConfig()) {
		t.Fatal("ECONNRESET substring should be retryable")
	}
}

func TestClassifyNestedTransportErrorCodeAtDepth(t *testing.T) {
	doc := &ErrorDocument{
		Code: "wrapper_error",
		Nested: &ErrorDocument{
			Code: "inner_error",
			Nested: &ErrorDocument{
				Code: "ETIMEDOUT",
			},
		},
	}
	if !hasTransportErrorCode(doc) {
		t.Fatal("nested transport error code at depth 3 should be found")
	}
}

func TestClassifySemanticCodeRateLimitExceeded(t *testing.T) {
	doc := &ErrorDocument{Code: "rate_limit_exceeded", Message: "slow down", HasMessage: true}
	if !Classify(wrapNested(doc), DefaultConfig()) {
		t.Fatal("rate_limit_exceeded should be retryable")
	}
}

func TestClassifySemanticCodeNotRetryable(t *testing.T) {
	doc := &ErrorDocument{Code: "invalid_request", Message: "bad params", HasMessage: true}
	if Classify(wrapNested(doc), DefaultConfig()) {
		t.Fatal("invalid_request should not be retryable")
	}
}

func TestClassifyNumericCodeAsStringInDocument(t *testing.T) {
	doc := &ErrorDocument{Code: "503", Message: "unavailable", HasMessage: true}
	if !Classify(wrapNested(doc), DefaultConfig()) {
		t.Fatal("numeric status code carried as string should be retryable")
	}
}

func TestClassifyEmptyDocumentIsRetryable(t *testing.T) {
	doc := &ErrorDocument{}
	if !Classify(wrapNested(doc), DefaultConfig()) {
		t.Fatal("structurally empty error document should be retryable")
	}
}

func TestClassifyDocumentWithOnlyMessageIsNotEmpty(t *testing.T) {
	doc := &ErrorDocument{Message: "something broke", HasMessage: true}
	if isEmptyDocument(doc) {
		t.Fatal("document with a message should not be considered empty")
	}
}

// wrapErr lets ErrorDocument (a NestedCoder) participate in errors.As by
// giving it an Error() method, mirroring how a gateway adapter would wrap
// its SDK's native error alongside the parsed document.
type wrappedDocErr struct {
	*ErrorDocument
}

func (w wrappedDocErr) Error() string { return "provider error" }

func wrapNested(doc *ErrorDocument) error {
	return wrappedDocErr{doc}
}

func TestDoStopsOnFirstSuccess(t *testing.T) {
	attempts := 0
	res := Do(context.Background(), DefaultConfig(), nil, func(ctx context.Context) error {
		attempts++
		return nil
	})
	if res.Err != nil || res.Attempts != 1 || attempts != 1 {
		t.Fatalf("expected single successful attempt, got %+v (attempts=%d)", res, attempts)
	}
}

func TestDoStopsRetryingOnNonRetryableError(t *testing.T) {
	attempts := 0
	permanent := statusError{code: 400}
	res := Do(context.Background(), DefaultConfig(), nil, func(ctx context.Context) error {
		attempts++
		return permanent
	})
	if attempts != 1 {
		t.Fatalf("non-retryable error should not be retried, got %d attempts", attempts)
	}
	if res.Err != permanent {
		t.Fatalf("expected permanent error returned, got %v", res.Err)
	}
}

func TestDoNeverExceedsMaxAttempts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxAttempts = 3
	cfg.InitialDelay = time.Millisecond
	cfg.MaxDelay = 2 * time.Millisecond
	attempts := 0
	res := Do(context.Background(), cfg, nil, func(ctx context.Context) error {
		attempts++
		return statusError{code: 503}
	})
	if attempts != 3 || res.Attempts != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d (result %+v)", attempts, res)
	}
}

func TestDoHonorsCancellation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxAttempts = 5
	cfg.InitialDelay = 50 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	res := Do(ctx, cfg, func(RetryEvent) {
		cancel()
	}, func(ctx context.Context) error {
		attempts++
		return statusError{code: 503}
	})
	if !errors.Is(res.Err, context.Canceled) {
		t.Fatalf("expected cancellation to stop the retry loop, got %v", res.Err)
	}
	if attempts >= 5 {
		t.Fatalf("cancellation should have cut the loop short, got %d attempts", attempts)
	}
}
