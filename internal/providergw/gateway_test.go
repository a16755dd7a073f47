package providergw

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/forgecore/agentcore/pkg/domain"
)

// fakeProvider streams a fixed sequence of chunks, optionally erroring
// before or after the first one, to exercise Router's failover rules.
type fakeProvider struct {
	name        string
	chunks      []Chunk
	errAfter    error // returned after chunks are drained
	errBefore   bool  // if true, errAfter is sent with zero chunks delivered
	callCount   *int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Stream(ctx context.Context, reqCtx domain.Context) (<-chan Chunk, <-chan error) {
	if f.callCount != nil {
		*f.callCount++
	}
	out := make(chan Chunk, len(f.chunks))
	errs := make(chan error, 1)

	if f.errBefore {
		errs <- f.errAfter
		close(out)
		close(errs)
		return out, errs
	}

	for _, c := range f.chunks {
		out <- c
	}
	close(out)
	if f.errAfter != nil {
		errs <- f.errAfter
	}
	close(errs)
	return out, errs
}

func drain(out <-chan Chunk, errs <-chan error) ([]Chunk, error) {
	var chunks []Chunk
	var streamErr error
	for out != nil || errs != nil {
		select {
		case c, ok := <-out:
			if !ok {
				out = nil
				continue
			}
			chunks = append(chunks, c)
		case e, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if e != nil {
				streamErr = e
			}
		}
	}
	return chunks, streamErr
}

func TestRouterUsesPrimaryWhenHealthy(t *testing.T) {
	primary := &fakeProvider{name: "primary", chunks: []Chunk{{Kind: ChunkText, Text: "hi"}}}
	router := NewRouter(DefaultCircuitConfig(), primary)

	out, errs := router.Stream(context.Background(), domain.Context{})
	chunks, err := drain(out, errs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 1 || chunks[0].Text != "hi" {
		t.Fatalf("unexpected chunks: %+v", chunks)
	}
}

func TestRouterFailsOverWhenPrimaryErrorsBeforeDelivery(t *testing.T) {
	primary := &fakeProvider{name: "primary", errBefore: true, errAfter: errors.New("boom")}
	secondary := &fakeProvider{name: "secondary", chunks: []Chunk{{Kind: ChunkText, Text: "fallback"}}}
	router := NewRouter(DefaultCircuitConfig(), primary, secondary)

	out, errs := router.Stream(context.Background(), domain.Context{})
	chunks, err := drain(out, errs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 1 || chunks[0].Text != "fallback" {
		t.Fatalf("expected failover to secondary, got %+v", chunks)
	}
}

func TestRouterDoesNotFailoverAfterPartialDelivery(t *testing.T) {
	primary := &fakeProvider{name: "primary", chunks: []Chunk{{Kind: ChunkText, Text: "partial"}}, errAfter: errors.New("mid-stream break")}
	secondary := &fakeProvider{name: "secondary", chunks: []Chunk{{Kind: ChunkText, Text: "should not be used"}}}
	router := NewRouter(DefaultCircuitConfig(), primary, secondary)

	out, errs := router.Stream(context.Background(), domain.Context{})
	chunks, err := drain(out, errs)
	if err == nil {
		t.Fatalf("expected mid-stream error to surface, got none (chunks=%+v)", chunks)
	}
	if len(chunks) != 1 || chunks[0].Text != "partial" {
		t.Fatalf("expected only the partial chunk delivered, got %+v", chunks)
	}
}

func TestRouterOpensCircuitAfterRepeatedFailures(t *testing.T) {
	calls := 0
	primary := &fakeProvider{name: "primary", errBefore: true, errAfter: errors.New("down"), callCount: &calls}
	secondary := &fakeProvider{name: "secondary", chunks: []Chunk{{Kind: ChunkText, Text: "ok"}}}
	cfg := CircuitConfig{FailureThreshold: 2, OpenDuration: time.Hour}
	router := NewRouter(cfg, primary, secondary)

	for i := 0; i < 2; i++ {
		out, errs := router.Stream(context.Background(), domain.Context{})
		drain(out, errs)
	}
	if calls != 2 {
		t.Fatalf("expected primary called twice before circuit opens, got %d", calls)
	}

	out, errs := router.Stream(context.Background(), domain.Context{})
	chunks, err := drain(out, errs)
	if err != nil {
		t.Fatalf("unexpected error once circuit is open: %v", err)
	}
	if len(chunks) != 1 || chunks[0].Text != "ok" {
		t.Fatalf("expected request to skip open-circuit primary, got %+v", chunks)
	}
	if calls != 2 {
		t.Fatalf("expected primary not called again while circuit is open, got %d calls", calls)
	}
}

func TestRouterAllProvidersUnavailableReturnsSentinelError(t *testing.T) {
	router := NewRouter(DefaultCircuitConfig())
	out, errs := router.Stream(context.Background(), domain.Context{})
	_, err := drain(out, errs)
	if !errors.Is(err, ErrAllProvidersUnavailable) {
		t.Fatalf("expected ErrAllProvidersUnavailable, got %v", err)
	}
}
