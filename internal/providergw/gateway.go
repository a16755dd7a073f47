// Package providergw is the Provider Gateway (C2): a uniform streaming
// interface over heterogeneous model SDKs, plus a Router that fans a
// request out across a primary and its fallbacks with per-provider
// circuit breaking.
package providergw

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/forgecore/agentcore/pkg/domain"
)

// ChunkKind discriminates a streamed Chunk.
type ChunkKind string

const (
	ChunkText      ChunkKind = "text"
	ChunkToolPart  ChunkKind = "tool_part"
	ChunkReasoning ChunkKind = "reasoning"
	ChunkUsage     ChunkKind = "usage"
	ChunkDone      ChunkKind = "done"
)

// Chunk is one unit of a streamed completion. Exactly one of the
// kind-specific fields is populated, matching Kind.
type Chunk struct {
	Kind      ChunkKind
	Text      string
	ToolPart  domain.ToolCallPart
	Reasoning domain.ReasoningPart
	Usage     domain.Usage
}

// Provider adapts one model SDK to the gateway's streaming contract.
// Implementations live one per vendor (see anthropic.go and siblings);
// each translates domain.Context into that vendor's wire request and
// its response stream into Chunks.
type Provider interface {
	Name() string
	Stream(ctx context.Context, reqCtx domain.Context) (<-chan Chunk, <-chan error)
}

// ErrAllProvidersUnavailable is returned when every provider in a
// Router's list has its circuit open.
var ErrAllProvidersUnavailable = errors.New("providergw: all providers unavailable")

// CircuitConfig tunes the Router's per-provider circuit breaker.
type CircuitConfig struct {
	FailureThreshold int
	OpenDuration     time.Duration
}

// DefaultCircuitConfig opens a provider's circuit after 3 consecutive
// failures and retries it after 30s.
func DefaultCircuitConfig() CircuitConfig {
	return CircuitConfig{FailureThreshold: 3, OpenDuration: 30 * time.Second}
}

type providerState struct {
	consecutiveFailures int
	openedAt            time.Time
}

func (s *providerState) available(cfg CircuitConfig) bool {
	if s.consecutiveFailures < cfg.FailureThreshold {
		return true
	}
	return time.Since(s.openedAt) > cfg.OpenDuration
}

// Router holds an ordered list of providers (primary first) and streams
// from the first available one, advancing to the next on a failed
// Stream call or an error arriving before any chunk is seen. A failure
// after chunks have already been delivered to the caller is NOT
// failed over — partial output has already left the gateway, so retrying
// would duplicate it; that case surfaces as a stream error instead.
type Router struct {
	mu        sync.Mutex
	providers []Provider
	states    map[string]*providerState
	cfg       CircuitConfig
}

// NewRouter builds a Router over providers in priority order.
func NewRouter(cfg CircuitConfig, providers ...Provider) *Router {
	return &Router{
		providers: providers,
		states:    make(map[string]*providerState),
		cfg:       cfg,
	}
}

func (r *Router) stateFor(name string) *providerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.states[name]
	if !ok {
		s = &providerState{}
		r.states[name] = s
	}
	return s
}

func (r *Router) recordFailure(name string) {
	s := r.stateFor(name)
	r.mu.Lock()
	s.consecutiveFailures++
	if s.consecutiveFailures >= r.cfg.FailureThreshold {
		s.openedAt = time.Now()
	}
	r.mu.Unlock()
}

func (r *Router) recordSuccess(name string) {
	s := r.stateFor(name)
	r.mu.Lock()
	s.consecutiveFailures = 0
	r.mu.Unlock()
}

// attemptOutcome reports how one provider's stream attempt ended.
type attemptOutcome struct {
	// failedBeforeDelivery is true when the provider errored without
	// emitting any chunk, making the attempt safe to fail over from.
	failedBeforeDelivery bool
	err                   error
}

// runAttempt drains one provider's stream into out, forwarding every
// chunk as it arrives. It returns once the provider's channels close or
// ctx is canceled.
func runAttempt(ctx context.Context, chunks <-chan Chunk, perr <-chan error, out chan<- Chunk) attemptOutcome {
	delivered := false
	for chunks != nil || perr != nil {
		select {
		case <-ctx.Done():
			return attemptOutcome{err: ctx.Err()}
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			delivered = true
			out <- chunk
		case err, ok := <-perr:
			if !ok {
				perr = nil
				continue
			}
			if err == nil {
				continue
			}
			return attemptOutcome{failedBeforeDelivery: !delivered, err: err}
		}
	}
	return attemptOutcome{}
}

// Stream tries each available provider in order, forwarding chunks from
// the first one that either succeeds outright or fails only after it has
// already delivered output (a mid-stream failure is not retried, since
// partial output has already left the gateway).
func (r *Router) Stream(ctx context.Context, reqCtx domain.Context) (<-chan Chunk, <-chan error) {
	out := make(chan Chunk)
	errs := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errs)

		var lastErr error
		for _, p := range r.providers {
			state := r.stateFor(p.Name())
			if !state.available(r.cfg) {
				continue
			}

			chunks, perr := p.Stream(ctx, reqCtx)
			outcome := runAttempt(ctx, chunks, perr, out)

			if outcome.err == nil {
				r.recordSuccess(p.Name())
				return
			}
			if !outcome.failedBeforeDelivery {
				errs <- outcome.err
				return
			}
			r.recordFailure(p.Name())
			lastErr = outcome.err
		}

		if lastErr == nil {
			lastErr = ErrAllProvidersUnavailable
		}
		errs <- lastErr
	}()

	return out, errs
}
