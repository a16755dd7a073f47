// Package compactor implements C6: keeping a Context within its model's
// token budget by partitioning history into a head, a middle region, and
// a trailing window, first evicting droppable middle messages and
// falling back to summarizing what's left of the middle when eviction
// alone isn't enough.
package compactor

import (
	"context"
	"fmt"

	"github.com/forgecore/agentcore/pkg/domain"
)

// Settings controls when and how compaction runs.
type Settings struct {
	// HeadMessages is how many messages from the start of the
	// conversation are always kept verbatim (the system/task framing).
	HeadMessages int
	// TrailingMessages is how many of the most recent messages are
	// always kept verbatim.
	TrailingMessages int
	// TriggerRatio is the fraction of MaxTokens usage that triggers
	// compaction.
	TriggerRatio float64
	// TargetRatio is the fraction of MaxTokens compaction aims to fall
	// back under.
	TargetRatio float64
}

// DefaultSettings mirror the proportions used elsewhere in the design.
func DefaultSettings() Settings {
	return Settings{
		HeadMessages:     2,
		TrailingMessages: 10,
		TriggerRatio:     0.85,
		TargetRatio:      0.6,
	}
}

// TokenCounter estimates the token cost of a Context. Implementations
// typically wrap a provider-specific tokenizer; EstimateTokenCounter
// below is a cheap chars/4 fallback for providers without one.
type TokenCounter interface {
	CountContext(ctx domain.Context) int
}

// Summarizer turns a run of middle messages into a single replacement
// entry when eviction alone doesn't bring the context under budget.
type Summarizer interface {
	Summarize(ctx context.Context, messages []domain.MessageEntry) (domain.MessageEntry, error)
}

// Compactor applies Settings to a Conversation's Context.
type Compactor struct {
	settings   Settings
	counter    TokenCounter
	summarizer Summarizer
}

// New builds a Compactor. summarizer may be nil, in which case
// compaction that still exceeds budget after eviction is left as-is:
// callers should treat persistent over-budget contexts as a provider
// error, not silently truncate further.
func New(settings Settings, counter TokenCounter, summarizer Summarizer) *Compactor {
	return &Compactor{settings: settings, counter: counter, summarizer: summarizer}
}

// Result reports what compaction did, for logging and the audit trail.
type Result struct {
	Ran              bool
	EvictedCount     int
	Summarized       bool
	TokensBefore     int
	TokensAfter      int
}

// Compact rewrites conv.Context in place if token usage exceeds
// TriggerRatio of MaxTokens, returning a Result describing what changed.
// Tool-call/tool-result pairs are never split across the eviction
// boundary: if a message being considered for eviction is a tool call
// whose result lands in the kept region (or vice versa), the pair is
// either both kept or both evicted.
func (c *Compactor) Compact(ctx context.Context, conv *domain.Conversation) (Result, error) {
	before := c.counter.CountContext(*conv.Context)
	if conv.Context.MaxTokens == nil || *conv.Context.MaxTokens <= 0 {
		return Result{TokensBefore: before, TokensAfter: before}, nil
	}
	budget := *conv.Context.MaxTokens
	if float64(before) < float64(budget)*c.settings.TriggerRatio {
		return Result{TokensBefore: before, TokensAfter: before}, nil
	}

	messages := conv.Context.Messages
	head, middle, trailing := partition(messages, c.settings.HeadMessages, c.settings.TrailingMessages)

	droppable := droppableIndices(middle)
	kept, evicted := evictUntilUnderBudget(c, *conv.Context, head, middle, trailing, droppable, budget)

	result := Result{Ran: true, EvictedCount: len(evicted), TokensBefore: before}

	newMiddle := kept
	if c.counter.CountContext(withMiddle(*conv.Context, head, newMiddle, trailing)) > int(float64(budget)*c.settings.TargetRatio) && c.summarizer != nil && len(evicted) > 0 {
		summary, err := c.summarizer.Summarize(ctx, evicted)
		if err != nil {
			return result, fmt.Errorf("compactor: summarize evicted middle: %w", err)
		}
		newMiddle = append([]domain.MessageEntry{summary}, newMiddle...)
		result.Summarized = true
	}

	conv.Context.Messages = assemble(head, newMiddle, trailing)
	result.TokensAfter = c.counter.CountContext(*conv.Context)
	return result, nil
}

// partition splits messages into head (first headN), trailing (last
// trailingN), and everything else (middle), never double-counting a
// message when the conversation is too short for both windows.
func partition(messages []domain.MessageEntry, headN, trailingN int) (head, middle, trailing []domain.MessageEntry) {
	n := len(messages)
	if headN < 0 {
		headN = 0
	}
	if trailingN < 0 {
		trailingN = 0
	}
	if headN+trailingN >= n {
		return append([]domain.MessageEntry(nil), messages...), nil, nil
	}
	head = append([]domain.MessageEntry(nil), messages[:headN]...)
	trailing = append([]domain.MessageEntry(nil), messages[n-trailingN:]...)
	middle = append([]domain.MessageEntry(nil), messages[headN:n-trailingN]...)
	return head, middle, trailing
}

func assemble(head, middle, trailing []domain.MessageEntry) []domain.MessageEntry {
	out := make([]domain.MessageEntry, 0, len(head)+len(middle)+len(trailing))
	out = append(out, head...)
	out = append(out, middle...)
	out = append(out, trailing...)
	return out
}

func withMiddle(base domain.Context, head, middle, trailing []domain.MessageEntry) domain.Context {
	clone := base
	clone.Messages = assemble(head, middle, trailing)
	return clone
}

// droppableIndices returns the indices of middle entries eligible for
// eviction, oldest first: plain text turns and tool pairs (a tool call
// and its matching result) that carry no pending approval state. The
// most recent tool result is never droppable, since a subsequent
// assistant turn may still be reasoning over it.
func droppableIndices(middle []domain.MessageEntry) []int {
	var droppable []int
	for i, entry := range middle {
		if i == len(middle)-1 {
			continue
		}
		if entry.Kind == domain.EntryText || entry.Kind == domain.EntryTool {
			droppable = append(droppable, i)
		}
	}
	return droppable
}

// evictUntilUnderBudget removes droppable middle entries oldest-first
// until the assembled context fits TargetRatio of budget or droppable
// entries run out, keeping tool-call/tool-result pairs together by
// evicting both halves of a pair in the same step.
func evictUntilUnderBudget(c *Compactor, base domain.Context, head, middle, trailing []domain.MessageEntry, droppable []int, budget int) (kept, evicted []domain.MessageEntry) {
	dropSet := make(map[int]bool, len(droppable))
	for _, idx := range droppable {
		dropSet[idx] = true
	}

	pairs := toolPairIndices(middle)

	target := int(float64(budget) * c.settings.TargetRatio)
	removed := make(map[int]bool)
	for _, idx := range droppable {
		if removed[idx] {
			continue
		}
		candidate := cloneRemoved(removed, idx)
		if pair, ok := pairs[idx]; ok {
			candidate[pair] = true
		}
		trial := assembleWithout(middle, candidate)
		if c.counter.CountContext(withMiddle(base, head, trial, trailing)) <= target {
			removed = candidate
			break
		}
		removed = candidate
	}

	for i, entry := range middle {
		if removed[i] {
			evicted = append(evicted, entry)
		} else {
			kept = append(kept, entry)
		}
	}
	return kept, evicted
}

func cloneRemoved(removed map[int]bool, add int) map[int]bool {
	out := make(map[int]bool, len(removed)+1)
	for k := range removed {
		out[k] = true
	}
	out[add] = true
	return out
}

func assembleWithout(middle []domain.MessageEntry, removed map[int]bool) []domain.MessageEntry {
	out := make([]domain.MessageEntry, 0, len(middle))
	for i, entry := range middle {
		if !removed[i] {
			out = append(out, entry)
		}
	}
	return out
}

// toolPairIndices maps a tool-result entry's index to the index of the
// assistant entry that issued the matching tool call (and vice versa) so
// eviction can treat the pair atomically.
func toolPairIndices(middle []domain.MessageEntry) map[int]int {
	callIndexByID := make(map[string]int)
	for i, entry := range middle {
		for _, call := range entry.ToolCalls {
			callIndexByID[call.CallID] = i
		}
	}
	pairs := make(map[int]int)
	for i, entry := range middle {
		if entry.Kind != domain.EntryTool || entry.CallID == "" {
			continue
		}
		if callIdx, ok := callIndexByID[entry.CallID]; ok {
			pairs[i] = callIdx
			pairs[callIdx] = i
		}
	}
	return pairs
}

// EstimateTokenCounter approximates token count as chars/4, the
// provider-agnostic fallback used when no real tokenizer is wired for
// the active model.
type EstimateTokenCounter struct{}

func (EstimateTokenCounter) CountContext(ctx domain.Context) int {
	chars := 0
	for _, m := range ctx.Messages {
		chars += len(m.Content)
		for _, call := range m.ToolCalls {
			chars += len(call.Name) + len(call.Arguments)
		}
		chars += len(m.Output.Text())
	}
	return chars / 4
}
