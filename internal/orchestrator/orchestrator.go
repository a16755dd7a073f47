// Package orchestrator is the Orchestrator (C3): it drives the per-turn
// loop that renders a prompt, streams a completion through the Provider
// Gateway, assembles the resulting tool calls, dispatches them through the
// Tool Executor, and decides whether to continue or end the turn.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/forgecore/agentcore/internal/compactor"
	"github.com/forgecore/agentcore/internal/convstore"
	"github.com/forgecore/agentcore/internal/providergw"
	"github.com/forgecore/agentcore/internal/retryclass"
	"github.com/forgecore/agentcore/internal/toolexec"
	"github.com/forgecore/agentcore/pkg/domain"
)

// completionToolName is the tool whose invocation ends a turn successfully.
const completionToolName domain.ToolName = "attempt_completion"

// interruptToolName asks the user a question and suspends the loop for a
// human response rather than continuing automatically.
const interruptToolName domain.ToolName = "followup"

// maxEmptyToolCallRounds bounds how many consecutive completions with no
// tool call are tolerated before the turn is forced to terminate.
const maxEmptyToolCallRounds = 3

// maxTurnIterations is a generous safety cap on completion/tool-dispatch
// rounds within a single turn, independent of the empty-call budget above.
const maxTurnIterations = 50

// ErrUnknownConversation is returned when RunTurn is asked to drive a
// conversation the Conversation Store has no record of.
var ErrUnknownConversation = errors.New("orchestrator: unknown conversation")

// AgentSpec configures one agent's prompt templates, tool set, and
// compaction behavior.
type AgentSpec struct {
	ID                   domain.AgentID
	SystemPromptTemplate string
	UserPromptTemplate   string
	ToolSupported        bool
	CompactThreshold     int
	CustomRules          string
	Env                  map[string]string
}

// Event is the inbound stimulus that starts or continues a turn.
type Event struct {
	Text              string
	Attachments       []Attachment
	AdditionalContext string
}

// Attachment carries either inline text or image bytes to fold into the
// user prompt.
type Attachment struct {
	Text           string
	ImageData      []byte
	ImageMediaType string
}

// ChunkKind discriminates a TurnChunk emitted on the Orchestrator's output
// stream.
type ChunkKind string

const (
	ChunkText          ChunkKind = "text"
	ChunkReasoning     ChunkKind = "reasoning"
	ChunkToolCallStart ChunkKind = "tool_call_start"
	ChunkToolCallEnd   ChunkKind = "tool_call_end"
	ChunkAwaitingInput ChunkKind = "awaiting_input"
	ChunkDone          ChunkKind = "done"
)

// TurnChunk is one unit of the Orchestrator's output stream.
type TurnChunk struct {
	Kind     ChunkKind
	Text     string
	ToolCall domain.ToolCall
	Result   toolexec.CallResult
}

// TurnOutcome is the terminal state of a turn, reported as the final value
// alongside channel closure.
type TurnOutcome string

const (
	OutcomeEndTurn                 TurnOutcome = "end_turn"
	OutcomeAwaitingInput           TurnOutcome = "awaiting_input"
	OutcomeCancelled               TurnOutcome = "cancelled"
	OutcomeEmptyCallBudgetExceeded TurnOutcome = "empty_call_budget_exceeded"
	OutcomeMaxIterations           TurnOutcome = "max_iterations"
	OutcomeFailed                  TurnOutcome = "failed"
)

// Orchestrator wires together the Conversation Store, Provider Gateway,
// Tool Executor, Compactor, and Retry Classifier into the per-turn loop.
type Orchestrator struct {
	store     convstore.Store
	provider  providergw.Provider
	executor  *toolexec.Executor
	compactor *compactor.Compactor
	retryCfg  retryclass.Config
	prompts   *promptEngine
}

// New builds an Orchestrator. provider is typically a *providergw.Router,
// which itself satisfies providergw.Provider.
func New(store convstore.Store, provider providergw.Provider, executor *toolexec.Executor, comp *compactor.Compactor) *Orchestrator {
	return &Orchestrator{
		store:     store,
		provider:  provider,
		executor:  executor,
		compactor: comp,
		retryCfg:  retryclass.DefaultConfig(),
		prompts:   newPromptEngine(),
	}
}

// WithRetryConfig overrides the default retry/backoff configuration used
// when streaming completions.
func (o *Orchestrator) WithRetryConfig(cfg retryclass.Config) *Orchestrator {
	o.retryCfg = cfg
	return o
}

// turnState tracks progress through one call to RunTurn.
type turnState struct {
	conv            *domain.Conversation
	emptyToolCalls  int
	iteration       int
	resumedExisting bool
}

// RunTurn drives one turn of conversation convID, emitting TurnChunks on
// the returned channel until the turn ends, is cancelled, or fails. The
// outcome channel receives exactly one TurnOutcome before both channels
// close.
func (o *Orchestrator) RunTurn(ctx context.Context, agent AgentSpec, convID domain.ConversationID, event Event) (<-chan TurnChunk, <-chan TurnOutcome, error) {
	conv, err := o.store.Get(ctx, convID)
	if err != nil {
		if errors.Is(err, convstore.ErrNotFound) {
			return nil, nil, ErrUnknownConversation
		}
		return nil, nil, fmt.Errorf("orchestrator: load conversation: %w", err)
	}

	chunks := make(chan TurnChunk, 16)
	outcomes := make(chan TurnOutcome, 1)

	state := &turnState{conv: conv, resumedExisting: hasUserMessage(conv)}
	if err := o.assemblePrompt(agent, state, event); err != nil {
		close(chunks)
		outcomes <- OutcomeFailed
		close(outcomes)
		return chunks, outcomes, nil
	}

	go o.run(ctx, agent, state, chunks, outcomes)
	return chunks, outcomes, nil
}

func hasUserMessage(conv *domain.Conversation) bool {
	if conv.Context == nil {
		return false
	}
	for _, m := range conv.Context.Messages {
		if m.Kind == domain.EntryText && m.Role == domain.RoleUser {
			return true
		}
	}
	return false
}

func (o *Orchestrator) run(ctx context.Context, agent AgentSpec, state *turnState, chunks chan<- TurnChunk, outcomes chan<- TurnOutcome) {
	defer close(chunks)
	defer close(outcomes)

	outcome := o.loop(ctx, agent, state, chunks)
	outcomes <- outcome

	state.conv.UpdatedAt = time.Now()
	_ = o.store.Update(context.Background(), state.conv)
}

func (o *Orchestrator) loop(ctx context.Context, agent AgentSpec, state *turnState, chunks chan<- TurnChunk) TurnOutcome {
	for state.iteration < maxTurnIterations {
		if err := ctx.Err(); err != nil {
			return OutcomeCancelled
		}
		state.iteration++

		content, reasoning, toolCalls, usage, err := o.streamCompletion(ctx, agent, state, chunks)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return OutcomeCancelled
			}
			return OutcomeFailed
		}

		if !agent.ToolSupported {
			truncated, fallbackCalls, found := extractFallbackToolCalls(content)
			if found {
				content = truncated
				toolCalls = fallbackCalls
			}
		}

		assistant := domain.MessageEntry{
			Kind:             domain.EntryText,
			Role:             domain.RoleAssistant,
			Content:          content,
			ToolCalls:        toolCalls,
			ReasoningDetails: reasoning,
			Usage:            usage,
		}
		appendMessage(state.conv, assistant)

		o.maybeCompact(ctx, agent, state, usage)

		if len(toolCalls) == 0 {
			state.emptyToolCalls++
			if state.emptyToolCalls >= maxEmptyToolCallRounds {
				return OutcomeEmptyCallBudgetExceeded
			}
			appendMessage(state.conv, domain.NewTextEntry(domain.RoleUser, defaultContinuationPrompt()))
			continue
		}
		state.emptyToolCalls = 0

		results, err := o.executor.ExecuteSequentially(toolexec.WithConversation(ctx, state.conv), toolCalls)
		for _, r := range results {
			chunks <- TurnChunk{Kind: ChunkToolCallStart, ToolCall: r.Call}
			appendMessage(state.conv, domain.NewToolEntry(r.Call.Name, r.Call.CallID, r.Output))
			chunks <- TurnChunk{Kind: ChunkToolCallEnd, ToolCall: r.Call, Result: r}
		}
		if err != nil {
			return OutcomeCancelled
		}

		if calledCompletion(results) {
			state.conv.Complete = true
			return OutcomeEndTurn
		}
		if calledInterrupt(results) {
			chunks <- TurnChunk{Kind: ChunkAwaitingInput}
			return OutcomeAwaitingInput
		}
	}
	return OutcomeMaxIterations
}

func calledCompletion(results []toolexec.CallResult) bool {
	for _, r := range results {
		if r.Call.Name == completionToolName && !r.Output.IsError {
			return true
		}
	}
	return false
}

func calledInterrupt(results []toolexec.CallResult) bool {
	for _, r := range results {
		if r.Call.Name == interruptToolName {
			return true
		}
	}
	return false
}

func appendMessage(conv *domain.Conversation, entry domain.MessageEntry) {
	if conv.Context == nil {
		conv.Context = &domain.Context{ConversationID: conv.ID}
	}
	conv.Context.Messages = append(conv.Context.Messages, entry)
}

// streamCompletion calls the provider wrapped in the retry classifier and
// assimilates its chunk stream into accumulated assistant text, reasoning,
// tool calls, and usage.
func (o *Orchestrator) streamCompletion(ctx context.Context, agent AgentSpec, state *turnState, chunks chan<- TurnChunk) (content string, reasoning []domain.ReasoningPart, calls []domain.ToolCall, usage *domain.Usage, err error) {
	result := retryclass.Do(ctx, o.retryCfg, nil, func(ctx context.Context) error {
		var streamErr error
		content, reasoning, calls, usage, streamErr = o.streamOnce(ctx, state.conv, chunks)
		if streamErr != nil {
			return streamErr
		}
		return nil
	})
	return content, reasoning, calls, usage, result.Err
}

func (o *Orchestrator) streamOnce(ctx context.Context, conv *domain.Conversation, chunks chan<- TurnChunk) (string, []domain.ReasoningPart, []domain.ToolCall, *domain.Usage, error) {
	reqCtx := conv.Context.Clone()
	out, errs := o.provider.Stream(ctx, *reqCtx)

	var text strings.Builder
	var reasoning []domain.ReasoningPart
	asm := domain.NewToolCallAssembler()
	var usage *domain.Usage

	for out != nil || errs != nil {
		select {
		case <-ctx.Done():
			return text.String(), reasoning, asm.Finalize(), usage, ctx.Err()
		case c, ok := <-out:
			if !ok {
				out = nil
				continue
			}
			switch c.Kind {
			case providergw.ChunkText:
				text.WriteString(c.Text)
				chunks <- TurnChunk{Kind: ChunkText, Text: c.Text}
			case providergw.ChunkToolPart:
				asm.Add(c.ToolPart)
			case providergw.ChunkReasoning:
				reasoning = append(reasoning, c.Reasoning)
				chunks <- TurnChunk{Kind: ChunkReasoning, Text: c.Reasoning.Text}
			case providergw.ChunkUsage:
				u := c.Usage
				usage = &u
			case providergw.ChunkDone:
			}
		case e, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if e != nil {
				return text.String(), reasoning, asm.Finalize(), usage, e
			}
		}
	}
	return text.String(), reasoning, asm.Finalize(), usage, nil
}

func (o *Orchestrator) maybeCompact(ctx context.Context, agent AgentSpec, state *turnState, usage *domain.Usage) {
	if o.compactor == nil || state.conv.Context == nil {
		return
	}
	threshold := agent.CompactThreshold
	if threshold <= 0 {
		return
	}
	promptTokens := 0
	if usage != nil {
		promptTokens = usage.PromptTokens
	}
	estimated := compactor.EstimateTokenCounter{}.CountContext(*state.conv.Context)
	if promptTokens < threshold && estimated < threshold {
		return
	}
	result, err := o.compactor.Compact(ctx, state.conv)
	if err != nil || !result.Ran {
		return
	}
}

// assemblePrompt renders the system message (replacing any prior one) and
// appends the user event, any droppable context messages, and attachments.
func (o *Orchestrator) assemblePrompt(agent AgentSpec, state *turnState, event Event) error {
	conv := state.conv
	if conv.Context == nil {
		conv.Context = &domain.Context{ConversationID: conv.ID}
	}

	sysTmpl := agent.SystemPromptTemplate
	if sysTmpl == "" {
		sysTmpl = defaultSystemPromptTemplate()
	}
	toolNames := make([]string, 0, len(conv.Context.Tools))
	for _, t := range conv.Context.Tools {
		toolNames = append(toolNames, string(t.Name))
	}
	sysData := systemPromptData{
		Env:             agent.Env,
		CurrentTime:     time.Now().UTC().Format(time.RFC3339),
		ToolInformation: toolInformationBlock(toolNames),
		ToolSupported:   agent.ToolSupported,
		Variables:       conv.Variables,
		CustomRules:     agent.CustomRules,
	}
	systemText, err := o.prompts.render("system", sysTmpl, sysData)
	if err != nil {
		return err
	}
	replaceSystemMessage(conv.Context, systemText)

	mode := "task"
	if state.resumedExisting {
		mode = "feedback"
	}
	userTmpl := agent.UserPromptTemplate
	if userTmpl == "" {
		userTmpl = defaultUserPromptTemplate()
	}
	userText, err := o.prompts.render("user", userTmpl, userPromptData{Mode: mode, Text: event.Text, Agent: string(agent.ID)})
	if err != nil {
		return err
	}
	appendMessage(conv, domain.NewTextEntry(domain.RoleUser, userText))

	for _, a := range event.Attachments {
		if len(a.ImageData) > 0 {
			appendMessage(conv, domain.MessageEntry{Kind: domain.EntryImage, Role: domain.RoleUser, ImageData: a.ImageData, ImageMediaType: a.ImageMediaType})
			continue
		}
		if a.Text != "" {
			appendMessage(conv, domain.NewTextEntry(domain.RoleUser, a.Text))
		}
	}

	if state.resumedExisting && len(conv.Todos) > 0 {
		entry := domain.NewTextEntry(domain.RoleUser, renderTodoChecklist(conv.Todos))
		entry.Droppable = true
		appendMessage(conv, entry)
	}

	if event.AdditionalContext != "" {
		entry := domain.NewTextEntry(domain.RoleUser, event.AdditionalContext)
		entry.Droppable = true
		appendMessage(conv, entry)
	}

	return nil
}

func replaceSystemMessage(ctx *domain.Context, text string) {
	for i := range ctx.Messages {
		if ctx.Messages[i].Kind == domain.EntryText && ctx.Messages[i].Role == domain.RoleSystem {
			ctx.Messages[i].Content = text
			return
		}
	}
	ctx.Messages = append([]domain.MessageEntry{domain.NewTextEntry(domain.RoleSystem, text)}, ctx.Messages...)
}

func renderTodoChecklist(todos []domain.Todo) string {
	var b strings.Builder
	b.WriteString("Current todo list:\n")
	for _, t := range todos {
		mark := " "
		if t.Status == domain.TodoCompleted {
			mark = "x"
		}
		fmt.Fprintf(&b, "- [%s] %s\n", mark, t.Content)
	}
	return b.String()
}
