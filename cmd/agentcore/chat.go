package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/forgecore/agentcore/internal/orchestrator"
	"github.com/forgecore/agentcore/pkg/domain"
)

func newChatCmd() *cobra.Command {
	var agentID string
	var resume string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive turn-by-turn session",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := buildApp(ctx, flagConfigPath, flagDataDir)
			if err != nil {
				return err
			}

			convID := domain.ConversationID(resume)
			if resume == "" {
				convID = domain.ConversationID(uuid.NewString())
				conv := &domain.Conversation{ID: convID, AgentID: domain.AgentID(agentID)}
				if err := a.store.Create(ctx, conv); err != nil {
					return fmt.Errorf("create conversation: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "conversation %s\n", convID)
			}

			spec := orchestrator.AgentSpec{
				ID:            domain.AgentID(agentID),
				ToolSupported: true,
			}

			scanner := bufio.NewScanner(os.Stdin)
			fmt.Fprintln(cmd.OutOrStdout(), "type a message and press enter; ctrl-d to exit")
			for {
				fmt.Fprint(cmd.OutOrStdout(), "> ")
				if !scanner.Scan() {
					return nil
				}
				line := scanner.Text()
				if line == "" {
					continue
				}
				if err := runTurn(ctx, cmd, a, spec, convID, orchestrator.Event{Text: line}); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "turn failed: %v\n", err)
				}
			}
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", "default", "agent configuration bundle to run as")
	cmd.Flags().StringVar(&resume, "resume", "", "resume an existing conversation ID instead of starting a new one")
	return cmd
}

// runTurn drives one RunTurn call to completion, printing each TurnChunk
// as it arrives.
func runTurn(ctx context.Context, cmd *cobra.Command, a *app, spec orchestrator.AgentSpec, convID domain.ConversationID, event orchestrator.Event) error {
	chunks, outcomes, err := a.orch.RunTurn(ctx, spec, convID, event)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for chunks != nil || outcomes != nil {
		select {
		case c, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			printChunk(out, c)
		case o, ok := <-outcomes:
			if !ok {
				outcomes = nil
				continue
			}
			fmt.Fprintf(out, "\n[%s]\n", o)
		}
	}
	return nil
}

func printChunk(out io.Writer, c orchestrator.TurnChunk) {
	switch c.Kind {
	case orchestrator.ChunkText:
		fmt.Fprint(out, c.Text)
	case orchestrator.ChunkReasoning:
		fmt.Fprintf(out, "\n(thinking: %s)\n", c.Text)
	case orchestrator.ChunkToolCallStart:
		fmt.Fprintf(out, "\n-> %s(%s)\n", c.ToolCall.Name, c.ToolCall.Arguments)
	case orchestrator.ChunkToolCallEnd:
		status := "ok"
		if c.Result.Output.IsError {
			status = "error"
		}
		fmt.Fprintf(out, "<- %s [%s]: %s\n", c.ToolCall.Name, status, c.Result.Output.Text())
	case orchestrator.ChunkAwaitingInput:
		fmt.Fprintln(out, "\n(awaiting input)")
	}
}
