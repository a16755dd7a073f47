package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/forgecore/agentcore/internal/convstore"
	"github.com/forgecore/agentcore/pkg/domain"
)

func newConversationCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conversation",
		Short: "Inspect and manage stored conversations",
	}
	cmd.AddCommand(newConversationLsCmd())
	cmd.AddCommand(newConversationShowCmd())
	cmd.AddCommand(newConversationCompactCmd())
	return cmd
}

func newConversationLsCmd() *cobra.Command {
	var agentID string
	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List stored conversations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := buildApp(ctx, flagConfigPath, flagDataDir)
			if err != nil {
				return err
			}
			convs, err := a.store.List(ctx, convstore.ListOptions{AgentID: agentID})
			if err != nil {
				return err
			}
			for _, c := range convs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\tagent=%s\tcomplete=%v\ttitle=%q\n", c.ID, c.AgentID, c.Complete, c.Title)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", "", "filter by agent ID")
	return cmd
}

func newConversationShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <conversation-id>",
		Short: "Print a conversation's messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := buildApp(ctx, flagConfigPath, flagDataDir)
			if err != nil {
				return err
			}
			conv, err := a.store.Get(ctx, domain.ConversationID(args[0]))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if conv.Context == nil {
				fmt.Fprintln(out, "(no messages yet)")
				return nil
			}
			for _, m := range conv.Context.Messages {
				switch m.Kind {
				case domain.EntryText:
					fmt.Fprintf(out, "%s: %s\n", m.Role, m.Content)
				case domain.EntryTool:
					fmt.Fprintf(out, "tool %s: %s\n", m.CallID, m.Output.Text())
				default:
					fmt.Fprintf(out, "%s\n", m.Kind)
				}
			}
			return nil
		},
	}
	return cmd
}

func newConversationCompactCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compact <conversation-id>",
		Short: "Force a compaction pass on a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := buildApp(ctx, flagConfigPath, flagDataDir)
			if err != nil {
				return err
			}
			conv, err := a.store.Get(ctx, domain.ConversationID(args[0]))
			if err != nil {
				return err
			}
			if conv.Context == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "nothing to compact")
				return nil
			}
			result, err := a.compactor.Compact(ctx, conv)
			if err != nil {
				return err
			}
			if err := a.store.Update(ctx, conv); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ran=%v evicted=%d summarized=%v tokens %d -> %d\n",
				result.Ran, result.EvictedCount, result.Summarized, result.TokensBefore, result.TokensAfter)
			return nil
		},
	}
	return cmd
}
