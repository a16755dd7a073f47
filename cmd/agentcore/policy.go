package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/forgecore/agentcore/pkg/domain"
)

func newPolicyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect and extend the standing policy set",
	}
	cmd.AddCommand(newPolicyShowCmd())
	cmd.AddCommand(newPolicyAddCmd())
	return cmd
}

func newPolicyShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "List the standing policy set",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context(), flagConfigPath, flagDataDir)
			if err != nil {
				return err
			}
			for _, p := range a.engine.Policies() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", p.Permission, p.Rule.Kind, p.Rule.Pattern)
			}
			return nil
		},
	}
}

func newPolicyAddCmd() *cobra.Command {
	var kind, pattern, permission string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Append a standing policy rule",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context(), flagConfigPath, flagDataDir)
			if err != nil {
				return err
			}
			return a.engine.AddRule(domain.Policy{
				Permission: domain.Permission(permission),
				Rule:       domain.Rule{Kind: domain.OperationKind(kind), Pattern: pattern},
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "operation kind: read, write, execute, fetch")
	cmd.Flags().StringVar(&pattern, "pattern", "*", "glob pattern the rule matches")
	cmd.Flags().StringVar(&permission, "permission", "confirm", "allow, deny, or confirm")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}
