// Command agentcore runs the interactive coding-agent runtime: it wires
// the conversation store, provider gateway, tool executor, policy
// engine, compactor, and retry classifier together and exposes them
// through a small CLI built on cobra, matching the rest of this
// module's ecosystem-library choices over a hand-rolled flag parser.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	flagConfigPath string
	flagDataDir    string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "agentcore",
		Short: "Interactive coding-agent runtime",
	}
	root.PersistentFlags().StringVar(&flagConfigPath, "config", "", "path to agentcore.yaml (defaults baked in if unset)")
	root.PersistentFlags().StringVar(&flagDataDir, "data-dir", ".agentcore", "workspace root for tool file access, snapshots, and policy persistence")

	root.AddCommand(newChatCmd())
	root.AddCommand(newConversationCmd())
	root.AddCommand(newPolicyCmd())
	root.AddCommand(newMaintenanceCmd())
	return root
}
