package cmd

import (
	"fmt"

	"github.com/josephlewis42/pipesh/commands"
	"github.com/spf13/cobra"
)

var builtinsCmd = &cobra.Command{
	Use:   "builtins",
	Short: "Show the commands the shell runs itself.",
	Args:  cobra.ExactArgs(0),
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, builtin := range commands.ListBuiltins() {
			fmt.Fprintf(cmd.OutOrStdout(), "%-6s %s\n", builtin.Name, builtin.Use)
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(builtinsCmd)
}
