// Command revrally runs an automated review/fix rally on a pull request.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "revrally",
	Short: "Automated review/fix rally between two coding agents",
	Long: `revrally orchestrates a reviewer agent and a reviewee agent in a
turn-based loop over a pull request until the reviewer approves, the
iteration cap is hit, the operator aborts, or an error occurs.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(showCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
