package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	planPathFlag string
	verboseFlag  bool
)

// applyFlags is a helper function to add common flags to subcommands.
func applyFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&planPathFlag, "plans", "", "Path to a TOML recovery-plan file")
	cmd.Flags().BoolVar(&verboseFlag, "verbose", false, "Verbose output")
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "syscore",
	Short: "System call dispatch core with validation, access control and latency monitoring",
	Long:  `System call dispatch core with validation, access control and latency monitoring`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
