package cmd

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/multios-dev/syscore/syserr"
)

// plansCmd represents the plans command
var plansCmd = &cobra.Command{
	Use:   "plans",
	Short: "Print the effective recovery-plan table as TOML",
	Long: `Plans prints the recovery-plan table that the dispatcher would
run with: the defaults, overridden by --plans when given. Useful for
validating a plan file before deploying it.
	`,
	Run: func(cmd *cobra.Command, args []string) {
		table := syserr.DefaultPlans()

		if planPathFlag != "" {
			var err error

			table, err = syserr.LoadPlans(planPathFlag)
			if err != nil {
				log.Fatalf("failed to load plan file: %v", err)
			}
		}

		bts, err := table.MarshalTOML()
		if err != nil {
			log.Fatalf("failed to marshal plan table: %v", err)
		}

		fmt.Print(string(bts))
	},
}

func init() {
	rootCmd.AddCommand(plansCmd)
	applyFlags(plansCmd)
}
