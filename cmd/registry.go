package cmd

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/multios-dev/syscore/dispatch"
)

var (
	categoryFlag string
	jsonFlag     bool
)

// registryCmd represents the registry command
var registryCmd = &cobra.Command{
	Use:   "registry [fragment]",
	Short: "List registered syscall descriptors",
	Long: `List the built-in syscall table, optionally filtered by a
name fragment or a category.

	USAGE
		syscore registry              list every descriptor
		syscore registry file         descriptors whose name contains "file"
		syscore registry --category memory
	`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		registry, err := dispatch.NewRegistry(dispatch.DefaultTable())
		if err != nil {
			log.Fatalf("failed to build syscall registry: %v", err)
		}

		var descs []*dispatch.Descriptor

		switch {
		case categoryFlag != "":
			category, err := dispatch.ParseCategory(categoryFlag)
			if err != nil {
				log.Fatalf("failed to parse category: %v", err)
			}

			descs = registry.ByCategory(category)
		case len(args) == 1:
			descs = registry.Search(args[0])
		default:
			descs = registry.Descriptors()
		}

		if jsonFlag {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")

			if err := enc.Encode(descs); err != nil {
				log.Fatalf("failed to encode descriptors: %v", err)
			}

			return
		}

		for _, d := range descs {
			printDescriptor(d)
		}
	},
}

func printDescriptor(d *dispatch.Descriptor) {
	fmt.Printf("%4d  %-22s %-10s args=%d", d.ID, d.Name, d.Category(), len(d.Args))

	if d.KernelOnly {
		fmt.Print("  kernel-only")
	}

	if d.FastPath {
		fmt.Print("  fast-path")
	}

	fmt.Println()
}

func init() {
	rootCmd.AddCommand(registryCmd)
	registryCmd.Flags().StringVar(&categoryFlag, "category", "", "Filter by category name")
	registryCmd.Flags().BoolVar(&jsonFlag, "json", false, "Emit JSON")
}
