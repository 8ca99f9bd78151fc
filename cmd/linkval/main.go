// Command linkval validates the links on a documentation site: given a
// base URL (or a direct sitemap URL), it discovers pages, extracts
// their outbound links, and runs the linkval validation engine over
// them, printing every invalid link it finds.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "linkval",
		Short: "Validate the links on a documentation site",
	}
	root.AddCommand(newValidateCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the linkval version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "linkval version %s\n", version)
			return nil
		},
	}
}
