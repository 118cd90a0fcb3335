package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version is set via -ldflags at build time; "dev" otherwise.
var version = "dev"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the CLI version",
		RunE: func(cmd *cobra.Command, args []string) error {
			if outputJSON {
				printJSON(map[string]string{"version": version})
				return nil
			}
			fmt.Println(version)
			return nil
		},
	}
}
