// Package main provides the clear-metadata subcommand: an all-or-
// nothing wipe of every node, constraint, and index in the graph
// store (spec §3 "clear_meta").
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newClearMetadataCmd() *cobra.Command {
	var (
		yes     bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "clear-metadata",
		Short: "Wipe every node, constraint, and index from the graph store",
		Long: `clear-metadata is a destructive, all-or-nothing operation: it drops every
Database/Table/Column/Knowledge/EmbedCol/EmbedKn/Cell node, every REL/BELONG/
CONTAIN edge, every constraint, and every vector/full-text index.

There is no per-database scope: spec §3 defines clear_meta as a full wipe.
Prompts for a typed confirmation unless --yes is given or running with
--json (automation implies confirmation already happened upstream).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes && !outputJSON {
				if !confirm(fmt.Sprintf("This will permanently delete ALL metadata. Type the word %q to continue: ", "clear")) {
					ui.Warning("aborted")
					return newCliError(exitValidation, fmt.Errorf("confirmation declined"))
				}
			}

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			store, err := openGraphStore(cfg)
			if err != nil {
				return newCliError(exitIO, fmt.Errorf("open graph store: %w", err))
			}
			defer store.Close()

			if err := store.ClearAll(ctx); err != nil {
				return newCliError(exitIO, fmt.Errorf("clear metadata: %w", err))
			}

			ui.Success("cleared all metadata")
			if outputJSON {
				printJSON(map[string]string{"status": "cleared"})
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "skip the confirmation prompt")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "operation timeout")
	return cmd
}

func confirm(prompt string) bool {
	fmt.Print(prompt)
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	return strings.TrimSpace(line) == "clear"
}
