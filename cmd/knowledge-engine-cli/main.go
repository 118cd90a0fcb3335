// Package main provides the Knowledge Engine CLI entrypoint.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/metaground/retrieval-engine/internal/config"
	"github.com/metaground/retrieval-engine/internal/observability"
)

// Exit codes per spec §6: 0 success, 1 validation, 2 I/O, 3 auth.
const (
	exitOK         = 0
	exitValidation = 1
	exitIO         = 2
	exitAuth       = 3
)

var (
	cfgFile    string
	outputJSON bool
	verbose    bool
	noColor    bool

	cfg    *config.Config
	logger *observability.Logger
	ui     *UI
)

var rootCmd = &cobra.Command{
	Use:   "knowledge-engine-cli",
	Short: "CLI for the metadata retrieval engine: ingestion, retrieval, and pipeline stages",
	Long: `knowledge-engine-cli drives the metadata-grounded retrieval engine.

Use this tool to:
- Ingest registered databases' schema, knowledge, and cell metadata into the graph store
- Clear all ingested metadata
- Run ad hoc retrieve_knowledge / retrieve_column / retrieve_cell queries
- Run the context pipeline end-to-end, or one stage at a time, against a session

All commands support --json for machine-readable output.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		logFormat := cfg.Observability.LogFormat
		if outputJSON {
			logFormat = "json"
		}

		logLevel := cfg.Observability.LogLevel
		if verbose {
			logLevel = "debug"
		}

		logger = observability.NewLogger(observability.LogConfig{
			Level:       logLevel,
			Format:      logFormat,
			ServiceName: "knowledge-engine-cli",
		})

		ui = NewUI(outputJSON, noColor)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default: env vars + built-in defaults)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(newIngestCmd())
	rootCmd.AddCommand(newClearMetadataCmd())
	rootCmd.AddCommand(newRetrieveCmd())
	rootCmd.AddCommand(newPipelineCmd())
	rootCmd.AddCommand(newVersionCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}

func exitCodeFor(err error) int {
	var ce *cliError
	if errors.As(err, &ce) {
		return ce.code
	}
	return exitValidation
}

// cliError tags an error with the exit code spec §6 assigns it.
type cliError struct {
	code int
	err  error
}

func (e *cliError) Error() string { return e.err.Error() }
func (e *cliError) Unwrap() error { return e.err }

func newCliError(code int, err error) error {
	if err == nil {
		return nil
	}
	return &cliError{code: code, err: err}
}
