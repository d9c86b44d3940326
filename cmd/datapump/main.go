package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/teranos/datapump/am"
	"github.com/teranos/datapump/cmd/datapump/commands"
	"github.com/teranos/datapump/errors"
	"github.com/teranos/datapump/logger"
)

var rootCmd = &cobra.Command{
	Use:   "datapump",
	Short: "datapump - replicate remote instance tables into a relational target",
	Long: `datapump - replicate tables from a remote instance into a relational
database or a Kafka topic.

Jobs read source tables in chunks or partitions and write them to the target,
inserting, updating or comparing timestamps as configured. Jobs are grouped
into suites which run once from a script or repeatedly under the daemon.

Available commands:
  run      - Run a suite from a script or YAML file
  daemon   - Scan the catalog and run due suites with a worker pool
  suite    - Manage suites in the local catalog
  describe - Show how a script is parsed
  db       - Manage the local status database
  am       - Manage datapump configuration ("I am")
  version  - Show version information

Examples:
  datapump run -f nightly.dp          # Run a script once
  datapump run -e "load incident"     # Run a single command
  datapump suite add nightly -f nightly.dp --target mart
  datapump daemon --threads 4         # Run persistent suites
  datapump am show                    # Show current configuration`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		jsonOutput := false
		// Config problems are reported by the command itself
		if cfg, err := am.Load(); err == nil {
			jsonOutput = cfg.Log.JSON
			if cfg.Log.Verbosity > verbosity {
				verbosity = cfg.Log.Verbosity
			}
		}
		if err := logger.Initialize(jsonOutput, verbosity); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv, -vvv)")

	rootCmd.AddCommand(commands.RunCmd)
	rootCmd.AddCommand(commands.DaemonCmd)
	rootCmd.AddCommand(commands.SuiteCmd)
	rootCmd.AddCommand(commands.DescribeCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		for _, hint := range errors.GetAllHints(err) {
			fmt.Fprintf(os.Stderr, "Hint: %s\n", hint)
		}
		os.Exit(1)
	}
}
