package commands

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/teranos/datapump/am"
	"github.com/teranos/datapump/db"
	"github.com/teranos/datapump/errors"
	"github.com/teranos/datapump/logger"
	"github.com/teranos/datapump/sym"
)

// DbCmd represents the db (database) command
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: sym.DB + " Manage the local status database",
	Long: sym.DB + ` db — Manage the local status database

The status database holds persistent suites, their jobs and run history.

Examples:
  datapump db migrate             # Create or upgrade the schema
  datapump db stats               # Show row counts`,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE:  runDbMigrate,
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show database statistics",
	RunE:  runDbStats,
}

func init() {
	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbStatsCmd)
}

func runDbMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	path := cfg.GetDatabasePath()
	database, err := db.Open(path, logger.Logger.Named("db"))
	if err != nil {
		return err
	}
	defer database.Close()

	pending, err := db.Pending(database)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		pterm.Success.Printf("%s Database %s is up to date\n", sym.DB, path)
		return nil
	}
	if err := db.Migrate(database, logger.Logger.Named("db")); err != nil {
		return storeError(err)
	}
	for _, m := range pending {
		fmt.Printf("  %s %s\n", sym.StatusOK, m.File)
	}
	pterm.Success.Printf("%s Applied %d migration(s) to %s\n", sym.DB, len(pending), path)
	return nil
}

func runDbStats(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	stats, err := db.Stats(database)
	if err != nil {
		return errors.Wrap(err, "failed to query database stats")
	}

	fmt.Printf("%s Database Statistics\n", sym.DB)
	fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")
	fmt.Printf("Database Path:  %s\n", cfg.GetDatabasePath())
	fmt.Printf("Suites:         %d\n", stats["suites"])
	fmt.Printf("Jobs:           %d\n", stats["jobs"])
	fmt.Printf("Suite Runs:     %d\n", stats["suite_runs"])
	fmt.Printf("Migrations:     %d\n", stats["schema_migrations"])
	return nil
}
