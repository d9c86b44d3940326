package commands

import (
	"bytes"
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/teranos/datapump/am"
	"github.com/teranos/datapump/db"
	"github.com/teranos/datapump/errors"
	"github.com/teranos/datapump/logger"
	"github.com/teranos/datapump/pump"
	"github.com/teranos/datapump/pump/script"
	"github.com/teranos/datapump/source/rest"
	"github.com/teranos/datapump/store"
)

// addScriptFlags registers the flags every suite-reading command accepts.
func addScriptFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("file", "f", "", "Script file (- for stdin)")
	cmd.Flags().StringArrayP("execute", "e", nil, "Script command (repeatable)")
	cmd.Flags().String("yaml", "", "YAML suite definition")
}

// readSuite builds a suite from -f, -e or --yaml. Exactly one must be given.
func readSuite(cmd *cobra.Command, now time.Time) (*pump.Suite, error) {
	file, _ := cmd.Flags().GetString("file")
	lines, _ := cmd.Flags().GetStringArray("execute")
	yamlFile, _ := cmd.Flags().GetString("yaml")

	given := 0
	for _, set := range []bool{file != "", len(lines) > 0, yamlFile != ""} {
		if set {
			given++
		}
	}
	if given != 1 {
		return nil, errors.WithHint(errors.NewInit("expected exactly one of --file, --execute or --yaml"),
			"datapump run -e \"load incident\"")
	}

	switch {
	case yamlFile != "":
		data, err := os.ReadFile(yamlFile)
		if err != nil {
			return nil, errors.WrapInit(err, "read "+yamlFile)
		}
		return script.ParseYAML(data, now)
	case file == "-":
		return script.Parse(os.Stdin, now)
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, errors.WrapInit(err, "read "+file)
		}
		return script.Parse(bytes.NewReader(data), now)
	default:
		return script.ParseLines(lines, now)
	}
}

// loadConfig loads am.toml and validates it.
func loadConfig() (*am.Config, error) {
	cfg, err := am.Load()
	if err != nil {
		return nil, errors.WrapInit(err, "failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.WrapInit(err, "invalid configuration")
	}
	return cfg, nil
}

// openDatabase opens and migrates the local status database.
func openDatabase(cfg *am.Config) (*sql.DB, error) {
	path := cfg.GetDatabasePath()
	database, err := db.OpenWithMigrations(path, logger.Logger.Named("db"))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", path)
	}
	return database, nil
}

// openStore returns the local catalog and a close function.
func openStore(cfg *am.Config) (*store.Store, func(), error) {
	database, err := openDatabase(cfg)
	if err != nil {
		return nil, nil, err
	}
	return store.New(database, logger.Logger.Named("store")), func() { database.Close() }, nil
}

// storeError adds a hint when the status database is locked by another
// process.
func storeError(err error) error {
	if db.IsBusy(err) {
		return errors.WithHint(err, "another datapump process, usually the daemon, holds the status database; retry shortly")
	}
	return err
}

func newSource(cfg *am.Config) (*rest.Client, error) {
	return rest.New(rest.ConfigFrom(cfg.Source), logger.Logger.Named("rest"))
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
