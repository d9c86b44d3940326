package commands

import (
	"fmt"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/teranos/datapump/am"
	"github.com/teranos/datapump/controller"
	"github.com/teranos/datapump/daemon"
	"github.com/teranos/datapump/logger"
	"github.com/teranos/datapump/pump"
	"github.com/teranos/datapump/remote"
	"github.com/teranos/datapump/sym"
)

// DaemonCmd runs the scanner and worker pool until interrupted
var DaemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: sym.Scanner + " Run persistent suites on schedule",
	Long: sym.Scanner + ` daemon — scanner and worker pool

The daemon scans the catalog every interval for suites that are due and hands
them to a pool of workers. Each worker owns its own source session and target
connection. The catalog is either the local status database or suite and job
tables on the remote instance ([daemon] catalog = "remote").

Edits to daemon.lag_seconds and log.verbosity in am.toml take effect without
a restart. SIGINT or SIGTERM stops scanning and waits up to
daemon.shutdown_seconds for running suites.

Example:
  datapump daemon               # Start with [daemon] threads workers
  datapump daemon --threads 4   # Override the worker count
  datapump daemon --target mart # Only run suites tagged "mart"`,
	Args: cobra.NoArgs,
	RunE: runDaemon,
}

func init() {
	DaemonCmd.Flags().Int("threads", -1, "Worker count (0 runs suites on the scanner)")
	DaemonCmd.Flags().String("target", "", "Only run suites with this target tag")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	dcfg := daemon.ConfigFrom(cfg)
	if threads, _ := cmd.Flags().GetInt("threads"); threads >= 0 {
		dcfg.Threads = threads
	}
	if target, _ := cmd.Flags().GetString("target"); target != "" {
		dcfg.Target = target
	}

	catalog, closeCatalog, err := openCatalog(cfg)
	if err != nil {
		return err
	}
	defer closeCatalog()

	sessions := func() (*controller.Session, error) {
		src, err := newSource(cfg)
		if err != nil {
			return nil, err
		}
		return controller.OpenSession(cfg, src, logger.Logger.Named("target"))
	}

	d := daemon.New(catalog, sessions, dcfg, logger.Logger.Named("daemon"))

	if path := watchedConfigPath(); path != "" {
		cw, err := am.NewConfigWatcher(path)
		if err != nil {
			pterm.Warning.Printf("Config changes will not be picked up: %v\n", err)
		} else {
			d.Watch(cw)
			cw.Start()
			am.SetGlobalWatcher(cw)
			defer cw.Stop()
		}
	}

	fmt.Printf("%s Starting daemon with %d worker(s), catalog %s...\n", sym.Scanner, dcfg.Threads, catalogKind(cfg))

	ctx, stop := signalContext()
	defer stop()

	if err := d.Run(ctx); err != nil {
		return err
	}
	fmt.Printf("%s Daemon stopped\n", sym.Close)
	return nil
}

func catalogKind(cfg *am.Config) string {
	if cfg.Daemon.Catalog == am.CatalogRemote {
		return am.CatalogRemote
	}
	return am.CatalogLocal
}

// openCatalog returns the catalog the daemon schedules from.
func openCatalog(cfg *am.Config) (pump.Catalog, func(), error) {
	if catalogKind(cfg) == am.CatalogRemote {
		src, err := newSource(cfg)
		if err != nil {
			return nil, nil, err
		}
		return remote.New(src, cfg, logger.Logger.Named("remote")), func() {}, nil
	}
	s, closeStore, err := openStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	return s, closeStore, nil
}

// watchedConfigPath returns the highest-precedence config file that exists.
func watchedConfigPath() string {
	paths := am.ConfigPaths()
	for i := len(paths) - 1; i >= 0; i-- {
		if _, err := os.Stat(paths[i]); err == nil {
			return paths[i]
		}
	}
	return ""
}
