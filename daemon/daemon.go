// Package daemon schedules catalog suites and runs them. A scanner polls the
// catalog every interval and hands due suites to a pool of workers; each
// worker owns its own source session and target.
package daemon

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/datapump/am"
	"github.com/teranos/datapump/controller"
	"github.com/teranos/datapump/logger"
	"github.com/teranos/datapump/pump"
)

// SessionFactory opens a fresh source session and target for one worker.
type SessionFactory func() (*controller.Session, error)

// Config tunes the scanner and the worker pool.
type Config struct {
	Threads         int           // 0 runs suites on the scanner goroutine
	Interval        time.Duration // scan period
	ShutdownTimeout time.Duration // how long shutdown waits for workers
	Target          string        // only suites tagged with this target
	Run             controller.Options
}

// ConfigFrom reads the daemon settings from configuration.
func ConfigFrom(cfg *am.Config) Config {
	return Config{
		Threads:         cfg.Daemon.Threads,
		Interval:        cfg.Daemon.Interval(),
		ShutdownTimeout: cfg.Daemon.ShutdownTimeout(),
		Target:          cfg.Daemon.Target,
		Run:             controller.OptionsFrom(cfg),
	}
}

func (c Config) normalized() Config {
	if c.Threads < 0 {
		c.Threads = 0
	}
	if c.Interval <= 0 {
		c.Interval = 20 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	if c.Run.Now == nil {
		c.Run.Now = time.Now
	}
	return c
}

// Daemon runs the scanner and the worker pool.
type Daemon struct {
	catalog  pump.Catalog
	sessions SessionFactory
	cfg      Config
	log      *zap.SugaredLogger
	scanLog  *zap.SugaredLogger

	queue chan *pump.Suite
	wg    sync.WaitGroup

	mu         sync.Mutex
	lag        time.Duration
	inFlight   map[string]bool
	active     int
	lastTickAt time.Time
	ticks      int64
	lastDue    int
}

// Stats is a snapshot of scanner activity.
type Stats struct {
	LastTickAt time.Time
	Ticks      int64
	InFlight   int
	Active     int
}

// New creates a daemon over catalog.
func New(catalog pump.Catalog, sessions SessionFactory, cfg Config, log *zap.SugaredLogger) *Daemon {
	if log == nil {
		log = logger.ComponentLogger("daemon")
	}
	cfg = cfg.normalized()
	return &Daemon{
		catalog:  catalog,
		sessions: sessions,
		cfg:      cfg,
		log:      log,
		scanLog:  logger.AddScannerSymbol(log.Named("scanner")),
		lag:      cfg.Run.Lag,
		inFlight: make(map[string]bool),
		lastDue:  -1,
	}
}

// SetLag changes the clock skew allowance of runs started from now on.
func (d *Daemon) SetLag(lag time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lag = lag
}

// Watch applies lag and verbosity changes picked up by cw.
func (d *Daemon) Watch(cw *am.ConfigWatcher) {
	cw.OnReload(func(cfg *am.Config) error {
		d.SetLag(cfg.Daemon.Lag())
		logger.SetVerbosity(cfg.Log.Verbosity)
		d.log.Infow("Daemon settings reloaded", "lag", cfg.Daemon.Lag(), "log_level", logger.LevelName(cfg.Log.Verbosity))
		return nil
	})
}

func (d *Daemon) options() controller.Options {
	d.mu.Lock()
	defer d.mu.Unlock()
	opts := d.cfg.Run
	opts.Lag = d.lag
	return opts
}

// Stats returns scanner statistics.
func (d *Daemon) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{
		LastTickAt: d.lastTickAt,
		Ticks:      d.ticks,
		InFlight:   len(d.inFlight),
		Active:     d.active,
	}
}

// Run scans until ctx is cancelled or a worker reports a fault that
// reopening its session cannot clear. Cancellation is a clean shutdown and
// returns nil.
func (d *Daemon) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger.AddOpenSymbol(d.log).Infow("Daemon started",
		"threads", d.cfg.Threads,
		"interval", d.cfg.Interval,
		logger.FieldTarget, d.cfg.Target)
	if warning := d.checkMemory(); warning != "" {
		d.log.Warnw("Memory pressure warning", "warning", warning)
	}

	fatal := make(chan error, d.cfg.Threads+1)
	var inline *worker
	if d.cfg.Threads == 0 {
		inline = d.newWorker(0)
	} else {
		d.queue = make(chan *pump.Suite)
		for i := 0; i < d.cfg.Threads; i++ {
			w := d.newWorker(i)
			d.wg.Add(1)
			go func() {
				defer d.wg.Done()
				w.loop(runCtx, d.queue, fatal)
			}()
		}
	}

	err := d.scan(runCtx, inline, fatal)
	cancel()
	if inline != nil {
		inline.close()
	}
	d.shutdown()
	if err != nil {
		d.log.Errorw("Daemon stopped by fault", logger.FieldError, err)
	}
	return err
}

// shutdown waits for the workers, giving up after the shutdown timeout.
func (d *Daemon) shutdown() {
	closeLog := logger.AddCloseSymbol(d.log)
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		closeLog.Infow("Daemon stopped")
	case <-time.After(d.cfg.ShutdownTimeout):
		closeLog.Warnw("Workers did not terminate",
			"timeout", d.cfg.ShutdownTimeout,
			"active", d.Stats().Active)
	}
}

func (d *Daemon) markInFlight(key string, on bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if on {
		d.inFlight[key] = true
	} else {
		delete(d.inFlight, key)
	}
}

func (d *Daemon) isInFlight(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inFlight[key]
}

func (d *Daemon) addActive(n int) {
	d.mu.Lock()
	d.active += n
	d.mu.Unlock()
}
