package am

import (
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/teranos/datapump/errors"
	"github.com/teranos/datapump/logger"
)

const reloadDebounce = 500 * time.Millisecond

// backups written by WriteTemplate sit next to am.toml
var backupFile = regexp.MustCompile(`\.back[0-9]+$`)

// ReloadCallback receives a validated configuration after am.toml changed.
type ReloadCallback func(*Config) error

// ConfigWatcher reloads one config file when it changes on disk. The daemon
// uses it to pick up lag and verbosity changes without a restart.
type ConfigWatcher struct {
	path    string
	fs      *fsnotify.Watcher
	load    func() (*Config, error)
	log     *zap.SugaredLogger
	settle  time.Duration
	stop    chan struct{}
	stopped chan struct{}

	mu        sync.Mutex
	callbacks []ReloadCallback
	ownWrites int
	reloads   int
	started   bool
}

var (
	globalWatcher   *ConfigWatcher
	globalWatcherMu sync.Mutex
)

// NewConfigWatcher watches the directory holding path, so editors that
// replace the file instead of writing it in place are still seen.
func NewConfigWatcher(path string) (*ConfigWatcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.WrapInit(err, "failed to create config watcher")
	}
	if err := fs.Add(filepath.Dir(path)); err != nil {
		fs.Close()
		return nil, errors.WrapInit(err, "failed to watch directory of "+path)
	}
	return &ConfigWatcher{
		path:    filepath.Clean(path),
		fs:      fs,
		load:    func() (*Config, error) { return LoadFromFile(path) },
		log:     logger.ComponentLogger("am.watcher"),
		settle:  reloadDebounce,
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}, nil
}

// OnReload adds a callback. Callbacks run in registration order; an error
// from one is logged and does not stop the others.
func (cw *ConfigWatcher) OnReload(cb ReloadCallback) {
	cw.mu.Lock()
	cw.callbacks = append(cw.callbacks, cb)
	cw.mu.Unlock()
}

// MarkOwnWrite tells the watcher the next change is our own WriteTemplate.
func (cw *ConfigWatcher) MarkOwnWrite() {
	cw.mu.Lock()
	cw.ownWrites++
	cw.mu.Unlock()
}

func (cw *ConfigWatcher) consumeOwnWrite() bool {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	if cw.ownWrites == 0 {
		return false
	}
	cw.ownWrites--
	return true
}

// Reloads returns how many reloads reached the callbacks.
func (cw *ConfigWatcher) Reloads() int {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	return cw.reloads
}

// Start runs the event loop until Stop.
func (cw *ConfigWatcher) Start() {
	cw.mu.Lock()
	cw.started = true
	cw.mu.Unlock()
	go cw.loop()
}

func (cw *ConfigWatcher) loop() {
	defer close(cw.stopped)

	// the timer is owned by this goroutine; a nil channel never fires
	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-cw.stop:
			return

		case ev, ok := <-cw.fs.Events:
			if !ok {
				return
			}
			if !cw.relevant(ev) {
				continue
			}
			if cw.consumeOwnWrite() {
				cw.log.Debugw("Ignoring own config write", logger.FieldFile, ev.Name)
				continue
			}
			cw.log.Infow("Config change detected", logger.FieldFile, ev.Name, "op", ev.Op.String())
			if timer == nil {
				timer = time.NewTimer(cw.settle)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(cw.settle)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			if err := cw.reload(); err != nil {
				cw.log.Errorw("Config reload failed", logger.FieldFile, cw.path, logger.FieldError, err)
			}

		case err, ok := <-cw.fs.Errors:
			if !ok {
				return
			}
			cw.log.Warnw("Config watcher error", logger.FieldError, err)
		}
	}
}

func (cw *ConfigWatcher) relevant(ev fsnotify.Event) bool {
	if filepath.Clean(ev.Name) != cw.path || backupFile.MatchString(ev.Name) {
		return false
	}
	return ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)
}

// reload loads and validates the file, then hands it to every callback.
// Invalid files never reach the callbacks.
func (cw *ConfigWatcher) reload() error {
	cfg, err := cw.load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return errors.WrapInit(err, "reloaded config is invalid")
	}

	cw.mu.Lock()
	callbacks := append([]ReloadCallback(nil), cw.callbacks...)
	cw.reloads++
	cw.mu.Unlock()

	cw.log.Infow("Config reloaded", logger.FieldFile, cw.path, "callbacks", len(callbacks))
	for _, cb := range callbacks {
		if err := cb(cfg); err != nil {
			cw.log.Warnw("Config reload callback failed", logger.FieldError, err)
		}
	}
	return nil
}

// Stop ends the event loop and releases the fsnotify watcher. It is safe
// to call whether or not Start ran.
func (cw *ConfigWatcher) Stop() error {
	select {
	case <-cw.stop:
		return nil
	default:
		close(cw.stop)
	}
	err := cw.fs.Close()
	cw.mu.Lock()
	started := cw.started
	cw.mu.Unlock()
	if started {
		<-cw.stopped
	}
	return err
}

// SetGlobalWatcher registers the watcher WriteTemplate notifies before it
// writes, so the daemon does not reload its own writes.
func SetGlobalWatcher(watcher *ConfigWatcher) {
	globalWatcherMu.Lock()
	globalWatcher = watcher
	globalWatcherMu.Unlock()
}
