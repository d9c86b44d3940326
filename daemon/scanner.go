package daemon

import (
	"context"
	"fmt"
	"time"

	"github.com/teranos/datapump/errors"
	"github.com/teranos/datapump/logger"
	"github.com/teranos/datapump/pump"
)

// scan runs one pass immediately and then one per interval.
func (d *Daemon) scan(ctx context.Context, inline *worker, fatal <-chan error) error {
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := d.scanOnce(ctx, inline, fatal); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case err := <-fatal:
			return err
		case <-ticker.C:
		}
	}
}

// scanOnce submits every schedulable suite that is due. Catalog read
// failures are logged and retried on the next pass.
func (d *Daemon) scanOnce(ctx context.Context, inline *worker, fatal <-chan error) error {
	now := d.cfg.Run.Now()
	d.mu.Lock()
	d.lastTickAt = now
	d.ticks++
	tick := d.ticks
	d.mu.Unlock()

	suites, err := d.catalog.Schedulable(ctx, d.cfg.Target)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		d.scanLog.Warnw("Scan error", logger.FieldError, err, "tick", tick)
		return nil
	}

	due := 0
	for _, s := range suites {
		if ctx.Err() != nil {
			return nil
		}
		if !s.Due(now) || d.isInFlight(s.Key) {
			continue
		}
		due++
		if err := d.submit(ctx, s, inline, fatal); err != nil {
			return err
		}
	}
	d.logActivity(len(suites), due)
	return nil
}

// submit queues s and hands it to a worker, or runs it inline.
func (d *Daemon) submit(ctx context.Context, s *pump.Suite, inline *worker, fatal <-chan error) error {
	prev := s.Status()
	if prev == pump.StatusReady {
		s.SetStatus(pump.StatusQueued)
		if err := d.catalog.SuiteStatus(ctx, s, pump.StatusQueued, ""); err != nil {
			d.scanLog.Warnw("Could not queue suite", logger.FieldSuite, s.Name, logger.FieldError, err)
			return nil
		}
	}
	d.scanLog.Infow("Suite submitted", logger.FieldSuite, s.Name, logger.FieldStatus, string(s.Status()))
	d.markInFlight(s.Key, true)

	if inline != nil {
		return inline.run(ctx, s)
	}
	select {
	case d.queue <- s:
		return nil
	case err := <-fatal:
		d.restore(s, prev)
		return err
	case <-ctx.Done():
		d.restore(s, prev)
		return nil
	}
}

// restore puts back the status of a suite that never reached a worker.
func (d *Daemon) restore(s *pump.Suite, prev pump.Status) {
	d.markInFlight(s.Key, false)
	if s.Status() == prev {
		return
	}
	s.SetStatus(prev)
	if err := d.catalog.SuiteStatus(context.Background(), s, prev, ""); err != nil {
		d.scanLog.Warnw("Could not restore suite status", logger.FieldSuite, s.Name, logger.FieldError, err)
	}
}

// logActivity logs a pass summary with the resource line when the number
// of due suites changes.
func (d *Daemon) logActivity(schedulable, due int) {
	d.mu.Lock()
	changed := due != d.lastDue
	d.lastDue = due
	d.mu.Unlock()
	if !changed {
		return
	}

	r := d.Resources()
	msg := fmt.Sprintf("Scanner - %d schedulable, %d due │ Workers: %d/%d active │ Mem: %.1f/%.1fGB (%.0f%%)",
		schedulable, due, r.WorkersActive, r.WorkersTotal, r.MemoryUsedGB, r.MemoryTotalGB, r.MemoryPercent)
	if r.ProcessRSSMB > 0 {
		msg += fmt.Sprintf(" │ RSS: %.0fMB", r.ProcessRSSMB)
	}
	d.scanLog.Infow(msg)
}

// errSuite wraps an unrecoverable suite failure for the scanner.
func errSuite(s *pump.Suite, err error) error {
	return errors.Wrapf(err, "suite %s", s.Name)
}
