package daemon

import (
	"context"

	"go.uber.org/zap"

	"github.com/teranos/datapump/controller"
	"github.com/teranos/datapump/errors"
	"github.com/teranos/datapump/logger"
	"github.com/teranos/datapump/pump"
)

// worker runs suites with a session it opens on first use.
type worker struct {
	id      int
	d       *Daemon
	session *controller.Session
	log     *zap.SugaredLogger
}

func (d *Daemon) newWorker(id int) *worker {
	return &worker{
		id:  id,
		d:   d,
		log: logger.AddPumpSymbol(d.log.Named("worker").With(logger.FieldWorker, id)),
	}
}

func (w *worker) loop(ctx context.Context, queue <-chan *pump.Suite, fatal chan<- error) {
	defer w.close()
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-queue:
			if err := w.run(ctx, s); err != nil {
				fatal <- err
				return
			}
		}
	}
}

// run executes one suite. It returns an error only for faults that must
// stop the daemon: exec, model and init failures reopen the session
// instead, and cancellation during shutdown is expected.
func (w *worker) run(ctx context.Context, s *pump.Suite) error {
	defer w.d.markInFlight(s.Key, false)
	w.d.addActive(1)
	defer w.d.addActive(-1)

	if w.session == nil {
		session, err := w.d.sessions()
		if err != nil {
			w.log.Errorw("Could not open session", logger.FieldSuite, s.Name, logger.FieldError, err)
			s.SetStatus(pump.StatusFailed)
			if serr := w.d.catalog.SuiteStatus(context.WithoutCancel(ctx), s, pump.StatusFailed, errors.Describe(err)); serr != nil {
				w.log.Warnw("Could not record suite status", logger.FieldSuite, s.Name, logger.FieldError, serr)
			}
			return nil
		}
		w.session = session
	}

	c := controller.NewSuiteController(s, w.session, w.d.catalog, w.d.options(), w.log.Named("suite"))
	err := c.Run(ctx)
	if err == nil {
		return nil
	}

	switch kind := errors.KindOf(err); kind {
	case errors.KindCancellation:
		if ctx.Err() != nil {
			return nil
		}
		w.reopen(s, kind)
		return nil
	case errors.KindInit, errors.KindModel, errors.KindExec:
		w.reopen(s, kind)
		return nil
	default:
		return errSuite(s, err)
	}
}

// reopen drops the session so the next suite starts with a fresh one.
func (w *worker) reopen(s *pump.Suite, kind errors.Kind) {
	w.log.Infow("Reopening session", logger.FieldSuite, s.Name, logger.FieldErrorKind, kind.String())
	w.close()
}

func (w *worker) close() {
	if w.session == nil {
		return
	}
	if err := w.session.Close(); err != nil {
		w.log.Warnw("Session close failed", logger.FieldError, err)
	}
	w.session = nil
}
