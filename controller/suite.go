package controller

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teranos/datapump/errors"
	"github.com/teranos/datapump/logger"
	"github.com/teranos/datapump/pump"
	"github.com/teranos/datapump/source"
)

// SuiteController runs the jobs of one suite in order.
type SuiteController struct {
	suite   *pump.Suite
	session *Session
	status  pump.StatusSink
	opts    Options
	jobs    *JobController
	log     *zap.SugaredLogger
}

// NewSuiteController creates a controller for suite. status may be nil
// for script suites.
func NewSuiteController(suite *pump.Suite, session *Session, status pump.StatusSink, opts Options, log *zap.SugaredLogger) *SuiteController {
	if status == nil {
		status = pump.NopSink{}
	}
	if log == nil {
		log = logger.ComponentLogger("controller.suite")
	}
	opts = opts.normalized()
	return &SuiteController{
		suite:   suite,
		session: session,
		status:  status,
		opts:    opts,
		jobs:    NewJobController(session, status, opts, log.Named("job")),
		log:     log,
	}
}

// Suite returns the controlled suite.
func (c *SuiteController) Suite() *pump.Suite { return c.suite }

// Run executes a queued or resumed suite and closes the session's target
// afterwards. The error is logged at a level matching its kind and
// returned so the caller can decide whether to carry on.
func (c *SuiteController) Run(ctx context.Context) error {
	switch st := c.suite.Status(); st {
	case pump.StatusQueued, pump.StatusResume:
	default:
		return errors.NewInvariant("suite %s: cannot run from status %s", c.suite.Name, st)
	}
	defer func() {
		if err := c.session.Close(); err != nil {
			c.log.Warnw("Failed to close target", logger.FieldSuite, c.suite.Name, logger.FieldError, err)
		}
	}()

	_, err := c.RunOnce(ctx)
	if err == nil {
		return nil
	}
	log := c.log.With(logger.FieldSuite, c.suite.Name, logger.FieldErrorKind, errors.KindOf(err).String())
	switch {
	case errors.IsCancellation(err):
		log.Errorw("Suite cancelled", logger.FieldError, err)
	case errors.IsInit(err), errors.IsModel(err):
		log.Warnw("Suite failed", logger.FieldError, err)
	default:
		log.Errorw("Suite failed", logger.FieldError, err)
	}
	return err
}

// Poll runs the suite and, while it polls, runs it again at every next run
// start. It stops on the first failure or, between runs, when ctx is done.
func (c *SuiteController) Poll(ctx context.Context) error {
	for {
		if err := c.Run(ctx); err != nil {
			return err
		}
		next := c.suite.NextRunStart()
		if next == nil {
			return nil
		}
		wait := next.Sub(c.opts.Now().Add(-c.opts.Lag))
		c.log.Debugw("Waiting for next run", logger.FieldSuite, c.suite.Name, logger.FieldNextRun, source.FormatTime(*next))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		c.suite.SetStatus(pump.StatusQueued)
	}
}

// RunOnce runs every runnable job once and returns the suite's next run
// start, nil for a suite that does not poll. The first failing job stops
// the suite.
func (c *SuiteController) RunOnce(ctx context.Context) (*time.Time, error) {
	s := c.suite
	runStart, err := s.StartRunning(c.opts.Now().Add(-c.opts.Lag))
	if err != nil {
		return nil, err
	}
	if err := c.status.SuiteStarted(ctx, s); err != nil {
		return nil, errors.WrapModel(err, "record start of suite "+s.Name)
	}

	runID := uuid.NewString()
	ctx = logger.WithRunID(ctx, runID)
	if s.Name != "" {
		ctx = logger.WithSuite(ctx, s.Name)
	}
	log := logger.FromContext(ctx, c.log)
	log.Infow("Suite started", logger.FieldRunStart, source.FormatTime(runStart), "jobs", len(s.Jobs))

	persistent := s.Persistent()
	for _, j := range s.Jobs {
		if !j.Status().Runnable(persistent) {
			log.Debugw("Skipping job", logger.FieldJob, j.Name, logger.FieldStatus, string(j.Status()))
			continue
		}
		if _, err := c.jobs.Run(ctx, j, runStart, s.IsPolling()); err != nil {
			c.failed(ctx, log, err)
			return nil, err
		}
	}

	status := s.CompletedStatus()
	s.SetStatus(status)
	if err := c.status.SuiteStatus(ctx, s, status, ""); err != nil {
		return nil, errors.WrapModel(err, "record status of suite "+s.Name)
	}
	next := s.NextRunStart()
	if next != nil {
		log.Infow("Suite finished", logger.FieldStatus, string(status), logger.FieldNextRun, source.FormatTime(*next))
	} else {
		log.Infow("Suite finished", logger.FieldStatus, string(status))
	}
	return next, nil
}

func (c *SuiteController) failed(ctx context.Context, log *zap.SugaredLogger, cause error) {
	status := pump.StatusFailed
	if errors.IsCancellation(cause) {
		status = pump.StatusCancelled
	}
	c.suite.SetStatus(status)
	if err := c.status.SuiteStatus(context.WithoutCancel(ctx), c.suite, status, errors.Describe(cause)); err != nil {
		log.Errorw("Failed to record suite failure", logger.FieldError, err)
	}
}
