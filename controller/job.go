package controller

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/datapump/errors"
	"github.com/teranos/datapump/logger"
	"github.com/teranos/datapump/pump"
	"github.com/teranos/datapump/reader"
	"github.com/teranos/datapump/source"
	"github.com/teranos/datapump/target"
)

// JobController runs single jobs against a session.
type JobController struct {
	session *Session
	status  pump.StatusSink
	opts    Options
	log     *zap.SugaredLogger
}

// NewJobController creates a job controller. status may be nil for
// ephemeral jobs.
func NewJobController(session *Session, status pump.StatusSink, opts Options, log *zap.SugaredLogger) *JobController {
	if status == nil {
		status = pump.NopSink{}
	}
	if log == nil {
		log = logger.ComponentLogger("controller.job")
	}
	return &JobController{session: session, status: status, opts: opts.normalized(), log: log}
}

// Run executes j as part of a run that started at runStart. polling
// selects the status left behind on success: READY for a polling suite,
// COMPLETE otherwise. On failure the target is rolled back and the job is
// FAILED, or CANCELLED when ctx was cancelled; the error is returned.
func (c *JobController) Run(ctx context.Context, j *pump.Job, runStart time.Time, polling bool) (*pump.Metrics, error) {
	log := logger.FromContext(ctx, c.log).With(logger.FieldJob, j.Name, logger.FieldOperation, string(j.Operation))
	if j.Table != "" {
		log = log.With(logger.FieldTable, j.Table)
	}

	m := pump.NewMetrics()
	if j.Status() == pump.StatusResume && j.Persistent() {
		loaded, err := c.status.LoadMetrics(ctx, j)
		if err != nil {
			return m, errors.WrapModel(err, "load metrics of job "+j.Name)
		}
		if loaded != nil {
			m = loaded
		}
		log.Infow("Resuming job", logger.FieldPublished, m.RecordsPublished())
	}

	j.StartRunning(runStart)
	if err := c.status.JobStarted(ctx, j); err != nil {
		return m, c.fail(ctx, j, log, errors.WrapModel(err, "record start of job "+j.Name))
	}
	log.Infow("Job started", logger.FieldRunStart, source.FormatTime(runStart))
	start := time.Now()

	err := c.dispatch(ctx, j, m, log)
	if err == nil {
		err = c.checkLimit(j, m)
	}
	if err != nil {
		return m, c.fail(ctx, j, log, err)
	}

	status := pump.StatusComplete
	if polling {
		status = pump.StatusReady
	}
	if err := j.SetCompletedStatus(status); err != nil {
		return m, err
	}
	if err := c.status.JobStatus(ctx, j, status, ""); err != nil {
		return m, errors.WrapModel(err, "record status of job "+j.Name)
	}
	m.LogInfo(log)
	log.Infow("Job finished", logger.FieldStatus, string(status), logger.FieldDurationMS, time.Since(start).Milliseconds())
	return m, nil
}

// fail rolls back the target and records the failure. The status is
// written even when ctx is already cancelled.
func (c *JobController) fail(ctx context.Context, j *pump.Job, log *zap.SugaredLogger, cause error) error {
	c.session.Rollback()
	status := pump.StatusFailed
	if errors.IsCancellation(cause) {
		status = pump.StatusCancelled
	}
	msg := errors.Describe(cause)
	if err := j.SetFailedStatus(status, msg); err != nil {
		return err
	}
	if err := c.status.JobStatus(context.WithoutCancel(ctx), j, status, msg); err != nil {
		log.Errorw("Failed to record job failure", logger.FieldError, err)
	}
	if status == pump.StatusCancelled {
		log.Warnw("Job cancelled", logger.FieldError, cause)
	} else {
		log.Errorw("Job failed", logger.FieldErrorKind, errors.KindOf(cause).String(), logger.FieldError, cause)
	}
	return cause
}

func (c *JobController) dispatch(ctx context.Context, j *pump.Job, m *pump.Metrics, log *zap.SugaredLogger) error {
	switch j.Operation {
	case pump.OpLoad:
		return c.load(ctx, j, m, log)
	case pump.OpRefresh:
		return c.refresh(ctx, j, m, log)
	case pump.OpPrune:
		return c.prune(ctx, j, m, log)
	case pump.OpSQL:
		return c.sql(ctx, j, log)
	case pump.OpGenerate:
		return c.generate(ctx, j, log)
	}
	return errors.NewInit("job %s: unknown operation %q", j.Name, j.Operation)
}

func (c *JobController) checkLimit(j *pump.Job, m *pump.Metrics) error {
	if c.opts.LoadLimit > 0 && m.RecordsPublished() > c.opts.LoadLimit {
		return errors.NewLoadLimitExceeded(j.Table, c.opts.LoadLimit)
	}
	return nil
}

// open returns the source table, its schema and a writer for the job's
// target table.
func (c *JobController) open(ctx context.Context, j *pump.Job) (source.Table, target.Writer, error) {
	table, err := c.session.Source.Table(ctx, j.Table, source.TableOptions{DisplayValues: j.DisplayValues})
	if err != nil {
		return nil, nil, errors.WrapInit(err, "open source table "+j.Table)
	}
	schema, err := table.Schema(ctx)
	if err != nil {
		return nil, nil, errors.WrapInit(err, "read schema of "+j.Table)
	}
	sink, err := c.session.Sink(ctx)
	if err != nil {
		return nil, nil, err
	}
	w, err := sink.Writer(ctx, j.TargetTable(), schema, j.DisplayValues)
	if err != nil {
		return nil, nil, err
	}
	return table, w, nil
}

func (c *JobController) load(ctx context.Context, j *pump.Job, m *pump.Metrics, log *zap.SugaredLogger) error {
	table, w, err := c.open(ctx, j)
	if err != nil {
		return err
	}

	filter := j.BaseFilter.And(j.PartitionFilter(), j.IntervalFilter())

	var r reader.Reader
	if j.PartitionBy != "" {
		r = reader.NewPartitionedReader(table, filter, j.PartitionBy, j.SortField, c.opts.Reader, log)
	} else {
		r = reader.NewChunkedReader(table, filter, j.SortField, c.opts.Reader, log)
	}
	if err := r.Prepare(ctx); err != nil {
		return errors.WrapExec(err, "read keys of "+j.Table)
	}
	m.SetExpected(r.NumKeys())

	published := m.RecordsPublished()
	if published > 0 {
		log.Infow("Skipping published rows", logger.FieldFirstRow, published)
		r.SetFirstRow(published)
	}
	if j.Truncate && published == 0 {
		if err := w.Truncate(ctx); err != nil {
			return errors.WrapExec(err, "truncate "+j.TargetTable())
		}
	}
	log.Infow("Loading", logger.FieldFilter, filter.String(), logger.FieldExpected, r.NumKeys())
	return c.drain(ctx, j, r, w, j.Method, m, log)
}

// window returns the job's interval, or ok=false when the job has no
// baseline yet and should be skipped.
func window(j *pump.Job) (start, end *time.Time, ok bool, err error) {
	start, end = j.Interval()
	if start == nil {
		return nil, nil, false, nil
	}
	if end != nil && start.After(*end) {
		return nil, nil, false, errors.NewInvariant("job %s: interval start %s is after end %s",
			j.Name, source.FormatTime(*start), source.FormatTime(*end))
	}
	return start, end, true, nil
}

func (c *JobController) refresh(ctx context.Context, j *pump.Job, m *pump.Metrics, log *zap.SugaredLogger) error {
	start, end, ok, err := window(j)
	if err != nil || !ok {
		if !ok && err == nil {
			log.Infow("No previous run; interval starts now")
		}
		return err
	}
	m.Clear()

	table, w, err := c.open(ctx, j)
	if err != nil {
		return err
	}
	filter := j.BaseFilter.And(j.PartitionFilter(), j.IntervalFilter())
	r := reader.NewChunkedReader(table, filter, j.SortField, c.opts.Reader, log)
	if err := r.Prepare(ctx); err != nil {
		return errors.WrapExec(err, "read keys of "+j.Table)
	}
	m.SetExpected(r.NumKeys())
	log.Infow("Refreshing", "start", source.FormatTime(*start), "end", formatOptional(end),
		logger.FieldExpected, r.NumKeys())
	return c.drain(ctx, j, r, w, pump.UpdateInsert, m, log)
}

func (c *JobController) prune(ctx context.Context, j *pump.Job, m *pump.Metrics, log *zap.SugaredLogger) error {
	start, end, ok, err := window(j)
	if err != nil || !ok {
		if !ok && err == nil {
			log.Infow("No previous run; interval starts now")
		}
		return err
	}
	m.Clear()

	keys, err := reader.AuditDeletes(ctx, c.session.Source, j.Table, start, end, c.opts.Reader, log)
	if err != nil {
		return errors.WrapExec(err, "read deletes of "+j.Table)
	}
	m.SetExpected(len(keys))
	log.Infow("Pruning", "start", source.FormatTime(*start), "end", formatOptional(end), logger.FieldCount, len(keys))
	if len(keys) == 0 {
		return nil
	}

	_, w, err := c.open(ctx, j)
	if err != nil {
		return err
	}
	size := c.opts.Reader.ChunkSize
	if size <= 0 {
		size = reader.DefaultOptions().ChunkSize
	}
	for first := 0; first < len(keys); first += size {
		if err := errors.CheckContext(ctx); err != nil {
			return err
		}
		last := min(first+size, len(keys))
		if _, err := w.DeleteRecords(ctx, keys.Slice(first, last), m); err != nil {
			return err
		}
		m.IncrementConsumed(last - first)
		if err := c.afterChunk(ctx, j, m, log, last, len(keys)); err != nil {
			return err
		}
	}
	return nil
}

func (c *JobController) sql(ctx context.Context, j *pump.Job, log *zap.SugaredLogger) error {
	sink, err := c.session.Sink(ctx)
	if err != nil {
		return err
	}
	log.Infow("Executing statement", "sql", j.SQL)
	return sink.Exec(ctx, j.SQL)
}

func (c *JobController) generate(ctx context.Context, j *pump.Job, log *zap.SugaredLogger) error {
	if c.session.Generator == nil {
		return errors.NewInit("job %s: no SQL generator for this target", j.Name)
	}
	table, err := c.session.Source.Table(ctx, j.Table, source.TableOptions{})
	if err != nil {
		return errors.WrapInit(err, "open source table "+j.Table)
	}
	schema, err := table.Schema(ctx)
	if err != nil {
		return errors.WrapInit(err, "read schema of "+j.Table)
	}
	ddl, err := c.session.Generator.CreateTable(schema, j.TargetTable(), j.DisplayValues)
	if err != nil {
		return err
	}
	ddl += ";\n"
	if j.OutputFile == "" {
		_, err := fmt.Fprint(c.opts.Output, ddl)
		return errors.WrapExec(err, "write DDL")
	}
	if err := os.WriteFile(j.OutputFile, []byte(ddl), 0o644); err != nil {
		return errors.WrapExec(err, "write "+j.OutputFile)
	}
	log.Infow("DDL written", logger.FieldFile, j.OutputFile)
	return nil
}

// drain feeds every chunk of r through w.
func (c *JobController) drain(ctx context.Context, j *pump.Job, r reader.Reader, w target.Writer, method pump.LoadMethod, m *pump.Metrics, log *zap.SugaredLogger) error {
	expected, _ := m.RecordsExpected()
	for !r.Finished() {
		if err := errors.CheckContext(ctx); err != nil {
			return err
		}
		chunk, err := r.NextChunk(ctx)
		if err != nil {
			return errors.WrapExec(err, "read "+j.Table)
		}
		if len(chunk) == 0 {
			continue
		}
		m.IncrementConsumed(len(chunk))
		n, err := w.ProcessChunk(ctx, chunk, method, m)
		if err != nil {
			return err
		}
		if n != len(chunk) {
			return errors.NewInvariant("job %s: processed %d of %d records in chunk", j.Name, n, len(chunk))
		}
		if err := c.afterChunk(ctx, j, m, log, m.RecordsPublished(), expected); err != nil {
			return err
		}
	}
	return nil
}

// afterChunk runs the checks that follow every committed chunk.
func (c *JobController) afterChunk(ctx context.Context, j *pump.Job, m *pump.Metrics, log *zap.SugaredLogger, done, total int) error {
	if err := errors.CheckContext(ctx); err != nil {
		return err
	}
	if err := m.Check(); err != nil {
		return err
	}
	if err := c.status.PostMetrics(ctx, j, m); err != nil {
		return errors.WrapModel(err, "post metrics of job "+j.Name)
	}
	log.Infow(fmt.Sprintf("%d of %d records processed", done, total), logger.FieldPublished, m.RecordsPublished())
	return c.checkLimit(j, m)
}

func formatOptional(t *time.Time) string {
	if t == nil {
		return ""
	}
	return source.FormatTime(*t)
}
