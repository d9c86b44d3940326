// Package remote is the catalog kept on the source instance itself: suites
// and jobs are records of two custom tables, and every status transition is
// written back to them. Status values are stored in lower case.
package remote

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/datapump/am"
	"github.com/teranos/datapump/errors"
	"github.com/teranos/datapump/logger"
	"github.com/teranos/datapump/pump"
	"github.com/teranos/datapump/source"
)

// Catalog reads suites and jobs from remote records.
type Catalog struct {
	records    source.RecordStore
	suiteTable string
	jobTable   string
	fields     func(name string) string
	log        *zap.SugaredLogger
}

var _ pump.Catalog = (*Catalog)(nil)

// New creates a catalog using the table and field names of cfg.Remote.
func New(records source.RecordStore, cfg *am.Config, log *zap.SugaredLogger) *Catalog {
	if log == nil {
		log = logger.ComponentLogger("remote")
	}
	suiteTable, jobTable := cfg.Remote.SuiteTable, cfg.Remote.JobTable
	if suiteTable == "" {
		suiteTable = "u_datapump_jobset"
	}
	if jobTable == "" {
		jobTable = "u_datapump_job"
	}
	return &Catalog{
		records:    records,
		suiteTable: suiteTable,
		jobTable:   jobTable,
		fields:     cfg.RemoteField,
		log:        log,
	}
}

func (c *Catalog) f(name string) string { return c.fields(name) }

func statusValue(s pump.Status) string { return strings.ToLower(string(s)) }

func timeValue(t *time.Time) string {
	if t == nil {
		return ""
	}
	return source.FormatTime(*t)
}

func optionalTime(rec source.Record, field string) (*time.Time, error) {
	v := rec.Get(field)
	if v == "" {
		return nil, nil
	}
	t, err := source.ParseTime(v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func truthy(v string) bool {
	return v == "1" || strings.EqualFold(v, "true")
}

// parseFrequency accepts seconds or a duration stored as a timestamp
// measured from the epoch.
func parseFrequency(v string) (time.Duration, error) {
	if v == "" {
		return 0, nil
	}
	if source.IsTimestampShape(v) {
		t, err := source.ParseTime(v)
		if err != nil {
			return 0, err
		}
		return time.Duration(t.Unix()) * time.Second, nil
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.Newf("invalid frequency %q", v)
	}
	return time.Duration(secs) * time.Second, nil
}

func (c *Catalog) suite(rec source.Record) (*pump.Suite, error) {
	suite := &pump.Suite{
		Key:    string(rec.Key),
		Name:   rec.Get(c.f("name")),
		Target: rec.Get(c.f("target")),
	}
	st, err := pump.ParseStatus(rec.Get(c.f("status")))
	if err != nil {
		return nil, errors.WrapModel(err, "suite "+suite.Name)
	}
	suite.SetStatus(st)
	if suite.Frequency, err = parseFrequency(rec.Get(c.f("frequency"))); err != nil {
		return nil, errors.WrapModel(err, "suite "+suite.Name)
	}
	runStart, err := optionalTime(rec, c.f("run_start"))
	if err != nil {
		return nil, errors.WrapModel(err, "run start of suite "+suite.Name)
	}
	next, err := optionalTime(rec, c.f("next_run_start"))
	if err != nil {
		return nil, errors.WrapModel(err, "next run start of suite "+suite.Name)
	}
	suite.SetSchedule(runStart, next)
	return suite, nil
}

// job builds a job from its record. The interval field of a LOAD selects
// both the sort field and whether the interval applies to the created or
// updated timestamp.
func (c *Catalog) job(rec source.Record) (*pump.Job, error) {
	j := &pump.Job{
		Key:            string(rec.Key),
		Name:           rec.Get(c.f("name")),
		Table:          rec.Get(c.f("table")),
		Target:         rec.Get(c.f("target_table")),
		PartitionField: rec.Get(c.f("partition_field")),
		PartitionValue: rec.Get(c.f("partition_value")),
	}
	j.Order, _ = strconv.Atoi(rec.Get(c.f("order")))

	fail := func(err error) (*pump.Job, error) {
		return nil, errors.WrapInit(err, "job "+j.Key)
	}
	op, err := pump.ParseOperation(rec.Get(c.f("operation")))
	if err != nil {
		return fail(err)
	}
	j.Operation = op

	if op == pump.OpSQL {
		j.SQL = rec.Get(c.f("sql"))
		if j.Name == "" {
			j.Name = "SQL"
		}
	} else {
		if method := rec.Get(c.f("load_method")); method != "" || op.ReadsRecords() {
			if j.Method, err = pump.ParseLoadMethod(method); err != nil {
				return fail(err)
			}
		}
		if j.BaseFilter, err = source.ParseFilter(rec.Get(c.f("conditions"))); err != nil {
			return fail(err)
		}
		if j.Name == "" {
			j.Name = j.TargetTable()
		}
	}

	switch op {
	case pump.OpLoad:
		j.Truncate = truthy(rec.Get(c.f("truncate")))
		j.UseCreatedDate = true
		j.SortField = source.FieldCreatedOn
		if field := rec.Get(c.f("interval_field")); field != "" {
			switch field {
			case "created", source.FieldCreatedOn:
			case "updated", source.FieldUpdatedOn:
				j.UseCreatedDate = false
				j.SortField = source.FieldUpdatedOn
			default:
				j.SortField = field
			}
			if err := c.interval(rec, j); err != nil {
				return fail(err)
			}
		}
	case pump.OpRefresh:
		j.SortField = source.FieldUpdatedOn
		if err := c.interval(rec, j); err != nil {
			return fail(err)
		}
	case pump.OpPrune:
		if err := c.interval(rec, j); err != nil {
			return fail(err)
		}
	}

	st, err := pump.ParseStatus(rec.Get(c.f("status")))
	if err != nil {
		return nil, errors.WrapModel(err, "job "+j.Name)
	}
	if st == pump.StatusFailed || st == pump.StatusCancelled {
		if err := j.SetFailedStatus(st, rec.Get(c.f("error_message"))); err != nil {
			return nil, errors.WrapModel(err, "job "+j.Name)
		}
	} else {
		j.SetStatus(st)
	}
	if err := j.Validate(); err != nil {
		return fail(err)
	}
	return j, nil
}

func (c *Catalog) interval(rec source.Record, j *pump.Job) error {
	start, err := optionalTime(rec, c.f("interval_start"))
	if err != nil {
		return err
	}
	end, err := optionalTime(rec, c.f("interval_end"))
	if err != nil {
		return err
	}
	j.SetInterval(start, end)
	return nil
}

func (c *Catalog) jobs(ctx context.Context, suite *pump.Suite) ([]*pump.Job, error) {
	filter := source.NewFilter(
		source.Clause{Field: c.f("suite"), Op: source.OpEq, Value: suite.Key},
		source.Clause{Field: c.f("inactive"), Op: source.OpEq, Value: "false"},
	)
	recs, err := c.records.Query(ctx, c.jobTable, filter, c.f("order"))
	if err != nil {
		return nil, errors.WrapModel(err, "read jobs of suite "+suite.Name)
	}
	jobs := make([]*pump.Job, 0, len(recs))
	for _, rec := range recs {
		j, err := c.job(rec)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	// order is numeric; the remote sorts it as text
	sort.SliceStable(jobs, func(a, b int) bool { return jobs[a].Order < jobs[b].Order })
	return jobs, nil
}

// Suite loads one suite with its active jobs.
func (c *Catalog) Suite(ctx context.Context, key string) (*pump.Suite, error) {
	rec, err := c.records.Get(ctx, c.suiteTable, source.Key(key))
	if err != nil {
		return nil, errors.WrapModel(err, "read suite "+key)
	}
	suite, err := c.suite(rec)
	if err != nil {
		return nil, err
	}
	if suite.Jobs, err = c.jobs(ctx, suite); err != nil {
		return nil, err
	}
	return suite, nil
}

// Schedulable returns the READY and RESUME suites for target.
func (c *Catalog) Schedulable(ctx context.Context, target string) ([]*pump.Suite, error) {
	filter := source.NewFilter(source.Clause{
		Field: c.f("status"),
		Op:    source.OpIn,
		Value: statusValue(pump.StatusReady) + "," + statusValue(pump.StatusResume),
	})
	if target != "" {
		filter = filter.Where(c.f("target"), source.OpEq, target)
	}
	recs, err := c.records.Query(ctx, c.suiteTable, filter, c.f("name"))
	if err != nil {
		return nil, errors.WrapModel(err, "read suites")
	}

	suites := make([]*pump.Suite, 0, len(recs))
	for _, rec := range recs {
		suite, err := c.suite(rec)
		if err != nil {
			// one malformed suite must not hide the others
			c.log.Warnw("Skipping suite", "key", string(rec.Key), logger.FieldError, err)
			continue
		}
		if suite.Jobs, err = c.jobs(ctx, suite); err != nil {
			c.log.Warnw("Skipping suite", logger.FieldSuite, suite.Name, logger.FieldError, err)
			continue
		}
		suites = append(suites, suite)
	}
	return suites, nil
}

func (c *Catalog) update(ctx context.Context, table, key string, values map[string]string) error {
	if err := c.records.Update(ctx, table, source.Key(key), values); err != nil {
		return errors.WrapModel(err, "update "+table+" "+key)
	}
	return nil
}

func (c *Catalog) SuiteStarted(ctx context.Context, s *pump.Suite) error {
	if !s.Persistent() {
		return nil
	}
	return c.update(ctx, c.suiteTable, s.Key, map[string]string{
		c.f("status"):         statusValue(pump.StatusRunning),
		c.f("run_start"):      timeValue(s.RunStart()),
		c.f("next_run_start"): timeValue(s.NextRunStart()),
	})
}

func (c *Catalog) SuiteStatus(ctx context.Context, s *pump.Suite, status pump.Status, message string) error {
	if !s.Persistent() {
		return nil
	}
	return c.update(ctx, c.suiteTable, s.Key, map[string]string{
		c.f("status"): statusValue(status),
	})
}

func (c *Catalog) JobStarted(ctx context.Context, j *pump.Job) error {
	if !j.Persistent() {
		return nil
	}
	start, end := j.Interval()
	return c.update(ctx, c.jobTable, j.Key, map[string]string{
		c.f("status"):         statusValue(pump.StatusRunning),
		c.f("error_message"):  "",
		c.f("interval_start"): timeValue(start),
		c.f("interval_end"):   timeValue(end),
	})
}

func (c *Catalog) JobStatus(ctx context.Context, j *pump.Job, status pump.Status, message string) error {
	if !j.Persistent() {
		return nil
	}
	return c.update(ctx, c.jobTable, j.Key, map[string]string{
		c.f("status"):        statusValue(status),
		c.f("error_message"): message,
	})
}

func (c *Catalog) PostMetrics(ctx context.Context, j *pump.Job, m *pump.Metrics) error {
	if !j.Persistent() {
		return nil
	}
	values := map[string]string{
		c.f("records_inserted"): strconv.Itoa(m.Inserted),
		c.f("records_updated"):  strconv.Itoa(m.Updated),
		c.f("records_deleted"):  strconv.Itoa(m.Deleted),
	}
	if m.Published != nil {
		values[c.f("records_published")] = strconv.Itoa(*m.Published)
	}
	if n, ok := m.RecordsExpected(); ok {
		values[c.f("records_expected")] = strconv.Itoa(n)
	}
	return c.update(ctx, c.jobTable, j.Key, values)
}

// LoadMetrics reads the counters back. Unchanged rows are not stored
// remotely and resume as updates.
func (c *Catalog) LoadMetrics(ctx context.Context, j *pump.Job) (*pump.Metrics, error) {
	m := pump.NewMetrics()
	if !j.Persistent() {
		return m, nil
	}
	rec, err := c.records.Get(ctx, c.jobTable, source.Key(j.Key))
	if err != nil {
		return nil, errors.WrapModel(err, "read job "+j.Name)
	}
	count := func(name string) (int, bool) {
		v := rec.Get(c.f(name))
		if v == "" {
			return 0, false
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			c.log.Warnw("Ignoring malformed counter", logger.FieldJob, j.Name, "field", c.f(name), "value", v)
			return 0, false
		}
		return n, true
	}
	m.Inserted, _ = count("records_inserted")
	m.Updated, _ = count("records_updated")
	m.Deleted, _ = count("records_deleted")
	if n, ok := count("records_published"); ok {
		m.IncrementPublished(n)
		if extra := n - m.Inserted - m.Updated - m.Deleted; extra > 0 {
			m.IncrementUpdates(extra)
		}
	}
	if n, ok := count("records_expected"); ok {
		m.SetExpected(n)
	}
	return m, nil
}
