// Package store is the local catalog: persistent suites and jobs kept in the
// SQLite status store, together with their run history.
package store

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teranos/datapump/errors"
	"github.com/teranos/datapump/logger"
	"github.com/teranos/datapump/pump"
	"github.com/teranos/datapump/source"
)

// Store persists suites, jobs and suite runs.
type Store struct {
	db  *sql.DB
	log *zap.SugaredLogger
	now func() time.Time

	mu   sync.Mutex
	runs map[string]string // suite key -> open run id
}

var _ pump.Catalog = (*Store)(nil)

// New creates a store over a migrated status database.
func New(db *sql.DB, log *zap.SugaredLogger) *Store {
	if log == nil {
		log = logger.ComponentLogger("store")
	}
	return &Store{db: db, log: log, now: time.Now, runs: make(map[string]string)}
}

// Run is one row of suite run history.
type Run struct {
	ID        string
	SuiteKey  string
	RunStart  time.Time
	Finished  *time.Time
	Status    pump.Status
	Message   string
	Published int
}

func formatTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return source.FormatTime(*t)
}

func parseTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := source.ParseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *Store) stamp() string { return source.FormatTime(s.now()) }

// AddSuite stores a new suite and its jobs, assigning keys to both. The
// suite and its jobs start READY.
func (s *Store) AddSuite(ctx context.Context, suite *pump.Suite) error {
	if suite.Name == "" {
		return errors.NewInit("a stored suite needs a name")
	}
	if len(suite.Jobs) == 0 {
		return errors.NewInit("suite %s has no jobs", suite.Name)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin add suite")
	}
	defer tx.Rollback()

	suiteKey := uuid.NewString()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO suites (id, name, status, frequency_seconds, target, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		suiteKey, suite.Name, string(pump.StatusReady), int(suite.Frequency/time.Second), suite.Target,
		s.stamp(), s.stamp(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return errors.WithHint(errors.NewInit("suite %s already exists", suite.Name),
				"choose another name or remove the existing suite")
		}
		return errors.Wrapf(err, "insert suite %s", suite.Name)
	}

	jobKeys := make([]string, len(suite.Jobs))
	for i, j := range suite.Jobs {
		jobKeys[i] = uuid.NewString()
		start, end := j.Interval()
		_, err := tx.ExecContext(ctx, `
			INSERT INTO jobs (
				id, suite_id, job_order, operation, table_name, target_table,
				load_method, truncate, sort_field, use_created, display_values,
				partition_field, partition_value, partition_by, filter,
				sql_statement, output_file, interval_start, interval_end, status, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			jobKeys[i], suiteKey, i, string(j.Operation), j.Table, j.Target,
			string(j.Method), boolInt(j.Truncate), j.SortField, boolInt(j.UseCreatedDate), boolInt(j.DisplayValues),
			j.PartitionField, j.PartitionValue, j.PartitionBy, j.BaseFilter.String(),
			j.SQL, j.OutputFile, formatTime(start), formatTime(end), string(pump.StatusReady), s.stamp(),
		)
		if err != nil {
			return errors.Wrapf(err, "insert job %d of suite %s", i, suite.Name)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit add suite")
	}

	suite.Key = suiteKey
	suite.SetStatus(pump.StatusReady)
	for i, j := range suite.Jobs {
		j.Key = jobKeys[i]
		j.Order = i
		j.SetStatus(pump.StatusReady)
	}
	s.log.Infow("Suite added", logger.FieldSuite, suite.Name, "key", suiteKey, "jobs", len(suite.Jobs))
	return nil
}

const suiteColumns = `id, name, status, frequency_seconds, target, run_start, next_run_start`

func scanSuite(scan func(dest ...interface{}) error) (*pump.Suite, error) {
	var suite pump.Suite
	var status string
	var freq int
	var runStart, next sql.NullString
	if err := scan(&suite.Key, &suite.Name, &status, &freq, &suite.Target, &runStart, &next); err != nil {
		return nil, err
	}
	st, err := pump.ParseStatus(status)
	if err != nil {
		return nil, errors.Wrapf(err, "suite %s", suite.Name)
	}
	suite.SetStatus(st)
	suite.Frequency = time.Duration(freq) * time.Second
	rs, err := parseTime(runStart)
	if err != nil {
		return nil, errors.Wrapf(err, "run_start of suite %s", suite.Name)
	}
	nr, err := parseTime(next)
	if err != nil {
		return nil, errors.Wrapf(err, "next_run_start of suite %s", suite.Name)
	}
	suite.SetSchedule(rs, nr)
	return &suite, nil
}

// Suite loads one suite with its active jobs, by key.
func (s *Store) Suite(ctx context.Context, key string) (*pump.Suite, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+suiteColumns+` FROM suites WHERE id = ?`, key)
	suite, err := scanSuite(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewNotFoundError("suite %s not found", key)
		}
		return nil, errors.Wrapf(err, "load suite %s", key)
	}
	if suite.Jobs, err = s.jobs(ctx, suite.Key); err != nil {
		return nil, err
	}
	return suite, nil
}

// SuiteByName loads one suite with its active jobs, by name.
func (s *Store) SuiteByName(ctx context.Context, name string) (*pump.Suite, error) {
	var key string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM suites WHERE name = ?`, name).Scan(&key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewNotFoundError("suite %s not found", name)
		}
		return nil, errors.Wrapf(err, "find suite %s", name)
	}
	return s.Suite(ctx, key)
}

// Suites lists every suite without its jobs, by name.
func (s *Store) Suites(ctx context.Context) ([]*pump.Suite, error) {
	return s.querySuites(ctx, `SELECT `+suiteColumns+` FROM suites ORDER BY name`)
}

// Schedulable returns READY and RESUME suites for target with their jobs.
func (s *Store) Schedulable(ctx context.Context, target string) ([]*pump.Suite, error) {
	suites, err := s.querySuites(ctx, `
		SELECT `+suiteColumns+` FROM suites
		WHERE status IN (?, ?) AND (? = '' OR target = ?)
		ORDER BY name`,
		string(pump.StatusReady), string(pump.StatusResume), target, target)
	if err != nil {
		return nil, err
	}
	for _, suite := range suites {
		if suite.Jobs, err = s.jobs(ctx, suite.Key); err != nil {
			return nil, err
		}
	}
	return suites, nil
}

func (s *Store) querySuites(ctx context.Context, query string, args ...interface{}) ([]*pump.Suite, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query suites")
	}
	defer rows.Close()

	var suites []*pump.Suite
	for rows.Next() {
		suite, err := scanSuite(rows.Scan)
		if err != nil {
			return nil, err
		}
		suites = append(suites, suite)
	}
	return suites, errors.Wrap(rows.Err(), "iterate suites")
}

func (s *Store) jobs(ctx context.Context, suiteKey string) ([]*pump.Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_order, operation, table_name, target_table, load_method, truncate,
		       sort_field, use_created, display_values, partition_field, partition_value,
		       partition_by, filter, sql_statement, output_file, interval_start, interval_end,
		       status, error_message
		FROM jobs
		WHERE suite_id = ? AND inactive = 0
		ORDER BY job_order`, suiteKey)
	if err != nil {
		return nil, errors.Wrap(err, "query jobs")
	}
	defer rows.Close()

	var jobs []*pump.Job
	for rows.Next() {
		var j pump.Job
		var op, method, filter, status, message string
		var truncate, useCreated, dv int
		var start, end sql.NullString
		err := rows.Scan(&j.Key, &j.Order, &op, &j.Table, &j.Target, &method, &truncate,
			&j.SortField, &useCreated, &dv, &j.PartitionField, &j.PartitionValue,
			&j.PartitionBy, &filter, &j.SQL, &j.OutputFile, &start, &end, &status, &message)
		if err != nil {
			return nil, errors.Wrap(err, "scan job")
		}
		if j.Operation, err = pump.ParseOperation(op); err != nil {
			return nil, errors.WrapModel(err, "job "+j.Key)
		}
		if method != "" {
			if j.Method, err = pump.ParseLoadMethod(method); err != nil {
				return nil, errors.WrapModel(err, "job "+j.Key)
			}
		}
		if j.BaseFilter, err = source.ParseFilter(filter); err != nil {
			return nil, errors.WrapModel(err, "job "+j.Key)
		}
		st, err := pump.ParseStatus(status)
		if err != nil {
			return nil, errors.WrapModel(err, "job "+j.Key)
		}
		is, err := parseTime(start)
		if err != nil {
			return nil, errors.WrapModel(err, "interval_start of job "+j.Key)
		}
		ie, err := parseTime(end)
		if err != nil {
			return nil, errors.WrapModel(err, "interval_end of job "+j.Key)
		}
		j.Truncate, j.UseCreatedDate, j.DisplayValues = truncate != 0, useCreated != 0, dv != 0
		j.Name = j.TargetTable()
		if j.Operation == pump.OpSQL {
			j.Name = "SQL"
		}
		j.SetInterval(is, ie)
		j.SetStatus(st)
		if message != "" && (st == pump.StatusFailed || st == pump.StatusCancelled) {
			if err := j.SetFailedStatus(st, message); err != nil {
				return nil, err
			}
		}
		jobs = append(jobs, &j)
	}
	return jobs, errors.Wrap(rows.Err(), "iterate jobs")
}

// SetSuiteStatus changes a suite's status outside a run, for queueing and
// manual resume. Resuming also makes failed jobs runnable again.
func (s *Store) SetSuiteStatus(ctx context.Context, key string, status pump.Status) error {
	res, err := s.db.ExecContext(ctx, `UPDATE suites SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), s.stamp(), key)
	if err != nil {
		return errors.Wrapf(err, "update status of suite %s", key)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFoundError("suite %s not found", key)
	}
	if status == pump.StatusResume {
		_, err := s.db.ExecContext(ctx, `
			UPDATE jobs SET status = ?, error_message = '', updated_at = ?
			WHERE suite_id = ? AND status IN (?, ?)`,
			string(pump.StatusResume), s.stamp(), key, string(pump.StatusFailed), string(pump.StatusCancelled))
		if err != nil {
			return errors.Wrapf(err, "resume jobs of suite %s", key)
		}
	}
	return nil
}

// SuiteStarted records the new run start and opens a run history row.
func (s *Store) SuiteStarted(ctx context.Context, suite *pump.Suite) error {
	if !suite.Persistent() {
		return nil
	}
	runStart := suite.RunStart()
	_, err := s.db.ExecContext(ctx, `
		UPDATE suites SET status = ?, run_start = ?, next_run_start = ?, updated_at = ?
		WHERE id = ?`,
		string(pump.StatusRunning), formatTime(runStart), formatTime(suite.NextRunStart()), s.stamp(), suite.Key)
	if err != nil {
		return errors.Wrapf(err, "start suite %s", suite.Name)
	}
	if runStart == nil {
		return nil
	}

	runID := uuid.NewString()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO suite_runs (id, suite_id, run_start, status) VALUES (?, ?, ?, ?)`,
		runID, suite.Key, source.FormatTime(*runStart), string(pump.StatusRunning))
	if err != nil {
		return errors.Wrapf(err, "record run of suite %s", suite.Name)
	}
	s.mu.Lock()
	s.runs[suite.Key] = runID
	s.mu.Unlock()
	return nil
}

// SuiteStatus stores the suite's status. A status ending a run closes its
// run history row with the records published by its jobs.
func (s *Store) SuiteStatus(ctx context.Context, suite *pump.Suite, status pump.Status, message string) error {
	if !suite.Persistent() {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `UPDATE suites SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), s.stamp(), suite.Key)
	if err != nil {
		return errors.Wrapf(err, "update status of suite %s", suite.Name)
	}
	if status == pump.StatusRunning || status == pump.StatusQueued {
		return nil
	}

	s.mu.Lock()
	runID, ok := s.runs[suite.Key]
	delete(s.runs, suite.Key)
	s.mu.Unlock()
	if !ok {
		return nil
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE suite_runs SET finished_at = ?, status = ?, error_message = ?,
		       records_published = (SELECT COALESCE(SUM(records_published), 0) FROM jobs WHERE suite_id = ?)
		WHERE id = ?`,
		s.stamp(), string(status), message, suite.Key, runID)
	if err != nil {
		return errors.Wrapf(err, "close run of suite %s", suite.Name)
	}
	return nil
}

// JobStarted stores the RUNNING status and the job's new interval.
func (s *Store) JobStarted(ctx context.Context, j *pump.Job) error {
	if !j.Persistent() {
		return nil
	}
	start, end := j.Interval()
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, error_message = '', interval_start = ?, interval_end = ?, updated_at = ?
		WHERE id = ?`,
		string(pump.StatusRunning), formatTime(start), formatTime(end), s.stamp(), j.Key)
	return errors.Wrapf(err, "start job %s", j.Name)
}

// JobStatus stores the job's status and failure message.
func (s *Store) JobStatus(ctx context.Context, j *pump.Job, status pump.Status, message string) error {
	if !j.Persistent() {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `UPDATE jobs SET status = ?, error_message = ?, updated_at = ? WHERE id = ?`,
		string(status), message, s.stamp(), j.Key)
	return errors.Wrapf(err, "update status of job %s", j.Name)
}

// PostMetrics stores the job's counters.
func (s *Store) PostMetrics(ctx context.Context, j *pump.Job, m *pump.Metrics) error {
	if !j.Persistent() {
		return nil
	}
	var expected interface{}
	if n, ok := m.RecordsExpected(); ok {
		expected = n
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET records_inserted = ?, records_updated = ?, records_deleted = ?,
		       records_unchanged = ?, records_published = ?, records_expected = ?, updated_at = ?
		WHERE id = ?`,
		m.Inserted, m.Updated, m.Deleted, m.Unchanged, m.RecordsPublished(), expected, s.stamp(), j.Key)
	return errors.Wrapf(err, "post metrics of job %s", j.Name)
}

// LoadMetrics returns the counters last posted for j.
func (s *Store) LoadMetrics(ctx context.Context, j *pump.Job) (*pump.Metrics, error) {
	m := pump.NewMetrics()
	if !j.Persistent() {
		return m, nil
	}
	var published, expected sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT records_inserted, records_updated, records_deleted, records_unchanged,
		       records_published, records_expected
		FROM jobs WHERE id = ?`, j.Key).
		Scan(&m.Inserted, &m.Updated, &m.Deleted, &m.Unchanged, &published, &expected)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewNotFoundError("job %s not found", j.Key)
		}
		return nil, errors.Wrapf(err, "load metrics of job %s", j.Name)
	}
	if published.Valid {
		m.IncrementPublished(int(published.Int64))
	}
	if expected.Valid {
		m.SetExpected(int(expected.Int64))
	}
	return m, nil
}

// Runs returns the latest runs of a suite, newest first.
func (s *Store) Runs(ctx context.Context, suiteKey string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, suite_id, run_start, finished_at, status, error_message, records_published
		FROM suite_runs WHERE suite_id = ?
		ORDER BY run_start DESC, finished_at DESC
		LIMIT ?`, suiteKey, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var runStart, status string
		var finished sql.NullString
		if err := rows.Scan(&r.ID, &r.SuiteKey, &runStart, &finished, &status, &r.Message, &r.Published); err != nil {
			return nil, errors.Wrap(err, "scan run")
		}
		t, err := source.ParseTime(runStart)
		if err != nil {
			return nil, errors.Wrapf(err, "run %s", r.ID)
		}
		r.RunStart = t
		if r.Finished, err = parseTime(finished); err != nil {
			return nil, errors.Wrapf(err, "run %s", r.ID)
		}
		r.Status = pump.Status(status)
		runs = append(runs, r)
	}
	return runs, errors.Wrap(rows.Err(), "iterate runs")
}
