package remote

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/teranos/datapump/am"
	"github.com/teranos/datapump/errors"
	dptest "github.com/teranos/datapump/internal/testing"
	"github.com/teranos/datapump/pump"
	"github.com/teranos/datapump/source"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	catalog *Catalog
	suites  *dptest.MemoryTable
	jobs    *dptest.MemoryTable
	logs    *observer.ObservedLogs
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	src := dptest.NewMemorySource()
	suites := src.AddTable("u_datapump_jobset", source.TableSchema{{Name: "sys_id", Type: "GUID", Length: 32}})
	jobs := src.AddTable("u_datapump_job", source.TableSchema{{Name: "sys_id", Type: "GUID", Length: 32}})

	suites.Insert(
		map[string]string{"sys_id": "s1", "u_name": "nightly", "u_status": "ready", "u_target": "mart",
			"u_frequency": "1970-01-01 01:00:00", "u_run_start": "2024-03-01 11:00:00"},
		map[string]string{"sys_id": "s2", "u_name": "done", "u_status": "complete", "u_target": "mart"},
		map[string]string{"sys_id": "s3", "u_name": "weekly", "u_status": "resume", "u_target": "other",
			"u_frequency": "604800"},
	)
	jobs.Insert(
		map[string]string{"sys_id": "j2", "u_jobset": "s1", "u_inactive": "false", "u_order": "10",
			"u_name": "incidents", "u_operation": "load", "u_table": "incident", "u_load_method": "UI",
			"u_truncate": "true", "u_interval_field": "updated", "u_conditions": "active=true",
			"u_interval_start": "2024-01-01 00:00:00", "u_interval_end": "2024-02-01 00:00:00",
			"u_status": "ready"},
		map[string]string{"sys_id": "j1", "u_jobset": "s1", "u_inactive": "false", "u_order": "9",
			"u_operation": "refresh", "u_table": "problem", "u_sql_table_name": "problems",
			"u_load_method": "I", "u_interval_end": "2024-03-01 00:00:00", "u_status": "ready"},
		map[string]string{"sys_id": "j3", "u_jobset": "s1", "u_inactive": "true", "u_order": "1",
			"u_operation": "load", "u_table": "sys_user", "u_load_method": "I", "u_status": "ready"},
		map[string]string{"sys_id": "j4", "u_jobset": "s1", "u_inactive": "false", "u_order": "20",
			"u_operation": "prune", "u_table": "incident", "u_status": "ready"},
		map[string]string{"sys_id": "j5", "u_jobset": "s3", "u_inactive": "false", "u_order": "1",
			"u_operation": "sql", "u_sql_statement": "DELETE FROM staging", "u_status": "failed",
			"u_error_message": "exec: boom"},
	)

	core, logs := observer.New(zapcore.WarnLevel)
	return &fixture{
		catalog: New(src, &am.Config{}, zap.New(core).Sugar()),
		suites:  suites,
		jobs:    jobs,
		logs:    logs,
	}
}

func TestSchedulable(t *testing.T) {
	f := newFixture(t)
	suites, err := f.catalog.Schedulable(context.Background(), "mart")
	require.NoError(t, err)
	require.Len(t, suites, 1)

	s := suites[0]
	assert.Equal(t, "s1", s.Key)
	assert.Equal(t, "nightly", s.Name)
	assert.Equal(t, pump.StatusReady, s.Status())
	assert.Equal(t, time.Hour, s.Frequency)
	assert.Equal(t, time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC), *s.RunStart())
	assert.Nil(t, s.NextRunStart())

	require.Len(t, s.Jobs, 3)
	var keys []string
	for _, j := range s.Jobs {
		keys = append(keys, j.Key)
	}
	assert.Equal(t, []string{"j1", "j2", "j4"}, keys)

	refresh := s.Jobs[0]
	assert.Equal(t, pump.OpRefresh, refresh.Operation)
	assert.Equal(t, "problems", refresh.Name)
	assert.Equal(t, pump.InsertOnly, refresh.Method)
	assert.Equal(t, source.FieldUpdatedOn, refresh.SortField)
	start, end := refresh.Interval()
	assert.Nil(t, start)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), *end)

	load := s.Jobs[1]
	assert.Equal(t, "incidents", load.Name)
	assert.Equal(t, pump.UpdateInsert, load.Method)
	assert.True(t, load.Truncate)
	assert.False(t, load.UseCreatedDate)
	assert.Equal(t, source.FieldUpdatedOn, load.SortField)
	assert.Equal(t, "active=true", load.BaseFilter.String())
	start, end = load.Interval()
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), *start)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), *end)

	prune := s.Jobs[2]
	assert.Equal(t, pump.OpPrune, prune.Operation)
	assert.Empty(t, string(prune.Method))

	all, err := f.catalog.Schedulable(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "weekly", all[1].Name)
	assert.Equal(t, 7*24*time.Hour, all[1].Frequency)
	assert.Equal(t, "exec: boom", all[1].Jobs[0].Message())
	assert.Equal(t, pump.StatusFailed, all[1].Jobs[0].Status())
}

func TestMalformedSuiteIsSkipped(t *testing.T) {
	f := newFixture(t)
	f.suites.Insert(map[string]string{"sys_id": "s4", "u_name": "broken", "u_status": "ready", "u_target": "mart",
		"u_frequency": "often"})

	suites, err := f.catalog.Schedulable(context.Background(), "mart")
	require.NoError(t, err)
	assert.Len(t, suites, 1)
	assert.Equal(t, 1, f.logs.FilterMessage("Skipping suite").Len())
}

func TestInvalidJobIsInit(t *testing.T) {
	f := newFixture(t)
	f.jobs.Insert(map[string]string{"sys_id": "j6", "u_jobset": "s1", "u_inactive": "false", "u_order": "30",
		"u_operation": "load", "u_table": "incident", "u_load_method": "X", "u_status": "ready"})

	_, err := f.catalog.Suite(context.Background(), "s1")
	require.Error(t, err)
	assert.True(t, errors.IsInit(err))
}

func TestStatusWrittenBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	suite, err := f.catalog.Suite(ctx, "s1")
	require.NoError(t, err)

	_, err = suite.StartRunning(t0)
	require.NoError(t, err)
	require.NoError(t, f.catalog.SuiteStarted(ctx, suite))
	rec, _ := f.suites.Row("s1")
	assert.Equal(t, "running", rec.Get("u_status"))
	assert.Equal(t, "2024-03-01 12:00:00", rec.Get("u_run_start"))
	assert.Equal(t, "2024-03-01 13:00:00", rec.Get("u_next_run_start"))

	job := suite.Jobs[0]
	job.StartRunning(t0)
	require.NoError(t, f.catalog.JobStarted(ctx, job))
	rec, _ = f.jobs.Row("j1")
	assert.Equal(t, "running", rec.Get("u_status"))
	assert.Equal(t, "2024-03-01 00:00:00", rec.Get("u_interval_start"))
	assert.Equal(t, "2024-03-01 12:00:00", rec.Get("u_interval_end"))

	m := pump.NewMetrics()
	m.SetExpected(4)
	m.IncrementInserts(1)
	m.IncrementUpdates(1)
	m.IncrementUnchanged(1)
	m.IncrementPublished(3)
	require.NoError(t, f.catalog.PostMetrics(ctx, job, m))
	rec, _ = f.jobs.Row("j1")
	assert.Equal(t, "1", rec.Get("u_records_inserted"))
	assert.Equal(t, "3", rec.Get("u_records_processed"))
	assert.Equal(t, "4", rec.Get("u_records_total"))

	loaded, err := f.catalog.LoadMetrics(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.RecordsPublished())
	assert.Equal(t, 2, loaded.Updated)
	assert.NoError(t, loaded.Check())

	require.NoError(t, f.catalog.JobStatus(ctx, job, pump.StatusFailed, "exec: boom"))
	require.NoError(t, f.catalog.SuiteStatus(ctx, suite, pump.StatusFailed, "exec: boom"))
	rec, _ = f.jobs.Row("j1")
	assert.Equal(t, "failed", rec.Get("u_status"))
	assert.Equal(t, "exec: boom", rec.Get("u_error_message"))
	rec, _ = f.suites.Row("s1")
	assert.Equal(t, "failed", rec.Get("u_status"))
}

func TestEphemeralIsNotWritten(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := &pump.Suite{}
	j := &pump.Job{Name: "x", Operation: pump.OpSQL, SQL: "SELECT 1"}
	assert.NoError(t, f.catalog.SuiteStarted(ctx, s))
	assert.NoError(t, f.catalog.SuiteStatus(ctx, s, pump.StatusComplete, ""))
	assert.NoError(t, f.catalog.JobStarted(ctx, j))
	assert.NoError(t, f.catalog.JobStatus(ctx, j, pump.StatusComplete, ""))
	assert.NoError(t, f.catalog.PostMetrics(ctx, j, pump.NewMetrics()))
	m, err := f.catalog.LoadMetrics(ctx, j)
	require.NoError(t, err)
	assert.Equal(t, 0, m.RecordsPublished())
}

func TestParseFrequency(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"900", 15 * time.Minute},
		{"1970-01-02 00:00:00", 24 * time.Hour},
	}
	for _, tt := range tests {
		got, err := parseFrequency(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
	_, err := parseFrequency("weekly")
	assert.Error(t, err)
}

func TestSchedulableKeepsEncodedConditions(t *testing.T) {
	f := newFixture(t)
	f.suites.Insert(map[string]string{"sys_id": "s4", "u_name": "ui", "u_status": "ready", "u_target": "ui"})
	f.jobs.Insert(
		map[string]string{"sys_id": "j6", "u_jobset": "s4", "u_inactive": "false", "u_order": "1",
			"u_operation": "load", "u_table": "incident", "u_load_method": "UI",
			"u_conditions": "active=true^EQ", "u_status": "ready"},
		map[string]string{"sys_id": "j7", "u_jobset": "s4", "u_inactive": "false", "u_order": "2",
			"u_operation": "refresh", "u_table": "problem", "u_load_method": "I",
			"u_conditions": "a=1^ORb=2", "u_status": "ready"},
	)

	suites, err := f.catalog.Schedulable(context.Background(), "ui")
	require.NoError(t, err)
	require.Len(t, suites, 1)
	require.Len(t, suites[0].Jobs, 2)
	assert.Equal(t, "active=true^EQ", suites[0].Jobs[0].BaseFilter.String())
	assert.Equal(t, "a=1^ORb=2", suites[0].Jobs[1].BaseFilter.String())
	assert.Zero(t, f.logs.FilterMessage("Skipping suite").Len())
}
