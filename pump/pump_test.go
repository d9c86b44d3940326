package pump

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/teranos/datapump/errors"
	"github.com/teranos/datapump/source"
)

func ts(s string) *time.Time {
	t, err := source.ParseTime(s)
	if err != nil {
		panic(err)
	}
	return &t
}

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus("resume")
	require.NoError(t, err)
	assert.Equal(t, StatusResume, st)

	_, err = ParseStatus("paused")
	assert.Error(t, err)
}

func TestStatusRunnable(t *testing.T) {
	tests := []struct {
		status     Status
		persistent bool
		want       bool
	}{
		{StatusQueued, true, true},
		{StatusReady, true, true},
		{StatusRunning, true, true},
		{StatusResume, true, true},
		{StatusPending, false, true},
		{StatusPending, true, false},
		{StatusComplete, false, false},
		{StatusFailed, true, false},
		{StatusCancelled, false, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.status.Runnable(tt.persistent), "%s persistent=%v", tt.status, tt.persistent)
	}
}

func TestParseLoadMethod(t *testing.T) {
	for in, want := range map[string]LoadMethod{
		"I":                  InsertOnly,
		"UI":                 UpdateInsert,
		"T":                  CompareTimestamps,
		"insert-only":        InsertOnly,
		"update_insert":      UpdateInsert,
		"COMPARE_TIMESTAMPS": CompareTimestamps,
	} {
		got, err := ParseLoadMethod(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLoadMethod("merge")
	assert.Error(t, err)
	assert.Equal(t, "compare-timestamps", CompareTimestamps.Keyword())
}

func TestMetrics(t *testing.T) {
	m := NewMetrics()
	assert.Equal(t, 0, m.RecordsPublished())
	assert.NoError(t, m.Check())

	m.IncrementInserts(3)
	m.IncrementUpdates(2)
	assert.True(t, errors.IsInvariant(m.Check()))

	m.IncrementPublished(5)
	assert.NoError(t, m.Check())

	m.IncrementUnchanged(4)
	m.IncrementPublished(4)
	assert.NoError(t, m.Check())

	m.SetExpected(100)
	other := &Metrics{Deleted: 2}
	other.IncrementPublished(2)
	other.IncrementConsumed(7)
	m.Add(other)
	assert.Equal(t, 11, m.RecordsPublished())
	assert.Equal(t, 2, m.Deleted)
	assert.Equal(t, 7, *m.Consumed)
	n, ok := m.RecordsExpected()
	assert.True(t, ok)
	assert.Equal(t, 100, n)
	assert.NoError(t, m.Check())

	clone := m.Clone()
	clone.IncrementInserts(1)
	assert.Equal(t, 3, m.Inserted)

	m.Clear()
	assert.Nil(t, m.Published)
	assert.Nil(t, m.Expected)
	assert.Equal(t, 0, m.Inserted)
}

func TestMetricsLogInfo(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	m := &Metrics{Inserted: 4}
	m.IncrementPublished(4)

	m.LogInfo(zap.New(core).Sugar())

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.EqualValues(t, 4, fields["inserted"])
	assert.EqualValues(t, 4, fields["published"])
	_, hasDeleted := fields["deleted"]
	assert.False(t, hasDeleted)
}

func TestJobStartRunning(t *testing.T) {
	runStart := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)

	t.Run("refresh advances the interval", func(t *testing.T) {
		j := &Job{Name: "incident", Operation: OpRefresh, Method: UpdateInsert, Table: "incident"}
		j.SetInterval(nil, ts("2024-03-01 00:00:00"))

		j.StartRunning(runStart)
		start, end := j.Interval()
		assert.Equal(t, StatusRunning, j.Status())
		assert.Equal(t, "2024-03-01 00:00:00", source.FormatTime(*start))
		assert.Equal(t, runStart, *end)
	})

	t.Run("first refresh has no start", func(t *testing.T) {
		j := &Job{Name: "incident", Operation: OpRefresh, Method: UpdateInsert, Table: "incident"}
		j.StartRunning(runStart)
		start, end := j.Interval()
		assert.Nil(t, start)
		assert.Equal(t, runStart, *end)
	})

	t.Run("unfinished run keeps its start", func(t *testing.T) {
		for _, prev := range []Status{StatusResume, StatusFailed, StatusCancelled, StatusRunning} {
			j := &Job{Name: "incident", Operation: OpPrune, Table: "incident"}
			j.SetInterval(ts("2024-02-29 00:00:00"), ts("2024-03-01 00:00:00"))
			j.SetStatus(prev)

			j.StartRunning(runStart)
			start, end := j.Interval()
			assert.Equal(t, "2024-02-29 00:00:00", source.FormatTime(*start), prev)
			assert.Equal(t, runStart, *end, prev)
		}
	})

	t.Run("resume after a failure repeats the window", func(t *testing.T) {
		j := &Job{Name: "incident", Operation: OpRefresh, Method: UpdateInsert, Table: "incident"}
		j.SetInterval(nil, ts("2024-03-01 00:00:00"))
		j.StartRunning(runStart.Add(-time.Hour))
		require.NoError(t, j.SetFailedStatus(StatusFailed, "boom"))
		j.SetStatus(StatusResume)

		j.StartRunning(runStart)
		start, end := j.Interval()
		assert.Equal(t, "2024-03-01 00:00:00", source.FormatTime(*start))
		assert.Equal(t, runStart, *end)
	})

	t.Run("load keeps its interval", func(t *testing.T) {
		j := &Job{Name: "incident", Operation: OpLoad, Method: InsertOnly, Table: "incident"}
		j.SetInterval(ts("2024-01-01 00:00:00"), ts("2024-02-01 00:00:00"))
		j.StartRunning(runStart)
		start, end := j.Interval()
		assert.Equal(t, "2024-01-01 00:00:00", source.FormatTime(*start))
		assert.Equal(t, "2024-02-01 00:00:00", source.FormatTime(*end))
	})
}

func TestJobStatusTransitions(t *testing.T) {
	j := &Job{Name: "incident", Operation: OpLoad, Method: InsertOnly, Table: "incident"}

	require.NoError(t, j.SetFailedStatus(StatusFailed, "boom"))
	assert.Equal(t, StatusFailed, j.Status())
	assert.Equal(t, "boom", j.Message())

	assert.Error(t, j.SetFailedStatus(StatusComplete, "nope"))
	assert.Error(t, j.SetCompletedStatus(StatusCancelled))

	require.NoError(t, j.SetCompletedStatus(StatusReady))
	assert.Equal(t, StatusReady, j.Status())
	assert.Empty(t, j.Message())
}

func TestJobValidate(t *testing.T) {
	j := &Job{Name: "incident", Operation: OpRefresh, Method: UpdateInsert, Table: "incident"}
	j.SetInterval(ts("2024-03-02 00:00:00"), ts("2024-03-01 00:00:00"))
	assert.True(t, errors.IsInvariant(j.Validate()))

	assert.True(t, errors.IsInit((&Job{Name: "x", Operation: OpSQL}).Validate()))
	assert.NoError(t, (&Job{Name: "x", Operation: OpSQL, SQL: "delete from t"}).Validate())
	assert.True(t, errors.IsInit((&Job{Name: "x", Operation: OpLoad, Table: "t"}).Validate()))
	assert.NoError(t, (&Job{Name: "x", Operation: OpPrune, Table: "t"}).Validate())
}

func TestJobFilters(t *testing.T) {
	j := &Job{Name: "incident", Operation: OpLoad, Method: InsertOnly, Table: "incident", PartitionField: "state", PartitionValue: "2"}
	assert.Equal(t, "state=2", j.PartitionFilter().String())
	assert.True(t, j.IntervalFilter().IsEmpty())

	j.SetInterval(ts("2024-01-01 00:00:00"), nil)
	j.UseCreatedDate = true
	assert.Equal(t, "sys_created_on>=2024-01-01 00:00:00", j.IntervalFilter().String())
	j.UseCreatedDate = false
	assert.Equal(t, "sys_updated_on>=2024-01-01 00:00:00", j.IntervalFilter().String())

	assert.True(t, (&Job{}).PartitionFilter().IsEmpty())
}

func TestJobDescription(t *testing.T) {
	load := &Job{
		Name: "incident", Operation: OpLoad, Method: InsertOnly, Table: "incident", Target: "inc",
		Truncate: true, PartitionField: "state", PartitionValue: "2",
		BaseFilter: source.MustParseFilter("active=true"),
	}
	load.SetInterval(ts("2024-01-01 00:00:00"), nil)
	assert.Equal(t,
		"load incident into inc truncate insert-only from 2024-01-01 00:00:00 partition state {2} where {active=true}",
		load.Description())

	refresh := &Job{Name: "incident", Operation: OpRefresh, Method: UpdateInsert, Table: "incident"}
	refresh.SetInterval(nil, ts("2024-03-01 00:00:00"))
	assert.Equal(t, "refresh incident into incident since 2024-03-01 00:00:00", refresh.Description())

	sql := &Job{Name: "SQL", Operation: OpSQL, SQL: "delete from inc"}
	assert.Equal(t, "sql {delete from inc}", sql.Description())
}

func TestSuiteStartRunning(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	polling := &Suite{Name: "nightly", Key: "s1", Frequency: time.Hour}
	runStart, err := polling.StartRunning(now)
	require.NoError(t, err)
	assert.Equal(t, now, runStart)
	assert.Equal(t, StatusRunning, polling.Status())
	assert.Equal(t, now.Add(time.Hour), *polling.NextRunStart())
	assert.Equal(t, StatusReady, polling.CompletedStatus())

	_, err = polling.StartRunning(now.Add(-time.Minute))
	assert.True(t, errors.IsInvariant(err))

	once := &Suite{}
	_, err = once.StartRunning(now)
	require.NoError(t, err)
	assert.Nil(t, once.NextRunStart())
	assert.Equal(t, StatusComplete, once.CompletedStatus())

	// script suites may restart at any time
	_, err = once.StartRunning(now.Add(-time.Hour))
	assert.NoError(t, err)
}

func TestSuiteDue(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s := &Suite{Name: "hourly", Key: "s1", Frequency: time.Hour}
	s.SetStatus(StatusReady)
	assert.True(t, s.Due(now), "never run")

	next := now.Add(time.Minute)
	s.SetSchedule(&now, &next)
	assert.False(t, s.Due(now))
	assert.True(t, s.Due(next))

	s.SetStatus(StatusRunning)
	assert.False(t, s.Due(next))

	s.SetStatus(StatusResume)
	assert.True(t, s.Due(next))
}

func TestSuiteDescription(t *testing.T) {
	s := &Suite{Name: "nightly", Frequency: 90 * time.Second, Jobs: []*Job{
		{Name: "SQL", Operation: OpSQL, SQL: "vacuum"},
		{Name: "incident", Operation: OpGenerate, Table: "incident"},
	}}
	assert.Equal(t, "nightly: every 90 seconds\nsql {vacuum}\ngenerate incident into incident\n", s.Description())
}

func TestNopSink(t *testing.T) {
	var sink StatusSink = NopSink{}
	m, err := sink.LoadMetrics(context.Background(), &Job{})
	require.NoError(t, err)
	assert.Equal(t, 0, m.RecordsPublished())
	assert.NoError(t, sink.SuiteStatus(context.Background(), &Suite{}, StatusComplete, ""))
}
