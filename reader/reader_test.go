package reader

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/teranos/datapump/errors"
	dptest "github.com/teranos/datapump/internal/testing"
	"github.com/teranos/datapump/source"
)

func seedIncidents(t *testing.T, n int) (*dptest.MemorySource, *dptest.MemoryTable) {
	t.Helper()
	src := dptest.NewMemorySource()
	tbl := src.AddTable("incident", source.TableSchema{{Name: "sys_id"}, {Name: "number"}, {Name: "state"}})
	for i := 0; i < n; i++ {
		tbl.Insert(map[string]string{
			"sys_id":         fmt.Sprintf("k%04d", i),
			"number":         fmt.Sprintf("INC%04d", i),
			"state":          fmt.Sprint(i%3 + 1),
			"sys_created_on": fmt.Sprintf("2024-01-01 00:%02d:%02d", i/60%60, i%60),
		})
	}
	return src, tbl
}

func openIncident(t *testing.T, src *dptest.MemorySource) source.Table {
	t.Helper()
	tbl, err := src.Table(context.Background(), "incident", source.TableOptions{})
	require.NoError(t, err)
	return tbl
}

func observed() (*zap.SugaredLogger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(core).Sugar(), logs
}

func TestChunkedReader_ReadsEverythingInBoundedChunks(t *testing.T) {
	const n = 1050
	for _, keyChunk := range []int{100, 350, n} {
		for _, chunkSize := range []int{1, 7, 50} {
			t.Run(fmt.Sprintf("keys %d chunk %d", keyChunk, chunkSize), func(t *testing.T) {
				src, mem := seedIncidents(t, n)
				opts := Options{KeyChunk: keyChunk, ChunkSize: chunkSize, Threshold: DefaultThreshold, CheckCount: true}

				r := NewChunkedReader(openIncident(t, src), source.Filter{}, "sys_created_on", opts, nil)
				assert.False(t, r.Finished())

				seen := make(map[source.Key]bool)
				for !r.Finished() {
					chunk, err := r.NextChunk(context.Background())
					require.NoError(t, err)
					require.LessOrEqual(t, len(chunk), chunkSize)
					for _, rec := range chunk {
						require.False(t, seen[rec.Key], "duplicate %s", rec.Key)
						seen[rec.Key] = true
					}
				}

				assert.Len(t, seen, n)
				assert.Equal(t, n, r.NumKeys())
				assert.Equal(t, n, r.RecordsRead())
				assert.Equal(t, (n+keyChunk-1)/keyChunk, mem.KeyCalls)
				assert.Equal(t, (n+chunkSize-1)/chunkSize, mem.RecordCalls)
				assert.LessOrEqual(t, mem.MaxRecords, chunkSize)
				assert.Equal(t, "sys_created_on", mem.LastSort)
			})
		}
	}
}

func TestChunkedReader_SingleUnboundedKeyCall(t *testing.T) {
	src, mem := seedIncidents(t, 300)
	opts := Options{KeyChunk: 0, ChunkSize: 200, CheckCount: false}

	r := NewChunkedReader(openIncident(t, src), source.Filter{}, "", opts, nil)
	keys, err := r.Keys(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 300, keys.Len())
	assert.Equal(t, 1, mem.KeyCalls)
}

func TestChunkedReader_StopsOnCountReached(t *testing.T) {
	src, mem := seedIncidents(t, 200)
	opts := Options{KeyChunk: 100, ChunkSize: 50, Threshold: DefaultThreshold, CheckCount: true}

	r := NewChunkedReader(openIncident(t, src), source.Filter{}, "", opts, nil)
	require.NoError(t, r.Prepare(context.Background()))
	assert.Equal(t, 200, r.NumKeys())
	// two full pages reach the count; no third empty page is requested
	assert.Equal(t, 2, mem.KeyCalls)
}

func TestChunkedReader_AccessControlUndercount(t *testing.T) {
	src, mem := seedIncidents(t, 250)
	// two rows in the first page are hidden; the page is still above threshold
	mem.Hide("k0003", "k0007")
	log, logs := observed()

	opts := Options{KeyChunk: 100, ChunkSize: 50, Threshold: DefaultThreshold, CheckCount: true}
	r := NewChunkedReader(openIncident(t, src), source.Filter{}, "", opts, log)
	require.NoError(t, r.Prepare(context.Background()))

	assert.Equal(t, 248, r.NumKeys())
	assert.Equal(t, 3, mem.KeyCalls)
	assert.Equal(t, 1, logs.FilterMessageSnippet("possible access control undercount").Len())
}

func TestChunkedReader_ThresholdEndsEnumeration(t *testing.T) {
	src, mem := seedIncidents(t, 300)
	// remote caps pages at 90 keys, below 95% of the requested 100
	mem.PageCap = 90

	opts := Options{KeyChunk: 100, ChunkSize: 50, Threshold: DefaultThreshold, CheckCount: false}
	r := NewChunkedReader(openIncident(t, src), source.Filter{}, "", opts, nil)
	require.NoError(t, r.Prepare(context.Background()))
	assert.Equal(t, 90, r.NumKeys())
	assert.Equal(t, 1, mem.KeyCalls)

	// a lower threshold keeps reading
	mem.KeyCalls = 0
	opts.Threshold = 0.5
	r = NewChunkedReader(openIncident(t, src), source.Filter{}, "", opts, nil)
	require.NoError(t, r.Prepare(context.Background()))
	assert.Equal(t, 270, r.NumKeys())
	assert.Equal(t, 4, mem.KeyCalls)
}

func TestChunkedReader_DuplicateKeysAreInvariantViolation(t *testing.T) {
	src, mem := seedIncidents(t, 10)
	mem.Insert(map[string]string{"sys_id": "k0001", "number": "dup"})

	r := NewChunkedReader(openIncident(t, src), source.Filter{}, "", Options{ChunkSize: 5}, nil)
	err := r.Prepare(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsInvariant(err))
}

func TestChunkedReader_CountMismatchIsOnlyAWarning(t *testing.T) {
	src, mem := seedIncidents(t, 10)
	mem.CountDelta = 3
	log, logs := observed()

	r := NewChunkedReader(openIncident(t, src), source.Filter{}, "", Options{KeyChunk: 100, ChunkSize: 5, CheckCount: true}, log)
	require.NoError(t, r.Prepare(context.Background()))
	assert.Equal(t, 10, r.NumKeys())
	assert.Equal(t, 1, logs.FilterLevelExact(zapcore.WarnLevel).Len())
}

func TestChunkedReader_SetFirstRowResumes(t *testing.T) {
	src, _ := seedIncidents(t, 100)

	r := NewChunkedReader(openIncident(t, src), source.Filter{}, "sys_created_on", Options{KeyChunk: 0, ChunkSize: 30}, nil)
	require.NoError(t, r.Prepare(context.Background()))
	r.SetFirstRow(75)

	recs, err := ReadAll(context.Background(), r)
	require.NoError(t, err)
	require.Len(t, recs, 25)
	assert.Equal(t, source.Key("k0075"), recs[0].Key)
}

func TestChunkedReader_WithKeysSkipsEnumeration(t *testing.T) {
	src, mem := seedIncidents(t, 20)

	r := NewChunkedReader(openIncident(t, src), source.Filter{}, "", Options{ChunkSize: 2}, nil).
		WithKeys(source.KeyList{"k0002", "k0009", "k0011"})
	recs, err := ReadAll(context.Background(), r)
	require.NoError(t, err)
	assert.Len(t, recs, 3)
	assert.Equal(t, 0, mem.KeyCalls)
	assert.Equal(t, 2, mem.RecordCalls)
}

func TestChunkedReader_EmptyResult(t *testing.T) {
	src, _ := seedIncidents(t, 5)

	r := NewChunkedReader(openIncident(t, src), source.MustParseFilter("state=9"), "", DefaultOptions(), nil)
	chunk, err := r.NextChunk(context.Background())
	require.NoError(t, err)
	assert.Empty(t, chunk)
	assert.True(t, r.Finished())
}

func TestChunkedReader_Cancellation(t *testing.T) {
	src, _ := seedIncidents(t, 50)
	r := NewChunkedReader(openIncident(t, src), source.Filter{}, "", Options{ChunkSize: 10}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	_, err := r.NextChunk(ctx)
	require.NoError(t, err)
	cancel()

	_, err = r.NextChunk(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsCancellation(err))
}

func TestChunkedReader_RemoteFailureIsExec(t *testing.T) {
	src, mem := seedIncidents(t, 5)
	mem.Err = errors.New("connection reset")

	r := NewChunkedReader(openIncident(t, src), source.Filter{}, "", DefaultOptions(), nil)
	_, err := r.NextChunk(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsExec(err))
}

func TestPartitionedReader(t *testing.T) {
	src, _ := seedIncidents(t, 90)

	r := NewPartitionedReader(openIncident(t, src), source.Filter{}, "state", "", Options{KeyChunk: 0, ChunkSize: 20}, nil)
	require.NoError(t, r.Prepare(context.Background()))
	assert.Equal(t, 90, r.NumKeys())
	assert.Equal(t, []source.GroupCount{{Value: "1", Count: 30}, {Value: "2", Count: 30}, {Value: "3", Count: 30}}, r.Partitions())

	var states []string
	for !r.Finished() {
		chunk, err := r.NextChunk(context.Background())
		require.NoError(t, err)
		assert.LessOrEqual(t, len(chunk), 20)
		for _, rec := range chunk {
			states = append(states, rec.Get("state"))
		}
	}
	require.Len(t, states, 90)
	// partitions are drained in order
	assert.Equal(t, "1", states[0])
	assert.Equal(t, "1", states[29])
	assert.Equal(t, "2", states[30])
	assert.Equal(t, "3", states[89])
}

func TestPartitionedReader_SnapshotChangeIsInvariantViolation(t *testing.T) {
	src, mem := seedIncidents(t, 30)
	mem.Hide("k0000")

	r := NewPartitionedReader(openIncident(t, src), source.Filter{}, "state", "", Options{ChunkSize: 100}, nil)
	_, err := r.NextChunk(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsInvariant(err))
}

func TestPartitionedReader_SetFirstRowSkipsPartitions(t *testing.T) {
	src, _ := seedIncidents(t, 90)

	r := NewPartitionedReader(openIncident(t, src), source.Filter{}, "state", "sys_created_on", Options{ChunkSize: 100}, nil)
	r.SetFirstRow(35)

	recs, err := ReadAll(context.Background(), r)
	require.NoError(t, err)
	require.Len(t, recs, 55)
	assert.Equal(t, "2", recs[0].Get("state"))
	assert.Equal(t, "3", recs[25].Get("state"))
}

func TestAuditDeletes(t *testing.T) {
	src, _ := seedIncidents(t, 1)
	audit := src.AddTable(source.AuditDeleteTable, source.TableSchema{{Name: "sys_id"}, {Name: "tablename"}, {Name: "documentkey"}})
	audit.Insert(
		map[string]string{"sys_id": "a1", "tablename": "incident", "documentkey": "d1", "sys_created_on": "2024-02-01 10:00:00"},
		map[string]string{"sys_id": "a2", "tablename": "problem", "documentkey": "d2", "sys_created_on": "2024-02-01 10:00:00"},
		map[string]string{"sys_id": "a3", "tablename": "incident", "documentkey": "d3", "sys_created_on": "2024-02-02 10:00:00"},
		map[string]string{"sys_id": "a4", "tablename": "incident", "documentkey": "d1", "sys_created_on": "2024-02-01 11:00:00"},
		map[string]string{"sys_id": "a5", "tablename": "incident", "documentkey": "d5", "sys_created_on": "2024-01-31 23:59:59"},
	)

	start := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 2, 2, 10, 0, 0, 0, time.UTC)

	keys, err := AuditDeletes(context.Background(), src, "incident", &start, &end, Options{ChunkSize: 1}, nil)
	require.NoError(t, err)
	assert.Equal(t, source.KeyList{"d1"}, keys)

	end = end.Add(time.Second)
	keys, err = AuditDeletes(context.Background(), src, "incident", &start, &end, DefaultOptions(), nil)
	require.NoError(t, err)
	assert.Equal(t, source.KeyList{"d1", "d3"}, keys)
}
