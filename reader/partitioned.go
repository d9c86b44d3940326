package reader

import (
	"context"

	"go.uber.org/zap"

	"github.com/teranos/datapump/errors"
	"github.com/teranos/datapump/logger"
	"github.com/teranos/datapump/source"
)

// PartitionedReader reads a table one partition value at a time. Each
// partition is drained before the next starts, and the number of records
// read from it must equal its grouped count.
type PartitionedReader struct {
	table     source.Table
	filter    source.Filter
	sortField string
	field     string
	opts      Options
	log       *zap.SugaredLogger

	groups   []source.GroupCount
	prepared bool
	skip     int

	idx     int
	current *ChunkedReader
	read    int
}

// NewPartitionedReader creates a reader partitioned by field.
func NewPartitionedReader(table source.Table, filter source.Filter, field, sortField string, opts Options, log *zap.SugaredLogger) *PartitionedReader {
	if log == nil {
		log = logger.ComponentLogger("reader")
	}
	return &PartitionedReader{
		table:     table,
		filter:    filter,
		sortField: sortField,
		field:     field,
		opts:      opts.normalized(),
		log:       log.With(logger.FieldTable, table.Name(), logger.FieldPartition, field),
	}
}

// Prepare reads the grouped counts.
func (r *PartitionedReader) Prepare(ctx context.Context) error {
	if r.prepared {
		return nil
	}
	if err := errors.CheckContext(ctx); err != nil {
		return err
	}
	groups, err := r.table.GroupCount(ctx, r.filter, r.field)
	if err != nil {
		return errors.WrapExec(err, "group count "+r.table.Name())
	}
	r.groups = groups
	r.prepared = true
	r.log.Infow("Partitions read", logger.FieldCount, len(groups), logger.FieldExpected, r.NumKeys())
	return nil
}

// Partitions returns the grouped counts in read order.
func (r *PartitionedReader) Partitions() []source.GroupCount {
	return r.groups
}

// NumKeys returns the sum of the expected partition counts.
func (r *PartitionedReader) NumKeys() int {
	n := 0
	for _, g := range r.groups {
		n += g.Count
	}
	return n
}

// SetFirstRow skips whole partitions whose cumulative count is at most n,
// then offsets into the next one.
func (r *PartitionedReader) SetFirstRow(n int) {
	if n < 0 {
		n = 0
	}
	r.skip = n
}

func (r *PartitionedReader) remaining() int {
	n := -r.skip
	for _, g := range r.groups[r.idx:] {
		n += g.Count
	}
	return n
}

// Finished reports whether every partition has been drained.
func (r *PartitionedReader) Finished() bool {
	return r.prepared && r.current == nil && r.remaining() <= 0
}

// NextChunk returns the next chunk of the current partition.
func (r *PartitionedReader) NextChunk(ctx context.Context) ([]source.Record, error) {
	if err := r.Prepare(ctx); err != nil {
		return nil, err
	}

	for r.current == nil {
		if r.idx >= len(r.groups) {
			return nil, nil
		}
		g := r.groups[r.idx]
		if r.skip >= g.Count {
			r.skip -= g.Count
			r.idx++
			continue
		}

		r.current = NewChunkedReader(r.table, r.filter.Where(r.field, source.OpEq, g.Value), r.sortField, r.opts, r.log)
		if err := r.current.Prepare(ctx); err != nil {
			r.current = nil
			return nil, err
		}
		r.current.SetFirstRow(r.skip)
		r.read = r.skip
		r.skip = 0
		r.log.Infow("Reading partition", "value", g.Value, logger.FieldExpected, g.Count)
	}

	chunk, err := r.current.NextChunk(ctx)
	if err != nil {
		return nil, err
	}
	r.read += len(chunk)

	if r.current.Finished() {
		g := r.groups[r.idx]
		if r.read != g.Count {
			return nil, errors.NewInvariant("%s partition %s=%s: expected %d records, read %d",
				r.table.Name(), r.field, g.Value, g.Count, r.read)
		}
		r.current = nil
		r.idx++
	}
	return chunk, nil
}
