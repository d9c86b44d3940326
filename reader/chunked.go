package reader

import (
	"context"

	"go.uber.org/zap"

	"github.com/teranos/datapump/errors"
	"github.com/teranos/datapump/logger"
	"github.com/teranos/datapump/source"
)

// ChunkedReader enumerates keys, then reads records one window at a time.
// It never asks the remote for more than ChunkSize records, or KeyChunk
// keys, in a single call.
type ChunkedReader struct {
	table     source.Table
	filter    source.Filter
	sortField string
	opts      Options
	log       *zap.SugaredLogger

	keys        source.KeyList
	prepared    bool
	firstRow    int
	recordsRead int
}

// NewChunkedReader creates a reader over table restricted by filter and
// ordered by sortField (empty for unordered).
func NewChunkedReader(table source.Table, filter source.Filter, sortField string, opts Options, log *zap.SugaredLogger) *ChunkedReader {
	if log == nil {
		log = logger.ComponentLogger("reader")
	}
	return &ChunkedReader{
		table:     table,
		filter:    filter,
		sortField: sortField,
		opts:      opts.normalized(),
		log:       log.With(logger.FieldTable, table.Name()),
	}
}

// WithKeys supplies the key list up front so enumeration is skipped.
func (r *ChunkedReader) WithKeys(keys source.KeyList) *ChunkedReader {
	r.keys = keys
	r.prepared = true
	return r
}

// Prepare enumerates the matching keys unless they were supplied.
func (r *ChunkedReader) Prepare(ctx context.Context) error {
	if r.prepared {
		return nil
	}
	keys, err := r.enumerate(ctx)
	if err != nil {
		return err
	}
	r.keys = keys
	r.prepared = true
	return nil
}

// Keys returns the enumerated key list.
func (r *ChunkedReader) Keys(ctx context.Context) (source.KeyList, error) {
	if err := r.Prepare(ctx); err != nil {
		return nil, err
	}
	return r.keys, nil
}

func (r *ChunkedReader) enumerate(ctx context.Context) (source.KeyList, error) {
	expected := -1
	if r.opts.CheckCount {
		if err := errors.CheckContext(ctx); err != nil {
			return nil, err
		}
		n, err := r.table.Count(ctx, r.filter)
		if err != nil {
			return nil, errors.WrapExec(err, "count "+r.table.Name())
		}
		expected = n
		r.log.Debugw("Expected key count", logger.FieldExpected, expected, logger.FieldFilter, r.filter.String())
	}

	var keys source.KeyList
	first := 0
	for {
		if err := errors.CheckContext(ctx); err != nil {
			return nil, err
		}
		page, err := r.table.Keys(ctx, r.filter, r.sortField, source.Window{First: first, Limit: r.opts.KeyChunk})
		if err != nil {
			return nil, errors.WrapExec(err, "read keys of "+r.table.Name())
		}
		if err := errors.CheckContext(ctx); err != nil {
			return nil, err
		}
		keys = append(keys, page...)

		if r.opts.KeyChunk == 0 {
			break
		}
		// Access control can drop rows from a full page, so only a clearly
		// short page ends the enumeration.
		if float64(len(page)) < r.opts.Threshold*float64(r.opts.KeyChunk) {
			break
		}
		if expected >= 0 && len(keys) >= expected {
			break
		}
		first += r.opts.KeyChunk
		r.log.Infow("Reading keys", logger.FieldCount, len(keys))
	}

	if unique := keys.UniqueCount(); unique != keys.Len() {
		return nil, errors.NewInvariant("%s: key list contains %d duplicates", r.table.Name(), keys.Len()-unique)
	}
	if expected >= 0 && keys.Len() != expected {
		r.log.Warnw("Key count does not match expected count (possible access control undercount)",
			logger.FieldCount, keys.Len(),
			logger.FieldExpected, expected,
		)
	}
	r.log.Infow("Keys read", logger.FieldCount, keys.Len())
	return keys, nil
}

// NumKeys returns the size of the key list. It is zero until Prepare.
func (r *ChunkedReader) NumKeys() int { return r.keys.Len() }

// RecordsRead returns the number of records returned so far.
func (r *ChunkedReader) RecordsRead() int { return r.recordsRead }

// SetFirstRow positions the reader at row n of the key list.
func (r *ChunkedReader) SetFirstRow(n int) {
	if n < 0 {
		n = 0
	}
	r.firstRow = n
}

// FirstRow returns the index of the next key to read.
func (r *ChunkedReader) FirstRow() int { return r.firstRow }

// Finished reports whether every key has been read. A reader that has not
// been prepared is not finished.
func (r *ChunkedReader) Finished() bool {
	return r.prepared && r.firstRow >= r.keys.Len()
}

// NextChunk returns the records for the next window of keys.
func (r *ChunkedReader) NextChunk(ctx context.Context) ([]source.Record, error) {
	if err := r.Prepare(ctx); err != nil {
		return nil, err
	}
	if r.Finished() {
		return nil, nil
	}
	if err := errors.CheckContext(ctx); err != nil {
		return nil, err
	}

	last := r.firstRow + r.opts.ChunkSize
	if last > r.keys.Len() {
		last = r.keys.Len()
	}
	records, err := r.table.Records(ctx, r.keys.Filter(r.firstRow, last), r.sortField)
	if err != nil {
		return nil, errors.WrapExec(err, "read records of "+r.table.Name())
	}
	if err := errors.CheckContext(ctx); err != nil {
		return nil, err
	}

	r.log.Debugw("Chunk read",
		logger.FieldFirstRow, r.firstRow,
		logger.FieldChunkSize, last-r.firstRow,
		logger.FieldCount, len(records),
	)
	r.firstRow = last
	r.recordsRead += len(records)
	return records, nil
}

// ReadAll drains the reader.
func ReadAll(ctx context.Context, r Reader) ([]source.Record, error) {
	var out []source.Record
	for {
		chunk, err := r.NextChunk(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, chunk...)
		if r.Finished() {
			return out, nil
		}
	}
}
