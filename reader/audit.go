package reader

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/datapump/errors"
	"github.com/teranos/datapump/source"
)

// AuditDeletes returns the keys of tableName records deleted in [start, end).
func AuditDeletes(ctx context.Context, src source.Source, tableName string, start, end *time.Time, opts Options, log *zap.SugaredLogger) (source.KeyList, error) {
	audit, err := src.Table(ctx, source.AuditDeleteTable, source.TableOptions{})
	if err != nil {
		return nil, errors.WrapInit(err, "open "+source.AuditDeleteTable)
	}

	filter := source.NewFilter(source.Clause{Field: source.AuditDeleteTableName, Op: source.OpEq, Value: tableName}).
		CreatedBetween(start, end)
	r := NewChunkedReader(audit, filter, source.FieldCreatedOn, opts, log)

	var keys source.KeyList
	seen := make(map[source.Key]bool)
	for !r.Finished() {
		chunk, err := r.NextChunk(ctx)
		if err != nil {
			return nil, err
		}
		for _, rec := range chunk {
			k := source.Key(rec.Get(source.AuditDeleteKey))
			// a record can be deleted, restored and deleted again
			if k == "" || seen[k] {
				continue
			}
			seen[k] = true
			keys = append(keys, k)
		}
	}
	return keys, nil
}
