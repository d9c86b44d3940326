// Package reader retrieves remote record sets in bounded chunks.
//
// A ChunkedReader first enumerates the keys matching a filter, then fetches
// records for consecutive windows of that key list. A PartitionedReader
// drains one ChunkedReader per value of a partition field and verifies each
// partition against its grouped count.
package reader

import (
	"context"

	"github.com/teranos/datapump/am"
	"github.com/teranos/datapump/source"
)

// Reader yields a record set chunk by chunk.
type Reader interface {
	// Prepare enumerates keys (or partitions). NextChunk calls it on demand.
	Prepare(ctx context.Context) error
	// NumKeys is the number of records the reader expects to return.
	NumKeys() int
	// SetFirstRow skips the first n records, for resuming a job.
	SetFirstRow(n int)
	NextChunk(ctx context.Context) ([]source.Record, error)
	Finished() bool
}

// DefaultThreshold is the fraction of a key page below which enumeration
// assumes it has reached the end.
const DefaultThreshold = 0.95

// Options controls chunk sizes and key enumeration.
type Options struct {
	KeyChunk   int     // keys per enumeration call, 0 = one unbounded call
	ChunkSize  int     // records per retrieval call
	Threshold  float64 // short-page fraction that ends enumeration
	CheckCount bool    // compare the key list with an independent count
}

// DefaultOptions returns the built-in defaults.
func DefaultOptions() Options {
	return Options{KeyChunk: 2000, ChunkSize: 200, Threshold: DefaultThreshold, CheckCount: true}
}

// OptionsFrom reads options from the [source] section of am.toml.
func OptionsFrom(c am.SourceConfig) Options {
	return Options{
		KeyChunk:   c.KeyChunk,
		ChunkSize:  c.ChunkSize,
		Threshold:  c.PageThreshold,
		CheckCount: c.CheckCount,
	}
}

func (o Options) normalized() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = 200
	}
	if o.KeyChunk < 0 {
		o.KeyChunk = 0
	}
	if o.Threshold <= 0 || o.Threshold > 1 {
		o.Threshold = DefaultThreshold
	}
	return o
}
