package logger

import (
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// stripANSI removes ANSI color codes from a string for testing
func stripANSI(str string) string {
	ansiRegex := regexp.MustCompile(`\x1b\[[0-9;]*m`)
	return ansiRegex.ReplaceAllString(str, "")
}

func encode(t *testing.T, enc zapcore.Encoder, ent zapcore.Entry, fields ...zapcore.Field) string {
	t.Helper()
	buf, err := enc.EncodeEntry(ent, fields)
	require.NoError(t, err)
	return stripANSI(buf.String())
}

// The console encoder must never drop a field.
func TestMinimalEncoderNeverDiscardsFields(t *testing.T) {
	entry := zapcore.Entry{
		Level:      zapcore.InfoLevel,
		Time:       time.Now(),
		LoggerName: "controller.job",
		Message:    "Chunk processed",
	}

	testFields := []struct {
		field    zapcore.Field
		mustFind string
	}{
		{zap.String(FieldTable, "incident"), "table=incident"},
		{zap.String(FieldTarget, "incident_copy"), "target=incident_copy"},
		{zap.Int(FieldPublished, 400), "published=400"},
		{zap.Int(FieldExpected, 1200), "expected=1200"},
		{zap.Bool("truncate", true), "truncate=true"},
		{zap.Float64("threshold", 0.95), "threshold=0.95"},
		{zap.Strings("keys", []string{"a1", "b2"}), "keys=[a1 b2]"},
		{zap.String("field.with.dots", "x"), "field.with.dots=x"},
		{zap.Int64("int64_field", 9999999), "int64_field=9999999"},
		{zap.Error(nil), ""},
		{zap.String(FieldError, "duplicate key"), "error=duplicate key"},
	}

	var all []zapcore.Field
	for _, tf := range testFields {
		all = append(all, tf.field)
	}

	out := encode(t, newMinimalEncoder(), entry, all...)
	assert.Contains(t, out, "c.job")
	assert.Contains(t, out, "Chunk processed")
	for _, tf := range testFields {
		if tf.mustFind != "" {
			assert.Contains(t, out, tf.mustFind)
		}
	}
}

func TestMinimalEncoderContextFields(t *testing.T) {
	enc := newMinimalEncoder()
	enc.AddString(FieldSuite, "nightly")
	enc.AddInt64(FieldCount, 3)
	enc.AddBool("polling", true)

	clone := enc.Clone()
	clone.AddString(FieldJob, "load incident")

	entry := zapcore.Entry{Level: zapcore.WarnLevel, Time: time.Now(), Message: "Count mismatch"}

	out := encode(t, clone, entry)
	assert.Contains(t, out, "WARN")
	assert.Contains(t, out, "suite=nightly")
	assert.Contains(t, out, "count=3")
	assert.Contains(t, out, "polling=true")
	assert.Contains(t, out, "job=load incident")
	assert.Less(t, strings.Index(out, "suite="), strings.Index(out, "job="))

	// the original encoder is unaffected by the clone
	out = encode(t, enc, entry)
	assert.NotContains(t, out, "job=")
}

func TestMinimalEncoderThroughCore(t *testing.T) {
	var sb strings.Builder
	core := zapcore.NewCore(newMinimalEncoder(), zapcore.AddSync(&sb), zapcore.DebugLevel)
	l := zap.New(core).Sugar().Named("daemon.scanner").With(FieldRunID, "r-1")

	l.Infow("Suite queued", FieldSuite, "hourly")

	out := stripANSI(sb.String())
	assert.Contains(t, out, "d.scanner")
	assert.Contains(t, out, "run_id=r-1")
	assert.Contains(t, out, "suite=hourly")
	assert.True(t, strings.HasSuffix(out, "\n"))
}

func TestMinimalEncoderOtherTypes(t *testing.T) {
	entry := zapcore.Entry{Level: zapcore.DebugLevel, Time: time.Now(), Message: "types"}

	out := encode(t, newMinimalEncoder(), entry,
		zap.Duration("elapsed", 5*time.Second),
		zap.Time("run_start", time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)),
		zap.Uint64("uint64", 5000000000),
		zap.ByteString("bytes", []byte("hello")),
	)

	assert.Contains(t, out, "DEBUG")
	for _, key := range []string{"elapsed=", "run_start=", "uint64=5000000000", "bytes="} {
		assert.Contains(t, out, key)
	}
}

func TestAbbreviateName(t *testing.T) {
	assert.Equal(t, "c.suite", abbreviateName("controller.suite"))
	assert.Equal(t, "reader", abbreviateName("reader"))
	assert.Equal(t, ".x", abbreviateName(".x"))
}
