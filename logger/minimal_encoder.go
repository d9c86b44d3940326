package logger

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

const (
	colorReset = "\x1b[0m"
	colorBold  = "\x1b[1m"
)

// Everforest dark palette
var (
	colorFg       = "\x1b[38;5;223m"
	colorTime     = "\x1b[38;5;107m"
	colorGreen    = "\x1b[38;5;108m"
	colorAqua     = "\x1b[38;5;109m"
	colorOrange   = "\x1b[38;5;208m"
	colorYellow   = "\x1b[38;5;179m"
	colorRed      = "\x1b[38;5;167m"
	colorRedBg    = "\x1b[48;5;52m"
	colorYellowBg = "\x1b[48;5;58m"
	highlightKeys = map[string]bool{FieldSuite: true, FieldJob: true, FieldTable: true, FieldRunID: true}
	numberKeys    = map[string]bool{FieldCount: true, FieldExpected: true, FieldPublished: true, FieldDurationMS: true}
	bufferPool    = buffer.NewPool()
)

// minimalEncoder is a compact console encoder.
// Format: "13:04:35  c.job  Job complete  suite=nightly job=incident published=1200"
// Every field is printed; context fields added with With() come first.
type minimalEncoder struct {
	*zapcore.MapObjectEncoder
	order []string
}

func newMinimalEncoder() *minimalEncoder {
	return &minimalEncoder{MapObjectEncoder: zapcore.NewMapObjectEncoder()}
}

func (enc *minimalEncoder) Clone() zapcore.Encoder {
	clone := newMinimalEncoder()
	for k, v := range enc.Fields {
		clone.Fields[k] = v
	}
	clone.order = append(clone.order, enc.order...)
	return clone
}

func (enc *minimalEncoder) AddString(key, value string) {
	enc.remember(key)
	enc.MapObjectEncoder.AddString(key, value)
}

func (enc *minimalEncoder) AddInt64(key string, value int64) {
	enc.remember(key)
	enc.MapObjectEncoder.AddInt64(key, value)
}

func (enc *minimalEncoder) AddReflected(key string, value interface{}) error {
	enc.remember(key)
	return enc.MapObjectEncoder.AddReflected(key, value)
}

func (enc *minimalEncoder) remember(key string) {
	for _, k := range enc.order {
		if k == key {
			return
		}
	}
	enc.order = append(enc.order, key)
}

func (enc *minimalEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	final := bufferPool.Get()

	final.AppendString(colorTime)
	final.AppendString(ent.Time.Format("15:04:05"))
	final.AppendString(colorReset)

	// Level: only show for non-INFO
	if ent.Level != zapcore.InfoLevel {
		final.AppendString("  ")
		final.AppendString(levelColorString(ent.Level))
	}

	if ent.LoggerName != "" {
		final.AppendString("  ")
		final.AppendString(colorOrange)
		final.AppendString(abbreviateName(ent.LoggerName))
		final.AppendString(colorReset)
	}

	final.AppendString("  ")
	final.AppendString(colorFg)
	final.AppendString(ent.Message)
	final.AppendString(colorReset)

	pairs := enc.contextPairs()
	for _, f := range fields {
		scratch := zapcore.NewMapObjectEncoder()
		f.AddTo(scratch)
		keys := make([]string, 0, len(scratch.Fields))
		for k := range scratch.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			pairs = append(pairs, formatPair(k, scratch.Fields[k]))
		}
	}
	if len(pairs) > 0 {
		final.AppendString("  ")
		final.AppendString(strings.Join(pairs, " "))
	}

	if ent.Stack != "" && ent.Level >= zapcore.ErrorLevel {
		final.AppendString("\n")
		final.AppendString(ent.Stack)
	}

	final.AppendString("\n")
	return final, nil
}

func (enc *minimalEncoder) contextPairs() []string {
	var pairs []string
	seen := make(map[string]bool, len(enc.order))
	for _, k := range enc.order {
		if v, ok := enc.Fields[k]; ok {
			pairs = append(pairs, formatPair(k, v))
			seen[k] = true
		}
	}
	// Remaining keys came through encoder methods we do not track
	var rest []string
	for k := range enc.Fields {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	for _, k := range rest {
		pairs = append(pairs, formatPair(k, enc.Fields[k]))
	}
	return pairs
}

func formatPair(key string, value interface{}) string {
	color := colorFg
	switch {
	case highlightKeys[key]:
		color = colorAqua
	case numberKeys[key]:
		color = colorGreen
	case key == FieldError:
		color = colorRed
	}
	return fmt.Sprintf("%s=%s%v%s", key, color, value, colorReset)
}

// levelColorString returns bold + colored + background for non-INFO levels
func levelColorString(level zapcore.Level) string {
	switch level {
	case zapcore.DebugLevel:
		return colorAqua + "DEBUG" + colorReset
	case zapcore.WarnLevel:
		return colorBold + colorYellowBg + colorYellow + "WARN" + colorReset
	case zapcore.ErrorLevel:
		return colorBold + colorRedBg + colorRed + "ERROR" + colorReset
	default:
		return colorBold + colorRedBg + colorRed + level.CapitalString() + colorReset
	}
}

// abbreviateName shortens component names: controller.job -> c.job
func abbreviateName(name string) string {
	parts := strings.Split(name, ".")
	if len(parts) > 1 && parts[0] != "" {
		return string(parts[0][0]) + "." + strings.Join(parts[1:], ".")
	}
	return name
}
