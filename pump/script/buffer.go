package script

import (
	"strconv"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"

	"github.com/teranos/datapump/errors"
	"github.com/teranos/datapump/source"
)

// buffer is a token cursor over one command line.
type buffer struct {
	line   int
	text   string
	tokens []string
	pos    int
	now    time.Time
}

// newBuffer tokenizes text with shell quoting rules. A {braced} span is
// one token, so filters and SQL can be written without quotes.
func newBuffer(line int, text string, now time.Time) (*buffer, error) {
	tokens, err := shellquote.Split(bracesToQuotes(text))
	if err != nil {
		return nil, errors.NewInit("line %d: %v", line, err)
	}
	if len(tokens) == 0 {
		return nil, errors.NewInit("line %d: empty command", line)
	}
	return &buffer{line: line, text: text, tokens: tokens, now: now}, nil
}

func bracesToQuotes(text string) string {
	var b strings.Builder
	depth := 0
	for _, r := range text {
		switch {
		case r == '{':
			if depth == 0 {
				b.WriteByte('\'')
			} else {
				b.WriteRune(r)
			}
			depth++
		case r == '}' && depth > 0:
			depth--
			if depth == 0 {
				b.WriteByte('\'')
			} else {
				b.WriteRune(r)
			}
		case r == '\'' && depth > 0:
			b.WriteString(`'\''`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func (b *buffer) errorf(format string, args ...interface{}) error {
	return errors.WithDetailf(errors.NewInit("line %d: "+format, append([]interface{}{b.line}, args...)...),
		"command: %s", b.text)
}

func (b *buffer) hasMore() bool { return b.pos < len(b.tokens) }

func (b *buffer) peek() string {
	if !b.hasMore() {
		return ""
	}
	return b.tokens[b.pos]
}

func (b *buffer) encountered() string {
	if !b.hasMore() {
		return "<end of line>"
	}
	return strconv.Quote(b.peek())
}

// match consumes the next token if it equals one of values.
func (b *buffer) match(values ...string) bool {
	if !b.hasMore() {
		return false
	}
	for _, v := range values {
		if b.peek() == v {
			b.pos++
			return true
		}
	}
	return false
}

func (b *buffer) consume(expected string) error {
	if !b.match(expected) {
		return b.errorf("expected %q, encountered %s", expected, b.encountered())
	}
	return nil
}

func (b *buffer) token() (string, error) {
	if !b.hasMore() {
		return "", b.errorf("unexpected end of line")
	}
	t := b.tokens[b.pos]
	b.pos++
	return t, nil
}

// rest joins the remaining tokens.
func (b *buffer) rest() (string, error) {
	if !b.hasMore() {
		return "", b.errorf("unexpected end of line")
	}
	s := strings.Join(b.tokens[b.pos:], " ")
	b.pos = len(b.tokens)
	return s, nil
}

func (b *buffer) oneOf(values ...string) (string, error) {
	for _, v := range values {
		if b.match(v) {
			return v, nil
		}
	}
	return "", b.errorf("expected one of %v, encountered %s", values, b.encountered())
}

func (b *buffer) atEnd() error {
	if b.hasMore() {
		return b.errorf("unexpected token %s", b.encountered())
	}
	return nil
}

// date reads "now", "today" (midnight UTC), "yyyy-mm-dd" or
// "yyyy-mm-dd hh:mm:ss".
func (b *buffer) date() (time.Time, error) {
	if b.match("now") {
		return b.now.UTC().Truncate(time.Second), nil
	}
	if b.match("today") {
		return b.now.UTC().Truncate(24 * time.Hour), nil
	}
	day := b.peek()
	if _, err := time.Parse(source.DateFormat, day); err != nil {
		return time.Time{}, b.errorf("expected yyyy-mm-dd, encountered %s", b.encountered())
	}
	b.pos++
	clock := "00:00:00"
	if next := b.peek(); len(next) > 4 && next[0] >= '0' && next[0] <= '9' {
		clock = next
		b.pos++
	}
	t, err := source.ParseTime(day + " " + clock)
	if err != nil {
		return time.Time{}, b.errorf("expected yyyy-mm-dd hh:mm:ss, encountered %q", day+" "+clock)
	}
	return t, nil
}

// datePlus reads a date optionally followed by "plus|minus <interval>".
func (b *buffer) datePlus() (time.Time, error) {
	t, err := b.date()
	if err != nil {
		return t, err
	}
	sign := time.Duration(0)
	if b.match("minus") {
		sign = -1
	} else if b.match("plus") {
		sign = 1
	}
	if sign == 0 {
		return t, nil
	}
	d, err := b.interval()
	if err != nil {
		return t, err
	}
	return t.Add(sign * d), nil
}

// interval reads "<n> seconds|minutes|hours|days".
func (b *buffer) interval() (time.Duration, error) {
	tok, err := b.token()
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(tok)
	if err != nil || n < 0 {
		return 0, b.errorf("expected a number, encountered %q", tok)
	}
	unit, err := b.oneOf("seconds", "minutes", "hours", "days")
	if err != nil {
		return 0, err
	}
	switch unit {
	case "minutes":
		return time.Duration(n) * time.Minute, nil
	case "hours":
		return time.Duration(n) * time.Hour, nil
	case "days":
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.Duration(n) * time.Second, nil
}
