// Package script parses ephemeral suites: a line-oriented command script or
// an equivalent YAML document. Script suites are not backed by a catalog;
// their jobs start QUEUED and report through pump.NopSink.
//
// Example script:
//
//	every 15 minutes
//	# keep incidents current
//	refresh incident where {active=true}
//	load sys_user into users truncate
//	sql {delete from users where active = 'false'}
package script

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/teranos/datapump/errors"
	"github.com/teranos/datapump/pump"
	"github.com/teranos/datapump/source"
)

// Parse reads a script from r.
func Parse(r io.Reader, now time.Time) (*pump.Suite, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, errors.WrapInit(err, "read script")
	}
	return ParseLines(lines, now)
}

// ParseLines builds a suite from script lines. Comments start with '#'; a
// trailing backslash continues the command on the next line. The first
// command may be "every <n> <unit>", making the suite poll.
func ParseLines(lines []string, now time.Time) (*pump.Suite, error) {
	suite := &pump.Suite{}
	suite.SetStatus(pump.StatusQueued)

	for i, cmd := range joinContinuations(lines) {
		if i == 0 && strings.HasPrefix(cmd.text, "every ") {
			b, err := newBuffer(cmd.line, cmd.text, now)
			if err != nil {
				return nil, err
			}
			b.pos = 1
			freq, err := b.interval()
			if err != nil {
				return nil, err
			}
			if err := b.atEnd(); err != nil {
				return nil, err
			}
			if freq <= 0 {
				return nil, b.errorf("frequency must be positive")
			}
			suite.Frequency = freq
			continue
		}
		job, err := parseCommand(cmd.line, cmd.text, now)
		if err != nil {
			return nil, err
		}
		job.Order = len(suite.Jobs)
		suite.Jobs = append(suite.Jobs, job)
	}

	if len(suite.Jobs) == 0 {
		return nil, errors.NewInit("no jobs in script")
	}
	return suite, nil
}

// ParseCommand parses a single command into a QUEUED job.
func ParseCommand(text string, now time.Time) (*pump.Job, error) {
	return parseCommand(1, strings.TrimSpace(stripComment(text)), now)
}

type command struct {
	line int
	text string
}

func joinContinuations(lines []string) []command {
	var out []command
	var pending strings.Builder
	start := 0
	for i, raw := range lines {
		text := strings.TrimSpace(stripComment(raw))
		if pending.Len() == 0 {
			start = i + 1
		}
		if strings.HasSuffix(text, `\`) {
			pending.WriteString(strings.TrimSuffix(text, `\`))
			pending.WriteByte(' ')
			continue
		}
		pending.WriteString(text)
		if joined := strings.TrimSpace(pending.String()); joined != "" {
			out = append(out, command{line: start, text: joined})
		}
		pending.Reset()
	}
	if joined := strings.TrimSpace(pending.String()); joined != "" {
		out = append(out, command{line: start, text: joined})
	}
	return out
}

// stripComment drops everything from the first '#' outside braces and
// quotes.
func stripComment(s string) string {
	depth := 0
	var quote rune
	for i, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			if depth == 0 {
				quote = r
			}
		case r == '{':
			depth++
		case r == '}' && depth > 0:
			depth--
		case r == '#' && depth == 0:
			return s[:i]
		}
	}
	return s
}

func parseCommand(line int, text string, now time.Time) (*pump.Job, error) {
	b, err := newBuffer(line, text, now)
	if err != nil {
		return nil, err
	}
	verb, err := b.token()
	if err != nil {
		return nil, err
	}
	op, err := pump.ParseOperation(verb)
	if err != nil {
		return nil, b.errorf("unknown command %q", verb)
	}

	job := &pump.Job{Operation: op}
	job.SetStatus(pump.StatusQueued)

	switch op {
	case pump.OpSQL:
		job.Name = "SQL"
		if job.SQL, err = b.rest(); err != nil {
			return nil, err
		}
	case pump.OpLoad:
		err = parseLoad(b, job)
	case pump.OpRefresh:
		err = parseRefresh(b, job)
	case pump.OpPrune:
		err = parsePrune(b, job)
	case pump.OpGenerate:
		err = parseGenerate(b, job)
	}
	if err != nil {
		return nil, err
	}
	if err := b.atEnd(); err != nil {
		return nil, err
	}
	if err := job.Validate(); err != nil {
		return nil, errors.WrapInit(err, "line "+strconv.Itoa(line))
	}
	return job, nil
}

func parseTable(b *buffer, job *pump.Job) error {
	table, err := b.token()
	if err != nil {
		return err
	}
	job.Table = table
	job.Name = table
	if b.match("into") {
		if job.Target, err = b.token(); err != nil {
			return err
		}
	}
	return nil
}

func parseWhere(b *buffer, job *pump.Job) error {
	if !b.match("where") {
		return nil
	}
	encoded, err := b.token()
	if err != nil {
		return err
	}
	f, err := source.ParseFilter(encoded)
	if err != nil {
		return b.errorf("invalid filter: %v", err)
	}
	job.BaseFilter = f
	return nil
}

// load <table> [into t] [dv] [truncate] [method] [created|updated]
// [from date] [to date] [partition f value v] [partition-by f] [where q]
// [order-by f]
func parseLoad(b *buffer, job *pump.Job) error {
	if err := parseTable(b, job); err != nil {
		return err
	}
	job.UseCreatedDate = true
	job.SortField = source.FieldCreatedOn

	job.DisplayValues = b.match("dv", "display-values")
	job.Truncate = b.match("truncate")
	if m, ok := matchMethod(b); ok {
		job.Method = m
	} else if job.Truncate {
		job.Method = pump.InsertOnly
	} else {
		job.Method = pump.UpdateInsert
	}
	if b.match("created") {
		job.UseCreatedDate = true
	} else if b.match("updated") {
		job.UseCreatedDate = false
		job.SortField = source.FieldUpdatedOn
	}

	var start, end *time.Time
	if b.match("from") {
		t, err := b.datePlus()
		if err != nil {
			return err
		}
		start = &t
	}
	if b.match("to") {
		t, err := b.datePlus()
		if err != nil {
			return err
		}
		end = &t
	}
	job.SetInterval(start, end)

	if b.match("partition") {
		field, err := b.token()
		if err != nil {
			return err
		}
		if err := b.consume("value"); err != nil {
			return err
		}
		value, err := b.token()
		if err != nil {
			return err
		}
		job.PartitionField, job.PartitionValue = field, value
	}
	if b.match("partition-by") {
		field, err := b.token()
		if err != nil {
			return err
		}
		job.PartitionBy = field
	}
	if err := parseWhere(b, job); err != nil {
		return err
	}
	if b.match("order-by") {
		field, err := b.token()
		if err != nil {
			return err
		}
		job.SortField = field
	}
	return nil
}

func matchMethod(b *buffer) (pump.LoadMethod, bool) {
	for _, m := range []pump.LoadMethod{pump.InsertOnly, pump.UpdateInsert, pump.CompareTimestamps} {
		if b.match(m.Keyword()) {
			return m, true
		}
	}
	return "", false
}

// refresh <table> [into t] [dv] [since date] [where q]
func parseRefresh(b *buffer, job *pump.Job) error {
	if err := parseTable(b, job); err != nil {
		return err
	}
	job.Method = pump.UpdateInsert
	job.SortField = source.FieldUpdatedOn
	job.DisplayValues = b.match("dv", "display-values")
	if err := parseSince(b, job); err != nil {
		return err
	}
	return parseWhere(b, job)
}

// prune <table> [into t] [since date]
func parsePrune(b *buffer, job *pump.Job) error {
	if err := parseTable(b, job); err != nil {
		return err
	}
	return parseSince(b, job)
}

// parseSince sets the interval end that StartRunning turns into the first
// window's start. Without "since" the window opens when the script is read.
func parseSince(b *buffer, job *pump.Job) error {
	now := b.now.UTC().Truncate(time.Second)
	if !b.match("since") {
		job.SetInterval(nil, &now)
		return nil
	}
	t, err := b.datePlus()
	if err != nil {
		return err
	}
	if t.After(now) {
		return b.errorf("since %s is in the future", source.FormatTime(t))
	}
	job.SetInterval(nil, &t)
	return nil
}

// generate <table> [into t] [file path]
func parseGenerate(b *buffer, job *pump.Job) error {
	if err := parseTable(b, job); err != nil {
		return err
	}
	if b.match("file") {
		path, err := b.token()
		if err != nil {
			return err
		}
		job.OutputFile = path
	}
	return nil
}
