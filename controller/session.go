// Package controller runs suites and jobs: it drives a reader over the
// source, feeds each chunk to a target writer, keeps the metrics balanced
// and maps failures onto job and suite status.
package controller

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/datapump/am"
	"github.com/teranos/datapump/errors"
	"github.com/teranos/datapump/logger"
	"github.com/teranos/datapump/reader"
	"github.com/teranos/datapump/source"
	"github.com/teranos/datapump/target"
	"github.com/teranos/datapump/target/kafka"
)

// kafkaConnectWait bounds the retries when a kafka target is opened.
const kafkaConnectWait = time.Minute

// SinkOpener opens the target of a session.
type SinkOpener func(ctx context.Context) (target.Sink, error)

// OpenSink opens the target named by cfg.URL: a kafka producer for
// kafka:// URLs, otherwise a SQL database.
func OpenSink(ctx context.Context, cfg am.TargetConfig, log *zap.SugaredLogger) (target.Sink, error) {
	if strings.HasPrefix(cfg.URL, "kafka://") {
		return kafka.Connect(ctx, cfg.URL, kafkaConnectWait, log)
	}
	return target.NewDatabase(cfg, log)
}

// Session holds the private source and target of one worker. The target
// is opened on first use and reopened after Close.
type Session struct {
	Source    source.Source
	Generator *target.Generator

	open SinkOpener

	mu   sync.Mutex
	sink target.Sink
}

// NewSession creates a session. gen renders GENERATE jobs.
func NewSession(src source.Source, gen *target.Generator, open SinkOpener) *Session {
	return &Session{Source: src, Generator: gen, open: open}
}

// OpenSession creates a session whose target comes from configuration.
func OpenSession(cfg *am.Config, src source.Source, log *zap.SugaredLogger) (*Session, error) {
	dialect, err := target.DialectFor(cfg.Target)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.ComponentLogger("target")
	}
	gen := target.NewGenerator(dialect, cfg.Target.Schema, cfg.Target.Username, log)
	targetCfg := cfg.Target
	return NewSession(src, gen, func(ctx context.Context) (target.Sink, error) {
		return OpenSink(ctx, targetCfg, log)
	}), nil
}

// Sink returns the session's target, opening it if needed.
func (s *Session) Sink(ctx context.Context) (target.Sink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sink != nil {
		return s.sink, nil
	}
	if s.open == nil {
		return nil, errors.NewInit("session has no target")
	}
	sink, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	s.sink = sink
	return sink, nil
}

// Rollback abandons the open chunk of the target, if the target is open.
func (s *Session) Rollback() {
	s.mu.Lock()
	sink := s.sink
	s.mu.Unlock()
	if sink != nil {
		sink.Rollback()
	}
}

// Close closes the target. The next Sink call reopens it.
func (s *Session) Close() error {
	s.mu.Lock()
	sink := s.sink
	s.sink = nil
	s.mu.Unlock()
	if sink == nil {
		return nil
	}
	return sink.Close()
}

// Options tune job runs.
type Options struct {
	Reader    reader.Options
	LoadLimit int           // 0 = unlimited
	Lag       time.Duration // subtracted from the suite run start
	Output    io.Writer     // GENERATE output when a job names no file
	Now       func() time.Time
}

// OptionsFrom reads run options from configuration.
func OptionsFrom(cfg *am.Config) Options {
	return Options{
		Reader:    reader.OptionsFrom(cfg.Source),
		LoadLimit: cfg.Loader.LoadLimit,
		Lag:       cfg.Daemon.Lag(),
	}
}

func (o Options) normalized() Options {
	if o.Output == nil {
		o.Output = os.Stdout
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}
