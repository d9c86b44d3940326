// Package rest implements the remote table source over a ServiceNow-style
// REST Table API.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/datapump/am"
	"github.com/teranos/datapump/errors"
	"github.com/teranos/datapump/internal/httpclient"
	"github.com/teranos/datapump/logger"
)

const totalCountHeader = "X-Total-Count"

// Config holds connection settings for one remote instance.
type Config struct {
	URL               string
	Username          string
	Password          string
	Timeout           time.Duration
	RequestsPerMinute int           // 0 = unlimited
	MaxRetry          time.Duration // 0 = no retries
	RetryInterval     time.Duration // first backoff interval, default 500ms
}

// ConfigFrom builds a Config from the [source] section of am.toml.
func ConfigFrom(c am.SourceConfig) Config {
	return Config{
		URL:               c.URL,
		Username:          c.Username,
		Password:          c.Password,
		Timeout:           c.Timeout(),
		RequestsPerMinute: c.RequestsPerMinute,
		MaxRetry:          time.Duration(c.MaxRetrySeconds) * time.Second,
	}
}

// Client talks to one remote instance. It implements source.Source and
// source.RecordStore. A Client is safe for concurrent use but each worker
// normally owns its own.
type Client struct {
	cfg     Config
	base    *url.URL
	http    *httpclient.Client
	limiter *rate.Limiter
	log     *zap.SugaredLogger
}

// New creates a client for cfg.
func New(cfg Config, log *zap.SugaredLogger) (*Client, error) {
	return NewWithHTTPClient(cfg, httpclient.New(cfg.Timeout), log)
}

// NewWithHTTPClient creates a client using hc for transport.
func NewWithHTTPClient(cfg Config, hc *httpclient.Client, log *zap.SugaredLogger) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.NewInit("source url is not configured")
	}
	base, err := hc.ValidateURL(strings.TrimRight(cfg.URL, "/"))
	if err != nil {
		return nil, errors.WrapInit(err, "invalid source url")
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 500 * time.Millisecond
	}

	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Limit(float64(cfg.RequestsPerMinute) / 60.0)
	}

	if log == nil {
		log = logger.ComponentLogger("rest")
	}

	return &Client{
		cfg:     cfg,
		base:    base,
		http:    hc,
		limiter: rate.NewLimiter(limit, 1),
		log:     log,
	}, nil
}

// BaseURL returns the instance URL.
func (c *Client) BaseURL() string { return c.base.String() }

type response struct {
	status int
	header http.Header
	body   []byte
}

// statusError is a non-2xx response.
type statusError struct {
	method string
	url    string
	status int
	body   string
}

func (e *statusError) Error() string {
	return e.method + " " + e.url + ": HTTP " + strconv.Itoa(e.status) + " " + e.body
}

func transient(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// call performs one API request, waiting on the rate limiter and retrying
// transient failures with exponential backoff.
func (c *Client) call(ctx context.Context, method, path string, query url.Values, body interface{}) (*response, error) {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = query.Encode()
	target := u.String()

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, errors.Wrap(err, "encode request body")
		}
	}

	var resp *response
	operation := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.cfg.Username != "" {
			req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
		}

		start := time.Now()
		httpResp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			c.log.Debugw("Request failed", logger.FieldMethod, method, logger.FieldURL, target, logger.FieldError, err)
			return err
		}
		defer httpResp.Body.Close()

		data, err := io.ReadAll(httpResp.Body)
		if err != nil {
			return err
		}
		c.log.Debugw("Request complete",
			logger.FieldMethod, method,
			logger.FieldURL, target,
			logger.FieldStatus, httpResp.StatusCode,
			logger.FieldDurationMS, time.Since(start).Milliseconds(),
		)

		if httpResp.StatusCode/100 != 2 {
			serr := &statusError{method: method, url: target, status: httpResp.StatusCode, body: snippet(data)}
			if transient(httpResp.StatusCode) {
				return serr
			}
			return backoff.Permanent(serr)
		}
		resp = &response{status: httpResp.StatusCode, header: httpResp.Header, body: data}
		return nil
	}

	var b backoff.BackOff = &backoff.StopBackOff{}
	if c.cfg.MaxRetry > 0 {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = c.cfg.RetryInterval
		exp.MaxElapsedTime = c.cfg.MaxRetry
		b = exp
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, classify(ctx, err, method, target)
	}
	return resp, nil
}

func classify(ctx context.Context, err error, method, target string) error {
	if ctx.Err() != nil {
		return errors.Cancelled(ctx.Err())
	}
	var serr *statusError
	if errors.As(err, &serr) {
		switch serr.status {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			return errors.WrapInit(serr, "remote refused request")
		}
	}
	return errors.WrapExec(err, method+" "+target)
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}

// declaredCount returns the X-Total-Count header, or -1 when absent.
func (r *response) declaredCount() int {
	v := r.header.Get(totalCountHeader)
	if v == "" {
		return -1
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return -1
	}
	return n
}
