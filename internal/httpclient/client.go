// Package httpclient provides the HTTP client used to talk to the remote
// instance: bounded timeouts, bounded redirects, and no credential leakage
// across hosts.
package httpclient

import (
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/teranos/datapump/errors"
)

// Client wraps http.Client with the redirect policy for remote instances
type Client struct {
	*http.Client
	allowedSchemes []string
	maxRedirects   int
}

// Options customises a Client
type Options struct {
	AllowedSchemes []string // Default: ["http", "https"]
	MaxRedirects   *int     // Default: 10
	Transport      http.RoundTripper
}

// New creates a client with the given per-request timeout
func New(timeout time.Duration) *Client {
	return NewWithOptions(timeout, Options{})
}

// NewWithOptions creates a client with custom options
func NewWithOptions(timeout time.Duration, opts Options) *Client {
	maxRedirects := 10
	if opts.MaxRedirects != nil {
		maxRedirects = *opts.MaxRedirects
	}

	allowedSchemes := []string{"http", "https"}
	if opts.AllowedSchemes != nil {
		allowedSchemes = opts.AllowedSchemes
	}

	transport := opts.Transport
	if transport == nil {
		dialer := &net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}
		transport = &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           dialer.DialContext,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		}
	}

	client := &Client{
		Client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		allowedSchemes: allowedSchemes,
		maxRedirects:   maxRedirects,
	}

	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= client.maxRedirects {
			return errors.Newf("stopped after %d redirects", client.maxRedirects)
		}
		if err := client.validateURL(req.URL); err != nil {
			return errors.Wrap(err, "redirect blocked")
		}
		// Basic auth must never follow a redirect to another host
		if len(via) > 0 && !strings.EqualFold(req.URL.Host, via[0].URL.Host) {
			req.Header.Del("Authorization")
		}
		return nil
	}

	return client
}

// validateURL checks scheme, host and embedded credentials
func (c *Client) validateURL(u *url.URL) error {
	scheme := strings.ToLower(u.Scheme)
	allowed := false
	for _, s := range c.allowedSchemes {
		if scheme == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return errors.Newf("scheme %q not allowed (allowed: %v)", scheme, c.allowedSchemes)
	}

	// Credentials come from configuration, never from the URL
	if u.User != nil {
		return errors.New("URL must not embed credentials")
	}

	if u.Hostname() == "" {
		return errors.New("URL missing hostname")
	}

	return nil
}

// ValidateURL parses and validates an instance URL
func (c *Client) ValidateURL(urlStr string) (*url.URL, error) {
	u, err := url.Parse(urlStr)
	if err != nil {
		return nil, errors.Wrap(err, "invalid URL")
	}

	if err := c.validateURL(u); err != nil {
		return nil, err
	}

	return u, nil
}

// Do executes an HTTP request after validating its URL
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if err := c.validateURL(req.URL); err != nil {
		return nil, errors.Wrap(err, "request blocked")
	}
	return c.Client.Do(req)
}

// WrapClient wraps an existing http.Client, typically one from httptest.
func WrapClient(client *http.Client) *Client {
	return &Client{
		Client:         client,
		allowedSchemes: []string{"http", "https"},
		maxRedirects:   10,
	}
}
