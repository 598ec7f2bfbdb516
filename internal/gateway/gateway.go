// Package gateway is the playground's single path to untrusted upstreams: every
// proxied discovery, token, userinfo and backend call goes through a Gateway.
package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-hclog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var (
	// ErrInvalidURL reports a destination that is not an absolute http(s) URL.
	ErrInvalidURL = errors.New("invalid upstream URL")
	// ErrDestinationNotAllowed reports a destination rejected by the allow-list.
	ErrDestinationNotAllowed = errors.New("upstream destination not allowed")
)

// AllowFunc decides whether a destination may be contacted.
type AllowFunc func(*url.URL) error

// AllowAll is the default policy: the playground relays wherever the caller points it.
func AllowAll(*url.URL) error { return nil }

// AllowOrigins restricts destinations to the given scheme://host[:port] origins.
func AllowOrigins(origins ...string) (AllowFunc, error) {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		u, err := url.Parse(o)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("%w: allow-list entry %q", ErrInvalidURL, o)
		}
		allowed[originOf(u)] = true
	}
	if len(allowed) == 0 {
		return AllowAll, nil
	}
	return func(u *url.URL) error {
		if !allowed[originOf(u)] {
			return fmt.Errorf("%w: %s", ErrDestinationNotAllowed, originOf(u))
		}
		return nil
	}, nil
}

func originOf(u *url.URL) string {
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host)
}

// Request is one outbound call.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response is a fully read upstream response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Gateway performs outbound calls on behalf of the playground.
type Gateway struct {
	client *http.Client
	allow  AllowFunc
	logger hclog.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithAllow installs a destination policy.
func WithAllow(fn AllowFunc) Option {
	return func(g *Gateway) {
		if fn != nil {
			g.allow = fn
		}
	}
}

// WithTimeout bounds each call. Zero means no bound.
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.client.Timeout = d }
}

// WithTransport replaces the round tripper.
func WithTransport(rt http.RoundTripper) Option {
	return func(g *Gateway) { g.client.Transport = rt }
}

// WithLogger sets the logger.
func WithLogger(logger hclog.Logger) Option {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// New constructs a gateway with a pooled, trace-propagating transport.
func New(opts ...Option) *Gateway {
	g := &Gateway{
		client: &http.Client{
			Transport: otelhttp.NewTransport(cleanhttp.DefaultPooledTransport()),
			// Upstream redirects are passed back to the caller untouched.
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		},
		allow:  AllowAll,
		logger: hclog.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Do performs one call and reads the whole response body.
func (g *Gateway) Do(ctx context.Context, in Request) (*Response, error) {
	target, err := g.check(in.URL)
	if err != nil {
		return nil, err
	}

	method := in.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if in.Body != nil {
		body = bytes.NewReader(in.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	if in.Header != nil {
		req.Header = in.Header.Clone()
	}

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		g.logger.Debug("upstream call failed", "method", method, "url", target.Redacted(), "error", err)
		return nil, fmt.Errorf("upstream %s %s: %w", method, target.Redacted(), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read upstream body: %w", err)
	}
	g.logger.Trace("upstream call", "method", method, "url", target.Redacted(),
		"status", resp.StatusCode, "duration", time.Since(start))

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

// Get is a convenience for a GET with optional headers.
func (g *Gateway) Get(ctx context.Context, rawURL string, header http.Header) (*Response, error) {
	return g.Do(ctx, Request{Method: http.MethodGet, URL: rawURL, Header: header})
}

// PostForm sends application/x-www-form-urlencoded values.
func (g *Gateway) PostForm(ctx context.Context, rawURL string, form url.Values) (*Response, error) {
	header := http.Header{}
	header.Set("Content-Type", "application/x-www-form-urlencoded")
	return g.Do(ctx, Request{
		Method: http.MethodPost,
		URL:    rawURL,
		Header: header,
		Body:   []byte(form.Encode()),
	})
}

func (g *Gateway) check(rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}
	if err := g.allow(u); err != nil {
		return nil, err
	}
	return u, nil
}
