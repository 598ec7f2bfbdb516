package core

import (
	"bytes"
	"io"
	"math"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/go-hclog"

	"github.com/ParleSec/KeycloakPlayground/internal/lookingglass"
)

// RequestLogger logs one line per request. Server errors log at error level and client
// errors at warn, so a denied /secured call stands out from normal traffic.
func RequestLogger(logger hclog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			log := logger.Info
			switch {
			case status >= 500:
				log = logger.Error
			case status >= 400:
				log = logger.Warn
			}
			log("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"remote", r.RemoteAddr,
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

// SecurityHeaders sets the response headers every playground page carries. Proxy
// responses under /api hold tokens and are marked uncacheable.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		if strings.HasPrefix(r.URL.Path, "/api/") {
			h.Set("Cache-Control", "no-store")
		}
		next.ServeHTTP(w, r)
	})
}

// RateLimiter counts requests per client in fixed windows.
type RateLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu     sync.Mutex
	start  time.Time
	counts map[string]int
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:  limit,
		window: window,
		now:    time.Now,
		counts: make(map[string]int),
	}
}

// Allow counts a request from key and reports whether it fits in the current window.
// The second return value is when the window resets.
func (rl *RateLimiter) Allow(key string) (bool, time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.start) >= rl.window {
		rl.start = now
		rl.counts = make(map[string]int, len(rl.counts))
	}
	reset := rl.start.Add(rl.window)
	if rl.counts[key] >= rl.limit {
		return false, reset
	}
	rl.counts[key]++
	return true, reset
}

// Limit rejects clients over the limit with 429 and a Retry-After header. Clients are
// keyed by host, so run it after middleware.RealIP when behind a proxy.
func (rl *RateLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.RemoteAddr
		if host, _, err := net.SplitHostPort(key); err == nil {
			key = host
		}
		ok, reset := rl.Allow(key)
		if !ok {
			wait := int(math.Ceil(reset.Sub(rl.now()).Seconds()))
			w.Header().Set("Retry-After", strconv.Itoa(max(wait, 1)))
			writeError(w, http.StatusTooManyRequests, "Rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Recovery turns a handler panic into a JSON 500. http.ErrAbortHandler is re-raised.
func Recovery(logger hclog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.Error("handler panicked",
					"method", r.Method,
					"path", r.URL.Path,
					"request_id", middleware.GetReqID(r.Context()),
					"panic", rec,
					"stack", string(debug.Stack()),
				)
				writeError(w, http.StatusInternalServerError, "Internal Server Error")
			}()
			next.ServeHTTP(w, r)
		})
	}
}

const captureBodyLimitBytes = 64 * 1024

type bodyCapture struct {
	buf       bytes.Buffer
	truncated bool
}

func (c *bodyCapture) add(p []byte) {
	remaining := captureBodyLimitBytes - c.buf.Len()
	if remaining <= 0 {
		c.truncated = c.truncated || len(p) > 0
		return
	}
	if len(p) > remaining {
		c.buf.Write(p[:remaining])
		c.truncated = true
		return
	}
	c.buf.Write(p)
}

type captureReadCloser struct {
	io.ReadCloser
	capture *bodyCapture
}

func (c *captureReadCloser) Read(p []byte) (int, error) {
	n, err := c.ReadCloser.Read(p)
	if n > 0 {
		c.capture.add(p[:n])
	}
	return n, err
}

// CaptureMiddleware records exchanges of requests bound to a looking glass session.
func CaptureMiddleware(lg *lookingglass.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := lg.RecorderFor(r)
			if rec == nil {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			reqCapture := &bodyCapture{}
			if r.Body != nil && r.Body != http.NoBody {
				r.Body = &captureReadCloser{ReadCloser: r.Body, capture: reqCapture}
			}
			respCapture := &bodyCapture{}
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			ww.Tee(writerFunc(func(p []byte) (int, error) {
				respCapture.add(p)
				return len(p), nil
			}))

			next.ServeHTTP(ww, r)

			exchange := lookingglass.CapturedExchange{
				Request: lookingglass.CapturedRequest{
					Method:        r.Method,
					URL:           r.URL.RequestURI(),
					Headers:       lookingglass.FlattenHeaders(r.Header),
					Body:          reqCapture.buf.String(),
					BodyTruncated: reqCapture.truncated,
				},
				Response: lookingglass.CapturedResponse{
					Status:        ww.Status(),
					Headers:       lookingglass.FlattenHeaders(ww.Header()),
					Body:          respCapture.buf.String(),
					BodyTruncated: respCapture.truncated,
				},
				StartedAt:  start,
				DurationMS: time.Since(start).Milliseconds(),
			}
			rec.Exchange(r.Method+" "+r.URL.Path, exchange)
		})
	}
}

type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }
