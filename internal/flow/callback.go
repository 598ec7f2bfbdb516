package flow

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// DefaultCallbackAddr matches the loopback redirect registered on the demo clients.
const DefaultCallbackAddr = "127.0.0.1:8400"

const callbackPage = `<html><body><p>Authorization response received. You can close this window.</p></body></html>`

// CallbackServer is a loopback listener that receives one authorization redirect.
type CallbackServer struct {
	listener net.Listener
	server   *http.Server
	path     string
	results  chan Callback
}

// ListenCallback starts listening on addr for redirects to path.
func ListenCallback(addr, path string) (*CallbackServer, error) {
	if path == "" {
		path = "/callback"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen for callback: %w", err)
	}

	c := &CallbackServer{
		listener: ln,
		path:     path,
		results:  make(chan Callback, 1),
	}
	r := chi.NewRouter()
	r.Get(path, c.handle)
	c.server = &http.Server{Handler: r, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := c.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			close(c.results)
		}
	}()
	return c, nil
}

// RedirectURI is the redirect_uri to send on the authorization request.
func (c *CallbackServer) RedirectURI() string {
	return "http://" + c.listener.Addr().String() + c.path
}

func (c *CallbackServer) handle(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	cb := Callback{
		Code:             q.Get("code"),
		State:            q.Get("state"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	}
	if cb.Code == "" && cb.Error == "" {
		http.Error(w, "missing code", http.StatusBadRequest)
		return
	}
	select {
	case c.results <- cb:
	default:
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(callbackPage))
}

// Wait blocks until a redirect arrives or ctx ends.
func (c *CallbackServer) Wait(ctx context.Context) (Callback, error) {
	select {
	case cb, ok := <-c.results:
		if !ok {
			return Callback{}, errors.New("callback listener stopped")
		}
		return cb, nil
	case <-ctx.Done():
		return Callback{}, ctx.Err()
	}
}

// Close stops the listener.
func (c *CallbackServer) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return c.server.Shutdown(ctx)
}
