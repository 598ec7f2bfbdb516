// Package resource is the protected backend of the OAuth 2.0 playground: a public
// endpoint, a secured endpoint behind a Keycloak client role, and the diagnostic
// logging around the guard.
package resource

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hashicorp/go-hclog"

	"github.com/ParleSec/KeycloakPlayground/internal/metrics"
)

const indexPage = `<html><body><ul><li><a href="/public">Public endpoint</a></li><li><a href="/secured">Secured endpoint</a></li></ul></body></html>`

// DefaultRole is the role /secured requires.
const DefaultRole = DefaultResource + ":user"

// Options configures the backend routes.
type Options struct {
	Realm    RealmConfig
	Verifier Verifier
	// Role is a role spec; empty means DefaultRole.
	Role     string
	Sessions SessionStore
	Logger   hclog.Logger
	Metrics  *metrics.Metrics
}

// Backend serves /, /public and /secured.
type Backend struct {
	opts   Options
	role   RoleRequirement
	logger hclog.Logger
}

// NewBackend creates the backend.
func NewBackend(opts Options) *Backend {
	if opts.Logger == nil {
		opts.Logger = hclog.NewNullLogger()
	}
	if opts.Role == "" {
		opts.Role = DefaultRole
	}
	if opts.Sessions == nil {
		opts.Sessions = NewMemorySessionStore()
	}
	return &Backend{
		opts:   opts,
		role:   ParseRole(opts.Role, opts.Realm.Resource),
		logger: opts.Logger,
	}
}

// Expectations are the diagnostic expectations matching the guard.
func (b *Backend) Expectations() Expectations {
	exp := Expectations{Issuer: b.opts.Realm.Issuer(), Role: b.role}
	if b.opts.Realm.VerifyTokenAudience {
		exp.Audience = b.opts.Realm.Resource
	}
	return exp
}

// RegisterRoutes mounts the backend on r.
func (b *Backend) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(Sessions)
		r.Use(Diagnostics(b.logger, b.Expectations(), "/public"))

		r.Get("/", b.handleIndex)
		r.Get("/public", b.handlePublic)
		r.With(Protect(b.opts.Verifier, b.role, GuardOptions{
			Logger:   b.logger,
			Metrics:  b.opts.Metrics,
			Sessions: b.opts.Sessions,
			Route:    "/secured",
			Realm:    b.opts.Realm.Realm,
		})).Get("/secured", b.handleSecured)
	})
}

func (b *Backend) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = io.WriteString(w, indexPage)
}

func (b *Backend) handlePublic(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "Public message!")
}

func (b *Backend) handleSecured(w http.ResponseWriter, r *http.Request) {
	if claims, ok := ClaimsFromContext(r.Context()); ok {
		roles := claims.ClientRoles(b.opts.Realm.Resource)
		b.logger.Info("access granted", "user", claims.DisplayName(), "client_roles", roles)
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "Secret message!")
}
