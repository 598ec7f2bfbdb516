// Package keycloak implements the playground's thin proxies in front of a Keycloak realm:
// discovery, token exchange, userinfo, logout and the OAuth2 variant's backend service call.
//
// Upstream answers are relayed, not interpreted. A provider-side 4xx is the caller's
// answer; only transport failures become local 500s.
package keycloak

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hashicorp/go-hclog"

	"github.com/ParleSec/KeycloakPlayground/internal/gateway"
	"github.com/ParleSec/KeycloakPlayground/internal/lookingglass"
	"github.com/ParleSec/KeycloakPlayground/internal/metrics"
)

// Error bodies returned on transport failure.
const (
	errDiscovery = "Error fetching discovery"
	errToken     = "Error exchanging token"
	errUserInfo  = "Error fetching userinfo"
	errService   = "Error connecting to backend service"
)

// Metric endpoint labels.
const (
	endpointDiscovery = "discovery"
	endpointToken     = "token"
	endpointUserInfo  = "userinfo"
	endpointLogout    = "logout"
	endpointService   = "service"
)

// Options configures a Handler.
type Options struct {
	Gateway *gateway.Gateway
	Logger  hclog.Logger
	Metrics *metrics.Metrics
	// LookingGlass receives an event for every proxied exchange bound to a session.
	LookingGlass *lookingglass.Engine
	// DefaultIssuer is used when the discovery request carries no issuer.
	DefaultIssuer string
	// ServiceURL is the protected backend behind /api/service.
	ServiceURL string
}

// Handler serves the /api proxy endpoints.
type Handler struct {
	gateway       *gateway.Gateway
	logger        hclog.Logger
	metrics       *metrics.Metrics
	lookingGlass  *lookingglass.Engine
	defaultIssuer string
	serviceURL    string
}

// NewHandler creates a proxy handler.
func NewHandler(opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	gw := opts.Gateway
	if gw == nil {
		gw = gateway.New(gateway.WithLogger(logger))
	}
	return &Handler{
		gateway:       gw,
		logger:        logger,
		metrics:       opts.Metrics,
		lookingGlass:  opts.LookingGlass,
		defaultIssuer: opts.DefaultIssuer,
		serviceURL:    opts.ServiceURL,
	}
}

// RegisterRoutes mounts the Keycloak proxies under /api/keycloak.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/keycloak", func(r chi.Router) {
		r.Get("/discovery", h.handleDiscovery)
		r.Post("/token", h.handleToken)
		r.Get("/userinfo", h.handleUserInfo)
		r.Get("/logout", h.handleLogout)
	})
}

// RegisterServiceRoute mounts GET /api/service, the OAuth2 variant's backend call.
func (h *Handler) RegisterServiceRoute(r chi.Router) {
	r.Get("/api/service", h.handleService)
}

func (h *Handler) recorder(r *http.Request) *lookingglass.Recorder {
	return h.lookingGlass.RecorderFor(r)
}

func (h *Handler) observe(endpoint, outcome string, started time.Time) {
	h.metrics.ObserveProxy(endpoint, outcome, started)
}

// recordUpstream records the upstream response on the looking glass.
func recordUpstream(rec *lookingglass.Recorder, resp *gateway.Response) {
	if rec == nil {
		return
	}
	var body interface{} = string(resp.Body)
	if resp.IsJSON() {
		var parsed interface{}
		if err := resp.Decode(&parsed); err == nil {
			body = parsed
		}
	}
	rec.Response(resp.StatusCode, lookingglass.FlattenHeaders(resp.Header), body)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
