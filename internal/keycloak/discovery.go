package keycloak

import (
	"net/http"
	"strings"
	"time"

	"github.com/ParleSec/KeycloakPlayground/internal/gateway"
	"github.com/ParleSec/KeycloakPlayground/internal/lookingglass"
	"github.com/ParleSec/KeycloakPlayground/internal/metrics"
)

// DiscoveryURL returns the discovery document location for an issuer.
func DiscoveryURL(issuer string) string {
	return strings.TrimSuffix(issuer, "/") + "/.well-known/openid-configuration"
}

func (h *Handler) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	logger := h.logger.Named("discovery")

	issuer := r.URL.Query().Get("issuer")
	if issuer == "" {
		issuer = h.defaultIssuer
	}
	target := DiscoveryURL(issuer)
	logger.Info("proxying discovery request", "url", target)

	lg := h.recorder(r)
	lg.Request(http.MethodGet, target, nil, nil, lookingglass.AnnotationsFor(lookingglass.TopicDiscovery)...)

	resp, err := h.gateway.Get(r.Context(), target, nil)
	if err != nil {
		logger.Error("error fetching discovery", "error", err)
		h.observe(endpointDiscovery, metrics.OutcomeError, started)
		writeError(w, http.StatusInternalServerError, errDiscovery)
		return
	}
	recordUpstream(lg, resp)

	if !resp.IsJSON() {
		logger.Error("error fetching discovery", "status", resp.StatusCode, "error", "upstream body is not JSON")
		h.observe(endpointDiscovery, metrics.OutcomeError, started)
		writeError(w, http.StatusInternalServerError, errDiscovery)
		return
	}

	logger.Debug("discovery loaded", "status", resp.StatusCode)
	h.observe(endpointDiscovery, metrics.OutcomePassThrough, started)
	if err := gateway.CopyJSON(w, http.StatusOK, resp.Body); err != nil {
		logger.Debug("write discovery response", "error", err)
	}
}
