package keycloak

import (
	"net/http"
	"time"

	"github.com/ParleSec/KeycloakPlayground/internal/gateway"
	"github.com/ParleSec/KeycloakPlayground/internal/lookingglass"
	"github.com/ParleSec/KeycloakPlayground/internal/metrics"
)

func (h *Handler) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	logger := h.logger.Named("userinfo")

	endpoint := r.URL.Query().Get("endpoint")
	logger.Info("proxying userinfo request", "url", endpoint)

	header := http.Header{}
	if auth := r.Header.Get("Authorization"); auth != "" {
		header.Set("Authorization", auth)
	}

	lg := h.recorder(r)
	lg.Request(http.MethodGet, endpoint, lookingglass.FlattenHeaders(header), nil,
		lookingglass.AnnotationsFor(lookingglass.TopicUserInfo)...)

	resp, err := h.gateway.Get(r.Context(), endpoint, header)
	if err != nil {
		logger.Error("error fetching userinfo", "error", err)
		h.observe(endpointUserInfo, metrics.OutcomeError, started)
		writeError(w, http.StatusInternalServerError, errUserInfo)
		return
	}
	recordUpstream(lg, resp)

	if !resp.IsJSON() {
		logger.Error("error fetching userinfo", "status", resp.StatusCode, "error", "upstream body is not JSON")
		h.observe(endpointUserInfo, metrics.OutcomeError, started)
		writeError(w, http.StatusInternalServerError, errUserInfo)
		return
	}

	if resp.StatusCode == http.StatusOK {
		var claims map[string]interface{}
		_ = resp.Decode(&claims)
		logger.Info("userinfo retrieved", "user", displayUser(claims))
	} else {
		logger.Info("userinfo request failed", "status", resp.StatusCode)
	}

	h.observe(endpointUserInfo, metrics.OutcomePassThrough, started)
	if err := gateway.CopyJSON(w, resp.StatusCode, resp.Body); err != nil {
		logger.Debug("write userinfo response", "error", err)
	}
}

func displayUser(claims map[string]interface{}) string {
	if name := lookingglass.StringClaim(claims, "preferred_username"); name != "" {
		return name
	}
	if sub := lookingglass.StringClaim(claims, "sub"); sub != "" {
		return sub
	}
	return "unknown"
}
