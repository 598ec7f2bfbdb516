package keycloak

import (
	"net/http"
	"time"

	"github.com/ParleSec/KeycloakPlayground/internal/gateway"
	"github.com/ParleSec/KeycloakPlayground/internal/lookingglass"
	"github.com/ParleSec/KeycloakPlayground/internal/metrics"
)

func (h *Handler) handleService(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	logger := h.logger.Named("service")
	logger.Info("proxying request to backend service", "url", h.serviceURL)

	header := http.Header{}
	if auth := r.Header.Get("Authorization"); auth != "" {
		header.Set("Authorization", auth)
	}

	lg := h.recorder(r)
	lg.Request(http.MethodGet, h.serviceURL, lookingglass.FlattenHeaders(header), nil,
		lookingglass.AnnotationsFor(lookingglass.TopicBearer)...)

	resp, err := h.gateway.Get(r.Context(), h.serviceURL, header)
	if err != nil {
		logger.Error("error connecting to backend service", "error", err)
		h.observe(endpointService, metrics.OutcomeError, started)
		http.Error(w, errService, http.StatusInternalServerError)
		return
	}
	recordUpstream(lg, resp)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		logger.Warn("backend service answered unauthorized", "status", resp.StatusCode)
	case resp.StatusCode == http.StatusForbidden:
		logger.Warn("backend service answered forbidden", "status", resp.StatusCode)
	case resp.StatusCode >= 500:
		logger.Error("backend service error", "status", resp.StatusCode)
	default:
		logger.Info("backend service responded", "status", resp.StatusCode)
	}

	h.observe(endpointService, metrics.OutcomePassThrough, started)
	if resp.Header.Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
	}
	if err := gateway.CopyResponse(w, resp); err != nil {
		logger.Debug("failed to write service response", "error", err)
	}
}
