package keycloak

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ParleSec/KeycloakPlayground/internal/gateway"
	"github.com/ParleSec/KeycloakPlayground/internal/lookingglass"
	"github.com/ParleSec/KeycloakPlayground/internal/metrics"
	"github.com/ParleSec/KeycloakPlayground/pkg/models"
)

func (h *Handler) handleToken(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	logger := h.logger.Named("token")

	var req models.TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.observe(endpointToken, metrics.OutcomeBadRequest, started)
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	logger.Info("proxying token request", "url", req.TokenEndpoint, "grant_type", req.GrantType)
	logger.Debug("token request parameters",
		"client_id", req.ClientID,
		"redirect_uri", req.RedirectURI,
		"code", codePreview(req.Code),
	)

	form := req.Form()
	lg := h.recorder(r)
	if lg != nil {
		decoded := lookingglass.NewDecoder().DecodeTokenRequest(form)
		annotations := lookingglass.AnnotationsFor(req.GrantType)
		for _, note := range decoded.SecurityNotes {
			annotations = append(annotations, lookingglass.Annotation{
				Type:        lookingglass.AnnotationTypeSecurityHint,
				Title:       "Token request",
				Description: note,
				Severity:    "info",
			})
		}
		lg.Request(http.MethodPost, req.TokenEndpoint,
			map[string]string{"Content-Type": "application/x-www-form-urlencoded"}, decoded, annotations...)
	}

	resp, err := h.gateway.PostForm(r.Context(), req.TokenEndpoint, form)
	if err != nil {
		logger.Error("error exchanging token", "error", err)
		h.observe(endpointToken, metrics.OutcomeError, started)
		writeError(w, http.StatusInternalServerError, errToken)
		return
	}
	recordUpstream(lg, resp)

	if !resp.IsJSON() {
		logger.Error("error exchanging token", "status", resp.StatusCode, "error", "upstream body is not JSON")
		h.observe(endpointToken, metrics.OutcomeError, started)
		writeError(w, http.StatusInternalServerError, errToken)
		return
	}

	if resp.StatusCode == http.StatusOK {
		logger.Info("token exchange successful")
		if lg != nil {
			var tokens map[string]interface{}
			if err := resp.Decode(&tokens); err == nil {
				lg.Tokens(tokens)
			}
		}
	} else {
		logger.Info("token exchange failed", "status", resp.StatusCode, "body", string(resp.Body))
	}

	h.observe(endpointToken, metrics.OutcomePassThrough, started)
	if err := gateway.CopyJSON(w, resp.StatusCode, resp.Body); err != nil {
		logger.Debug("write token response", "error", err)
	}
}

// codePreview shows enough of an authorization code to correlate log lines.
func codePreview(code string) string {
	if code == "" {
		return ""
	}
	if len(code) > 10 {
		return code[:10] + "..."
	}
	return code
}
