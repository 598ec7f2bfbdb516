package keycloak

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ParleSec/KeycloakPlayground/internal/lookingglass"
	"github.com/ParleSec/KeycloakPlayground/internal/metrics"
)

// LogoutURL builds the end-session redirect. Values are escaped like encodeURIComponent,
// so spaces become %20 rather than +.
func LogoutURL(endSessionEndpoint, postLogoutRedirectURI, idTokenHint string) string {
	var b strings.Builder
	b.WriteString(endSessionEndpoint)
	b.WriteString("?post_logout_redirect_uri=")
	b.WriteString(escapeComponent(postLogoutRedirectURI))
	if idTokenHint != "" {
		b.WriteString("&id_token_hint=")
		b.WriteString(escapeComponent(idTokenHint))
	}
	return b.String()
}

func escapeComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	logger := h.logger.Named("logout")
	q := r.URL.Query()

	endSession := q.Get("end_session_endpoint")
	if endSession == "" {
		h.observe(endpointLogout, metrics.OutcomeBadRequest, started)
		writeError(w, http.StatusBadRequest, "end_session_endpoint is required")
		return
	}

	hint := q.Get("id_token_hint")
	hintState := "missing"
	if hint != "" {
		hintState = "present"
	}
	logger.Info("redirecting to keycloak logout", "url", endSession, "id_token_hint", hintState)

	target := LogoutURL(endSession, q.Get("post_logout_redirect_uri"), hint)
	h.recorder(r).Step("Logout redirect", map[string]interface{}{
		"location": target,
	}, lookingglass.AnnotationsFor(lookingglass.TopicLogout)...)

	h.observe(endpointLogout, metrics.OutcomeRedirect, started)
	w.Header().Set("Location", target)
	w.WriteHeader(http.StatusFound)
}
