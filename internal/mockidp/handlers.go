package mockidp

import (
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ParleSec/KeycloakPlayground/internal/lookingglass"
	"github.com/ParleSec/KeycloakPlayground/pkg/models"
)

// RegisterRoutes mounts the realm under /realms/{realm}.
func (idp *MockIdP) RegisterRoutes(r chi.Router) {
	r.Route("/realms/"+idp.realm, func(r chi.Router) {
		r.Get("/.well-known/openid-configuration", idp.handleDiscovery)
		r.Route("/protocol/openid-connect", func(r chi.Router) {
			r.Get("/auth", idp.handleAuthorize)
			r.Post("/token", idp.handleToken)
			r.Get("/userinfo", idp.handleUserInfo)
			r.Post("/userinfo", idp.handleUserInfo)
			r.Get("/logout", idp.handleLogout)
			r.Get("/certs", idp.handleCerts)
		})
	})
}

// Handler returns a router serving only the realm.
func (idp *MockIdP) Handler() http.Handler {
	r := chi.NewRouter()
	idp.RegisterRoutes(r)
	return r
}

// Discovery returns the realm's discovery document.
func (idp *MockIdP) Discovery() models.DiscoveryDocument {
	issuer := idp.Issuer()
	oidc := issuer + "/protocol/openid-connect"
	return models.DiscoveryDocument{
		Issuer:                            issuer,
		AuthorizationEndpoint:             oidc + "/auth",
		TokenEndpoint:                     oidc + "/token",
		UserinfoEndpoint:                  oidc + "/userinfo",
		EndSessionEndpoint:                oidc + "/logout",
		JwksURI:                           oidc + "/certs",
		ScopesSupported:                   []string{"openid", "profile", "email", "offline_access"},
		ResponseTypesSupported:            []string{"code"},
		GrantTypesSupported:               []string{"authorization_code", "refresh_token"},
		SubjectTypesSupported:             []string{"public"},
		IDTokenSigningAlgValuesSupported:  []string{"RS256", "ES256"},
		TokenEndpointAuthMethodsSupported: []string{"client_secret_basic", "client_secret_post", "none"},
		ClaimsSupported:                   []string{"sub", "iss", "aud", "exp", "iat", "auth_time", "name", "given_name", "family_name", "preferred_username", "email", "email_verified"},
		CodeChallengeMethodsSupported:     []string{"plain", "S256"},
	}
}

func (idp *MockIdP) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, idp.Discovery())
}

func (idp *MockIdP) handleCerts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, idp.keys.JWKS())
}

func (idp *MockIdP) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	clientID := q.Get("client_id")
	redirectURI := q.Get("redirect_uri")

	client, ok := idp.GetClient(clientID)
	if !ok || client.BearerOnly {
		errorPage(w, "Invalid parameter: client_id")
		return
	}
	if !matchRedirect(client.RedirectURIs, redirectURI) {
		errorPage(w, "Invalid parameter: redirect_uri")
		return
	}

	state := q.Get("state")
	if q.Get("response_type") != "code" {
		redirectWith(w, r, redirectURI, url.Values{
			"error":             {"unsupported_response_type"},
			"error_description": {"Client is not allowed to initiate browser login with given response_type."},
		}, state)
		return
	}

	username := q.Get("login_hint")
	if username == "" {
		username = idp.DefaultUser
	}
	if _, ok := idp.GetUser(username); !ok {
		if q.Get("prompt") == "none" {
			redirectWith(w, r, redirectURI, url.Values{"error": {"login_required"}}, state)
			return
		}
		redirectWith(w, r, redirectURI, url.Values{
			"error":             {"access_denied"},
			"error_description": {"Invalid username or password."},
		}, state)
		return
	}

	code, sessionID, err := idp.CreateAuthorizationCode(clientID, username, redirectURI, q.Get("scope"), q.Get("nonce"))
	if err != nil {
		redirectWith(w, r, redirectURI, url.Values{"error": {"server_error"}}, state)
		return
	}
	redirectWith(w, r, redirectURI, url.Values{
		"code":          {code},
		"session_state": {sessionID},
		"iss":           {idp.Issuer()},
	}, state)
}

func (idp *MockIdP) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, &TokenError{Status: http.StatusBadRequest, Code: "invalid_request", Description: "Malformed form body"})
		return
	}

	clientID := r.PostForm.Get("client_id")
	if user, _, ok := r.BasicAuth(); ok && clientID == "" {
		clientID = user
	}
	client, ok := idp.GetClient(clientID)
	if !ok {
		writeOAuthError(w, &TokenError{Status: http.StatusUnauthorized, Code: "invalid_client", Description: "Invalid client or Invalid client credentials"})
		return
	}
	if client.BearerOnly {
		writeOAuthError(w, &TokenError{Status: http.StatusBadRequest, Code: "unauthorized_client", Description: "Bearer-only not allowed"})
		return
	}

	var (
		resp   *models.TokenResponse
		tokErr *TokenError
	)
	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		code := r.PostForm.Get("code")
		if code == "" {
			tokErr = &TokenError{Status: http.StatusBadRequest, Code: "invalid_request", Description: "Missing parameter: code"}
			break
		}
		resp, tokErr = idp.ExchangeCode(code, clientID, r.PostForm.Get("redirect_uri"))
	case "refresh_token":
		rt := r.PostForm.Get("refresh_token")
		if rt == "" {
			tokErr = &TokenError{Status: http.StatusBadRequest, Code: "invalid_request", Description: "Missing parameter: refresh_token"}
			break
		}
		resp, tokErr = idp.Refresh(rt, clientID, r.PostForm.Get("scope"))
	case "":
		tokErr = &TokenError{Status: http.StatusBadRequest, Code: "invalid_request", Description: "Missing form parameter: grant_type"}
	default:
		tokErr = &TokenError{Status: http.StatusBadRequest, Code: "unsupported_grant_type", Description: "Unsupported grant_type"}
	}

	if tokErr != nil {
		writeOAuthError(w, tokErr)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, resp)
}

func (idp *MockIdP) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	token, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !found || token == "" {
		w.Header().Set("WWW-Authenticate", `Bearer realm="`+idp.realm+`"`)
		writeJSON(w, http.StatusUnauthorized, models.OAuthError{Error: "invalid_request", ErrorDescription: "Token not provided"})
		return
	}

	claims, err := idp.ValidateAccessToken(token)
	if err != nil {
		w.Header().Set("WWW-Authenticate", `Bearer realm="`+idp.realm+`", error="invalid_token"`)
		writeJSON(w, http.StatusUnauthorized, models.OAuthError{Error: "invalid_token", ErrorDescription: "Token verification failed"})
		return
	}

	sub, _ := claims["sub"].(string)
	user, ok := idp.userByID(sub)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, models.OAuthError{Error: "invalid_token", ErrorDescription: "User not found"})
		return
	}
	scope, _ := claims["scope"].(string)
	writeJSON(w, http.StatusOK, profileClaims(user, strings.Fields(scope)))
}

func (idp *MockIdP) handleLogout(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	redirect := q.Get("post_logout_redirect_uri")
	hint := q.Get("id_token_hint")
	clientID := q.Get("client_id")

	var sessionID string
	if hint != "" {
		// Keycloak accepts expired hints, so only the payload is read here.
		claims, err := lookingglass.DecodePayload(hint)
		if err != nil || lookingglass.StringClaim(claims, "iss") != idp.Issuer() {
			errorPage(w, "Invalid parameter: id_token_hint")
			return
		}
		sessionID = lookingglass.StringClaim(claims, "sid")
		if clientID == "" {
			clientID = lookingglass.StringClaim(claims, "azp")
		}
	}

	if redirect != "" {
		client, ok := idp.GetClient(clientID)
		if !ok {
			errorPage(w, "Missing parameters: id_token_hint")
			return
		}
		if !matchRedirect(client.PostLogoutRedirectURIs, redirect) {
			errorPage(w, "Invalid redirect uri")
			return
		}
	}

	if sessionID != "" {
		idp.EndSession(sessionID)
	}

	if redirect == "" {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = fmt.Fprint(w, "<html><body><p>You are logged out</p></body></html>")
		return
	}
	redirectWith(w, r, redirect, url.Values{}, q.Get("state"))
}

func redirectWith(w http.ResponseWriter, r *http.Request, target string, params url.Values, state string) {
	u, err := url.Parse(target)
	if err != nil {
		errorPage(w, "Invalid parameter: redirect_uri")
		return
	}
	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()
	http.Redirect(w, r, u.String(), http.StatusFound)
}

func errorPage(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusBadRequest)
	_, _ = fmt.Fprintf(w, "<html><body><h1>We are sorry...</h1><p>%s</p></body></html>", html.EscapeString(message))
}

func writeOAuthError(w http.ResponseWriter, e *TokenError) {
	writeJSON(w, e.Status, models.OAuthError{Error: e.Code, ErrorDescription: e.Description})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
