package flow

import (
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"github.com/ParleSec/KeycloakPlayground/pkg/models"
)

// Discovery document fields the client depends on.
const (
	fieldAuthorizationEndpoint = "authorization_endpoint"
	fieldTokenEndpoint         = "token_endpoint"
	fieldUserInfoEndpoint      = "userinfo_endpoint"
	fieldEndSessionEndpoint    = "end_session_endpoint"
)

func (m *Machine) oauthConfig(s State, redirectURI string) (*oauth2.Config, error) {
	authURL := s.Endpoint(fieldAuthorizationEndpoint)
	if authURL == "" {
		return nil, &GuardError{Step: m.variant.AuthorizationStep(), Message: msgNeedDiscovery}
	}
	in := s.AuthorizationInput
	if in == nil || in.ClientID == "" {
		return nil, &GuardError{Step: m.variant.AuthorizationStep(), Message: msgNeedClientID}
	}
	return &oauth2.Config{
		ClientID:    in.ClientID,
		RedirectURL: redirectURI,
		Scopes:      splitScope(in.Scope),
		Endpoint: oauth2.Endpoint{
			AuthURL:   authURL,
			TokenURL:  s.Endpoint(fieldTokenEndpoint),
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}, nil
}

// AuthorizationURL builds the authorization request from the recorded input. Optional
// OIDC parameters are sent only when set.
func (m *Machine) AuthorizationURL(s State, redirectURI string) (string, error) {
	cfg, err := m.oauthConfig(s, redirectURI)
	if err != nil {
		return "", err
	}

	in := s.AuthorizationInput
	var opts []oauth2.AuthCodeOption
	for _, p := range [...]struct{ key, value string }{
		{"prompt", in.Prompt},
		{"max_age", in.MaxAge},
		{"login_hint", in.LoginHint},
	} {
		if p.value != "" {
			opts = append(opts, oauth2.SetAuthURLParam(p.key, p.value))
		}
	}
	return cfg.AuthCodeURL(s.AuthState, opts...), nil
}

// CodeExchangeRequest is the proxy body redeeming the stored authorization code.
func (m *Machine) CodeExchangeRequest(s State, redirectURI string) (models.TokenRequest, error) {
	tokenURL := s.Endpoint(fieldTokenEndpoint)
	if tokenURL == "" {
		return models.TokenRequest{}, &GuardError{Step: StepToken, Message: msgNeedDiscovery}
	}
	if s.AuthorizationCode == "" {
		return models.TokenRequest{}, &GuardError{Step: StepToken, Message: msgNeedCode}
	}
	return models.TokenRequest{
		TokenEndpoint: tokenURL,
		GrantType:     "authorization_code",
		Code:          s.AuthorizationCode,
		ClientID:      s.ClientID(),
		RedirectURI:   redirectURI,
	}, nil
}

// RefreshRequest is the proxy body for a refresh_token grant.
func (m *Machine) RefreshRequest(s State) (models.TokenRequest, error) {
	if err := m.check(s, StepRefresh); err != nil {
		return models.TokenRequest{}, err
	}
	return models.TokenRequest{
		TokenEndpoint: s.Endpoint(fieldTokenEndpoint),
		GrantType:     "refresh_token",
		RefreshToken:  s.RefreshToken,
		ClientID:      s.ClientID(),
		Scope:         "openid",
	}, nil
}

// UserInfoRequest returns the userinfo endpoint and the bearer credential for it.
func (m *Machine) UserInfoRequest(s State) (endpoint, authorization string, err error) {
	if err := m.check(s, StepUserInfo); err != nil {
		return "", "", err
	}
	endpoint = s.Endpoint(fieldUserInfoEndpoint)
	if endpoint == "" {
		return "", "", &GuardError{Step: StepUserInfo, Message: "Discovery document has no userinfo_endpoint"}
	}
	return endpoint, "Bearer " + s.AccessToken, nil
}

// ServiceAuthorization returns the bearer credential for the protected service.
func (m *Machine) ServiceAuthorization(s State) (string, error) {
	if err := m.check(s, StepInvoke); err != nil {
		return "", err
	}
	return "Bearer " + s.AccessToken, nil
}

// LogoutURL returns the proxy-relative logout path for the current state.
func (m *Machine) LogoutURL(s State, postLogoutRedirectURI string) (string, error) {
	endSession := s.Endpoint(fieldEndSessionEndpoint)
	if endSession == "" {
		return "", &GuardError{Message: msgNeedLogoutConfig}
	}
	var b strings.Builder
	b.WriteString("/api/keycloak/logout?end_session_endpoint=")
	b.WriteString(escapeComponent(endSession))
	b.WriteString("&post_logout_redirect_uri=")
	b.WriteString(escapeComponent(postLogoutRedirectURI))
	if s.IDToken != "" {
		b.WriteString("&id_token_hint=")
		b.WriteString(escapeComponent(s.IDToken))
	}
	return b.String(), nil
}

func escapeComponent(v string) string {
	return strings.ReplaceAll(url.QueryEscape(v), "+", "%20")
}
