// Package models holds the wire shapes shared by the playground servers, the CLI and the
// mock realm.
package models

import "net/url"

// TokenRequest is the JSON body accepted by the token exchange proxy.
type TokenRequest struct {
	TokenEndpoint string `json:"token_endpoint"`
	GrantType     string `json:"grant_type,omitempty"`
	Code          string `json:"code,omitempty"`
	RefreshToken  string `json:"refresh_token,omitempty"`
	ClientID      string `json:"client_id,omitempty"`
	RedirectURI   string `json:"redirect_uri,omitempty"`
	Scope         string `json:"scope,omitempty"`
}

// Form returns the non-empty token parameters in upstream form encoding.
func (r TokenRequest) Form() url.Values {
	form := url.Values{}
	for _, kv := range [...]struct{ key, value string }{
		{"grant_type", r.GrantType},
		{"code", r.Code},
		{"refresh_token", r.RefreshToken},
		{"client_id", r.ClientID},
		{"redirect_uri", r.RedirectURI},
		{"scope", r.Scope},
	} {
		if kv.value != "" {
			form.Set(kv.key, kv.value)
		}
	}
	return form
}

// TokenResponse represents an OAuth token response
type TokenResponse struct {
	AccessToken      string `json:"access_token,omitempty"`
	TokenType        string `json:"token_type,omitempty"`
	ExpiresIn        int    `json:"expires_in,omitempty"`
	RefreshExpiresIn int    `json:"refresh_expires_in,omitempty"`
	RefreshToken     string `json:"refresh_token,omitempty"`
	IDToken          string `json:"id_token,omitempty"`
	Scope            string `json:"scope,omitempty"`
	SessionState     string `json:"session_state,omitempty"`

	Error            string `json:"error,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// OAuthError is an RFC 6749 error body.
type OAuthError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// DiscoveryDocument represents OIDC discovery document
type DiscoveryDocument struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	UserinfoEndpoint                  string   `json:"userinfo_endpoint,omitempty"`
	EndSessionEndpoint                string   `json:"end_session_endpoint,omitempty"`
	JwksURI                           string   `json:"jwks_uri"`
	IntrospectionEndpoint             string   `json:"introspection_endpoint,omitempty"`
	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported,omitempty"`
	SubjectTypesSupported             []string `json:"subject_types_supported"`
	IDTokenSigningAlgValuesSupported  []string `json:"id_token_signing_alg_values_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported,omitempty"`
	ClaimsSupported                   []string `json:"claims_supported,omitempty"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported,omitempty"`
}
