package mockidp

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ParleSec/KeycloakPlayground/internal/crypto"
	"github.com/ParleSec/KeycloakPlayground/internal/lookingglass"
	"github.com/ParleSec/KeycloakPlayground/pkg/models"
)

const playgroundRedirect = "http://localhost:8000/"

func noRedirectClient() *http.Client {
	return &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
}

func authorize(t *testing.T, realm *TestRealm, params url.Values) *url.URL {
	t.Helper()
	resp, err := noRedirectClient().Get(realm.Issuer() + "/protocol/openid-connect/auth?" + params.Encode())
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)
	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	return loc
}

func postToken(t *testing.T, realm *TestRealm, form url.Values) (int, models.TokenResponse) {
	t.Helper()
	resp, err := http.PostForm(realm.Issuer()+"/protocol/openid-connect/token", form)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out models.TokenResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func codeFlow(t *testing.T, realm *TestRealm, user string) models.TokenResponse {
	t.Helper()
	loc := authorize(t, realm, url.Values{
		"response_type": {"code"},
		"client_id":     {ClientOIDCPlayground},
		"redirect_uri":  {playgroundRedirect},
		"scope":         {"openid"},
		"state":         {"xyz"},
		"login_hint":    {user},
	})
	code := loc.Query().Get("code")
	require.NotEmpty(t, code)

	status, tokens := postToken(t, realm, url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"client_id":    {ClientOIDCPlayground},
		"redirect_uri": {playgroundRedirect},
	})
	require.Equal(t, http.StatusOK, status)
	return tokens
}

func TestDiscoveryDocument(t *testing.T) {
	realm := NewTestRealm(t)

	resp, err := http.Get(realm.DiscoveryURL())
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var doc models.DiscoveryDocument
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	assert.Equal(t, realm.Server.URL+"/realms/demo", doc.Issuer)
	assert.Equal(t, doc.Issuer+"/protocol/openid-connect/token", doc.TokenEndpoint)
	assert.Equal(t, doc.Issuer+"/protocol/openid-connect/logout", doc.EndSessionEndpoint)
	assert.Contains(t, doc.CodeChallengeMethodsSupported, "S256")
}

func TestCerts(t *testing.T) {
	realm := NewTestRealm(t)

	resp, err := http.Get(realm.Issuer() + "/protocol/openid-connect/certs")
	require.NoError(t, err)
	defer resp.Body.Close()

	var jwks struct {
		Keys []map[string]interface{} `json:"keys"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&jwks))
	require.Len(t, jwks.Keys, 2)
	assert.Equal(t, "RSA", jwks.Keys[0]["kty"])
	rsaKey, ok := realm.Keys().Signing(crypto.RS256)
	require.True(t, ok)
	assert.Equal(t, rsaKey.ID, jwks.Keys[0]["kid"])
}

func TestAuthorize_RedirectsWithCodeAndState(t *testing.T) {
	realm := NewTestRealm(t)

	loc := authorize(t, realm, url.Values{
		"response_type": {"code"},
		"client_id":     {ClientOIDCPlayground},
		"redirect_uri":  {playgroundRedirect},
		"scope":         {"openid"},
		"state":         {"s1"},
	})
	assert.Equal(t, "localhost:8000", loc.Host)
	assert.NotEmpty(t, loc.Query().Get("code"))
	assert.NotEmpty(t, loc.Query().Get("session_state"))
	assert.Equal(t, "s1", loc.Query().Get("state"))
}

func TestAuthorize_Rejections(t *testing.T) {
	realm := NewTestRealm(t)

	tests := []struct {
		name   string
		params url.Values
	}{
		{"unknown client", url.Values{"response_type": {"code"}, "client_id": {"nope"}, "redirect_uri": {playgroundRedirect}}},
		{"bearer-only client", url.Values{"response_type": {"code"}, "client_id": {ClientBackend}, "redirect_uri": {playgroundRedirect}}},
		{"unregistered redirect", url.Values{"response_type": {"code"}, "client_id": {ClientOIDCPlayground}, "redirect_uri": {"https://evil.example/"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Get(realm.Issuer() + "/protocol/openid-connect/auth?" + tt.params.Encode())
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestAuthorize_UnknownUserIsDenied(t *testing.T) {
	realm := NewTestRealm(t)

	loc := authorize(t, realm, url.Values{
		"response_type": {"code"},
		"client_id":     {ClientOIDCPlayground},
		"redirect_uri":  {playgroundRedirect},
		"login_hint":    {"mallory"},
	})
	assert.Equal(t, "access_denied", loc.Query().Get("error"))
	assert.Empty(t, loc.Query().Get("code"))
}

func TestCodeExchange_IssuesKeycloakShapedTokens(t *testing.T) {
	realm := NewTestRealm(t)
	tokens := codeFlow(t, realm, "alice")

	assert.Equal(t, "Bearer", tokens.TokenType)
	assert.NotEmpty(t, tokens.IDToken)
	assert.NotEmpty(t, tokens.RefreshToken)
	assert.Contains(t, tokens.Scope, "openid")

	claims, err := lookingglass.DecodePayload(tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, realm.Issuer(), claims["iss"])
	assert.Equal(t, "Bearer", claims["typ"])
	assert.Equal(t, ClientOIDCPlayground, claims["azp"])
	assert.Contains(t, lookingglass.Audiences(claims), ClientBackend)
	assert.Equal(t, []string{"user"}, lookingglass.ClientRoles(claims, ClientBackend))
	assert.Contains(t, lookingglass.RealmRoles(claims), "offline_access")

	id, err := lookingglass.DecodePayload(tokens.IDToken)
	require.NoError(t, err)
	assert.Equal(t, "ID", id["typ"])
	assert.Equal(t, "alice", id["preferred_username"])
}

func TestCodeExchange_CodeIsSingleUse(t *testing.T) {
	realm := NewTestRealm(t)
	code, _, err := realm.CreateAuthorizationCode(ClientOIDCPlayground, "alice", playgroundRedirect, "openid", "")
	require.NoError(t, err)

	_, tokErr := realm.ExchangeCode(code, ClientOIDCPlayground, playgroundRedirect)
	require.Nil(t, tokErr)

	_, tokErr = realm.ExchangeCode(code, ClientOIDCPlayground, playgroundRedirect)
	require.NotNil(t, tokErr)
	assert.Equal(t, "invalid_grant", tokErr.Code)
	assert.Equal(t, http.StatusBadRequest, tokErr.Status)
}

func TestCodeExchange_RedirectMismatch(t *testing.T) {
	realm := NewTestRealm(t)
	code, _, err := realm.CreateAuthorizationCode(ClientOIDCPlayground, "alice", playgroundRedirect, "openid", "")
	require.NoError(t, err)

	_, tokErr := realm.ExchangeCode(code, ClientOIDCPlayground, "http://localhost:8000/other")
	require.NotNil(t, tokErr)
	assert.Equal(t, "Incorrect redirect_uri", tokErr.Description)
}

func TestCodeExchange_ExpiredCode(t *testing.T) {
	realm := NewTestRealm(t)
	now := time.Now()
	realm.SetClock(func() time.Time { return now })
	code, _, err := realm.CreateAuthorizationCode(ClientOIDCPlayground, "alice", playgroundRedirect, "openid", "")
	require.NoError(t, err)

	realm.SetClock(func() time.Time { return now.Add(2 * time.Minute) })
	_, tokErr := realm.ExchangeCode(code, ClientOIDCPlayground, playgroundRedirect)
	require.NotNil(t, tokErr)
	assert.Equal(t, "invalid_grant", tokErr.Code)
}

func TestTokenEndpoint_Errors(t *testing.T) {
	realm := NewTestRealm(t)

	tests := []struct {
		name   string
		form   url.Values
		status int
		code   string
	}{
		{"unknown client", url.Values{"grant_type": {"authorization_code"}, "client_id": {"nope"}}, http.StatusUnauthorized, "invalid_client"},
		{"bearer-only", url.Values{"grant_type": {"authorization_code"}, "client_id": {ClientBackend}}, http.StatusBadRequest, "unauthorized_client"},
		{"missing grant", url.Values{"client_id": {ClientOIDCPlayground}}, http.StatusBadRequest, "invalid_request"},
		{"unsupported grant", url.Values{"grant_type": {"password"}, "client_id": {ClientOIDCPlayground}}, http.StatusBadRequest, "unsupported_grant_type"},
		{"bad refresh", url.Values{"grant_type": {"refresh_token"}, "refresh_token": {"junk"}, "client_id": {ClientOIDCPlayground}}, http.StatusBadRequest, "invalid_grant"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := postToken(t, realm, tt.form)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, body.Error)
		})
	}
}

func TestRefresh_RotatesToken(t *testing.T) {
	realm := NewTestRealm(t)
	tokens := codeFlow(t, realm, "alice")

	status, refreshed := postToken(t, realm, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {tokens.RefreshToken},
		"client_id":     {ClientOIDCPlayground},
		"scope":         {"openid"},
	})
	require.Equal(t, http.StatusOK, status)
	assert.NotEqual(t, tokens.AccessToken, refreshed.AccessToken)
	assert.NotEmpty(t, refreshed.IDToken)

	status, body := postToken(t, realm, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {tokens.RefreshToken},
		"client_id":     {ClientOIDCPlayground},
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_grant", body.Error)
}

func TestRefresh_WrongClient(t *testing.T) {
	realm := NewTestRealm(t)
	tokens := codeFlow(t, realm, "alice")

	_, tokErr := realm.Refresh(tokens.RefreshToken, ClientOAuthPlayground, "")
	require.NotNil(t, tokErr)
	assert.Equal(t, "invalid_grant", tokErr.Code)
}

func TestUserInfo(t *testing.T) {
	realm := NewTestRealm(t)
	tokens := codeFlow(t, realm, "bob")

	req, err := http.NewRequest(http.MethodGet, realm.Issuer()+"/protocol/openid-connect/userinfo", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var info map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	assert.Equal(t, "bob", info["preferred_username"])
	assert.Equal(t, "bob@example.com", info["email"])
}

func TestUserInfo_RejectsMissingAndBadTokens(t *testing.T) {
	realm := NewTestRealm(t)

	for _, header := range []string{"", "Bearer junk"} {
		req, err := http.NewRequest(http.MethodGet, realm.Issuer()+"/protocol/openid-connect/userinfo", nil)
		require.NoError(t, err)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.True(t, strings.HasPrefix(resp.Header.Get("WWW-Authenticate"), "Bearer"))
	}
}

func TestLogout_EndsSession(t *testing.T) {
	realm := NewTestRealm(t)
	tokens := codeFlow(t, realm, "alice")

	params := url.Values{
		"id_token_hint":            {tokens.IDToken},
		"post_logout_redirect_uri": {playgroundRedirect},
	}
	resp, err := noRedirectClient().Get(realm.Issuer() + "/protocol/openid-connect/logout?" + params.Encode())
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, playgroundRedirect, resp.Header.Get("Location"))

	_, err = realm.ValidateAccessToken(tokens.AccessToken)
	assert.Error(t, err)
	_, tokErr := realm.Refresh(tokens.RefreshToken, ClientOIDCPlayground, "")
	require.NotNil(t, tokErr)
}

func TestLogout_WithoutRedirectShowsPage(t *testing.T) {
	realm := NewTestRealm(t)

	resp, err := http.Get(realm.Issuer() + "/protocol/openid-connect/logout")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "logged out")
}

func TestLogout_RejectsUnregisteredRedirect(t *testing.T) {
	realm := NewTestRealm(t)
	tokens := codeFlow(t, realm, "alice")

	params := url.Values{
		"id_token_hint":            {tokens.IDToken},
		"post_logout_redirect_uri": {"https://evil.example/"},
	}
	resp, err := noRedirectClient().Get(realm.Issuer() + "/protocol/openid-connect/logout?" + params.Encode())
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMintAccessToken_Expired(t *testing.T) {
	realm := NewTestRealm(t)

	token, err := realm.MintAccessToken("alice", ClientOIDCPlayground, -time.Minute)
	require.NoError(t, err)
	_, err = realm.ValidateAccessToken(token)
	assert.Error(t, err)
}

func TestMatchRedirect(t *testing.T) {
	patterns := []string{"http://localhost:8000/*", "https://exact.example/cb"}

	assert.True(t, matchRedirect(patterns, "http://localhost:8000/"))
	assert.True(t, matchRedirect(patterns, "http://localhost:8000/deep/path"))
	assert.True(t, matchRedirect(patterns, "https://exact.example/cb"))
	assert.False(t, matchRedirect(patterns, "https://exact.example/cb2"))
	assert.False(t, matchRedirect(patterns, "http://localhost:8001/"))
	assert.False(t, matchRedirect(patterns, ""))
}
