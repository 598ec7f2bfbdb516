package lookingglass

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeJWT(t *testing.T, header, payload map[string]interface{}) string {
	t.Helper()
	enc := func(v map[string]interface{}) string {
		b, err := json.Marshal(v)
		require.NoError(t, err)
		return base64.RawURLEncoding.EncodeToString(b)
	}
	return enc(header) + "." + enc(payload) + ".c2ln"
}

func TestBase64URLDecode(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"no padding needed", "YWJj", "abc"},
		{"two pad chars", "YQ", "a"},
		{"one pad char", "YWI", "ab"},
		{"url alphabet", "-_8", "\xfb\xff"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Base64URLDecode(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestBase64URLDecode_InvalidLength(t *testing.T) {
	_, err := Base64URLDecode("abcde")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidLength))
	assert.Contains(t, err.Error(), "length 5")
}

func TestDecodeJWT_KeycloakAccessToken(t *testing.T) {
	exp := time.Now().Add(5 * time.Minute)
	token := makeJWT(t,
		map[string]interface{}{"alg": "RS256", "kid": "rsa-1", "typ": "JWT"},
		map[string]interface{}{
			"iss":          "http://localhost:8080/realms/demo",
			"sub":          "user-1",
			"aud":          []string{"nodejs-oauth-backend", "account"},
			"typ":          "Bearer",
			"exp":          exp.Unix(),
			"realm_access": map[string]interface{}{"roles": []string{"offline_access"}},
			"custom":       "x",
		})

	decoded, err := NewDecoder().DecodeJWT(token)
	require.NoError(t, err)

	a := decoded.Analysis
	assert.Equal(t, "RS256", a.Algorithm)
	assert.Equal(t, "rsa-1", a.KeyID)
	assert.Equal(t, "access_token", a.Type)
	assert.False(t, a.IsExpired)
	assert.NotEmpty(t, a.ExpiresIn)
	assert.Equal(t, []string{"nodejs-oauth-backend", "account"}, a.Audience)
	assert.Equal(t, "user-1", a.Subject)

	categories := map[string]string{}
	for _, c := range a.Claims {
		categories[c.Name] = c.Category
	}
	assert.Equal(t, "standard", categories["iss"])
	assert.Equal(t, "keycloak", categories["realm_access"])
	assert.Equal(t, "custom", categories["custom"])
}

func TestDecodeJWT_Expired(t *testing.T) {
	token := makeJWT(t,
		map[string]interface{}{"alg": "none"},
		map[string]interface{}{"typ": "ID", "exp": time.Now().Add(-time.Hour).Unix()})

	decoded, err := NewDecoder().DecodeJWT(token)
	require.NoError(t, err)
	assert.True(t, decoded.Analysis.IsExpired)
	assert.Equal(t, "id_token", decoded.Analysis.Type)
	require.NotEmpty(t, decoded.Analysis.SecurityNotes)
	assert.True(t, strings.HasPrefix(decoded.Analysis.SecurityNotes[0], "CRITICAL"))
}

func TestDecodeJWT_Malformed(t *testing.T) {
	d := NewDecoder()

	_, err := d.DecodeJWT("only.two")
	assert.Error(t, err)

	_, err = d.DecodeJWT("abcde.e30.sig")
	assert.ErrorIs(t, err, ErrInvalidLength)

	_, err = d.DecodeJWT(base64.RawURLEncoding.EncodeToString([]byte("nope")) + ".e30.sig")
	assert.Error(t, err)
}

func TestDetermineTokenType(t *testing.T) {
	assert.Equal(t, "refresh_token", determineTokenType(map[string]interface{}{"typ": "Refresh"}))
	assert.Equal(t, "refresh_token", determineTokenType(map[string]interface{}{"typ": "Offline"}))
	assert.Equal(t, "id_token", determineTokenType(map[string]interface{}{"nonce": "n"}))
	assert.Equal(t, "access_token", determineTokenType(map[string]interface{}{"scope": "openid"}))
	assert.Equal(t, "unknown", determineTokenType(map[string]interface{}{}))
}

func TestClaimHelpers(t *testing.T) {
	var claims map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(`{
		"aud": "single",
		"exp": 1700000000,
		"realm_access": {"roles": ["a", "b"]},
		"resource_access": {"backend": {"roles": ["user"]}}
	}`), &claims))

	assert.Equal(t, []string{"single"}, Audiences(claims))
	assert.Equal(t, []string{"a", "b"}, RealmRoles(claims))
	assert.Equal(t, []string{"user"}, ClientRoles(claims, "backend"))
	assert.Nil(t, ClientRoles(claims, "other"))
	exp, ok := ExpiresAt(claims)
	require.True(t, ok)
	assert.Equal(t, int64(1700000000), exp.Unix())
	assert.Equal(t, "", StringClaim(claims, "missing"))
}

func TestDecodeAuthorizationRequest(t *testing.T) {
	d := NewDecoder()

	decoded, err := d.DecodeAuthorizationRequest("http://idp/realms/demo/protocol/openid-connect/auth?response_type=code&client_id=c&redirect_uri=http%3A%2F%2Fevil.example%2F&scope=profile")
	require.NoError(t, err)
	assert.Equal(t, "http://idp/realms/demo/protocol/openid-connect/auth", decoded.Endpoint)
	assert.Equal(t, "c", decoded.ClientID)

	notes := strings.Join(decoded.SecurityNotes, "\n")
	assert.Contains(t, notes, "No state parameter")
	assert.Contains(t, notes, "PKCE")
	assert.Contains(t, notes, "lacks 'openid'")
	assert.Contains(t, notes, "HTTPS")
}

func TestDecodeTokenRequest(t *testing.T) {
	d := NewDecoder()

	decoded := d.DecodeTokenRequest(url.Values{"grant_type": {"authorization_code"}, "code": {"abc"}})
	assert.Equal(t, "abc", decoded.Code)
	assert.Len(t, decoded.SecurityNotes, 2)

	decoded = d.DecodeTokenRequest(url.Values{})
	assert.Contains(t, decoded.SecurityNotes[0], "grant_type missing")
}
