package resource

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unsignedToken(t *testing.T, claims map[string]interface{}) string {
	t.Helper()
	payload, err := json.Marshal(claims)
	require.NoError(t, err)
	return "eyJhbGciOiJSUzI1NiJ9." + base64.RawURLEncoding.EncodeToString(payload) + ".sig"
}

func TestInspect(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	exp := Expectations{
		Issuer:   "http://localhost:8080/realms/demo",
		Audience: "nodejs-oauth-backend",
		Role:     RoleRequirement{Client: "nodejs-oauth-backend", Role: "user"},
	}

	good := unsignedToken(t, map[string]interface{}{
		"iss":                "http://localhost:8080/realms/demo",
		"sub":                "u1",
		"preferred_username": "alice",
		"aud":                []string{"nodejs-oauth-backend", "account"},
		"exp":                now.Add(time.Minute).Unix(),
		"resource_access": map[string]interface{}{
			"nodejs-oauth-backend": map[string]interface{}{"roles": []string{"user"}},
		},
	})
	rep := Inspect("Bearer "+good, exp, now)
	assert.True(t, rep.TokenPresent)
	assert.Equal(t, "alice", rep.Username)
	assert.Equal(t, []string{"nodejs-oauth-backend", "account"}, rep.Audience)
	assert.Empty(t, rep.Warnings)

	bad := unsignedToken(t, map[string]interface{}{
		"iss": "http://evil/realms/demo",
		"aud": "account",
		"exp": now.Add(-10 * time.Minute).Unix(),
	})
	rep = Inspect("Bearer "+bad, exp, now)
	require.Len(t, rep.Warnings, 4)
	assert.Equal(t, "Issuer mismatch (expected: http://localhost:8080/realms/demo, got: http://evil/realms/demo)", rep.Warnings[0])
	assert.Equal(t, "Token EXPIRED (expired 10 minutes ago)", rep.Warnings[1])
	assert.Equal(t, "Token audience mismatch (expected: nodejs-oauth-backend, got: [account])", rep.Warnings[2])
	assert.Equal(t, "Missing required role 'user' (has: [])", rep.Warnings[3])
}

func TestInspect_Malformed(t *testing.T) {
	t.Parallel()

	assert.False(t, Inspect("", Expectations{}, time.Now()).TokenPresent)

	rep := Inspect("Bearer a.b", Expectations{}, time.Now())
	assert.True(t, rep.TokenPresent)
	assert.Equal(t, []string{"Invalid JWT format (expected 3 parts, got 2)"}, rep.Warnings)

	rep = Inspect("Bearer a.abcde.c", Expectations{}, time.Now())
	require.Len(t, rep.Warnings, 1)
	assert.True(t, strings.HasPrefix(rep.Warnings[0], "Could not decode token: "))
}

func TestDenialReason(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "No token provided", DenialReason(http.StatusUnauthorized, false))
	assert.Equal(t, "Invalid or expired token", DenialReason(http.StatusUnauthorized, true))
	assert.Equal(t, "Insufficient permissions", DenialReason(http.StatusForbidden, true))
	assert.Empty(t, DenialReason(http.StatusOK, true))
}
