package resource

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) LookupFunc {
	return func(name string) (string, bool) {
		v, ok := vars[name]
		return v, ok
	}
}

const keycloakJSON = `{
  "realm": "${env.KC_REALM:demo}",
  "auth-server-url": "${env.KC_URL:http://localhost:8080/}",
  "ssl-required": "external",
  "resource": "nodejs-oauth-backend",
  "bearer-only": true,
  "verify-token-audience": "${env.KC_VERIFY_AUDIENCE:true}"
}`

func TestParseRealmConfig_Substitution(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		vars       map[string]string
		wantIssuer string
		wantAud    bool
	}{
		{"defaults", nil, "http://localhost:8080/realms/demo", true},
		{"env set", map[string]string{"KC_URL": "https://sso.example.com/", "KC_REALM": "lab"}, "https://sso.example.com/realms/lab", true},
		{"empty env takes default", map[string]string{"KC_URL": ""}, "http://localhost:8080/realms/demo", true},
		{"audience off", map[string]string{"KC_VERIFY_AUDIENCE": "false"}, "http://localhost:8080/realms/demo", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := ParseRealmConfig([]byte(keycloakJSON), env(tt.vars))
			require.NoError(t, err)
			assert.Equal(t, tt.wantIssuer, cfg.Issuer())
			assert.Equal(t, tt.wantAud, cfg.VerifyTokenAudience)
			assert.Equal(t, "nodejs-oauth-backend", cfg.Resource)
			assert.True(t, cfg.BearerOnly)
		})
	}
}

func TestParseRealmConfig_NoTrailingSlash(t *testing.T) {
	t.Parallel()

	cfg, err := ParseRealmConfig([]byte(`{"realm":"demo","auth-server-url":"http://kc:8080"}`), env(nil))
	require.NoError(t, err)
	assert.Equal(t, "http://kc:8080/realms/demo", cfg.Issuer())
	assert.Equal(t, "http://kc:8080/realms/demo/protocol/openid-connect/certs", cfg.JWKSURL())
}

func TestParseRealmConfig_Errors(t *testing.T) {
	t.Parallel()

	for name, doc := range map[string]string{
		"not json":      `{`,
		"bad bool":      `{"bearer-only":"sometimes"}`,
		"bool type":     `{"bearer-only":3}`,
		"empty realm":   `{"realm":""}`,
		"empty env ref": `{"auth-server-url":""}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseRealmConfig([]byte(doc), env(nil))
			assert.Error(t, err)
		})
	}
}

func TestLoadRealmConfig(t *testing.T) {
	t.Parallel()

	cfg, err := LoadRealmConfig(filepath.Join(t.TempDir(), "missing.json"), env(nil))
	require.NoError(t, err)
	assert.Equal(t, DefaultRealmConfig(), cfg)

	path := filepath.Join(t.TempDir(), "keycloak.json")
	require.NoError(t, os.WriteFile(path, []byte(keycloakJSON), 0o600))
	cfg, err = LoadRealmConfig(path, env(map[string]string{"KC_REALM": "lab"}))
	require.NoError(t, err)
	assert.Equal(t, "lab", cfg.Realm)
}
