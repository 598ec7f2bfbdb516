package core

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig(viper.New(), Defaults{ServiceName: "oidc-playground"})
	require.NoError(t, err)

	assert.Equal(t, "oidc-playground", cfg.ServiceName)
	assert.Equal(t, ":8000", cfg.ListenAddr)
	assert.Equal(t, "http://localhost:8000", cfg.BaseURL)
	assert.Equal(t, "http://localhost:8080/", cfg.KeycloakURL)
	assert.Equal(t, "http://localhost:8080/realms/demo", cfg.InputIssuer)
	assert.Equal(t, "http://localhost:3000/secured", cfg.ServiceURL)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Equal(t, 100, cfg.RateLimit)
	assert.Zero(t, cfg.UpstreamTimeout)
	assert.Equal(t, "keycloak.json", cfg.KeycloakConfigPath)
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.LookingGlass)
}

func TestLoadConfig_LookingGlass(t *testing.T) {
	cfg, err := loadConfig(viper.New(), Defaults{LookingGlass: true})
	require.NoError(t, err)
	assert.True(t, cfg.LookingGlass)

	t.Setenv("PLAYGROUND_LOOKING_GLASS", "false")
	cfg, err = loadConfig(viper.New(), Defaults{LookingGlass: true})
	require.NoError(t, err)
	assert.False(t, cfg.LookingGlass)
}

func TestLoadConfig_Environment(t *testing.T) {
	t.Setenv("KC_URL", "https://sso.example.com/")
	t.Setenv("INPUT_ISSUER", "https://sso.example.com/realms/prod")
	t.Setenv("PLAYGROUND_LISTEN_ADDR", "0.0.0.0:3000")
	t.Setenv("PLAYGROUND_ALLOWED_UPSTREAMS", "https://sso.example.com, http://backend:3000")
	t.Setenv("PLAYGROUND_UPSTREAM_TIMEOUT", "5s")
	t.Setenv("PLAYGROUND_ENV", "production")

	cfg, err := loadConfig(viper.New(), Defaults{ServiceName: "svc"})
	require.NoError(t, err)

	assert.Equal(t, "https://sso.example.com/", cfg.KeycloakURL)
	assert.Equal(t, "https://sso.example.com/realms/prod", cfg.InputIssuer)
	assert.Equal(t, "http://localhost:3000", cfg.BaseURL)
	assert.Equal(t, []string{"https://sso.example.com", "http://backend:3000"}, cfg.AllowedUpstreams)
	assert.Equal(t, 5*time.Second, cfg.UpstreamTimeout)
	assert.False(t, cfg.IsDevelopment())
}

func TestLoadConfig_MockRealmPointsAtItself(t *testing.T) {
	t.Setenv("PLAYGROUND_MOCK_IDP", "true")
	t.Setenv("PLAYGROUND_BASE_URL", "http://playground.local:8000/")

	cfg, err := loadConfig(viper.New(), Defaults{})
	require.NoError(t, err)
	assert.Equal(t, "http://playground.local:8000", cfg.BaseURL)
	assert.Equal(t, "http://playground.local:8000/", cfg.KeycloakURL)
	assert.Equal(t, "http://playground.local:8000/realms/demo", cfg.InputIssuer)
}

func TestLoadConfig_ReportsAllProblems(t *testing.T) {
	t.Setenv("KC_URL", "not-a-url")
	t.Setenv("SERVICE_URL", "/relative")
	t.Setenv("PLAYGROUND_RATE_LIMIT", "-1")

	_, err := loadConfig(viper.New(), Defaults{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "KC_URL")
	assert.Contains(t, err.Error(), "SERVICE_URL")
	assert.Contains(t, err.Error(), "rate limit")
}

func TestDefaultBaseURL(t *testing.T) {
	assert.Equal(t, "http://localhost:8000", defaultBaseURL(":8000"))
	assert.Equal(t, "http://127.0.0.1:3000", defaultBaseURL("127.0.0.1:3000"))
	assert.Equal(t, "http://localhost", defaultBaseURL("garbage"))
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&Config{ServiceName: "svc", LogJSON: true}, &buf)
	logger.Info("hello", "k", "v")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "hello", line["@message"])
	assert.Equal(t, "svc", line["@module"])
	assert.Equal(t, "v", line["k"])
}

func TestNewLogger_DebugLevel(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&Config{}, &buf).Debug("hidden")
	assert.Empty(t, buf.String())

	newLogger(&Config{Debug: true}, &buf).Debug("shown")
	assert.Contains(t, buf.String(), "shown")
}
