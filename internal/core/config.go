package core

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	// Service name used for logs and traces
	ServiceName string

	// Environment (development, demo, production)
	Environment string

	// Server listening address
	ListenAddr string

	// Base URL for constructing absolute URLs
	BaseURL string

	// Keycloak base URL, with trailing slash (KC_URL)
	KeycloakURL string

	// Default issuer for discovery (INPUT_ISSUER)
	InputIssuer string

	// Protected backend the OAuth2 playground calls (SERVICE_URL)
	ServiceURL string

	// Mount the mock Keycloak realm under /realms
	MockIdPEnabled bool

	// Record proxied exchanges for the looking glass (PLAYGROUND_LOOKING_GLASS)
	LookingGlass bool

	// CORS allowed origins
	CORSOrigins []string

	// Enable debug logging
	Debug bool

	// Emit JSON logs
	LogJSON bool

	// Static files directory; empty serves the embedded page
	StaticDir string

	// Upstream origins the proxies may contact; empty allows all
	AllowedUpstreams []string

	// Per-call upstream timeout; zero waits indefinitely
	UpstreamTimeout time.Duration

	// Requests per minute per client address; zero disables limiting
	RateLimit int

	// Redis address for resource server sessions; empty keeps them in memory
	RedisAddr string

	// Path to the keycloak.json adapter config
	KeycloakConfigPath string

	// OTLP/HTTP collector endpoint; empty disables trace export
	OTLPEndpoint string
	OTLPInsecure bool
	SamplingRate float64
}

// Defaults are the per-binary values that differ between servers.
type Defaults struct {
	ServiceName string
	ListenAddr  string
	CORSOrigins []string
	// LookingGlass is the default for PLAYGROUND_LOOKING_GLASS.
	LookingGlass bool
}

// LoadConfig loads configuration from environment variables with sensible defaults
func LoadConfig(d Defaults) (*Config, error) {
	return loadConfig(viper.New(), d)
}

func loadConfig(v *viper.Viper, d Defaults) (*Config, error) {
	if d.ListenAddr == "" {
		d.ListenAddr = ":8000"
	}
	if len(d.CORSOrigins) == 0 {
		d.CORSOrigins = []string{"*"}
	}

	v.AutomaticEnv()
	v.SetDefault("PLAYGROUND_ENV", "development")
	v.SetDefault("PLAYGROUND_LISTEN_ADDR", d.ListenAddr)
	v.SetDefault("PLAYGROUND_BASE_URL", defaultBaseURL(v.GetString("PLAYGROUND_LISTEN_ADDR")))
	v.SetDefault("PLAYGROUND_MOCK_IDP", false)
	v.SetDefault("PLAYGROUND_LOOKING_GLASS", d.LookingGlass)

	// With the built-in realm the playground points at itself.
	keycloakURL := "http://localhost:8080/"
	if v.GetBool("PLAYGROUND_MOCK_IDP") {
		keycloakURL = strings.TrimRight(v.GetString("PLAYGROUND_BASE_URL"), "/") + "/"
	}
	v.SetDefault("KC_URL", keycloakURL)
	v.SetDefault("INPUT_ISSUER", strings.TrimRight(v.GetString("KC_URL"), "/")+"/realms/demo")
	v.SetDefault("SERVICE_URL", "http://localhost:3000/secured")
	v.SetDefault("PLAYGROUND_CORS_ORIGINS", strings.Join(d.CORSOrigins, ","))
	v.SetDefault("PLAYGROUND_DEBUG", false)
	v.SetDefault("PLAYGROUND_LOG_JSON", false)
	v.SetDefault("PLAYGROUND_STATIC_DIR", "")
	v.SetDefault("PLAYGROUND_ALLOWED_UPSTREAMS", "")
	v.SetDefault("PLAYGROUND_UPSTREAM_TIMEOUT", "0s")
	v.SetDefault("PLAYGROUND_RATE_LIMIT", 100)
	v.SetDefault("PLAYGROUND_REDIS_ADDR", "")
	v.SetDefault("KEYCLOAK_CONFIG", "keycloak.json")
	v.SetDefault("OTEL_SERVICE_NAME", d.ServiceName)
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("OTEL_TRACES_SAMPLER_ARG", 1.0)

	cfg := &Config{
		ServiceName:        v.GetString("OTEL_SERVICE_NAME"),
		Environment:        v.GetString("PLAYGROUND_ENV"),
		ListenAddr:         v.GetString("PLAYGROUND_LISTEN_ADDR"),
		BaseURL:            strings.TrimRight(v.GetString("PLAYGROUND_BASE_URL"), "/"),
		KeycloakURL:        v.GetString("KC_URL"),
		InputIssuer:        v.GetString("INPUT_ISSUER"),
		ServiceURL:         v.GetString("SERVICE_URL"),
		MockIdPEnabled:     v.GetBool("PLAYGROUND_MOCK_IDP"),
		LookingGlass:       v.GetBool("PLAYGROUND_LOOKING_GLASS"),
		CORSOrigins:        splitList(v.GetString("PLAYGROUND_CORS_ORIGINS")),
		Debug:              v.GetBool("PLAYGROUND_DEBUG"),
		LogJSON:            v.GetBool("PLAYGROUND_LOG_JSON"),
		StaticDir:          v.GetString("PLAYGROUND_STATIC_DIR"),
		AllowedUpstreams:   splitList(v.GetString("PLAYGROUND_ALLOWED_UPSTREAMS")),
		UpstreamTimeout:    v.GetDuration("PLAYGROUND_UPSTREAM_TIMEOUT"),
		RateLimit:          v.GetInt("PLAYGROUND_RATE_LIMIT"),
		RedisAddr:          v.GetString("PLAYGROUND_REDIS_ADDR"),
		KeycloakConfigPath: v.GetString("KEYCLOAK_CONFIG"),
		OTLPEndpoint:       v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTLPInsecure:       v.GetBool("OTEL_EXPORTER_OTLP_INSECURE"),
		SamplingRate:       v.GetFloat64("OTEL_TRACES_SAMPLER_ARG"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var result *multierror.Error

	if c.ListenAddr == "" {
		result = multierror.Append(result, errors.New("listen address is required"))
	}
	for name, raw := range map[string]string{
		"KC_URL":       c.KeycloakURL,
		"INPUT_ISSUER": c.InputIssuer,
		"SERVICE_URL":  c.ServiceURL,
	} {
		if err := checkAbsoluteURL(raw); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", name, err))
		}
	}
	for _, origin := range c.AllowedUpstreams {
		if err := checkAbsoluteURL(origin); err != nil {
			result = multierror.Append(result, fmt.Errorf("allowed upstream %q: %w", origin, err))
		}
	}
	if c.UpstreamTimeout < 0 {
		result = multierror.Append(result, errors.New("upstream timeout must not be negative"))
	}
	if c.RateLimit < 0 {
		result = multierror.Append(result, errors.New("rate limit must not be negative"))
	}
	if c.SamplingRate < 0 || c.SamplingRate > 1 {
		result = multierror.Append(result, fmt.Errorf("sampling rate %v outside [0,1]", c.SamplingRate))
	}

	return result.ErrorOrNil()
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func defaultBaseURL(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return "http://localhost"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func checkAbsoluteURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%q is not an absolute URL", raw)
	}
	return nil
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
