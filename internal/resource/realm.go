package resource

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// DefaultResource is the backend's client id in the demo realm.
const DefaultResource = "nodejs-oauth-backend"

var envRef = regexp.MustCompile(`^\$\{env\.([^:]+):(.+)\}$`)

// RealmConfig is the keycloak.json adapter configuration of the resource server.
type RealmConfig struct {
	Realm               string
	AuthServerURL       string
	Resource            string
	SSLRequired         string
	BearerOnly          bool
	VerifyTokenAudience bool
}

// DefaultRealmConfig is used when no keycloak.json exists.
func DefaultRealmConfig() RealmConfig {
	return RealmConfig{
		Realm:               "demo",
		AuthServerURL:       "http://localhost:8080/",
		Resource:            DefaultResource,
		SSLRequired:         "external",
		BearerOnly:          true,
		VerifyTokenAudience: true,
	}
}

// Issuer is the iss value tokens from the realm carry.
func (c RealmConfig) Issuer() string {
	return strings.TrimRight(c.AuthServerURL, "/") + "/realms/" + c.Realm
}

// JWKSURL is the realm's key set.
func (c RealmConfig) JWKSURL() string {
	return c.Issuer() + "/protocol/openid-connect/certs"
}

// LookupFunc resolves an environment variable.
type LookupFunc func(string) (string, bool)

// LoadRealmConfig reads a keycloak.json file. A missing file yields the defaults.
func LoadRealmConfig(path string, lookup LookupFunc) (RealmConfig, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultRealmConfig(), nil
	}
	if err != nil {
		return RealmConfig{}, fmt.Errorf("read realm config: %w", err)
	}
	return ParseRealmConfig(data, lookup)
}

// ParseRealmConfig parses keycloak.json content. String values of the form
// ${env.NAME:default} are resolved through lookup; an unset or empty variable
// takes the default.
func ParseRealmConfig(data []byte, lookup LookupFunc) (RealmConfig, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return RealmConfig{}, fmt.Errorf("parse realm config: %w", err)
	}

	cfg := DefaultRealmConfig()
	var err error
	str := func(key string, dst *string) {
		if v, ok := raw[key]; ok {
			*dst = fmt.Sprint(substitute(v, lookup))
		}
	}
	boolean := func(key string, dst *bool) {
		v, ok := raw[key]
		if !ok || err != nil {
			return
		}
		switch b := substitute(v, lookup).(type) {
		case bool:
			*dst = b
		case string:
			parsed, perr := strconv.ParseBool(b)
			if perr != nil {
				err = fmt.Errorf("realm config %s: %w", key, perr)
				return
			}
			*dst = parsed
		default:
			err = fmt.Errorf("realm config %s: unexpected value %v", key, b)
		}
	}

	str("realm", &cfg.Realm)
	str("auth-server-url", &cfg.AuthServerURL)
	str("resource", &cfg.Resource)
	str("ssl-required", &cfg.SSLRequired)
	boolean("bearer-only", &cfg.BearerOnly)
	boolean("verify-token-audience", &cfg.VerifyTokenAudience)
	if err != nil {
		return RealmConfig{}, err
	}

	if cfg.Realm == "" || cfg.AuthServerURL == "" {
		return RealmConfig{}, errors.New("realm config: realm and auth-server-url are required")
	}
	return cfg, nil
}

func substitute(v interface{}, lookup LookupFunc) interface{} {
	s, ok := v.(string)
	if !ok {
		return v
	}
	m := envRef.FindStringSubmatch(s)
	if m == nil {
		return s
	}
	if val, ok := lookup(m[1]); ok && val != "" {
		return val
	}
	return m[2]
}
