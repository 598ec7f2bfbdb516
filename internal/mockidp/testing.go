package mockidp

import (
	"net/http/httptest"

	"github.com/ParleSec/KeycloakPlayground/internal/crypto"
)

// TestingT is the subset of testing.TB used by NewTestRealm.
type TestingT interface {
	Helper()
	Fatalf(format string, args ...interface{})
	Cleanup(func())
}

// TestRealm is a realm served over a local test listener.
type TestRealm struct {
	*MockIdP
	Server *httptest.Server
}

// NewTestRealm starts the demo realm on an httptest server. The server is closed
// through t.Cleanup.
func NewTestRealm(t TestingT) *TestRealm {
	t.Helper()
	keys, err := crypto.NewRealmKeys()
	if err != nil {
		t.Fatalf("generate realm keys: %v", err)
	}
	idp := NewMockIdP(keys, DefaultRealm)
	srv := httptest.NewServer(idp.Handler())
	idp.SetBaseURL(srv.URL)
	t.Cleanup(srv.Close)
	return &TestRealm{MockIdP: idp, Server: srv}
}

// BaseURL is the server root, the value KC_URL points at.
func (tr *TestRealm) BaseURL() string {
	return tr.Server.URL + "/"
}

// DiscoveryURL returns the realm's discovery document URL.
func (tr *TestRealm) DiscoveryURL() string {
	return tr.Issuer() + "/.well-known/openid-configuration"
}
