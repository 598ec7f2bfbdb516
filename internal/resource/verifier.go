package resource

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/ParleSec/KeycloakPlayground/internal/lookingglass"
)

// Claims are the verified contents of an access token.
type Claims struct {
	Subject         string
	Issuer          string
	Username        string
	AuthorizedParty string
	Audience        []string
	Expiry          time.Time
	Raw             map[string]interface{}
}

// DisplayName is the preferred username, or the subject.
func (c *Claims) DisplayName() string {
	if c.Username != "" {
		return c.Username
	}
	return c.Subject
}

// ClientRoles returns the roles granted for client.
func (c *Claims) ClientRoles(client string) []string {
	return lookingglass.ClientRoles(c.Raw, client)
}

// RealmRoles returns the realm-wide roles.
func (c *Claims) RealmRoles() []string {
	return lookingglass.RealmRoles(c.Raw)
}

// Verifier checks a bearer token and returns its claims.
type Verifier interface {
	Verify(ctx context.Context, rawToken string) (*Claims, error)
}

// ErrInvalidToken wraps every verification failure.
var ErrInvalidToken = errors.New("invalid token")

// OIDCVerifier verifies tokens against the realm's published keys.
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

// VerifierOption configures an OIDCVerifier.
type VerifierOption func(*oidc.Config)

// WithClock replaces the time source used for expiry checks.
func WithClock(now func() time.Time) VerifierOption {
	return func(c *oidc.Config) { c.Now = now }
}

// NewOIDCVerifier creates a verifier for cfg's realm. Keys are fetched lazily with client,
// which may be nil for the default client.
func NewOIDCVerifier(ctx context.Context, cfg RealmConfig, client *http.Client, opts ...VerifierOption) *OIDCVerifier {
	if client != nil {
		ctx = oidc.ClientContext(ctx, client)
	}
	keySet := oidc.NewRemoteKeySet(ctx, cfg.JWKSURL())

	oc := &oidc.Config{
		ClientID:             cfg.Resource,
		SkipClientIDCheck:    !cfg.VerifyTokenAudience,
		SupportedSigningAlgs: []string{oidc.RS256, oidc.ES256},
	}
	for _, opt := range opts {
		opt(oc)
	}
	return &OIDCVerifier{verifier: oidc.NewVerifier(cfg.Issuer(), keySet, oc)}
}

// Verify checks signature, issuer, expiry and, when configured, audience.
func (v *OIDCVerifier) Verify(ctx context.Context, rawToken string) (*Claims, error) {
	tok, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	var raw map[string]interface{}
	if err := tok.Claims(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return &Claims{
		Subject:         tok.Subject,
		Issuer:          tok.Issuer,
		Username:        lookingglass.StringClaim(raw, "preferred_username"),
		AuthorizedParty: lookingglass.StringClaim(raw, "azp"),
		Audience:        tok.Audience,
		Expiry:          tok.Expiry,
		Raw:             raw,
	}, nil
}
