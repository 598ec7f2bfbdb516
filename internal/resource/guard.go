package resource

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/ParleSec/KeycloakPlayground/internal/metrics"
)

// ErrNoToken is returned when a request carries no bearer token.
var ErrNoToken = errors.New("no bearer token")

// ErrInsufficientRole is returned when a verified token lacks the required role.
var ErrInsufficientRole = errors.New("required role missing")

// AuthError is a rejected request and the status it maps to.
type AuthError struct {
	Status int
	Err    error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%d: %v", e.Status, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// RoleRequirement is a role a token must hold. An empty Role only requires a valid token.
type RoleRequirement struct {
	Client string
	Role   string
	Realm  bool
}

// ParseRole reads a role spec: "realm:role" is a realm role, "client:role" a client role
// and a bare "role" a client role of defaultClient.
func ParseRole(spec, defaultClient string) RoleRequirement {
	if spec == "" {
		return RoleRequirement{}
	}
	prefix, role, found := strings.Cut(spec, ":")
	switch {
	case !found:
		return RoleRequirement{Client: defaultClient, Role: spec}
	case prefix == "realm":
		return RoleRequirement{Realm: true, Role: role}
	default:
		return RoleRequirement{Client: prefix, Role: role}
	}
}

func (rr RoleRequirement) String() string {
	switch {
	case rr.Role == "":
		return "authenticated"
	case rr.Realm:
		return "realm:" + rr.Role
	default:
		return rr.Client + ":" + rr.Role
	}
}

// SatisfiedBy reports whether claims hold the role.
func (rr RoleRequirement) SatisfiedBy(c *Claims) bool {
	if rr.Role == "" {
		return true
	}
	roles := c.RealmRoles()
	if !rr.Realm {
		roles = c.ClientRoles(rr.Client)
	}
	for _, r := range roles {
		if r == rr.Role {
			return true
		}
	}
	return false
}

type claimsKey struct{}

// ClaimsFromContext returns the claims stored by Protect.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*Claims)
	return c, ok
}

// BearerToken extracts the token from an Authorization header.
func BearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// GuardOptions configures Protect.
type GuardOptions struct {
	Logger  hclog.Logger
	Metrics *metrics.Metrics
	// Sessions remembers the grant of each authorized session; a repeat request
	// with the same token reuses it.
	Sessions SessionStore
	// Route labels metrics.
	Route string
	Realm string
}

// Authorize checks one request. Failures are *AuthError.
func Authorize(ctx context.Context, v Verifier, req RoleRequirement, authorization string) (*Claims, error) {
	raw, ok := BearerToken(authorization)
	if !ok {
		return nil, &AuthError{Status: http.StatusUnauthorized, Err: ErrNoToken}
	}
	claims, err := v.Verify(ctx, raw)
	if err != nil {
		return nil, &AuthError{Status: http.StatusUnauthorized, Err: err}
	}
	if !req.SatisfiedBy(claims) {
		return claims, &AuthError{Status: http.StatusForbidden, Err: fmt.Errorf("%w: %s", ErrInsufficientRole, req)}
	}
	return claims, nil
}

// Protect rejects requests without a valid token holding req. Rejections answer
// "Access denied"; a 401 carries a Bearer challenge.
func Protect(v Verifier, req RoleRequirement, opts GuardOptions) func(http.Handler) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	logger = logger.Named("guard")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := Authorize(r.Context(), v, req, r.Header.Get("Authorization"))
			if err != nil {
				var authErr *AuthError
				if !errors.As(err, &authErr) {
					authErr = &AuthError{Status: http.StatusUnauthorized, Err: err}
				}
				logger.Debug("request rejected", "path", r.URL.Path, "status", authErr.Status, "error", authErr.Err)
				if authErr.Status == http.StatusUnauthorized {
					opts.Metrics.ObserveDecision(opts.Route, metrics.DecisionUnauthorized)
					w.Header().Set("WWW-Authenticate", challenge(opts.Realm, authErr.Err))
				} else {
					opts.Metrics.ObserveDecision(opts.Route, metrics.DecisionForbidden)
				}
				w.Header().Set("Content-Type", "text/plain; charset=utf-8")
				w.WriteHeader(authErr.Status)
				_, _ = w.Write([]byte("Access denied"))
				return
			}

			opts.Metrics.ObserveDecision(opts.Route, metrics.DecisionAuthorized)
			if opts.Sessions != nil {
				if sid, ok := SessionIDFromContext(r.Context()); ok {
					raw, _ := BearerToken(r.Header.Get("Authorization"))
					rememberGrant(r.Context(), logger, opts.Sessions, sid, raw, claims)
				}
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
		})
	}
}

func challenge(realm string, err error) string {
	var params []string
	if realm != "" {
		params = append(params, `realm="`+realm+`"`)
	}
	if !errors.Is(err, ErrNoToken) {
		params = append(params, `error="invalid_token"`)
	}
	if len(params) == 0 {
		return "Bearer"
	}
	return "Bearer " + strings.Join(params, ", ")
}

// rememberGrant stores the grant for sid unless the session already holds a live one
// for the same token.
func rememberGrant(ctx context.Context, logger hclog.Logger, store SessionStore, sid, raw string, claims *Claims) {
	current, err := store.Get(ctx, sid)
	if err != nil {
		logger.Warn("failed to load grant", "session", sid, "error", err)
	}
	if current != nil && current.AccessToken == raw {
		logger.Trace("session grant reused", "session", sid, "user", current.Username)
		return
	}
	grant := Grant{
		AccessToken: raw,
		Subject:     claims.Subject,
		Username:    claims.DisplayName(),
		ExpiresAt:   claims.Expiry,
	}
	if err := store.Put(ctx, sid, grant, time.Until(claims.Expiry)); err != nil {
		logger.Warn("failed to store grant", "session", sid, "error", err)
	}
}
