// Package mockidp implements a small Keycloak-shaped realm: discovery, JWKS,
// an auto-approving authorization endpoint, token, userinfo and logout. It backs
// the tests and the offline demo mode of the playground servers.
package mockidp

import (
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ParleSec/KeycloakPlayground/internal/crypto"
	"github.com/ParleSec/KeycloakPlayground/pkg/models"
)

// DefaultRealm is the realm name the playground points at out of the box.
const DefaultRealm = "demo"

type authCode struct {
	clientID    string
	userID      string
	redirectURI string
	scope       string
	nonce       string
	sessionID   string
	expiresAt   time.Time
}

type refreshGrant struct {
	clientID  string
	userID    string
	scope     string
	sessionID string
	expiresAt time.Time
}

// TokenError is an OAuth error produced by the token endpoint.
type TokenError struct {
	Status      int
	Code        string
	Description string
}

func (e *TokenError) Error() string {
	return e.Code + ": " + e.Description
}

func invalidGrant(desc string) *TokenError {
	return &TokenError{Status: http.StatusBadRequest, Code: "invalid_grant", Description: desc}
}

// MockIdP is an in-memory realm.
type MockIdP struct {
	realm      string
	issuer     string
	users      map[string]*User
	clients    map[string]*Client
	codes      map[string]*authCode
	refresh    map[string]*refreshGrant
	sessions   map[string]string // session id -> user id
	keys       *crypto.RealmKeys
	jwtService *crypto.JWTService

	// DefaultUser is approved when the authorization request carries no login_hint.
	DefaultUser string
	AccessTTL   time.Duration
	RefreshTTL  time.Duration

	now func() time.Time
	mu  sync.RWMutex
}

// NewMockIdP creates a realm signing with keys.
func NewMockIdP(keys *crypto.RealmKeys, realm string) *MockIdP {
	if realm == "" {
		realm = DefaultRealm
	}
	idp := &MockIdP{
		realm:       realm,
		users:       make(map[string]*User),
		clients:     make(map[string]*Client),
		codes:       make(map[string]*authCode),
		refresh:     make(map[string]*refreshGrant),
		sessions:    make(map[string]string),
		keys:        keys,
		DefaultUser: "alice",
		AccessTTL:   5 * time.Minute,
		RefreshTTL:  30 * time.Minute,
		now:         time.Now,
	}
	idp.SetBaseURL("http://localhost:8080")
	idp.initDemoData()
	return idp
}

// SetBaseURL sets the server root the realm is mounted under.
func (idp *MockIdP) SetBaseURL(base string) {
	idp.mu.Lock()
	defer idp.mu.Unlock()
	idp.issuer = strings.TrimRight(base, "/") + "/realms/" + idp.realm
	idp.jwtService = crypto.NewJWTService(idp.keys, idp.issuer)
}

// SetClock replaces the time source.
func (idp *MockIdP) SetClock(now func() time.Time) {
	idp.mu.Lock()
	defer idp.mu.Unlock()
	idp.now = now
}

// Issuer returns the realm issuer URL.
func (idp *MockIdP) Issuer() string {
	idp.mu.RLock()
	defer idp.mu.RUnlock()
	return idp.issuer
}

// Realm returns the realm name.
func (idp *MockIdP) Realm() string {
	return idp.realm
}

// Keys returns the realm's signing keys.
func (idp *MockIdP) Keys() *crypto.RealmKeys {
	return idp.keys
}

func (idp *MockIdP) signer() (*crypto.JWTService, time.Time) {
	idp.mu.RLock()
	defer idp.mu.RUnlock()
	return idp.jwtService, idp.now()
}

// CreateAuthorizationCode approves username for clientID and returns a one-time code and
// the new session id.
func (idp *MockIdP) CreateAuthorizationCode(clientID, username, redirectURI, scope, nonce string) (string, string, error) {
	user, ok := idp.GetUser(username)
	if !ok {
		return "", "", errors.New("unknown user")
	}

	code := crypto.RandomToken("")
	sessionID := crypto.RandomToken("")

	idp.mu.Lock()
	defer idp.mu.Unlock()
	idp.sessions[sessionID] = user.ID
	idp.codes[code] = &authCode{
		clientID:    clientID,
		userID:      user.ID,
		redirectURI: redirectURI,
		scope:       scope,
		nonce:       nonce,
		sessionID:   sessionID,
		expiresAt:   idp.now().Add(time.Minute),
	}
	return code, sessionID, nil
}

// ExchangeCode redeems a code. Codes are single use.
func (idp *MockIdP) ExchangeCode(code, clientID, redirectURI string) (*models.TokenResponse, *TokenError) {
	idp.mu.Lock()
	ac, ok := idp.codes[code]
	delete(idp.codes, code)
	now := idp.now()
	idp.mu.Unlock()

	switch {
	case !ok:
		return nil, invalidGrant("Code not valid")
	case ac.expiresAt.Before(now):
		return nil, invalidGrant("Code not valid")
	case ac.clientID != clientID:
		return nil, invalidGrant("Code not issued to this client")
	case ac.redirectURI != redirectURI:
		return nil, invalidGrant("Incorrect redirect_uri")
	}

	user, ok := idp.userByID(ac.userID)
	if !ok {
		return nil, invalidGrant("User not found")
	}
	resp, err := idp.issueTokens(user, clientID, ac.scope, ac.sessionID, ac.nonce)
	if err != nil {
		return nil, &TokenError{Status: http.StatusInternalServerError, Code: "server_error", Description: err.Error()}
	}
	return resp, nil
}

// Refresh redeems a refresh token and rotates it.
func (idp *MockIdP) Refresh(refreshToken, clientID, scope string) (*models.TokenResponse, *TokenError) {
	jwtSvc, _ := idp.signer()
	claims, err := jwtSvc.ValidateToken(refreshToken)
	if err != nil {
		return nil, invalidGrant("Invalid refresh token")
	}
	jti, _ := claims["jti"].(string)

	idp.mu.Lock()
	grant, ok := idp.refresh[jti]
	delete(idp.refresh, jti)
	_, sessionActive := idp.sessions[grantSession(grant)]
	now := idp.now()
	idp.mu.Unlock()

	switch {
	case !ok:
		return nil, invalidGrant("Invalid refresh token")
	case grant.expiresAt.Before(now):
		return nil, invalidGrant("Token is not active")
	case !sessionActive:
		return nil, invalidGrant("Session not active")
	case grant.clientID != clientID:
		return nil, invalidGrant("Invalid refresh token. Token client and authorized client don't match")
	}

	user, ok := idp.userByID(grant.userID)
	if !ok {
		return nil, invalidGrant("User not found")
	}
	if scope == "" {
		scope = grant.scope
	}
	resp, err := idp.issueTokens(user, clientID, scope, grant.sessionID, "")
	if err != nil {
		return nil, &TokenError{Status: http.StatusInternalServerError, Code: "server_error", Description: err.Error()}
	}
	return resp, nil
}

func grantSession(g *refreshGrant) string {
	if g == nil {
		return ""
	}
	return g.sessionID
}

// EndSession logs the session out; its refresh tokens and access tokens stop working.
func (idp *MockIdP) EndSession(sessionID string) {
	idp.mu.Lock()
	defer idp.mu.Unlock()
	delete(idp.sessions, sessionID)
	for jti, g := range idp.refresh {
		if g.sessionID == sessionID {
			delete(idp.refresh, jti)
		}
	}
}

func (idp *MockIdP) sessionActive(sessionID string) bool {
	idp.mu.RLock()
	defer idp.mu.RUnlock()
	_, ok := idp.sessions[sessionID]
	return ok
}

// grantedScope adds the realm's default client scopes to the requested ones.
func grantedScope(requested string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range append(strings.Fields(requested), "profile", "email") {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func hasScope(scopes []string, want string) bool {
	for _, s := range scopes {
		if s == want {
			return true
		}
	}
	return false
}

func (idp *MockIdP) issueTokens(user *User, clientID, scope, sessionID, nonce string) (*models.TokenResponse, error) {
	jwtSvc, now := idp.signer()
	scopes := grantedScope(scope)

	access, err := jwtSvc.Sign(idp.accessClaims(user, clientID, scopes, sessionID, now, idp.AccessTTL))
	if err != nil {
		return nil, err
	}

	jti := crypto.RandomToken("")
	refresh, err := jwtSvc.Sign(jwt.MapClaims{
		"exp":   now.Add(idp.RefreshTTL).Unix(),
		"iat":   now.Unix(),
		"jti":   jti,
		"aud":   jwtSvc.Issuer(),
		"sub":   user.ID,
		"typ":   "Refresh",
		"azp":   clientID,
		"sid":   sessionID,
		"scope": strings.Join(scopes, " "),
	})
	if err != nil {
		return nil, err
	}
	idp.mu.Lock()
	idp.refresh[jti] = &refreshGrant{
		clientID:  clientID,
		userID:    user.ID,
		scope:     scope,
		sessionID: sessionID,
		expiresAt: now.Add(idp.RefreshTTL),
	}
	idp.mu.Unlock()

	resp := &models.TokenResponse{
		AccessToken:      access,
		TokenType:        "Bearer",
		ExpiresIn:        int(idp.AccessTTL.Seconds()),
		RefreshExpiresIn: int(idp.RefreshTTL.Seconds()),
		RefreshToken:     refresh,
		Scope:            strings.Join(scopes, " "),
		SessionState:     sessionID,
	}

	if hasScope(scopes, "openid") {
		claims := profileClaims(user, scopes)
		claims["exp"] = now.Add(idp.AccessTTL).Unix()
		claims["iat"] = now.Unix()
		claims["auth_time"] = now.Unix()
		claims["jti"] = crypto.RandomToken("")
		claims["aud"] = clientID
		claims["typ"] = "ID"
		claims["azp"] = clientID
		claims["sid"] = sessionID
		if nonce != "" {
			claims["nonce"] = nonce
		}
		id, err := jwtSvc.Sign(claims)
		if err != nil {
			return nil, err
		}
		resp.IDToken = id
	}

	return resp, nil
}

func (idp *MockIdP) accessClaims(user *User, clientID string, scopes []string, sessionID string, now time.Time, ttl time.Duration) jwt.MapClaims {
	claims := jwt.MapClaims{
		"exp":             now.Add(ttl).Unix(),
		"iat":             now.Unix(),
		"jti":             crypto.RandomToken(""),
		"aud":             audiences(user, clientID),
		"sub":             user.ID,
		"typ":             "Bearer",
		"azp":             clientID,
		"sid":             sessionID,
		"scope":           strings.Join(scopes, " "),
		"realm_access":    map[string]interface{}{"roles": user.RealmRoles},
		"resource_access": resourceAccess(user),
	}
	for k, v := range profileClaims(user, scopes) {
		claims[k] = v
	}
	return claims
}

// MintAccessToken signs an access token for username directly, bypassing the code flow.
// A negative ttl yields an already expired token.
func (idp *MockIdP) MintAccessToken(username, clientID string, ttl time.Duration) (string, error) {
	user, ok := idp.GetUser(username)
	if !ok {
		return "", errors.New("unknown user")
	}
	sessionID := crypto.RandomToken("")
	idp.mu.Lock()
	idp.sessions[sessionID] = user.ID
	idp.mu.Unlock()

	jwtSvc, now := idp.signer()
	return jwtSvc.Sign(idp.accessClaims(user, clientID, grantedScope("openid"), sessionID, now, ttl))
}

// ValidateAccessToken checks an access token issued by this realm with a live session.
func (idp *MockIdP) ValidateAccessToken(token string) (jwt.MapClaims, error) {
	jwtSvc, _ := idp.signer()
	claims, err := jwtSvc.ValidateToken(token)
	if err != nil {
		return nil, err
	}
	if typ, _ := claims["typ"].(string); typ != "Bearer" {
		return nil, errors.New("not an access token")
	}
	if sid, _ := claims["sid"].(string); !idp.sessionActive(sid) {
		return nil, errors.New("session not active")
	}
	return claims, nil
}
