package lookingglass

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
)

// ErrInvalidLength is returned for base64url input whose length cannot be padded to a
// multiple of four.
var ErrInvalidLength = errors.New("input base64url string is the wrong length to determine padding")

// Base64URLDecode decodes base64url text with or without padding.
func Base64URLDecode(input string) ([]byte, error) {
	s := strings.NewReplacer("-", "+", "_", "/").Replace(input)
	switch len(s) % 4 {
	case 0:
	case 1:
		return nil, fmt.Errorf("%w: length %d", ErrInvalidLength, len(input))
	case 2:
		s += "=="
	case 3:
		s += "="
	}
	return base64.StdEncoding.DecodeString(s)
}

// Decoder provides display-only decoding of protocol artifacts. Nothing it returns is
// verified.
type Decoder struct {
	now func() time.Time
}

// NewDecoder creates a new decoder
func NewDecoder() *Decoder {
	return &Decoder{now: time.Now}
}

// DecodedJWT represents a fully decoded JWT with analysis
type DecodedJWT struct {
	Raw       string                 `json:"raw"`
	Header    map[string]interface{} `json:"header"`
	Payload   map[string]interface{} `json:"payload"`
	Signature string                 `json:"signature"`
	Analysis  JWTAnalysis            `json:"analysis"`
}

// JWTAnalysis contains analysis of a JWT
type JWTAnalysis struct {
	Algorithm     string          `json:"algorithm"`
	KeyID         string          `json:"kid,omitempty"`
	Type          string          `json:"type"` // access_token, id_token, refresh_token
	IsExpired     bool            `json:"is_expired"`
	ExpiresIn     string          `json:"expires_in,omitempty"`
	Issuer        string          `json:"issuer,omitempty"`
	Subject       string          `json:"subject,omitempty"`
	Audience      []string        `json:"audience,omitempty"`
	Claims        []ClaimAnalysis `json:"claims"`
	SecurityNotes []string        `json:"security_notes"`
}

// ClaimAnalysis provides analysis of individual claims
type ClaimAnalysis struct {
	Name        string      `json:"name"`
	Value       interface{} `json:"value"`
	Description string      `json:"description"`
	Category    string      `json:"category"` // standard, oidc, keycloak, custom
}

var standardClaims = map[string]string{
	"iss": "Issuer - Entity that issued the token",
	"sub": "Subject - Entity identified by the token",
	"aud": "Audience - Recipients the token is intended for",
	"exp": "Expiration Time - After which the token is invalid",
	"nbf": "Not Before - Time before which the token is not valid",
	"iat": "Issued At - Time at which the token was issued",
	"jti": "JWT ID - Unique identifier for the token",
}

var oidcClaims = map[string]string{
	"nonce":              "Nonce - Mitigates replay attacks",
	"auth_time":          "Authentication Time - When user was authenticated",
	"acr":                "Authentication Context Class Reference",
	"amr":                "Authentication Methods References",
	"azp":                "Authorized Party - Party to which the token was issued",
	"at_hash":            "Access Token hash - Binds the ID token to an access token",
	"sid":                "Session ID - Keycloak user session",
	"name":               "Full name of the user",
	"given_name":         "Given name(s) or first name(s)",
	"family_name":        "Surname(s) or last name(s)",
	"email":              "Email address",
	"email_verified":     "Whether email has been verified",
	"preferred_username": "Preferred username",
}

var keycloakClaims = map[string]string{
	"typ":             "Keycloak token type (Bearer, ID, Refresh)",
	"scope":           "Granted scopes",
	"realm_access":    "Realm roles granted to the user",
	"resource_access": "Client roles granted to the user, keyed by client",
	"allowed-origins": "Web origins allowed for CORS with this token",
	"session_state":   "Keycloak user session state",
}

// DecodeJWT decodes and analyzes a JWT without verifying it.
func (d *Decoder) DecodeJWT(tokenString string) (*DecodedJWT, error) {
	parts := strings.Split(tokenString, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("invalid JWT format: expected 3 parts, got %d", len(parts))
	}

	header, err := decodeSegment(parts[0])
	if err != nil {
		return nil, fmt.Errorf("failed to decode header: %w", err)
	}
	payload, err := decodeSegment(parts[1])
	if err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}

	decoded := &DecodedJWT{
		Raw:       tokenString,
		Header:    header,
		Payload:   payload,
		Signature: parts[2],
	}
	decoded.Analysis = d.analyzeJWT(header, payload)

	return decoded, nil
}

// DecodePayload returns only the claims of a JWT.
func DecodePayload(tokenString string) (map[string]interface{}, error) {
	parts := strings.Split(tokenString, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("invalid JWT format: expected 3 parts, got %d", len(parts))
	}
	return decodeSegment(parts[1])
}

func decodeSegment(seg string) (map[string]interface{}, error) {
	raw, err := Base64URLDecode(seg)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("parse JSON: %w", err)
	}
	return out, nil
}

func (d *Decoder) analyzeJWT(header, payload map[string]interface{}) JWTAnalysis {
	analysis := JWTAnalysis{
		Claims:        make([]ClaimAnalysis, 0, len(payload)),
		SecurityNotes: make([]string, 0),
	}

	analysis.Algorithm = StringClaim(header, "alg")
	if note, ok := algorithmNote(analysis.Algorithm); ok {
		analysis.SecurityNotes = append(analysis.SecurityNotes, note)
	}
	analysis.KeyID, _ = header["kid"].(string)
	analysis.Type = determineTokenType(payload)
	analysis.Issuer = StringClaim(payload, "iss")
	analysis.Subject = StringClaim(payload, "sub")
	analysis.Audience = Audiences(payload)

	if exp, ok := ExpiresAt(payload); ok {
		now := d.now()
		analysis.IsExpired = now.After(exp)
		if !analysis.IsExpired {
			analysis.ExpiresIn = exp.Sub(now).Round(time.Second).String()
		}
	}

	keys := make([]string, 0, len(payload))
	for key := range payload {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		analysis.Claims = append(analysis.Claims, describeClaim(key, payload[key]))
	}

	return analysis
}

// claimCatalogs are searched in order; the first catalog naming a claim wins.
var claimCatalogs = []struct {
	category string
	claims   map[string]string
}{
	{"standard", standardClaims},
	{"oidc", oidcClaims},
	{"keycloak", keycloakClaims},
}

func describeClaim(name string, value interface{}) ClaimAnalysis {
	for _, c := range claimCatalogs {
		if desc, ok := c.claims[name]; ok {
			return ClaimAnalysis{Name: name, Value: value, Description: desc, Category: c.category}
		}
	}
	return ClaimAnalysis{Name: name, Value: value, Description: "Custom claim", Category: "custom"}
}

// algorithmNotes is keyed by the first two characters of the JWS alg.
var algorithmNotes = map[string]string{
	"HS": "Uses symmetric HMAC algorithm - ensure secret key is properly protected",
	"RS": "Uses RSA asymmetric algorithm - verify against the realm's published keys",
	"ES": "Uses ECDSA algorithm - compact and efficient",
	"PS": "Uses RSA-PSS algorithm - improved security over PKCS#1 v1.5",
}

func algorithmNote(alg string) (string, bool) {
	if alg == "none" {
		return "CRITICAL: Algorithm 'none' provides no signature verification!", true
	}
	if len(alg) < 2 {
		return "", false
	}
	note, ok := algorithmNotes[alg[:2]]
	return note, ok
}

func determineTokenType(payload map[string]interface{}) string {
	// Keycloak labels its tokens explicitly.
	switch StringClaim(payload, "typ") {
	case "Bearer":
		return "access_token"
	case "ID":
		return "id_token"
	case "Refresh", "Offline":
		return "refresh_token"
	}
	if _, hasNonce := payload["nonce"]; hasNonce {
		return "id_token"
	}
	if _, hasAuthTime := payload["auth_time"]; hasAuthTime {
		return "id_token"
	}
	if _, hasScope := payload["scope"]; hasScope {
		return "access_token"
	}
	return "unknown"
}

// StringClaim returns a string claim or "".
func StringClaim(claims map[string]interface{}, name string) string {
	s, _ := claims[name].(string)
	return s
}

// Audiences normalizes the aud claim, which may be a string or an array.
func Audiences(claims map[string]interface{}) []string {
	switch aud := claims["aud"].(type) {
	case string:
		return []string{aud}
	case []interface{}:
		out := make([]string, 0, len(aud))
		for _, a := range aud {
			if s, ok := a.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return aud
	}
	return nil
}

// ExpiresAt reads the exp claim.
func ExpiresAt(claims map[string]interface{}) (time.Time, bool) {
	switch exp := claims["exp"].(type) {
	case float64:
		return time.Unix(int64(exp), 0), true
	case json.Number:
		n, err := exp.Int64()
		if err != nil {
			return time.Time{}, false
		}
		return time.Unix(n, 0), true
	}
	return time.Time{}, false
}

// ClientRoles returns resource_access[client].roles.
func ClientRoles(claims map[string]interface{}, client string) []string {
	access, ok := claims["resource_access"].(map[string]interface{})
	if !ok {
		return nil
	}
	entry, ok := access[client].(map[string]interface{})
	if !ok {
		return nil
	}
	return stringList(entry["roles"])
}

// RealmRoles returns realm_access.roles.
func RealmRoles(claims map[string]interface{}) []string {
	access, ok := claims["realm_access"].(map[string]interface{})
	if !ok {
		return nil
	}
	return stringList(access["roles"])
}

func stringList(v interface{}) []string {
	items, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// DecodedAuthorizationRequest represents a decoded OAuth authorization request
type DecodedAuthorizationRequest struct {
	Endpoint      string   `json:"endpoint"`
	ResponseType  string   `json:"response_type"`
	ClientID      string   `json:"client_id"`
	RedirectURI   string   `json:"redirect_uri"`
	Scope         string   `json:"scope,omitempty"`
	State         string   `json:"state,omitempty"`
	Prompt        string   `json:"prompt,omitempty"`
	MaxAge        string   `json:"max_age,omitempty"`
	LoginHint     string   `json:"login_hint,omitempty"`
	SecurityNotes []string `json:"security_notes"`
}

// DecodeAuthorizationRequest decodes an authorization request URL
func (d *Decoder) DecodeAuthorizationRequest(requestURL string) (*DecodedAuthorizationRequest, error) {
	parsed, err := url.Parse(requestURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}

	query := parsed.Query()
	endpoint := *parsed
	endpoint.RawQuery = ""
	decoded := &DecodedAuthorizationRequest{
		Endpoint:      endpoint.String(),
		ResponseType:  query.Get("response_type"),
		ClientID:      query.Get("client_id"),
		RedirectURI:   query.Get("redirect_uri"),
		Scope:         query.Get("scope"),
		State:         query.Get("state"),
		Prompt:        query.Get("prompt"),
		MaxAge:        query.Get("max_age"),
		LoginHint:     query.Get("login_hint"),
		SecurityNotes: make([]string, 0),
	}

	if decoded.State == "" {
		decoded.SecurityNotes = append(decoded.SecurityNotes,
			"WARNING: No state parameter - vulnerable to CSRF attacks")
	}
	if decoded.ResponseType == "code" && query.Get("code_challenge") == "" {
		decoded.SecurityNotes = append(decoded.SecurityNotes,
			"RECOMMENDATION: Consider using PKCE (code_challenge) for authorization code flow")
	}
	if decoded.Scope != "" && !strings.Contains(" "+decoded.Scope+" ", " openid ") {
		decoded.SecurityNotes = append(decoded.SecurityNotes,
			"Scope lacks 'openid' - this is a plain OAuth 2.0 request and no ID token will be issued")
	}
	if !strings.HasPrefix(decoded.RedirectURI, "https://") && !strings.HasPrefix(decoded.RedirectURI, "http://localhost") &&
		!strings.HasPrefix(decoded.RedirectURI, "http://127.0.0.1") {
		decoded.SecurityNotes = append(decoded.SecurityNotes,
			"WARNING: Redirect URI should use HTTPS in production")
	}

	return decoded, nil
}

// DecodedTokenRequest represents a decoded token request
type DecodedTokenRequest struct {
	GrantType     string   `json:"grant_type"`
	Code          string   `json:"code,omitempty"`
	RedirectURI   string   `json:"redirect_uri,omitempty"`
	ClientID      string   `json:"client_id,omitempty"`
	RefreshToken  string   `json:"refresh_token,omitempty"`
	Scope         string   `json:"scope,omitempty"`
	SecurityNotes []string `json:"security_notes"`
}

// DecodeTokenRequest analyzes token request form values.
func (d *Decoder) DecodeTokenRequest(values url.Values) *DecodedTokenRequest {
	decoded := &DecodedTokenRequest{
		GrantType:     values.Get("grant_type"),
		Code:          values.Get("code"),
		RedirectURI:   values.Get("redirect_uri"),
		ClientID:      values.Get("client_id"),
		RefreshToken:  values.Get("refresh_token"),
		Scope:         values.Get("scope"),
		SecurityNotes: make([]string, 0),
	}

	switch decoded.GrantType {
	case "authorization_code":
		if values.Get("code_verifier") == "" {
			decoded.SecurityNotes = append(decoded.SecurityNotes,
				"No code_verifier present - PKCE not being used")
		}
		if decoded.RedirectURI == "" {
			decoded.SecurityNotes = append(decoded.SecurityNotes,
				"No redirect_uri - Keycloak rejects the exchange if one was sent on the authorization request")
		}
	case "refresh_token":
		decoded.SecurityNotes = append(decoded.SecurityNotes,
			"Refresh token grant - ensure refresh token rotation is enabled")
	case "":
		decoded.SecurityNotes = append(decoded.SecurityNotes,
			"WARNING: grant_type missing")
	}

	return decoded
}
