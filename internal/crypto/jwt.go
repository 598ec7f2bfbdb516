package crypto

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Algorithm is a JWS algorithm the realm signs with.
type Algorithm string

const (
	RS256 Algorithm = "RS256"
	ES256 Algorithm = "ES256"
)

// JWTService signs and validates tokens for one issuer.
type JWTService struct {
	keys   *RealmKeys
	issuer string
}

func NewJWTService(keys *RealmKeys, issuer string) *JWTService {
	return &JWTService{keys: keys, issuer: issuer}
}

// Issuer returns the iss value stamped on signed tokens.
func (s *JWTService) Issuer() string {
	return s.issuer
}

// Sign signs claims with RS256, Keycloak's default.
func (s *JWTService) Sign(claims jwt.MapClaims) (string, error) {
	return s.SignWith(RS256, claims)
}

// SignWith signs claims with the realm key for alg, stamping iss when absent.
func (s *JWTService) SignWith(alg Algorithm, claims jwt.MapClaims) (string, error) {
	key, ok := s.keys.Signing(alg)
	method := jwt.GetSigningMethod(string(alg))
	if !ok || method == nil {
		return "", fmt.Errorf("unsupported signing algorithm %q", alg)
	}
	if _, set := claims["iss"]; !set {
		claims["iss"] = s.issuer
	}

	token := jwt.NewWithClaims(method, claims)
	token.Header["kid"] = key.ID
	return token.SignedString(key.Private)
}

// ValidateToken checks signature (by kid), expiry and issuer, and returns the claims.
func (s *JWTService) ValidateToken(tokenString string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		kid, _ := token.Header["kid"].(string)
		pub, ok := s.keys.Verification(kid)
		if !ok {
			return nil, fmt.Errorf("unknown key id %q", kid)
		}
		return pub, nil
	},
		jwt.WithIssuer(s.issuer),
		jwt.WithValidMethods([]string{string(RS256), string(ES256)}),
	)
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	if len(claims) == 0 {
		return nil, errors.New("token has no claims")
	}
	return claims, nil
}
