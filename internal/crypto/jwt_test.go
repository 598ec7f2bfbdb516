package crypto

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T) *JWTService {
	t.Helper()
	keys, err := NewRealmKeys()
	require.NoError(t, err)
	return NewJWTService(keys, "http://localhost:8080/realms/demo")
}

func TestSignAndValidate(t *testing.T) {
	svc := newService(t)

	for _, alg := range []Algorithm{RS256, ES256} {
		t.Run(string(alg), func(t *testing.T) {
			token, err := svc.SignWith(alg, jwt.MapClaims{
				"sub": "alice",
				"exp": time.Now().Add(time.Minute).Unix(),
			})
			require.NoError(t, err)

			claims, err := svc.ValidateToken(token)
			require.NoError(t, err)
			assert.Equal(t, "alice", claims["sub"])
			assert.Equal(t, svc.Issuer(), claims["iss"])
		})
	}
}

func TestSign_StampsKeyID(t *testing.T) {
	svc := newService(t)

	token, err := svc.Sign(jwt.MapClaims{"sub": "alice"})
	require.NoError(t, err)

	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	require.NoError(t, err)
	rsaKey, ok := svc.keys.Signing(RS256)
	require.True(t, ok)
	assert.Equal(t, rsaKey.ID, parsed.Header["kid"])
	assert.Equal(t, "RS256", parsed.Header["alg"])
}

func TestSignWith_UnsupportedAlgorithm(t *testing.T) {
	_, err := newService(t).SignWith("HS256", jwt.MapClaims{})
	assert.Error(t, err)
}

func TestValidateToken_Rejects(t *testing.T) {
	svc := newService(t)
	other := NewJWTService(svc.keys, "http://elsewhere/realms/demo")

	expired, err := svc.Sign(jwt.MapClaims{"exp": time.Now().Add(-time.Minute).Unix()})
	require.NoError(t, err)
	foreign, err := other.Sign(jwt.MapClaims{"sub": "alice"})
	require.NoError(t, err)
	good, err := svc.Sign(jwt.MapClaims{"sub": "alice"})
	require.NoError(t, err)
	parts := strings.Split(good, ".")
	tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))

	for name, token := range map[string]string{
		"expired":       expired,
		"wrong issuer":  foreign,
		"bad signature": tampered,
		"garbage":       "not.a.jwt",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := svc.ValidateToken(token)
			assert.Error(t, err)
		})
	}
}

func TestRotate_InvalidatesOldTokens(t *testing.T) {
	svc := newService(t)
	token, err := svc.Sign(jwt.MapClaims{"sub": "alice"})
	require.NoError(t, err)
	before, _ := svc.keys.Signing(RS256)

	require.NoError(t, svc.keys.Rotate())
	after, _ := svc.keys.Signing(RS256)
	assert.NotEqual(t, before.ID, after.ID)
	_, found := svc.keys.Verification(before.ID)
	assert.False(t, found)

	_, err = svc.ValidateToken(token)
	assert.Error(t, err)
}

func TestJWKS(t *testing.T) {
	keys, err := NewRealmKeys()
	require.NoError(t, err)

	jwks := keys.JWKS()
	require.Len(t, jwks.Keys, 2)
	assert.Equal(t, "RSA", jwks.Keys[0].Kty)
	assert.NotEmpty(t, jwks.Keys[0].N)
	assert.Equal(t, "AQAB", jwks.Keys[0].E)
	assert.Equal(t, "EC", jwks.Keys[1].Kty)
	assert.Equal(t, "P-256", jwks.Keys[1].Crv)
	assert.Len(t, jwks.Keys[1].X, 43)
	assert.False(t, keys.RotatedAt().IsZero())

	ecKey, _ := keys.Signing(ES256)
	pub, ok := keys.Verification(ecKey.ID)
	require.True(t, ok)
	assert.Equal(t, ecKey.Private.Public(), pub)
}

func TestRandomToken(t *testing.T) {
	a, b := RandomToken("sid-"), RandomToken("sid-")
	assert.True(t, strings.HasPrefix(a, "sid-"))
	assert.NotEqual(t, a, b)
}
