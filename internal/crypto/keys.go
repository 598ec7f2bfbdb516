// Package crypto holds the signing keys of the mock realm and signs its tokens.
package crypto

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"
	"sync"
	"time"
)

// SigningKey is one realm key.
type SigningKey struct {
	ID      string
	Alg     Algorithm
	Private crypto.Signer
}

// RealmKeys holds one key per supported algorithm. Rotation replaces all of them at once,
// like clicking "rotate" in the realm's key providers.
type RealmKeys struct {
	mu      sync.RWMutex
	keys    map[Algorithm]SigningKey
	rotated time.Time
}

var generators = []struct {
	alg    Algorithm
	prefix string
	gen    func() (crypto.Signer, error)
}{
	{RS256, "rsa", func() (crypto.Signer, error) { return rsa.GenerateKey(rand.Reader, 2048) }},
	{ES256, "ec", func() (crypto.Signer, error) { return ecdsa.GenerateKey(elliptic.P256(), rand.Reader) }},
}

// NewRealmKeys generates a fresh key ring.
func NewRealmKeys() (*RealmKeys, error) {
	k := &RealmKeys{}
	if err := k.Rotate(); err != nil {
		return nil, err
	}
	return k, nil
}

// Rotate generates new keys. Tokens signed with the old ones stop validating.
func (k *RealmKeys) Rotate() error {
	next := make(map[Algorithm]SigningKey, len(generators))
	for _, g := range generators {
		signer, err := g.gen()
		if err != nil {
			return fmt.Errorf("generate %s key: %w", g.alg, err)
		}
		next[g.alg] = SigningKey{ID: g.prefix + "-" + randomHex(8), Alg: g.alg, Private: signer}
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys = next
	k.rotated = time.Now()
	return nil
}

// RotatedAt reports when the current keys were generated.
func (k *RealmKeys) RotatedAt() time.Time {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.rotated
}

// Signing returns the active key for alg.
func (k *RealmKeys) Signing(alg Algorithm) (SigningKey, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	key, ok := k.keys[alg]
	return key, ok
}

// Verification returns the public key with the given kid.
func (k *RealmKeys) Verification(kid string) (crypto.PublicKey, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	for _, key := range k.keys {
		if key.ID == kid {
			return key.Private.Public(), true
		}
	}
	return nil, false
}

// JWK is a public JSON Web Key as Keycloak publishes it on the certs endpoint.
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use,omitempty"`
	Kid string `json:"kid,omitempty"`
	Alg string `json:"alg,omitempty"`

	N string `json:"n,omitempty"`
	E string `json:"e,omitempty"`

	Crv string `json:"crv,omitempty"`
	X   string `json:"x,omitempty"`
	Y   string `json:"y,omitempty"`
}

// JWKS is the certs document.
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// JWKS returns the public keys, RSA first.
func (k *RealmKeys) JWKS() JWKS {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := JWKS{Keys: make([]JWK, 0, len(generators))}
	for _, g := range generators {
		if key, ok := k.keys[g.alg]; ok {
			out.Keys = append(out.Keys, publicJWK(key))
		}
	}
	return out
}

func publicJWK(key SigningKey) JWK {
	jwk := JWK{Use: "sig", Kid: key.ID, Alg: string(key.Alg)}
	b64 := base64.RawURLEncoding.EncodeToString
	switch pub := key.Private.Public().(type) {
	case *rsa.PublicKey:
		jwk.Kty = "RSA"
		jwk.N = b64(pub.N.Bytes())
		jwk.E = b64(big.NewInt(int64(pub.E)).Bytes())
	case *ecdsa.PublicKey:
		jwk.Kty = "EC"
		jwk.Crv = pub.Curve.Params().Name
		size := (pub.Curve.Params().BitSize + 7) / 8
		jwk.X = b64(pub.X.FillBytes(make([]byte, size)))
		jwk.Y = b64(pub.Y.FillBytes(make([]byte, size)))
	}
	return jwk
}

// RandomToken returns an opaque random value, used for codes and session ids.
func RandomToken(prefix string) string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return prefix + base64.RawURLEncoding.EncodeToString(b)
}

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
