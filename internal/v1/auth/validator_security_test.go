package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A token signed with HS256 but carrying the kid of our RSA key must be
// rejected before the key is ever used, otherwise an attacker who knows the
// public key can forge room tokens.
func TestValidator_AlgorithmConfusion(t *testing.T) {
	// 1. Setup RSA key pair
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	publicKey := &privateKey.PublicKey

	// 2. Create JWK
	key, err := jwk.FromRaw(publicKey)
	require.NoError(t, err)
	_ = key.Set(jwk.KeyIDKey, "test-kid")
	_ = key.Set(jwk.AlgorithmKey, "RS256")
	_ = key.Set(jwk.KeyUsageKey, "sig")

	// 3. Setup JWKS server (TLS required by NewValidator)
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/.well-known/jwks.json" {
			buf, _ := json.Marshal(map[string]interface{}{
				"keys": []interface{}{key},
			})
			w.Write(buf)
		}
	}))
	defer server.Close()

	// Configure client to trust the test server cert
	client := server.Client()

	u, _ := url.Parse(server.URL)
	domain := u.Host

	v, err := NewValidator(context.Background(), domain, "test-audience", jwk.WithHTTPClient(client))
	require.NoError(t, err)

	// 4. Forge an HS256 token pointing at the RSA kid
	token := jwt.New(jwt.SigningMethodHS256)
	token.Header["kid"] = "test-kid"
	token.Claims = jwt.MapClaims{
		"aud": "test-audience",
		"iss": "https://" + domain + "/",
		"sub": "attacker",
		"exp": time.Now().Add(time.Hour).Unix(),
	}

	signedString, err := token.SignedString([]byte("secret"))
	require.NoError(t, err)

	// 5. Validate: must fail on the method, not on the signature.
	_, err = v.ValidateToken(signedString)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected signing method")
}

func TestValidator_ValidRS256Token(t *testing.T) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	key, err := jwk.FromRaw(&privateKey.PublicKey)
	require.NoError(t, err)
	_ = key.Set(jwk.KeyIDKey, "test-kid")
	_ = key.Set(jwk.AlgorithmKey, "RS256")
	_ = key.Set(jwk.KeyUsageKey, "sig")

	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/.well-known/jwks.json" {
			buf, _ := json.Marshal(map[string]interface{}{
				"keys": []interface{}{key},
			})
			w.Write(buf)
		}
	}))
	defer server.Close()

	u, _ := url.Parse(server.URL)
	domain := u.Host

	v, err := NewValidator(context.Background(), domain, "test-audience", jwk.WithHTTPClient(server.Client()))
	require.NoError(t, err)

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, &CustomClaims{
		Identifier: "player-uuid-9",
		Name:       "Alice",
		Tags:       []string{"speaker"},
		CanEdit:    true,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "https://" + domain + "/",
			Audience:  jwt.ClaimStrings{"test-audience"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	token.Header["kid"] = "test-kid"

	signedString, err := token.SignedString(privateKey)
	require.NoError(t, err)

	claims, err := v.ValidateToken(signedString)
	require.NoError(t, err)
	assert.Equal(t, "player-uuid-9", claims.UUID())
	assert.Equal(t, "Alice", claims.Name)
	assert.True(t, claims.CanEdit)
	assert.True(t, claims.HasTag("speaker"))
}
