package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentarena/api/internal/config"
)

func TestLegacyTokenRoundTrip(t *testing.T) {
	token, err := IssueLegacyToken("u1", "a@example.com", "secret", time.Hour)
	require.NoError(t, err)

	claims, err := ValidateLegacyToken(token, "secret")
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, LegacyIssuer, claims.Issuer)

	_, err = ValidateLegacyToken(token, "other")
	assert.Error(t, err)
}

func TestLegacyTokenExpired(t *testing.T) {
	claims := LegacyClaims{
		UserID: "u1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = ValidateLegacyToken(token, "secret")
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func newIssuer(t *testing.T, key *rsa.PrivateKey) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/.well-known/openid-configuration":
			_ = json.NewEncoder(w).Encode(map[string]string{
				"issuer":   srv.URL,
				"jwks_uri": srv.URL + "/keys",
			})
		case "/keys":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"keys": []map[string]string{{
					"kty": "RSA",
					"kid": "k1",
					"alg": "RS256",
					"use": "sig",
					"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
					"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
				}},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func signRS256(t *testing.T, key *rsa.PrivateKey, claims Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "k1"
	s, err := token.SignedString(key)
	require.NoError(t, err)
	return s
}

func TestJWKSVerifier(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	srv := newIssuer(t, key)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	v, err := NewJWKSVerifier(ctx, &config.OIDCConfig{Issuer: srv.URL, ClientID: "arena"}, srv.Client())
	require.NoError(t, err)
	defer v.Close()

	valid := Claims{
		UserID: "user-1",
		Email:  "user@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    srv.URL,
			Audience:  jwt.ClaimStrings{"arena"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	claims, err := v.Validate(signRS256(t, key, valid))
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)

	wrongAudience := valid
	wrongAudience.Audience = jwt.ClaimStrings{"someone-else"}
	_, err = v.Validate(signRS256(t, key, wrongAudience))
	assert.ErrorContains(t, err, "invalid audience")

	noExpiry := valid
	noExpiry.ExpiresAt = nil
	_, err = v.Validate(signRS256(t, key, noExpiry))
	assert.Error(t, err)
}

func TestJWKSVerifierRequiresIssuer(t *testing.T) {
	_, err := NewJWKSVerifier(context.Background(), &config.OIDCConfig{}, nil)
	assert.ErrorContains(t, err, "issuer is required")
}

func TestJWKSVerifierDiscoveryFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := NewJWKSVerifier(context.Background(), &config.OIDCConfig{Issuer: srv.URL}, srv.Client())
	assert.ErrorContains(t, err, "discovery endpoint returned status 404")
}
