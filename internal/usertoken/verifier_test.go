package usertoken

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

func newJWKSServer(t *testing.T, kid string, pub *rsa.PublicKey) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload := map[string]any{
			"keys": []map[string]string{{
				"kty": "RSA",
				"kid": kid,
				"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
			}},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(payload)
	}))
}

func signUserToken(t *testing.T, key *rsa.PrivateKey, kid, issuer, audience, subject string, ttl time.Duration) string {
	t.Helper()
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   subject,
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return signed
}

func TestVerifySubject(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	srv := newJWKSServer(t, "kid-1", &key.PublicKey)
	defer srv.Close()

	verifier, err := NewVerifier(Config{JWKSURL: srv.URL})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	token := signUserToken(t, key, "kid-1", defaultIssuer, defaultAudience, "user-42", time.Minute)
	subject, err := verifier.VerifySubject(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if subject != "user-42" {
		t.Fatalf("subject = %q", subject)
	}
}

func TestVerifySubjectRejectsExpired(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	srv := newJWKSServer(t, "kid-1", &key.PublicKey)
	defer srv.Close()

	verifier, err := NewVerifier(Config{JWKSURL: srv.URL, Leeway: time.Second})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	token := signUserToken(t, key, "kid-1", defaultIssuer, defaultAudience, "user-42", -time.Hour)
	if _, err := verifier.VerifySubject(token); err == nil {
		t.Fatalf("expired token must fail")
	}
}

func TestVerifySubjectRejectsUnknownKid(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	srv := newJWKSServer(t, "kid-1", &key.PublicKey)
	defer srv.Close()

	verifier, err := NewVerifier(Config{JWKSURL: srv.URL})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	token := signUserToken(t, otherKey, "kid-other", defaultIssuer, defaultAudience, "user-42", time.Minute)
	if _, err := verifier.VerifySubject(token); err == nil {
		t.Fatalf("token with unknown kid must fail")
	}
}
