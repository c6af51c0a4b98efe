package servicetoken

import (
	"crypto/rand"
	"crypto/rsa"
	"net/http/httptest"
	"testing"
	"time"
)

func newKeyPair(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func TestSignAndVerify(t *testing.T) {
	key := newKeyPair(t)
	signer := NewSignerFromKey("dessin-worker", key)
	verifier, err := NewVerifierFromKey(VerifierOptions{
		Audience:       "dessin-review",
		AllowedIssuers: []string{"dessin-worker"},
	}, &key.PublicKey)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	token, err := signer.Sign("dessin-review")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	claims, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Subject != "dessin-worker" {
		t.Fatalf("subject = %q", claims.Subject)
	}
}

func TestVerifyRejectsWrongAudience(t *testing.T) {
	key := newKeyPair(t)
	signer := NewSignerFromKey("dessin-worker", key)
	verifier, err := NewVerifierFromKey(VerifierOptions{
		Audience:       "dessin-review",
		AllowedIssuers: []string{"dessin-worker"},
	}, &key.PublicKey)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	token, err := signer.Sign("other-service")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := verifier.Verify(token); err == nil {
		t.Fatalf("wrong audience must fail verification")
	}
}

func TestVerifyRejectsUnknownIssuer(t *testing.T) {
	key := newKeyPair(t)
	signer := NewSignerFromKey("rogue-service", key)
	verifier, err := NewVerifierFromKey(VerifierOptions{
		Audience:       "dessin-review",
		AllowedIssuers: []string{"dessin-worker"},
	}, &key.PublicKey)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	token, err := signer.Sign("dessin-review")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := verifier.Verify(token); err == nil {
		t.Fatalf("unknown issuer must fail verification")
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	key := newKeyPair(t)
	signer := NewSignerFromKey("dessin-worker", key)
	signer.ttl = -2 * time.Minute
	verifier, err := NewVerifierFromKey(VerifierOptions{
		Audience:       "dessin-review",
		AllowedIssuers: []string{"dessin-worker"},
		Leeway:         time.Second,
	}, &key.PublicKey)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	token, err := signer.Sign("dessin-review")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := verifier.Verify(token); err == nil {
		t.Fatalf("expired token must fail verification")
	}
}

func TestBearerToken(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	if _, ok := BearerToken(r); ok {
		t.Fatalf("missing header must report false")
	}
	r.Header.Set("Authorization", "Bearer abc123")
	token, ok := BearerToken(r)
	if !ok || token != "abc123" {
		t.Fatalf("token = %q ok=%v", token, ok)
	}
	r.Header.Set("Authorization", "Basic abc123")
	if _, ok := BearerToken(r); ok {
		t.Fatalf("non-bearer scheme must report false")
	}
}
