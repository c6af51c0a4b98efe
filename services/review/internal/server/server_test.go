package server

import (
	"bytes"
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

	jwt "github.com/golang-jwt/jwt/v5"

	"dessincoach/internal/servicetoken"
	"dessincoach/internal/usertoken"
	"dessincoach/pkg/domain"
	"dessincoach/pkg/promotion"
	"dessincoach/pkg/queue"
	"dessincoach/pkg/store"
	"dessincoach/services/review/internal/app"
)

type fakeQueue struct{}

func (fakeQueue) Enqueue(_ context.Context, taskID, _, _ string) (queue.JobStatus, error) {
	return queue.JobStatus{ID: "job-1", TaskID: taskID}, nil
}

type testHarness struct {
	server     *Server
	data       *store.MemoryStore
	userKey    *rsa.PrivateKey
	workerSign *servicetoken.Signer
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	userKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	jwks := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		payload := map[string]any{
			"keys": []map[string]string{{
				"kty": "RSA",
				"kid": "kid-1",
				"n":   base64.RawURLEncoding.EncodeToString(userKey.PublicKey.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(userKey.PublicKey.E)).Bytes()),
			}},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(payload)
	}))
	t.Cleanup(jwks.Close)

	tokenVerifier, err := usertoken.NewVerifier(usertoken.Config{JWKSURL: jwks.URL})
	if err != nil {
		t.Fatalf("user verifier: %v", err)
	}

	workerKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	internalVerify, err := servicetoken.NewVerifierFromKey(servicetoken.VerifierOptions{
		Audience:       "dessin-review",
		AllowedIssuers: []string{"dessin-exampler"},
	}, &workerKey.PublicKey)
	if err != nil {
		t.Fatalf("internal verifier: %v", err)
	}

	data := store.NewMemoryStore()
	core, err := app.New(app.Config{
		Store:        data,
		Queue:        fakeQueue{},
		Promotion:    promotion.New(data, nil, nil),
		AllowedHosts: []string{"cdn.example.com"},
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}

	srv, err := New(Config{
		App:            core,
		TokenVerifier:  tokenVerifier,
		InternalVerify: internalVerify,
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return &testHarness{
		server:     srv,
		data:       data,
		userKey:    userKey,
		workerSign: servicetoken.NewSignerFromKey("dessin-exampler", workerKey),
	}
}

func (h *testHarness) userToken(t *testing.T, userID string) string {
	t.Helper()
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Issuer:    "dessin-auth",
		Subject:   userID,
		Audience:  jwt.ClaimStrings{"dessin-api"},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "kid-1"
	signed, err := token.SignedString(h.userKey)
	if err != nil {
		t.Fatalf("sign user token: %v", err)
	}
	return signed
}

func (h *testHarness) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.server.Router().ServeHTTP(rec, req)
	return rec
}

func TestSubmitRequiresAuth(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodPost, "/reviews", "", map[string]string{"imageUrl": "https://cdn.example.com/a.png"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestSubmitAndFetchReview(t *testing.T) {
	h := newHarness(t)
	token := h.userToken(t, "user-1")

	rec := h.do(t, http.MethodPost, "/reviews", token, map[string]string{"imageUrl": "https://cdn.example.com/a.png"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	var created domain.ReviewTask
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Status != domain.TaskPending {
		t.Fatalf("created status = %v", created.Status)
	}

	rec = h.do(t, http.MethodGet, "/reviews/"+created.ID, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}

	// another user cannot see it
	rec = h.do(t, http.MethodGet, "/reviews/"+created.ID, h.userToken(t, "user-2"), nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("cross-user get = %d, want 403", rec.Code)
	}
}

func TestSubmitRejectsForeignOrigin(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodPost, "/reviews", h.userToken(t, "user-1"),
		map[string]string{"imageUrl": "https://evil.example.net/a.png"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestListReviewsFilterValidation(t *testing.T) {
	h := newHarness(t)
	token := h.userToken(t, "user-1")

	rec := h.do(t, http.MethodGet, "/reviews?status=bogus", token, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	rec = h.do(t, http.MethodGet, "/reviews?status=completed", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestRankEndpointDefaults(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodGet, "/rank", h.userToken(t, "user-1"), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var payload struct {
		RankLabel        string `json:"rankLabel"`
		TotalSubmissions int    `json:"totalSubmissions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.RankLabel != "10級" || payload.TotalSubmissions != 0 {
		t.Fatalf("payload = %+v", payload)
	}
}

func TestInternalCallbackCompletesTask(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	task, _ := h.data.CreateTask(ctx, "user-1", "https://cdn.example.com/a.png", "")
	if _, err := h.data.UpdateTaskStatus(ctx, task.ID, domain.TaskProcessing, store.TaskPatch{}); err != nil {
		t.Fatalf("seed processing: %v", err)
	}

	internalToken, err := h.workerSign.Sign("dessin-review")
	if err != nil {
		t.Fatalf("sign internal: %v", err)
	}
	rec := h.do(t, http.MethodPost, "/internal/reviews/"+task.ID+"/example", internalToken,
		map[string]string{"exampleImageUrl": "https://cdn.example.com/ex.png"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}

	got, _, _ := h.data.GetTask(ctx, task.ID)
	if got.Status != domain.TaskCompleted || got.ExampleImageURL == "" {
		t.Fatalf("task = %+v", got)
	}
}

func TestInternalCallbackRejectsUserToken(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	task, _ := h.data.CreateTask(ctx, "user-1", "https://cdn.example.com/a.png", "")

	rec := h.do(t, http.MethodPost, "/internal/reviews/"+task.ID+"/example", h.userToken(t, "user-1"),
		map[string]string{"exampleImageUrl": "https://cdn.example.com/ex.png"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestInternalCallbackConflictOnFailedTask(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	task, _ := h.data.CreateTask(ctx, "user-1", "https://cdn.example.com/a.png", "")
	msg := "failed"
	if _, err := h.data.UpdateTaskStatus(ctx, task.ID, domain.TaskFailed, store.TaskPatch{ErrorMessage: &msg}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	internalToken, err := h.workerSign.Sign("dessin-review")
	if err != nil {
		t.Fatalf("sign internal: %v", err)
	}
	rec := h.do(t, http.MethodPost, "/internal/reviews/"+task.ID+"/example", internalToken,
		map[string]string{"exampleImageUrl": "https://cdn.example.com/ex.png"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestDeleteReviewReturnsNoContent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	token := h.userToken(t, "user-1")
	task, _ := h.data.CreateTask(ctx, "user-1", "https://cdn.example.com/a.png", "")

	rec := h.do(t, http.MethodDelete, "/reviews/"+task.ID, token, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	// idempotent
	rec = h.do(t, http.MethodDelete, "/reviews/"+task.ID, token, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("second delete status = %d, want 204", rec.Code)
	}
}
