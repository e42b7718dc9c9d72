package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"account-api/internal/domain"
	"account-api/internal/repository"
	"account-api/internal/service"
	"account-api/internal/slug"
)

type testEnv struct {
	router   *gin.Engine
	store    *repository.MemoryDocumentStore
	verifier *service.HMACIdentityVerifier
}

type denyAll struct{}

func (denyAll) Allow(string) bool { return false }

func newTestEnv(t *testing.T, limiter service.RequestRateLimiter) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := repository.NewMemoryDocumentStore(service.UniqueIndexes()...)
	userSvc := service.NewUserService(zap.NewNop(), store, slug.NewGenerator(slug.DefaultMaxAttempts))
	verifier := service.NewHMACIdentityVerifier("secret", "account-api")
	router := NewRouter(zap.NewNop(), RouterOptions{RequestTimeout: 5 * time.Second, MetricsEnabled: true}, verifier, limiter, NewUserHandler(zap.NewNop(), userSvc))
	return &testEnv{router: router, store: store, verifier: verifier}
}

func (e *testEnv) do(t *testing.T, method, path, externalID string, body any) (*httptest.ResponseRecorder, envelope) {
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
	req.Header.Set("Content-Type", "application/json")
	if externalID != "" {
		token, err := e.verifier.Issue(domain.Identity{Email: externalID + "@x.com", ExternalID: externalID}, time.Minute)
		if err != nil {
			t.Fatalf("issue token: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") && rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode envelope: %v", err)
		}
	}
	return rec, env
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

func validUserBody(email string) map[string]string {
	return map[string]string{
		"firstName":   "Ana",
		"lastName":    "Perez",
		"email":       email,
		"phoneNumber": "+1 650-253-0000",
	}
}

func TestUserHandler_Create(t *testing.T) {
	env := newTestEnv(t, nil)

	rec, body := env.do(t, http.MethodPost, "/user", "fire-1", validUserBody("a@x.com"))
	if rec.Code != http.StatusOK || !body.Success || body.Message != "User successfully created" {
		t.Fatalf("unexpected create response: %d %+v", rec.Code, body)
	}
	var user domain.User
	if err := json.Unmarshal(body.Data, &user); err != nil {
		t.Fatalf("decode user: %v", err)
	}
	if user.Email != "a@x.com" || user.ExternalID != "fire-1" || !slug.IsValid(user.Slug) {
		t.Fatalf("unexpected user: %+v", user)
	}

	rec, body = env.do(t, http.MethodPost, "/user", "fire-2", validUserBody("a@x.com"))
	if rec.Code != http.StatusBadRequest || body.Success || body.Message != "User already exists" {
		t.Fatalf("expected duplicate rejection, got %d %+v", rec.Code, body)
	}
	if got := env.store.Len(domain.UsersCollection); got != 1 {
		t.Fatalf("expected one stored user, got %d", got)
	}
}

func TestUserHandler_CreateInvalidBody(t *testing.T) {
	env := newTestEnv(t, nil)

	rec, body := env.do(t, http.MethodPost, "/user", "fire-1", map[string]string{"email": "not-an-email"})
	if rec.Code != http.StatusBadRequest || body.Message != "Invalid request" {
		t.Fatalf("expected invalid request, got %d %+v", rec.Code, body)
	}
}

func TestUserHandler_RequiresIdentity(t *testing.T) {
	env := newTestEnv(t, nil)

	rec, _ := env.do(t, http.MethodGet, "/user/find-all", "", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestUserHandler_FindAll(t *testing.T) {
	env := newTestEnv(t, nil)

	rec, body := env.do(t, http.MethodGet, "/user/find-all", "fire-1", nil)
	if rec.Code != http.StatusBadRequest || body.Message != "No user found" {
		t.Fatalf("expected empty collection rejection, got %d %+v", rec.Code, body)
	}

	env.do(t, http.MethodPost, "/user", "fire-1", validUserBody("a@x.com"))
	env.do(t, http.MethodPost, "/user", "fire-2", validUserBody("b@x.com"))

	rec, body = env.do(t, http.MethodGet, "/user/find-all", "fire-1", nil)
	if rec.Code != http.StatusOK || body.Message != "User found successfully" {
		t.Fatalf("unexpected find-all response: %d %+v", rec.Code, body)
	}
	var users []domain.User
	if err := json.Unmarshal(body.Data, &users); err != nil {
		t.Fatalf("decode users: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("expected 2 users, got %d", len(users))
	}
}

func TestUserHandler_FindOneWithAddress(t *testing.T) {
	env := newTestEnv(t, nil)

	rec, body := env.do(t, http.MethodGet, "/user", "ghost", nil)
	if rec.Code != http.StatusBadRequest || body.Message != "No user found" {
		t.Fatalf("expected not found, got %d %+v", rec.Code, body)
	}

	env.do(t, http.MethodPost, "/user", "fire-1", validUserBody("a@x.com"))
	rec, body = env.do(t, http.MethodPost, "/user/address", "fire-1", map[string]string{
		"address": "Av. Sol 123",
		"city":    "Lima",
		"state":   "Lima",
		"country": "PE",
	})
	if rec.Code != http.StatusOK || body.Message != "User address inserted successfully" {
		t.Fatalf("unexpected address response: %d %+v", rec.Code, body)
	}

	rec, body = env.do(t, http.MethodGet, "/user", "fire-1", nil)
	if rec.Code != http.StatusOK || body.Message != "User found successfully" {
		t.Fatalf("unexpected find-one response: %d %+v", rec.Code, body)
	}
	var profile struct {
		Email   string `json:"email"`
		Address struct {
			City  string          `json:"city"`
			Users json.RawMessage `json:"users"`
		} `json:"address"`
	}
	if err := json.Unmarshal(body.Data, &profile); err != nil {
		t.Fatalf("decode profile: %v", err)
	}
	if profile.Email != "a@x.com" || profile.Address.City != "Lima" {
		t.Fatalf("unexpected profile: %+v", profile)
	}
	if !strings.Contains(string(profile.Address.Users), `"$ref":"users/`) {
		t.Fatalf("expected user reference, got %s", profile.Address.Users)
	}
}

func TestUserHandler_InsertAddressUnknownUser(t *testing.T) {
	env := newTestEnv(t, nil)

	rec, body := env.do(t, http.MethodPost, "/user/address", "ghost", map[string]string{
		"address": "Av. Sol 123",
		"city":    "Lima",
		"country": "PE",
	})
	if rec.Code != http.StatusBadRequest || body.Message != "No user found" {
		t.Fatalf("expected not found, got %d %+v", rec.Code, body)
	}
	if got := env.store.Len(domain.AddressesCollection); got != 0 {
		t.Fatalf("expected no address insert, got %d", got)
	}
}

func TestUserHandler_Update(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(t, http.MethodPost, "/user", "fire-1", validUserBody("a@x.com"))

	rec, body := env.do(t, http.MethodPatch, "/user", "fire-1", map[string]string{"firstName": "Lucia"})
	if rec.Code != http.StatusOK || body.Message != "User successfully updated" {
		t.Fatalf("unexpected update response: %d %+v", rec.Code, body)
	}
	var user domain.User
	if err := json.Unmarshal(body.Data, &user); err != nil {
		t.Fatalf("decode user: %v", err)
	}
	if user.FirstName != "Lucia" || user.LastName != "Perez" {
		t.Fatalf("expected partial update, got %+v", user)
	}

	rec, body = env.do(t, http.MethodPatch, "/user", "fire-1", map[string]string{})
	if rec.Code != http.StatusBadRequest || body.Message != "Nothing to update" {
		t.Fatalf("expected nothing to update, got %d %+v", rec.Code, body)
	}

	rec, body = env.do(t, http.MethodPatch, "/user", "ghost", map[string]string{"firstName": "Lucia"})
	if rec.Code != http.StatusBadRequest || body.Message != "No user found" {
		t.Fatalf("expected not found, got %d %+v", rec.Code, body)
	}
}

func TestUserHandler_Remove(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(t, http.MethodPost, "/user", "fire-1", validUserBody("a@x.com"))

	rec, body := env.do(t, http.MethodDelete, "/user", "fire-1", nil)
	if rec.Code != http.StatusOK || body.Message != "User deleted successfully" {
		t.Fatalf("unexpected remove response: %d %+v", rec.Code, body)
	}
	rec, body = env.do(t, http.MethodDelete, "/user", "fire-1", nil)
	if rec.Code != http.StatusBadRequest || body.Message != "No user found" {
		t.Fatalf("expected not found on second delete, got %d %+v", rec.Code, body)
	}
}

func TestUserHandler_ListAddresses(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(t, http.MethodPost, "/user", "fire-1", validUserBody("a@x.com"))
	env.do(t, http.MethodPost, "/user/address", "fire-1", map[string]string{"address": "Av. Sol 123", "city": "Lima", "country": "PE"})

	rec, body := env.do(t, http.MethodGet, "/user/address", "fire-1", nil)
	if rec.Code != http.StatusOK || body.Message != "Address list" {
		t.Fatalf("unexpected list response: %d %+v", rec.Code, body)
	}
	var addrs []domain.Address
	if err := json.Unmarshal(body.Data, &addrs); err != nil {
		t.Fatalf("decode addresses: %v", err)
	}
	if len(addrs) != 1 {
		t.Fatalf("expected one address, got %d", len(addrs))
	}

	future := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	rec, body = env.do(t, http.MethodGet, "/user/address?since="+future, "fire-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected ranged response: %d %+v", rec.Code, body)
	}
	if string(body.Data) != "[]" {
		t.Fatalf("expected empty list, got %s", body.Data)
	}

	rec, body = env.do(t, http.MethodGet, "/user/address?since=yesterday", "fire-1", nil)
	if rec.Code != http.StatusBadRequest || body.Message != "Invalid request" {
		t.Fatalf("expected invalid request, got %d %+v", rec.Code, body)
	}
}

func TestUserHandler_RateLimited(t *testing.T) {
	env := newTestEnv(t, denyAll{})

	rec, body := env.do(t, http.MethodPost, "/user", "fire-1", validUserBody("a@x.com"))
	if rec.Code != http.StatusTooManyRequests || body.Message != "Too many requests" {
		t.Fatalf("expected 429, got %d %+v", rec.Code, body)
	}
	if got := env.store.Len(domain.UsersCollection); got != 0 {
		t.Fatalf("expected no insert, got %d", got)
	}

	// las lecturas no pasan por el limiter
	rec, _ = env.do(t, http.MethodGet, "/user", "fire-1", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected read to reach the handler, got %d", rec.Code)
	}
}

func TestRouter_MetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(t, http.MethodGet, "/user/find-all", "fire-1", nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "account_api_http_requests_total") {
		t.Fatalf("expected http metrics in output")
	}
}
