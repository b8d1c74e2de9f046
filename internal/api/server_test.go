package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/haphu2512-java/ZaloForEdu/internal/auth"
	"github.com/haphu2512-java/ZaloForEdu/pkg/interfaces"
	"github.com/haphu2512-java/ZaloForEdu/pkg/types"
)

type mockAccounts struct {
	mu          sync.Mutex
	refreshed   []string
	loggedOut   []string
	registerErr error
	loginErr    error
}

func (m *mockAccounts) Register(ctx context.Context, in auth.RegisterInput) (*types.User, string, error) {
	if m.registerErr != nil {
		return nil, "", m.registerErr
	}
	if err := types.ValidateRegistration(in.Email, in.Password, in.FullName, "student"); err != nil {
		return nil, "", fmt.Errorf("auth.Register: %w", err)
	}
	return &types.User{ID: "u1", Email: in.Email, FullName: in.FullName, Role: types.RoleStudent}, "verify-token", nil
}

func (m *mockAccounts) VerifyEmail(ctx context.Context, token string) (*types.User, error) {
	if token != "verify-token" {
		return nil, fmt.Errorf("auth.VerifyEmail: %w", auth.ErrInvalidVerification)
	}
	return &types.User{ID: "u1", IsActive: true, IsEmailVerified: true}, nil
}

func (m *mockAccounts) Login(ctx context.Context, email, password, ip string) (*auth.TokenPair, error) {
	if m.loginErr != nil {
		return nil, m.loginErr
	}
	if password != "correct-password" {
		return nil, fmt.Errorf("auth.Login: %w", auth.ErrInvalidCredentials)
	}
	return m.pair("refresh-1"), nil
}

func (m *mockAccounts) Refresh(ctx context.Context, raw, ip string) (*auth.TokenPair, error) {
	m.mu.Lock()
	m.refreshed = append(m.refreshed, raw)
	m.mu.Unlock()
	if raw != "refresh-1" {
		return nil, fmt.Errorf("auth.Refresh: %w", interfaces.ErrInvalidToken)
	}
	return m.pair("refresh-2"), nil
}

func (m *mockAccounts) Logout(ctx context.Context, raw, ip string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loggedOut = append(m.loggedOut, raw)
}

func (m *mockAccounts) pair(refresh string) *auth.TokenPair {
	return &auth.TokenPair{
		AccessToken:      "access",
		ExpiresIn:        900,
		RefreshToken:     refresh,
		RefreshExpiresAt: time.Now().Add(time.Hour),
		User:             &types.User{ID: "u1"},
	}
}

type mockAuthenticator struct{}

func (mockAuthenticator) Authenticate(ctx context.Context, bearer string) (*types.User, error) {
	if bearer != "Bearer good" {
		return nil, interfaces.ErrAuthentication
	}
	return &types.User{ID: "u1", FullName: "Alice"}, nil
}

type mockDirectory struct{}

func (mockDirectory) ListOnline() []types.OnlineUser {
	return []types.OnlineUser{{UserSummary: types.UserSummary{ID: "alice"}, Connections: 2}}
}

func (mockDirectory) IsOnline(userID string) bool { return userID == "alice" }

func (mockDirectory) GetStats() map[string]int {
	return map[string]int{"total_connections": 2, "online_users": 1, "active_rooms": 3}
}

type mockHealth struct{ err error }

func (m mockHealth) HealthCheck(ctx context.Context) error { return m.err }

func newTestServer(accounts *mockAccounts, db HealthChecker, opts Options) *Server {
	ws := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	return NewServer(accounts, mockAuthenticator{}, mockDirectory{}, db, ws, opts, nil)
}

func do(t *testing.T, s *Server, method, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	return w
}

func doAuthorized(t *testing.T, s *Server, method, path, authorization string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	return w
}

func refreshCookie(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == RefreshCookieName {
			return c
		}
	}
	return nil
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode error response: %v", err)
	}
	return resp
}

func TestServer_Register(t *testing.T) {
	s := newTestServer(&mockAccounts{}, mockHealth{}, Options{})

	w := do(t, s, http.MethodPost, "/api/auth/register", `{"email":"a@b.co","password":"password123","fullName":"Alice"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var resp RegisterResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.VerificationToken != "verify-token" || resp.User == nil || resp.User.ID != "u1" {
		t.Errorf("Unexpected register response: %+v", resp)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected JSON content type, got %q", ct)
	}
}

func TestServer_RegisterErrors(t *testing.T) {
	tests := []struct {
		name     string
		accounts *mockAccounts
		body     string
		want     int
	}{
		{"invalid json", &mockAccounts{}, `{`, http.StatusBadRequest},
		{"weak password", &mockAccounts{}, `{"email":"a@b.co","password":"x","fullName":"A"}`, http.StatusBadRequest},
		{"password too long", &mockAccounts{registerErr: fmt.Errorf("auth.Register: %w", types.ErrPasswordTooLong)}, `{}`, http.StatusBadRequest},
		{"admin role", &mockAccounts{registerErr: fmt.Errorf("auth.Register: %w", types.ErrInvalidRole)}, `{}`, http.StatusBadRequest},
		{"duplicate email", &mockAccounts{registerErr: fmt.Errorf("auth.Register: %w", auth.ErrEmailTaken)}, `{}`, http.StatusConflict},
		{"storage failure", &mockAccounts{registerErr: errors.New("disk on fire")}, `{}`, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(tt.accounts, mockHealth{}, Options{})
			w := do(t, s, http.MethodPost, "/api/auth/register", tt.body)
			if w.Code != tt.want {
				t.Errorf("Expected %d, got %d", tt.want, w.Code)
			}
			resp := decodeError(t, w)
			if resp.Code != tt.want {
				t.Errorf("Expected body code %d, got %d", tt.want, resp.Code)
			}
			if strings.Contains(resp.Message, "disk on fire") {
				t.Error("Internal error details must not leak")
			}
		})
	}
}

func TestServer_VerifyEmail(t *testing.T) {
	s := newTestServer(&mockAccounts{}, mockHealth{}, Options{})

	if w := do(t, s, http.MethodPost, "/api/auth/verify-email", `{"token":"verify-token"}`); w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
	if w := do(t, s, http.MethodPost, "/api/auth/verify-email", `{"token":"other"}`); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad token, got %d", w.Code)
	}
	if w := do(t, s, http.MethodPost, "/api/auth/verify-email", `{}`); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing token, got %d", w.Code)
	}
}

func TestServer_Login(t *testing.T) {
	s := newTestServer(&mockAccounts{}, mockHealth{}, Options{CookieSecure: true})

	w := do(t, s, http.MethodPost, "/api/auth/login", `{"email":"a@b.co","password":"correct-password"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"accessToken", "refreshToken", "expiresIn", "user"} {
		if _, ok := body[key]; !ok {
			t.Errorf("Expected %q in login response", key)
		}
	}

	cookie := refreshCookie(t, w)
	if cookie == nil {
		t.Fatal("Expected refresh cookie")
	}
	if cookie.Value != "refresh-1" || !cookie.HttpOnly || !cookie.Secure || cookie.Path != "/api/auth" {
		t.Errorf("Unexpected refresh cookie: %+v", cookie)
	}
}

func TestServer_LoginRejections(t *testing.T) {
	tests := []struct {
		name     string
		accounts *mockAccounts
		body     string
		want     int
	}{
		{"wrong password", &mockAccounts{}, `{"email":"a@b.co","password":"nope"}`, http.StatusUnauthorized},
		{"unverified", &mockAccounts{loginErr: auth.ErrEmailNotVerified}, `{"email":"a@b.co","password":"x"}`, http.StatusUnauthorized},
		{"disabled", &mockAccounts{loginErr: auth.ErrAccountDisabled}, `{"email":"a@b.co","password":"x"}`, http.StatusUnauthorized},
		{"missing fields", &mockAccounts{}, `{"email":"a@b.co"}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(tt.accounts, mockHealth{}, Options{})
			w := do(t, s, http.MethodPost, "/api/auth/login", tt.body)
			if w.Code != tt.want {
				t.Errorf("Expected %d, got %d", tt.want, w.Code)
			}
			if refreshCookie(t, w) != nil {
				t.Error("Rejected login must not set a cookie")
			}
		})
	}
}

func TestServer_Refresh(t *testing.T) {
	accounts := &mockAccounts{}
	s := newTestServer(accounts, mockHealth{}, Options{})

	t.Run("body", func(t *testing.T) {
		w := do(t, s, http.MethodPost, "/api/auth/refresh", `{"refreshToken":"refresh-1"}`)
		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", w.Code)
		}
		if c := refreshCookie(t, w); c == nil || c.Value != "refresh-2" {
			t.Errorf("Expected rotated cookie, got %+v", c)
		}
	})

	t.Run("cookie fallback", func(t *testing.T) {
		w := do(t, s, http.MethodPost, "/api/auth/refresh", "", &http.Cookie{Name: RefreshCookieName, Value: "refresh-1"})
		if w.Code != http.StatusOK {
			t.Errorf("Expected 200 from cookie, got %d", w.Code)
		}
	})

	t.Run("invalid token", func(t *testing.T) {
		w := do(t, s, http.MethodPost, "/api/auth/refresh", `{"refreshToken":"stale"}`)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("Expected 401, got %d", w.Code)
		}
		if c := refreshCookie(t, w); c == nil || c.MaxAge >= 0 {
			t.Errorf("Expected cookie to be cleared, got %+v", c)
		}
	})

	t.Run("missing token", func(t *testing.T) {
		if w := do(t, s, http.MethodPost, "/api/auth/refresh", ""); w.Code != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", w.Code)
		}
	})
}

func TestServer_Logout(t *testing.T) {
	accounts := &mockAccounts{}
	s := newTestServer(accounts, mockHealth{}, Options{})

	for _, body := range []string{`{"refreshToken":"anything"}`, ``, `garbage`} {
		w := do(t, s, http.MethodPost, "/api/auth/logout", body)
		if w.Code != http.StatusOK {
			t.Errorf("Expected logout to always return 200, got %d for %q", w.Code, body)
		}
		if c := refreshCookie(t, w); c == nil || c.MaxAge >= 0 {
			t.Errorf("Expected cookie to be cleared for %q", body)
		}
	}

	w := do(t, s, http.MethodPost, "/api/auth/logout", "", &http.Cookie{Name: RefreshCookieName, Value: "from-cookie"})
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}

	accounts.mu.Lock()
	defer accounts.mu.Unlock()
	if len(accounts.loggedOut) != 2 || accounts.loggedOut[1] != "from-cookie" {
		t.Errorf("Expected two revocations, got %v", accounts.loggedOut)
	}
}

func TestServer_Me(t *testing.T) {
	s := newTestServer(&mockAccounts{}, mockHealth{}, Options{})

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer good")
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var resp UserResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil || resp.User.FullName != "Alice" {
		t.Errorf("Unexpected me response: %+v (%v)", resp, err)
	}

	if w := do(t, s, http.MethodGet, "/api/auth/me", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without token, got %d", w.Code)
	}
}

func TestServer_Presence(t *testing.T) {
	s := newTestServer(&mockAccounts{}, mockHealth{}, Options{})

	w := doAuthorized(t, s, http.MethodGet, "/api/presence", "Bearer good")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var list PresenceResponse
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if list.Count != 1 || list.Users[0].ID != "alice" || list.Users[0].Connections != 2 {
		t.Errorf("Unexpected presence list: %+v", list)
	}

	tests := []struct {
		path   string
		code   int
		online bool
	}{
		{"/api/presence/alice", http.StatusOK, true},
		{"/api/presence/bob", http.StatusOK, false},
		{"/api/presence/bad%20id", http.StatusBadRequest, false},
	}
	for _, tt := range tests {
		w := doAuthorized(t, s, http.MethodGet, tt.path, "Bearer good")
		if w.Code != tt.code {
			t.Errorf("%s: expected %d, got %d", tt.path, tt.code, w.Code)
			continue
		}
		if tt.code != http.StatusOK {
			continue
		}
		var resp UserPresenceResponse
		if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
			t.Fatal(err)
		}
		if resp.Online != tt.online {
			t.Errorf("%s: expected online=%v, got %v", tt.path, tt.online, resp.Online)
		}
	}
}

func TestServer_PresenceRequiresAuth(t *testing.T) {
	s := newTestServer(&mockAccounts{}, mockHealth{}, Options{})

	tests := []struct {
		name          string
		path          string
		authorization string
	}{
		{"list without token", "/api/presence", ""},
		{"list with bad token", "/api/presence", "Bearer bad"},
		{"user without token", "/api/presence/alice", ""},
		{"user with bad token", "/api/presence/alice", "Bearer bad"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doAuthorized(t, s, http.MethodGet, tt.path, tt.authorization)
			if w.Code != http.StatusUnauthorized {
				t.Fatalf("Expected 401, got %d", w.Code)
			}
			if strings.Contains(w.Body.String(), "alice") {
				t.Errorf("Presence data leaked to unauthenticated caller: %s", w.Body.String())
			}
		})
	}
}

type fixedQueue int

func (q fixedQueue) QueueDepth() int { return int(q) }

func TestServer_HealthCheck(t *testing.T) {
	s := newTestServer(&mockAccounts{}, mockHealth{}, Options{Queue: fixedQueue(4)})
	w := do(t, s, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var resp HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "healthy" || resp.Connections["active_rooms"] != 3 || resp.QueueDepth != 4 {
		t.Errorf("Unexpected health response: %+v", resp)
	}

	s = newTestServer(&mockAccounts{}, mockHealth{err: errors.New("db down")}, Options{})
	w = do(t, s, http.MethodGet, "/health", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 when database is down, got %d", w.Code)
	}
}

func TestServer_Routing(t *testing.T) {
	s := newTestServer(&mockAccounts{}, mockHealth{}, Options{})

	if w := do(t, s, http.MethodGet, "/ws", ""); w.Code != http.StatusTeapot {
		t.Errorf("Expected /ws to reach the websocket handler, got %d", w.Code)
	}
	if w := do(t, s, http.MethodGet, "/api/unknown", ""); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
	if w := do(t, s, http.MethodGet, "/api/auth/login", ""); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", w.Code)
	}
}

func TestServer_CORS(t *testing.T) {
	s := newTestServer(&mockAccounts{}, mockHealth{}, Options{CORSOrigins: []string{"http://app.test"}})

	req := httptest.NewRequest(http.MethodOptions, "/api/auth/login", nil)
	req.Header.Set("Origin", "http://app.test")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://app.test" {
		t.Errorf("Expected allowed origin echo, got %q", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Errorf("Expected credentials allowed, got %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://evil.test")
	w = httptest.NewRecorder()
	s.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Expected no CORS header for unknown origin, got %q", got)
	}
}

func TestServer_AuthRateLimit(t *testing.T) {
	s := newTestServer(&mockAccounts{}, mockHealth{}, Options{AuthRateLimit: 2})

	for i := 0; i < 2; i++ {
		if w := do(t, s, http.MethodPost, "/api/auth/login", `{"email":"a@b.co","password":"nope"}`); w.Code != http.StatusUnauthorized {
			t.Fatalf("Request %d: expected 401, got %d", i, w.Code)
		}
	}

	w := do(t, s, http.MethodPost, "/api/auth/login", `{"email":"a@b.co","password":"correct-password"}`)
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("Expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Expected Retry-After header")
	}

	if w := doAuthorized(t, s, http.MethodGet, "/api/presence", "Bearer good"); w.Code != http.StatusOK {
		t.Errorf("Expected presence to be unaffected by auth limit, got %d", w.Code)
	}
}
