package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haphu2512-java/ZaloForEdu/internal/app"
	"github.com/haphu2512-java/ZaloForEdu/internal/config"
	"github.com/haphu2512-java/ZaloForEdu/pkg/types"
)

const testPassword = "password123"

// startApp runs a full application on a random local port.
func startApp(t *testing.T) (*app.Application, string) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Database.Path = filepath.Join(t.TempDir(), "zaloedu.db")
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = 0
	cfg.HTTP.AuthRateLimit = 0
	cfg.Auth.JWTSecret = "integration-secret-0123456789abcdef"
	cfg.Log.Level = "error"

	application, err := app.NewApplication(cfg, nil)
	if err != nil {
		t.Fatalf("Failed to create application: %v", err)
	}
	if err := application.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start application: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := application.Stop(ctx); err != nil {
			t.Logf("Failed to stop application: %v", err)
		}
	})

	return application, "http://" + application.GetAddr()
}

func postJSON(t *testing.T, baseURL, path string, body any) (*http.Response, []byte) {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(baseURL+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST %s failed: %v", path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, data
}

type session struct {
	User         types.User `json:"user"`
	AccessToken  string     `json:"accessToken"`
	RefreshToken string     `json:"refreshToken"`
	ExpiresIn    int64      `json:"expiresIn"`
}

// signUp registers, verifies and logs in a user.
func signUp(t *testing.T, baseURL, email, fullName, role string) session {
	t.Helper()

	resp, data := postJSON(t, baseURL, "/api/auth/register", map[string]string{
		"email": email, "password": testPassword, "fullName": fullName, "role": role,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Register %s: expected 201, got %d: %s", email, resp.StatusCode, data)
	}
	var registered struct {
		VerificationToken string `json:"verificationToken"`
	}
	if err := json.Unmarshal(data, &registered); err != nil {
		t.Fatal(err)
	}

	resp, data = postJSON(t, baseURL, "/api/auth/verify-email", map[string]string{"token": registered.VerificationToken})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Verify %s: expected 200, got %d: %s", email, resp.StatusCode, data)
	}

	resp, data = postJSON(t, baseURL, "/api/auth/login", map[string]string{"email": email, "password": testPassword})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Login %s: expected 200, got %d: %s", email, resp.StatusCode, data)
	}
	var s session
	if err := json.Unmarshal(data, &s); err != nil {
		t.Fatal(err)
	}
	return s
}

// TestClient is a WebSocket client that collects every inbound envelope.
type TestClient struct {
	conn   *websocket.Conn
	events chan types.Envelope
	done   chan struct{}

	closeOnce sync.Once
}

func wsURL(baseURL, token string) string {
	u, _ := url.Parse(baseURL)
	u.Scheme = "ws"
	u.Path = "/ws"
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// connect opens a socket authenticated by the Authorization header.
func connect(t *testing.T, baseURL, accessToken string) *TestClient {
	t.Helper()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+accessToken)
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(baseURL, ""), header)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("Failed to connect (status %d): %v", status, err)
	}

	tc := &TestClient{
		conn:   conn,
		events: make(chan types.Envelope, 100),
		done:   make(chan struct{}),
	}
	go tc.readLoop()
	t.Cleanup(tc.Close)
	return tc
}

func (tc *TestClient) readLoop() {
	defer close(tc.done)
	for {
		var env types.Envelope
		if err := tc.conn.ReadJSON(&env); err != nil {
			return
		}
		select {
		case tc.events <- env:
		default:
		}
	}
}

func (tc *TestClient) Send(t *testing.T, event string, data any) {
	t.Helper()
	env, err := types.NewEnvelope(event, data)
	if err != nil {
		t.Fatal(err)
	}
	if err := tc.conn.WriteJSON(env); err != nil {
		t.Fatalf("Failed to send %s: %v", event, err)
	}
}

// WaitFor returns the data of the first event named event that satisfies
// match, discarding anything else received before it.
func (tc *TestClient) WaitFor(t *testing.T, event string, match func(map[string]any) bool) map[string]any {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case env := <-tc.events:
			if env.Event != event {
				continue
			}
			var data map[string]any
			if err := json.Unmarshal(env.Data, &data); err != nil {
				t.Fatalf("Failed to decode %s payload: %v", event, err)
			}
			if match == nil || match(data) {
				return data
			}
		case <-timeout:
			t.Fatalf("Timed out waiting for %s", event)
			return nil
		}
	}
}

// ExpectNone fails if event arrives within d.
func (tc *TestClient) ExpectNone(t *testing.T, event string, d time.Duration) {
	t.Helper()
	deadline := time.After(d)
	for {
		select {
		case env := <-tc.events:
			if env.Event == event {
				t.Fatalf("Unexpected %s: %s", event, env.Data)
			}
		case <-deadline:
			return
		}
	}
}

func (tc *TestClient) Close() {
	tc.closeOnce.Do(func() {
		_ = tc.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = tc.conn.Close()
	})
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Condition never held: %s", what)
}
