package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

type recordedRequest struct {
	endpoint string
	status   int
}

type mockRecorder struct {
	mu       sync.Mutex
	requests []recordedRequest
}

func (m *mockRecorder) RecordBackendRequest(endpoint string, statusCode int, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, recordedRequest{endpoint: endpoint, status: statusCode})
}

func newTestClient(t *testing.T, server *httptest.Server, rec Recorder) *Client {
	t.Helper()
	var buf bytes.Buffer
	return NewClient(server.Client(), newTestLogger(&buf), NewEndpoints(server.URL), rec)
}

func TestNewEndpoints_TrimsTrailingSlash(t *testing.T) {
	e := NewEndpoints("https://api.example.com/api/")

	if e.Login != "https://api.example.com/api/auth/login" {
		t.Errorf("Login = %q", e.Login)
	}
	if e.OAuthCheck != "https://api.example.com/api/auth/oauth-check" {
		t.Errorf("OAuthCheck = %q", e.OAuthCheck)
	}
	if got := e.RemoveFavorite(42); got != "https://api.example.com/api/user-favorites/movie/42" {
		t.Errorf("RemoveFavorite(42) = %q", got)
	}
}

func TestNewEndpoints_EmptyUsesDefault(t *testing.T) {
	e := NewEndpoints("")
	if e.Signup != DefaultBaseURL+"/auth/signup" {
		t.Errorf("Signup = %q, want default base", e.Signup)
	}
}

func TestClient_Login_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/auth/login" {
			t.Errorf("path = %s, want /auth/login", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}

		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("failed to decode body: %v", err)
		}
		if body["email"] != "a@b.com" || body["password"] != "x" {
			t.Errorf("unexpected body: %v", body)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"user":  map[string]string{"name": "A", "email": "a@b.com"},
			"token": "tok123",
		})
	}))
	defer server.Close()

	rec := &mockRecorder{}
	c := newTestClient(t, server, rec)

	result, err := c.Login(context.Background(), "a@b.com", "x")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if result.User.Name != "A" || result.User.Email != "a@b.com" {
		t.Errorf("user = %+v", result.User)
	}
	if result.Token != "tok123" {
		t.Errorf("token = %q, want %q", result.Token, "tok123")
	}

	if len(rec.requests) != 1 || rec.requests[0].endpoint != "login" || rec.requests[0].status != 200 {
		t.Errorf("recorded = %+v", rec.requests)
	}
}

func TestClient_Login_MalformedSuccessBody(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing user", `{"token":"tok123"}`},
		{"missing email", `{"user":{"name":"A"},"token":"tok123"}`},
		{"missing token", `{"user":{"name":"A","email":"a@b.com"}}`},
		{"not json", `<html>ok</html>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := newTestClient(t, server, nil)
			result, err := client.Login(context.Background(), "a@b.com", "x")
			if result != nil {
				t.Errorf("result = %+v, want nil", result)
			}
			if !errors.Is(err, ErrInvalidResponse) {
				t.Errorf("err = %v, want ErrInvalidResponse", err)
			}
			var rej *RejectionError
			if errors.As(err, &rej) {
				t.Error("malformed success body should not be a RejectionError")
			}
		})
	}
}

func TestClient_Login_RejectionCarriesBackendMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"message": "Sai mật khẩu"})
	}))
	defer server.Close()

	c := newTestClient(t, server, nil)

	_, err := c.Login(context.Background(), "a@b.com", "wrong")
	var rej *RejectionError
	if !errors.As(err, &rej) {
		t.Fatalf("expected *RejectionError, got %v", err)
	}
	if rej.Status != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rej.Status)
	}
	if rej.Message != "Sai mật khẩu" {
		t.Errorf("message = %q, want backend message verbatim", rej.Message)
	}
}

func TestClient_Login_RejectionWithoutBodyUsesFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := newTestClient(t, server, nil)

	_, err := c.Login(context.Background(), "a@b.com", "x")
	var rej *RejectionError
	if !errors.As(err, &rej) {
		t.Fatalf("expected *RejectionError, got %v", err)
	}
	if rej.Message != "Login failed" {
		t.Errorf("message = %q, want %q", rej.Message, "Login failed")
	}
}

func TestClient_OAuthCheck_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/oauth-check" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["email"] != "g@example.com" {
			t.Errorf("email = %q", body["email"])
		}
		json.NewEncoder(w).Encode(map[string]string{"token": "api-token"})
	}))
	defer server.Close()

	c := newTestClient(t, server, nil)

	token, err := c.OAuthCheck(context.Background(), "g@example.com")
	if err != nil {
		t.Fatalf("OAuthCheck() error = %v", err)
	}
	if token != "api-token" {
		t.Errorf("token = %q, want %q", token, "api-token")
	}
}

// 200以外の2xxも交換失敗として扱う
func TestClient_OAuthCheck_Non200IsFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"token": "ignored"})
	}))
	defer server.Close()

	c := newTestClient(t, server, nil)

	_, err := c.OAuthCheck(context.Background(), "g@example.com")
	var rej *RejectionError
	if !errors.As(err, &rej) {
		t.Fatalf("expected *RejectionError, got %v", err)
	}
	if rej.Status != http.StatusCreated {
		t.Errorf("status = %d, want 201", rej.Status)
	}
}

func TestClient_Signup_SendsPayload(t *testing.T) {
	var got SignupRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	c := newTestClient(t, server, nil)

	err := c.Signup(context.Background(), SignupRequest{FullName: "New User", Email: "n@example.com", Password: "secret"})
	if err != nil {
		t.Fatalf("Signup() error = %v", err)
	}
	if got.FullName != "New User" || got.Email != "n@example.com" || got.Password != "secret" {
		t.Errorf("payload = %+v", got)
	}
}

func TestClient_Signup_Rejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"message": "Email already exists"})
	}))
	defer server.Close()

	c := newTestClient(t, server, nil)

	err := c.Signup(context.Background(), SignupRequest{Email: "dup@example.com"})
	var rej *RejectionError
	if !errors.As(err, &rej) || rej.Message != "Email already exists" {
		t.Fatalf("expected rejection with backend message, got %v", err)
	}
}

func TestClient_Profile_SendsBearerHeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok123" {
			t.Errorf("Authorization = %q, want %q", got, "Bearer tok123")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"full_name":"A"}`))
	}))
	defer server.Close()

	c := newTestClient(t, server, nil)

	raw, err := c.Profile(context.Background(), "tok123")
	if err != nil {
		t.Fatalf("Profile() error = %v", err)
	}
	if string(raw) != `{"full_name":"A"}` {
		t.Errorf("body = %s", raw)
	}
}

func TestClient_Favorites_EmptyBearerReturnsUnauthorizedWithoutCall(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	c := newTestClient(t, server, nil)

	_, err := c.Favorites(context.Background(), "")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	if called {
		t.Error("backend should not be called without a bearer token")
	}
}

func TestClient_WatchHistory_401MapsToUnauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	c := newTestClient(t, server, nil)

	_, err := c.WatchHistory(context.Background(), "stale")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}

func TestClient_AddWatchHistory_PostsMovieID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		var body map[string]int
		json.NewDecoder(r.Body).Decode(&body)
		if body["movieId"] != 7 {
			t.Errorf("movieId = %d, want 7", body["movieId"])
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	c := newTestClient(t, server, nil)

	if err := c.AddWatchHistory(context.Background(), "tok", 7); err != nil {
		t.Fatalf("AddWatchHistory() error = %v", err)
	}
}

func TestClient_RemoveFavorite_UsesDelete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("method = %s, want DELETE", r.Method)
		}
		if r.URL.Path != "/user-favorites/movie/3" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := newTestClient(t, server, nil)

	if err := c.RemoveFavorite(context.Background(), "tok", 3); err != nil {
		t.Fatalf("RemoveFavorite() error = %v", err)
	}
}

func TestClient_Login_TransportErrorIsWrapped(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	c := newTestClient(t, server, nil)
	server.Close()

	_, err := c.Login(context.Background(), "a@b.com", "x")
	if err == nil {
		t.Fatal("expected transport error")
	}
	var rej *RejectionError
	if errors.As(err, &rej) {
		t.Error("transport error must not be reported as a rejection")
	}
}
