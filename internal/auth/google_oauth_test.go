package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/hitoshi/moviestream/internal/model"
)

func TestGoogleOAuthProvider_GetLoginURL_ContainsRequiredParams(t *testing.T) {
	provider := NewGoogleOAuthProvider(GoogleOAuthConfig{
		ClientID:    "test-client-id",
		RedirectURL: "http://localhost:8080/auth/google/callback",
	})

	loginURL := provider.GetLoginURL("test-state-value")
	if !strings.HasPrefix(loginURL, defaultGoogleAuthURL+"?") {
		t.Fatalf("unexpected login URL prefix: %q", loginURL)
	}

	parsed, err := url.Parse(loginURL)
	if err != nil {
		t.Fatalf("failed to parse login URL: %v", err)
	}
	q := parsed.Query()

	tests := []struct {
		param string
		want  string
	}{
		{"client_id", "test-client-id"},
		{"redirect_uri", "http://localhost:8080/auth/google/callback"},
		{"state", "test-state-value"},
		{"response_type", "code"},
		{"scope", "openid email profile"},
	}

	for _, tt := range tests {
		t.Run(tt.param, func(t *testing.T) {
			if got := q.Get(tt.param); got != tt.want {
				t.Errorf("%s = %q, want %q", tt.param, got, tt.want)
			}
		})
	}
}

// newGoogleServers はトークンエンドポイントとユーザー情報エンドポイントのモックを立てる。
func newGoogleServers(t *testing.T, userInfo map[string]interface{}) (*httptest.Server, *httptest.Server) {
	t.Helper()

	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("failed to parse form: %v", err)
		}
		if got := r.PostForm.Get("grant_type"); got != "authorization_code" {
			t.Errorf("grant_type = %q, want authorization_code", got)
		}
		if got := r.PostForm.Get("code"); got != "test-auth-code" {
			t.Errorf("code = %q, want test-auth-code", got)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "test-access-token",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	t.Cleanup(tokenServer.Close)

	userInfoServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-access-token" {
			t.Errorf("unexpected Authorization header: %q", got)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(userInfo)
	}))
	t.Cleanup(userInfoServer.Close)

	return tokenServer, userInfoServer
}

func newTestProvider(tokenURL, userInfoURL string) *GoogleOAuthProvider {
	return NewGoogleOAuthProvider(GoogleOAuthConfig{
		ClientID:     "test-client-id",
		ClientSecret: "test-client-secret",
		RedirectURL:  "http://localhost:8080/auth/google/callback",
		HTTPClient:   &http.Client{},
		TokenURL:     tokenURL,
		UserInfoURL:  userInfoURL,
	})
}

func TestGoogleOAuthProvider_ExchangeCode_Success(t *testing.T) {
	tokenServer, userInfoServer := newGoogleServers(t, map[string]interface{}{
		"sub":            "google-sub-12345",
		"email":          "user@gmail.com",
		"email_verified": true,
		"name":           "Google User",
	})

	identity, err := newTestProvider(tokenServer.URL, userInfoServer.URL).ExchangeCode(context.Background(), "test-auth-code")
	if err != nil {
		t.Fatalf("ExchangeCode() error = %v", err)
	}

	want := model.FederatedIdentity{Email: "user@gmail.com", DisplayName: "Google User", Provider: model.ProviderGoogle}
	if *identity != want {
		t.Errorf("identity = %+v, want %+v", *identity, want)
	}
}

// 名前の欠けたプロフィールはエラーにせず、そのまま返すこと（Authority側で拒否する）
func TestGoogleOAuthProvider_ExchangeCode_MissingNamePassedThrough(t *testing.T) {
	tokenServer, userInfoServer := newGoogleServers(t, map[string]interface{}{
		"sub":   "google-sub-12345",
		"email": "user@gmail.com",
	})

	identity, err := newTestProvider(tokenServer.URL, userInfoServer.URL).ExchangeCode(context.Background(), "test-auth-code")
	if err != nil {
		t.Fatalf("ExchangeCode() error = %v", err)
	}
	if identity.DisplayName != "" {
		t.Errorf("DisplayName = %q, want empty", identity.DisplayName)
	}
	if identity.Email != "user@gmail.com" {
		t.Errorf("Email = %q, want user@gmail.com", identity.Email)
	}
}

func TestGoogleOAuthProvider_ExchangeCode_UnverifiedEmailIsDropped(t *testing.T) {
	tokenServer, userInfoServer := newGoogleServers(t, map[string]interface{}{
		"sub":            "google-sub-12345",
		"email":          "user@gmail.com",
		"email_verified": false,
		"name":           "Google User",
	})

	identity, err := newTestProvider(tokenServer.URL, userInfoServer.URL).ExchangeCode(context.Background(), "test-auth-code")
	if err != nil {
		t.Fatalf("ExchangeCode() error = %v", err)
	}
	if identity.Email != "" {
		t.Errorf("Email = %q, want empty for unverified address", identity.Email)
	}
}

func TestGoogleOAuthProvider_ExchangeCode_TokenError(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error":             "invalid_grant",
			"error_description": "Code was already redeemed.",
		})
	}))
	defer tokenServer.Close()

	_, err := newTestProvider(tokenServer.URL, "").ExchangeCode(context.Background(), "invalid-code")
	if err == nil {
		t.Fatal("expected error from ExchangeCode with invalid code")
	}
	if !strings.Contains(err.Error(), "400") {
		t.Errorf("error should mention status, got %v", err)
	}
}

func TestGoogleOAuthProvider_ExchangeCode_EmptyAccessToken(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"token_type":"Bearer"}`))
	}))
	defer tokenServer.Close()

	_, err := newTestProvider(tokenServer.URL, "").ExchangeCode(context.Background(), "test-auth-code")
	if err == nil {
		t.Fatal("expected error for empty access token")
	}
}

func TestGoogleOAuthProvider_ExchangeCode_UserInfoError(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "test-access-token",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	defer tokenServer.Close()

	userInfoServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer userInfoServer.Close()

	_, err := newTestProvider(tokenServer.URL, userInfoServer.URL).ExchangeCode(context.Background(), "valid-code")
	if err == nil {
		t.Fatal("expected error from ExchangeCode when user info fetch fails")
	}
}
