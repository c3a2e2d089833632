// Package backend は外部REST APIバックエンドのクライアントを提供する。
// パスワード検証、フェデレーションプロフィールのトークン交換、
// ベアラートークン付きの保護APIの呼び出しを含む。
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// maxResponseSize はバックエンドレスポンスとして読み込む最大バイト数。
const maxResponseSize = 1 << 20

// ErrUnauthorized はバックエンドがベアラートークンを拒否した（401）ことを示す。
var ErrUnauthorized = errors.New("backend rejected bearer token")

// ErrInvalidResponse は2xxレスポンスのボディが期待する形式でないことを示す。
var ErrInvalidResponse = errors.New("backend returned an invalid response")

// RejectionError はバックエンドがリクエストを拒否したことを表す。
// Messageはバックエンドが返した理由をそのまま保持する。
type RejectionError struct {
	Status  int
	Message string
}

// Error はerrorインターフェースを実装する。
func (e *RejectionError) Error() string {
	return fmt.Sprintf("backend rejected request with status %d: %s", e.Status, e.Message)
}

// Recorder はバックエンド呼び出しの計測を受け取るインターフェース。
// metrics.Collectorが実装する。
type Recorder interface {
	RecordBackendRequest(endpoint string, statusCode int, duration time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RecordBackendRequest(string, int, time.Duration) {}

// LoginResult はパスワード検証エンドポイントの成功レスポンス。
type LoginResult struct {
	User  LoginUser `json:"user"`
	Token string    `json:"token"`
}

// LoginUser はLoginResultに含まれるユーザー情報。
type LoginUser struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// SignupRequest はアカウント登録リクエスト。
type SignupRequest struct {
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Client はバックエンドREST APIのクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	endpoints  Endpoints
	recorder   Recorder
}

// NewClient はClientの新しいインスタンスを生成する。
// recorderがnilの場合は計測を行わない。
func NewClient(httpClient *http.Client, logger *slog.Logger, endpoints Endpoints, recorder Recorder) *Client {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		endpoints:  endpoints,
		recorder:   recorder,
	}
}

// Endpoints はクライアントが使用するエンドポイント一覧を返す。
func (c *Client) Endpoints() Endpoints {
	return c.endpoints
}

// Login はメールアドレスとパスワードをバックエンドで検証する。
// 2xx以外のレスポンスは*RejectionErrorとして返す。再試行はしない。
// 2xxでもuser.emailまたはtokenが欠けている場合はErrInvalidResponseを返す。
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	status, body, err := c.postJSON(ctx, "login", c.endpoints.Login, map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return nil, err
	}

	if status < 200 || status > 299 {
		return nil, &RejectionError{Status: status, Message: rejectionMessage(body, "Login failed")}
	}

	var result LoginResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse login response: %w: %w", ErrInvalidResponse, err)
	}
	if result.User.Email == "" || result.Token == "" {
		return nil, fmt.Errorf("login response is missing user email or token: %w", ErrInvalidResponse)
	}
	return &result, nil
}

// OAuthCheck は検証済みのメールアドレスをバックエンド発行のベアラートークンに交換する。
// 成功はHTTP 200のみ。
func (c *Client) OAuthCheck(ctx context.Context, email string) (string, error) {
	status, body, err := c.postJSON(ctx, "oauth_check", c.endpoints.OAuthCheck, map[string]string{
		"email": email,
	})
	if err != nil {
		return "", err
	}

	if status != http.StatusOK {
		return "", &RejectionError{Status: status, Message: rejectionMessage(body, "token exchange failed")}
	}

	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to parse oauth-check response: %w", err)
	}
	return resp.Token, nil
}

// Signup はアカウント登録をバックエンドに依頼する。
func (c *Client) Signup(ctx context.Context, req SignupRequest) error {
	status, body, err := c.postJSON(ctx, "signup", c.endpoints.Signup, req)
	if err != nil {
		return err
	}
	if status < 200 || status > 299 {
		return &RejectionError{Status: status, Message: rejectionMessage(body, "Signup failed")}
	}
	return nil
}

// Profile はサインイン中ユーザーのプロフィールを取得する。
func (c *Client) Profile(ctx context.Context, bearer string) (json.RawMessage, error) {
	return c.doAuthorized(ctx, "profile", http.MethodGet, c.endpoints.Profile, bearer, nil)
}

// Favorites はお気に入り一覧を取得する。
func (c *Client) Favorites(ctx context.Context, bearer string) (json.RawMessage, error) {
	return c.doAuthorized(ctx, "favorites", http.MethodGet, c.endpoints.Favorites, bearer, nil)
}

// RemoveFavorite は指定作品をお気に入りから削除する。
func (c *Client) RemoveFavorite(ctx context.Context, bearer string, movieID int) error {
	_, err := c.doAuthorized(ctx, "remove_favorite", http.MethodDelete, c.endpoints.RemoveFavorite(movieID), bearer, nil)
	return err
}

// WatchHistory は視聴履歴を取得する。
func (c *Client) WatchHistory(ctx context.Context, bearer string) (json.RawMessage, error) {
	return c.doAuthorized(ctx, "watch_history", http.MethodGet, c.endpoints.WatchHistory, bearer, nil)
}

// AddWatchHistory は視聴履歴に作品を追加する。
func (c *Client) AddWatchHistory(ctx context.Context, bearer string, movieID int) error {
	_, err := c.doAuthorized(ctx, "add_watch_history", http.MethodPost, c.endpoints.WatchHistory, bearer,
		map[string]int{"movieId": movieID})
	return err
}

// postJSON はJSONボディをPOSTし、ステータスコードとレスポンスボディを返す。
// トランスポートエラーはラップして返すため、呼び出し元はerrors.Asでnet.Errorを判定できる。
func (c *Client) postJSON(ctx context.Context, name, url string, payload any) (int, []byte, error) {
	return c.do(ctx, name, http.MethodPost, url, "", payload)
}

// doAuthorized はベアラートークン付きで保護APIを呼び出す。
// 401はErrUnauthorized、その他の2xx以外は*RejectionErrorを返す。
func (c *Client) doAuthorized(ctx context.Context, name, method, url, bearer string, payload any) (json.RawMessage, error) {
	if bearer == "" {
		return nil, ErrUnauthorized
	}

	status, body, err := c.do(ctx, name, method, url, bearer, payload)
	if err != nil {
		return nil, err
	}

	switch {
	case status == http.StatusUnauthorized:
		return nil, ErrUnauthorized
	case status < 200 || status > 299:
		return nil, &RejectionError{Status: status, Message: rejectionMessage(body, http.StatusText(status))}
	}

	if len(bytes.TrimSpace(body)) == 0 {
		return json.RawMessage("null"), nil
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("backend %s returned invalid JSON", name)
	}
	return json.RawMessage(body), nil
}

func (c *Client) do(ctx context.Context, name, method, url, bearer string, payload any) (int, []byte, error) {
	var reqBody io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to encode %s request: %w", name, err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create %s request: %w", name, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.recorder.RecordBackendRequest(name, 0, time.Since(start))
		c.logger.Error("backend request failed",
			slog.String("endpoint", name),
			slog.String("error", err.Error()),
		)
		return 0, nil, fmt.Errorf("%s request failed: %w", name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	c.recorder.RecordBackendRequest(name, resp.StatusCode, time.Since(start))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read %s response: %w", name, err)
	}

	if resp.StatusCode >= 400 {
		c.logger.Warn("backend returned error status",
			slog.String("endpoint", name),
			slog.Int("http_status", resp.StatusCode),
		)
	}

	return resp.StatusCode, body, nil
}

// rejectionMessage はエラーレスポンスのmessageまたはerrorフィールドを取り出す。
// どちらもない場合はfallbackを返す。
func rejectionMessage(body []byte, fallback string) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	return fallback
}
