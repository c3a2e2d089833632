// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/hitoshi/moviestream/internal/auth"
	"github.com/hitoshi/moviestream/internal/backend"
	"github.com/hitoshi/moviestream/internal/middleware"
	"github.com/hitoshi/moviestream/internal/model"
	"github.com/hitoshi/moviestream/internal/session"
)

const (
	oauthStateCookie    = "oauth_state"
	oauthCallbackCookie = "oauth_callback"
	oauthCookieMaxAge   = 600 // 10分

	// signInPath はサインイン画面のパス。失敗時やサインアウト後の遷移先。
	signInPath = "/sign-in"

	// maxRequestBodySize は認証リクエストボディとして読み込む最大バイト数。
	maxRequestBodySize = 1 << 16
)

// SessionShell は認証ハンドラーが必要とするセッションシェルのインターフェース。
// session.Shellが実装する。
type SessionShell interface {
	SignInWithPassword(ctx context.Context, shellKey string, id model.PasswordIdentity) (*session.SignInResult, error)
	SignInWithFederatedProfile(ctx context.Context, shellKey string, profile model.FederatedIdentity) (*session.SignInResult, error)
	SignOut(ctx context.Context, handle string) (model.AuthorizationView, error)
}

// Registrar はアカウント登録のインターフェース。backend.Clientが実装する。
type Registrar interface {
	Signup(ctx context.Context, req backend.SignupRequest) error
}

// RedirectResolver はサインイン後の遷移先を同一オリジンに制限する。
// security.RedirectValidatorが実装する。
type RedirectResolver interface {
	Resolve(callbackURL string) string
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieDomain string
	CookieSecure bool
}

// AuthHandler はサインイン・サインアウト関連のHTTPハンドラー。
type AuthHandler struct {
	shell     SessionShell
	provider  auth.OAuthProvider
	registrar Registrar
	redirects RedirectResolver
	config    AuthHandlerConfig
	logger    *slog.Logger
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(shell SessionShell, provider auth.OAuthProvider, registrar Registrar, redirects RedirectResolver, config AuthHandlerConfig, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		shell:     shell,
		provider:  provider,
		registrar: registrar,
		redirects: redirects,
		config:    config,
		logger:    logger,
	}
}

type credentialsRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	CallbackURL string `json:"callbackUrl"`
}

type signInResponse struct {
	View model.AuthorizationView `json:"view"`
	URL  string                  `json:"url"`
}

type signupRequest struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignInWithCredentials はメールアドレスとパスワードでサインインする。
// POST /auth/signin/credentials
func (h *AuthHandler) SignInWithCredentials(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodySize)).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("JSONの形式が正しくありません"))
		return
	}

	result, err := h.shell.SignInWithPassword(r.Context(), middleware.ShellKey(r), model.PasswordIdentity{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		middleware.WriteAuthError(w, err)
		return
	}

	h.setSessionCookie(w, result.Handle)
	writeJSON(w, http.StatusOK, signInResponse{
		View: result.View,
		URL:  h.redirects.Resolve(req.CallbackURL),
	})
}

// GoogleLogin はGoogle OAuthフローを開始する。
// GET /auth/google/login?callbackUrl=/browse
func (h *AuthHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	state, err := generateState()
	if err != nil {
		h.logger.Error("failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	h.setOAuthCookie(w, oauthStateCookie, state, oauthCookieMaxAge)
	h.setOAuthCookie(w, oauthCallbackCookie, h.redirects.Resolve(r.URL.Query().Get("callbackUrl")), oauthCookieMaxAge)

	http.Redirect(w, r, h.provider.GetLoginURL(state), http.StatusTemporaryRedirect)
}

// GoogleCallback はOAuthコールバックを処理する。
// GET /auth/google/callback?code=xxx&state=yyy
// state不一致は400、それ以外の失敗はサインイン画面にエラーコード付きでリダイレクトする。
func (h *AuthHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	state := query.Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || subtle.ConstantTimeCompare([]byte(stateCookie.Value), []byte(state)) != 1 {
		h.logger.Warn("oauth state mismatch",
			slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
		)
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("stateパラメータが一致しません"))
		return
	}

	callbackURL := "/"
	if c, err := r.Cookie(oauthCallbackCookie); err == nil {
		callbackURL = h.redirects.Resolve(c.Value)
	}
	h.setOAuthCookie(w, oauthStateCookie, "", -1)
	h.setOAuthCookie(w, oauthCallbackCookie, "", -1)

	if idpErr := query.Get("error"); idpErr != "" {
		h.logger.Info("identity provider returned error", slog.String("error", idpErr))
		redirectToSignIn(w, r, "ACCESS_DENIED")
		return
	}

	code := query.Get("code")
	if code == "" {
		redirectToSignIn(w, r, model.ErrCodeInvalidRequest)
		return
	}

	identity, err := h.provider.ExchangeCode(r.Context(), code)
	if err != nil {
		h.logger.Error("oauth code exchange failed",
			slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
			slog.String("error", err.Error()),
		)
		redirectToSignIn(w, r, model.ErrCodeNetworkError)
		return
	}

	result, err := h.shell.SignInWithFederatedProfile(r.Context(), middleware.ShellKey(r), *identity)
	if err != nil {
		code := "INTERNAL_ERROR"
		var ae *model.AuthError
		if errors.As(err, &ae) {
			code = model.NewAuthAPIError(ae).Code
		}
		redirectToSignIn(w, r, code)
		return
	}

	h.setSessionCookie(w, result.Handle)
	http.Redirect(w, r, callbackURL, http.StatusFound)
}

// SignOut はセッションを破棄する。
// POST /auth/signout?callbackUrl=/sign-in
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	view, err := h.shell.SignOut(r.Context(), middleware.SessionHandle(r))
	if err != nil {
		// スロットの破棄に失敗してもCookieはクリアする
		h.logger.Error("failed to discard session",
			slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
			slog.String("error", err.Error()),
		)
	}

	h.clearSessionCookie(w)

	next := signInPath
	if cb := r.URL.Query().Get("callbackUrl"); cb != "" {
		next = h.redirects.Resolve(cb)
	}
	writeJSON(w, http.StatusOK, signInResponse{View: view, URL: next})
}

// Session は現在の認可ビューを返す。
// GET /auth/session
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, middleware.ViewFromContext(r.Context()))
}

// Signup はアカウント登録をバックエンドに依頼する。サインインは行わない。
// POST /auth/signup
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodySize)).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("JSONの形式が正しくありません"))
		return
	}
	if req.FullName == "" || req.Email == "" || req.Password == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("氏名、メールアドレス、パスワードは必須です"))
		return
	}

	err := h.registrar.Signup(r.Context(), backend.SignupRequest{
		FullName: req.FullName,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		var rej *backend.RejectionError
		if errors.As(err, &rej) {
			middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewSignupFailedError(rej.Message))
			return
		}
		h.logger.Error("signup request failed",
			slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
			slog.String("error", err.Error()),
		)
		middleware.WriteErrorResponse(w, http.StatusBadGateway, model.NewBackendUnavailableError())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"url": signInPath})
}

func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, handle string) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    handle,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   int(model.SessionValiditySeconds),
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) setOAuthCookie(w http.ResponseWriter, name, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/auth/google",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// redirectToSignIn はサインイン画面にエラーコード付きでリダイレクトする。
func redirectToSignIn(w http.ResponseWriter, r *http.Request, code string) {
	http.Redirect(w, r, signInPath+"?error="+url.QueryEscape(code), http.StatusFound)
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
