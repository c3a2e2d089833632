package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, backend, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidCredentials = "INVALID_CREDENTIALS"
	ErrCodeIncompleteProfile  = "INCOMPLETE_PROFILE"
	ErrCodeExchangeFailed     = "EXCHANGE_FAILED"
	ErrCodeAuthTimeout        = "AUTH_TIMEOUT"
	ErrCodeNetworkError       = "NETWORK_ERROR"
	ErrCodeAuthInProgress     = "AUTH_IN_PROGRESS"
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeInvalidRequest     = "INVALID_REQUEST"
	ErrCodeSignupFailed       = "SIGNUP_FAILED"
	ErrCodeBackendUnavailable = "BACKEND_UNAVAILABLE"
)

// AuthErrorKind は認証失敗の分類。
type AuthErrorKind string

const (
	AuthErrInvalidCredentials AuthErrorKind = "invalid_credentials"
	AuthErrIncompleteProfile  AuthErrorKind = "incomplete_profile"
	AuthErrExchangeFailed     AuthErrorKind = "exchange_failed"
	AuthErrTimeout            AuthErrorKind = "timeout"
	AuthErrNetwork            AuthErrorKind = "network_error"
	AuthErrInProgress         AuthErrorKind = "auth_in_progress"
)

// AuthError は認証操作ごとの失敗を表す。
// いずれもプロセスにとって致命的ではなく、認証操作の再実行で回復できる。
type AuthError struct {
	Kind    AuthErrorKind
	Message string // ユーザー向けメッセージ。バックエンドの拒否理由はそのまま入る
	Err     error
}

// Error はerrorインターフェースを実装する。
func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap は原因エラーを返す。
func (e *AuthError) Unwrap() error {
	return e.Err
}

// Is は同じKindのAuthErrorと一致する。
func (e *AuthError) Is(target error) bool {
	t, ok := target.(*AuthError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Kind比較用のセンチネル。errors.Is(err, model.ErrInvalidCredentials) のように使う。
var (
	ErrInvalidCredentials = &AuthError{Kind: AuthErrInvalidCredentials}
	ErrIncompleteProfile  = &AuthError{Kind: AuthErrIncompleteProfile}
	ErrExchangeFailed     = &AuthError{Kind: AuthErrExchangeFailed}
	ErrAuthTimeout        = &AuthError{Kind: AuthErrTimeout}
	ErrNetwork            = &AuthError{Kind: AuthErrNetwork}
	ErrAuthInProgress     = &AuthError{Kind: AuthErrInProgress}
)

// NewAuthError はAuthErrorを生成する。
func NewAuthError(kind AuthErrorKind, message string, err error) *AuthError {
	return &AuthError{Kind: kind, Message: message, Err: err}
}

// AuthErrorKindOf はerrに含まれるAuthErrorのKindを返す。
// AuthErrorでなければ空文字を返す。
func AuthErrorKindOf(err error) AuthErrorKind {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

// NewAuthAPIError はAuthErrorをUI向けの統一エラーに変換する。
func NewAuthAPIError(ae *AuthError) *APIError {
	switch ae.Kind {
	case AuthErrInvalidCredentials:
		msg := ae.Message
		if msg == "" {
			msg = "メールアドレスまたはパスワードが正しくありません。"
		}
		return &APIError{
			Code:     ErrCodeInvalidCredentials,
			Message:  msg,
			Category: "auth",
			Action:   "入力内容を確認して再度サインインしてください。",
		}
	case AuthErrIncompleteProfile:
		return &APIError{
			Code:     ErrCodeIncompleteProfile,
			Message:  "IdPのプロフィールに名前またはメールアドレスが含まれていません。",
			Category: "auth",
			Action:   "IdP側でプロフィールの公開設定を確認してください。",
		}
	case AuthErrExchangeFailed:
		return &APIError{
			Code:     ErrCodeExchangeFailed,
			Message:  "APIトークンの取得に失敗しました。",
			Category: "auth",
			Action:   "一度サインアウトしてから再度サインインしてください。",
		}
	case AuthErrTimeout:
		return &APIError{
			Code:     ErrCodeAuthTimeout,
			Message:  "認証サーバーの応答がタイムアウトしました。",
			Category: "backend",
			Action:   "しばらく待ってから再度お試しください。",
		}
	case AuthErrInProgress:
		return &APIError{
			Code:     ErrCodeAuthInProgress,
			Message:  "サインイン処理が進行中です。",
			Category: "auth",
			Action:   "処理の完了をお待ちください。",
		}
	default:
		return &APIError{
			Code:     ErrCodeNetworkError,
			Message:  "認証サーバーに接続できませんでした。",
			Category: "backend",
			Action:   "ネットワーク接続を確認し、再度お試しください。",
		}
	}
}

// NewUnauthorizedError は保護されたAPIへの未認可アクセスのエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "この操作にはサインインが必要です。",
		Category: "auth",
		Action:   "サインインし直してください。",
	}
}

// NewInvalidRequestError はリクエスト形式が不正な場合のエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewSignupFailedError はアカウント登録がバックエンドに拒否された場合のエラーを生成する。
func NewSignupFailedError(message string) *APIError {
	if message == "" {
		message = "アカウント登録に失敗しました。"
	}
	return &APIError{
		Code:     ErrCodeSignupFailed,
		Message:  message,
		Category: "validation",
		Action:   "入力内容を確認して再度お試しください。",
	}
}

// NewBackendUnavailableError はバックエンドAPIが利用できない場合のエラーを生成する。
func NewBackendUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeBackendUnavailable,
		Message:  "バックエンドAPIに接続できませんでした。",
		Category: "backend",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
