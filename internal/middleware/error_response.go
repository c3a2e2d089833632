package middleware

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hitoshi/moviestream/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
// すべてのAPIエンドポイントで一貫したエラーレスポンスを提供する。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteAuthError は認証エラーを種別に応じたステータスコードで書き込む。
// AuthError以外のエラーは500として扱う。
func WriteAuthError(w http.ResponseWriter, err error) {
	var ae *model.AuthError
	if !errors.As(err, &ae) {
		WriteInternalServerError(w)
		return
	}
	WriteErrorResponse(w, AuthErrorStatus(ae.Kind), model.NewAuthAPIError(ae))
}

// AuthErrorStatus は認証エラー種別に対応するHTTPステータスコードを返す。
func AuthErrorStatus(kind model.AuthErrorKind) int {
	switch kind {
	case model.AuthErrInvalidCredentials:
		return http.StatusUnauthorized
	case model.AuthErrIncompleteProfile:
		return http.StatusUnprocessableEntity
	case model.AuthErrInProgress:
		return http.StatusConflict
	case model.AuthErrTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}
