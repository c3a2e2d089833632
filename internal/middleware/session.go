// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/moviestream/internal/model"
)

// SessionCookieName はセッションハンドルを保持するCookieの名前。
const SessionCookieName = "ms_session"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// viewContextKey はリクエストコンテキストに認可ビューを格納するためのキー。
var viewContextKey = contextKey("authorization_view")

// SessionObserver はセッションスロットから認可ビューを計算するインターフェース。
// session.Shellが実装する。
type SessionObserver interface {
	Observe(ctx context.Context, handle string) (model.AuthorizationView, error)
}

// NewSessionMiddleware はCookieのハンドルから現在の認可ビューを計算し、
// リクエストコンテキストに注入するミドルウェアを返す。
// 未認証や期限切れでもリクエストは拒否しない。拒否はRequireAuthorizationの責務。
func NewSessionMiddleware(observer SessionObserver, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			view, err := observer.Observe(r.Context(), SessionHandle(r))
			if err != nil {
				logger.Error("failed to observe session",
					slog.String("request_id", RequestIDFromContext(r.Context())),
					slog.String("error", err.Error()),
				)
				view = model.AuthorizationView{State: model.AuthStateUnauthenticated}
			}

			next.ServeHTTP(w, r.WithContext(ContextWithView(r.Context(), view)))
		})
	}
}

// NewRequireAuthorization はベアラートークンを持たないリクエストに401を返すミドルウェアを生成する。
// 識別情報のみのセッション（トークン交換失敗）も拒否する。
func NewRequireAuthorization() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !ViewFromContext(r.Context()).CanCallAPI() {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SessionHandle はリクエストのCookieからセッションハンドルを取得する。なければ空文字列。
func SessionHandle(r *http.Request) string {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// ViewFromContext はリクエストコンテキストから認可ビューを取得する。
// セッションミドルウェアを通過していない場合は未認証のビューを返す。
func ViewFromContext(ctx context.Context) model.AuthorizationView {
	view, ok := ctx.Value(viewContextKey).(model.AuthorizationView)
	if !ok {
		return model.AuthorizationView{State: model.AuthStateUnauthenticated}
	}
	return view
}

// ContextWithView はコンテキストに認可ビューを注入する。
// 外側のロギングミドルウェアが用意したviewHolderがあれば状態を書き戻す。
func ContextWithView(ctx context.Context, view model.AuthorizationView) context.Context {
	if h, ok := ctx.Value(viewHolderContextKey).(*viewHolder); ok {
		h.set = true
		h.state = view.State
	}
	return context.WithValue(ctx, viewContextKey, view)
}

// viewHolder はロギングミドルウェアが内側で計算された認可状態を受け取るための入れ物。
type viewHolder struct {
	set   bool
	state model.AuthState
}

var viewHolderContextKey = contextKey("view_holder")

func contextWithViewHolder(ctx context.Context, h *viewHolder) context.Context {
	return context.WithValue(ctx, viewHolderContextKey, h)
}
