package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hitoshi/moviestream/internal/auth"
	"github.com/hitoshi/moviestream/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// ミドルウェア依存
	Observer          middleware.SessionObserver
	CORSAllowedOrigin string
	CSRFConfig        middleware.CSRFConfig
	RateLimiter       *middleware.RateLimiter
	StatusRecorder    middleware.StatusRecorder

	// 認証
	Shell      SessionShell
	OAuth      auth.OAuthProvider
	Registrar  Registrar
	Redirects  RedirectResolver
	AuthConfig AuthHandlerConfig

	// 保護API
	Account AccountAPI

	// 運用
	HealthChecker  HealthChecker
	MetricsHandler http.Handler
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → RequestID → RealIP → Logging → SecurityHeaders → CORS → CSRF → Session
//
// /health と /metrics はCSRFとセッションの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(chimw.RealIP)
	r.Use(middleware.NewLoggingMiddleware(deps.Logger, deps.StatusRecorder))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	r.Get("/health", NewHealthHandler(deps.HealthChecker, deps.Logger))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	authHandler := NewAuthHandler(deps.Shell, deps.OAuth, deps.Registrar, deps.Redirects, deps.AuthConfig, deps.Logger)
	accountHandler := NewAccountHandler(deps.Account, deps.Logger)

	r.Group(func(r chi.Router) {
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig, deps.Logger))
		r.Use(middleware.NewSessionMiddleware(deps.Observer, deps.Logger))

		r.Route("/auth", func(r chi.Router) {
			r.Get("/csrf", middleware.NewCSRFTokenHandler(deps.CSRFConfig, deps.Logger).ServeHTTP)
			r.Get("/session", authHandler.Session)
			r.Post("/signout", authHandler.SignOut)

			// サインインと登録は専用のレート制限を適用する
			r.Group(func(r chi.Router) {
				r.Use(deps.RateLimiter.SignInMiddleware())
				r.Post("/signin/credentials", authHandler.SignInWithCredentials)
				r.Post("/signup", authHandler.Signup)
				r.Get("/google/login", authHandler.GoogleLogin)
				r.Get("/google/callback", authHandler.GoogleCallback)
			})
		})

		r.Route("/api", func(r chi.Router) {
			r.Use(middleware.NewRequireAuthorization())
			r.Use(deps.RateLimiter.GeneralMiddleware())

			r.Get("/profile", accountHandler.Profile)
			r.Get("/favorites", accountHandler.Favorites)
			r.Delete("/favorites/{movieID}", accountHandler.RemoveFavorite)
			r.Get("/watch-history", accountHandler.WatchHistory)
			r.Post("/watch-history", accountHandler.AddWatchHistory)
		})
	})

	return r
}
