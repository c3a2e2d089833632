package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hitoshi/moviestream/internal/auth"
	"github.com/hitoshi/moviestream/internal/backend"
	"github.com/hitoshi/moviestream/internal/config"
	"github.com/hitoshi/moviestream/internal/database"
	"github.com/hitoshi/moviestream/internal/handler"
	"github.com/hitoshi/moviestream/internal/logger"
	"github.com/hitoshi/moviestream/internal/metrics"
	"github.com/hitoshi/moviestream/internal/middleware"
	"github.com/hitoshi/moviestream/internal/repository"
	"github.com/hitoshi/moviestream/internal/security"
	"github.com/hitoshi/moviestream/internal/session"
	"github.com/hitoshi/moviestream/internal/sessionstore"
	"github.com/hitoshi/moviestream/internal/worker/cleanup"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"
)

const (
	dbPingTimeout   = 5 * time.Second
	shutdownTimeout = 30 * time.Second
)

// Init はアプリケーションの初期化を行う。
// .envと環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. .envの読み込み（環境変数が優先）
	dotEnvErr := config.LoadDotEnv(".env")

	// 2. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, logger.ParseLevel(os.Getenv("LOG_LEVEL")))
	if dotEnvErr != nil {
		return nil, dotEnvErr
	}

	// 3. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
		slog.String("session_strategy", cfg.SessionStrategy),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg, slog.Default())
	case CommandPrune:
		return runPrune(context.Background(), cfg, slog.Default())
	default:
		return runServe(cfg)
	}
}

// Server はワイヤリング済みのHTTPハンドラーと後始末の関数を保持する。
type Server struct {
	Handler http.Handler
	close   []func()
}

// Close はバックグラウンド処理を停止する。
func (s *Server) Close() {
	for i := len(s.close) - 1; i >= 0; i-- {
		s.close[i]()
	}
}

// NewServer は設定から全依存関係をワイヤリングしたServerを生成する。
// dbはSESSION_STRATEGY=databaseの場合のみ必須で、JWT方式ではnilでよい。
func NewServer(cfg *config.Config, db *sql.DB, log *slog.Logger) (*Server, error) {
	// 1. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	// 2. 外向き通信（SSRF対策済みクライアント）
	guard := security.NewSSRFGuard(cfg.OutboundAllowPrivate)
	if err := guard.ValidateURL(cfg.BackendAPIURL); err != nil {
		return nil, fmt.Errorf("invalid BACKEND_API_URL: %w", err)
	}
	httpClient := guard.NewSafeClient(cfg.OutboundTimeout)

	// 3. バックエンドクライアントとセッション権限
	backendClient := backend.NewClient(httpClient, log, backend.NewEndpoints(cfg.BackendAPIURL), collector)
	authority := session.NewAuthority(backendClient, backendClient, log,
		session.WithTimeout(cfg.AuthTimeout),
		session.WithRecorder(collector),
		session.WithNameSanitizer(security.NewDisplayNameSanitizer()),
	)

	// 4. セッションストア
	store, err := newStore(cfg, db)
	if err != nil {
		return nil, err
	}
	shell := session.NewShell(authority, store, log, session.WithViewRecorder(collector))

	// 5. IdP
	google := auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
		HTTPClient:   httpClient,
	})

	// 6. ルーター
	rateLimiter := middleware.NewRateLimiter(rateLimiterConfig(cfg), log)
	cookieDomain := cfg.CookieDomain
	deps := &handler.RouterDeps{
		Logger:            log,
		Observer:          shell,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CSRFConfig:        middleware.CSRFConfig{CookieSecure: cfg.CookieSecure, CookieDomain: cookieDomain},
		RateLimiter:       rateLimiter,
		StatusRecorder:    collector,
		Shell:             shell,
		OAuth:             google,
		Registrar:         backendClient,
		Redirects:         security.NewRedirectValidator(cfg.BaseURL),
		AuthConfig:        handler.AuthHandlerConfig{CookieSecure: cfg.CookieSecure, CookieDomain: cookieDomain},
		Account:           backendClient,
		MetricsHandler:    metrics.Handler(reg),
	}
	if db != nil {
		deps.HealthChecker = db
	}

	return &Server{
		Handler: handler.NewRouter(deps),
		close:   []func(){rateLimiter.Stop},
	}, nil
}

// newStore はSESSION_STRATEGYに応じたセッションストアを生成する。
func newStore(cfg *config.Config, db *sql.DB) (session.Store, error) {
	switch cfg.SessionStrategy {
	case config.SessionStrategyDatabase:
		if db == nil {
			return nil, errors.New("database session strategy requires a database connection")
		}
		return sessionstore.NewDatabaseStore(repository.NewPostgresSessionRepo(db)), nil
	default:
		store, err := sessionstore.NewJWTStore(cfg.SessionSecret)
		if err != nil {
			return nil, fmt.Errorf("failed to create JWT session store: %w", err)
		}
		return store, nil
	}
}

// rateLimiterConfig はreq/min単位の設定値をreq/secのレート制限設定に変換する。
func rateLimiterConfig(cfg *config.Config) middleware.RateLimiterConfig {
	rl := middleware.DefaultRateLimiterConfig()
	rl.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
	rl.GeneralBurst = cfg.RateLimitGeneral
	rl.SignInRate = rate.Limit(float64(cfg.RateLimitSignIn) / 60.0)
	rl.SignInBurst = cfg.RateLimitSignIn
	return rl
}

// openDatabase はDB接続を開き疎通を確認する。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	if err := cfg.RequireDatabase(); err != nil {
		return nil, err
	}
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.Ping(context.Background(), db, dbPingTimeout); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established")
	return db, nil
}

// runServe はAPIサーバーモードで起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	var db *sql.DB
	if cfg.SessionStrategy == config.SessionStrategyDatabase {
		var err error
		db, err = openDatabase(cfg)
		if err != nil {
			return err
		}
		defer db.Close()
	}

	srv, err := NewServer(cfg, db, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to build server: %w", err)
	}
	defer srv.Close()

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      srv.Handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用し、SIGINT/SIGTERMで中断する。
func runMigrate(cfg *config.Config, log *slog.Logger) error {
	if err := cfg.RequireDatabase(); err != nil {
		return err
	}

	log.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := database.RunMigrations(ctx, cfg.DatabaseURL, log)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	log.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(result.Version)),
		slog.Bool("changed", result.Changed()),
	)
	return nil
}

// runPrune は猶予期間を過ぎた期限切れセッション行を削除する。
// SESSION_PRUNE_INTERVALが設定されている場合はシグナルを受信するまで定期実行する。
func runPrune(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	job := cleanup.NewPruneJob(repository.NewPostgresSessionRepo(db), log)
	job.PruneAfter = cfg.SessionPruneAfter

	if cfg.SessionPruneInterval <= 0 {
		if _, err := job.Run(ctx); err != nil {
			return err
		}
		return nil
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	cleanup.NewScheduler(job, log).Start(ctx, cfg.SessionPruneInterval)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	u.RawQuery = ""
	return u.Redacted()
}
