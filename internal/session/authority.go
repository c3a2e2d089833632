package session

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/moviestream/internal/backend"
	"github.com/hitoshi/moviestream/internal/model"
)

// DefaultAuthTimeout は認証ネットワーク呼び出し1回あたりのデフォルトタイムアウト。
const DefaultAuthTimeout = 10 * time.Second

// サインイン結果のメトリクスラベル
const (
	OutcomeSuccess      = "success"
	OutcomeDegraded     = "degraded"
	OutcomeRejected     = "rejected"
	OutcomeIncomplete   = "incomplete_profile"
	OutcomeTimeout      = "timeout"
	OutcomeNetworkError = "network_error"
)

// PasswordVerifier はパスワード検証エンドポイントのインターフェース。
// backend.Clientが実装する。
type PasswordVerifier interface {
	Login(ctx context.Context, email, password string) (*backend.LoginResult, error)
}

// TokenExchanger はフェデレーションプロフィールのトークン交換エンドポイントのインターフェース。
// backend.Clientが実装する。
type TokenExchanger interface {
	OAuthCheck(ctx context.Context, email string) (string, error)
}

// Recorder はサインイン結果の計測を受け取るインターフェース。
type Recorder interface {
	RecordSignIn(provider, outcome string)
	RecordExchangeFailure(reason string)
}

// ViewRecorder は観測した認可ビューの状態の計測を受け取るインターフェース。
type ViewRecorder interface {
	RecordAuthorizationView(state model.AuthState)
}

// NameSanitizer はIdPやバックエンドから受け取った表示名を平文に正規化する。
type NameSanitizer interface {
	SanitizeDisplayName(name string) string
}

type nopRecorder struct{}

func (nopRecorder) RecordSignIn(string, string)             {}
func (nopRecorder) RecordExchangeFailure(string)            {}
func (nopRecorder) RecordAuthorizationView(model.AuthState) {}

// Option はAuthorityとShellの任意設定。
type Option func(*options)

type options struct {
	timeout   time.Duration
	now       func() time.Time
	newID     func() string
	recorder  Recorder
	views     ViewRecorder
	sanitizer NameSanitizer
}

// WithTimeout は認証ネットワーク呼び出しのタイムアウトを設定する。
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithIDGenerator はトークンIDの生成関数を差し替える。
func WithIDGenerator(newID func() string) Option {
	return func(o *options) { o.newID = newID }
}

// WithRecorder はサインイン結果の計測先を設定する。
func WithRecorder(r Recorder) Option {
	return func(o *options) {
		if r != nil {
			o.recorder = r
		}
	}
}

// WithViewRecorder は観測した認可ビューの計測先を設定する。
func WithViewRecorder(r ViewRecorder) Option {
	return func(o *options) {
		if r != nil {
			o.views = r
		}
	}
}

// WithNameSanitizer は表示名の正規化を設定する。
func WithNameSanitizer(s NameSanitizer) Option {
	return func(o *options) { o.sanitizer = s }
}

func buildOptions(opts []Option) options {
	o := options{
		timeout:  DefaultAuthTimeout,
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
		recorder: nopRecorder{},
		views:    nopRecorder{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Authority は2種類の資格情報からSessionTokenを発行する。
// トークンの保存は行わない（Shellの責務）。
type Authority struct {
	verifier  PasswordVerifier
	exchanger TokenExchanger
	logger    *slog.Logger
	opts      options
}

// NewAuthority はAuthorityを生成する。
func NewAuthority(verifier PasswordVerifier, exchanger TokenExchanger, logger *slog.Logger, opts ...Option) *Authority {
	return &Authority{
		verifier:  verifier,
		exchanger: exchanger,
		logger:    logger,
		opts:      buildOptions(opts),
	}
}

// AuthenticateWithPassword はメールアドレスとパスワードをバックエンドで検証し、
// 成功時に24時間有効なSessionTokenを発行する。
// バックエンドの拒否はInvalidCredentialsとして拒否理由をそのまま返す。再試行はしない。
func (a *Authority) AuthenticateWithPassword(ctx context.Context, id model.PasswordIdentity) (*model.SessionToken, error) {
	if id.Email == "" || id.Password == "" {
		a.opts.recorder.RecordSignIn(model.ProviderCredentials, OutcomeRejected)
		return nil, model.NewAuthError(model.AuthErrInvalidCredentials, "メールアドレスとパスワードを入力してください。", nil)
	}

	ctx, cancel := context.WithTimeout(ctx, a.opts.timeout)
	defer cancel()

	result, err := a.verifier.Login(ctx, id.Email, id.Password)
	if err != nil {
		var rej *backend.RejectionError
		if errors.As(err, &rej) {
			a.logger.Info("credentials rejected by backend",
				slog.String("email", id.Email),
				slog.Int("http_status", rej.Status),
			)
			a.opts.recorder.RecordSignIn(model.ProviderCredentials, OutcomeRejected)
			return nil, model.NewAuthError(model.AuthErrInvalidCredentials, rej.Message, err)
		}

		authErr := classifyTransportError(err)
		a.logger.Error("password verification failed",
			slog.String("email", id.Email),
			slog.String("kind", string(authErr.Kind)),
			slog.String("error", err.Error()),
		)
		a.opts.recorder.RecordSignIn(model.ProviderCredentials, outcomeOf(authErr.Kind))
		return nil, authErr
	}

	if result == nil || result.User.Email == "" || result.Token == "" {
		a.logger.Error("password verification returned an incomplete response",
			slog.String("email", id.Email),
		)
		a.opts.recorder.RecordSignIn(model.ProviderCredentials, OutcomeNetworkError)
		return nil, model.NewAuthError(model.AuthErrNetwork, "authentication response was invalid", backend.ErrInvalidResponse)
	}

	user := &model.User{
		Name:  a.sanitizeName(result.User.Name),
		Email: result.User.Email,
	}
	token := model.NewSessionToken(a.opts.newID(), user, result.Token, model.ProviderCredentials, a.opts.now().Unix())

	a.opts.recorder.RecordSignIn(model.ProviderCredentials, OutcomeSuccess)
	a.logger.Info("user signed in",
		slog.String("provider", model.ProviderCredentials),
		slog.String("email", user.Email),
		slog.Int64("expires_at", token.ExpiresAt),
	)
	return token, nil
}

// AuthenticateWithFederatedProfile はIdPが検証済みのプロフィールからSessionTokenを発行する。
// emailとnameの両方が必須で、欠けている場合はIncompleteProfileを返しトークンは発行しない。
// トークン交換が失敗してもサインイン自体は成立し、ベアラートークンが空の
// 識別情報のみのセッションを返す（AuthStateAuthenticatedNoAuthorization）。
func (a *Authority) AuthenticateWithFederatedProfile(ctx context.Context, profile model.FederatedIdentity) (*model.SessionToken, error) {
	provider := profile.Provider
	if provider == "" {
		provider = model.ProviderGoogle
	}

	name := a.sanitizeName(profile.DisplayName)
	if profile.Email == "" || name == "" {
		a.logger.Error("profile information is missing name or email",
			slog.String("provider", provider),
			slog.Bool("has_email", profile.Email != ""),
			slog.Bool("has_name", name != ""),
		)
		a.opts.recorder.RecordSignIn(provider, OutcomeIncomplete)
		return nil, model.NewAuthError(model.AuthErrIncompleteProfile, "profile is missing name or email", nil)
	}

	ctx, cancel := context.WithTimeout(ctx, a.opts.timeout)
	defer cancel()

	outcome := OutcomeSuccess
	bearer, err := a.exchanger.OAuthCheck(ctx, profile.Email)
	if err != nil {
		reason := string(model.AuthErrExchangeFailed)
		var rej *backend.RejectionError
		if !errors.As(err, &rej) {
			reason = string(classifyTransportError(err).Kind)
		}
		a.logger.Warn("token exchange failed, continuing with identity-only session",
			slog.String("provider", provider),
			slog.String("email", profile.Email),
			slog.String("reason", reason),
			slog.String("error", err.Error()),
		)
		a.opts.recorder.RecordExchangeFailure(reason)
		bearer = ""
		outcome = OutcomeDegraded
	}

	user := &model.User{Name: name, Email: profile.Email}
	token := model.NewSessionToken(a.opts.newID(), user, bearer, provider, a.opts.now().Unix())

	a.opts.recorder.RecordSignIn(provider, outcome)
	a.logger.Info("user signed in",
		slog.String("provider", provider),
		slog.String("email", user.Email),
		slog.Bool("api_authorized", bearer != ""),
		slog.Int64("expires_at", token.ExpiresAt),
	)
	return token, nil
}

func (a *Authority) sanitizeName(name string) string {
	if a.opts.sanitizer == nil {
		return name
	}
	return a.opts.sanitizer.SanitizeDisplayName(name)
}

// classifyTransportError はトランスポート層のエラーをTimeoutかNetworkErrorに分類する。
func classifyTransportError(err error) *model.AuthError {
	if errors.Is(err, context.DeadlineExceeded) {
		return model.NewAuthError(model.AuthErrTimeout, "authentication request timed out", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return model.NewAuthError(model.AuthErrTimeout, "authentication request timed out", err)
	}
	return model.NewAuthError(model.AuthErrNetwork, "authentication request failed", err)
}

func outcomeOf(kind model.AuthErrorKind) string {
	switch kind {
	case model.AuthErrTimeout:
		return OutcomeTimeout
	case model.AuthErrInvalidCredentials:
		return OutcomeRejected
	default:
		return OutcomeNetworkError
	}
}
