package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hitoshi/moviestream/internal/model"
	"golang.org/x/sync/singleflight"
)

// ErrSessionNotFound はハンドルに対応するセッションが存在しないことを示す。
// 署名の不正なトークンや削除済みの行もこれとして扱う。
var ErrSessionNotFound = errors.New("session not found")

// Store はセッションスロットの永続化インターフェース。
// 戻り値のハンドルはCookieに格納され、以降の観測とサインアウトに使う。
type Store interface {
	// Save はトークンを保存してハンドルを返す。
	Save(ctx context.Context, token *model.SessionToken) (string, error)
	// Load はハンドルに対応するトークンを返す。存在しない場合はErrSessionNotFoundを返す。
	// 有効期限による除外は行わない。期限判定はComputeAuthorizationViewの責務。
	Load(ctx context.Context, handle string) (*model.SessionToken, error)
	// Delete はハンドルに対応するトークンを破棄する。
	Delete(ctx context.Context, handle string) error
}

// Authenticator はShellが利用する認証操作。Authorityが実装する。
type Authenticator interface {
	AuthenticateWithPassword(ctx context.Context, id model.PasswordIdentity) (*model.SessionToken, error)
	AuthenticateWithFederatedProfile(ctx context.Context, profile model.FederatedIdentity) (*model.SessionToken, error)
}

// SignInResult はサインイン成功時の結果。
type SignInResult struct {
	Handle string
	Token  *model.SessionToken
	View   model.AuthorizationView
}

// Shell はブラウザごとのセッションスロットを管理する。
// アプリケーション起動時に1つだけ生成し、ハンドラーとミドルウェアに明示的に渡す。
// 読み取りは認可ビューの観測、書き込みはサインインとサインアウトのみで、後勝ち。
type Shell struct {
	authenticator Authenticator
	store         Store
	logger        *slog.Logger
	opts          options
	flight        singleflight.Group

	mu       sync.Mutex
	inflight map[string]string // shellKey -> 認証中の資格情報の識別子
}

// NewShell はShellを生成する。
func NewShell(authenticator Authenticator, store Store, logger *slog.Logger, opts ...Option) *Shell {
	return &Shell{
		authenticator: authenticator,
		store:         store,
		logger:        logger,
		opts:          buildOptions(opts),
		inflight:      make(map[string]string),
	}
}

// SignInWithPassword はパスワード認証でスロットを新しいトークンに置き換える。
// 同じshellKeyで同じ資格情報の認証が進行中ならその結果を共有し、
// 別の資格情報の認証が進行中ならAuthErrInProgressを返す。
func (s *Shell) SignInWithPassword(ctx context.Context, shellKey string, id model.PasswordIdentity) (*SignInResult, error) {
	identity := credentialKey(model.ProviderCredentials, id.Email, id.Password)
	return s.signIn(ctx, shellKey, identity, model.ProviderCredentials, func(ctx context.Context) (*model.SessionToken, error) {
		return s.authenticator.AuthenticateWithPassword(ctx, id)
	})
}

// SignInWithFederatedProfile はフェデレーションプロフィールでスロットを新しいトークンに置き換える。
// プロフィールが不完全な場合はスロットに触れずにエラーを返す。
func (s *Shell) SignInWithFederatedProfile(ctx context.Context, shellKey string, profile model.FederatedIdentity) (*SignInResult, error) {
	provider := profile.Provider
	if provider == "" {
		provider = model.ProviderGoogle
	}
	identity := credentialKey(provider, profile.Email, profile.DisplayName)
	return s.signIn(ctx, shellKey, identity, provider, func(ctx context.Context) (*model.SessionToken, error) {
		return s.authenticator.AuthenticateWithFederatedProfile(ctx, profile)
	})
}

// Observe はハンドルのスロットを読み込み、現在時刻での認可ビューを返す。
// スロットが空、または署名不正の場合は未認証のビューを返す。
func (s *Shell) Observe(ctx context.Context, handle string) (model.AuthorizationView, error) {
	if handle == "" {
		return s.record(ComputeAuthorizationView(nil, s.opts.now().Unix())), nil
	}

	token, err := s.store.Load(ctx, handle)
	if errors.Is(err, ErrSessionNotFound) {
		return s.record(ComputeAuthorizationView(nil, s.opts.now().Unix())), nil
	}
	if err != nil {
		return model.AuthorizationView{State: model.AuthStateUnauthenticated}, fmt.Errorf("failed to load session: %w", err)
	}

	return s.record(ComputeAuthorizationView(token, s.opts.now().Unix())), nil
}

// SignOut はスロットを即座に破棄する。有効期限の残りには関係しない。
func (s *Shell) SignOut(ctx context.Context, handle string) (model.AuthorizationView, error) {
	signedOut := model.AuthorizationView{State: model.AuthStateSignedOut}
	if handle == "" {
		return signedOut, nil
	}

	from := StateUnauthenticated
	if token, err := s.store.Load(ctx, handle); err == nil {
		from = StateOfView(ComputeAuthorizationView(token, s.opts.now().Unix()))
	}

	if err := s.store.Delete(ctx, handle); err != nil && !errors.Is(err, ErrSessionNotFound) {
		return signedOut, fmt.Errorf("failed to delete session: %w", err)
	}

	next, err := Transition(from, EventSignOut)
	if err != nil {
		return signedOut, err
	}
	s.logger.Info("session signed out",
		slog.String("from", string(from)),
		slog.String("to", string(next)),
	)
	return signedOut, nil
}

// signIn はshellKey単位でシングルフライトにした認証を実行する。
// 同じ資格情報の同時呼び出しは1つ目の結果を受け取り、トークンの書き込みは1回だけ行われる。
// 別の資格情報による同時呼び出しは認証せずにAuthErrInProgressを返す。
func (s *Shell) signIn(ctx context.Context, shellKey, identity, provider string, authenticate func(context.Context) (*model.SessionToken, error)) (*SignInResult, error) {
	if shellKey == "" {
		return s.complete(ctx, provider, authenticate)
	}

	v, err, shared := s.flight.Do(shellKey+"\x00"+identity, func() (interface{}, error) {
		if !s.begin(shellKey, identity) {
			s.logger.Info("rejected concurrent authentication", slog.String("provider", provider))
			return nil, model.NewAuthError(model.AuthErrInProgress, "another sign-in is in progress", nil)
		}
		defer s.end(shellKey)
		return s.complete(ctx, provider, authenticate)
	})
	if shared {
		s.logger.Info("joined in-flight authentication", slog.String("provider", provider))
	}
	if err != nil {
		return nil, err
	}
	return v.(*SignInResult), nil
}

// begin はshellKeyの認証中スロットを確保する。別の資格情報が認証中ならfalseを返す。
func (s *Shell) begin(shellKey, identity string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.inflight[shellKey]; ok && cur != identity {
		return false
	}
	s.inflight[shellKey] = identity
	return true
}

func (s *Shell) end(shellKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, shellKey)
}

// credentialKey は資格情報の識別子を返す。秘密情報はハッシュ化して保持する。
func credentialKey(provider, email, secret string) string {
	sum := sha256.Sum256([]byte(provider + "\x00" + email + "\x00" + secret))
	return hex.EncodeToString(sum[:])
}

func (s *Shell) complete(ctx context.Context, provider string, authenticate func(context.Context) (*model.SessionToken, error)) (*SignInResult, error) {
	token, err := authenticate(ctx)
	if err != nil {
		next, terr := Transition(StateAuthenticating, EventAuthFailed)
		if terr != nil {
			return nil, terr
		}
		s.logger.Info("session state changed",
			slog.String("provider", provider),
			slog.String("from", string(StateAuthenticating)),
			slog.String("to", string(next)),
			slog.String("reason", string(model.AuthErrorKindOf(err))),
		)
		return nil, err
	}

	next, err := Transition(StateAuthenticating, EventAuthSucceeded)
	if err != nil {
		return nil, err
	}

	handle, err := s.store.Save(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	view := ComputeAuthorizationView(token, s.opts.now().Unix())
	s.logger.Info("session state changed",
		slog.String("provider", provider),
		slog.String("from", string(StateAuthenticating)),
		slog.String("to", string(next)),
		slog.String("view_state", string(view.State)),
	)

	return &SignInResult{Handle: handle, Token: token, View: view}, nil
}

func (s *Shell) record(view model.AuthorizationView) model.AuthorizationView {
	s.opts.views.RecordAuthorizationView(view.State)
	return view
}
