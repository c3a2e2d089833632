package model

// SessionValiditySeconds はセッショントークンの有効期間（24時間）。
// 発行時に一度だけ適用し、アクティビティによる延長は行わない。
const SessionValiditySeconds int64 = 86400

// SessionToken は認証成功イベントの記録。
// 発行後は不変で、新しい認証イベントによる置き換えかサインアウトによる破棄のみが起こる。
type SessionToken struct {
	ID          string
	User        *User
	BearerToken string // バックエンド発行のトークン。交換完了まで空
	Provider    string
	IssuedAt    int64 // epoch秒
	ExpiresAt   int64 // epoch秒。IssuedAt + SessionValiditySeconds
}

// NewSessionToken は発行時刻nowから有効期間を計算したSessionTokenを生成する。
func NewSessionToken(id string, user *User, bearerToken, provider string, now int64) *SessionToken {
	return &SessionToken{
		ID:          id,
		User:        user,
		BearerToken: bearerToken,
		Provider:    provider,
		IssuedAt:    now,
		ExpiresAt:   now + SessionValiditySeconds,
	}
}

// AuthState はAuthorizationViewの導出状態を表す。
type AuthState string

const (
	// AuthStateUnauthenticated はセッションが存在しない状態。
	AuthStateUnauthenticated AuthState = "unauthenticated"
	// AuthStateAuthenticated は識別情報とAPI認可の両方を持つ状態。
	AuthStateAuthenticated AuthState = "authenticated"
	// AuthStateAuthenticatedNoAuthorization は識別情報のみでベアラートークンを持たない状態。
	// トークン交換に失敗したフェデレーションログインで発生する。
	AuthStateAuthenticatedNoAuthorization AuthState = "authenticated_no_authorization"
	// AuthStateExpired は有効期限を過ぎたセッションを観測した状態。
	AuthStateExpired AuthState = "expired"
	// AuthStateSignedOut は明示的なサインアウト直後の状態。
	AuthStateSignedOut AuthState = "signed_out"
)

// AuthorizationView は観測のたびに再計算される認可状態の読み取り専用ビュー。
// 保存はしない。
type AuthorizationView struct {
	User  *User     `json:"user"`
	Token string    `json:"token"`
	State AuthState `json:"state"`
}

// HasIdentity はサインイン中のユーザーが存在するかを返す。
func (v AuthorizationView) HasIdentity() bool {
	return v.User != nil
}

// CanCallAPI は保護されたAPIを呼び出せるベアラートークンを持つかを返す。
func (v AuthorizationView) CanCallAPI() bool {
	return v.User != nil && v.Token != ""
}
