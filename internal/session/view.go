// Package session はサインイン状態のライフサイクルを管理する。
// 資格情報からSessionTokenを発行するAuthorityと、
// トークンの保存先スロットと認可ビューを公開するShellで構成される。
package session

import "github.com/hitoshi/moviestream/internal/model"

// ComputeAuthorizationView はセッションと現在時刻nowから認可ビューを計算する。
// 副作用のない純粋関数で、期限切れの判定は観測時にのみ行う（タイマーは持たない）。
// 判定は厳密な大なり比較で、now == ExpiresAt の時点はまだ有効。
func ComputeAuthorizationView(token *model.SessionToken, now int64) model.AuthorizationView {
	if token == nil {
		return model.AuthorizationView{State: model.AuthStateUnauthenticated}
	}

	if now > token.ExpiresAt {
		return model.AuthorizationView{State: model.AuthStateExpired}
	}

	if token.User == nil {
		return model.AuthorizationView{State: model.AuthStateUnauthenticated}
	}

	state := model.AuthStateAuthenticated
	if token.BearerToken == "" {
		state = model.AuthStateAuthenticatedNoAuthorization
	}

	user := *token.User
	return model.AuthorizationView{
		User:  &user,
		Token: token.BearerToken,
		State: state,
	}
}
