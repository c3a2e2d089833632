// Package auth は外部IdPによるOAuth認証フローを提供する。
// IdPから受け取ったプロフィールはmodel.FederatedIdentityとして返し、
// セッションの発行はsession.Authorityが行う。
package auth

import (
	"context"

	"github.com/hitoshi/moviestream/internal/model"
)

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、プロフィールを取得する。
	// 欠けているプロフィール項目は空のまま返す。
	ExchangeCode(ctx context.Context, code string) (*model.FederatedIdentity, error)
}
