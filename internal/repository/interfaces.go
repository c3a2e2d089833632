// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/moviestream/internal/model"
)

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はハンドルをキーにセッショントークンを保存する。
	Create(ctx context.Context, handle string, token *model.SessionToken) error
	// FindByID は指定ハンドルのトークンを取得する。見つからない場合はnilを返す。
	// 期限切れのトークンも返す（期限判定は呼び出し側で行う）。
	FindByID(ctx context.Context, handle string) (*model.SessionToken, error)
	// DeleteByID は指定ハンドルのセッションを削除する。削除した場合trueを返す。
	DeleteByID(ctx context.Context, handle string) (bool, error)
	// DeleteExpiredBefore はexpires_atがcutoff（epoch秒）より前のセッションを削除し、削除件数を返す。
	DeleteExpiredBefore(ctx context.Context, cutoff int64) (int64, error)
}
