package sessionstore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/hitoshi/moviestream/internal/model"
	"github.com/hitoshi/moviestream/internal/repository"
	"github.com/hitoshi/moviestream/internal/session"
)

// DatabaseStore はセッショントークンをPostgreSQLに保存し、ランダムなハンドルを返す。
type DatabaseStore struct {
	repo repository.SessionRepository
}

// NewDatabaseStore はDatabaseStoreを生成する。
func NewDatabaseStore(repo repository.SessionRepository) *DatabaseStore {
	return &DatabaseStore{repo: repo}
}

// Save はトークンを保存して256ビットのランダムなハンドルを返す。
func (s *DatabaseStore) Save(ctx context.Context, token *model.SessionToken) (string, error) {
	handle, err := generateHandle()
	if err != nil {
		return "", fmt.Errorf("failed to generate session handle: %w", err)
	}

	if err := s.repo.Create(ctx, handle, token); err != nil {
		return "", err
	}
	return handle, nil
}

// Load はハンドルに対応するトークンを返す。期限切れでも返す。
func (s *DatabaseStore) Load(ctx context.Context, handle string) (*model.SessionToken, error) {
	token, err := s.repo.FindByID(ctx, handle)
	if err != nil {
		return nil, err
	}
	if token == nil {
		return nil, session.ErrSessionNotFound
	}
	return token, nil
}

// Delete は行を削除する。
func (s *DatabaseStore) Delete(ctx context.Context, handle string) error {
	deleted, err := s.repo.DeleteByID(ctx, handle)
	if err != nil {
		return err
	}
	if !deleted {
		return session.ErrSessionNotFound
	}
	return nil
}

// generateHandle は暗号論的に安全なランダムハンドルを生成する。
func generateHandle() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// compile-time interface check
var _ session.Store = (*DatabaseStore)(nil)
