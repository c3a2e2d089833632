// Package sessionstore はsession.Storeの2つの実装を提供する。
// JWTStoreはトークン自体をCookieに持たせ、DatabaseStoreはPostgreSQLの行を参照するハンドルを持たせる。
package sessionstore

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/hitoshi/moviestream/internal/model"
	"github.com/hitoshi/moviestream/internal/session"
	"golang.org/x/crypto/hkdf"
)

const (
	issuer = "moviestream"
	// signingKeyInfo はHKDFのinfo。用途ごとに異なる鍵を導出するためのラベル。
	signingKeyInfo = "moviestream session signing key v1"
	signingKeySize = 32
)

// ErrEmptySecret はSESSION_SECRETが空の場合に返される。
var ErrEmptySecret = errors.New("session secret must not be empty")

// sessionClaims はセッションJWTのクレーム。
type sessionClaims struct {
	jwt.RegisteredClaims
	Name     string `json:"name"`
	Email    string `json:"email"`
	Bearer   string `json:"bearer,omitempty"`
	Provider string `json:"provider"`
}

// JWTStore はセッショントークンをHS256署名付きJWTとしてハンドルに埋め込む。
// サインアウトしたトークンはjtiを失効リストに登録し、以降のLoadで拒否する。
// 失効リストはプロセス内に保持し、expを過ぎたエントリは破棄する
// （期限切れのトークンは観測時にexpiredとなるため失効を覚えておく必要がない）。
type JWTStore struct {
	key []byte
	now func() time.Time

	mu      sync.Mutex
	revoked map[string]int64 // jti -> exp
}

// NewJWTStore はsecretからHKDF-SHA256で署名鍵を導出してJWTStoreを生成する。
func NewJWTStore(secret string) (*JWTStore, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}

	key := make([]byte, signingKeySize)
	kdf := hkdf.New(sha256.New, []byte(secret), nil, []byte(signingKeyInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("failed to derive signing key: %w", err)
	}

	return &JWTStore{key: key, now: time.Now, revoked: make(map[string]int64)}, nil
}

// Save はトークンを署名してJWT文字列を返す。
func (s *JWTStore) Save(_ context.Context, token *model.SessionToken) (string, error) {
	if token == nil || token.User == nil || token.User.Email == "" {
		return "", errors.New("session token without user email cannot be stored")
	}

	jti := token.ID
	if jti == "" {
		jti = uuid.New().String()
	}

	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   token.User.Email,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(time.Unix(token.IssuedAt, 0)),
			ExpiresAt: jwt.NewNumericDate(time.Unix(token.ExpiresAt, 0)),
		},
		Name:     token.User.Name,
		Email:    token.User.Email,
		Bearer:   token.BearerToken,
		Provider: token.Provider,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

// Load は署名を検証してトークンを復元する。
// expの検証はパーサーでは行わず、期限切れのトークンもそのまま返す。
// 署名不正、形式不正、失効済みはsession.ErrSessionNotFoundとして扱う。
func (s *JWTStore) Load(_ context.Context, handle string) (*model.SessionToken, error) {
	claims, err := s.parse(handle)
	if err != nil {
		return nil, err
	}
	if s.isRevoked(claims.ID) {
		return nil, session.ErrSessionNotFound
	}

	return &model.SessionToken{
		ID:          claims.ID,
		User:        &model.User{Name: claims.Name, Email: claims.Email},
		BearerToken: claims.Bearer,
		Provider:    claims.Provider,
		IssuedAt:    claims.IssuedAt.Unix(),
		ExpiresAt:   claims.ExpiresAt.Unix(),
	}, nil
}

// Delete はトークンのjtiを失効リストに登録する。
// 署名不正のハンドルはsession.ErrSessionNotFoundを返す。
func (s *JWTStore) Delete(_ context.Context, handle string) error {
	claims, err := s.parse(handle)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked()
	s.revoked[claims.ID] = claims.ExpiresAt.Unix()
	return nil
}

// RevokedCount は失効リストの件数を返す。
func (s *JWTStore) RevokedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.revoked)
}

func (s *JWTStore) parse(handle string) (*sessionClaims, error) {
	claims := &sessionClaims{}
	parsed, err := jwt.ParseWithClaims(handle, claims, func(t *jwt.Token) (interface{}, error) {
		return s.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil || !parsed.Valid {
		return nil, session.ErrSessionNotFound
	}

	if claims.Issuer != issuer || claims.ID == "" || claims.IssuedAt == nil || claims.ExpiresAt == nil || claims.Email == "" {
		return nil, session.ErrSessionNotFound
	}
	return claims, nil
}

func (s *JWTStore) isRevoked(jti string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.revoked[jti]
	return ok
}

// pruneLocked はexpを過ぎた失効エントリを削除する。s.muを保持して呼ぶこと。
func (s *JWTStore) pruneLocked() {
	now := s.now().Unix()
	for jti, exp := range s.revoked {
		if now > exp {
			delete(s.revoked, jti)
		}
	}
}

// compile-time interface check
var _ session.Store = (*JWTStore)(nil)
