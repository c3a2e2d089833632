// Package database はPostgreSQL接続とsessionsスキーマのマイグレーションを提供する。
package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrDirtySchema は前回のマイグレーションが途中で失敗し、手動での修復が必要なことを示す。
var ErrDirtySchema = errors.New("sessions schema is dirty")

// MigrationResult はマイグレーション適用後のスキーマ状態。
type MigrationResult struct {
	From    uint // 適用前のバージョン（未適用なら0）
	Version uint // 適用後のバージョン
}

// Changed は今回の実行で新しいマイグレーションが適用されたかを返す。
func (r MigrationResult) Changed() bool {
	return r.From != r.Version
}

// Migrator は埋め込みSQLからsessionsスキーマを管理する。
type Migrator struct {
	m      *migrate.Migrate
	logger *slog.Logger
}

// NewMigrator はdatabaseURLに対するMigratorを生成する。
// golang-migrateの進捗ログはloggerのDebugレベルに流す。
func NewMigrator(databaseURL string, logger *slog.Logger) (*Migrator, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}
	m.Log = migrateLogger{logger: logger}

	return &Migrator{m: m, logger: logger}, nil
}

// Version は現在のスキーマバージョンを返す。未適用の場合は0。
func (g *Migrator) Version() (uint, bool, error) {
	v, dirty, err := g.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read schema version: %w", err)
	}
	return v, dirty, nil
}

// Up は未適用のマイグレーションをすべて適用する。
// dirtyなスキーマには適用せずErrDirtySchemaを返す。ctxがキャンセルされると
// 実行中のマイグレーションの完了後に停止する。
func (g *Migrator) Up(ctx context.Context) (MigrationResult, error) {
	from, dirty, err := g.Version()
	if err != nil {
		return MigrationResult{}, err
	}
	if dirty {
		return MigrationResult{From: from, Version: from}, fmt.Errorf("%w at version %d", ErrDirtySchema, from)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			g.m.GracefulStop <- true
		case <-done:
		}
	}()

	if err := g.m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return MigrationResult{From: from}, fmt.Errorf("failed to run migrations: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return MigrationResult{From: from}, fmt.Errorf("migration interrupted: %w", err)
	}

	version, _, err := g.Version()
	if err != nil {
		return MigrationResult{From: from}, err
	}
	result := MigrationResult{From: from, Version: version}
	g.logger.Info("sessions schema migrated",
		slog.Uint64("from_version", uint64(result.From)),
		slog.Uint64("version", uint64(result.Version)),
		slog.Bool("changed", result.Changed()),
	)
	return result, nil
}

// Down はすべてのマイグレーションを巻き戻す。テスト用。
func (g *Migrator) Down() error {
	if err := g.m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to roll back migrations: %w", err)
	}
	return nil
}

// Close はソースとDB接続を閉じる。
func (g *Migrator) Close() error {
	srcErr, dbErr := g.m.Close()
	return errors.Join(srcErr, dbErr)
}

// RunMigrations はMigratorを生成して未適用のマイグレーションを適用する。
// すでに最新の場合はChanged()がfalseの結果を返す。
func RunMigrations(ctx context.Context, databaseURL string, logger *slog.Logger) (MigrationResult, error) {
	g, err := NewMigrator(databaseURL, logger)
	if err != nil {
		return MigrationResult{}, err
	}
	defer g.Close()

	return g.Up(ctx)
}

// migrateLogger はgolang-migrateのログをslogに渡す。
type migrateLogger struct {
	logger *slog.Logger
}

func (l migrateLogger) Printf(format string, v ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)), slog.String("component", "migrate"))
}

func (l migrateLogger) Verbose() bool {
	return l.logger.Enabled(context.Background(), slog.LevelDebug)
}
