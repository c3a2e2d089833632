// Package cleanup は期限切れセッション行の削除ジョブを提供する。
// セッションの有効期限判定は観測時に行うため、このジョブは保存領域の回収のみを担う。
// 期限切れ直後の行は残し、猶予期間（PruneAfter）を過ぎた行だけを削除する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// ExpiredSessionDeleter は期限切れセッションを削除するインターフェース。
// repository.SessionRepositoryが実装する。
type ExpiredSessionDeleter interface {
	DeleteExpiredBefore(ctx context.Context, cutoff int64) (int64, error)
}

// PruneJob は猶予期間を超えて期限切れのセッション行を削除するジョブ。
// pruneサブコマンドから実行する。冪等。
type PruneJob struct {
	repo       ExpiredSessionDeleter
	logger     *slog.Logger
	PruneAfter time.Duration // 期限切れから削除までの猶予（デフォルト: 24時間）
	now        func() time.Time
}

// NewPruneJob は新しいPruneJobを生成する。削除件数はログに記録する。
func NewPruneJob(repo ExpiredSessionDeleter, logger *slog.Logger) *PruneJob {
	return &PruneJob{
		repo:       repo,
		logger:     logger,
		PruneAfter: 24 * time.Hour,
		now:        time.Now,
	}
}

// Cutoff は削除境界のepoch秒を返す。expires_atがこれより小さい行が削除対象。
func (j *PruneJob) Cutoff() int64 {
	return j.now().Add(-j.PruneAfter).Unix()
}

// Run は猶予期間を超えた期限切れセッションを削除し、削除件数を返す。
func (j *PruneJob) Run(ctx context.Context) (int64, error) {
	start := time.Now()
	cutoff := j.Cutoff()

	deleted, err := j.repo.DeleteExpiredBefore(ctx, cutoff)
	if err != nil {
		j.logger.Error("session prune failed",
			slog.String("error", err.Error()),
			slog.Int64("cutoff", cutoff),
		)
		return 0, fmt.Errorf("failed to prune sessions: %w", err)
	}

	j.logger.Info("session prune completed",
		slog.Int64("deleted_count", deleted),
		slog.Int64("cutoff", cutoff),
		slog.Duration("prune_after", j.PruneAfter),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return deleted, nil
}
