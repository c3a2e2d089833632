package cleanup

import (
	"context"
	"log/slog"
	"time"
)

// Runner は1回分の削除を実行するインターフェース。PruneJobが実装する。
type Runner interface {
	Run(ctx context.Context) (int64, error)
}

// Scheduler はRunnerを一定間隔で繰り返し実行する。
// 行の削除は保存領域の回収のみで、セッションの有効性判定には影響しない。
type Scheduler struct {
	runner Runner
	logger *slog.Logger
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
func NewScheduler(runner Runner, logger *slog.Logger) *Scheduler {
	return &Scheduler{runner: runner, logger: logger}
}

// Start は起動直後に1回実行し、以降intervalごとに実行する。
// コンテキストがキャンセルされるまで戻らない。個々の失敗はログに残して継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("session prune scheduler started",
		slog.Duration("interval", interval),
	)

	s.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("session prune scheduler stopped")
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	// エラーはPruneJob側でログ済み
	_, _ = s.runner.Run(ctx)
}
