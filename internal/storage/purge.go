package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// PurgeJob は期限切れのエントリを定期的に削除するジョブ。
// 冪等で、削除対象がない場合もエラーにならない。
type PurgeJob struct {
	store    Store
	logger   *slog.Logger
	Interval time.Duration // 実行間隔（デフォルト: 1時間）
}

// NewPurgeJob は新しいPurgeJobを生成する。
func NewPurgeJob(store Store, logger *slog.Logger) *PurgeJob {
	return &PurgeJob{
		store:    store,
		logger:   logger,
		Interval: time.Hour,
	}
}

// Run は期限切れのエントリを1回削除する。
func (j *PurgeJob) Run(ctx context.Context) error {
	start := time.Now()

	deleted, err := j.store.PurgeExpired(ctx)
	if err != nil {
		j.logger.Error("期限切れエントリの削除に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("期限切れエントリの削除に失敗: %w", err)
	}

	j.logger.Info("期限切れエントリの削除が完了しました",
		slog.Int64("deleted_count", deleted),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Start はコンテキストがキャンセルされるまでIntervalごとにRunを実行する。
func (j *PurgeJob) Start(ctx context.Context) {
	j.logger.Info("期限切れエントリ削除ジョブを開始しました",
		slog.Duration("interval", j.Interval),
	)

	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("期限切れエントリ削除ジョブを停止しました")
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
