// Package cleanup は保留購読レコードの定期掃除ジョブを提供する。
package cleanup

import (
	"context"
	"log/slog"
	"time"
)

// PendingSweeper は保留レコード掃除の実行インターフェース。
// subscription.Managerを抽象化する。
type PendingSweeper interface {
	// SweepPending は保留期限切れのレコードを削除し、削除件数を返す。
	SweepPending(ctx context.Context) (int, error)
}

// Job は保留レコードの定期掃除ジョブ。
// ハブからの確認が一定時間届かなかった保留購読を定期的に削除し、
// ストレージに幽霊レコードが溜まるのを防ぐ。
type Job struct {
	sweeper  PendingSweeper
	interval time.Duration
	logger   *slog.Logger
}

// NewJob はJobの新しいインスタンスを生成する。
// intervalが0以下の場合、Runは何もせず即座に返る。
func NewJob(sweeper PendingSweeper, interval time.Duration, logger *slog.Logger) *Job {
	return &Job{
		sweeper:  sweeper,
		interval: interval,
		logger:   logger,
	}
}

// Run は定期掃除ループを起動する。
// 起動直後に1回実行し、以後は設定間隔で繰り返す。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *Job) Run(ctx context.Context) {
	if j.interval <= 0 {
		j.logger.Info("保留レコード掃除は無効化されています")
		return
	}

	j.logger.Info("保留レコード掃除を開始しました", slog.Duration("interval", j.interval))

	j.RunOnce(ctx)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("保留レコード掃除を停止しました")
			return
		case <-ticker.C:
			j.RunOnce(ctx)
		}
	}
}

// RunOnce は掃除を1回実行する。
func (j *Job) RunOnce(ctx context.Context) {
	count, err := j.sweeper.SweepPending(ctx)
	if err != nil {
		j.logger.Error("保留レコード掃除に失敗しました", slog.String("error", err.Error()))
		return
	}
	if count > 0 {
		j.logger.Info("保留レコードを削除しました", slog.Int("count", count))
	}
}
