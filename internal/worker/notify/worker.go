package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/eventometer/internal/metrics"
	"github.com/hitoshi/eventometer/internal/model"
	"github.com/hitoshi/eventometer/internal/repository"
)

// JobDeliverer は通知ジョブ1件の配送インターフェース。
type JobDeliverer interface {
	Deliver(ctx context.Context, job *model.NotificationJob) error
}

// Worker は通知キューを定期的にドレインするワーカー。
// 配送期限の到来したジョブをFIFO順に取得し、1件ずつ配送する。
// 取得同士の排他は保証されないため、複数プロセスを並走させた場合は
// 同じジョブが重複して配送されることがある（at-least-once）。
type Worker struct {
	notifications repository.NotificationRepository
	deliverer     JobDeliverer
	logger        *slog.Logger
	collector     metrics.MetricsCollector
	batchSize     int
}

// NewWorker はWorkerの新しいインスタンスを生成する。
// batchSizeが0以下の場合はデフォルト値20を使用する。
func NewWorker(
	notifications repository.NotificationRepository,
	deliverer JobDeliverer,
	logger *slog.Logger,
	collector metrics.MetricsCollector,
	batchSize int,
) *Worker {
	if batchSize <= 0 {
		batchSize = 20
	}
	return &Worker{
		notifications: notifications,
		deliverer:     deliverer,
		logger:        logger,
		collector:     collector,
		batchSize:     batchSize,
	}
}

// Start は指定間隔のティッカーでワーカーを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (w *Worker) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.logger.Info("通知ワーカーを開始しました",
		slog.Duration("interval", interval),
		slog.Int("batch_size", w.batchSize),
	)

	// 起動直後に1回実行
	if err := w.RunOnce(ctx); err != nil {
		w.logger.Error("配送サイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("通知ワーカーを停止しました")
			return
		case <-ticker.C:
			if err := w.RunOnce(ctx); err != nil {
				w.logger.Error("配送サイクルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce は配送期限の到来したジョブを1バッチ取得し、順番に配送する。
// 優先種別（選出・リマインダー）が先、同種別内は投入順。
func (w *Worker) RunOnce(ctx context.Context) error {
	start := time.Now()

	jobs, err := w.notifications.ListDue(ctx, w.batchSize)
	if err != nil {
		return err
	}

	if depth, err := w.notifications.CountQueued(ctx); err == nil {
		w.collector.RecordQueueDepth(depth)
	}

	if len(jobs) == 0 {
		return nil
	}

	w.logger.Info("配送サイクルを開始します",
		slog.Int("job_count", len(jobs)),
	)

	// 順序保証のため1件ずつ配送する
	for _, job := range jobs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := w.deliverer.Deliver(ctx, job); err != nil {
			w.logger.Error("通知ジョブの配送処理に失敗しました",
				slog.String("job_id", job.ID),
				slog.String("kind", string(job.Kind)),
				slog.String("error", err.Error()),
			)
		}
	}

	duration := time.Since(start)
	w.logger.Info("配送サイクルが完了しました",
		slog.Int("job_count", len(jobs)),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}
