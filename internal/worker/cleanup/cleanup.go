// Package cleanup はフォールバックチャンネルと選択セッションの
// 自動破棄ジョブを提供する。削除予約の入ったチャンネルと、役目を
// 終えないまま上限期間（デフォルト24時間）を超えたチャンネルを
// ゲートウェイとデータベースの両方から取り除く。
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/eventometer/internal/repository"
)

// ChannelRemover はゲートウェイ側のチャンネル削除インターフェース。
// gateway.Clientが実装する。
type ChannelRemover interface {
	DeleteChannel(ctx context.Context, channelID string) error
}

// SessionSweeper は期限切れセッションの破棄インターフェース。
// session.Storeが実装する。
type SessionSweeper interface {
	Sweep() int
}

// CleanupJob はフォールバックチャンネルと選択セッションの破棄ジョブ。
// 定期実行のバッチジョブとして設計されており、冪等な削除処理を保証する。
type CleanupJob struct {
	notifications repository.NotificationRepository
	remover       ChannelRemover
	sessions      SessionSweeper
	logger        *slog.Logger
	MaxChannelAge time.Duration // 削除予約がないチャンネルの上限存続時間（デフォルト: 24時間）
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(
	notifications repository.NotificationRepository,
	remover ChannelRemover,
	sessions SessionSweeper,
	logger *slog.Logger,
) *CleanupJob {
	return &CleanupJob{
		notifications: notifications,
		remover:       remover,
		sessions:      sessions,
		logger:        logger,
		MaxChannelAge: 24 * time.Hour,
	}
}

// Run は破棄対象のチャンネルとセッションを取り除く。
// 対象は削除予約時刻を過ぎたチャンネルと、上限存続時間を超えたチャンネル。
// ゲートウェイ側の削除に失敗したチャンネルはレコードを残し、次回に持ち越す。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	channels, err := j.notifications.ListChannelsDueForDeletion(ctx, j.MaxChannelAge)
	if err != nil {
		j.logger.Error("破棄対象チャンネルの取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return err
	}

	deleted := 0
	for _, channel := range channels {
		if err := j.remover.DeleteChannel(ctx, channel.Handle); err != nil {
			j.logger.Error("ゲートウェイのチャンネル削除に失敗しました",
				slog.String("channel_id", channel.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if err := j.notifications.DeleteFallbackChannel(ctx, channel.ID); err != nil {
			j.logger.Error("チャンネルレコードの削除に失敗しました",
				slog.String("channel_id", channel.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		deleted++
	}

	swept := 0
	if j.sessions != nil {
		swept = j.sessions.Sweep()
	}

	duration := time.Since(start)
	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int("channels_deleted", deleted),
		slog.Int("sessions_swept", swept),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// Start は指定間隔のティッカーでクリーンアップジョブを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("クリーンアップジョブを開始しました",
		slog.Duration("interval", interval),
	)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("クリーンアップジョブを停止しました")
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil {
				j.logger.Error("クリーンアップジョブの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
