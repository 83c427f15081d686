package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/eventometer/internal/gateway"
	"github.com/hitoshi/eventometer/internal/metrics"
	"github.com/hitoshi/eventometer/internal/model"
	"github.com/hitoshi/eventometer/internal/repository"
)

// Sender はメッセージの送信先ゲートウェイを表す。gateway.Clientが実装する。
type Sender interface {
	SendDirect(ctx context.Context, recipientID string, msg gateway.Message) error
	CreatePrivateChannel(ctx context.Context, name string, viewers []string) (string, error)
	SendToChannel(ctx context.Context, channelID string, msg gateway.Message) error
}

// Deliverer は通知ジョブ1件の配送を行う。
// ダイレクトメッセージを優先し、有界回数の再試行の後に
// フォールバックチャンネルへ切り替える。
type Deliverer struct {
	notifications repository.NotificationRepository
	candidates    repository.CandidateRepository
	sender        Sender
	logger        *slog.Logger
	collector     metrics.MetricsCollector
}

// NewDeliverer はDelivererの新しいインスタンスを生成する。
func NewDeliverer(
	notifications repository.NotificationRepository,
	candidates repository.CandidateRepository,
	sender Sender,
	logger *slog.Logger,
	collector metrics.MetricsCollector,
) *Deliverer {
	return &Deliverer{
		notifications: notifications,
		candidates:    candidates,
		sender:        sender,
		logger:        logger,
		collector:     collector,
	}
}

// Deliver はジョブを1件配送し、結果をジョブに記録して保存する。
// 同じ受信者の開いているフォールバックチャンネルがあればそちらへ直接送る。
func (d *Deliverer) Deliver(ctx context.Context, job *model.NotificationJob) error {
	msg := gateway.Message{
		Content:  job.Message(),
		ActionID: job.ActionID(),
	}

	// 既にフォールバックチャンネルが開いている受信者にはDMを試さない
	if job.RecipientCID != 0 {
		channel, err := d.notifications.FindOpenFallbackChannel(ctx, job.RecipientCID, job.EventID)
		if err != nil {
			return err
		}
		if channel != nil {
			return d.deliverToChannel(ctx, job, channel, msg)
		}
	}

	err := d.sender.SendDirect(ctx, job.RecipientChat, msg)
	if err == nil {
		ApplyPrimaryDelivered(job)
		d.collector.RecordDeliveryPrimary(string(job.Kind))
		d.collector.RecordDeliveryLatency(time.Since(job.CreatedAt))
		d.logger.Info("通知を配送しました",
			slog.String("job_id", job.ID),
			slog.String("kind", string(job.Kind)),
		)
		return d.notifications.Update(ctx, job)
	}

	// DM拒否は再試行しても無駄なので即フォールバックへ
	if errors.Is(err, gateway.ErrUndeliverable) {
		job.AttemptCount = maxPrimaryAttempts
		job.LastError = err.Error()
		return d.fallback(ctx, job, msg)
	}

	ApplyPrimaryFailure(job, err.Error())
	if ShouldFallback(job) {
		return d.fallback(ctx, job, msg)
	}

	d.logger.Warn("通知の配送に失敗しました。再試行します",
		slog.String("job_id", job.ID),
		slog.Int("attempt_count", job.AttemptCount),
		slog.String("error", err.Error()),
	)
	return d.notifications.Update(ctx, job)
}

// fallback はフォールバックチャンネルを作成してジョブを配送する。
// チャンネルの作成や投稿に失敗した場合、ジョブは配送不能として確定する。
func (d *Deliverer) fallback(ctx context.Context, job *model.NotificationJob, msg gateway.Message) error {
	viewers := []string{job.RecipientChat}
	admins, err := d.candidates.ListAdmins(ctx)
	if err != nil {
		return err
	}
	for _, admin := range admins {
		viewers = append(viewers, admin.ChatUserID)
	}

	name := fmt.Sprintf("booking-%d", job.RecipientCID)
	channelID, err := d.sender.CreatePrivateChannel(ctx, name, viewers)
	if err != nil {
		ApplyFailed(job, fmt.Sprintf("フォールバックチャンネルの作成に失敗: %s", err))
		d.collector.RecordDeliveryFailure(string(job.Kind))
		d.logger.Error("通知が配送不能になりました",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return d.notifications.Update(ctx, job)
	}

	channel := &model.FallbackChannel{
		ID:            uuid.NewString(),
		Handle:        channelID,
		RecipientCID:  job.RecipientCID,
		RecipientChat: job.RecipientChat,
		EventID:       job.EventID,
		CreatedAt:     time.Now(),
	}
	if err := d.notifications.CreateFallbackChannel(ctx, channel); err != nil {
		return err
	}

	return d.deliverToChannel(ctx, job, channel, msg)
}

func (d *Deliverer) deliverToChannel(ctx context.Context, job *model.NotificationJob, channel *model.FallbackChannel, msg gateway.Message) error {
	if err := d.sender.SendToChannel(ctx, channel.Handle, msg); err != nil {
		ApplyFailed(job, fmt.Sprintf("フォールバックチャンネルへの投稿に失敗: %s", err))
		d.collector.RecordDeliveryFailure(string(job.Kind))
		return d.notifications.Update(ctx, job)
	}

	ApplyFallbackDelivered(job, channel.ID)
	d.collector.RecordDeliveryFallback(string(job.Kind))
	d.collector.RecordDeliveryLatency(time.Since(job.CreatedAt))
	d.logger.Info("通知をフォールバックチャンネルへ配送しました",
		slog.String("job_id", job.ID),
		slog.String("channel_id", channel.ID),
	)
	return d.notifications.Update(ctx, job)
}
