package announce

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/eventometer/internal/booking"
	"github.com/hitoshi/eventometer/internal/model"
	"github.com/hitoshi/eventometer/internal/repository"
)

// Surface は告知メッセージの投稿先を表す。チャットゲートウェイが実装する。
type Surface interface {
	// PostAnnouncement はチャンネルへ新規メッセージを投稿し、メッセージIDを返す。
	PostAnnouncement(ctx context.Context, channelID, content string) (string, error)
	// EditAnnouncement は既存メッセージの本文を置き換える。
	EditAnnouncement(ctx context.Context, channelID, messageID, content string) error
}

// SummaryProvider はイベントの割り当て状況のスナップショットを提供する。
// booking.Serviceが実装する。
type SummaryProvider interface {
	Summary(ctx context.Context, eventID string) (*booking.EventSummary, error)
}

// Projector はイベントの割り当て状況を告知メッセージへ射影する。
// 初回は新規投稿、以降は同じメッセージの編集となるため何度呼んでも
// 告知メッセージは1件に保たれる。
type Projector struct {
	events  repository.EventRepository
	summary SummaryProvider
	surface Surface
	logger  *slog.Logger
}

// NewProjector はProjectorの新しいインスタンスを生成する。
func NewProjector(events repository.EventRepository, summary SummaryProvider, surface Surface, logger *slog.Logger) *Projector {
	return &Projector{
		events:  events,
		summary: summary,
		surface: surface,
		logger:  logger,
	}
}

// Publish は告知メッセージを投稿または更新する。
func (p *Projector) Publish(ctx context.Context, eventID string) error {
	summary, err := p.summary.Summary(ctx, eventID)
	if err != nil {
		return err
	}

	event := summary.Event
	if event.AnnounceChannelID == "" {
		return model.NewEventNotConfiguredError("告知チャンネルが未設定です")
	}

	content := BuildView(summary)

	if event.AnnounceMessageID == "" {
		messageID, err := p.surface.PostAnnouncement(ctx, event.AnnounceChannelID, content)
		if err != nil {
			return fmt.Errorf("告知の投稿に失敗しました: %w", err)
		}
		if err := p.events.UpdateAnnouncement(ctx, eventID, event.AnnounceChannelID, messageID); err != nil {
			return fmt.Errorf("告知メッセージ参照の保存に失敗しました: %w", err)
		}
		p.logger.Info("告知を投稿しました",
			slog.String("event_id", eventID),
			slog.String("message_id", messageID))
		return nil
	}

	if err := p.surface.EditAnnouncement(ctx, event.AnnounceChannelID, event.AnnounceMessageID, content); err != nil {
		return fmt.Errorf("告知の更新に失敗しました: %w", err)
	}
	p.logger.Info("告知を更新しました",
		slog.String("event_id", eventID),
		slog.String("message_id", event.AnnounceMessageID))
	return nil
}
