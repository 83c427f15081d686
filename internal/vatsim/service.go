package vatsim

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/eventometer/internal/model"
	"github.com/hitoshi/eventometer/internal/repository"
)

// EventSource はイベント情報と会員情報の取得元を表す。Clientが実装する。
type EventSource interface {
	FetchEvent(ctx context.Context, vatsimID int64) (*EventData, error)
	ResolveIdentity(ctx context.Context, chatUserID string) (int64, error)
	GetMemberStats(ctx context.Context, cid int64) (map[string]float64, error)
}

// Service はVATSIM連携のサービス層。
// イベントのインポートと候補者プロフィールの作成を提供する。
type Service struct {
	source     EventSource
	events     repository.EventRepository
	candidates repository.CandidateRepository
	logger     *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(source EventSource, events repository.EventRepository, candidates repository.CandidateRepository, logger *slog.Logger) *Service {
	return &Service{
		source:     source,
		events:     events,
		candidates: candidates,
		logger:     logger,
	}
}

// ImportEvent はイベントAPIからイベントを取り込む。
// 未登録なら下書き状態で新規作成し、登録済みならイベント情報を更新する。
// タイムブロックの再生成は応募開始前（下書き状態）に限る。
func (s *Service) ImportEvent(ctx context.Context, vatsimID int64, blockMinutes int) (*model.Event, error) {
	data, err := s.source.FetchEvent(ctx, vatsimID)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, model.NewEventNotFoundError(fmt.Sprintf("vatsim:%d", vatsimID))
	}

	if blockMinutes <= 0 {
		blockMinutes = 60
	}

	existing, err := s.events.FindByVatsimID(ctx, vatsimID)
	if err != nil {
		return nil, err
	}

	now := time.Now()

	if existing == nil {
		event := &model.Event{
			ID:               uuid.NewString(),
			VatsimID:         data.ID,
			Name:             data.Name,
			Link:             data.Link,
			BannerURL:        data.Banner,
			StartTime:        data.StartTime,
			EndTime:          data.EndTime,
			ShortDescription: data.ShortDescription,
			Description:      data.Description,
			Status:           model.EventStatusDraft,
			BlockMinutes:     blockMinutes,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := s.events.Create(ctx, event); err != nil {
			return nil, err
		}
		if err := s.events.ReplaceTimeBlocks(ctx, event.ID, model.GenerateTimeBlocks(event)); err != nil {
			return nil, err
		}
		s.logger.Info("イベントをインポートしました",
			slog.Int64("vatsim_id", vatsimID),
			slog.String("event_id", event.ID),
			slog.Int("blocks", event.TotalBlocks()))
		return event, nil
	}

	existing.Name = data.Name
	existing.Link = data.Link
	existing.BannerURL = data.Banner
	existing.StartTime = data.StartTime
	existing.EndTime = data.EndTime
	existing.ShortDescription = data.ShortDescription
	existing.Description = data.Description
	existing.UpdatedAt = now
	if existing.Status == model.EventStatusDraft {
		existing.BlockMinutes = blockMinutes
	}

	if err := s.events.Update(ctx, existing); err != nil {
		return nil, err
	}

	// 受付開始後のブロック再生成は既存の応募を壊すため行わない
	if existing.Status == model.EventStatusDraft {
		if err := s.events.ReplaceTimeBlocks(ctx, existing.ID, model.GenerateTimeBlocks(existing)); err != nil {
			return nil, err
		}
	}

	s.logger.Info("イベント情報を更新しました",
		slog.Int64("vatsim_id", vatsimID),
		slog.String("event_id", existing.ID))
	return existing, nil
}

// GetOrCreateCandidate はチャットユーザーIDから候補者を取得する。
// 未登録の場合はCIDの紐付けを解決し、管制実績からレーティングを
// 判定して新規登録する。紐付けが存在しない場合はエラーを返す。
func (s *Service) GetOrCreateCandidate(ctx context.Context, chatUserID, displayName string) (*model.Candidate, error) {
	candidate, err := s.candidates.FindByChatUserID(ctx, chatUserID)
	if err != nil {
		return nil, err
	}
	if candidate != nil {
		return candidate, nil
	}

	cid, err := s.source.ResolveIdentity(ctx, chatUserID)
	if err != nil {
		return nil, err
	}
	if cid == 0 {
		return nil, model.NewUnlinkedAccountError()
	}

	stats, err := s.source.GetMemberStats(ctx, cid)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	candidate = &model.Candidate{
		CID:         cid,
		ChatUserID:  chatUserID,
		DisplayName: displayName,
		Rating:      model.RatingFromStats(stats),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.candidates.Create(ctx, candidate); err != nil {
		return nil, err
	}

	s.logger.Info("候補者を登録しました",
		slog.Int64("cid", cid),
		slog.String("rating", candidate.Rating.String()))
	return candidate, nil
}

// RefreshRating は候補者のレーティングを最新の管制実績で更新する。
func (s *Service) RefreshRating(ctx context.Context, cid int64) (*model.Candidate, error) {
	candidate, err := s.candidates.FindByCID(ctx, cid)
	if err != nil {
		return nil, err
	}
	if candidate == nil {
		return nil, model.NewCandidateNotFoundError()
	}

	stats, err := s.source.GetMemberStats(ctx, cid)
	if err != nil {
		return nil, err
	}

	candidate.Rating = model.RatingFromStats(stats)
	candidate.UpdatedAt = time.Now()
	if err := s.candidates.Update(ctx, candidate); err != nil {
		return nil, err
	}
	return candidate, nil
}
