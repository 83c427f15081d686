// Package booking はブッキング応募と選出のドメインロジックを提供する。
package booking

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/eventometer/internal/model"
	"github.com/hitoshi/eventometer/internal/repository"
)

// DefaultChannelGrace は確認完了後にフォールバックチャンネルを削除するまでの猶予。
const DefaultChannelGrace = 5 * time.Second

// Service はブッキングのサービス層。
// 応募の作成・確認・取り消しと、管理者による選出・締め切り・補充を提供する。
// スロット占有に関わる全ての書き込みは直列化可能トランザクションを通る。
type Service struct {
	events        repository.EventRepository
	candidates    repository.CandidateRepository
	applications  repository.ApplicationRepository
	store         repository.BookingStore
	notifications repository.NotificationRepository

	// 確認完了後のフォールバックチャンネル削除猶予
	channelGrace time.Duration
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	events repository.EventRepository,
	candidates repository.CandidateRepository,
	applications repository.ApplicationRepository,
	store repository.BookingStore,
	notifications repository.NotificationRepository,
) *Service {
	return &Service{
		events:        events,
		candidates:    candidates,
		applications:  applications,
		store:         store,
		notifications: notifications,
		channelGrace:  DefaultChannelGrace,
	}
}

// SetChannelGrace はフォールバックチャンネルの削除猶予を変更する。
func (s *Service) SetChannelGrace(grace time.Duration) {
	s.channelGrace = grace
}

// Apply は候補者の応募を作成する。作成された応募は選考待ち状態で登録される。
// イベントが受付中でない、レーティング不足、同一ブロックの占有済み割り当てがある、
// スロットが既に埋まっている場合はエラーを返す。
func (s *Service) Apply(ctx context.Context, cid int64, positionID, timeBlockID string) (*model.Application, error) {
	position, err := s.events.FindPosition(ctx, positionID)
	if err != nil {
		return nil, err
	}
	if position == nil {
		return nil, model.NewInvalidRequestError("指定されたポジションが存在しません")
	}

	block, err := s.events.FindTimeBlock(ctx, timeBlockID)
	if err != nil {
		return nil, err
	}
	if block == nil || block.EventID != position.EventID {
		return nil, model.NewInvalidRequestError("指定されたタイムブロックが存在しません")
	}

	candidate, err := s.candidates.FindByCID(ctx, cid)
	if err != nil {
		return nil, err
	}
	if candidate == nil {
		return nil, model.NewCandidateNotFoundError()
	}
	if candidate.Rating < position.MinRating {
		return nil, model.NewRatingIneligibleError(position.Callsign(), position.MinRating, candidate.Rating)
	}

	app := &model.Application{
		ID:           uuid.NewString(),
		EventID:      position.EventID,
		CandidateCID: cid,
		PositionID:   positionID,
		TimeBlockID:  timeBlockID,
		Status:       model.StatusPending,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}

	err = s.store.InTx(ctx, func(tx repository.BookingTx) error {
		event, err := tx.GetEvent(ctx, position.EventID)
		if err != nil {
			return err
		}
		if event == nil {
			return model.NewEventNotFoundError(position.EventID)
		}
		if event.Status != model.EventStatusOpen {
			return model.NewSlotClosedError(event.Name)
		}

		dup, err := tx.FindDuplicateApplication(ctx, cid, positionID, timeBlockID)
		if err != nil {
			return err
		}
		if dup != nil {
			return model.NewInvalidRequestError("このスロットには既に応募済みです")
		}

		occupant, err := tx.GetSlotOccupant(ctx, positionID, timeBlockID)
		if err != nil {
			return err
		}
		if occupant != nil {
			return model.NewSlotAlreadyFilledError(position.Callsign())
		}

		blockOccupant, err := tx.GetCandidateBlockOccupant(ctx, cid, timeBlockID)
		if err != nil {
			return err
		}
		if blockOccupant != nil {
			return model.NewDuplicateBlockError(block.Label())
		}

		if err := tx.CreateApplication(ctx, app); err != nil {
			return err
		}
		return tx.AddCounters(ctx, cid, 1, 0, 0, 0)
	})
	if err != nil {
		return nil, err
	}

	return app, nil
}

// ApplyBulk はセッションフローからの複数スロットへの一括応募。
// 既に埋まっているスロットや重複はエラーにせずスキップし、作成件数を返す。
func (s *Service) ApplyBulk(ctx context.Context, cid int64, eventID string, slots []model.Slot) (created int, skipped int, err error) {
	candidate, err := s.candidates.FindByCID(ctx, cid)
	if err != nil {
		return 0, 0, err
	}
	if candidate == nil {
		return 0, 0, model.NewCandidateNotFoundError()
	}

	err = s.store.InTx(ctx, func(tx repository.BookingTx) error {
		created, skipped = 0, 0

		event, err := tx.GetEvent(ctx, eventID)
		if err != nil {
			return err
		}
		if event == nil {
			return model.NewEventNotFoundError(eventID)
		}
		if event.Status != model.EventStatusOpen {
			return model.NewSlotClosedError(event.Name)
		}

		for _, slot := range slots {
			dup, err := tx.FindDuplicateApplication(ctx, cid, slot.PositionID, slot.TimeBlockID)
			if err != nil {
				return err
			}
			occupant, err := tx.GetSlotOccupant(ctx, slot.PositionID, slot.TimeBlockID)
			if err != nil {
				return err
			}
			blockOccupant, err := tx.GetCandidateBlockOccupant(ctx, cid, slot.TimeBlockID)
			if err != nil {
				return err
			}
			if dup != nil || occupant != nil || blockOccupant != nil {
				skipped++
				continue
			}

			app := &model.Application{
				ID:           uuid.NewString(),
				EventID:      eventID,
				CandidateCID: cid,
				PositionID:   slot.PositionID,
				TimeBlockID:  slot.TimeBlockID,
				Status:       model.StatusPending,
				CreatedAt:    time.Now(),
				UpdatedAt:    time.Now(),
			}
			if err := tx.CreateApplication(ctx, app); err != nil {
				return err
			}
			created++
		}

		if created > 0 {
			return tx.AddCounters(ctx, cid, created, 0, 0, 0)
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}

	return created, skipped, nil
}

// Confirm は選出された応募の1次確認を行う（選出済み → 確認済み）。
// 確認が完了するとフォールバックチャンネルに削除予約が入る。
func (s *Service) Confirm(ctx context.Context, applicationID string) (*model.Application, error) {
	return s.confirmTransition(ctx, applicationID, model.StatusConfirmed, "確認")
}

// FinalConfirm は最終確認を行う（確認済み → 最終確認済み）。
// 完了時に参加カウンターを加算する。
func (s *Service) FinalConfirm(ctx context.Context, applicationID string) (*model.Application, error) {
	return s.confirmTransition(ctx, applicationID, model.StatusFullConfirmed, "最終確認")
}

func (s *Service) confirmTransition(ctx context.Context, applicationID string, to model.ApplicationStatus, operation string) (*model.Application, error) {
	var result *model.Application

	err := s.store.InTx(ctx, func(tx repository.BookingTx) error {
		app, err := tx.GetApplication(ctx, applicationID)
		if err != nil {
			return err
		}
		if app == nil {
			return model.NewApplicationNotFoundError(applicationID)
		}
		if !model.CanTransition(app.Status, to) {
			return model.NewInvalidTransitionError(app.Status, operation)
		}

		if err := tx.UpdateStatus(ctx, applicationID, to); err != nil {
			return err
		}
		if to == model.StatusFullConfirmed {
			if err := tx.AddCounters(ctx, app.CandidateCID, 0, 1, 0, 0); err != nil {
				return err
			}
		}

		app.Status = to
		result = app
		return nil
	})
	if err != nil {
		return nil, err
	}

	// 確認を運んだフォールバックチャンネルは猶予期間の後に破棄する。
	// 予約の失敗でコミット済みの状態遷移は取り消さない。
	if err := s.notifications.ScheduleChannelDeletion(ctx, result.CandidateCID, result.EventID, time.Now().Add(s.channelGrace)); err != nil {
		slog.Warn("チャンネル削除予約に失敗しました",
			slog.String("application_id", applicationID),
			slog.String("error", err.Error()))
	}

	return result, nil
}

// RevokeResult は取り消し操作の結果。
type RevokeResult struct {
	Application *model.Application
	Deleted     bool
	Penalty     model.RevokePenalty
}

// Revoke は応募を取り消す。現在の状態に応じて削除またはペナルティ付き遷移となる。
// 選考待ち: レコード削除、ペナルティなし。
// 選出済み: キャンセルに遷移、キャンセルカウント+1。
// 確認済み以降: ノーショーに遷移、ノーショーカウント+1、管理者へ警報を送る。
func (s *Service) Revoke(ctx context.Context, applicationID string) (*RevokeResult, error) {
	// ノーショー警報のペイロード用に詳細を先に取得しておく
	detail, err := s.applications.FindDetailByID(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	if detail == nil {
		return nil, model.NewApplicationNotFoundError(applicationID)
	}

	admins, err := s.candidates.ListAdmins(ctx)
	if err != nil {
		return nil, err
	}

	var result *RevokeResult

	err = s.store.InTx(ctx, func(tx repository.BookingTx) error {
		app, err := tx.GetApplication(ctx, applicationID)
		if err != nil {
			return err
		}
		if app == nil {
			return model.NewApplicationNotFoundError(applicationID)
		}

		next, deleted, penalty, ok := model.RevokeOutcome(app.Status)
		if !ok {
			return model.NewInvalidTransitionError(app.Status, "取り消し")
		}

		if deleted {
			if err := tx.DeleteApplication(ctx, applicationID); err != nil {
				return err
			}
		} else {
			if err := tx.UpdateStatus(ctx, applicationID, next); err != nil {
				return err
			}
			app.Status = next
		}

		switch penalty {
		case model.PenaltyCancellation:
			if err := tx.AddCounters(ctx, app.CandidateCID, 0, 0, 0, 1); err != nil {
				return err
			}
		case model.PenaltyNoShow:
			if err := tx.AddCounters(ctx, app.CandidateCID, 0, 0, 1, 0); err != nil {
				return err
			}
			// 確認後の辞退は穴が空くため管理者全員に警報を積む
			for _, admin := range admins {
				job := s.newNoShowAlert(detail, admin)
				if err := tx.EnqueueJob(ctx, job); err != nil {
					return err
				}
			}
		}

		result = &RevokeResult{Application: app, Deleted: deleted, Penalty: penalty}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// newNoShowAlert はノーショー警報の通知ジョブを組み立てる。
func (s *Service) newNoShowAlert(detail *model.ApplicationDetail, admin *model.Admin) *model.NotificationJob {
	now := time.Now()
	block := &model.TimeBlock{Number: detail.BlockNumber, StartTime: detail.BlockStart, EndTime: detail.BlockEnd}
	return &model.NotificationJob{
		ID:            uuid.NewString(),
		Kind:          model.KindNoShowAlert,
		EventID:       detail.EventID,
		RecipientCID:  0,
		RecipientChat: admin.ChatUserID,
		EventName:     detail.EventName,
		Callsign:      detail.Callsign,
		BlockText:     block.Label(),
		Details: fmt.Sprintf("%s（CID %d）が %s の割り当てを取り消しました。",
			detail.CandidateName, detail.CandidateCID, detail.Callsign),
		State:         model.DeliveryQueued,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// EventSummary はイベントの割り当て状況のスナップショット。
type EventSummary struct {
	Event        *model.Event
	Blocks       []*model.TimeBlock
	Positions    []*model.Position
	Applications []*model.ApplicationDetail
}

// Summary はイベントの割り当て状況を返す。
func (s *Service) Summary(ctx context.Context, eventID string) (*EventSummary, error) {
	event, err := s.events.FindByID(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if event == nil {
		return nil, model.NewEventNotFoundError(eventID)
	}

	blocks, err := s.events.ListTimeBlocks(ctx, eventID)
	if err != nil {
		return nil, err
	}
	positions, err := s.events.ListPositions(ctx, eventID)
	if err != nil {
		return nil, err
	}
	details, err := s.applications.ListDetailsByEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}

	return &EventSummary{
		Event:        event,
		Blocks:       blocks,
		Positions:    positions,
		Applications: details,
	}, nil
}

// CandidateApplications は候補者の応募一覧をイベント横断で返す。
func (s *Service) CandidateApplications(ctx context.Context, cid int64) ([]*model.ApplicationDetail, error) {
	candidate, err := s.candidates.FindByCID(ctx, cid)
	if err != nil {
		return nil, err
	}
	if candidate == nil {
		return nil, model.NewCandidateNotFoundError()
	}
	return s.applications.ListDetailsByCandidate(ctx, cid)
}
