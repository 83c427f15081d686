package booking

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/eventometer/internal/model"
	"github.com/hitoshi/eventometer/internal/repository"
)

// SelectResult は選出操作の結果。
type SelectResult struct {
	Application *model.ApplicationDetail
	// 同一スロットの他候補で選外になった件数
	RejectedSameSlot int
	// 同一候補者の同一ブロック内の他応募で選外になった件数
	RejectedSameBlock int
}

// Select は管理者による候補者の選出を行う（選考待ち → 選出済み）。
// 選出と同時に、同一スロットの他の選考待ち応募と、選出された候補者の
// 同一タイムブロック内の他の選考待ち応募を一括で選外にする。
// 選出通知は同一トランザクションでキューに積まれる。
func (s *Service) Select(ctx context.Context, applicationID string) (*SelectResult, error) {
	detail, err := s.applications.FindDetailByID(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	if detail == nil {
		return nil, model.NewApplicationNotFoundError(applicationID)
	}

	candidate, err := s.candidates.FindByCID(ctx, detail.CandidateCID)
	if err != nil {
		return nil, err
	}
	if candidate == nil {
		return nil, model.NewCandidateNotFoundError()
	}

	result := &SelectResult{}

	err = s.store.InTx(ctx, func(tx repository.BookingTx) error {
		app, err := tx.GetApplication(ctx, applicationID)
		if err != nil {
			return err
		}
		if app == nil {
			return model.NewApplicationNotFoundError(applicationID)
		}
		if app.Status != model.StatusPending {
			return model.NewInvalidTransitionError(app.Status, "選出")
		}

		occupant, err := tx.GetSlotOccupant(ctx, app.PositionID, app.TimeBlockID)
		if err != nil {
			return err
		}
		if occupant != nil {
			return model.NewSlotAlreadyFilledError(detail.Callsign)
		}

		blockOccupant, err := tx.GetCandidateBlockOccupant(ctx, app.CandidateCID, app.TimeBlockID)
		if err != nil {
			return err
		}
		if blockOccupant != nil {
			block := &model.TimeBlock{Number: detail.BlockNumber, StartTime: detail.BlockStart, EndTime: detail.BlockEnd}
			return model.NewDuplicateBlockError(block.Label())
		}

		if err := tx.UpdateStatus(ctx, applicationID, model.StatusLocked); err != nil {
			return err
		}

		// カスケード選外: 同一スロットの他候補と、同一候補者の同一ブロック内の他応募
		sameSlot, err := tx.RejectPendingBySlot(ctx, app.PositionID, app.TimeBlockID, applicationID)
		if err != nil {
			return err
		}
		sameBlock, err := tx.RejectPendingByCandidateBlock(ctx, app.CandidateCID, app.TimeBlockID, applicationID)
		if err != nil {
			return err
		}

		if err := tx.EnqueueJob(ctx, s.newSelectionJob(detail, candidate)); err != nil {
			return err
		}

		detail.Status = model.StatusLocked
		result.Application = detail
		result.RejectedSameSlot = sameSlot
		result.RejectedSameBlock = sameBlock
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// SelectBackfill は補充選出を行う。選出と同じ不変条件を検査するが、
// 一度選外となった応募からの復活を許す点と、既に占有者がいるスロットへの
// 差し替えを許す点が通常の選出と異なる。差し替え時は元の占有者を選外に落とし、
// その候補者のキャンセル回数を加算する。
func (s *Service) SelectBackfill(ctx context.Context, applicationID string) (*SelectResult, error) {
	detail, err := s.applications.FindDetailByID(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	if detail == nil {
		return nil, model.NewApplicationNotFoundError(applicationID)
	}

	candidate, err := s.candidates.FindByCID(ctx, detail.CandidateCID)
	if err != nil {
		return nil, err
	}
	if candidate == nil {
		return nil, model.NewCandidateNotFoundError()
	}

	result := &SelectResult{}

	err = s.store.InTx(ctx, func(tx repository.BookingTx) error {
		app, err := tx.GetApplication(ctx, applicationID)
		if err != nil {
			return err
		}
		if app == nil {
			return model.NewApplicationNotFoundError(applicationID)
		}
		// 補充は選考待ちに加えて選外からの復活も対象
		if app.Status != model.StatusPending && app.Status != model.StatusRejected {
			return model.NewInvalidTransitionError(app.Status, "補充選出")
		}

		occupant, err := tx.GetSlotOccupant(ctx, app.PositionID, app.TimeBlockID)
		if err != nil {
			return err
		}
		if occupant != nil {
			// 差し替え: 元の占有者は選外に落とし、キャンセルとして計上する
			if err := tx.UpdateStatus(ctx, occupant.ID, model.StatusRejected); err != nil {
				return err
			}
			if err := tx.AddCounters(ctx, occupant.CandidateCID, 0, 0, 0, 1); err != nil {
				return err
			}
		}

		blockOccupant, err := tx.GetCandidateBlockOccupant(ctx, app.CandidateCID, app.TimeBlockID)
		if err != nil {
			return err
		}
		if blockOccupant != nil && (occupant == nil || blockOccupant.ID != occupant.ID) {
			block := &model.TimeBlock{Number: detail.BlockNumber, StartTime: detail.BlockStart, EndTime: detail.BlockEnd}
			return model.NewDuplicateBlockError(block.Label())
		}

		if err := tx.UpdateStatus(ctx, applicationID, model.StatusLocked); err != nil {
			return err
		}

		sameSlot, err := tx.RejectPendingBySlot(ctx, app.PositionID, app.TimeBlockID, applicationID)
		if err != nil {
			return err
		}

		if err := tx.EnqueueJob(ctx, s.newSelectionJob(detail, candidate)); err != nil {
			return err
		}

		detail.Status = model.StatusLocked
		result.Application = detail
		result.RejectedSameSlot = sameSlot
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// BackfillCandidates はイベントの補充候補一覧を返す。
// 選外となった候補者を含む、占有中の割り当てを持たない全応募者が対象。
func (s *Service) BackfillCandidates(ctx context.Context, eventID string) ([]*model.ApplicationDetail, error) {
	event, err := s.events.FindByID(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if event == nil {
		return nil, model.NewEventNotFoundError(eventID)
	}
	return s.applications.ListBackfillCandidates(ctx, eventID)
}

// OpenBookings はイベントのブッキング受付を開始する（下書き → 受付中）。
// タイムブロックとポジションが設定済みであることが前提。
func (s *Service) OpenBookings(ctx context.Context, eventID string) error {
	event, err := s.events.FindByID(ctx, eventID)
	if err != nil {
		return err
	}
	if event == nil {
		return model.NewEventNotFoundError(eventID)
	}
	if event.Status != model.EventStatusDraft {
		return model.NewInvalidRequestError("受付開始は下書き状態のイベントに対してのみ実行できます")
	}

	blocks, err := s.events.ListTimeBlocks(ctx, eventID)
	if err != nil {
		return err
	}
	if len(blocks) == 0 {
		return model.NewEventNotConfiguredError("タイムブロックが未設定です")
	}
	positions, err := s.events.ListPositions(ctx, eventID)
	if err != nil {
		return err
	}
	if len(positions) == 0 {
		return model.NewEventNotConfiguredError("ポジションが未設定です")
	}

	return s.events.UpdateStatus(ctx, eventID, model.EventStatusOpen)
}

// CloseBookings はブッキングの受付を締め切る（受付中 → 締め切り）。
// 残っている選考待ちの応募は全て選外に落とし、イベントを締め切り状態にする。
// 締め切り後も管理者による選出・補充は可能。選外になった件数を返す。
func (s *Service) CloseBookings(ctx context.Context, eventID string) (rejected int, err error) {
	err = s.store.InTx(ctx, func(tx repository.BookingTx) error {
		event, err := tx.GetEvent(ctx, eventID)
		if err != nil {
			return err
		}
		if event == nil {
			return model.NewEventNotFoundError(eventID)
		}
		if event.Status != model.EventStatusOpen {
			return model.NewInvalidRequestError("締め切りは受付中のイベントに対してのみ実行できます")
		}
		count, err := tx.RejectAllPending(ctx, eventID)
		if err != nil {
			return err
		}
		rejected = count
		return tx.SetEventStatus(ctx, eventID, model.EventStatusLocked)
	})
	if err != nil {
		return 0, err
	}
	return rejected, nil
}

// RejectUnselected はイベント内に生きている応募を1件も持たない候補者へ
// 選外通知を積む。1つでも割り当てを持つ候補者には選外通知を送らない。
// 通知対象の確定と投入は同一トランザクションで行う。
func (s *Service) RejectUnselected(ctx context.Context, eventID string) (notified int, err error) {
	event, err := s.events.FindByID(ctx, eventID)
	if err != nil {
		return 0, err
	}
	if event == nil {
		return 0, model.NewEventNotFoundError(eventID)
	}

	err = s.store.InTx(ctx, func(tx repository.BookingTx) error {
		losers, err := tx.ListRejectedOnlyCandidates(ctx, eventID)
		if err != nil {
			return err
		}
		now := time.Now()
		for _, candidate := range losers {
			job := &model.NotificationJob{
				ID:            uuid.NewString(),
				Kind:          model.KindRejection,
				EventID:       eventID,
				RecipientCID:  candidate.CID,
				RecipientChat: candidate.ChatUserID,
				EventName:     event.Name,
				State:         model.DeliveryQueued,
				NextAttemptAt: now,
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			if err := tx.EnqueueJob(ctx, job); err != nil {
				return err
			}
		}
		notified = len(losers)
		return nil
	})
	if err != nil {
		return 0, err
	}

	return notified, nil
}

// SendReminders はイベントの確認済み応募全件にリマインダー通知を積む。
// リマインダーは最終確認のアクションを運ぶ。積んだ件数を返す。
func (s *Service) SendReminders(ctx context.Context, eventID string) (int, error) {
	event, err := s.events.FindByID(ctx, eventID)
	if err != nil {
		return 0, err
	}
	if event == nil {
		return 0, model.NewEventNotFoundError(eventID)
	}

	details, err := s.applications.ListDetailsByEventAndStatus(ctx, eventID, model.StatusConfirmed)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, detail := range details {
		candidate, err := s.candidates.FindByCID(ctx, detail.CandidateCID)
		if err != nil {
			return sent, err
		}
		if candidate == nil {
			continue
		}
		job := s.newSelectionJob(detail, candidate)
		job.Kind = model.KindReminder
		if err := s.notifications.Enqueue(ctx, job); err != nil {
			return sent, err
		}
		sent++
	}

	return sent, nil
}

// newSelectionJob は選出通知のジョブを組み立てる。
func (s *Service) newSelectionJob(detail *model.ApplicationDetail, candidate *model.Candidate) *model.NotificationJob {
	now := time.Now()
	block := &model.TimeBlock{Number: detail.BlockNumber, StartTime: detail.BlockStart, EndTime: detail.BlockEnd}
	return &model.NotificationJob{
		ID:            uuid.NewString(),
		Kind:          model.KindSelection,
		EventID:       detail.EventID,
		ApplicationID: detail.Application.ID,
		RecipientCID:  candidate.CID,
		RecipientChat: candidate.ChatUserID,
		EventName:     detail.EventName,
		Callsign:      detail.Callsign,
		BlockText:     block.Label(),
		State:         model.DeliveryQueued,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}
