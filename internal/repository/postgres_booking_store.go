package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/eventometer/internal/model"
)

// PostgresBookingStore は直列化可能トランザクションでブッキング操作を実行するストア。
// スロット占有と状態遷移の不変条件はトランザクション内で再検査され、
// コミット時の直列化失敗は競合エラーとして呼び出し元に返る。
type PostgresBookingStore struct {
	db *sql.DB
}

// NewPostgresBookingStore はPostgresBookingStoreを生成する。
func NewPostgresBookingStore(db *sql.DB) *PostgresBookingStore {
	return &PostgresBookingStore{db: db}
}

// InTx はfnを直列化可能トランザクション内で実行する。
func (s *PostgresBookingStore) InTx(ctx context.Context, fn func(tx BookingTx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&bookingTx{tx: tx}); err != nil {
		return translateConflict(err)
	}

	if err := tx.Commit(); err != nil {
		return translateConflict(fmt.Errorf("トランザクションのコミットに失敗しました: %w", err))
	}
	return nil
}

// translateConflict はPostgreSQLの直列化失敗・デッドロック・一意制約違反を
// 競合エラーに変換する。それ以外のエラーはそのまま返す。
func translateConflict(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01", "23505":
			return model.NewConcurrentModificationError()
		}
	}
	return err
}

// bookingTx はBookingTxの*sql.Tx実装。
type bookingTx struct {
	tx *sql.Tx
}

// GetEvent はイベントを行ロック付きで取得する。見つからない場合はnilを返す。
func (t *bookingTx) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	event, err := scanEvent(t.tx.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = $1 FOR UPDATE`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("イベントの取得に失敗しました: %w", err)
	}
	return event, nil
}

// GetApplication は応募を行ロック付きで取得する。見つからない場合はnilを返す。
func (t *bookingTx) GetApplication(ctx context.Context, id string) (*model.Application, error) {
	app := &model.Application{}
	err := t.tx.QueryRowContext(ctx,
		`SELECT id, event_id, candidate_cid, position_id, time_block_id, status, created_at, updated_at
		 FROM applications WHERE id = $1 FOR UPDATE`,
		id,
	).Scan(&app.ID, &app.EventID, &app.CandidateCID, &app.PositionID, &app.TimeBlockID,
		&app.Status, &app.CreatedAt, &app.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("応募の取得に失敗しました: %w", err)
	}
	return app, nil
}

// GetSlotOccupant はスロットを占有している応募を返す。占有者がいなければnilを返す。
func (t *bookingTx) GetSlotOccupant(ctx context.Context, positionID, timeBlockID string) (*model.Application, error) {
	app := &model.Application{}
	err := t.tx.QueryRowContext(ctx,
		`SELECT id, event_id, candidate_cid, position_id, time_block_id, status, created_at, updated_at
		 FROM applications
		 WHERE position_id = $1 AND time_block_id = $2
		   AND status IN ('locked', 'confirmed', 'full_confirmed')
		 LIMIT 1`,
		positionID, timeBlockID,
	).Scan(&app.ID, &app.EventID, &app.CandidateCID, &app.PositionID, &app.TimeBlockID,
		&app.Status, &app.CreatedAt, &app.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("スロット占有者の取得に失敗しました: %w", err)
	}
	return app, nil
}

// GetCandidateBlockOccupant は候補者が同一タイムブロックで占有中の応募を返す。
func (t *bookingTx) GetCandidateBlockOccupant(ctx context.Context, cid int64, timeBlockID string) (*model.Application, error) {
	app := &model.Application{}
	err := t.tx.QueryRowContext(ctx,
		`SELECT id, event_id, candidate_cid, position_id, time_block_id, status, created_at, updated_at
		 FROM applications
		 WHERE candidate_cid = $1 AND time_block_id = $2
		   AND status IN ('locked', 'confirmed', 'full_confirmed')
		 LIMIT 1`,
		cid, timeBlockID,
	).Scan(&app.ID, &app.EventID, &app.CandidateCID, &app.PositionID, &app.TimeBlockID,
		&app.Status, &app.CreatedAt, &app.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("候補者のブロック占有状況の取得に失敗しました: %w", err)
	}
	return app, nil
}

// FindDuplicateApplication は同一（候補者, ポジション, ブロック）の生きている応募を返す。
func (t *bookingTx) FindDuplicateApplication(ctx context.Context, cid int64, positionID, timeBlockID string) (*model.Application, error) {
	app := &model.Application{}
	err := t.tx.QueryRowContext(ctx,
		`SELECT id, event_id, candidate_cid, position_id, time_block_id, status, created_at, updated_at
		 FROM applications
		 WHERE candidate_cid = $1 AND position_id = $2 AND time_block_id = $3
		   AND status IN ('pending', 'locked', 'confirmed', 'full_confirmed')
		 LIMIT 1`,
		cid, positionID, timeBlockID,
	).Scan(&app.ID, &app.EventID, &app.CandidateCID, &app.PositionID, &app.TimeBlockID,
		&app.Status, &app.CreatedAt, &app.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("重複応募の検索に失敗しました: %w", err)
	}
	return app, nil
}

// CreateApplication は応募を作成する。
func (t *bookingTx) CreateApplication(ctx context.Context, app *model.Application) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO applications (id, event_id, candidate_cid, position_id, time_block_id,
		                           status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		app.ID, app.EventID, app.CandidateCID, app.PositionID, app.TimeBlockID,
		app.Status, app.CreatedAt, app.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("応募の作成に失敗しました: %w", err)
	}
	return nil
}

// UpdateStatus は応募の状態を更新する。
func (t *bookingTx) UpdateStatus(ctx context.Context, id string, status model.ApplicationStatus) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE applications SET status = $2, updated_at = now() WHERE id = $1`,
		id, status,
	)
	if err != nil {
		return fmt.Errorf("応募状態の更新に失敗しました: %w", err)
	}
	return nil
}

// DeleteApplication は応募レコードを削除する。
func (t *bookingTx) DeleteApplication(ctx context.Context, id string) error {
	_, err := t.tx.ExecContext(ctx,
		`DELETE FROM applications WHERE id = $1`, id,
	)
	if err != nil {
		return fmt.Errorf("応募の削除に失敗しました: %w", err)
	}
	return nil
}

// RejectPendingBySlot はスロットの選考待ち応募を指定IDを除いて一括で選外にする。
func (t *bookingTx) RejectPendingBySlot(ctx context.Context, positionID, timeBlockID, excludeID string) (int, error) {
	result, err := t.tx.ExecContext(ctx,
		`UPDATE applications SET status = 'rejected', updated_at = now()
		 WHERE position_id = $1 AND time_block_id = $2 AND status = 'pending' AND id <> $3`,
		positionID, timeBlockID, excludeID,
	)
	if err != nil {
		return 0, fmt.Errorf("スロットの選考待ち応募の一括選外に失敗しました: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("選外件数の取得に失敗しました: %w", err)
	}
	return int(affected), nil
}

// RejectPendingByCandidateBlock は候補者の同一ブロック内の選考待ち応募を
// 指定IDを除いて一括で選外にする。
func (t *bookingTx) RejectPendingByCandidateBlock(ctx context.Context, cid int64, timeBlockID, excludeID string) (int, error) {
	result, err := t.tx.ExecContext(ctx,
		`UPDATE applications SET status = 'rejected', updated_at = now()
		 WHERE candidate_cid = $1 AND time_block_id = $2 AND status = 'pending' AND id <> $3`,
		cid, timeBlockID, excludeID,
	)
	if err != nil {
		return 0, fmt.Errorf("候補者の同一ブロック応募の一括選外に失敗しました: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("選外件数の取得に失敗しました: %w", err)
	}
	return int(affected), nil
}

// RejectAllPending はイベントの全選考待ち応募を選外にする。
func (t *bookingTx) RejectAllPending(ctx context.Context, eventID string) (int, error) {
	result, err := t.tx.ExecContext(ctx,
		`UPDATE applications SET status = 'rejected', updated_at = now()
		 WHERE event_id = $1 AND status = 'pending'`,
		eventID,
	)
	if err != nil {
		return 0, fmt.Errorf("全選考待ち応募の一括選外に失敗しました: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("選外件数の取得に失敗しました: %w", err)
	}
	return int(affected), nil
}

// SetEventStatus はイベントの状態を更新する。
func (t *bookingTx) SetEventStatus(ctx context.Context, eventID string, status model.EventStatus) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE events SET status = $2, updated_at = now() WHERE id = $1`,
		eventID, status,
	)
	if err != nil {
		return fmt.Errorf("イベント状態の更新に失敗しました: %w", err)
	}
	return nil
}

// AddCounters は候補者の実績カウンターに差分を加算する。
func (t *bookingTx) AddCounters(ctx context.Context, cid int64, applications, participations, noShows, cancellations int) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE candidates SET
		    total_applications = total_applications + $2,
		    total_participations = total_participations + $3,
		    total_no_shows = total_no_shows + $4,
		    total_cancellations = total_cancellations + $5,
		    updated_at = now()
		 WHERE cid = $1`,
		cid, applications, participations, noShows, cancellations,
	)
	if err != nil {
		return fmt.Errorf("実績カウンターの更新に失敗しました: %w", err)
	}
	return nil
}

// ListRejectedOnlyCandidates は選外通知の対象となる候補者をトランザクション内で返す。
func (t *bookingTx) ListRejectedOnlyCandidates(ctx context.Context, eventID string) ([]*model.Candidate, error) {
	return queryRejectedOnlyCandidates(ctx, t.tx, eventID)
}

// EnqueueJob は通知ジョブをキューに積む。
func (t *bookingTx) EnqueueJob(ctx context.Context, job *model.NotificationJob) error {
	return insertJob(ctx, t.tx, job)
}

// compile-time interface checks
var (
	_ BookingStore = (*PostgresBookingStore)(nil)
	_ BookingTx    = (*bookingTx)(nil)
)
