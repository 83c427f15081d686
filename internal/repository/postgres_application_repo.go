package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/eventometer/internal/model"
)

// PostgresApplicationRepo はPostgreSQLを使用した応募リポジトリ（読み取り専用）。
// 状態を変更する操作はPostgresBookingStoreのトランザクションを通じて行う。
type PostgresApplicationRepo struct {
	db *sql.DB
}

// NewPostgresApplicationRepo はPostgresApplicationRepoを生成する。
func NewPostgresApplicationRepo(db *sql.DB) *PostgresApplicationRepo {
	return &PostgresApplicationRepo{db: db}
}

// detailQuery は応募に表示用の関連情報をJOINする共通SELECT句。
const detailQuery = `
	SELECT a.id, a.event_id, a.candidate_cid, a.position_id, a.time_block_id,
	       a.status, a.created_at, a.updated_at,
	       c.display_name, c.rating,
	       p.icao || '_' || p.name,
	       b.number, b.start_time, b.end_time,
	       e.name
	FROM applications a
	INNER JOIN candidates c ON a.candidate_cid = c.cid
	INNER JOIN positions p ON a.position_id = p.id
	INNER JOIN time_blocks b ON a.time_block_id = b.id
	INNER JOIN events e ON a.event_id = e.id`

func scanDetail(row interface{ Scan(dest ...any) error }) (*model.ApplicationDetail, error) {
	detail := &model.ApplicationDetail{}
	err := row.Scan(
		&detail.ID, &detail.EventID, &detail.CandidateCID,
		&detail.PositionID, &detail.TimeBlockID,
		&detail.Status, &detail.CreatedAt, &detail.UpdatedAt,
		&detail.CandidateName, &detail.CandidateRating,
		&detail.Callsign,
		&detail.BlockNumber, &detail.BlockStart, &detail.BlockEnd,
		&detail.EventName,
	)
	if err != nil {
		return nil, err
	}
	return detail, nil
}

func (r *PostgresApplicationRepo) queryDetails(ctx context.Context, query string, args ...any) ([]*model.ApplicationDetail, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var details []*model.ApplicationDetail
	for rows.Next() {
		detail, err := scanDetail(rows)
		if err != nil {
			return nil, err
		}
		details = append(details, detail)
	}
	return details, rows.Err()
}

// FindByID は指定IDの応募を取得する。見つからない場合はnilを返す。
func (r *PostgresApplicationRepo) FindByID(ctx context.Context, id string) (*model.Application, error) {
	app := &model.Application{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, event_id, candidate_cid, position_id, time_block_id, status, created_at, updated_at
		 FROM applications WHERE id = $1`,
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

// FindDetailByID は指定IDの応募を関連情報付きで取得する。見つからない場合はnilを返す。
func (r *PostgresApplicationRepo) FindDetailByID(ctx context.Context, id string) (*model.ApplicationDetail, error) {
	detail, err := scanDetail(r.db.QueryRowContext(ctx, detailQuery+` WHERE a.id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("応募詳細の取得に失敗しました: %w", err)
	}
	return detail, nil
}

// ListDetailsByEvent はイベントの全応募を関連情報付きで返す。
func (r *PostgresApplicationRepo) ListDetailsByEvent(ctx context.Context, eventID string) ([]*model.ApplicationDetail, error) {
	details, err := r.queryDetails(ctx,
		detailQuery+` WHERE a.event_id = $1 ORDER BY b.number ASC, p.icao ASC, p.name ASC, a.created_at ASC`,
		eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("イベントの応募一覧の取得に失敗しました: %w", err)
	}
	return details, nil
}

// ListDetailsByEventAndStatus は指定状態の応募のみを関連情報付きで返す。
func (r *PostgresApplicationRepo) ListDetailsByEventAndStatus(ctx context.Context, eventID string, status model.ApplicationStatus) ([]*model.ApplicationDetail, error) {
	details, err := r.queryDetails(ctx,
		detailQuery+` WHERE a.event_id = $1 AND a.status = $2
		 ORDER BY b.number ASC, p.icao ASC, p.name ASC, a.created_at ASC`,
		eventID, status,
	)
	if err != nil {
		return nil, fmt.Errorf("状態別応募一覧の取得に失敗しました: %w", err)
	}
	return details, nil
}

// ListDetailsByCandidate は候補者の応募一覧をイベント横断で返す。
func (r *PostgresApplicationRepo) ListDetailsByCandidate(ctx context.Context, cid int64) ([]*model.ApplicationDetail, error) {
	details, err := r.queryDetails(ctx,
		detailQuery+` WHERE a.candidate_cid = $1 ORDER BY e.start_time ASC, b.number ASC`,
		cid,
	)
	if err != nil {
		return nil, fmt.Errorf("候補者の応募一覧の取得に失敗しました: %w", err)
	}
	return details, nil
}

// ListPendingBySlot はスロットの選考待ち応募を応募順に返す。
func (r *PostgresApplicationRepo) ListPendingBySlot(ctx context.Context, positionID, timeBlockID string) ([]*model.ApplicationDetail, error) {
	details, err := r.queryDetails(ctx,
		detailQuery+` WHERE a.position_id = $1 AND a.time_block_id = $2 AND a.status = $3
		 ORDER BY a.created_at ASC`,
		positionID, timeBlockID, model.StatusPending,
	)
	if err != nil {
		return nil, fmt.Errorf("スロットの選考待ち応募の取得に失敗しました: %w", err)
	}
	return details, nil
}

// ListBackfillCandidates はイベントの補充候補を返す。
// 選外を含む全応募者のうち、占有中の応募を1件も持たない候補者の応募を
// レーティング降順、応募日時昇順で返す。
func (r *PostgresApplicationRepo) ListBackfillCandidates(ctx context.Context, eventID string) ([]*model.ApplicationDetail, error) {
	details, err := r.queryDetails(ctx,
		detailQuery+` WHERE a.event_id = $1
		   AND NOT EXISTS (
		       SELECT 1 FROM applications o
		       WHERE o.event_id = a.event_id
		         AND o.candidate_cid = a.candidate_cid
		         AND o.status IN ('locked', 'confirmed', 'full_confirmed')
		   )
		 ORDER BY c.rating DESC, a.created_at ASC`,
		eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("補充候補の取得に失敗しました: %w", err)
	}
	return details, nil
}

// queryRejectedOnlyCandidates は選外通知の対象となる候補者を返す。
// 選外となった応募を1件以上持ち、かつ生きている応募を1件も持たない候補者。
func queryRejectedOnlyCandidates(ctx context.Context, querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}, eventID string) ([]*model.Candidate, error) {
	rows, err := querier.QueryContext(ctx,
		`SELECT `+candidateColumns+` FROM candidates
		 WHERE cid IN (
		     SELECT candidate_cid FROM applications
		     WHERE event_id = $1 AND status = 'rejected'
		 )
		 AND cid NOT IN (
		     SELECT candidate_cid FROM applications
		     WHERE event_id = $1
		       AND status IN ('pending', 'locked', 'confirmed', 'full_confirmed')
		 )
		 ORDER BY cid ASC`,
		eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("選外通知対象の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var candidates []*model.Candidate
	for rows.Next() {
		candidate, err := scanCandidate(rows)
		if err != nil {
			return nil, fmt.Errorf("選外通知対象の読み取りに失敗しました: %w", err)
		}
		candidates = append(candidates, candidate)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("選外通知対象の走査に失敗しました: %w", err)
	}
	return candidates, nil
}

// compile-time interface check
var _ ApplicationRepository = (*PostgresApplicationRepo)(nil)
