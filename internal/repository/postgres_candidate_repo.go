package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/eventometer/internal/model"
)

// PostgresCandidateRepo はPostgreSQLを使用した候補者リポジトリ。
type PostgresCandidateRepo struct {
	db *sql.DB
}

// NewPostgresCandidateRepo はPostgresCandidateRepoを生成する。
func NewPostgresCandidateRepo(db *sql.DB) *PostgresCandidateRepo {
	return &PostgresCandidateRepo{db: db}
}

const candidateColumns = `cid, chat_user_id, display_name, rating,
	        total_applications, total_participations, total_no_shows, total_cancellations,
	        admin_notes, created_at, updated_at`

func scanCandidate(row interface{ Scan(dest ...any) error }) (*model.Candidate, error) {
	candidate := &model.Candidate{}
	var chatUserID, adminNotes sql.NullString

	err := row.Scan(
		&candidate.CID, &chatUserID, &candidate.DisplayName, &candidate.Rating,
		&candidate.TotalApplications, &candidate.TotalParticipations,
		&candidate.TotalNoShows, &candidate.TotalCancellations,
		&adminNotes, &candidate.CreatedAt, &candidate.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	candidate.ChatUserID = nullStringValue(chatUserID)
	candidate.AdminNotes = nullStringValue(adminNotes)

	return candidate, nil
}

// FindByCID は指定CIDの候補者を取得する。見つからない場合はnilを返す。
func (r *PostgresCandidateRepo) FindByCID(ctx context.Context, cid int64) (*model.Candidate, error) {
	candidate, err := scanCandidate(r.db.QueryRowContext(ctx,
		`SELECT `+candidateColumns+` FROM candidates WHERE cid = $1`, cid))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("候補者の取得に失敗しました: %w", err)
	}
	return candidate, nil
}

// FindByChatUserID はチャットユーザーIDで候補者を検索する。見つからない場合はnilを返す。
func (r *PostgresCandidateRepo) FindByChatUserID(ctx context.Context, chatUserID string) (*model.Candidate, error) {
	candidate, err := scanCandidate(r.db.QueryRowContext(ctx,
		`SELECT `+candidateColumns+` FROM candidates WHERE chat_user_id = $1`, chatUserID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("チャットIDによる候補者の検索に失敗しました: %w", err)
	}
	return candidate, nil
}

// Create は候補者を作成する。
func (r *PostgresCandidateRepo) Create(ctx context.Context, candidate *model.Candidate) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO candidates (cid, chat_user_id, display_name, rating,
		                         total_applications, total_participations,
		                         total_no_shows, total_cancellations,
		                         admin_notes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		candidate.CID, nullString(candidate.ChatUserID), candidate.DisplayName, candidate.Rating,
		candidate.TotalApplications, candidate.TotalParticipations,
		candidate.TotalNoShows, candidate.TotalCancellations,
		nullString(candidate.AdminNotes), candidate.CreatedAt, candidate.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("候補者の作成に失敗しました: %w", err)
	}
	return nil
}

// Update は候補者のプロフィールを更新する。
func (r *PostgresCandidateRepo) Update(ctx context.Context, candidate *model.Candidate) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE candidates SET
		    chat_user_id = $2, display_name = $3, rating = $4, updated_at = now()
		 WHERE cid = $1`,
		candidate.CID, nullString(candidate.ChatUserID), candidate.DisplayName, candidate.Rating,
	)
	if err != nil {
		return fmt.Errorf("候補者の更新に失敗しました: %w", err)
	}
	return nil
}

// UpdateAdminNotes は管理者メモを更新する。
func (r *PostgresCandidateRepo) UpdateAdminNotes(ctx context.Context, cid int64, notes string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE candidates SET admin_notes = $2, updated_at = now() WHERE cid = $1`,
		cid, nullString(notes),
	)
	if err != nil {
		return fmt.Errorf("管理者メモの更新に失敗しました: %w", err)
	}
	return nil
}

// ListAdmins は管理者の一覧を返す。
func (r *PostgresCandidateRepo) ListAdmins(ctx context.Context) ([]*model.Admin, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, chat_user_id, name, created_at FROM admins ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("管理者一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var admins []*model.Admin
	for rows.Next() {
		admin := &model.Admin{}
		if err := rows.Scan(&admin.ID, &admin.ChatUserID, &admin.Name, &admin.CreatedAt); err != nil {
			return nil, fmt.Errorf("管理者の読み取りに失敗しました: %w", err)
		}
		admins = append(admins, admin)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("管理者の走査に失敗しました: %w", err)
	}
	return admins, nil
}

// FindAdminByChatUserID はチャットユーザーIDで管理者を検索する。見つからない場合はnilを返す。
func (r *PostgresCandidateRepo) FindAdminByChatUserID(ctx context.Context, chatUserID string) (*model.Admin, error) {
	admin := &model.Admin{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, chat_user_id, name, created_at FROM admins WHERE chat_user_id = $1`,
		chatUserID,
	).Scan(&admin.ID, &admin.ChatUserID, &admin.Name, &admin.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("管理者の検索に失敗しました: %w", err)
	}
	return admin, nil
}

// compile-time interface check
var _ CandidateRepository = (*PostgresCandidateRepo)(nil)
