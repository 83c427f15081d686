package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/eventometer/internal/model"
)

// PostgresNotificationRepo はPostgreSQLを使用した通知キューリポジトリ。
// ジョブテーブル自体が永続キューとして機能し、再起動してもジョブは失われない。
type PostgresNotificationRepo struct {
	db *sql.DB
}

// NewPostgresNotificationRepo はPostgresNotificationRepoを生成する。
func NewPostgresNotificationRepo(db *sql.DB) *PostgresNotificationRepo {
	return &PostgresNotificationRepo{db: db}
}

const jobColumns = `id, kind, event_id, application_id, recipient_cid, recipient_chat,
	        event_name, callsign, block_text, details,
	        state, attempt_count, next_attempt_at, fallback_channel_id, last_error,
	        created_at, updated_at`

func scanJob(row interface{ Scan(dest ...any) error }) (*model.NotificationJob, error) {
	job := &model.NotificationJob{}
	var applicationID, recipientChat, callsign, blockText, details, fallbackChannelID, lastError sql.NullString

	err := row.Scan(
		&job.ID, &job.Kind, &job.EventID, &applicationID,
		&job.RecipientCID, &recipientChat,
		&job.EventName, &callsign, &blockText, &details,
		&job.State, &job.AttemptCount, &job.NextAttemptAt,
		&fallbackChannelID, &lastError,
		&job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.ApplicationID = nullStringValue(applicationID)
	job.RecipientChat = nullStringValue(recipientChat)
	job.Callsign = nullStringValue(callsign)
	job.BlockText = nullStringValue(blockText)
	job.Details = nullStringValue(details)
	job.FallbackChannelID = nullStringValue(fallbackChannelID)
	job.LastError = nullStringValue(lastError)

	return job, nil
}

// Enqueue は通知ジョブをキューに積む。
func (r *PostgresNotificationRepo) Enqueue(ctx context.Context, job *model.NotificationJob) error {
	return insertJob(ctx, r.db, job)
}

// insertJob はジョブをINSERTする。トランザクション内外の両方から使う。
func insertJob(ctx context.Context, executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}, job *model.NotificationJob) error {
	_, err := executor.ExecContext(ctx,
		`INSERT INTO notification_jobs (id, kind, event_id, application_id,
		                                recipient_cid, recipient_chat,
		                                event_name, callsign, block_text, details,
		                                state, attempt_count, next_attempt_at,
		                                fallback_channel_id, last_error,
		                                created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		job.ID, job.Kind, job.EventID, nullString(job.ApplicationID),
		job.RecipientCID, nullString(job.RecipientChat),
		job.EventName, nullString(job.Callsign), nullString(job.BlockText), nullString(job.Details),
		job.State, job.AttemptCount, job.NextAttemptAt,
		nullString(job.FallbackChannelID), nullString(job.LastError),
		job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("通知ジョブの投入に失敗しました: %w", err)
	}
	return nil
}

// ListDue は配送対象のジョブを取得する。
// next_attempt_at <= now() かつ state = 'queued' のジョブを
// 優先度昇順・作成日時昇順で取得する。SKIP LOCKEDの行ロックは文の完了時に
// 解放されるため、取得同士の排他は保証されない。複数ワーカーが並走した場合は
// 同じジョブを重複して取得し得る。配送はat-least-onceを前提とする。
func (r *PostgresNotificationRepo) ListDue(ctx context.Context, limit int) ([]*model.NotificationJob, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+jobColumns+`
		 FROM notification_jobs
		 WHERE state = 'queued' AND next_attempt_at <= now()
		 ORDER BY
		   CASE WHEN kind IN ('selection', 'reminder') THEN 0 ELSE 1 END ASC,
		   created_at ASC
		 LIMIT $1
		 FOR UPDATE SKIP LOCKED`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("配送対象ジョブの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var jobs []*model.NotificationJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("配送対象ジョブの読み取りに失敗しました: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("配送対象ジョブの走査に失敗しました: %w", err)
	}
	return jobs, nil
}

// Update はジョブの配送状態を更新する。
func (r *PostgresNotificationRepo) Update(ctx context.Context, job *model.NotificationJob) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE notification_jobs SET
		    state = $2,
		    attempt_count = $3,
		    next_attempt_at = $4,
		    fallback_channel_id = $5,
		    last_error = $6,
		    updated_at = now()
		 WHERE id = $1`,
		job.ID, job.State, job.AttemptCount, job.NextAttemptAt,
		nullString(job.FallbackChannelID), nullString(job.LastError),
	)
	if err != nil {
		return fmt.Errorf("通知ジョブの更新に失敗しました: %w", err)
	}
	return nil
}

// CountQueued は配送待ちジョブ数を返す。
func (r *PostgresNotificationRepo) CountQueued(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notification_jobs WHERE state = 'queued'`,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("配送待ちジョブ数の取得に失敗しました: %w", err)
	}
	return count, nil
}

// ListFailedByEvent はイベントの配送失敗ジョブを返す。
func (r *PostgresNotificationRepo) ListFailedByEvent(ctx context.Context, eventID string) ([]*model.NotificationJob, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+jobColumns+`
		 FROM notification_jobs
		 WHERE event_id = $1 AND state = 'failed'
		 ORDER BY created_at ASC`,
		eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("配送失敗ジョブの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var jobs []*model.NotificationJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("配送失敗ジョブの読み取りに失敗しました: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("配送失敗ジョブの走査に失敗しました: %w", err)
	}
	return jobs, nil
}

// CreateFallbackChannel はフォールバックチャンネルを記録する。
func (r *PostgresNotificationRepo) CreateFallbackChannel(ctx context.Context, channel *model.FallbackChannel) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO fallback_channels (id, handle, recipient_cid, recipient_chat, event_id,
		                                created_at, delete_after)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		channel.ID, channel.Handle, channel.RecipientCID,
		nullString(channel.RecipientChat), channel.EventID,
		channel.CreatedAt, channel.DeleteAfter,
	)
	if err != nil {
		return fmt.Errorf("フォールバックチャンネルの記録に失敗しました: %w", err)
	}
	return nil
}

func scanChannel(row interface{ Scan(dest ...any) error }) (*model.FallbackChannel, error) {
	channel := &model.FallbackChannel{}
	var recipientChat sql.NullString
	var deleteAfter sql.NullTime

	err := row.Scan(
		&channel.ID, &channel.Handle, &channel.RecipientCID,
		&recipientChat, &channel.EventID,
		&channel.CreatedAt, &deleteAfter,
	)
	if err != nil {
		return nil, err
	}

	channel.RecipientChat = nullStringValue(recipientChat)
	if deleteAfter.Valid {
		t := deleteAfter.Time
		channel.DeleteAfter = &t
	}

	return channel, nil
}

// FindOpenFallbackChannel は受信者とイベントの組に対する削除予約されていない
// チャンネルを検索する。見つからない場合はnilを返す。
func (r *PostgresNotificationRepo) FindOpenFallbackChannel(ctx context.Context, cid int64, eventID string) (*model.FallbackChannel, error) {
	channel, err := scanChannel(r.db.QueryRowContext(ctx,
		`SELECT id, handle, recipient_cid, recipient_chat, event_id, created_at, delete_after
		 FROM fallback_channels
		 WHERE recipient_cid = $1 AND event_id = $2 AND delete_after IS NULL
		 ORDER BY created_at DESC
		 LIMIT 1`,
		cid, eventID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("フォールバックチャンネルの検索に失敗しました: %w", err)
	}
	return channel, nil
}

// ScheduleChannelDeletion は受信者とイベントの組のチャンネルに削除予約時刻を設定する。
func (r *PostgresNotificationRepo) ScheduleChannelDeletion(ctx context.Context, cid int64, eventID string, deleteAfter time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE fallback_channels SET delete_after = $3
		 WHERE recipient_cid = $1 AND event_id = $2 AND delete_after IS NULL`,
		cid, eventID, deleteAfter,
	)
	if err != nil {
		return fmt.Errorf("チャンネル削除予約の設定に失敗しました: %w", err)
	}
	return nil
}

// ListChannelsDueForDeletion は削除予約時刻を過ぎたチャンネルと、
// 猶予期間を超えて残っているチャンネルを返す。
func (r *PostgresNotificationRepo) ListChannelsDueForDeletion(ctx context.Context, maxAge time.Duration) ([]*model.FallbackChannel, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, handle, recipient_cid, recipient_chat, event_id, created_at, delete_after
		 FROM fallback_channels
		 WHERE (delete_after IS NOT NULL AND delete_after <= now())
		    OR created_at < now() - $1::interval
		 ORDER BY created_at ASC`,
		fmt.Sprintf("%d seconds", int(maxAge.Seconds())),
	)
	if err != nil {
		return nil, fmt.Errorf("削除対象チャンネルの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var channels []*model.FallbackChannel
	for rows.Next() {
		channel, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("削除対象チャンネルの読み取りに失敗しました: %w", err)
		}
		channels = append(channels, channel)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("削除対象チャンネルの走査に失敗しました: %w", err)
	}
	return channels, nil
}

// DeleteFallbackChannel はチャンネルの記録を削除する。
func (r *PostgresNotificationRepo) DeleteFallbackChannel(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM fallback_channels WHERE id = $1`, id,
	)
	if err != nil {
		return fmt.Errorf("フォールバックチャンネルの削除に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ NotificationRepository = (*PostgresNotificationRepo)(nil)
