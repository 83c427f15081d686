package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/eventometer/internal/model"
)

// PostgresEventRepo はPostgreSQLを使用したイベントリポジトリ。
type PostgresEventRepo struct {
	db *sql.DB
}

// NewPostgresEventRepo はPostgresEventRepoを生成する。
func NewPostgresEventRepo(db *sql.DB) *PostgresEventRepo {
	return &PostgresEventRepo{db: db}
}

const eventColumns = `id, vatsim_id, name, link, banner_url, start_time, end_time,
	        short_description, description, status, block_minutes,
	        announce_channel_id, announce_message_id, created_at, updated_at`

func scanEvent(row interface{ Scan(dest ...any) error }) (*model.Event, error) {
	event := &model.Event{}
	var link, bannerURL, shortDesc, desc, announceChannel, announceMessage sql.NullString

	err := row.Scan(
		&event.ID, &event.VatsimID, &event.Name, &link, &bannerURL,
		&event.StartTime, &event.EndTime, &shortDesc, &desc,
		&event.Status, &event.BlockMinutes,
		&announceChannel, &announceMessage,
		&event.CreatedAt, &event.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	event.Link = nullStringValue(link)
	event.BannerURL = nullStringValue(bannerURL)
	event.ShortDescription = nullStringValue(shortDesc)
	event.Description = nullStringValue(desc)
	event.AnnounceChannelID = nullStringValue(announceChannel)
	event.AnnounceMessageID = nullStringValue(announceMessage)

	return event, nil
}

// FindByID は指定IDのイベントを取得する。見つからない場合はnilを返す。
func (r *PostgresEventRepo) FindByID(ctx context.Context, id string) (*model.Event, error) {
	event, err := scanEvent(r.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("イベントの取得に失敗しました: %w", err)
	}
	return event, nil
}

// FindByVatsimID は外部イベントIDでイベントを検索する。見つからない場合はnilを返す。
func (r *PostgresEventRepo) FindByVatsimID(ctx context.Context, vatsimID int64) (*model.Event, error) {
	event, err := scanEvent(r.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE vatsim_id = $1`, vatsimID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("外部IDによるイベントの検索に失敗しました: %w", err)
	}
	return event, nil
}

// Create はイベントを作成する。
func (r *PostgresEventRepo) Create(ctx context.Context, event *model.Event) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO events (id, vatsim_id, name, link, banner_url, start_time, end_time,
		                     short_description, description, status, block_minutes,
		                     announce_channel_id, announce_message_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		event.ID, event.VatsimID, event.Name,
		nullString(event.Link), nullString(event.BannerURL),
		event.StartTime, event.EndTime,
		nullString(event.ShortDescription), nullString(event.Description),
		event.Status, event.BlockMinutes,
		nullString(event.AnnounceChannelID), nullString(event.AnnounceMessageID),
		event.CreatedAt, event.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("イベントの作成に失敗しました: %w", err)
	}
	return nil
}

// Update はイベント情報を更新する。
func (r *PostgresEventRepo) Update(ctx context.Context, event *model.Event) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE events SET
		    name = $2, link = $3, banner_url = $4, start_time = $5, end_time = $6,
		    short_description = $7, description = $8, block_minutes = $9,
		    updated_at = now()
		 WHERE id = $1`,
		event.ID, event.Name,
		nullString(event.Link), nullString(event.BannerURL),
		event.StartTime, event.EndTime,
		nullString(event.ShortDescription), nullString(event.Description),
		event.BlockMinutes,
	)
	if err != nil {
		return fmt.Errorf("イベントの更新に失敗しました: %w", err)
	}
	return nil
}

// UpdateStatus はイベントのライフサイクル状態を更新する。
func (r *PostgresEventRepo) UpdateStatus(ctx context.Context, id string, status model.EventStatus) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE events SET status = $2, updated_at = now() WHERE id = $1`,
		id, status,
	)
	if err != nil {
		return fmt.Errorf("イベント状態の更新に失敗しました: %w", err)
	}
	return nil
}

// UpdateAnnouncement は告知メッセージの参照を保存する。
func (r *PostgresEventRepo) UpdateAnnouncement(ctx context.Context, id, channelID, messageID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE events SET announce_channel_id = $2, announce_message_id = $3, updated_at = now()
		 WHERE id = $1`,
		id, nullString(channelID), nullString(messageID),
	)
	if err != nil {
		return fmt.Errorf("告知参照の保存に失敗しました: %w", err)
	}
	return nil
}

// ReplaceTimeBlocks はイベントのタイムブロックを作り直す。
func (r *PostgresEventRepo) ReplaceTimeBlocks(ctx context.Context, eventID string, blocks []*model.TimeBlock) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM time_blocks WHERE event_id = $1`, eventID,
	); err != nil {
		return fmt.Errorf("既存タイムブロックの削除に失敗しました: %w", err)
	}

	for _, block := range blocks {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO time_blocks (id, event_id, number, start_time, end_time)
			 VALUES ($1, $2, $3, $4, $5)`,
			block.ID, block.EventID, block.Number, block.StartTime, block.EndTime,
		); err != nil {
			return fmt.Errorf("タイムブロックの作成に失敗しました: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("タイムブロックのコミットに失敗しました: %w", err)
	}
	return nil
}

// ListTimeBlocks はイベントのタイムブロックを番号順に返す。
func (r *PostgresEventRepo) ListTimeBlocks(ctx context.Context, eventID string) ([]*model.TimeBlock, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, event_id, number, start_time, end_time
		 FROM time_blocks WHERE event_id = $1 ORDER BY number ASC`,
		eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("タイムブロック一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var blocks []*model.TimeBlock
	for rows.Next() {
		block := &model.TimeBlock{}
		if err := rows.Scan(&block.ID, &block.EventID, &block.Number, &block.StartTime, &block.EndTime); err != nil {
			return nil, fmt.Errorf("タイムブロックの読み取りに失敗しました: %w", err)
		}
		blocks = append(blocks, block)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("タイムブロックの走査に失敗しました: %w", err)
	}
	return blocks, nil
}

// FindTimeBlock は指定IDのタイムブロックを取得する。見つからない場合はnilを返す。
func (r *PostgresEventRepo) FindTimeBlock(ctx context.Context, id string) (*model.TimeBlock, error) {
	block := &model.TimeBlock{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, event_id, number, start_time, end_time FROM time_blocks WHERE id = $1`,
		id,
	).Scan(&block.ID, &block.EventID, &block.Number, &block.StartTime, &block.EndTime)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("タイムブロックの取得に失敗しました: %w", err)
	}
	return block, nil
}

// AddPosition はイベントにポジションを追加する。
func (r *PostgresEventRepo) AddPosition(ctx context.Context, position *model.Position) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO positions (id, event_id, icao, name, min_rating)
		 VALUES ($1, $2, $3, $4, $5)`,
		position.ID, position.EventID, position.ICAO, position.Name, position.MinRating,
	)
	if err != nil {
		return fmt.Errorf("ポジションの追加に失敗しました: %w", err)
	}
	return nil
}

// RemovePosition はポジションを削除する。
func (r *PostgresEventRepo) RemovePosition(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM positions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ポジションの削除に失敗しました: %w", err)
	}
	return nil
}

// ListPositions はイベントのポジションをコールサイン順に返す。
func (r *PostgresEventRepo) ListPositions(ctx context.Context, eventID string) ([]*model.Position, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, event_id, icao, name, min_rating
		 FROM positions WHERE event_id = $1 ORDER BY icao ASC, name ASC`,
		eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("ポジション一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var positions []*model.Position
	for rows.Next() {
		position := &model.Position{}
		if err := rows.Scan(&position.ID, &position.EventID, &position.ICAO, &position.Name, &position.MinRating); err != nil {
			return nil, fmt.Errorf("ポジションの読み取りに失敗しました: %w", err)
		}
		positions = append(positions, position)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ポジションの走査に失敗しました: %w", err)
	}
	return positions, nil
}

// FindPosition は指定IDのポジションを取得する。見つからない場合はnilを返す。
func (r *PostgresEventRepo) FindPosition(ctx context.Context, id string) (*model.Position, error) {
	position := &model.Position{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, event_id, icao, name, min_rating FROM positions WHERE id = $1`,
		id,
	).Scan(&position.ID, &position.EventID, &position.ICAO, &position.Name, &position.MinRating)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ポジションの取得に失敗しました: %w", err)
	}
	return position, nil
}

// ListByStatus は指定状態のイベント一覧を開始時刻順に返す。
func (r *PostgresEventRepo) ListByStatus(ctx context.Context, status model.EventStatus) ([]*model.Event, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE status = $1 ORDER BY start_time ASC`,
		status,
	)
	if err != nil {
		return nil, fmt.Errorf("イベント一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var events []*model.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("イベントの読み取りに失敗しました: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("イベントの走査に失敗しました: %w", err)
	}
	return events, nil
}

// nullString は空文字列をsql.NullStringに変換する。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringValue はsql.NullStringから文字列を取得する。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// compile-time interface check
var _ EventRepository = (*PostgresEventRepo)(nil)
