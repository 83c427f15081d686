// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/hitoshi/eventometer/internal/model"
)

// EventRepository はイベント・タイムブロック・ポジションの永続化インターフェース。
type EventRepository interface {
	// FindByID は指定IDのイベントを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Event, error)

	// FindByVatsimID は外部イベントIDでイベントを検索する。見つからない場合はnilを返す。
	FindByVatsimID(ctx context.Context, vatsimID int64) (*model.Event, error)

	// Create はイベントを作成する。
	Create(ctx context.Context, event *model.Event) error

	// Update はイベント情報（インポート済みメタデータ）を更新する。
	Update(ctx context.Context, event *model.Event) error

	// UpdateStatus はイベントのライフサイクル状態を更新する。
	UpdateStatus(ctx context.Context, id string, status model.EventStatus) error

	// UpdateAnnouncement は告知メッセージの参照を保存する。
	UpdateAnnouncement(ctx context.Context, id, channelID, messageID string) error

	// ReplaceTimeBlocks はイベントのタイムブロックを作り直す。
	// 既存ブロックに紐付く応募がある場合はCASCADEで削除されるため、
	// 受付開始前にのみ呼び出すこと。
	ReplaceTimeBlocks(ctx context.Context, eventID string, blocks []*model.TimeBlock) error

	// ListTimeBlocks はイベントのタイムブロックを番号順に返す。
	ListTimeBlocks(ctx context.Context, eventID string) ([]*model.TimeBlock, error)

	// FindTimeBlock は指定IDのタイムブロックを取得する。見つからない場合はnilを返す。
	FindTimeBlock(ctx context.Context, id string) (*model.TimeBlock, error)

	// AddPosition はイベントにポジションを追加する。
	AddPosition(ctx context.Context, position *model.Position) error

	// RemovePosition はポジションを削除する。紐付く応募もCASCADE削除される。
	RemovePosition(ctx context.Context, id string) error

	// ListPositions はイベントのポジションをコールサイン順に返す。
	ListPositions(ctx context.Context, eventID string) ([]*model.Position, error)

	// FindPosition は指定IDのポジションを取得する。見つからない場合はnilを返す。
	FindPosition(ctx context.Context, id string) (*model.Position, error)

	// ListByStatus は指定状態のイベント一覧を開始時刻順に返す。
	ListByStatus(ctx context.Context, status model.EventStatus) ([]*model.Event, error)
}

// CandidateRepository は候補者・管理者データの永続化インターフェース。
type CandidateRepository interface {
	// FindByCID は指定CIDの候補者を取得する。見つからない場合はnilを返す。
	FindByCID(ctx context.Context, cid int64) (*model.Candidate, error)

	// FindByChatUserID はチャットユーザーIDで候補者を検索する。見つからない場合はnilを返す。
	FindByChatUserID(ctx context.Context, chatUserID string) (*model.Candidate, error)

	// Create は候補者を作成する。
	Create(ctx context.Context, candidate *model.Candidate) error

	// Update は候補者のプロフィール（表示名・レーティング・チャットID）を更新する。
	Update(ctx context.Context, candidate *model.Candidate) error

	// UpdateAdminNotes は管理者メモを更新する。
	UpdateAdminNotes(ctx context.Context, cid int64, notes string) error

	// ListAdmins は管理者の一覧を返す。
	ListAdmins(ctx context.Context) ([]*model.Admin, error)

	// FindAdminByChatUserID はチャットユーザーIDで管理者を検索する。見つからない場合はnilを返す。
	FindAdminByChatUserID(ctx context.Context, chatUserID string) (*model.Admin, error)
}

// ApplicationRepository は応募データの読み取りインターフェース。
// 状態を変更する操作はBookingTxを通じて行う。
type ApplicationRepository interface {
	// FindByID は指定IDの応募を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Application, error)

	// FindDetailByID は指定IDの応募を表示用の関連情報付きで取得する。
	// 見つからない場合はnilを返す。
	FindDetailByID(ctx context.Context, id string) (*model.ApplicationDetail, error)

	// ListDetailsByEvent はイベントの全応募を関連情報付きで返す。
	// ブロック番号、コールサインの順に整列する。
	ListDetailsByEvent(ctx context.Context, eventID string) ([]*model.ApplicationDetail, error)

	// ListDetailsByEventAndStatus は指定状態の応募のみを関連情報付きで返す。
	ListDetailsByEventAndStatus(ctx context.Context, eventID string, status model.ApplicationStatus) ([]*model.ApplicationDetail, error)

	// ListDetailsByCandidate は候補者の応募一覧をイベント横断で返す。
	ListDetailsByCandidate(ctx context.Context, cid int64) ([]*model.ApplicationDetail, error)

	// ListPendingBySlot はスロットの選考待ち応募を応募順に返す。
	ListPendingBySlot(ctx context.Context, positionID, timeBlockID string) ([]*model.ApplicationDetail, error)

	// ListBackfillCandidates はイベントの補充候補を返す。
	// 選外を含む全応募者のうち、占有中の応募を1件も持たない候補者の応募を
	// レーティング降順、応募日時昇順で返す。
	ListBackfillCandidates(ctx context.Context, eventID string) ([]*model.ApplicationDetail, error)
}

// BookingTx は直列化可能トランザクション内で利用できるブッキング操作の集合。
// スロット占有と状態遷移の不変条件はこのトランザクション境界の中で検査される。
type BookingTx interface {
	// GetEvent はイベントを行ロック付きで取得する。見つからない場合はnilを返す。
	GetEvent(ctx context.Context, id string) (*model.Event, error)

	// GetApplication は応募を行ロック付きで取得する。見つからない場合はnilを返す。
	GetApplication(ctx context.Context, id string) (*model.Application, error)

	// GetSlotOccupant はスロットを占有している応募を返す。占有者がいなければnilを返す。
	GetSlotOccupant(ctx context.Context, positionID, timeBlockID string) (*model.Application, error)

	// GetCandidateBlockOccupant は候補者が同一タイムブロックで占有中の応募を返す。
	// 存在しなければnilを返す。
	GetCandidateBlockOccupant(ctx context.Context, cid int64, timeBlockID string) (*model.Application, error)

	// FindDuplicateApplication は同一（候補者, ポジション, ブロック）の生きている応募を返す。
	// 存在しなければnilを返す。
	FindDuplicateApplication(ctx context.Context, cid int64, positionID, timeBlockID string) (*model.Application, error)

	// CreateApplication は応募を作成する。
	CreateApplication(ctx context.Context, app *model.Application) error

	// UpdateStatus は応募の状態を更新する。
	UpdateStatus(ctx context.Context, id string, status model.ApplicationStatus) error

	// DeleteApplication は応募レコードを削除する（選考待ちの取り消し専用）。
	DeleteApplication(ctx context.Context, id string) error

	// RejectPendingBySlot はスロットの選考待ち応募を指定IDを除いて一括で選外にする。
	// 選外にした件数を返す。
	RejectPendingBySlot(ctx context.Context, positionID, timeBlockID, excludeID string) (int, error)

	// RejectPendingByCandidateBlock は候補者の同一ブロック内の選考待ち応募を
	// 指定IDを除いて一括で選外にする。選外にした件数を返す。
	RejectPendingByCandidateBlock(ctx context.Context, cid int64, timeBlockID, excludeID string) (int, error)

	// RejectAllPending はイベントの全選考待ち応募を選外にする。選外にした件数を返す。
	RejectAllPending(ctx context.Context, eventID string) (int, error)

	// ListRejectedOnlyCandidates は選外通知の対象となる候補者をトランザクション内で返す。
	// 選外となった応募を1件以上持ち、かつ生きている応募を1件も持たない候補者。
	ListRejectedOnlyCandidates(ctx context.Context, eventID string) ([]*model.Candidate, error)

	// SetEventStatus はイベントの状態を更新する。
	SetEventStatus(ctx context.Context, eventID string, status model.EventStatus) error

	// AddCounters は候補者の実績カウンターに差分を加算する。
	AddCounters(ctx context.Context, cid int64, applications, participations, noShows, cancellations int) error

	// EnqueueJob は通知ジョブをキューに積む。
	// 状態遷移と同一トランザクションでコミットされる。
	EnqueueJob(ctx context.Context, job *model.NotificationJob) error
}

// BookingStore は直列化可能トランザクションの実行インターフェース。
type BookingStore interface {
	// InTx はfnを直列化可能トランザクション内で実行する。
	// fnがエラーを返した場合はロールバックする。直列化失敗・デッドロックは
	// ConcurrentModificationErrorに変換して返す。
	InTx(ctx context.Context, fn func(tx BookingTx) error) error
}

// NotificationRepository は通知キューとフォールバックチャンネルの永続化インターフェース。
type NotificationRepository interface {
	// Enqueue は通知ジョブをキューに積む（トランザクション外の単独投入用）。
	Enqueue(ctx context.Context, job *model.NotificationJob) error

	// ListDue は配送対象のジョブを取得する。
	// next_attempt_at <= now() かつ state = 'queued' のジョブを
	// 優先度昇順・作成日時昇順で取得する。取得同士の排他は保証されず、
	// 複数プロセスが並走した場合は同じジョブを重複して取得し得る。
	// 配送はat-least-onceを前提とする。
	ListDue(ctx context.Context, limit int) ([]*model.NotificationJob, error)

	// Update はジョブの配送状態を更新する。
	Update(ctx context.Context, job *model.NotificationJob) error

	// CountQueued は配送待ちジョブ数を返す。
	CountQueued(ctx context.Context) (int, error)

	// ListFailedByEvent はイベントの配送失敗ジョブを返す。管理者への可視化用。
	ListFailedByEvent(ctx context.Context, eventID string) ([]*model.NotificationJob, error)

	// CreateFallbackChannel はフォールバックチャンネルを記録する。
	CreateFallbackChannel(ctx context.Context, channel *model.FallbackChannel) error

	// FindOpenFallbackChannel は受信者とイベントの組に対する削除予約されていない
	// チャンネルを検索する。見つからない場合はnilを返す。
	FindOpenFallbackChannel(ctx context.Context, cid int64, eventID string) (*model.FallbackChannel, error)

	// ScheduleChannelDeletion は受信者とイベントの組のチャンネルに削除予約時刻を設定する。
	ScheduleChannelDeletion(ctx context.Context, cid int64, eventID string, deleteAfter time.Time) error

	// ListChannelsDueForDeletion は削除予約時刻を過ぎたチャンネルと、
	// 猶予期間を超えて残っているチャンネルを返す。
	ListChannelsDueForDeletion(ctx context.Context, maxAge time.Duration) ([]*model.FallbackChannel, error)

	// DeleteFallbackChannel はチャンネルの記録を削除する。
	DeleteFallbackChannel(ctx context.Context, id string) error
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
