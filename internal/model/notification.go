package model

import (
	"fmt"
	"time"
)

// JobKind は通知ジョブの種別を表す閉じたタグ付きバリアント。
// 配送ワーカーはこのタグでswitchし、実行時の型検査は行わない。
type JobKind string

const (
	// KindSelection は選出通知（確認アクション付き）。
	KindSelection JobKind = "selection"
	// KindReminder はリマインダー通知（最終確認アクション付き）。
	KindReminder JobKind = "reminder"
	// KindRejection は選外通知。
	KindRejection JobKind = "rejection"
	// KindNoShowAlert は管理者向けノーショー警報。
	KindNoShowAlert JobKind = "noshow_alert"
)

// Priority はジョブ種別の配送優先度を返す。値が小さいほど先に配送される。
// 選出・リマインダーは高優先、選外通知とノーショー警報は低優先。
func (k JobKind) Priority() int {
	switch k {
	case KindSelection, KindReminder:
		return 0
	default:
		return 1
	}
}

// RequiresAction はジョブが受信者の確認アクションを伴うかを返す。
// 選出は1次確認、リマインダーは最終確認のアクションを運ぶ。
func (k JobKind) RequiresAction() bool {
	return k == KindSelection || k == KindReminder
}

// DeliveryState は通知ジョブの配送状態を表す。
type DeliveryState string

const (
	// DeliveryQueued は配送待ちの状態。
	DeliveryQueued DeliveryState = "queued"
	// DeliveredPrimary はダイレクトメッセージでの配送に成功した状態。
	DeliveredPrimary DeliveryState = "delivered_primary"
	// DeliveredFallback はフォールバックチャンネル経由で配送した状態。
	DeliveredFallback DeliveryState = "delivered_fallback"
	// DeliveryFailed はすべての配送経路が失敗した終端状態。管理者に可視化される。
	DeliveryFailed DeliveryState = "failed"
)

// NotificationJob は配送キューに積まれる1件の通知を表す。
// 状態遷移と同一トランザクションでINSERTされ、ワーカーが非同期に消化する。
type NotificationJob struct {
	ID            string
	Kind          JobKind
	EventID       string
	ApplicationID string // 応募に紐付かないジョブ（選外通知など）は空
	RecipientCID  int64
	RecipientChat string

	// ペイロード（種別ごとの不変フィールド）
	EventName string
	Callsign  string
	BlockText string
	Details   string // ノーショー警報のポジション一覧など

	State             DeliveryState
	AttemptCount      int
	NextAttemptAt     time.Time
	FallbackChannelID string
	LastError         string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message はジョブ種別に応じた通知本文を組み立てる。
func (j *NotificationJob) Message() string {
	switch j.Kind {
	case KindSelection:
		return fmt.Sprintf(
			"🎉 **%s** で選出されました！\n\n📍 ポジション: **%s**\n⏰ 時間帯: %s\n\n下のボタンで参加を確認してください。",
			j.EventName, j.Callsign, j.BlockText,
		)
	case KindReminder:
		return fmt.Sprintf(
			"⏰ リマインダー: **%s** が近づいています。\n\n📍 ポジション: **%s**\n⏰ 時間帯: %s\n\n下のボタンで最終確認をお願いします。",
			j.EventName, j.Callsign, j.BlockText,
		)
	case KindRejection:
		return fmt.Sprintf(
			"📭 **%s** では残念ながら選外となりました。\n\n次回のイベントへの応募をお待ちしています。",
			j.EventName,
		)
	case KindNoShowAlert:
		return fmt.Sprintf(
			"🚨 **ノーショー警報**\n\n%s\n\nイベント: **%s**\n%s",
			j.Details, j.EventName, j.BlockText,
		)
	default:
		return ""
	}
}

// ActionID は確認アクション付きジョブのアクション識別子を返す。
// アクションを伴わない種別では空文字列を返す。
func (j *NotificationJob) ActionID() string {
	if !j.Kind.RequiresAction() || j.ApplicationID == "" {
		return ""
	}
	if j.Kind == KindReminder {
		return "final_confirm_" + j.ApplicationID
	}
	return "confirm_" + j.ApplicationID
}

// FallbackChannel はダイレクトメッセージの配送が失敗した際に作成される
// 一時的なサイドチャンネルを表す。目的を果たすか猶予期間の経過後に破棄される。
type FallbackChannel struct {
	ID            string
	Handle        string
	RecipientCID  int64
	RecipientChat string
	EventID       string
	CreatedAt     time.Time
	// DeleteAfter が設定されると、クリーンアップジョブがその時刻以降に削除する。
	DeleteAfter *time.Time
}
