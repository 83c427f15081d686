// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// 原因カテゴリと呼び出し元向けの対処方法を含む。
// カテゴリ: validation（入力不備、再試行不可）、
// eligibility（応募資格違反、再試行不可）、
// conflict（コミット時の競合、最新状態の再取得後に手動再試行）、
// delivery（一時的な配送失敗、キューが有界回数で再試行）、
// system（内部エラー）。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, eligibility, conflict, delivery, system
	Action   string // 呼び出し元向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeSlotClosed             = "SLOT_CLOSED"
	ErrCodeRatingIneligible       = "RATING_INELIGIBLE"
	ErrCodeDuplicateBlock         = "DUPLICATE_BLOCK"
	ErrCodeSlotAlreadyFilled      = "SLOT_ALREADY_FILLED"
	ErrCodeConcurrentModification = "CONCURRENT_MODIFICATION"
	ErrCodeInvalidTransition      = "INVALID_TRANSITION"
	ErrCodeApplicationNotFound    = "APPLICATION_NOT_FOUND"
	ErrCodeEventNotFound          = "EVENT_NOT_FOUND"
	ErrCodeCandidateNotFound      = "CANDIDATE_NOT_FOUND"
	ErrCodeUnlinkedAccount        = "UNLINKED_ACCOUNT"
	ErrCodeEventNotConfigured     = "EVENT_NOT_CONFIGURED"
	ErrCodeSessionNotFound        = "SESSION_NOT_FOUND"
	ErrCodeInvalidRequest         = "INVALID_REQUEST"
)

// NewSlotClosedError はイベントが受付中でない場合のエラーを生成する。
func NewSlotClosedError(eventName string) *APIError {
	return &APIError{
		Code:     ErrCodeSlotClosed,
		Message:  fmt.Sprintf("イベント「%s」はブッキングを受け付けていません。", eventName),
		Category: "eligibility",
		Action:   "受付中のイベントを選択してください。",
	}
}

// NewRatingIneligibleError はレーティング要件を満たさない場合のエラーを生成する。
func NewRatingIneligibleError(callsign string, required, actual Rating) *APIError {
	return &APIError{
		Code:     ErrCodeRatingIneligible,
		Message:  fmt.Sprintf("ポジション %s には %s 以上のレーティングが必要です（現在: %s）。", callsign, required, actual),
		Category: "eligibility",
		Action:   "レーティング要件を満たすポジションに応募してください。",
	}
}

// NewDuplicateBlockError は同一タイムブロック内の二重割り当てエラーを生成する。
func NewDuplicateBlockError(blockText string) *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateBlock,
		Message:  fmt.Sprintf("同じ時間帯（%s）に既に割り当て済みの応募があります。", blockText),
		Category: "eligibility",
		Action:   "同一タイムブロックには1つのポジションのみ割り当て可能です。",
	}
}

// NewSlotAlreadyFilledError はスロットが既に占有されている場合のエラーを生成する。
func NewSlotAlreadyFilledError(callsign string) *APIError {
	return &APIError{
		Code:     ErrCodeSlotAlreadyFilled,
		Message:  fmt.Sprintf("ポジション %s のこの時間帯は既に他の候補者で埋まっています。", callsign),
		Category: "conflict",
		Action:   "最新の割り当て状況を確認してから再度選択してください。",
	}
}

// NewConcurrentModificationError はコミット時の競合エラーを生成する。
// 最新状態を見た上で判断し直す必要があるため、自動では再試行しない。
func NewConcurrentModificationError() *APIError {
	return &APIError{
		Code:     ErrCodeConcurrentModification,
		Message:  "他の操作と競合したため変更をコミットできませんでした。",
		Category: "conflict",
		Action:   "最新の状態を再取得してから、もう一度お試しください。",
	}
}

// NewInvalidTransitionError は許可されていない状態遷移のエラーを生成する。
func NewInvalidTransitionError(from ApplicationStatus, operation string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidTransition,
		Message:  fmt.Sprintf("現在の状態（%s）では%sを実行できません。", from.Label(), operation),
		Category: "validation",
		Action:   "応募の現在の状態を確認してください。",
	}
}

// NewApplicationNotFoundError は応募未検出エラーを生成する。
func NewApplicationNotFoundError(applicationID string) *APIError {
	return &APIError{
		Code:     ErrCodeApplicationNotFound,
		Message:  fmt.Sprintf("指定された応募が見つかりません: %s", applicationID),
		Category: "validation",
		Action:   "応募IDを確認してください。",
	}
}

// NewEventNotFoundError はイベント未検出エラーを生成する。
func NewEventNotFoundError(eventID string) *APIError {
	return &APIError{
		Code:     ErrCodeEventNotFound,
		Message:  fmt.Sprintf("指定されたイベントが見つかりません: %s", eventID),
		Category: "validation",
		Action:   "イベントIDを確認してください。",
	}
}

// NewCandidateNotFoundError は候補者未検出エラーを生成する。
func NewCandidateNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeCandidateNotFound,
		Message:  "候補者が見つかりません。",
		Category: "validation",
		Action:   "先にアカウント連携を完了してください。",
	}
}

// NewUnlinkedAccountError はチャットアカウントが外部IDに紐付いていない場合のエラーを生成する。
func NewUnlinkedAccountError() *APIError {
	return &APIError{
		Code:     ErrCodeUnlinkedAccount,
		Message:  "チャットアカウントがVATSIMアカウントに連携されていません。",
		Category: "eligibility",
		Action:   "Community Hubでアカウント連携を行ってから再度お試しください。",
	}
}

// NewEventNotConfiguredError はタイムブロックやポジションが未設定の場合のエラーを生成する。
func NewEventNotConfiguredError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeEventNotConfigured,
		Message:  fmt.Sprintf("イベントの設定が完了していません: %s", reason),
		Category: "validation",
		Action:   "タイムブロックとポジションを設定してからブッキングを開始してください。",
	}
}

// NewSessionNotFoundError は選択セッション未検出（期限切れ含む）のエラーを生成する。
func NewSessionNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionNotFound,
		Message:  "選択セッションが見つからないか、有効期限が切れています。",
		Category: "validation",
		Action:   "最初から選択をやり直してください。",
	}
}

// NewInvalidRequestError はリクエスト不備のエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "リクエスト内容を確認してください。",
	}
}
