package model

import "time"

// ApplicationStatus は応募のライフサイクル状態を表す。
type ApplicationStatus string

const (
	// StatusPending は応募直後の選考待ち状態。
	StatusPending ApplicationStatus = "pending"
	// StatusLocked は管理者に選出され、候補者の確認待ちの状態。
	StatusLocked ApplicationStatus = "locked"
	// StatusConfirmed は候補者が1次確認を完了した状態。
	StatusConfirmed ApplicationStatus = "confirmed"
	// StatusFullConfirmed は最終確認まで完了した状態。イベント開始までは取り消し可能。
	StatusFullConfirmed ApplicationStatus = "full_confirmed"
	// StatusRejected は選外となった終端状態。
	StatusRejected ApplicationStatus = "rejected"
	// StatusCancelled は選出後に候補者が辞退した終端状態。
	StatusCancelled ApplicationStatus = "cancelled"
	// StatusNoShow は確認後の辞退（ノーショー）の終端状態。
	StatusNoShow ApplicationStatus = "no_show"
)

// Label は状態の表示名を返す。
func (s ApplicationStatus) Label() string {
	switch s {
	case StatusPending:
		return "選考待ち"
	case StatusLocked:
		return "選出済み（確認待ち）"
	case StatusConfirmed:
		return "確認済み"
	case StatusFullConfirmed:
		return "最終確認済み"
	case StatusRejected:
		return "選外"
	case StatusCancelled:
		return "キャンセル"
	case StatusNoShow:
		return "ノーショー"
	default:
		return string(s)
	}
}

// IsTerminal は応募が終端状態に達しているかを返す。
// full_confirmedはハッピーパスの終端だが、イベント開始までは取り消し可能。
func (s ApplicationStatus) IsTerminal() bool {
	switch s {
	case StatusRejected, StatusCancelled, StatusNoShow, StatusFullConfirmed:
		return true
	default:
		return false
	}
}

// IsActive は応募がまだ生きている（選外・辞退で終わっていない）かを返す。
func (s ApplicationStatus) IsActive() bool {
	switch s {
	case StatusPending, StatusLocked, StatusConfirmed, StatusFullConfirmed:
		return true
	default:
		return false
	}
}

// OccupiesSlot は応募がスロットを占有している（選出済み以降の）状態かを返す。
// 占有状態の応募が存在するスロットには他の候補者を選出できない。
func (s ApplicationStatus) OccupiesSlot() bool {
	switch s {
	case StatusLocked, StatusConfirmed, StatusFullConfirmed:
		return true
	default:
		return false
	}
}

// OccupiedStatuses はスロットを占有する状態の一覧。SQLのIN句用。
var OccupiedStatuses = []ApplicationStatus{
	StatusLocked, StatusConfirmed, StatusFullConfirmed,
}

// ActiveStatuses は生きている応募の状態の一覧。SQLのIN句用。
var ActiveStatuses = []ApplicationStatus{
	StatusPending, StatusLocked, StatusConfirmed, StatusFullConfirmed,
}

// transitions は状態機械の許可された遷移を定義する。
var transitions = map[ApplicationStatus][]ApplicationStatus{
	StatusPending:       {StatusLocked, StatusRejected},
	StatusLocked:        {StatusConfirmed, StatusCancelled, StatusRejected},
	StatusConfirmed:     {StatusFullConfirmed, StatusNoShow, StatusRejected},
	StatusFullConfirmed: {StatusNoShow, StatusRejected},
}

// CanTransition はfromからtoへの状態遷移が許可されているかを返す。
func CanTransition(from, to ApplicationStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// RevokePenalty は取り消し時のペナルティ種別を表す。
type RevokePenalty int

const (
	// PenaltyNone はペナルティなし（選考待ちの取り消し）。応募レコードは削除される。
	PenaltyNone RevokePenalty = iota
	// PenaltyCancellation はキャンセルカウント+1（選出後・確認前の辞退）。
	PenaltyCancellation
	// PenaltyNoShow はノーショーカウント+1（確認後の辞退）。管理者へ警報を送る。
	PenaltyNoShow
)

// RevokeOutcome は取り消し操作の結果（遷移先とペナルティ）を返す。
// 選考待ちはレコード削除（deleted=true）、それ以外は状態遷移となる。
// 取り消し不可能な状態ではok=falseを返す。
func RevokeOutcome(s ApplicationStatus) (next ApplicationStatus, deleted bool, penalty RevokePenalty, ok bool) {
	switch s {
	case StatusPending:
		return "", true, PenaltyNone, true
	case StatusLocked:
		return StatusCancelled, false, PenaltyCancellation, true
	case StatusConfirmed, StatusFullConfirmed:
		return StatusNoShow, false, PenaltyNoShow, true
	default:
		return "", false, PenaltyNone, false
	}
}

// Application は候補者によるスロットへの応募を表す中心エンティティ。
// 状態は状態機械の遷移を通じてのみ変更される。
type Application struct {
	ID           string
	EventID      string
	CandidateCID int64
	PositionID   string
	TimeBlockID  string
	Status       ApplicationStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ApplicationDetail は応募に表示用の関連情報を結合した構造体。
type ApplicationDetail struct {
	Application
	CandidateName   string
	CandidateRating Rating
	Callsign        string
	BlockNumber     int
	BlockStart      time.Time
	BlockEnd        time.Time
	EventName       string
}
