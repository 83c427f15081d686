// Package session は応募スロット選択の対話セッションを管理する。
// セッションは (候補者, イベント) ごとに1つで、タイムブロックの選択から
// ポジションの選択を経て確定に至る。一定時間操作がないと破棄される。
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/eventometer/internal/model"
)

// DefaultTTL はセッションの有効期間。
const DefaultTTL = 5 * time.Minute

// Stage はセッションの進行段階を表す。
type Stage string

const (
	// StageBlocks はタイムブロック選択中。
	StageBlocks Stage = "blocks"
	// StagePositions はポジション選択中。
	StagePositions Stage = "positions"
	// StageDone は選択完了。応募作成に引き渡せる状態。
	StageDone Stage = "done"
)

// Session は進行中の選択セッション。
type Session struct {
	ID           string
	CandidateCID int64
	EventID      string
	Stage        Stage

	// 選択済みのタイムブロックID
	BlockIDs []string
	// 選択済みのスロット（ブロック×ポジション）
	Slots []model.Slot

	ExpiresAt time.Time
}

// Store はセッションのインメモリストア。並行アクセスに対して安全。
type Store struct {
	mu   sync.Mutex
	byID map[string]*Session
	// (候補者, イベント) → セッションID
	byKey map[sessionKey]string
	ttl   time.Duration
	now   func() time.Time
}

type sessionKey struct {
	cid     int64
	eventID string
}

// NewStore はStoreの新しいインスタンスを生成する。
func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		byID:  make(map[string]*Session),
		byKey: make(map[sessionKey]string),
		ttl:   ttl,
		now:   time.Now,
	}
}

// Begin は新しいセッションを開始する。
// 同じ候補者とイベントの組に既存のセッションがある場合は破棄して作り直す。
func (s *Store) Begin(cid int64, eventID string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := sessionKey{cid: cid, eventID: eventID}
	if oldID, ok := s.byKey[key]; ok {
		delete(s.byID, oldID)
	}

	session := &Session{
		ID:           uuid.NewString(),
		CandidateCID: cid,
		EventID:      eventID,
		Stage:        StageBlocks,
		ExpiresAt:    s.now().Add(s.ttl),
	}
	s.byID[session.ID] = session
	s.byKey[key] = session.ID
	return session
}

// Get はセッションを取得する。存在しないか期限切れの場合はエラーを返す。
func (s *Store) Get(id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(id)
}

func (s *Store) get(id string) (*Session, error) {
	session, ok := s.byID[id]
	if !ok {
		return nil, model.NewSessionNotFoundError()
	}
	if s.now().After(session.ExpiresAt) {
		s.remove(session)
		return nil, model.NewSessionNotFoundError()
	}
	return session, nil
}

// ChooseBlocks はタイムブロックの選択を確定し、ポジション選択へ進める。
func (s *Store) ChooseBlocks(id string, blockIDs []string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.get(id)
	if err != nil {
		return nil, err
	}
	if session.Stage != StageBlocks {
		return nil, model.NewInvalidRequestError("このセッションはブロック選択の段階ではありません")
	}
	if len(blockIDs) == 0 {
		return nil, model.NewInvalidRequestError("タイムブロックを1つ以上選択してください")
	}

	session.BlockIDs = blockIDs
	session.Stage = StagePositions
	session.ExpiresAt = s.now().Add(s.ttl)
	return session, nil
}

// ChooseSlots はポジションの選択を確定し、セッションを完了状態にする。
// 選択されたスロットのブロックはChooseBlocksで選んだ集合に含まれること。
func (s *Store) ChooseSlots(id string, slots []model.Slot) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.get(id)
	if err != nil {
		return nil, err
	}
	if session.Stage != StagePositions {
		return nil, model.NewInvalidRequestError("このセッションはポジション選択の段階ではありません")
	}
	if len(slots) == 0 {
		return nil, model.NewInvalidRequestError("スロットを1つ以上選択してください")
	}

	chosen := make(map[string]bool, len(session.BlockIDs))
	for _, blockID := range session.BlockIDs {
		chosen[blockID] = true
	}
	for _, slot := range slots {
		if !chosen[slot.TimeBlockID] {
			return nil, model.NewInvalidRequestError("選択していないタイムブロックのスロットが含まれています")
		}
	}

	session.Slots = slots
	session.Stage = StageDone
	session.ExpiresAt = s.now().Add(s.ttl)
	return session, nil
}

// Complete は完了したセッションを閉じ、選択されたスロットを返す。
func (s *Store) Complete(id string) ([]model.Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.get(id)
	if err != nil {
		return nil, err
	}
	if session.Stage != StageDone {
		return nil, model.NewInvalidRequestError("スロットの選択が完了していません")
	}

	s.remove(session)
	return session.Slots, nil
}

// Abort はセッションを破棄する。存在しない場合も成功として扱う。
func (s *Store) Abort(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if session, ok := s.byID[id]; ok {
		s.remove(session)
	}
}

// Sweep は期限切れのセッションを破棄し、破棄した件数を返す。
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for _, session := range s.byID {
		if now.After(session.ExpiresAt) {
			s.remove(session)
			removed++
		}
	}
	return removed
}

// Len は有効なセッション数を返す。
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

func (s *Store) remove(session *Session) {
	delete(s.byID, session.ID)
	delete(s.byKey, sessionKey{cid: session.CandidateCID, eventID: session.EventID})
}
