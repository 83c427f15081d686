package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/eventometer/internal/model"
	"github.com/hitoshi/eventometer/internal/session"
)

// SessionStore は対話的な応募フローのセッション操作インターフェース。
type SessionStore interface {
	// Begin は候補者とイベントの組に対するセッションを開始する。
	Begin(cid int64, eventID string) *session.Session
	// Get は指定IDのセッションを取得する。
	Get(id string) (*session.Session, error)
	// ChooseBlocks はタイムブロックの選択を記録しポジション選択段階へ進める。
	ChooseBlocks(id string, blockIDs []string) (*session.Session, error)
	// ChooseSlots はスロットの選択を記録し完了段階へ進める。
	ChooseSlots(id string, slots []model.Slot) (*session.Session, error)
	// Complete はセッションを終了し選択済みスロットを返す。
	Complete(id string) ([]model.Slot, error)
	// Abort はセッションを破棄する。
	Abort(id string)
}

// BulkApplier は選択済みスロットの一括応募インターフェース。
type BulkApplier interface {
	ApplyBulk(ctx context.Context, cid int64, eventID string, slots []model.Slot) (created int, skipped int, err error)
}

// SessionHandler は対話的な応募フローのHTTPハンドラー。
// ブロック選択 → ポジション選択 → 確定の段階を踏み、確定時に一括応募する。
type SessionHandler struct {
	sessions   SessionStore
	booking    BulkApplier
	candidates CandidateResolver
}

// NewSessionHandler はSessionHandlerを生成する。
func NewSessionHandler(sessions SessionStore, booking BulkApplier, candidates CandidateResolver) *SessionHandler {
	return &SessionHandler{
		sessions:   sessions,
		booking:    booking,
		candidates: candidates,
	}
}

// sessionResponse はセッション状態のAPIレスポンス。
type sessionResponse struct {
	ID       string   `json:"id"`
	EventID  string   `json:"event_id"`
	Stage    string   `json:"stage"`
	BlockIDs []string `json:"block_ids,omitempty"`
}

// chooseBlocksRequest はブロック選択リクエストのボディ。
type chooseBlocksRequest struct {
	BlockIDs []string `json:"block_ids"`
}

// chooseSlotsRequest はスロット選択リクエストのボディ。
type chooseSlotsRequest struct {
	Slots []slotRequest `json:"slots"`
}

type slotRequest struct {
	PositionID  string `json:"position_id"`
	TimeBlockID string `json:"time_block_id"`
}

// completeResponse はセッション確定結果のAPIレスポンス。
type completeResponse struct {
	Created int `json:"created"`
	Skipped int `json:"skipped"`
}

// Begin は応募セッションを開始する。
// 同一候補者・同一イベントの既存セッションは破棄して作り直す。
// POST /api/events/{id}/sessions
func (h *SessionHandler) Begin(w http.ResponseWriter, r *http.Request) {
	candidate, ok := h.resolveCandidate(w, r)
	if !ok {
		return
	}

	eventID := chi.URLParam(r, "id")
	sess := h.sessions.Begin(candidate.CID, eventID)

	writeJSON(w, http.StatusCreated, toSessionResponse(sess))
}

// ChooseBlocks はタイムブロックの選択を処理する。
// POST /api/sessions/{id}/blocks
func (h *SessionHandler) ChooseBlocks(w http.ResponseWriter, r *http.Request) {
	candidate, ok := h.resolveCandidate(w, r)
	if !ok {
		return
	}

	sessionID := chi.URLParam(r, "id")
	if _, ok := h.authorizeSession(w, candidate, sessionID); !ok {
		return
	}

	var req chooseBlocksRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("リクエストボディの解析に失敗しました"))
		return
	}
	if len(req.BlockIDs) == 0 {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("block_idsは必須です"))
		return
	}

	sess, err := h.sessions.ChooseBlocks(sessionID, req.BlockIDs)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toSessionResponse(sess))
}

// ChooseSlots はスロットの選択を処理する。
// POST /api/sessions/{id}/slots
func (h *SessionHandler) ChooseSlots(w http.ResponseWriter, r *http.Request) {
	candidate, ok := h.resolveCandidate(w, r)
	if !ok {
		return
	}

	sessionID := chi.URLParam(r, "id")
	if _, ok := h.authorizeSession(w, candidate, sessionID); !ok {
		return
	}

	var req chooseSlotsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("リクエストボディの解析に失敗しました"))
		return
	}
	if len(req.Slots) == 0 {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("slotsは必須です"))
		return
	}

	slots := make([]model.Slot, 0, len(req.Slots))
	for _, s := range req.Slots {
		slots = append(slots, model.Slot{PositionID: s.PositionID, TimeBlockID: s.TimeBlockID})
	}

	sess, err := h.sessions.ChooseSlots(sessionID, slots)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toSessionResponse(sess))
}

// Complete はセッションを確定し、選択済みスロットへ一括応募する。
// 既に埋まっているスロットはスキップされ、残りだけが作成される。
// POST /api/sessions/{id}/complete
func (h *SessionHandler) Complete(w http.ResponseWriter, r *http.Request) {
	candidate, ok := h.resolveCandidate(w, r)
	if !ok {
		return
	}

	sessionID := chi.URLParam(r, "id")
	sess, ok := h.authorizeSession(w, candidate, sessionID)
	if !ok {
		return
	}

	slots, err := h.sessions.Complete(sessionID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	created, skipped, err := h.booking.ApplyBulk(r.Context(), candidate.CID, sess.EventID, slots)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, completeResponse{Created: created, Skipped: skipped})
}

// Abort はセッションを破棄する。存在しないセッションの破棄も成功として扱う。
// DELETE /api/sessions/{id}
func (h *SessionHandler) Abort(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.resolveCandidate(w, r); !ok {
		return
	}

	h.sessions.Abort(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionHandler) resolveCandidate(w http.ResponseWriter, r *http.Request) (*model.Candidate, bool) {
	return resolveCandidate(w, r, h.candidates)
}

// authorizeSession はセッションが操作者自身のものであることを確認する。
func (h *SessionHandler) authorizeSession(w http.ResponseWriter, candidate *model.Candidate, sessionID string) (*session.Session, bool) {
	sess, err := h.sessions.Get(sessionID)
	if err != nil {
		handleServiceError(w, err)
		return nil, false
	}
	if sess.CandidateCID != candidate.CID {
		writeAPIErrorResponse(w, http.StatusForbidden, &model.APIError{
			Code:     "FORBIDDEN",
			Message:  "他の候補者のセッションは操作できません。",
			Category: "auth",
			Action:   "自分のセッションのみ操作してください。",
		})
		return nil, false
	}
	return sess, true
}

func toSessionResponse(sess *session.Session) sessionResponse {
	return sessionResponse{
		ID:       sess.ID,
		EventID:  sess.EventID,
		Stage:    string(sess.Stage),
		BlockIDs: sess.BlockIDs,
	}
}
