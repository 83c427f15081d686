// Package handler はブッキングAPIのHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/eventometer/internal/booking"
	"github.com/hitoshi/eventometer/internal/middleware"
	"github.com/hitoshi/eventometer/internal/model"
)

// BookingServiceInterface はブッキングハンドラーが必要とするサービスインターフェース。
type BookingServiceInterface interface {
	// Apply は単一スロットへの応募を作成する。
	Apply(ctx context.Context, cid int64, positionID, timeBlockID string) (*model.Application, error)
	// Confirm は選出済み応募を参加確認済みにする。
	Confirm(ctx context.Context, applicationID string) (*model.Application, error)
	// FinalConfirm は参加確認済み応募を最終確認済みにする。
	FinalConfirm(ctx context.Context, applicationID string) (*model.Application, error)
	// Revoke は応募を取り消す。
	Revoke(ctx context.Context, applicationID string) (*booking.RevokeResult, error)
	// CandidateApplications は候補者の応募一覧を返す。
	CandidateApplications(ctx context.Context, cid int64) ([]*model.ApplicationDetail, error)
	// Summary はイベントの現在の配置状況を返す。
	Summary(ctx context.Context, eventID string) (*booking.EventSummary, error)
}

// CandidateResolver はチャットの操作者IDから候補者を解決するインターフェース。
// 未登録の操作者はVATSIM連携で初回登録される。
type CandidateResolver interface {
	GetOrCreateCandidate(ctx context.Context, chatUserID, displayName string) (*model.Candidate, error)
}

// ApplicationFinder は応募の所有者確認に使う読み取りインターフェース。
type ApplicationFinder interface {
	FindByID(ctx context.Context, id string) (*model.Application, error)
}

// EventLister は受付中イベントの一覧取得インターフェース。
type EventLister interface {
	ListByStatus(ctx context.Context, status model.EventStatus) ([]*model.Event, error)
}

// BookingHandler は候補者向けブッキング操作のHTTPハンドラー。
type BookingHandler struct {
	service      BookingServiceInterface
	candidates   CandidateResolver
	applications ApplicationFinder
	events       EventLister
	announcer    Announcer
}

// NewBookingHandler はBookingHandlerを生成する。
func NewBookingHandler(service BookingServiceInterface, candidates CandidateResolver, applications ApplicationFinder, events EventLister, announcer Announcer) *BookingHandler {
	return &BookingHandler{
		service:      service,
		candidates:   candidates,
		applications: applications,
		events:       events,
		announcer:    announcer,
	}
}

// applyRequest は応募作成リクエストのボディ。
type applyRequest struct {
	PositionID  string `json:"position_id"`
	TimeBlockID string `json:"time_block_id"`
	DisplayName string `json:"display_name"`
}

// applicationResponse は応募情報のAPIレスポンス。
type applicationResponse struct {
	ID           string `json:"id"`
	EventID      string `json:"event_id"`
	CandidateCID int64  `json:"candidate_cid"`
	PositionID   string `json:"position_id"`
	TimeBlockID  string `json:"time_block_id"`
	Status       string `json:"status"`
}

// applicationDetailResponse は応募の表示用レスポンス。
type applicationDetailResponse struct {
	ID          string `json:"id"`
	EventID     string `json:"event_id"`
	EventName   string `json:"event_name"`
	Callsign    string `json:"callsign"`
	BlockNumber int    `json:"block_number"`
	BlockStart  string `json:"block_start"`
	BlockEnd    string `json:"block_end"`
	Status      string `json:"status"`
}

// eventResponse はイベント情報のAPIレスポンス。
type eventResponse struct {
	ID        string `json:"id"`
	VatsimID  int64  `json:"vatsim_id"`
	Name      string `json:"name"`
	Link      string `json:"link"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Status    string `json:"status"`
}

// summaryResponse はイベントの配置状況のAPIレスポンス。
type summaryResponse struct {
	Event        eventResponse           `json:"event"`
	Blocks       []timeBlockResponse     `json:"blocks"`
	Positions    []positionResponse      `json:"positions"`
	Applications []slotOccupancyResponse `json:"applications"`
}

// timeBlockResponse はタイムブロックのAPIレスポンス。
type timeBlockResponse struct {
	ID        string `json:"id"`
	Number    int    `json:"number"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

// positionResponse はポジションのAPIレスポンス。
type positionResponse struct {
	ID        string `json:"id"`
	Callsign  string `json:"callsign"`
	MinRating string `json:"min_rating"`
}

// slotOccupancyResponse はスロット単位の応募状況のAPIレスポンス。
type slotOccupancyResponse struct {
	ApplicationID string `json:"application_id"`
	PositionID    string `json:"position_id"`
	TimeBlockID   string `json:"time_block_id"`
	CandidateCID  int64  `json:"candidate_cid"`
	CandidateName string `json:"candidate_name"`
	Status        string `json:"status"`
}

// revokeResponse は取り消し結果のAPIレスポンス。
type revokeResponse struct {
	Deleted bool   `json:"deleted"`
	Status  string `json:"status,omitempty"`
	Penalty string `json:"penalty"`
}

// apiErrorResponse は統一エラーフォーマットのレスポンス。
type apiErrorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// Apply は単一スロットへの応募を処理する。
// POST /api/applications
func (h *BookingHandler) Apply(w http.ResponseWriter, r *http.Request) {
	candidate, ok := h.resolveCandidate(w, r)
	if !ok {
		return
	}

	var req applyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("リクエストボディの解析に失敗しました"))
		return
	}
	if req.PositionID == "" || req.TimeBlockID == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("position_idとtime_block_idは必須です"))
		return
	}

	app, err := h.service.Apply(r.Context(), candidate.CID, req.PositionID, req.TimeBlockID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toApplicationResponse(app))
}

// Confirm は選出済み応募の参加確認を処理する。
// POST /api/applications/{id}/confirm
func (h *BookingHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	h.confirmTransition(w, r, h.service.Confirm)
}

// FinalConfirm はイベント直前の最終確認を処理する。
// POST /api/applications/{id}/final-confirm
func (h *BookingHandler) FinalConfirm(w http.ResponseWriter, r *http.Request) {
	h.confirmTransition(w, r, h.service.FinalConfirm)
}

func (h *BookingHandler) confirmTransition(w http.ResponseWriter, r *http.Request, transition func(ctx context.Context, id string) (*model.Application, error)) {
	candidate, ok := h.resolveCandidate(w, r)
	if !ok {
		return
	}

	applicationID := chi.URLParam(r, "id")
	if !h.authorizeOwner(w, r, candidate, applicationID) {
		return
	}

	app, err := transition(r.Context(), applicationID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toApplicationResponse(app))
}

// Revoke は応募の取り消しを処理する。
// DELETE /api/applications/{id}
func (h *BookingHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	candidate, ok := h.resolveCandidate(w, r)
	if !ok {
		return
	}

	applicationID := chi.URLParam(r, "id")
	if !h.authorizeOwner(w, r, candidate, applicationID) {
		return
	}

	result, err := h.service.Revoke(r.Context(), applicationID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	// 取り消しで空いたスロットを告知メッセージへ反映する
	if result.Application != nil {
		refreshAnnouncement(r.Context(), h.announcer, result.Application.EventID)
	}

	resp := revokeResponse{
		Deleted: result.Deleted,
		Penalty: penaltyLabel(result.Penalty),
	}
	if !result.Deleted && result.Application != nil {
		resp.Status = string(result.Application.Status)
	}

	writeJSON(w, http.StatusOK, resp)
}

// MyApplications は操作者自身の応募一覧を返す。
// GET /api/me/applications
func (h *BookingHandler) MyApplications(w http.ResponseWriter, r *http.Request) {
	candidate, ok := h.resolveCandidate(w, r)
	if !ok {
		return
	}

	details, err := h.service.CandidateApplications(r.Context(), candidate.CID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]applicationDetailResponse, 0, len(details))
	for _, d := range details {
		resp = append(resp, toApplicationDetailResponse(d))
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListOpenEvents は受付中イベントの一覧を返す。
// GET /api/events
func (h *BookingHandler) ListOpenEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.events.ListByStatus(r.Context(), model.EventStatusOpen)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]eventResponse, 0, len(events))
	for _, e := range events {
		resp = append(resp, toEventResponse(e))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetSummary はイベントの現在の配置状況を返す。
// GET /api/events/{id}/summary
func (h *BookingHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "id")

	summary, err := h.service.Summary(r.Context(), eventID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toSummaryResponse(summary))
}

// resolveCandidate はリクエストの操作者を候補者として解決する。
// 解決に失敗した場合はエラーレスポンスを書き込みfalseを返す。
func (h *BookingHandler) resolveCandidate(w http.ResponseWriter, r *http.Request) (*model.Candidate, bool) {
	return resolveCandidate(w, r, h.candidates)
}

// resolveCandidate はリクエストの操作者を候補者として解決する共通ヘルパー。
// 未登録の操作者はVATSIM連携で初回登録される。
func resolveCandidate(w http.ResponseWriter, r *http.Request, resolver CandidateResolver) (*model.Candidate, bool) {
	actorID, err := middleware.ActorFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, &model.APIError{
			Code:     "UNAUTHORIZED",
			Message:  "操作者を特定できません。",
			Category: "auth",
			Action:   "チャットプラットフォーム経由でアクセスしてください。",
		})
		return nil, false
	}

	displayName := r.Header.Get("X-Actor-Name")
	candidate, err := resolver.GetOrCreateCandidate(r.Context(), actorID, displayName)
	if err != nil {
		handleServiceError(w, err)
		return nil, false
	}

	return candidate, true
}

// authorizeOwner は応募が操作者自身のものであることを確認する。
// 他人の応募に対する操作は403を返す。
func (h *BookingHandler) authorizeOwner(w http.ResponseWriter, r *http.Request, candidate *model.Candidate, applicationID string) bool {
	app, err := h.applications.FindByID(r.Context(), applicationID)
	if err != nil {
		handleServiceError(w, err)
		return false
	}
	if app == nil {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewApplicationNotFoundError(applicationID))
		return false
	}
	if app.CandidateCID != candidate.CID {
		writeAPIErrorResponse(w, http.StatusForbidden, &model.APIError{
			Code:     "FORBIDDEN",
			Message:  "他の候補者の応募は操作できません。",
			Category: "auth",
			Action:   "自分の応募のみ操作してください。",
		})
		return false
	}
	return true
}

// --- ヘルパー関数 ---

func toApplicationResponse(app *model.Application) applicationResponse {
	return applicationResponse{
		ID:           app.ID,
		EventID:      app.EventID,
		CandidateCID: app.CandidateCID,
		PositionID:   app.PositionID,
		TimeBlockID:  app.TimeBlockID,
		Status:       string(app.Status),
	}
}

func toApplicationDetailResponse(d *model.ApplicationDetail) applicationDetailResponse {
	return applicationDetailResponse{
		ID:          d.ID,
		EventID:     d.EventID,
		EventName:   d.EventName,
		Callsign:    d.Callsign,
		BlockNumber: d.BlockNumber,
		BlockStart:  d.BlockStart.UTC().Format(time.RFC3339),
		BlockEnd:    d.BlockEnd.UTC().Format(time.RFC3339),
		Status:      string(d.Status),
	}
}

func toEventResponse(e *model.Event) eventResponse {
	return eventResponse{
		ID:        e.ID,
		VatsimID:  e.VatsimID,
		Name:      e.Name,
		Link:      e.Link,
		StartTime: e.StartTime.UTC().Format(time.RFC3339),
		EndTime:   e.EndTime.UTC().Format(time.RFC3339),
		Status:    string(e.Status),
	}
}

func toSummaryResponse(summary *booking.EventSummary) summaryResponse {
	resp := summaryResponse{
		Event:        toEventResponse(summary.Event),
		Blocks:       make([]timeBlockResponse, 0, len(summary.Blocks)),
		Positions:    make([]positionResponse, 0, len(summary.Positions)),
		Applications: make([]slotOccupancyResponse, 0, len(summary.Applications)),
	}
	for _, b := range summary.Blocks {
		resp.Blocks = append(resp.Blocks, timeBlockResponse{
			ID:        b.ID,
			Number:    b.Number,
			StartTime: b.StartTime.UTC().Format(time.RFC3339),
			EndTime:   b.EndTime.UTC().Format(time.RFC3339),
		})
	}
	for _, p := range summary.Positions {
		resp.Positions = append(resp.Positions, positionResponse{
			ID:        p.ID,
			Callsign:  p.Callsign(),
			MinRating: p.MinRating.String(),
		})
	}
	for _, a := range summary.Applications {
		resp.Applications = append(resp.Applications, slotOccupancyResponse{
			ApplicationID: a.ID,
			PositionID:    a.PositionID,
			TimeBlockID:   a.TimeBlockID,
			CandidateCID:  a.CandidateCID,
			CandidateName: a.CandidateName,
			Status:        string(a.Status),
		})
	}
	return resp
}

func penaltyLabel(p model.RevokePenalty) string {
	switch p {
	case model.PenaltyCancellation:
		return "cancellation"
	case model.PenaltyNoShow:
		return "no_show"
	default:
		return "none"
	}
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(apiErrorResponse{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		statusCode := mapAPIErrorToHTTPStatus(apiErr)
		writeAPIErrorResponse(w, statusCode, apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	writeAPIErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeInvalidRequest, model.ErrCodeInvalidTransition:
		return http.StatusBadRequest
	case model.ErrCodeSlotClosed, model.ErrCodeRatingIneligible, model.ErrCodeUnlinkedAccount:
		return http.StatusForbidden
	case model.ErrCodeApplicationNotFound, model.ErrCodeEventNotFound,
		model.ErrCodeCandidateNotFound, model.ErrCodeSessionNotFound:
		return http.StatusNotFound
	case model.ErrCodeSlotAlreadyFilled, model.ErrCodeDuplicateBlock,
		model.ErrCodeConcurrentModification:
		return http.StatusConflict
	case model.ErrCodeEventNotConfigured:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
