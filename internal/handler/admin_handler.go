package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/eventometer/internal/booking"
	"github.com/hitoshi/eventometer/internal/metrics"
	"github.com/hitoshi/eventometer/internal/model"
)

// AdminBookingService は管理者向けブッキング操作のサービスインターフェース。
type AdminBookingService interface {
	// Select は選考待ちの応募を選出し、競合する応募を連鎖的に選外にする。
	Select(ctx context.Context, applicationID string) (*booking.SelectResult, error)
	// SelectBackfill は締め切り後の補充選出を行う。選外からの復活を許可する。
	SelectBackfill(ctx context.Context, applicationID string) (*booking.SelectResult, error)
	// BackfillCandidates はイベントの補充候補一覧を返す。
	BackfillCandidates(ctx context.Context, eventID string) ([]*model.ApplicationDetail, error)
	// OpenBookings はイベントのブッキング受付を開始する。
	OpenBookings(ctx context.Context, eventID string) error
	// CloseBookings はイベントのブッキング受付を締め切り、
	// 残っていた選考待ち応募を一括で選外にする。選外にした件数を返す。
	CloseBookings(ctx context.Context, eventID string) (rejected int, err error)
	// RejectUnselected は割り当てを1件も持たない候補者へ選外通知を送る。
	RejectUnselected(ctx context.Context, eventID string) (notified int, err error)
	// SendReminders は選出済み・確認済みの候補者へ最終確認リマインダーを送る。
	SendReminders(ctx context.Context, eventID string) (int, error)
}

// ImportServiceInterface はイベントインポートと候補者管理のサービスインターフェース。
type ImportServiceInterface interface {
	// ImportEvent は外部イベントAPIからイベントを取り込み、タイムブロックを生成する。
	ImportEvent(ctx context.Context, vatsimID int64, blockMinutes int) (*model.Event, error)
	// RefreshRating は候補者のレーティングを外部APIから再取得する。
	RefreshRating(ctx context.Context, cid int64) (*model.Candidate, error)
}

// Announcer は告知メッセージの投稿・更新インターフェース。
type Announcer interface {
	// Publish はイベントの告知メッセージを投稿または更新する。
	Publish(ctx context.Context, eventID string) error
}

// EventConfigurator はイベントの構成操作インターフェース。
type EventConfigurator interface {
	FindByID(ctx context.Context, id string) (*model.Event, error)
	Update(ctx context.Context, event *model.Event) error
	AddPosition(ctx context.Context, position *model.Position) error
	RemovePosition(ctx context.Context, id string) error
	ListPositions(ctx context.Context, eventID string) ([]*model.Position, error)
}

// NotificationReader は配送失敗ジョブの読み取りインターフェース。
type NotificationReader interface {
	ListFailedByEvent(ctx context.Context, eventID string) ([]*model.NotificationJob, error)
}

// CandidateNotesUpdater は候補者の管理者メモ更新インターフェース。
type CandidateNotesUpdater interface {
	FindByCID(ctx context.Context, cid int64) (*model.Candidate, error)
	UpdateAdminNotes(ctx context.Context, cid int64, notes string) error
}

// AdminHandler は管理者向け操作のHTTPハンドラー。
type AdminHandler struct {
	booking       AdminBookingService
	importer      ImportServiceInterface
	announcer     Announcer
	events        EventConfigurator
	notifications NotificationReader
	candidates    CandidateNotesUpdater
	collector     metrics.MetricsCollector
}

// NewAdminHandler はAdminHandlerを生成する。
func NewAdminHandler(
	booking AdminBookingService,
	importer ImportServiceInterface,
	announcer Announcer,
	events EventConfigurator,
	notifications NotificationReader,
	candidates CandidateNotesUpdater,
	collector metrics.MetricsCollector,
) *AdminHandler {
	return &AdminHandler{
		booking:       booking,
		importer:      importer,
		announcer:     announcer,
		events:        events,
		notifications: notifications,
		candidates:    candidates,
		collector:     collector,
	}
}

// importEventRequest はイベントインポートリクエストのボディ。
type importEventRequest struct {
	VatsimID     int64 `json:"vatsim_id"`
	BlockMinutes int   `json:"block_minutes"`
}

// addPositionRequest はポジション追加リクエストのボディ。
type addPositionRequest struct {
	ICAO      string `json:"icao"`
	Name      string `json:"name"`
	MinRating string `json:"min_rating"`
}

// setAnnounceChannelRequest は告知チャンネル設定リクエストのボディ。
type setAnnounceChannelRequest struct {
	ChannelID string `json:"channel_id"`
}

// updateNotesRequest は管理者メモ更新リクエストのボディ。
type updateNotesRequest struct {
	Notes string `json:"notes"`
}

// selectResponse は選出結果のAPIレスポンス。
type selectResponse struct {
	Application       applicationDetailResponse `json:"application"`
	RejectedSameSlot  int                       `json:"rejected_same_slot"`
	RejectedSameBlock int                       `json:"rejected_same_block"`
}

// closeBookingsResponse は締め切り結果のAPIレスポンス。
type closeBookingsResponse struct {
	Event    eventResponse `json:"event"`
	Rejected int           `json:"rejected"`
}

// rejectUnselectedResponse は一括選外通知のAPIレスポンス。
type rejectUnselectedResponse struct {
	Notified int `json:"notified"`
}

// remindResponse はリマインダー送信結果のAPIレスポンス。
type remindResponse struct {
	Queued int `json:"queued"`
}

// failedJobResponse は配送失敗ジョブのAPIレスポンス。
type failedJobResponse struct {
	ID            string `json:"id"`
	Kind          string `json:"kind"`
	ApplicationID string `json:"application_id,omitempty"`
	RecipientCID  int64  `json:"recipient_cid"`
	AttemptCount  int    `json:"attempt_count"`
	LastError     string `json:"last_error"`
	CreatedAt     string `json:"created_at"`
}

// candidateResponse は候補者情報のAPIレスポンス。
type candidateResponse struct {
	CID                 int64  `json:"cid"`
	DisplayName         string `json:"display_name"`
	Rating              string `json:"rating"`
	TotalApplications   int    `json:"total_applications"`
	TotalParticipations int    `json:"total_participations"`
	TotalNoShows        int    `json:"total_no_shows"`
	TotalCancellations  int    `json:"total_cancellations"`
	AdminNotes          string `json:"admin_notes"`
}

// ImportEvent は外部イベントAPIからのインポートを処理する。
// POST /api/admin/events/import
func (h *AdminHandler) ImportEvent(w http.ResponseWriter, r *http.Request) {
	var req importEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("リクエストボディの解析に失敗しました"))
		return
	}
	if req.VatsimID <= 0 {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("vatsim_idは必須です"))
		return
	}

	event, err := h.importer.ImportEvent(r.Context(), req.VatsimID, req.BlockMinutes)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toEventResponse(event))
}

// AddPosition はイベントへのポジション追加を処理する。
// POST /api/admin/events/{id}/positions
func (h *AdminHandler) AddPosition(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "id")

	var req addPositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("リクエストボディの解析に失敗しました"))
		return
	}
	if req.ICAO == "" || req.Name == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("icaoとnameは必須です"))
		return
	}

	minRating, ok := model.ParseRating(req.MinRating)
	if !ok {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("min_ratingが不正です"))
		return
	}

	event, err := h.events.FindByID(r.Context(), eventID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if event == nil {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewEventNotFoundError(eventID))
		return
	}

	position := &model.Position{
		ID:        uuid.NewString(),
		EventID:   eventID,
		ICAO:      req.ICAO,
		Name:      req.Name,
		MinRating: minRating,
	}
	if err := h.events.AddPosition(r.Context(), position); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, positionResponse{
		ID:        position.ID,
		Callsign:  position.Callsign(),
		MinRating: position.MinRating.String(),
	})
}

// RemovePosition はポジションの削除を処理する。紐付く応募もまとめて削除される。
// DELETE /api/admin/positions/{id}
func (h *AdminHandler) RemovePosition(w http.ResponseWriter, r *http.Request) {
	if err := h.events.RemovePosition(r.Context(), chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetAnnounceChannel は告知チャンネルの設定を処理する。
// PUT /api/admin/events/{id}/channel
func (h *AdminHandler) SetAnnounceChannel(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "id")

	var req setAnnounceChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("リクエストボディの解析に失敗しました"))
		return
	}
	if req.ChannelID == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("channel_idは必須です"))
		return
	}

	event, err := h.events.FindByID(r.Context(), eventID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if event == nil {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewEventNotFoundError(eventID))
		return
	}

	event.AnnounceChannelID = req.ChannelID
	if err := h.events.Update(r.Context(), event); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toEventResponse(event))
}

// OpenBookings はブッキング受付開始を処理する。
// POST /api/admin/events/{id}/open
func (h *AdminHandler) OpenBookings(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "id")

	if err := h.booking.OpenBookings(r.Context(), eventID); err != nil {
		handleServiceError(w, err)
		return
	}

	event, err := h.events.FindByID(r.Context(), eventID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toEventResponse(event))
}

// CloseBookings はブッキング受付締め切りを処理する。
// 残っていた選考待ち応募は全て選外になり、告知メッセージが更新される。
// POST /api/admin/events/{id}/close
func (h *AdminHandler) CloseBookings(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "id")

	rejected, err := h.booking.CloseBookings(r.Context(), eventID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	refreshAnnouncement(r.Context(), h.announcer, eventID)

	event, err := h.events.FindByID(r.Context(), eventID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, closeBookingsResponse{Event: toEventResponse(event), Rejected: rejected})
}

// refreshAnnouncement は占有状況が変わった後に告知メッセージを更新する。
// 告知チャンネル未設定のイベントは対象外。更新の失敗は警告ログに留め、
// 完了済みの状態遷移には影響させない。
func refreshAnnouncement(ctx context.Context, announcer Announcer, eventID string) {
	if err := announcer.Publish(ctx, eventID); err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeEventNotConfigured {
			return
		}
		slog.Warn("告知メッセージの更新に失敗しました",
			slog.String("event_id", eventID),
			slog.String("error", err.Error()))
	}
}

// Announce は告知メッセージの投稿・更新を処理する。
// 既に投稿済みの場合は同じメッセージを編集する。
// POST /api/admin/events/{id}/announce
func (h *AdminHandler) Announce(w http.ResponseWriter, r *http.Request) {
	if err := h.announcer.Publish(r.Context(), chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Select は応募の選出を処理する。
// POST /api/admin/applications/{id}/select
func (h *AdminHandler) Select(w http.ResponseWriter, r *http.Request) {
	h.selectWith(w, r, h.booking.Select)
}

// SelectBackfill は締め切り後の補充選出を処理する。
// POST /api/admin/applications/{id}/select-backfill
func (h *AdminHandler) SelectBackfill(w http.ResponseWriter, r *http.Request) {
	h.selectWith(w, r, h.booking.SelectBackfill)
}

func (h *AdminHandler) selectWith(w http.ResponseWriter, r *http.Request, selectFn func(ctx context.Context, applicationID string) (*booking.SelectResult, error)) {
	result, err := selectFn(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	h.collector.RecordSelection()
	h.collector.RecordCascadedRejections(result.RejectedSameSlot + result.RejectedSameBlock)

	refreshAnnouncement(r.Context(), h.announcer, result.Application.EventID)

	writeJSON(w, http.StatusOK, selectResponse{
		Application:       toApplicationDetailResponse(result.Application),
		RejectedSameSlot:  result.RejectedSameSlot,
		RejectedSameBlock: result.RejectedSameBlock,
	})
}

// BackfillCandidates は補充候補の一覧を返す。
// GET /api/admin/events/{id}/backfill-candidates
func (h *AdminHandler) BackfillCandidates(w http.ResponseWriter, r *http.Request) {
	details, err := h.booking.BackfillCandidates(r.Context(), chi.URLParam(r, "id"))
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

// RejectUnselected は未選出候補者への選外通知送信を処理する。
// POST /api/admin/events/{id}/reject-unselected
func (h *AdminHandler) RejectUnselected(w http.ResponseWriter, r *http.Request) {
	notified, err := h.booking.RejectUnselected(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, rejectUnselectedResponse{Notified: notified})
}

// SendReminders は最終確認リマインダーの送信を処理する。
// POST /api/admin/events/{id}/remind
func (h *AdminHandler) SendReminders(w http.ResponseWriter, r *http.Request) {
	queued, err := h.booking.SendReminders(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, remindResponse{Queued: queued})
}

// ListFailedNotifications はイベントの配送失敗ジョブ一覧を返す。
// GET /api/admin/events/{id}/failed-notifications
func (h *AdminHandler) ListFailedNotifications(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.notifications.ListFailedByEvent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]failedJobResponse, 0, len(jobs))
	for _, job := range jobs {
		resp = append(resp, failedJobResponse{
			ID:            job.ID,
			Kind:          string(job.Kind),
			ApplicationID: job.ApplicationID,
			RecipientCID:  job.RecipientCID,
			AttemptCount:  job.AttemptCount,
			LastError:     job.LastError,
			CreatedAt:     job.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetCandidate は候補者の詳細（実績カウンター・管理者メモ）を返す。
// GET /api/admin/candidates/{cid}
func (h *AdminHandler) GetCandidate(w http.ResponseWriter, r *http.Request) {
	cid, ok := parseCID(w, r)
	if !ok {
		return
	}

	candidate, err := h.candidates.FindByCID(r.Context(), cid)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if candidate == nil {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewCandidateNotFoundError())
		return
	}

	writeJSON(w, http.StatusOK, toCandidateResponse(candidate))
}

// UpdateNotes は候補者の管理者メモ更新を処理する。
// PUT /api/admin/candidates/{cid}/notes
func (h *AdminHandler) UpdateNotes(w http.ResponseWriter, r *http.Request) {
	cid, ok := parseCID(w, r)
	if !ok {
		return
	}

	var req updateNotesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("リクエストボディの解析に失敗しました"))
		return
	}

	candidate, err := h.candidates.FindByCID(r.Context(), cid)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if candidate == nil {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewCandidateNotFoundError())
		return
	}

	if err := h.candidates.UpdateAdminNotes(r.Context(), cid, req.Notes); err != nil {
		handleServiceError(w, err)
		return
	}

	candidate.AdminNotes = req.Notes
	writeJSON(w, http.StatusOK, toCandidateResponse(candidate))
}

// RefreshRating は候補者レーティングの再取得を処理する。
// POST /api/admin/candidates/{cid}/refresh-rating
func (h *AdminHandler) RefreshRating(w http.ResponseWriter, r *http.Request) {
	cid, ok := parseCID(w, r)
	if !ok {
		return
	}

	candidate, err := h.importer.RefreshRating(r.Context(), cid)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toCandidateResponse(candidate))
}

func parseCID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	cid, err := strconv.ParseInt(chi.URLParam(r, "cid"), 10, 64)
	if err != nil || cid <= 0 {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("cidが不正です"))
		return 0, false
	}
	return cid, true
}

func toCandidateResponse(c *model.Candidate) candidateResponse {
	return candidateResponse{
		CID:                 c.CID,
		DisplayName:         c.DisplayName,
		Rating:              c.Rating.String(),
		TotalApplications:   c.TotalApplications,
		TotalParticipations: c.TotalParticipations,
		TotalNoShows:        c.TotalNoShows,
		TotalCancellations:  c.TotalCancellations,
		AdminNotes:          c.AdminNotes,
	}
}
