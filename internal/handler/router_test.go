package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/eventometer/internal/metrics"
	"github.com/hitoshi/eventometer/internal/middleware"
	"github.com/hitoshi/eventometer/internal/model"
	"github.com/hitoshi/eventometer/internal/session"
)

type staticAdminFinder struct {
	adminChatID string
}

func (f *staticAdminFinder) FindAdminByChatUserID(ctx context.Context, chatUserID string) (*model.Admin, error) {
	if chatUserID == f.adminChatID {
		return &model.Admin{ID: "admin-1", ChatUserID: chatUserID}, nil
	}
	return nil, nil
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()

	rl := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		GeneralRate:     100,
		GeneralBurst:    200,
		ApplyRate:       100,
		ApplyBurst:      200,
		CleanupInterval: 1 * time.Minute,
	})
	t.Cleanup(rl.Stop)

	collector := metrics.NewCollector(prometheus.NewRegistry())
	admin := NewAdminHandler(
		&mockAdminBookingService{},
		&mockImportService{},
		&mockAnnouncer{},
		&mockEventConfigurator{event: &model.Event{ID: "event-1"}},
		&mockNotificationReader{},
		&mockCandidateNotesUpdater{},
		collector,
	)

	return NewRouter(&RouterDeps{
		AdminFinder:       &staticAdminFinder{adminChatID: "admin-chat-1"},
		CORSAllowedOrigin: "http://localhost:3000",
		RateLimiter:       rl,
		BookingService:    &mockBookingService{},
		BulkApplier:       &mockBulkApplier{},
		Candidates:        &mockCandidateResolver{},
		Applications:      &mockApplicationFinder{},
		Events:            &mockEventLister{},
		Announcer:         &mockAnnouncer{},
		Sessions:          session.NewStore(session.DefaultTTL),
		Admin:             admin,
	})
}

// TestRouter_RequiresActor は操作者ヘッダーのないリクエストが401になることを検証する。
func TestRouter_RequiresActor(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
}

// TestRouter_EventListWithActor は操作者付きのイベント照会が通ることを検証する。
func TestRouter_EventListWithActor(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req.Header.Set("X-Actor-ID", "chat-1")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
}

// TestRouter_AdminRoute_RejectsNonAdmin は一般の操作者が管理者ルートで
// 403になることを検証する。
func TestRouter_AdminRoute_RejectsNonAdmin(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/admin/events/event-1/open", nil)
	req.Header.Set("X-Actor-ID", "chat-1")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusForbidden)
	}
}

// TestRouter_AdminRoute_AllowsAdmin は管理者の操作が通ることを検証する。
func TestRouter_AdminRoute_AllowsAdmin(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/admin/events/event-1/open", nil)
	req.Header.Set("X-Actor-ID", "admin-chat-1")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
}

// TestRouter_CORSHeadersPresent は全ルートにCORSヘッダーが付与されることを検証する。
func TestRouter_CORSHeadersPresent(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/events", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if got := w.Result().Header.Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Allow-Origin = %q, want %q", got, "http://localhost:3000")
	}
}
