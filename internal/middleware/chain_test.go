package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/eventometer/internal/model"
)

type mockAdminFinder struct {
	findFn func(ctx context.Context, chatUserID string) (*model.Admin, error)
}

func (m *mockAdminFinder) FindAdminByChatUserID(ctx context.Context, chatUserID string) (*model.Admin, error) {
	if m.findFn != nil {
		return m.findFn(ctx, chatUserID)
	}
	return nil, nil
}

// TestMiddlewareChain_ActorThenAdmin は Actor → AdminAuth の連鎖で
// 管理者のリクエストが通ることを検証する。
func TestMiddlewareChain_ActorThenAdmin(t *testing.T) {
	finder := &mockAdminFinder{
		findFn: func(ctx context.Context, chatUserID string) (*model.Admin, error) {
			if chatUserID == "admin-chat-1" {
				return &model.Admin{ID: "admin-1", ChatUserID: chatUserID}, nil
			}
			return nil, nil
		},
	}

	actorMW := NewActorMiddleware()
	adminMW := NewAdminAuthMiddleware(finder)

	var capturedActor string
	handler := actorMW(adminMW(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actorID, _ := ActorFromContext(r.Context())
		capturedActor = actorID
		w.WriteHeader(http.StatusOK)
	})))

	req := httptest.NewRequest(http.MethodPost, "/api/admin/events", nil)
	req.Header.Set("X-Actor-ID", "admin-chat-1")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
	if capturedActor != "admin-chat-1" {
		t.Errorf("actorID = %q, want %q", capturedActor, "admin-chat-1")
	}
}

// TestMiddlewareChain_NonAdmin_Returns403 は一般の操作者が
// 管理者ルートで403になることを検証する。
func TestMiddlewareChain_NonAdmin_Returns403(t *testing.T) {
	actorMW := NewActorMiddleware()
	adminMW := NewAdminAuthMiddleware(&mockAdminFinder{})

	handler := actorMW(adminMW(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	})))

	req := httptest.NewRequest(http.MethodPost, "/api/admin/events", nil)
	req.Header.Set("X-Actor-ID", "chat-user-1")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusForbidden)
	}
}

// TestMiddlewareChain_NoActor_Returns401 は
// X-Actor-ID のないリクエストに401が返されることを検証する。
func TestMiddlewareChain_NoActor_Returns401(t *testing.T) {
	actorMW := NewActorMiddleware()

	handler := actorMW(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/test", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	// 操作者未特定で401が返ること
	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
}
