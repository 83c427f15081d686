// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/eventometer/internal/model"
)

// actorHeaderName はゲートウェイが認証済みの操作者を伝えるヘッダー。
const actorHeaderName = "X-Actor-ID"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// actorContextKey はリクエストコンテキストに操作者IDを格納するためのキー。
var actorContextKey = contextKey("actor_id")

// NewActorMiddleware はゲートウェイのX-Actor-IDヘッダーから操作者を読み取り、
// リクエストコンテキストに注入するミドルウェアを返す。
// ゲートウェイは認証済みのチャットユーザーIDのみを転送する前提。
// ヘッダーのないリクエストには401 Unauthorizedを返す。
func NewActorMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actorID := r.Header.Get(actorHeaderName)
			if actorID == "" {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), actorContextKey, actorID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AdminFinder は管理者の検索に必要なインターフェース。
// repository.CandidateRepositoryの部分集合として定義する。
type AdminFinder interface {
	FindAdminByChatUserID(ctx context.Context, chatUserID string) (*model.Admin, error)
}

// NewAdminAuthMiddleware は操作者が登録済みの管理者であることを検証する
// ミドルウェアを返す。ActorMiddlewareの後に配置すること。
// 管理者でない操作者には403 Forbiddenを返す。
func NewAdminAuthMiddleware(adminFinder AdminFinder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actorID, err := ActorFromContext(r.Context())
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			admin, err := adminFinder.FindAdminByChatUserID(r.Context(), actorID)
			if err != nil {
				slog.Error("管理者の検索に失敗しました",
					slog.String("error", err.Error()),
				)
				http.Error(w, "internal server error", http.StatusInternalServerError)
				return
			}
			if admin == nil {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ActorFromContext はリクエストコンテキストから操作者IDを取得する。
// ActorMiddlewareを通過したリクエストでのみ有効。
func ActorFromContext(ctx context.Context) (string, error) {
	actorID, ok := ctx.Value(actorContextKey).(string)
	if !ok || actorID == "" {
		return "", fmt.Errorf("操作者IDがコンテキストにありません")
	}
	return actorID, nil
}

// ContextWithActor はコンテキストに操作者IDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithActor(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorContextKey, actorID)
}
