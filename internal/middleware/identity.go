// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"net/http"
)

// coderIDHeaderName は上流の認証プロキシが設定するコーダーIDヘッダー。
const coderIDHeaderName = "X-Coder-ID"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// coderIDContextKey はリクエストコンテキストにコーダーIDを格納するためのキー。
var coderIDContextKey = contextKey("coder_id")

// NewIdentityMiddleware は上流の認証プロキシが付与したコーダーIDヘッダーを
// 読み取り、リクエストコンテキストに注入するミドルウェアを返す。
// 認証自体はプロキシの責務であり、ここではヘッダーの存在のみを検証する。
// ヘッダーがないリクエストには401 Unauthorizedを返す。
func NewIdentityMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			coderID := r.Header.Get(coderIDHeaderName)
			if coderID == "" {
				WriteUnauthorized(w)
				return
			}

			ctx := context.WithValue(r.Context(), coderIDContextKey, coderID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CoderIDFromContext はリクエストコンテキストからコーダーIDを取得する。
// アイデンティティミドルウェアを通過したリクエストでのみ有効。
func CoderIDFromContext(ctx context.Context) (string, error) {
	coderID, ok := ctx.Value(coderIDContextKey).(string)
	if !ok || coderID == "" {
		return "", fmt.Errorf("coder ID not found in context")
	}
	return coderID, nil
}

// ContextWithCoderID はコンテキストにコーダーIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithCoderID(ctx context.Context, coderID string) context.Context {
	return context.WithValue(ctx, coderIDContextKey, coderID)
}
