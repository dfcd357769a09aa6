// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/hitoshi/movienight/internal/model"
)

const (
	// HeaderUserID はチャットボットなどの呼び出し元が操作ユーザーを伝えるヘッダー。
	HeaderUserID = "X-User-ID"
	// HeaderUserAdmin は操作ユーザーがギルドの管理者かどうかを伝えるヘッダー。
	HeaderUserAdmin = "X-User-Admin"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// callerContextKey はリクエストコンテキストに呼び出し元を格納するためのキー。
var callerContextKey = contextKey("caller")

// callerKeyHolder はロギングミドルウェアが認証後の呼び出し元を受け取るためのキー。
type callerKeyHolder struct{}

// Caller は認証済みの呼び出し元ユーザーを表す。
type Caller struct {
	UserID string
	Admin  bool
}

// NewCallerMiddleware はBearerトークンで呼び出し元サービスを認証し、
// X-User-ID / X-User-Admin ヘッダーから操作ユーザーをコンテキストに注入するミドルウェアを返す。
// トークン不一致またはユーザーIDがない場合は401を返す。
func NewCallerMiddleware(apiToken string) func(next http.Handler) http.Handler {
	expected := []byte(apiToken)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(token), expected) != 1 {
				writeUnauthorized(w, "APIトークンが不正です")
				return
			}

			userID := strings.TrimSpace(r.Header.Get(HeaderUserID))
			if userID == "" {
				writeUnauthorized(w, HeaderUserID+" ヘッダーが必要です")
				return
			}
			admin, _ := strconv.ParseBool(r.Header.Get(HeaderUserAdmin))

			caller := Caller{UserID: userID, Admin: admin}
			if holder, ok := r.Context().Value(callerKeyHolder{}).(*Caller); ok {
				*holder = caller
			}
			ctx := ContextWithCaller(r.Context(), caller)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CallerFromContext はリクエストコンテキストから呼び出し元を取得する。
// 呼び出し元ミドルウェアを通過したリクエストでのみ有効。
func CallerFromContext(ctx context.Context) (Caller, error) {
	caller, ok := ctx.Value(callerContextKey).(Caller)
	if !ok || caller.UserID == "" {
		return Caller{}, errors.New("caller not found in context")
	}
	return caller, nil
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (string, error) {
	caller, err := CallerFromContext(ctx)
	if err != nil {
		return "", err
	}
	return caller.UserID, nil
}

// ContextWithCaller はコンテキストに呼び出し元を注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithCaller(ctx context.Context, caller Caller) context.Context {
	return context.WithValue(ctx, callerContextKey, caller)
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	WriteErrorResponse(w, http.StatusUnauthorized, &model.APIError{
		Code:     "UNAUTHORIZED",
		Message:  msg,
		Category: "auth",
		Action:   "APIトークンとユーザーIDを確認してください。",
	})
}
