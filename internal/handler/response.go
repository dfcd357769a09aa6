// Package handler はカレンダー操作のHTTPアダプタを提供する。
// リクエストの解析と結果のJSON化のみを行い、ドメインロジックはサービス層に委譲する。
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/movienight/internal/calendar"
	"github.com/hitoshi/movienight/internal/middleware"
	"github.com/hitoshi/movienight/internal/model"
)

// apiErrorResponse は統一エラーフォーマットのレスポンスボディ。
type apiErrorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

func newAPIErrorResponse(apiErr *model.APIError) *apiErrorResponse {
	if apiErr == nil {
		return nil
	}
	return &apiErrorResponse{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	}
}

// writeJSON はステータスコードとJSONボディを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	writeJSON(w, statusCode, newAPIErrorResponse(apiErr))
}

// writeInvalidRequest はリクエストボディの解析失敗を返す。
func writeInvalidRequest(w http.ResponseWriter, message string) {
	writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
		Code:     model.ErrCodeInvalidRequest,
		Message:  message,
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	})
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeInvalidRequest, model.ErrCodeInvalidTitles, model.ErrCodeInvalidDate, model.ErrCodeInvalidEventTime:
		return http.StatusBadRequest
	case "UNAUTHORIZED":
		return http.StatusUnauthorized
	case model.ErrCodeForbidden, model.ErrCodeSSRFBlocked:
		return http.StatusForbidden
	case model.ErrCodeEntryNotFound:
		return http.StatusNotFound
	case model.ErrCodeSessionBusy, model.ErrCodeSessionExists:
		return http.StatusConflict
	case model.ErrCodeChoiceInvalid, model.ErrCodeChoiceExpired:
		return http.StatusGone
	case model.ErrCodeChoiceOutOfRange, model.ErrCodeNoCandidates:
		return http.StatusUnprocessableEntity
	case model.ErrCodeLookupFailed, model.ErrCodeImportFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// callerFromRequest は呼び出し元ミドルウェアが設定した利用者を取得する。
// 取得できない場合は401を書き込み false を返す。
func callerFromRequest(w http.ResponseWriter, r *http.Request) (calendar.Caller, bool) {
	c, err := middleware.CallerFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, &model.APIError{
			Code:     "UNAUTHORIZED",
			Message:  "認証が必要です。",
			Category: "auth",
			Action:   "APIトークンとユーザーIDを指定してください。",
		})
		return calendar.Caller{}, false
	}
	return calendar.Caller{UserID: c.UserID, Admin: c.Admin}, true
}
