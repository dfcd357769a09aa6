package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/movienight/internal/importer"
)

// ImportServiceInterface はウォッチリスト取り込みのサービスインターフェース。
type ImportServiceInterface interface {
	Import(ctx context.Context, req importer.Request) (*importer.Result, error)
}

// ImportHandler はウォッチリスト取り込みのHTTPハンドラー。
type ImportHandler struct {
	service ImportServiceInterface
}

// NewImportHandler はImportHandlerを生成する。
func NewImportHandler(service ImportServiceInterface) *ImportHandler {
	return &ImportHandler{service: service}
}

// importRequest は取り込みリクエストのボディ。
type importRequest struct {
	FeedURL   string `json:"feed_url"`
	Limit     int    `json:"limit"`
	RequestID string `json:"request_id"`
	Date      string `json:"date"`
}

// importResponse は取り込み結果のAPIレスポンス。
type importResponse struct {
	Titles  []string        `json:"titles"`
	Outcome outcomeResponse `json:"outcome"`
}

// Import はRSSウォッチリストのタイトルで作品追加セッションを開始する。
// POST /api/guilds/{guildID}/imports
func (h *ImportHandler) Import(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFromRequest(w, r)
	if !ok {
		return
	}

	var req importRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.FeedURL == "" {
		writeInvalidRequest(w, "feed_urlを指定してください。")
		return
	}

	res, err := h.service.Import(r.Context(), importer.Request{
		GuildID:     chi.URLParam(r, "guildID"),
		RequesterID: caller.UserID,
		RequestID:   req.RequestID,
		FeedURL:     req.FeedURL,
		Limit:       req.Limit,
		TargetDate:  req.Date,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, outcomeStatus(res.Outcome), importResponse{
		Titles:  res.Titles,
		Outcome: toOutcomeResponse(res.Outcome),
	})
}
