package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/movienight/internal/calendar"
	"github.com/hitoshi/movienight/internal/model"
)

// CalendarServiceInterface はスケジュールハンドラーが必要とするサービスインターフェース。
type CalendarServiceInterface interface {
	ListScheduled(ctx context.Context, guildID string) ([]*model.Entry, error)
	ListArchived(ctx context.Context, guildID string) ([]*model.Entry, error)
	Archive(ctx context.Context, guildID, id, watchedDate string) (*model.Entry, error)
	Reschedule(ctx context.Context, guildID, id, newDate string) (*model.Entry, error)
	Remove(ctx context.Context, caller calendar.Caller, guildID, id string) error
	ScheduleView(ctx context.Context, guildID string) (*calendar.Schedule, error)
}

// ScheduleHandler はカレンダー閲覧・編集のHTTPハンドラー。
type ScheduleHandler struct {
	service CalendarServiceInterface
}

// NewScheduleHandler はScheduleHandlerを生成する。
func NewScheduleHandler(service CalendarServiceInterface) *ScheduleHandler {
	return &ScheduleHandler{service: service}
}

// scheduleResponse はスケジュール表示のAPIレスポンス。
type scheduleResponse struct {
	GuildID   string             `json:"guild_id"`
	EventTime string             `json:"event_time"`
	Days      []scheduleDayEntry `json:"days"`
	Text      string             `json:"text"`
}

type scheduleDayEntry struct {
	Date    string          `json:"date"`
	Label   string          `json:"label"`
	Entries []entryResponse `json:"entries"`
}

// archiveRequest はアーカイブリクエストのボディ。ボディ省略時は今日の日付で記録する。
type archiveRequest struct {
	WatchedDate string `json:"watched_date"`
}

// rescheduleRequest は上映日変更リクエストのボディ。
type rescheduleRequest struct {
	Date string `json:"date"`
}

// GetSchedule は今年の残りの上映日と予定を返す。
// GET /api/guilds/{guildID}/schedule
// format=text の場合はチャット投稿用のプレーンテキストを返す。
func (h *ScheduleHandler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	sched, err := h.service.ScheduleView(r.Context(), chi.URLParam(r, "guildID"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, sched.Text())
		return
	}

	resp := scheduleResponse{
		GuildID:   sched.GuildID,
		EventTime: sched.EventTime,
		Days:      make([]scheduleDayEntry, 0, len(sched.Days)),
		Text:      sched.Text(),
	}
	for _, d := range sched.Days {
		day := scheduleDayEntry{Date: d.Date, Label: d.Label, Entries: make([]entryResponse, 0, len(d.Entries))}
		for _, e := range d.Entries {
			day.Entries = append(day.Entries, toEntryResponse(e))
		}
		resp.Days = append(resp.Days, day)
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListEntries はエントリ一覧を返す。
// GET /api/guilds/{guildID}/entries?status=scheduled|archived
func (h *ScheduleHandler) ListEntries(w http.ResponseWriter, r *http.Request) {
	guildID := chi.URLParam(r, "guildID")

	var (
		entries []*model.Entry
		err     error
	)
	switch model.EntryStatus(r.URL.Query().Get("status")) {
	case "", model.EntryStatusScheduled:
		entries, err = h.service.ListScheduled(r.Context(), guildID)
	case model.EntryStatusArchived:
		entries, err = h.service.ListArchived(r.Context(), guildID)
	default:
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     model.ErrCodeInvalidRequest,
			Message:  "statusの値が不正です。",
			Category: "validation",
			Action:   "scheduled または archived を指定してください。",
		})
		return
	}
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, toEntryResponse(*e))
	}
	writeJSON(w, http.StatusOK, resp)
}

// ArchiveEntry はエントリを視聴済みとしてアーカイブする。
// POST /api/guilds/{guildID}/entries/{id}/archive
func (h *ScheduleHandler) ArchiveEntry(w http.ResponseWriter, r *http.Request) {
	var req archiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeInvalidRequest(w, "リクエストボディの解析に失敗しました。")
		return
	}

	entry, err := h.service.Archive(r.Context(), chi.URLParam(r, "guildID"), chi.URLParam(r, "id"), req.WatchedDate)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryResponse(*entry))
}

// RescheduleEntry はエントリの上映日を変更する。
// PUT /api/guilds/{guildID}/entries/{id}/date
func (h *ScheduleHandler) RescheduleEntry(w http.ResponseWriter, r *http.Request) {
	var req rescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequest(w, "リクエストボディの解析に失敗しました。")
		return
	}

	entry, err := h.service.Reschedule(r.Context(), chi.URLParam(r, "guildID"), chi.URLParam(r, "id"), req.Date)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryResponse(*entry))
}

// DeleteEntry はエントリを完全に削除する。管理者のみ実行できる。
// DELETE /api/guilds/{guildID}/entries/{id}
func (h *ScheduleHandler) DeleteEntry(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFromRequest(w, r)
	if !ok {
		return
	}

	if err := h.service.Remove(r.Context(), caller, chi.URLParam(r, "guildID"), chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
