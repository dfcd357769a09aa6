package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/movienight/internal/guild"
	"github.com/hitoshi/movienight/internal/model"
)

// GuildServiceInterface はギルド設定・出欠ハンドラーが必要とするサービスインターフェース。
type GuildServiceInterface interface {
	Settings(ctx context.Context, guildID string) (*guild.Settings, error)
	SetEventTime(ctx context.Context, caller model.Caller, guildID, eventTime, timezone string) (*guild.Settings, error)
	RSVP(ctx context.Context, guildID, userID, date string) (*model.Roster, error)
	CancelRSVP(ctx context.Context, guildID, userID, date string) (*model.Roster, error)
	MarkAttended(ctx context.Context, guildID, userID, date string) (*model.Roster, error)
	Roster(ctx context.Context, guildID, date string) (*model.Roster, error)
}

// GuildHandler はギルド設定と出欠のHTTPハンドラー。
type GuildHandler struct {
	service GuildServiceInterface
}

// NewGuildHandler はGuildHandlerを生成する。
func NewGuildHandler(service GuildServiceInterface) *GuildHandler {
	return &GuildHandler{service: service}
}

// settingsRequest は上映時刻変更リクエストのボディ。両方空の場合は既定値に戻す。
type settingsRequest struct {
	EventTime     string `json:"event_time"`
	EventTimezone string `json:"event_timezone"`
}

type settingsResponse struct {
	GuildID       string `json:"guild_id"`
	EventTime     string `json:"event_time"`
	EventTimezone string `json:"event_timezone"`
	Custom        bool   `json:"custom"`
	NextDate      string `json:"next_date"`
}

// attendanceRequest は出欠リクエストのボディ。ボディ省略時は既定の上映日を使う。
type attendanceRequest struct {
	Date string `json:"date"`
}

type rosterResponse struct {
	GuildID  string   `json:"guild_id"`
	Date     string   `json:"date"`
	RSVPs    []string `json:"rsvps"`
	Attended []string `json:"attended"`
}

func toSettingsResponse(s *guild.Settings) settingsResponse {
	return settingsResponse{
		GuildID:       s.GuildID,
		EventTime:     s.EventTime,
		EventTimezone: s.EventTimezone,
		Custom:        s.Custom,
		NextDate:      s.NextDate,
	}
}

func toRosterResponse(r *model.Roster) rosterResponse {
	resp := rosterResponse{GuildID: r.GuildID, Date: r.Date, RSVPs: r.RSVPs, Attended: r.Attended}
	if resp.RSVPs == nil {
		resp.RSVPs = []string{}
	}
	if resp.Attended == nil {
		resp.Attended = []string{}
	}
	return resp
}

// GetSettings はギルドに適用されている上映設定を返す。
// GET /api/guilds/{guildID}/settings
func (h *GuildHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.service.Settings(r.Context(), chi.URLParam(r, "guildID"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSettingsResponse(settings))
}

// PutSettings はギルドの上映曜日・時刻とタイムゾーンを変更する。管理者のみ実行できる。
// PUT /api/guilds/{guildID}/settings
func (h *GuildHandler) PutSettings(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFromRequest(w, r)
	if !ok {
		return
	}
	var req settingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequest(w, "リクエストボディの解析に失敗しました。")
		return
	}

	settings, err := h.service.SetEventTime(r.Context(), caller, chi.URLParam(r, "guildID"), req.EventTime, req.EventTimezone)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSettingsResponse(settings))
}

// GetRoster は上映日の参加予定者と参加者を返す。
// GET /api/guilds/{guildID}/rsvps?date=YYYY-MM-DD
func (h *GuildHandler) GetRoster(w http.ResponseWriter, r *http.Request) {
	roster, err := h.service.Roster(r.Context(), chi.URLParam(r, "guildID"), r.URL.Query().Get("date"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRosterResponse(roster))
}

// AddRSVP は呼び出し元を参加予定者に加える。
// POST /api/guilds/{guildID}/rsvps
func (h *GuildHandler) AddRSVP(w http.ResponseWriter, r *http.Request) {
	h.attendance(w, r, h.service.RSVP)
}

// RemoveRSVP は呼び出し元を参加予定者から外す。
// DELETE /api/guilds/{guildID}/rsvps
func (h *GuildHandler) RemoveRSVP(w http.ResponseWriter, r *http.Request) {
	h.attendance(w, r, h.service.CancelRSVP)
}

// MarkAttended は呼び出し元の参加を記録する。
// POST /api/guilds/{guildID}/attendance
func (h *GuildHandler) MarkAttended(w http.ResponseWriter, r *http.Request) {
	h.attendance(w, r, h.service.MarkAttended)
}

func (h *GuildHandler) attendance(
	w http.ResponseWriter,
	r *http.Request,
	op func(ctx context.Context, guildID, userID, date string) (*model.Roster, error),
) {
	caller, ok := callerFromRequest(w, r)
	if !ok {
		return
	}
	var req attendanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeInvalidRequest(w, "リクエストボディの解析に失敗しました。")
		return
	}

	roster, err := op(r.Context(), chi.URLParam(r, "guildID"), caller.UserID, req.Date)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRosterResponse(roster))
}
