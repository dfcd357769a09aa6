package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/movienight/internal/model"
	"github.com/hitoshi/movienight/internal/resolution"
)

// SessionServiceInterface はセッションハンドラーが必要とする解決エンジンのインターフェース。
type SessionServiceInterface interface {
	// Start は追加リクエストの解決セッションを開始する。
	Start(ctx context.Context, req resolution.Request) (*resolution.Outcome, error)
	// Choose は選択トークンに対する利用者の選択を受け付ける。
	Choose(ctx context.Context, requesterID, token string, index int) *resolution.Outcome
}

// SessionHandler は作品追加と候補選択のHTTPハンドラー。
type SessionHandler struct {
	service SessionServiceInterface
}

// NewSessionHandler はSessionHandlerを生成する。
func NewSessionHandler(service SessionServiceInterface) *SessionHandler {
	return &SessionHandler{service: service}
}

// startSessionRequest は作品追加リクエストのボディ。
type startSessionRequest struct {
	Titles    string `json:"titles"` // カンマ区切り
	RequestID string `json:"request_id"`
	Date      string `json:"date"`
	Year      int    `json:"year"`
}

// chooseRequest は候補選択リクエストのボディ。Index は0始まり。
type chooseRequest struct {
	Index *int `json:"index"`
}

// entryResponse はカレンダーエントリのAPIレスポンス。
type entryResponse struct {
	ID          string `json:"id"`
	GuildID     string `json:"guild_id"`
	Title       string `json:"title"`
	ExternalID  *int64 `json:"external_id,omitempty"`
	ReleaseYear string `json:"release_year,omitempty"`
	ReleaseDate string `json:"release_date,omitempty"`
	Date        string `json:"date"`
	AddedBy     string `json:"added_by"`
	Status      string `json:"status"`
}

func toEntryResponse(e model.Entry) entryResponse {
	return entryResponse{
		ID:          e.ID,
		GuildID:     e.GuildID,
		Title:       e.Title,
		ExternalID:  e.ExternalID,
		ReleaseYear: e.ReleaseYear,
		ReleaseDate: e.ReleaseDate,
		Date:        e.Date,
		AddedBy:     e.AddedBy,
		Status:      string(e.Status),
	}
}

// choiceResponse は選択肢の提示内容。
type choiceResponse struct {
	Token     string                 `json:"token"`
	Title     string                 `json:"title"`
	Options   []choiceOptionResponse `json:"options"`
	ExpiresAt string                 `json:"expires_at"`
}

type choiceOptionResponse struct {
	Index int    `json:"index"`
	Label string `json:"label"`
}

// outcomeResponse はセッション操作の結果のAPIレスポンス。
type outcomeResponse struct {
	Kind            string            `json:"kind"`
	SessionKey      string            `json:"session_key,omitempty"`
	GuildID         string            `json:"guild_id,omitempty"`
	Date            string            `json:"date,omitempty"`
	Entries         []entryResponse   `json:"entries,omitempty"`
	Choice          *choiceResponse   `json:"choice,omitempty"`
	FailedTitle     string            `json:"failed_title,omitempty"`
	UnwrittenTitles []string          `json:"unwritten_titles,omitempty"`
	ChoiceStatus    string            `json:"choice_status,omitempty"`
	Error           *apiErrorResponse `json:"error,omitempty"`
}

func toOutcomeResponse(out *resolution.Outcome) outcomeResponse {
	resp := outcomeResponse{
		Kind:            string(out.Kind),
		SessionKey:      out.SessionKey,
		GuildID:         out.GuildID,
		Date:            out.Date,
		FailedTitle:     out.FailedTitle,
		UnwrittenTitles: out.UnwrittenTitles,
		Error:           newAPIErrorResponse(out.Error),
	}
	for _, e := range out.Entries {
		resp.Entries = append(resp.Entries, toEntryResponse(e))
	}
	if p := out.Prompt; p != nil {
		c := &choiceResponse{Token: p.Token, Title: p.Title, ExpiresAt: p.ExpiresAt}
		for _, o := range p.Options {
			c.Options = append(c.Options, choiceOptionResponse{Index: o.Index, Label: o.Label})
		}
		resp.Choice = c
	}
	if out.Kind == resolution.OutcomeRejected {
		resp.ChoiceStatus = out.ChoiceStatus.String()
	}
	return resp
}

// outcomeStatus は結果の種類に応じたHTTPステータスコードを返す。
func outcomeStatus(out *resolution.Outcome) int {
	switch out.Kind {
	case resolution.OutcomeCommitted:
		return http.StatusCreated
	case resolution.OutcomeAwaitingChoice:
		return http.StatusAccepted
	}
	if out.Error != nil {
		return mapAPIErrorToHTTPStatus(out.Error)
	}
	return http.StatusInternalServerError
}

func writeOutcome(w http.ResponseWriter, out *resolution.Outcome) {
	writeJSON(w, outcomeStatus(out), toOutcomeResponse(out))
}

// StartSession はカンマ区切りのタイトルで作品追加セッションを開始する。
// POST /api/guilds/{guildID}/sessions
func (h *SessionHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFromRequest(w, r)
	if !ok {
		return
	}

	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequest(w, "リクエストボディの解析に失敗しました。")
		return
	}

	out, err := h.service.Start(r.Context(), resolution.Request{
		GuildID:     chi.URLParam(r, "guildID"),
		RequesterID: caller.UserID,
		RequestID:   req.RequestID,
		Titles:      resolution.ParseTitles(req.Titles),
		TargetDate:  req.Date,
		YearHint:    req.Year,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeOutcome(w, out)
}

// Choose は提示された候補から1件を選択する。
// POST /api/choices/{token}
func (h *SessionHandler) Choose(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFromRequest(w, r)
	if !ok {
		return
	}

	var req chooseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Index == nil {
		writeInvalidRequest(w, "選択番号（index）を指定してください。")
		return
	}

	out := h.service.Choose(r.Context(), caller.UserID, chi.URLParam(r, "token"), *req.Index)
	writeOutcome(w, out)
}
