package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/movienight/internal/model"
)

const (
	// reminderColor は上映リマインダーの埋め込みの色（ゴールド）。
	reminderColor = 0xFFD700
	// maxEmbedDescription はDiscordの埋め込み説明文の上限文字数。
	maxEmbedDescription = 4096
	defaultSendTimeout  = 10 * time.Second
)

// WebhookNotifier はDiscord互換のWebhookへ通知を投稿する。
// 投稿の失敗はログに記録するのみで、呼び出し元には返さない。
type WebhookNotifier struct {
	httpClient *http.Client
	url        string
	logger     *slog.Logger
	timeout    time.Duration
}

// NewWebhookNotifier はWebhookNotifierを生成する。
// httpClient には security.URLGuard.NewSafeClient で生成したクライアントを渡す。
func NewWebhookNotifier(httpClient *http.Client, webhookURL string, logger *slog.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		httpClient: httpClient,
		url:        webhookURL,
		logger:     logger,
		timeout:    defaultSendTimeout,
	}
}

type webhookPayload struct {
	Content string  `json:"content"`
	Embeds  []embed `json:"embeds,omitempty"`
}

type embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color,omitempty"`
	Fields      []embedField `json:"fields,omitempty"`
	Footer      *embedFooter `json:"footer,omitempty"`
}

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type embedFooter struct {
	Text string `json:"text"`
}

// ChoiceRequested は候補の一覧を番号付きで投稿する。
func (n *WebhookNotifier) ChoiceRequested(ctx context.Context, p model.ChoicePrompt) {
	var b strings.Builder
	fmt.Fprintf(&b, "<@%s> Multiple matches for **%s**. Pick one:\n", p.RequesterID, p.Title)
	for _, o := range p.Options {
		fmt.Fprintf(&b, "%d. %s\n", o.Index+1, o.Label)
	}
	fmt.Fprintf(&b, "Choice token: `%s`", p.Token)
	n.post(ctx, "choice", webhookPayload{Content: b.String()})
}

// SessionCommitted は登録された作品と上映日を投稿する。
func (n *WebhookNotifier) SessionCommitted(ctx context.Context, ev model.CommittedEvent) {
	content := fmt.Sprintf("<@%s> Scheduled %s for %s.",
		ev.RequesterID, strings.Join(entryTitles(ev.Entries), ", "), model.DateLabel(ev.Date))
	n.post(ctx, "committed", webhookPayload{Content: content})
}

// SessionFailed は失敗理由を投稿する。
func (n *WebhookNotifier) SessionFailed(ctx context.Context, ev model.FailedEvent) {
	var content string
	switch ev.Code {
	case model.ErrCodeNoCandidates:
		content = fmt.Sprintf("<@%s> No movies found for **%s**. Nothing was scheduled.", ev.RequesterID, ev.Title)
	case model.ErrCodeLookupFailed:
		content = fmt.Sprintf("<@%s> Movie lookup failed for **%s**. Nothing was scheduled.", ev.RequesterID, ev.Title)
	case model.ErrCodeChoiceExpired:
		content = fmt.Sprintf("<@%s> The selection timed out. Nothing was scheduled.", ev.RequesterID)
	default:
		content = fmt.Sprintf("<@%s> Could not update the schedule. Nothing was scheduled.", ev.RequesterID)
	}
	n.post(ctx, "failed", webhookPayload{Content: content})
}

// Reminder は上映開始前のリマインダーを作品ごとの埋め込み付きで投稿する。
func (n *WebhookNotifier) Reminder(ctx context.Context, ev model.ReminderEvent) {
	footer := "Movie Night starts in " + strconv.Itoa(ev.LeadMinutes) + " minutes!"
	payload := webhookPayload{Content: footer}
	for _, m := range ev.Movies {
		title := m.Title
		if m.ReleaseYear != "" {
			title += " (" + m.ReleaseYear + ")"
		}
		genres := "N/A"
		if len(m.Genres) > 0 {
			genres = strings.Join(m.Genres, ", ")
		}
		rating := "N/A"
		if m.VoteAverage > 0 {
			rating = strconv.FormatFloat(m.VoteAverage, 'f', -1, 64) + "/10"
		}
		payload.Embeds = append(payload.Embeds, embed{
			Title:       title,
			Description: truncate(m.Overview, maxEmbedDescription),
			Color:       reminderColor,
			Fields: []embedField{
				{Name: "Genres", Value: genres, Inline: true},
				{Name: "User Rating", Value: rating, Inline: true},
			},
			Footer: &embedFooter{Text: footer},
		})
	}
	n.post(ctx, "reminder", payload)
}

func (n *WebhookNotifier) post(ctx context.Context, kind string, payload webhookPayload) {
	if err := n.send(ctx, payload); err != nil {
		n.logger.Error("Webhookへの通知に失敗しました",
			slog.String("kind", kind),
			slog.String("error", err.Error()),
		)
	}
}

func (n *WebhookNotifier) send(ctx context.Context, payload webhookPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("通知のエンコードに失敗しました: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("リクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("Webhookへの送信に失敗しました: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("Webhookが予期しないステータスを返しました: %d", resp.StatusCode)
	}
	return nil
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-1]) + "…"
}
