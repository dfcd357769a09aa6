// Package notify はセッションの進行とリマインダーを表示層（ログ、チャットのWebhook）へ届ける。
package notify

import (
	"context"
	"log/slog"
	"strings"

	"github.com/hitoshi/movienight/internal/model"
	"github.com/hitoshi/movienight/internal/resolution"
)

// Notifier はセッション通知に上映リマインダーを加えた通知先のインターフェース。
type Notifier interface {
	resolution.Notifier
	Reminder(ctx context.Context, ev model.ReminderEvent)
}

// compile-time interface check
var (
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = (*WebhookNotifier)(nil)
	_ Notifier = Multi(nil)
)

// LogNotifier は通知を構造化ログとして出力する。
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier はLogNotifierを生成する。
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// ChoiceRequested は選択肢の提示をログに出力する。
func (n *LogNotifier) ChoiceRequested(ctx context.Context, p model.ChoicePrompt) {
	labels := make([]string, len(p.Options))
	for i, o := range p.Options {
		labels[i] = o.Label
	}
	n.logger.InfoContext(ctx, "候補の選択を依頼しました",
		slog.String("guild_id", p.GuildID),
		slog.String("requester_id", p.RequesterID),
		slog.String("title", p.Title),
		slog.String("options", strings.Join(labels, " | ")),
		slog.String("expires_at", p.ExpiresAt),
	)
}

// SessionCommitted はコミット完了をログに出力する。
func (n *LogNotifier) SessionCommitted(ctx context.Context, ev model.CommittedEvent) {
	n.logger.InfoContext(ctx, "上映予定を登録しました",
		slog.String("guild_id", ev.GuildID),
		slog.String("requester_id", ev.RequesterID),
		slog.String("date", ev.Date),
		slog.String("titles", strings.Join(entryTitles(ev.Entries), ", ")),
	)
}

// SessionFailed はセッションの失敗をログに出力する。
func (n *LogNotifier) SessionFailed(ctx context.Context, ev model.FailedEvent) {
	n.logger.WarnContext(ctx, "上映予定の登録に失敗しました",
		slog.String("guild_id", ev.GuildID),
		slog.String("requester_id", ev.RequesterID),
		slog.String("title", ev.Title),
		slog.String("code", ev.Code),
		slog.String("reason", ev.Reason),
	)
}

// Reminder はリマインダーをログに出力する。
func (n *LogNotifier) Reminder(ctx context.Context, ev model.ReminderEvent) {
	titles := make([]string, len(ev.Movies))
	for i, m := range ev.Movies {
		titles[i] = m.Title
	}
	n.logger.InfoContext(ctx, "上映リマインダーを送信しました",
		slog.String("guild_id", ev.GuildID),
		slog.String("date", ev.Date),
		slog.String("starts_at", ev.StartsAt),
		slog.String("titles", strings.Join(titles, ", ")),
	)
}

// Multi は複数の通知先へ順に通知する。
type Multi []Notifier

// ChoiceRequested はすべての通知先へ選択肢の提示を通知する。
func (m Multi) ChoiceRequested(ctx context.Context, p model.ChoicePrompt) {
	for _, n := range m {
		n.ChoiceRequested(ctx, p)
	}
}

// SessionCommitted はすべての通知先へコミット完了を通知する。
func (m Multi) SessionCommitted(ctx context.Context, ev model.CommittedEvent) {
	for _, n := range m {
		n.SessionCommitted(ctx, ev)
	}
}

// SessionFailed はすべての通知先へ失敗を通知する。
func (m Multi) SessionFailed(ctx context.Context, ev model.FailedEvent) {
	for _, n := range m {
		n.SessionFailed(ctx, ev)
	}
}

// Reminder はすべての通知先へリマインダーを通知する。
func (m Multi) Reminder(ctx context.Context, ev model.ReminderEvent) {
	for _, n := range m {
		n.Reminder(ctx, ev)
	}
}

func entryTitles(entries []model.Entry) []string {
	titles := make([]string, len(entries))
	for i, e := range entries {
		titles[i] = e.Title
		if e.ReleaseYear != "" {
			titles[i] += " (" + e.ReleaseYear + ")"
		}
	}
	return titles
}
