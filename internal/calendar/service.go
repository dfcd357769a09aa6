// Package calendar はギルドの上映カレンダーの閲覧・編集を提供する。
// 新しい作品の登録は resolution.Engine が行い、このパッケージは登録済みエントリを扱う。
package calendar

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/movienight/internal/model"
	"github.com/hitoshi/movienight/internal/repository"
	"github.com/hitoshi/movienight/internal/slot"
)

// EmptySlot は作品が登録されていない日付の表示文字列。
const EmptySlot = "<empty>"

// Caller は操作を要求した利用者を表す。
type Caller = model.Caller

// ScheduleDay はスケジュール表示の1日分を表す。
type ScheduleDay struct {
	Date    string
	Label   string // "October 17, 2026"
	Entries []model.Entry
}

// Schedule は今年の残りの上映日とその予定を表す。
type Schedule struct {
	GuildID   string
	EventTime string // "8:00 PM"
	Days      []ScheduleDay
}

// Text はスケジュールをチャット投稿用のプレーンテキストに整形する。
func (s *Schedule) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Upcoming Movie Nights (all times %s):", s.EventTime)
	for _, d := range s.Days {
		b.WriteString("\n")
		b.WriteString(d.Label)
		b.WriteString(": ")
		if len(d.Entries) == 0 {
			b.WriteString(EmptySlot)
			continue
		}
		titles := make([]string, len(d.Entries))
		for i, e := range d.Entries {
			titles[i] = e.Title
		}
		b.WriteString(strings.Join(titles, ", "))
	}
	return b.String()
}

// Service は上映カレンダーのサービス層。
type Service struct {
	store  repository.EntryRepository
	slots  slot.Source
	logger *slog.Logger

	now func() time.Time // テスト用に差し替え可能
}

// NewService はServiceの新しいインスタンスを生成する。
// slots はギルドごとの上映時刻を反映したスロット計算器を返す。
func NewService(store repository.EntryRepository, slots slot.Source, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		slots:  slots,
		logger: logger,
		now:    time.Now,
	}
}

// ListScheduled は上映予定のエントリを日付昇順で返す。
func (s *Service) ListScheduled(ctx context.Context, guildID string) ([]*model.Entry, error) {
	entries, err := s.store.ListScheduled(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("上映予定の取得に失敗しました: %w", err)
	}
	return entries, nil
}

// ListArchived は視聴済みのエントリを日付降順で返す。
func (s *Service) ListArchived(ctx context.Context, guildID string) ([]*model.Entry, error) {
	entries, err := s.store.ListArchived(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("視聴履歴の取得に失敗しました: %w", err)
	}
	return entries, nil
}

// Archive はエントリを視聴済みにする。watchedDate が空の場合はイベントのタイムゾーンでの今日を使う。
func (s *Service) Archive(ctx context.Context, guildID, id, watchedDate string) (*model.Entry, error) {
	if watchedDate == "" {
		alloc, err := s.slots.For(ctx, guildID)
		if err != nil {
			return nil, fmt.Errorf("上映設定の取得に失敗しました: %w", err)
		}
		watchedDate = alloc.Today(s.now())
	} else if _, err := model.ParseDate(watchedDate); err != nil {
		return nil, model.NewInvalidDateError(watchedDate)
	}

	if err := s.store.Archive(ctx, guildID, id, watchedDate); err != nil {
		return nil, fmt.Errorf("エントリのアーカイブに失敗しました: %w", err)
	}
	s.logger.Info("エントリをアーカイブしました",
		slog.String("guild_id", guildID),
		slog.String("entry_id", id),
		slog.String("watched_date", watchedDate),
	)
	return s.find(ctx, guildID, id)
}

// Reschedule はエントリの上映日を変更する。
func (s *Service) Reschedule(ctx context.Context, guildID, id, newDate string) (*model.Entry, error) {
	if _, err := model.ParseDate(newDate); err != nil {
		return nil, model.NewInvalidDateError(newDate)
	}
	if err := s.store.Reschedule(ctx, guildID, id, newDate); err != nil {
		return nil, fmt.Errorf("上映日の変更に失敗しました: %w", err)
	}
	s.logger.Info("上映日を変更しました",
		slog.String("guild_id", guildID),
		slog.String("entry_id", id),
		slog.String("date", newDate),
	)
	return s.find(ctx, guildID, id)
}

// Remove はエントリを完全に削除する。管理者のみ実行できる。
func (s *Service) Remove(ctx context.Context, caller Caller, guildID, id string) error {
	if !caller.Admin {
		return model.NewForbiddenError("エントリの削除は管理者のみ実行できます")
	}
	if err := s.store.Delete(ctx, guildID, id); err != nil {
		return fmt.Errorf("エントリの削除に失敗しました: %w", err)
	}
	s.logger.Info("エントリを削除しました",
		slog.String("guild_id", guildID),
		slog.String("entry_id", id),
		slog.String("user_id", caller.UserID),
	)
	return nil
}

// ScheduleView は次の上映日から年末までの上映日ごとの予定を返す。
func (s *Service) ScheduleView(ctx context.Context, guildID string) (*Schedule, error) {
	entries, err := s.store.ListScheduled(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("上映予定の取得に失敗しました: %w", err)
	}
	byDate := make(map[string][]model.Entry)
	for _, e := range entries {
		byDate[e.Date] = append(byDate[e.Date], *e)
	}

	alloc, err := s.slots.For(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("上映設定の取得に失敗しました: %w", err)
	}
	upcoming := alloc.EnumerateThroughYearEnd(s.now())
	days := make([]ScheduleDay, len(upcoming))
	for i, t := range upcoming {
		date := alloc.Date(t)
		days[i] = ScheduleDay{
			Date:    date,
			Label:   model.DateLabel(date),
			Entries: byDate[date],
		}
	}

	ev := alloc.Event()
	return &Schedule{
		GuildID:   guildID,
		EventTime: time.Date(2000, 1, 1, ev.Hour, ev.Minute, 0, 0, time.UTC).Format("3:04 PM"),
		Days:      days,
	}, nil
}

func (s *Service) find(ctx context.Context, guildID, id string) (*model.Entry, error) {
	entry, err := s.store.FindByID(ctx, guildID, id)
	if err != nil {
		return nil, fmt.Errorf("エントリの取得に失敗しました: %w", err)
	}
	if entry == nil {
		return nil, model.NewEntryNotFoundError(id)
	}
	return entry, nil
}
