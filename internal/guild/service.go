// Package guild はギルドごとの上映設定と、上映日ごとの参加予定（RSVP）・参加記録を扱う。
// Service は slot.Source を満たし、ギルドが上映時刻を上書きしていればそれを反映した
// スロット計算器を返す。
package guild

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

// compile-time interface check
var _ slot.Source = (*Service)(nil)

// Settings はギルドに適用される上映設定。
type Settings struct {
	GuildID       string
	EventTime     string // "Saturday 20:00"
	EventTimezone string
	Custom        bool   // ギルド独自の設定が保存されている場合true
	NextDate      string // 次の上映日 "YYYY-MM-DD"
}

// Service はギルド設定と出欠のサービス層。
type Service struct {
	settings   repository.GuildSettingsRepository
	attendance repository.AttendanceRepository
	defaults   *slot.Allocator
	logger     *slog.Logger

	now func() time.Time // テスト用に差し替え可能
}

// NewService はServiceを生成する。defaults はギルドが設定を持たない場合に使うスロット計算器。
func NewService(
	settings repository.GuildSettingsRepository,
	attendance repository.AttendanceRepository,
	defaults *slot.Allocator,
	logger *slog.Logger,
) *Service {
	return &Service{
		settings:   settings,
		attendance: attendance,
		defaults:   defaults,
		logger:     logger,
		now:        time.Now,
	}
}

// For はギルドに適用するスロット計算器を返す。
// 保存済みの設定が解析できない場合は警告を記録して既定の計算器を返す。
func (s *Service) For(ctx context.Context, guildID string) (*slot.Allocator, error) {
	stored, err := s.settings.FindSettings(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("ギルド設定の取得に失敗しました: %w", err)
	}
	if stored == nil || (stored.EventTime == "" && stored.EventTimezone == "") {
		return s.defaults, nil
	}
	event, err := s.resolveEvent(stored.EventTime, stored.EventTimezone)
	if err != nil {
		s.logger.Warn("保存済みの上映設定が不正なため既定値を使用します",
			slog.String("guild_id", guildID),
			slog.String("error", err.Error()),
		)
		return s.defaults, nil
	}
	return s.defaults.WithEvent(event), nil
}

// resolveEvent は上書き値を既定値に重ねて EventTime を組み立てる。空の項目は既定値を使う。
func (s *Service) resolveEvent(eventTime, timezone string) (slot.EventTime, error) {
	def := s.defaults.Event()
	loc := def.Location
	if timezone != "" {
		l, err := time.LoadLocation(timezone)
		if err != nil {
			return slot.EventTime{}, fmt.Errorf("タイムゾーンが不正です: %w", err)
		}
		loc = l
	}
	if eventTime == "" {
		def.Location = loc
		return def, nil
	}
	return slot.ParseEventTime(eventTime, loc)
}

// Settings はギルドに適用されている上映設定を返す。
func (s *Service) Settings(ctx context.Context, guildID string) (*Settings, error) {
	stored, err := s.settings.FindSettings(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("ギルド設定の取得に失敗しました: %w", err)
	}
	alloc, err := s.For(ctx, guildID)
	if err != nil {
		return nil, err
	}
	return s.describe(guildID, alloc, stored != nil && (stored.EventTime != "" || stored.EventTimezone != "")), nil
}

// SetEventTime はギルドの上映曜日・時刻とタイムゾーンを設定する。管理者のみ実行できる。
// 両方とも空の場合はサーバー全体の既定値に戻す。
func (s *Service) SetEventTime(ctx context.Context, caller model.Caller, guildID, eventTime, timezone string) (*Settings, error) {
	if !caller.Admin {
		return nil, model.NewForbiddenError("上映時刻の変更は管理者のみ実行できます")
	}
	eventTime = strings.TrimSpace(eventTime)
	timezone = strings.TrimSpace(timezone)

	event, err := s.resolveEvent(eventTime, timezone)
	if err != nil {
		return nil, model.NewInvalidEventTimeError(strings.TrimSpace(eventTime + " " + timezone))
	}
	if eventTime != "" {
		// 表記を "Saturday 20:00" に正規化して保存する
		eventTime = formatEventTime(event)
	}

	if err := s.settings.SaveSettings(ctx, &model.GuildSettings{
		GuildID:       guildID,
		EventTime:     eventTime,
		EventTimezone: timezone,
		UpdatedBy:     caller.UserID,
	}); err != nil {
		return nil, fmt.Errorf("上映時刻の保存に失敗しました: %w", err)
	}

	custom := eventTime != "" || timezone != ""
	s.logger.Info("上映時刻を変更しました",
		slog.String("guild_id", guildID),
		slog.String("user_id", caller.UserID),
		slog.String("event_time", event.String()),
		slog.Bool("custom", custom),
	)
	return s.describe(guildID, s.defaults.WithEvent(event), custom), nil
}

func (s *Service) describe(guildID string, alloc *slot.Allocator, custom bool) *Settings {
	ev := alloc.Event()
	return &Settings{
		GuildID:       guildID,
		EventTime:     formatEventTime(ev),
		EventTimezone: ev.Location.String(),
		Custom:        custom,
		NextDate:      alloc.Date(alloc.NextSlotOnOrAfter(s.now())),
	}
}

func formatEventTime(ev slot.EventTime) string {
	return fmt.Sprintf("%s %02d:%02d", ev.Weekday, ev.Hour, ev.Minute)
}

// RSVP は利用者を上映日の参加予定者に加える。date が空の場合は次の上映日を使う。
func (s *Service) RSVP(ctx context.Context, guildID, userID, date string) (*model.Roster, error) {
	date, err := s.dateOrNext(ctx, guildID, date)
	if err != nil {
		return nil, err
	}
	added, err := s.attendance.AddAttendance(ctx, guildID, date, userID, model.AttendanceRSVP)
	if err != nil {
		return nil, fmt.Errorf("参加予定の登録に失敗しました: %w", err)
	}
	if added {
		s.logger.Info("参加予定を登録しました",
			slog.String("guild_id", guildID),
			slog.String("user_id", userID),
			slog.String("date", date),
		)
	}
	return s.roster(ctx, guildID, date)
}

// CancelRSVP は利用者を上映日の参加予定者から外す。date が空の場合は次の上映日を使う。
func (s *Service) CancelRSVP(ctx context.Context, guildID, userID, date string) (*model.Roster, error) {
	date, err := s.dateOrNext(ctx, guildID, date)
	if err != nil {
		return nil, err
	}
	removed, err := s.attendance.RemoveAttendance(ctx, guildID, date, userID, model.AttendanceRSVP)
	if err != nil {
		return nil, fmt.Errorf("参加予定の取り消しに失敗しました: %w", err)
	}
	if removed {
		s.logger.Info("参加予定を取り消しました",
			slog.String("guild_id", guildID),
			slog.String("user_id", userID),
			slog.String("date", date),
		)
	}
	return s.roster(ctx, guildID, date)
}

// MarkAttended は利用者の参加を記録する。date が空の場合は直近に開始した上映日を使う。
func (s *Service) MarkAttended(ctx context.Context, guildID, userID, date string) (*model.Roster, error) {
	if date == "" {
		alloc, err := s.For(ctx, guildID)
		if err != nil {
			return nil, err
		}
		date = alloc.Date(alloc.PreviousSlot(s.now()))
	} else if _, err := model.ParseDate(date); err != nil {
		return nil, model.NewInvalidDateError(date)
	}

	if _, err := s.attendance.AddAttendance(ctx, guildID, date, userID, model.AttendanceAttended); err != nil {
		return nil, fmt.Errorf("参加記録の登録に失敗しました: %w", err)
	}
	return s.roster(ctx, guildID, date)
}

// Roster は上映日の参加予定者と参加者を返す。date が空の場合は次の上映日を使う。
func (s *Service) Roster(ctx context.Context, guildID, date string) (*model.Roster, error) {
	date, err := s.dateOrNext(ctx, guildID, date)
	if err != nil {
		return nil, err
	}
	return s.roster(ctx, guildID, date)
}

func (s *Service) roster(ctx context.Context, guildID, date string) (*model.Roster, error) {
	rsvps, err := s.attendance.ListAttendance(ctx, guildID, date, model.AttendanceRSVP)
	if err != nil {
		return nil, fmt.Errorf("参加予定者の取得に失敗しました: %w", err)
	}
	attended, err := s.attendance.ListAttendance(ctx, guildID, date, model.AttendanceAttended)
	if err != nil {
		return nil, fmt.Errorf("参加者の取得に失敗しました: %w", err)
	}
	return &model.Roster{GuildID: guildID, Date: date, RSVPs: rsvps, Attended: attended}, nil
}

func (s *Service) dateOrNext(ctx context.Context, guildID, date string) (string, error) {
	if date != "" {
		if _, err := model.ParseDate(date); err != nil {
			return "", model.NewInvalidDateError(date)
		}
		return date, nil
	}
	alloc, err := s.For(ctx, guildID)
	if err != nil {
		return "", err
	}
	return alloc.Date(alloc.NextSlotOnOrAfter(s.now())), nil
}
