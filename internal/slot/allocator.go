// Package slot は週次上映枠（スロット）の計算を提供する。
// すべての計算は設定されたタイムゾーンの壁時計時刻で行い、夏時間の切り替えをまたいでも
// 上映開始時刻（例: 土曜20:00）が保たれる。
package slot

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/movienight/internal/model"
)

// DefaultMaxSlots は EnumerateThroughYearEnd が返すスロット数の既定上限。
const DefaultMaxSlots = 25

// EventTime は毎週の上映開始時刻を表す。
type EventTime struct {
	Weekday  time.Weekday
	Hour     int
	Minute   int
	Location *time.Location
}

// String は "Saturday 20:00 (America/New_York)" 形式で返す。
func (e EventTime) String() string {
	return fmt.Sprintf("%s %02d:%02d (%s)", e.Weekday, e.Hour, e.Minute, e.Location)
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// ParseEventTime は "Saturday 20:00" 形式の文字列を EventTime に変換する。
// 曜日は大文字小文字を区別しない。locがnilの場合はUTCを使用する。
func ParseEventTime(s string, loc *time.Location) (EventTime, error) {
	if loc == nil {
		loc = time.UTC
	}
	fields := strings.Fields(s)
	if len(fields) != 2 {
		return EventTime{}, fmt.Errorf("上映時刻の形式が不正です（例: \"Saturday 20:00\"）: %q", s)
	}

	wd, ok := weekdays[strings.ToLower(fields[0])]
	if !ok {
		return EventTime{}, fmt.Errorf("曜日が不正です: %q", fields[0])
	}

	hh, mm, ok := strings.Cut(fields[1], ":")
	if !ok {
		return EventTime{}, fmt.Errorf("時刻の形式が不正です（HH:MM）: %q", fields[1])
	}
	hour, err := strconv.Atoi(hh)
	if err != nil || hour < 0 || hour > 23 {
		return EventTime{}, fmt.Errorf("時が不正です: %q", hh)
	}
	minute, err := strconv.Atoi(mm)
	if err != nil || minute < 0 || minute > 59 {
		return EventTime{}, fmt.Errorf("分が不正です: %q", mm)
	}

	return EventTime{Weekday: wd, Hour: hour, Minute: minute, Location: loc}, nil
}

// Allocator は上映スロットの計算を行う。状態を持たず、並行呼び出しに安全である。
type Allocator struct {
	event    EventTime
	maxSlots int
}

// NewAllocator はAllocatorを生成する。maxSlotsが0以下の場合は DefaultMaxSlots を使用する。
func NewAllocator(event EventTime, maxSlots int) *Allocator {
	if event.Location == nil {
		event.Location = time.UTC
	}
	if maxSlots <= 0 {
		maxSlots = DefaultMaxSlots
	}
	return &Allocator{event: event, maxSlots: maxSlots}
}

// Event は設定された上映時刻を返す。
func (a *Allocator) Event() EventTime {
	return a.event
}

// MaxSlots は EnumerateThroughYearEnd が返すスロット数の上限を返す。
func (a *Allocator) MaxSlots() int {
	return a.maxSlots
}

// WithEvent は上映時刻だけを差し替えた Allocator を返す。スロット数の上限は引き継ぐ。
func (a *Allocator) WithEvent(event EventTime) *Allocator {
	return NewAllocator(event, a.maxSlots)
}

// Location は計算に使用するタイムゾーンを返す。
func (a *Allocator) Location() *time.Location {
	return a.event.Location
}

// Date はスロット時刻をタイムゾーン上の暦日 "YYYY-MM-DD" に変換する。
func (a *Allocator) Date(t time.Time) string {
	return model.FormatDate(t.In(a.event.Location))
}

// Today は ref のタイムゾーン上の暦日を返す。
func (a *Allocator) Today(ref time.Time) string {
	return a.Date(ref)
}

// SlotOn は指定日の上映開始時刻を返す。日付の曜日は検証しない。
func (a *Allocator) SlotOn(date string) (time.Time, error) {
	d, err := model.ParseDate(date)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(d.Year(), d.Month(), d.Day(), a.event.Hour, a.event.Minute, 0, 0, a.event.Location), nil
}

// NextSlotOnOrAfter は ref 以降で最初の上映開始時刻を返す。
// ref が上映曜日の開始時刻より前であれば当日を、開始時刻以降であれば翌週を返す。
func (a *Allocator) NextSlotOnOrAfter(ref time.Time) time.Time {
	local := ref.In(a.event.Location)
	delta := (int(a.event.Weekday) - int(local.Weekday()) + 7) % 7
	slot := a.at(local, delta)
	if !ref.Before(slot) {
		slot = a.at(local, delta+7)
	}
	return slot
}

// FirstOpenSlot は ref 以降で taken に含まれない最初のスロットを返す。
// taken は "YYYY-MM-DD" の集合。埋まっている日付は高々 len(taken) 個なので
// len(taken)+1 週以内に必ず空きが見つかる。
func (a *Allocator) FirstOpenSlot(ref time.Time, taken map[string]struct{}) time.Time {
	slot := a.NextSlotOnOrAfter(ref)
	for i := 0; i < len(taken); i++ {
		if _, ok := taken[a.Date(slot)]; !ok {
			return slot
		}
		slot = a.addWeeks(slot, 1)
	}
	return slot
}

// PreviousSlot は ref より前に開始した直近の上映開始時刻を返す。
// ref がちょうど開始時刻であればその回を返す。
func (a *Allocator) PreviousSlot(ref time.Time) time.Time {
	return a.addWeeks(a.NextSlotOnOrAfter(ref), -1)
}

// EnumerateThroughYearEnd は ref 以降、ref と同じ年の末日までのスロットを昇順で返す。
// 件数は maxSlots を上限とする。
func (a *Allocator) EnumerateThroughYearEnd(ref time.Time) []time.Time {
	year := ref.In(a.event.Location).Year()
	var slots []time.Time
	for slot := a.NextSlotOnOrAfter(ref); slot.In(a.event.Location).Year() == year && len(slots) < a.maxSlots; slot = a.addWeeks(slot, 1) {
		slots = append(slots, slot)
	}
	return slots
}

// at は local の暦日から days 日後の上映開始時刻を返す。
// time.Date はその日のUTCオフセットを解決するため夏時間の境界でも壁時計時刻が保たれる。
func (a *Allocator) at(local time.Time, days int) time.Time {
	return time.Date(local.Year(), local.Month(), local.Day()+days, a.event.Hour, a.event.Minute, 0, 0, a.event.Location)
}

func (a *Allocator) addWeeks(slot time.Time, n int) time.Time {
	return a.at(slot.In(a.event.Location), 7*n)
}
