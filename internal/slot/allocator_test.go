package slot

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func mustLoad(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Skipf("タイムゾーン %s を読み込めません: %v", name, err)
	}
	return loc
}

func newNYAllocator(t *testing.T) (*Allocator, *time.Location) {
	t.Helper()
	loc := mustLoad(t, "America/New_York")
	event, err := ParseEventTime("Saturday 20:00", loc)
	if err != nil {
		t.Fatalf("ParseEventTime failed: %v", err)
	}
	return NewAllocator(event, 0), loc
}

func TestParseEventTime(t *testing.T) {
	tests := []struct {
		in      string
		want    EventTime
		wantErr bool
	}{
		{"Saturday 20:00", EventTime{Weekday: time.Saturday, Hour: 20, Minute: 0, Location: time.UTC}, false},
		{"friday 19:30", EventTime{Weekday: time.Friday, Hour: 19, Minute: 30, Location: time.UTC}, false},
		{"Saturday", EventTime{}, true},
		{"Caturday 20:00", EventTime{}, true},
		{"Saturday 24:00", EventTime{}, true},
		{"Saturday 20:60", EventTime{}, true},
		{"Saturday 2000", EventTime{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseEventTime(tt.in, nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseEventTime(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got.Weekday != tt.want.Weekday || got.Hour != tt.want.Hour || got.Minute != tt.want.Minute || got.Location != tt.want.Location {
				t.Errorf("ParseEventTime(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestNextSlotOnOrAfter_SpringForward(t *testing.T) {
	a, loc := newNYAllocator(t)

	// 2025-03-05（水）は夏時間開始（2025-03-09）の前
	ref := time.Date(2025, 3, 5, 12, 0, 0, 0, loc)
	got := a.NextSlotOnOrAfter(ref)
	if want := time.Date(2025, 3, 9, 1, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("NextSlotOnOrAfter = %v, want %v", got.UTC(), want)
	}

	// 夏時間開始後も20:00（EDT）のまま
	next := a.NextSlotOnOrAfter(got.Add(time.Minute))
	if want := time.Date(2025, 3, 16, 0, 0, 0, 0, time.UTC); !next.Equal(want) {
		t.Errorf("翌週スロット = %v, want %v", next.UTC(), want)
	}
	if h := next.In(loc).Hour(); h != 20 {
		t.Errorf("翌週スロットの時 = %d, want 20", h)
	}
}

func TestNextSlotOnOrAfter_FallBack(t *testing.T) {
	a, loc := newNYAllocator(t)

	first := a.NextSlotOnOrAfter(time.Date(2025, 10, 29, 9, 0, 0, 0, loc))
	if want := time.Date(2025, 11, 2, 0, 0, 0, 0, time.UTC); !first.Equal(want) {
		t.Errorf("夏時間中のスロット = %v, want %v", first.UTC(), want)
	}
	second := a.NextSlotOnOrAfter(first.Add(time.Second))
	if want := time.Date(2025, 11, 9, 1, 0, 0, 0, time.UTC); !second.Equal(want) {
		t.Errorf("標準時のスロット = %v, want %v", second.UTC(), want)
	}
}

func TestNextSlotOnOrAfter_SameDayCutoff(t *testing.T) {
	a, loc := newNYAllocator(t)

	before := time.Date(2025, 3, 8, 19, 59, 0, 0, loc)
	if got := a.Date(a.NextSlotOnOrAfter(before)); got != "2025-03-08" {
		t.Errorf("開始前の土曜 = %s, want 2025-03-08", got)
	}

	at := time.Date(2025, 3, 8, 20, 0, 0, 0, loc)
	if got := a.Date(a.NextSlotOnOrAfter(at)); got != "2025-03-15" {
		t.Errorf("開始時刻ちょうど = %s, want 2025-03-15", got)
	}

	after := time.Date(2025, 3, 8, 23, 0, 0, 0, loc)
	if got := a.Date(a.NextSlotOnOrAfter(after)); got != "2025-03-15" {
		t.Errorf("開始後の土曜 = %s, want 2025-03-15", got)
	}
}

// TestNextSlotOnOrAfter_NeverBeforeReference はどの参照時刻に対しても
// 返されるスロットが参照時刻より後で、7日以内であることを検証する。
func TestNextSlotOnOrAfter_NeverBeforeReference(t *testing.T) {
	a, loc := newNYAllocator(t)
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, loc)
	for i := 0; i < 24*366; i += 7 {
		ref := start.Add(time.Duration(i) * time.Hour)
		got := a.NextSlotOnOrAfter(ref)
		if !got.After(ref) {
			t.Fatalf("ref=%v: slot %v is not after reference", ref, got)
		}
		if got.Sub(ref) > 7*24*time.Hour+time.Hour {
			t.Fatalf("ref=%v: slot %v is more than a week away", ref, got)
		}
		local := got.In(loc)
		if local.Weekday() != time.Saturday || local.Hour() != 20 || local.Minute() != 0 {
			t.Fatalf("ref=%v: slot %v is not Saturday 20:00 local", ref, local)
		}
	}
}

func TestFirstOpenSlot(t *testing.T) {
	a, loc := newNYAllocator(t)
	ref := time.Date(2025, 3, 5, 12, 0, 0, 0, loc)

	tests := []struct {
		name  string
		taken []string
		want  string
	}{
		{"空きあり", nil, "2025-03-08"},
		{"2週埋まり", []string{"2025-03-08", "2025-03-15"}, "2025-03-22"},
		{"飛び石", []string{"2025-03-08", "2025-03-22"}, "2025-03-15"},
		{"過去日付は無関係", []string{"2025-03-01"}, "2025-03-08"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			taken := make(map[string]struct{})
			for _, d := range tt.taken {
				taken[d] = struct{}{}
			}
			if got := a.Date(a.FirstOpenSlot(ref, taken)); got != tt.want {
				t.Errorf("FirstOpenSlot = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestEnumerateThroughYearEnd(t *testing.T) {
	a, loc := newNYAllocator(t)

	got := a.EnumerateThroughYearEnd(time.Date(2025, 12, 1, 9, 0, 0, 0, loc))
	dates := make([]string, len(got))
	for i, s := range got {
		dates[i] = a.Date(s)
	}
	want := []string{"2025-12-06", "2025-12-13", "2025-12-20", "2025-12-27"}
	if diff := cmp.Diff(want, dates); diff != "" {
		t.Errorf("EnumerateThroughYearEnd mismatch (-want +got):\n%s", diff)
	}
}

func TestEnumerateThroughYearEnd_Capped(t *testing.T) {
	a, loc := newNYAllocator(t)
	got := a.EnumerateThroughYearEnd(time.Date(2025, 1, 1, 9, 0, 0, 0, loc))
	if len(got) != DefaultMaxSlots {
		t.Fatalf("len = %d, want %d", len(got), DefaultMaxSlots)
	}
	if d := a.Date(got[0]); d != "2025-01-04" {
		t.Errorf("first = %s, want 2025-01-04", d)
	}
	for i := 1; i < len(got); i++ {
		if !got[i].After(got[i-1]) {
			t.Fatalf("slots not strictly ascending at %d", i)
		}
	}
}

func TestEnumerateThroughYearEnd_NoneLeft(t *testing.T) {
	a, loc := newNYAllocator(t)
	// 2025-12-27（土）の開始後は同年内のスロットがない
	got := a.EnumerateThroughYearEnd(time.Date(2025, 12, 27, 21, 0, 0, 0, loc))
	if len(got) != 0 {
		t.Errorf("len = %d, want 0", len(got))
	}
}

func TestSlotOn(t *testing.T) {
	a, loc := newNYAllocator(t)
	got, err := a.SlotOn("2025-07-04")
	if err != nil {
		t.Fatalf("SlotOn failed: %v", err)
	}
	if want := time.Date(2025, 7, 4, 20, 0, 0, 0, loc); !got.Equal(want) {
		t.Errorf("SlotOn = %v, want %v", got, want)
	}
	if _, err := a.SlotOn("July 4"); err == nil {
		t.Error("不正な日付でエラーが返されるべき")
	}
}

func TestWithEvent_KeepsMaxSlots(t *testing.T) {
	loc := mustLoad(t, "Europe/London")
	base := NewAllocator(EventTime{Weekday: time.Saturday, Hour: 20, Location: time.UTC}, 3)
	friday, _ := ParseEventTime("Friday 21:30", loc)

	a := base.WithEvent(friday)
	if a.MaxSlots() != 3 {
		t.Errorf("MaxSlots = %d, want 3", a.MaxSlots())
	}
	if a.Event() != friday {
		t.Errorf("Event = %s, want %s", a.Event(), friday)
	}
	if base.Event().Weekday != time.Saturday {
		t.Error("元の Allocator は変更されてはならない")
	}
}

func TestFixed(t *testing.T) {
	a, _ := newNYAllocator(t)
	got, err := Fixed(a).For(context.Background(), "any-guild")
	if err != nil || got != a {
		t.Errorf("Fixed.For = %p, %v, want %p, nil", got, err, a)
	}
}

func TestPreviousSlot(t *testing.T) {
	a, loc := newNYAllocator(t)
	tests := []struct {
		name string
		ref  time.Time
		want string
	}{
		{"開始前の土曜は前週", time.Date(2025, 3, 8, 19, 59, 0, 0, loc), "2025-03-01"},
		{"開始時刻ちょうどは当日", time.Date(2025, 3, 8, 20, 0, 0, 0, loc), "2025-03-08"},
		{"翌日の朝は前日の土曜", time.Date(2025, 3, 9, 9, 0, 0, 0, loc), "2025-03-08"},
		{"水曜は直前の土曜", time.Date(2025, 3, 12, 12, 0, 0, 0, loc), "2025-03-08"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := a.Date(a.PreviousSlot(tt.ref)); got != tt.want {
				t.Errorf("PreviousSlot = %s, want %s", got, tt.want)
			}
		})
	}
}
