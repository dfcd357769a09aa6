package reminder

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/hitoshi/movienight/internal/model"
	"github.com/hitoshi/movienight/internal/repository"
	"github.com/hitoshi/movienight/internal/slot"
)

// --- モック定義 ---

// mockStore はListGuildIDsとListScheduledOnのみを実装する。
type mockStore struct {
	repository.EntryRepository
	entries      []*model.Entry
	listGuildErr error
}

func (m *mockStore) ListGuildIDs(context.Context) ([]string, error) {
	if m.listGuildErr != nil {
		return nil, m.listGuildErr
	}
	seen := map[string]bool{}
	var ids []string
	for _, e := range m.entries {
		if !seen[e.GuildID] {
			seen[e.GuildID] = true
			ids = append(ids, e.GuildID)
		}
	}
	return ids, nil
}

func (m *mockStore) ListScheduledOn(_ context.Context, guildID, date string) ([]*model.Entry, error) {
	var out []*model.Entry
	for _, e := range m.entries {
		if e.GuildID == guildID && e.Date == date {
			out = append(out, e)
		}
	}
	return out, nil
}

type mockDetails struct {
	detailsFn func(id int64) (*model.CandidateDetails, error)
}

func (m *mockDetails) Details(_ context.Context, id int64) (*model.CandidateDetails, error) {
	return m.detailsFn(id)
}

type recordingSender struct {
	mu     sync.Mutex
	events []model.ReminderEvent
}

func (r *recordingSender) Reminder(_ context.Context, ev model.ReminderEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func int64Ptr(v int64) *int64 { return &v }

type testEnv struct {
	job    *Job
	store  *mockStore
	sender *recordingSender
	loc    *time.Location
}

func newTestJob(t *testing.T) *testEnv {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("タイムゾーンを読み込めません: %v", err)
	}
	event, _ := slot.ParseEventTime("Saturday 20:00", loc)
	store := &mockStore{entries: []*model.Entry{
		{GuildID: "g1", Title: "Alien", ReleaseYear: "1979", ExternalID: int64Ptr(348), Date: "2026-10-17", AddedBy: "u1"},
		{GuildID: "g1", Title: "Aliens", ReleaseYear: "1986", ExternalID: int64Ptr(679), Date: "2026-10-17", AddedBy: "u1"},
		{GuildID: "g2", Title: "Heat", Date: "2026-10-24"},
	}}
	details := &mockDetails{detailsFn: func(id int64) (*model.CandidateDetails, error) {
		if id == 348 {
			return &model.CandidateDetails{ExternalID: 348, Genres: []string{"Horror"}, VoteAverage: 8.2, Overview: "In space..."}, nil
		}
		return nil, errors.New("lookup failed")
	}}
	sender := &recordingSender{}
	var buf bytes.Buffer
	job := NewJob(store, details, sender, slot.Fixed(slot.NewAllocator(event, 0)), nil, newTestLogger(&buf), Config{})
	return &testEnv{job: job, store: store, sender: sender, loc: loc}
}

func (env *testEnv) at(hour, minute int) {
	env.job.now = func() time.Time { return time.Date(2026, 10, 17, hour, minute, 0, 0, env.loc) }
}

func TestJob_SendsWithinLead(t *testing.T) {
	env := newTestJob(t)
	env.at(19, 56)

	n, err := env.job.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if n != 1 || len(env.sender.events) != 1 {
		t.Fatalf("sent = %d, events = %d, want 1", n, len(env.sender.events))
	}

	ev := env.sender.events[0]
	if ev.GuildID != "g1" || ev.Date != "2026-10-17" || ev.LeadMinutes != 4 {
		t.Errorf("event = %+v", ev)
	}
	want := []model.ReminderMovie{
		{Title: "Alien", ReleaseYear: "1979", Genres: []string{"Horror"}, VoteAverage: 8.2, Overview: "In space...", AddedBy: "u1"},
		{Title: "Aliens", ReleaseYear: "1986", AddedBy: "u1"},
	}
	if diff := cmp.Diff(want, ev.Movies); diff != "" {
		t.Errorf("movies mismatch (-want +got):\n%s", diff)
	}
}

func TestJob_SendsOncePerDate(t *testing.T) {
	env := newTestJob(t)
	env.at(19, 56)
	env.job.RunOnce(context.Background())
	env.at(19, 58)
	n, _ := env.job.RunOnce(context.Background())

	if n != 0 || len(env.sender.events) != 1 {
		t.Errorf("2回目: sent = %d, events = %d, want 0 / 1", n, len(env.sender.events))
	}
}

func TestJob_OutsideLead(t *testing.T) {
	tests := []struct {
		name         string
		hour, minute int
	}{
		{name: "開始10分前", hour: 19, minute: 50},
		{name: "開始時刻ちょうど", hour: 20, minute: 0},
		{name: "開始後", hour: 20, minute: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestJob(t)
			env.at(tt.hour, tt.minute)
			n, err := env.job.RunOnce(context.Background())
			if err != nil {
				t.Fatalf("RunOnce failed: %v", err)
			}
			if n != 0 {
				t.Errorf("sent = %d, want 0", n)
			}
		})
	}
}

func TestJob_ListGuildError(t *testing.T) {
	env := newTestJob(t)
	env.store.listGuildErr = errors.New("db down")
	env.at(19, 56)

	if _, err := env.job.RunOnce(context.Background()); err == nil {
		t.Fatal("ギルド一覧の取得失敗はエラーを返すべき")
	}
}

// guildSource はギルドIDごとにスロット計算器を返す。未登録のギルドはエラーになる。
type guildSource map[string]*slot.Allocator

func (g guildSource) For(_ context.Context, guildID string) (*slot.Allocator, error) {
	a, ok := g[guildID]
	if !ok {
		return nil, errors.New("guild settings unavailable")
	}
	return a, nil
}

func TestJob_FollowsGuildEventTime(t *testing.T) {
	env := newTestJob(t)
	early, _ := slot.ParseEventTime("Saturday 19:00", env.loc)
	late, _ := slot.ParseEventTime("Saturday 20:00", env.loc)
	env.store.entries = append(env.store.entries,
		&model.Entry{GuildID: "g2", Title: "Ronin", Date: "2026-10-17"},
		&model.Entry{GuildID: "g3", Title: "Thief", Date: "2026-10-17"},
	)
	// g3 は設定を取得できないが、他のギルドの送信は継続する
	env.job.slots = guildSource{
		"g1": slot.NewAllocator(late, 0),
		"g2": slot.NewAllocator(early, 0),
	}

	env.at(18, 57)
	n, err := env.job.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if n != 1 || env.sender.events[0].GuildID != "g2" || env.sender.events[0].LeadMinutes != 3 {
		t.Fatalf("18:57: sent = %d, events = %+v, want g2 only", n, env.sender.events)
	}

	env.at(19, 56)
	n, err = env.job.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if n != 1 || env.sender.events[1].GuildID != "g1" {
		t.Fatalf("19:56: sent = %d, events = %+v, want g1 only", n, env.sender.events)
	}
}
