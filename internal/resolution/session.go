// Package resolution は映画タイトルをカレンダーエントリに変換する対話的な解決処理を提供する。
//
// 1件の「追加」リクエストは Session として表され、タイトルを先頭から順に検索する。
// 候補が1件なら自動で確定し、複数なら PendingChoice を Registry に登録して利用者の選択を待つ。
// すべてのタイトルが確定すると、1つの日付にまとめてカレンダーへ書き込む。
package resolution

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hitoshi/movienight/internal/model"
)

// State はセッションの状態を表す。
type State int

const (
	// StateAwaitingTitle は titles[cursor] の検索待ち。
	StateAwaitingTitle State = iota
	// StateAwaitingChoice は titles[cursor] の選択肢を提示し、利用者の選択を待っている。
	StateAwaitingChoice
	// StateCommitting はすべてのタイトルが確定し、カレンダーへ書き込み中。
	StateCommitting
	// StateFailed は終端状態（失敗）。
	StateFailed
	// StateDone は終端状態（コミット完了）。
	StateDone
)

// String は状態名を返す。
func (s State) String() string {
	switch s {
	case StateAwaitingTitle:
		return "awaiting_title"
	case StateAwaitingChoice:
		return "awaiting_choice"
	case StateCommitting:
		return "committing"
	case StateFailed:
		return "failed"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Terminal は終端状態かどうかを返す。
func (s State) Terminal() bool {
	return s == StateFailed || s == StateDone
}

// Request はセッション開始リクエストを表す。
type Request struct {
	GuildID     string
	RequesterID string
	RequestID   string   // 空の場合は自動採番する
	Titles      []string // 処理順
	TargetDate  string   // "YYYY-MM-DD"。空の場合は最初の空きスロットを割り当てる
	YearHint    int      // 0 は指定なし
	TitleYears  []int    // Titles と同じ並びのタイトルごとの公開年。0 または範囲外の位置は YearHint を使う
}

// Session は1件の追加リクエストの解決状態を保持する。
// 状態遷移は Engine からのみ行われ、同時に2つの遷移が走らないよう advancing で保護される。
type Session struct {
	key         string
	guildID     string
	requesterID string
	titles      []string
	targetDate  string
	yearHint    int
	titleYears  []int
	createdAt   time.Time

	mu        sync.Mutex
	state     State
	cursor    int
	selected  []model.Candidate
	expiresAt time.Time

	advancing atomic.Bool
}

// NewSession はセッションを初期状態 AwaitingTitle(0) で生成する。
func NewSession(key string, req Request, now time.Time, ttl time.Duration) *Session {
	return &Session{
		key:         key,
		guildID:     req.GuildID,
		requesterID: req.RequesterID,
		titles:      slices.Clone(req.Titles),
		targetDate:  req.TargetDate,
		yearHint:    req.YearHint,
		titleYears:  slices.Clone(req.TitleYears),
		createdAt:   now,
		state:       StateAwaitingTitle,
		selected:    make([]model.Candidate, 0, len(req.Titles)),
		expiresAt:   now.Add(ttl),
	}
}

// Key はセッションキーを返す。
func (s *Session) Key() string { return s.key }

// GuildID はギルドIDを返す。
func (s *Session) GuildID() string { return s.guildID }

// RequesterID はリクエストしたユーザーのIDを返す。
func (s *Session) RequesterID() string { return s.requesterID }

// Titles はタイトル一覧のコピーを返す。
func (s *Session) Titles() []string { return slices.Clone(s.titles) }

// State は現在の状態を返す。
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Cursor は処理中のタイトル位置を返す。常に len(Selected()) と等しい。
func (s *Session) Cursor() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Selected は確定済み候補のコピーを返す。
func (s *Session) Selected() []model.Candidate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.selected)
}

// ExpiresAt はセッションの有効期限を返す。
func (s *Session) ExpiresAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expiresAt
}

func (s *Session) expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt())
}

func (s *Session) touch(expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expiresAt = expiresAt
}

// tryAcquire は状態遷移の実行権を取得する。ほかの遷移が実行中であればfalseを返す。
func (s *Session) tryAcquire() bool {
	return s.advancing.CompareAndSwap(false, true)
}

func (s *Session) release() {
	s.advancing.Store(false)
}

// currentTitle は AwaitingTitle / AwaitingChoice 中のタイトルとその位置を返す。
func (s *Session) currentTitle() (string, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.titles[s.cursor], s.cursor
}

// yearFor は idx 番目のタイトルの検索に使う公開年を返す。
func (s *Session) yearFor(idx int) int {
	if idx < len(s.titleYears) && s.titleYears[idx] > 0 {
		return s.titleYears[idx]
	}
	return s.yearHint
}

// accept は候補を確定してカーソルを進める。
// 最後のタイトルであれば Committing、そうでなければ AwaitingTitle に遷移する。
func (s *Session) accept(c model.Candidate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = append(s.selected, c)
	s.cursor++
	if s.cursor == len(s.titles) {
		s.state = StateCommitting
		return
	}
	s.state = StateAwaitingTitle
}

func (s *Session) transition(to State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = to
}
