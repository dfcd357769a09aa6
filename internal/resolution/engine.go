package resolution

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"github.com/hitoshi/movienight/internal/metadata"
	"github.com/hitoshi/movienight/internal/metrics"
	"github.com/hitoshi/movienight/internal/model"
	"github.com/hitoshi/movienight/internal/repository"
	"github.com/hitoshi/movienight/internal/slot"
)

const (
	// DefaultChoiceCap は1回の選択で提示する候補数の既定上限。
	DefaultChoiceCap = 25
	// DefaultBackfillConcurrency はコミット時の詳細情報補完の既定並列数。
	DefaultBackfillConcurrency = 4
)

// Notifier はセッションの進行を表示層へ通知するインターフェース。
// 実装は呼び出し元をブロックしないか、短時間で戻ること。
type Notifier interface {
	ChoiceRequested(ctx context.Context, prompt model.ChoicePrompt)
	SessionCommitted(ctx context.Context, ev model.CommittedEvent)
	SessionFailed(ctx context.Context, ev model.FailedEvent)
}

// Sanitizer は外部入力の文字列から不要なマークアップを除去する。
type Sanitizer interface {
	Sanitize(s string) string
}

type nopNotifier struct{}

func (nopNotifier) ChoiceRequested(context.Context, model.ChoicePrompt) {}
func (nopNotifier) SessionCommitted(context.Context, model.CommittedEvent) {}
func (nopNotifier) SessionFailed(context.Context, model.FailedEvent) {}

// Config はEngineのポリシー設定を保持する。
type Config struct {
	ChoiceCap           int // 提示する候補数の上限（人気度順）
	BackfillConcurrency int
}

// EngineDeps はEngineの依存を保持する。
type EngineDeps struct {
	Registry  *Registry
	Resolver  metadata.Resolver
	Store     repository.EntryRepository
	Slots     slot.Source
	Notifier  Notifier                 // nilの場合は通知しない
	Sanitizer Sanitizer                // nilの場合は前後の空白除去のみ行う
	Collector metrics.MetricsCollector // nilの場合は記録しない
	Logger    *slog.Logger
	Config    Config
}

// Engine はセッションの開始・選択を受け付け、状態機械を進める。
// 進行はすべて呼び出し（タイトル追加・選択）を契機とし、バックグラウンドで進むことはない。
type Engine struct {
	registry  *Registry
	resolver  metadata.Resolver
	store     repository.EntryRepository
	slots     slot.Source
	notifier  Notifier
	sanitizer Sanitizer
	collector metrics.MetricsCollector
	logger    *slog.Logger
	cfg       Config
	locks     *guildLocks

	now   func() time.Time // テスト用に差し替え可能
	newID func() string
}

// NewEngine はEngineを生成する。
func NewEngine(deps EngineDeps) *Engine {
	cfg := deps.Config
	if cfg.ChoiceCap <= 0 {
		cfg.ChoiceCap = DefaultChoiceCap
	}
	if cfg.BackfillConcurrency <= 0 {
		cfg.BackfillConcurrency = DefaultBackfillConcurrency
	}
	e := &Engine{
		registry:  deps.Registry,
		resolver:  deps.Resolver,
		store:     deps.Store,
		slots:     deps.Slots,
		notifier:  deps.Notifier,
		sanitizer: deps.Sanitizer,
		collector: deps.Collector,
		logger:    deps.Logger,
		cfg:       cfg,
		locks:     newGuildLocks(),
		now:       time.Now,
		newID:     uuid.NewString,
	}
	if e.notifier == nil {
		e.notifier = nopNotifier{}
	}
	if e.collector == nil {
		e.collector = metrics.NopCollector{}
	}
	return e
}

// Registry はEngineが使用するRegistryを返す。
func (e *Engine) Registry() *Registry {
	return e.registry
}

// ParseTitles はカンマ区切りの文字列をタイトル一覧に分割する。
// 各タイトルの前後の空白は除去し、空のタイトルは捨てる。
func ParseTitles(raw string) []string {
	var titles []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			titles = append(titles, t)
		}
	}
	return titles
}

func (e *Engine) clean(s string) string {
	if e.sanitizer != nil {
		s = e.sanitizer.Sanitize(s)
	}
	return strings.TrimSpace(s)
}

// Start は新しいセッションを開き、利用者の入力が必要になるか終端に達するまで進める。
// 入力の検証に失敗した場合とセッションキーが重複した場合のみエラーを返す。
func (e *Engine) Start(ctx context.Context, req Request) (*Outcome, error) {
	var titles []string
	var years []int
	for i, t := range req.Titles {
		if t = e.clean(t); t != "" {
			titles = append(titles, t)
			if i < len(req.TitleYears) {
				years = append(years, req.TitleYears[i])
			} else {
				years = append(years, 0)
			}
		}
	}
	if len(titles) == 0 {
		return nil, model.NewInvalidTitlesError()
	}
	req.Titles = titles
	req.TitleYears = years

	if req.TargetDate != "" {
		if _, err := model.ParseDate(req.TargetDate); err != nil {
			return nil, model.NewInvalidDateError(req.TargetDate)
		}
	}
	if req.RequestID == "" {
		req.RequestID = e.newID()
	}

	s := NewSession(req.RequesterID+":"+req.RequestID, req, e.now(), e.registry.TTL())
	if err := e.registry.Open(s); err != nil {
		return nil, err
	}
	e.collector.RecordSessionOpened()
	e.logger.Info("解決セッションを開始しました",
		slog.String("session_key", s.key),
		slog.String("guild_id", s.guildID),
		slog.Int("title_count", len(titles)),
	)

	s.tryAcquire()
	defer s.release()
	return e.drive(ctx, s), nil
}

// Choose は選択トークンに対する利用者の選択を受け付け、セッションを進める。
// 無効・期限切れ・範囲外・他ユーザーによる選択は OutcomeRejected として返し、
// セッションの状態は変更しない。
func (e *Engine) Choose(ctx context.Context, requesterID, token string, index int) *Outcome {
	peek := e.registry.Peek(token)
	if peek.Status != ChoiceValid {
		return e.reject(peek.Status, nil)
	}
	s := peek.Session
	if s.RequesterID() != requesterID {
		return e.rejectWith(ChoiceForbidden, s, model.NewForbiddenError("セッションを開始したユーザーのみ選択できます"))
	}
	if !s.tryAcquire() {
		return e.rejectWith(ChoiceBusy, s, model.NewSessionBusyError())
	}
	defer s.release()

	res := e.registry.ResolveChoice(token, index)
	if res.Status == ChoiceOutOfRange {
		return e.rejectWith(res.Status, s, model.NewChoiceOutOfRangeError(index, len(res.Choice.Candidates)))
	}
	if res.Status != ChoiceValid {
		return e.reject(res.Status, s)
	}
	if _, cursor := s.currentTitle(); res.Choice.TitleIndex != cursor || s.State() != StateAwaitingChoice {
		return e.reject(ChoiceConsumed, s)
	}

	s.accept(res.Candidate)
	e.logger.Info("候補が選択されました",
		slog.String("session_key", s.key),
		slog.Int("title_index", res.Choice.TitleIndex),
		slog.Int64("external_id", res.Candidate.ExternalID),
	)
	return e.drive(ctx, s)
}

// drive は AwaitingChoice または終端に達するまで状態機械を進める。呼び出し元が実行権を保持していること。
func (e *Engine) drive(ctx context.Context, s *Session) *Outcome {
	for {
		switch s.State() {
		case StateAwaitingTitle:
			title, idx := s.currentTitle()
			start := time.Now()
			candidates, err := e.resolver.Search(ctx, title, s.yearFor(idx))
			e.collector.RecordLookupLatency(time.Since(start))
			if err != nil {
				return e.fail(ctx, s, title, model.NewLookupFailedError(title), err)
			}
			switch len(candidates) {
			case 0:
				return e.fail(ctx, s, title, model.NewNoCandidatesError(title), nil)
			case 1:
				s.accept(e.cleanCandidate(candidates[0], title))
			default:
				return e.awaitChoice(ctx, s, title, idx, candidates)
			}
		case StateCommitting:
			return e.commit(ctx, s)
		default:
			return &Outcome{Kind: OutcomeRejected, SessionKey: s.key, GuildID: s.guildID, Error: model.NewSessionBusyError()}
		}
	}
}

func (e *Engine) cleanCandidate(c model.Candidate, fallbackTitle string) model.Candidate {
	c.Title = e.clean(c.Title)
	if c.Title == "" {
		c.Title = fallbackTitle
	}
	c.Overview = e.clean(c.Overview)
	return c
}

func (e *Engine) awaitChoice(ctx context.Context, s *Session, title string, idx int, candidates []model.Candidate) *Outcome {
	ranked := metadata.RankCandidates(candidates)
	if len(ranked) > e.cfg.ChoiceCap {
		ranked = ranked[:e.cfg.ChoiceCap]
	}
	for i := range ranked {
		ranked[i] = e.cleanCandidate(ranked[i], title)
	}

	token := s.requesterID + ":" + e.newID()
	pc, ok := e.registry.PublishChoice(s.key, token, ranked, idx)
	if !ok {
		return e.fail(ctx, s, title, model.NewChoiceExpiredError(), nil)
	}
	s.transition(StateAwaitingChoice)

	options := make([]model.ChoiceOption, len(ranked))
	for i, c := range ranked {
		options[i] = model.ChoiceOption{Index: i, Label: c.Label()}
	}
	prompt := model.ChoicePrompt{
		GuildID:     s.guildID,
		RequesterID: s.requesterID,
		Token:       token,
		Title:       title,
		Options:     options,
		ExpiresAt:   pc.ExpiresAt.Format(time.RFC3339),
	}

	e.collector.RecordChoicePublished()
	e.notifier.ChoiceRequested(ctx, prompt)
	e.logger.Info("候補の選択待ちになりました",
		slog.String("session_key", s.key),
		slog.Int("title_index", idx),
		slog.Int("candidate_count", len(ranked)),
	)
	return &Outcome{Kind: OutcomeAwaitingChoice, SessionKey: s.key, GuildID: s.guildID, Prompt: &prompt}
}

// commit は確定済みの候補を1つの日付にまとめて書き込む。
// 日付未指定の場合はギルド単位のロックを保持したまま空きスロットの算出と書き込みを行い、
// 同一プロセス内の並行セッションによる二重予約を防ぐ。
func (e *Engine) commit(ctx context.Context, s *Session) *Outcome {
	selected := s.Selected()
	e.backfill(ctx, selected)

	unlock := e.locks.lock(s.guildID)
	defer unlock()

	date := s.targetDate
	if date == "" {
		alloc, err := e.slots.For(ctx, s.guildID)
		if err != nil {
			return e.fail(ctx, s, "", model.NewStoreWriteFailedError(), err)
		}
		scheduled, err := e.store.ListScheduled(ctx, s.guildID)
		if err != nil {
			return e.fail(ctx, s, "", model.NewStoreWriteFailedError(), err)
		}
		taken := make(map[string]struct{}, len(scheduled))
		for _, entry := range scheduled {
			taken[entry.Date] = struct{}{}
		}
		date = alloc.Date(alloc.FirstOpenSlot(e.now(), taken))
	}

	entries := make([]*model.Entry, len(selected))
	for i, c := range selected {
		externalID := c.ExternalID
		entries[i] = &model.Entry{
			GuildID:     s.guildID,
			Title:       c.Title,
			ExternalID:  &externalID,
			ReleaseYear: c.Year(),
			ReleaseDate: c.ReleaseDate,
			Date:        date,
			AddedBy:     s.requesterID,
			Status:      model.EntryStatusScheduled,
		}
	}

	if err := e.store.CreateBatch(ctx, entries); err != nil {
		return e.fail(ctx, s, "", model.NewStoreWriteFailedError(), err)
	}

	s.transition(StateDone)
	e.registry.Close(s.key)

	written := make([]model.Entry, len(entries))
	for i, entry := range entries {
		written[i] = *entry
	}
	e.collector.RecordSessionCommitted(len(written))
	e.notifier.SessionCommitted(ctx, model.CommittedEvent{
		GuildID:     s.guildID,
		RequesterID: s.requesterID,
		Date:        date,
		Entries:     written,
	})
	e.logger.Info("カレンダーに登録しました",
		slog.String("session_key", s.key),
		slog.String("guild_id", s.guildID),
		slog.String("date", date),
		slog.Int("entry_count", len(written)),
	)
	return &Outcome{Kind: OutcomeCommitted, SessionKey: s.key, GuildID: s.guildID, Date: date, Entries: written}
}

// backfill はリリース日が未取得の候補について詳細情報を並列に取得して補完する。
// 取得に失敗した候補はリリース日を空のまま残す。
func (e *Engine) backfill(ctx context.Context, selected []model.Candidate) {
	p := pool.New().WithMaxGoroutines(e.cfg.BackfillConcurrency)
	for i := range selected {
		if selected[i].ReleaseDate != "" {
			continue
		}
		p.Go(func() {
			details, err := e.resolver.Details(ctx, selected[i].ExternalID)
			if err != nil {
				e.logger.Warn("作品詳細の取得に失敗しました（リリース日は空のまま登録します）",
					slog.Int64("external_id", selected[i].ExternalID),
					slog.String("error", err.Error()),
				)
				return
			}
			if details != nil {
				selected[i].ReleaseDate = details.ReleaseDate
			}
		})
	}
	p.Wait()
}

func (e *Engine) fail(ctx context.Context, s *Session, title string, apiErr *model.APIError, cause error) *Outcome {
	s.transition(StateFailed)
	e.registry.Close(s.key)

	attrs := []any{
		slog.String("session_key", s.key),
		slog.String("guild_id", s.guildID),
		slog.String("title", title),
		slog.String("code", apiErr.Code),
	}
	if cause != nil {
		attrs = append(attrs, slog.String("error", cause.Error()))
	}
	e.logger.Warn("解決セッションが失敗しました", attrs...)

	e.collector.RecordSessionFailed(apiErr.Code)
	e.notifier.SessionFailed(ctx, model.FailedEvent{
		GuildID:     s.guildID,
		RequesterID: s.requesterID,
		Title:       title,
		Code:        apiErr.Code,
		Reason:      apiErr.Message,
	})
	return &Outcome{
		Kind:            OutcomeFailed,
		SessionKey:      s.key,
		GuildID:         s.guildID,
		FailedTitle:     title,
		UnwrittenTitles: s.Titles(),
		Error:           apiErr,
	}
}

func (e *Engine) reject(status ChoiceStatus, s *Session) *Outcome {
	var apiErr *model.APIError
	switch status {
	case ChoiceExpired:
		apiErr = model.NewChoiceExpiredError()
	default:
		apiErr = model.NewChoiceInvalidError()
	}
	return e.rejectWith(status, s, apiErr)
}

func (e *Engine) rejectWith(status ChoiceStatus, s *Session, apiErr *model.APIError) *Outcome {
	e.collector.RecordChoiceRejected(strings.ToLower(apiErr.Code))
	out := &Outcome{Kind: OutcomeRejected, ChoiceStatus: status, Error: apiErr}
	if s != nil {
		out.SessionKey = s.key
		out.GuildID = s.guildID
	}
	return out
}

// guildLocks はギルドごとのコミット用ロックを管理する。
type guildLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newGuildLocks() *guildLocks {
	return &guildLocks{locks: make(map[string]*sync.Mutex)}
}

func (g *guildLocks) lock(guildID string) func() {
	g.mu.Lock()
	l, ok := g.locks[guildID]
	if !ok {
		l = &sync.Mutex{}
		g.locks[guildID] = l
	}
	g.mu.Unlock()

	l.Lock()
	return l.Unlock
}
