package resolution

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/hitoshi/movienight/internal/metrics"
	"github.com/hitoshi/movienight/internal/model"
)

// DefaultTTL はセッションと選択トークンの既定有効期間。
const DefaultTTL = 10 * time.Minute

// ChoiceStatus は選択トークンの解決結果を表す。
type ChoiceStatus int

const (
	// ChoiceValid はトークンが有効で、選択が受理されたことを表す。
	ChoiceValid ChoiceStatus = iota
	// ChoiceExpired はトークンまたはセッションが有効期限切れであることを表す。
	ChoiceExpired
	// ChoiceConsumed はトークンが使用済み、またはセッションが終了済みであることを表す。
	ChoiceConsumed
	// ChoiceUnknown は未知のトークンであることを表す。
	ChoiceUnknown
	// ChoiceOutOfRange は選択番号が候補数の範囲外であることを表す。トークンは有効なまま残る。
	ChoiceOutOfRange
	// ChoiceForbidden はセッションを開始していないユーザーによる選択であることを表す。トークンは有効なまま残る。
	ChoiceForbidden
	// ChoiceBusy は同じセッションが別の操作で処理中であることを表す。トークンは有効なまま残る。
	ChoiceBusy
)

// String は状態名を返す。
func (s ChoiceStatus) String() string {
	switch s {
	case ChoiceValid:
		return "valid"
	case ChoiceExpired:
		return "expired"
	case ChoiceConsumed:
		return "consumed"
	case ChoiceUnknown:
		return "unknown"
	case ChoiceOutOfRange:
		return "out_of_range"
	case ChoiceForbidden:
		return "forbidden"
	case ChoiceBusy:
		return "busy"
	default:
		return "invalid"
	}
}

// PendingChoice は利用者の選択を待っている候補一覧を表す。
type PendingChoice struct {
	Token      string
	SessionKey string
	Candidates []model.Candidate
	TitleIndex int
	ExpiresAt  time.Time
}

// Resolution は Peek / ResolveChoice の結果を表す。
// Status が ChoiceValid の場合のみ Candidate が設定される。
type Resolution struct {
	Status    ChoiceStatus
	Session   *Session
	Choice    *PendingChoice
	Candidate model.Candidate
}

type tombstone struct {
	status ChoiceStatus
	until  time.Time
}

// Registry は生存中のセッションと選択トークンを管理する。
// すべての操作は単一のミューテックスで保護され、キー単位でアトミックに実行される。
// トークンは高々1回だけ解決でき、セッションの終了とともに無効化される。
type Registry struct {
	ttl       time.Duration
	logger    *slog.Logger
	collector metrics.MetricsCollector
	now       func() time.Time // テスト用に差し替え可能

	mu         sync.Mutex
	sessions   map[string]*Session
	tokens     map[string]*PendingChoice
	bySession  map[string][]string
	tombstones map[string]tombstone
}

// NewRegistry はRegistryを生成する。ttlが0以下の場合は DefaultTTL を使用する。
// collectorがnilの場合はメトリクスを記録しない。
func NewRegistry(ttl time.Duration, logger *slog.Logger, collector metrics.MetricsCollector) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &Registry{
		ttl:        ttl,
		logger:     logger,
		collector:  collector,
		now:        time.Now,
		sessions:   make(map[string]*Session),
		tokens:     make(map[string]*PendingChoice),
		bySession:  make(map[string][]string),
		tombstones: make(map[string]tombstone),
	}
}

// TTL はセッションとトークンの有効期間を返す。
func (r *Registry) TTL() time.Duration {
	return r.ttl
}

// Open はセッションを登録する。
// 同じキーの生存中セッションがある場合は SESSION_EXISTS を返す。期限切れのセッションは置き換える。
func (r *Registry) Open(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.sessions[s.key]; ok {
		if !existing.expired(r.now()) {
			return model.NewSessionExistsError()
		}
		r.removeLocked(s.key, ChoiceExpired)
	}
	r.sessions[s.key] = s
	return nil
}

// Get は生存中のセッションを返す。期限切れの場合は破棄してfalseを返す。
func (r *Registry) Get(key string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[key]
	if !ok {
		return nil, false
	}
	if s.expired(r.now()) {
		r.removeLocked(key, ChoiceExpired)
		return nil, false
	}
	return s, true
}

// PublishChoice は選択肢を登録し、トークンとセッションの有効期限を更新する。
// セッションが存在しない場合やトークンが重複する場合は false を返す。
func (r *Registry) PublishChoice(sessionKey, token string, candidates []model.Candidate, titleIndex int) (*PendingChoice, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionKey]
	if !ok {
		return nil, false
	}
	if _, dup := r.tokens[token]; dup {
		return nil, false
	}

	expiresAt := r.now().Add(r.ttl)
	pc := &PendingChoice{
		Token:      token,
		SessionKey: sessionKey,
		Candidates: slices.Clone(candidates),
		TitleIndex: titleIndex,
		ExpiresAt:  expiresAt,
	}
	r.tokens[token] = pc
	r.bySession[sessionKey] = append(r.bySession[sessionKey], token)
	s.touch(expiresAt)
	return pc, true
}

// Peek はトークンを消費せずに状態を返す。期限切れのトークンはこの時点で無効化する。
func (r *Registry) Peek(token string) Resolution {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookupLocked(token)
}

// ResolveChoice はトークンに対する選択を解決する。
// 有効な場合はトークンを消費して選択された候補を返す。同じトークンの2回目以降の解決は
// ChoiceConsumed となる。範囲外の選択番号はトークンを消費しない。
func (r *Registry) ResolveChoice(token string, index int) Resolution {
	r.mu.Lock()
	defer r.mu.Unlock()

	res := r.lookupLocked(token)
	if res.Status != ChoiceValid {
		return res
	}
	if index < 0 || index >= len(res.Choice.Candidates) {
		res.Status = ChoiceOutOfRange
		return res
	}

	r.invalidateTokenLocked(token, ChoiceConsumed)
	res.Candidate = res.Choice.Candidates[index]
	return res
}

func (r *Registry) lookupLocked(token string) Resolution {
	pc, ok := r.tokens[token]
	if !ok {
		if ts, ok := r.tombstones[token]; ok {
			return Resolution{Status: ts.status}
		}
		return Resolution{Status: ChoiceUnknown}
	}

	s, alive := r.sessions[pc.SessionKey]
	if !alive {
		r.invalidateTokenLocked(token, ChoiceConsumed)
		return Resolution{Status: ChoiceConsumed}
	}

	now := r.now()
	if !now.Before(pc.ExpiresAt) || s.expired(now) {
		r.removeLocked(pc.SessionKey, ChoiceExpired)
		return Resolution{Status: ChoiceExpired}
	}

	return Resolution{Status: ChoiceValid, Session: s, Choice: pc}
}

// Close はセッションを削除し、そのセッションを参照するすべてのトークンを無効化する。
func (r *Registry) Close(sessionKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(sessionKey, ChoiceConsumed)
}

// Len は生存中のセッション数を返す。
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep は期限切れのセッションと保持期間を過ぎた無効トークンの記録を削除し、
// 破棄したセッション数を返す。
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	expired := 0
	for key, s := range r.sessions {
		if s.expired(now) {
			r.removeLocked(key, ChoiceExpired)
			expired++
		}
	}
	for token, ts := range r.tombstones {
		if !now.Before(ts.until) {
			delete(r.tombstones, token)
		}
	}
	return expired
}

// Run はctxがキャンセルされるまで interval ごとに Sweep を実行する。
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				r.collector.RecordSessionsExpired(n)
				r.logger.Info("期限切れのセッションを破棄しました",
					slog.Int("expired_count", n),
				)
			}
		}
	}
}

// removeLocked はセッションと関連トークンを削除する。呼び出し元がロックを保持していること。
func (r *Registry) removeLocked(sessionKey string, status ChoiceStatus) {
	delete(r.sessions, sessionKey)
	for _, token := range r.bySession[sessionKey] {
		if _, live := r.tokens[token]; live {
			r.invalidateTokenLocked(token, status)
		}
	}
	delete(r.bySession, sessionKey)
}

func (r *Registry) invalidateTokenLocked(token string, status ChoiceStatus) {
	delete(r.tokens, token)
	r.tombstones[token] = tombstone{status: status, until: r.now().Add(r.ttl)}
}
