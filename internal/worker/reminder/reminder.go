// Package reminder は上映開始直前のリマインダー送信ジョブを提供する。
package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/hitoshi/movienight/internal/metrics"
	"github.com/hitoshi/movienight/internal/model"
	"github.com/hitoshi/movienight/internal/repository"
	"github.com/hitoshi/movienight/internal/slot"
)

// DefaultLead は上映開始の何分前にリマインダーを送るかの既定値。
const DefaultLead = 5 * time.Minute

// Sender はリマインダーの送信先。
type Sender interface {
	Reminder(ctx context.Context, ev model.ReminderEvent)
}

// DetailsFetcher は作品詳細の取得インターフェース。
type DetailsFetcher interface {
	Details(ctx context.Context, externalID int64) (*model.CandidateDetails, error)
}

// Config はリマインダージョブの設定を保持する。
type Config struct {
	// Lead は上映開始からどれだけ前に送信するか（デフォルト: 5分）。
	Lead time.Duration
	// MaxConcurrency はギルドを並列に処理する最大数（デフォルト: 4）。
	MaxConcurrency int
}

// Job は次の上映日の予定を持つギルドへリマインダーを送るジョブ。
// 同じギルド・上映日の組み合わせには1回だけ送信する。
type Job struct {
	store     repository.EntryRepository
	details   DetailsFetcher
	sender    Sender
	slots     slot.Source
	collector metrics.MetricsCollector
	logger    *slog.Logger
	cfg       Config

	mu   sync.Mutex
	sent map[string]string // guildID → 送信済みの上映日

	now func() time.Time // テスト用に差し替え可能
}

// NewJob はJobの新しいインスタンスを生成する。
func NewJob(
	store repository.EntryRepository,
	details DetailsFetcher,
	sender Sender,
	slots slot.Source,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	cfg Config,
) *Job {
	if cfg.Lead <= 0 {
		cfg.Lead = DefaultLead
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 4
	}
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &Job{
		store:     store,
		details:   details,
		sender:    sender,
		slots:     slots,
		collector: collector,
		logger:    logger,
		cfg:       cfg,
		sent:      make(map[string]string),
		now:       time.Now,
	}
}

// Start はティッカーでジョブを定期実行する。interval は Lead より短くすること。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *Job) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("リマインダージョブを開始しました",
		slog.Duration("interval", interval),
		slog.Duration("lead", j.cfg.Lead),
	)

	// 起動直後に1回実行
	if _, err := j.RunOnce(ctx); err != nil {
		j.logger.Error("リマインダージョブの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("リマインダージョブを停止しました")
			return
		case <-ticker.C:
			if _, err := j.RunOnce(ctx); err != nil {
				j.logger.Error("リマインダージョブの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce は上映開始が Lead 以内に迫ったギルドのうち、その日の予定を持つものへリマインダーを送る。
// 上映時刻はギルドごとの設定に従う。送信したリマインダーの件数を返す。
func (j *Job) RunOnce(ctx context.Context) (int, error) {
	now := j.now()

	guildIDs, err := j.store.ListGuildIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("ギルド一覧の取得に失敗しました: %w", err)
	}

	var mu sync.Mutex
	sent := 0
	p := pool.New().WithMaxGoroutines(j.cfg.MaxConcurrency)
	for _, guildID := range guildIDs {
		p.Go(func() {
			ok, err := j.remind(ctx, guildID, now)
			if err != nil {
				j.logger.Error("リマインダーの送信に失敗しました",
					slog.String("guild_id", guildID),
					slog.String("error", err.Error()),
				)
				return
			}
			if ok {
				mu.Lock()
				sent++
				mu.Unlock()
			}
		})
	}
	p.Wait()

	if sent > 0 {
		j.logger.Info("上映リマインダーを送信しました",
			slog.Int("guild_count", sent),
		)
	}
	return sent, nil
}

func (j *Job) remind(ctx context.Context, guildID string, now time.Time) (bool, error) {
	alloc, err := j.slots.For(ctx, guildID)
	if err != nil {
		return false, fmt.Errorf("上映設定の取得に失敗しました: %w", err)
	}
	startsAt := alloc.NextSlotOnOrAfter(now)
	if startsAt.Sub(now) > j.cfg.Lead {
		return false, nil
	}
	date := alloc.Date(startsAt)
	if j.alreadySent(guildID, date) {
		return false, nil
	}

	entries, err := j.store.ListScheduledOn(ctx, guildID, date)
	if err != nil {
		return false, fmt.Errorf("上映予定の取得に失敗しました: %w", err)
	}
	j.markSent(guildID, date)
	if len(entries) == 0 {
		return false, nil
	}

	movies := make([]model.ReminderMovie, len(entries))
	for i, e := range entries {
		movies[i] = model.ReminderMovie{
			Title:       e.Title,
			ReleaseYear: e.ReleaseYear,
			AddedBy:     e.AddedBy,
		}
		if e.ExternalID == nil {
			continue
		}
		details, err := j.details.Details(ctx, *e.ExternalID)
		if err != nil {
			j.logger.Warn("作品詳細の取得に失敗しました（詳細なしで送信します）",
				slog.String("guild_id", guildID),
				slog.Int64("external_id", *e.ExternalID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if details != nil {
			movies[i].Genres = details.Genres
			movies[i].VoteAverage = details.VoteAverage
			movies[i].Overview = details.Overview
		}
	}

	j.sender.Reminder(ctx, model.ReminderEvent{
		GuildID:     guildID,
		Date:        date,
		StartsAt:    startsAt.Format(time.RFC3339),
		LeadMinutes: int((startsAt.Sub(now) + time.Minute - 1) / time.Minute),
		Movies:      movies,
	})
	j.collector.RecordReminderSent()
	return true, nil
}

func (j *Job) alreadySent(guildID, date string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.sent[guildID] == date
}

func (j *Job) markSent(guildID, date string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.sent[guildID] = date
}
