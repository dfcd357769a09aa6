// Package archive は上映日を過ぎたエントリを視聴済みにする日次ジョブを提供する。
package archive

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/movienight/internal/metrics"
	"github.com/hitoshi/movienight/internal/repository"
	"github.com/hitoshi/movienight/internal/slot"
)

// Job は各ギルドの上映日が今日より前の予定をアーカイブする。
// 冪等: 対象がない場合でもエラーにならない。
type Job struct {
	store     repository.EntryRepository
	slots     slot.Source
	collector metrics.MetricsCollector
	logger    *slog.Logger

	now func() time.Time // テスト用に差し替え可能
}

// NewJob はJobの新しいインスタンスを生成する。
func NewJob(store repository.EntryRepository, slots slot.Source, collector metrics.MetricsCollector, logger *slog.Logger) *Job {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &Job{
		store:     store,
		slots:     slots,
		collector: collector,
		logger:    logger,
		now:       time.Now,
	}
}

// Start はティッカーでジョブを定期実行する。
func (j *Job) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("アーカイブジョブを開始しました",
		slog.Duration("interval", interval),
	)

	// 起動直後に1回実行
	if _, err := j.Run(ctx); err != nil {
		j.logger.Error("アーカイブジョブの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("アーカイブジョブを停止しました")
			return
		case <-ticker.C:
			if _, err := j.Run(ctx); err != nil {
				j.logger.Error("アーカイブジョブの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// Run は各ギルドのイベントのタイムゾーンでの今日より前の上映予定をアーカイブし、合計件数を返す。
// 一部のギルドで失敗しても残りのギルドの処理は継続し、最後に発生したエラーを返す。
func (j *Job) Run(ctx context.Context) (int64, error) {
	start := time.Now()
	now := j.now()

	guildIDs, err := j.store.ListGuildIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("ギルド一覧の取得に失敗しました: %w", err)
	}

	var total int64
	var lastErr error
	for _, guildID := range guildIDs {
		alloc, err := j.slots.For(ctx, guildID)
		if err != nil {
			j.logger.Error("上映設定の取得に失敗しました",
				slog.String("guild_id", guildID),
				slog.String("error", err.Error()),
			)
			lastErr = err
			continue
		}
		n, err := j.store.ArchiveBefore(ctx, guildID, alloc.Today(now))
		if err != nil {
			j.logger.Error("過去の上映予定のアーカイブに失敗しました",
				slog.String("guild_id", guildID),
				slog.String("error", err.Error()),
			)
			lastErr = err
			continue
		}
		total += n
	}

	if total > 0 {
		j.collector.RecordEntriesArchived(int(total))
	}
	j.logger.Info("アーカイブジョブが完了しました",
		slog.Int("guild_count", len(guildIDs)),
		slog.Int64("archived_count", total),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return total, lastErr
}
