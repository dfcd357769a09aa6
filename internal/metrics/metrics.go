// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 解決エンジンやワーカーから利用する。
type MetricsCollector interface {
	RecordSessionOpened()
	RecordSessionCommitted(entries int)
	RecordSessionFailed(code string)
	RecordChoicePublished()
	RecordChoiceRejected(status string)
	RecordLookupLatency(duration time.Duration)
	RecordSessionsExpired(count int)
	RecordReminderSent()
	RecordEntriesArchived(count int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	sessionsOpened    prometheus.Counter
	sessionsCommitted prometheus.Counter
	sessionsFailed    *prometheus.CounterVec
	entriesWritten    prometheus.Counter
	choicesPublished  prometheus.Counter
	choicesRejected   *prometheus.CounterVec
	lookupLatency     prometheus.Histogram
	sessionsExpired   prometheus.Counter
	remindersSent     prometheus.Counter
	entriesArchived   prometheus.Counter
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		sessionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "movienight_sessions_opened_total",
			Help: "開始された解決セッションの合計数",
		}),
		sessionsCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "movienight_sessions_committed_total",
			Help: "カレンダーへのコミットに成功したセッションの合計数",
		}),
		sessionsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "movienight_sessions_failed_total",
			Help: "失敗したセッションのエラーコード別の合計数",
		}, []string{"code"}),
		entriesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "movienight_entries_written_total",
			Help: "カレンダーに書き込まれたエントリの合計数",
		}),
		choicesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "movienight_choices_published_total",
			Help: "提示された選択肢（PendingChoice）の合計数",
		}),
		choicesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "movienight_choices_rejected_total",
			Help: "拒否された選択の理由別の合計数",
		}, []string{"status"}),
		lookupLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "movienight_lookup_latency_seconds",
			Help:    "メタデータ検索のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		sessionsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "movienight_sessions_expired_total",
			Help: "有効期限切れで破棄されたセッションの合計数",
		}),
		remindersSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "movienight_reminders_sent_total",
			Help: "送信された上映リマインダーの合計数",
		}),
		entriesArchived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "movienight_entries_archived_total",
			Help: "自動アーカイブされたエントリの合計数",
		}),
	}

	reg.MustRegister(
		c.sessionsOpened,
		c.sessionsCommitted,
		c.sessionsFailed,
		c.entriesWritten,
		c.choicesPublished,
		c.choicesRejected,
		c.lookupLatency,
		c.sessionsExpired,
		c.remindersSent,
		c.entriesArchived,
	)

	return c
}

// RecordSessionOpened はセッション開始を記録する。
func (c *Collector) RecordSessionOpened() {
	c.sessionsOpened.Inc()
}

// RecordSessionCommitted はセッションのコミット成功と書き込んだエントリ数を記録する。
func (c *Collector) RecordSessionCommitted(entries int) {
	c.sessionsCommitted.Inc()
	c.entriesWritten.Add(float64(entries))
}

// RecordSessionFailed はセッションの失敗を記録する。
func (c *Collector) RecordSessionFailed(code string) {
	c.sessionsFailed.WithLabelValues(code).Inc()
}

// RecordChoicePublished は選択肢の提示を記録する。
func (c *Collector) RecordChoicePublished() {
	c.choicesPublished.Inc()
}

// RecordChoiceRejected は選択の拒否を記録する。
func (c *Collector) RecordChoiceRejected(status string) {
	c.choicesRejected.WithLabelValues(status).Inc()
}

// RecordLookupLatency はメタデータ検索のレイテンシを記録する。
func (c *Collector) RecordLookupLatency(duration time.Duration) {
	c.lookupLatency.Observe(duration.Seconds())
}

// RecordSessionsExpired は期限切れで破棄したセッション数を記録する。
func (c *Collector) RecordSessionsExpired(count int) {
	c.sessionsExpired.Add(float64(count))
}

// RecordReminderSent はリマインダー送信を記録する。
func (c *Collector) RecordReminderSent() {
	c.remindersSent.Inc()
}

// RecordEntriesArchived は自動アーカイブしたエントリ数を記録する。
func (c *Collector) RecordEntriesArchived(count int) {
	c.entriesArchived.Add(float64(count))
}

// NopCollector は何も記録しないMetricsCollector。テストやメトリクス無効時に使用する。
type NopCollector struct{}

func (NopCollector) RecordSessionOpened() {}
func (NopCollector) RecordSessionCommitted(int) {}
func (NopCollector) RecordSessionFailed(string) {}
func (NopCollector) RecordChoicePublished() {}
func (NopCollector) RecordChoiceRejected(string) {}
func (NopCollector) RecordLookupLatency(time.Duration) {}
func (NopCollector) RecordSessionsExpired(int) {}
func (NopCollector) RecordReminderSent() {}
func (NopCollector) RecordEntriesArchived(int) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
