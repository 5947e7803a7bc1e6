// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ワークフロー層とハンドラー層から利用する。
type MetricsCollector interface {
	RecordLabelSubmission()
	RecordSkipSubmission()
	RecordIRRFinalized()
	RecordIRREscalated()
	RecordDiscard()
	RecordRestore()
	RecordRetrainNotify(success bool)
	RecordHTTPStatus(statusCode int)
	RecordBatchFetchSize(count int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	labelSubmissions prometheus.Counter
	skipSubmissions  prometheus.Counter
	irrFinalized     prometheus.Counter
	irrEscalated     prometheus.Counter
	discards         prometheus.Counter
	restores         prometheus.Counter
	retrainNotify    *prometheus.CounterVec
	httpStatus       *prometheus.CounterVec
	batchFetchSize   prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		labelSubmissions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "labelman_label_submissions_total",
			Help: "ラベル付けサブミットの合計数",
		}),
		skipSubmissions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "labelman_skip_submissions_total",
			Help: "スキップサブミットの合計数",
		}),
		irrFinalized: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "labelman_irr_finalized_total",
			Help: "信頼性チェックで全票一致により確定したアイテムの合計数",
		}),
		irrEscalated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "labelman_irr_escalated_total",
			Help: "信頼性チェックで管理者キューに送られたアイテムの合計数",
		}),
		discards: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "labelman_discards_total",
			Help: "リサイクルビンへのディスカードの合計数",
		}),
		restores: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "labelman_restores_total",
			Help: "リサイクルビンからの復元の合計数",
		}),
		retrainNotify: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "labelman_retrain_notify_total",
			Help: "再学習トリガー通知の結果別合計数",
		}, []string{"outcome"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "labelman_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		batchFetchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "labelman_batch_fetch_size",
			Help:    "1回のバッチ取得で配布されたアイテム数",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 30, 50},
		}),
	}

	reg.MustRegister(
		c.labelSubmissions,
		c.skipSubmissions,
		c.irrFinalized,
		c.irrEscalated,
		c.discards,
		c.restores,
		c.retrainNotify,
		c.httpStatus,
		c.batchFetchSize,
	)

	return c
}

// RecordLabelSubmission はラベル付けサブミットを記録する。
func (c *Collector) RecordLabelSubmission() {
	c.labelSubmissions.Inc()
}

// RecordSkipSubmission はスキップサブミットを記録する。
func (c *Collector) RecordSkipSubmission() {
	c.skipSubmissions.Inc()
}

// RecordIRRFinalized は信頼性チェックの確定を記録する。
func (c *Collector) RecordIRRFinalized() {
	c.irrFinalized.Inc()
}

// RecordIRREscalated は信頼性チェックのエスカレーションを記録する。
func (c *Collector) RecordIRREscalated() {
	c.irrEscalated.Inc()
}

// RecordDiscard はディスカードを記録する。
func (c *Collector) RecordDiscard() {
	c.discards.Inc()
}

// RecordRestore は復元を記録する。
func (c *Collector) RecordRestore() {
	c.restores.Inc()
}

// RecordRetrainNotify は再学習トリガー通知の結果を記録する。
func (c *Collector) RecordRetrainNotify(success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	c.retrainNotify.WithLabelValues(outcome).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordBatchFetchSize はバッチ取得で配布されたアイテム数を記録する。
func (c *Collector) RecordBatchFetchSize(count int) {
	c.batchFetchSize.Observe(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
