// Package retrain はモデル再学習トリガーへの通知を提供する。
// 通知はコミット後のファイアアンドフォーゲットであり、
// ワークフローの成否には一切影響しない。
package retrain

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hitoshi/labelman/internal/metrics"
)

// Notifier は再学習トリガーへの通知インターフェース。
type Notifier interface {
	// Notify はプロジェクトのラベル付け件数を通知する。
	// ブロックせず、配送は保証しない。
	Notify(projectID string, labeledCount int)
}

// event は1件の通知内容。
type event struct {
	ProjectID    string `json:"project_id"`
	LabeledCount int    `json:"labeled_count"`
}

// WebhookNotifier は通知をバッファ付きチャネル経由で
// バックグラウンドのディスパッチャーに渡し、Webhook URLへPOSTする。
// チャネルが満杯の場合は通知を破棄する（コミット経路をブロックしない）。
type WebhookNotifier struct {
	webhookURL string
	client     *http.Client
	logger     *slog.Logger
	metrics    metrics.MetricsCollector
	events     chan event
	wg         sync.WaitGroup
}

// NewWebhookNotifier はWebhookNotifierの新しいインスタンスを生成する。
// queueSizeが0以下の場合はデフォルト値256を使用する。
func NewWebhookNotifier(
	webhookURL string,
	timeout time.Duration,
	queueSize int,
	logger *slog.Logger,
	collector metrics.MetricsCollector,
) *WebhookNotifier {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &WebhookNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: timeout},
		logger:     logger,
		metrics:    collector,
		events:     make(chan event, queueSize),
	}
}

// Start はディスパッチャーゴルーチンを起動する。
// コンテキストがキャンセルされるまで通知を配送し続ける。
func (n *WebhookNotifier) Start(ctx context.Context) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()

		n.logger.Info("retrain notifier started",
			slog.String("webhook_url", n.webhookURL),
		)

		for {
			select {
			case <-ctx.Done():
				n.logger.Info("retrain notifier stopped")
				return
			case ev := <-n.events:
				n.deliver(ctx, ev)
			}
		}
	}()
}

// Wait はディスパッチャーの終了を待つ。シャットダウン時に使用する。
func (n *WebhookNotifier) Wait() {
	n.wg.Wait()
}

// Notify は通知をキューに積む。キューが満杯の場合は破棄する。
func (n *WebhookNotifier) Notify(projectID string, labeledCount int) {
	ev := event{ProjectID: projectID, LabeledCount: labeledCount}
	select {
	case n.events <- ev:
	default:
		n.logger.Warn("retrain notification dropped, queue is full",
			slog.String("project_id", projectID),
		)
		if n.metrics != nil {
			n.metrics.RecordRetrainNotify(false)
		}
	}
}

// deliver は1件の通知をWebhook URLへPOSTする。失敗してもリトライしない。
func (n *WebhookNotifier) deliver(ctx context.Context, ev event) {
	body, err := json.Marshal(ev)
	if err != nil {
		n.logger.Error("failed to encode retrain notification",
			slog.String("project_id", ev.ProjectID),
			slog.String("error", err.Error()),
		)
		if n.metrics != nil {
			n.metrics.RecordRetrainNotify(false)
		}
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		n.logger.Error("failed to build retrain notification request",
			slog.String("error", err.Error()),
		)
		if n.metrics != nil {
			n.metrics.RecordRetrainNotify(false)
		}
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Warn("failed to deliver retrain notification",
			slog.String("project_id", ev.ProjectID),
			slog.String("error", err.Error()),
		)
		if n.metrics != nil {
			n.metrics.RecordRetrainNotify(false)
		}
		return
	}
	defer resp.Body.Close()

	success := resp.StatusCode >= 200 && resp.StatusCode < 300
	if !success {
		n.logger.Warn("retrain webhook returned non-2xx status",
			slog.String("project_id", ev.ProjectID),
			slog.Int("status", resp.StatusCode),
		)
	}
	if n.metrics != nil {
		n.metrics.RecordRetrainNotify(success)
	}
}

// NoopNotifier は何もしないNotifier実装。
// Webhook URLが未設定の環境で使用する。
type NoopNotifier struct{}

// Notify は何もしない。
func (NoopNotifier) Notify(projectID string, labeledCount int) {}

// compile-time interface check
var (
	_ Notifier = (*WebhookNotifier)(nil)
	_ Notifier = NoopNotifier{}
)
