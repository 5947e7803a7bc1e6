package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/labelman/internal/model"
	"github.com/hitoshi/labelman/internal/report"
)

// ReportServiceInterface はレポートハンドラーが必要とするサービスインターフェース。
type ReportServiceInterface interface {
	// AdminTable は管理者キュー内のアイテム一覧を返す。
	AdminTable(ctx context.Context, projectID string) ([]report.AdminRow, error)
	// AdminCounts は管理者キューの理由別件数を返す。
	AdminCounts(ctx context.Context, projectID string) (map[model.QueueReason]int, error)
	// RecycleTable はリサイクルビン内のアイテム一覧を返す。
	RecycleTable(ctx context.Context, projectID string) ([]report.RecycleRow, error)
	// History はコーダー自身のラベル付け履歴を返す。
	History(ctx context.Context, projectID, coderID string) ([]report.HistoryEntry, error)
	// Distribution はラベルごとのコーダー別ラベル付け件数を返す。
	Distribution(ctx context.Context, projectID string) (map[string]map[string]int, error)
	// SensitiveEnabled はセンシティブ指定が許可されているかを返す。
	SensitiveEnabled(ctx context.Context, projectID string) (bool, error)
}

// ReportHandler はレポートのHTTPハンドラー。
type ReportHandler struct {
	service ReportServiceInterface
}

// NewReportHandler はReportHandlerを生成する。
func NewReportHandler(service ReportServiceInterface) *ReportHandler {
	return &ReportHandler{service: service}
}

// --- レスポンス型 ---

// adminRowResponse は管理者キューの1行。
type adminRowResponse struct {
	ItemID       string                  `json:"item_id"`
	Text         string                  `json:"text"`
	Reason       string                  `json:"reason"`
	SkippedLabel string                  `json:"skipped_label,omitempty"`
	SkipReason   string                  `json:"skip_reason,omitempty"`
	Metadata     []metadataFieldResponse `json:"metadata,omitempty"`
}

// recycleRowResponse はリサイクルビンの1行。
type recycleRowResponse struct {
	ItemID     string                  `json:"item_id"`
	Text       string                  `json:"text"`
	RecycledAt *time.Time              `json:"recycled_at,omitempty"`
	Metadata   []metadataFieldResponse `json:"metadata,omitempty"`
}

// historyEntryResponse はラベル付け履歴の1行。
type historyEntryResponse struct {
	ItemID        string    `json:"item_id"`
	Text          string    `json:"text"`
	LabelID       string    `json:"label_id"`
	LabelName     string    `json:"label_name"`
	Reason        string    `json:"reason,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	SensitiveFlag bool      `json:"sensitive_flag"`
	Editable      bool      `json:"editable"`
}

// AdminTable は管理者キュー内のアイテム一覧を取得する。
// GET /api/projects/:projectID/admin/table
func (h *ReportHandler) AdminTable(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	rows, err := h.service.AdminTable(r.Context(), projectID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	result := make([]adminRowResponse, len(rows))
	for i, row := range rows {
		result[i] = adminRowResponse{
			ItemID:       row.ItemID,
			Text:         row.Text,
			Reason:       string(row.Reason),
			SkippedLabel: row.SkippedLabel,
			SkipReason:   row.SkipReason,
			Metadata:     toMetadataResponse(row.Metadata),
		}
	}

	writeJSON(w, result)
}

// AdminCounts は管理者キューの理由別件数を取得する。
// GET /api/projects/:projectID/admin/counts
func (h *ReportHandler) AdminCounts(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	counts, err := h.service.AdminCounts(r.Context(), projectID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	result := make(map[string]int, len(counts))
	for reason, count := range counts {
		result[string(reason)] = count
	}

	writeJSON(w, result)
}

// RecycleTable はリサイクルビン内のアイテム一覧を取得する。
// GET /api/projects/:projectID/recycle
func (h *ReportHandler) RecycleTable(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	rows, err := h.service.RecycleTable(r.Context(), projectID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	result := make([]recycleRowResponse, len(rows))
	for i, row := range rows {
		result[i] = recycleRowResponse{
			ItemID:     row.ItemID,
			Text:       row.Text,
			RecycledAt: row.RecycledAt,
			Metadata:   toMetadataResponse(row.Metadata),
		}
	}

	writeJSON(w, result)
}

// History はコーダー自身のラベル付け履歴を取得する。
// GET /api/projects/:projectID/history
func (h *ReportHandler) History(w http.ResponseWriter, r *http.Request) {
	coderID, ok := requireCoderID(w, r)
	if !ok {
		return
	}
	projectID := chi.URLParam(r, "projectID")

	entries, err := h.service.History(r.Context(), projectID, coderID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	result := make([]historyEntryResponse, len(entries))
	for i, entry := range entries {
		result[i] = historyEntryResponse{
			ItemID:        entry.ItemID,
			Text:          entry.Text,
			LabelID:       entry.LabelID,
			LabelName:     entry.LabelName,
			Reason:        entry.Reason,
			Timestamp:     entry.Timestamp,
			SensitiveFlag: entry.SensitiveFlag,
			Editable:      entry.Editable,
		}
	}

	writeJSON(w, result)
}

// Distribution はラベルごとのコーダー別ラベル付け件数を取得する。
// GET /api/projects/:projectID/distribution
func (h *ReportHandler) Distribution(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	dist, err := h.service.Distribution(r.Context(), projectID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, dist)
}

// SensitiveEnabled はセンシティブ指定が許可されているかを取得する。
// GET /api/projects/:projectID/sensitive-enabled
func (h *ReportHandler) SensitiveEnabled(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	enabled, err := h.service.SensitiveEnabled(r.Context(), projectID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, map[string]bool{"enabled": enabled})
}
