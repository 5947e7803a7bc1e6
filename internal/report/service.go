// Package report は管理者レビュー画面とコーダー向け履歴の
// 読み取り専用レポートを提供する。ワークフローの状態は一切変更しない。
package report

import (
	"context"
	"fmt"
	"time"

	"github.com/hitoshi/labelman/internal/model"
	"github.com/hitoshi/labelman/internal/repository"
)

// Service はレポートのサービス層。
type Service struct {
	stores *repository.Stores
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(stores *repository.Stores) *Service {
	return &Service{stores: stores}
}

// AdminRow は管理者キューの1行。
type AdminRow struct {
	ItemID       string
	Text         string
	Reason       model.QueueReason
	SkippedLabel string
	SkipReason   string
	Metadata     []model.MetadataField
}

// AdminTable は管理者キュー内のアイテム一覧を返す。
// 表示理由はセンシティブ > 信頼性チェック > スキップの優先順で決まる。
// スキップ経由のアイテムには元のラベルとスキップ理由が付く。
func (s *Service) AdminTable(ctx context.Context, projectID string) ([]AdminRow, error) {
	items, err := s.stores.Queue.ListAdmin(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("管理者キューの取得に失敗しました: %w", err)
	}

	itemIDs := make([]string, len(items))
	for i, item := range items {
		itemIDs[i] = item.ID
	}
	metadata, err := s.stores.Items.MetadataFor(ctx, itemIDs)
	if err != nil {
		return nil, fmt.Errorf("メタデータの取得に失敗しました: %w", err)
	}

	rows := make([]AdminRow, 0, len(items))
	for _, item := range items {
		row := AdminRow{
			ItemID:   item.ID,
			Text:     item.Text,
			Reason:   displayReason(item),
			Metadata: metadata[item.ID],
		}

		skipped, err := s.stores.Records.FindSkippedByItem(ctx, item.ID)
		if err != nil {
			return nil, fmt.Errorf("スキップ記録の取得に失敗しました: %w", err)
		}
		if skipped != nil {
			label, err := s.stores.Labels.FindByID(ctx, skipped.LabelID)
			if err != nil {
				return nil, fmt.Errorf("ラベルの取得に失敗しました: %w", err)
			}
			if label != nil {
				row.SkippedLabel = label.Name
			}
			row.SkipReason = skipped.Reason
		}

		rows = append(rows, row)
	}

	return rows, nil
}

// displayReason は管理者キュー行の表示理由を返す。
// センシティブフラグは投入理由に関わらず優先される。
func displayReason(item *model.Item) model.QueueReason {
	if item.SensitiveFlag {
		return model.ReasonSensitive
	}
	return item.QueueReason
}

// AdminCounts は管理者キューの理由別件数を返す。
// 信頼性チェックを使わないプロジェクトではirr件数を、
// センシティブ指定を許可しないプロジェクトではsensitive件数を含めない。
func (s *Service) AdminCounts(ctx context.Context, projectID string) (map[model.QueueReason]int, error) {
	project, err := s.stores.Projects.FindByID(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if project == nil {
		return nil, model.NewProjectNotFoundError(projectID)
	}

	counts, err := s.stores.Queue.CountsByReason(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("管理者キューの集計に失敗しました: %w", err)
	}

	result := map[model.QueueReason]int{
		model.ReasonSkipped: counts[model.ReasonSkipped],
	}
	if project.RequiredVoters > 0 {
		result[model.ReasonIRR] = counts[model.ReasonIRR]
	}
	if project.SensitiveEnabled {
		result[model.ReasonSensitive] = counts[model.ReasonSensitive]
	}

	return result, nil
}

// RecycleRow はリサイクルビンの1行。
type RecycleRow struct {
	ItemID     string
	Text       string
	RecycledAt *time.Time
	Metadata   []model.MetadataField
}

// RecycleTable はリサイクルビン内のアイテム一覧を返す。
func (s *Service) RecycleTable(ctx context.Context, projectID string) ([]RecycleRow, error) {
	items, err := s.stores.Recycle.ListByProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("リサイクルビンの取得に失敗しました: %w", err)
	}

	itemIDs := make([]string, len(items))
	for i, item := range items {
		itemIDs[i] = item.ID
	}
	metadata, err := s.stores.Items.MetadataFor(ctx, itemIDs)
	if err != nil {
		return nil, fmt.Errorf("メタデータの取得に失敗しました: %w", err)
	}

	rows := make([]RecycleRow, 0, len(items))
	for _, item := range items {
		rows = append(rows, RecycleRow{
			ItemID:     item.ID,
			Text:       item.Text,
			RecycledAt: item.RecycledAt,
			Metadata:   metadata[item.ID],
		})
	}

	return rows, nil
}

// HistoryEntry はコーダーのラベル付け履歴の1行。
// Editableがfalseの行は信頼性チェックの投票であり、修正できない。
type HistoryEntry struct {
	ItemID        string
	Text          string
	LabelID       string
	LabelName     string
	Reason        string
	Timestamp     time.Time
	SensitiveFlag bool
	Editable      bool
}

// History はコーダー自身のラベル付け履歴を返す。
// 自分のラベル付け記録（修正可能）と、信頼性チェックで投じた
// ラベル票（読み取り専用）の両方を含む。
func (s *Service) History(ctx context.Context, projectID, coderID string) ([]HistoryEntry, error) {
	records, err := s.stores.Records.ListHistoryByCoder(ctx, projectID, coderID)
	if err != nil {
		return nil, fmt.Errorf("ラベル付け履歴の取得に失敗しました: %w", err)
	}
	votes, err := s.stores.Votes.ListHistoryByCoder(ctx, projectID, coderID)
	if err != nil {
		return nil, fmt.Errorf("投票履歴の取得に失敗しました: %w", err)
	}

	// 記録として残っているアイテムは編集可能な行を優先する
	recorded := make(map[string]bool, len(records))
	entries := make([]HistoryEntry, 0, len(records)+len(votes))
	for _, row := range records {
		recorded[row.ItemID] = true
		entries = append(entries, historyEntry(row, true))
	}
	for _, row := range votes {
		if recorded[row.ItemID] {
			continue
		}
		entries = append(entries, historyEntry(row, false))
	}

	return entries, nil
}

func historyEntry(row repository.HistoryRow, editable bool) HistoryEntry {
	return HistoryEntry{
		ItemID:        row.ItemID,
		Text:          row.Text,
		LabelID:       row.LabelID,
		LabelName:     row.LabelName,
		Reason:        row.Reason,
		Timestamp:     row.Timestamp,
		SensitiveFlag: row.SensitiveFlag,
		Editable:      editable,
	}
}

// Distribution はラベルごとのコーダー別ラベル付け件数を返す。
// まだ何もラベル付けされていない場合は空のマップを返す。
func (s *Service) Distribution(ctx context.Context, projectID string) (map[string]map[string]int, error) {
	counts, err := s.stores.Records.LabelCountsByCoder(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("ラベル件数集計の取得に失敗しました: %w", err)
	}

	result := make(map[string]map[string]int)
	for _, row := range counts {
		if result[row.LabelName] == nil {
			result[row.LabelName] = make(map[string]int)
		}
		result[row.LabelName][row.CoderID] = row.Count
	}

	return result, nil
}

// SensitiveEnabled はコーダーによるセンシティブ指定が許可されているかを返す。
func (s *Service) SensitiveEnabled(ctx context.Context, projectID string) (bool, error) {
	project, err := s.stores.Projects.FindByID(ctx, projectID)
	if err != nil {
		return false, err
	}
	if project == nil {
		return false, model.NewProjectNotFoundError(projectID)
	}
	return project.SensitiveEnabled, nil
}
