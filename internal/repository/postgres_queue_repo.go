package repository

import (
	"context"
	"fmt"

	"github.com/hitoshi/labelman/internal/model"
)

// PostgresQueueRepo はPostgreSQLを使用した管理者キューリポジトリ。
// items.stateのadmin_queued遷移として実装される。
type PostgresQueueRepo struct {
	db DBTX
}

// NewPostgresQueueRepo はPostgresQueueRepoを生成する。
func NewPostgresQueueRepo(db DBTX) *PostgresQueueRepo {
	return &PostgresQueueRepo{db: db}
}

// Enqueue はアイテムを管理者キューに投入する。すでにキュー内なら何もしない。
// 複数の経路が同一アイテムをエスカレートし得るため冪等に実装する。
func (r *PostgresQueueRepo) Enqueue(ctx context.Context, itemID string, reason model.QueueReason) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE items
		 SET state = 'admin_queued', queue_reason = $2, assigned_to = NULL, updated_at = now()
		 WHERE id = $1 AND state NOT IN ('admin_queued', 'recycled')`,
		itemID, reason,
	)
	if err != nil {
		return fmt.Errorf("管理者キューへの投入に失敗しました: %w", err)
	}
	return nil
}

// Dequeue はアイテムを管理者キューから外しavailableに戻す。
// キューに存在しない場合はfalseを返す。
func (r *PostgresQueueRepo) Dequeue(ctx context.Context, itemID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE items SET state = 'available', queue_reason = NULL, updated_at = now()
		 WHERE id = $1 AND state = 'admin_queued'`,
		itemID,
	)
	if err != nil {
		return false, fmt.Errorf("管理者キューからの除去に失敗しました: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("除去結果の確認に失敗しました: %w", err)
	}

	return affected > 0, nil
}

// ListAdmin はプロジェクトの管理者キュー内アイテムを投入順に返す。
func (r *PostgresQueueRepo) ListAdmin(ctx context.Context, projectID string) ([]*model.Item, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM items
		 WHERE project_id = $1 AND state = 'admin_queued' ORDER BY updated_at`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("管理者キューの取得に失敗しました: %w", err)
	}

	return scanItems(rows)
}

// CountsByReason は管理者キュー内の理由別件数を返す。
func (r *PostgresQueueRepo) CountsByReason(ctx context.Context, projectID string) (map[model.QueueReason]int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT queue_reason, COUNT(*) FROM items
		 WHERE project_id = $1 AND state = 'admin_queued'
		 GROUP BY queue_reason`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("管理者キューの集計に失敗しました: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.QueueReason]int)
	for rows.Next() {
		var reason model.QueueReason
		var count int
		if err := rows.Scan(&reason, &count); err != nil {
			return nil, fmt.Errorf("集計行の読み取りに失敗しました: %w", err)
		}
		counts[reason] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("集計結果の走査に失敗しました: %w", err)
	}

	return counts, nil
}

// compile-time interface check
var _ QueueRepository = (*PostgresQueueRepo)(nil)
