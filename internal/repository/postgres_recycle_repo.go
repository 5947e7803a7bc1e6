package repository

import (
	"context"
	"fmt"

	"github.com/hitoshi/labelman/internal/model"
)

// PostgresRecycleRepo はPostgreSQLを使用したリサイクルビンリポジトリ。
// items.stateのrecycled遷移として実装される。
type PostgresRecycleRepo struct {
	db DBTX
}

// NewPostgresRecycleRepo はPostgresRecycleRepoを生成する。
func NewPostgresRecycleRepo(db DBTX) *PostgresRecycleRepo {
	return &PostgresRecycleRepo{db: db}
}

// Recycle はアイテムをrecycledに遷移させる。割り当て・キュー情報は消去される。
// すでにrecycledの場合は何もしない。
func (r *PostgresRecycleRepo) Recycle(ctx context.Context, itemID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE items
		 SET state = 'recycled', assigned_to = NULL, queue_reason = NULL,
		     recycled_at = now(), updated_at = now()
		 WHERE id = $1 AND state <> 'recycled'`,
		itemID,
	)
	if err != nil {
		return fmt.Errorf("アイテムのリサイクルに失敗しました: %w", err)
	}
	return nil
}

// Restore はrecycledのアイテムをavailableに戻す。
// recycledでない場合はErrNotRecycledを返す。
func (r *PostgresRecycleRepo) Restore(ctx context.Context, itemID string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE items SET state = 'available', recycled_at = NULL, updated_at = now()
		 WHERE id = $1 AND state = 'recycled'`,
		itemID,
	)
	if err != nil {
		return fmt.Errorf("アイテムの復元に失敗しました: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("復元結果の確認に失敗しました: %w", err)
	}
	if affected == 0 {
		return ErrNotRecycled
	}

	return nil
}

// ListByProject はプロジェクトのリサイクル済みアイテムを削除順に返す。
func (r *PostgresRecycleRepo) ListByProject(ctx context.Context, projectID string) ([]*model.Item, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM items
		 WHERE project_id = $1 AND state = 'recycled' ORDER BY recycled_at`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("リサイクルビンの取得に失敗しました: %w", err)
	}

	return scanItems(rows)
}

// compile-time interface check
var _ RecycleRepository = (*PostgresRecycleRepo)(nil)
