package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/hitoshi/labelman/internal/model"
)

// PostgresChangeLogRepo はPostgreSQLを使用した監査ログリポジトリ。追記のみ。
type PostgresChangeLogRepo struct {
	db DBTX
}

// NewPostgresChangeLogRepo はPostgresChangeLogRepoを生成する。
func NewPostgresChangeLogRepo(db DBTX) *PostgresChangeLogRepo {
	return &PostgresChangeLogRepo{db: db}
}

// Append は監査ログを1件追記する。
func (r *PostgresChangeLogRepo) Append(ctx context.Context, entry *model.ChangeLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}

	err := r.db.QueryRowContext(ctx,
		`INSERT INTO change_log (id, project_id, item_id, coder_id, old_label_name, new_label_name)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING created_at`,
		entry.ID, entry.ProjectID, entry.ItemID, entry.CoderID,
		entry.OldLabelName, entry.NewLabelName,
	).Scan(&entry.Timestamp)
	if err != nil {
		return fmt.Errorf("監査ログの追記に失敗しました: %w", err)
	}

	return nil
}

// compile-time interface check
var _ ChangeLogRepository = (*PostgresChangeLogRepo)(nil)
