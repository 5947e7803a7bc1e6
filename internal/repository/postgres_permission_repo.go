package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/labelman/internal/model"
)

// PostgresPermissionRepo はPostgreSQLを使用した権限リポジトリ。
type PostgresPermissionRepo struct {
	db DBTX
}

// NewPostgresPermissionRepo はPostgresPermissionRepoを生成する。
func NewPostgresPermissionRepo(db DBTX) *PostgresPermissionRepo {
	return &PostgresPermissionRepo{db: db}
}

// Level は(プロジェクト, コーダー)の権限レベルを返す。
// 作成者は常に最上位レベル。プロジェクトが存在しない、または
// コーダーが未登録の場合は0を返す。
func (r *PostgresPermissionRepo) Level(ctx context.Context, projectID, coderID string) (int, error) {
	var level int
	err := r.db.QueryRowContext(ctx,
		`SELECT CASE WHEN p.creator_id = $2 THEN $3 ELSE COALESCE(pp.level, $4) END
		 FROM projects p
		 LEFT JOIN project_permissions pp
		     ON pp.project_id = p.id AND pp.coder_id = $2
		 WHERE p.id = $1`,
		projectID, coderID, model.PermissionCreator, model.PermissionNone,
	).Scan(&level)
	if err == sql.ErrNoRows {
		return model.PermissionNone, nil
	}
	if err != nil {
		return 0, fmt.Errorf("権限レベルの取得に失敗しました: %w", err)
	}

	return level, nil
}

// compile-time interface check
var _ PermissionRepository = (*PostgresPermissionRepo)(nil)
