package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/labelman/internal/model"
)

// PostgresLabelRepo はPostgreSQLを使用したラベル定義リポジトリ。
type PostgresLabelRepo struct {
	db DBTX
}

// NewPostgresLabelRepo はPostgresLabelRepoを生成する。
func NewPostgresLabelRepo(db DBTX) *PostgresLabelRepo {
	return &PostgresLabelRepo{db: db}
}

// FindByID は指定IDのラベルを取得する。見つからない場合はnilを返す。
func (r *PostgresLabelRepo) FindByID(ctx context.Context, id string) (*model.Label, error) {
	label := &model.Label{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, project_id, name, created_at FROM labels WHERE id = $1`,
		id,
	).Scan(&label.ID, &label.ProjectID, &label.Name, &label.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ラベルの取得に失敗しました: %w", err)
	}

	return label, nil
}

// ListByProject はプロジェクトのラベル一覧を名前順に返す。
func (r *PostgresLabelRepo) ListByProject(ctx context.Context, projectID string) ([]*model.Label, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, project_id, name, created_at FROM labels
		 WHERE project_id = $1 ORDER BY name`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("ラベル一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var labels []*model.Label
	for rows.Next() {
		label := &model.Label{}
		if err := rows.Scan(&label.ID, &label.ProjectID, &label.Name, &label.CreatedAt); err != nil {
			return nil, fmt.Errorf("ラベル行の読み取りに失敗しました: %w", err)
		}
		labels = append(labels, label)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ラベル一覧の走査に失敗しました: %w", err)
	}

	return labels, nil
}

// compile-time interface check
var _ LabelRepository = (*PostgresLabelRepo)(nil)
