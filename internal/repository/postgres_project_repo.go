package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/labelman/internal/model"
)

// PostgresProjectRepo はPostgreSQLを使用したプロジェクトリポジトリ。
type PostgresProjectRepo struct {
	db DBTX
}

// NewPostgresProjectRepo はPostgresProjectRepoを生成する。
func NewPostgresProjectRepo(db DBTX) *PostgresProjectRepo {
	return &PostgresProjectRepo{db: db}
}

// FindByID は指定IDのプロジェクトを取得する。見つからない場合はnilを返す。
func (r *PostgresProjectRepo) FindByID(ctx context.Context, id string) (*model.Project, error) {
	project := &model.Project{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, creator_id, batch_size, required_voters,
		        sensitive_enabled, current_training_set, created_at
		 FROM projects WHERE id = $1`,
		id,
	).Scan(
		&project.ID, &project.Name, &project.CreatorID, &project.BatchSize,
		&project.RequiredVoters, &project.SensitiveEnabled,
		&project.CurrentTrainingSet, &project.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("プロジェクトの取得に失敗しました: %w", err)
	}

	return project, nil
}

// CoderCount はプロジェクトに参加するコーダー数を返す。作成者を1人として数える。
func (r *PostgresProjectRepo) CoderCount(ctx context.Context, projectID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) + 1 FROM project_permissions pp
		 JOIN projects p ON p.id = pp.project_id
		 WHERE pp.project_id = $1 AND pp.coder_id <> p.creator_id`,
		projectID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("コーダー数の取得に失敗しました: %w", err)
	}

	return count, nil
}

// compile-time interface check
var _ ProjectRepository = (*PostgresProjectRepo)(nil)
