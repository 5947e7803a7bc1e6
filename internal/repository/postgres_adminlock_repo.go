package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/labelman/internal/model"
)

// PostgresAdminLockRepo はPostgreSQLを使用した管理者ロックリポジトリ。
// project_idを主キーとする1行の存在がロックそのものを表す。
type PostgresAdminLockRepo struct {
	db DBTX
}

// NewPostgresAdminLockRepo はPostgresAdminLockRepoを生成する。
func NewPostgresAdminLockRepo(db DBTX) *PostgresAdminLockRepo {
	return &PostgresAdminLockRepo{db: db}
}

// Acquire はプロジェクトにロックが存在しない場合のみ作成する。
// ON CONFLICT DO NOTHINGにより並行取得は高々1人しか成功しない。
func (r *PostgresAdminLockRepo) Acquire(ctx context.Context, projectID, coderID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO admin_locks (project_id, coder_id) VALUES ($1, $2)
		 ON CONFLICT (project_id) DO NOTHING`,
		projectID, coderID,
	)
	if err != nil {
		return false, fmt.Errorf("管理者ロックの取得に失敗しました: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ロック取得結果の確認に失敗しました: %w", err)
	}

	return affected > 0, nil
}

// Release は自分が所有するロックを削除する。削除できた場合はtrueを返す。
func (r *PostgresAdminLockRepo) Release(ctx context.Context, projectID, coderID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM admin_locks WHERE project_id = $1 AND coder_id = $2`,
		projectID, coderID,
	)
	if err != nil {
		return false, fmt.Errorf("管理者ロックの解放に失敗しました: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ロック解放結果の確認に失敗しました: %w", err)
	}

	return affected > 0, nil
}

// Find はプロジェクトのロックを返す。存在しない場合はnil。
func (r *PostgresAdminLockRepo) Find(ctx context.Context, projectID string) (*model.AdminLock, error) {
	lock := &model.AdminLock{}
	err := r.db.QueryRowContext(ctx,
		`SELECT project_id, coder_id, created_at FROM admin_locks WHERE project_id = $1`,
		projectID,
	).Scan(&lock.ProjectID, &lock.CoderID, &lock.Timestamp)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("管理者ロックの取得に失敗しました: %w", err)
	}

	return lock, nil
}

// compile-time interface check
var _ AdminLockRepository = (*PostgresAdminLockRepo)(nil)
