package repository

import (
	"context"
	"fmt"
)

// PostgresAssignmentRepo はPostgreSQLを使用した割り当てリポジトリ。
// items.stateのavailable/assigned遷移として実装される。
type PostgresAssignmentRepo struct {
	db DBTX
}

// NewPostgresAssignmentRepo はPostgresAssignmentRepoを生成する。
func NewPostgresAssignmentRepo(db DBTX) *PostgresAssignmentRepo {
	return &PostgresAssignmentRepo{db: db}
}

// Assign はavailable状態のアイテムをcoderに割り当てる。
// すでに他の状態にある場合はErrAlreadyAssignedを返す。
func (r *PostgresAssignmentRepo) Assign(ctx context.Context, itemID, coderID string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE items SET state = 'assigned', assigned_to = $2, updated_at = now()
		 WHERE id = $1 AND state = 'available'`,
		itemID, coderID,
	)
	if err != nil {
		return fmt.Errorf("アイテムの割り当てに失敗しました: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("割り当て結果の確認に失敗しました: %w", err)
	}
	if affected == 0 {
		return ErrAlreadyAssigned
	}

	return nil
}

// Release はcoderの割り当てを解除し、アイテムをavailableに戻す。
func (r *PostgresAssignmentRepo) Release(ctx context.Context, itemID, coderID string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE items SET state = 'available', assigned_to = NULL, updated_at = now()
		 WHERE id = $1 AND state = 'assigned' AND assigned_to = $2`,
		itemID, coderID,
	)
	if err != nil {
		return fmt.Errorf("割り当ての解除に失敗しました: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("解除結果の確認に失敗しました: %w", err)
	}
	if affected == 0 {
		return ErrNotAssigned
	}

	return nil
}

// ReleaseAll はcoderの全割り当てを解除してavailableに戻し、件数を返す。
func (r *PostgresAssignmentRepo) ReleaseAll(ctx context.Context, coderID string) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE items SET state = 'available', assigned_to = NULL, updated_at = now()
		 WHERE state = 'assigned' AND assigned_to = $1`,
		coderID,
	)
	if err != nil {
		return 0, fmt.Errorf("割り当ての一括解除に失敗しました: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("一括解除結果の確認に失敗しました: %w", err)
	}

	return affected, nil
}

// compile-time interface check
var _ AssignmentRepository = (*PostgresAssignmentRepo)(nil)
