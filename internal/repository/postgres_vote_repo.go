package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/hitoshi/labelman/internal/model"
)

// PostgresVoteRepo はPostgreSQLを使用した信頼性チェック投票リポジトリ。
type PostgresVoteRepo struct {
	db DBTX
}

// NewPostgresVoteRepo はPostgresVoteRepoを生成する。
func NewPostgresVoteRepo(db DBTX) *PostgresVoteRepo {
	return &PostgresVoteRepo{db: db}
}

// Append は投票を追記する。labelIDがnilの場合はスキップ票。
func (r *PostgresVoteRepo) Append(ctx context.Context, vote *model.ReliabilityVote) error {
	if vote.ID == "" {
		vote.ID = uuid.NewString()
	}

	var labelID sql.NullString
	if vote.LabelID != nil {
		labelID = sql.NullString{String: *vote.LabelID, Valid: true}
	}

	err := r.db.QueryRowContext(ctx,
		`INSERT INTO reliability_votes (id, item_id, coder_id, label_id, reason)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at`,
		vote.ID, vote.ItemID, vote.CoderID, labelID, vote.Reason,
	).Scan(&vote.Timestamp)
	if err != nil {
		return fmt.Errorf("投票の追記に失敗しました: %w", err)
	}

	return nil
}

// CountByItem はアイテムの投票数を返す。
func (r *PostgresVoteRepo) CountByItem(ctx context.Context, itemID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reliability_votes WHERE item_id = $1`, itemID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("投票数の取得に失敗しました: %w", err)
	}

	return count, nil
}

// ListByItem はアイテムの全投票を時系列で返す。
func (r *PostgresVoteRepo) ListByItem(ctx context.Context, itemID string) ([]model.ReliabilityVote, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, item_id, coder_id, label_id, reason, created_at
		 FROM reliability_votes WHERE item_id = $1 ORDER BY created_at`,
		itemID,
	)
	if err != nil {
		return nil, fmt.Errorf("投票一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var votes []model.ReliabilityVote
	for rows.Next() {
		var vote model.ReliabilityVote
		var labelID sql.NullString
		if err := rows.Scan(
			&vote.ID, &vote.ItemID, &vote.CoderID, &labelID, &vote.Reason, &vote.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("投票行の読み取りに失敗しました: %w", err)
		}
		if labelID.Valid {
			vote.LabelID = &labelID.String
		}
		votes = append(votes, vote)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("投票一覧の走査に失敗しました: %w", err)
	}

	return votes, nil
}

// HasVote は(アイテム, コーダー)の投票が存在するかを返す。
func (r *PostgresVoteRepo) HasVote(ctx context.Context, itemID, coderID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (
		     SELECT 1 FROM reliability_votes WHERE item_id = $1 AND coder_id = $2
		 )`,
		itemID, coderID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("投票有無の確認に失敗しました: %w", err)
	}

	return exists, nil
}

// DeleteByItem はアイテムの投票ログを全削除する。
func (r *PostgresVoteRepo) DeleteByItem(ctx context.Context, itemID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM reliability_votes WHERE item_id = $1`, itemID)
	if err != nil {
		return fmt.Errorf("投票ログの削除に失敗しました: %w", err)
	}
	return nil
}

// ListHistoryByCoder はコーダーのラベル付き投票履歴を時系列で返す。スキップ票は含まない。
func (r *PostgresVoteRepo) ListHistoryByCoder(ctx context.Context, projectID, coderID string) ([]HistoryRow, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT i.id, i.text, l.id, l.name, rv.reason, rv.created_at, i.sensitive_flag
		 FROM reliability_votes rv
		 JOIN items i ON i.id = rv.item_id
		 JOIN labels l ON l.id = rv.label_id
		 WHERE i.project_id = $1 AND rv.coder_id = $2
		 ORDER BY rv.created_at`,
		projectID, coderID,
	)
	if err != nil {
		return nil, fmt.Errorf("投票履歴の取得に失敗しました: %w", err)
	}

	return scanHistoryRows(rows)
}

// compile-time interface check
var _ VoteRepository = (*PostgresVoteRepo)(nil)
