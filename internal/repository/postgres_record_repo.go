package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/hitoshi/labelman/internal/model"
)

// PostgresLabelRecordRepo はPostgreSQLを使用したラベル付け記録リポジトリ。
type PostgresLabelRecordRepo struct {
	db DBTX
}

// NewPostgresLabelRecordRepo はPostgresLabelRecordRepoを生成する。
func NewPostgresLabelRecordRepo(db DBTX) *PostgresLabelRecordRepo {
	return &PostgresLabelRecordRepo{db: db}
}

// Create はラベル付け記録を追加する。IDが未設定の場合は生成する。
func (r *PostgresLabelRecordRepo) Create(ctx context.Context, rec *model.LabelingRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	var timeToLabel sql.NullInt64
	if rec.TimeToLabelMs != nil {
		timeToLabel = sql.NullInt64{Int64: *rec.TimeToLabelMs, Valid: true}
	}

	err := r.db.QueryRowContext(ctx,
		`INSERT INTO labeling_records
		     (id, item_id, label_id, coder_id, training_set, time_to_label_ms, was_skipped, reason)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING created_at`,
		rec.ID, rec.ItemID, rec.LabelID, rec.CoderID,
		rec.TrainingSet, timeToLabel, rec.WasSkipped, rec.Reason,
	).Scan(&rec.Timestamp)
	if err != nil {
		return fmt.Errorf("ラベル付け記録の作成に失敗しました: %w", err)
	}

	return nil
}

// Replace は(item, oldLabel[, coder])に一致する記録のラベルを差し替える。
// 修正後の記録は計測値を持たないため、time_to_label_msは0にリセットされる。
func (r *PostgresLabelRecordRepo) Replace(ctx context.Context, itemID, oldLabelID, newLabelID, coderID, reason string, markSkipped bool) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE labeling_records
		 SET label_id = $3, time_to_label_ms = 0, reason = $5,
		     was_skipped = was_skipped OR $6
		 WHERE item_id = $1 AND label_id = $2 AND ($4 = '' OR coder_id = $4)`,
		itemID, oldLabelID, newLabelID, coderID, reason, markSkipped,
	)
	if err != nil {
		return 0, fmt.Errorf("ラベル付け記録の差し替えに失敗しました: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("差し替え結果の確認に失敗しました: %w", err)
	}

	return affected, nil
}

// DeleteByItem はアイテムの全ラベル付け記録を削除する。
func (r *PostgresLabelRecordRepo) DeleteByItem(ctx context.Context, itemID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM labeling_records WHERE item_id = $1`, itemID)
	if err != nil {
		return fmt.Errorf("ラベル付け記録の削除に失敗しました: %w", err)
	}
	return nil
}

// DeleteByItemExceptSkipped はスキップ記録を残してアイテムの記録を削除する。
func (r *PostgresLabelRecordRepo) DeleteByItemExceptSkipped(ctx context.Context, itemID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM labeling_records WHERE item_id = $1 AND was_skipped = FALSE`, itemID)
	if err != nil {
		return fmt.Errorf("ラベル付け記録の削除に失敗しました: %w", err)
	}
	return nil
}

// FindSkippedByItem はアイテムのスキップ記録を1件返す。なければnil。
func (r *PostgresLabelRecordRepo) FindSkippedByItem(ctx context.Context, itemID string) (*model.LabelingRecord, error) {
	rec := &model.LabelingRecord{}
	var timeToLabel sql.NullInt64
	err := r.db.QueryRowContext(ctx,
		`SELECT id, item_id, label_id, coder_id, training_set, time_to_label_ms, was_skipped, reason, created_at
		 FROM labeling_records
		 WHERE item_id = $1 AND was_skipped = TRUE
		 ORDER BY created_at LIMIT 1`,
		itemID,
	).Scan(
		&rec.ID, &rec.ItemID, &rec.LabelID, &rec.CoderID, &rec.TrainingSet,
		&timeToLabel, &rec.WasSkipped, &rec.Reason, &rec.Timestamp,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("スキップ記録の取得に失敗しました: %w", err)
	}

	if timeToLabel.Valid {
		rec.TimeToLabelMs = &timeToLabel.Int64
	}

	return rec, nil
}

// CountByCoderAndLabel はコーダー×ラベルの記録件数を返す。
func (r *PostgresLabelRecordRepo) CountByCoderAndLabel(ctx context.Context, coderID, labelID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM labeling_records WHERE coder_id = $1 AND label_id = $2`,
		coderID, labelID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ラベル付け件数の取得に失敗しました: %w", err)
	}

	return count, nil
}

// CountByProjectAndTrainingSet は指定世代のラベル付け件数を返す。スキップ記録は数えない。
func (r *PostgresLabelRecordRepo) CountByProjectAndTrainingSet(ctx context.Context, projectID string, trainingSet int) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM labeling_records lr
		 JOIN items i ON i.id = lr.item_id
		 WHERE i.project_id = $1 AND lr.training_set = $2 AND lr.was_skipped = FALSE`,
		projectID, trainingSet,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("世代別ラベル付け件数の取得に失敗しました: %w", err)
	}

	return count, nil
}

// ListHistoryByCoder はコーダー自身のラベル付け履歴（スキップを除く）を時系列で返す。
func (r *PostgresLabelRecordRepo) ListHistoryByCoder(ctx context.Context, projectID, coderID string) ([]HistoryRow, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT i.id, i.text, l.id, l.name, lr.reason, lr.created_at, i.sensitive_flag
		 FROM labeling_records lr
		 JOIN items i ON i.id = lr.item_id
		 JOIN labels l ON l.id = lr.label_id
		 WHERE i.project_id = $1 AND lr.coder_id = $2 AND lr.was_skipped = FALSE
		 ORDER BY lr.created_at`,
		projectID, coderID,
	)
	if err != nil {
		return nil, fmt.Errorf("ラベル付け履歴の取得に失敗しました: %w", err)
	}

	return scanHistoryRows(rows)
}

// LabelCountsByCoder はプロジェクト内のコーダー×ラベル件数を返す。
func (r *PostgresLabelRecordRepo) LabelCountsByCoder(ctx context.Context, projectID string) ([]LabelCountRow, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT lr.coder_id, l.name, COUNT(*)
		 FROM labeling_records lr
		 JOIN items i ON i.id = lr.item_id
		 JOIN labels l ON l.id = lr.label_id
		 WHERE i.project_id = $1 AND lr.was_skipped = FALSE
		 GROUP BY lr.coder_id, l.name
		 ORDER BY lr.coder_id, l.name`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("ラベル件数集計の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var counts []LabelCountRow
	for rows.Next() {
		var row LabelCountRow
		if err := rows.Scan(&row.CoderID, &row.LabelName, &row.Count); err != nil {
			return nil, fmt.Errorf("集計行の読み取りに失敗しました: %w", err)
		}
		counts = append(counts, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("集計結果の走査に失敗しました: %w", err)
	}

	return counts, nil
}

// scanHistoryRows は履歴クエリの結果をHistoryRowのスライスに読み取る。
func scanHistoryRows(rows *sql.Rows) ([]HistoryRow, error) {
	defer rows.Close()

	var history []HistoryRow
	for rows.Next() {
		var row HistoryRow
		if err := rows.Scan(
			&row.ItemID, &row.Text, &row.LabelID, &row.LabelName,
			&row.Reason, &row.Timestamp, &row.SensitiveFlag,
		); err != nil {
			return nil, fmt.Errorf("履歴行の読み取りに失敗しました: %w", err)
		}
		history = append(history, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("履歴の走査に失敗しました: %w", err)
	}

	return history, nil
}

// compile-time interface check
var _ LabelRecordRepository = (*PostgresLabelRecordRepo)(nil)
