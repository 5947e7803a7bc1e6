package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/labelman/internal/model"
)

// itemColumns はitemsテーブルの取得列。scanItemと対で管理する。
const itemColumns = `id, project_id, text, reliability_flag, sensitive_flag,
	       state, assigned_to, queue_reason, recycled_at, created_at, updated_at`

// scanItem は1行をmodel.Itemに読み取る。
func scanItem(scanner interface{ Scan(dest ...any) error }) (*model.Item, error) {
	item := &model.Item{}
	var assignedTo, queueReason sql.NullString
	var recycledAt sql.NullTime

	if err := scanner.Scan(
		&item.ID, &item.ProjectID, &item.Text, &item.ReliabilityFlag, &item.SensitiveFlag,
		&item.State, &assignedTo, &queueReason, &recycledAt, &item.CreatedAt, &item.UpdatedAt,
	); err != nil {
		return nil, err
	}

	item.AssignedTo = nullStringValue(assignedTo)
	item.QueueReason = model.QueueReason(nullStringValue(queueReason))
	if recycledAt.Valid {
		item.RecycledAt = &recycledAt.Time
	}

	return item, nil
}

// scanItems は複数行をmodel.Itemのスライスに読み取る。
func scanItems(rows *sql.Rows) ([]*model.Item, error) {
	defer rows.Close()

	var items []*model.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("アイテム行の読み取りに失敗しました: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("アイテム一覧の走査に失敗しました: %w", err)
	}

	return items, nil
}

// PostgresItemRepo はPostgreSQLを使用したアイテムリポジトリ。
type PostgresItemRepo struct {
	db DBTX
}

// NewPostgresItemRepo はPostgresItemRepoを生成する。
func NewPostgresItemRepo(db DBTX) *PostgresItemRepo {
	return &PostgresItemRepo{db: db}
}

// FindByID は指定IDのアイテムを取得する。見つからない場合はnilを返す。
func (r *PostgresItemRepo) FindByID(ctx context.Context, id string) (*model.Item, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE id = $1`, id)

	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("アイテムの取得に失敗しました: %w", err)
	}

	return item, nil
}

// FindByIDForUpdate は指定IDのアイテムを行ロック付きで取得する。
// 同一アイテムへの並行サブミットはこのロックで直列化される。
func (r *PostgresItemRepo) FindByIDForUpdate(ctx context.Context, id string) (*model.Item, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE id = $1 FOR UPDATE`, id)

	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("アイテムのロック付き取得に失敗しました: %w", err)
	}

	return item, nil
}

// ClaimAvailable はavailableなアイテムを最大limit件選択し、coderに割り当てる。
// 選択と割り当ては1つのUPDATE文で行い、FOR UPDATE SKIP LOCKEDにより
// 並行する他コーダーのClaimAvailableと同一アイテムを取り合わない。
func (r *PostgresItemRepo) ClaimAvailable(ctx context.Context, projectID, coderID string, limit int) ([]*model.Item, error) {
	rows, err := r.db.QueryContext(ctx,
		`UPDATE items SET state = 'assigned', assigned_to = $2, updated_at = now()
		 WHERE id IN (
		     SELECT id FROM items
		     WHERE project_id = $1 AND state = 'available'
		       AND NOT EXISTS (
		           SELECT 1 FROM labeling_records lr
		           WHERE lr.item_id = items.id AND lr.coder_id = $2
		       )
		       AND NOT EXISTS (
		           SELECT 1 FROM reliability_votes rv
		           WHERE rv.item_id = items.id AND rv.coder_id = $2
		       )
		     ORDER BY created_at
		     LIMIT $3
		     FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+itemColumns,
		projectID, coderID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("アイテムの割り当て取得に失敗しました: %w", err)
	}

	return scanItems(rows)
}

// MarkLabeled はアイテムを解決済み（labeled）に遷移させる。
func (r *PostgresItemRepo) MarkLabeled(ctx context.Context, itemID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE items SET state = 'labeled', assigned_to = NULL, queue_reason = NULL, updated_at = now()
		 WHERE id = $1 AND state <> 'recycled'`,
		itemID,
	)
	if err != nil {
		return fmt.Errorf("アイテムの解決済み遷移に失敗しました: %w", err)
	}
	return nil
}

// SetReliabilityFlag は信頼性チェックフラグを更新する。
func (r *PostgresItemRepo) SetReliabilityFlag(ctx context.Context, itemID string, flag bool) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE items SET reliability_flag = $2, updated_at = now() WHERE id = $1`,
		itemID, flag,
	)
	if err != nil {
		return fmt.Errorf("信頼性フラグの更新に失敗しました: %w", err)
	}
	return nil
}

// SetSensitiveFlag はセンシティブフラグを更新する。
func (r *PostgresItemRepo) SetSensitiveFlag(ctx context.Context, itemID string, flag bool) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE items SET sensitive_flag = $2, updated_at = now() WHERE id = $1`,
		itemID, flag,
	)
	if err != nil {
		return fmt.Errorf("センシティブフラグの更新に失敗しました: %w", err)
	}
	return nil
}

// ListByState はプロジェクト内の指定状態のアイテム一覧を返す。
func (r *PostgresItemRepo) ListByState(ctx context.Context, projectID string, state model.ItemState) ([]*model.Item, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM items
		 WHERE project_id = $1 AND state = $2 ORDER BY created_at`,
		projectID, state,
	)
	if err != nil {
		return nil, fmt.Errorf("アイテム一覧の取得に失敗しました: %w", err)
	}

	return scanItems(rows)
}

// MetadataFor は複数アイテムの表示用メタデータをまとめて取得する。
func (r *PostgresItemRepo) MetadataFor(ctx context.Context, itemIDs []string) (map[string][]model.MetadataField, error) {
	result := make(map[string][]model.MetadataField)
	if len(itemIDs) == 0 {
		return result, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT item_id, name, value FROM item_metadata
		 WHERE item_id = ANY($1) ORDER BY item_id, name`,
		pq.Array(itemIDs),
	)
	if err != nil {
		return nil, fmt.Errorf("メタデータの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var field model.MetadataField
		if err := rows.Scan(&field.ItemID, &field.Name, &field.Value); err != nil {
			return nil, fmt.Errorf("メタデータ行の読み取りに失敗しました: %w", err)
		}
		result[field.ItemID] = append(result[field.ItemID], field)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("メタデータの走査に失敗しました: %w", err)
	}

	return result, nil
}

// compile-time interface check
var _ ItemRepository = (*PostgresItemRepo)(nil)
