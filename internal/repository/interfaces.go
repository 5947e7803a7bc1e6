// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/hitoshi/labelman/internal/model"
)

// DBTX は*sql.DBと*sql.Txの両方が満たすクエリ実行インターフェース。
// リポジトリをトランザクションに束縛して生成するために使用する。
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// 状態遷移の不変条件違反。正常なクライアント動作では発生せず、呼び出し側でログに記録される。
var (
	// ErrAlreadyAssigned はすでに割り当て済みのアイテムへの二重割り当て。
	ErrAlreadyAssigned = errors.New("item is already assigned")
	// ErrNotAssigned は割り当てが存在しないアイテムへの解放操作。
	ErrNotAssigned = errors.New("item is not assigned to the coder")
	// ErrNotRecycled はリサイクル済みでないアイテムへの復元操作。
	ErrNotRecycled = errors.New("item is not in the recycle bin")
)

// Stores はワークフローが利用する全ストアの束。
// TxRunner.RunInTx内では全ストアが同一トランザクションに束縛される。
type Stores struct {
	Projects    ProjectRepository
	Items       ItemRepository
	Assignments AssignmentRepository
	Queue       QueueRepository
	Recycle     RecycleRepository
	Labels      LabelRepository
	Records     LabelRecordRepository
	Votes       VoteRepository
	ChangeLog   ChangeLogRepository
	AdminLocks  AdminLockRepository
	Permissions PermissionRepository
}

// TxRunner は複数ストアにまたがる読み書きを1つのトランザクションとして実行する。
// fnがエラーを返した場合は全変更がロールバックされる。
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(st *Stores) error) error
}

// ProjectRepository はプロジェクト設定の永続化インターフェース。
type ProjectRepository interface {
	// FindByID は指定IDのプロジェクトを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Project, error)

	// CoderCount はプロジェクトに参加するコーダー数（作成者を含む）を返す。
	CoderCount(ctx context.Context, projectID string) (int, error)
}

// ItemRepository はアイテム本体と状態遷移の永続化インターフェース。
// 状態はitems.state列で一元管理され、遷移はすべて行ロック下で行われる。
type ItemRepository interface {
	// FindByID は指定IDのアイテムを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Item, error)

	// FindByIDForUpdate は指定IDのアイテムを行ロック付きで取得する。
	// 同一アイテムへの並行サブミットを直列化するため、状態遷移前に必ず呼ぶ。
	FindByIDForUpdate(ctx context.Context, id string) (*model.Item, error)

	// ClaimAvailable はavailable状態のアイテムを最大limit件選択し、
	// 同一トランザクション内でcoderに割り当てる。
	// FOR UPDATE SKIP LOCKEDにより並行する他コーダーの取得と重複しない。
	// coderがすでにラベル付けまたは投票済みのアイテムは除外する。
	ClaimAvailable(ctx context.Context, projectID, coderID string, limit int) ([]*model.Item, error)

	// MarkLabeled はアイテムを解決済み（labeled）に遷移させる。
	MarkLabeled(ctx context.Context, itemID string) error

	// SetReliabilityFlag は信頼性チェックフラグを更新する。
	SetReliabilityFlag(ctx context.Context, itemID string, flag bool) error

	// SetSensitiveFlag はセンシティブフラグを更新する。
	SetSensitiveFlag(ctx context.Context, itemID string, flag bool) error

	// ListByState はプロジェクト内の指定状態のアイテム一覧を返す。
	ListByState(ctx context.Context, projectID string, state model.ItemState) ([]*model.Item, error)

	// MetadataFor は複数アイテムの表示用メタデータをまとめて取得する。
	MetadataFor(ctx context.Context, itemIDs []string) (map[string][]model.MetadataField, error)
}

// AssignmentRepository はアイテムの排他的チェックアウトを管理する。
// items.state列のファセットであり、割り当ての一意性は状態遷移として保証される。
type AssignmentRepository interface {
	// Assign はavailable状態のアイテムをcoderに割り当てる。
	// すでに割り当て済みの場合はErrAlreadyAssignedを返す。
	Assign(ctx context.Context, itemID, coderID string) error

	// Release はcoderの割り当てを解除し、アイテムをavailableに戻す。
	// 該当する割り当てがない場合はErrNotAssignedを返す。
	Release(ctx context.Context, itemID, coderID string) error

	// ReleaseAll はcoderの全割り当てを解除してavailableに戻し、件数を返す。
	// セッション離脱時に使用する。
	ReleaseAll(ctx context.Context, coderID string) (int64, error)
}

// QueueRepository は管理者キューへの投入・除去を管理する。items.state列のファセット。
type QueueRepository interface {
	// Enqueue はアイテムを管理者キューに投入する。
	// すでにキュー内の場合は何もしない（複数の経路が同一アイテムを
	// エスカレートし得るため、冪等であることが要件）。
	Enqueue(ctx context.Context, itemID string, reason model.QueueReason) error

	// Dequeue はアイテムを管理者キューから外しavailableに戻す。
	// キューに存在しない場合はfalseを返す。
	Dequeue(ctx context.Context, itemID string) (bool, error)

	// ListAdmin はプロジェクトの管理者キュー内アイテムを返す。
	ListAdmin(ctx context.Context, projectID string) ([]*model.Item, error)

	// CountsByReason は管理者キュー内の理由別件数を返す。
	CountsByReason(ctx context.Context, projectID string) (map[model.QueueReason]int, error)
}

// RecycleRepository はソフト削除（リサイクルビン）を管理する。items.state列のファセット。
type RecycleRepository interface {
	// Recycle はアイテムをrecycledに遷移させる。割り当て・キュー情報は消去される。
	Recycle(ctx context.Context, itemID string) error

	// Restore はrecycledのアイテムをavailableに戻す。
	// recycledでない場合はErrNotRecycledを返す。
	Restore(ctx context.Context, itemID string) error

	// ListByProject はプロジェクトのリサイクル済みアイテムを返す。
	ListByProject(ctx context.Context, projectID string) ([]*model.Item, error)
}

// LabelRepository はラベル定義の読み取りインターフェース。
type LabelRepository interface {
	// FindByID は指定IDのラベルを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Label, error)

	// ListByProject はプロジェクトのラベル一覧を返す。
	ListByProject(ctx context.Context, projectID string) ([]*model.Label, error)
}

// HistoryRow はコーダーのラベル付け履歴の1行。items・labelsと結合済み。
type HistoryRow struct {
	ItemID        string
	Text          string
	LabelID       string
	LabelName     string
	Reason        string
	Timestamp     time.Time
	SensitiveFlag bool
}

// LabelCountRow はコーダー×ラベルのラベル付け件数。
type LabelCountRow struct {
	CoderID   string
	LabelName string
	Count     int
}

// LabelRecordRepository はラベル付け記録の永続化インターフェース。
type LabelRecordRepository interface {
	// Create はラベル付け記録を追加する。
	Create(ctx context.Context, rec *model.LabelingRecord) error

	// Replace は(item, oldLabel[, coder])に一致する記録のラベルを差し替える。
	// time_to_label_msは0にリセットされる。coderIDが空の場合はコーダーを限定しない。
	// markSkippedがtrueの場合はwas_skippedも立てる。更新行数を返す。
	Replace(ctx context.Context, itemID, oldLabelID, newLabelID, coderID, reason string, markSkipped bool) (int64, error)

	// DeleteByItem はアイテムの全ラベル付け記録を削除する。
	DeleteByItem(ctx context.Context, itemID string) error

	// DeleteByItemExceptSkipped はスキップ記録を残して削除する。
	DeleteByItemExceptSkipped(ctx context.Context, itemID string) error

	// FindSkippedByItem はアイテムのスキップ記録を1件返す。なければnil。
	FindSkippedByItem(ctx context.Context, itemID string) (*model.LabelingRecord, error)

	// CountByCoderAndLabel はコーダー×ラベルの記録件数を返す。レポート用。
	CountByCoderAndLabel(ctx context.Context, coderID, labelID string) (int, error)

	// CountByProjectAndTrainingSet は指定世代のラベル付け件数を返す。
	// 再学習トリガーの閾値判定に渡される。
	CountByProjectAndTrainingSet(ctx context.Context, projectID string, trainingSet int) (int, error)

	// ListHistoryByCoder はコーダー自身のラベル付け履歴（スキップを除く）を返す。
	ListHistoryByCoder(ctx context.Context, projectID, coderID string) ([]HistoryRow, error)

	// LabelCountsByCoder はプロジェクト内のコーダー×ラベル件数を返す。
	LabelCountsByCoder(ctx context.Context, projectID string) ([]LabelCountRow, error)
}

// VoteRepository は信頼性チェック投票ログの永続化インターフェース。追記専用。
type VoteRepository interface {
	// Append は投票を追記する。labelIDがnilの場合はスキップ票。
	Append(ctx context.Context, vote *model.ReliabilityVote) error

	// CountByItem はアイテムの投票数を返す。
	CountByItem(ctx context.Context, itemID string) (int, error)

	// ListByItem はアイテムの全投票を時系列で返す。
	ListByItem(ctx context.Context, itemID string) ([]model.ReliabilityVote, error)

	// HasVote は(アイテム, コーダー)の投票が存在するかを返す。
	HasVote(ctx context.Context, itemID, coderID string) (bool, error)

	// DeleteByItem はアイテムの投票ログを全削除する。
	// センシティブ指定による信頼性チェック解除とディスカードでのみ使用する。
	DeleteByItem(ctx context.Context, itemID string) error

	// ListHistoryByCoder はコーダーのラベル付き投票履歴を返す。
	ListHistoryByCoder(ctx context.Context, projectID, coderID string) ([]HistoryRow, error)
}

// ChangeLogRepository はラベル修正監査ログの永続化インターフェース。
// 追記のみで、更新・削除の操作は公開しない。
type ChangeLogRepository interface {
	// Append は監査ログを1件追記する。
	Append(ctx context.Context, entry *model.ChangeLogEntry) error
}

// AdminLockRepository は管理者レビュー画面の占有トークンを管理する。
// リースではなく存在ベースの排他であり、明示的な解放のみで消える。
type AdminLockRepository interface {
	// Acquire はプロジェクトにロックが存在しない場合のみ作成する。
	// 作成できた場合はtrueを返す。
	Acquire(ctx context.Context, projectID, coderID string) (bool, error)

	// Release は自分が所有するロックを削除する。削除できた場合はtrueを返す。
	Release(ctx context.Context, projectID, coderID string) (bool, error)

	// Find はプロジェクトのロックを返す。存在しない場合はnil。
	Find(ctx context.Context, projectID string) (*model.AdminLock, error)
}

// PermissionRepository は(プロジェクト, コーダー)の権限レベルを返すオラクル。
// レベルの算出方法は外部協力者の領分であり、ここでは不透明な整数として扱う。
type PermissionRepository interface {
	// Level は権限レベルを返す。作成者は最上位、未登録のコーダーは0。
	Level(ctx context.Context, projectID, coderID string) (int, error)
}
