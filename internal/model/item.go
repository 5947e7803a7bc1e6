// Package model はドメインモデルを定義する。
package model

import "time"

// ItemState はアイテムのライフサイクル状態を表す。
// 状態はitemsテーブルのstate列に明示的に保持し、トランザクション内でのみ遷移させる。
type ItemState string

const (
	// StateAvailable は未割り当て・未ラベルで配布可能な状態。
	StateAvailable ItemState = "available"
	// StateAssigned はコーダーにチェックアウトされている状態。
	StateAssigned ItemState = "assigned"
	// StateAdminQueued は管理者の裁定待ちの状態。
	StateAdminQueued ItemState = "admin_queued"
	// StateLabeled はラベル付けが完了し解決済みの状態。
	StateLabeled ItemState = "labeled"
	// StateRecycled はソフト削除され、ワークフローから外れた状態。復元可能。
	StateRecycled ItemState = "recycled"
)

// QueueReason は管理者キューへの投入理由を表す。
type QueueReason string

const (
	// ReasonSkipped はコーダーがスキップしたアイテム。
	ReasonSkipped QueueReason = "skipped"
	// ReasonIRR は信頼性チェックで不一致またはスキップ票が出たアイテム。
	ReasonIRR QueueReason = "irr"
	// ReasonSensitive はセンシティブとしてフラグされたアイテム。
	ReasonSensitive QueueReason = "sensitive"
)

// Item はラベル付け対象の作業単位を表す。
// Textは不変。ReliabilityFlagは複数コーダーによる信頼性チェック対象かどうかを示す。
type Item struct {
	ID              string
	ProjectID       string
	Text            string
	ReliabilityFlag bool
	SensitiveFlag   bool
	State           ItemState
	AssignedTo      string      // State == StateAssigned のときのコーダーID
	QueueReason     QueueReason // State == StateAdminQueued のときの理由
	RecycledAt      *time.Time  // State == StateRecycled のときの削除時刻
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// MetadataField はアイテムに付随する表示用メタデータの1項目。
// 出力リストへの付加のみに使われる読み取り専用データ。
type MetadataField struct {
	ItemID string
	Name   string
	Value  string
}
