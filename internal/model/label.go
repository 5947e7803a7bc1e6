package model

import "time"

// Label はプロジェクトに属するラベル定義を表す。使用開始後は不変。
type Label struct {
	ID        string
	ProjectID string
	Name      string
	CreatedAt time.Time
}

// LabelingRecord はコーダーによる1件のラベル付け記録を表す。
// TimeToLabelMsがnilの場合は計測なし（管理者ラベルなど）を意味する。
type LabelingRecord struct {
	ID            string
	ItemID        string
	LabelID       string
	CoderID       string
	TrainingSet   int
	TimeToLabelMs *int64
	WasSkipped    bool
	Reason        string
	Timestamp     time.Time
}

// ReliabilityVote は信頼性チェック対象アイテムへの1票を表す。
// LabelIDがnilの場合はスキップ票。追記専用で、通常は(アイテム, コーダー)ごとに1件。
type ReliabilityVote struct {
	ID        string
	ItemID    string
	CoderID   string
	LabelID   *string
	Reason    string
	Timestamp time.Time
}

// ChangeLogEntry はラベル修正の監査ログを表す。追記専用で一切変更されない。
type ChangeLogEntry struct {
	ID           string
	ProjectID    string
	ItemID       string
	CoderID      string
	OldLabelName string
	NewLabelName string
	Timestamp    time.Time
}
