package model

import "time"

// Project はラベル付けプロジェクトの設定を表す。
type Project struct {
	ID                 string
	Name               string
	CreatorID          string
	BatchSize          int
	RequiredVoters     int  // 信頼性チェックに必要な投票者数
	SensitiveEnabled   bool // コーダーによるセンシティブ指定を許可するか
	CurrentTrainingSet int
	CreatedAt          time.Time
}

// AdminLock は管理者レビュー画面の単一占有トークンを表す。
// プロジェクトごとに最大1行。リース機構はなく、明示的な解放のみで消える。
type AdminLock struct {
	ProjectID string
	CoderID   string
	Timestamp time.Time
}

// 権限レベル。proj_permission_levelに相当する整数値。
const (
	PermissionNone    = 0
	PermissionCoder   = 1
	PermissionAdmin   = 2
	PermissionCreator = 3
)

// IsAdminLevel は管理者操作を許可するレベルかどうかを返す。
func IsAdminLevel(level int) bool {
	return level >= PermissionAdmin
}
