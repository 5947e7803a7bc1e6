// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, workflow, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeItemNotFound       = "ITEM_NOT_FOUND"
	ErrCodeLabelNotFound      = "LABEL_NOT_FOUND"
	ErrCodeProjectNotFound    = "PROJECT_NOT_FOUND"
	ErrCodeAssignmentNotFound = "ASSIGNMENT_NOT_FOUND"
	ErrCodeAlreadyAssigned    = "ALREADY_ASSIGNED"
	ErrCodePermissionDenied   = "PERMISSION_DENIED"
	ErrCodeInvalidRequest     = "INVALID_REQUEST"
	ErrCodeUnauthorized       = "UNAUTHORIZED"
)

// NewItemNotFoundError はアイテム未検出エラーを生成する。
func NewItemNotFoundError(itemID string) *APIError {
	return &APIError{
		Code:     ErrCodeItemNotFound,
		Message:  fmt.Sprintf("指定されたアイテムが見つかりません: %s", itemID),
		Category: "workflow",
		Action:   "アイテムIDを確認してください。",
	}
}

// NewLabelNotFoundError はラベル未検出エラーを生成する。
func NewLabelNotFoundError(labelID string) *APIError {
	return &APIError{
		Code:     ErrCodeLabelNotFound,
		Message:  fmt.Sprintf("指定されたラベルが見つかりません: %s", labelID),
		Category: "workflow",
		Action:   "ラベルIDを確認してください。",
	}
}

// NewProjectNotFoundError はプロジェクト未検出エラーを生成する。
func NewProjectNotFoundError(projectID string) *APIError {
	return &APIError{
		Code:     ErrCodeProjectNotFound,
		Message:  fmt.Sprintf("指定されたプロジェクトが見つかりません: %s", projectID),
		Category: "workflow",
		Action:   "プロジェクトIDを確認してください。",
	}
}

// NewAssignmentNotFoundError は割り当て未検出エラーを生成する。
// 正常なクライアント動作では発生しない内部不変条件違反であり、ログに記録される。
func NewAssignmentNotFoundError(itemID, coderID string) *APIError {
	return &APIError{
		Code:     ErrCodeAssignmentNotFound,
		Message:  fmt.Sprintf("アイテム %s はコーダー %s に割り当てられていません。", itemID, coderID),
		Category: "workflow",
		Action:   "カードデッキを再取得してください。",
	}
}

// NewAlreadyAssignedError は二重割り当てエラーを生成する。
func NewAlreadyAssignedError(itemID string) *APIError {
	return &APIError{
		Code:     ErrCodeAlreadyAssigned,
		Message:  fmt.Sprintf("アイテム %s はすでに他のコーダーに割り当てられています。", itemID),
		Category: "workflow",
		Action:   "カードデッキを再取得してください。",
	}
}

// NewPermissionDeniedError は権限不足エラーを生成する。
// ディスカード・復元・管理者ラベル付けはドメインレベルの{error}ペイロードとして返される。
func NewPermissionDeniedError() *APIError {
	return &APIError{
		Code:     ErrCodePermissionDenied,
		Message:  "無効な権限です。管理者である必要があります。",
		Category: "auth",
		Action:   "プロジェクト管理者に権限を確認してください。",
	}
}

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証されていません。",
		Category: "auth",
		Action:   "再度ログインしてください。",
	}
}

// NewInvalidRequestError はリクエスト不正エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("不正なリクエストです: %s", reason),
		Category: "validation",
		Action:   "リクエスト内容を確認してください。",
	}
}
