// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ReasonSanitizerService はコーダーが入力した理由テキストをサニタイズする。
// 理由テキストは管理者レビュー画面にそのまま表示されるため、
// bluemondayのStrictPolicyで全HTMLタグを除去し、XSS攻撃から保護する。
package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ReasonSanitizerService は理由テキストのサニタイズ機能のインターフェースを定義する。
// ラベル付け・スキップ・修正の各サブミットで保存前に使用される。
type ReasonSanitizerService interface {
	// Sanitize は理由テキストから全HTMLタグを除去したプレーンテキストを返す。
	// 前後の空白も取り除く。空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

// reasonSanitizer はReasonSanitizerServiceの実装。
// bluemondayのポリシーを保持し、スレッドセーフにサニタイズ処理を行う。
type reasonSanitizer struct {
	policy *bluemonday.Policy
}

// NewReasonSanitizer はReasonSanitizerServiceの新しいインスタンスを生成する。
// 理由テキストはプレーンテキストとして扱うため、タグを一切許可しない
// StrictPolicyを使用する。
func NewReasonSanitizer() *reasonSanitizer {
	return &reasonSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize は理由テキストから全HTMLタグを除去したプレーンテキストを返す。
func (s *reasonSanitizer) Sanitize(raw string) string {
	return strings.TrimSpace(s.policy.Sanitize(raw))
}
