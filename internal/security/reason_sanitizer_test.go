package security

import "testing"

// TestReasonSanitizer_StripsTags は全HTMLタグが除去されることを検証する。
func TestReasonSanitizer_StripsTags(t *testing.T) {
	s := NewReasonSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"プレーンテキストはそのまま", "unclear wording", "unclear wording"},
		{"scriptタグの除去", `before<script>alert("x")</script>after`, "beforeafter"},
		{"装飾タグの除去", "<strong>very</strong> ambiguous", "very ambiguous"},
		{"リンクタグの除去", `see <a href="https://example.com">this</a>`, "see this"},
		{"前後の空白の除去", "  needs review  ", "needs review"},
		{"空文字列", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.Sanitize(tt.input)
			if got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// TestReasonSanitizer_Idempotent は同一入力に対して常に同一出力を返すことを検証する。
func TestReasonSanitizer_Idempotent(t *testing.T) {
	s := NewReasonSanitizer()

	input := `<em>text</em> with <script>bad()</script> markup`
	first := s.Sanitize(input)
	second := s.Sanitize(first)

	if first != second {
		t.Errorf("Sanitize is not idempotent: %q != %q", first, second)
	}
}

// TestReasonSanitizer_ImplementsInterface は実装がインターフェースを満たすことを検証する。
func TestReasonSanitizer_ImplementsInterface(t *testing.T) {
	var _ ReasonSanitizerService = NewReasonSanitizer()
}
