package security

import "testing"

func TestSanitize_RemovesTags(t *testing.T) {
	s := NewDisplaySanitizer()

	got := s.Sanitize(`<script>alert("xss")</script>PlayerOne`)
	if got != "PlayerOne" {
		t.Errorf("Sanitize = %q, want %q", got, "PlayerOne")
	}
}

func TestSanitize_KeepsPlainText(t *testing.T) {
	s := NewDisplaySanitizer()

	got := s.Sanitize("商人ギルド☆マルクト")
	if got != "商人ギルド☆マルクト" {
		t.Errorf("Sanitize = %q, プレーンテキストは変更されないべき", got)
	}
}

func TestSanitize_DecodesEntities(t *testing.T) {
	s := NewDisplaySanitizer()

	got := s.Sanitize("A &amp; B")
	if got != "A & B" {
		t.Errorf("Sanitize = %q, want %q", got, "A & B")
	}
}

func TestSanitize_EmptyInput(t *testing.T) {
	s := NewDisplaySanitizer()

	if got := s.Sanitize(""); got != "" {
		t.Errorf("空入力には空文字列を返すべき: got %q", got)
	}
}

func TestSanitize_Idempotent(t *testing.T) {
	s := NewDisplaySanitizer()

	input := `<b>Seller</b> name`
	first := s.Sanitize(input)
	second := s.Sanitize(first)
	if first != second {
		t.Errorf("冪等であるべき: first=%q second=%q", first, second)
	}
}
