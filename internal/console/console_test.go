package console

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestFormatCell(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, "NULL"},
		{"float", float64(0.5), "0.5"},
		{"int", int64(42), "42"},
		{"bool", true, "true"},
		{"short string", "refactor", "refactor"},
		{"exactly 60", strings.Repeat("a", 60), strings.Repeat("a", 60)},
		{"long string", strings.Repeat("a", 61), strings.Repeat("a", 57) + "..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatCell(tt.in); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestFormatCell_MultibyteTruncation(t *testing.T) {
	// Truncation must not split a rune mid-sequence.
	long := strings.Repeat("日", 80)

	got := formatCell(long)
	if !utf8.ValidString(got) {
		t.Fatalf("truncated cell is not valid UTF-8: %q", got)
	}
	if got != strings.Repeat("日", 57)+"..." {
		t.Errorf("expected 57 runes plus ellipsis, got %q", got)
	}
}
