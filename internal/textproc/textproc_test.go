package textproc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"lower-cases and strips punctuation", "Hello, World!!", "hello world"},
		{"collapses whitespace", "  a \t\n  b  ", "a b"},
		{"keeps vietnamese diacritics", "Giảm GIÁ đặc biệt!", "giảm giá đặc biệt"},
		{"composes decomposed input", "Tiếng Việt", "tiếng việt"},
		{"keeps digits", "Order #12345 shipped.", "order 12345 shipped"},
		{"empty", "   ...   ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.input))
		})
	}
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"cảm", "ơn", "bạn"}, Tokenize("Cảm ơn bạn!"))
	assert.Nil(t, Tokenize("!!!"))
}

func TestSnippet(t *testing.T) {
	t.Run("short text unchanged apart from whitespace", func(t *testing.T) {
		assert.Equal(t, "line one line two", Snippet("line one\n\nline two", 200))
	})

	t.Run("truncates on rune boundary", func(t *testing.T) {
		got := Snippet("xin chào thế giới", 8)
		assert.Equal(t, "xin chào", got)
	})

	t.Run("zero length", func(t *testing.T) {
		assert.Equal(t, "", Snippet("anything", 0))
	})
}
