package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	assert.Equal(t, "hello", Truncate("hello", 10), "short string unchanged")
	assert.Equal(t, "hello...", Truncate("hello world", 5))
	assert.Equal(t, "x", Truncate("x", 0), "maxLen 0 returns as-is")
}

func TestTruncate_RuneBoundary(t *testing.T) {
	// "é" is two bytes; cutting at 2 would split it.
	assert.Equal(t, "a...", Truncate("aé", 2))
	assert.Equal(t, "日...", Truncate("日本語", 4))
}
