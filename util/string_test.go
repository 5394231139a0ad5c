package util

import (
	"testing"

	"github.com/tj/assert"
)

func TestMaskEmail(t *testing.T) {
	assert.Equal(t, "a***e@example.com", MaskEmail("alice@example.com"))
	assert.Equal(t, "**@x.io", MaskEmail("ab@x.io"))
	assert.Equal(t, "not-an-email", MaskEmail("not-an-email"))
}

func TestStringSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, StringSimilarity("abcdef", "abcdef"))
	assert.Equal(t, 0.0, StringSimilarity("", "abcdef"))
	sim := StringSimilarity("abcdef", "abcdxf")
	if sim <= 0.8 || sim >= 1.0 {
		t.Fatalf("expected similarity in (0.8, 1.0), got %f", sim)
	}
}
