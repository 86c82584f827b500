package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "*****", MaskSecret("abc"))
	assert.Equal(t, "sk_l*****", MaskSecret("sk_live_123456"))
}

func TestMaskURL(t *testing.T) {
	assert.Equal(t, "https://files.example.com/doc.pdf?...", MaskURL("https://user:pw@files.example.com/doc.pdf?X-Amz-Signature=abc"))
}

func TestIsValidURL(t *testing.T) {
	assert.True(t, IsValidURL("https://app.example.com/api/1.1"))
	assert.False(t, IsValidURL("ftp://example.com"))
	assert.False(t, IsValidURL("/relative"))
}
