package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestMaskSecret tests secret masking for log output
func TestMaskSecret(t *testing.T) {
	tests := []struct {
		name   string
		secret string
		want   string
	}{
		{name: "Empty", secret: "", want: "<not set>"},
		{name: "Short", secret: "short", want: "***"},
		{name: "ExactlyEight", secret: "12345678", want: "***"},
		{name: "Long", secret: "myverylongsecretkey123", want: "myve...y123"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MaskSecret(tt.secret))
		})
	}
}

// TestGetEnv tests the fallback behavior
func TestGetEnv(t *testing.T) {
	t.Setenv("CATALOG_TEST_VALUE", "set")
	assert.Equal(t, "set", GetEnv("CATALOG_TEST_VALUE", "default"))
	assert.Equal(t, "default", GetEnv("CATALOG_TEST_MISSING", "default"))
}

// TestPtr tests the pointer helper
func TestPtr(t *testing.T) {
	p := Ptr(42)
	assert.Equal(t, 42, *p)
	s := Ptr("x")
	assert.Equal(t, "x", *s)
}
