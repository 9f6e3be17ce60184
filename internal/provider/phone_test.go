package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "local number with leading zero",
			input:    "0541234567",
			expected: "+972541234567",
		},
		{
			name:     "local number with separators",
			input:    "054-123-4567",
			expected: "+972541234567",
		},
		{
			name:     "already international",
			input:    "+972541234567",
			expected: "+972541234567",
		},
		{
			name:     "international with spaces",
			input:    "+972 54 123 4567",
			expected: "+972541234567",
		},
		{
			name:     "bare digits without leading zero",
			input:    "972541234567",
			expected: "+972541234567",
		},
		{
			name:     "parentheses stripped",
			input:    "(054) 123-4567",
			expected: "+972541234567",
		},
		{
			name:     "empty stays empty",
			input:    "",
			expected: "",
		},
		{
			name:     "separators only",
			input:    " - ",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizePhone(tt.input))
		})
	}
}
