package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeAndTrim(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		expected []string
	}{
		{name: "nil slice", input: nil, expected: nil},
		{name: "empty slice", input: []string{}, expected: []string{}},
		{name: "trims whitespace", input: []string{" machine-a ", "\tmachine-b\n"}, expected: []string{"machine-a", "machine-b"}},
		{name: "drops repeats after trimming", input: []string{"machine-a", " machine-a", "machine-b"}, expected: []string{"machine-a", "machine-b"}},
		{name: "drops blanks", input: []string{"", "  ", "machine-a"}, expected: []string{"machine-a"}},
		{name: "case sensitive", input: []string{"Machine-A", "machine-a"}, expected: []string{"Machine-A", "machine-a"}},
		{name: "all blank", input: []string{" ", ""}, expected: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DedupeAndTrim(tt.input))
		})
	}
}
