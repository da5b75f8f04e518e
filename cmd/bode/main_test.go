package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRange(t *testing.T) {
	tests := []struct {
		name      string
		args      []string
		wantMin   float64
		wantMax   float64
		wantCount int
		wantErr   bool
	}{
		{"min max only", []string{"1000", "2.2e6"}, 1000, 2.2e6, defaultCount, false},
		{"with count", []string{"20", "20000", "100"}, 20, 20000, 100, false},
		{"scientific notation", []string{"1e3", "1e6", "25"}, 1e3, 1e6, 25, false},
		{"too few args", []string{"1000"}, 0, 0, 0, true},
		{"too many args", []string{"1", "2", "3", "4"}, 0, 0, 0, true},
		{"min not a number", []string{"abc", "1000"}, 0, 0, 0, true},
		{"count not a number", []string{"10", "1000", "x"}, 0, 0, 0, true},
		{"negative min", []string{"-10", "1000"}, 0, 0, 0, true},
		{"zero min", []string{"0", "1000"}, 0, 0, 0, true},
		{"min above max", []string{"5000", "1000"}, 0, 0, 0, true},
		{"min equals max", []string{"1000", "1000"}, 0, 0, 0, true},
		{"zero count", []string{"10", "1000", "0"}, 0, 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			minFreq, maxFreq, count, err := parseRange(tt.args)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantMin, minFreq)
			assert.Equal(t, tt.wantMax, maxFreq)
			assert.Equal(t, tt.wantCount, count)
		})
	}
}
