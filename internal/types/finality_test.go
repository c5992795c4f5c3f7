package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFinality_IsValid(t *testing.T) {
	tests := []struct {
		name     string
		finality Finality
		valid    bool
	}{
		{"pending", FinalityPending, true},
		{"accepted", FinalityAccepted, true},
		{"finalized", FinalityFinalized, true},
		{"empty", Finality(""), false},
		{"unknown", Finality("safe"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, tt.finality.IsValid())
		})
	}
}

func TestParseFinality(t *testing.T) {
	f, err := ParseFinality("finalized")
	require.NoError(t, err)
	assert.Equal(t, FinalityFinalized, f)

	_, err = ParseFinality("latest")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid finality")
}
