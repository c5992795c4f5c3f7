package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name        string
		level       string
		development bool
		wantErr     bool
	}{
		{"debug development", "debug", true, false},
		{"info production", "info", false, false},
		{"warn production", "warn", false, false},
		{"invalid level", "verbose", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := NewLogger(tt.level, tt.development)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, l)
		})
	}
}

func TestNewNopLogger(t *testing.T) {
	l := NewNopLogger()
	require.NotNil(t, l)

	// must not panic
	l.Infof("discarded %d", 1)
	l.Errorw("discarded", "key", "value")
}

func TestWithComponent(t *testing.T) {
	l := NewNopLogger()
	child := l.WithComponent("stream")
	require.NotNil(t, child)
	assert.NotSame(t, l, child)
}

type fakeLevelConfig struct {
	levels map[string]string
}

func (f *fakeLevelConfig) GetComponentLevel(component string) string { return f.levels[component] }
func (f *fakeLevelConfig) GetDefaultLevel() string                   { return "info" }
func (f *fakeLevelConfig) IsDevelopment() bool                       { return true }

func TestNewComponentLoggerFromConfig(t *testing.T) {
	t.Run("nil config falls back to default", func(t *testing.T) {
		l := NewComponentLoggerFromConfig("stream", nil)
		require.NotNil(t, l)
	})

	t.Run("component level applied", func(t *testing.T) {
		cfg := &fakeLevelConfig{levels: map[string]string{"stream": "debug"}}
		l := NewComponentLoggerFromConfig("stream", cfg)
		require.NotNil(t, l)
	})
}
