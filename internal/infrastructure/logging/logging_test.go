package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestSetLevel(t *testing.T) {
	defer SetLevel(LevelInfo)

	tests := []struct {
		in   string
		want string
	}{
		{"debug", "debug"},
		{"WARN", "warn"},
		{"error", "error"},
		{"info", "info"},
		{"verbose", "info"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			SetLevel(tt.in)
			assert.Equal(t, tt.want, Level())
		})
	}
}

func TestSetDefault(t *testing.T) {
	prev := Default()
	defer SetDefault(prev)

	core, logs := observer.New(zap.InfoLevel)
	SetDefault(zap.New(core))
	Named("pregel").Info("superstep", zap.Int(FieldStep, 2))

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		assert.Equal(t, "pregel", entries[0].LoggerName)
		assert.EqualValues(t, 2, entries[0].ContextMap()[FieldStep])
	}

	SetDefault(nil)
	assert.NotNil(t, Default())
}

func TestNew_Encodings(t *testing.T) {
	assert.NotNil(t, New(EncodingJSON))
	assert.NotNil(t, New("unknown"))
}
