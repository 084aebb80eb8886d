package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapLogger_Levels(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	l := Wrap(zap.New(core))

	l.Debugf("hidden %d", 1)
	l.Infof("leased %d events", 3)
	l.Warnf("lease lost: %s", "evt-1")
	l.Errorf("sweep failed: %v", "boom")
	l.Info("janitor started")

	entries := logs.AllUntimed()
	require.Len(t, entries, 4)
	assert.Equal(t, "leased 3 events", entries[0].Message)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "sweep failed: boom", entries[2].Message)
	assert.Equal(t, "janitor started", entries[3].Message)
}

func TestNew_InvalidLevel(t *testing.T) {
	_, err := New("loud")
	assert.Error(t, err)

	l, err := New("debug")
	require.NoError(t, err)
	assert.NotNil(t, l)
}
