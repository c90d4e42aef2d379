package logging

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigure(t *testing.T) {
	logger := Configure(false)
	require.NotNil(t, logger)
	assert.False(t, logger.Enabled(context.Background(), slog.LevelDebug))

	debugLogger := Configure(true)
	require.NotNil(t, debugLogger)
	assert.True(t, debugLogger.Enabled(context.Background(), slog.LevelDebug))
}

func TestHexDump(t *testing.T) {
	out := HexDump([]byte{0xDE, 0xAD, 0xBE, 0xEF})
	assert.True(t, strings.Contains(out, "de ad be ef"))
}
