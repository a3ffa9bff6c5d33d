package obslog

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestReplaceRestoresPrevious(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	restore := Replace(zap.New(core))

	L().Info("room_created", zap.String("room_id", "GM-1"))
	require.Equal(t, 1, logs.Len())
	require.Equal(t, "GM-1", logs.All()[0].ContextMap()["room_id"])

	restore()
	L().Info("ignored")
	require.Equal(t, 1, logs.Len())
}

func TestBuildWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "app.log")
	logger, err := Build(Options{Level: "debug", ToFile: true, File: path, Format: "json"})
	require.NoError(t, err)
	logger.Debug("file_sink_ready")
	require.NoError(t, logger.Sync())
	require.FileExists(t, path)
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, zapcore.WarnLevel, parseLevel("WARNING"))
	require.Equal(t, zapcore.InfoLevel, parseLevel("bogus"))
}
