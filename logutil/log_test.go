package logutil

import (
	"testing"

	"github.com/najoast/actormesh/config"
	"github.com/pingcap/log"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zapcore"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestInitLoggerAndReload(t *testing.T) {
	t.Cleanup(func() { require.NoError(t, InitLogger(config.DefaultConfig().Log)) })

	cfg := config.DefaultConfig().Log
	cfg.Level = config.LogLevelWarn
	cfg.Format = "json"
	require.NoError(t, InitLogger(cfg))
	require.Equal(t, zapcore.WarnLevel, log.GetLevel())

	oldConfig := config.DefaultConfig()
	oldConfig.Log.Level = config.LogLevelWarn
	newConfig := config.DefaultConfig()
	newConfig.Log.Level = config.LogLevelDebug
	ReloadLevel(oldConfig, newConfig)
	require.Equal(t, zapcore.DebugLevel, log.GetLevel())

	require.Error(t, SetLevel("loud"))
	require.Equal(t, zapcore.DebugLevel, log.GetLevel())
}
