// Package logutil initialises the global pingcap logger from configuration.
package logutil

import (
	"github.com/najoast/actormesh/config"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// InitLogger replaces the global logger according to cfg.
func InitLogger(cfg config.LogConfig, opts ...zap.Option) error {
	conf := &log.Config{
		Level:            string(cfg.Level),
		Format:           cfg.Format,
		DisableTimestamp: cfg.DisableTimestamp,
		File: log.FileLogConfig{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSize,
			MaxDays:    cfg.MaxDays,
			MaxBackups: cfg.MaxBackups,
		},
	}
	lg, props, err := log.InitLogger(conf, opts...)
	if err != nil {
		return errors.Annotate(err, "init logger")
	}
	log.ReplaceGlobals(lg, props)
	return nil
}

// SetLevel changes the level of the global logger in place.
func SetLevel(level config.LogLevel) error {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return errors.Annotatef(err, "parse log level %q", level)
	}
	log.SetLevel(l)
	return nil
}

// ReloadLevel is a config.ConfigChangeCallback that applies level changes.
func ReloadLevel(oldConfig, newConfig *config.Config) {
	if oldConfig.Log.Level == newConfig.Log.Level {
		return
	}
	if err := SetLevel(newConfig.Log.Level); err != nil {
		log.Warn("ignoring log level change", zap.Error(err))
		return
	}
	log.Info("log level changed",
		zap.Stringer("from", oldConfig.Log.Level), zap.Stringer("to", newConfig.Log.Level))
}
