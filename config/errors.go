package config

import "github.com/pingcap/errors"

// Configuration validation errors
var (
	ErrInvalidAppName     = errors.New("invalid application name")
	ErrInvalidEnvironment = errors.New("invalid environment")
	ErrInvalidLogLevel    = errors.New("invalid log level")
	ErrInvalidLogFormat   = errors.New("invalid log format")
	ErrNoListenAddrs      = errors.New("no listen addresses")
	ErrInvalidTimeout     = errors.New("invalid timeout")
	ErrInvalidDHTParams   = errors.New("invalid dht parameters")
	ErrInvalidPoolSize    = errors.New("invalid pool size")
	ErrInvalidMailboxSize = errors.New("invalid mailbox capacity")
	ErrInvalidSendPolicy  = errors.New("invalid send policy")
	ErrInvalidMetricsAddr = errors.New("invalid metrics address")
)

// Configuration loading errors
var (
	ErrConfigFileNotFound  = errors.New("configuration file not found")
	ErrUnsupportedFormat   = errors.New("unsupported configuration format")
	ErrEnvironmentVarError = errors.New("environment variable error")
)
