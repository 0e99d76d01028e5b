// Package config provides configuration management for actormesh nodes
package config

import (
	"time"
)

// Environment represents the deployment environment
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// String returns the string representation of Environment
func (e Environment) String() string {
	return string(e)
}

// IsValid checks if the environment is valid
func (e Environment) IsValid() bool {
	switch e {
	case EnvDevelopment, EnvTesting, EnvStaging, EnvProduction:
		return true
	default:
		return false
	}
}

// LogLevel represents the logging level
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
	LogLevelFatal LogLevel = "fatal"
)

// String returns the string representation of LogLevel
func (l LogLevel) String() string {
	return string(l)
}

// IsValid checks if the log level is valid
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError, LogLevelFatal:
		return true
	default:
		return false
	}
}

// Config represents the complete node configuration
type Config struct {
	App       AppConfig       `yaml:"app" json:"app"`
	Log       LogConfig       `yaml:"log" json:"log"`
	Node      NodeConfig      `yaml:"node" json:"node"`
	Discovery DiscoveryConfig `yaml:"discovery" json:"discovery"`
	DHT       DHTConfig       `yaml:"dht" json:"dht"`
	Actor     ActorConfig     `yaml:"actor" json:"actor"`
	Metrics   MetricsConfig   `yaml:"metrics" json:"metrics"`
}

// AppConfig contains application-level configuration
type AppConfig struct {
	Name        string      `yaml:"name" json:"name"`
	Environment Environment `yaml:"environment" json:"environment"`
	Debug       bool        `yaml:"debug" json:"debug"`
}

// LogConfig contains logging configuration. Level is the only setting that
// takes effect on hot reload.
type LogConfig struct {
	Level LogLevel `yaml:"level" json:"level"`

	// json or text
	Format string `yaml:"format" json:"format"`

	// Log file path; empty logs to stderr
	File string `yaml:"file,omitempty" json:"file,omitempty"`

	// Rotation limits of File, in MB and days
	MaxSize    int `yaml:"max_size" json:"max_size"`
	MaxDays    int `yaml:"max_days" json:"max_days"`
	MaxBackups int `yaml:"max_backups" json:"max_backups"`

	DisableTimestamp bool `yaml:"disable_timestamp" json:"disable_timestamp"`
}

// NodeConfig contains the identity and transport settings of the node
type NodeConfig struct {
	// Private key file, created on first start
	IdentityFile string `yaml:"identity_file" json:"identity_file"`

	// Listen addresses such as quic://0.0.0.0:4001 and tcp://0.0.0.0:4001
	ListenAddrs []string `yaml:"listen_addrs" json:"listen_addrs"`

	// Peers dialed at startup, as <scheme>://<host:port>/pk:<hex>
	BootstrapPeers []string `yaml:"bootstrap_peers,omitempty" json:"bootstrap_peers,omitempty"`

	// Dial attempts per bootstrap peer; 0 retries until shutdown
	BootstrapRetries uint64 `yaml:"bootstrap_retries" json:"bootstrap_retries"`

	DialTimeout      time.Duration `yaml:"dial_timeout" json:"dial_timeout"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout" json:"handshake_timeout"`
	RequestTimeout   time.Duration `yaml:"request_timeout" json:"request_timeout"`

	// Entries of the name resolution cache
	ResolveCacheSize int `yaml:"resolve_cache_size" json:"resolve_cache_size"`
}

// DiscoveryConfig contains local network discovery settings
type DiscoveryConfig struct {
	MDNS             bool          `yaml:"mdns" json:"mdns"`
	ServiceName      string        `yaml:"service_name" json:"service_name"`
	AnnounceInterval time.Duration `yaml:"announce_interval" json:"announce_interval"`
}

// DHTConfig contains the distributed directory settings
type DHTConfig struct {
	K              int           `yaml:"k" json:"k"`
	Alpha          int           `yaml:"alpha" json:"alpha"`
	RecordTTL      time.Duration `yaml:"record_ttl" json:"record_ttl"`
	MaxRecords     int           `yaml:"max_records" json:"max_records"`
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
}

// ActorConfig contains actor system configuration
type ActorConfig struct {
	PoolSize        int `yaml:"pool_size" json:"pool_size"`
	MailboxCapacity int `yaml:"mailbox_capacity" json:"mailbox_capacity"`

	// block or fail
	SendPolicy string `yaml:"send_policy" json:"send_policy"`

	// Bound on graceful pool and system shutdown
	StopTimeout time.Duration `yaml:"stop_timeout" json:"stop_timeout"`
}

// MetricsConfig contains the prometheus endpoint settings
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Address string `yaml:"address" json:"address"`
	Path    string `yaml:"path" json:"path"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "actormesh",
			Environment: EnvDevelopment,
		},
		Log: LogConfig{
			Level:      LogLevelInfo,
			Format:     "text",
			MaxSize:    300,
			MaxDays:    7,
			MaxBackups: 3,
		},
		Node: NodeConfig{
			IdentityFile:     "actormesh.key",
			ListenAddrs:      []string{"quic://0.0.0.0:0", "tcp://0.0.0.0:0"},
			BootstrapRetries: 0,
			DialTimeout:      10 * time.Second,
			HandshakeTimeout: 10 * time.Second,
			RequestTimeout:   30 * time.Second,
			ResolveCacheSize: 1024,
		},
		Discovery: DiscoveryConfig{
			MDNS:             true,
			ServiceName:      "_actormesh._udp.local.",
			AnnounceInterval: 10 * time.Second,
		},
		DHT: DHTConfig{
			K:              20,
			Alpha:          3,
			RecordTTL:      36 * time.Hour,
			MaxRecords:     4096,
			RequestTimeout: 10 * time.Second,
		},
		Actor: ActorConfig{
			PoolSize:        4,
			MailboxCapacity: 16,
			SendPolicy:      "block",
			StopTimeout:     10 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: "127.0.0.1:9090",
			Path:    "/metrics",
		},
	}
}

// Clone returns a deep copy of c.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Node.ListenAddrs = append([]string(nil), c.Node.ListenAddrs...)
	clone.Node.BootstrapPeers = append([]string(nil), c.Node.BootstrapPeers...)
	return &clone
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return ErrInvalidAppName
	}
	if !c.App.Environment.IsValid() {
		return ErrInvalidEnvironment
	}

	if !c.Log.Level.IsValid() {
		return ErrInvalidLogLevel
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return ErrInvalidLogFormat
	}

	if len(c.Node.ListenAddrs) == 0 {
		return ErrNoListenAddrs
	}
	if c.Node.DialTimeout <= 0 || c.Node.RequestTimeout <= 0 {
		return ErrInvalidTimeout
	}

	if c.DHT.K <= 0 || c.DHT.Alpha <= 0 || c.DHT.Alpha > c.DHT.K {
		return ErrInvalidDHTParams
	}

	if c.Actor.PoolSize <= 0 {
		return ErrInvalidPoolSize
	}
	if c.Actor.MailboxCapacity <= 0 {
		return ErrInvalidMailboxSize
	}
	switch c.Actor.SendPolicy {
	case "block", "fail":
	default:
		return ErrInvalidSendPolicy
	}

	if c.Metrics.Enabled && c.Metrics.Address == "" {
		return ErrInvalidMetricsAddr
	}
	return nil
}

// IsDevelopment returns true if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == EnvDevelopment
}

// IsProduction returns true if the environment is production
func (c *Config) IsProduction() bool {
	return c.App.Environment == EnvProduction
}

// IsDebugEnabled returns true if debug mode is enabled
func (c *Config) IsDebugEnabled() bool {
	return c.App.Debug || c.Log.Level == LogLevelDebug
}
