package config

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pingcap/errors"
	"gopkg.in/yaml.v3"
)

// ConfigFormat represents the configuration file format
type ConfigFormat string

const (
	FormatYAML ConfigFormat = "yaml"
	FormatJSON ConfigFormat = "json"
)

// DefaultEnvPrefix prefixes every environment override, as in
// ACTORMESH_LOG_LEVEL.
const DefaultEnvPrefix = "ACTORMESH"

// Loader handles configuration loading from files and the environment.
// Values are layered: defaults, then the file, then the environment.
type Loader struct {
	searchPaths   []string
	envPrefix     string
	defaultConfig *Config
	lookupEnv     func(string) (string, bool)
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	paths := []string{".", "./config", "./configs", "/etc/actormesh"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".actormesh"))
	}
	return &Loader{
		searchPaths:   paths,
		envPrefix:     DefaultEnvPrefix,
		defaultConfig: DefaultConfig(),
		lookupEnv:     os.LookupEnv,
	}
}

// SetSearchPaths sets the configuration file search paths
func (l *Loader) SetSearchPaths(paths []string) *Loader {
	l.searchPaths = paths
	return l
}

// SetEnvPrefix sets the environment variable prefix
func (l *Loader) SetEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// SetDefaultConfig sets the configuration the file and environment are
// layered on.
func (l *Loader) SetDefaultConfig(config *Config) *Loader {
	l.defaultConfig = config
	return l
}

func (l *Loader) defaults() *Config {
	if l.defaultConfig == nil {
		return DefaultConfig()
	}
	return l.defaultConfig.Clone()
}

// Load loads filename, or discovers a file in the search paths when
// filename is empty. Without any file the defaults are used.
func (l *Loader) Load(filename string) (*Config, error) {
	if filename != "" {
		return l.LoadFromFile(filename)
	}
	return l.AutoLoad()
}

// LoadFromFile loads configuration from a specific file
func (l *Loader) LoadFromFile(filename string) (*Config, error) {
	format, err := formatOf(filename)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Annotatef(err, "read config file %s", filename)
	}
	config, err := l.parseConfig(data, format)
	if err != nil {
		return nil, errors.Annotatef(err, "parse config file %s", filename)
	}
	return l.finish(config)
}

// LoadFromReader loads configuration from an io.Reader
func (l *Loader) LoadFromReader(reader io.Reader, format ConfigFormat) (*Config, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, errors.Annotate(err, "read configuration data")
	}
	config, err := l.parseConfig(data, format)
	if err != nil {
		return nil, err
	}
	return l.finish(config)
}

// AutoLoad discovers a configuration file in the search paths and loads it,
// falling back to the defaults when none exists.
func (l *Loader) AutoLoad() (*Config, error) {
	configFile, err := l.findConfigFile()
	if errors.Cause(err) == ErrConfigFileNotFound {
		return l.finish(l.defaults())
	}
	if err != nil {
		return nil, err
	}
	return l.LoadFromFile(configFile)
}

func (l *Loader) finish(config *Config) (*Config, error) {
	if err := l.loadFromEnv(config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Annotate(err, "configuration validation failed")
	}
	return config, nil
}

func formatOf(filename string) (ConfigFormat, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", errors.Annotate(ErrUnsupportedFormat, filename)
	}
}

func (l *Loader) findConfigFile() (string, error) {
	filenames := []string{"actormesh.yaml", "actormesh.yml", "actormesh.json"}
	for _, searchPath := range l.searchPaths {
		for _, filename := range filenames {
			fullPath := filepath.Join(searchPath, filename)
			if _, err := os.Stat(fullPath); err == nil {
				return fullPath, nil
			}
		}
	}
	return "", ErrConfigFileNotFound
}

// parseConfig decodes data over a copy of the defaults so fields absent from
// the file keep their default values.
func (l *Loader) parseConfig(data []byte, format ConfigFormat) (*Config, error) {
	config := l.defaults()
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, errors.Annotate(err, "parse YAML config")
		}
	case FormatJSON:
		if err := json.Unmarshal(data, config); err != nil {
			return nil, errors.Annotate(err, "parse JSON config")
		}
	default:
		return nil, errors.Annotate(ErrUnsupportedFormat, string(format))
	}
	return config, nil
}

// loadFromEnv applies environment overrides. List values are comma
// separated.
func (l *Loader) loadFromEnv(config *Config) error {
	env := envReader{prefix: l.envPrefix, lookup: l.lookupEnv}

	env.str("APP_NAME", &config.App.Name)
	if val, ok := env.get("APP_ENVIRONMENT"); ok {
		config.App.Environment = Environment(val)
	}
	env.boolean("APP_DEBUG", &config.App.Debug)

	if val, ok := env.get("LOG_LEVEL"); ok {
		config.Log.Level = LogLevel(strings.ToLower(val))
	}
	env.str("LOG_FORMAT", &config.Log.Format)
	env.str("LOG_FILE", &config.Log.File)

	env.str("NODE_IDENTITY_FILE", &config.Node.IdentityFile)
	env.list("NODE_LISTEN_ADDRS", &config.Node.ListenAddrs)
	env.list("NODE_BOOTSTRAP_PEERS", &config.Node.BootstrapPeers)
	env.duration("NODE_DIAL_TIMEOUT", &config.Node.DialTimeout)
	env.duration("NODE_REQUEST_TIMEOUT", &config.Node.RequestTimeout)

	env.boolean("DISCOVERY_MDNS", &config.Discovery.MDNS)
	env.str("DISCOVERY_SERVICE_NAME", &config.Discovery.ServiceName)

	env.integer("DHT_K", &config.DHT.K)
	env.integer("DHT_ALPHA", &config.DHT.Alpha)
	env.duration("DHT_RECORD_TTL", &config.DHT.RecordTTL)

	env.integer("ACTOR_POOL_SIZE", &config.Actor.PoolSize)
	env.integer("ACTOR_MAILBOX_CAPACITY", &config.Actor.MailboxCapacity)
	env.str("ACTOR_SEND_POLICY", &config.Actor.SendPolicy)
	env.duration("ACTOR_STOP_TIMEOUT", &config.Actor.StopTimeout)

	env.boolean("METRICS_ENABLED", &config.Metrics.Enabled)
	env.str("METRICS_ADDRESS", &config.Metrics.Address)

	return env.err
}

// envReader collects the first malformed override instead of ignoring it.
type envReader struct {
	prefix string
	lookup func(string) (string, bool)
	err    error
}

func (e *envReader) get(key string) (string, bool) {
	val, ok := e.lookup(e.prefix + "_" + key)
	if !ok || val == "" {
		return "", false
	}
	return val, true
}

func (e *envReader) fail(key string, err error) {
	if e.err == nil {
		e.err = errors.Annotatef(ErrEnvironmentVarError, "%s_%s: %v", e.prefix, key, err)
	}
}

func (e *envReader) str(key string, dst *string) {
	if val, ok := e.get(key); ok {
		*dst = val
	}
}

func (e *envReader) list(key string, dst *[]string) {
	val, ok := e.get(key)
	if !ok {
		return
	}
	var out []string
	for _, s := range strings.Split(val, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	*dst = out
}

func (e *envReader) boolean(key string, dst *bool) {
	val, ok := e.get(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		e.fail(key, err)
		return
	}
	*dst = b
}

func (e *envReader) integer(key string, dst *int) {
	val, ok := e.get(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		e.fail(key, err)
		return
	}
	*dst = n
}

func (e *envReader) duration(key string, dst *time.Duration) {
	val, ok := e.get(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		e.fail(key, err)
		return
	}
	*dst = d
}
