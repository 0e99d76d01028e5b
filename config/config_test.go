package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pingcap/errors"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func envLoader(env map[string]string) *Loader {
	l := NewLoader()
	l.lookupEnv = func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
	return l
}

func TestDefaultConfigIsValid(t *testing.T) {
	c := DefaultConfig()
	require.NoError(t, c.Validate())
	require.Equal(t, 4, c.Actor.PoolSize)
	require.Equal(t, 16, c.Actor.MailboxCapacity)
	require.Equal(t, "block", c.Actor.SendPolicy)
	require.Equal(t, 20, c.DHT.K)
	require.Equal(t, 3, c.DHT.Alpha)
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"empty app name", func(c *Config) { c.App.Name = "" }, ErrInvalidAppName},
		{"bad environment", func(c *Config) { c.App.Environment = "moon" }, ErrInvalidEnvironment},
		{"bad log level", func(c *Config) { c.Log.Level = "trace" }, ErrInvalidLogLevel},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, ErrInvalidLogFormat},
		{"no listen addrs", func(c *Config) { c.Node.ListenAddrs = nil }, ErrNoListenAddrs},
		{"zero dial timeout", func(c *Config) { c.Node.DialTimeout = 0 }, ErrInvalidTimeout},
		{"alpha above k", func(c *Config) { c.DHT.Alpha = c.DHT.K + 1 }, ErrInvalidDHTParams},
		{"zero pool", func(c *Config) { c.Actor.PoolSize = 0 }, ErrInvalidPoolSize},
		{"zero mailbox", func(c *Config) { c.Actor.MailboxCapacity = 0 }, ErrInvalidMailboxSize},
		{"bad send policy", func(c *Config) { c.Actor.SendPolicy = "drop" }, ErrInvalidSendPolicy},
		{"metrics without address", func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.Address = ""
		}, ErrInvalidMetricsAddr},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.mutate(c)
			require.Equal(t, tt.want, c.Validate())
		})
	}
}

func TestLoaderYAMLKeepsDefaults(t *testing.T) {
	path := writeFile(t, t.TempDir(), "node.yaml", `
app:
  name: yaml-node
  environment: production
node:
  listen_addrs: ["tcp://127.0.0.1:4001"]
  bootstrap_peers:
    - quic://10.0.0.1:4001/pk:`+strings.Repeat("ab", 32)+`
  dial_timeout: 3s
actor:
  pool_size: 8
`)
	c, err := envLoader(nil).LoadFromFile(path)
	require.NoError(t, err)
	require.Equal(t, "yaml-node", c.App.Name)
	require.Equal(t, EnvProduction, c.App.Environment)
	require.Equal(t, []string{"tcp://127.0.0.1:4001"}, c.Node.ListenAddrs)
	require.Len(t, c.Node.BootstrapPeers, 1)
	require.Equal(t, 3*time.Second, c.Node.DialTimeout)
	require.Equal(t, 8, c.Actor.PoolSize)
	require.Equal(t, 16, c.Actor.MailboxCapacity, "untouched fields keep defaults")
	require.Equal(t, LogLevelInfo, c.Log.Level)

	require.Equal(t, []string{"quic://0.0.0.0:0", "tcp://0.0.0.0:0"}, DefaultConfig().Node.ListenAddrs)
}

func TestLoaderJSON(t *testing.T) {
	path := writeFile(t, t.TempDir(), "node.json", `{
	"app": {"name": "json-node"},
	"log": {"level": "debug", "format": "json"},
	"actor": {"mailbox_capacity": 64, "send_policy": "fail"}
}`)
	c, err := envLoader(nil).LoadFromFile(path)
	require.NoError(t, err)
	require.Equal(t, "json-node", c.App.Name)
	require.Equal(t, LogLevelDebug, c.Log.Level)
	require.Equal(t, "json", c.Log.Format)
	require.Equal(t, 64, c.Actor.MailboxCapacity)
	require.Equal(t, "fail", c.Actor.SendPolicy)
	require.True(t, c.IsDebugEnabled())
}

func TestLoaderRejects(t *testing.T) {
	dir := t.TempDir()

	_, err := envLoader(nil).LoadFromFile(writeFile(t, dir, "node.toml", "x = 1"))
	require.Equal(t, ErrUnsupportedFormat, errors.Cause(err))

	_, err = envLoader(nil).LoadFromFile(writeFile(t, dir, "bad.yaml", "actor: [unclosed"))
	require.Error(t, err)

	_, err = envLoader(nil).LoadFromFile(writeFile(t, dir, "invalid.yaml", "actor:\n  pool_size: -1\n"))
	require.Equal(t, ErrInvalidPoolSize, errors.Cause(err))

	_, err = envLoader(nil).LoadFromFile(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
}

func TestEnvironmentOverrides(t *testing.T) {
	path := writeFile(t, t.TempDir(), "node.yaml", "app:\n  name: base\nlog:\n  level: info\n")
	c, err := envLoader(map[string]string{
		"ACTORMESH_APP_NAME":             "from-env",
		"ACTORMESH_LOG_LEVEL":            "ERROR",
		"ACTORMESH_NODE_LISTEN_ADDRS":    "tcp://127.0.0.1:1, quic://127.0.0.1:2",
		"ACTORMESH_DISCOVERY_MDNS":       "false",
		"ACTORMESH_ACTOR_POOL_SIZE":      "2",
		"ACTORMESH_ACTOR_STOP_TIMEOUT":   "1s",
		"ACTORMESH_METRICS_ENABLED":      "true",
		"ACTORMESH_NODE_BOOTSTRAP_PEERS": "",
	}).LoadFromFile(path)
	require.NoError(t, err)
	require.Equal(t, "from-env", c.App.Name)
	require.Equal(t, LogLevelError, c.Log.Level)
	require.Equal(t, []string{"tcp://127.0.0.1:1", "quic://127.0.0.1:2"}, c.Node.ListenAddrs)
	require.False(t, c.Discovery.MDNS)
	require.Equal(t, 2, c.Actor.PoolSize)
	require.Equal(t, time.Second, c.Actor.StopTimeout)
	require.True(t, c.Metrics.Enabled)
	require.Empty(t, c.Node.BootstrapPeers)
}

func TestEnvironmentOverrideMalformed(t *testing.T) {
	_, err := envLoader(map[string]string{"ACTORMESH_ACTOR_POOL_SIZE": "many"}).Load("")
	require.Equal(t, ErrEnvironmentVarError, errors.Cause(err))
	require.Contains(t, err.Error(), "ACTORMESH_ACTOR_POOL_SIZE")
}

func TestEnvironmentPrefixFromProcess(t *testing.T) {
	t.Setenv("MESHTEST_APP_NAME", "process-env")
	c, err := NewLoader().SetSearchPaths(nil).SetEnvPrefix("MESHTEST").Load("")
	require.NoError(t, err)
	require.Equal(t, "process-env", c.App.Name)
}

func TestAutoLoad(t *testing.T) {
	dir := t.TempDir()
	loader := envLoader(nil).SetSearchPaths([]string{filepath.Join(dir, "missing"), dir})

	c, err := loader.AutoLoad()
	require.NoError(t, err)
	require.Equal(t, DefaultConfig().App.Name, c.App.Name)

	writeFile(t, dir, "actormesh.yml", "app:\n  name: auto-load\n")
	c, err = loader.AutoLoad()
	require.NoError(t, err)
	require.Equal(t, "auto-load", c.App.Name)
}

func TestWatcherReloads(t *testing.T) {
	path := writeFile(t, t.TempDir(), "watch.yaml", "log:\n  level: info\n")
	w, err := NewWatcher(path, envLoader(nil))
	require.NoError(t, err)
	defer func() { require.NoError(t, w.Stop()) }()
	require.Equal(t, LogLevelInfo, w.GetConfig().Log.Level)

	changed := make(chan LogLevel, 4)
	w.OnConfigChange(func(_, newConfig *Config) {
		select {
		case changed <- newConfig.Log.Level:
		default:
		}
	})
	w.OnConfigChange(func(_, _ *Config) { panic("callback failure is contained") })
	require.NoError(t, w.Start())

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o644))

	select {
	case level := <-changed:
		require.Equal(t, LogLevelDebug, level)
	case <-time.After(5 * time.Second):
		t.Fatal("configuration change was not detected")
	}
	require.Equal(t, LogLevelDebug, w.GetConfig().Log.Level)
}

func TestWatcherKeepsConfigOnBadReload(t *testing.T) {
	path := writeFile(t, t.TempDir(), "watch.yaml", "actor:\n  pool_size: 3\n")
	w, err := NewWatcher(path, envLoader(nil))
	require.NoError(t, err)
	defer func() { require.NoError(t, w.Stop()) }()

	require.NoError(t, os.WriteFile(path, []byte("actor:\n  pool_size: 0\n"), 0o644))
	require.Error(t, w.Reload())
	require.Equal(t, 3, w.GetConfig().Actor.PoolSize)

	_, err = NewWatcher(filepath.Join(t.TempDir(), "x.ini"), envLoader(nil))
	require.Equal(t, ErrUnsupportedFormat, errors.Cause(err))
}
