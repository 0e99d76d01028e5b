package bootstrap

import (
	"github.com/najoast/actormesh/config"
	"github.com/najoast/actormesh/core"
	"github.com/najoast/actormesh/dht"
	"github.com/najoast/actormesh/identity"
	"github.com/najoast/actormesh/logutil"
	"github.com/najoast/actormesh/network"
	"github.com/pingcap/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// ProvideDefaults supplies cfg and registers the constructors shared by
// every node process: the identity, the metrics registry and the actor
// system.
func ProvideDefaults(c *Container, cfg *config.Config) error {
	if err := c.Supply(cfg); err != nil {
		return err
	}
	for _, ctor := range []interface{}{
		NewIdentity,
		NewMetricsRegistry,
		NewSystem,
	} {
		if err := c.Provide(ctor); err != nil {
			return err
		}
	}
	return nil
}

// NewIdentity loads or creates the key file named in the configuration. An
// empty file name yields an ephemeral identity.
func NewIdentity(cfg *config.Config) (*identity.Identity, error) {
	if cfg.Node.IdentityFile == "" {
		return identity.Generate()
	}
	return identity.Load(cfg.Node.IdentityFile)
}

// NewSystem creates the actor system with the configured spawn defaults.
func NewSystem(cfg *config.Config) (*core.System, error) {
	policy, err := core.ParseSendPolicy(cfg.Actor.SendPolicy)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return core.NewSystem(
		core.WithMailboxCapacity(cfg.Actor.MailboxCapacity),
		core.WithSendPolicy(policy),
	), nil
}

// NewMetricsRegistry creates a registry holding the runtime and process
// collectors plus the collectors of the core, network and dht packages.
func NewMetricsRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	core.InitMetrics(registry)
	network.InitMetrics(registry)
	dht.InitMetrics(registry)
	return registry
}

// InitLogging applies the log section of cfg to the global logger.
func InitLogging(cfg *config.Config) error {
	return logutil.InitLogger(cfg.Log)
}
