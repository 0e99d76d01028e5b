package bootstrap

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/najoast/actormesh/config"
	"github.com/najoast/actormesh/core"
	"github.com/najoast/actormesh/logutil"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// SystemService shuts the actor system down when the application stops.
type SystemService struct {
	system      *core.System
	stopTimeout time.Duration
}

// NewSystemService wraps system. stopTimeout bounds Shutdown in addition to
// the lifecycle context; zero means no extra bound.
func NewSystemService(system *core.System, stopTimeout time.Duration) *SystemService {
	return &SystemService{system: system, stopTimeout: stopTimeout}
}

func (s *SystemService) Name() string { return "actor-system" }

func (s *SystemService) Start(context.Context) error { return nil }

func (s *SystemService) Stop(ctx context.Context) error {
	if s.stopTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.stopTimeout)
		defer cancel()
	}
	return s.system.Shutdown(ctx)
}

func (s *SystemService) Health(context.Context) (HealthStatus, error) {
	stats := s.system.Stats()
	var depth, dropped int64
	for _, st := range stats {
		depth += int64(st.MailboxDepth)
		dropped += int64(st.MessagesDropped)
	}
	return HealthStatus{
		State: HealthHealthy,
		Data: map[string]interface{}{
			"actors":        len(stats),
			"mailbox_depth": depth,
			"dropped":       dropped,
		},
	}, nil
}

// System returns the wrapped system.
func (s *SystemService) System() *core.System { return s.system }

// MetricsService serves a prometheus registry over HTTP.
type MetricsService struct {
	addr     string
	path     string
	registry *prometheus.Registry

	listener net.Listener
	server   *http.Server
	done     chan struct{}
}

// NewMetricsService serves registry at path on addr.
func NewMetricsService(addr, path string, registry *prometheus.Registry) *MetricsService {
	if path == "" {
		path = "/metrics"
	}
	return &MetricsService{addr: addr, path: path, registry: registry}
}

func (s *MetricsService) Name() string { return "metrics" }

func (s *MetricsService) Start(context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return errors.Annotatef(err, "listen metrics on %s", s.addr)
	}
	mux := http.NewServeMux()
	mux.Handle(s.path, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))
	s.listener = ln
	s.server = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server failed", zap.Error(err))
		}
	}()
	log.Info("serving metrics", zap.String("addr", ln.Addr().String()), zap.String("path", s.path))
	return nil
}

func (s *MetricsService) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	err := s.server.Shutdown(ctx)
	<-s.done
	return errors.Trace(err)
}

func (s *MetricsService) Health(context.Context) (HealthStatus, error) {
	if s.listener == nil {
		return HealthStatus{State: HealthStopped}, nil
	}
	return HealthStatus{State: HealthHealthy, Message: s.listener.Addr().String()}, nil
}

// Addr returns the bound address once started.
func (s *MetricsService) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// ConfigWatcherService hot-reloads the configuration file and applies log
// level changes.
type ConfigWatcherService struct {
	watcher *config.Watcher
}

// NewConfigWatcherService watches file with loader.
func NewConfigWatcherService(file string, loader *config.Loader) (*ConfigWatcherService, error) {
	w, err := config.NewWatcher(file, loader)
	if err != nil {
		return nil, err
	}
	w.OnConfigChange(logutil.ReloadLevel)
	return &ConfigWatcherService{watcher: w}, nil
}

func (s *ConfigWatcherService) Name() string { return "config-watcher" }

func (s *ConfigWatcherService) Start(context.Context) error { return s.watcher.Start() }

func (s *ConfigWatcherService) Stop(context.Context) error { return s.watcher.Stop() }

func (s *ConfigWatcherService) Health(context.Context) (HealthStatus, error) {
	return HealthStatus{State: HealthHealthy, Message: string(s.watcher.GetConfig().Log.Level)}, nil
}

// Watcher returns the wrapped watcher.
func (s *ConfigWatcherService) Watcher() *config.Watcher { return s.watcher }
