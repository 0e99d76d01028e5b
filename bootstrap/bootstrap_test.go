package bootstrap

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/najoast/actormesh/config"
	"github.com/najoast/actormesh/core"
	"github.com/najoast/actormesh/identity"
	"github.com/pingcap/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, s)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type testService struct {
	name     string
	rec      *recorder
	startErr error
	stopErr  error
}

func (s *testService) Name() string { return s.name }

func (s *testService) Start(context.Context) error {
	s.rec.add("start " + s.name)
	return s.startErr
}

func (s *testService) Stop(context.Context) error {
	s.rec.add("stop " + s.name)
	return s.stopErr
}

func (s *testService) Health(context.Context) (HealthStatus, error) {
	if s.stopErr != nil {
		return HealthStatus{}, s.stopErr
	}
	return HealthStatus{State: HealthHealthy}, nil
}

func TestContainer(t *testing.T) {
	c := NewContainer()
	type greeting string
	require.NoError(t, c.Supply(greeting("hello")))
	require.NoError(t, c.Provide(func(g greeting) []string { return []string{string(g), "world"} }))

	var words []string
	require.NoError(t, c.Resolve(&words))
	require.Equal(t, []string{"hello", "world"}, words)

	called := false
	require.NoError(t, c.Invoke(func(g greeting) { called = g == "hello" }))
	require.True(t, called)

	var missing *core.System
	require.Error(t, c.Resolve(&missing))
	require.Error(t, c.Resolve(missing))
	require.Error(t, c.Supply(nil))
}

func TestLifecycleOrder(t *testing.T) {
	rec := &recorder{}
	lm := NewLifecycleManager()
	var events []string
	lm.AddListener(func(e LifecycleEvent) {
		if e.Type == EventServiceStarted || e.Type == EventServiceStopped {
			events = append(events, e.Type+" "+e.Service)
		}
	})

	require.NoError(t, lm.Register("system", &testService{name: "system", rec: rec}, "node"))
	require.NoError(t, lm.Register("node", &testService{name: "node", rec: rec}, "config"))
	require.NoError(t, lm.Register("config", &testService{name: "config", rec: rec}))
	require.Error(t, lm.Register("config", &testService{name: "config", rec: rec}))
	require.Equal(t, []string{"config", "node", "system"}, lm.Services())

	ctx := context.Background()
	require.NoError(t, lm.Start(ctx))
	require.True(t, lm.IsStarted())
	require.Error(t, lm.Register("late", &testService{name: "late", rec: rec}))

	health, err := lm.Health(ctx)
	require.NoError(t, err)
	require.Len(t, health, 3)
	require.Equal(t, HealthHealthy, health["node"].State)

	require.NoError(t, lm.Stop(ctx))
	require.NoError(t, lm.Stop(ctx))
	require.Equal(t, []string{
		"start config", "start node", "start system",
		"stop system", "stop node", "stop config",
	}, rec.list())
	require.Equal(t, []string{
		"service.started config", "service.started node", "service.started system",
		"service.stopped system", "service.stopped node", "service.stopped config",
	}, events)
}

func TestLifecycleStartFailureRollsBack(t *testing.T) {
	rec := &recorder{}
	lm := NewLifecycleManager()
	boom := errors.New("boom")
	require.NoError(t, lm.Register("a", &testService{name: "a", rec: rec}))
	require.NoError(t, lm.Register("b", &testService{name: "b", rec: rec, startErr: boom}, "a"))

	err := lm.Start(context.Background())
	var appErr *ApplicationError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "b", appErr.Service)
	require.Equal(t, boom, errors.Cause(appErr))
	require.False(t, lm.IsStarted())
	require.Equal(t, []string{"start a", "start b", "stop a"}, rec.list())
}

func TestLifecycleStopCollectsErrors(t *testing.T) {
	rec := &recorder{}
	lm := NewLifecycleManager()
	require.NoError(t, lm.Register("a", &testService{name: "a", rec: rec, stopErr: errors.New("a failed")}))
	require.NoError(t, lm.Register("b", &testService{name: "b", rec: rec, stopErr: errors.New("b failed")}, "a"))
	require.NoError(t, lm.Start(context.Background()))

	health, err := lm.Health(context.Background())
	require.NoError(t, err)
	require.Equal(t, HealthUnhealthy, health["a"].State)

	err = lm.Stop(context.Background())
	require.ErrorContains(t, err, "a failed")
	require.ErrorContains(t, err, "b failed")
	require.Equal(t, []string{"start a", "start b", "stop b", "stop a"}, rec.list())
}

func TestLifecycleDependencyErrors(t *testing.T) {
	rec := &recorder{}
	lm := NewLifecycleManager()
	require.NoError(t, lm.Register("a", &testService{name: "a", rec: rec}, "b"))
	require.NoError(t, lm.Register("b", &testService{name: "b", rec: rec}, "a"))
	require.ErrorContains(t, lm.Start(context.Background()), "circular")

	lm = NewLifecycleManager()
	require.NoError(t, lm.Register("a", &testService{name: "a", rec: rec}, "ghost"))
	require.ErrorContains(t, lm.Start(context.Background()), "ghost")
	require.Empty(t, rec.list())
}

func TestApplicationRunUntilContextDone(t *testing.T) {
	rec := &recorder{}
	app := NewApplication()
	require.NoError(t, app.Register(&testService{name: "svc", rec: rec}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	require.Eventually(t, func() bool { return app.LifecycleManager().IsStarted() }, time.Second, 5*time.Millisecond)
	require.Error(t, app.Start(context.Background()))
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("application did not shut down")
	}
	require.Equal(t, []string{"start svc", "stop svc"}, rec.list())
	require.NoError(t, app.Shutdown(context.Background()))
}

type noop struct{}

func (noop) Receive(*core.Context, any) (any, error) { return nil, nil }

func TestProvideDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"node:\n  identity_file: "+filepath.Join(dir, "node.key")+"\nactor:\n  mailbox_capacity: 8\n  send_policy: fail\n"), 0o600))

	cfg, err := config.NewLoader().Load(path)
	require.NoError(t, err)
	require.NoError(t, InitLogging(cfg))
	c := NewContainer()
	require.NoError(t, ProvideDefaults(c, cfg))

	var resolved *config.Config
	require.NoError(t, c.Resolve(&resolved))
	require.Equal(t, 8, resolved.Actor.MailboxCapacity)

	var ident *identity.Identity
	require.NoError(t, c.Resolve(&ident))
	reloaded, err := identity.Load(cfg.Node.IdentityFile)
	require.NoError(t, err)
	require.Equal(t, ident.ID(), reloaded.ID())

	var system *core.System
	require.NoError(t, c.Resolve(&system))
	ref, err := system.Spawn(noop{})
	require.NoError(t, err)
	require.Equal(t, 8, ref.Stats().MailboxCapacity)

	svc := NewSystemService(system, time.Second)
	status, err := svc.Health(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, status.Data["actors"])
	require.NoError(t, svc.Stop(context.Background()))
	require.Equal(t, core.StateStopped, ref.State())

	var registry *prometheus.Registry
	require.NoError(t, c.Resolve(&registry))
	require.NotNil(t, registry)
}

func TestMetricsService(t *testing.T) {
	svc := NewMetricsService("127.0.0.1:0", "", NewMetricsRegistry())
	ctx := context.Background()
	require.NoError(t, svc.Start(ctx))

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	resp, err := client.Get("http://" + svc.Addr() + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), "go_goroutines")

	status, err := svc.Health(ctx)
	require.NoError(t, err)
	require.Equal(t, HealthHealthy, status.State)
	require.NoError(t, svc.Stop(ctx))
}

func TestConfigWatcherService(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: info\n"), 0o600))

	svc, err := NewConfigWatcherService(path, config.NewLoader())
	require.NoError(t, err)
	require.NoError(t, svc.Start(context.Background()))
	status, err := svc.Health(context.Background())
	require.NoError(t, err)
	require.Equal(t, "info", status.Message)
	require.NoError(t, svc.Stop(context.Background()))
}
