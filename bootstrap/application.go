package bootstrap

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

const defaultShutdownTimeout = 30 * time.Second

// Application owns the container and the lifecycle of one process.
type Application struct {
	container *Container
	lifecycle *DefaultLifecycleManager

	shutdownTimeout time.Duration
	signals         []os.Signal

	mutex   sync.Mutex
	running bool
}

// NewApplication creates an application with an empty container.
func NewApplication() *Application {
	return &Application{
		container:       NewContainer(),
		lifecycle:       NewLifecycleManager(),
		shutdownTimeout: defaultShutdownTimeout,
		signals:         []os.Signal{os.Interrupt, syscall.SIGTERM},
	}
}

// Container returns the dependency injection container
func (app *Application) Container() *Container {
	return app.container
}

// LifecycleManager returns the lifecycle manager
func (app *Application) LifecycleManager() *DefaultLifecycleManager {
	return app.lifecycle
}

// Register adds service under its own name, started after deps.
func (app *Application) Register(service Service, deps ...string) error {
	return app.lifecycle.Register(service.Name(), service, deps...)
}

// SetShutdownTimeout bounds the graceful shutdown triggered by Run.
func (app *Application) SetShutdownTimeout(d time.Duration) {
	app.shutdownTimeout = d
}

// Start starts every registered service.
func (app *Application) Start(ctx context.Context) error {
	app.mutex.Lock()
	defer app.mutex.Unlock()
	if app.running {
		return errors.New("application is already running")
	}
	if err := app.lifecycle.Start(ctx); err != nil {
		return err
	}
	app.running = true
	return nil
}

// Run starts the services and blocks until SIGINT, SIGTERM or the end of
// ctx, then shuts down gracefully.
func (app *Application) Run(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, app.signals...)
	defer signal.Stop(sigCh)

	if err := app.Start(ctx); err != nil {
		return err
	}
	return app.waitAndShutdown(ctx, sigCh)
}

// WaitForShutdown blocks a started application until SIGINT, SIGTERM or the
// end of ctx, then shuts down gracefully.
func (app *Application) WaitForShutdown(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, app.signals...)
	defer signal.Stop(sigCh)
	return app.waitAndShutdown(ctx, sigCh)
}

func (app *Application) waitAndShutdown(ctx context.Context, sigCh <-chan os.Signal) error {
	select {
	case sig := <-sigCh:
		log.Info("received signal, shutting down", zap.Stringer("signal", sig))
	case <-ctx.Done():
		log.Info("context done, shutting down", zap.Error(ctx.Err()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.shutdownTimeout)
	defer cancel()
	return app.Shutdown(shutdownCtx)
}

// Shutdown stops the services in reverse start order.
func (app *Application) Shutdown(ctx context.Context) error {
	app.mutex.Lock()
	defer app.mutex.Unlock()
	if !app.running {
		return nil
	}
	app.running = false
	return app.lifecycle.Stop(ctx)
}
