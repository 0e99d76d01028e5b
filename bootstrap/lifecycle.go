package bootstrap

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	defaultServiceTimeout = 30 * time.Second
	healthCheckTimeout    = 5 * time.Second
)

// DefaultLifecycleManager starts services in dependency order and stops them
// in reverse. A failed start stops the services already started.
type DefaultLifecycleManager struct {
	mutex sync.RWMutex

	services     map[string]Service
	dependencies map[string][]string
	startOrder   []string

	started  bool
	stopping bool

	listeners []func(LifecycleEvent)
	timeout   time.Duration
}

// NewLifecycleManager creates a new lifecycle manager
func NewLifecycleManager() *DefaultLifecycleManager {
	return &DefaultLifecycleManager{
		services:     make(map[string]Service),
		dependencies: make(map[string][]string),
		timeout:      defaultServiceTimeout,
	}
}

// Register registers a service that starts after deps.
func (lm *DefaultLifecycleManager) Register(name string, service Service, deps ...string) error {
	if name == "" {
		return errors.New("service name cannot be empty")
	}
	if service == nil {
		return errors.New("service cannot be nil")
	}

	lm.mutex.Lock()
	defer lm.mutex.Unlock()

	if lm.started {
		return errors.Errorf("cannot register service %s: lifecycle manager already started", name)
	}
	if _, exists := lm.services[name]; exists {
		return errors.Errorf("service %s is already registered", name)
	}

	lm.services[name] = service
	lm.dependencies[name] = deps

	lm.broadcastEvent(LifecycleEvent{
		Type:    EventServiceRegistered,
		Service: name,
		Data:    map[string]interface{}{"dependencies": deps},
	})
	return nil
}

// Start starts all services in dependency order
func (lm *DefaultLifecycleManager) Start(ctx context.Context) error {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()

	if lm.started {
		return errors.New("lifecycle manager already started")
	}

	order, err := lm.calculateStartOrder()
	if err != nil {
		return errors.Annotate(err, "calculate start order")
	}
	log.Info("starting services", zap.Strings("order", order))

	for _, name := range order {
		service := lm.services[name]
		lm.broadcastEvent(LifecycleEvent{Type: EventServiceStarting, Service: name})

		startCtx, cancel := context.WithTimeout(ctx, lm.timeout)
		err := service.Start(startCtx)
		cancel()
		if err != nil {
			lm.broadcastEvent(LifecycleEvent{Type: EventServiceStartFailed, Service: name, Error: err})
			log.Error("service failed to start", zap.String("service", name), zap.Error(err))
			startErr := &ApplicationError{Operation: "start", Service: name, Err: err}
			return multierr.Append(startErr, lm.stopStarted(ctx))
		}

		lm.startOrder = append(lm.startOrder, name)
		lm.broadcastEvent(LifecycleEvent{Type: EventServiceStarted, Service: name})
		log.Info("service started", zap.String("service", name))
	}

	lm.started = true
	lm.broadcastEvent(LifecycleEvent{Type: EventLifecycleStarted})
	return nil
}

// Stop stops all services in reverse start order. Every service is stopped
// even when an earlier one fails; the failures are combined.
func (lm *DefaultLifecycleManager) Stop(ctx context.Context) error {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()

	if !lm.started {
		return nil
	}
	if lm.stopping {
		return errors.New("lifecycle manager already stopping")
	}
	lm.stopping = true
	err := lm.stopStarted(ctx)
	lm.started = false
	lm.stopping = false

	lm.broadcastEvent(LifecycleEvent{Type: EventLifecycleStopped, Error: err})
	return err
}

// stopStarted stops the started services in reverse. Caller holds lm.mutex.
func (lm *DefaultLifecycleManager) stopStarted(ctx context.Context) error {
	var errs error
	for i := len(lm.startOrder) - 1; i >= 0; i-- {
		name := lm.startOrder[i]
		service := lm.services[name]
		lm.broadcastEvent(LifecycleEvent{Type: EventServiceStopping, Service: name})

		stopCtx, cancel := context.WithTimeout(ctx, lm.timeout)
		err := service.Stop(stopCtx)
		cancel()

		if err != nil {
			errs = multierr.Append(errs, &ApplicationError{Operation: "stop", Service: name, Err: err})
			lm.broadcastEvent(LifecycleEvent{Type: EventServiceStopFailed, Service: name, Error: err})
			log.Warn("service failed to stop", zap.String("service", name), zap.Error(err))
			continue
		}
		lm.broadcastEvent(LifecycleEvent{Type: EventServiceStopped, Service: name})
		log.Info("service stopped", zap.String("service", name))
	}
	lm.startOrder = nil
	return errs
}

// Health returns the health status of all services
func (lm *DefaultLifecycleManager) Health(ctx context.Context) (map[string]HealthStatus, error) {
	lm.mutex.RLock()
	defer lm.mutex.RUnlock()

	health := make(map[string]HealthStatus, len(lm.services))
	for name, service := range lm.services {
		healthCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
		status, err := service.Health(healthCtx)
		cancel()

		if err != nil {
			status = HealthStatus{State: HealthUnhealthy, Message: err.Error()}
		}
		if status.LastCheck.IsZero() {
			status.LastCheck = time.Now()
		}
		health[name] = status
	}
	return health, nil
}

// Services returns all registered service names
func (lm *DefaultLifecycleManager) Services() []string {
	lm.mutex.RLock()
	defer lm.mutex.RUnlock()

	names := make([]string, 0, len(lm.services))
	for name := range lm.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AddListener adds a lifecycle event listener. Listeners run synchronously
// with the lifecycle and must not call back into the manager.
func (lm *DefaultLifecycleManager) AddListener(listener func(LifecycleEvent)) {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()
	lm.listeners = append(lm.listeners, listener)
}

// calculateStartOrder is Kahn's topological sort. Services without a
// dependency relation start in name order.
func (lm *DefaultLifecycleManager) calculateStartOrder() ([]string, error) {
	inDegree := make(map[string]int, len(lm.services))
	graph := make(map[string][]string, len(lm.services))
	for service := range lm.services {
		inDegree[service] = 0
	}
	for service, deps := range lm.dependencies {
		for _, dep := range deps {
			if _, exists := lm.services[dep]; !exists {
				return nil, errors.Errorf("dependency %s of service %s is not registered", dep, service)
			}
			graph[dep] = append(graph[dep], service)
			inDegree[service]++
		}
	}

	var queue []string
	for service, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, service)
		}
	}
	sort.Strings(queue)

	result := make([]string, 0, len(lm.services))
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		result = append(result, current)

		next := graph[current]
		sort.Strings(next)
		for _, dependent := range next {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(result) != len(lm.services) {
		return nil, errors.New("circular dependency detected")
	}
	return result, nil
}

func (lm *DefaultLifecycleManager) broadcastEvent(event LifecycleEvent) {
	event.Timestamp = time.Now()
	for _, listener := range lm.listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error("lifecycle listener panicked", zap.Any("panic", r))
				}
			}()
			listener(event)
		}()
	}
}

// SetTimeout sets the timeout for starting or stopping one service
func (lm *DefaultLifecycleManager) SetTimeout(timeout time.Duration) {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()
	lm.timeout = timeout
}

// IsStarted returns true if the lifecycle manager has been started
func (lm *DefaultLifecycleManager) IsStarted() bool {
	lm.mutex.RLock()
	defer lm.mutex.RUnlock()
	return lm.started
}

// GetService returns a registered service by name
func (lm *DefaultLifecycleManager) GetService(name string) (Service, bool) {
	lm.mutex.RLock()
	defer lm.mutex.RUnlock()
	service, exists := lm.services[name]
	return service, exists
}
