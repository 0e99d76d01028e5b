package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

const reloadDebounce = 500 * time.Millisecond

// ConfigChangeCallback is called when configuration changes
type ConfigChangeCallback func(oldConfig, newConfig *Config)

// Watcher watches a configuration file and reloads it on change. A reload
// that fails to parse or validate keeps the previous configuration.
type Watcher struct {
	configFile string
	loader     *Loader

	configMu sync.RWMutex
	config   *Config

	fsWatcher *fsnotify.Watcher

	callbacksMu sync.RWMutex
	callbacks   []ConfigChangeCallback

	timerMu sync.Mutex
	pending *time.Timer
	stopped bool

	done chan struct{}
	wg   sync.WaitGroup
}

// NewWatcher loads configFile and prepares to watch it.
func NewWatcher(configFile string, loader *Loader) (*Watcher, error) {
	if _, err := formatOf(configFile); err != nil {
		return nil, err
	}
	config, err := loader.LoadFromFile(configFile)
	if err != nil {
		return nil, errors.Annotate(err, "load initial config")
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Annotate(err, "create file system watcher")
	}
	return &Watcher{
		configFile: filepath.Clean(configFile),
		loader:     loader,
		config:     config,
		fsWatcher:  fsWatcher,
		done:       make(chan struct{}),
	}, nil
}

// Start starts watching the configuration file. The parent directory is
// watched so editors that replace the file are followed.
func (w *Watcher) Start() error {
	if err := w.fsWatcher.Add(filepath.Dir(w.configFile)); err != nil {
		return errors.Annotate(err, "watch config directory")
	}
	w.wg.Add(1)
	go w.watchLoop()
	return nil
}

// Stop stops watching the configuration file
func (w *Watcher) Stop() error {
	w.timerMu.Lock()
	if w.stopped {
		w.timerMu.Unlock()
		return nil
	}
	w.stopped = true
	if w.pending != nil {
		w.pending.Stop()
	}
	w.timerMu.Unlock()

	close(w.done)
	err := w.fsWatcher.Close()
	w.wg.Wait()
	return errors.Trace(err)
}

// GetConfig returns the current configuration
func (w *Watcher) GetConfig() *Config {
	w.configMu.RLock()
	defer w.configMu.RUnlock()
	return w.config
}

// OnConfigChange registers a callback for configuration changes. Callbacks
// run synchronously in registration order.
func (w *Watcher) OnConfigChange(callback ConfigChangeCallback) {
	w.callbacksMu.Lock()
	defer w.callbacksMu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Reload manually reloads the configuration
func (w *Watcher) Reload() error {
	return w.reloadConfig()
}

func (w *Watcher) watchLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.configFile {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				w.schedule(reloadDebounce, func() {
					if err := w.reloadConfig(); err != nil {
						log.Warn("config reload failed, keeping previous config",
							zap.String("file", w.configFile), zap.Error(err))
					}
				})
			} else if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				log.Info("config file removed or renamed", zap.String("file", w.configFile))
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			log.Warn("config watcher error", zap.Error(err))
		}
	}
}

// schedule runs fn after d, replacing any pending reload.
func (w *Watcher) schedule(d time.Duration, fn func()) {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()
	if w.stopped {
		return
	}
	if w.pending != nil {
		w.pending.Stop()
	}
	w.pending = time.AfterFunc(d, fn)
}

func (w *Watcher) reloadConfig() error {
	newConfig, err := w.loader.LoadFromFile(w.configFile)
	if err != nil {
		return err
	}

	w.configMu.Lock()
	oldConfig := w.config
	w.config = newConfig
	w.configMu.Unlock()

	w.callbacksMu.RLock()
	callbacks := append([]ConfigChangeCallback(nil), w.callbacks...)
	w.callbacksMu.RUnlock()
	for _, cb := range callbacks {
		w.invoke(cb, oldConfig, newConfig)
	}

	log.Info("configuration reloaded", zap.String("file", w.configFile))
	return nil
}

func (w *Watcher) invoke(cb ConfigChangeCallback, oldConfig, newConfig *Config) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("config change callback panicked", zap.Any("panic", r))
		}
	}()
	cb(oldConfig, newConfig)
}
