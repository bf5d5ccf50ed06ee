package config

import (
	"fmt"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Loader reads engage.yaml and watches it for changes.
type Loader struct {
	path     string
	logger   zerolog.Logger
	mu       sync.RWMutex
	current  *Config
	onChange []func(*Config)
}

// NewLoader creates a Loader and performs the initial load.
func NewLoader(path string, logger zerolog.Logger) (*Loader, error) {
	l := &Loader{path: path, logger: logger}
	cfg, err := l.load()
	if err != nil {
		return nil, err
	}
	l.current = cfg
	return l, nil
}

// Config returns the latest configuration.
func (l *Loader) Config() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// OnChange registers a callback invoked after every successful reload.
func (l *Loader) OnChange(fn func(*Config)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, fn)
}

// Watch hot-reloads the file on write. Invalid files are logged and the
// previous config stays active. Call stop to end the watcher goroutine.
func (l *Loader) Watch() (stop func(), err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watcher: %w", err)
	}
	if err := w.Add(l.path); err != nil {
		w.Close()
		return nil, fmt.Errorf("config watcher add %s: %w", l.path, err)
	}

	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		defer w.Close()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				if _, err := l.Reload(); err != nil {
					l.logger.Warn().Err(err).Msg("config reload skipped")
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				l.logger.Warn().Err(err).Msg("config watcher error")
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			<-exited
		})
	}, nil
}

// Reload re-reads and validates the file. The active config only changes
// when the new one is valid.
func (l *Loader) Reload() (*Config, error) {
	cfg, err := l.load()
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.current = cfg
	callbacks := make([]func(*Config), len(l.onChange))
	copy(callbacks, l.onChange)
	l.mu.Unlock()
	for _, fn := range callbacks {
		fn(cfg)
	}
	return cfg, nil
}

func (l *Loader) load() (*Config, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", l.path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", l.path, err)
	}
	return cfg, nil
}

// Parse decodes YAML, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	applyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.ReadTimeoutMs == 0 {
		cfg.Server.ReadTimeoutMs = 10000
	}
	if cfg.Server.WriteTimeoutMs == 0 {
		cfg.Server.WriteTimeoutMs = 30000
	}
	if cfg.Server.RateLimitPerMinute == 0 {
		cfg.Server.RateLimitPerMinute = 600
	}

	if cfg.Engine.TickIntervalMs == 0 {
		cfg.Engine.TickIntervalMs = 1000
	}
	if cfg.Engine.IdleTimeoutSec == 0 {
		cfg.Engine.IdleTimeoutSec = 1800
	}
	if cfg.Engine.MilestoneIntervalSec == 0 {
		cfg.Engine.MilestoneIntervalSec = 30
	}
	if cfg.Engine.ExitIntentThresholdPx == 0 {
		cfg.Engine.ExitIntentThresholdPx = 50
	}

	if cfg.Beacon.Transport == "" {
		cfg.Beacon.Transport = "nop"
	}
	if cfg.Beacon.Workers == 0 {
		cfg.Beacon.Workers = 4
	}
	if cfg.Beacon.QueueDepth == 0 {
		cfg.Beacon.QueueDepth = 1024
	}
	if cfg.Beacon.FlushWindow == 0 {
		cfg.Beacon.FlushWindow = 10
	}
	if cfg.Beacon.TimeoutMs == 0 {
		cfg.Beacon.TimeoutMs = 5000
	}
	if cfg.Beacon.Topic == "" {
		cfg.Beacon.Topic = "engage.beacons"
	}

	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "memory"
	}
	if cfg.Storage.BusyTimeoutMs == 0 {
		cfg.Storage.BusyTimeoutMs = 5000
	}

	for i := range cfg.Prompts {
		if cfg.Prompts[i].Trigger == "" {
			cfg.Prompts[i].Trigger = "tick"
		}
	}
}
