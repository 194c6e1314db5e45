package config

import (
	"sync"
)

// Runtime holds the configuration values that may change while a process
// runs. Components read the embedding mode through it at the moment they
// pick a collection, so a mode switch affects only subsequent writes.
type Runtime struct {
	cfg *Config

	mu       sync.RWMutex
	mode     string
	watchers []func(old, updated string)
}

// NewRuntime wraps a loaded configuration.
func NewRuntime(cfg *Config) *Runtime {
	return &Runtime{cfg: cfg, mode: cfg.Embeddings.Mode}
}

// Config returns the static configuration.
func (r *Runtime) Config() *Config {
	return r.cfg
}

// EmbeddingMode returns the mode new writes are routed to.
func (r *Runtime) EmbeddingMode() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.mode
}

// SetEmbeddingMode switches the embedding mode. Existing collections are
// left untouched; watchers run after the switch is visible.
func (r *Runtime) SetEmbeddingMode(mode string) error {
	if err := ValidateMode(mode); err != nil {
		return err
	}

	r.mu.Lock()
	old := r.mode
	r.mode = mode
	watchers := append([]func(string, string){}, r.watchers...)
	r.mu.Unlock()

	if old != mode {
		for _, w := range watchers {
			w(old, mode)
		}
	}
	return nil
}

// OnModeChange registers fn to run after each effective mode switch.
func (r *Runtime) OnModeChange(fn func(old, updated string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.watchers = append(r.watchers, fn)
}
