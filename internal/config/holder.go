package config

import "sync"

// Holder provides thread-safe access to a mutable *Config and an immutable
// config file path. The poll loop reads a snapshot at the start of every
// cycle while the file watcher swaps in reloaded configs.
type Holder struct {
	mu   sync.RWMutex
	cfg  *Config
	path string // immutable after construction
}

// NewHolder creates a Holder with the initial config and config file path.
func NewHolder(cfg *Config, path string) *Holder {
	return &Holder{
		cfg:  cfg,
		path: path,
	}
}

// Config returns the current config snapshot. Callers must not mutate it.
func (h *Holder) Config() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.cfg
}

// Path returns the config file path.
func (h *Holder) Path() string {
	return h.path
}

// Update replaces the config.
func (h *Holder) Update(cfg *Config) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.cfg = cfg
}

// Reload re-reads the holder's file and swaps the result in. On error the
// current config stays in effect.
func Reload(holder *Holder) (*Config, error) {
	cfg, err := Load(holder.Path())
	if err != nil {
		return nil, err
	}

	holder.Update(cfg)

	return cfg, nil
}
