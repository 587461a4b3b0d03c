package config

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHolder(t *testing.T) {
	cfg := DefaultConfig()
	h := NewHolder(cfg, "/etc/fichier-sync/config.toml")

	require.NotNil(t, h)
	assert.Equal(t, cfg, h.Config())
	assert.Equal(t, "/etc/fichier-sync/config.toml", h.Path())
}

func TestHolder_Update(t *testing.T) {
	cfg1 := DefaultConfig()
	h := NewHolder(cfg1, "/tmp/config.toml")

	cfg2 := DefaultConfig()
	cfg2.Delay = 10

	h.Update(cfg2)

	got := h.Config()
	assert.Same(t, cfg2, got)
	assert.NotEqual(t, cfg1, got)
}

func TestHolder_ConcurrentReadWrite(t *testing.T) {
	h := NewHolder(DefaultConfig(), "/tmp/config.toml")

	var wg sync.WaitGroup

	for range 20 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for range 100 {
				_ = h.Config().Delay
			}
		}()
	}

	for range 5 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for range 100 {
				h.Update(DefaultConfig())
			}
		}()
	}

	wg.Wait()
	assert.NotNil(t, h.Config())
}

func TestReload(t *testing.T) {
	path := writeTestConfig(t, minimalConfig)

	h := NewHolder(DefaultConfig(), path)

	cfg, err := Reload(h)
	require.NoError(t, err)
	assert.Same(t, cfg, h.Config())
	assert.NotEmpty(t, h.Config().Email)
}

func TestReload_InvalidKeepsCurrent(t *testing.T) {
	path := writeTestConfig(t, minimalConfig+"delay = -5\n")

	orig := DefaultConfig()
	h := NewHolder(orig, path)

	_, err := Reload(h)
	require.Error(t, err)
	assert.Same(t, orig, h.Config())
}
