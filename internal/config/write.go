package config

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// configFilePermissions keeps the stored password private to the owner.
const configFilePermissions = 0o600

// configDirPermissions is the permission mode for the config directory.
const configDirPermissions = 0o700

// configHeader is prepended to every written config file.
const configHeader = `# fichier-sync configuration
# Written by 'fichier-sync --init'. Edits are picked up on the next cycle.

`

// Write encodes cfg as TOML and writes it atomically to path with
// owner-only permissions, creating the parent directory as needed.
func Write(path string, cfg *Config) error {
	slog.Info("writing config file", slog.String("path", path))

	var buf bytes.Buffer

	buf.WriteString(configHeader)

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	return atomicWriteFile(path, buf.Bytes())
}

// atomicWriteFile writes data to a temp file in the same directory and
// renames it over path.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, configDirPermissions); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tempPath := f.Name()

	// Clean up the temp file on any error path.
	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(tempPath)
		}
	}()

	if err := f.Chmod(configFilePermissions); err != nil {
		f.Close()

		return fmt.Errorf("setting file permissions: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()

		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	succeeded = true

	return nil
}
