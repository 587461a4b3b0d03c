package config

import "os"

// EnvConfig overrides the config file path.
const EnvConfig = "FICHIER_SYNC_CONFIG"

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // FICHIER_SYNC_CONFIG: override config file path
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
	}
}
