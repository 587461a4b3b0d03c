package config

import "github.com/tonimelisma/fichier-sync/internal/fichier"

// Default values for configuration options. Unset keys in the config file
// keep these values because decoding starts from DefaultConfig.
const (
	defaultDownloadPath    = "."
	defaultDelay           = 300
	defaultDirectoryLookup = "global"
	defaultLogLevel        = "info"
	defaultLogFormat       = "auto"
	defaultTPSLimit        = 2.0
	defaultConnectTimeout  = "10s"
	defaultRequestTimeout  = "30s"
	defaultReadTimeout     = "60s"
)

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		SyncConfig: SyncConfig{
			DownloadPath:    defaultDownloadPath,
			Delay:           defaultDelay,
			DirectoryLookup: defaultDirectoryLookup,
		},
		LoggingConfig: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
		NetworkConfig: NetworkConfig{
			BaseURL:        fichier.DefaultBaseURL,
			TPSLimit:       defaultTPSLimit,
			ConnectTimeout: defaultConnectTimeout,
			RequestTimeout: defaultRequestTimeout,
			ReadTimeout:    defaultReadTimeout,
		},
	}
}
