package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/tonimelisma/fichier-sync/internal/dirtree"
)

// Validation range constants.
const (
	minDelay          = 1
	minConnectTimeout = 1 * time.Second
	minRequestTimeout = 1 * time.Second
	minReadTimeout    = 1 * time.Second
)

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateAccount(&cfg.AccountConfig)...)
	errs = append(errs, validateSync(&cfg.SyncConfig)...)
	errs = append(errs, validateLogging(&cfg.LoggingConfig)...)
	errs = append(errs, validateNetwork(&cfg.NetworkConfig)...)

	return errors.Join(errs...)
}

func validateAccount(a *AccountConfig) []error {
	var errs []error

	if strings.TrimSpace(a.Email) == "" {
		errs = append(errs, errors.New("email: must not be empty"))
	}

	if a.Password == "" {
		errs = append(errs, errors.New("password: must not be empty"))
	}

	return errs
}

func validateSync(s *SyncConfig) []error {
	var errs []error

	if s.DownloadPath == "" {
		errs = append(errs, errors.New("download_path: must not be empty"))
	}

	if strings.TrimSpace(s.Directory) == "" {
		errs = append(errs, errors.New("directory: must not be empty"))
	}

	if strings.TrimSpace(s.Done) == "" {
		errs = append(errs, errors.New("done: must not be empty"))
	}

	if s.Delay < minDelay {
		errs = append(errs, fmt.Errorf("delay: must be >= %d, got %d", minDelay, s.Delay))
	}

	if _, err := dirtree.ParseLookupMode(s.DirectoryLookup); err != nil {
		errs = append(errs, fmt.Errorf("directory_lookup: must be one of global, parent; got %q", s.DirectoryLookup))
	}

	return errs
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	errs = append(errs, validateLogLevel(l.LogLevel)...)
	errs = append(errs, validateLogFormat(l.LogFormat)...)

	return errs
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

func validateLogLevel(level string) []error {
	if !validLogLevels[level] {
		return []error{fmt.Errorf("log_level: must be one of debug, info, warn, error; got %q", level)}
	}

	return nil
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

func validateLogFormat(format string) []error {
	if !validLogFormats[format] {
		return []error{fmt.Errorf("log_format: must be one of auto, text, json; got %q", format)}
	}

	return nil
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	if u, err := url.Parse(n.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("base_url: must be an absolute http(s) URL, got %q", n.BaseURL))
	}

	if n.TPSLimit < 0 {
		errs = append(errs, fmt.Errorf("tps_limit: must be >= 0, got %g", n.TPSLimit))
	}

	errs = append(errs, validateDurationMin("connect_timeout", n.ConnectTimeout, minConnectTimeout)...)
	errs = append(errs, validateDurationMin("request_timeout", n.RequestTimeout, minRequestTimeout)...)
	errs = append(errs, validateDurationMin("read_timeout", n.ReadTimeout, minReadTimeout)...)

	return errs
}

func validateDurationMin(field, value string, minimum time.Duration) []error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid duration %q: %w", field, value, err)}
	}

	if d < minimum {
		return []error{fmt.Errorf("%s: must be >= %s, got %s", field, minimum, value)}
	}

	return nil
}
