package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"go-media-reconcile/internal/models"

	"github.com/BurntSushi/toml"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultConfigPath      = "config.toml"
	DefaultFetchTimeoutSec = 60
	DefaultUserAgent       = "media-reconcile/1.0"
)

// LoadConfig reads the configuration from the specified path (defaulting to "config.toml").
// A missing file is not an error: defaults are returned and a warning is logged.
func LoadConfig(configFilePath string) (models.Config, error) {
	if configFilePath == "" {
		configFilePath = DefaultConfigPath
	}
	var cfg models.Config
	_, err := toml.DecodeFile(configFilePath, &cfg)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Warnf("Config file %s not found, using defaults", configFilePath)
			ApplyDefaults(&cfg)
			return cfg, nil
		}
		return models.Config{}, fmt.Errorf("error loading config file %s: %w", configFilePath, err)
	}

	if cfg.LibraryPath == "" {
		log.Warn("Warning: LibraryPath is not set in config, defaulting to ./library")
	}
	ApplyDefaults(&cfg)

	log.Infof("Configuration loaded from %s", configFilePath)
	return cfg, nil
}

// ApplyDefaults fills unset fields. Database and index paths default to
// directories inside the library.
func ApplyDefaults(cfg *models.Config) {
	if cfg.LibraryPath == "" {
		cfg.LibraryPath = "library"
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = filepath.Join(cfg.LibraryPath, ".db")
	}
	if cfg.IndexPath == "" {
		cfg.IndexPath = filepath.Join(cfg.LibraryPath, ".index")
	}
	cfg.TransportMode = strings.ToLower(strings.TrimSpace(cfg.TransportMode))
	if cfg.TransportMode == "" {
		cfg.TransportMode = models.TransportAuto
	}
	if cfg.FetchTimeoutSec <= 0 {
		cfg.FetchTimeoutSec = DefaultFetchTimeoutSec
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")
	cfg.MirrorBaseURL = strings.TrimRight(cfg.MirrorBaseURL, "/")
}

// Validate reports configuration values the engine cannot run with.
func Validate(cfg models.Config) error {
	if !models.ValidTransportMode(cfg.TransportMode) {
		return fmt.Errorf("invalid TransportMode %q (want auto, bundled or remote)", cfg.TransportMode)
	}
	if cfg.PublicBaseURL == "" {
		log.Warn("PublicBaseURL is not set; only external or mirror sources can be fetched and rewritten URLs will be relative")
	}
	return nil
}
