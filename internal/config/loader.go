package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Loader resolves a Config by layering defaults, a user-level config file,
// a project-level config file, and environment overrides, mirroring the
// teacher's config.Loader precedence chain.
type Loader struct {
	logger *slog.Logger
}

// NewLoader returns a Loader that logs resolution decisions at debug level.
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger}
}

// Load resolves the effective configuration: defaults, then
// ~/.config/caseworker/config.yaml if present, then a project-level
// caseworker.yaml found by walking up from the working directory, then
// environment variable overrides. Returns the result of Validate.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	// Each file layer is parsed into an empty Config so that fields it does
	// not set stay zero and Merge leaves the lower layer's value in place.
	loadLayer := func(path string) (*Config, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		layer := &Config{}
		if err := yaml.Unmarshal(data, layer); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
		return layer, nil
	}

	if userPath, err := l.userConfigPath(); err == nil {
		if _, statErr := os.Stat(userPath); statErr == nil {
			userCfg, loadErr := loadLayer(userPath)
			if loadErr != nil {
				return nil, loadErr
			}
			l.logger.Debug("merging user config", "path", userPath)
			cfg.Merge(userCfg)
		}
	}

	if projectPath, ok := l.findProjectConfig(); ok {
		projectCfg, err := loadLayer(projectPath)
		if err != nil {
			return nil, err
		}
		l.logger.Debug("merging project config", "path", projectPath)
		cfg.Merge(projectCfg)
	}

	l.applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides lets deployment environments override the store DSN
// and NATS URL without a config file, matching the 12-factor pattern the
// teacher's NATSConfig/ModelConfig already half-follow via flags.
func (l *Loader) applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CASEWORKER_STORE_DSN"); v != "" {
		cfg.Store.DSN = v
	}
	if v := os.Getenv("CASEWORKER_NATS_URL"); v != "" {
		cfg.NATS.URL = v
		cfg.NATS.Embedded = false
	}
	if v := os.Getenv("CASEWORKER_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
}

// EnsureUserConfig writes a default config file to the user config path if
// one does not already exist.
func (l *Loader) EnsureUserConfig() error {
	path, err := l.userConfigPath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return SaveToFile(DefaultConfig(), path)
}

func (l *Loader) userConfigPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "caseworker", "config.yaml"), nil
}

// findProjectConfig walks up from the working directory looking for a
// caseworker.yaml, stopping at the first directory containing a .git
// entry (the project root), same traversal the teacher's
// findProjectConfig/detectGitRoot pair perform separately.
func (l *Loader) findProjectConfig() (string, bool) {
	dir, err := os.Getwd()
	if err != nil {
		return "", false
	}
	for {
		candidate := filepath.Join(dir, "caseworker.yaml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true
		}
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return "", false
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}
