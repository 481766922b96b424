// internal/config/config.go
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvConfig names the environment variable that points at a config file.
const EnvConfig = "CFGSYNC_CONFIG"

type Config struct {
	LogLevel   string `json:"log_level" yaml:"log_level"` // debug, info, warn, error
	FeatureSet string `json:"feature_set" yaml:"feature_set"`

	Patch struct {
		Format        int    `json:"format" yaml:"format"` // 0 picks from the peer's feature set
		Digest        bool   `json:"digest" yaml:"digest"`
		Lazy          bool   `json:"lazy" yaml:"lazy"`
		ConfigSection string `json:"config_section" yaml:"config_section"`
		ManageVersion bool   `json:"manage_version" yaml:"manage_version"`
	} `json:"patch" yaml:"patch"`

	ACL struct {
		Enforce    bool     `json:"enforce" yaml:"enforce"`
		User       string   `json:"user" yaml:"user"`
		Privileged []string `json:"privileged" yaml:"privileged"`
	} `json:"acl" yaml:"acl"`

	Journal struct {
		Path            string `json:"path" yaml:"path"`
		CacheSize       int    `json:"cache_size" yaml:"cache_size"`
		CompressMinSize int    `json:"compress_min_size" yaml:"compress_min_size"`
	} `json:"journal" yaml:"journal"`

	Metrics struct {
		Namespace string `json:"namespace" yaml:"namespace"`
	} `json:"metrics" yaml:"metrics"`
}

// Default returns the settings used when no file is given.
func Default() *Config {
	var c Config
	c.LogLevel = "info"
	c.FeatureSet = "3.19.0"
	c.Patch.Digest = true
	c.Patch.ConfigSection = "configuration"
	c.Patch.ManageVersion = true
	c.ACL.Privileged = []string{"root", "hacluster"}
	c.Journal.Path = ".cfgsync/journal"
	c.Journal.CacheSize = 256
	c.Journal.CompressMinSize = 1024
	c.Metrics.Namespace = "cfgsync"
	return &c
}

// Path returns the config file named by CFGSYNC_CONFIG, or "" when unset.
func Path() string {
	return os.Getenv(EnvConfig)
}

// Load reads a JSON or YAML file over the defaults. The format follows the
// file extension.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	config := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, config)
	default:
		err = json.Unmarshal(data, config)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return config, nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	if c.Patch.Format < 0 || c.Patch.Format > 2 {
		return fmt.Errorf("patch format %d is not 0, 1 or 2", c.Patch.Format)
	}
	if c.Journal.CacheSize < 0 {
		return fmt.Errorf("journal cache size must not be negative")
	}
	if c.ACL.Enforce && c.ACL.User == "" {
		return fmt.Errorf("acl enforcement needs a user")
	}
	return nil
}
