// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package config loads the coordinator's JSON configuration files: the
// server's own listen/timeout/log settings, and the per-image-directory
// and global dependency-resolution files consulted by the hook client.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ConfigFileName is the name of both the per-image-directory and the
// global configuration file.
const ConfigFileName = "criu-coordinator.json"

// GlobalConfigDir is where the system-wide configuration file lives.
const GlobalConfigDir = "/etc/criu"

// DefaultAddress and DefaultPort are used when neither a config file nor
// a CLI flag supplies a coordinator address.
const (
	DefaultAddress = "127.0.0.1"
	DefaultPort    = 8080
)

// ServerConfig holds the coordinator server's own settings.
type ServerConfig struct {
	Listen      string        `json:"listen"`
	ImagesDir   string        `json:"images_dir"`
	WaitTimeout time.Duration `json:"wait_timeout"`
	LogLevel    string        `json:"log_level"`
	LogFormat   string        `json:"log_format"`
	LogFile     string        `json:"log_file"`

	// WaitTimeout is read from the config file as a Go duration string
	// (for example "45s"); see LoadServerConfig.
}

type serverConfigJSON struct {
	Listen      string `json:"listen"`
	ImagesDir   string `json:"images_dir"`
	WaitTimeout string `json:"wait_timeout"`
	LogLevel    string `json:"log_level"`
	LogFormat   string `json:"log_format"`
	LogFile     string `json:"log_file"`
}

// LoadServerConfig reads and validates the coordinator server's JSON
// configuration file. Any field may be overridden afterward by CLI flags.
func LoadServerConfig(path string) (*ServerConfig, error) {
	cfg := &ServerConfig{}
	if path == "" {
		cfg.validate()
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.validate()
			return cfg, nil
		}
		return nil, fmt.Errorf("reading server config: %w", err)
	}

	var raw serverConfigJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing server config: %w", err)
	}

	cfg.Listen = raw.Listen
	cfg.ImagesDir = raw.ImagesDir
	cfg.LogLevel = raw.LogLevel
	cfg.LogFormat = raw.LogFormat
	cfg.LogFile = raw.LogFile
	if raw.WaitTimeout != "" {
		d, err := time.ParseDuration(raw.WaitTimeout)
		if err != nil {
			return nil, fmt.Errorf("server config wait_timeout: %w", err)
		}
		cfg.WaitTimeout = d
	}

	cfg.validate()
	return cfg, nil
}

func (c *ServerConfig) validate() {
	if c.Listen == "" {
		c.Listen = fmt.Sprintf("%s:%d", DefaultAddress, DefaultPort)
	}
	if c.ImagesDir == "" {
		c.ImagesDir = "/tmp/server-images"
	}
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = 30 * time.Second
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "json"
	}
}

// ClientSettings is what the hook client resolves from either the
// per-image-directory config file or the global config file: where to
// dial, what id/dependencies to present, and where to log.
type ClientSettings struct {
	LogFile      string
	Address      string
	Port         int
	ID           string
	Dependencies string
}

type localConfigJSON struct {
	ID           string `json:"id"`
	Dependencies string `json:"dependencies"`
	Address      string `json:"address"`
	Port         string `json:"port"`
	LogFile      string `json:"log-file"`
}

// ReadLocalConfig reads the per-image-directory config file written by a
// previous dump action, as used on restore.
func ReadLocalConfig(imagesDir string) (*ClientSettings, error) {
	path := filepath.Join(imagesDir, ConfigFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading local config %s: %w", path, err)
	}

	var raw localConfigJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing local config %s: %w", path, err)
	}
	if raw.ID == "" {
		return nil, fmt.Errorf("local config %s missing id", path)
	}

	return &ClientSettings{
		LogFile:      orDefault(raw.LogFile, "-"),
		Address:      orDefault(raw.Address, DefaultAddress),
		Port:         atoiOrDefault(raw.Port, DefaultPort),
		ID:           raw.ID,
		Dependencies: raw.Dependencies,
	}, nil
}

// LocalConfigExists reports whether a per-image-directory config file is
// present.
func LocalConfigExists(imagesDir string) bool {
	_, err := os.Stat(filepath.Join(imagesDir, ConfigFileName))
	return err == nil
}

// WriteLocalConfig persists the resolved id/dependencies for this image
// directory, so a later restore action can read them back.
func WriteLocalConfig(imagesDir, id, dependencies string) error {
	path := filepath.Join(imagesDir, ConfigFileName)
	content := localConfigJSON{ID: id, Dependencies: dependencies}
	b, err := json.MarshalIndent(content, "", "   ")
	if err != nil {
		return fmt.Errorf("encoding local config: %w", err)
	}
	if err := os.WriteFile(path, b, 0644); err != nil {
		return fmt.Errorf("writing local config %s: %w", path, err)
	}
	return nil
}

// GlobalConfig is the cluster-wide config consulted by the hook client
// when no per-image-directory config file exists yet: the coordinator
// address/port/log file, plus a map of participant id to its dependency
// list.
type GlobalConfig struct {
	Address      string
	Port         int
	LogFile      string
	Dependencies map[string][]string
}

type globalConfigJSON struct {
	Address      string              `json:"address"`
	Port         string              `json:"port"`
	LogFile      string              `json:"log-file"`
	Dependencies map[string][]string `json:"dependencies"`
}

// ReadGlobalConfig reads the system-wide configuration file.
func ReadGlobalConfig() (*GlobalConfig, error) {
	path := filepath.Join(GlobalConfigDir, ConfigFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("global config file %s: %w", path, err)
	}

	var raw globalConfigJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing global config %s: %w", path, err)
	}

	return &GlobalConfig{
		Address:      orDefault(raw.Address, DefaultAddress),
		Port:         atoiOrDefault(raw.Port, DefaultPort),
		LogFile:      orDefault(raw.LogFile, "-"),
		Dependencies: raw.Dependencies,
	}, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func atoiOrDefault(s string, def int) int {
	if s == "" {
		return def
	}
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil || n <= 0 {
		return def
	}
	return n
}
