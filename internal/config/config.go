// Package config loads node configuration, modeled on the teacher's
// pattern of a defaulted Go struct overridden by a parsed TOML file
// (github.com/BurntSushi/toml), with CLI flags applied last.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config enumerates spec.md §6's Configuration list, plus MetricsAddr for
// the optional /metrics endpoint.
type Config struct {
	K                      int           `toml:"k"`
	Alpha                  int           `toml:"alpha"`
	RequestTimeout         time.Duration `toml:"request_timeout"`
	BucketRefreshInterval  time.Duration `toml:"bucket_refresh_interval"`
	ValueTTL               time.Duration `toml:"value_ttl"`
	ValueRepublishInterval time.Duration `toml:"value_republish_interval"`
	SelfID                 string        `toml:"self_id"`
	BindAddr               string        `toml:"bind_addr"`
	BootstrapPeers         []string      `toml:"bootstrap_peers"`
	MetricsAddr            string        `toml:"metrics_addr"`
}

// Defaults returns the configuration defaults named throughout spec.md.
func Defaults() Config {
	return Config{
		K:                      20,
		Alpha:                  3,
		RequestTimeout:         5 * time.Second,
		BucketRefreshInterval:  time.Hour,
		ValueTTL:               24 * time.Hour,
		ValueRepublishInterval: time.Hour,
		BindAddr:               "0.0.0.0:0",
	}
}

// Load reads a TOML file at path, overlaying it onto Defaults(). A missing
// file is not an error; the defaults are returned unchanged.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path == "" {
		return finalize(cfg)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return finalize(cfg)
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return finalize(cfg)
}

// LoadBootstrapPeersYAML reads a supplementary bootstrap peer list from a
// YAML file, an alternative to the inline TOML list for large static
// seed sets.
func LoadBootstrapPeersYAML(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var peers []string
	if err := yaml.Unmarshal(data, &peers); err != nil {
		return nil, fmt.Errorf("config: decode bootstrap peers %s: %w", path, err)
	}
	return peers, nil
}

func finalize(cfg Config) (Config, error) {
	if cfg.SelfID == "" {
		id, err := randomID()
		if err != nil {
			return Config{}, fmt.Errorf("config: generate self_id: %w", err)
		}
		cfg.SelfID = id
	}
	if len(cfg.SelfID) != 40 {
		return Config{}, fmt.Errorf("config: self_id must be 40 hex chars, got %d", len(cfg.SelfID))
	}
	if cfg.K <= 0 || cfg.Alpha <= 0 {
		return Config{}, fmt.Errorf("config: k and alpha must be positive")
	}
	return cfg, nil
}

func randomID() (string, error) {
	var buf [20]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf[:]), nil
}
