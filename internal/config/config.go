// Package config loads the process configuration from an optional YAML
// file overlaid with FLOWSCOPE_-prefixed environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Logs    LogsConfig    `koanf:"logs"`
	Store   StoreConfig   `koanf:"store"`
	Tailer  TailerConfig  `koanf:"tailer"`
	Archive ArchiveConfig `koanf:"archive"`
}

type ServerConfig struct {
	Port int `koanf:"port"`
}

type LogsConfig struct {
	// Dir is the directory the producer writes its JSONL logs into.
	Dir string `koanf:"dir"`
}

type StoreConfig struct {
	// Path is the shared flow/event document.
	Path string `koanf:"path"`
	// RetentionMinutes is how long completed flows stay listed as active.
	RetentionMinutes int `koanf:"retention_minutes"`
}

type TailerConfig struct {
	// PollInterval is a duration string like "100ms".
	PollInterval string `koanf:"poll_interval"`
	MaxHistory   int    `koanf:"max_history"`
}

type ArchiveConfig struct {
	// Path is the SQLite archive database; empty disables archiving.
	Path string `koanf:"path"`
}

// Retention returns the completed-flow visibility window.
func (c StoreConfig) Retention() time.Duration {
	return time.Duration(c.RetentionMinutes) * time.Minute
}

// Interval parses the poll interval, falling back to 100ms.
func (c TailerConfig) Interval() time.Duration {
	d, err := time.ParseDuration(c.PollInterval)
	if err != nil || d <= 0 {
		return 100 * time.Millisecond
	}
	return d
}

// Load reads configuration from path (skipped when empty or missing) and
// the environment.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load config file %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider("FLOWSCOPE_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "FLOWSCOPE_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	defaults := map[string]any{
		"server.port":             8080,
		"logs.dir":                "./logs/conversations",
		"store.path":              "./logs/pipeline_events.json",
		"store.retention_minutes": 60,
		"tailer.poll_interval":    "100ms",
		"tailer.max_history":      1000,
	}
	for key, value := range defaults {
		if !k.Exists(key) {
			k.Set(key, value)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
