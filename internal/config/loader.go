package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Engine holds local backend tuning knobs.
type Engine struct {
	ContextSize int `json:"context_size" yaml:"context_size" toml:"context_size"`
	Threads     int `json:"threads" yaml:"threads" toml:"threads"`
}

// Drain controls queue admission and backend switch draining.
type Drain struct {
	DelayMS       int `json:"delay_ms" yaml:"delay_ms" toml:"delay_ms"`
	TimeoutMS     int `json:"timeout_ms" yaml:"timeout_ms" toml:"timeout_ms"`
	MaxQueueDepth int `json:"max_queue_depth" yaml:"max_queue_depth" toml:"max_queue_depth"`
	MaxWaitMS     int `json:"max_wait_ms" yaml:"max_wait_ms" toml:"max_wait_ms"`
}

// Memory configures the pressure monitor thresholds, as percentages of
// total system memory.
type Memory struct {
	WarningPercent  float64 `json:"warning_percent" yaml:"warning_percent" toml:"warning_percent"`
	CriticalPercent float64 `json:"critical_percent" yaml:"critical_percent" toml:"critical_percent"`
	PollSeconds     int     `json:"poll_seconds" yaml:"poll_seconds" toml:"poll_seconds"`
}

// Log configures structured log output and rotation.
type Log struct {
	Level      string `json:"level" yaml:"level" toml:"level"`
	File       string `json:"file" yaml:"file" toml:"file"`
	MaxSizeMB  int    `json:"max_size_mb" yaml:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups" toml:"max_backups"`
	Pretty     bool   `json:"pretty" yaml:"pretty" toml:"pretty"`
}

// Config holds runtime parameters for the daemon.
// Zero values mean "unspecified" and will be replaced by defaults in main.
type Config struct {
	Addr         string `json:"addr" yaml:"addr" toml:"addr"`
	ModelsDir    string `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	DefaultModel string `json:"default_model" yaml:"default_model" toml:"default_model"`
	WatchModels  bool   `json:"watch_models" yaml:"watch_models" toml:"watch_models"`

	Engine Engine `json:"engine" yaml:"engine" toml:"engine"`
	Drain  Drain  `json:"drain" yaml:"drain" toml:"drain"`
	Memory Memory `json:"memory" yaml:"memory" toml:"memory"`
	Log    Log    `json:"log" yaml:"log" toml:"log"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		Addr:        ":53125",
		ModelsDir:   "~/.locanara/models",
		WatchModels: true,
		Engine:      Engine{ContextSize: 4096, Threads: 0},
		Drain:       Drain{DelayMS: 100, TimeoutMS: 2000, MaxQueueDepth: 32, MaxWaitMS: 30000},
		Memory:      Memory{WarningPercent: 70, CriticalPercent: 85, PollSeconds: 5},
		Log:         Log{Level: "info", MaxSizeMB: 50, MaxBackups: 3},
	}
}

// Load reads a configuration file based on its extension and overlays it on
// the defaults. Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.Memory.WarningPercent <= 0 || c.Memory.WarningPercent >= 100 {
		return fmt.Errorf("memory.warning_percent must be in (0,100), got %v", c.Memory.WarningPercent)
	}
	if c.Memory.CriticalPercent <= c.Memory.WarningPercent || c.Memory.CriticalPercent >= 100 {
		return fmt.Errorf("memory.critical_percent must be in (warning_percent,100), got %v", c.Memory.CriticalPercent)
	}
	if c.Drain.MaxQueueDepth < 1 {
		return fmt.Errorf("drain.max_queue_depth must be >= 1, got %d", c.Drain.MaxQueueDepth)
	}
	return nil
}

// DrainDelay returns the configured settle delay as a duration.
func (d Drain) DrainDelay() time.Duration { return time.Duration(d.DelayMS) * time.Millisecond }

// DrainTimeout returns the configured drain timeout as a duration.
func (d Drain) DrainTimeout() time.Duration { return time.Duration(d.TimeoutMS) * time.Millisecond }

// MaxWait returns the configured queue wait ceiling as a duration.
func (d Drain) MaxWait() time.Duration { return time.Duration(d.MaxWaitMS) * time.Millisecond }

// PollInterval returns the configured sampling interval as a duration.
func (m Memory) PollInterval() time.Duration { return time.Duration(m.PollSeconds) * time.Second }
