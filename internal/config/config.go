package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	json "github.com/goccy/go-json"
	"github.com/tidwall/jsonc"
)

type Config struct {
	DataDir            string `json:"data_dir"`
	LogLevel           string `json:"log_level"`
	LogFormat          string `json:"log_format"`
	LogPath            string `json:"log_path"`
	ClientVersion      string `json:"client_version"`
	Anonymize          bool   `json:"anonymize"`
	BountyRegistry     string `json:"bounty_registry"`
	MaxConcurrentPosts int    `json:"max_concurrent_posts"`
	Key                string `json:"key"`
	Collector          struct {
		BaseURL           string `json:"base_url"`
		RequestTimeoutSec int    `json:"request_timeout_sec"`
	} `json:"collector"`
	Intervals struct {
		PollMS       int `json:"poll_ms"`
		CountdownSec int `json:"countdown_sec"`
		ResendSec    int `json:"resend_sec"`
		HeartbeatSec int `json:"heartbeat_sec"`
		RosterMS     int `json:"roster_ms"`
	} `json:"intervals"`
	Commander struct {
		AutoConnect bool `json:"auto_connect"`
	} `json:"commander"`
	HTTP struct {
		Enabled bool   `json:"enabled"`
		Listen  string `json:"listen"`
	} `json:"http"`
	Telegram struct {
		Token  string `json:"token"`
		ChatID int64  `json:"chat_id"`
	} `json:"telegram"`
	Volume struct {
		Level   float64 `json:"level"`
		IsMuted bool    `json:"is_muted"`
	} `json:"volume"`
}

// DefaultPath returns ~/.killtracker/config.json.
func DefaultPath() string {
	return filepath.Join(os.Getenv("HOME"), ".killtracker", "config.json")
}

func defaults() *Config {
	cfg := &Config{
		DataDir:            filepath.Join(os.Getenv("HOME"), ".killtracker"),
		LogLevel:           "info",
		LogFormat:          "text",
		ClientVersion:      "7.0",
		MaxConcurrentPosts: 2,
	}
	cfg.Collector.BaseURL = "http://blightveil.org:25966"
	cfg.Collector.RequestTimeoutSec = 60
	cfg.Intervals.PollMS = 1000
	cfg.Intervals.CountdownSec = 60
	cfg.Intervals.ResendSec = 60
	cfg.Intervals.HeartbeatSec = 5
	cfg.Intervals.RosterMS = 1000
	cfg.HTTP.Listen = "127.0.0.1:8787"
	cfg.Volume.Level = 0.5
	return cfg
}

func Load(path string) (*Config, error) {
	cfg := defaults()

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(jsonc.ToJSON(data), cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	if key := os.Getenv("KILLTRACKER_KEY"); key != "" {
		cfg.Key = key
	}
	if baseURL := os.Getenv("KILLTRACKER_COLLECTOR_URL"); baseURL != "" {
		cfg.Collector.BaseURL = baseURL
	}
	if logPath := os.Getenv("KILLTRACKER_LOG_PATH"); logPath != "" {
		cfg.LogPath = logPath
	}
	if tgToken := os.Getenv("TELEGRAM_BOT_TOKEN"); tgToken != "" {
		cfg.Telegram.Token = tgToken
	}

	cfg.normalize()
	return cfg, nil
}

// normalize replaces non-positive intervals with their defaults.
func (c *Config) normalize() {
	d := defaults()
	if c.MaxConcurrentPosts <= 0 {
		c.MaxConcurrentPosts = d.MaxConcurrentPosts
	}
	if c.Collector.RequestTimeoutSec <= 0 {
		c.Collector.RequestTimeoutSec = d.Collector.RequestTimeoutSec
	}
	if c.Intervals.PollMS <= 0 {
		c.Intervals.PollMS = d.Intervals.PollMS
	}
	if c.Intervals.CountdownSec <= 0 {
		c.Intervals.CountdownSec = d.Intervals.CountdownSec
	}
	if c.Intervals.ResendSec <= 0 {
		c.Intervals.ResendSec = d.Intervals.ResendSec
	}
	if c.Intervals.HeartbeatSec <= 0 {
		c.Intervals.HeartbeatSec = d.Intervals.HeartbeatSec
	}
	if c.Intervals.RosterMS <= 0 {
		c.Intervals.RosterMS = d.Intervals.RosterMS
	}
	if c.Volume.Level < 0 {
		c.Volume.Level = 0
	}
	if c.Volume.Level > 1 {
		c.Volume.Level = 1
	}
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Collector.RequestTimeoutSec) * time.Second
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Intervals.PollMS) * time.Millisecond
}

func (c *Config) CountdownInterval() time.Duration {
	return time.Duration(c.Intervals.CountdownSec) * time.Second
}

func (c *Config) ResendInterval() time.Duration {
	return time.Duration(c.Intervals.ResendSec) * time.Second
}

func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Intervals.HeartbeatSec) * time.Second
}

func (c *Config) RosterInterval() time.Duration {
	return time.Duration(c.Intervals.RosterMS) * time.Millisecond
}

// Save writes cfg to path atomically, creating the parent directory.
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeAtomic(path, data)
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}
