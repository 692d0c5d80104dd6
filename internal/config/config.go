package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml"

	"github.com/camarigor/minerdash/internal/jsonx"
)

// WebhookPlaceholder is the shipped webhook value; it disables notifications.
const WebhookPlaceholder = "PASTE_WEBHOOK_HERE"

// MinerConfig defines a single miner device to monitor
type MinerConfig struct {
	Name  string `json:"name" toml:"name"`
	IP    string `json:"ip" toml:"ip"`
	Model string `json:"model" toml:"model"`
}

// ModelBaseline holds the expected performance of one hardware model
type ModelBaseline struct {
	HashrateTHs   float64 `json:"hashrate_ths" toml:"hashrate_ths"`
	SharesPerHour float64 `json:"shares_per_hour" toml:"shares_per_hour"`
}

// ServerConfig defines HTTP server settings
type ServerConfig struct {
	Host                string `json:"host" toml:"host"`
	Port                int    `json:"port" toml:"port"`
	ReadTimeoutSeconds  int    `json:"read_timeout_seconds" toml:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `json:"write_timeout_seconds" toml:"write_timeout_seconds"`
	StaticDir           string `json:"static_dir" toml:"static_dir"`
}

// PollingConfig defines device polling settings
type PollingConfig struct {
	RefreshSeconds        int `json:"refresh_seconds" toml:"refresh_seconds"`
	TimeoutSeconds        int `json:"timeout_seconds" toml:"timeout_seconds"`
	RestartTimeoutSeconds int `json:"restart_timeout_seconds" toml:"restart_timeout_seconds"`
}

// MarketConfig defines coin price, difficulty and logo fetching
type MarketConfig struct {
	Enabled            bool   `json:"enabled" toml:"enabled"`
	FiatCurrency       string `json:"fiat_currency" toml:"fiat_currency"`
	RefreshSeconds     int    `json:"refresh_seconds" toml:"refresh_seconds"`
	LogoRefreshSeconds int    `json:"logo_refresh_seconds" toml:"logo_refresh_seconds"`
	TimeoutSeconds     int    `json:"timeout_seconds" toml:"timeout_seconds"`
	CoinGeckoURL       string `json:"coingecko_url" toml:"coingecko_url"`
	WhatToMineURL      string `json:"whattomine_url" toml:"whattomine_url"`
}

// AlertConfig defines block-found notifications
type AlertConfig struct {
	WebhookURL     string `json:"webhook_url" toml:"webhook_url"`
	TimeoutSeconds int    `json:"timeout_seconds" toml:"timeout_seconds"`
}

// DisplayConfig defines presentation thresholds passed through to the client
type DisplayConfig struct {
	StaleYellowSeconds int     `json:"stale_yellow_seconds" toml:"stale_yellow_seconds"`
	StaleRedSeconds    int     `json:"stale_red_seconds" toml:"stale_red_seconds"`
	TempWarnC          float64 `json:"temp_warn_c" toml:"temp_warn_c"`
	TempHotC           float64 `json:"temp_hot_c" toml:"temp_hot_c"`
	MinerPageSeconds   int     `json:"miner_page_seconds" toml:"miner_page_seconds"`
	MinersPerPage      int     `json:"miners_per_page" toml:"miners_per_page"`
}

// RolloverConfig defines the weekly rollover window
type RolloverConfig struct {
	CheckSeconds    int  `json:"check_seconds" toml:"check_seconds"`
	Weekday         int  `json:"weekday" toml:"weekday"` // 0 = Sunday
	Hour            int  `json:"hour" toml:"hour"`
	Minute          int  `json:"minute" toml:"minute"`
	RestartMiners   bool `json:"restart_miners" toml:"restart_miners"`
	RestartParallel int  `json:"restart_parallel" toml:"restart_parallel"`
}

// HistoryConfig defines the SQLite history database
type HistoryConfig struct {
	Enabled                bool   `json:"enabled" toml:"enabled"`
	DBPath                 string `json:"db_path" toml:"db_path"`
	SnapshotRetentionHours int    `json:"snapshot_retention_hours" toml:"snapshot_retention_hours"`
}

// RedisConfig defines the optional snapshot mirror; empty Addr disables it
type RedisConfig struct {
	Addr       string `json:"addr" toml:"addr"`
	Password   string `json:"password" toml:"password"`
	DB         int    `json:"db" toml:"db"`
	Key        string `json:"key" toml:"key"`
	Channel    string `json:"channel" toml:"channel"`
	TTLSeconds int    `json:"ttl_seconds" toml:"ttl_seconds"`
}

// Config is the main configuration structure
type Config struct {
	Server         ServerConfig             `json:"server" toml:"server"`
	Miners         []MinerConfig            `json:"miners" toml:"miners"`
	ModelBaselines map[string]ModelBaseline `json:"model_baselines" toml:"model_baselines"`
	Polling        PollingConfig            `json:"polling" toml:"polling"`
	Market         MarketConfig             `json:"market" toml:"market"`
	Alerts         AlertConfig              `json:"alerts" toml:"alerts"`
	Display        DisplayConfig            `json:"display" toml:"display"`
	Rollover       RolloverConfig           `json:"rollover" toml:"rollover"`
	History        HistoryConfig            `json:"history" toml:"history"`
	Redis          RedisConfig              `json:"redis" toml:"redis"`
	DataDir        string                   `json:"data_dir" toml:"data_dir"`
}

// DefaultConfig returns a Config with sensible default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:                "0.0.0.0",
			Port:                8788,
			ReadTimeoutSeconds:  60,
			WriteTimeoutSeconds: 120,
			StaticDir:           "web",
		},
		Miners: []MinerConfig{},
		ModelBaselines: map[string]ModelBaseline{
			"NerdQAxe++":   {HashrateTHs: 5.00, SharesPerHour: 40},
			"Bitaxe Gamma": {HashrateTHs: 1.15, SharesPerHour: 30},
		},
		Polling: PollingConfig{
			RefreshSeconds:        5,
			TimeoutSeconds:        2,
			RestartTimeoutSeconds: 2,
		},
		Market: MarketConfig{
			Enabled:            true,
			FiatCurrency:       "gbp",
			RefreshSeconds:     30,
			LogoRefreshSeconds: 600,
			TimeoutSeconds:     6,
			CoinGeckoURL:       "https://api.coingecko.com/api/v3",
			WhatToMineURL:      "https://whattomine.com",
		},
		Alerts: AlertConfig{
			WebhookURL:     WebhookPlaceholder,
			TimeoutSeconds: 4,
		},
		Display: DisplayConfig{
			StaleYellowSeconds: 20,
			StaleRedSeconds:    60,
			TempWarnC:          66,
			TempHotC:           75,
			MinerPageSeconds:   10,
			MinersPerPage:      3,
		},
		Rollover: RolloverConfig{
			CheckSeconds:    30,
			Weekday:         int(time.Sunday),
			Hour:            23,
			Minute:          59,
			RestartMiners:   true,
			RestartParallel: 4,
		},
		History: HistoryConfig{
			Enabled:                true,
			DBPath:                 "data/minerdash.db",
			SnapshotRetentionHours: 24,
		},
		Redis: RedisConfig{
			Key:        "minerdash:snapshot",
			Channel:    "minerdash:snapshots",
			TTLSeconds: 30,
		},
		DataDir: "data",
	}
}

// Load reads configuration from a JSON or TOML file, chosen by extension
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	config := DefaultConfig()
	if isTOML(path) {
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else {
		if err := jsonx.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Save writes configuration in the format matching the file extension
func (c *Config) Save(path string) error {
	var (
		data []byte
		err  error
	)
	if isTOML(path) {
		data, err = toml.Marshal(*c)
	} else {
		data, err = jsonx.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks the miner list and clamps non-positive intervals
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Miners))
	for i, m := range c.Miners {
		name := strings.TrimSpace(m.Name)
		if name == "" {
			return fmt.Errorf("miners[%d]: name is required", i)
		}
		if strings.TrimSpace(m.IP) == "" {
			return fmt.Errorf("miner %q: ip is required", name)
		}
		if seen[name] {
			return fmt.Errorf("miner %q: duplicate name", name)
		}
		seen[name] = true
	}

	def := DefaultConfig()
	if c.Polling.RefreshSeconds <= 0 {
		c.Polling.RefreshSeconds = def.Polling.RefreshSeconds
	}
	if c.Polling.TimeoutSeconds <= 0 {
		c.Polling.TimeoutSeconds = def.Polling.TimeoutSeconds
	}
	if c.Polling.RestartTimeoutSeconds <= 0 {
		c.Polling.RestartTimeoutSeconds = def.Polling.RestartTimeoutSeconds
	}
	if c.Market.RefreshSeconds <= 0 {
		c.Market.RefreshSeconds = def.Market.RefreshSeconds
	}
	if c.Market.LogoRefreshSeconds <= 0 {
		c.Market.LogoRefreshSeconds = def.Market.LogoRefreshSeconds
	}
	if c.Market.FiatCurrency == "" {
		c.Market.FiatCurrency = def.Market.FiatCurrency
	}
	c.Market.FiatCurrency = strings.ToLower(c.Market.FiatCurrency)
	if c.Rollover.CheckSeconds <= 0 {
		c.Rollover.CheckSeconds = def.Rollover.CheckSeconds
	}
	if c.Rollover.Weekday < 0 || c.Rollover.Weekday > 6 {
		return fmt.Errorf("rollover.weekday must be 0-6, got %d", c.Rollover.Weekday)
	}
	if c.Rollover.Hour < 0 || c.Rollover.Hour > 23 || c.Rollover.Minute < 0 || c.Rollover.Minute > 59 {
		return fmt.Errorf("rollover time %02d:%02d is invalid", c.Rollover.Hour, c.Rollover.Minute)
	}
	if c.Rollover.RestartParallel <= 0 {
		c.Rollover.RestartParallel = 1
	}
	if c.DataDir == "" {
		c.DataDir = def.DataDir
	}
	return nil
}

// Baseline returns the baseline for a model and whether one is configured
func (c *Config) Baseline(model string) (ModelBaseline, bool) {
	b, ok := c.ModelBaselines[model]
	return b, ok
}

// Seconds converts an integer seconds field to a duration
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// WebhookEnabled reports whether a real webhook URL is configured
func (a AlertConfig) WebhookEnabled() bool {
	u := strings.TrimSpace(a.WebhookURL)
	return u != "" && u != WebhookPlaceholder
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}
