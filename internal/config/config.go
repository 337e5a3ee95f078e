package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config root configuration
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Channels      ChannelsConfig      `mapstructure:"channels"`
	Authorization AuthorizationConfig `mapstructure:"authorization"`
	Alerts        AlertsConfig        `mapstructure:"alerts"`
	Log           LogConfig           `mapstructure:"log"`
}

// ServerConfig gateway server settings
type ServerConfig struct {
	Host  string `mapstructure:"host"`
	Port  int    `mapstructure:"port"`
	Token string `mapstructure:"token"`
}

// ChannelsConfig channel settings
type ChannelsConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
	Slack    SlackConfig    `mapstructure:"slack"`
}

// TelegramConfig telegram bot settings
type TelegramConfig struct {
	Enabled    bool     `mapstructure:"enabled"`
	Token      string   `mapstructure:"token"`
	ChatID     string   `mapstructure:"chat_id"`
	OperatorID string   `mapstructure:"operator_id"`
	AllowFrom  []string `mapstructure:"allow_from"`
}

// SlackConfig Slack Socket Mode settings
type SlackConfig struct {
	Enabled    bool     `mapstructure:"enabled"`
	BotToken   string   `mapstructure:"bot_token"`
	AppToken   string   `mapstructure:"app_token"`
	ChannelID  string   `mapstructure:"channel_id"`
	OperatorID string   `mapstructure:"operator_id"`
	AllowFrom  []string `mapstructure:"allow_from"`
}

// AuthorizationConfig request lifecycle settings
type AuthorizationConfig struct {
	TTLSeconds             int    `mapstructure:"ttl_seconds"`
	CleanupIntervalSeconds int    `mapstructure:"cleanup_interval_seconds"`
	PollIntervalMS         int    `mapstructure:"poll_interval_ms"`
	PollDeadlineSeconds    int    `mapstructure:"poll_deadline_seconds"`
	ServerURL              string `mapstructure:"server_url"`
}

// TTL returns the request time-to-live.
func (a AuthorizationConfig) TTL() time.Duration {
	return time.Duration(a.TTLSeconds) * time.Second
}

// CleanupInterval returns the sweep period for the request store.
func (a AuthorizationConfig) CleanupInterval() time.Duration {
	return time.Duration(a.CleanupIntervalSeconds) * time.Second
}

// PollInterval returns the fixed delay between poll attempts.
func (a AuthorizationConfig) PollInterval() time.Duration {
	return time.Duration(a.PollIntervalMS) * time.Millisecond
}

// PollDeadline returns the maximum wall-clock wait for a decision.
func (a AuthorizationConfig) PollDeadline() time.Duration {
	return time.Duration(a.PollDeadlineSeconds) * time.Second
}

// AlertsConfig escalation settings
type AlertsConfig struct {
	Enabled               bool               `mapstructure:"enabled"`
	AuthorizationDelayMin int                `mapstructure:"authorization_delay_minutes"`
	TaskCompleteDelayMin  int                `mapstructure:"task_complete_delay_minutes"`
	WorkingHours          WorkingHoursConfig `mapstructure:"working_hours"`
}

// WorkingHoursConfig gates when escalations may fire
type WorkingHoursConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Timezone  string `mapstructure:"timezone"`
	Weekdays  []int  `mapstructure:"weekdays"` // 0=Sunday .. 6=Saturday
	StartHour int    `mapstructure:"start_hour"`
	EndHour   int    `mapstructure:"end_hour"`
}

// LogConfig application logging settings
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// DefaultConfig returns config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:  "127.0.0.1",
			Port:  18990,
			Token: "",
		},
		Channels: ChannelsConfig{
			Telegram: TelegramConfig{
				Enabled:   false,
				AllowFrom: []string{},
			},
			Slack: SlackConfig{
				Enabled:   false,
				AllowFrom: []string{},
			},
		},
		Authorization: AuthorizationConfig{
			TTLSeconds:             300,
			CleanupIntervalSeconds: 300,
			PollIntervalMS:         2000,
			PollDeadlineSeconds:    300,
			ServerURL:              "http://127.0.0.1:18990",
		},
		Alerts: AlertsConfig{
			Enabled:               true,
			AuthorizationDelayMin: 3,
			TaskCompleteDelayMin:  10,
			WorkingHours: WorkingHoursConfig{
				Enabled:   false,
				Timezone:  "Local",
				Weekdays:  []int{1, 2, 3, 4, 5},
				StartHour: 9,
				EndHour:   18,
			},
		},
		Log: LogConfig{
			Level: "info",
			File:  "",
		},
	}
}

// ConfigDir returns the gatekeep config directory
func ConfigDir() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".gatekeep")
}

// ConfigPath returns the config file path
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

// StateDir returns the directory holding persisted stores.
func StateDir() string {
	return filepath.Join(ConfigDir(), "state")
}

// Load loads config from file or returns defaults
func Load() (*Config, error) {
	return LoadFrom(ConfigPath())
}

// LoadFrom loads config from an explicit path.
func LoadFrom(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := SaveTo(cfg, configPath); err != nil {
			return cfg, fmt.Errorf("failed to create default config: %w", err)
		}
		return cfg, nil
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")
	v.SetEnvPrefix("GATEKEEP")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return cfg, err
	}

	if err := v.Unmarshal(cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.MatchName = func(mapKey, fieldName string) bool {
			return normalizeKey(mapKey) == normalizeKey(fieldName)
		}
	}); err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func normalizeKey(input string) string {
	input = strings.ReplaceAll(input, "_", "")
	input = strings.ReplaceAll(input, "-", "")
	return strings.ToLower(input)
}

// Save saves config to the default path
func Save(cfg *Config) error {
	return SaveTo(cfg, ConfigPath())
}

// SaveTo saves config to an explicit path
func SaveTo(cfg *Config, configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(configPath, data, 0600)
}

// Validate checks that the configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	a := &c.Authorization
	if a.TTLSeconds < 0 {
		return fmt.Errorf("authorization.ttl_seconds must not be negative, got %d", a.TTLSeconds)
	}
	if a.TTLSeconds == 0 {
		a.TTLSeconds = 300
	}
	if a.CleanupIntervalSeconds <= 0 {
		a.CleanupIntervalSeconds = a.TTLSeconds
	}
	if a.PollIntervalMS <= 0 {
		a.PollIntervalMS = 2000
	}
	if a.PollDeadlineSeconds <= 0 {
		a.PollDeadlineSeconds = a.TTLSeconds
	}
	if strings.TrimSpace(a.ServerURL) == "" {
		a.ServerURL = fmt.Sprintf("http://%s:%d", c.Server.Host, c.Server.Port)
	}

	al := &c.Alerts
	if al.AuthorizationDelayMin < 0 {
		return fmt.Errorf("alerts.authorization_delay_minutes must not be negative, got %d", al.AuthorizationDelayMin)
	}
	if al.AuthorizationDelayMin == 0 {
		al.AuthorizationDelayMin = 3
	}
	if al.TaskCompleteDelayMin <= 0 {
		al.TaskCompleteDelayMin = 10
	}

	wh := &al.WorkingHours
	if wh.StartHour < 0 || wh.StartHour > 23 {
		return fmt.Errorf("alerts.working_hours.start_hour must be between 0 and 23, got %d", wh.StartHour)
	}
	if wh.EndHour < 0 || wh.EndHour > 24 {
		return fmt.Errorf("alerts.working_hours.end_hour must be between 0 and 24, got %d", wh.EndHour)
	}
	for _, d := range wh.Weekdays {
		if d < 0 || d > 6 {
			return fmt.Errorf("alerts.working_hours.weekdays entries must be between 0 and 6, got %d", d)
		}
	}
	if wh.Enabled && wh.Timezone != "" && wh.Timezone != "Local" {
		if _, err := time.LoadLocation(wh.Timezone); err != nil {
			return fmt.Errorf("alerts.working_hours.timezone is invalid: %w", err)
		}
	}

	level := strings.ToLower(strings.TrimSpace(c.Log.Level))
	if level == "" {
		c.Log.Level = "info"
	} else {
		validLevels := map[string]bool{
			"debug": true,
			"info":  true,
			"warn":  true,
			"error": true,
		}
		if !validLevels[level] {
			return fmt.Errorf("log.level must be one of debug, info, warn, error; got %q", c.Log.Level)
		}
		c.Log.Level = level
	}

	return nil
}
