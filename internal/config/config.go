package config

import (
	"time"
)

type Config struct {
	Server       ServerConfig    `mapstructure:"server"`
	StateStorage StateStorage    `mapstructure:"state_storage"`
	Remote       RemoteConfig    `mapstructure:"remote"`
	Sync         SyncConfig      `mapstructure:"sync"`
	Monitor      MonitorConfig   `mapstructure:"monitor"`
	Scheduler    SchedulerConfig `mapstructure:"scheduler"`
	Schemas      SchemasConfig   `mapstructure:"schemas"`
	Logging      LoggingConfig   `mapstructure:"logging"`
}

type ServerConfig struct {
	Host         string   `mapstructure:"host"`
	Port         int      `mapstructure:"port"`
	AuthToken    string   `mapstructure:"auth_token"`
	ReadTimeout  string   `mapstructure:"read_timeout"`
	WriteTimeout string   `mapstructure:"write_timeout"`
	CorsOrigins  []string `mapstructure:"cors_origins"`
}

func (s ServerConfig) GetReadTimeout() time.Duration {
	d, _ := time.ParseDuration(s.ReadTimeout)
	return d
}

func (s ServerConfig) GetWriteTimeout() time.Duration {
	d, _ := time.ParseDuration(s.WriteTimeout)
	return d
}

type StateStorage struct {
	Type     string `mapstructure:"type"`      // sqlite | mysql | postgres
	FilePath string `mapstructure:"file_path"` // For SQLite
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"` // For Postgres
}

type RemoteConfig struct {
	BaseURL     string `mapstructure:"base_url"`
	AuthToken   string `mapstructure:"auth_token"`
	SendTimeout string `mapstructure:"send_timeout"`
}

func (r RemoteConfig) GetSendTimeout() time.Duration {
	d, err := time.ParseDuration(r.SendTimeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

type SyncConfig struct {
	Concurrency  int    `mapstructure:"concurrency"`
	MaxAttempts  int    `mapstructure:"max_attempts"`
	BackoffBase  string `mapstructure:"backoff_base"`
	BackoffCap   string `mapstructure:"backoff_cap"`
	BatchSize    int    `mapstructure:"batch_size"`
	HistoryLimit int    `mapstructure:"history_limit"`
}

func (s SyncConfig) GetBackoffBase() time.Duration {
	d, err := time.ParseDuration(s.BackoffBase)
	if err != nil || d <= 0 {
		return 500 * time.Millisecond
	}
	return d
}

func (s SyncConfig) GetBackoffCap() time.Duration {
	d, err := time.ParseDuration(s.BackoffCap)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

type MonitorConfig struct {
	ProbeURL      string `mapstructure:"probe_url"`
	ProbeInterval string `mapstructure:"probe_interval"`
	Debounce      string `mapstructure:"debounce"`
}

func (m MonitorConfig) GetProbeInterval() time.Duration {
	d, err := time.ParseDuration(m.ProbeInterval)
	if err != nil || d <= 0 {
		return 5 * time.Second
	}
	return d
}

func (m MonitorConfig) GetDebounce() time.Duration {
	d, err := time.ParseDuration(m.Debounce)
	if err != nil || d <= 0 {
		return 2 * time.Second
	}
	return d
}

type SchedulerConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Interval string `mapstructure:"interval"`
}

type SchemasConfig struct {
	Dir string `mapstructure:"dir"` // Optional; one <entity_type>.json per schema
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}
