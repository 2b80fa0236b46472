package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("FIELDSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")

	v.SetDefault("state_storage.type", "sqlite")
	v.SetDefault("state_storage.file_path", "fieldsync.db")

	v.SetDefault("remote.send_timeout", "30s")

	v.SetDefault("sync.concurrency", 4)
	v.SetDefault("sync.max_attempts", 8)
	v.SetDefault("sync.backoff_base", "500ms")
	v.SetDefault("sync.backoff_cap", "30s")
	v.SetDefault("sync.batch_size", 500)
	v.SetDefault("sync.history_limit", 100)

	v.SetDefault("monitor.probe_interval", "5s")
	v.SetDefault("monitor.debounce", "2s")

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval", "@every 1m")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.max_size_mb", 50)
	v.SetDefault("logging.max_backups", 3)
}
