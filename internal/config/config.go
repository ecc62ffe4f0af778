package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	config := GetDefaults()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("/etc/scribe-sentinel/")
	viper.AddConfigPath("$HOME/.scribe-sentinel/")

	// Environment variable overrides, e.g. SCRIBE_COMPLETION_MODEL
	viper.SetEnvPrefix("SCRIBE")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		viper.SetConfigFile(configPath)
	}

	if err := viper.ReadInConfig(); err != nil {
		// Config file not found is not an error - we'll use defaults
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// validateConfig validates the loaded configuration
func validateConfig(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("invalid max body size: %d", config.Server.MaxBodyBytes)
	}

	if config.Logging.Level != "debug" && config.Logging.Level != "info" && config.Logging.Level != "warn" && config.Logging.Level != "error" {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level)
	}

	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", config.Logging.Format)
	}

	if len(config.Privacy.Detectors) == 0 {
		return fmt.Errorf("at least one privacy detector must be listed (use \"all\" for every category)")
	}

	u, err := url.Parse(config.Completion.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid completion base URL: %q", config.Completion.BaseURL)
	}

	if config.Completion.Model == "" {
		return fmt.Errorf("completion model must be set")
	}

	if config.Completion.Timeout <= 0 {
		return fmt.Errorf("invalid completion timeout: %s", config.Completion.Timeout)
	}

	if config.Completion.MaxAttempts < 1 {
		return fmt.Errorf("invalid completion max attempts: %d (must be at least 1)", config.Completion.MaxAttempts)
	}

	if config.RateLimit.Enabled && (config.RateLimit.RequestsPerMin <= 0 || config.RateLimit.Burst <= 0) {
		return fmt.Errorf("invalid rate limit: %d/min burst %d", config.RateLimit.RequestsPerMin, config.RateLimit.Burst)
	}

	if config.Cache.Enabled && config.Cache.RedisURL == "" {
		return fmt.Errorf("cache enabled but redis_url is empty")
	}

	if config.Database.Enabled && config.Database.DatabaseURL == "" {
		return fmt.Errorf("database enabled but database_url is empty")
	}

	return nil
}

// Watch starts watching the configuration file for changes
func Watch(config *Config, callback func(*Config)) error {
	viper.WatchConfig()
	viper.OnConfigChange(func(e fsnotify.Event) {
		newConfig := GetDefaults()
		if err := viper.Unmarshal(newConfig); err != nil {
			// Keep running on the previous configuration
			return
		}

		if err := validateConfig(newConfig); err != nil {
			return
		}

		callback(newConfig)
	})

	return nil
}
