package config

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	// Set defaults
	config := GetDefaults()

	// Configure viper
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("/etc/pii-vault/")
	viper.AddConfigPath("$HOME/.pii-vault/")

	// Environment variable overrides
	viper.SetEnvPrefix("PIIVAULT")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Use specific config file if provided
	if configPath != "" {
		viper.SetConfigFile(configPath)
	}

	// Read configuration
	if err := viper.ReadInConfig(); err != nil {
		// Config file not found is not an error - we'll use defaults
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Unmarshal into config struct
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// validateConfig validates the loaded configuration
func validateConfig(config *Config) error {
	switch config.Detector.Backend {
	case "pattern", "model", "remote":
	default:
		return fmt.Errorf("invalid detector backend: %s (must be pattern, model, or remote)", config.Detector.Backend)
	}

	if config.Chunking.MaxSize <= 0 {
		return fmt.Errorf("chunking max_size must be positive, got %d", config.Chunking.MaxSize)
	}

	if config.Chunking.Overlap < 0 || config.Chunking.Overlap >= config.Chunking.MaxSize {
		return fmt.Errorf("chunking overlap must be in [0, max_size), got %d", config.Chunking.Overlap)
	}

	if config.Anonymizer.MaxWorkers < 1 {
		return fmt.Errorf("max_workers must be at least 1, got %d", config.Anonymizer.MaxWorkers)
	}

	if config.Detector.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative, got %d", config.Detector.MaxRetries)
	}

	if config.Output.MappingFile == "" {
		return fmt.Errorf("output mapping_file must not be empty")
	}

	if config.Logging.Level != "debug" && config.Logging.Level != "info" && config.Logging.Level != "warn" && config.Logging.Level != "error" {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level)
	}

	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", config.Logging.Format)
	}

	return nil
}

// Watch starts watching the configuration file for changes
func Watch(config *Config, callback func(*Config)) error {
	viper.WatchConfig()
	viper.OnConfigChange(func(e fsnotify.Event) {
		newConfig := GetDefaults()
		if err := viper.Unmarshal(newConfig); err != nil {
			// Log error but don't crash
			return
		}

		if err := validateConfig(newConfig); err != nil {
			// Log error but don't crash
			return
		}

		callback(newConfig)
	})

	return nil
}
