package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	Environment string
	JWTToken    string
	BaseURL     string

	PopupBaseURL string
	SDKOrigin    string
	ListenAddr   string
	RedisAddr    string
	DataDir      string

	PollInterval        time.Duration
	ClosedCheckInterval time.Duration
}

// Production reports whether the strict origin rules apply.
func (c *Config) Production() bool {
	return c.Environment == "production"
}

var globalConfig *Config

// Load reads configuration from environment variables and config file
func Load() (*Config, error) {
	viper.SetConfigName(".near-onramp")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("$HOME")
	viper.AddConfigPath(".")

	// Set default values
	viper.SetDefault("environment", "development")
	viper.SetDefault("base_url", "https://1click.chaindefuser.com")
	viper.SetDefault("popup_base_url", "http://localhost:8080")
	viper.SetDefault("listen_addr", ":8080")
	viper.SetDefault("poll_interval", "5s")
	viper.SetDefault("closed_check_interval", "1s")

	// Read from environment variables
	viper.SetEnvPrefix("ONRAMP")
	viper.AutomaticEnv()

	// Read config file (optional)
	_ = viper.ReadInConfig()

	// Create config struct
	cfg := &Config{
		Environment:         viper.GetString("environment"),
		JWTToken:            viper.GetString("jwt_token"),
		BaseURL:             viper.GetString("base_url"),
		PopupBaseURL:        viper.GetString("popup_base_url"),
		SDKOrigin:           viper.GetString("sdk_origin"),
		ListenAddr:          viper.GetString("listen_addr"),
		RedisAddr:           viper.GetString("redis_addr"),
		DataDir:             viper.GetString("data_dir"),
		PollInterval:        viper.GetDuration("poll_interval"),
		ClosedCheckInterval: viper.GetDuration("closed_check_interval"),
	}

	// Validate JWT token
	if cfg.JWTToken == "" {
		return nil, fmt.Errorf("JWT token not found. Please set ONRAMP_JWT_TOKEN environment variable or create a .near-onramp.yaml config file")
	}

	globalConfig = cfg
	return cfg, nil
}

// Get returns the global configuration
func Get() *Config {
	if globalConfig == nil {
		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
			os.Exit(1)
		}
		return cfg
	}
	return globalConfig
}

// Set updates the global configuration
func Set(cfg *Config) {
	globalConfig = cfg
}
