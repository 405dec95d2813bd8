// Package config provides configuration management for ghmd using Viper.
//
// Values are loaded from a .ghmd.yml file, environment variables with the
// GHMD_ prefix, and command-line flags, with flags taking precedence over
// the environment and the environment over the file. Load applies defaults
// for everything except the render token, which must be supplied by the
// user.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Defaults applied by Load when a value is not configured anywhere.
const (
	DefaultHost    = "0.0.0.0"
	DefaultPort    = 39131
	DefaultAPIURL  = "https://api.github.com/markdown"
	DefaultIconURL = "https://cdn.jsdelivr.net/gh/primer/octicons@14.2.2/icons"
	DefaultTimeout = 30 * time.Second
	DefaultTheme   = "dark"
)

type Config struct {
	Server   ServerConfig  `yaml:"server" mapstructure:"server"`
	Render   RenderConfig  `yaml:"render" mapstructure:"render"`
	Preview  PreviewConfig `yaml:"preview" mapstructure:"preview"`
	LogLevel string        `yaml:"log-level" mapstructure:"log-level"`
}

type ServerConfig struct {
	Host string `yaml:"host" mapstructure:"host"`
	Port int    `yaml:"port" mapstructure:"port"`
}

// RenderConfig configures the external render and icon services.
type RenderConfig struct {
	// Token is the bearer token for the render API. Required.
	Token   string        `yaml:"token" mapstructure:"token"`
	APIURL  string        `yaml:"api_url" mapstructure:"api_url"`
	IconURL string        `yaml:"icon_url" mapstructure:"icon_url"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
	// Rate is the courtesy limit for outbound render calls, in requests
	// per second. Zero disables client-side limiting.
	Rate  float64 `yaml:"rate" mapstructure:"rate"`
	Burst int     `yaml:"burst" mapstructure:"burst"`
}

type PreviewConfig struct {
	Theme string `yaml:"theme" mapstructure:"theme"`
	// Title of the generated page. Defaults to the watched file's path.
	Title string `yaml:"title" mapstructure:"title"`
}

// Load unmarshals the current Viper state into a Config and fills in
// defaults. It does not validate; call Validate before using the result.
func Load() (*Config, error) {
	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if config.Server.Host == "" {
		config.Server.Host = DefaultHost
	}
	if config.Server.Port == 0 {
		config.Server.Port = DefaultPort
	}
	if config.Render.APIURL == "" {
		config.Render.APIURL = DefaultAPIURL
	}
	if config.Render.IconURL == "" {
		config.Render.IconURL = DefaultIconURL
	}
	if config.Render.Timeout == 0 {
		config.Render.Timeout = DefaultTimeout
	}
	if config.Render.Burst == 0 {
		config.Render.Burst = 1
	}
	if config.Preview.Theme == "" {
		config.Preview.Theme = DefaultTheme
	}
	if config.LogLevel == "" {
		config.LogLevel = viper.GetString("log-level")
	}

	return &config, nil
}

// Validate checks the configuration for values that would make the server
// unable to run.
func (c *Config) Validate() error {
	if c.Render.Token == "" {
		return fmt.Errorf("no render token configured: set render.token, GHMD_RENDER_TOKEN, or --token")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	switch c.Preview.Theme {
	case "dark", "light":
	default:
		return fmt.Errorf("invalid theme %q: must be dark or light", c.Preview.Theme)
	}
	if c.Render.Rate < 0 {
		return fmt.Errorf("invalid render rate %v", c.Render.Rate)
	}
	return nil
}
