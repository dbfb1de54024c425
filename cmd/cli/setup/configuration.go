package setup

import (
	"strings"
)

const defaultRedisPrefix = "devsetup:marker:"

// MarkersConfiguration selects and configures the idempotency marker store.
type MarkersConfiguration struct {
	Path          string `mapstructure:"path"`
	RedisAddress  string `mapstructure:"redis_address"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDatabase int    `mapstructure:"redis_db"`
	RedisPrefix   string `mapstructure:"redis_prefix"`
}

// RunConfiguration captures defaults for the run command.
type RunConfiguration struct {
	RequireUserInput bool   `mapstructure:"require_user_input"`
	MetricsFile      string `mapstructure:"metrics_file"`
}

// CommandConfiguration captures configuration values shared by the setup commands.
type CommandConfiguration struct {
	Markers MarkersConfiguration `mapstructure:"markers"`
	Run     RunConfiguration     `mapstructure:"run"`
}

// DefaultCommandConfiguration provides baseline configuration.
func DefaultCommandConfiguration() CommandConfiguration {
	return CommandConfiguration{
		Markers: MarkersConfiguration{RedisPrefix: defaultRedisPrefix},
		Run:     RunConfiguration{RequireUserInput: true},
	}
}

// Sanitize normalizes configuration values.
func (configuration CommandConfiguration) Sanitize() CommandConfiguration {
	sanitized := configuration
	sanitized.Markers.Path = strings.TrimSpace(configuration.Markers.Path)
	sanitized.Markers.RedisAddress = strings.TrimSpace(configuration.Markers.RedisAddress)
	sanitized.Markers.RedisPrefix = strings.TrimSpace(configuration.Markers.RedisPrefix)
	if sanitized.Markers.RedisPrefix == "" {
		sanitized.Markers.RedisPrefix = defaultRedisPrefix
	}
	if configuration.Markers.RedisDatabase < 0 {
		sanitized.Markers.RedisDatabase = 0
	}
	sanitized.Run.MetricsFile = strings.TrimSpace(configuration.Run.MetricsFile)
	return sanitized
}
