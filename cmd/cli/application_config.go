package cli

import (
	_ "embed"

	setupcmd "github.com/tyemirov/devsetup/cmd/cli/setup"
)

const embeddedConfigurationTypeConstant = "yaml"

//go:embed default_config.yaml
var embeddedDefaultConfiguration []byte

// ApplicationConfiguration describes the persisted configuration for the CLI entrypoint.
type ApplicationConfiguration struct {
	Common  ApplicationCommonConfiguration `mapstructure:"common"`
	Markers setupcmd.MarkersConfiguration  `mapstructure:"markers"`
	Run     setupcmd.RunConfiguration      `mapstructure:"run"`
}

// ApplicationCommonConfiguration stores logging defaults shared across commands.
type ApplicationCommonConfiguration struct {
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

// EmbeddedDefaultConfiguration returns the configuration shipped with the binary and its format.
func EmbeddedDefaultConfiguration() ([]byte, string) {
	duplicated := make([]byte, len(embeddedDefaultConfiguration))
	copy(duplicated, embeddedDefaultConfiguration)
	return duplicated, embeddedConfigurationTypeConstant
}

func (application *Application) setupCommandConfiguration() setupcmd.CommandConfiguration {
	return setupcmd.CommandConfiguration{
		Markers: application.configuration.Markers,
		Run:     application.configuration.Run,
	}.Sanitize()
}
