package cli

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	setupcmd "github.com/tyemirov/devsetup/cmd/cli/setup"
)

type commandBuilder interface {
	Build() (*cobra.Command, error)
}

// ApplicationOption customizes an Application during construction.
type ApplicationOption func(*Application)

// WithCommandProviders overrides the collaborators handed to the run, validate, and status commands.
// Logger and configuration providers left nil are filled in from the application.
func WithCommandProviders(providers setupcmd.Providers) ApplicationOption {
	return func(application *Application) {
		application.commandProviders = providers
	}
}

// WithExitFunction replaces os.Exit for the --version short circuit.
func WithExitFunction(exitFunction func(int)) ApplicationOption {
	return func(application *Application) {
		if exitFunction != nil {
			application.exitFunction = exitFunction
		}
	}
}

func (application *Application) registerCommands(cobraCommand *cobra.Command) {
	providers := application.commandProviders
	if providers.LoggerProvider == nil {
		providers.LoggerProvider = func() *zap.Logger {
			return application.logger
		}
	}
	if providers.HumanReadableLoggingProvider == nil {
		providers.HumanReadableLoggingProvider = application.humanReadableLoggingEnabled
	}
	if providers.ConfigurationProvider == nil {
		providers.ConfigurationProvider = application.setupCommandConfiguration
	}

	builders := []commandBuilder{
		&setupcmd.RunCommandBuilder{Providers: providers},
		&setupcmd.ValidateCommandBuilder{Providers: providers},
		&setupcmd.StatusCommandBuilder{Providers: providers},
	}
	for _, builder := range builders {
		command, buildError := builder.Build()
		if buildError != nil {
			continue
		}
		cobraCommand.AddCommand(command)
	}
}
