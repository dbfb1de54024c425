package taskrunner

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tyemirov/devsetup/internal/execshell"
	"github.com/tyemirov/devsetup/internal/markers"
	"github.com/tyemirov/devsetup/internal/tasks"
)

var errMarkerStoreMissing = errors.New("taskrunner.dependencies.marker_store: store not configured")

// EnvironmentProvider resolves the directories tasks write into.
type EnvironmentProvider func(output io.Writer) (tasks.Environment, error)

// DependenciesConfig captures providers required to build setup task dependencies.
type DependenciesConfig struct {
	LoggerProvider               func() *zap.Logger
	HumanReadableLoggingProvider func() bool
	ProcessRunner                execshell.ProcessRunner
	MarkerStore                  markers.Store
	EnvironmentProvider          EnvironmentProvider
}

// DependenciesOptions allows per-command overrides when resolving dependencies.
type DependenciesOptions struct {
	Command *cobra.Command
	Output  io.Writer
	Errors  io.Writer
}

// DependenciesResult exposes resolved collaborators.
type DependenciesResult struct {
	Tasks    tasks.Dependencies
	Executor *execshell.ShellExecutor
	Output   io.Writer
	Errors   io.Writer
}

// BuildDependencies resolves the logger, shell executor, marker store, and environment for a run.
func BuildDependencies(config DependenciesConfig, options DependenciesOptions) (DependenciesResult, error) {
	if config.MarkerStore == nil {
		return DependenciesResult{}, errMarkerStoreMissing
	}

	logger := resolveLogger(config.LoggerProvider)
	humanReadable := false
	if config.HumanReadableLoggingProvider != nil {
		humanReadable = config.HumanReadableLoggingProvider()
	}

	processRunner := config.ProcessRunner
	if processRunner == nil {
		processRunner = execshell.NewShellProcessRunner()
	}
	shellExecutor, executorError := execshell.NewShellExecutor(logger, processRunner, humanReadable)
	if executorError != nil {
		return DependenciesResult{}, fmt.Errorf("taskrunner.dependencies.executor: %w", executorError)
	}

	outputWriter := resolveWriter(options.Output, options.Command, true)
	errorWriter := resolveWriter(options.Errors, options.Command, false)

	environmentProvider := config.EnvironmentProvider
	if environmentProvider == nil {
		environmentProvider = tasks.DefaultEnvironment
	}
	environment, environmentError := environmentProvider(outputWriter)
	if environmentError != nil {
		return DependenciesResult{}, fmt.Errorf("taskrunner.dependencies.environment: %w", environmentError)
	}
	if environment.Output == nil {
		environment.Output = outputWriter
	}

	return DependenciesResult{
		Tasks: tasks.Dependencies{
			Logger:      logger,
			Executor:    shellExecutor,
			Markers:     config.MarkerStore,
			Environment: environment,
		},
		Executor: shellExecutor,
		Output:   outputWriter,
		Errors:   errorWriter,
	}, nil
}

func resolveLogger(provider func() *zap.Logger) *zap.Logger {
	if provider == nil {
		return zap.NewNop()
	}
	logger := provider()
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

func resolveWriter(provided io.Writer, command *cobra.Command, useStdout bool) io.Writer {
	if provided != nil {
		return provided
	}
	if command != nil {
		if useStdout {
			if writer := command.OutOrStdout(); writer != nil && writer != io.Discard {
				return writer
			}
		} else {
			if writer := command.ErrOrStderr(); writer != nil && writer != io.Discard {
				return writer
			}
		}
	}
	if useStdout {
		return os.Stdout
	}
	return os.Stderr
}
