// Package setup exposes the devsetup run, validate, and status commands.
package setup

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tyemirov/devsetup/internal/execshell"
	setuppkg "github.com/tyemirov/devsetup/internal/setup"
	"github.com/tyemirov/devsetup/pkg/taskrunner"
)

const (
	taskFileArgumentName      = "tasks.yaml"
	markerStoreCloseFieldName = "marker_store_close"
	markerStoreCloseMessage   = "unable to release marker store"
)

// LoggerProvider yields the logger configured for the current command.
type LoggerProvider func() *zap.Logger

// Providers carry the collaborators shared by every setup command.
type Providers struct {
	LoggerProvider               LoggerProvider
	HumanReadableLoggingProvider func() bool
	ConfigurationProvider        func() CommandConfiguration
	ProcessRunner                execshell.ProcessRunner
	MarkerStoreOpener            MarkerStoreOpener
	EnvironmentProvider          taskrunner.EnvironmentProvider
	TaskRunnerFactory            taskrunner.Factory
}

type session struct {
	configuration CommandConfiguration
	dependencies  taskrunner.DependenciesResult
	taskSet       *setuppkg.TaskSet
	release       func() error
}

func (providers Providers) resolveConfiguration() CommandConfiguration {
	if providers.ConfigurationProvider == nil {
		return DefaultCommandConfiguration()
	}
	return providers.ConfigurationProvider().Sanitize()
}

func (providers Providers) logger() *zap.Logger {
	if providers.LoggerProvider == nil {
		return zap.NewNop()
	}
	if logger := providers.LoggerProvider(); logger != nil {
		return logger
	}
	return zap.NewNop()
}

// open resolves dependencies and loads the task file named by the single positional argument.
func (providers Providers) open(command *cobra.Command, arguments []string) (*session, error) {
	if len(arguments) != 1 {
		return nil, fmt.Errorf("expected exactly one %s argument", taskFileArgumentName)
	}
	configuration := providers.resolveConfiguration()

	opener := providers.MarkerStoreOpener
	if opener == nil {
		opener = OpenMarkerStore
	}
	store, release, openError := opener(configuration.Markers)
	if openError != nil {
		return nil, openError
	}
	if release == nil {
		release = func() error { return nil }
	}

	var output io.Writer
	var errorOutput io.Writer
	if command != nil {
		output = command.OutOrStdout()
		errorOutput = command.ErrOrStderr()
	}
	dependencies, dependenciesError := taskrunner.BuildDependencies(
		taskrunner.DependenciesConfig{
			LoggerProvider:               providers.logger,
			HumanReadableLoggingProvider: providers.HumanReadableLoggingProvider,
			ProcessRunner:                providers.ProcessRunner,
			MarkerStore:                  store,
			EnvironmentProvider:          providers.EnvironmentProvider,
		},
		taskrunner.DependenciesOptions{Command: command, Output: output, Errors: errorOutput},
	)
	if dependenciesError != nil {
		return nil, errors.Join(dependenciesError, release())
	}

	taskSet, loadError := taskrunner.LoadTaskSet(arguments[0], dependencies.Tasks)
	if loadError != nil {
		return nil, errors.Join(loadError, release())
	}

	return &session{
		configuration: configuration,
		dependencies:  dependencies,
		taskSet:       taskSet,
		release:       release,
	}, nil
}

func (providers Providers) close(activeSession *session) {
	if activeSession == nil || activeSession.release == nil {
		return
	}
	if releaseError := activeSession.release(); releaseError != nil {
		providers.logger().Warn(markerStoreCloseMessage, zap.NamedError(markerStoreCloseFieldName, releaseError))
	}
}
