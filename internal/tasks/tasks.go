// Package tasks provides the catalogue of setup task kinds.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/tyemirov/devsetup/internal/execshell"
	"github.com/tyemirov/devsetup/internal/markers"
	"github.com/tyemirov/devsetup/internal/setup"
	"github.com/tyemirov/devsetup/internal/utils"
)

const (
	sshDirectoryNameConstant                = ".ssh"
	homePrefixConstant                      = "~"
	executorNotConfiguredMessageConstant    = "task command executor not configured"
	markerStoreNotConfiguredMessageConstant = "task marker store not configured"
	homeDirectoryMissingMessageConstant     = "task home directory not configured"
	shellSingleQuoteConstant                = "'"
	shellEscapedSingleQuoteConstant         = `'"'"'`
	artifactPathFieldNameConstant           = "path"
)

var (
	// ErrExecutorNotConfigured indicates the dependencies lack a command executor.
	ErrExecutorNotConfigured = errors.New(executorNotConfiguredMessageConstant)
	// ErrMarkerStoreNotConfigured indicates the dependencies lack a marker store.
	ErrMarkerStoreNotConfigured = errors.New(markerStoreNotConfiguredMessageConstant)
	// ErrHomeDirectoryMissing indicates the environment lacks a home directory.
	ErrHomeDirectoryMissing = errors.New(homeDirectoryMissingMessageConstant)
)

// CommandExecutor runs shell commands on behalf of tasks.
type CommandExecutor interface {
	Execute(executionContext context.Context, command execshell.ShellCommand) (execshell.ExecutionResult, error)
	ExecuteChecked(executionContext context.Context, command execshell.ShellCommand) (execshell.ExecutionResult, error)
}

// Environment locates the user's files. Tests point it at temporary directories.
type Environment struct {
	HomeDirectory string
	SSHDirectory  string
	Output        io.Writer
}

// DefaultEnvironment resolves the current user's home and ssh directories.
func DefaultEnvironment(output io.Writer) (Environment, error) {
	homeDirectory, homeError := os.UserHomeDir()
	if homeError != nil {
		return Environment{}, homeError
	}
	if output == nil {
		output = os.Stdout
	}
	return Environment{
		HomeDirectory: homeDirectory,
		SSHDirectory:  filepath.Join(homeDirectory, sshDirectoryNameConstant),
		Output:        output,
	}, nil
}

// Dependencies are shared by every task kind.
type Dependencies struct {
	Logger      *zap.Logger
	Executor    CommandExecutor
	Markers     markers.Store
	Environment Environment
}

func (dependencies Dependencies) validate() error {
	if dependencies.Executor == nil {
		return ErrExecutorNotConfigured
	}
	if dependencies.Markers == nil {
		return ErrMarkerStoreNotConfigured
	}
	if len(strings.TrimSpace(dependencies.Environment.HomeDirectory)) == 0 {
		return ErrHomeDirectoryMissing
	}
	return nil
}

// Kinds lists every task kind bound to the dependencies.
func Kinds(dependencies Dependencies) []setup.TaskKind {
	return []setup.TaskKind{
		personalDataKind(dependencies),
		hostnameKind(dependencies),
		gitConfigKind(dependencies),
		mavenSettingsKind(dependencies),
		generateSSHKeyKind(dependencies),
		displaySSHKeyKind(dependencies),
		gitCloneKind(dependencies),
	}
}

// RegisterAll registers the whole catalogue.
func RegisterAll(registry *setup.Registry, dependencies Dependencies) error {
	if validationError := dependencies.validate(); validationError != nil {
		return validationError
	}
	if dependencies.Logger == nil {
		dependencies.Logger = zap.NewNop()
	}
	if dependencies.Environment.Output == nil {
		dependencies.Environment.Output = io.Discard
	}
	if len(dependencies.Environment.SSHDirectory) == 0 {
		dependencies.Environment.SSHDirectory = filepath.Join(dependencies.Environment.HomeDirectory, sshDirectoryNameConstant)
	}
	for _, kind := range Kinds(dependencies) {
		if registrationError := registry.Register(kind); registrationError != nil {
			return registrationError
		}
	}
	return nil
}

// baseTask carries what every task kind shares.
type baseTask struct {
	identity        setup.Identity
	dependencies    Dependencies
	contextAccessor utils.CommandContextAccessor
}

func newBaseTask(definition setup.TaskDefinition, dependencies Dependencies) baseTask {
	return baseTask{
		identity:        definition.Identity(),
		dependencies:    dependencies,
		contextAccessor: utils.NewCommandContextAccessor(),
	}
}

func (task baseTask) Identity() setup.Identity {
	return task.identity
}

func (task baseTask) logger(executionContext context.Context) *zap.Logger {
	if contextual, available := task.contextAccessor.Logger(executionContext); available {
		return contextual
	}
	if task.dependencies.Logger != nil {
		return task.dependencies.Logger
	}
	return zap.NewNop()
}

func (task baseTask) flagExecuted(executionContext context.Context) (bool, error) {
	return markers.FlagProbe(executionContext, task.dependencies.Markers, task.identity.String())
}

func (task baseTask) markExecuted(executionContext context.Context) error {
	return markers.MarkDone(executionContext, task.dependencies.Markers, task.identity.String())
}

func (task baseTask) homePath(elements ...string) string {
	return filepath.Join(append([]string{task.dependencies.Environment.HomeDirectory}, elements...)...)
}

func (task baseTask) expandHome(path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == homePrefixConstant {
		return task.dependencies.Environment.HomeDirectory
	}
	if strings.HasPrefix(trimmed, homePrefixConstant+string(filepath.Separator)) {
		return task.homePath(trimmed[2:])
	}
	return trimmed
}

// runCommand streams the command's output into the task log.
func (task baseTask) runCommand(executionContext context.Context, command execshell.ShellCommand, checked bool) (execshell.ExecutionResult, error) {
	standardOutput, standardError := execshell.NewStandardStreamWriters(task.logger(executionContext))
	defer standardOutput.Flush()
	defer standardError.Flush()
	command.Details.StandardOutput = standardOutput
	command.Details.StandardError = standardError

	if checked {
		return task.dependencies.Executor.ExecuteChecked(executionContext, command)
	}
	return task.dependencies.Executor.Execute(executionContext, command)
}

func (task baseTask) printf(format string, arguments ...any) error {
	_, writeError := fmt.Fprintf(task.dependencies.Environment.Output, format, arguments...)
	return writeError
}

func shellQuote(value string) string {
	return shellSingleQuoteConstant + strings.ReplaceAll(value, shellSingleQuoteConstant, shellEscapedSingleQuoteConstant) + shellSingleQuoteConstant
}

func decodeInto(definition setup.TaskDefinition, target any) error {
	return setup.DecodeAttributes(definition.Attributes, target)
}
