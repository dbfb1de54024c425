package version

import (
	"bytes"
	"context"
	"errors"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tyemirov/devsetup/internal/execshell"
)

const (
	unknownVersionFallbackConstant            = "unknown"
	buildInfoDevelVersionValueConstant        = "devel"
	gitShowTopLevelCommandConstant            = "git rev-parse --show-toplevel"
	gitDescribeExactCommandConstant           = "git describe --tags --exact-match"
	gitDescribeLongCommandConstant            = "git describe --tags --long --dirty"
	gitTerminalPromptEnvironmentNameConstant  = "GIT_TERMINAL_PROMPT"
	gitTerminalPromptEnvironmentValueConstant = "0"
	gitCommandTimeoutConstant                 = 5 * time.Second
	commandExecutorMissingMessageConstant     = "version command executor not configured"
)

// Injected is set at link time with -ldflags "-X github.com/tyemirov/devsetup/internal/version.Injected=v1.2.3"
// and wins over every other source.
var Injected string

// BuildInfoProvider exposes runtime build metadata.
type BuildInfoProvider interface {
	Read() (*debug.BuildInfo, bool)
}

// CommandExecutor runs git for version detection.
type CommandExecutor interface {
	ExecuteChecked(executionContext context.Context, command execshell.ShellCommand) (execshell.ExecutionResult, error)
}

// Detector resolves application version strings.
type Detector struct {
	injectedVersion   string
	buildInfoProvider BuildInfoProvider
	commandExecutor   CommandExecutor
	workingDirectory  string
}

// Dependencies describes the collaborators required for version detection.
type Dependencies struct {
	// InjectedVersion overrides Injected; empty means use Injected.
	InjectedVersion   string
	BuildInfoProvider BuildInfoProvider
	CommandExecutor   CommandExecutor
	WorkingDirectory  string
}

// NewDetector constructs a Detector with the supplied dependencies or sensible defaults.
func NewDetector(dependencies Dependencies) (*Detector, error) {
	provider := dependencies.BuildInfoProvider
	if provider == nil {
		provider = runtimeBuildInfoProvider{}
	}

	executor := dependencies.CommandExecutor
	if executor == nil {
		shellExecutor, creationError := execshell.NewShellExecutor(zap.NewNop(), execshell.NewShellProcessRunner(), false)
		if creationError != nil {
			return nil, creationError
		}
		executor = shellExecutor
	}

	workingDirectory := strings.TrimSpace(dependencies.WorkingDirectory)
	if len(workingDirectory) == 0 {
		currentDirectory, workingDirectoryError := os.Getwd()
		if workingDirectoryError == nil {
			workingDirectory = currentDirectory
		}
	}

	injectedVersion := strings.TrimSpace(dependencies.InjectedVersion)
	if len(injectedVersion) == 0 {
		injectedVersion = strings.TrimSpace(Injected)
	}

	return &Detector{
		injectedVersion:   injectedVersion,
		buildInfoProvider: provider,
		commandExecutor:   executor,
		workingDirectory:  workingDirectory,
	}, nil
}

// Detect resolves the application version using the supplied dependencies.
func Detect(executionContext context.Context, dependencies Dependencies) string {
	detector, detectorError := NewDetector(dependencies)
	if detectorError != nil {
		return unknownVersionFallbackConstant
	}
	return detector.Version(executionContext)
}

// Version prefers the link-time version, then module build info, then an exact tag, then a long describe.
func (detector *Detector) Version(executionContext context.Context) string {
	if detector == nil {
		return unknownVersionFallbackConstant
	}
	if len(detector.injectedVersion) > 0 {
		return detector.injectedVersion
	}

	if buildVersion := detector.versionFromBuildInfo(); len(buildVersion) > 0 {
		return buildVersion
	}

	repositoryRoot := detector.resolveRepositoryRoot(executionContext)
	for _, describeCommand := range []string{gitDescribeExactCommandConstant, gitDescribeLongCommandConstant} {
		if described, describeError := detector.runGit(executionContext, describeCommand, repositoryRoot); describeError == nil && len(described) > 0 {
			return described
		}
	}

	return unknownVersionFallbackConstant
}

func (detector *Detector) versionFromBuildInfo() string {
	if detector.buildInfoProvider == nil {
		return ""
	}

	buildInfo, available := detector.buildInfoProvider.Read()
	if !available || buildInfo == nil {
		return ""
	}

	trimmedVersion := strings.TrimSpace(buildInfo.Main.Version)
	if len(trimmedVersion) == 0 || strings.EqualFold(trimmedVersion, buildInfoDevelVersionValueConstant) {
		return ""
	}
	return trimmedVersion
}

func (detector *Detector) resolveRepositoryRoot(executionContext context.Context) string {
	if len(detector.workingDirectory) == 0 {
		return ""
	}
	topLevel, topLevelError := detector.runGit(executionContext, gitShowTopLevelCommandConstant, detector.workingDirectory)
	if topLevelError != nil || len(topLevel) == 0 {
		return detector.workingDirectory
	}
	return topLevel
}

func (detector *Detector) runGit(executionContext context.Context, commandLine string, workingDirectory string) (string, error) {
	if detector.commandExecutor == nil {
		return "", errors.New(commandExecutorMissingMessageConstant)
	}

	standardOutput := &bytes.Buffer{}
	_, executionError := detector.commandExecutor.ExecuteChecked(executionContext, execshell.ShellCommand{
		CommandLine: commandLine,
		Details: execshell.CommandDetails{
			Timeout:              gitCommandTimeoutConstant,
			WorkingDirectory:     workingDirectory,
			EnvironmentVariables: map[string]string{gitTerminalPromptEnvironmentNameConstant: gitTerminalPromptEnvironmentValueConstant},
			StandardOutput:       standardOutput,
		},
	})
	if executionError != nil {
		return "", executionError
	}
	return strings.TrimSpace(standardOutput.String()), nil
}

type runtimeBuildInfoProvider struct{}

func (runtimeBuildInfoProvider) Read() (*debug.BuildInfo, bool) {
	return debug.ReadBuildInfo()
}
