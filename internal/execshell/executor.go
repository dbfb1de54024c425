package execshell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tyemirov/devsetup/internal/utils"
)

const (
	loggerNotConfiguredMessageConstant         = "shell executor logger not configured"
	processRunnerNotConfiguredMessageConstant  = "shell executor process runner not configured"
	commandStartMessageConstant                = "command execution starting"
	commandSuccessMessageConstant              = "command execution completed"
	commandFailureMessageConstant              = "command returned non-zero status"
	commandRunnerErrorMessageConstant          = "command execution error"
	commandTimeoutMessageConstant              = "command execution timed out"
	commandLineFieldNameConstant               = "command"
	workingDirectoryFieldNameConstant          = "working_directory"
	timeoutFieldNameConstant                   = "timeout"
	elapsedFieldNameConstant                   = "elapsed"
	exitCodeFieldNameConstant                  = "exit_code"
	standardErrorFieldNameConstant             = "stderr"
	humanStartTemplateConstant                 = "Running %s"
	humanSuccessTemplateConstant               = "Finished %s"
	humanFailureTemplateConstant               = "%s exited with code %d"
	humanTimeoutTemplateConstant               = "%s timed out after %s"
	humanExecutionFailureTemplateConstant      = "Unable to run %s: %v"
	commandFailureErrorMessageTemplateConstant = "%q exited with code %d"
	commandExecutionErrorTemplateConstant      = "%q execution failed: %v"
	standardErrorTailLimitConstant             = 4096
	standardErrorDetailLineLimitConstant       = 3
)

var (
	// ErrLoggerNotConfigured indicates the logger dependency was missing.
	ErrLoggerNotConfigured = errors.New(loggerNotConfiguredMessageConstant)
	// ErrProcessRunnerNotConfigured indicates the process runner dependency was missing.
	ErrProcessRunnerNotConfigured = errors.New(processRunnerNotConfiguredMessageConstant)
)

// CommandDetails describes command invocation properties.
type CommandDetails struct {
	Timeout              time.Duration
	WorkingDirectory     string
	EnvironmentVariables map[string]string
	StandardOutput       io.Writer
	StandardError        io.Writer
}

// ShellCommand represents a fully qualified command invocation.
type ShellCommand struct {
	CommandLine string
	Details     CommandDetails
}

// ExecutionResult captures observable command results.
type ExecutionResult struct {
	ExitCode      int
	StandardError string
	Elapsed       time.Duration
}

// CommandFailedError provides details about commands exiting with a non-zero code.
type CommandFailedError struct {
	Command ShellCommand
	Result  ExecutionResult
}

// Error describes the failure in a readable format.
func (commandError CommandFailedError) Error() string {
	baseMessage := fmt.Sprintf(commandFailureErrorMessageTemplateConstant, commandError.Command.CommandLine, commandError.Result.ExitCode)

	detail := strings.TrimSpace(commandError.Result.StandardError)
	if len(detail) == 0 {
		return baseMessage
	}
	lines := strings.Split(detail, "\n")
	if len(lines) > standardErrorDetailLineLimitConstant {
		lines = lines[len(lines)-standardErrorDetailLineLimitConstant:]
	}
	normalized := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		normalized = append(normalized, trimmed)
	}
	if len(normalized) > 0 {
		baseMessage = fmt.Sprintf("%s: %s", baseMessage, strings.Join(normalized, " | "))
	}
	return baseMessage
}

// CommandExecutionError wraps failures raised by the process runner itself.
type CommandExecutionError struct {
	Command ShellCommand
	Cause   error
}

// Error describes the underlying runner failure.
func (executionError CommandExecutionError) Error() string {
	return fmt.Sprintf(commandExecutionErrorTemplateConstant, executionError.Command.CommandLine, executionError.Cause)
}

// Unwrap exposes the underlying error.
func (executionError CommandExecutionError) Unwrap() error {
	return executionError.Cause
}

// ShellExecutor orchestrates running shell commands with logging.
type ShellExecutor struct {
	processRunner        ProcessRunner
	logger               *zap.Logger
	humanReadableLogging bool
	contextAccessor      utils.CommandContextAccessor
}

// NewShellExecutor builds an executor for the provided runner and logger.
func NewShellExecutor(logger *zap.Logger, processRunner ProcessRunner, humanReadableLogging bool) (*ShellExecutor, error) {
	if logger == nil {
		return nil, ErrLoggerNotConfigured
	}
	if processRunner == nil {
		return nil, ErrProcessRunnerNotConfigured
	}
	return &ShellExecutor{
		processRunner:        processRunner,
		logger:               logger,
		humanReadableLogging: humanReadableLogging,
		contextAccessor:      utils.NewCommandContextAccessor(),
	}, nil
}

// Execute runs the command and returns its exit code without judging it.
func (executor *ShellExecutor) Execute(executionContext context.Context, command ShellCommand) (ExecutionResult, error) {
	logger := executor.contextLogger(executionContext)
	if executor.humanReadableLogging {
		logger.Info(fmt.Sprintf(humanStartTemplateConstant, command.CommandLine))
	} else {
		logger.Info(commandStartMessageConstant,
			zap.String(commandLineFieldNameConstant, command.CommandLine),
			zap.String(workingDirectoryFieldNameConstant, command.Details.WorkingDirectory),
			zap.Duration(timeoutFieldNameConstant, command.Details.Timeout),
		)
	}

	standardErrorTail := newTailBuffer(standardErrorTailLimitConstant)
	var standardErrorSink io.Writer = standardErrorTail
	if command.Details.StandardError != nil {
		standardErrorSink = io.MultiWriter(command.Details.StandardError, standardErrorTail)
	}

	processResult, runError := executor.processRunner.Run(executionContext, ProcessRequest{
		CommandLine:      command.CommandLine,
		Timeout:          command.Details.Timeout,
		Environment:      command.Details.EnvironmentVariables,
		StandardOutput:   command.Details.StandardOutput,
		StandardError:    standardErrorSink,
		WorkingDirectory: command.Details.WorkingDirectory,
	})
	executionResult := ExecutionResult{
		ExitCode:      processResult.ExitCode,
		StandardError: standardErrorTail.String(),
		Elapsed:       processResult.Elapsed,
	}

	if runError != nil {
		var timeoutError ProcessTimeoutError
		switch {
		case errors.As(runError, &timeoutError):
			if executor.humanReadableLogging {
				logger.Error(fmt.Sprintf(humanTimeoutTemplateConstant, command.CommandLine, timeoutError.Elapsed.Round(time.Millisecond)))
			} else {
				logger.Error(commandTimeoutMessageConstant,
					zap.String(commandLineFieldNameConstant, command.CommandLine),
					zap.Duration(elapsedFieldNameConstant, timeoutError.Elapsed),
				)
			}
		case executor.humanReadableLogging:
			logger.Error(fmt.Sprintf(humanExecutionFailureTemplateConstant, command.CommandLine, runError))
		default:
			logger.Error(commandRunnerErrorMessageConstant,
				zap.String(commandLineFieldNameConstant, command.CommandLine),
				zap.Error(runError),
			)
		}
		return executionResult, CommandExecutionError{Command: command, Cause: runError}
	}

	if executionResult.ExitCode != 0 {
		if executor.humanReadableLogging {
			logger.Warn(fmt.Sprintf(humanFailureTemplateConstant, command.CommandLine, executionResult.ExitCode))
		} else {
			logger.Warn(commandFailureMessageConstant,
				zap.String(commandLineFieldNameConstant, command.CommandLine),
				zap.Int(exitCodeFieldNameConstant, executionResult.ExitCode),
				zap.String(standardErrorFieldNameConstant, executionResult.StandardError),
			)
		}
		return executionResult, nil
	}

	if executor.humanReadableLogging {
		logger.Info(fmt.Sprintf(humanSuccessTemplateConstant, command.CommandLine))
	} else {
		logger.Info(commandSuccessMessageConstant,
			zap.String(commandLineFieldNameConstant, command.CommandLine),
			zap.Int(exitCodeFieldNameConstant, executionResult.ExitCode),
			zap.Duration(elapsedFieldNameConstant, executionResult.Elapsed),
		)
	}
	return executionResult, nil
}

// ExecuteChecked runs the command and treats a non-zero exit code as CommandFailedError.
func (executor *ShellExecutor) ExecuteChecked(executionContext context.Context, command ShellCommand) (ExecutionResult, error) {
	executionResult, executionError := executor.Execute(executionContext, command)
	if executionError != nil {
		return executionResult, executionError
	}
	if executionResult.ExitCode != 0 {
		return executionResult, CommandFailedError{Command: command, Result: executionResult}
	}
	return executionResult, nil
}

func (executor *ShellExecutor) contextLogger(executionContext context.Context) *zap.Logger {
	if contextual, available := executor.contextAccessor.Logger(executionContext); available {
		return contextual
	}
	return executor.logger
}

// tailBuffer keeps the most recent bytes written to it.
type tailBuffer struct {
	mutex sync.Mutex
	limit int
	data  []byte
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (buffer *tailBuffer) Write(payload []byte) (int, error) {
	buffer.mutex.Lock()
	defer buffer.mutex.Unlock()
	buffer.data = append(buffer.data, payload...)
	if overflow := len(buffer.data) - buffer.limit; overflow > 0 {
		buffer.data = append(buffer.data[:0], buffer.data[overflow:]...)
	}
	return len(payload), nil
}

func (buffer *tailBuffer) String() string {
	buffer.mutex.Lock()
	defer buffer.mutex.Unlock()
	return string(buffer.data)
}
