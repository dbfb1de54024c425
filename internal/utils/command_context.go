package utils

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

type commandContextKey string

const (
	configurationFilePathContextKey commandContextKey = "configurationFilePath"
	executionFlagsContextKey        commandContextKey = "executionFlags"
	logLevelContextKey              commandContextKey = "logLevel"
	loggerContextKey                commandContextKey = "logger"
	taskIdentityContextKey          commandContextKey = "taskIdentity"
)

// ExecutionFlags captures the --dry-run and --allow-missing-input values and whether each was set.
type ExecutionFlags struct {
	DryRun               bool
	DryRunSet            bool
	AllowMissingInput    bool
	AllowMissingInputSet bool
}

// CommandContextAccessor stores and retrieves per-command values on a context.
// A nil parent context is treated as context.Background().
type CommandContextAccessor struct{}

// NewCommandContextAccessor constructs a CommandContextAccessor instance.
func NewCommandContextAccessor() CommandContextAccessor {
	return CommandContextAccessor{}
}

func attach(parentContext context.Context, key commandContextKey, value any) context.Context {
	if parentContext == nil {
		parentContext = context.Background()
	}
	return context.WithValue(parentContext, key, value)
}

func attachTrimmed(parentContext context.Context, key commandContextKey, value string) context.Context {
	trimmed := strings.TrimSpace(value)
	if len(trimmed) == 0 {
		if parentContext == nil {
			return context.Background()
		}
		return parentContext
	}
	return attach(parentContext, key, trimmed)
}

func lookup[Value any](executionContext context.Context, key commandContextKey) (Value, bool) {
	var zero Value
	if executionContext == nil {
		return zero, false
	}
	value, available := executionContext.Value(key).(Value)
	if !available {
		return zero, false
	}
	return value, true
}

// WithConfigurationFilePath records the configuration file the command was loaded from.
func (accessor CommandContextAccessor) WithConfigurationFilePath(parentContext context.Context, configurationFilePath string) context.Context {
	return attach(parentContext, configurationFilePathContextKey, configurationFilePath)
}

// WithExecutionFlags records the execution flags parsed for the command.
func (accessor CommandContextAccessor) WithExecutionFlags(parentContext context.Context, flags ExecutionFlags) context.Context {
	return attach(parentContext, executionFlagsContextKey, flags)
}

// WithLogLevel records the effective log level. Blank values are ignored.
func (accessor CommandContextAccessor) WithLogLevel(parentContext context.Context, logLevel string) context.Context {
	return attachTrimmed(parentContext, logLevelContextKey, logLevel)
}

// WithLogger attaches a logger, typically one carrying correlation fields.
func (accessor CommandContextAccessor) WithLogger(parentContext context.Context, logger *zap.Logger) context.Context {
	if logger == nil {
		if parentContext == nil {
			return context.Background()
		}
		return parentContext
	}
	return attach(parentContext, loggerContextKey, logger)
}

// WithTaskIdentity attaches the correlation tag of the task currently in its execution window.
func (accessor CommandContextAccessor) WithTaskIdentity(parentContext context.Context, taskIdentity string) context.Context {
	return attachTrimmed(parentContext, taskIdentityContextKey, taskIdentity)
}

func (accessor CommandContextAccessor) ConfigurationFilePath(executionContext context.Context) (string, bool) {
	return lookup[string](executionContext, configurationFilePathContextKey)
}

func (accessor CommandContextAccessor) ExecutionFlags(executionContext context.Context) (ExecutionFlags, bool) {
	return lookup[ExecutionFlags](executionContext, executionFlagsContextKey)
}

func (accessor CommandContextAccessor) LogLevel(executionContext context.Context) (string, bool) {
	return lookup[string](executionContext, logLevelContextKey)
}

func (accessor CommandContextAccessor) Logger(executionContext context.Context) (*zap.Logger, bool) {
	return lookup[*zap.Logger](executionContext, loggerContextKey)
}

func (accessor CommandContextAccessor) TaskIdentity(executionContext context.Context) (string, bool) {
	return lookup[string](executionContext, taskIdentityContextKey)
}
