package setup

import (
	"errors"
	"fmt"
	"strings"
)

const (
	configErrorPrefixConstant                = "setup configuration error"
	configErrorLineTemplateConstant          = " (line %d)"
	configErrorTaskTemplateConstant          = " in %s"
	validationErrorTemplateConstant          = "task %s has invalid configuration: %s"
	inputRequiredErrorTemplateConstant       = "task %s requires input: %s"
	taskExecutionErrorTemplateConstant       = "task %s failed: %v"
	registryNotInitializedMessageConstant    = "task set must be initialized before validation or execution"
	taskSetNotConfiguredMessageConstant      = "task set not provided"
	taskKindAlreadyRegisteredMessageConstant = "task kind already registered"
	taskKindInvalidMessageConstant           = "task kind requires a type and a factory"
	malformedReferenceMessageConstant        = "malformed task reference"
	configurationPathRequiredMessageConstant = "setup configuration path must be provided"
)

var (
	// ErrRegistryNotInitialized indicates validate or execute was attempted before Init completed.
	ErrRegistryNotInitialized = errors.New(registryNotInitializedMessageConstant)
	// ErrTaskSetNotConfigured indicates a nil task set was handed to the coordinator.
	ErrTaskSetNotConfigured = errors.New(taskSetNotConfiguredMessageConstant)
	// ErrTaskKindAlreadyRegistered indicates a type tag was registered twice.
	ErrTaskKindAlreadyRegistered = errors.New(taskKindAlreadyRegisteredMessageConstant)
	// ErrTaskKindInvalid indicates a registration without a type tag or factory.
	ErrTaskKindInvalid = errors.New(taskKindInvalidMessageConstant)
	// ErrMalformedReference indicates a reference key that is not type or type[id].
	ErrMalformedReference = errors.New(malformedReferenceMessageConstant)
	// ErrConfigurationPathRequired indicates an empty task file path.
	ErrConfigurationPathRequired = errors.New(configurationPathRequiredMessageConstant)
)

// ConfigError reports load, reference, and cardinality problems. A run never starts when one is raised.
type ConfigError struct {
	Line    int
	Task    string
	Message string
	Cause   error
}

// Error describes the configuration problem.
func (configError ConfigError) Error() string {
	var builder strings.Builder
	builder.WriteString(configErrorPrefixConstant)
	if configError.Line > 0 {
		builder.WriteString(fmt.Sprintf(configErrorLineTemplateConstant, configError.Line))
	}
	if len(configError.Task) > 0 {
		builder.WriteString(fmt.Sprintf(configErrorTaskTemplateConstant, configError.Task))
	}
	if len(configError.Message) > 0 {
		builder.WriteString(": ")
		builder.WriteString(configError.Message)
	}
	if configError.Cause != nil {
		builder.WriteString(": ")
		builder.WriteString(configError.Cause.Error())
	}
	return builder.String()
}

// Unwrap exposes the underlying error.
func (configError ConfigError) Unwrap() error {
	return configError.Cause
}

// ValidationError reports every structural or conditional violation of one task.
type ValidationError struct {
	Identity Identity
	Report   ValidationReport
}

// Error lists every violated field.
func (validationError ValidationError) Error() string {
	return fmt.Sprintf(validationErrorTemplateConstant, validationError.Identity, validationError.Report.Summary())
}

// InputRequiredError reports user-input values a task still needs before it can run.
type InputRequiredError struct {
	Identity Identity
	Report   ValidationReport
}

// Error lists every missing or invalid input field.
func (inputError InputRequiredError) Error() string {
	return fmt.Sprintf(inputRequiredErrorTemplateConstant, inputError.Identity, inputError.Report.Summary())
}

// TaskExecutionError wraps a failure raised while a task performed its side effect.
type TaskExecutionError struct {
	Identity Identity
	Cause    error
}

// Error describes the failed task and its cause.
func (executionError TaskExecutionError) Error() string {
	return fmt.Sprintf(taskExecutionErrorTemplateConstant, executionError.Identity, executionError.Cause)
}

// Unwrap exposes the underlying error.
func (executionError TaskExecutionError) Unwrap() error {
	return executionError.Cause
}

// WrapExecutionError attaches the task identity to a cause unless it already carries one.
func WrapExecutionError(identity Identity, cause error) error {
	if cause == nil {
		return nil
	}
	var existing TaskExecutionError
	if errors.As(cause, &existing) {
		return cause
	}
	return TaskExecutionError{Identity: identity, Cause: cause}
}
