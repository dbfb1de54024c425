package tasks

import (
	"context"
	"time"

	"github.com/tyemirov/devsetup/internal/execshell"
	"github.com/tyemirov/devsetup/internal/setup"
)

const (
	// HostnameType is the type tag of the hostname task.
	HostnameType = "set-hostname"

	hostnameDescriptionConstant   = "Set the machine host name"
	hostnameCommandPrefixConstant = "hostnamectl set-hostname "
	hostnameCommandTimeout        = 5 * time.Second
)

type hostnameAttributes struct {
	Name string `mapstructure:"name" validate:"required,hostname_label" group:"user-input"`
}

type hostnameTask struct {
	baseTask
	attributes hostnameAttributes
}

func hostnameKind(dependencies Dependencies) setup.TaskKind {
	return setup.TaskKind{
		Type:        HostnameType,
		Cardinality: setup.CardinalitySingleton,
		Description: hostnameDescriptionConstant,
		Factory: func(definition setup.TaskDefinition) (setup.SetupTask, error) {
			attributes := hostnameAttributes{}
			if decodeError := decodeInto(definition, &attributes); decodeError != nil {
				return nil, decodeError
			}
			return &hostnameTask{baseTask: newBaseTask(definition, dependencies), attributes: attributes}, nil
		},
	}
}

func (task *hostnameTask) AlreadyExecuted(executionContext context.Context) (bool, error) {
	return task.flagExecuted(executionContext)
}

func (task *hostnameTask) Validate(groups ...setup.ValidationGroup) setup.ValidationReport {
	return setup.DefaultValidationGate().Evaluate(task.attributes, groups...)
}

func (task *hostnameTask) Execute(executionContext context.Context) error {
	alreadyExecuted, probeError := task.AlreadyExecuted(executionContext)
	if probeError != nil || alreadyExecuted {
		return probeError
	}

	command := execshell.ShellCommand{
		CommandLine: hostnameCommandPrefixConstant + shellQuote(task.attributes.Name),
		Details:     execshell.CommandDetails{Timeout: hostnameCommandTimeout},
	}
	if _, commandError := task.runCommand(executionContext, command, true); commandError != nil {
		return commandError
	}
	return task.markExecuted(executionContext)
}
