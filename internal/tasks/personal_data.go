package tasks

import (
	"context"

	"go.uber.org/zap"

	"github.com/tyemirov/devsetup/internal/setup"
)

const (
	// PersonalDataType is the type tag of the personal data task.
	PersonalDataType = "set-personal-data"

	personalDataDescriptionConstant   = "Record the developer's name and email"
	personalDataFirstNameKeyConstant  = "personal-data.first_name"
	personalDataLastNameKeyConstant   = "personal-data.last_name"
	personalDataEmailKeyConstant      = "personal-data.email"
	personalDataStoredMessageConstant = "personal data recorded"
	emailFieldNameConstant            = "email"
)

type personalDataAttributes struct {
	FirstName string `mapstructure:"first_name" validate:"required" group:"user-input"`
	LastName  string `mapstructure:"last_name" validate:"required" group:"user-input"`
	Email     string `mapstructure:"email" validate:"required,email" group:"user-input"`
}

type personalDataTask struct {
	baseTask
	attributes personalDataAttributes
}

func personalDataKind(dependencies Dependencies) setup.TaskKind {
	return setup.TaskKind{
		Type:        PersonalDataType,
		Cardinality: setup.CardinalitySingleton,
		Description: personalDataDescriptionConstant,
		Factory: func(definition setup.TaskDefinition) (setup.SetupTask, error) {
			attributes := personalDataAttributes{}
			if decodeError := decodeInto(definition, &attributes); decodeError != nil {
				return nil, decodeError
			}
			return &personalDataTask{baseTask: newBaseTask(definition, dependencies), attributes: attributes}, nil
		},
	}
}

func (task *personalDataTask) AlreadyExecuted(executionContext context.Context) (bool, error) {
	return task.flagExecuted(executionContext)
}

func (task *personalDataTask) Validate(groups ...setup.ValidationGroup) setup.ValidationReport {
	return setup.DefaultValidationGate().Evaluate(task.attributes, groups...)
}

func (task *personalDataTask) Execute(executionContext context.Context) error {
	alreadyExecuted, probeError := task.AlreadyExecuted(executionContext)
	if probeError != nil || alreadyExecuted {
		return probeError
	}

	values := []struct {
		key   string
		value string
	}{
		{key: personalDataFirstNameKeyConstant, value: task.attributes.FirstName},
		{key: personalDataLastNameKeyConstant, value: task.attributes.LastName},
		{key: personalDataEmailKeyConstant, value: task.attributes.Email},
	}
	for _, entry := range values {
		if putError := task.dependencies.Markers.Put(executionContext, entry.key, entry.value); putError != nil {
			return putError
		}
	}

	task.logger(executionContext).Info(personalDataStoredMessageConstant, zap.String(emailFieldNameConstant, task.attributes.Email))
	return task.markExecuted(executionContext)
}
