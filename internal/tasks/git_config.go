package tasks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/tyemirov/devsetup/internal/markers"
	"github.com/tyemirov/devsetup/internal/setup"
)

const (
	// GitConfigType is the type tag of the git configuration task.
	GitConfigType = "create-git-config"

	gitConfigDescriptionConstant    = "Create ~/.gitconfig with the user identity"
	gitConfigFileNameConstant       = ".gitconfig"
	defaultPushDefaultConstant      = "simple"
	gitConfigTemplateConstant       = "[user]\n\tname = %s\n\temail = %s\n[push]\n\tdefault = %s\n"
	gitConfigWrittenMessageConstant = "git configuration written"
)

type gitConfigAttributes struct {
	Name        string `mapstructure:"name" validate:"required" group:"user-input"`
	Email       string `mapstructure:"email" validate:"required,email" group:"user-input"`
	PushDefault string `mapstructure:"push_default" validate:"required,oneof=nothing current upstream simple matching"`
}

type gitConfigTask struct {
	baseTask
	attributes gitConfigAttributes
}

func gitConfigKind(dependencies Dependencies) setup.TaskKind {
	return setup.TaskKind{
		Type:        GitConfigType,
		Cardinality: setup.CardinalitySingleton,
		Description: gitConfigDescriptionConstant,
		Factory: func(definition setup.TaskDefinition) (setup.SetupTask, error) {
			attributes := gitConfigAttributes{PushDefault: defaultPushDefaultConstant}
			if decodeError := decodeInto(definition, &attributes); decodeError != nil {
				return nil, decodeError
			}
			return &gitConfigTask{baseTask: newBaseTask(definition, dependencies), attributes: attributes}, nil
		},
	}
}

func (task *gitConfigTask) configPath() string {
	return task.homePath(gitConfigFileNameConstant)
}

func (task *gitConfigTask) AlreadyExecuted(executionContext context.Context) (bool, error) {
	return markers.FileProbe(task.configPath())
}

func (task *gitConfigTask) Validate(groups ...setup.ValidationGroup) setup.ValidationReport {
	return setup.DefaultValidationGate().Evaluate(task.attributes, groups...)
}

func (task *gitConfigTask) Execute(executionContext context.Context) error {
	alreadyExecuted, probeError := task.AlreadyExecuted(executionContext)
	if probeError != nil || alreadyExecuted {
		return probeError
	}

	contents := fmt.Sprintf(gitConfigTemplateConstant, task.attributes.Name, task.attributes.Email, task.attributes.PushDefault)
	if writeError := writeArtifact(task.configPath(), []byte(contents), artifactDirectoryPermissionsConstant, publicFilePermissionsConstant); writeError != nil {
		return writeError
	}
	task.logger(executionContext).Info(gitConfigWrittenMessageConstant, zap.String(artifactPathFieldNameConstant, task.configPath()))
	return nil
}
