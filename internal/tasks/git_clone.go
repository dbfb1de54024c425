package tasks

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/tyemirov/devsetup/internal/execshell"
	"github.com/tyemirov/devsetup/internal/setup"
)

const (
	// GitCloneType is the type tag of the repository clone task.
	GitCloneType = "git-clone"

	gitCloneDescriptionConstant     = "Clone git repositories into a target directory"
	defaultCloneDirectoryConstant   = "git"
	gitCloneCommandPrefixConstant   = "git clone -v "
	gitCloneTimeout                 = 120 * time.Second
	repositoryFieldNameConstant     = "repository"
	targetDirectoryFieldConstant    = "target_dir"
	repositoryClonedMessageConstant = "repository cloned"
)

type gitCloneAttributes struct {
	Repositories []string `mapstructure:"repositories" validate:"min=1,dive,required"`
	TargetDir    string   `mapstructure:"target_dir"`
}

type gitCloneTask struct {
	baseTask
	attributes gitCloneAttributes
}

func gitCloneKind(dependencies Dependencies) setup.TaskKind {
	return setup.TaskKind{
		Type:        GitCloneType,
		Cardinality: setup.CardinalityMultiInstance,
		Description: gitCloneDescriptionConstant,
		Factory: func(definition setup.TaskDefinition) (setup.SetupTask, error) {
			attributes := gitCloneAttributes{}
			if decodeError := decodeInto(definition, &attributes); decodeError != nil {
				return nil, decodeError
			}
			return &gitCloneTask{baseTask: newBaseTask(definition, dependencies), attributes: attributes}, nil
		},
	}
}

func (task *gitCloneTask) targetDirectory() string {
	if len(task.attributes.TargetDir) == 0 {
		return task.homePath(defaultCloneDirectoryConstant)
	}
	return task.expandHome(task.attributes.TargetDir)
}

func (task *gitCloneTask) AlreadyExecuted(executionContext context.Context) (bool, error) {
	return task.flagExecuted(executionContext)
}

func (task *gitCloneTask) Validate(groups ...setup.ValidationGroup) setup.ValidationReport {
	return setup.DefaultValidationGate().Evaluate(task.attributes, groups...)
}

// Execute clones every repository in order and stops at the first failure.
func (task *gitCloneTask) Execute(executionContext context.Context) error {
	alreadyExecuted, probeError := task.AlreadyExecuted(executionContext)
	if probeError != nil || alreadyExecuted {
		return probeError
	}

	targetDirectory := task.targetDirectory()
	if mkdirError := os.MkdirAll(targetDirectory, artifactDirectoryPermissionsConstant); mkdirError != nil {
		return fmt.Errorf(createDirectoryErrorTemplateConstant, targetDirectory, mkdirError)
	}

	logger := task.logger(executionContext)
	for _, repository := range task.attributes.Repositories {
		command := execshell.ShellCommand{
			CommandLine: gitCloneCommandPrefixConstant + shellQuote(repository),
			Details: execshell.CommandDetails{
				Timeout:          gitCloneTimeout,
				WorkingDirectory: targetDirectory,
			},
		}
		if _, cloneError := task.runCommand(executionContext, command, true); cloneError != nil {
			return cloneError
		}
		logger.Info(repositoryClonedMessageConstant, zap.String(repositoryFieldNameConstant, repository), zap.String(targetDirectoryFieldConstant, targetDirectory))
	}
	return task.markExecuted(executionContext)
}
