package tasks

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/tyemirov/devsetup/internal/markers"
	"github.com/tyemirov/devsetup/internal/setup"
)

const (
	// MavenSettingsType is the type tag of the maven settings task.
	MavenSettingsType = "create-maven-settings"

	mavenSettingsDescriptionConstant    = "Create ~/.m2/settings.xml from a template"
	mavenDirectoryNameConstant          = ".m2"
	mavenSettingsFileNameConstant       = "settings.xml"
	mavenUserPlaceholderConstant        = "((USER))"
	mavenPasswordPlaceholderConstant    = "((PW))"
	mavenSettingsWrittenMessageConstant = "maven settings written"
	mavenTemplateFieldNameConstant      = "template"
)

type mavenSettingsAttributes struct {
	Template        string `mapstructure:"template" validate:"required"`
	Name            string `mapstructure:"name" validate:"required_unless=SkipCredentials true" group:"conditional"`
	Password        string `mapstructure:"password" validate:"required_unless=SkipCredentials true" group:"conditional"`
	Hint            string `mapstructure:"hint"`
	SkipCredentials bool   `mapstructure:"skip_credentials"`
}

type mavenSettingsTask struct {
	baseTask
	attributes mavenSettingsAttributes
}

func mavenSettingsKind(dependencies Dependencies) setup.TaskKind {
	return setup.TaskKind{
		Type:        MavenSettingsType,
		Cardinality: setup.CardinalitySingleton,
		Description: mavenSettingsDescriptionConstant,
		Factory: func(definition setup.TaskDefinition) (setup.SetupTask, error) {
			attributes := mavenSettingsAttributes{}
			if decodeError := decodeInto(definition, &attributes); decodeError != nil {
				return nil, decodeError
			}
			return &mavenSettingsTask{baseTask: newBaseTask(definition, dependencies), attributes: attributes}, nil
		},
	}
}

func (task *mavenSettingsTask) settingsPath() string {
	return task.homePath(mavenDirectoryNameConstant, mavenSettingsFileNameConstant)
}

func (task *mavenSettingsTask) AlreadyExecuted(executionContext context.Context) (bool, error) {
	return markers.FileProbe(task.settingsPath())
}

func (task *mavenSettingsTask) Validate(groups ...setup.ValidationGroup) setup.ValidationReport {
	return setup.DefaultValidationGate().Evaluate(task.attributes, groups...)
}

func (task *mavenSettingsTask) Execute(executionContext context.Context) error {
	alreadyExecuted, probeError := task.AlreadyExecuted(executionContext)
	if probeError != nil || alreadyExecuted {
		return probeError
	}

	templatePath := task.expandHome(task.attributes.Template)
	template, readError := os.ReadFile(templatePath)
	if readError != nil {
		return fmt.Errorf(readFileErrorTemplateConstant, templatePath, readError)
	}

	contents := string(template)
	if !task.attributes.SkipCredentials {
		contents = strings.ReplaceAll(contents, mavenUserPlaceholderConstant, task.attributes.Name)
		contents = strings.ReplaceAll(contents, mavenPasswordPlaceholderConstant, task.attributes.Password)
	}

	// The file may hold a repository password.
	if writeError := writeArtifact(task.settingsPath(), []byte(contents), artifactDirectoryPermissionsConstant, privateFilePermissionsConstant); writeError != nil {
		return writeError
	}
	task.logger(executionContext).Info(
		mavenSettingsWrittenMessageConstant,
		zap.String(artifactPathFieldNameConstant, task.settingsPath()),
		zap.String(mavenTemplateFieldNameConstant, templatePath),
	)
	return nil
}
