package tasks

import (
	"context"
	"errors"
	"fmt"

	"github.com/tyemirov/devsetup/internal/setup"
)

const (
	// DisplaySSHKeyType is the type tag of the ssh key display task.
	DisplaySSHKeyType = "display-ssh-key"

	displaySSHKeyDescriptionConstant     = "Print a generated public key and where to register it"
	referenceFieldConstant               = "ref"
	githubHostConstant                   = "github.com"
	bitbucketHostConstant                = "bitbucket.org"
	githubKeysURLConstant                = "https://github.com/settings/keys"
	bitbucketKeysURLTemplateConstant     = "https://bitbucket.org/account/user/%s/ssh-keys/"
	genericAccountURLTemplateConstant    = "https://%s"
	displayOutputTemplateConstant        = "Public key for %s@%s:\n%s\nRegister it at %s\n"
	unexpectedReferenceTemplateConstant  = "unexpected reference field %q"
	referenceNotBoundMessageConstant     = "ssh key reference was not resolved"
	referenceTypeMismatchMessageConstant = "referenced task does not generate ssh keys"
)

var (
	errReferenceNotBound     = errors.New(referenceNotBoundMessageConstant)
	errReferenceTypeMismatch = errors.New(referenceTypeMismatchMessageConstant)
)

// AccountURL returns the page where a public key for host is registered.
func AccountURL(host string, name string) string {
	switch host {
	case githubHostConstant:
		return githubKeysURLConstant
	case bitbucketHostConstant:
		return fmt.Sprintf(bitbucketKeysURLTemplateConstant, name)
	default:
		return fmt.Sprintf(genericAccountURLTemplateConstant, host)
	}
}

type displaySSHKeyAttributes struct {
	Reference string `mapstructure:"ref" validate:"required,task_reference"`
}

type displaySSHKeyTask struct {
	baseTask
	attributes displaySSHKeyAttributes
	keyTask    *generateSSHKeyTask
}

func displaySSHKeyKind(dependencies Dependencies) setup.TaskKind {
	return setup.TaskKind{
		Type:        DisplaySSHKeyType,
		Cardinality: setup.CardinalityMultiInstance,
		Description: displaySSHKeyDescriptionConstant,
		Factory: func(definition setup.TaskDefinition) (setup.SetupTask, error) {
			attributes := displaySSHKeyAttributes{}
			if decodeError := decodeInto(definition, &attributes); decodeError != nil {
				return nil, decodeError
			}
			return &displaySSHKeyTask{baseTask: newBaseTask(definition, dependencies), attributes: attributes}, nil
		},
	}
}

func (task *displaySSHKeyTask) References() []setup.ReferenceRequirement {
	return []setup.ReferenceRequirement{{
		Field:        referenceFieldConstant,
		Key:          task.attributes.Reference,
		ExpectedType: GenerateSSHKeyType,
	}}
}

func (task *displaySSHKeyTask) BindReference(field string, handle setup.TaskHandle) error {
	if field != referenceFieldConstant {
		return fmt.Errorf(unexpectedReferenceTemplateConstant, field)
	}
	keyTask, isKeyTask := handle.Task().(*generateSSHKeyTask)
	if !isKeyTask {
		return errReferenceTypeMismatch
	}
	task.keyTask = keyTask
	return nil
}

func (task *displaySSHKeyTask) AlreadyExecuted(executionContext context.Context) (bool, error) {
	return task.flagExecuted(executionContext)
}

func (task *displaySSHKeyTask) Validate(groups ...setup.ValidationGroup) setup.ValidationReport {
	return setup.DefaultValidationGate().Evaluate(task.attributes, groups...)
}

func (task *displaySSHKeyTask) Execute(executionContext context.Context) error {
	alreadyExecuted, probeError := task.AlreadyExecuted(executionContext)
	if probeError != nil || alreadyExecuted {
		return probeError
	}
	if task.keyTask == nil {
		return errReferenceNotBound
	}

	publicKey, keyError := task.keyTask.PublicKey()
	if keyError != nil {
		return keyError
	}
	host := task.keyTask.Host()
	name := task.keyTask.Name()
	if printError := task.printf(displayOutputTemplateConstant, name, host, publicKey, AccountURL(host, name)); printError != nil {
		return printError
	}
	return task.markExecuted(executionContext)
}
