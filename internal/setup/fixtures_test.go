package setup

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const (
	fakeStepTypeConstant       = "fake-step"
	fakeSingletonTypeConstant  = "fake-singleton"
	fakeConsumerTypeConstant   = "fake-consumer"
	fakeReferenceFieldConstant = "ref"
	journalProbeTemplate       = "probe:%s"
	journalExecuteTemplate     = "execute:%s"
	journalExecutePrefix       = "execute:"
	journalValidateTemplate    = "validate:%s"
)

var errFakeExecutionFailure = errors.New("fake execution failure")

type fakeAttributes struct {
	Name        string `mapstructure:"name" validate:"required" group:"user-input"`
	Path        string `mapstructure:"path" validate:"required"`
	Mode        string `mapstructure:"mode" validate:"omitempty,oneof=fast slow"`
	Secret      string `mapstructure:"secret" validate:"required_unless=SkipSecret true" group:"conditional"`
	SkipSecret  bool   `mapstructure:"skip_secret"`
	Reference   string `mapstructure:"ref" validate:"omitempty,task_reference"`
	Fail        bool   `mapstructure:"fail"`
	ProbeFail   bool   `mapstructure:"probe_fail"`
	ExpectedRef string `mapstructure:"expected_ref_type"`
}

type taskJournal struct {
	events    []string
	completed map[string]bool
}

func newTaskJournal() *taskJournal {
	return &taskJournal{completed: map[string]bool{}}
}

func (journal *taskJournal) record(template string, identity Identity) {
	journal.events = append(journal.events, fmt.Sprintf(template, identity))
}

func (journal *taskJournal) executed() []string {
	executions := make([]string, 0, len(journal.events))
	for _, event := range journal.events {
		if identity, found := strings.CutPrefix(event, journalExecutePrefix); found {
			executions = append(executions, identity)
		}
	}
	return executions
}

type fakeTask struct {
	identity   Identity
	attributes fakeAttributes
	journal    *taskJournal
	bound      map[string]TaskHandle
}

func (task *fakeTask) Identity() Identity {
	return task.identity
}

func (task *fakeTask) AlreadyExecuted(executionContext context.Context) (bool, error) {
	task.journal.record(journalProbeTemplate, task.identity)
	if task.attributes.ProbeFail {
		return false, errors.New("marker store unreadable")
	}
	return task.journal.completed[task.identity.String()], nil
}

func (task *fakeTask) Validate(groups ...ValidationGroup) ValidationReport {
	task.journal.record(journalValidateTemplate, task.identity)
	return DefaultValidationGate().Evaluate(task.attributes, groups...)
}

func (task *fakeTask) Execute(executionContext context.Context) error {
	alreadyExecuted, probeError := task.AlreadyExecuted(executionContext)
	if probeError != nil {
		return probeError
	}
	if alreadyExecuted {
		return nil
	}
	task.journal.record(journalExecuteTemplate, task.identity)
	if task.attributes.Fail {
		return errFakeExecutionFailure
	}
	task.journal.completed[task.identity.String()] = true
	return nil
}

func (task *fakeTask) References() []ReferenceRequirement {
	if len(task.attributes.Reference) == 0 {
		return nil
	}
	return []ReferenceRequirement{{
		Field:        fakeReferenceFieldConstant,
		Key:          task.attributes.Reference,
		ExpectedType: task.attributes.ExpectedRef,
	}}
}

func (task *fakeTask) BindReference(field string, handle TaskHandle) error {
	task.bound[field] = handle
	return nil
}

func fakeFactory(journal *taskJournal) TaskFactory {
	return func(definition TaskDefinition) (SetupTask, error) {
		attributes := fakeAttributes{}
		if decodeError := DecodeAttributes(definition.Attributes, &attributes); decodeError != nil {
			return nil, decodeError
		}
		return &fakeTask{
			identity:   definition.Identity(),
			attributes: attributes,
			journal:    journal,
			bound:      map[string]TaskHandle{},
		}, nil
	}
}

func newFakeRegistry(journal *taskJournal) *Registry {
	registry := NewRegistry()
	_ = registry.Register(TaskKind{Type: fakeStepTypeConstant, Cardinality: CardinalityMultiInstance, Factory: fakeFactory(journal)})
	_ = registry.Register(TaskKind{Type: fakeSingletonTypeConstant, Cardinality: CardinalitySingleton, Factory: fakeFactory(journal)})
	_ = registry.Register(TaskKind{Type: fakeConsumerTypeConstant, Cardinality: CardinalityMultiInstance, Factory: fakeFactory(journal)})
	return registry
}

func validFakeAttributes() map[string]any {
	return map[string]any{
		"name":   "octocat",
		"path":   "/tmp/example",
		"secret": "hunter2",
	}
}

func fakeDefinition(typeTag string, identifier string, overrides map[string]any) TaskDefinition {
	attributes := validFakeAttributes()
	for key, value := range overrides {
		if value == nil {
			delete(attributes, key)
			continue
		}
		attributes[key] = value
	}
	return TaskDefinition{Type: typeTag, ID: identifier, Attributes: attributes}
}
