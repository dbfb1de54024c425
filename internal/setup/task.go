package setup

import (
	"context"
	"fmt"
	"strings"
)

const (
	identityWithIDTemplateConstant = "%s[%s]"
	referenceOpenConstant          = "["
	referenceCloseConstant         = "]"
)

// Identity names a task by its type tag and, for multi-instance kinds, its id.
type Identity struct {
	Type string
	ID   string
}

// String renders the identity as type[id], or the bare type when no id is set.
func (identity Identity) String() string {
	if len(identity.ID) == 0 {
		return identity.Type
	}
	return fmt.Sprintf(identityWithIDTemplateConstant, identity.Type, identity.ID)
}

// ParseReference parses a type[id] or bare type key.
func ParseReference(key string) (Identity, error) {
	trimmed := strings.TrimSpace(key)
	if len(trimmed) == 0 {
		return Identity{}, fmt.Errorf("%w: empty key", ErrMalformedReference)
	}

	openIndex := strings.Index(trimmed, referenceOpenConstant)
	if openIndex < 0 {
		if strings.Contains(trimmed, referenceCloseConstant) {
			return Identity{}, fmt.Errorf("%w: %q", ErrMalformedReference, key)
		}
		return Identity{Type: trimmed}, nil
	}

	if !strings.HasSuffix(trimmed, referenceCloseConstant) || openIndex == 0 {
		return Identity{}, fmt.Errorf("%w: %q", ErrMalformedReference, key)
	}
	typeTag := strings.TrimSpace(trimmed[:openIndex])
	identifier := strings.TrimSpace(trimmed[openIndex+1 : len(trimmed)-1])
	if len(typeTag) == 0 || len(identifier) == 0 || strings.ContainsAny(identifier, referenceOpenConstant+referenceCloseConstant) {
		return Identity{}, fmt.Errorf("%w: %q", ErrMalformedReference, key)
	}
	return Identity{Type: typeTag, ID: identifier}, nil
}

// SetupTask is the capability set every task kind implements.
type SetupTask interface {
	Identity() Identity
	// AlreadyExecuted probes durable evidence only and has no side effects.
	AlreadyExecuted(executionContext context.Context) (bool, error)
	Validate(groups ...ValidationGroup) ValidationReport
	// Execute re-checks AlreadyExecuted and no-ops when it reports true.
	Execute(executionContext context.Context) error
}

// ReferenceRequirement declares an attribute that points at another task.
type ReferenceRequirement struct {
	Field        string
	Key          string
	ExpectedType string
}

// ReferencingTask is implemented by tasks whose attributes point at earlier tasks.
type ReferencingTask interface {
	SetupTask
	References() []ReferenceRequirement
	BindReference(field string, handle TaskHandle) error
}

// Cardinality controls how many instances of a kind a configuration may declare.
type Cardinality int

// Supported cardinalities.
const (
	CardinalitySingleton Cardinality = iota
	CardinalityMultiInstance
)

// String names the cardinality.
func (cardinality Cardinality) String() string {
	if cardinality == CardinalityMultiInstance {
		return "multi-instance"
	}
	return "singleton"
}

// TaskDefinition is one declaration from the task file. It is not modified after loading.
type TaskDefinition struct {
	Type        string
	ID          string
	Attributes  map[string]any
	Cardinality Cardinality
	Line        int
}

// Identity returns the identity the definition produces.
func (definition TaskDefinition) Identity() Identity {
	return Identity{Type: definition.Type, ID: definition.ID}
}

// TaskFactory builds a task instance from its definition.
type TaskFactory func(definition TaskDefinition) (SetupTask, error)

// TaskKind registers a type tag with its cardinality and factory.
type TaskKind struct {
	Type        string
	Cardinality Cardinality
	Description string
	Factory     TaskFactory
}

// TaskHandle is a resolved reference: an index into the loaded sequence.
type TaskHandle struct {
	index int
	set   *TaskSet
}

// Index returns the position of the referenced task in declaration order.
func (handle TaskHandle) Index() int {
	return handle.index
}

// Task returns the referenced task instance.
func (handle TaskHandle) Task() SetupTask {
	if handle.set == nil || handle.index < 0 || handle.index >= len(handle.set.tasks) {
		return nil
	}
	return handle.set.tasks[handle.index]
}

// Valid reports whether the handle points into a task set.
func (handle TaskHandle) Valid() bool {
	return handle.Task() != nil
}
