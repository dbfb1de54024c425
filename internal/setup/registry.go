package setup

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

const (
	unknownTaskTypeTemplateConstant      = "unknown task type %q"
	identifierMissingTemplateConstant    = "task type %q declares multiple instances and requires an id"
	identifierForbiddenTemplateConstant  = "task type %q is a singleton and does not accept an id"
	duplicateIdentifierTemplateConstant  = "duplicate id %q for task type %q"
	duplicateSingletonTemplateConstant   = "task type %q may be declared only once"
	factoryFailureMessageConstant        = "unable to build task"
	referenceMalformedTemplateConstant   = "attribute %s holds a malformed reference %q"
	referenceMissingTemplateConstant     = "attribute %s references %s, which is not declared"
	referenceLaterTemplateConstant       = "attribute %s references %s, which is declared later"
	referenceWrongTypeTemplateConstant   = "attribute %s references %s, expected a %s task"
	referenceBindFailureTemplateConstant = "attribute %s could not bind %s"
	taskKindRegistrationTemplateConstant = "%w: %s"
	identifierReservedTemplateConstant   = "id %q may not contain %q or %q"
)

// Registry maps type tags to task kinds.
type Registry struct {
	mutex sync.RWMutex
	kinds map[string]TaskKind
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{kinds: map[string]TaskKind{}}
}

// Register adds a task kind. Registering a tag twice is an error.
func (registry *Registry) Register(kind TaskKind) error {
	trimmedType := strings.TrimSpace(kind.Type)
	if len(trimmedType) == 0 || kind.Factory == nil {
		return ErrTaskKindInvalid
	}
	kind.Type = trimmedType

	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	if _, exists := registry.kinds[trimmedType]; exists {
		return fmt.Errorf(taskKindRegistrationTemplateConstant, ErrTaskKindAlreadyRegistered, trimmedType)
	}
	registry.kinds[trimmedType] = kind
	return nil
}

// Kinds lists the registered kinds sorted by type tag.
func (registry *Registry) Kinds() []TaskKind {
	registry.mutex.RLock()
	defer registry.mutex.RUnlock()

	kinds := make([]TaskKind, 0, len(registry.kinds))
	for _, kind := range registry.kinds {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(left int, right int) bool {
		return kinds[left].Type < kinds[right].Type
	})
	return kinds
}

func (registry *Registry) kind(typeTag string) (TaskKind, bool) {
	registry.mutex.RLock()
	defer registry.mutex.RUnlock()
	kind, found := registry.kinds[typeTag]
	return kind, found
}

// LoadFile reads a task file and loads it.
func (registry *Registry) LoadFile(configurationPath string) (*TaskSet, error) {
	configuration, loadError := LoadConfiguration(configurationPath)
	if loadError != nil {
		return nil, loadError
	}
	return registry.Load(configuration)
}

// Load builds task instances in document order and enforces cardinality.
// The returned set must be initialized before it is validated or executed.
func (registry *Registry) Load(configuration Configuration) (*TaskSet, error) {
	taskSet := &TaskSet{
		name:        configuration.Name,
		tasks:       make([]SetupTask, 0, len(configuration.Tasks)),
		definitions: make([]TaskDefinition, 0, len(configuration.Tasks)),
		index:       make(map[string]int, len(configuration.Tasks)),
	}

	for _, definition := range configuration.Tasks {
		kind, found := registry.kind(definition.Type)
		if !found {
			return nil, ConfigError{Line: definition.Line, Task: definition.Type, Message: fmt.Sprintf(unknownTaskTypeTemplateConstant, definition.Type)}
		}
		definition.Cardinality = kind.Cardinality

		switch kind.Cardinality {
		case CardinalityMultiInstance:
			if len(definition.ID) == 0 {
				return nil, ConfigError{Line: definition.Line, Task: definition.Type, Message: fmt.Sprintf(identifierMissingTemplateConstant, definition.Type)}
			}
			if strings.ContainsAny(definition.ID, referenceOpenConstant+referenceCloseConstant) {
				return nil, ConfigError{Line: definition.Line, Task: definition.Type, Message: fmt.Sprintf(identifierReservedTemplateConstant, definition.ID, referenceOpenConstant, referenceCloseConstant)}
			}
		default:
			if len(definition.ID) > 0 {
				return nil, ConfigError{Line: definition.Line, Task: definition.Identity().String(), Message: fmt.Sprintf(identifierForbiddenTemplateConstant, definition.Type)}
			}
		}

		identityKey := definition.Identity().String()
		if _, duplicate := taskSet.index[identityKey]; duplicate {
			message := fmt.Sprintf(duplicateIdentifierTemplateConstant, definition.ID, definition.Type)
			if kind.Cardinality == CardinalitySingleton {
				message = fmt.Sprintf(duplicateSingletonTemplateConstant, definition.Type)
			}
			return nil, ConfigError{Line: definition.Line, Task: identityKey, Message: message}
		}

		task, factoryError := kind.Factory(cloneDefinition(definition))
		if factoryError != nil {
			return nil, ConfigError{Line: definition.Line, Task: identityKey, Message: factoryFailureMessageConstant, Cause: factoryError}
		}

		taskSet.index[identityKey] = len(taskSet.tasks)
		taskSet.tasks = append(taskSet.tasks, task)
		taskSet.definitions = append(taskSet.definitions, definition)
	}

	return taskSet, nil
}

func cloneDefinition(definition TaskDefinition) TaskDefinition {
	attributes := make(map[string]any, len(definition.Attributes))
	for key, value := range definition.Attributes {
		attributes[key] = value
	}
	definition.Attributes = attributes
	return definition
}

// TaskSet is the ordered sequence of loaded tasks. Order never changes after Load.
type TaskSet struct {
	name        string
	tasks       []SetupTask
	definitions []TaskDefinition
	index       map[string]int
	initialized bool
}

// Name returns the task file's setup name.
func (taskSet *TaskSet) Name() string {
	return taskSet.name
}

// Tasks returns the tasks in declaration order.
func (taskSet *TaskSet) Tasks() []SetupTask {
	tasks := make([]SetupTask, len(taskSet.tasks))
	copy(tasks, taskSet.tasks)
	return tasks
}

// Definitions returns the definitions in declaration order.
func (taskSet *TaskSet) Definitions() []TaskDefinition {
	definitions := make([]TaskDefinition, len(taskSet.definitions))
	copy(definitions, taskSet.definitions)
	return definitions
}

// Initialized reports whether Init completed.
func (taskSet *TaskSet) Initialized() bool {
	return taskSet.initialized
}

// FindTask looks a task up by type[id], or by bare type for a singleton.
func (taskSet *TaskSet) FindTask(key string) (SetupTask, bool) {
	handle, found := taskSet.lookup(key)
	if !found {
		return nil, false
	}
	return handle.Task(), true
}

func (taskSet *TaskSet) lookup(key string) (TaskHandle, bool) {
	identity, parseError := ParseReference(key)
	if parseError != nil {
		return TaskHandle{}, false
	}
	position, found := taskSet.index[identity.String()]
	if !found {
		return TaskHandle{}, false
	}
	return TaskHandle{index: position, set: taskSet}, true
}

// Init resolves every task reference against earlier declarations. Calling it again is a no-op.
func (taskSet *TaskSet) Init() error {
	if taskSet.initialized {
		return nil
	}

	for position, task := range taskSet.tasks {
		referencingTask, referencing := task.(ReferencingTask)
		if !referencing {
			continue
		}
		definition := taskSet.definitions[position]
		identityKey := definition.Identity().String()

		for _, requirement := range referencingTask.References() {
			target, parseError := ParseReference(requirement.Key)
			if parseError != nil {
				return ConfigError{Line: definition.Line, Task: identityKey, Message: fmt.Sprintf(referenceMalformedTemplateConstant, requirement.Field, requirement.Key), Cause: parseError}
			}
			handle, found := taskSet.lookup(requirement.Key)
			if !found {
				return ConfigError{Line: definition.Line, Task: identityKey, Message: fmt.Sprintf(referenceMissingTemplateConstant, requirement.Field, target)}
			}
			if handle.index >= position {
				return ConfigError{Line: definition.Line, Task: identityKey, Message: fmt.Sprintf(referenceLaterTemplateConstant, requirement.Field, target)}
			}
			if len(requirement.ExpectedType) > 0 && target.Type != requirement.ExpectedType {
				return ConfigError{Line: definition.Line, Task: identityKey, Message: fmt.Sprintf(referenceWrongTypeTemplateConstant, requirement.Field, target, requirement.ExpectedType)}
			}
			if bindError := referencingTask.BindReference(requirement.Field, handle); bindError != nil {
				return ConfigError{Line: definition.Line, Task: identityKey, Message: fmt.Sprintf(referenceBindFailureTemplateConstant, requirement.Field, target), Cause: bindError}
			}
		}
	}

	taskSet.initialized = true
	return nil
}
