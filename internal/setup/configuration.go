package setup

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	setupKeyConstant                       = "setup"
	nameKeyConstant                        = "name"
	tasksKeyConstant                       = "tasks"
	taskKeyConstant                        = "task"
	identifierKeyConstant                  = "id"
	attributesKeyConstant                  = "with"
	readConfigurationErrorTemplateConstant = "unable to read %s"
	parseConfigurationMessageConstant      = "task file is not valid yaml"
	missingSetupSectionMessageConstant     = "missing top-level setup section"
	setupSectionNotMappingMessageConstant  = "setup must be a mapping"
	tasksNotSequenceMessageConstant        = "setup.tasks must be a sequence"
	tasksEmptyMessageConstant              = "setup.tasks must declare at least one task"
	taskEntryNotMappingMessageConstant     = "task entry must be a mapping"
	taskTagMissingMessageConstant          = "task entry requires a task type"
	unknownTaskEntryKeyTemplateConstant    = "unknown key %q in task entry"
	unknownSetupKeyTemplateConstant        = "unknown key %q in setup section"
	scalarExpectedTemplateConstant         = "%s must be a string"
	attributesNotMappingMessageConstant    = "with must be a mapping"
	attributesDecodeMessageConstant        = "unable to decode attributes"
	multipleDocumentsMessageConstant       = "task file must contain a single document"
	duplicateKeyTemplateConstant           = "key %q is declared more than once"
)

// Configuration is a parsed task file: its name and its definitions in document order.
type Configuration struct {
	Name  string
	Path  string
	Tasks []TaskDefinition
}

// LoadConfiguration reads and parses a task file.
func LoadConfiguration(configurationPath string) (Configuration, error) {
	trimmedPath := strings.TrimSpace(configurationPath)
	if len(trimmedPath) == 0 {
		return Configuration{}, ErrConfigurationPathRequired
	}

	contents, readError := os.ReadFile(filepath.Clean(trimmedPath))
	if readError != nil {
		return Configuration{}, ConfigError{Message: fmt.Sprintf(readConfigurationErrorTemplateConstant, trimmedPath), Cause: readError}
	}

	configuration, parseError := ParseConfiguration(contents)
	if parseError != nil {
		return Configuration{}, parseError
	}
	configuration.Path = trimmedPath
	return configuration, nil
}

// ParseConfiguration parses task file contents. Cardinality is left for the registry to assign.
func ParseConfiguration(contents []byte) (Configuration, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(contents))

	var document yaml.Node
	if decodeError := decoder.Decode(&document); decodeError != nil {
		if errors.Is(decodeError, io.EOF) {
			return Configuration{}, ConfigError{Message: missingSetupSectionMessageConstant}
		}
		return Configuration{}, ConfigError{Message: parseConfigurationMessageConstant, Cause: decodeError}
	}
	var trailing yaml.Node
	if trailingError := decoder.Decode(&trailing); !errors.Is(trailingError, io.EOF) {
		return Configuration{}, ConfigError{Line: trailing.Line, Message: multipleDocumentsMessageConstant}
	}

	root := &document
	if root.Kind == yaml.DocumentNode && len(root.Content) > 0 {
		root = root.Content[0]
	}
	if root.Kind != yaml.MappingNode {
		return Configuration{}, ConfigError{Line: root.Line, Message: missingSetupSectionMessageConstant}
	}
	if duplicateError := rejectDuplicateKeys(root); duplicateError != nil {
		return Configuration{}, duplicateError
	}

	setupNode := mappingValue(root, setupKeyConstant)
	if setupNode == nil {
		return Configuration{}, ConfigError{Line: root.Line, Message: missingSetupSectionMessageConstant}
	}
	if setupNode.Kind != yaml.MappingNode {
		return Configuration{}, ConfigError{Line: setupNode.Line, Message: setupSectionNotMappingMessageConstant}
	}
	if duplicateError := rejectDuplicateKeys(setupNode); duplicateError != nil {
		return Configuration{}, duplicateError
	}

	configuration := Configuration{}
	var tasksNode *yaml.Node
	for index := 0; index+1 < len(setupNode.Content); index += 2 {
		keyNode := setupNode.Content[index]
		valueNode := setupNode.Content[index+1]
		switch keyNode.Value {
		case nameKeyConstant:
			name, scalarError := scalarValue(valueNode, nameKeyConstant)
			if scalarError != nil {
				return Configuration{}, scalarError
			}
			configuration.Name = name
		case tasksKeyConstant:
			tasksNode = valueNode
		default:
			return Configuration{}, ConfigError{Line: keyNode.Line, Message: fmt.Sprintf(unknownSetupKeyTemplateConstant, keyNode.Value)}
		}
	}

	if tasksNode == nil || tasksNode.Kind != yaml.SequenceNode {
		line := setupNode.Line
		if tasksNode != nil {
			line = tasksNode.Line
		}
		return Configuration{}, ConfigError{Line: line, Message: tasksNotSequenceMessageConstant}
	}
	if len(tasksNode.Content) == 0 {
		return Configuration{}, ConfigError{Line: tasksNode.Line, Message: tasksEmptyMessageConstant}
	}

	configuration.Tasks = make([]TaskDefinition, 0, len(tasksNode.Content))
	for _, entryNode := range tasksNode.Content {
		definition, definitionError := parseTaskEntry(entryNode)
		if definitionError != nil {
			return Configuration{}, definitionError
		}
		configuration.Tasks = append(configuration.Tasks, definition)
	}
	return configuration, nil
}

func parseTaskEntry(entryNode *yaml.Node) (TaskDefinition, error) {
	if entryNode.Kind != yaml.MappingNode {
		return TaskDefinition{}, ConfigError{Line: entryNode.Line, Message: taskEntryNotMappingMessageConstant}
	}
	if duplicateError := rejectDuplicateKeys(entryNode); duplicateError != nil {
		return TaskDefinition{}, duplicateError
	}

	definition := TaskDefinition{Line: entryNode.Line, Attributes: map[string]any{}}
	for index := 0; index+1 < len(entryNode.Content); index += 2 {
		keyNode := entryNode.Content[index]
		valueNode := entryNode.Content[index+1]
		switch keyNode.Value {
		case taskKeyConstant:
			typeTag, scalarError := scalarValue(valueNode, taskKeyConstant)
			if scalarError != nil {
				return TaskDefinition{}, scalarError
			}
			definition.Type = typeTag
		case identifierKeyConstant:
			identifier, scalarError := scalarValue(valueNode, identifierKeyConstant)
			if scalarError != nil {
				return TaskDefinition{}, scalarError
			}
			definition.ID = identifier
		case attributesKeyConstant:
			if valueNode.Kind == yaml.ScalarNode && valueNode.Tag == "!!null" {
				continue
			}
			if valueNode.Kind != yaml.MappingNode {
				return TaskDefinition{}, ConfigError{Line: valueNode.Line, Message: attributesNotMappingMessageConstant}
			}
			attributes := map[string]any{}
			if decodeError := valueNode.Decode(&attributes); decodeError != nil {
				return TaskDefinition{}, ConfigError{Line: valueNode.Line, Message: attributesDecodeMessageConstant, Cause: decodeError}
			}
			definition.Attributes = attributes
		default:
			return TaskDefinition{}, ConfigError{Line: keyNode.Line, Message: fmt.Sprintf(unknownTaskEntryKeyTemplateConstant, keyNode.Value)}
		}
	}

	if len(definition.Type) == 0 {
		return TaskDefinition{}, ConfigError{Line: entryNode.Line, Message: taskTagMissingMessageConstant}
	}
	return definition, nil
}

// rejectDuplicateKeys reports the first key that repeats within a mapping node.
func rejectDuplicateKeys(mappingNode *yaml.Node) error {
	seen := make(map[string]struct{}, len(mappingNode.Content)/2)
	for index := 0; index+1 < len(mappingNode.Content); index += 2 {
		keyNode := mappingNode.Content[index]
		if _, repeated := seen[keyNode.Value]; repeated {
			return ConfigError{Line: keyNode.Line, Message: fmt.Sprintf(duplicateKeyTemplateConstant, keyNode.Value)}
		}
		seen[keyNode.Value] = struct{}{}
	}
	return nil
}

func mappingValue(mappingNode *yaml.Node, key string) *yaml.Node {
	for index := 0; index+1 < len(mappingNode.Content); index += 2 {
		if mappingNode.Content[index].Value == key {
			return mappingNode.Content[index+1]
		}
	}
	return nil
}

func scalarValue(valueNode *yaml.Node, key string) (string, error) {
	if valueNode.Kind != yaml.ScalarNode {
		return "", ConfigError{Line: valueNode.Line, Message: fmt.Sprintf(scalarExpectedTemplateConstant, key)}
	}
	return strings.TrimSpace(valueNode.Value), nil
}
