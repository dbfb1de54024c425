package setup

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// ValidationGroup selects which constraints a validation pass evaluates.
type ValidationGroup string

// Recognized validation groups.
const (
	// GroupStructural constraints must always hold.
	GroupStructural ValidationGroup = "structural"
	// GroupUserInput constraints cover interactively collected values.
	GroupUserInput ValidationGroup = "user-input"
	// GroupConditional constraints depend on the value of another field.
	GroupConditional ValidationGroup = "conditional"
)

const (
	groupTagNameConstant                  = "group"
	attributeTagNameConstant              = "mapstructure"
	groupSeparatorConstant                = "|"
	hostnameLabelTagConstant              = "hostname_label"
	taskReferenceTagConstant              = "task_reference"
	namespaceSeparatorConstant            = "."
	violationSummarySeparatorConstant     = "; "
	violationSummaryTemplateConstant      = "%s (%s)"
	requiredMessageConstant               = "is required"
	hostNameMessageConstant               = "must be a valid host name"
	emailMessageConstant                  = "must be a valid email address"
	hostnameLabelMessageConstant          = "must start with a lowercase letter and contain only lowercase letters, digits, and hyphens"
	taskReferenceMessageConstant          = "must be a task reference such as type[id]"
	minimumEntriesMessageTemplateConstant = "must contain at least %s entries"
	oneOfMessageTemplateConstant          = "must be one of %s"
	genericMessageTemplateConstant        = "failed %s constraint"
	unsupportedTargetMessageConstant      = "validation target must be a struct"
)

var hostnameLabelPattern = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)

// Violation is one failed constraint.
type Violation struct {
	Field   string
	Message string
}

// ValidationReport is the ordered set of violations found by one pass; empty means valid.
type ValidationReport struct {
	Violations []Violation
}

// Valid reports whether the pass found no violations.
func (report ValidationReport) Valid() bool {
	return len(report.Violations) == 0
}

// Fields lists the violated fields in report order.
func (report ValidationReport) Fields() []string {
	fields := make([]string, 0, len(report.Violations))
	for _, violation := range report.Violations {
		fields = append(fields, violation.Field)
	}
	return fields
}

// Merge appends the other report's violations.
func (report ValidationReport) Merge(other ValidationReport) ValidationReport {
	if len(other.Violations) == 0 {
		return report
	}
	merged := make([]Violation, 0, len(report.Violations)+len(other.Violations))
	merged = append(merged, report.Violations...)
	merged = append(merged, other.Violations...)
	return ValidationReport{Violations: merged}
}

// Add appends a single violation.
func (report ValidationReport) Add(field string, message string) ValidationReport {
	return report.Merge(ValidationReport{Violations: []Violation{{Field: field, Message: message}}})
}

// Summary renders every violation on one line.
func (report ValidationReport) Summary() string {
	parts := make([]string, 0, len(report.Violations))
	for _, violation := range report.Violations {
		parts = append(parts, fmt.Sprintf(violationSummaryTemplateConstant, violation.Field, violation.Message))
	}
	return strings.Join(parts, violationSummarySeparatorConstant)
}

// ValidationGate evaluates group-tagged struct constraints without short-circuiting.
//
// Constraints are ordinary validator tags; group membership comes from the
// `group` tag, which may list several groups separated by "|". Fields without
// a group tag are structural.
type ValidationGate struct {
	validate   *validator.Validate
	groupCache sync.Map
}

// NewValidationGate constructs a gate with the task-specific validators registered.
func NewValidationGate() *ValidationGate {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(attributeName)
	_ = validate.RegisterValidation(hostnameLabelTagConstant, func(fieldLevel validator.FieldLevel) bool {
		return hostnameLabelPattern.MatchString(fieldLevel.Field().String())
	})
	_ = validate.RegisterValidation(taskReferenceTagConstant, func(fieldLevel validator.FieldLevel) bool {
		reference, parseError := ParseReference(fieldLevel.Field().String())
		return parseError == nil && len(reference.ID) > 0
	})
	return &ValidationGate{validate: validate}
}

var (
	defaultGateOnce sync.Once
	defaultGate     *ValidationGate
)

// DefaultValidationGate returns the shared gate used by task kinds.
func DefaultValidationGate() *ValidationGate {
	defaultGateOnce.Do(func() {
		defaultGate = NewValidationGate()
	})
	return defaultGate
}

// Evaluate runs every constraint of target that belongs to one of the groups.
func (gate *ValidationGate) Evaluate(target any, groups ...ValidationGroup) ValidationReport {
	if len(groups) == 0 {
		return ValidationReport{}
	}

	targetType := reflect.TypeOf(target)
	for targetType != nil && targetType.Kind() == reflect.Pointer {
		targetType = targetType.Elem()
	}
	if targetType == nil || targetType.Kind() != reflect.Struct {
		return ValidationReport{}.Add("", unsupportedTargetMessageConstant)
	}

	requested := make(map[ValidationGroup]struct{}, len(groups))
	for _, group := range groups {
		requested[group] = struct{}{}
	}
	fieldGroups := gate.fieldGroups(targetType)

	validationError := gate.validate.StructFiltered(target, func(namespace []byte) bool {
		fieldName := string(namespace)
		if separatorIndex := strings.LastIndex(fieldName, namespaceSeparatorConstant); separatorIndex >= 0 {
			fieldName = fieldName[separatorIndex+1:]
		}
		for _, group := range fieldGroups[fieldName] {
			if _, wanted := requested[group]; wanted {
				return false
			}
		}
		return true
	})
	if validationError == nil {
		return ValidationReport{}
	}

	var fieldErrors validator.ValidationErrors
	if !errors.As(validationError, &fieldErrors) {
		return ValidationReport{}.Add("", validationError.Error())
	}

	report := ValidationReport{Violations: make([]Violation, 0, len(fieldErrors))}
	for _, fieldError := range fieldErrors {
		report.Violations = append(report.Violations, Violation{
			Field:   fieldError.Field(),
			Message: violationMessage(fieldError),
		})
	}
	return report
}

func (gate *ValidationGate) fieldGroups(targetType reflect.Type) map[string][]ValidationGroup {
	if cached, found := gate.groupCache.Load(targetType); found {
		return cached.(map[string][]ValidationGroup)
	}

	groupsByField := make(map[string][]ValidationGroup, targetType.NumField())
	for fieldIndex := 0; fieldIndex < targetType.NumField(); fieldIndex++ {
		field := targetType.Field(fieldIndex)
		if !field.IsExported() {
			continue
		}
		rawGroups := strings.TrimSpace(field.Tag.Get(groupTagNameConstant))
		if len(rawGroups) == 0 {
			groupsByField[field.Name] = []ValidationGroup{GroupStructural}
			continue
		}
		for _, rawGroup := range strings.Split(rawGroups, groupSeparatorConstant) {
			trimmed := strings.TrimSpace(rawGroup)
			if len(trimmed) == 0 {
				continue
			}
			groupsByField[field.Name] = append(groupsByField[field.Name], ValidationGroup(trimmed))
		}
	}

	gate.groupCache.Store(targetType, groupsByField)
	return groupsByField
}

func attributeName(field reflect.StructField) string {
	name := strings.SplitN(field.Tag.Get(attributeTagNameConstant), ",", 2)[0]
	if name == "-" || len(name) == 0 {
		return field.Name
	}
	return name
}

func violationMessage(fieldError validator.FieldError) string {
	switch fieldError.Tag() {
	case "required", "required_unless", "required_if", "required_with", "required_without":
		return requiredMessageConstant
	case "email":
		return emailMessageConstant
	case "hostname", "hostname_rfc1123", "fqdn":
		return hostNameMessageConstant
	case hostnameLabelTagConstant:
		return hostnameLabelMessageConstant
	case taskReferenceTagConstant:
		return taskReferenceMessageConstant
	case "min":
		return fmt.Sprintf(minimumEntriesMessageTemplateConstant, fieldError.Param())
	case "oneof":
		return fmt.Sprintf(oneOfMessageTemplateConstant, strings.ReplaceAll(fieldError.Param(), " ", ", "))
	default:
		return fmt.Sprintf(genericMessageTemplateConstant, fieldError.Tag())
	}
}
