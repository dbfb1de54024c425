package setup

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	setuppkg "github.com/tyemirov/devsetup/internal/setup"
)

const (
	validateCommandUseName          = "validate <tasks.yaml>"
	validateCommandShortDescription = "Check a task file without executing anything"
	validateCommandLongDescription  = "validate loads the task file, resolves references, and checks every task against all of its constraints, printing one line per task."
	validLineTemplate               = "%s\tok\n"
	invalidLineTemplate             = "%s\t%s\n"
	invalidTasksTemplate            = "%w: %d of %d tasks"
)

// ErrInvalidTasks indicates that validate found at least one task with violations.
var ErrInvalidTasks = errors.New("task file has invalid tasks")

// ValidateCommandBuilder assembles the validate command.
type ValidateCommandBuilder struct {
	Providers
}

// Build constructs the validate command.
func (builder *ValidateCommandBuilder) Build() (*cobra.Command, error) {
	command := &cobra.Command{
		Use:           validateCommandUseName,
		Short:         validateCommandShortDescription,
		Long:          validateCommandLongDescription,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          builder.run,
	}
	return command, nil
}

func (builder *ValidateCommandBuilder) run(command *cobra.Command, arguments []string) error {
	activeSession, openError := builder.open(command, arguments)
	if openError != nil {
		return openError
	}
	defer builder.close(activeSession)

	output := activeSession.dependencies.Output
	taskList := activeSession.taskSet.Tasks()
	invalidCount := 0
	for _, task := range taskList {
		report := task.Validate(setuppkg.GroupStructural, setuppkg.GroupConditional, setuppkg.GroupUserInput)
		if report.Valid() {
			fmt.Fprintf(output, validLineTemplate, task.Identity())
			continue
		}
		invalidCount++
		fmt.Fprintf(output, invalidLineTemplate, task.Identity(), report.Summary())
	}

	if invalidCount > 0 {
		return fmt.Errorf(invalidTasksTemplate, ErrInvalidTasks, invalidCount, len(taskList))
	}
	return nil
}
