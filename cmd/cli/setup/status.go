package setup

import (
	"fmt"

	"github.com/spf13/cobra"

	setuppkg "github.com/tyemirov/devsetup/internal/setup"
)

const (
	statusCommandUseName          = "status <tasks.yaml>"
	statusCommandShortDescription = "Report which tasks are already done"
	statusCommandLongDescription  = "status probes every task in the task file and prints done or pending for each. It never executes or validates anything."
	statusLineTemplate            = "%s\t%s\n"
	statusDone                    = "done"
	statusPending                 = "pending"
)

// StatusCommandBuilder assembles the status command.
type StatusCommandBuilder struct {
	Providers
}

// Build constructs the status command.
func (builder *StatusCommandBuilder) Build() (*cobra.Command, error) {
	command := &cobra.Command{
		Use:           statusCommandUseName,
		Short:         statusCommandShortDescription,
		Long:          statusCommandLongDescription,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          builder.run,
	}
	return command, nil
}

func (builder *StatusCommandBuilder) run(command *cobra.Command, arguments []string) error {
	activeSession, openError := builder.open(command, arguments)
	if openError != nil {
		return openError
	}
	defer builder.close(activeSession)

	for _, task := range activeSession.taskSet.Tasks() {
		alreadyExecuted, probeError := task.AlreadyExecuted(command.Context())
		if probeError != nil {
			return setuppkg.WrapExecutionError(task.Identity(), probeError)
		}
		state := statusPending
		if alreadyExecuted {
			state = statusDone
		}
		fmt.Fprintf(activeSession.dependencies.Output, statusLineTemplate, task.Identity(), state)
	}
	return nil
}
