package setup

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tyemirov/devsetup/internal/metrics"
	setuppkg "github.com/tyemirov/devsetup/internal/setup"
	flagutils "github.com/tyemirov/devsetup/internal/utils/flags"
	"github.com/tyemirov/devsetup/pkg/taskrunner"
)

const (
	runCommandUseName          = "run <tasks.yaml>"
	runCommandShortDescription = "Execute every pending task in a task file"
	runCommandLongDescription  = "run loads the task file, resolves references, and drives each task through probe, validation, and execution in declaration order. The first failure stops the run."
	metricsFileFlagName        = "metrics-file"
	metricsFileFlagUsage       = "Write run metrics in the Prometheus textfile format to this path"
	dryRunLineTemplate         = "%s\twould execute\n"
)

// RunCommandBuilder assembles the run command.
type RunCommandBuilder struct {
	Providers
}

// Build constructs the run command.
func (builder *RunCommandBuilder) Build() (*cobra.Command, error) {
	command := &cobra.Command{
		Use:           runCommandUseName,
		Short:         runCommandShortDescription,
		Long:          runCommandLongDescription,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          builder.run,
	}

	flagutils.BindExecutionFlags(command, flagutils.ExecutionDefaults{})
	command.Flags().String(metricsFileFlagName, "", metricsFileFlagUsage)

	return command, nil
}

func (builder *RunCommandBuilder) run(command *cobra.Command, arguments []string) error {
	activeSession, openError := builder.open(command, arguments)
	if openError != nil {
		return openError
	}
	defer builder.close(activeSession)

	executionFlags, _ := flagutils.ResolveExecutionFlags(command)
	runOptions := setuppkg.RunOptions{
		RequireUserInput: activeSession.configuration.Run.RequireUserInput && !executionFlags.AllowMissingInput,
		DryRun:           executionFlags.DryRun,
	}

	metricsFile := activeSession.configuration.Run.MetricsFile
	if flagValue, flagChanged, flagError := flagutils.StringFlag(command, metricsFileFlagName); flagError == nil && flagChanged {
		metricsFile = strings.TrimSpace(flagValue)
	}

	var coordinatorOptions []setuppkg.CoordinatorOption
	var recorder *metrics.Recorder
	if len(metricsFile) > 0 {
		createdRecorder, recorderError := metrics.NewRecorder()
		if recorderError != nil {
			return recorderError
		}
		recorder = createdRecorder
		coordinatorOptions = append(coordinatorOptions, setuppkg.WithObserver(recorder))
	}

	executor, resolveError := taskrunner.Resolve(builder.TaskRunnerFactory, activeSession.dependencies, coordinatorOptions...)
	if resolveError != nil {
		return resolveError
	}

	outcome, runError := executor.Run(command.Context(), activeSession.taskSet, runOptions)
	if runOptions.DryRun {
		for _, taskOutcome := range outcome.Tasks {
			if taskOutcome.Skipped || taskOutcome.FinalState() != setuppkg.TaskStateDone {
				continue
			}
			fmt.Fprintf(activeSession.dependencies.Output, dryRunLineTemplate, taskOutcome.Identity)
		}
	}

	if recorder != nil {
		if writeError := recorder.WriteToTextfile(metricsFile); writeError != nil {
			return errors.Join(runError, writeError)
		}
	}
	return runError
}
