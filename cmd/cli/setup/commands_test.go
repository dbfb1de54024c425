package setup

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/tyemirov/devsetup/internal/execshell"
	"github.com/tyemirov/devsetup/internal/markers"
	setuppkg "github.com/tyemirov/devsetup/internal/setup"
	"github.com/tyemirov/devsetup/internal/tasks"
)

const (
	hostnameAndPersonalDataDocument = `setup:
  name: workstation
  tasks:
    - task: set-hostname
      with:
        name: devbox
    - task: set-personal-data
      with:
        first_name: Mona
        last_name: Octocat
        email: mona@example.com
`
	incompletePersonalDataDocument = `setup:
  tasks:
    - task: set-personal-data
      with:
        first_name: Mona
`
)

type recordingProcessRunner struct {
	mutex        sync.Mutex
	commandLines []string
}

func (runner *recordingProcessRunner) Run(executionContext context.Context, request execshell.ProcessRequest) (execshell.ProcessResult, error) {
	runner.mutex.Lock()
	defer runner.mutex.Unlock()
	runner.commandLines = append(runner.commandLines, request.CommandLine)
	return execshell.ProcessResult{}, nil
}

type commandFixture struct {
	store  *markers.MemoryStore
	runner *recordingProcessRunner
	home   string
}

func newCommandFixture(t *testing.T) *commandFixture {
	t.Helper()
	return &commandFixture{
		store:  markers.NewMemoryStore(),
		runner: &recordingProcessRunner{},
		home:   t.TempDir(),
	}
}

func (fixture *commandFixture) providers(configuration CommandConfiguration) Providers {
	return Providers{
		ConfigurationProvider: func() CommandConfiguration { return configuration },
		ProcessRunner:         fixture.runner,
		MarkerStoreOpener: func(MarkersConfiguration) (markers.Store, func() error, error) {
			return fixture.store, nil, nil
		},
		EnvironmentProvider: func(output io.Writer) (tasks.Environment, error) {
			return tasks.Environment{
				HomeDirectory: fixture.home,
				SSHDirectory:  filepath.Join(fixture.home, ".ssh"),
				Output:        output,
			}, nil
		},
	}
}

func writeTaskFile(t *testing.T, document string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tasks.yaml")
	require.NoError(t, os.WriteFile(path, []byte(document), 0o600))
	return path
}

func executeCommand(t *testing.T, command *cobra.Command, arguments ...string) (string, string, error) {
	t.Helper()
	var output bytes.Buffer
	var errorOutput bytes.Buffer
	command.SetOut(&output)
	command.SetErr(&errorOutput)
	command.SetArgs(arguments)
	command.SetContext(context.Background())
	executionError := command.Execute()
	return output.String(), errorOutput.String(), executionError
}

func TestRunCommandExecutesPendingTasks(t *testing.T) {
	fixture := newCommandFixture(t)
	builder := RunCommandBuilder{Providers: fixture.providers(DefaultCommandConfiguration())}
	command, buildError := builder.Build()
	require.NoError(t, buildError)

	taskFile := writeTaskFile(t, hostnameAndPersonalDataDocument)
	_, errorOutput, runError := executeCommand(t, command, taskFile)
	require.NoError(t, runError)

	require.Equal(t, []string{"hostnamectl set-hostname 'devbox'"}, fixture.runner.commandLines)
	require.Contains(t, errorOutput, "Summary: total.tasks=2 executed=2 skipped=0 pending=0")

	email, found, getError := fixture.store.Get(context.Background(), "personal-data.email")
	require.NoError(t, getError)
	require.True(t, found)
	require.Equal(t, "mona@example.com", email)

	rerun, rebuildError := builder.Build()
	require.NoError(t, rebuildError)
	_, secondErrorOutput, secondRunError := executeCommand(t, rerun, taskFile)
	require.NoError(t, secondRunError)
	require.Contains(t, secondErrorOutput, "executed=0 skipped=2")
	require.Len(t, fixture.runner.commandLines, 1)
}

func TestRunCommandDryRunListsPlannedTasks(t *testing.T) {
	fixture := newCommandFixture(t)
	builder := RunCommandBuilder{Providers: fixture.providers(DefaultCommandConfiguration())}
	command, buildError := builder.Build()
	require.NoError(t, buildError)

	output, errorOutput, runError := executeCommand(t, command, "--dry-run", writeTaskFile(t, hostnameAndPersonalDataDocument))
	require.NoError(t, runError)

	require.Equal(t, "set-hostname\twould execute\nset-personal-data\twould execute\n", output)
	require.Contains(t, errorOutput, "pending=2 dry_run=true")
	require.Empty(t, fixture.runner.commandLines)
	require.Empty(t, fixture.store.Keys())
}

func TestRunCommandUserInputEnforcement(t *testing.T) {
	testCases := []struct {
		name          string
		configuration CommandConfiguration
		arguments     []string
		expectInput   bool
	}{
		{
			name:          "enforced_by_default",
			configuration: DefaultCommandConfiguration(),
			expectInput:   true,
		},
		{
			name:          "flag_allows_missing_input",
			configuration: DefaultCommandConfiguration(),
			arguments:     []string{"--allow-missing-input"},
		},
		{
			name:          "configuration_disables_enforcement",
			configuration: CommandConfiguration{Run: RunConfiguration{RequireUserInput: false}},
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			fixture := newCommandFixture(t)
			builder := RunCommandBuilder{Providers: fixture.providers(testCase.configuration)}
			command, buildError := builder.Build()
			require.NoError(t, buildError)

			arguments := append(append([]string{}, testCase.arguments...), writeTaskFile(t, incompletePersonalDataDocument))
			_, _, runError := executeCommand(t, command, arguments...)

			if !testCase.expectInput {
				require.NoError(t, runError)
				return
			}
			var inputError setuppkg.InputRequiredError
			require.True(t, errors.As(runError, &inputError))
			require.Contains(t, inputError.Report.Fields(), "last_name")
		})
	}
}

func TestRunCommandWritesMetricsFile(t *testing.T) {
	fixture := newCommandFixture(t)
	builder := RunCommandBuilder{Providers: fixture.providers(DefaultCommandConfiguration())}
	command, buildError := builder.Build()
	require.NoError(t, buildError)

	metricsPath := filepath.Join(t.TempDir(), "devsetup.prom")
	_, _, runError := executeCommand(t, command, "--metrics-file", metricsPath, writeTaskFile(t, hostnameAndPersonalDataDocument))
	require.NoError(t, runError)

	contents, readError := os.ReadFile(metricsPath)
	require.NoError(t, readError)
	require.Contains(t, string(contents), `devsetup_task_outcomes_total{outcome="executed",task_type="set-hostname"} 1`)
	require.Contains(t, string(contents), `devsetup_task_outcomes_total{outcome="executed",task_type="set-personal-data"} 1`)
}

func TestRunCommandRejectsMissingTaskFile(t *testing.T) {
	fixture := newCommandFixture(t)
	builder := RunCommandBuilder{Providers: fixture.providers(DefaultCommandConfiguration())}
	command, buildError := builder.Build()
	require.NoError(t, buildError)

	_, _, runError := executeCommand(t, command, filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, runError)
	require.Empty(t, fixture.runner.commandLines)
}

func TestValidateCommandReportsEveryTask(t *testing.T) {
	fixture := newCommandFixture(t)
	builder := ValidateCommandBuilder{Providers: fixture.providers(DefaultCommandConfiguration())}
	command, buildError := builder.Build()
	require.NoError(t, buildError)

	document := `setup:
  tasks:
    - task: set-hostname
      with:
        name: devbox
    - task: set-personal-data
      with:
        first_name: Mona
`
	output, errorOutput, validateError := executeCommand(t, command, writeTaskFile(t, document))
	require.ErrorIs(t, validateError, ErrInvalidTasks)
	require.NotContains(t, output+errorOutput, "Usage:")
	require.Contains(t, validateError.Error(), "1 of 2 tasks")

	lines := strings.Split(strings.TrimSpace(output), "\n")
	require.Len(t, lines, 2)
	require.Equal(t, "set-hostname\tok", lines[0])
	require.True(t, strings.HasPrefix(lines[1], "set-personal-data\t"))
	require.Contains(t, lines[1], "last_name")
	require.Empty(t, fixture.runner.commandLines)
}

func TestStatusCommandReportsMarkers(t *testing.T) {
	fixture := newCommandFixture(t)
	require.NoError(t, markers.MarkDone(context.Background(), fixture.store, tasks.HostnameType))

	builder := StatusCommandBuilder{Providers: fixture.providers(DefaultCommandConfiguration())}
	command, buildError := builder.Build()
	require.NoError(t, buildError)

	output, _, statusError := executeCommand(t, command, writeTaskFile(t, hostnameAndPersonalDataDocument))
	require.NoError(t, statusError)
	require.Equal(t, "set-hostname\tdone\nset-personal-data\tpending\n", output)
	require.Empty(t, fixture.runner.commandLines)
}

func TestCommandsRequireExactlyOneTaskFile(t *testing.T) {
	fixture := newCommandFixture(t)
	providers := fixture.providers(DefaultCommandConfiguration())
	builders := map[string]interface {
		Build() (*cobra.Command, error)
	}{
		"run":      &RunCommandBuilder{Providers: providers},
		"validate": &ValidateCommandBuilder{Providers: providers},
		"status":   &StatusCommandBuilder{Providers: providers},
	}

	for name, builder := range builders {
		t.Run(name, func(t *testing.T) {
			command, buildError := builder.Build()
			require.NoError(t, buildError)
			_, _, executionError := executeCommand(t, command)
			require.Error(t, executionError)
		})
	}
}
