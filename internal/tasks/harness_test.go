package tasks_test

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tyemirov/devsetup/internal/execshell"
	"github.com/tyemirov/devsetup/internal/markers"
	"github.com/tyemirov/devsetup/internal/setup"
	"github.com/tyemirov/devsetup/internal/tasks"
)

type scriptedProcessRunner struct {
	mutex    sync.Mutex
	exitCode map[string]int
	requests []execshell.ProcessRequest
}

func (runner *scriptedProcessRunner) Run(executionContext context.Context, request execshell.ProcessRequest) (execshell.ProcessResult, error) {
	runner.mutex.Lock()
	defer runner.mutex.Unlock()
	runner.requests = append(runner.requests, request)
	for prefix, exitCode := range runner.exitCode {
		if strings.HasPrefix(request.CommandLine, prefix) {
			if exitCode != 0 && request.StandardError != nil {
				_, _ = request.StandardError.Write([]byte("fatal: scripted failure\n"))
			}
			return execshell.ProcessResult{ExitCode: exitCode}, nil
		}
	}
	return execshell.ProcessResult{}, nil
}

func (runner *scriptedProcessRunner) commandLines() []string {
	runner.mutex.Lock()
	defer runner.mutex.Unlock()
	lines := make([]string, 0, len(runner.requests))
	for _, request := range runner.requests {
		lines = append(lines, request.CommandLine)
	}
	return lines
}

// countingStore records how many writes reach the marker store.
type countingStore struct {
	*markers.MemoryStore
	mutex  sync.Mutex
	writes int
}

func (store *countingStore) Put(executionContext context.Context, key string, value string) error {
	store.mutex.Lock()
	store.writes++
	store.mutex.Unlock()
	return store.MemoryStore.Put(executionContext, key, value)
}

func (store *countingStore) writeCount() int {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return store.writes
}

type taskHarness struct {
	home     string
	ssh      string
	store    *countingStore
	runner   *scriptedProcessRunner
	output   *bytes.Buffer
	registry *setup.Registry
}

func newTaskHarness(testInstance *testing.T) *taskHarness {
	testInstance.Helper()
	home := testInstance.TempDir()
	harness := &taskHarness{
		home:     home,
		ssh:      home + "/.ssh",
		store:    &countingStore{MemoryStore: markers.NewMemoryStore()},
		runner:   &scriptedProcessRunner{exitCode: map[string]int{}},
		output:   &bytes.Buffer{},
		registry: setup.NewRegistry(),
	}

	executor, executorError := execshell.NewShellExecutor(zap.NewNop(), harness.runner, false)
	require.NoError(testInstance, executorError)

	require.NoError(testInstance, tasks.RegisterAll(harness.registry, tasks.Dependencies{
		Logger:   zap.NewNop(),
		Executor: executor,
		Markers:  harness.store,
		Environment: tasks.Environment{
			HomeDirectory: harness.home,
			SSHDirectory:  harness.ssh,
			Output:        harness.output,
		},
	}))
	return harness
}

func (harness *taskHarness) load(testInstance *testing.T, document string) *setup.TaskSet {
	testInstance.Helper()
	configuration, parseError := setup.ParseConfiguration([]byte(document))
	require.NoError(testInstance, parseError)
	taskSet, loadError := harness.registry.Load(configuration)
	require.NoError(testInstance, loadError)
	require.NoError(testInstance, taskSet.Init())
	return taskSet
}

func (harness *taskHarness) run(testInstance *testing.T, taskSet *setup.TaskSet) (setup.RunOutcome, error) {
	testInstance.Helper()
	coordinator, coordinatorError := setup.NewCoordinator(zap.NewNop())
	require.NoError(testInstance, coordinatorError)
	return coordinator.Run(context.Background(), taskSet, setup.RunOptions{RequireUserInput: true})
}
