package setup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/tyemirov/devsetup/internal/utils"
)

const (
	coordinatorRunIdentifierConstant = "run-0001"
)

type recordingObserver struct {
	transitions []Transition
}

func (recorder *recordingObserver) ObserveTransition(transition Transition) {
	recorder.transitions = append(recorder.transitions, transition)
}

type contextCapturingTask struct {
	*fakeTask
	capturedIdentity string
	capturedLogger   *zap.Logger
}

func (task *contextCapturingTask) Execute(executionContext context.Context) error {
	accessor := utils.NewCommandContextAccessor()
	task.capturedIdentity, _ = accessor.TaskIdentity(executionContext)
	task.capturedLogger, _ = accessor.Logger(executionContext)
	if task.capturedLogger != nil {
		task.capturedLogger.Info("inside task window")
	}
	return task.fakeTask.Execute(executionContext)
}

func loadInitializedSet(testInstance *testing.T, journal *taskJournal, definitions ...TaskDefinition) *TaskSet {
	testInstance.Helper()
	taskSet, loadError := newFakeRegistry(journal).Load(Configuration{Name: "test", Tasks: definitions})
	require.NoError(testInstance, loadError)
	require.NoError(testInstance, taskSet.Init())
	return taskSet
}

func newTestCoordinator(testInstance *testing.T, logger *zap.Logger, options ...CoordinatorOption) *Coordinator {
	testInstance.Helper()
	allOptions := append([]CoordinatorOption{
		WithRunIdentifierProvider(func() string { return coordinatorRunIdentifierConstant }),
	}, options...)
	coordinator, coordinatorError := NewCoordinator(logger, allOptions...)
	require.NoError(testInstance, coordinatorError)
	return coordinator
}

func TestNewCoordinatorRequiresLogger(testInstance *testing.T) {
	coordinator, coordinatorError := NewCoordinator(nil)
	require.Nil(testInstance, coordinator)
	require.ErrorIs(testInstance, coordinatorError, ErrLoggerNotConfigured)
}

func TestCoordinatorRefusesUninitializedSet(testInstance *testing.T) {
	journal := newTaskJournal()
	taskSet, loadError := newFakeRegistry(journal).Load(Configuration{Tasks: []TaskDefinition{fakeDefinition(fakeStepTypeConstant, "a", nil)}})
	require.NoError(testInstance, loadError)

	coordinator := newTestCoordinator(testInstance, zap.NewNop())

	_, runError := coordinator.Run(context.Background(), taskSet, RunOptions{})
	require.ErrorIs(testInstance, runError, ErrRegistryNotInitialized)
	require.Empty(testInstance, journal.events)

	_, nilSetError := coordinator.Run(context.Background(), nil, RunOptions{})
	require.ErrorIs(testInstance, nilSetError, ErrTaskSetNotConfigured)
}

func TestCoordinatorExecutesInDeclarationOrder(testInstance *testing.T) {
	journal := newTaskJournal()
	taskSet := loadInitializedSet(testInstance, journal,
		fakeDefinition(fakeStepTypeConstant, "third", nil),
		fakeDefinition(fakeSingletonTypeConstant, "", nil),
		fakeDefinition(fakeStepTypeConstant, "first", nil),
	)
	recorder := &recordingObserver{}
	coordinator := newTestCoordinator(testInstance, zap.NewNop(), WithObserver(recorder))

	outcome, runError := coordinator.Run(context.Background(), taskSet, RunOptions{RequireUserInput: true})
	require.NoError(testInstance, runError)
	require.Equal(testInstance, coordinatorRunIdentifierConstant, outcome.RunIdentifier)
	require.Equal(testInstance, []string{"fake-step[third]", "fake-singleton", "fake-step[first]"}, journal.executed())

	order := make([]string, 0, 3)
	for _, identity := range outcome.ExecutionOrder() {
		order = append(order, identity.String())
	}
	require.Equal(testInstance, journal.executed(), order)

	for _, taskOutcome := range outcome.Tasks {
		require.Equal(testInstance, []TaskState{TaskStatePending, TaskStateValidate, TaskStateExecute, TaskStateDone}, taskOutcome.States)
	}
	require.Len(testInstance, recorder.transitions, 9)
	require.Equal(testInstance, TaskStatePending, recorder.transitions[0].From)
	require.Equal(testInstance, TaskStateValidate, recorder.transitions[0].To)
	require.Equal(testInstance, coordinatorRunIdentifierConstant, recorder.transitions[0].RunIdentifier)
}

func TestCoordinatorSkipsExecutedTasksWithoutValidation(testInstance *testing.T) {
	journal := newTaskJournal()
	journal.completed["fake-step[done]"] = true
	taskSet := loadInitializedSet(testInstance, journal,
		fakeDefinition(fakeStepTypeConstant, "done", map[string]any{"path": nil}),
		fakeDefinition(fakeStepTypeConstant, "fresh", nil),
	)
	coordinator := newTestCoordinator(testInstance, zap.NewNop())

	outcome, runError := coordinator.Run(context.Background(), taskSet, RunOptions{})
	require.NoError(testInstance, runError)

	require.Equal(testInstance, []TaskState{TaskStatePending, TaskStateSkip, TaskStateDone}, outcome.Tasks[0].States)
	require.True(testInstance, outcome.Tasks[0].Skipped)
	require.NotContains(testInstance, journal.events, "validate:fake-step[done]")
	require.Equal(testInstance, []string{"fake-step[fresh]"}, journal.executed())

	executed, skipped, pending := outcome.Counts()
	require.Equal(testInstance, 1, executed)
	require.Equal(testInstance, 1, skipped)
	require.Equal(testInstance, 0, pending)
}

func TestCoordinatorSecondRunExecutesNothing(testInstance *testing.T) {
	journal := newTaskJournal()
	taskSet := loadInitializedSet(testInstance, journal,
		fakeDefinition(fakeStepTypeConstant, "a", nil),
		fakeDefinition(fakeSingletonTypeConstant, "", nil),
	)
	coordinator := newTestCoordinator(testInstance, zap.NewNop())

	_, firstError := coordinator.Run(context.Background(), taskSet, RunOptions{})
	require.NoError(testInstance, firstError)
	require.Len(testInstance, journal.executed(), 2)

	secondOutcome, secondError := coordinator.Run(context.Background(), taskSet, RunOptions{})
	require.NoError(testInstance, secondError)
	require.Len(testInstance, journal.executed(), 2)
	require.Empty(testInstance, secondOutcome.ExecutionOrder())
}

func TestCoordinatorAbortsOnValidationFailure(testInstance *testing.T) {
	journal := newTaskJournal()
	taskSet := loadInitializedSet(testInstance, journal,
		fakeDefinition(fakeStepTypeConstant, "ok", nil),
		fakeDefinition(fakeStepTypeConstant, "broken", map[string]any{"path": nil, "secret": nil, "mode": "turbo"}),
		fakeDefinition(fakeStepTypeConstant, "never", nil),
	)
	coordinator := newTestCoordinator(testInstance, zap.NewNop())

	outcome, runError := coordinator.Run(context.Background(), taskSet, RunOptions{})

	var validationError ValidationError
	require.True(testInstance, errors.As(runError, &validationError))
	require.Equal(testInstance, Identity{Type: fakeStepTypeConstant, ID: "broken"}, validationError.Identity)
	require.Equal(testInstance, []string{"path", "mode", "secret"}, validationError.Report.Fields())
	require.Equal(testInstance, []string{"fake-step[ok]"}, journal.executed())
	require.Len(testInstance, outcome.Tasks, 2)
	require.Equal(testInstance, TaskStateAbort, outcome.Tasks[1].FinalState())
}

func TestCoordinatorUserInputEnforcement(testInstance *testing.T) {
	testCases := []struct {
		name             string
		requireUserInput bool
		expectInputError bool
	}{
		{name: "enforced", requireUserInput: true, expectInputError: true},
		{name: "relaxed", requireUserInput: false, expectInputError: false},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(subtest *testing.T) {
			journal := newTaskJournal()
			taskSet := loadInitializedSet(subtest, journal, fakeDefinition(fakeStepTypeConstant, "a", map[string]any{"name": nil}))
			coordinator := newTestCoordinator(subtest, zap.NewNop())

			_, runError := coordinator.Run(context.Background(), taskSet, RunOptions{RequireUserInput: testCase.requireUserInput})
			if !testCase.expectInputError {
				require.NoError(subtest, runError)
				require.Len(subtest, journal.executed(), 1)
				return
			}

			var inputError InputRequiredError
			require.True(subtest, errors.As(runError, &inputError))
			require.Equal(subtest, []string{"name"}, inputError.Report.Fields())

			var validationError ValidationError
			require.False(subtest, errors.As(runError, &validationError))
			require.Empty(subtest, journal.executed())
		})
	}
}

func TestCoordinatorWrapsExecutionFailures(testInstance *testing.T) {
	journal := newTaskJournal()
	taskSet := loadInitializedSet(testInstance, journal,
		fakeDefinition(fakeStepTypeConstant, "a", map[string]any{"fail": true}),
		fakeDefinition(fakeStepTypeConstant, "b", nil),
	)
	coordinator := newTestCoordinator(testInstance, zap.NewNop())

	_, runError := coordinator.Run(context.Background(), taskSet, RunOptions{})

	var executionError TaskExecutionError
	require.True(testInstance, errors.As(runError, &executionError))
	require.Equal(testInstance, "fake-step[a]", executionError.Identity.String())
	require.ErrorIs(testInstance, runError, errFakeExecutionFailure)
	require.Equal(testInstance, []string{"fake-step[a]"}, journal.executed())
}

func TestCoordinatorTreatsProbeFailureAsExecutionFailure(testInstance *testing.T) {
	journal := newTaskJournal()
	taskSet := loadInitializedSet(testInstance, journal, fakeDefinition(fakeStepTypeConstant, "a", map[string]any{"probe_fail": true}))
	coordinator := newTestCoordinator(testInstance, zap.NewNop())

	outcome, runError := coordinator.Run(context.Background(), taskSet, RunOptions{})

	var executionError TaskExecutionError
	require.True(testInstance, errors.As(runError, &executionError))
	require.Equal(testInstance, []TaskState{TaskStatePending, TaskStateAbort}, outcome.Tasks[0].States)
	require.Empty(testInstance, journal.executed())
}

func TestCoordinatorDryRunNeverExecutes(testInstance *testing.T) {
	journal := newTaskJournal()
	taskSet := loadInitializedSet(testInstance, journal,
		fakeDefinition(fakeStepTypeConstant, "a", nil),
		fakeDefinition(fakeSingletonTypeConstant, "", nil),
	)
	coordinator := newTestCoordinator(testInstance, zap.NewNop())

	outcome, runError := coordinator.Run(context.Background(), taskSet, RunOptions{DryRun: true, RequireUserInput: true})
	require.NoError(testInstance, runError)
	require.True(testInstance, outcome.DryRun)
	require.Empty(testInstance, journal.executed())

	executed, skipped, pending := outcome.Counts()
	require.Equal(testInstance, 0, executed)
	require.Equal(testInstance, 0, skipped)
	require.Equal(testInstance, 2, pending)
}

func TestCoordinatorCorrelatesLogsWithinTaskWindow(testInstance *testing.T) {
	observedCore, observedLogs := observer.New(zapcore.InfoLevel)
	logger := zap.New(observedCore)

	journal := newTaskJournal()
	taskSet := loadInitializedSet(testInstance, journal, fakeDefinition(fakeStepTypeConstant, "a", nil))
	capturing := &contextCapturingTask{fakeTask: taskSet.tasks[0].(*fakeTask)}
	taskSet.tasks[0] = capturing

	fixedTime := time.Date(2026, time.January, 2, 3, 4, 5, 0, time.UTC)
	coordinator := newTestCoordinator(testInstance, logger, WithNowProvider(func() time.Time { return fixedTime }))

	_, runError := coordinator.Run(context.Background(), taskSet, RunOptions{})
	require.NoError(testInstance, runError)
	require.Equal(testInstance, "fake-step[a]", capturing.capturedIdentity)
	require.NotNil(testInstance, capturing.capturedLogger)

	insideEntries := observedLogs.FilterMessage("inside task window").All()
	require.Len(testInstance, insideEntries, 1)
	insideFields := insideEntries[0].ContextMap()
	require.Equal(testInstance, "fake-step[a]", insideFields[taskFieldNameConstant])
	require.Equal(testInstance, coordinatorRunIdentifierConstant, insideFields[runIdentifierFieldNameConstant])

	completedEntries := observedLogs.FilterMessage(runCompletedMessageConstant).All()
	require.Len(testInstance, completedEntries, 1)
	completedFields := completedEntries[0].ContextMap()
	require.NotContains(testInstance, completedFields, taskFieldNameConstant)
	require.Equal(testInstance, coordinatorRunIdentifierConstant, completedFields[runIdentifierFieldNameConstant])
}

func TestCoordinatorAbortLogOmitsTaskCorrelation(testInstance *testing.T) {
	observedCore, observedLogs := observer.New(zapcore.InfoLevel)
	journal := newTaskJournal()
	taskSet := loadInitializedSet(testInstance, journal, fakeDefinition(fakeStepTypeConstant, "a", map[string]any{"fail": true}))
	coordinator := newTestCoordinator(testInstance, zap.New(observedCore))

	_, runError := coordinator.Run(context.Background(), taskSet, RunOptions{})
	require.Error(testInstance, runError)

	abortedEntries := observedLogs.FilterMessage(runAbortedMessageConstant).All()
	require.Len(testInstance, abortedEntries, 1)
	abortedFields := abortedEntries[0].ContextMap()
	require.NotContains(testInstance, abortedFields, taskFieldNameConstant)
	require.Equal(testInstance, "fake-step[a]", abortedFields[failedTaskFieldNameConstant])
	require.Equal(testInstance, zapcore.ErrorLevel, abortedEntries[0].Level)
}
