package setup

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tyemirov/devsetup/internal/utils"
)

// TaskState is a node of the per-task state machine.
type TaskState string

// Task states.
const (
	TaskStatePending  TaskState = "PENDING"
	TaskStateSkip     TaskState = "SKIP"
	TaskStateValidate TaskState = "VALIDATE"
	TaskStateAbort    TaskState = "ABORT"
	TaskStateExecute  TaskState = "EXECUTE"
	TaskStateDone     TaskState = "DONE"
)

const (
	loggerNotConfiguredMessageConstant  = "setup coordinator logger not configured"
	taskFieldNameConstant               = "task"
	failedTaskFieldNameConstant         = "failed_task"
	runIdentifierFieldNameConstant      = "run_id"
	taskCountFieldNameConstant          = "task_count"
	setupNameFieldNameConstant          = "setup"
	dryRunFieldNameConstant             = "dry_run"
	elapsedFieldNameConstant            = "elapsed"
	executedCountFieldNameConstant      = "executed"
	skippedCountFieldNameConstant       = "skipped"
	runStartedMessageConstant           = "setup run started"
	runCompletedMessageConstant         = "setup run completed"
	runAbortedMessageConstant           = "setup run aborted"
	taskSkippedMessageConstant          = "task already executed, skipping"
	taskValidationFailedMessageConstant = "task validation failed"
	taskInputMissingMessageConstant     = "task requires input"
	taskDryRunMessageConstant           = "task would execute"
	taskExecutingMessageConstant        = "executing task"
	taskExecutedMessageConstant         = "task executed"
	taskProbeFailedMessageConstant      = "task idempotency probe failed"
	violationsFieldNameConstant         = "violations"
)

// ErrLoggerNotConfigured indicates the coordinator was built without a logger.
var ErrLoggerNotConfigured = errors.New(loggerNotConfiguredMessageConstant)

// Transition records one state change of one task.
type Transition struct {
	RunIdentifier string
	Identity      Identity
	From          TaskState
	To            TaskState
	Elapsed       time.Duration
}

// Observer receives every transition in order.
type Observer interface {
	ObserveTransition(transition Transition)
}

// TaskOutcome is the state path one task took.
type TaskOutcome struct {
	Identity Identity
	States   []TaskState
	Executed bool
	Skipped  bool
}

// FinalState returns the last state reached.
func (outcome TaskOutcome) FinalState() TaskState {
	if len(outcome.States) == 0 {
		return TaskStatePending
	}
	return outcome.States[len(outcome.States)-1]
}

// RunOutcome is the ordered trace of a coordinator run.
type RunOutcome struct {
	RunIdentifier string
	DryRun        bool
	Tasks         []TaskOutcome
}

// ExecutionOrder lists the identities whose Execute was invoked, in order.
func (outcome RunOutcome) ExecutionOrder() []Identity {
	identities := make([]Identity, 0, len(outcome.Tasks))
	for _, task := range outcome.Tasks {
		if task.Executed {
			identities = append(identities, task.Identity)
		}
	}
	return identities
}

// Counts returns how many tasks executed, skipped, and would execute under dry-run.
func (outcome RunOutcome) Counts() (executed int, skipped int, pending int) {
	for _, task := range outcome.Tasks {
		switch {
		case task.Executed:
			executed++
		case task.Skipped:
			skipped++
		case task.FinalState() == TaskStateDone:
			pending++
		}
	}
	return executed, skipped, pending
}

// RunOptions tune a single run.
type RunOptions struct {
	// RequireUserInput aborts when a task's user-input constraints fail.
	RequireUserInput bool
	// DryRun stops after validation and never calls Execute.
	DryRun bool
}

// CoordinatorOption customizes a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithObserver registers a transition observer.
func WithObserver(observer Observer) CoordinatorOption {
	return func(coordinator *Coordinator) {
		if observer != nil {
			coordinator.observers = append(coordinator.observers, observer)
		}
	}
}

// WithRunIdentifierProvider overrides run id generation.
func WithRunIdentifierProvider(provider func() string) CoordinatorOption {
	return func(coordinator *Coordinator) {
		if provider != nil {
			coordinator.runIdentifierProvider = provider
		}
	}
}

// WithNowProvider overrides the clock.
func WithNowProvider(provider func() time.Time) CoordinatorOption {
	return func(coordinator *Coordinator) {
		if provider != nil {
			coordinator.nowProvider = provider
		}
	}
}

// Coordinator runs an initialized task set strictly in declaration order.
type Coordinator struct {
	logger                *zap.Logger
	observers             []Observer
	runIdentifierProvider func() string
	nowProvider           func() time.Time
	contextAccessor       utils.CommandContextAccessor
}

// NewCoordinator constructs a Coordinator.
func NewCoordinator(logger *zap.Logger, options ...CoordinatorOption) (*Coordinator, error) {
	if logger == nil {
		return nil, ErrLoggerNotConfigured
	}
	coordinator := &Coordinator{
		logger:                logger,
		runIdentifierProvider: func() string { return uuid.NewString() },
		nowProvider:           time.Now,
		contextAccessor:       utils.NewCommandContextAccessor(),
	}
	for _, option := range options {
		if option != nil {
			option(coordinator)
		}
	}
	return coordinator, nil
}

// Run drives every task through probe, validation, and execution.
// The first failure aborts the run; the returned outcome still holds the trace up to that point.
func (coordinator *Coordinator) Run(executionContext context.Context, taskSet *TaskSet, options RunOptions) (RunOutcome, error) {
	if taskSet == nil {
		return RunOutcome{}, ErrTaskSetNotConfigured
	}
	if !taskSet.Initialized() {
		return RunOutcome{}, ErrRegistryNotInitialized
	}
	if executionContext == nil {
		executionContext = context.Background()
	}

	runIdentifier := coordinator.runIdentifierProvider()
	outcome := RunOutcome{RunIdentifier: runIdentifier, DryRun: options.DryRun, Tasks: make([]TaskOutcome, 0, len(taskSet.tasks))}
	runLogger := coordinator.logger.With(zap.String(runIdentifierFieldNameConstant, runIdentifier))
	runStarted := coordinator.nowProvider()

	runLogger.Info(
		runStartedMessageConstant,
		zap.String(setupNameFieldNameConstant, taskSet.Name()),
		zap.Int(taskCountFieldNameConstant, len(taskSet.tasks)),
		zap.Bool(dryRunFieldNameConstant, options.DryRun),
	)

	for _, task := range taskSet.tasks {
		taskOutcome, taskError := coordinator.runTask(executionContext, runIdentifier, runLogger, task, options)
		outcome.Tasks = append(outcome.Tasks, taskOutcome)
		if taskError != nil {
			runLogger.Error(
				runAbortedMessageConstant,
				zap.String(failedTaskFieldNameConstant, task.Identity().String()),
				zap.Duration(elapsedFieldNameConstant, coordinator.nowProvider().Sub(runStarted)),
				zap.Error(taskError),
			)
			return outcome, taskError
		}
	}

	executed, skipped, _ := outcome.Counts()
	runLogger.Info(
		runCompletedMessageConstant,
		zap.Int(executedCountFieldNameConstant, executed),
		zap.Int(skippedCountFieldNameConstant, skipped),
		zap.Duration(elapsedFieldNameConstant, coordinator.nowProvider().Sub(runStarted)),
	)
	return outcome, nil
}

func (coordinator *Coordinator) runTask(parentContext context.Context, runIdentifier string, runLogger *zap.Logger, task SetupTask, options RunOptions) (TaskOutcome, error) {
	identity := task.Identity()
	taskLogger := runLogger.With(zap.String(taskFieldNameConstant, identity.String()))
	taskContext := coordinator.contextAccessor.WithLogger(parentContext, taskLogger)
	taskContext = coordinator.contextAccessor.WithTaskIdentity(taskContext, identity.String())

	tracker := &stateTracker{
		coordinator:   coordinator,
		runIdentifier: runIdentifier,
		outcome:       TaskOutcome{Identity: identity, States: []TaskState{TaskStatePending}},
		enteredAt:     coordinator.nowProvider(),
	}

	alreadyExecuted, probeError := task.AlreadyExecuted(taskContext)
	if probeError != nil {
		taskLogger.Error(taskProbeFailedMessageConstant, zap.Error(probeError))
		tracker.move(TaskStateAbort)
		return tracker.outcome, WrapExecutionError(identity, probeError)
	}
	if alreadyExecuted {
		taskLogger.Info(taskSkippedMessageConstant)
		tracker.move(TaskStateSkip)
		tracker.outcome.Skipped = true
		tracker.move(TaskStateDone)
		return tracker.outcome, nil
	}

	tracker.move(TaskStateValidate)
	report := task.Validate(GroupStructural, GroupConditional)
	if !report.Valid() {
		taskLogger.Error(taskValidationFailedMessageConstant, zap.Strings(violationsFieldNameConstant, report.Fields()))
		tracker.move(TaskStateAbort)
		return tracker.outcome, ValidationError{Identity: identity, Report: report}
	}
	if options.RequireUserInput {
		inputReport := task.Validate(GroupUserInput)
		if !inputReport.Valid() {
			taskLogger.Error(taskInputMissingMessageConstant, zap.Strings(violationsFieldNameConstant, inputReport.Fields()))
			tracker.move(TaskStateAbort)
			return tracker.outcome, InputRequiredError{Identity: identity, Report: inputReport}
		}
	}

	if options.DryRun {
		taskLogger.Info(taskDryRunMessageConstant)
		tracker.move(TaskStateDone)
		return tracker.outcome, nil
	}

	tracker.move(TaskStateExecute)
	taskLogger.Info(taskExecutingMessageConstant)
	tracker.outcome.Executed = true
	if executeError := task.Execute(taskContext); executeError != nil {
		tracker.move(TaskStateAbort)
		return tracker.outcome, WrapExecutionError(identity, executeError)
	}
	taskLogger.Info(taskExecutedMessageConstant, zap.Duration(elapsedFieldNameConstant, coordinator.nowProvider().Sub(tracker.enteredAt)))
	tracker.move(TaskStateDone)
	return tracker.outcome, nil
}

type stateTracker struct {
	coordinator   *Coordinator
	runIdentifier string
	outcome       TaskOutcome
	enteredAt     time.Time
}

func (tracker *stateTracker) move(next TaskState) {
	previous := tracker.outcome.FinalState()
	tracker.outcome.States = append(tracker.outcome.States, next)
	transition := Transition{
		RunIdentifier: tracker.runIdentifier,
		Identity:      tracker.outcome.Identity,
		From:          previous,
		To:            next,
		Elapsed:       tracker.coordinator.nowProvider().Sub(tracker.enteredAt),
	}
	for _, observer := range tracker.coordinator.observers {
		observer.ObserveTransition(transition)
	}
}
