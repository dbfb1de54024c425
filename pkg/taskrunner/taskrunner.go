package taskrunner

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tyemirov/devsetup/internal/setup"
	"github.com/tyemirov/devsetup/internal/tasks"
)

// Executor runs an initialized task set.
type Executor interface {
	Run(ctx context.Context, taskSet *setup.TaskSet, options setup.RunOptions) (setup.RunOutcome, error)
}

// Factory constructs an Executor given resolved dependencies.
type Factory func(dependencies DependenciesResult, coordinatorOptions ...setup.CoordinatorOption) (Executor, error)

// LoadTaskSet registers the task catalogue, loads the task file, and resolves references.
func LoadTaskSet(taskFilePath string, dependencies tasks.Dependencies) (*setup.TaskSet, error) {
	registry := setup.NewRegistry()
	if registrationError := tasks.RegisterAll(registry, dependencies); registrationError != nil {
		return nil, fmt.Errorf("taskrunner.load.register: %w", registrationError)
	}
	taskSet, loadError := registry.LoadFile(taskFilePath)
	if loadError != nil {
		return nil, loadError
	}
	if initError := taskSet.Init(); initError != nil {
		return nil, initError
	}
	return taskSet, nil
}

// Resolve returns either the factory result or a default coordinator, wrapped to print a summary line.
func Resolve(factory Factory, dependencies DependenciesResult, coordinatorOptions ...setup.CoordinatorOption) (Executor, error) {
	var base Executor
	if factory != nil {
		built, buildError := factory(dependencies, coordinatorOptions...)
		if buildError != nil {
			return nil, buildError
		}
		base = built
	}
	if base == nil {
		logger := dependencies.Tasks.Logger
		if logger == nil {
			logger = zap.NewNop()
		}
		coordinator, coordinatorError := setup.NewCoordinator(logger, coordinatorOptions...)
		if coordinatorError != nil {
			return nil, fmt.Errorf("taskrunner.resolve.coordinator: %w", coordinatorError)
		}
		base = coordinator
	}
	return summaryExecutor{
		delegate:    base,
		writer:      dependencies.Errors,
		nowProvider: time.Now,
	}, nil
}

type summaryExecutor struct {
	delegate    Executor
	writer      io.Writer
	nowProvider func() time.Time
}

func (executor summaryExecutor) Run(ctx context.Context, taskSet *setup.TaskSet, options setup.RunOptions) (setup.RunOutcome, error) {
	started := executor.nowProvider()
	outcome, err := executor.delegate.Run(ctx, taskSet, options)
	executor.printSummary(outcome, executor.nowProvider().Sub(started))
	return outcome, err
}

func (executor summaryExecutor) printSummary(outcome setup.RunOutcome, elapsed time.Duration) {
	if executor.writer == nil {
		return
	}
	summary := RenderSummaryLine(outcome, elapsed)
	if len(strings.TrimSpace(summary)) == 0 {
		return
	}
	fmt.Fprintln(executor.writer, summary)
}
