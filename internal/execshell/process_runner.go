package execshell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	defaultShellPathConstant              = "/bin/sh"
	shellCommandFlagConstant              = "-c"
	drainBufferSizeConstant               = 32 * 1024
	defaultTerminationGracePeriodConstant = 2 * time.Second
	commandLineMissingMessageConstant     = "process command line not provided"
	timeoutNotPositiveMessageConstant     = "process timeout must be positive"
	processNotReapedMessageConstant       = "process did not exit after termination"
	processStartErrorTemplateConstant     = "unable to start %q: %w"
	processPipeErrorTemplateConstant      = "unable to attach %s pipe for %q: %w"
	processWaitErrorTemplateConstant      = "unable to wait for %q: %w"
	processCanceledErrorTemplateConstant  = "process %q canceled: %w"
	processOutputErrorTemplateConstant    = "unable to forward output of %q: %w"
	processTimeoutMessageTemplateConstant = "command %q timed out after %s"
	standardOutputStreamNameConstant      = "stdout"
	standardErrorStreamNameConstant       = "stderr"
	environmentAssignmentTemplateConstant = "%s=%s"
)

var (
	// ErrCommandLineMissing indicates the process request carried no command line.
	ErrCommandLineMissing = errors.New(commandLineMissingMessageConstant)
	// ErrTimeoutNotPositive indicates the process request carried no usable timeout.
	ErrTimeoutNotPositive = errors.New(timeoutNotPositiveMessageConstant)
	// ErrProcessNotReaped indicates the child survived forced termination past the grace period.
	ErrProcessNotReaped = errors.New(processNotReapedMessageConstant)
)

// ProcessRequest describes a single shell invocation.
type ProcessRequest struct {
	CommandLine      string
	Timeout          time.Duration
	Environment      map[string]string
	StandardOutput   io.Writer
	StandardError    io.Writer
	WorkingDirectory string
}

// ProcessResult captures the observable outcome of a shell invocation.
type ProcessResult struct {
	ExitCode int
	TimedOut bool
	Elapsed  time.Duration
}

// ProcessRunner executes shell command lines under a wall-clock bound.
type ProcessRunner interface {
	Run(executionContext context.Context, request ProcessRequest) (ProcessResult, error)
}

// ProcessTimeoutError reports a child process that exceeded its bound and was killed.
type ProcessTimeoutError struct {
	CommandLine string
	Elapsed     time.Duration
}

// Error describes the timeout.
func (timeoutError ProcessTimeoutError) Error() string {
	return fmt.Sprintf(processTimeoutMessageTemplateConstant, timeoutError.CommandLine, timeoutError.Elapsed.Round(time.Millisecond))
}

// ShellProcessRunner runs command lines through /bin/sh in a dedicated process group.
type ShellProcessRunner struct {
	shellPath              string
	terminationGracePeriod time.Duration
	nowProvider            func() time.Time
}

// ShellProcessRunnerOption customizes a ShellProcessRunner.
type ShellProcessRunnerOption func(*ShellProcessRunner)

// WithShellPath overrides the shell used to interpret command lines.
func WithShellPath(shellPath string) ShellProcessRunnerOption {
	return func(runner *ShellProcessRunner) {
		trimmed := strings.TrimSpace(shellPath)
		if len(trimmed) > 0 {
			runner.shellPath = trimmed
		}
	}
}

// WithTerminationGracePeriod bounds how long a killed child may take to be reaped.
func WithTerminationGracePeriod(gracePeriod time.Duration) ShellProcessRunnerOption {
	return func(runner *ShellProcessRunner) {
		if gracePeriod > 0 {
			runner.terminationGracePeriod = gracePeriod
		}
	}
}

// WithNowProvider overrides the clock used to measure elapsed time.
func WithNowProvider(nowProvider func() time.Time) ShellProcessRunnerOption {
	return func(runner *ShellProcessRunner) {
		if nowProvider != nil {
			runner.nowProvider = nowProvider
		}
	}
}

// NewShellProcessRunner constructs a runner with the provided options.
func NewShellProcessRunner(options ...ShellProcessRunnerOption) *ShellProcessRunner {
	runner := &ShellProcessRunner{
		shellPath:              defaultShellPathConstant,
		terminationGracePeriod: defaultTerminationGracePeriodConstant,
		nowProvider:            time.Now,
	}
	for _, option := range options {
		if option != nil {
			option(runner)
		}
	}
	return runner
}

type processOutcome struct {
	drainError error
	waitError  error
}

// Run spawns the command line, drains both output streams concurrently, and returns the exit code unjudged.
//
// On timeout or cancellation the process group is killed and both drains are joined
// before Run returns. The one exception is ErrProcessNotReaped: when the child is
// still not reaped after the termination grace period, Run returns immediately and
// the goroutine waiting on the drains and the child outlives the call. It exits
// once the kernel reaps the child; callers that see ErrProcessNotReaped should
// treat the process as leaked.
func (runner *ShellProcessRunner) Run(executionContext context.Context, request ProcessRequest) (ProcessResult, error) {
	commandLine := strings.TrimSpace(request.CommandLine)
	if len(commandLine) == 0 {
		return ProcessResult{}, ErrCommandLineMissing
	}
	if request.Timeout <= 0 {
		return ProcessResult{}, ErrTimeoutNotPositive
	}
	if executionContext == nil {
		executionContext = context.Background()
	}

	runContext, cancelRun := context.WithTimeout(executionContext, request.Timeout)
	defer cancelRun()

	command := exec.Command(runner.shellPath, shellCommandFlagConstant, commandLine)
	command.Dir = strings.TrimSpace(request.WorkingDirectory)
	command.Env = mergeEnvironment(os.Environ(), request.Environment)
	configureProcessGroup(command)

	standardOutputPipe, stdoutPipeError := command.StdoutPipe()
	if stdoutPipeError != nil {
		return ProcessResult{}, fmt.Errorf(processPipeErrorTemplateConstant, standardOutputStreamNameConstant, commandLine, stdoutPipeError)
	}
	standardErrorPipe, stderrPipeError := command.StderrPipe()
	if stderrPipeError != nil {
		return ProcessResult{}, fmt.Errorf(processPipeErrorTemplateConstant, standardErrorStreamNameConstant, commandLine, stderrPipeError)
	}

	startedAt := runner.nowProvider()
	if startError := command.Start(); startError != nil {
		return ProcessResult{}, fmt.Errorf(processStartErrorTemplateConstant, commandLine, startError)
	}

	var drainGroup errgroup.Group
	drainGroup.Go(func() error {
		return drainStream(standardOutputPipe, request.StandardOutput)
	})
	drainGroup.Go(func() error {
		return drainStream(standardErrorPipe, request.StandardError)
	})

	// Wait may only run once both drains observed end of stream.
	outcomeChannel := make(chan processOutcome, 1)
	go func() {
		drainError := drainGroup.Wait()
		waitError := command.Wait()
		outcomeChannel <- processOutcome{drainError: drainError, waitError: waitError}
	}()

	var outcome processOutcome
	select {
	case outcome = <-outcomeChannel:
	case <-runContext.Done():
		terminateProcessGroup(command.Process)
		closeQuietly(standardOutputPipe)
		closeQuietly(standardErrorPipe)

		graceTimer := time.NewTimer(runner.terminationGracePeriod)
		defer graceTimer.Stop()
		select {
		case <-outcomeChannel:
		case <-graceTimer.C:
			return ProcessResult{ExitCode: -1, TimedOut: true, Elapsed: runner.nowProvider().Sub(startedAt)}, ErrProcessNotReaped
		}

		elapsed := runner.nowProvider().Sub(startedAt)
		if errors.Is(runContext.Err(), context.DeadlineExceeded) {
			return ProcessResult{ExitCode: -1, TimedOut: true, Elapsed: elapsed}, ProcessTimeoutError{CommandLine: commandLine, Elapsed: elapsed}
		}
		return ProcessResult{ExitCode: -1, Elapsed: elapsed}, fmt.Errorf(processCanceledErrorTemplateConstant, commandLine, runContext.Err())
	}

	result := ProcessResult{Elapsed: runner.nowProvider().Sub(startedAt)}
	if outcome.waitError != nil {
		var exitError *exec.ExitError
		if !errors.As(outcome.waitError, &exitError) {
			return result, fmt.Errorf(processWaitErrorTemplateConstant, commandLine, outcome.waitError)
		}
		result.ExitCode = exitError.ExitCode()
	}
	if outcome.drainError != nil {
		return result, fmt.Errorf(processOutputErrorTemplateConstant, commandLine, outcome.drainError)
	}
	return result, nil
}

// drainStream copies the stream into the sink until end of stream. A failing
// sink is replaced with io.Discard so the child never blocks on a full pipe.
func drainStream(source io.Reader, sink io.Writer) error {
	if sink == nil {
		sink = io.Discard
	}

	var sinkError error
	buffer := make([]byte, drainBufferSizeConstant)
	for {
		readCount, readError := source.Read(buffer)
		if readCount > 0 && sinkError == nil {
			if _, writeError := sink.Write(buffer[:readCount]); writeError != nil {
				sinkError = writeError
			}
		}
		if readError != nil {
			if errors.Is(readError, io.EOF) || errors.Is(readError, os.ErrClosed) {
				return sinkError
			}
			return readError
		}
	}
}

func closeQuietly(closer io.Closer) {
	if closer == nil {
		return
	}
	_ = closer.Close()
}

func mergeEnvironment(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return base
	}

	merged := make([]string, 0, len(base)+len(overrides))
	for _, entry := range base {
		name, _, _ := strings.Cut(entry, "=")
		if _, overridden := overrides[name]; overridden {
			continue
		}
		merged = append(merged, entry)
	}

	overrideNames := make([]string, 0, len(overrides))
	for name := range overrides {
		overrideNames = append(overrideNames, name)
	}
	sort.Strings(overrideNames)
	for _, name := range overrideNames {
		merged = append(merged, fmt.Sprintf(environmentAssignmentTemplateConstant, name, overrides[name]))
	}
	return merged
}

// SynchronizedWriter serializes writes to a shared sink.
type SynchronizedWriter struct {
	mutex  sync.Mutex
	target io.Writer
}

// NewSynchronizedWriter wraps the target writer.
func NewSynchronizedWriter(target io.Writer) *SynchronizedWriter {
	if target == nil {
		target = io.Discard
	}
	return &SynchronizedWriter{target: target}
}

// Write forwards the payload under the writer lock.
func (writer *SynchronizedWriter) Write(payload []byte) (int, error) {
	writer.mutex.Lock()
	defer writer.mutex.Unlock()
	return writer.target.Write(payload)
}
