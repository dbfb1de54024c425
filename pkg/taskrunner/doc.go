// Package taskrunner hosts the shared plumbing between the devsetup CLI and the
// setup engine. It resolves task dependencies once (`BuildDependencies`), loads
// and initializes a task file (`LoadTaskSet`), and returns an `Executor` that
// prints a one-line summary after each run, while unit tests can swap in fakes
// through `Factory`.
package taskrunner
