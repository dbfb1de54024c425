// Package flags binds and reads the execution flags shared by task commands.
package flags

import (
	"github.com/spf13/cobra"
)

const (
	// DryRunFlagName reports pending tasks without running them.
	DryRunFlagName = "dry-run"
	// AllowMissingInputFlagName skips user-input validation.
	AllowMissingInputFlagName = "allow-missing-input"

	dryRunFlagUsage            = "Report pending tasks without executing them"
	allowMissingInputFlagUsage = "Execute tasks even when interactively collected values are missing"
)

// ExecutionDefaults holds the values used when a flag is not given.
type ExecutionDefaults struct {
	DryRun            bool
	AllowMissingInput bool
}

// BindExecutionFlags registers --dry-run and --allow-missing-input on the command's local flag set.
// Flags the command already defines are left alone.
func BindExecutionFlags(command *cobra.Command, defaults ExecutionDefaults) {
	if command == nil {
		return
	}
	toggles := []struct {
		name         string
		usage        string
		defaultValue bool
	}{
		{name: DryRunFlagName, usage: dryRunFlagUsage, defaultValue: defaults.DryRun},
		{name: AllowMissingInputFlagName, usage: allowMissingInputFlagUsage, defaultValue: defaults.AllowMissingInput},
	}
	flagSet := command.Flags()
	for _, toggle := range toggles {
		if flagSet.Lookup(toggle.name) == nil {
			flagSet.Bool(toggle.name, toggle.defaultValue, toggle.usage)
		}
	}
}
