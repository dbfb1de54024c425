package flags

import (
	"errors"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/tyemirov/devsetup/internal/utils"
)

// ErrFlagNotDefined indicates that the requested flag is not present on the command.
var ErrFlagNotDefined = errors.New("flag not defined")

// BoolFlag returns the flag value and whether the user set it. Local, persistent,
// and inherited flags are searched in that order.
func BoolFlag(command *cobra.Command, name string) (bool, bool, error) {
	flagSet, flag := locateFlag(command, name)
	if flag == nil {
		return false, false, ErrFlagNotDefined
	}
	value, lookupError := flagSet.GetBool(name)
	if lookupError != nil {
		return false, false, lookupError
	}
	return value, flag.Changed, nil
}

// StringFlag is BoolFlag for string flags.
func StringFlag(command *cobra.Command, name string) (string, bool, error) {
	flagSet, flag := locateFlag(command, name)
	if flag == nil {
		return "", false, ErrFlagNotDefined
	}
	value, lookupError := flagSet.GetString(name)
	if lookupError != nil {
		return "", false, lookupError
	}
	return value, flag.Changed, nil
}

func locateFlag(command *cobra.Command, name string) (*pflag.FlagSet, *pflag.Flag) {
	if command == nil {
		return nil, nil
	}
	flagSets := []*pflag.FlagSet{command.Flags(), command.PersistentFlags(), command.InheritedFlags()}
	if root := command.Root(); root != nil {
		flagSets = append(flagSets, root.PersistentFlags())
	}
	for _, flagSet := range flagSets {
		if flag := flagSet.Lookup(name); flag != nil {
			return flagSet, flag
		}
	}
	return nil, nil
}

// CollectExecutionFlags reads --dry-run and --allow-missing-input from the command.
// Flags the command does not define stay false.
func CollectExecutionFlags(command *cobra.Command) utils.ExecutionFlags {
	executionFlags := utils.ExecutionFlags{}
	executionFlags.DryRun, executionFlags.DryRunSet, _ = BoolFlag(command, DryRunFlagName)
	executionFlags.AllowMissingInput, executionFlags.AllowMissingInputSet, _ = BoolFlag(command, AllowMissingInputFlagName)
	return executionFlags
}

// ResolveExecutionFlags prefers flags stored on the command context by the root
// command and falls back to reading the command's own flags. The boolean reports
// whether any value came from the user.
func ResolveExecutionFlags(command *cobra.Command) (utils.ExecutionFlags, bool) {
	if command != nil {
		if stored, available := utils.NewCommandContextAccessor().ExecutionFlags(command.Context()); available {
			return stored, stored.DryRunSet || stored.AllowMissingInputSet
		}
	}
	executionFlags := CollectExecutionFlags(command)
	return executionFlags, executionFlags.DryRunSet || executionFlags.AllowMissingInputSet
}

// Changed reports whether the user set the named flag anywhere in the command's hierarchy.
func Changed(command *cobra.Command, name string) bool {
	_, flag := locateFlag(command, name)
	return flag != nil && flag.Changed
}
