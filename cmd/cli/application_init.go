package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

const (
	initializationFlagNameConstant          = "init"
	initializationFlagUsageConstant         = "Write the default configuration to ./config.yaml (local) or ~/.devsetup/config.yaml (user)"
	forceFlagNameConstant                   = "force"
	forceFlagUsageConstant                  = "Overwrite an existing configuration file with --init"
	initializationScopeLocalConstant        = "local"
	initializationScopeUserConstant         = "user"
	initializationFlagPrefixConstant        = "--" + initializationFlagNameConstant
	configurationDirectoryPermission        = 0o755
	configurationFilePermission             = 0o600
	unsupportedScopeTemplateConstant        = "unsupported initialization scope %q"
	scopeDirectoryErrorTemplateConstant     = "unable to resolve %s configuration directory: %w"
	embeddedConfigurationMissingConstant    = "embedded configuration content is unavailable"
	configurationExistsTemplateConstant     = "configuration file already exists at %s (use --force to overwrite)"
	configurationIsDirectoryTemplate        = "configuration path %s is a directory"
	configurationWriteErrorTemplateConstant = "unable to write configuration file %s: %w"
	configurationWrittenMessageConstant     = "configuration file created"
)

// normalizeInitializationScopeArguments turns a bare --init, or --init followed by
// another flag, into --init=local so the scope never swallows the next argument.
func normalizeInitializationScopeArguments(arguments []string) []string {
	normalized := make([]string, 0, len(arguments))
	for index, argument := range arguments {
		switch {
		case argument == initializationFlagPrefixConstant+"=":
			normalized = append(normalized, initializationFlagPrefixConstant+"="+initializationScopeLocalConstant)
		case argument == initializationFlagPrefixConstant && (index+1 == len(arguments) || strings.HasPrefix(arguments[index+1], "-")):
			normalized = append(normalized, initializationFlagPrefixConstant+"="+initializationScopeLocalConstant)
		default:
			normalized = append(normalized, argument)
		}
	}
	return normalized
}

func initializationTargetPath(scope string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(scope)) {
	case "", initializationScopeLocalConstant:
		workingDirectory, workingDirectoryError := os.Getwd()
		if workingDirectoryError != nil {
			return "", fmt.Errorf(scopeDirectoryErrorTemplateConstant, initializationScopeLocalConstant, workingDirectoryError)
		}
		return filepath.Join(workingDirectory, configurationFileNameConstant), nil
	case initializationScopeUserConstant:
		homeDirectory, homeError := os.UserHomeDir()
		if homeError != nil {
			return "", fmt.Errorf(scopeDirectoryErrorTemplateConstant, initializationScopeUserConstant, homeError)
		}
		return filepath.Join(homeDirectory, userConfigurationDirectoryNameConstant, configurationFileNameConstant), nil
	default:
		return "", fmt.Errorf(unsupportedScopeTemplateConstant, strings.TrimSpace(scope))
	}
}

// writeDefaultConfiguration copies the embedded defaults to the scope's config.yaml.
// An existing file is only replaced when force is set.
func (application *Application) writeDefaultConfiguration(scope string, force bool) error {
	targetPath, targetError := initializationTargetPath(scope)
	if targetError != nil {
		return targetError
	}

	content, _ := EmbeddedDefaultConfiguration()
	if len(content) == 0 {
		return errors.New(embeddedConfigurationMissingConstant)
	}

	if directoryError := os.MkdirAll(filepath.Dir(targetPath), configurationDirectoryPermission); directoryError != nil {
		return fmt.Errorf(configurationWriteErrorTemplateConstant, targetPath, directoryError)
	}

	existing, statError := os.Stat(targetPath)
	switch {
	case statError == nil && existing.IsDir():
		return fmt.Errorf(configurationIsDirectoryTemplate, targetPath)
	case statError == nil && !force:
		return fmt.Errorf(configurationExistsTemplateConstant, targetPath)
	case statError != nil && !errors.Is(statError, fs.ErrNotExist):
		return fmt.Errorf(configurationWriteErrorTemplateConstant, targetPath, statError)
	}

	if writeError := os.WriteFile(targetPath, content, configurationFilePermission); writeError != nil {
		return fmt.Errorf(configurationWriteErrorTemplateConstant, targetPath, writeError)
	}
	application.logger.Info(configurationWrittenMessageConstant, zap.String(configurationFileFieldConstant, targetPath))
	return nil
}
