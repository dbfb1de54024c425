package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	setupcmd "github.com/tyemirov/devsetup/cmd/cli/setup"
	"github.com/tyemirov/devsetup/internal/utils"
	flagutils "github.com/tyemirov/devsetup/internal/utils/flags"
	"github.com/tyemirov/devsetup/internal/version"
)

const (
	applicationNameConstant                            = "devsetup"
	applicationShortDescriptionConstant                = "Prepare a developer workstation from a task file"
	applicationLongDescriptionConstant                 = "devsetup reads a YAML task file and brings a workstation to the described state. Tasks that already ran are skipped, so a run can be repeated safely."
	configFileFlagNameConstant                         = "config"
	configFileFlagUsageConstant                        = "Path to a configuration file; skips the search path"
	logLevelFlagNameConstant                           = "log-level"
	logLevelFlagUsageConstant                          = "Log level (debug, info, warn, error)"
	logFormatFlagNameConstant                          = "log-format"
	logFormatFlagUsageConstant                         = "Log format (structured or console)"
	versionFlagNameConstant                            = "version"
	versionFlagUsageConstant                           = "Print the devsetup version and exit"
	versionCommandUseNameConstant                      = "version"
	versionCommandShortDescriptionConstant             = "Print the devsetup version"
	versionOutputTemplateConstant                      = "devsetup version: %s\n"
	environmentPrefixConstant                          = "DEVSETUP"
	configurationNameConstant                          = "config"
	configurationTypeConstant                          = "yaml"
	configurationFileNameConstant                      = configurationNameConstant + "." + configurationTypeConstant
	configurationSearchPathEnvironmentVariableConstant = "DEVSETUP_CONFIG_SEARCH_PATH"
	xdgConfigHomeEnvironmentVariableConstant           = "XDG_CONFIG_HOME"
	xdgConfigurationDirectoryNameConstant              = "devsetup"
	userConfigurationDirectoryNameConstant             = ".devsetup"
	workingDirectorySearchPathConstant                 = "."
	commonLogLevelConfigKeyConstant                    = "common.log_level"
	commonLogFormatConfigKeyConstant                   = "common.log_format"
	runRequireUserInputConfigKeyConstant               = "run.require_user_input"
	markersRedisPrefixConfigKeyConstant                = "markers.redis_prefix"
	configurationInitializedMessageConstant            = "configuration initialized"
	configurationBannerTemplateConstant                = "%s | log level=%s | log format=%s | config file=%s"
	logLevelFieldConstant                              = "log_level"
	logFormatFieldConstant                             = "log_format"
	configurationFileFieldConstant                     = "config_file"
	configurationLoadErrorTemplateConstant             = "unable to load configuration: %w"
	loggerCreationErrorTemplateConstant                = "unable to create logger: %w"
	loggerSyncErrorTemplateConstant                    = "unable to flush logger: %w"
)

// Sync on a terminal or pipe reports one of these without losing log lines.
var ignorableSyncErrors = []error{syscall.ENOTSUP, syscall.EINVAL, syscall.EBADF, syscall.ENOTTY}

type loggerOutputsFactory interface {
	CreateLoggerOutputs(utils.LogLevel, utils.LogFormat) (utils.LoggerOutputs, error)
}

type rootFlagValues struct {
	configurationFilePath string
	logLevel              string
	logFormat             string
	version               bool
	initializationScope   string
	forceInitialization   bool
}

// Application wires the Cobra root command, configuration loader, and structured logger.
type Application struct {
	rootCommand            *cobra.Command
	configurationLoader    *utils.ConfigurationLoader
	loggerFactory          loggerOutputsFactory
	logger                 *zap.Logger
	consoleLogger          *zap.Logger
	configuration          ApplicationConfiguration
	configurationMetadata  utils.LoadedConfiguration
	flags                  rootFlagValues
	commandContextAccessor utils.CommandContextAccessor
	versionResolver        func(context.Context) string
	exitFunction           func(int)
	commandProviders       setupcmd.Providers
}

// NewApplication assembles a fully wired CLI application instance.
func NewApplication(options ...ApplicationOption) *Application {
	application := &Application{
		loggerFactory:          utils.NewLoggerFactory(),
		logger:                 zap.NewNop(),
		consoleLogger:          zap.NewNop(),
		commandContextAccessor: utils.NewCommandContextAccessor(),
		exitFunction:           os.Exit,
	}
	application.versionResolver = application.resolveVersion
	for _, option := range options {
		if option != nil {
			option(application)
		}
	}

	application.configurationLoader = utils.NewConfigurationLoader(
		configurationNameConstant,
		configurationTypeConstant,
		environmentPrefixConstant,
		configurationSearchPaths(),
	)
	application.configurationLoader.SetEmbeddedConfiguration(EmbeddedDefaultConfiguration())

	application.rootCommand = application.buildRootCommand()
	application.registerCommands(application.rootCommand)
	return application
}

func (application *Application) buildRootCommand() *cobra.Command {
	rootCommand := &cobra.Command{
		Use:               applicationNameConstant,
		Short:             applicationShortDescriptionConstant,
		Long:              applicationLongDescriptionConstant,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: application.prepare,
		RunE:              application.runRootCommand,
	}
	rootCommand.SetContext(context.Background())

	persistentFlags := rootCommand.PersistentFlags()
	persistentFlags.StringVar(&application.flags.configurationFilePath, configFileFlagNameConstant, "", configFileFlagUsageConstant)
	persistentFlags.StringVar(&application.flags.logLevel, logLevelFlagNameConstant, "", logLevelFlagUsageConstant)
	persistentFlags.StringVar(&application.flags.logFormat, logFormatFlagNameConstant, "", logFormatFlagUsageConstant)
	persistentFlags.BoolVar(&application.flags.version, versionFlagNameConstant, false, versionFlagUsageConstant)
	persistentFlags.StringVar(&application.flags.initializationScope, initializationFlagNameConstant, initializationScopeLocalConstant, initializationFlagUsageConstant)
	persistentFlags.BoolVar(&application.flags.forceInitialization, forceFlagNameConstant, false, forceFlagUsageConstant)

	rootCommand.AddCommand(&cobra.Command{
		Use:   versionCommandUseNameConstant,
		Short: versionCommandShortDescriptionConstant,
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, arguments []string) error {
			application.printVersion(command)
			return nil
		},
	})
	return rootCommand
}

// Execute runs the command hierarchy against os.Args.
func (application *Application) Execute() error {
	return application.ExecuteWithArguments(os.Args[1:])
}

// ExecuteWithArguments runs the command hierarchy against explicit arguments and flushes the loggers.
func (application *Application) ExecuteWithArguments(arguments []string) error {
	application.rootCommand.SetArgs(normalizeInitializationScopeArguments(arguments))
	executionError := application.rootCommand.Execute()
	if syncError := application.flushLoggers(); syncError != nil {
		return errors.Join(executionError, fmt.Errorf(loggerSyncErrorTemplateConstant, syncError))
	}
	return executionError
}

// Execute runs the devsetup command-line application.
func Execute() error {
	return NewApplication().Execute()
}

// prepare runs before every command and handles --version.
func (application *Application) prepare(command *cobra.Command, arguments []string) error {
	if initializationError := application.initializeConfiguration(command); initializationError != nil {
		return initializationError
	}
	if flagutils.Changed(command, versionFlagNameConstant) && application.flags.version {
		application.printVersion(command)
		application.exitFunction(0)
	}
	return nil
}

func (application *Application) runRootCommand(command *cobra.Command, arguments []string) error {
	if flagutils.Changed(command, initializationFlagNameConstant) {
		return application.writeDefaultConfiguration(application.flags.initializationScope, application.flags.forceInitialization)
	}
	return command.Help()
}

// configurationSearchPaths lists the directories searched for config.yaml, highest priority first.
func configurationSearchPaths() []string {
	if override := strings.TrimSpace(os.Getenv(configurationSearchPathEnvironmentVariableConstant)); len(override) > 0 {
		searchPaths := make([]string, 0)
		for _, candidate := range filepath.SplitList(override) {
			if trimmed := strings.TrimSpace(candidate); len(trimmed) > 0 {
				searchPaths = append(searchPaths, trimmed)
			}
		}
		if len(searchPaths) > 0 {
			return searchPaths
		}
		return []string{workingDirectorySearchPathConstant}
	}

	searchPaths := []string{workingDirectorySearchPathConstant}
	if xdgConfigHome := strings.TrimSpace(os.Getenv(xdgConfigHomeEnvironmentVariableConstant)); len(xdgConfigHome) > 0 {
		searchPaths = append(searchPaths, filepath.Join(xdgConfigHome, xdgConfigurationDirectoryNameConstant))
	}
	if homeDirectory, homeError := os.UserHomeDir(); homeError == nil && len(strings.TrimSpace(homeDirectory)) > 0 {
		homeSearchPath := filepath.Join(homeDirectory, userConfigurationDirectoryNameConstant)
		if !slices.Contains(searchPaths, homeSearchPath) {
			searchPaths = append(searchPaths, homeSearchPath)
		}
	}
	return searchPaths
}

func (application *Application) initializeConfiguration(command *cobra.Command) error {
	commandDefaults := setupcmd.DefaultCommandConfiguration()
	defaultValues := map[string]any{
		commonLogLevelConfigKeyConstant:      string(utils.LogLevelError),
		commonLogFormatConfigKeyConstant:     string(utils.LogFormatStructured),
		runRequireUserInputConfigKeyConstant: commandDefaults.Run.RequireUserInput,
		markersRedisPrefixConfigKeyConstant:  commandDefaults.Markers.RedisPrefix,
	}

	loadedConfiguration, loadError := application.configurationLoader.LoadConfiguration(application.flags.configurationFilePath, defaultValues, &application.configuration)
	if loadError != nil {
		return fmt.Errorf(configurationLoadErrorTemplateConstant, loadError)
	}
	application.configurationMetadata = loadedConfiguration

	if flagutils.Changed(command, logLevelFlagNameConstant) {
		application.configuration.Common.LogLevel = application.flags.logLevel
	}
	if flagutils.Changed(command, logFormatFlagNameConstant) {
		application.configuration.Common.LogFormat = application.flags.logFormat
	}

	loggerOutputs, loggerError := application.loggerFactory.CreateLoggerOutputs(
		utils.LogLevel(application.configuration.Common.LogLevel),
		utils.LogFormat(application.configuration.Common.LogFormat),
	)
	if loggerError != nil {
		return fmt.Errorf(loggerCreationErrorTemplateConstant, loggerError)
	}
	application.logger = nonNilLogger(loggerOutputs.DiagnosticLogger)
	application.consoleLogger = nonNilLogger(loggerOutputs.ConsoleLogger)
	application.logConfigurationInitialization()

	if command == nil {
		return nil
	}
	commandContext := command.Context()
	if commandContext == nil {
		commandContext = context.Background()
	}
	commandContext = application.commandContextAccessor.WithConfigurationFilePath(commandContext, loadedConfiguration.ConfigFileUsed)
	commandContext = application.commandContextAccessor.WithExecutionFlags(commandContext, flagutils.CollectExecutionFlags(command))
	commandContext = application.commandContextAccessor.WithLogLevel(commandContext, application.configuration.Common.LogLevel)
	commandContext = application.commandContextAccessor.WithLogger(commandContext, application.logger)
	command.SetContext(commandContext)
	return nil
}

func nonNilLogger(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

// InitializeForCommand prepares application state for the provided command name without executing command logic.
func (application *Application) InitializeForCommand(commandUse string) error {
	command := &cobra.Command{Use: commandUse}
	command.SetContext(context.Background())
	return application.initializeConfiguration(command)
}

// ConfigFileUsed returns the configuration file path used during initialization.
func (application *Application) ConfigFileUsed() string {
	return application.configurationMetadata.ConfigFileUsed
}

// Configuration returns the effective configuration after initialization.
func (application *Application) Configuration() ApplicationConfiguration {
	return application.configuration
}

func (application *Application) humanReadableLoggingEnabled() bool {
	return strings.EqualFold(strings.TrimSpace(application.configuration.Common.LogFormat), string(utils.LogFormatConsole))
}

func (application *Application) logConfigurationInitialization() {
	common := application.configuration.Common
	if !strings.EqualFold(strings.TrimSpace(common.LogLevel), string(utils.LogLevelDebug)) {
		return
	}
	configFile := application.configurationMetadata.ConfigFileUsed
	if application.humanReadableLoggingEnabled() {
		application.consoleLogger.Debug(fmt.Sprintf(configurationBannerTemplateConstant, configurationInitializedMessageConstant, common.LogLevel, common.LogFormat, configFile))
		return
	}
	application.logger.Debug(
		configurationInitializedMessageConstant,
		zap.String(logLevelFieldConstant, common.LogLevel),
		zap.String(logFormatFieldConstant, common.LogFormat),
		zap.String(configurationFileFieldConstant, configFile),
	)
}

func (application *Application) resolveVersion(executionContext context.Context) string {
	return strings.TrimSpace(version.Detect(executionContext, version.Dependencies{}))
}

func (application *Application) printVersion(command *cobra.Command) {
	executionContext := command.Context()
	if executionContext == nil {
		executionContext = context.Background()
	}
	fmt.Fprintf(command.OutOrStdout(), versionOutputTemplateConstant, application.versionResolver(executionContext))
}

func (application *Application) flushLoggers() error {
	for _, logger := range []*zap.Logger{application.logger, application.consoleLogger} {
		if logger == nil {
			continue
		}
		syncError := logger.Sync()
		if syncError == nil || slices.ContainsFunc(ignorableSyncErrors, func(ignorable error) bool { return errors.Is(syncError, ignorable) }) {
			continue
		}
		return syncError
	}
	return nil
}
