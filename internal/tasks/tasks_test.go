package tasks_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"

	"github.com/tyemirov/devsetup/internal/execshell"
	"github.com/tyemirov/devsetup/internal/markers"
	"github.com/tyemirov/devsetup/internal/setup"
	"github.com/tyemirov/devsetup/internal/tasks"
)

func TestRegisterAllRequiresDependencies(testInstance *testing.T) {
	executor, executorError := execshell.NewShellExecutor(zap.NewNop(), &scriptedProcessRunner{}, false)
	require.NoError(testInstance, executorError)

	testCases := []struct {
		name          string
		dependencies  tasks.Dependencies
		expectedError error
	}{
		{
			name:          "missing_executor",
			dependencies:  tasks.Dependencies{Markers: markers.NewMemoryStore(), Environment: tasks.Environment{HomeDirectory: "/home/dev"}},
			expectedError: tasks.ErrExecutorNotConfigured,
		},
		{
			name:          "missing_store",
			dependencies:  tasks.Dependencies{Executor: executor, Environment: tasks.Environment{HomeDirectory: "/home/dev"}},
			expectedError: tasks.ErrMarkerStoreNotConfigured,
		},
		{
			name:          "missing_home",
			dependencies:  tasks.Dependencies{Executor: executor, Markers: markers.NewMemoryStore()},
			expectedError: tasks.ErrHomeDirectoryMissing,
		},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(subtest *testing.T) {
			require.ErrorIs(subtest, tasks.RegisterAll(setup.NewRegistry(), testCase.dependencies), testCase.expectedError)
		})
	}
}

func TestCatalogueRegistersEveryKind(testInstance *testing.T) {
	harness := newTaskHarness(testInstance)
	registered := make([]string, 0, 7)
	for _, kind := range harness.registry.Kinds() {
		registered = append(registered, kind.Type)
	}
	require.Equal(testInstance, []string{
		tasks.GitConfigType,
		tasks.MavenSettingsType,
		tasks.DisplaySSHKeyType,
		tasks.GenerateSSHKeyType,
		tasks.GitCloneType,
		tasks.HostnameType,
		tasks.PersonalDataType,
	}, registered)
}

func TestPersonalDataIsPersisted(testInstance *testing.T) {
	harness := newTaskHarness(testInstance)
	taskSet := harness.load(testInstance, `setup:
  tasks:
    - task: set-personal-data
      with:
        first_name: Mona
        last_name: Octocat
        email: mona@example.com
`)

	_, runError := harness.run(testInstance, taskSet)
	require.NoError(testInstance, runError)

	email, found, getError := harness.store.Get(context.Background(), "personal-data.email")
	require.NoError(testInstance, getError)
	require.True(testInstance, found)
	require.Equal(testInstance, "mona@example.com", email)

	done, probeError := markers.FlagProbe(context.Background(), harness.store, tasks.PersonalDataType)
	require.NoError(testInstance, probeError)
	require.True(testInstance, done)
}

func TestPersonalDataRequiresInput(testInstance *testing.T) {
	harness := newTaskHarness(testInstance)
	taskSet := harness.load(testInstance, `setup:
  tasks:
    - task: set-personal-data
      with:
        first_name: Mona
        email: not-an-email
`)

	_, runError := harness.run(testInstance, taskSet)
	var inputError setup.InputRequiredError
	require.True(testInstance, errors.As(runError, &inputError))
	require.Equal(testInstance, []string{"last_name", "email"}, inputError.Report.Fields())
}

func TestHostnameRunsHostnamectlOnce(testInstance *testing.T) {
	harness := newTaskHarness(testInstance)
	taskSet := harness.load(testInstance, "setup:\n  tasks:\n    - task: set-hostname\n      with:\n        name: devbox\n")

	_, firstError := harness.run(testInstance, taskSet)
	require.NoError(testInstance, firstError)
	_, secondError := harness.run(testInstance, taskSet)
	require.NoError(testInstance, secondError)

	require.Equal(testInstance, []string{"hostnamectl set-hostname 'devbox'"}, harness.runner.commandLines())
	require.Equal(testInstance, 5.0, harness.runner.requests[0].Timeout.Seconds())
}

func TestHostnameFailureAbortsRun(testInstance *testing.T) {
	harness := newTaskHarness(testInstance)
	harness.runner.exitCode["hostnamectl"] = 1
	taskSet := harness.load(testInstance, "setup:\n  tasks:\n    - task: set-hostname\n      with:\n        name: devbox\n")

	_, runError := harness.run(testInstance, taskSet)

	var executionError setup.TaskExecutionError
	require.True(testInstance, errors.As(runError, &executionError))
	var commandError execshell.CommandFailedError
	require.True(testInstance, errors.As(runError, &commandError))
	require.Equal(testInstance, 1, commandError.Result.ExitCode)
	require.Contains(testInstance, runError.Error(), "fatal: scripted failure")

	done, probeError := markers.FlagProbe(context.Background(), harness.store, tasks.HostnameType)
	require.NoError(testInstance, probeError)
	require.False(testInstance, done)
}

func TestHostnameRejectsInvalidLabel(testInstance *testing.T) {
	harness := newTaskHarness(testInstance)
	taskSet := harness.load(testInstance, "setup:\n  tasks:\n    - task: set-hostname\n      with:\n        name: Dev_Box\n")

	_, runError := harness.run(testInstance, taskSet)
	var inputError setup.InputRequiredError
	require.True(testInstance, errors.As(runError, &inputError))
	require.Empty(testInstance, harness.runner.commandLines())
}

func TestGitConfigIsWrittenOnce(testInstance *testing.T) {
	harness := newTaskHarness(testInstance)
	taskSet := harness.load(testInstance, `setup:
  tasks:
    - task: create-git-config
      with:
        name: Mona Octocat
        email: mona@example.com
`)

	_, runError := harness.run(testInstance, taskSet)
	require.NoError(testInstance, runError)

	configPath := filepath.Join(harness.home, ".gitconfig")
	contents, readError := os.ReadFile(configPath)
	require.NoError(testInstance, readError)
	require.Equal(testInstance, "[user]\n\tname = Mona Octocat\n\temail = mona@example.com\n[push]\n\tdefault = simple\n", string(contents))

	require.NoError(testInstance, os.WriteFile(configPath, []byte("edited"), 0o644))
	outcome, secondError := harness.run(testInstance, taskSet)
	require.NoError(testInstance, secondError)
	require.True(testInstance, outcome.Tasks[0].Skipped)

	unchanged, readError := os.ReadFile(configPath)
	require.NoError(testInstance, readError)
	require.Equal(testInstance, "edited", string(unchanged))
}

func TestGitConfigRejectsUnknownPushDefault(testInstance *testing.T) {
	harness := newTaskHarness(testInstance)
	taskSet := harness.load(testInstance, `setup:
  tasks:
    - task: create-git-config
      with:
        name: Mona
        email: mona@example.com
        push_default: sideways
`)

	_, runError := harness.run(testInstance, taskSet)
	var validationError setup.ValidationError
	require.True(testInstance, errors.As(runError, &validationError))
	require.Equal(testInstance, []string{"push_default"}, validationError.Report.Fields())
}

func TestMavenSettingsFromTemplate(testInstance *testing.T) {
	testCases := []struct {
		name             string
		attributes       string
		expectedContents string
	}{
		{
			name:             "credentials",
			attributes:       "        name: mona\n        password: s3cret\n",
			expectedContents: "<user>mona</user><pw>s3cret</pw>",
		},
		{
			name:             "skip_credentials",
			attributes:       "        skip_credentials: true\n",
			expectedContents: "<user>((USER))</user><pw>((PW))</pw>",
		},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(subtest *testing.T) {
			harness := newTaskHarness(subtest)
			templatePath := filepath.Join(harness.home, "settings-template.xml")
			require.NoError(subtest, os.WriteFile(templatePath, []byte("<user>((USER))</user><pw>((PW))</pw>"), 0o600))

			taskSet := harness.load(subtest, "setup:\n  tasks:\n    - task: create-maven-settings\n      with:\n        template: ~/settings-template.xml\n"+testCase.attributes)
			_, runError := harness.run(subtest, taskSet)
			require.NoError(subtest, runError)

			settingsPath := filepath.Join(harness.home, ".m2", "settings.xml")
			contents, readError := os.ReadFile(settingsPath)
			require.NoError(subtest, readError)
			require.Equal(subtest, testCase.expectedContents, string(contents))

			fileInfo, statError := os.Stat(settingsPath)
			require.NoError(subtest, statError)
			require.Equal(subtest, os.FileMode(0o600), fileInfo.Mode().Perm())
		})
	}
}

func TestMavenSettingsRequiresCredentialsUnlessSkipped(testInstance *testing.T) {
	harness := newTaskHarness(testInstance)
	taskSet := harness.load(testInstance, "setup:\n  tasks:\n    - task: create-maven-settings\n      with:\n        template: /nowhere.xml\n")

	_, runError := harness.run(testInstance, taskSet)
	var validationError setup.ValidationError
	require.True(testInstance, errors.As(runError, &validationError))
	require.Equal(testInstance, []string{"name", "password"}, validationError.Report.Fields())
}

func TestGenerateAndDisplaySSHKey(testInstance *testing.T) {
	harness := newTaskHarness(testInstance)
	harness.runner.exitCode["ssh "] = 255
	taskSet := harness.load(testInstance, `setup:
  tasks:
    - task: generate-ssh-key
      id: github
      with:
        name: octocat
        host: github.com
        check_host: true
    - task: display-ssh-key
      id: github
      with:
        ref: generate-ssh-key[github]
`)

	_, runError := harness.run(testInstance, taskSet)
	require.NoError(testInstance, runError)

	keyDirectory := filepath.Join(harness.ssh, "github.com", "octocat")
	privateKey, readError := os.ReadFile(filepath.Join(keyDirectory, "id_ed25519"))
	require.NoError(testInstance, readError)
	_, parseError := ssh.ParsePrivateKey(privateKey)
	require.NoError(testInstance, parseError)

	privateInfo, statError := os.Stat(filepath.Join(keyDirectory, "id_ed25519"))
	require.NoError(testInstance, statError)
	require.Equal(testInstance, os.FileMode(0o600), privateInfo.Mode().Perm())

	publicKey, readError := os.ReadFile(filepath.Join(keyDirectory, "id_ed25519.pub"))
	require.NoError(testInstance, readError)
	parsedPublic, comment, _, _, parseError := ssh.ParseAuthorizedKey(publicKey)
	require.NoError(testInstance, parseError)
	require.Equal(testInstance, ssh.KeyAlgoED25519, parsedPublic.Type())
	require.Equal(testInstance, "octocat", comment)

	sshConfig, readError := os.ReadFile(filepath.Join(harness.ssh, "config"))
	require.NoError(testInstance, readError)
	require.Equal(testInstance, "Host github.com\n    User octocat\n    HostName github.com\n    IdentityFile "+filepath.Join(keyDirectory, "id_ed25519")+"\n", string(sshConfig))

	require.Equal(testInstance, []string{"ssh -oStrictHostKeyChecking=no 'github.com'"}, harness.runner.commandLines())

	output := harness.output.String()
	require.Contains(testInstance, output, strings.TrimSpace(string(publicKey)))
	require.Contains(testInstance, output, "https://github.com/settings/keys")

	outcome, secondError := harness.run(testInstance, taskSet)
	require.NoError(testInstance, secondError)
	require.Empty(testInstance, outcome.ExecutionOrder())

	rerunKey, readError := os.ReadFile(filepath.Join(keyDirectory, "id_ed25519.pub"))
	require.NoError(testInstance, readError)
	require.Equal(testInstance, publicKey, rerunKey)
}

func TestDisplaySSHKeyRejectsWrongReferenceType(testInstance *testing.T) {
	harness := newTaskHarness(testInstance)
	configuration, parseError := setup.ParseConfiguration([]byte(`setup:
  tasks:
    - task: git-clone
      id: github
      with:
        repositories: [git@github.com:octocat/hello.git]
    - task: display-ssh-key
      id: github
      with:
        ref: git-clone[github]
`))
	require.NoError(testInstance, parseError)
	taskSet, loadError := harness.registry.Load(configuration)
	require.NoError(testInstance, loadError)

	initError := taskSet.Init()
	var configError setup.ConfigError
	require.True(testInstance, errors.As(initError, &configError))
	require.Contains(testInstance, configError.Error(), "expected a generate-ssh-key task")
}

func TestGitCloneClonesEachRepositoryIntoTarget(testInstance *testing.T) {
	harness := newTaskHarness(testInstance)
	taskSet := harness.load(testInstance, `setup:
  tasks:
    - task: git-clone
      id: work
      with:
        repositories:
          - git@github.com:octocat/hello.git
          - https://github.com/octocat/world.git
`)

	_, runError := harness.run(testInstance, taskSet)
	require.NoError(testInstance, runError)

	require.Equal(testInstance, []string{
		"git clone -v 'git@github.com:octocat/hello.git'",
		"git clone -v 'https://github.com/octocat/world.git'",
	}, harness.runner.commandLines())
	targetDirectory := filepath.Join(harness.home, "git")
	for _, request := range harness.runner.requests {
		require.Equal(testInstance, targetDirectory, request.WorkingDirectory)
		require.Equal(testInstance, 120.0, request.Timeout.Seconds())
	}
	directoryInfo, statError := os.Stat(targetDirectory)
	require.NoError(testInstance, statError)
	require.True(testInstance, directoryInfo.IsDir())
}

func TestGitCloneStopsAtFirstFailure(testInstance *testing.T) {
	harness := newTaskHarness(testInstance)
	harness.runner.exitCode["git clone -v 'bad"] = 128
	taskSet := harness.load(testInstance, `setup:
  tasks:
    - task: git-clone
      id: work
      with:
        target_dir: ~/src
        repositories: [bad-repository, good-repository]
`)

	_, runError := harness.run(testInstance, taskSet)
	require.Error(testInstance, runError)
	require.Equal(testInstance, []string{"git clone -v 'bad-repository'"}, harness.runner.commandLines())
	require.Equal(testInstance, filepath.Join(harness.home, "src"), harness.runner.requests[0].WorkingDirectory)
}

func TestGitCloneRequiresRepositories(testInstance *testing.T) {
	harness := newTaskHarness(testInstance)
	taskSet := harness.load(testInstance, "setup:\n  tasks:\n    - task: git-clone\n      id: empty\n      with:\n        repositories: []\n")

	_, runError := harness.run(testInstance, taskSet)
	var validationError setup.ValidationError
	require.True(testInstance, errors.As(runError, &validationError))
	require.Equal(testInstance, []string{"repositories"}, validationError.Report.Fields())
}

func TestAccountURL(testInstance *testing.T) {
	testCases := []struct {
		host     string
		name     string
		expected string
	}{
		{host: "github.com", name: "octocat", expected: "https://github.com/settings/keys"},
		{host: "bitbucket.org", name: "mona", expected: "https://bitbucket.org/account/user/mona/ssh-keys/"},
		{host: "git.example.com", name: "dev", expected: "https://git.example.com"},
	}
	for _, testCase := range testCases {
		require.Equal(testInstance, testCase.expected, tasks.AccountURL(testCase.host, testCase.name))
	}
}
