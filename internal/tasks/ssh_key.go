package tasks

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"

	"github.com/tyemirov/devsetup/internal/execshell"
	"github.com/tyemirov/devsetup/internal/markers"
	"github.com/tyemirov/devsetup/internal/setup"
)

const (
	// GenerateSSHKeyType is the type tag of the ssh key generation task.
	GenerateSSHKeyType = "generate-ssh-key"

	generateSSHKeyDescriptionConstant  = "Generate an ssh key pair and register it in ~/.ssh/config"
	keyTypeEd25519Constant             = "ed25519"
	keyTypeRSAConstant                 = "rsa"
	rsaKeyBitsConstant                 = 4096
	privateKeyPrefixConstant           = "id_"
	publicKeySuffixConstant            = ".pub"
	sshConfigFileNameConstant          = "config"
	sshConfigEntryTemplateConstant     = "Host %s\n    User %s\n    HostName %s\n    IdentityFile %s\n"
	knownHostsCommandPrefixConstant    = "ssh -oStrictHostKeyChecking=no "
	knownHostsCommandTimeout           = 5 * time.Second
	unsupportedKeyTypeTemplateConstant = "unsupported key type %q"
	keyGenerationErrorTemplateConstant = "unable to generate %s key: %w"
	keysWrittenMessageConstant         = "ssh key pair written"
	knownHostsFailureMessageConstant   = "adding host key to known_hosts did not succeed"
	hostFieldNameConstant              = "host"
	privateKeyFieldNameConstant        = "private_key"
	publicKeyFieldNameConstant         = "public_key"
)

type generateSSHKeyAttributes struct {
	Name      string `mapstructure:"name" validate:"required" group:"user-input"`
	Host      string `mapstructure:"host" validate:"required,hostname_rfc1123" group:"user-input"`
	KeyType   string `mapstructure:"key_type" validate:"required,oneof=ed25519 rsa"`
	CheckHost bool   `mapstructure:"check_host"`
}

type generateSSHKeyTask struct {
	baseTask
	attributes generateSSHKeyAttributes
}

func generateSSHKeyKind(dependencies Dependencies) setup.TaskKind {
	return setup.TaskKind{
		Type:        GenerateSSHKeyType,
		Cardinality: setup.CardinalityMultiInstance,
		Description: generateSSHKeyDescriptionConstant,
		Factory: func(definition setup.TaskDefinition) (setup.SetupTask, error) {
			attributes := generateSSHKeyAttributes{KeyType: keyTypeEd25519Constant}
			if decodeError := decodeInto(definition, &attributes); decodeError != nil {
				return nil, decodeError
			}
			return &generateSSHKeyTask{baseTask: newBaseTask(definition, dependencies), attributes: attributes}, nil
		},
	}
}

// Host returns the host the key authenticates against.
func (task *generateSSHKeyTask) Host() string {
	return task.attributes.Host
}

// Name returns the account name on the host.
func (task *generateSSHKeyTask) Name() string {
	return task.attributes.Name
}

func (task *generateSSHKeyTask) privateKeyPath() string {
	return filepath.Join(task.dependencies.Environment.SSHDirectory, task.attributes.Host, task.attributes.Name, privateKeyPrefixConstant+task.attributes.KeyType)
}

func (task *generateSSHKeyTask) publicKeyPath() string {
	return task.privateKeyPath() + publicKeySuffixConstant
}

// PublicKey reads the generated public key from disk.
func (task *generateSSHKeyTask) PublicKey() (string, error) {
	contents, readError := os.ReadFile(task.publicKeyPath())
	if readError != nil {
		return "", fmt.Errorf(readFileErrorTemplateConstant, task.publicKeyPath(), readError)
	}
	return strings.TrimSpace(string(contents)), nil
}

func (task *generateSSHKeyTask) AlreadyExecuted(executionContext context.Context) (bool, error) {
	return markers.FileProbe(task.privateKeyPath(), task.publicKeyPath())
}

func (task *generateSSHKeyTask) Validate(groups ...setup.ValidationGroup) setup.ValidationReport {
	return setup.DefaultValidationGate().Evaluate(task.attributes, groups...)
}

func (task *generateSSHKeyTask) Execute(executionContext context.Context) error {
	alreadyExecuted, probeError := task.AlreadyExecuted(executionContext)
	if probeError != nil || alreadyExecuted {
		return probeError
	}

	privateKey, publicKey, generationError := generateKeyPair(task.attributes.KeyType, task.attributes.Name)
	if generationError != nil {
		return generationError
	}
	if writeError := writeArtifact(task.privateKeyPath(), privateKey, privateDirectoryPermissionsConstant, privateFilePermissionsConstant); writeError != nil {
		return writeError
	}
	// The public key is written last: the probe treats its presence as completion.
	if configError := task.registerHostEntry(); configError != nil {
		return configError
	}
	if writeError := writeArtifact(task.publicKeyPath(), publicKey, privateDirectoryPermissionsConstant, publicFilePermissionsConstant); writeError != nil {
		return writeError
	}

	logger := task.logger(executionContext)
	logger.Info(
		keysWrittenMessageConstant,
		zap.String(privateKeyFieldNameConstant, task.privateKeyPath()),
		zap.String(publicKeyFieldNameConstant, task.publicKeyPath()),
	)

	if task.attributes.CheckHost {
		task.addKnownHost(executionContext, logger)
	}
	return nil
}

// registerHostEntry appends the Host block to the ssh config unless an earlier, interrupted run already did.
func (task *generateSSHKeyTask) registerHostEntry() error {
	configEntry := fmt.Sprintf(sshConfigEntryTemplateConstant, task.attributes.Host, task.attributes.Name, task.attributes.Host, task.privateKeyPath())
	configPath := filepath.Join(task.dependencies.Environment.SSHDirectory, sshConfigFileNameConstant)

	existing, readError := os.ReadFile(configPath)
	switch {
	case readError == nil && strings.Contains(string(existing), configEntry):
		return nil
	case readError != nil && !errors.Is(readError, fs.ErrNotExist):
		return fmt.Errorf(readFileErrorTemplateConstant, configPath, readError)
	}
	return appendArtifact(configPath, []byte(configEntry), privateDirectoryPermissionsConstant, privateFilePermissionsConstant)
}

// addKnownHost logs in once so the host key lands in known_hosts. Failure is expected without a registered key.
func (task *generateSSHKeyTask) addKnownHost(executionContext context.Context, logger *zap.Logger) {
	command := execshell.ShellCommand{
		CommandLine: knownHostsCommandPrefixConstant + shellQuote(task.attributes.Host),
		Details:     execshell.CommandDetails{Timeout: knownHostsCommandTimeout},
	}
	if _, commandError := task.runCommand(executionContext, command, true); commandError != nil {
		logger.Info(knownHostsFailureMessageConstant, zap.String(hostFieldNameConstant, task.attributes.Host), zap.Error(commandError))
	}
}

func generateKeyPair(keyType string, comment string) ([]byte, []byte, error) {
	var privateKey any
	var publicKey any
	switch keyType {
	case keyTypeEd25519Constant:
		generatedPublic, generatedPrivate, generationError := ed25519.GenerateKey(rand.Reader)
		if generationError != nil {
			return nil, nil, fmt.Errorf(keyGenerationErrorTemplateConstant, keyType, generationError)
		}
		privateKey, publicKey = generatedPrivate, generatedPublic
	case keyTypeRSAConstant:
		generatedPrivate, generationError := rsa.GenerateKey(rand.Reader, rsaKeyBitsConstant)
		if generationError != nil {
			return nil, nil, fmt.Errorf(keyGenerationErrorTemplateConstant, keyType, generationError)
		}
		privateKey, publicKey = generatedPrivate, &generatedPrivate.PublicKey
	default:
		return nil, nil, fmt.Errorf(unsupportedKeyTypeTemplateConstant, keyType)
	}

	privateBlock, marshalError := ssh.MarshalPrivateKey(privateKey, comment)
	if marshalError != nil {
		return nil, nil, fmt.Errorf(keyGenerationErrorTemplateConstant, keyType, marshalError)
	}
	sshPublicKey, publicError := ssh.NewPublicKey(publicKey)
	if publicError != nil {
		return nil, nil, fmt.Errorf(keyGenerationErrorTemplateConstant, keyType, publicError)
	}

	authorizedKey := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(sshPublicKey)))
	if len(comment) > 0 {
		authorizedKey += " " + comment
	}
	return pem.EncodeToMemory(privateBlock), []byte(authorizedKey + "\n"), nil
}
