package markers

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

const (
	stateDirectoryNameConstant         = "devsetup"
	markerFileNameConstant             = "markers.yaml"
	stateHomeEnvironmentConstant       = "XDG_STATE_HOME"
	fallbackStateDirectoryConstant     = ".local/state"
	markerDirectoryPermissionsConstant = 0o700
	markerFilePermissionsConstant      = 0o600
	temporaryFilePatternConstant       = ".markers-*.yaml"
	filePathRequiredMessageConstant    = "marker file path must not be empty"
	fileReadErrorTemplateConstant      = "unable to read marker file %s: %w"
	fileDecodeErrorTemplateConstant    = "unable to decode marker file %s: %w"
	fileEncodeErrorTemplateConstant    = "unable to encode markers: %w"
	directoryErrorTemplateConstant     = "unable to create marker directory %s: %w"
	temporaryFileErrorTemplateConstant = "unable to stage marker file: %w"
	renameErrorTemplateConstant        = "unable to replace marker file %s: %w"
)

// ErrFilePathRequired indicates a FileStore without a path.
var ErrFilePathRequired = errors.New(filePathRequiredMessageConstant)

// DefaultFilePath returns $XDG_STATE_HOME/devsetup/markers.yaml, falling back to ~/.local/state.
func DefaultFilePath() (string, error) {
	stateHome := strings.TrimSpace(os.Getenv(stateHomeEnvironmentConstant))
	if len(stateHome) == 0 {
		homeDirectory, homeError := os.UserHomeDir()
		if homeError != nil {
			return "", homeError
		}
		stateHome = filepath.Join(homeDirectory, fallbackStateDirectoryConstant)
	}
	return filepath.Join(stateHome, stateDirectoryNameConstant, markerFileNameConstant), nil
}

// FileStore keeps markers in a yaml document on disk. Every Put rewrites the
// document through a temporary file and a rename.
type FileStore struct {
	mutex    sync.Mutex
	filePath string
}

// NewFileStore constructs a FileStore backed by filePath.
func NewFileStore(filePath string) (*FileStore, error) {
	trimmedPath := strings.TrimSpace(filePath)
	if len(trimmedPath) == 0 {
		return nil, ErrFilePathRequired
	}
	return &FileStore{filePath: filepath.Clean(trimmedPath)}, nil
}

// Path returns the backing file.
func (store *FileStore) Path() string {
	return store.filePath
}

// Get returns the stored value.
func (store *FileStore) Get(executionContext context.Context, key string) (string, bool, error) {
	normalizedKey, keyError := normalizeKey(key)
	if keyError != nil {
		return "", false, keyError
	}

	store.mutex.Lock()
	defer store.mutex.Unlock()

	values, readError := store.read()
	if readError != nil {
		return "", false, readError
	}
	value, found := values[normalizedKey]
	return value, found, nil
}

// Put stores the value.
func (store *FileStore) Put(executionContext context.Context, key string, value string) error {
	normalizedKey, keyError := normalizeKey(key)
	if keyError != nil {
		return keyError
	}

	store.mutex.Lock()
	defer store.mutex.Unlock()

	values, readError := store.read()
	if readError != nil {
		return readError
	}
	values[normalizedKey] = value
	return store.write(values)
}

func (store *FileStore) read() (map[string]string, error) {
	contents, readError := os.ReadFile(store.filePath)
	if readError != nil {
		if errors.Is(readError, fs.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf(fileReadErrorTemplateConstant, store.filePath, readError)
	}

	values := map[string]string{}
	if decodeError := yaml.Unmarshal(contents, &values); decodeError != nil {
		return nil, fmt.Errorf(fileDecodeErrorTemplateConstant, store.filePath, decodeError)
	}
	if values == nil {
		values = map[string]string{}
	}
	return values, nil
}

func (store *FileStore) write(values map[string]string) error {
	encoded, encodeError := yaml.Marshal(values)
	if encodeError != nil {
		return fmt.Errorf(fileEncodeErrorTemplateConstant, encodeError)
	}

	directory := filepath.Dir(store.filePath)
	if mkdirError := os.MkdirAll(directory, markerDirectoryPermissionsConstant); mkdirError != nil {
		return fmt.Errorf(directoryErrorTemplateConstant, directory, mkdirError)
	}

	temporaryFile, createError := os.CreateTemp(directory, temporaryFilePatternConstant)
	if createError != nil {
		return fmt.Errorf(temporaryFileErrorTemplateConstant, createError)
	}
	temporaryPath := temporaryFile.Name()
	defer func() {
		_ = temporaryFile.Close()
		_ = os.Remove(temporaryPath)
	}()

	if _, writeError := temporaryFile.Write(encoded); writeError != nil {
		return fmt.Errorf(temporaryFileErrorTemplateConstant, writeError)
	}
	if syncError := temporaryFile.Sync(); syncError != nil {
		return fmt.Errorf(temporaryFileErrorTemplateConstant, syncError)
	}
	if chmodError := temporaryFile.Chmod(markerFilePermissionsConstant); chmodError != nil {
		return fmt.Errorf(temporaryFileErrorTemplateConstant, chmodError)
	}
	if closeError := temporaryFile.Close(); closeError != nil {
		return fmt.Errorf(temporaryFileErrorTemplateConstant, closeError)
	}
	if renameError := os.Rename(temporaryPath, store.filePath); renameError != nil {
		return fmt.Errorf(renameErrorTemplateConstant, store.filePath, renameError)
	}
	return nil
}
