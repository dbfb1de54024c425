package tasks

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	artifactDirectoryPermissionsConstant = 0o755
	privateDirectoryPermissionsConstant  = 0o700
	publicFilePermissionsConstant        = 0o644
	privateFilePermissionsConstant       = 0o600
	createDirectoryErrorTemplateConstant = "unable to create directory %s: %w"
	writeFileErrorTemplateConstant       = "unable to write %s: %w"
	appendFileErrorTemplateConstant      = "unable to append to %s: %w"
	readFileErrorTemplateConstant        = "unable to read %s: %w"
)

func writeArtifact(path string, contents []byte, directoryPermissions os.FileMode, filePermissions os.FileMode) error {
	directory := filepath.Dir(path)
	if mkdirError := os.MkdirAll(directory, directoryPermissions); mkdirError != nil {
		return fmt.Errorf(createDirectoryErrorTemplateConstant, directory, mkdirError)
	}
	if writeError := os.WriteFile(path, contents, filePermissions); writeError != nil {
		return fmt.Errorf(writeFileErrorTemplateConstant, path, writeError)
	}
	// WriteFile keeps the mode of an existing file.
	if chmodError := os.Chmod(path, filePermissions); chmodError != nil {
		return fmt.Errorf(writeFileErrorTemplateConstant, path, chmodError)
	}
	return nil
}

func appendArtifact(path string, contents []byte, directoryPermissions os.FileMode, filePermissions os.FileMode) error {
	directory := filepath.Dir(path)
	if mkdirError := os.MkdirAll(directory, directoryPermissions); mkdirError != nil {
		return fmt.Errorf(createDirectoryErrorTemplateConstant, directory, mkdirError)
	}
	file, openError := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, filePermissions)
	if openError != nil {
		return fmt.Errorf(appendFileErrorTemplateConstant, path, openError)
	}
	if _, writeError := file.Write(contents); writeError != nil {
		_ = file.Close()
		return fmt.Errorf(appendFileErrorTemplateConstant, path, writeError)
	}
	if closeError := file.Close(); closeError != nil {
		return fmt.Errorf(appendFileErrorTemplateConstant, path, closeError)
	}
	return nil
}
