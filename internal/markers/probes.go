package markers

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

const (
	flagProbeErrorTemplateConstant = "unable to read marker %s: %w"
	fileProbeErrorTemplateConstant = "unable to inspect %s: %w"
	flagWriteErrorTemplateConstant = "unable to persist marker %s: %w"
)

// FlagProbe reports whether the completion flag for identity was persisted.
func FlagProbe(executionContext context.Context, store Store, identity string) (bool, error) {
	if store == nil {
		return false, ErrStoreNotConfigured
	}
	key := DoneKey(identity)
	value, found, getError := store.Get(executionContext, key)
	if getError != nil {
		return false, fmt.Errorf(flagProbeErrorTemplateConstant, key, getError)
	}
	return found && value == doneValueConstant, nil
}

// MarkDone persists the completion flag for identity.
func MarkDone(executionContext context.Context, store Store, identity string) error {
	if store == nil {
		return ErrStoreNotConfigured
	}
	key := DoneKey(identity)
	if putError := store.Put(executionContext, key, doneValueConstant); putError != nil {
		return fmt.Errorf(flagWriteErrorTemplateConstant, key, putError)
	}
	return nil
}

// FileProbe reports whether every artifact path exists.
func FileProbe(paths ...string) (bool, error) {
	if len(paths) == 0 {
		return false, nil
	}
	for _, artifactPath := range paths {
		if _, statError := os.Stat(artifactPath); statError != nil {
			if errors.Is(statError, fs.ErrNotExist) {
				return false, nil
			}
			return false, fmt.Errorf(fileProbeErrorTemplateConstant, artifactPath, statError)
		}
	}
	return true, nil
}
