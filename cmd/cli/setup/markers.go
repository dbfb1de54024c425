package setup

import (
	"fmt"

	"github.com/tyemirov/devsetup/internal/markers"
)

// MarkerStoreOpener opens a marker store and returns a function that releases it.
type MarkerStoreOpener func(configuration MarkersConfiguration) (markers.Store, func() error, error)

// OpenMarkerStore prefers redis when an address is configured and falls back to the yaml file store.
func OpenMarkerStore(configuration MarkersConfiguration) (markers.Store, func() error, error) {
	if configuration.RedisAddress != "" {
		store := markers.NewRedisStore(
			configuration.RedisAddress,
			configuration.RedisPassword,
			configuration.RedisDatabase,
			markers.WithPrefix(configuration.RedisPrefix),
		)
		return store, store.Close, nil
	}

	filePath := configuration.Path
	if filePath == "" {
		defaultPath, pathError := markers.DefaultFilePath()
		if pathError != nil {
			return nil, nil, fmt.Errorf("unable to resolve marker file: %w", pathError)
		}
		filePath = defaultPath
	}
	store, storeError := markers.NewFileStore(filePath)
	if storeError != nil {
		return nil, nil, storeError
	}
	return store, func() error { return nil }, nil
}
