package adapters

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	envCacheDir   = "NARRATION_CACHE_DIR"
	appName       = "narration-service"
	modelsDirName = "models"
)

// ErrModelNotFound is returned when a model file cannot be located.
var ErrModelNotFound = errors.New("model not found")

// CacheDir returns the directory searched for downloaded models. The
// NARRATION_CACHE_DIR environment variable overrides the default under the
// user's home.
func CacheDir() string {
	if cacheDir := os.Getenv(envCacheDir); cacheDir != "" {
		return cacheDir
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), appName, "cache")
	}

	return filepath.Join(homeDir, ".cache", appName)
}

// ResolveModelPath finds a model file as given, under ./models, or under
// CacheDir()/models, and returns its absolute path. An empty name resolves
// to itself so the binary can apply its own default.
func ResolveModelPath(name string) (string, error) {
	if name == "" {
		return "", nil
	}

	candidates := []string{
		name,
		filepath.Join(modelsDirName, name),
		filepath.Join(CacheDir(), modelsDirName, name),
	}

	for _, candidate := range candidates {
		_, statErr := os.Stat(candidate)
		if statErr == nil {
			absPath, absErr := filepath.Abs(candidate)
			if absErr != nil {
				return "", fmt.Errorf("could not resolve absolute path for %q: %w", candidate, absErr)
			}

			return absPath, nil
		}

		if !errors.Is(statErr, os.ErrNotExist) {
			return "", fmt.Errorf("error checking model path %q: %w", candidate, statErr)
		}
	}

	return "", fmt.Errorf("%w: %s", ErrModelNotFound, name)
}
