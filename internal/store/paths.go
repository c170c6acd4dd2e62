package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// DirName is the name of the per-project and per-user data directory.
const DirName = ".cellsim"

// GlobalCellsimPath returns the path to the global .cellsim directory.
// On Unix: ~/.cellsim
// On Windows: %USERPROFILE%\.cellsim
func GlobalCellsimPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, DirName), nil
}

// LocalCellsimPath returns the path to the .cellsim directory for the given
// output root.
func LocalCellsimPath(root string) string {
	return filepath.Join(root, DirName)
}

// EnsureGlobalCellsimDir creates the global .cellsim directory if it doesn't exist.
func EnsureGlobalCellsimDir() error {
	globalPath, err := GlobalCellsimPath()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(globalPath, 0755); err != nil {
		return fmt.Errorf("failed to create global .cellsim directory: %w", err)
	}

	return nil
}
