package logging

import (
	"os"
	"path/filepath"
)

// DefaultLogDir returns the default log directory (~/.amanmem/logs/).
// Falls back to the temp directory if the home directory is unavailable.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".amanmem", "logs")
	}
	return filepath.Join(home, ".amanmem", "logs")
}

// LogPathIn returns the log file for a command under dir.
func LogPathIn(dir, command string) string {
	if dir == "" {
		dir = DefaultLogDir()
	}
	return filepath.Join(dir, command+".log")
}
