package logging

import (
	"fmt"
	"os"
	"path/filepath"
)

// LogFileName is the base name of the agentmem log.
const LogFileName = "agentmem.log"

// DefaultLogDir returns ~/.agentmem/logs, or a temp dir without a home.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".agentmem", "logs")
	}
	return filepath.Join(home, ".agentmem", "logs")
}

// DefaultLogPath returns the default log file.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), LogFileName)
}

// FindLogFile returns explicit if given and present, else the default path.
func FindLogFile(explicit string) (string, error) {
	path := explicit
	if path == "" {
		path = DefaultLogPath()
	}
	if _, err := os.Stat(path); err != nil {
		if explicit == "" {
			return "", fmt.Errorf("no log file at %s; run agentmem with --debug or start the server first", path)
		}
		return "", fmt.Errorf("log file not found: %s", path)
	}
	return path, nil
}
