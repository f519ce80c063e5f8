package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"
)

// InitFileLogger initializes a logger that writes to a timestamped file
// under logDir (falling back to ~/.dap-session when logDir is empty, the
// default internal/config.Config.LogDir leaves unset), tagging every
// session-daemon startup with the component name so a shared log
// directory (e.g. a developer running both the daemon and the TUI
// against the same adapters) can be told apart by component.
func InitFileLogger(logDir, component string) (*os.File, error) {
	if logDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		logDir = filepath.Join(homeDir, ".dap-session")
	}

	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	timestamp := time.Now().Format("2006-01-02_15-04-05")
	logFile := filepath.Join(logDir, fmt.Sprintf("%s_%s.log", component, timestamp))

	// Also create a symlink to the latest log for this component.
	latestLink := filepath.Join(logDir, fmt.Sprintf("%s-latest.log", component))
	os.Remove(latestLink) // Remove old symlink if exists

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	// Create symlink to latest log (ignore errors as it's not critical)
	os.Symlink(logFile, latestLink)

	// Set default logger to write to the file.
	log.SetOutput(file)
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds | log.Lshortfile)

	log.Printf("========================================")
	log.Printf("%s started at %s", component, time.Now().Format(time.RFC3339))
	log.Printf("Log file: %s", logFile)
	log.Printf("========================================")

	fmt.Printf("Logging to: %s\n", logFile)

	return file, nil
}
