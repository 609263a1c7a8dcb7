package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
)

// Well-known file names inside the two roots.
const (
	// SessionLogName is the externally-managed session log in the
	// workspace. It is excluded from listings and watcher events.
	SessionLogName = "session_log.txt"

	// HistoryFileName is the shell history file in the internal root.
	HistoryFileName = ".cmd_history"

	// OverrideRCName is the generated shell override config in the
	// internal root.
	OverrideRCName = ".zshrc"
)

// Layout describes the two persisted roots: the user-visible workspace and
// the hidden internal directory that holds the history file and the shell
// override config.
type Layout struct {
	WorkspaceDir string
	InternalDir  string
}

// HistoryFile returns the path of the shell history file.
func (l Layout) HistoryFile() string {
	return filepath.Join(l.InternalDir, HistoryFileName)
}

// SessionLog returns the path of the session log file.
func (l Layout) SessionLog() string {
	return filepath.Join(l.WorkspaceDir, SessionLogName)
}

// OverrideRC returns the path of the generated shell override config.
func (l Layout) OverrideRC() string {
	return filepath.Join(l.InternalDir, OverrideRCName)
}

// Ensure creates both directories idempotently and truncates the history
// file and session log so only activity from this session is recorded.
func (l Layout) Ensure() error {
	if err := os.MkdirAll(l.WorkspaceDir, 0o755); err != nil {
		return fmt.Errorf("create workspace dir: %w", err)
	}
	if err := os.MkdirAll(l.InternalDir, 0o700); err != nil {
		return fmt.Errorf("create internal dir: %w", err)
	}

	if err := os.WriteFile(l.HistoryFile(), nil, 0o600); err != nil {
		return fmt.Errorf("truncate history file: %w", err)
	}
	if err := os.WriteFile(l.SessionLog(), nil, 0o644); err != nil {
		return fmt.Errorf("truncate session log: %w", err)
	}

	return nil
}
