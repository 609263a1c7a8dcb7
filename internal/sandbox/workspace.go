package sandbox

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var (
	// ErrAccessDenied is returned when a resolved path escapes the
	// workspace root. No filesystem mutation happens in that case.
	ErrAccessDenied = errors.New("access denied")

	// ErrAlreadyExists is returned by Create when the target exists.
	ErrAlreadyExists = errors.New("file already exists")
)

// Workspace provides file access confined to the workspace root. All
// relative names are resolved against the canonical root; anything that
// does not stay under it is rejected.
type Workspace struct {
	root string
}

// NewWorkspace canonicalizes root and returns a workspace rooted there.
func NewWorkspace(root string) (*Workspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	return &Workspace{root: filepath.Clean(abs)}, nil
}

// Root returns the canonical workspace root.
func (w *Workspace) Root() string {
	return w.root
}

// resolve joins name to the root and rejects any result that escapes it.
func (w *Workspace) resolve(name string) (string, error) {
	path := filepath.Join(w.root, name)
	if path != w.root && !strings.HasPrefix(path, w.root+string(filepath.Separator)) {
		return "", ErrAccessDenied
	}
	return path, nil
}

// List returns the sorted names of regular files in the workspace,
// excluding the session log and hidden entries.
func (w *Workspace) List() ([]string, error) {
	entries, err := os.ReadDir(w.root)
	if err != nil {
		return nil, fmt.Errorf("read workspace: %w", err)
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if name == SessionLogName || strings.HasPrefix(name, ".") {
			continue
		}
		files = append(files, name)
	}
	sort.Strings(files)
	return files, nil
}

// Read returns the contents of a workspace file.
func (w *Workspace) Read(name string) (string, error) {
	path, err := w.resolve(name)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", name, err)
	}
	return string(data), nil
}

// Write overwrites a workspace file with content.
func (w *Workspace) Write(name, content string) error {
	path, err := w.resolve(name)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// Create creates an empty workspace file. It never overwrites: an existing
// target yields ErrAlreadyExists.
func (w *Workspace) Create(name string) error {
	path, err := w.resolve(name)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		return ErrAlreadyExists
	}
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	return nil
}

// SaveLog overwrites the session log with content.
func (w *Workspace) SaveLog(content string) error {
	path := filepath.Join(w.root, SessionLogName)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("save session log: %w", err)
	}
	return nil
}
