// Package shell composes the launch command for the supervised terminal: a
// fully functional interactive shell whose history is forced to a known
// file and appended one entry per executed command, without touching the
// user's own configuration.
package shell

import (
	"fmt"
	"os"
	"path/filepath"

	"proctor/internal/sandbox"
)

// Strategy composes the terminal launch command for one shell family. The
// strategy is selected once at startup, not per call.
type Strategy interface {
	// Name identifies the shell family, for logging.
	Name() string
	// Compose regenerates any override config under the internal root
	// and returns the command and arguments to launch.
	Compose(layout sandbox.Layout) (string, []string, error)
}

// Detect picks a strategy from the shell path. An empty shellPath falls
// back to $SHELL, then to /bin/bash.
func Detect(shellPath string) Strategy {
	if shellPath == "" {
		shellPath = os.Getenv("SHELL")
	}
	if shellPath == "" {
		shellPath = "/bin/bash"
	}

	if filepath.Base(shellPath) == "zsh" {
		return &ZshStrategy{Shell: shellPath}
	}
	return &BashStrategy{Shell: shellPath}
}

// ZshStrategy uses a ZDOTDIR override: zsh reads its rc from the internal
// root, where a generated config sources the user's own .zshrc and then
// forces incremental history logging.
type ZshStrategy struct {
	Shell string
}

func (z *ZshStrategy) Name() string { return "zsh" }

func (z *ZshStrategy) Compose(layout sandbox.Layout) (string, []string, error) {
	rc := fmt.Sprintf(`# Load the user's own configuration first.
[[ -f "$HOME/.zshrc" ]] && source "$HOME/.zshrc"

export HISTFILE=%q
setopt INC_APPEND_HISTORY
setopt SHARE_HISTORY
`, layout.HistoryFile())

	if err := os.WriteFile(layout.OverrideRC(), []byte(rc), 0o600); err != nil {
		return "", nil, fmt.Errorf("write zsh override config: %w", err)
	}

	script := fmt.Sprintf("export ZDOTDIR=%q; exec %s -l", layout.InternalDir, z.Shell)
	return "/bin/sh", []string{"-c", script}, nil
}

// BashStrategy has no rc override mechanism equivalent to ZDOTDIR, so it
// exports the history file directly and appends history after every command
// via PROMPT_COMMAND. The shell loops forever so the terminal keeps
// presenting a live shell even if the user exits it.
type BashStrategy struct {
	Shell string
}

func (b *BashStrategy) Name() string { return "bash" }

func (b *BashStrategy) Compose(layout sandbox.Layout) (string, []string, error) {
	script := fmt.Sprintf(
		"export HISTFILE=%q; export PROMPT_COMMAND='history -a'; while true; do %s; done",
		layout.HistoryFile(), b.Shell)
	return "/bin/sh", []string{"-c", script}, nil
}
