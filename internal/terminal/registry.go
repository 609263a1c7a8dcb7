package terminal

import (
	"crypto/subtle"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"
	"go.uber.org/zap"
)

// Registry holds the set of active named terminals plus the session-active
// flag. It is the one shared mutable resource; the coarse mutex guards the
// map and the flag, each terminal's input handle has its own finer lock so
// writers to different terminals never contend.
type Registry struct {
	mu            sync.Mutex
	terminals     map[string]*Terminal
	sessionActive bool

	adminKey string
	sink     Sink
	logger   *zap.Logger
}

// NewRegistry creates an empty registry with an active session. SetSink must
// be called before the first Spawn.
func NewRegistry(adminKey string, logger *zap.Logger) *Registry {
	return &Registry{
		terminals:     make(map[string]*Terminal),
		sessionActive: true,
		adminKey:      adminKey,
		logger:        logger,
	}
}

// SetSink wires the output consumer. Called once at startup, before Spawn.
func (r *Registry) SetSink(sink Sink) {
	r.mu.Lock()
	r.sink = sink
	r.mu.Unlock()
}

// Spawn allocates a 24x80 pty, launches command attached to its subordinate
// side, and registers the terminal under id. The subordinate handle is not
// held open in the parent; creack/pty closes it once the child is started.
// Errors are returned for the caller to treat as fatal setup failures.
func (r *Registry) Spawn(id, command string, args []string, workDir string, extraEnv map[string]string) error {
	r.mu.Lock()
	sink := r.sink
	if _, exists := r.terminals[id]; exists {
		r.mu.Unlock()
		return fmt.Errorf("terminal already exists: %s", id)
	}
	r.mu.Unlock()

	if sink == nil {
		return fmt.Errorf("registry has no sink")
	}

	cmd := exec.Command(command, args...)
	cmd.Dir = workDir
	cmd.Env = append(os.Environ(),
		"TERM=xterm-256color",
		"COLORTERM=truecolor",
	)
	for key, value := range extraEnv {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", key, value))
	}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Rows: defaultRows,
		Cols: defaultCols,
	})
	if err != nil {
		return fmt.Errorf("start pty for terminal %s: %w", id, err)
	}

	t := &Terminal{
		ID:     id,
		cmd:    cmd,
		ptmx:   ptmx,
		ring:   NewRingBuffer(defaultRingCapacity),
		done:   make(chan struct{}),
		reaped: make(chan struct{}),
	}

	r.mu.Lock()
	r.terminals[id] = t
	r.mu.Unlock()

	go func() {
		t.readLoop(sink, r.logger)
		sink.TerminalExited(t.ID)
	}()
	go t.reap(r.logger)

	r.logger.Info("terminal spawned",
		zap.String("terminal", id),
		zap.String("command", command),
		zap.String("workDir", workDir))

	return nil
}

// Write delivers input bytes to the named terminal. Writes to a nonexistent
// or already-dead terminal are silently dropped; a write error is logged and
// swallowed, never surfaced.
func (r *Registry) Write(id string, data []byte) {
	r.mu.Lock()
	t, ok := r.terminals[id]
	r.mu.Unlock()

	if !ok {
		return
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if _, err := t.ptmx.Write(data); err != nil {
		r.logger.Debug("terminal write failed",
			zap.String("terminal", id), zap.Error(err))
	}
}

// Get returns the named terminal, or nil if it was never spawned.
func (r *Registry) Get(id string) *Terminal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.terminals[id]
}

// IDs returns the identifiers of all registered terminals.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.terminals))
	for id := range r.terminals {
		ids = append(ids, id)
	}
	return ids
}

// Replay returns the terminal's recent output chunks in order, for late
// subscribers to catch up.
func (r *Registry) Replay(id string) [][]byte {
	r.mu.Lock()
	t, ok := r.terminals[id]
	r.mu.Unlock()

	if !ok {
		return nil
	}
	return t.ring.ReadAll()
}

// Unlock compares key against the admin key. On exact match it clears the
// session-active flag and reports true.
func (r *Registry) Unlock(key string) bool {
	if subtle.ConstantTimeCompare([]byte(key), []byte(r.adminKey)) != 1 {
		return false
	}

	r.mu.Lock()
	r.sessionActive = false
	r.mu.Unlock()

	r.logger.Info("session unlocked")
	return true
}

// SessionActive reports whether the supervised session is still active.
func (r *Registry) SessionActive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionActive
}

// Shutdown kills every terminal's child, closes its pty, and waits for the
// reader and reaper goroutines to stop.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	terminals := make([]*Terminal, 0, len(r.terminals))
	for _, t := range r.terminals {
		terminals = append(terminals, t)
	}
	r.mu.Unlock()

	for _, t := range terminals {
		if t.cmd.Process != nil {
			t.cmd.Process.Kill()
		}

		t.writeMu.Lock()
		t.ptmx.Close()
		t.writeMu.Unlock()

		<-t.done
		<-t.reaped
	}
}
