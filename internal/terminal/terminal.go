package terminal

import (
	"os"
	"os/exec"
	"sync"

	"go.uber.org/zap"
)

const (
	defaultRows = 24
	defaultCols = 80

	outputChunkSize = 4096

	defaultRingCapacity = 256
)

// Sink receives output from running terminals. The realtime server
// implements it.
type Sink interface {
	// TerminalOutput delivers one chunk of raw output bytes.
	TerminalOutput(terminalID string, data []byte)
	// TerminalExited signals that a terminal's output stream has ended.
	TerminalExited(terminalID string)
}

// Terminal owns one pty pairing and the child process attached to its
// subordinate side.
type Terminal struct {
	ID string

	cmd  *exec.Cmd
	ptmx *os.File

	// writeMu serializes writers to the pty input handle. Both the
	// user-input path and Shutdown may touch it.
	writeMu sync.Mutex

	ring *RingBuffer

	done   chan struct{} // closed when the reader loop exits
	reaped chan struct{} // closed when the child has been waited on
}

// Done is closed once the terminal's output stream has ended and its
// reader loop has stopped.
func (t *Terminal) Done() <-chan struct{} {
	return t.done
}

// readLoop reads output chunks from the pty and forwards them to the sink,
// preserving arrival order. It exits silently on EOF or read error; the
// registry then emits the terminal-exited signal.
func (t *Terminal) readLoop(sink Sink, logger *zap.Logger) {
	defer close(t.done)

	buf := make([]byte, outputChunkSize)
	for {
		n, err := t.ptmx.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			t.ring.Write(chunk)
			sink.TerminalOutput(t.ID, chunk)
		}
		if err != nil {
			logger.Debug("terminal output stream ended",
				zap.String("terminal", t.ID), zap.Error(err))
			return
		}
	}
}

// reap waits for the child process so it does not linger as a zombie. The
// registry entry is not removed; the launched command is a self-restarting
// shell loop, so exit here means the whole loop was torn down.
func (t *Terminal) reap(logger *zap.Logger) {
	defer close(t.reaped)

	if err := t.cmd.Wait(); err != nil {
		logger.Debug("terminal child exited",
			zap.String("terminal", t.ID), zap.Error(err))
	}
}
