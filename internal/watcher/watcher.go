// Package watcher observes the workspace and internal roots and classifies
// raw filesystem notifications into semantic activity events: commands
// executed in the supervised shell and workspace file changes.
package watcher

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"proctor/internal/sandbox"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// editorTempSuffixes are editor artifacts that never produce events.
var editorTempSuffixes = []string{".swp", "~"}

// Watcher subscribes to filesystem notifications under the workspace and
// internal roots and pushes classified events to the sink. It runs for the
// lifetime of the process; Close exists for deterministic teardown in tests
// and shutdown.
type Watcher struct {
	layout sandbox.Layout
	sink   EventSink
	logger *zap.Logger

	fsw *fsnotify.Watcher

	// lastHistorySize is the growth-delta cursor for the history file.
	// Initialized to the file's size at start so pre-existing history is
	// ignored; only mutated by the event loop.
	lastHistorySize int64

	done   chan struct{}
	closed chan struct{}
}

// New creates a watcher over the given layout.
func New(layout sandbox.Layout, sink EventSink, logger *zap.Logger) *Watcher {
	return &Watcher{
		layout: layout,
		sink:   sink,
		logger: logger,
		done:   make(chan struct{}),
		closed: make(chan struct{}),
	}
}

// Start subscribes to both roots and runs the event loop. Subscription
// failure for either root is logged and tolerated: the watcher continues on
// whichever root succeeded.
func (w *Watcher) Start() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fsw = fsw

	if info, err := os.Stat(w.layout.HistoryFile()); err == nil {
		w.lastHistorySize = info.Size()
	}

	watched := 0
	for _, root := range []string{w.layout.WorkspaceDir, w.layout.InternalDir} {
		if err := addDirsRecursive(fsw, root); err != nil {
			w.logger.Warn("watch root unavailable",
				zap.String("root", root), zap.Error(err))
			continue
		}
		watched++
	}
	if watched == 0 {
		w.logger.Warn("no watch roots available, activity will not be recorded")
	}

	go w.loop()
	return nil
}

// Close stops the event loop and waits for it to exit.
func (w *Watcher) Close() {
	close(w.done)
	if w.fsw != nil {
		w.fsw.Close()
	}
	<-w.closed
}

// loop processes raw notifications until Close or channel closure.
func (w *Watcher) loop() {
	defer close(w.closed)

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(event)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

// handle extends the watch to newly created directories, classifies the
// notification, and forwards any resulting event.
func (w *Watcher) handle(event fsnotify.Event) {
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			w.fsw.Add(event.Name)
		}
	}

	if e := w.classify(event); e != nil {
		w.sink.LogEvent(e)
	}
}

// classify maps one raw notification to at most one event:
//
//  1. Editor-temp suffixes and the session log are discarded.
//  2. The history file under the internal root yields a CommandEvent only
//     when the file grew past the cursor; duplicate notifications and
//     no-op touches are suppressed.
//  3. Workspace paths yield a FileChangeEvent for create/write/remove;
//     metadata-only kinds are discarded.
//  4. Paths under neither root are discarded.
func (w *Watcher) classify(event fsnotify.Event) Event {
	base := filepath.Base(event.Name)

	for _, suffix := range editorTempSuffixes {
		if strings.HasSuffix(base, suffix) {
			return nil
		}
	}
	if base == sandbox.SessionLogName {
		return nil
	}

	if underRoot(event.Name, w.layout.InternalDir) {
		if base != sandbox.HistoryFileName {
			return nil
		}
		info, err := os.Stat(event.Name)
		if err != nil {
			return nil
		}
		if info.Size() <= w.lastHistorySize {
			return nil
		}
		line, err := lastLine(event.Name)
		if err != nil {
			return nil
		}
		w.lastHistorySize = info.Size()
		return CommandEvent{Line: line}
	}

	if underRoot(event.Name, w.layout.WorkspaceDir) {
		var kind ChangeKind
		switch {
		case event.Has(fsnotify.Create):
			kind = ChangeCreated
		case event.Has(fsnotify.Write):
			kind = ChangeModified
		case event.Has(fsnotify.Remove):
			kind = ChangeDeleted
		default:
			return nil
		}
		return FileChangeEvent{Kind: kind, Name: base}
	}

	return nil
}

// lastLine returns the final line of text in a file, ignoring a trailing
// newline.
func lastLine(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	data = bytes.TrimRight(data, "\n")
	if i := bytes.LastIndexByte(data, '\n'); i >= 0 {
		data = data[i+1:]
	}
	return string(data), nil
}

func underRoot(path, root string) bool {
	return path == root || strings.HasPrefix(path, root+string(filepath.Separator))
}

// addDirsRecursive adds a directory and its subdirectories to an fsnotify
// watcher.
func addDirsRecursive(fsw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		return fsw.Add(path)
	})
}
