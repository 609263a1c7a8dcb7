package watcher

// ChangeKind is the semantic kind of a workspace file change.
type ChangeKind string

const (
	ChangeCreated  ChangeKind = "Created"
	ChangeModified ChangeKind = "Modified"
	ChangeDeleted  ChangeKind = "Deleted"
)

// Event is a classified activity event. Exactly two variants exist:
// CommandEvent and FileChangeEvent.
type Event interface {
	isEvent()
}

// CommandEvent reports a command executed in the supervised shell. Line is
// the last line appended to the history file.
type CommandEvent struct {
	Line string
}

// FileChangeEvent reports a change to a workspace file.
type FileChangeEvent struct {
	Kind ChangeKind
	Name string
}

func (CommandEvent) isEvent()    {}
func (FileChangeEvent) isEvent() {}

// EventSink receives classified events. Delivery is best-effort; failures
// are never retried or reported back to the watcher.
type EventSink interface {
	LogEvent(event Event)
}
