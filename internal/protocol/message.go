package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage creates a server-originated message with the current timestamp.
func NewMessage(msgType string, payload interface{}) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Message{
		Type:      msgType,
		Payload:   data,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Server → Client message types.
const (
	TypeTerminalOutput  = "terminal.output"
	TypeTerminalExited  = "terminal.exited"
	TypeLogEvent        = "log.event"
	TypeFilesListing    = "files.listing"
	TypeFilesContent    = "files.content"
	TypeSessionUnlocked = "session.unlocked"
	TypeOK              = "ok"
	TypeError           = "error"
)

// Client → Server message types.
const (
	TypeTerminalInput = "terminal.input"
	TypeSessionUnlock = "session.unlock"
	TypeFilesList     = "files.list"
	TypeFilesRead     = "files.read"
	TypeFilesWrite    = "files.write"
	TypeFilesCreate   = "files.create"
	TypeLogSave       = "log.save"
)

// Log event kinds.
const (
	LogKindCommand = "command"
	LogKindFile    = "file"
)

// Error codes.
const (
	ErrAccessDenied   = "ACCESS_DENIED"
	ErrAlreadyExists  = "ALREADY_EXISTS"
	ErrInvalidMessage = "INVALID_MESSAGE"
	ErrIOFailure      = "IO_FAILURE"
)

// Server → Client payloads.

// TerminalOutputPayload carries one raw output chunk. Data is base64 on the
// wire.
type TerminalOutputPayload struct {
	TerminalID string `json:"terminalId"`
	Data       []byte `json:"data"`
}

type TerminalExitedPayload struct {
	TerminalID string `json:"terminalId"`
}

type LogEventPayload struct {
	Kind    string `json:"kind"` // "command" | "file"
	Message string `json:"message"`
}

type FilesListingPayload struct {
	Files []string `json:"files"`
}

type FilesContentPayload struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

type SessionUnlockedPayload struct {
	Granted bool `json:"granted"`
}

type OKPayload struct {
	Op string `json:"op"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Client → Server payloads.

type TerminalInputPayload struct {
	TerminalID string `json:"terminalId"`
	Data       []byte `json:"data"`
}

type SessionUnlockPayload struct {
	Key string `json:"key"`
}

type FileNamePayload struct {
	Name string `json:"name"`
}

type FileWritePayload struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

type LogSavePayload struct {
	Content string `json:"content"`
}
