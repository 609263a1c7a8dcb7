package protocol

import (
	"encoding/json"
	"fmt"
)

// validClientTypes is the set of allowed client→server message types.
var validClientTypes = map[string]bool{
	TypeTerminalInput: true,
	TypeSessionUnlock: true,
	TypeFilesList:     true,
	TypeFilesRead:     true,
	TypeFilesWrite:    true,
	TypeFilesCreate:   true,
	TypeLogSave:       true,
}

// ValidateClientMessage validates a raw JSON message from a client.
// Returns the parsed Message and any validation error.
func ValidateClientMessage(raw []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	if msg.Type == "" {
		return nil, fmt.Errorf("missing 'type' field")
	}

	if !validClientTypes[msg.Type] {
		return nil, fmt.Errorf("unknown message type: %s", msg.Type)
	}

	if msg.Payload == nil {
		return nil, fmt.Errorf("missing 'payload' field")
	}

	// Validate required payload fields per type.
	switch msg.Type {
	case TypeTerminalInput:
		var p TerminalInputPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
		}
		if p.TerminalID == "" {
			return nil, fmt.Errorf("missing required field 'terminalId' in %s payload", msg.Type)
		}

	case TypeSessionUnlock:
		var p SessionUnlockPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
		}
		if p.Key == "" {
			return nil, fmt.Errorf("missing required field 'key' in %s payload", msg.Type)
		}

	case TypeFilesRead, TypeFilesCreate:
		var p FileNamePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
		}
		if p.Name == "" {
			return nil, fmt.Errorf("missing required field 'name' in %s payload", msg.Type)
		}

	case TypeFilesWrite:
		var p FileWritePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
		}
		if p.Name == "" {
			return nil, fmt.Errorf("missing required field 'name' in %s payload", msg.Type)
		}

	case TypeFilesList, TypeLogSave:
		// No required fields.
	}

	return &msg, nil
}

// NewErrorMessage creates an error message ready to send to the client.
func NewErrorMessage(code, message string) (*Message, error) {
	return NewMessage(TypeError, ErrorPayload{
		Code:    code,
		Message: message,
	})
}
