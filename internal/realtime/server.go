package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"proctor/internal/protocol"
	"proctor/internal/sandbox"
	"proctor/internal/terminal"
	"proctor/internal/watcher"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	pingInterval  = 30 * time.Second
	readDeadline  = 60 * time.Second
	writeDeadline = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow localhost origins for dev.
	},
}

// Server manages WebSocket connections and routes messages between the UI,
// the terminal registry, and the sandboxed workspace. It is the sink for
// terminal output and classified activity events.
type Server struct {
	registry  *terminal.Registry
	files     *sandbox.Workspace
	staticDir string
	logger    *zap.Logger

	clients   map[*client]bool
	clientsMu sync.RWMutex
}

type client struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	server *Server
}

// New creates a new realtime server.
func New(registry *terminal.Registry, files *sandbox.Workspace, staticDir string, logger *zap.Logger) *Server {
	return &Server{
		registry:  registry,
		files:     files,
		staticDir: staticDir,
		logger:    logger,
		clients:   make(map[*client]bool),
	}
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// WebSocket endpoint.
	mux.HandleFunc("/ws", s.handleWebSocket)

	// REST API endpoints.
	mux.HandleFunc("GET /files", s.handleListFiles)
	mux.HandleFunc("GET /files/{name}", s.handleReadFile)
	mux.HandleFunc("PUT /files/{name}", s.handleWriteFile)
	mux.HandleFunc("POST /files/{name}", s.handleCreateFile)
	mux.HandleFunc("POST /log", s.handleSaveLog)
	mux.HandleFunc("POST /unlock", s.handleUnlock)

	// Static file serving.
	if s.staticDir != "" {
		fileServer := http.FileServer(http.Dir(s.staticDir))
		mux.Handle("/", fileServer)
	}

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// handleWebSocket upgrades an HTTP connection to WebSocket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{
		id:     uuid.New().String(),
		conn:   conn,
		send:   make(chan []byte, 256),
		server: s,
	}

	s.clientsMu.Lock()
	s.clients[c] = true
	s.clientsMu.Unlock()

	s.logger.Debug("client connected", zap.String("client", c.id))

	// Replay recent terminal output so a late-connecting client catches up.
	s.replayTerminals(c)

	go c.writePump()
	go c.readPump()
}

// replayTerminals sends each terminal's buffered output chunks to a client.
func (s *Server) replayTerminals(c *client) {
	for _, id := range s.registry.IDs() {
		for _, chunk := range s.registry.Replay(id) {
			s.sendTo(c, protocol.TypeTerminalOutput, protocol.TerminalOutputPayload{
				TerminalID: id,
				Data:       chunk,
			})
		}
	}
}

// readPump reads messages from the WebSocket connection.
func (c *client) readPump() {
	defer func() {
		c.server.removeClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.server.logger.Warn("websocket read error",
					zap.String("client", c.id), zap.Error(err))
			}
			return
		}

		c.server.handleMessage(c, message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// removeClient cleans up a disconnected client.
func (s *Server) removeClient(c *client) {
	s.clientsMu.Lock()
	delete(s.clients, c)
	s.clientsMu.Unlock()

	close(c.send)

	s.logger.Debug("client disconnected", zap.String("client", c.id))
}

// handleMessage processes a validated client message.
func (s *Server) handleMessage(c *client, raw []byte) {
	msg, err := protocol.ValidateClientMessage(raw)
	if err != nil {
		s.sendError(c, protocol.ErrInvalidMessage, err.Error())
		return
	}

	switch msg.Type {
	case protocol.TypeTerminalInput:
		var p protocol.TerminalInputPayload
		json.Unmarshal(msg.Payload, &p)
		s.registry.Write(p.TerminalID, p.Data)

	case protocol.TypeSessionUnlock:
		var p protocol.SessionUnlockPayload
		json.Unmarshal(msg.Payload, &p)
		granted := s.registry.Unlock(p.Key)
		s.sendTo(c, protocol.TypeSessionUnlocked, protocol.SessionUnlockedPayload{Granted: granted})

	case protocol.TypeFilesList:
		files, err := s.files.List()
		if err != nil {
			s.sendError(c, protocol.ErrIOFailure, err.Error())
			return
		}
		s.sendTo(c, protocol.TypeFilesListing, protocol.FilesListingPayload{Files: files})

	case protocol.TypeFilesRead:
		var p protocol.FileNamePayload
		json.Unmarshal(msg.Payload, &p)
		content, err := s.files.Read(p.Name)
		if err != nil {
			s.sendError(c, errorCode(err), err.Error())
			return
		}
		s.sendTo(c, protocol.TypeFilesContent, protocol.FilesContentPayload{Name: p.Name, Content: content})

	case protocol.TypeFilesWrite:
		var p protocol.FileWritePayload
		json.Unmarshal(msg.Payload, &p)
		if err := s.files.Write(p.Name, p.Content); err != nil {
			s.sendError(c, errorCode(err), err.Error())
			return
		}
		s.sendTo(c, protocol.TypeOK, protocol.OKPayload{Op: msg.Type})

	case protocol.TypeFilesCreate:
		var p protocol.FileNamePayload
		json.Unmarshal(msg.Payload, &p)
		if err := s.files.Create(p.Name); err != nil {
			s.sendError(c, errorCode(err), err.Error())
			return
		}
		s.sendTo(c, protocol.TypeOK, protocol.OKPayload{Op: msg.Type})

	case protocol.TypeLogSave:
		var p protocol.LogSavePayload
		json.Unmarshal(msg.Payload, &p)
		if err := s.files.SaveLog(p.Content); err != nil {
			s.sendError(c, protocol.ErrIOFailure, err.Error())
			return
		}
		s.sendTo(c, protocol.TypeOK, protocol.OKPayload{Op: msg.Type})
	}
}

// errorCode maps workspace errors to protocol error codes.
func errorCode(err error) string {
	switch {
	case errors.Is(err, sandbox.ErrAccessDenied):
		return protocol.ErrAccessDenied
	case errors.Is(err, sandbox.ErrAlreadyExists):
		return protocol.ErrAlreadyExists
	default:
		return protocol.ErrIOFailure
	}
}

// TerminalOutput implements terminal.Sink: output chunks fan out to every
// connected client.
func (s *Server) TerminalOutput(terminalID string, data []byte) {
	s.broadcast(protocol.TypeTerminalOutput, protocol.TerminalOutputPayload{
		TerminalID: terminalID,
		Data:       data,
	})
}

// TerminalExited implements terminal.Sink: the UI gets an explicit signal
// that a terminal's output stream has ended instead of silently freezing.
func (s *Server) TerminalExited(terminalID string) {
	s.broadcast(protocol.TypeTerminalExited, protocol.TerminalExitedPayload{
		TerminalID: terminalID,
	})
}

// LogEvent implements watcher.EventSink.
func (s *Server) LogEvent(event watcher.Event) {
	switch e := event.(type) {
	case watcher.CommandEvent:
		s.broadcast(protocol.TypeLogEvent, protocol.LogEventPayload{
			Kind:    protocol.LogKindCommand,
			Message: e.Line,
		})
	case watcher.FileChangeEvent:
		s.broadcast(protocol.TypeLogEvent, protocol.LogEventPayload{
			Kind:    protocol.LogKindFile,
			Message: fmt.Sprintf("%s file '%s'", e.Kind, e.Name),
		})
	}
}

// broadcast sends a message to all connected clients. Delivery is
// best-effort: a client with a full buffer is skipped.
func (s *Server) broadcast(msgType string, payload interface{}) {
	msg, err := protocol.NewMessage(msgType, payload)
	if err != nil {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for c := range s.clients {
		select {
		case c.send <- data:
		default:
			// Client buffer full, skip.
		}
	}
}

// sendTo sends a message to a single client, dropping it if the client's
// buffer is full.
func (s *Server) sendTo(c *client, msgType string, payload interface{}) {
	msg, err := protocol.NewMessage(msgType, payload)
	if err != nil {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (s *Server) sendError(c *client, code, message string) {
	msg, _ := protocol.NewErrorMessage(code, message)
	data, _ := json.Marshal(msg)
	select {
	case c.send <- data:
	default:
	}
}
