package realtime

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"proctor/internal/protocol"
	"proctor/internal/sandbox"
	"proctor/internal/terminal"
	"proctor/internal/watcher"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T) (*Server, *sandbox.Workspace) {
	t.Helper()

	files, err := sandbox.NewWorkspace(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	registry := terminal.NewRegistry("1915", zap.NewNop())
	srv := New(registry, files, "", zap.NewNop())
	registry.SetSink(srv)

	return srv, files
}

func TestServer_Handler(t *testing.T) {
	srv, _ := newTestServer(t)
	if srv.Handler() == nil {
		t.Fatal("expected non-nil handler")
	}
}

func TestServer_ListFilesEmpty(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Handler()

	req := httptest.NewRequest("GET", "/files", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var files []string
	json.NewDecoder(w.Body).Decode(&files)
	if len(files) != 0 {
		t.Errorf("expected empty list, got %v", files)
	}
}

func TestServer_CreateReadWriteFile(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Handler()

	// Create.
	req := httptest.NewRequest("POST", "/files/answer.txt", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected status 201, got %d", w.Code)
	}

	// Create again conflicts.
	req = httptest.NewRequest("POST", "/files/answer.txt", nil)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate create: expected status 409, got %d", w.Code)
	}

	// Write.
	req = httptest.NewRequest("PUT", "/files/answer.txt", strings.NewReader("42"))
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("write: expected status 200, got %d", w.Code)
	}

	// Read.
	req = httptest.NewRequest("GET", "/files/answer.txt", nil)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("read: expected status 200, got %d", w.Code)
	}
	if w.Body.String() != "42" {
		t.Errorf("read: expected '42', got %q", w.Body.String())
	}
}

func TestServer_ReadMissingFile(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Handler()

	req := httptest.NewRequest("GET", "/files/nope.txt", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}
}

func TestServer_EscapeDenied(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Handler()

	// %2F keeps the traversal inside one path segment.
	req := httptest.NewRequest("GET", "/files/..%2Fsecret", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Errorf("expected status 403, got %d", w.Code)
	}
}

func TestServer_SaveLog(t *testing.T) {
	srv, files := newTestServer(t)
	handler := srv.Handler()

	req := httptest.NewRequest("POST", "/log", strings.NewReader("session transcript"))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	data, err := os.ReadFile(filepath.Join(files.Root(), sandbox.SessionLogName))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "session transcript" {
		t.Errorf("expected log saved, got %q", data)
	}
}

func TestServer_Unlock(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Handler()

	req := httptest.NewRequest("POST", "/unlock", strings.NewReader(`{"key":"0000"}`))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	var resp unlockResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Granted {
		t.Error("expected unlock denied with wrong key")
	}

	req = httptest.NewRequest("POST", "/unlock", strings.NewReader(`{"key":"1915"}`))
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	json.NewDecoder(w.Body).Decode(&resp)
	if !resp.Granted {
		t.Error("expected unlock granted with correct key")
	}
}

func TestServer_WebSocketInvalidMessage(t *testing.T) {
	srv, _ := newTestServer(t)
	httpSrv := httptest.NewServer(srv.Handler())
	defer httpSrv.Close()

	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	defer ws.Close()

	ws.WriteMessage(websocket.TextMessage, []byte("not json"))

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, respData, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read message failed: %v", err)
	}

	var resp protocol.Message
	json.Unmarshal(respData, &resp)
	if resp.Type != protocol.TypeError {
		t.Errorf("expected error type, got %s", resp.Type)
	}
}

func TestServer_WebSocketFilesRoundtrip(t *testing.T) {
	srv, _ := newTestServer(t)
	httpSrv := httptest.NewServer(srv.Handler())
	defer httpSrv.Close()

	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	defer ws.Close()

	send := func(msgType string, payload interface{}) {
		t.Helper()
		msg := map[string]interface{}{
			"type":      msgType,
			"payload":   payload,
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		}
		data, _ := json.Marshal(msg)
		if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
			t.Fatal(err)
		}
	}

	read := func() *protocol.Message {
		t.Helper()
		ws.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("read message failed: %v", err)
		}
		var msg protocol.Message
		json.Unmarshal(data, &msg)
		return &msg
	}

	// Create, then list.
	send(protocol.TypeFilesCreate, protocol.FileNamePayload{Name: "answer.txt"})
	if resp := read(); resp.Type != protocol.TypeOK {
		t.Fatalf("expected ok, got %s", resp.Type)
	}

	send(protocol.TypeFilesList, map[string]string{})
	resp := read()
	if resp.Type != protocol.TypeFilesListing {
		t.Fatalf("expected files.listing, got %s", resp.Type)
	}
	var listing protocol.FilesListingPayload
	json.Unmarshal(resp.Payload, &listing)
	if len(listing.Files) != 1 || listing.Files[0] != "answer.txt" {
		t.Errorf("expected [answer.txt], got %v", listing.Files)
	}

	// Creating again yields a typed conflict.
	send(protocol.TypeFilesCreate, protocol.FileNamePayload{Name: "answer.txt"})
	resp = read()
	if resp.Type != protocol.TypeError {
		t.Fatalf("expected error, got %s", resp.Type)
	}
	var errPayload protocol.ErrorPayload
	json.Unmarshal(resp.Payload, &errPayload)
	if errPayload.Code != protocol.ErrAlreadyExists {
		t.Errorf("expected code %s, got %s", protocol.ErrAlreadyExists, errPayload.Code)
	}

	// Sandbox escape yields access denied.
	send(protocol.TypeFilesRead, protocol.FileNamePayload{Name: "../secret"})
	resp = read()
	if resp.Type != protocol.TypeError {
		t.Fatalf("expected error, got %s", resp.Type)
	}
	json.Unmarshal(resp.Payload, &errPayload)
	if errPayload.Code != protocol.ErrAccessDenied {
		t.Errorf("expected code %s, got %s", protocol.ErrAccessDenied, errPayload.Code)
	}
}

func TestServer_LogEventFormatting(t *testing.T) {
	srv, _ := newTestServer(t)
	httpSrv := httptest.NewServer(srv.Handler())
	defer httpSrv.Close()

	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	defer ws.Close()

	// Give the hub a moment to register the client.
	time.Sleep(100 * time.Millisecond)

	srv.LogEvent(watcher.CommandEvent{Line: "ls"})
	srv.LogEvent(watcher.FileChangeEvent{Kind: watcher.ChangeCreated, Name: "answer.txt"})

	var payloads []protocol.LogEventPayload
	for i := 0; i < 2; i++ {
		ws.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("read message failed: %v", err)
		}
		var msg protocol.Message
		json.Unmarshal(data, &msg)
		if msg.Type != protocol.TypeLogEvent {
			t.Fatalf("expected log.event, got %s", msg.Type)
		}
		var p protocol.LogEventPayload
		json.Unmarshal(msg.Payload, &p)
		payloads = append(payloads, p)
	}

	if payloads[0].Kind != protocol.LogKindCommand || payloads[0].Message != "ls" {
		t.Errorf("unexpected command event: %+v", payloads[0])
	}
	if payloads[1].Kind != protocol.LogKindFile || payloads[1].Message != "Created file 'answer.txt'" {
		t.Errorf("unexpected file event: %+v", payloads[1])
	}
}

func TestServer_CORSHeaders(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Handler()

	req := httptest.NewRequest("OPTIONS", "/files", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("expected CORS Allow-Origin header")
	}
}
