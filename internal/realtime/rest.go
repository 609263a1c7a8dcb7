package realtime

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"

	"proctor/internal/sandbox"
)

type unlockRequest struct {
	Key string `json:"key"`
}

type unlockResponse struct {
	Granted bool `json:"granted"`
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	files, err := s.files.List()
	if err != nil {
		http.Error(w, `{"error":"failed to list files"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(files)
}

func (s *Server) handleReadFile(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	content, err := s.files.Read(name)
	if err != nil {
		writeFileError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(content))
}

func (s *Server) handleWriteFile(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, `{"error":"failed to read request body"}`, http.StatusBadRequest)
		return
	}

	if err := s.files.Write(name, string(body)); err != nil {
		writeFileError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"written"}`))
}

func (s *Server) handleCreateFile(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	if err := s.files.Create(name); err != nil {
		writeFileError(w, err)
		return
	}

	w.WriteHeader(http.StatusCreated)
	w.Write([]byte(`{"status":"created"}`))
}

func (s *Server) handleSaveLog(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, `{"error":"failed to read request body"}`, http.StatusBadRequest)
		return
	}

	if err := s.files.SaveLog(string(body)); err != nil {
		http.Error(w, `{"error":"failed to save log"}`, http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"saved"}`))
}

func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	var req unlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}

	granted := s.registry.Unlock(req.Key)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(unlockResponse{Granted: granted})
}

// writeFileError maps workspace errors to HTTP status codes.
func writeFileError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, sandbox.ErrAccessDenied):
		http.Error(w, `{"error":"access denied"}`, http.StatusForbidden)
	case errors.Is(err, sandbox.ErrAlreadyExists):
		http.Error(w, `{"error":"file already exists"}`, http.StatusConflict)
	case errors.Is(err, os.ErrNotExist):
		http.Error(w, `{"error":"file not found"}`, http.StatusNotFound)
	default:
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
	}
}
