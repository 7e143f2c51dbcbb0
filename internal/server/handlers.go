package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/hlog"

	"docchat/internal/helper"
	"docchat/internal/models"
)

type chatRequest struct {
	Query     string `json:"query"`
	SessionID string `json:"session_id"`
}

type uploadResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"session_id"`
	Filename  string `json:"filename"`
	Chunks    int    `json:"chunks"`
}

type sessionResponse struct {
	SessionID string `json:"session_id"`
	Records   int    `json:"records"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// POST /api/upload  multipart: file, optional session_id
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > s.maxUpload {
		writeDetail(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("file exceeds %d MB", s.maxUpload>>20))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeDetail(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("file exceeds %d MB", s.maxUpload>>20))
			return
		}
		writeDetail(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	filename := filepath.Base(header.Filename)
	if filename == "." || filename == string(filepath.Separator) {
		filename = models.DefaultFilename
	}
	if !s.extractor.Supports(filename) {
		writeDetail(w, http.StatusBadRequest, fmt.Sprintf("unsupported file format, allowed: %s", strings.Join(s.extractor.Extensions(), " ")))
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		sessionID = r.FormValue("session_id")
	}
	if sessionID == "" {
		if sessionID, err = helper.GenerateUUID(); err != nil {
			writeError(w, r, err)
			return
		}
	}

	// extractors work with file paths
	tmp, err := os.CreateTemp("", "upload-*"+strings.ToLower(filepath.Ext(filename)))
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, "failed to create temp file")
		return
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if _, err := io.Copy(tmp, file); err != nil {
		writeDetail(w, http.StatusInternalServerError, "failed to save upload")
		return
	}
	if err := tmp.Close(); err != nil {
		writeDetail(w, http.StatusInternalServerError, "failed to save upload")
		return
	}

	text, err := s.extractor.Extract(r.Context(), tmp.Name())
	if err != nil {
		writeError(w, r, err)
		return
	}

	chunks, err := s.pipeline.Ingest(r.Context(), sessionID, text, filename)
	if err != nil {
		writeError(w, r, err)
		return
	}

	hlog.FromRequest(r).Info().Str("session_id", sessionID).Str("filename", filename).Int("chunks", chunks).Msg("Upload ingested")
	writeJSON(w, http.StatusOK, uploadResponse{
		Success:   true,
		SessionID: sessionID,
		Filename:  filename,
		Chunks:    chunks,
	})
}

// POST /api/chat  { "query": "...", "session_id": "..." }
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxChatBodySize)

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.SessionID == "" {
		writeDetail(w, http.StatusBadRequest, "session_id required")
		return
	}

	answer, err := s.pipeline.Answer(r.Context(), req.SessionID, req.Query)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, answer)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	n, err := s.pipeline.Records(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{SessionID: id, Records: n})
}
