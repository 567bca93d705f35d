package server

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const (
	maxUploadFiles    = 5
	maxUploadFileSize = 5 << 20
)

var allowedExtensions = map[string]bool{
	"png": true, "jpg": true, "jpeg": true, "webp": true,
}

// handleUpload stores up to five photos for a submission. Files keep a
// random hex name on disk; the original name survives only in metadata.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, (maxUploadFiles+1)*maxUploadFileSize)
	if err := r.ParseMultipartForm(maxUploadFileSize); err != nil {
		writeError(w, http.StatusBadRequest, "Fichier trop volumineux (max 5 Mo par photo).")
		return
	}

	files := r.MultipartForm.File["photos"]
	if len(files) == 0 {
		files = r.MultipartForm.File["files"]
	}
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, "Aucun fichier envoyé.")
		return
	}
	if len(files) > maxUploadFiles {
		writeError(w, http.StatusBadRequest, "Maximum 5 fichiers par soumission.")
		return
	}

	if err := os.MkdirAll(s.cfg.UploadDir, 0o755); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	submissionID, _ := strconv.Atoi(r.FormValue("submission_id"))

	uploaded := []map[string]any{}
	for _, header := range files {
		entry, err := s.saveUpload(r, header, submissionID)
		if err != nil {
			s.log.Warn("upload rejected", "filename", header.Filename, "error", err)
			continue
		}
		uploaded = append(uploaded, entry)
	}

	writeJSON(w, http.StatusOK, map[string]any{"files": uploaded})
}

func (s *Server) saveUpload(r *http.Request, header *multipart.FileHeader, submissionID int) (map[string]any, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(header.Filename), "."))
	if !allowedExtensions[ext] {
		return nil, fmt.Errorf("extension %q not allowed", ext)
	}
	if header.Size > maxUploadFileSize {
		return nil, fmt.Errorf("file exceeds %d bytes", maxUploadFileSize)
	}

	src, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()

	u := uuid.New()
	filename := fmt.Sprintf("%x.%s", u[:], ext)
	dst, err := os.Create(filepath.Join(s.cfg.UploadDir, filename))
	if err != nil {
		return nil, err
	}
	defer dst.Close()

	size, err := io.Copy(dst, src)
	if err != nil {
		return nil, err
	}

	if submissionID > 0 {
		if _, err := s.cfg.Pool.Exec(r.Context(), `
			INSERT INTO submission_photos (submission_id, filename, original_name, mime_type, file_size)
			VALUES ($1, $2, $3, $4, $5)
		`, submissionID, filename, header.Filename,
			header.Header.Get("Content-Type"), size); err != nil {
			s.log.Warn("failed to record photo metadata", "filename", filename, "error", err)
		}
	}

	return map[string]any{
		"filename": filename,
		"original": header.Filename,
		"size":     size,
	}, nil
}
