package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/michaelperron12-maker/AutoVerif-QC/internal/batch"
	"github.com/michaelperron12-maker/AutoVerif-QC/internal/chain"
	"github.com/michaelperron12-maker/AutoVerif-QC/internal/lookup"
	"github.com/michaelperron12-maker/AutoVerif-QC/internal/scan"
	"github.com/michaelperron12-maker/AutoVerif-QC/internal/submission"
	"github.com/michaelperron12-maker/AutoVerif-QC/internal/vin"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeServiceError maps service errors onto the response taxonomy.
// User-caused failures carry their message; anything else is a generic
// 500 with the detail kept in the logs.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, submission.ErrInvalidVIN):
		writeError(w, http.StatusBadRequest, "VIN invalide (17 caractères alphanumériques).")
	case errors.Is(err, submission.ErrInvalidType):
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("Type invalide. Valides: %s", strings.Join(submission.ReportTypes, ", ")))
	case errors.Is(err, submission.ErrMissingField):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, submission.ErrCannotDecode), errors.Is(err, scan.ErrCannotDecode):
		writeError(w, http.StatusNotFound, "Impossible de décoder ce VIN.")
	case errors.Is(err, lookup.ErrNotFound):
		writeError(w, http.StatusNotFound, "Véhicule introuvable.")
	case errors.Is(err, chain.ErrNotFound):
		writeError(w, http.StatusNotFound, "Soumission introuvable.")
	case errors.Is(err, batch.ErrCSVTooLarge):
		writeError(w, http.StatusBadRequest, "Fichier CSV trop volumineux (max 2 Mo).")
	case errors.Is(err, batch.ErrCSVTooManyRows):
		writeError(w, http.StatusBadRequest, "Maximum 500 lignes par fichier.")
	case errors.Is(err, batch.ErrCSVMissingVIN):
		writeError(w, http.StatusBadRequest, "Colonne vin requise.")
	case errors.Is(err, batch.ErrCSVEmpty):
		writeError(w, http.StatusBadRequest, "Fichier CSV vide.")
	case errors.Is(err, batch.ErrTooManyRecords):
		writeError(w, http.StatusBadRequest, "Maximum 100 enregistrements par lot.")
	default:
		s.log.Error("request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "Erreur serveur.")
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var rawVIN string
	if r.Method == http.MethodPost {
		var body struct {
			VIN string `json:"vin"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		rawVIN = body.VIN
	} else {
		rawVIN = r.URL.Query().Get("vin")
	}

	v := vin.Normalize(rawVIN)
	if len(v) != 17 {
		writeError(w, http.StatusBadRequest, "VIN invalide. Doit contenir 17 caractères.")
		return
	}

	result, err := s.cfg.Scan.Scan(r.Context(), v, clientIP(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleVinCheck(w http.ResponseWriter, r *http.Request) {
	v := vin.Normalize(chi.URLParam(r, "vin"))
	if !vin.Valid(v) {
		writeError(w, http.StatusBadRequest, "VIN invalide (17 caractères alphanumériques).")
		return
	}

	result, err := s.cfg.Scan.VinCheck(r.Context(), v)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type submitBody struct {
	VIN        string               `json:"vin"`
	ReportType string               `json:"report_type"`
	Submitter  submission.Submitter `json:"submitter"`
	Data       map[string]any       `json:"data"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var body submitBody
	// UseNumber keeps numeric literals intact so the hashed snapshot
	// reproduces the client's bytes.
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Corps JSON requis.")
		return
	}

	result, err := s.cfg.Submissions.Submit(r.Context(), &submission.Request{
		VIN:        body.VIN,
		ReportType: body.ReportType,
		Submitter:  body.Submitter,
		Data:       body.Data,
		IP:         clientIP(r),
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"submission_id":  result.SubmissionID,
		"integrity_hash": result.IntegrityHash,
		"message":        "Contribution enregistrée avec succès.",
	})
}

type batchBody struct {
	Submitter submission.Submitter `json:"submitter"`
	Records   []batch.Record       `json:"records"`
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var body batchBody
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Corps JSON requis.")
		return
	}

	result, err := s.cfg.Ingest.IngestJSON(r.Context(), body.Records, body.Submitter, clientIP(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleImportCSV(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, batch.MaxCSVBytes+64*1024)
	if err := r.ParseMultipartForm(batch.MaxCSVBytes); err != nil {
		writeError(w, http.StatusBadRequest, "Fichier CSV trop volumineux (max 2 Mo).")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Aucun fichier envoyé.")
		return
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	submitter := submission.Submitter{
		Name:    r.FormValue("name"),
		Email:   r.FormValue("email"),
		Type:    r.FormValue("type"),
		Company: r.FormValue("company"),
	}

	result, err := s.cfg.Ingest.IngestCSV(r.Context(), raw, header.Filename, submitter, clientIP(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleVerifyAll(w http.ResponseWriter, r *http.Request) {
	result, err := s.cfg.Chain.VerifyAll(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleVerifyOne(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Identifiant invalide.")
		return
	}

	result, err := s.cfg.Chain.VerifyOne(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	v := vin.Normalize(chi.URLParam(r, "vin"))
	if !vin.Valid(v) {
		writeError(w, http.StatusBadRequest, "VIN invalide (17 caractères alphanumériques).")
		return
	}

	result, err := s.cfg.Lookup.Lookup(r.Context(), v)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleTemplateList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"templates": batch.TemplateNames()})
}

func (s *Server) handleTemplateDownload(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	content, ok := batch.Template(name)
	if !ok {
		writeError(w, http.StatusNotFound, "Modèle introuvable.")
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=modele_%s.csv", name))
	_, _ = w.Write([]byte(content))
}
