package server

import (
	"net/http"
	"time"
)

// Version is stamped by LDFLAGS in the binary build.
var Version = "dev"

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbStatus := "ok"
	var totalScans int
	if err := s.cfg.Pool.QueryRow(r.Context(), `SELECT COUNT(*) FROM scans`).Scan(&totalScans); err != nil {
		dbStatus = "error: " + err.Error()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"service":     "AutoVerif QC",
		"version":     Version,
		"database":    dbStatus,
		"total_scans": totalScans,
		"timestamp":   s.cfg.Clock.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleScanStats(w http.ResponseWriter, r *http.Request) {
	var total, unique int
	err := s.cfg.Pool.QueryRow(r.Context(),
		`SELECT COUNT(*), COUNT(DISTINCT vin) FROM scans`).Scan(&total, &unique)
	if err != nil {
		s.log.Warn("scan stats query failed", "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"total_scans": total,
		"unique_vins": unique,
	})
}

func (s *Server) handleCollecteStats(w http.ResponseWriter, r *http.Request) {
	var (
		totalSubmissions  int
		totalVehicles     int
		totalAccidents    int
		totalServices     int
		totalContributors int
	)
	err := s.cfg.Pool.QueryRow(r.Context(), `
		SELECT
			(SELECT COUNT(*) FROM submissions),
			(SELECT COUNT(DISTINCT vin) FROM submissions),
			(SELECT COUNT(*) FROM submissions WHERE report_type = 'accident'),
			(SELECT COUNT(*) FROM submissions WHERE report_type = 'service'),
			(SELECT COUNT(DISTINCT submitted_by_email) FROM submissions WHERE submitted_by_email <> '')
	`).Scan(&totalSubmissions, &totalVehicles, &totalAccidents, &totalServices, &totalContributors)
	if err != nil {
		s.log.Warn("collecte stats query failed", "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"total_submissions":  totalSubmissions,
		"total_vehicles":     totalVehicles,
		"total_accidents":    totalAccidents,
		"total_services":     totalServices,
		"total_contributors": totalContributors,
	})
}
