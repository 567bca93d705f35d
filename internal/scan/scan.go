// Package scan aggregates the external vehicle-data sources into one
// report. Upstream failures produce empty subsections, never errors.
package scan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
)

var ErrCannotDecode = errors.New("vin cannot be decoded")

// Sources is the full external-data surface the scan consumes.
type Sources interface {
	Decode(ctx context.Context, vin string) (map[string]string, error)
	Recalls(ctx context.Context, makeName, model, year string) []map[string]any
	Complaints(ctx context.Context, makeName, model, year string) []map[string]any
	SafetyRatings(ctx context.Context, makeName, model, year string) map[string]any
	TCRecalls(ctx context.Context, makeName, model, year string) []map[string]any
	EPA(ctx context.Context, makeName, model, year string) map[string]any
	Investigations(ctx context.Context, makeName, model, year string) []map[string]any
}

type Config struct {
	Logger  *slog.Logger
	Pool    *pgxpool.Pool
	Sources Sources
	Clock   clockwork.Clock
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Pool == nil {
		return errors.New("pool is required")
	}
	if c.Sources == nil {
		return errors.New("sources are required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

type Service struct {
	log     *slog.Logger
	pool    *pgxpool.Pool
	sources Sources
	clock   clockwork.Clock
	workers pond.Pool
}

func New(cfg *Config) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	return &Service{
		log:     cfg.Logger,
		pool:    cfg.Pool,
		sources: cfg.Sources,
		clock:   cfg.Clock,
		workers: pond.NewPool(6),
	}, nil
}

// Scan decodes a VIN and fans out to all sources concurrently.
func (s *Service) Scan(ctx context.Context, vin, ip string) (map[string]any, error) {
	start := s.clock.Now()

	decoded, err := s.sources.Decode(ctx, vin)
	if err != nil {
		return nil, err
	}
	if len(decoded) == 0 {
		return nil, ErrCannotDecode
	}

	makeName := decoded["Make"]
	model := decoded["Model"]
	year := decoded["Model Year"]

	var (
		recalls, complaints, tcRecalls, investigations []map[string]any
		safety, epa                                    map[string]any
	)
	group := s.workers.NewGroup()
	group.Submit(func() { recalls = s.sources.Recalls(ctx, makeName, model, year) })
	group.Submit(func() { complaints = s.sources.Complaints(ctx, makeName, model, year) })
	group.Submit(func() { safety = s.sources.SafetyRatings(ctx, makeName, model, year) })
	group.Submit(func() { tcRecalls = s.sources.TCRecalls(ctx, makeName, model, year) })
	group.Submit(func() { epa = s.sources.EPA(ctx, makeName, model, year) })
	group.Submit(func() { investigations = s.sources.Investigations(ctx, makeName, model, year) })
	_ = group.Wait()

	result := map[string]any{
		"vin":     vin,
		"decoded": decoded,
		"vehicle": map[string]any{
			"make":          makeName,
			"model":         model,
			"year":          year,
			"type":          decoded["Vehicle Type"],
			"body":          decoded["Body Class"],
			"drive":         decoded["Drive Type"],
			"engine":        decoded["Displacement (L)"],
			"cylinders":     decoded["Engine Number of Cylinders"],
			"fuel":          decoded["Fuel Type - Primary"],
			"transmission":  decoded["Transmission Style"],
			"plant_country": decoded["Plant Country"],
			"plant_city":    decoded["Plant City"],
		},
		"recalls": map[string]any{
			"count": len(recalls),
			"items": truncate(recalls, 50),
		},
		"complaints": map[string]any{
			"count": len(complaints),
			"items": truncate(complaints, 50),
		},
		"safety_ratings": safety,
		"tc_recalls": map[string]any{
			"count": len(tcRecalls),
			"items": truncate(tcRecalls, 50),
		},
		"epa": epa,
		"investigations": map[string]any{
			"count": len(investigations),
			"items": truncate(investigations, 20),
		},
		"image_url":  ImageURL(makeName, model, year),
		"scan_time":  s.clock.Since(start).Round(10 * time.Millisecond).Seconds(),
		"scanned_at": s.clock.Now().UTC().Format(time.RFC3339),
		"sources": []string{
			"NHTSA vPIC (VIN Decode)",
			"NHTSA Recalls",
			"NHTSA Complaints",
			"NHTSA Safety Ratings",
			"NHTSA Investigations",
			"Transport Canada Recalls",
			"EPA Fuel Economy",
			"imagin.studio (Vehicle Image)",
		},
	}

	s.save(ctx, vin, makeName, model, year, result, ip)
	return result, nil
}

// VinCheck decodes a VIN for the contribution form and reports whether
// it is already tracked.
func (s *Service) VinCheck(ctx context.Context, vin string) (map[string]any, error) {
	var (
		found         bool
		existingCount int
	)
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM vehicles WHERE vin = $1)`, vin).Scan(&found)
	if err != nil {
		s.log.Warn("vehicle existence probe failed", "vin", vin, "error", err)
	}
	if found {
		if err := s.pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM submissions WHERE vin = $1`, vin).Scan(&existingCount); err != nil {
			s.log.Warn("submission count probe failed", "vin", vin, "error", err)
		}
	}

	decoded, err := s.sources.Decode(ctx, vin)
	if err != nil {
		return nil, err
	}
	if len(decoded) == 0 {
		return nil, ErrCannotDecode
	}

	makeName := decoded["Make"]
	model := decoded["Model"]
	year := decoded["Model Year"]

	return map[string]any{
		"found": found,
		"vehicle": map[string]any{
			"make":          makeName,
			"model":         model,
			"year":          year,
			"body":          decoded["Body Class"],
			"engine":        decoded["Displacement (L)"],
			"fuel":          decoded["Fuel Type - Primary"],
			"drive":         decoded["Drive Type"],
			"transmission":  decoded["Transmission Style"],
			"plant_country": decoded["Plant Country"],
		},
		"image_url":        ImageURL(makeName, model, year),
		"existing_records": existingCount,
	}, nil
}

// ImageURL builds the CDN URL for a vehicle rendering.
func ImageURL(makeName, model, year string) string {
	return fmt.Sprintf(
		"https://cdn.imagin.studio/getimage?customer=img&make=%s&modelFamily=%s&modelYear=%s&angle=01&width=800",
		makeName, model, year,
	)
}

// save records the scan best-effort; a storage failure must not fail the
// scan response.
func (s *Service) save(ctx context.Context, vin, makeName, model, year string, result map[string]any, ip string) {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		s.log.Error("failed to marshal scan result", "error", err)
		return
	}
	var yearInt *int
	if y, err := strconv.Atoi(year); err == nil {
		yearInt = &y
	}
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO scans (vin, make, model, year, result, ip_address)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, vin, makeName, model, yearInt, resultJSON, ip); err != nil {
		s.log.Error("failed to save scan", "vin", vin, "error", err)
	}
}

func truncate(items []map[string]any, n int) []map[string]any {
	if items == nil {
		return []map[string]any{}
	}
	if len(items) > n {
		return items[:n]
	}
	return items
}
