// Package registry maintains the canonical vehicle row per VIN.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Decoder resolves a VIN into its decoded attribute map. An empty map
// means the VIN cannot be decoded.
type Decoder interface {
	Decode(ctx context.Context, vin string) (map[string]string, error)
}

// Vehicle is the subset of the vehicle row callers need.
type Vehicle struct {
	ID    int     `json:"id"`
	Make  string  `json:"make"`
	Model string  `json:"model"`
	Year  *int    `json:"year"`
}

type Config struct {
	Logger  *slog.Logger
	Pool    *pgxpool.Pool
	Decoder Decoder
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Pool == nil {
		return errors.New("pool is required")
	}
	if c.Decoder == nil {
		return errors.New("decoder is required")
	}
	return nil
}

type Registry struct {
	log     *slog.Logger
	pool    *pgxpool.Pool
	decoder Decoder
}

func New(cfg *Config) (*Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	return &Registry{log: cfg.Logger, pool: cfg.Pool, decoder: cfg.Decoder}, nil
}

// GetOrCreate returns the vehicle row for vin, creating it from a decode
// on first sighting. Returns (nil, nil) when the decoder cannot resolve
// the VIN. Two concurrent first-sightings converge on a single row via
// the UNIQUE(vin) constraint.
func (r *Registry) GetOrCreate(ctx context.Context, vin string) (*Vehicle, error) {
	if v, err := r.get(ctx, vin); err != nil || v != nil {
		return v, err
	}

	decoded, err := r.decoder.Decode(ctx, vin)
	if err != nil {
		return nil, fmt.Errorf("decode vin: %w", err)
	}
	if len(decoded) == 0 {
		return nil, nil
	}

	makeName := decoded["Make"]
	model := decoded["Model"]
	var year *int
	if y, err := strconv.Atoi(decoded["Model Year"]); err == nil {
		year = &y
	}

	decodedJSON, err := json.Marshal(decoded)
	if err != nil {
		return nil, fmt.Errorf("marshal decoded attributes: %w", err)
	}

	var id int
	err = r.pool.QueryRow(ctx, `
		INSERT INTO vehicles (vin, make, model, year, body_class, engine, fuel_type,
			transmission, drive_type, plant_country, decoded_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (vin) DO NOTHING
		RETURNING id
	`,
		vin, makeName, model, year,
		decoded["Body Class"],
		decoded["Displacement (L)"],
		decoded["Fuel Type - Primary"],
		decoded["Transmission Style"],
		decoded["Drive Type"],
		decoded["Plant Country"],
		decodedJSON,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		// Lost the race to a concurrent first-sighting; the winner's row
		// is authoritative.
		return r.get(ctx, vin)
	}
	if err != nil {
		return nil, fmt.Errorf("insert vehicle: %w", err)
	}

	r.log.Info("vehicle registered", "vin", vin, "make", makeName, "model", model)
	return &Vehicle{ID: id, Make: makeName, Model: model, Year: year}, nil
}

func (r *Registry) get(ctx context.Context, vin string) (*Vehicle, error) {
	var v Vehicle
	err := r.pool.QueryRow(ctx,
		`SELECT id, COALESCE(make, ''), COALESCE(model, ''), year FROM vehicles WHERE vin = $1`, vin,
	).Scan(&v.ID, &v.Make, &v.Model, &v.Year)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select vehicle: %w", err)
	}
	return &v, nil
}
