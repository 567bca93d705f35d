// Package submission orchestrates one contribution end-to-end: validate,
// vehicle upsert, chain append, typed detail, odometer side-effect, audit.
package submission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"

	"github.com/michaelperron12-maker/AutoVerif-QC/internal/audit"
	"github.com/michaelperron12-maker/AutoVerif-QC/internal/chain"
	"github.com/michaelperron12-maker/AutoVerif-QC/internal/metrics"
	"github.com/michaelperron12-maker/AutoVerif-QC/internal/odometer"
	"github.com/michaelperron12-maker/AutoVerif-QC/internal/registry"
	"github.com/michaelperron12-maker/AutoVerif-QC/internal/vin"
)

var (
	ErrInvalidVIN   = errors.New("invalid vin")
	ErrInvalidType  = errors.New("invalid report type")
	ErrCannotDecode = errors.New("vin cannot be decoded")
)

// ReportTypes is the closed set of accepted contribution types.
var ReportTypes = []string{
	"accident", "service", "ownership", "inspection", "recall_completion",
	"title_brand", "lien", "theft", "obd_diagnostic", "auction",
	"fleet_history", "import_export", "emissions", "modification",
}

// ValidType reports whether t is an accepted report type.
func ValidType(t string) bool {
	for _, rt := range ReportTypes {
		if rt == t {
			return true
		}
	}
	return false
}

// Submitter identifies who contributed a record.
type Submitter struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Type    string `json:"type"`
	Company string `json:"company"`
}

// Request is one contribution.
type Request struct {
	VIN        string
	ReportType string
	Submitter  Submitter
	Data       map[string]any
	IP         string
}

// Result is returned on success.
type Result struct {
	SubmissionID  int    `json:"submission_id"`
	IntegrityHash string `json:"integrity_hash"`
}

type Config struct {
	Logger   *slog.Logger
	Pool     *pgxpool.Pool
	Registry *registry.Registry
	Chain    *chain.Chain
	Odometer *odometer.Tracker
	Audit    *audit.Log
	Clock    clockwork.Clock
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Pool == nil {
		return errors.New("pool is required")
	}
	if c.Registry == nil {
		return errors.New("registry is required")
	}
	if c.Chain == nil {
		return errors.New("chain is required")
	}
	if c.Odometer == nil {
		return errors.New("odometer tracker is required")
	}
	if c.Audit == nil {
		return errors.New("audit log is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

type Service struct {
	log      *slog.Logger
	pool     *pgxpool.Pool
	registry *registry.Registry
	chain    *chain.Chain
	odometer *odometer.Tracker
	audit    *audit.Log
	clock    clockwork.Clock
}

func New(cfg *Config) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	return &Service{
		log:      cfg.Logger,
		pool:     cfg.Pool,
		registry: cfg.Registry,
		chain:    cfg.Chain,
		odometer: cfg.Odometer,
		audit:    cfg.Audit,
		clock:    cfg.Clock,
	}, nil
}

// Submit records one contribution. The vehicle upsert commits on its own;
// everything from the chain append on runs in a single transaction, so on
// any failure there no submission, detail, reading or audit row remains.
func (s *Service) Submit(ctx context.Context, req *Request) (*Result, error) {
	v := vin.Normalize(req.VIN)
	if !vin.Valid(v) {
		return nil, ErrInvalidVIN
	}
	if !ValidType(req.ReportType) {
		return nil, ErrInvalidType
	}
	if req.Data == nil {
		req.Data = map[string]any{}
	}

	vehicle, err := s.registry.GetOrCreate(ctx, v)
	if err != nil {
		return nil, err
	}
	if vehicle == nil {
		return nil, ErrCannotDecode
	}

	// Captured once; used for the row, the snapshot and the hash.
	submittedAt := s.clock.Now().UTC()
	ts := submittedAt.Format(time.RFC3339Nano)

	snapshot := map[string]any{
		"vin":         v,
		"report_type": req.ReportType,
		"submitter": map[string]any{
			"name":    req.Submitter.Name,
			"email":   req.Submitter.Email,
			"type":    req.Submitter.Type,
			"company": req.Submitter.Company,
		},
		"data":         req.Data,
		"submitted_at": ts,
		"ip":           req.IP,
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	id, hash, err := s.chain.AppendTx(ctx, tx, &chain.AppendRequest{
		VehicleID:          vehicle.ID,
		VIN:                v,
		ReportType:         req.ReportType,
		SubmittedByName:    req.Submitter.Name,
		SubmittedByEmail:   req.Submitter.Email,
		SubmittedByType:    req.Submitter.Type,
		SubmittedByCompany: req.Submitter.Company,
		IP:                 req.IP,
		SubmittedAt:        submittedAt,
		Timestamp:          ts,
		Snapshot:           snapshot,
	})
	if err != nil {
		return nil, err
	}

	if err := insertDetail(ctx, tx, id, req.ReportType, req.Data); err != nil {
		return nil, err
	}

	d := fields(req.Data)
	km := d.intValue("odometer_km")
	if km == nil {
		km = d.intValue("odometer_at_import")
	}
	if km != nil {
		var readingDate *time.Time
		if date := d.dateValue("date"); date != nil {
			readingDate = date
		}
		if err := s.odometer.MaybeRecordTx(ctx, tx, v, *km, req.ReportType, id,
			readingDate, d.intValue("ecu_odometer_km"), req.IP); err != nil {
			return nil, err
		}
	}

	if err := s.audit.AppendTx(ctx, tx, &audit.Entry{
		Action:      audit.ActionSubmissionCreated,
		TargetTable: "submissions",
		TargetID:    id,
		Details: map[string]any{
			"vin":         v,
			"report_type": req.ReportType,
		},
		IP: req.IP,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit submission: %w", err)
	}

	metrics.SubmissionsTotal.WithLabelValues(req.ReportType, "success").Inc()
	s.log.Info("submission recorded", "id", id, "vin", v, "type", req.ReportType)
	return &Result{SubmissionID: id, IntegrityHash: hash}, nil
}
