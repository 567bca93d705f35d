// Package odometer records per-VIN odometer readings and flags rollback
// and ECU-mismatch anomalies.
package odometer

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
	"github.com/michaelperron12-maker/AutoVerif-QC/internal/metrics"
)

// ecuToleranceKM is how far the ECU-reported value may drift from the
// declared reading before the pair is flagged.
const ecuToleranceKM = 5000

type Config struct {
	Logger *slog.Logger
	Pool   *pgxpool.Pool
	Audit  *audit.Log
	Clock  clockwork.Clock
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Pool == nil {
		return errors.New("pool is required")
	}
	if c.Audit == nil {
		return errors.New("audit log is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

type Tracker struct {
	log   *slog.Logger
	pool  *pgxpool.Pool
	audit *audit.Log
	clock clockwork.Clock
}

func New(cfg *Config) (*Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	return &Tracker{log: cfg.Logger, pool: cfg.Pool, audit: cfg.Audit, clock: cfg.Clock}, nil
}

// Reading is one persisted odometer observation.
type Reading struct {
	ID           int        `json:"id"`
	VIN          string     `json:"vin"`
	SubmissionID int        `json:"submission_id"`
	ReadingDate  time.Time  `json:"reading_date"`
	KM           int        `json:"odometer_km"`
	Unit         string     `json:"unit"`
	Source       string     `json:"source"`
	ECUKM        *int       `json:"ecu_odometer_km,omitempty"`
	FraudFlag    bool       `json:"fraud_flag"`
	FraudReason  string     `json:"fraud_reason,omitempty"`
}

// Evaluate applies the rollback and ECU-mismatch rules. priorKM is nil
// when the VIN has no earlier reading. Both rules may fire; their
// reasons concatenate in order.
func Evaluate(priorKM *int, km int, ecuKM *int) (bool, string) {
	flag := false
	reason := ""

	if priorKM != nil && km < *priorKM {
		flag = true
		reason = fmt.Sprintf("Rollback suspect: %d km < precedent %d km", km, *priorKM)
	}

	if ecuKM != nil {
		diff := *ecuKM - km
		if diff < 0 {
			diff = -diff
		}
		if diff > ecuToleranceKM {
			flag = true
			reason += fmt.Sprintf(" ECU mismatch: ECU=%d vs declared=%d", *ecuKM, km)
		}
	}

	return flag, reason
}

// MaybeRecordTx inserts a reading for a submission inside the caller's
// transaction. A missing or non-positive km is a no-op. The reading is
// persisted even when flagged; detection is advisory and never rejects
// the parent submission.
func (t *Tracker) MaybeRecordTx(ctx context.Context, tx pgx.Tx, vin string, km int, source string, submissionID int, readingDate *time.Time, ecuKM *int, ip string) error {
	if km <= 0 {
		return nil
	}

	date := t.clock.Now().UTC().Truncate(24 * time.Hour)
	if readingDate != nil {
		date = *readingDate
	}

	priorKM, err := t.latestPriorKM(ctx, tx, vin)
	if err != nil {
		return err
	}

	flag, reason := Evaluate(priorKM, km, ecuKM)

	if _, err := tx.Exec(ctx, `
		INSERT INTO odometer_readings (vin, submission_id, reading_date, odometer_km,
			unit, source, ecu_odometer_km, fraud_flag, fraud_reason)
		VALUES ($1, $2, $3, $4, 'km', $5, $6, $7, $8)
	`, vin, submissionID, date, km, source, ecuKM, flag, nullIfEmpty(reason)); err != nil {
		return fmt.Errorf("insert odometer reading: %w", err)
	}

	if flag {
		metrics.OdometerFraudAlertsTotal.Inc()
		t.log.Warn("odometer fraud suspected", "vin", vin, "km", km, "reason", reason)
		if err := t.audit.AppendTx(ctx, tx, &audit.Entry{
			Action:      audit.ActionOdometerFraudAlert,
			TargetTable: "odometer_readings",
			TargetID:    submissionID,
			Details: map[string]any{
				"vin":    vin,
				"km":     km,
				"reason": reason,
			},
			IP: ip,
		}); err != nil {
			return err
		}
	}

	return nil
}

// latestPriorKM returns the km of the most recent reading for vin.
// Readings sharing a date are ordered by insertion id; within a day the
// reading inserted last is the precedent.
func (t *Tracker) latestPriorKM(ctx context.Context, tx pgx.Tx, vin string) (*int, error) {
	var km int
	err := tx.QueryRow(ctx, `
		SELECT odometer_km FROM odometer_readings
		WHERE vin = $1
		ORDER BY reading_date DESC, id DESC
		LIMIT 1
	`, vin).Scan(&km)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select prior reading: %w", err)
	}
	return &km, nil
}

// History returns all readings for a VIN in chronological order.
func (t *Tracker) History(ctx context.Context, vin string) ([]Reading, error) {
	rows, err := t.pool.Query(ctx, `
		SELECT id, vin, COALESCE(submission_id, 0), reading_date, odometer_km,
			unit, COALESCE(source, ''), ecu_odometer_km, fraud_flag, COALESCE(fraud_reason, '')
		FROM odometer_readings
		WHERE vin = $1
		ORDER BY reading_date ASC, id ASC
	`, vin)
	if err != nil {
		return nil, fmt.Errorf("select odometer history: %w", err)
	}
	defer rows.Close()

	readings := []Reading{}
	for rows.Next() {
		var r Reading
		if err := rows.Scan(&r.ID, &r.VIN, &r.SubmissionID, &r.ReadingDate, &r.KM,
			&r.Unit, &r.Source, &r.ECUKM, &r.FraudFlag, &r.FraudReason); err != nil {
			return nil, fmt.Errorf("scan odometer reading: %w", err)
		}
		readings = append(readings, r)
	}
	return readings, rows.Err()
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
