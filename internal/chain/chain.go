// Package chain maintains the append-only hash-chained submission log.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// chainLockKey serialises concurrent appenders. Taking the advisory xact
// lock before reading the tip is what makes successful appends totally
// ordered; the lock is released at commit/rollback.
const chainLockKey = 0x41565143 // "AVQC"

var ErrNotFound = errors.New("submission not found")

type Config struct {
	Logger *slog.Logger
	Pool   *pgxpool.Pool
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Pool == nil {
		return errors.New("pool is required")
	}
	return nil
}

type Chain struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func New(cfg *Config) (*Chain, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	return &Chain{log: cfg.Logger, pool: cfg.Pool}, nil
}

// AppendRequest carries everything needed to write one link.
type AppendRequest struct {
	VehicleID  int
	VIN        string
	ReportType string

	SubmittedByName    string
	SubmittedByEmail   string
	SubmittedByType    string
	SubmittedByCompany string

	IP          string
	SubmittedAt time.Time
	Timestamp   string // canonical ts; also embedded in Snapshot
	Snapshot    map[string]any
}

// AppendTx writes one link inside the caller's transaction: lock, read
// tip, insert with previous_hash=tip, compute the hash over the reserved
// id, write integrity_hash back to the same row. If the enclosing
// transaction rolls back, no trace of the link remains.
func (c *Chain) AppendTx(ctx context.Context, tx pgx.Tx, req *AppendRequest) (int, string, error) {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, chainLockKey); err != nil {
		return 0, "", fmt.Errorf("acquire chain lock: %w", err)
	}

	tip, err := tipQuery(ctx, tx)
	if err != nil {
		return 0, "", err
	}

	snapshotJSON, err := CanonicalJSON(req.Snapshot)
	if err != nil {
		return 0, "", fmt.Errorf("marshal snapshot: %w", err)
	}

	var id int
	err = tx.QueryRow(ctx, `
		INSERT INTO submissions (vehicle_id, vin, report_type,
			submitted_by_name, submitted_by_email, submitted_by_type, submitted_by_company,
			ip_address, submitted_at, previous_hash, data_snapshot)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`,
		req.VehicleID, req.VIN, req.ReportType,
		req.SubmittedByName, req.SubmittedByEmail, req.SubmittedByType, req.SubmittedByCompany,
		req.IP, req.SubmittedAt, tip, snapshotJSON,
	).Scan(&id)
	if err != nil {
		return 0, "", fmt.Errorf("insert submission: %w", err)
	}

	hash, err := ComputeHash(id, req.VIN, req.ReportType, req.Snapshot, tip, req.Timestamp)
	if err != nil {
		return 0, "", err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE submissions SET integrity_hash = $1 WHERE id = $2`, hash, id,
	); err != nil {
		return 0, "", fmt.Errorf("set integrity hash: %w", err)
	}

	return id, hash, nil
}

// Tip returns the integrity_hash of the latest link, or nil for an empty
// chain.
func (c *Chain) Tip(ctx context.Context) (*string, error) {
	return tipQuery(ctx, c.pool)
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func tipQuery(ctx context.Context, q querier) (*string, error) {
	var tip string
	err := q.QueryRow(ctx, `
		SELECT integrity_hash FROM submissions
		WHERE integrity_hash IS NOT NULL
		ORDER BY id DESC LIMIT 1
	`).Scan(&tip)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read chain tip: %w", err)
	}
	return &tip, nil
}

// BrokenLink describes one verification failure.
type BrokenLink struct {
	SubmissionID int    `json:"submission_id"`
	Error        string `json:"error"` // chain_break | hash_mismatch | unreadable
	Detail       string `json:"detail,omitempty"`
}

// VerifyResult is the outcome of a chain scan.
type VerifyResult struct {
	Valid       bool         `json:"valid"`
	ChainLength int          `json:"chain_length"`
	LastHash    *string      `json:"last_hash"`
	BrokenLinks []BrokenLink `json:"broken_links"`
}

type linkRow struct {
	id           int
	vin          string
	reportType   string
	previousHash *string
	storedHash   string
	snapshotRaw  []byte
}

// VerifyAll rescans every hashed link in id order, checking both the
// prev-hash linkage against the running chain and each stored hash
// against a recompute. Rows predating the chain columns (null
// integrity_hash) are outside the chain and skipped.
func (c *Chain) VerifyAll(ctx context.Context) (*VerifyResult, error) {
	rows, err := c.pool.Query(ctx, `
		SELECT id, vin, report_type, previous_hash, integrity_hash, data_snapshot
		FROM submissions
		WHERE integrity_hash IS NOT NULL
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("scan chain: %w", err)
	}
	defer rows.Close()

	result := &VerifyResult{Valid: true, BrokenLinks: []BrokenLink{}}
	var expectedPrev *string
	first := true

	for rows.Next() {
		var link linkRow
		if err := rows.Scan(&link.id, &link.vin, &link.reportType,
			&link.previousHash, &link.storedHash, &link.snapshotRaw); err != nil {
			return nil, fmt.Errorf("scan chain row: %w", err)
		}
		result.ChainLength++

		if first {
			// The very first link may carry a null prev without breaking
			// the chain.
			first = false
		} else if !hashPtrEqual(link.previousHash, expectedPrev) {
			result.BrokenLinks = append(result.BrokenLinks, BrokenLink{
				SubmissionID: link.id,
				Error:        "chain_break",
				Detail:       fmt.Sprintf("previous_hash does not match hash of submission preceding id %d", link.id),
			})
		}

		recomputed, broken := verifyLink(&link)
		if broken != nil {
			result.BrokenLinks = append(result.BrokenLinks, *broken)
		}

		// Chain forward from the recomputed hash: a tampered link must
		// break the link that follows it, even though the follower
		// stored the pre-tamper hash.
		if recomputed != "" {
			expectedPrev = &recomputed
		} else {
			stored := link.storedHash
			expectedPrev = &stored
		}
		stored := link.storedHash
		result.LastHash = &stored
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chain: %w", err)
	}

	result.Valid = len(result.BrokenLinks) == 0
	return result, nil
}

// VerifyOne recomputes and compares the hash of a single link.
func (c *Chain) VerifyOne(ctx context.Context, id int) (*VerifyResult, error) {
	var link linkRow
	err := c.pool.QueryRow(ctx, `
		SELECT id, vin, report_type, previous_hash, integrity_hash, data_snapshot
		FROM submissions
		WHERE id = $1 AND integrity_hash IS NOT NULL
	`, id).Scan(&link.id, &link.vin, &link.reportType,
		&link.previousHash, &link.storedHash, &link.snapshotRaw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select submission: %w", err)
	}

	result := &VerifyResult{Valid: true, ChainLength: 1, LastHash: &link.storedHash, BrokenLinks: []BrokenLink{}}
	if _, broken := verifyLink(&link); broken != nil {
		result.Valid = false
		result.BrokenLinks = append(result.BrokenLinks, *broken)
	}
	return result, nil
}

// verifyLink recomputes one link's hash from its stored fields. The
// recomputed hash is returned even on mismatch so the caller can chain
// forward from it; it is empty only when the row is unreadable.
func verifyLink(link *linkRow) (string, *BrokenLink) {
	snapshot, err := DecodeSnapshot(link.snapshotRaw)
	if err != nil {
		return "", &BrokenLink{SubmissionID: link.id, Error: "unreadable", Detail: err.Error()}
	}
	ts, _ := snapshot["submitted_at"].(string)
	recomputed, err := ComputeHash(link.id, link.vin, link.reportType, snapshot, link.previousHash, ts)
	if err != nil {
		return "", &BrokenLink{SubmissionID: link.id, Error: "unreadable", Detail: err.Error()}
	}
	if recomputed != link.storedHash {
		return recomputed, &BrokenLink{
			SubmissionID: link.id,
			Error:        "hash_mismatch",
			Detail:       fmt.Sprintf("stored %s, recomputed %s", link.storedHash, recomputed),
		}
	}
	return recomputed, nil
}

func hashPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// Anchor is a periodic snapshot of the chain tip.
type Anchor struct {
	ID                int       `json:"id"`
	AnchorHash        string    `json:"anchor_hash"`
	SubmissionCount   int       `json:"submission_count"`
	FirstSubmissionID *int      `json:"first_submission_id"`
	LastSubmissionID  *int      `json:"last_submission_id"`
	CreatedAt         time.Time `json:"created_at"`
}

// WriteAnchor records the current tip as an anchor row. A no-op on an
// empty chain.
func (c *Chain) WriteAnchor(ctx context.Context) (*Anchor, error) {
	var (
		count       int
		firstID     *int
		lastID      *int
		lastHashRaw *string
	)
	err := c.pool.QueryRow(ctx, `
		SELECT COUNT(*), MIN(id), MAX(id)
		FROM submissions WHERE integrity_hash IS NOT NULL
	`).Scan(&count, &firstID, &lastID)
	if err != nil {
		return nil, fmt.Errorf("read chain extent: %w", err)
	}
	if count == 0 {
		return nil, nil
	}

	lastHashRaw, err = c.Tip(ctx)
	if err != nil {
		return nil, err
	}

	anchor := &Anchor{
		AnchorHash:        *lastHashRaw,
		SubmissionCount:   count,
		FirstSubmissionID: firstID,
		LastSubmissionID:  lastID,
	}
	err = c.pool.QueryRow(ctx, `
		INSERT INTO chain_anchors (anchor_hash, submission_count, first_submission_id, last_submission_id)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, anchor.AnchorHash, anchor.SubmissionCount, anchor.FirstSubmissionID, anchor.LastSubmissionID,
	).Scan(&anchor.ID, &anchor.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert chain anchor: %w", err)
	}

	c.log.Info("chain anchor written", "hash", anchor.AnchorHash, "count", anchor.SubmissionCount)
	return anchor, nil
}
