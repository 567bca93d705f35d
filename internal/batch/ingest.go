// Package batch ingests contributions in bulk from CSV files and JSON
// arrays, one submission transaction per row.
package batch

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"

	"github.com/michaelperron12-maker/AutoVerif-QC/internal/audit"
	"github.com/michaelperron12-maker/AutoVerif-QC/internal/chain"
	"github.com/michaelperron12-maker/AutoVerif-QC/internal/metrics"
	"github.com/michaelperron12-maker/AutoVerif-QC/internal/submission"
)

type Config struct {
	Logger      *slog.Logger
	Pool        *pgxpool.Pool
	Submissions *submission.Service
	Audit       *audit.Log
	Chain       *chain.Chain
	Clock       clockwork.Clock
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Pool == nil {
		return errors.New("pool is required")
	}
	if c.Submissions == nil {
		return errors.New("submission service is required")
	}
	if c.Audit == nil {
		return errors.New("audit log is required")
	}
	if c.Chain == nil {
		return errors.New("chain is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

type Ingestor struct {
	log         *slog.Logger
	pool        *pgxpool.Pool
	submissions *submission.Service
	audit       *audit.Log
	chain       *chain.Chain
	clock       clockwork.Clock
}

func New(cfg *Config) (*Ingestor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	return &Ingestor{
		log:         cfg.Logger,
		pool:        cfg.Pool,
		submissions: cfg.Submissions,
		audit:       cfg.Audit,
		chain:       cfg.Chain,
		clock:       cfg.Clock,
	}, nil
}

// RowError locates one failed row within a batch.
type RowError struct {
	Row     int    `json:"row"`
	VIN     string `json:"vin"`
	Message string `json:"message"`
}

// Result is the aggregate outcome of one batch.
type Result struct {
	BatchRef      string     `json:"batch_ref"`
	TotalRows     int        `json:"total_rows"`
	SuccessCount  int        `json:"success_count"`
	ErrorCount    int        `json:"error_count"`
	Errors        []RowError `json:"errors"`
	SubmissionIDs []int      `json:"submission_ids"`
}

// Record is one entry of a JSON batch.
type Record struct {
	VIN        string         `json:"vin"`
	ReportType string         `json:"report_type"`
	Data       map[string]any `json:"data"`
}

// IngestCSV parses an uploaded CSV file and submits every row. Rows are
// processed in file order; a failing row is collected, never fatal.
func (i *Ingestor) IngestCSV(ctx context.Context, raw []byte, filename string, submitter submission.Submitter, ip string) (*Result, error) {
	file, err := parseCSV(raw)
	if err != nil {
		return nil, err
	}

	batchID, ref, err := i.createBatch(ctx, "CSV", filename, submitter, len(file.rows))
	if err != nil {
		return nil, err
	}

	result := &Result{BatchRef: ref, TotalRows: len(file.rows), Errors: []RowError{}, SubmissionIDs: []int{}}
	for n, row := range file.rows {
		rowVIN := strings.ToUpper(strings.TrimSpace(row["vin"]))
		reportType := strings.TrimSpace(row["report_type"])
		if reportType == "" {
			reportType = detectReportType(row)
		}

		res, err := i.submissions.Submit(ctx, &submission.Request{
			VIN:        rowVIN,
			ReportType: reportType,
			Submitter:  submitter,
			Data:       coerceRow(row),
			IP:         ip,
		})
		i.collect(result, n+1, rowVIN, "csv", res, err)

		if ctx.Err() != nil {
			i.finalizeBatch(ctx, batchID, result, "failed")
			return result, ctx.Err()
		}
	}

	i.finalizeBatch(ctx, batchID, result, "completed")
	i.logBatchAudit(ctx, audit.ActionCSVImport, batchID, ref, result, ip)
	i.anchorChain(ctx)
	return result, nil
}

// IngestJSON submits every record of a JSON batch under a shared
// submitter envelope.
func (i *Ingestor) IngestJSON(ctx context.Context, records []Record, submitter submission.Submitter, ip string) (*Result, error) {
	if len(records) == 0 {
		return nil, errors.New("batch is empty")
	}
	if len(records) > MaxJSONRecords {
		return nil, ErrTooManyRecords
	}

	batchID, ref, err := i.createBatch(ctx, "API", "", submitter, len(records))
	if err != nil {
		return nil, err
	}

	result := &Result{BatchRef: ref, TotalRows: len(records), Errors: []RowError{}, SubmissionIDs: []int{}}
	for n, record := range records {
		res, err := i.submissions.Submit(ctx, &submission.Request{
			VIN:        record.VIN,
			ReportType: record.ReportType,
			Submitter:  submitter,
			Data:       record.Data,
			IP:         ip,
		})
		i.collect(result, n, record.VIN, "json", res, err)

		if ctx.Err() != nil {
			i.finalizeBatch(ctx, batchID, result, "failed")
			return result, ctx.Err()
		}
	}

	i.finalizeBatch(ctx, batchID, result, "completed")
	i.logBatchAudit(ctx, audit.ActionBatchImport, batchID, ref, result, ip)
	i.anchorChain(ctx)
	return result, nil
}

func (i *Ingestor) collect(result *Result, index int, rowVIN string, source string, res *submission.Result, err error) {
	if err != nil {
		result.ErrorCount++
		result.Errors = append(result.Errors, RowError{Row: index, VIN: rowVIN, Message: err.Error()})
		metrics.BatchRowsTotal.WithLabelValues(source, "error").Inc()
		return
	}
	result.SuccessCount++
	result.SubmissionIDs = append(result.SubmissionIDs, res.SubmissionID)
	metrics.BatchRowsTotal.WithLabelValues(source, "success").Inc()
}

func (i *Ingestor) createBatch(ctx context.Context, prefix, filename string, submitter submission.Submitter, total int) (int, string, error) {
	ref := newBatchRef(prefix)
	var id int
	err := i.pool.QueryRow(ctx, `
		INSERT INTO import_batches (batch_ref, submitted_by_name, submitted_by_email, filename, total_rows)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, ref, submitter.Name, submitter.Email, filename, total).Scan(&id)
	if err != nil {
		return 0, "", fmt.Errorf("create import batch: %w", err)
	}
	return id, ref, nil
}

// finalizeBatch performs the batch row's single post-creation update.
func (i *Ingestor) finalizeBatch(ctx context.Context, batchID int, result *Result, status string) {
	errorsJSON, _ := json.Marshal(result.Errors)
	idsJSON, _ := json.Marshal(result.SubmissionIDs)
	_, err := i.pool.Exec(ctx, `
		UPDATE import_batches
		SET status = $1, success_count = $2, error_count = $3, errors = $4,
			submission_ids = $5, completed_at = $6
		WHERE id = $7
	`, status, result.SuccessCount, result.ErrorCount, errorsJSON, idsJSON,
		i.clock.Now().UTC(), batchID)
	if err != nil {
		i.log.Error("failed to finalize import batch", "batch_id", batchID, "error", err)
	}
}

func (i *Ingestor) logBatchAudit(ctx context.Context, action string, batchID int, ref string, result *Result, ip string) {
	if err := i.audit.Append(ctx, &audit.Entry{
		Action:      action,
		TargetTable: "import_batches",
		TargetID:    batchID,
		Details: map[string]any{
			"batch_ref":     ref,
			"total_rows":    result.TotalRows,
			"success_count": result.SuccessCount,
			"error_count":   result.ErrorCount,
		},
		IP: ip,
	}); err != nil {
		i.log.Error("failed to write batch audit entry", "batch_ref", ref, "error", err)
	}
}

// anchorChain snapshots the chain tip after a completed batch. Failures
// are logged, not surfaced; the anchor is a convenience checkpoint.
func (i *Ingestor) anchorChain(ctx context.Context) {
	if _, err := i.chain.WriteAnchor(ctx); err != nil {
		i.log.Error("failed to write chain anchor", "error", err)
	}
}

// newBatchRef renders refs like CSV-3FA9C12B.
func newBatchRef(prefix string) string {
	u := uuid.New()
	return fmt.Sprintf("%s-%s", prefix, strings.ToUpper(hex.EncodeToString(u[:4])))
}
