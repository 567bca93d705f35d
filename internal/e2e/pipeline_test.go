package e2e_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/michaelperron12-maker/AutoVerif-QC/internal/audit"
	"github.com/michaelperron12-maker/AutoVerif-QC/internal/batch"
	"github.com/michaelperron12-maker/AutoVerif-QC/internal/chain"
	"github.com/michaelperron12-maker/AutoVerif-QC/internal/lookup"
	"github.com/michaelperron12-maker/AutoVerif-QC/internal/odometer"
	"github.com/michaelperron12-maker/AutoVerif-QC/internal/registry"
	"github.com/michaelperron12-maker/AutoVerif-QC/internal/store"
	"github.com/michaelperron12-maker/AutoVerif-QC/internal/submission"
)

const (
	vinCivic = "2HGFC2F59MH528491"
	vinF150  = "1FTFW1ET5DFC10312"
)

// stubDecoder resolves every VIN to the same attribute set, or to none
// when empty is set.
type stubDecoder struct {
	empty bool
}

func (d *stubDecoder) Decode(_ context.Context, vin string) (map[string]string, error) {
	if d.empty {
		return map[string]string{}, nil
	}
	return map[string]string{
		"Make":                "HONDA",
		"Model":               "Civic",
		"Model Year":          "2021",
		"Body Class":          "Sedan/Saloon",
		"Displacement (L)":    "1.5",
		"Fuel Type - Primary": "Gasoline",
		"Transmission Style":  "CVT",
		"Drive Type":          "FWD",
		"Plant Country":       "CANADA",
	}, nil
}

type pipeline struct {
	pool        *pgxpool.Pool
	registry    *registry.Registry
	chain       *chain.Chain
	tracker     *odometer.Tracker
	submissions *submission.Service
	ingestor    *batch.Ingestor
	lookup      *lookup.Service
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startPipeline(t *testing.T, ctx context.Context, decoder registry.Decoder) *pipeline {
	t.Helper()
	log := newTestLogger()

	pgContainer, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		postgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := pgContainer.Terminate(context.Background()); err != nil {
			t.Logf("failed to cleanup postgres container: %v", err)
		}
	})

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)
	connStr := fmt.Sprintf("postgres://testuser:testpass@%s:%s/testdb?sslmode=disable", host, port.Port())

	db, err := store.New(ctx, log, connStr)
	require.NoError(t, err)
	t.Cleanup(db.Close)
	require.NoError(t, db.Migrate(ctx))

	vehicles, err := registry.New(&registry.Config{Logger: log, Pool: db.Pool, Decoder: decoder})
	require.NoError(t, err)

	auditLog, err := audit.New(&audit.Config{Logger: log, Pool: db.Pool})
	require.NoError(t, err)

	recordChain, err := chain.New(&chain.Config{Logger: log, Pool: db.Pool})
	require.NoError(t, err)

	tracker, err := odometer.New(&odometer.Config{Logger: log, Pool: db.Pool, Audit: auditLog})
	require.NoError(t, err)

	submissions, err := submission.New(&submission.Config{
		Logger:   log,
		Pool:     db.Pool,
		Registry: vehicles,
		Chain:    recordChain,
		Odometer: tracker,
		Audit:    auditLog,
	})
	require.NoError(t, err)

	ingestor, err := batch.New(&batch.Config{
		Logger:      log,
		Pool:        db.Pool,
		Submissions: submissions,
		Audit:       auditLog,
		Chain:       recordChain,
	})
	require.NoError(t, err)

	history, err := lookup.New(&lookup.Config{Logger: log, Pool: db.Pool, Odometer: tracker})
	require.NoError(t, err)

	return &pipeline{
		pool:        db.Pool,
		registry:    vehicles,
		chain:       recordChain,
		tracker:     tracker,
		submissions: submissions,
		ingestor:    ingestor,
		lookup:      history,
	}
}

func submitService(t *testing.T, ctx context.Context, p *pipeline, vin string, data map[string]any) *submission.Result {
	t.Helper()
	res, err := p.submissions.Submit(ctx, &submission.Request{
		VIN:        vin,
		ReportType: "service",
		Submitter:  submission.Submitter{Name: "A"},
		Data:       data,
		IP:         "203.0.113.7",
	})
	require.NoError(t, err)
	return res
}

func TestE2E_Pipeline_ChainOdometerAndTamperDetection(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	p := startPipeline(t, ctx, &stubDecoder{})

	// S1: first submission opens the chain.
	res1 := submitService(t, ctx, p, vinCivic, map[string]any{
		"date": "2025-06-15", "odometer_km": 45000, "service_type": "oil_change",
		"facility_name": "G", "cost": 89.99,
	})
	require.Equal(t, 1, res1.SubmissionID)
	require.Len(t, res1.IntegrityHash, 64)

	var (
		prevHash    *string
		storedHash  string
		snapshotRaw []byte
	)
	err := p.pool.QueryRow(ctx,
		`SELECT previous_hash, integrity_hash, data_snapshot FROM submissions WHERE id = 1`,
	).Scan(&prevHash, &storedHash, &snapshotRaw)
	require.NoError(t, err)
	require.Nil(t, prevHash)
	require.Equal(t, res1.IntegrityHash, storedHash)

	// The stored hash must be reproducible from the stored fields alone.
	snapshot, err := chain.DecodeSnapshot(snapshotRaw)
	require.NoError(t, err)
	ts, _ := snapshot["submitted_at"].(string)
	recomputed, err := chain.ComputeHash(1, vinCivic, "service", snapshot, nil, ts)
	require.NoError(t, err)
	require.Equal(t, storedHash, recomputed)

	readings, err := p.tracker.History(ctx, vinCivic)
	require.NoError(t, err)
	require.Len(t, readings, 1)
	require.Equal(t, 45000, readings[0].KM)
	require.False(t, readings[0].FraudFlag)

	// S2: second submission links to the first.
	res2 := submitService(t, ctx, p, vinCivic, map[string]any{
		"date": "2025-08-01", "odometer_km": 50000, "service_type": "tire_rotation",
	})
	require.Equal(t, 2, res2.SubmissionID)

	var prev2 string
	err = p.pool.QueryRow(ctx, `SELECT previous_hash FROM submissions WHERE id = 2`).Scan(&prev2)
	require.NoError(t, err)
	require.Equal(t, res1.IntegrityHash, prev2)

	verified, err := p.chain.VerifyAll(ctx)
	require.NoError(t, err)
	require.True(t, verified.Valid)
	require.Equal(t, 2, verified.ChainLength)
	require.Equal(t, res2.IntegrityHash, *verified.LastHash)

	// S3: rollback is flagged but the submission still succeeds.
	submitService(t, ctx, p, vinCivic, map[string]any{
		"date": "2025-09-01", "odometer_km": 30000, "service_type": "other",
	})
	readings, err = p.tracker.History(ctx, vinCivic)
	require.NoError(t, err)
	require.Len(t, readings, 3)
	last := readings[len(readings)-1]
	require.True(t, last.FraudFlag)
	require.Contains(t, last.FraudReason, "Rollback suspect: 30000 km < precedent 50000 km")

	var alerts int
	err = p.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM audit_log WHERE action = 'odometer_fraud_alert'`).Scan(&alerts)
	require.NoError(t, err)
	require.Equal(t, 1, alerts)

	// S4: ECU mismatch beyond the 5000 km tolerance.
	submitService(t, ctx, p, vinCivic, map[string]any{
		"date": "2025-09-15", "odometer_km": 60000, "ecu_odometer_km": 72000, "service_type": "other",
	})
	readings, err = p.tracker.History(ctx, vinCivic)
	require.NoError(t, err)
	last = readings[len(readings)-1]
	require.True(t, last.FraudFlag)
	require.Contains(t, last.FraudReason, "ECU mismatch: ECU=72000 vs declared=60000")

	// The chain stays valid through all of it.
	verified, err = p.chain.VerifyAll(ctx)
	require.NoError(t, err)
	require.True(t, verified.Valid)
	require.Equal(t, 4, verified.ChainLength)

	// S5: tampering with a stored snapshot breaks verification at the
	// tampered row and the link that follows it.
	_, err = p.pool.Exec(ctx,
		`UPDATE submissions SET data_snapshot = jsonb_set(data_snapshot, '{data,cost}', '1.00'::jsonb) WHERE id = 1`)
	require.NoError(t, err)

	one, err := p.chain.VerifyOne(ctx, 1)
	require.NoError(t, err)
	require.False(t, one.Valid)

	verified, err = p.chain.VerifyAll(ctx)
	require.NoError(t, err)
	require.False(t, verified.Valid)

	byID := map[int][]string{}
	for _, link := range verified.BrokenLinks {
		byID[link.SubmissionID] = append(byID[link.SubmissionID], link.Error)
	}
	require.Contains(t, byID[1], "hash_mismatch")
	require.Contains(t, byID[2], "chain_break")
	require.Len(t, verified.BrokenLinks, 2)
}

func TestE2E_Pipeline_CSVBatchRowIsolation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	p := startPipeline(t, ctx, &stubDecoder{})

	csvFile := strings.Join([]string{
		"vin,date,odometer_km,service_type,severity,impact_point,cost",
		vinCivic + ",2025-06-15,45000,oil_change,,,89.99",
		"2HGFC2F59MH5284,2025-06-16,46000,oil_change,,,50.00", // bad length
		vinF150 + ",2025-03-21,47200,,moderate,front,4500.00",
	}, "\n") + "\n"

	result, err := p.ingestor.IngestCSV(ctx, []byte(csvFile), "batch.csv",
		submission.Submitter{Name: "Garage QC", Email: "garage@example.com"}, "203.0.113.9")
	require.NoError(t, err)

	require.Equal(t, 3, result.TotalRows)
	require.Equal(t, 2, result.SuccessCount)
	require.Equal(t, 1, result.ErrorCount)
	require.Len(t, result.Errors, 1)
	require.Equal(t, 2, result.Errors[0].Row)
	require.Equal(t, "2HGFC2F59MH5284", result.Errors[0].VIN)
	require.Regexp(t, `^(CSV)-[0-9A-F]{8}$`, result.BatchRef)

	// Two consecutive ids, valid chain linkage.
	require.Equal(t, []int{1, 2}, result.SubmissionIDs)
	verified, err := p.chain.VerifyAll(ctx)
	require.NoError(t, err)
	require.True(t, verified.Valid)
	require.Equal(t, 2, verified.ChainLength)

	// Row 3 was detected as an accident.
	var reportType string
	err = p.pool.QueryRow(ctx, `SELECT report_type FROM submissions WHERE id = 2`).Scan(&reportType)
	require.NoError(t, err)
	require.Equal(t, "accident", reportType)

	// Batch row recorded its aggregate outcome.
	var (
		status       string
		successCount int
		errorCount   int
	)
	err = p.pool.QueryRow(ctx, `
		SELECT status, success_count, error_count FROM import_batches WHERE batch_ref = $1
	`, result.BatchRef).Scan(&status, &successCount, &errorCount)
	require.NoError(t, err)
	require.Equal(t, "completed", status)
	require.Equal(t, 2, successCount)
	require.Equal(t, 1, errorCount)

	// A completed batch leaves a chain anchor at the tip.
	var anchorHash string
	err = p.pool.QueryRow(ctx,
		`SELECT anchor_hash FROM chain_anchors ORDER BY id DESC LIMIT 1`).Scan(&anchorHash)
	require.NoError(t, err)
	require.Equal(t, *verified.LastHash, anchorHash)
}

func TestE2E_Pipeline_ConcurrentSubmitsKeepChainLinear(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	p := startPipeline(t, ctx, &stubDecoder{})

	const writers = 8
	var wg sync.WaitGroup
	errCh := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := p.submissions.Submit(ctx, &submission.Request{
				VIN:        vinCivic,
				ReportType: "service",
				Submitter:  submission.Submitter{Name: fmt.Sprintf("writer-%d", i)},
				Data:       map[string]any{"date": "2025-06-15", "service_type": "other"},
				IP:         "203.0.113.7",
			})
			errCh <- err
		}(i)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}

	verified, err := p.chain.VerifyAll(ctx)
	require.NoError(t, err)
	require.True(t, verified.Valid)
	require.Equal(t, writers, verified.ChainLength)

	// No two submissions share a previous_hash.
	var duplicates int
	err = p.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM (
			SELECT previous_hash FROM submissions
			WHERE previous_hash IS NOT NULL
			GROUP BY previous_hash HAVING COUNT(*) > 1
		) d
	`).Scan(&duplicates)
	require.NoError(t, err)
	require.Equal(t, 0, duplicates)
}

func TestE2E_Pipeline_RegistryConvergesOnOneRow(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	p := startPipeline(t, ctx, &stubDecoder{})

	const sightings = 6
	ids := make([]int, sightings)
	var wg sync.WaitGroup
	for i := 0; i < sightings; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := p.registry.GetOrCreate(ctx, vinCivic)
			if err == nil && v != nil {
				ids[i] = v.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		require.Equal(t, ids[0], id)
		require.NotZero(t, id)
	}

	var count int
	require.NoError(t, p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM vehicles`).Scan(&count))
	require.Equal(t, 1, count)
}

func TestE2E_Pipeline_UndecodableVINBlocksSubmission(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	p := startPipeline(t, ctx, &stubDecoder{empty: true})

	_, err := p.submissions.Submit(ctx, &submission.Request{
		VIN:        vinCivic,
		ReportType: "service",
		Data:       map[string]any{"date": "2025-06-15"},
	})
	require.ErrorIs(t, err, submission.ErrCannotDecode)

	// Nothing was written.
	var count int
	require.NoError(t, p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM submissions`).Scan(&count))
	require.Zero(t, count)
}

func TestE2E_Pipeline_LookupGroupsRecords(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	p := startPipeline(t, ctx, &stubDecoder{})

	submitService(t, ctx, p, vinCivic, map[string]any{
		"date": "2025-06-15", "odometer_km": 45000, "service_type": "oil_change", "cost": 89.99,
	})
	_, err := p.submissions.Submit(ctx, &submission.Request{
		VIN:        vinCivic,
		ReportType: "inspection",
		Submitter:  submission.Submitter{Name: "B"},
		Data:       map[string]any{"date": "2025-07-01", "result": "pass", "odometer_km": 45600},
	})
	require.NoError(t, err)

	resp, err := p.lookup.Lookup(ctx, vinCivic)
	require.NoError(t, err)

	require.Equal(t, "HONDA", resp.Vehicle["make"])
	require.Equal(t, 2, resp.TotalRecords)
	require.Len(t, resp.Records["services"], 1)
	require.Len(t, resp.Records["inspections"], 1)
	require.Len(t, resp.Records["accidents"], 0)

	service := resp.Records["services"][0]
	require.Equal(t, "2025-06-15", service["date"])
	require.InDelta(t, 89.99, service["cost"].(float64), 1e-9)

	inspection := resp.Records["inspections"][0]
	require.Equal(t, "pass", inspection["result"])
	require.Equal(t, "saaq_mecanique", inspection["inspection_type"])

	require.Len(t, resp.OdometerHistory, 2)
	require.Equal(t, 45000, resp.OdometerHistory[0].KM)
	require.Equal(t, 45600, resp.OdometerHistory[1].KM)

	_, err = p.lookup.Lookup(ctx, vinF150)
	require.ErrorIs(t, err, lookup.ErrNotFound)
}
