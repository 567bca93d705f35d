// Package lookup assembles the full recorded history for a VIN.
package lookup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/michaelperron12-maker/AutoVerif-QC/internal/odometer"
)

var ErrNotFound = errors.New("vehicle not found")

type Config struct {
	Logger   *slog.Logger
	Pool     *pgxpool.Pool
	Odometer *odometer.Tracker
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Pool == nil {
		return errors.New("pool is required")
	}
	if c.Odometer == nil {
		return errors.New("odometer tracker is required")
	}
	return nil
}

type Service struct {
	log      *slog.Logger
	pool     *pgxpool.Pool
	odometer *odometer.Tracker
}

func New(cfg *Config) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	return &Service{log: cfg.Logger, pool: cfg.Pool, odometer: cfg.Odometer}, nil
}

// Response is the assembled history for one VIN.
type Response struct {
	Vehicle         map[string]any              `json:"vehicle"`
	Records         map[string][]map[string]any `json:"records"`
	OdometerHistory []odometer.Reading          `json:"odometer_history"`
	TotalRecords    int                         `json:"total_records"`
}

// bucketNames maps report types to their response buckets. Every bucket
// is present in the response even when empty.
var bucketNames = map[string]string{
	"accident":          "accidents",
	"service":           "services",
	"ownership":         "ownership_changes",
	"inspection":        "inspections",
	"recall_completion": "recall_completions",
	"title_brand":       "title_brands",
	"lien":              "liens",
	"theft":             "thefts",
	"obd_diagnostic":    "obd_diagnostics",
	"auction":           "auctions",
	"fleet_history":     "fleet_history",
	"import_export":     "import_export",
	"emissions":         "emissions_tests",
	"modification":      "modifications",
}

// detailSpecs drives the per-type detail projection. Expressions cast
// dates to ISO strings and decimals to floats so the response marshals
// cleanly.
type detailSpec struct {
	table string
	cols  []string // "expr AS key" or plain column names
}

var detailSpecs = map[string]detailSpec{
	"accident": {"accident_reports", []string{
		"to_char(accident_date, 'YYYY-MM-DD') AS date", "severity", "impact_point",
		"airbag_deployed", "structural_damage", "flood_damage", "fire_damage",
		"theft_vandalism", "towing_required", "drivable", "total_loss", "rollover",
		"hail_damage", "estimated_cost::float8 AS estimated_cost",
		"police_report_number", "insurance_claim_number", "insurance_company",
		"accident_location", "description", "odometer_km",
	}},
	"service": {"service_records", []string{
		"to_char(service_date, 'YYYY-MM-DD') AS date", "odometer_km", "service_type",
		"facility_name", "description", "cost::float8 AS cost", "parts_type",
		"ev_battery_soh::float8 AS ev_battery_soh", "ev_battery_kwh::float8 AS ev_battery_kwh",
		"ev_service_type",
	}},
	"ownership": {"ownership_changes", []string{
		"to_char(change_date, 'YYYY-MM-DD') AS date", "previous_owner_type",
		"new_owner_type", "province", "sale_price::float8 AS sale_price",
		"odometer_km", "title_brand", "usage_type",
	}},
	"inspection": {"inspections", []string{
		"to_char(inspection_date, 'YYYY-MM-DD') AS date", "result", "odometer_km",
		"inspection_type", "inspector_name", "facility_name", "facility_permit", "notes",
	}},
	"recall_completion": {"recall_completions", []string{
		"recall_number", "to_char(completion_date, 'YYYY-MM-DD') AS date",
		"facility_name", "recall_description", "component", "remedy_type", "odometer_km",
	}},
	"title_brand": {"title_brands", []string{
		"to_char(brand_date, 'YYYY-MM-DD') AS date", "brand_type", "province",
		"previous_brand", "insurance_company",
		"total_loss_amount::float8 AS total_loss_amount", "source", "notes",
	}},
	"lien": {"liens", []string{
		"lien_holder", "lien_type", "lien_amount::float8 AS lien_amount",
		"to_char(registration_date, 'YYYY-MM-DD') AS registration_date",
		"to_char(discharge_date, 'YYYY-MM-DD') AS discharge_date",
		"lien_status", "province", "registration_number", "notes",
	}},
	"theft": {"theft_records", []string{
		"to_char(date_stolen, 'YYYY-MM-DD') AS date_stolen", "police_report_number",
		"police_jurisdiction", "to_char(date_recovered, 'YYYY-MM-DD') AS date_recovered",
		"recovery_location", "condition_at_recovery", "parts_missing",
		"insurance_claim", "notes",
	}},
	"obd_diagnostic": {"obd_diagnostics", []string{
		"to_char(scan_date, 'YYYY-MM-DD') AS date", "odometer_km", "scan_tool",
		"mil_status", "dtc_active", "dtc_pending", "dtc_permanent",
		"readiness_monitors", "ecu_odometer_km", "freeze_frame", "notes",
	}},
	"auction": {"auction_records", []string{
		"to_char(auction_date, 'YYYY-MM-DD') AS date", "auction_house",
		"auction_location", "lot_number", "sale_type", "seller_type",
		"naaa_grade::float8 AS naaa_grade", "exterior_grade::float8 AS exterior_grade",
		"interior_grade::float8 AS interior_grade", "mechanical_grade::float8 AS mechanical_grade",
		"tire_tread_fl::float8 AS tire_tread_fl", "tire_tread_fr::float8 AS tire_tread_fr",
		"tire_tread_rl::float8 AS tire_tread_rl", "tire_tread_rr::float8 AS tire_tread_rr",
		"odor", "keys_count", "run_drive", "sale_price::float8 AS sale_price",
		"damage_announcements", "notes",
	}},
	"fleet_history": {"fleet_history", []string{
		"usage_type", "company_name", "to_char(date_entered, 'YYYY-MM-DD') AS date_entered",
		"to_char(date_left, 'YYYY-MM-DD') AS date_left", "mileage_during",
		"estimated_drivers", "province", "notes",
	}},
	"import_export": {"import_export_records", []string{
		"direction", "country_origin", "country_destination",
		"to_char(record_date, 'YYYY-MM-DD') AS date", "riv_number",
		"customs_declaration", "odometer_at_import", "odometer_unit",
		"tc_compliance", "recalls_cleared", "notes",
	}},
	"emissions": {"emissions_tests", []string{
		"to_char(test_date, 'YYYY-MM-DD') AS date", "test_type", "result",
		"station_name", "station_number", "inspector_id",
		"hc_ppm::float8 AS hc_ppm", "co_percent::float8 AS co_percent",
		"nox_ppm::float8 AS nox_ppm", "co2_percent::float8 AS co2_percent",
		"o2_percent::float8 AS o2_percent", "certificate_number",
		"to_char(certificate_expiry, 'YYYY-MM-DD') AS certificate_expiry",
		"exemption_reason", "notes",
	}},
	"modification": {"modifications", []string{
		"to_char(mod_date, 'YYYY-MM-DD') AS date", "mod_type", "description",
		"part_brand", "part_number", "installed_by", "homologated",
		"saaq_approved", "insurance_notified", "notes",
	}},
}

// Lookup assembles all records for a VIN, grouped by type.
func (s *Service) Lookup(ctx context.Context, vin string) (*Response, error) {
	vehicle, err := s.vehicle(ctx, vin)
	if err != nil {
		return nil, err
	}

	resp := &Response{Vehicle: vehicle, Records: map[string][]map[string]any{}}
	for _, bucket := range bucketNames {
		resp.Records[bucket] = []map[string]any{}
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, report_type, submitted_at, status
		FROM submissions
		WHERE vin = $1
		ORDER BY id ASC
	`, vin)
	if err != nil {
		return nil, fmt.Errorf("select submissions: %w", err)
	}
	defer rows.Close()

	type subRow struct {
		id          int
		reportType  string
		submittedAt time.Time
		status      string
	}
	var subs []subRow
	for rows.Next() {
		var sub subRow
		if err := rows.Scan(&sub.id, &sub.reportType, &sub.submittedAt, &sub.status); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submissions: %w", err)
	}
	rows.Close()

	for _, sub := range subs {
		bucket, ok := bucketNames[sub.reportType]
		if !ok {
			continue
		}
		record := map[string]any{
			"submission_id": sub.id,
			"submitted_at":  sub.submittedAt.UTC().Format(time.RFC3339),
			"status":        sub.status,
		}
		detail, err := s.detail(ctx, sub.reportType, sub.id)
		if err != nil {
			return nil, err
		}
		for k, v := range detail {
			record[k] = v
		}
		resp.Records[bucket] = append(resp.Records[bucket], record)
		resp.TotalRecords++
	}

	resp.OdometerHistory, err = s.odometer.History(ctx, vin)
	if err != nil {
		return nil, err
	}

	return resp, nil
}

func (s *Service) vehicle(ctx context.Context, vin string) (map[string]any, error) {
	var (
		id                                             int
		year                                           *int
		makeName, model, body, engine, fuel            *string
		transmission, driveType, plantCountry          *string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, make, model, year, body_class, engine, fuel_type,
			transmission, drive_type, plant_country
		FROM vehicles WHERE vin = $1
	`, vin).Scan(&id, &makeName, &model, &year, &body, &engine, &fuel,
		&transmission, &driveType, &plantCountry)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select vehicle: %w", err)
	}
	return map[string]any{
		"id":            id,
		"vin":           vin,
		"make":          strOrEmpty(makeName),
		"model":         strOrEmpty(model),
		"year":          year,
		"body":          strOrEmpty(body),
		"engine":        strOrEmpty(engine),
		"fuel":          strOrEmpty(fuel),
		"transmission":  strOrEmpty(transmission),
		"drive":         strOrEmpty(driveType),
		"plant_country": strOrEmpty(plantCountry),
	}, nil
}

// detail fetches the projected detail row for one submission.
func (s *Service) detail(ctx context.Context, reportType string, submissionID int) (map[string]any, error) {
	spec, ok := detailSpecs[reportType]
	if !ok {
		return nil, nil
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE submission_id = $1",
		strings.Join(spec.cols, ", "), spec.table)

	rows, err := s.pool.Query(ctx, query, submissionID)
	if err != nil {
		return nil, fmt.Errorf("select %s detail: %w", reportType, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return map[string]any{}, rows.Err()
	}

	descs := rows.FieldDescriptions()
	values, err := rows.Values()
	if err != nil {
		return nil, fmt.Errorf("read %s detail: %w", reportType, err)
	}

	detail := make(map[string]any, len(descs))
	for i, desc := range descs {
		detail[string(desc.Name)] = values[i]
	}
	return detail, rows.Err()
}

func strOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
