package submission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrMissingField wraps the name of a required detail field absent from
// the submitted data.
var ErrMissingField = errors.New("missing required field")

// fields provides tolerant coercion over the submitted data map. Values
// arrive as JSON types from the API or as strings from CSV rows.
type fields map[string]any

func (f fields) strValue(key, def string) string {
	if v, ok := f[key]; ok {
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return def
}

func (f fields) strPtr(key string) *string {
	if s := f.strValue(key, ""); s != "" {
		return &s
	}
	return nil
}

func (f fields) intValue(key string) *int {
	v, ok := f[key]
	if !ok || v == nil {
		return nil
	}
	switch n := v.(type) {
	case json.Number:
		if i64, err := n.Int64(); err == nil {
			i := int(i64)
			return &i
		}
		if fl, err := n.Float64(); err == nil {
			i := int(fl)
			return &i
		}
	case float64:
		i := int(n)
		return &i
	case int:
		return &n
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return nil
		}
		if i, err := strconv.Atoi(s); err == nil {
			return &i
		}
		if fl, err := strconv.ParseFloat(s, 64); err == nil {
			i := int(fl)
			return &i
		}
	}
	return nil
}

func (f fields) floatValue(key string) *float64 {
	v, ok := f[key]
	if !ok || v == nil {
		return nil
	}
	switch n := v.(type) {
	case json.Number:
		if fl, err := n.Float64(); err == nil {
			return &fl
		}
	case float64:
		return &n
	case int:
		fl := float64(n)
		return &fl
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return nil
		}
		if fl, err := strconv.ParseFloat(s, 64); err == nil {
			return &fl
		}
	}
	return nil
}

// boolValue accepts JSON booleans plus the CSV truthy spellings
// true|1|oui|yes, case-insensitive.
func (f fields) boolValue(key string, def bool) bool {
	v, ok := f[key]
	if !ok || v == nil {
		return def
	}
	switch b := v.(type) {
	case bool:
		return b
	case json.Number:
		return b.String() == "1"
	case float64:
		return b == 1
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "1", "oui", "yes":
			return true
		case "":
			return def
		default:
			return false
		}
	}
	return def
}

func (f fields) dateValue(key string) *time.Time {
	s := f.strValue(key, "")
	if s == "" {
		return nil
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

// jsonValue re-marshals a structured field for a JSONB column. Returns
// nil when the field is absent.
func (f fields) jsonValue(key string) []byte {
	v, ok := f[key]
	if !ok || v == nil {
		return nil
	}
	if s, ok := v.(string); ok {
		if strings.TrimSpace(s) == "" {
			return nil
		}
		if json.Valid([]byte(s)) {
			return []byte(s)
		}
		b, _ := json.Marshal(s)
		return b
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

func (f fields) requireDate(key string) (*time.Time, error) {
	d := f.dateValue(key)
	if d == nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingField, key)
	}
	return d, nil
}

// enumOr returns the field's value when it belongs to allowed, otherwise
// the default.
func (f fields) enumOr(key, def string, allowed ...string) string {
	v := f.strValue(key, def)
	for _, a := range allowed {
		if v == a {
			return v
		}
	}
	return def
}

// detailInserts is the closed dispatch over report types. Exactly one
// detail row is written per submission, in the same transaction.
var detailInserts = map[string]func(ctx context.Context, tx pgx.Tx, id int, d fields) error{
	"accident":          insertAccident,
	"service":           insertService,
	"ownership":         insertOwnership,
	"inspection":        insertInspection,
	"recall_completion": insertRecallCompletion,
	"title_brand":       insertTitleBrand,
	"lien":              insertLien,
	"theft":             insertTheft,
	"obd_diagnostic":    insertOBDDiagnostic,
	"auction":           insertAuction,
	"fleet_history":     insertFleetHistory,
	"import_export":     insertImportExport,
	"emissions":         insertEmissions,
	"modification":      insertModification,
}

func insertDetail(ctx context.Context, tx pgx.Tx, id int, reportType string, data map[string]any) error {
	handler, ok := detailInserts[reportType]
	if !ok {
		return ErrInvalidType
	}
	if err := handler(ctx, tx, id, fields(data)); err != nil {
		return fmt.Errorf("insert %s detail: %w", reportType, err)
	}
	return nil
}

func insertAccident(ctx context.Context, tx pgx.Tx, id int, d fields) error {
	date, err := d.requireDate("date")
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO accident_reports (submission_id, accident_date, severity, impact_point,
			airbag_deployed, structural_damage, flood_damage, fire_damage, theft_vandalism,
			towing_required, drivable, total_loss, rollover, hail_damage,
			estimated_cost, police_report_number, insurance_claim_number, insurance_company,
			accident_location, description, odometer_km)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	`,
		id, date,
		d.enumOr("severity", "minor", "minor", "moderate", "severe", "total_loss"),
		d.strValue("impact_point", "front"),
		d.boolValue("airbag_deployed", false),
		d.boolValue("structural_damage", false),
		d.boolValue("flood_damage", false),
		d.boolValue("fire_damage", false),
		d.boolValue("theft_vandalism", false),
		d.boolValue("towing_required", false),
		d.boolValue("drivable", true),
		d.boolValue("total_loss", false),
		d.boolValue("rollover", false),
		d.boolValue("hail_damage", false),
		d.floatValue("estimated_cost"),
		d.strPtr("police_report_number"),
		d.strPtr("insurance_claim_number"),
		d.strPtr("insurance_company"),
		d.strPtr("accident_location"),
		d.strValue("description", ""),
		d.intValue("odometer_km"),
	)
	return err
}

func insertService(ctx context.Context, tx pgx.Tx, id int, d fields) error {
	date, err := d.requireDate("date")
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO service_records (submission_id, service_date, odometer_km, service_type,
			facility_name, description, cost, parts_type, ev_battery_soh, ev_battery_kwh, ev_service_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		id, date,
		d.intValue("odometer_km"),
		d.strValue("service_type", "other"),
		d.strValue("facility_name", ""),
		d.strValue("description", ""),
		d.floatValue("cost"),
		d.enumOr("parts_type", "na", "oem", "aftermarket", "na"),
		d.floatValue("ev_battery_soh"),
		d.floatValue("ev_battery_kwh"),
		d.strPtr("ev_service_type"),
	)
	return err
}

func insertOwnership(ctx context.Context, tx pgx.Tx, id int, d fields) error {
	date, err := d.requireDate("date")
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO ownership_changes (submission_id, change_date, previous_owner_type,
			new_owner_type, province, sale_price, odometer_km, title_brand, usage_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		id, date,
		d.strValue("previous_owner_type", "unknown"),
		d.strValue("new_owner_type", "unknown"),
		d.strValue("province", "QC"),
		d.floatValue("sale_price"),
		d.intValue("odometer_km"),
		d.strPtr("title_brand"),
		d.strPtr("usage_type"),
	)
	return err
}

func insertInspection(ctx context.Context, tx pgx.Tx, id int, d fields) error {
	date, err := d.requireDate("date")
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO inspections (submission_id, inspection_date, result, odometer_km,
			inspection_type, inspector_name, facility_name, facility_permit, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		id, date,
		d.enumOr("result", "pass", "pass", "fail"),
		d.intValue("odometer_km"),
		d.strValue("inspection_type", "saaq_mecanique"),
		d.strPtr("inspector_name"),
		d.strPtr("facility_name"),
		d.strPtr("facility_permit"),
		d.strValue("notes", ""),
	)
	return err
}

func insertRecallCompletion(ctx context.Context, tx pgx.Tx, id int, d fields) error {
	recallNumber := d.strValue("recall_number", "")
	if recallNumber == "" {
		return fmt.Errorf("%w: recall_number", ErrMissingField)
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO recall_completions (submission_id, recall_number, completion_date,
			facility_name, recall_description, component, remedy_type, odometer_km)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		id, recallNumber,
		d.dateValue("date"),
		d.strValue("facility_name", ""),
		d.strPtr("recall_description"),
		d.strPtr("component"),
		d.strPtr("remedy_type"),
		d.intValue("odometer_km"),
	)
	return err
}

func insertTitleBrand(ctx context.Context, tx pgx.Tx, id int, d fields) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO title_brands (submission_id, brand_date, brand_type, province,
			previous_brand, insurance_company, total_loss_amount, source, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		id,
		d.dateValue("date"),
		d.strPtr("brand_type"),
		d.strValue("province", "QC"),
		d.strPtr("previous_brand"),
		d.strPtr("insurance_company"),
		d.floatValue("total_loss_amount"),
		d.strPtr("source"),
		d.strValue("notes", ""),
	)
	return err
}

func insertLien(ctx context.Context, tx pgx.Tx, id int, d fields) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO liens (submission_id, lien_holder, lien_type, lien_amount,
			registration_date, discharge_date, lien_status, province, registration_number, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		id,
		d.strPtr("lien_holder"),
		d.strPtr("lien_type"),
		d.floatValue("lien_amount"),
		d.dateValue("registration_date"),
		d.dateValue("discharge_date"),
		d.strValue("lien_status", "active"),
		d.strValue("province", "QC"),
		d.strPtr("registration_number"),
		d.strValue("notes", ""),
	)
	return err
}

func insertTheft(ctx context.Context, tx pgx.Tx, id int, d fields) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO theft_records (submission_id, date_stolen, police_report_number,
			police_jurisdiction, date_recovered, recovery_location, condition_at_recovery,
			parts_missing, insurance_claim, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		id,
		d.dateValue("date_stolen"),
		d.strPtr("police_report_number"),
		d.strPtr("police_jurisdiction"),
		d.dateValue("date_recovered"),
		d.strPtr("recovery_location"),
		d.strPtr("condition_at_recovery"),
		d.strValue("parts_missing", ""),
		d.strPtr("insurance_claim"),
		d.strValue("notes", ""),
	)
	return err
}

func insertOBDDiagnostic(ctx context.Context, tx pgx.Tx, id int, d fields) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO obd_diagnostics (submission_id, scan_date, odometer_km, scan_tool,
			mil_status, dtc_active, dtc_pending, dtc_permanent, readiness_monitors,
			ecu_odometer_km, freeze_frame, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		id,
		d.dateValue("date"),
		d.intValue("odometer_km"),
		d.strPtr("scan_tool"),
		d.strPtr("mil_status"),
		d.strValue("dtc_active", ""),
		d.strValue("dtc_pending", ""),
		d.strValue("dtc_permanent", ""),
		d.jsonValue("readiness_monitors"),
		d.intValue("ecu_odometer_km"),
		d.jsonValue("freeze_frame"),
		d.strValue("notes", ""),
	)
	return err
}

func insertAuction(ctx context.Context, tx pgx.Tx, id int, d fields) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO auction_records (submission_id, auction_date, auction_house,
			auction_location, lot_number, sale_type, seller_type, naaa_grade,
			exterior_grade, interior_grade, mechanical_grade,
			tire_tread_fl, tire_tread_fr, tire_tread_rl, tire_tread_rr,
			odor, keys_count, run_drive, sale_price, damage_announcements, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	`,
		id,
		d.dateValue("date"),
		d.strPtr("auction_house"),
		d.strPtr("auction_location"),
		d.strPtr("lot_number"),
		d.strPtr("sale_type"),
		d.strPtr("seller_type"),
		d.floatValue("naaa_grade"),
		d.floatValue("exterior_grade"),
		d.floatValue("interior_grade"),
		d.floatValue("mechanical_grade"),
		d.floatValue("tire_tread_fl"),
		d.floatValue("tire_tread_fr"),
		d.floatValue("tire_tread_rl"),
		d.floatValue("tire_tread_rr"),
		d.strPtr("odor"),
		d.intValue("keys_count"),
		d.boolValue("run_drive", false),
		d.floatValue("sale_price"),
		d.strValue("damage_announcements", ""),
		d.strValue("notes", ""),
	)
	return err
}

func insertFleetHistory(ctx context.Context, tx pgx.Tx, id int, d fields) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO fleet_history (submission_id, usage_type, company_name, date_entered,
			date_left, mileage_during, estimated_drivers, province, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		id,
		d.strPtr("usage_type"),
		d.strPtr("company_name"),
		d.dateValue("date_entered"),
		d.dateValue("date_left"),
		d.intValue("mileage_during"),
		d.intValue("estimated_drivers"),
		d.strValue("province", "QC"),
		d.strValue("notes", ""),
	)
	return err
}

func insertImportExport(ctx context.Context, tx pgx.Tx, id int, d fields) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO import_export_records (submission_id, direction, country_origin,
			country_destination, record_date, riv_number, customs_declaration,
			odometer_at_import, odometer_unit, tc_compliance, recalls_cleared, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		id,
		d.enumOr("direction", "import", "import", "export"),
		d.strPtr("country_origin"),
		d.strPtr("country_destination"),
		d.dateValue("date"),
		d.strPtr("riv_number"),
		d.strPtr("customs_declaration"),
		d.intValue("odometer_at_import"),
		d.strValue("odometer_unit", "km"),
		d.boolValue("tc_compliance", false),
		d.boolValue("recalls_cleared", false),
		d.strValue("notes", ""),
	)
	return err
}

func insertEmissions(ctx context.Context, tx pgx.Tx, id int, d fields) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO emissions_tests (submission_id, test_date, test_type, result,
			station_name, station_number, inspector_id, hc_ppm, co_percent, nox_ppm,
			co2_percent, o2_percent, certificate_number, certificate_expiry, exemption_reason, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`,
		id,
		d.dateValue("date"),
		d.strPtr("test_type"),
		d.strPtr("result"),
		d.strPtr("station_name"),
		d.strPtr("station_number"),
		d.strPtr("inspector_id"),
		d.floatValue("hc_ppm"),
		d.floatValue("co_percent"),
		d.floatValue("nox_ppm"),
		d.floatValue("co2_percent"),
		d.floatValue("o2_percent"),
		d.strPtr("certificate_number"),
		d.dateValue("certificate_expiry"),
		d.strPtr("exemption_reason"),
		d.strValue("notes", ""),
	)
	return err
}

func insertModification(ctx context.Context, tx pgx.Tx, id int, d fields) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO modifications (submission_id, mod_date, mod_type, description,
			part_brand, part_number, installed_by, homologated, saaq_approved,
			insurance_notified, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		id,
		d.dateValue("date"),
		d.strPtr("mod_type"),
		d.strValue("description", ""),
		d.strPtr("part_brand"),
		d.strPtr("part_number"),
		d.strPtr("installed_by"),
		d.boolValue("homologated", false),
		d.boolValue("saaq_approved", false),
		d.boolValue("insurance_notified", false),
		d.strValue("notes", ""),
	)
	return err
}
