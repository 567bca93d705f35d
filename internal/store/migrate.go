package store

import (
	"context"
	"fmt"
)

// migrations are executed in order on every startup. Each statement is
// idempotent (IF NOT EXISTS / ADD COLUMN IF NOT EXISTS) so a newer binary
// can run against an older schema without data loss.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS scans (
		id SERIAL PRIMARY KEY,
		vin VARCHAR(17) NOT NULL,
		make VARCHAR(100),
		model VARCHAR(100),
		year INTEGER,
		result JSONB,
		scanned_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		ip_address VARCHAR(45)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_scans_vin ON scans(vin)`,
	`CREATE INDEX IF NOT EXISTS idx_scans_date ON scans(scanned_at)`,

	`CREATE TABLE IF NOT EXISTS vehicles (
		id SERIAL PRIMARY KEY,
		vin VARCHAR(17) NOT NULL UNIQUE,
		make VARCHAR(100),
		model VARCHAR(100),
		year INTEGER,
		body_class VARCHAR(100),
		engine VARCHAR(100),
		fuel_type VARCHAR(50),
		transmission VARCHAR(100),
		drive_type VARCHAR(100),
		plant_country VARCHAR(100),
		decoded_json JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS submissions (
		id SERIAL PRIMARY KEY,
		vehicle_id INTEGER REFERENCES vehicles(id) ON DELETE CASCADE,
		vin VARCHAR(17) NOT NULL,
		report_type VARCHAR(30) NOT NULL,
		submitted_by_name VARCHAR(200),
		submitted_by_email VARCHAR(200),
		submitted_by_type VARCHAR(30),
		submitted_by_company VARCHAR(200),
		status VARCHAR(20) NOT NULL DEFAULT 'pending',
		ip_address VARCHAR(45),
		submitted_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		verified_at TIMESTAMPTZ,
		notes TEXT
	)`,
	// Chain columns postdate the first deployments; rows created before
	// them keep null hashes and are excluded from verification.
	`ALTER TABLE submissions
		ADD COLUMN IF NOT EXISTS previous_hash VARCHAR(64),
		ADD COLUMN IF NOT EXISTS integrity_hash VARCHAR(64),
		ADD COLUMN IF NOT EXISTS data_snapshot JSONB`,
	`CREATE INDEX IF NOT EXISTS idx_submissions_vin ON submissions(vin)`,
	`CREATE INDEX IF NOT EXISTS idx_submissions_type ON submissions(report_type)`,
	`CREATE INDEX IF NOT EXISTS idx_submissions_hash ON submissions(integrity_hash)`,

	`CREATE TABLE IF NOT EXISTS accident_reports (
		id SERIAL PRIMARY KEY,
		submission_id INTEGER REFERENCES submissions(id) ON DELETE CASCADE,
		accident_date DATE NOT NULL,
		severity VARCHAR(20) NOT NULL,
		impact_point VARCHAR(30) NOT NULL,
		airbag_deployed BOOLEAN DEFAULT FALSE,
		structural_damage BOOLEAN DEFAULT FALSE,
		flood_damage BOOLEAN DEFAULT FALSE,
		fire_damage BOOLEAN DEFAULT FALSE,
		theft_vandalism BOOLEAN DEFAULT FALSE,
		towing_required BOOLEAN DEFAULT FALSE,
		drivable BOOLEAN DEFAULT TRUE,
		total_loss BOOLEAN DEFAULT FALSE,
		rollover BOOLEAN DEFAULT FALSE,
		hail_damage BOOLEAN DEFAULT FALSE,
		estimated_cost DECIMAL(10,2),
		police_report_number VARCHAR(100),
		insurance_claim_number VARCHAR(100),
		insurance_company VARCHAR(200),
		accident_location VARCHAR(200),
		description TEXT,
		odometer_km INTEGER,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS service_records (
		id SERIAL PRIMARY KEY,
		submission_id INTEGER REFERENCES submissions(id) ON DELETE CASCADE,
		service_date DATE NOT NULL,
		odometer_km INTEGER,
		service_type VARCHAR(50) NOT NULL,
		facility_name VARCHAR(200),
		description TEXT,
		cost DECIMAL(10,2),
		parts_type VARCHAR(20),
		ev_battery_soh DECIMAL(5,2),
		ev_battery_kwh DECIMAL(6,2),
		ev_service_type VARCHAR(50),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS ownership_changes (
		id SERIAL PRIMARY KEY,
		submission_id INTEGER REFERENCES submissions(id) ON DELETE CASCADE,
		change_date DATE NOT NULL,
		previous_owner_type VARCHAR(30),
		new_owner_type VARCHAR(30),
		province VARCHAR(4) DEFAULT 'QC',
		sale_price DECIMAL(10,2),
		odometer_km INTEGER,
		title_brand VARCHAR(30),
		usage_type VARCHAR(30),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS inspections (
		id SERIAL PRIMARY KEY,
		submission_id INTEGER REFERENCES submissions(id) ON DELETE CASCADE,
		inspection_date DATE NOT NULL,
		result VARCHAR(10) NOT NULL,
		odometer_km INTEGER,
		inspection_type VARCHAR(50) DEFAULT 'saaq_mecanique',
		inspector_name VARCHAR(200),
		facility_name VARCHAR(200),
		facility_permit VARCHAR(100),
		notes TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS recall_completions (
		id SERIAL PRIMARY KEY,
		submission_id INTEGER REFERENCES submissions(id) ON DELETE CASCADE,
		recall_number VARCHAR(50) NOT NULL,
		completion_date DATE,
		facility_name VARCHAR(200),
		recall_description TEXT,
		component VARCHAR(100),
		remedy_type VARCHAR(50),
		odometer_km INTEGER,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS title_brands (
		id SERIAL PRIMARY KEY,
		submission_id INTEGER REFERENCES submissions(id) ON DELETE CASCADE,
		brand_date DATE,
		brand_type VARCHAR(30),
		province VARCHAR(4) DEFAULT 'QC',
		previous_brand VARCHAR(30),
		insurance_company VARCHAR(200),
		total_loss_amount DECIMAL(10,2),
		source VARCHAR(100),
		notes TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS liens (
		id SERIAL PRIMARY KEY,
		submission_id INTEGER REFERENCES submissions(id) ON DELETE CASCADE,
		lien_holder VARCHAR(200),
		lien_type VARCHAR(50),
		lien_amount DECIMAL(12,2),
		registration_date DATE,
		discharge_date DATE,
		lien_status VARCHAR(20) DEFAULT 'active',
		province VARCHAR(4) DEFAULT 'QC',
		registration_number VARCHAR(100),
		notes TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS theft_records (
		id SERIAL PRIMARY KEY,
		submission_id INTEGER REFERENCES submissions(id) ON DELETE CASCADE,
		date_stolen DATE,
		police_report_number VARCHAR(100),
		police_jurisdiction VARCHAR(100),
		date_recovered DATE,
		recovery_location VARCHAR(200),
		condition_at_recovery VARCHAR(100),
		parts_missing TEXT,
		insurance_claim VARCHAR(100),
		notes TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS obd_diagnostics (
		id SERIAL PRIMARY KEY,
		submission_id INTEGER REFERENCES submissions(id) ON DELETE CASCADE,
		scan_date DATE,
		odometer_km INTEGER,
		scan_tool VARCHAR(100),
		mil_status VARCHAR(20),
		dtc_active TEXT,
		dtc_pending TEXT,
		dtc_permanent TEXT,
		readiness_monitors JSONB,
		ecu_odometer_km INTEGER,
		freeze_frame JSONB,
		notes TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS auction_records (
		id SERIAL PRIMARY KEY,
		submission_id INTEGER REFERENCES submissions(id) ON DELETE CASCADE,
		auction_date DATE,
		auction_house VARCHAR(200),
		auction_location VARCHAR(200),
		lot_number VARCHAR(50),
		sale_type VARCHAR(30),
		seller_type VARCHAR(30),
		naaa_grade DECIMAL(2,1),
		exterior_grade DECIMAL(2,1),
		interior_grade DECIMAL(2,1),
		mechanical_grade DECIMAL(2,1),
		tire_tread_fl DECIMAL(4,1),
		tire_tread_fr DECIMAL(4,1),
		tire_tread_rl DECIMAL(4,1),
		tire_tread_rr DECIMAL(4,1),
		odor VARCHAR(50),
		keys_count INTEGER,
		run_drive BOOLEAN,
		sale_price DECIMAL(10,2),
		damage_announcements TEXT,
		notes TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS fleet_history (
		id SERIAL PRIMARY KEY,
		submission_id INTEGER REFERENCES submissions(id) ON DELETE CASCADE,
		usage_type VARCHAR(30),
		company_name VARCHAR(200),
		date_entered DATE,
		date_left DATE,
		mileage_during INTEGER,
		estimated_drivers INTEGER,
		province VARCHAR(4) DEFAULT 'QC',
		notes TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS import_export_records (
		id SERIAL PRIMARY KEY,
		submission_id INTEGER REFERENCES submissions(id) ON DELETE CASCADE,
		direction VARCHAR(10),
		country_origin VARCHAR(100),
		country_destination VARCHAR(100),
		record_date DATE,
		riv_number VARCHAR(50),
		customs_declaration VARCHAR(100),
		odometer_at_import INTEGER,
		odometer_unit VARCHAR(5) DEFAULT 'km',
		tc_compliance BOOLEAN,
		recalls_cleared BOOLEAN,
		notes TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS emissions_tests (
		id SERIAL PRIMARY KEY,
		submission_id INTEGER REFERENCES submissions(id) ON DELETE CASCADE,
		test_date DATE,
		test_type VARCHAR(50),
		result VARCHAR(20),
		station_name VARCHAR(200),
		station_number VARCHAR(50),
		inspector_id VARCHAR(50),
		hc_ppm DECIMAL(8,2),
		co_percent DECIMAL(6,3),
		nox_ppm DECIMAL(8,2),
		co2_percent DECIMAL(6,3),
		o2_percent DECIMAL(6,3),
		certificate_number VARCHAR(100),
		certificate_expiry DATE,
		exemption_reason VARCHAR(200),
		notes TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS modifications (
		id SERIAL PRIMARY KEY,
		submission_id INTEGER REFERENCES submissions(id) ON DELETE CASCADE,
		mod_date DATE,
		mod_type VARCHAR(50),
		description TEXT,
		part_brand VARCHAR(100),
		part_number VARCHAR(100),
		installed_by VARCHAR(200),
		homologated BOOLEAN DEFAULT FALSE,
		saaq_approved BOOLEAN DEFAULT FALSE,
		insurance_notified BOOLEAN DEFAULT FALSE,
		notes TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS odometer_readings (
		id SERIAL PRIMARY KEY,
		vin VARCHAR(17) NOT NULL,
		submission_id INTEGER REFERENCES submissions(id) ON DELETE SET NULL,
		reading_date DATE NOT NULL,
		odometer_km INTEGER NOT NULL,
		unit VARCHAR(5) NOT NULL DEFAULT 'km',
		source VARCHAR(30),
		ecu_odometer_km INTEGER,
		fraud_flag BOOLEAN NOT NULL DEFAULT FALSE,
		fraud_reason TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_odometer_vin ON odometer_readings(vin)`,
	`CREATE INDEX IF NOT EXISTS idx_odometer_date ON odometer_readings(reading_date)`,

	`CREATE TABLE IF NOT EXISTS audit_log (
		id SERIAL PRIMARY KEY,
		action VARCHAR(50) NOT NULL,
		target_table VARCHAR(50),
		target_id INTEGER,
		details JSONB,
		ip_address VARCHAR(45),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS import_batches (
		id SERIAL PRIMARY KEY,
		batch_ref VARCHAR(20) NOT NULL UNIQUE,
		submitted_by_name VARCHAR(200),
		submitted_by_email VARCHAR(200),
		filename VARCHAR(255),
		total_rows INTEGER NOT NULL DEFAULT 0,
		success_count INTEGER NOT NULL DEFAULT 0,
		error_count INTEGER NOT NULL DEFAULT 0,
		errors JSONB,
		submission_ids JSONB,
		status VARCHAR(15) NOT NULL DEFAULT 'processing',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		completed_at TIMESTAMPTZ
	)`,

	`CREATE TABLE IF NOT EXISTS chain_anchors (
		id SERIAL PRIMARY KEY,
		anchor_hash VARCHAR(64) NOT NULL,
		submission_count INTEGER NOT NULL,
		first_submission_id INTEGER,
		last_submission_id INTEGER,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS submission_photos (
		id SERIAL PRIMARY KEY,
		submission_id INTEGER REFERENCES submissions(id) ON DELETE CASCADE,
		filename VARCHAR(255) NOT NULL,
		original_name VARCHAR(255),
		mime_type VARCHAR(50),
		file_size INTEGER,
		uploaded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// Migrate brings the schema up to date.
func (s *Store) Migrate(ctx context.Context) error {
	s.log.Info("running postgres migrations", "statements", len(migrations))
	for _, stmt := range migrations {
		if _, err := s.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	s.log.Info("postgres migrations completed")
	return nil
}
