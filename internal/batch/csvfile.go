package batch

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

const (
	// MaxCSVBytes bounds the accepted upload body.
	MaxCSVBytes = 2 << 20
	// MaxCSVRows bounds the number of data rows per file.
	MaxCSVRows = 500
	// MaxJSONRecords bounds the number of records per JSON batch.
	MaxJSONRecords = 100
)

var (
	ErrCSVTooLarge    = errors.New("csv file exceeds 2 MiB")
	ErrCSVTooManyRows = errors.New("csv file exceeds 500 rows")
	ErrCSVMissingVIN  = errors.New("csv header must include a vin column")
	ErrCSVEmpty       = errors.New("csv file has no data rows")
	ErrTooManyRecords = errors.New("batch exceeds 100 records")
)

// csvFile is a parsed upload: lowercased headers and one string map per
// data row.
type csvFile struct {
	headers []string
	rows    []map[string]string
}

// parseCSV decodes, sniffs the delimiter and reads an uploaded file.
func parseCSV(raw []byte) (*csvFile, error) {
	if len(raw) > MaxCSVBytes {
		return nil, ErrCSVTooLarge
	}

	text := decodeText(raw)
	reader := csv.NewReader(strings.NewReader(text))
	reader.Comma = sniffDelimiter(text)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) < 2 {
		return nil, ErrCSVEmpty
	}
	if len(records)-1 > MaxCSVRows {
		return nil, ErrCSVTooManyRows
	}

	headers := make([]string, len(records[0]))
	hasVIN := false
	for i, h := range records[0] {
		headers[i] = strings.ToLower(strings.TrimSpace(h))
		if headers[i] == "vin" {
			hasVIN = true
		}
	}
	if !hasVIN {
		return nil, ErrCSVMissingVIN
	}

	file := &csvFile{headers: headers}
	for _, record := range records[1:] {
		row := make(map[string]string, len(headers))
		for i, value := range record {
			if i >= len(headers) {
				break
			}
			row[headers[i]] = strings.TrimSpace(value)
		}
		file.rows = append(file.rows, row)
	}
	return file, nil
}

// decodeText strips a UTF-8 BOM and falls back to Latin-1 when the bytes
// are not valid UTF-8, which covers the spreadsheet exports we see in
// practice.
func decodeText(raw []byte) string {
	raw = bytes.TrimPrefix(raw, []byte{0xEF, 0xBB, 0xBF})
	if utf8.Valid(raw) {
		return string(raw)
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
	if err != nil {
		return string(raw)
	}
	return string(decoded)
}

// sniffDelimiter picks ',' or ';' by counting occurrences in the header
// line.
func sniffDelimiter(text string) rune {
	header := text
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		header = text[:i]
	}
	if strings.Count(header, ";") > strings.Count(header, ",") {
		return ';'
	}
	return ','
}

// detectReportType infers a row's report type from its populated columns.
// Rules are checked in order; the fallback is service.
func detectReportType(row map[string]string) string {
	has := func(keys ...string) bool {
		for _, k := range keys {
			if strings.TrimSpace(row[k]) != "" {
				return true
			}
		}
		return false
	}

	switch {
	case has("severity", "impact_point", "airbag_deployed"):
		return "accident"
	case has("service_type") || (has("facility_name") && has("cost")):
		return "service"
	case has("previous_owner_type", "new_owner_type", "sale_price"):
		return "ownership"
	case func() bool {
		r := strings.ToLower(strings.TrimSpace(row["result"]))
		return r == "pass" || r == "fail"
	}():
		return "inspection"
	case has("recall_number"):
		return "recall_completion"
	case has("date") && has("odometer_km"):
		return "service"
	default:
		return "service"
	}
}

// Column sets driving CSV value coercion. Everything else stays a string.
var (
	numericColumns = map[string]bool{
		"odometer_km": true, "cost": true, "estimated_cost": true,
		"sale_price": true, "ecu_odometer_km": true, "odometer_at_import": true,
		"lien_amount": true, "total_loss_amount": true,
		"naaa_grade": true, "exterior_grade": true, "interior_grade": true,
		"mechanical_grade": true, "tire_tread_fl": true, "tire_tread_fr": true,
		"tire_tread_rl": true, "tire_tread_rr": true, "keys_count": true,
		"mileage_during": true, "estimated_drivers": true,
		"ev_battery_soh": true, "ev_battery_kwh": true,
		"hc_ppm": true, "co_percent": true, "nox_ppm": true,
		"co2_percent": true, "o2_percent": true,
	}
	booleanColumns = map[string]bool{
		"airbag_deployed": true, "structural_damage": true, "flood_damage": true,
		"fire_damage": true, "theft_vandalism": true, "towing_required": true,
		"drivable": true, "total_loss": true, "rollover": true, "hail_damage": true,
		"run_drive": true, "tc_compliance": true, "recalls_cleared": true,
		"homologated": true, "saaq_approved": true, "insurance_notified": true,
	}
)

// coerceRow turns a CSV string row into the typed data map a direct API
// submission would carry. Empty cells are dropped; vin and report_type
// are handled by the caller and excluded here.
func coerceRow(row map[string]string) map[string]any {
	data := make(map[string]any, len(row))
	for key, value := range row {
		if key == "vin" || key == "report_type" || value == "" {
			continue
		}
		switch {
		case numericColumns[key]:
			if _, err := strconv.ParseFloat(value, 64); err == nil {
				data[key] = json.Number(value)
			} else {
				data[key] = value
			}
		case booleanColumns[key]:
			data[key] = parseBool(value)
		default:
			data[key] = value
		}
	}
	return data
}

// parseBool accepts true|1|oui|yes (case-insensitive) as true.
func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "1", "oui", "yes":
		return true
	}
	return false
}
