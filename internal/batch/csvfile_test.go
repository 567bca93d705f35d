package batch

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBatch_ParseCSV_CommaDelimited(t *testing.T) {
	t.Parallel()

	file, err := parseCSV([]byte("VIN,Date,Odometer_KM\n2HGFC2F59MH528491,2025-06-15,45000\n"))
	require.NoError(t, err)
	require.Equal(t, []string{"vin", "date", "odometer_km"}, file.headers)
	require.Len(t, file.rows, 1)
	require.Equal(t, "2HGFC2F59MH528491", file.rows[0]["vin"])
	require.Equal(t, "45000", file.rows[0]["odometer_km"])
}

func TestBatch_ParseCSV_SniffsSemicolon(t *testing.T) {
	t.Parallel()

	file, err := parseCSV([]byte("vin;date;cost\n2HGFC2F59MH528491;2025-06-15;89,99\n"))
	require.NoError(t, err)
	require.Equal(t, []string{"vin", "date", "cost"}, file.headers)
	require.Equal(t, "89,99", file.rows[0]["cost"])
}

func TestBatch_ParseCSV_StripsBOM(t *testing.T) {
	t.Parallel()

	raw := append([]byte{0xEF, 0xBB, 0xBF}, []byte("vin,date\n2HGFC2F59MH528491,2025-06-15\n")...)
	file, err := parseCSV(raw)
	require.NoError(t, err)
	require.Equal(t, "vin", file.headers[0])
}

func TestBatch_ParseCSV_FallsBackToLatin1(t *testing.T) {
	t.Parallel()

	// "Montréal" with é encoded as Latin-1 0xE9, invalid UTF-8.
	raw := []byte("vin,facility_name\n2HGFC2F59MH528491,Garage Montr\xe9al\n")
	file, err := parseCSV(raw)
	require.NoError(t, err)
	require.Equal(t, "Garage Montréal", file.rows[0]["facility_name"])
}

func TestBatch_ParseCSV_RequiresVINColumn(t *testing.T) {
	t.Parallel()

	_, err := parseCSV([]byte("date,cost\n2025-06-15,10\n"))
	require.ErrorIs(t, err, ErrCSVMissingVIN)
}

func TestBatch_ParseCSV_RejectsOversizeFile(t *testing.T) {
	t.Parallel()

	_, err := parseCSV(make([]byte, MaxCSVBytes+1))
	require.ErrorIs(t, err, ErrCSVTooLarge)
}

func TestBatch_ParseCSV_RejectsTooManyRows(t *testing.T) {
	t.Parallel()

	var sb strings.Builder
	sb.WriteString("vin,date\n")
	for i := 0; i < MaxCSVRows+1; i++ {
		sb.WriteString("2HGFC2F59MH528491,2025-06-15\n")
	}
	_, err := parseCSV([]byte(sb.String()))
	require.ErrorIs(t, err, ErrCSVTooManyRows)
}

func TestBatch_ParseCSV_RejectsHeaderOnly(t *testing.T) {
	t.Parallel()

	_, err := parseCSV([]byte("vin,date\n"))
	require.ErrorIs(t, err, ErrCSVEmpty)
}

func TestBatch_DetectReportType_OrderedRules(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		row  map[string]string
		want string
	}{
		{"severity wins", map[string]string{"severity": "minor", "service_type": "oil_change"}, "accident"},
		{"impact point", map[string]string{"impact_point": "front"}, "accident"},
		{"airbag", map[string]string{"airbag_deployed": "oui"}, "accident"},
		{"service type", map[string]string{"service_type": "oil_change"}, "service"},
		{"facility plus cost", map[string]string{"facility_name": "G", "cost": "89.99"}, "service"},
		{"facility alone falls through to default service", map[string]string{"facility_name": "G"}, "service"}, // rule 2 needs cost too
		{"ownership", map[string]string{"sale_price": "15000"}, "ownership"},
		{"inspection pass", map[string]string{"result": "pass"}, "inspection"},
		{"inspection fail", map[string]string{"result": "FAIL"}, "inspection"},
		{"result other value", map[string]string{"result": "maybe"}, "service"},
		{"recall", map[string]string{"recall_number": "24V-123"}, "recall_completion"},
		{"date plus odometer", map[string]string{"date": "2025-06-15", "odometer_km": "45000"}, "service"},
		{"empty row", map[string]string{}, "service"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, detectReportType(tc.row), tc.name)
	}
}

func TestBatch_CoerceRow_TypesAndDrops(t *testing.T) {
	t.Parallel()

	data := coerceRow(map[string]string{
		"vin":             "2HGFC2F59MH528491",
		"report_type":     "service",
		"date":            "2025-06-15",
		"odometer_km":     "45000",
		"cost":            "89.99",
		"airbag_deployed": "OUI",
		"drivable":        "no",
		"description":     "",
		"notes":           "RAS",
	})

	require.NotContains(t, data, "vin")
	require.NotContains(t, data, "report_type")
	require.NotContains(t, data, "description")
	require.Equal(t, json.Number("45000"), data["odometer_km"])
	require.Equal(t, json.Number("89.99"), data["cost"])
	require.Equal(t, true, data["airbag_deployed"])
	require.Equal(t, false, data["drivable"])
	require.Equal(t, "2025-06-15", data["date"])
	require.Equal(t, "RAS", data["notes"])
}

func TestBatch_ParseBool_AcceptedSpellings(t *testing.T) {
	t.Parallel()

	for _, v := range []string{"true", "TRUE", "1", "oui", "Oui", "yes", "YES"} {
		require.True(t, parseBool(v), v)
	}
	for _, v := range []string{"false", "0", "non", "no", "", "2"} {
		require.False(t, parseBool(v), v)
	}
}

func TestBatch_Templates_AllParseWithVINColumn(t *testing.T) {
	t.Parallel()

	for _, name := range TemplateNames() {
		content, ok := Template(name)
		require.True(t, ok, name)

		file, err := parseCSV([]byte(content))
		require.NoError(t, err, name)
		require.Len(t, file.rows, 2, name)

		hasReportType := false
		for _, h := range file.headers {
			if h == "report_type" {
				hasReportType = true
			}
		}
		require.Equal(t, name == "general", hasReportType, name)
	}
}

func TestBatch_Template_UnknownName(t *testing.T) {
	t.Parallel()

	_, ok := Template("inexistant")
	require.False(t, ok)
}

func TestBatch_NewBatchRef_Format(t *testing.T) {
	t.Parallel()

	ref := newBatchRef("CSV")
	require.Regexp(t, `^CSV-[0-9A-F]{8}$`, ref)
	require.NotEqual(t, ref, newBatchRef("CSV"))

	require.Regexp(t, `^API-[0-9A-F]{8}$`, newBatchRef("API"))
}
