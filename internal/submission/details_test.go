package submission

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSubmission_ValidType(t *testing.T) {
	t.Parallel()

	for _, rt := range ReportTypes {
		require.True(t, ValidType(rt), rt)
	}
	require.False(t, ValidType(""))
	require.False(t, ValidType("warranty"))
	require.False(t, ValidType("Service"))
	require.Len(t, ReportTypes, 14)
}

func TestSubmission_Fields_IntValue(t *testing.T) {
	t.Parallel()

	d := fields{
		"a": json.Number("45000"),
		"b": float64(88000),
		"c": "12345",
		"d": "12.9",
		"e": "",
		"f": "not a number",
		"g": nil,
	}
	require.Equal(t, 45000, *d.intValue("a"))
	require.Equal(t, 88000, *d.intValue("b"))
	require.Equal(t, 12345, *d.intValue("c"))
	require.Equal(t, 12, *d.intValue("d"))
	require.Nil(t, d.intValue("e"))
	require.Nil(t, d.intValue("f"))
	require.Nil(t, d.intValue("g"))
	require.Nil(t, d.intValue("missing"))
}

func TestSubmission_Fields_FloatValue(t *testing.T) {
	t.Parallel()

	d := fields{
		"a": json.Number("89.99"),
		"b": "4500.50",
		"c": float64(12),
	}
	require.InDelta(t, 89.99, *d.floatValue("a"), 1e-9)
	require.InDelta(t, 4500.50, *d.floatValue("b"), 1e-9)
	require.InDelta(t, 12.0, *d.floatValue("c"), 1e-9)
	require.Nil(t, d.floatValue("missing"))
}

func TestSubmission_Fields_BoolValue(t *testing.T) {
	t.Parallel()

	d := fields{
		"t1": true,
		"t2": "oui",
		"t3": "1",
		"t4": "YES",
		"f1": false,
		"f2": "non",
		"f3": "0",
		"e":  "",
	}
	require.True(t, d.boolValue("t1", false))
	require.True(t, d.boolValue("t2", false))
	require.True(t, d.boolValue("t3", false))
	require.True(t, d.boolValue("t4", false))
	require.False(t, d.boolValue("f1", true))
	require.False(t, d.boolValue("f2", true))
	require.False(t, d.boolValue("f3", true))
	// Empty and absent values keep the default.
	require.True(t, d.boolValue("e", true))
	require.True(t, d.boolValue("missing", true))
	require.False(t, d.boolValue("missing", false))
}

func TestSubmission_Fields_DateValue(t *testing.T) {
	t.Parallel()

	d := fields{
		"plain":   "2025-06-15",
		"rfc3339": "2025-06-15T10:30:00Z",
		"junk":    "15/06/2025",
	}
	require.Equal(t, time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC), *d.dateValue("plain"))
	require.NotNil(t, d.dateValue("rfc3339"))
	require.Nil(t, d.dateValue("junk"))
	require.Nil(t, d.dateValue("missing"))
}

func TestSubmission_Fields_RequireDate(t *testing.T) {
	t.Parallel()

	d := fields{"date": "2025-06-15"}
	_, err := d.requireDate("date")
	require.NoError(t, err)

	_, err = d.requireDate("other")
	require.ErrorIs(t, err, ErrMissingField)
	require.Contains(t, err.Error(), "other")
}

func TestSubmission_Fields_EnumOr(t *testing.T) {
	t.Parallel()

	d := fields{"severity": "severe", "parts": "refurbished"}
	require.Equal(t, "severe", d.enumOr("severity", "minor", "minor", "moderate", "severe", "total_loss"))
	require.Equal(t, "na", d.enumOr("parts", "na", "oem", "aftermarket", "na"))
	require.Equal(t, "minor", d.enumOr("missing", "minor", "minor", "moderate"))
}

func TestSubmission_Fields_JSONValue(t *testing.T) {
	t.Parallel()

	d := fields{
		"obj":    map[string]any{"catalyst": "ready"},
		"rawstr": `{"misfire":"not_ready"}`,
		"plain":  "P0420",
		"empty":  "",
	}
	require.JSONEq(t, `{"catalyst":"ready"}`, string(d.jsonValue("obj")))
	require.JSONEq(t, `{"misfire":"not_ready"}`, string(d.jsonValue("rawstr")))
	require.JSONEq(t, `"P0420"`, string(d.jsonValue("plain")))
	require.Nil(t, d.jsonValue("empty"))
	require.Nil(t, d.jsonValue("missing"))
}

func TestSubmission_DetailInserts_CoverEveryReportType(t *testing.T) {
	t.Parallel()

	for _, rt := range ReportTypes {
		_, ok := detailInserts[rt]
		require.True(t, ok, rt)
	}
	require.Len(t, detailInserts, len(ReportTypes))
}
