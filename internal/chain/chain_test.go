package chain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestLink(t *testing.T, id int, prev *string, snapshotJSON string) linkRow {
	t.Helper()
	snapshot := snapshotFromJSON(t, snapshotJSON)
	ts, _ := snapshot["submitted_at"].(string)
	hash, err := ComputeHash(id, "2HGFC2F59MH528491", "service", snapshot, prev, ts)
	require.NoError(t, err)
	raw, err := CanonicalJSON(snapshot)
	require.NoError(t, err)
	return linkRow{
		id:           id,
		vin:          "2HGFC2F59MH528491",
		reportType:   "service",
		previousHash: prev,
		storedHash:   hash,
		snapshotRaw:  raw,
	}
}

func TestChain_VerifyLink_AcceptsUntamperedRow(t *testing.T) {
	t.Parallel()

	link := newTestLink(t, 1, nil, `{"vin":"2HGFC2F59MH528491","report_type":"service","data":{"cost":89.99},"submitted_at":"2025-06-15T12:00:00Z","submitter":{"name":"A"},"ip":""}`)

	recomputed, broken := verifyLink(&link)
	require.Nil(t, broken)
	require.Equal(t, link.storedHash, recomputed)
}

func TestChain_VerifyLink_FlagsTamperedSnapshot(t *testing.T) {
	t.Parallel()

	link := newTestLink(t, 1, nil, `{"vin":"2HGFC2F59MH528491","report_type":"service","data":{"cost":89.99},"submitted_at":"2025-06-15T12:00:00Z","submitter":{"name":"A"},"ip":""}`)
	tampered := snapshotFromJSON(t, `{"vin":"2HGFC2F59MH528491","report_type":"service","data":{"cost":1.00},"submitted_at":"2025-06-15T12:00:00Z","submitter":{"name":"A"},"ip":""}`)
	raw, err := CanonicalJSON(tampered)
	require.NoError(t, err)
	link.snapshotRaw = raw

	recomputed, broken := verifyLink(&link)
	require.NotNil(t, broken)
	require.Equal(t, "hash_mismatch", broken.Error)
	require.Equal(t, link.id, broken.SubmissionID)
	require.NotEqual(t, link.storedHash, recomputed)
	require.NotEmpty(t, recomputed)
}

func TestChain_VerifyLink_ReportsUnreadableSnapshot(t *testing.T) {
	t.Parallel()

	link := newTestLink(t, 1, nil, `{"vin":"2HGFC2F59MH528491","report_type":"service","data":{},"submitted_at":"2025-06-15T12:00:00Z","submitter":{},"ip":""}`)
	link.snapshotRaw = []byte(`{not json`)

	recomputed, broken := verifyLink(&link)
	require.NotNil(t, broken)
	require.Equal(t, "unreadable", broken.Error)
	require.Empty(t, recomputed)
}

func TestChain_HashPtrEqual(t *testing.T) {
	t.Parallel()

	a := "aa"
	b := "bb"
	require.True(t, hashPtrEqual(nil, nil))
	require.True(t, hashPtrEqual(&a, &a))
	require.False(t, hashPtrEqual(&a, &b))
	require.False(t, hashPtrEqual(&a, nil))
	require.False(t, hashPtrEqual(nil, &b))
}
