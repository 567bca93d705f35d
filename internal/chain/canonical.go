package chain

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Genesis is the prev sentinel hashed into the first link.
const Genesis = "GENESIS"

// CanonicalJSON renders v with lexicographically sorted object keys, no
// whitespace, and non-ASCII characters preserved. Reproducing these bytes
// exactly is what makes the chain verifiable across versions; HTML
// escaping or key reordering would silently break old hashes.
func CanonicalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode canonical json: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// DecodeSnapshot parses a stored data_snapshot preserving numeric
// literals, so re-encoding yields the same bytes that were hashed.
func DecodeSnapshot(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var snapshot map[string]any
	if err := dec.Decode(&snapshot); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return snapshot, nil
}

// ComputeHash returns the SHA-256 of the canonical payload for one link,
// as lowercase hex.
func ComputeHash(id int, vin, reportType string, snapshot map[string]any, prev *string, ts string) (string, error) {
	prevValue := Genesis
	if prev != nil {
		prevValue = *prev
	}
	payload := map[string]any{
		"data": snapshot,
		"id":   id,
		"prev": prevValue,
		"ts":   ts,
		"type": reportType,
		"vin":  vin,
	}
	b, err := CanonicalJSON(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
