package scan

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprint_Deterministic(t *testing.T) {
	raw := rawFromJSON(t, `{"programs": ["p1"], "accounts": ["a1"]}`)

	first := Fingerprint(raw, "wallet1", ScanDeep)
	second := Fingerprint(raw, "wallet1", ScanDeep)
	assert.Equal(t, first, second)
	assert.Len(t, first, 64)
}

func TestFingerprint_KeyOrderIndependent(t *testing.T) {
	a := rawFromJSON(t, `{"programs": ["p1"], "accounts": ["a1"]}`)
	b := rawFromJSON(t, `{"accounts": ["a1"], "programs": ["p1"]}`)

	assert.Equal(t, Fingerprint(a, "w", ScanDeep), Fingerprint(b, "w", ScanDeep))
}

func TestFingerprint_DiscriminatesInputs(t *testing.T) {
	base := rawFromJSON(t, `{"programs": ["p1"]}`)
	other := rawFromJSON(t, `{"programs": ["p2"]}`)

	baseFP := Fingerprint(base, "wallet1", ScanDeep)

	assert.NotEqual(t, baseFP, Fingerprint(other, "wallet1", ScanDeep), "payload must affect the fingerprint")
	assert.NotEqual(t, baseFP, Fingerprint(base, "wallet2", ScanDeep), "wallet must affect the fingerprint")
	assert.NotEqual(t, baseFP, Fingerprint(base, "wallet1", ScanQuick), "scan type must affect the fingerprint")
}

func TestFingerprint_FieldInjectionSafe(t *testing.T) {
	// The wallet and scan type are length-delimited in the hash input;
	// shifting bytes between them must change the fingerprint.
	raw := rawFromJSON(t, `{}`)
	a := Fingerprint(raw, "wx", "quick")
	b := Fingerprint(raw, "w", "xquick")
	assert.NotEqual(t, a, b)
}

func TestRawInput_CanonicalBytes(t *testing.T) {
	var raw RawInput
	require.NoError(t, json.Unmarshal([]byte(`{"b": 1, "a": 2}`), &raw))

	// Map keys encode in sorted order.
	assert.Equal(t, `{"a":2,"b":1}`, string(raw.CanonicalBytes()))

	var empty RawInput
	assert.Equal(t, "null", string(empty.CanonicalBytes()))
}
