package scan

import (
	"encoding/json"
)

// RawInput is the polymorphic transaction payload accepted by the
// scanner: a structured object, a base64-encoded serialized
// transaction, or an opaque string. It is consumed once by Parse and
// not retained afterward.
type RawInput struct {
	value any
}

// RawObject wraps a structured transaction record.
func RawObject(m map[string]any) RawInput {
	if m == nil {
		m = map[string]any{}
	}
	return RawInput{value: m}
}

// RawString wraps a string payload (typically base64 wire format).
func RawString(s string) RawInput {
	return RawInput{value: s}
}

// RawValue wraps an arbitrary decoded JSON value. Values with no
// defined decoding (numbers, lists, null) fail in Parse, not here.
func RawValue(v any) RawInput {
	return RawInput{value: v}
}

// UnmarshalJSON accepts any JSON value; shape errors are deferred to
// Parse so the transport layer can report them uniformly.
func (r *RawInput) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	r.value = v
	return nil
}

// MarshalJSON re-encodes the wrapped value. Map keys are emitted in
// sorted order, which keeps the encoding canonical for fingerprinting.
func (r RawInput) MarshalJSON() ([]byte, error) {
	if r.value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(r.value)
}

// CanonicalBytes returns a deterministic encoding of the payload.
// Identical payloads always produce identical bytes.
func (r RawInput) CanonicalBytes() []byte {
	b, err := r.MarshalJSON()
	if err != nil {
		// Unreachable for values produced by UnmarshalJSON; fall back
		// to an empty payload rather than destabilizing fingerprints.
		return []byte("null")
	}
	return b
}
