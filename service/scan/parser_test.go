package scan

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawFromJSON(t *testing.T, src string) RawInput {
	t.Helper()
	var raw RawInput
	require.NoError(t, json.Unmarshal([]byte(src), &raw))
	return raw
}

func TestParse_StructuredObject(t *testing.T) {
	raw := rawFromJSON(t, `{
		"programs": ["11111111111111111111111111111112"],
		"accounts": ["walletA", "walletB"],
		"instructions": [
			{"index": 0, "data": "0102", "accounts": ["walletA"]},
			{"index": 1}
		],
		"signatures": ["sig1"],
		"recent_blockhash": "hash1"
	}`)

	tx, err := Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, []string{"11111111111111111111111111111112"}, tx.Programs)
	assert.Equal(t, []string{"walletA", "walletB"}, tx.Accounts)
	require.Len(t, tx.Instructions, 2)
	assert.Equal(t, 0, tx.Instructions[0].Index)
	assert.Equal(t, "0102", tx.Instructions[0].Data)
	assert.Equal(t, []string{"walletA"}, tx.Instructions[0].Accounts)
	assert.Equal(t, 1, tx.Instructions[1].Index)
	assert.Empty(t, tx.Instructions[1].Data)
	assert.Equal(t, []string{"sig1"}, tx.Signatures)
	assert.Equal(t, "hash1", tx.RecentBlockhash)
}

func TestParse_EmptyObjectIsValid(t *testing.T) {
	tx, err := Parse(rawFromJSON(t, `{}`))
	require.NoError(t, err)

	// Slices are empty, never nil.
	assert.NotNil(t, tx.Programs)
	assert.NotNil(t, tx.Instructions)
	assert.NotNil(t, tx.Accounts)
	assert.Empty(t, tx.Programs)
}

func TestParse_RejectsMalformedPayloads(t *testing.T) {
	tests := []struct {
		name       string
		payload    string
		wantParse  bool
		wantValida bool
	}{
		{name: "null payload", payload: `null`, wantParse: true},
		{name: "number payload", payload: `42`, wantParse: true},
		{name: "list payload", payload: `[1,2,3]`, wantParse: true},
		{name: "empty string", payload: `""`, wantParse: true},
		{name: "non-base64 string", payload: `"not-base64!!!"`, wantParse: true},
		{name: "object without transaction fields", payload: `{"foo": "bar"}`, wantValida: true},
		{name: "programs not a list", payload: `{"programs": "oops"}`, wantValida: true},
		{name: "programs with non-string element", payload: `{"programs": [1]}`, wantValida: true},
		{name: "instructions not a list", payload: `{"instructions": {}}`, wantValida: true},
		{name: "instruction not an object", payload: `{"instructions": ["x"]}`, wantValida: true},
		{name: "instruction missing index", payload: `{"instructions": [{"data": "00"}]}`, wantValida: true},
		{name: "instruction fractional index", payload: `{"instructions": [{"index": 1.5}]}`, wantValida: true},
		{name: "instruction data not a string", payload: `{"instructions": [{"index": 0, "data": 7}]}`, wantValida: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(rawFromJSON(t, tt.payload))
			require.Error(t, err)
			assert.True(t, IsInputError(err), "expected an input error, got %v", err)

			var parseErr *ParseError
			var validationErr *ValidationError
			if tt.wantParse {
				assert.ErrorAs(t, err, &parseErr)
			}
			if tt.wantValida {
				assert.ErrorAs(t, err, &validationErr)
			}
		})
	}
}

func TestParse_Base64StructuredJSON(t *testing.T) {
	inner := `{"programs": ["TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"], "accounts": ["a"]}`
	encoded := base64.StdEncoding.EncodeToString([]byte(inner))

	tx, err := Parse(RawString(encoded))
	require.NoError(t, err)
	assert.Equal(t, []string{"TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"}, tx.Programs)
	assert.Equal(t, []string{"a"}, tx.Accounts)
}

func TestParse_Base64Garbage(t *testing.T) {
	// Valid base64 that decodes to neither a wire transaction nor JSON.
	encoded := base64.StdEncoding.EncodeToString([]byte("not a transaction"))

	_, err := Parse(RawString(encoded))
	require.Error(t, err)
	var parseErr *ParseError
	assert.ErrorAs(t, err, &parseErr)
}

func TestParse_Deterministic(t *testing.T) {
	src := `{
		"programs": ["p1", "p2"],
		"accounts": ["a1", "a2", "a1"],
		"instructions": [{"index": 0, "data": "ff", "accounts": ["a1"]}]
	}`

	first, err := Parse(rawFromJSON(t, src))
	require.NoError(t, err)
	second, err := Parse(rawFromJSON(t, src))
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestParse_CamelCaseBlockhash(t *testing.T) {
	tx, err := Parse(rawFromJSON(t, `{"accounts": [], "recentBlockhash": "bh"}`))
	require.NoError(t, err)
	assert.Equal(t, "bh", tx.RecentBlockhash)
}
