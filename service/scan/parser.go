package scan

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// Parse normalizes a raw transaction payload into its canonical form.
// It is pure and deterministic: identical inputs always yield identical
// ParsedTransactions, which the result cache relies on. No I/O happens
// here; even large transactions parse well under the 100ms target.
//
// Accepted inputs:
//   - a structured object ({} is valid and yields an all-empty value)
//   - a string holding a base64-encoded wire-format transaction, or
//     base64-encoded JSON of the structured form
//
// Anything else (null, numbers, lists, undecodable strings) fails with
// ParseError; a decodable structure with the wrong shape fails with
// ValidationError.
func Parse(raw RawInput) (*ParsedTransaction, error) {
	switch v := raw.value.(type) {
	case map[string]any:
		return parseStructured(v)
	case string:
		return parseString(v)
	case nil:
		return nil, &ParseError{Reason: "no transaction payload"}
	default:
		return nil, &ParseError{Reason: fmt.Sprintf("unsupported payload type %T", v)}
	}
}

// parseString decodes a base64 payload. Wire-format transactions are
// tried first (the common wallet integration path), then JSON of the
// structured form.
func parseString(s string) (*ParsedTransaction, error) {
	if s == "" {
		return nil, &ParseError{Reason: "empty transaction string"}
	}

	decoded, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, &ParseError{Reason: "string payload is not valid base64", Err: err}
	}

	if tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(decoded)); err == nil {
		return fromWireTransaction(tx), nil
	}

	var obj map[string]any
	if err := json.Unmarshal(decoded, &obj); err == nil {
		return parseStructured(obj)
	}

	return nil, &ParseError{Reason: "base64 payload is neither a wire-format transaction nor structured JSON"}
}

// fromWireTransaction extracts the canonical fields from a decoded
// Solana transaction. Programs are listed in instruction order, with
// duplicates preserved.
func fromWireTransaction(tx *solana.Transaction) *ParsedTransaction {
	msg := &tx.Message

	accounts := make([]string, len(msg.AccountKeys))
	for i, key := range msg.AccountKeys {
		accounts[i] = key.String()
	}

	programs := make([]string, 0, len(msg.Instructions))
	instructions := make([]Instruction, 0, len(msg.Instructions))
	for i, ins := range msg.Instructions {
		if int(ins.ProgramIDIndex) < len(msg.AccountKeys) {
			programs = append(programs, msg.AccountKeys[ins.ProgramIDIndex].String())
		}

		insAccounts := make([]string, 0, len(ins.Accounts))
		for _, idx := range ins.Accounts {
			if int(idx) < len(accounts) {
				insAccounts = append(insAccounts, accounts[idx])
			}
		}

		instructions = append(instructions, Instruction{
			Index:    i,
			Data:     hex.EncodeToString(ins.Data),
			Accounts: insAccounts,
		})
	}

	signatures := make([]string, len(tx.Signatures))
	for i, sig := range tx.Signatures {
		signatures[i] = sig.String()
	}

	return &ParsedTransaction{
		Programs:        programs,
		Instructions:    instructions,
		Accounts:        accounts,
		Signatures:      signatures,
		RecentBlockhash: msg.RecentBlockhash.String(),
	}
}

// parseStructured validates and converts the structured record form.
func parseStructured(m map[string]any) (*ParsedTransaction, error) {
	parsed := &ParsedTransaction{
		Programs:     []string{},
		Instructions: []Instruction{},
		Accounts:     []string{},
	}

	// An empty object is a valid, all-empty transaction. A non-empty
	// object must carry at least one of the transaction fields.
	if len(m) == 0 {
		return parsed, nil
	}
	_, hasPrograms := m["programs"]
	_, hasInstructions := m["instructions"]
	_, hasAccounts := m["accounts"]
	if !hasPrograms && !hasInstructions && !hasAccounts {
		return nil, &ValidationError{Reason: "object bears none of programs, instructions, or accounts"}
	}

	if hasPrograms {
		programs, ok := toStringSlice(m["programs"])
		if !ok {
			return nil, &ValidationError{Reason: "programs must be a list of strings"}
		}
		parsed.Programs = programs
	}

	if hasAccounts {
		accounts, ok := toStringSlice(m["accounts"])
		if !ok {
			return nil, &ValidationError{Reason: "accounts must be a list of strings"}
		}
		parsed.Accounts = accounts
	}

	if hasInstructions {
		rawList, ok := m["instructions"].([]any)
		if !ok {
			return nil, &ValidationError{Reason: "instructions must be a list"}
		}
		instructions := make([]Instruction, 0, len(rawList))
		for i, rawIns := range rawList {
			ins, err := parseInstruction(i, rawIns)
			if err != nil {
				return nil, err
			}
			instructions = append(instructions, ins)
		}
		parsed.Instructions = instructions
	}

	if sigs, ok := m["signatures"]; ok {
		signatures, ok := toStringSlice(sigs)
		if !ok {
			return nil, &ValidationError{Reason: "signatures must be a list of strings"}
		}
		parsed.Signatures = signatures
	}

	if bh := stringField(m, "recent_blockhash", "recentBlockhash"); bh != "" {
		parsed.RecentBlockhash = bh
	}

	return parsed, nil
}

func parseInstruction(pos int, raw any) (Instruction, error) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return Instruction{}, &ValidationError{Reason: fmt.Sprintf("instruction %d is not an object", pos)}
	}

	idxRaw, ok := obj["index"]
	if !ok {
		return Instruction{}, &ValidationError{Reason: fmt.Sprintf("instruction %d has no index", pos)}
	}
	idx, ok := idxRaw.(float64)
	if !ok || idx != float64(int(idx)) {
		return Instruction{}, &ValidationError{Reason: fmt.Sprintf("instruction %d index is not an integer", pos)}
	}

	ins := Instruction{Index: int(idx), Accounts: []string{}}

	if dataRaw, ok := obj["data"]; ok {
		data, ok := dataRaw.(string)
		if !ok {
			return Instruction{}, &ValidationError{Reason: fmt.Sprintf("instruction %d data is not a string", pos)}
		}
		ins.Data = data
	}

	if accRaw, ok := obj["accounts"]; ok {
		accounts, ok := toStringSlice(accRaw)
		if !ok {
			return Instruction{}, &ValidationError{Reason: fmt.Sprintf("instruction %d accounts must be a list of strings", pos)}
		}
		ins.Accounts = accounts
	}

	return ins, nil
}

// toStringSlice converts a decoded JSON value to a string slice.
// Returns false if the value or any element has the wrong type.
func toStringSlice(v any) ([]string, bool) {
	list, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}

func stringField(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := m[key].(string); ok {
			return v
		}
	}
	return ""
}
