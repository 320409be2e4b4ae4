// Package ml runs anomaly inference over parsed transactions. The
// model is a deterministic rule ensemble over a fixed feature vector;
// it carries an explicit lifecycle so callers can distinguish a model
// that has not loaded yet from one that scored a transaction low.
package ml

import (
	"math"
	"strings"

	"github.com/solguard/solguard/service/scan"
)

// FeatureCount is the width of the feature vector. The extractor and
// the rule ensemble agree on these indices; changing either side means
// bumping the model version.
const FeatureCount = 25

// Feature vector indices.
const (
	fNumPrograms = iota
	fVerifiedPrograms
	fUnknownPrograms
	fProgramEntropy
	fUsesTokenProgram

	fNumInstructions
	fMeanDataBytes
	fMaxDataBytes
	fDataBytesStddev
	fLargeInstructions
	fUnlimitedApprovals
	fMultiAccountInstructions
	fManyInstructions

	fNumAccounts
	fUniqueAccounts
	fSystemAccounts
	fMalformedAccounts
	fManyAccounts
	fUniqueAccountRatio
	fHasDuplicateAccounts

	fTotalDataBytes
	fMeanAccountsPerInstruction
	fProgramInstructionProduct
	fHighComplexity
	fNumSignatures
)

const splTokenProgram = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"

var verifiedPrograms = map[string]struct{}{
	"11111111111111111111111111111112":             {},
	splTokenProgram:                                {},
	"TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb":  {},
	"ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL": {},
	"MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr":  {},
}

// ExtractFeatures derives the feature vector from a parsed transaction.
// Extraction is pure and deterministic.
func ExtractFeatures(tx *scan.ParsedTransaction) [FeatureCount]float64 {
	var f [FeatureCount]float64

	// Program features.
	f[fNumPrograms] = float64(len(tx.Programs))
	uniquePrograms := make(map[string]struct{}, len(tx.Programs))
	for _, p := range tx.Programs {
		uniquePrograms[p] = struct{}{}
		if _, ok := verifiedPrograms[p]; ok {
			f[fVerifiedPrograms]++
		} else {
			f[fUnknownPrograms]++
		}
		if p == splTokenProgram {
			f[fUsesTokenProgram] = 1
		}
	}
	if len(tx.Programs) > 0 {
		f[fProgramEntropy] = float64(len(uniquePrograms)) / float64(len(tx.Programs))
	}

	// Instruction features.
	f[fNumInstructions] = float64(len(tx.Instructions))
	var total, maxBytes float64
	sizes := make([]float64, 0, len(tx.Instructions))
	for _, ins := range tx.Instructions {
		n := float64(len(ins.Data) / 2)
		sizes = append(sizes, n)
		total += n
		if n > maxBytes {
			maxBytes = n
		}
		if n > 100 {
			f[fLargeInstructions]++
		}
		if strings.Contains(ins.Data, "ffffffffffffffff") {
			f[fUnlimitedApprovals]++
		}
		if len(ins.Accounts) > 5 {
			f[fMultiAccountInstructions]++
		}
	}
	if len(sizes) > 0 {
		mean := total / float64(len(sizes))
		f[fMeanDataBytes] = mean
		var variance float64
		for _, n := range sizes {
			variance += (n - mean) * (n - mean)
		}
		f[fDataBytesStddev] = math.Sqrt(variance / float64(len(sizes)))
	}
	f[fMaxDataBytes] = maxBytes
	if len(tx.Instructions) > 10 {
		f[fManyInstructions] = 1
	}

	// Account features.
	f[fNumAccounts] = float64(len(tx.Accounts))
	uniqueAccounts := make(map[string]struct{}, len(tx.Accounts))
	for _, a := range tx.Accounts {
		uniqueAccounts[a] = struct{}{}
		if strings.HasPrefix(a, "1") {
			f[fSystemAccounts]++
		}
		if len(a) < 32 || len(a) > 44 {
			f[fMalformedAccounts]++
		}
	}
	f[fUniqueAccounts] = float64(len(uniqueAccounts))
	if len(tx.Accounts) > 15 {
		f[fManyAccounts] = 1
	}
	if len(tx.Accounts) > 0 {
		f[fUniqueAccountRatio] = float64(len(uniqueAccounts)) / float64(len(tx.Accounts))
	}
	if len(uniqueAccounts) < len(tx.Accounts) {
		f[fHasDuplicateAccounts] = 1
	}

	// Complexity features.
	f[fTotalDataBytes] = total
	if len(tx.Instructions) > 0 {
		var accountRefs float64
		for _, ins := range tx.Instructions {
			accountRefs += float64(len(ins.Accounts))
		}
		f[fMeanAccountsPerInstruction] = accountRefs / float64(len(tx.Instructions))
	}
	f[fProgramInstructionProduct] = float64(len(tx.Programs) * len(tx.Instructions))
	if f[fProgramInstructionProduct] > 30 {
		f[fHighComplexity] = 1
	}
	f[fNumSignatures] = float64(len(tx.Signatures))

	return f
}
