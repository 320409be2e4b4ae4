// Package patterns stores and matches exploit signatures against
// parsed transactions. Patterns live in Postgres and are loaded into
// an in-memory matcher; the scan hot path never touches the database.
package patterns

import (
	"time"

	"github.com/solguard/solguard/service/scan"
)

// Tier determines how a pattern is evaluated against a transaction.
type Tier string

const (
	// TierCritical matches a program ID and always yields a critical
	// finding regardless of the stored severity.
	TierCritical Tier = "critical"

	// TierProgram matches a program ID at the stored severity.
	TierProgram Tier = "program"

	// TierInstruction matches a regular expression against the hex
	// instruction data.
	TierInstruction Tier = "instruction"

	// TierBehavioral matches threshold rules against transaction shape
	// metrics (instruction counts, account counts, data sizes).
	TierBehavioral Tier = "behavioral"
)

// Tiers in evaluation order.
var Tiers = []Tier{TierCritical, TierProgram, TierInstruction, TierBehavioral}

// ValidTier reports whether t is a recognized tier.
func ValidTier(t Tier) bool {
	switch t {
	case TierCritical, TierProgram, TierInstruction, TierBehavioral:
		return true
	}
	return false
}

// Pattern is one exploit signature. Which fields are meaningful depends
// on the tier: ProgramID for critical/program, DataRegex for
// instruction, Rules for behavioral.
type Pattern struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Tier        Tier               `json:"tier"`
	Severity    scan.Severity      `json:"severity"`
	Confidence  float64            `json:"confidence"`
	ProgramID   string             `json:"program_id,omitempty"`
	DataRegex   string             `json:"data_regex,omitempty"`
	Rules       map[string]float64 `json:"rules,omitempty"`
	Description string             `json:"description,omitempty"`
	Active      bool               `json:"active"`
	UpdatedAt   time.Time          `json:"updated_at"`
}
