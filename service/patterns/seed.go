package patterns

import (
	"context"
	"fmt"

	"github.com/solguard/solguard/service/scan"
)

// Defaults returns the patterns the service ships with. They cover the
// common drainer shapes: known malicious programs, unlimited token
// approvals, authority reassignment payloads, and fan-out transaction
// shapes. Threat-intel refreshes extend this set at runtime.
func Defaults() []Pattern {
	return []Pattern{
		{
			ID:          "known-drainer-program",
			Name:        "Known wallet drainer program",
			Tier:        TierCritical,
			Severity:    scan.SeverityCritical,
			Confidence:  0.99,
			ProgramID:   "Dra1nerXk2vPqMrLk9fJw3t7uCyXbS8qRZhVgNpTd4Ef",
			Description: "program ID attributed to an active wallet drainer campaign",
			Active:      true,
		},
		{
			ID:          "unverified-token-clone",
			Name:        "Token program lookalike",
			Tier:        TierProgram,
			Severity:    scan.SeverityHigh,
			Confidence:  0.9,
			ProgramID:   "Tokenkeg2fakeQfeZyiNwAJbNbGKPFXCWuBvf9Ss62",
			Description: "program impersonating the SPL token program",
			Active:      true,
		},
		{
			ID:          "unlimited-approval",
			Name:        "Unlimited token approval",
			Tier:        TierInstruction,
			Severity:    scan.SeverityHigh,
			Confidence:  0.85,
			DataRegex:   "ffffffffffffffff",
			Description: "approve instruction with a u64 max amount",
			Active:      true,
		},
		{
			ID:          "set-authority-payload",
			Name:        "Authority reassignment payload",
			Tier:        TierInstruction,
			Severity:    scan.SeverityMedium,
			Confidence:  0.7,
			DataRegex:   "^06",
			Description: "instruction data shaped like an SPL SetAuthority call",
			Active:      true,
		},
		{
			ID:          "drain-fanout",
			Name:        "Drain-style fan-out",
			Tier:        TierBehavioral,
			Severity:    scan.SeverityHigh,
			Confidence:  0.75,
			Rules: map[string]float64{
				"num_instructions": 15,
				"num_accounts":     20,
				"num_programs":     4,
			},
			Description: "many instructions touching many accounts across several programs",
			Active:      true,
		},
		{
			ID:          "account-spray",
			Name:        "Account spray",
			Tier:        TierBehavioral,
			Severity:    scan.SeverityMedium,
			Confidence:  0.6,
			Rules: map[string]float64{
				"num_accounts":   30,
				"has_duplicates": 1,
			},
			Description: "unusually wide account set with duplicate references",
			Active:      true,
		},
	}
}

// Seed upserts the default patterns. Existing rows with the same IDs
// are overwritten, operator-added patterns are untouched.
func (s *Store) Seed(ctx context.Context) error {
	for _, p := range Defaults() {
		if err := s.Upsert(ctx, p); err != nil {
			return fmt.Errorf("seed patterns: %w", err)
		}
	}
	return nil
}
