// Package analyzer implements the four analysis stages of the scan
// pipeline. Each stage is independent, treats the parsed transaction
// as read-only, and reports a score in [0, 1] with supporting
// findings.
package analyzer

import (
	"context"
	"log/slog"
	"time"

	"github.com/solguard/solguard/service/registry"
	"github.com/solguard/solguard/service/scan"
)

// Registry classifies program IDs. *registry.ProgramRegistry satisfies
// this; tests substitute fakes.
type Registry interface {
	Classify(programID string) registry.Reputation
}

const (
	unknownProgramPenalty = 0.15
	unknownProgramCap     = 0.6
)

// ProgramStage scores the programs a transaction invokes against the
// reputation registry. Any blacklisted program is a critical finding
// and a maximal stage score.
type ProgramStage struct {
	registry Registry
	logger   *slog.Logger
}

func NewProgramStage(reg Registry, logger *slog.Logger) *ProgramStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProgramStage{registry: reg, logger: logger}
}

func (s *ProgramStage) Name() scan.StageName { return scan.StageProgram }

func (s *ProgramStage) Analyze(ctx context.Context, tx *scan.ParsedTransaction, wallet string) (*scan.StageResult, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		score    float64
		findings []scan.Finding
		seen     = make(map[string]struct{}, len(tx.Programs))
	)
	for _, prog := range tx.Programs {
		if _, dup := seen[prog]; dup {
			continue
		}
		seen[prog] = struct{}{}

		switch s.registry.Classify(prog) {
		case registry.ReputationBlacklisted:
			score = 1.0
			findings = append(findings, scan.Finding{
				Kind:        "blacklisted-program",
				Severity:    scan.SeverityCritical,
				Description: "transaction invokes a known malicious program",
				Evidence:    "program=" + prog,
			})
		case registry.ReputationUnknown:
			if score < unknownProgramCap {
				score += unknownProgramPenalty
				if score > unknownProgramCap {
					score = unknownProgramCap
				}
			}
			findings = append(findings, scan.Finding{
				Kind:        "unknown-program",
				Severity:    scan.SeverityLow,
				Description: "transaction invokes a program with no reputation record",
				Evidence:    "program=" + prog,
			})
		}
	}
	if score > 1 {
		score = 1
	}

	return &scan.StageResult{
		Stage:     scan.StageProgram,
		Status:    scan.StatusOK,
		Score:     score,
		Findings:  findings,
		ElapsedMs: float64(time.Since(start).Microseconds()) / 1000.0,
	}, nil
}
