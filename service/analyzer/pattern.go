package analyzer

import (
	"context"
	"log/slog"
	"time"

	"github.com/solguard/solguard/service/scan"
)

// PatternMatcher evaluates exploit signatures against a transaction.
// *patterns.Store satisfies this.
type PatternMatcher interface {
	Match(ctx context.Context, tx *scan.ParsedTransaction) ([]scan.Finding, error)
}

// PatternStage scores a transaction by the exploit patterns it
// triggers. The score is driven by the most severe match, nudged up by
// additional matches.
type PatternStage struct {
	matcher PatternMatcher
	logger  *slog.Logger
}

func NewPatternStage(m PatternMatcher, logger *slog.Logger) *PatternStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &PatternStage{matcher: m, logger: logger}
}

func (s *PatternStage) Name() scan.StageName { return scan.StagePattern }

func (s *PatternStage) Analyze(ctx context.Context, tx *scan.ParsedTransaction, wallet string) (*scan.StageResult, error) {
	start := time.Now()

	findings, err := s.matcher.Match(ctx, tx)
	if err != nil {
		return nil, err
	}

	return &scan.StageResult{
		Stage:     scan.StagePattern,
		Status:    scan.StatusOK,
		Score:     patternScore(findings),
		Findings:  findings,
		ElapsedMs: float64(time.Since(start).Microseconds()) / 1000.0,
	}, nil
}

var severityScore = map[scan.Severity]float64{
	scan.SeverityInfo:     0.1,
	scan.SeverityLow:      0.25,
	scan.SeverityMedium:   0.5,
	scan.SeverityHigh:     0.8,
	scan.SeverityCritical: 1.0,
}

func patternScore(findings []scan.Finding) float64 {
	if len(findings) == 0 {
		return 0
	}
	var score float64
	for _, f := range findings {
		if s := severityScore[f.Severity]; s > score {
			score = s
		}
	}
	// Each extra match beyond the first raises the score slightly.
	score += 0.05 * float64(len(findings)-1)
	if score > 1 {
		score = 1
	}
	return score
}
