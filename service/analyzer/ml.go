package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/solguard/solguard/service/ml"
	"github.com/solguard/solguard/service/scan"
)

// ModelRunner serves anomaly inference. *ml.RuleModel satisfies this.
// Infer must return scan.ErrModelNotReady until loading completes; the
// orchestrator then records the stage as degraded.
type ModelRunner interface {
	Infer(ctx context.Context, tx *scan.ParsedTransaction) (ml.Prediction, error)
}

// MLStage scores a transaction by model anomaly inference.
type MLStage struct {
	runner ModelRunner
	logger *slog.Logger
}

func NewMLStage(runner ModelRunner, logger *slog.Logger) *MLStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &MLStage{runner: runner, logger: logger}
}

func (s *MLStage) Name() scan.StageName { return scan.StageML }

func (s *MLStage) Analyze(ctx context.Context, tx *scan.ParsedTransaction, wallet string) (*scan.StageResult, error) {
	start := time.Now()

	pred, err := s.runner.Infer(ctx, tx)
	if err != nil {
		return nil, err
	}

	var findings []scan.Finding
	if pred.AnomalyScore >= 0.6 {
		severity := scan.SeverityMedium
		if pred.AnomalyScore >= 0.85 {
			severity = scan.SeverityHigh
		}
		findings = append(findings, scan.Finding{
			Kind:        "ml-anomaly",
			Severity:    severity,
			Description: "model flagged the transaction shape as anomalous",
			Evidence: fmt.Sprintf("score=%.2f confidence=%.2f signals=%s",
				pred.AnomalyScore, pred.Confidence, strings.Join(pred.Signals, ",")),
		})
	}

	return &scan.StageResult{
		Stage:     scan.StageML,
		Status:    scan.StatusOK,
		Score:     pred.AnomalyScore,
		Findings:  findings,
		ElapsedMs: float64(time.Since(start).Microseconds()) / 1000.0,
	}, nil
}
