package ml

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/solguard/solguard/service/scan"
)

// State is the model lifecycle state.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateLoading       State = "loading"
	StateReady         State = "ready"
	StateFailed        State = "failed"
)

// Prediction is one inference result.
type Prediction struct {
	// AnomalyScore in [0, 1]; higher means more anomalous.
	AnomalyScore float64
	// Confidence in [0, 1] reflects how decisively the rules fired.
	Confidence float64
	// Signals names the rules that contributed.
	Signals []string
}

// RuleModel is a deterministic rule ensemble over the feature vector.
// It follows the load-before-infer lifecycle: Infer before Load
// completes returns scan.ErrModelNotReady, which the pipeline reports
// as a degraded ML stage rather than a failed scan.
type RuleModel struct {
	mu      sync.RWMutex
	state   State
	version string
	logger  *slog.Logger
}

// NewRuleModel creates an unloaded model.
func NewRuleModel(logger *slog.Logger) *RuleModel {
	if logger == nil {
		logger = slog.Default()
	}
	return &RuleModel{state: StateUninitialized, logger: logger}
}

// Load initializes the model. The rule ensemble has no external
// artifacts, so loading is a lifecycle transition plus a self-check on
// a known-benign vector.
func (m *RuleModel) Load(ctx context.Context) error {
	m.mu.Lock()
	m.state = StateLoading
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		m.setState(StateFailed)
		return err
	}

	// Self-check: an empty transaction must score near zero.
	p := infer(ExtractFeatures(&scan.ParsedTransaction{}))
	if p.AnomalyScore > 0.2 {
		m.setState(StateFailed)
		m.logger.Error("model self-check failed", "anomaly_score", p.AnomalyScore)
		return scan.ErrModelNotReady
	}

	m.mu.Lock()
	m.state = StateReady
	m.version = "rules-v1"
	m.mu.Unlock()
	m.logger.Info("ml model loaded", "version", "rules-v1", "features", FeatureCount)
	return nil
}

func (m *RuleModel) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// StateNow returns the current lifecycle state.
func (m *RuleModel) StateNow() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Ready reports whether the model can serve inference.
func (m *RuleModel) Ready() bool { return m.StateNow() == StateReady }

// Version returns the loaded model version, empty before Load.
func (m *RuleModel) Version() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version
}

// Infer scores a transaction. Returns scan.ErrModelNotReady unless the
// model is in the ready state.
func (m *RuleModel) Infer(ctx context.Context, tx *scan.ParsedTransaction) (Prediction, error) {
	if !m.Ready() {
		return Prediction{}, scan.ErrModelNotReady
	}
	if err := ctx.Err(); err != nil {
		return Prediction{}, err
	}
	start := time.Now()
	p := infer(ExtractFeatures(tx))
	m.logger.Debug("ml inference",
		"anomaly_score", p.AnomalyScore,
		"confidence", p.Confidence,
		"elapsed", time.Since(start),
	)
	return p, nil
}

// infer applies the rule ensemble to a feature vector. Each rule adds
// its weight when it fires; the critical rules force a near-maximal
// score on their own.
func infer(f [FeatureCount]float64) Prediction {
	var score float64
	var signals []string

	// Critical shapes. Any one of these dominates the score.
	switch {
	case f[fNumPrograms] >= 6 && f[fNumAccounts] >= 25 && f[fUnlimitedApprovals] >= 3:
		score, signals = 0.97, append(signals, "mass-drain-shape")
	case f[fUnlimitedApprovals] >= 5 && f[fUsesTokenProgram] == 1:
		score, signals = 0.95, append(signals, "repeated-unlimited-approvals")
	case f[fLargeInstructions] >= 5 && f[fVerifiedPrograms] == 0:
		score, signals = 0.92, append(signals, "opaque-payload-burst")
	}
	if score > 0 {
		return Prediction{AnomalyScore: score, Confidence: 0.95, Signals: signals}
	}

	// Additive rules.
	if f[fNumPrograms] >= 5 && f[fNumInstructions] >= 15 && f[fNumAccounts] >= 20 {
		score += 0.45
		signals = append(signals, "drainer-fanout")
	}
	if f[fUnlimitedApprovals] >= 1 && f[fUsesTokenProgram] == 1 {
		score += 0.35
		signals = append(signals, "unlimited-approval")
	}
	if f[fLargeInstructions] >= 2 && f[fVerifiedPrograms] <= 1 {
		score += 0.25
		signals = append(signals, "unverified-large-payloads")
	}
	if f[fHasDuplicateAccounts] == 1 && f[fUniqueAccountRatio] < 0.6 {
		score += 0.15
		signals = append(signals, "duplicate-account-churn")
	}
	if f[fHighComplexity] == 1 {
		score += 0.1
		signals = append(signals, "high-complexity")
	}
	if score > 1 {
		score = 1
	}

	confidence := 0.5 + 0.1*float64(len(signals))
	if confidence > 0.9 {
		confidence = 0.9
	}
	return Prediction{AnomalyScore: score, Confidence: confidence, Signals: signals}
}
