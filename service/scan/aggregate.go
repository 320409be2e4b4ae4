package scan

import (
	"sort"
)

// Thresholds are the risk-level band boundaries. A score below Low is
// safe; each boundary is inclusive. They are policy, injected from
// configuration, never hard-coded into the aggregation algorithm.
type Thresholds struct {
	Low      float64
	Medium   float64
	High     float64
	Critical float64
}

// Level maps a score in [0,1] to its risk band. The mapping is a
// monotone step function of the score.
func (t Thresholds) Level(score float64) RiskLevel {
	switch {
	case score >= t.Critical:
		return RiskCritical
	case score >= t.High:
		return RiskHigh
	case score >= t.Medium:
		return RiskMedium
	case score >= t.Low:
		return RiskLow
	default:
		return RiskSafe
	}
}

// Policy holds the aggregation weights and banding thresholds.
type Policy struct {
	// Weights is the relative weight of each stage's score.
	Weights map[StageName]float64

	// NeutralScore is contributed by stages that degraded, timed out,
	// or errored. It leans unknown rather than safe.
	NeutralScore float64

	// DegradedWeightFactor scales down the weight of a non-ok stage.
	// It must stay above zero so the aggregate is never computed over
	// zero total weight.
	DegradedWeightFactor float64

	Thresholds Thresholds
}

// DefaultPolicy mirrors the weighting the scoring model was tuned
// with: pattern matches dominate, then ML, programs, accounts.
func DefaultPolicy() Policy {
	return Policy{
		Weights: map[StageName]float64{
			StagePattern: 0.35,
			StageML:      0.30,
			StageProgram: 0.20,
			StageAccount: 0.15,
		},
		NeutralScore:         0.5,
		DegradedWeightFactor: 0.25,
		Thresholds: Thresholds{
			Low:      0.20,
			Medium:   0.40,
			High:     0.70,
			Critical: 0.90,
		},
	}
}

// Aggregator combines stage results into a verdict. Aggregate is pure
// and deterministic, and commutative over its inputs: completion order
// never changes the verdict.
type Aggregator struct {
	policy Policy
}

// NewAggregator creates an aggregator with the given policy.
func NewAggregator(policy Policy) *Aggregator {
	return &Aggregator{policy: policy}
}

// Aggregate combines the available stage results. Any critical finding
// forces the critical risk level regardless of numeric scores. Non-ok
// stages contribute the neutral score at reduced weight, so a scan
// where every stage degraded lands at medium, never at safe.
func (a *Aggregator) Aggregate(results []*StageResult) *Verdict {
	ordered := orderByStage(results)

	diagnostics := make(map[StageName]StageDiagnostic, len(ordered))
	var weightedSum, totalWeight float64
	critical := false

	for _, res := range ordered {
		weight, ok := a.policy.Weights[res.Stage]
		if !ok {
			weight = 1.0 / float64(len(StageOrder))
		}

		score := res.Score
		if res.Status != StatusOK {
			score = a.policy.NeutralScore
			weight *= a.policy.DegradedWeightFactor
		}
		weightedSum += score * weight
		totalWeight += weight

		for _, f := range res.Findings {
			if f.Severity == SeverityCritical {
				critical = true
			}
		}

		diagnostics[res.Stage] = StageDiagnostic{
			Status:    res.Status,
			Score:     res.Score,
			Findings:  len(res.Findings),
			ElapsedMs: res.ElapsedMs,
		}
	}

	score := a.policy.NeutralScore
	if totalWeight > 0 {
		score = weightedSum / totalWeight
	}
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}

	level := a.policy.Thresholds.Level(score)
	if critical {
		level = RiskCritical
	}

	return &Verdict{
		OverallRiskScore:  score,
		RiskLevel:         level,
		TriggeredFindings: mergeFindings(ordered),
		StageDiagnostics:  diagnostics,
	}
}

// orderByStage arranges results in stage-declaration order so the
// finding sort below is stable independent of completion order.
func orderByStage(results []*StageResult) []*StageResult {
	ordered := make([]*StageResult, 0, len(results))
	for _, name := range StageOrder {
		for _, res := range results {
			if res != nil && res.Stage == name {
				ordered = append(ordered, res)
			}
		}
	}
	// Results from stages outside the known order keep their position
	// at the end.
	for _, res := range results {
		if res != nil && res.Stage != StageProgram && res.Stage != StagePattern && res.Stage != StageML && res.Stage != StageAccount {
			ordered = append(ordered, res)
		}
	}
	return ordered
}

// mergeFindings unions all stage findings, deduplicates by
// (kind, evidence), and sorts by descending severity. The stable sort
// preserves stage-declaration order among equal severities.
func mergeFindings(ordered []*StageResult) []Finding {
	type key struct{ kind, evidence string }
	seen := make(map[key]struct{})
	merged := []Finding{}

	for _, res := range ordered {
		for _, f := range res.Findings {
			k := key{f.Kind, f.Evidence}
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			merged = append(merged, f)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Severity.Rank() > merged[j].Severity.Rank()
	})
	return merged
}
