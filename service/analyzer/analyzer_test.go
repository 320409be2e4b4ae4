package analyzer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solguard/solguard/service/history"
	"github.com/solguard/solguard/service/ml"
	"github.com/solguard/solguard/service/registry"
	"github.com/solguard/solguard/service/scan"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// fakeRegistry classifies from a fixed map, unknown otherwise.
type fakeRegistry struct {
	reputations map[string]registry.Reputation
}

func (f *fakeRegistry) Classify(programID string) registry.Reputation {
	if rep, ok := f.reputations[programID]; ok {
		return rep
	}
	return registry.ReputationUnknown
}

func TestProgramStage_VerifiedProgramsScoreZero(t *testing.T) {
	stage := NewProgramStage(&fakeRegistry{reputations: map[string]registry.Reputation{
		"good": registry.ReputationVerified,
	}}, testLogger())

	res, err := stage.Analyze(context.Background(), &scan.ParsedTransaction{
		Programs: []string{"good", "good"},
	}, "")
	require.NoError(t, err)

	assert.Equal(t, scan.StatusOK, res.Status)
	assert.Zero(t, res.Score)
	assert.Empty(t, res.Findings)
}

func TestProgramStage_BlacklistedIsCritical(t *testing.T) {
	stage := NewProgramStage(&fakeRegistry{reputations: map[string]registry.Reputation{
		"evil": registry.ReputationBlacklisted,
	}}, testLogger())

	res, err := stage.Analyze(context.Background(), &scan.ParsedTransaction{
		Programs: []string{"evil"},
	}, "")
	require.NoError(t, err)

	assert.Equal(t, 1.0, res.Score)
	require.Len(t, res.Findings, 1)
	assert.Equal(t, "blacklisted-program", res.Findings[0].Kind)
	assert.Equal(t, scan.SeverityCritical, res.Findings[0].Severity)
}

func TestProgramStage_UnknownProgramsCapped(t *testing.T) {
	stage := NewProgramStage(&fakeRegistry{}, testLogger())

	res, err := stage.Analyze(context.Background(), &scan.ParsedTransaction{
		Programs: []string{"u1", "u2", "u3", "u4", "u5", "u6"},
	}, "")
	require.NoError(t, err)

	// 0.15 per distinct unknown program, capped at 0.6.
	assert.InDelta(t, 0.6, res.Score, 1e-9)
	assert.Len(t, res.Findings, 6)
	for _, f := range res.Findings {
		assert.Equal(t, "unknown-program", f.Kind)
		assert.Equal(t, scan.SeverityLow, f.Severity)
	}
}

func TestProgramStage_CancelledContext(t *testing.T) {
	stage := NewProgramStage(&fakeRegistry{}, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := stage.Analyze(ctx, &scan.ParsedTransaction{}, "")
	assert.ErrorIs(t, err, context.Canceled)
}

// fakeMatcher returns scripted findings.
type fakeMatcher struct {
	findings []scan.Finding
	err      error
}

func (f *fakeMatcher) Match(ctx context.Context, tx *scan.ParsedTransaction) ([]scan.Finding, error) {
	return f.findings, f.err
}

func TestPatternStage_ScoreFromSeverity(t *testing.T) {
	tests := []struct {
		name     string
		findings []scan.Finding
		want     float64
	}{
		{name: "no matches", findings: nil, want: 0},
		{
			name:     "single medium",
			findings: []scan.Finding{{Severity: scan.SeverityMedium}},
			want:     0.5,
		},
		{
			name: "max severity wins plus extras",
			findings: []scan.Finding{
				{Severity: scan.SeverityLow},
				{Severity: scan.SeverityHigh},
				{Severity: scan.SeverityInfo},
			},
			want: 0.9, // 0.8 + 2*0.05
		},
		{
			name: "capped at one",
			findings: []scan.Finding{
				{Severity: scan.SeverityCritical},
				{Severity: scan.SeverityCritical},
				{Severity: scan.SeverityCritical},
			},
			want: 1.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stage := NewPatternStage(&fakeMatcher{findings: tt.findings}, testLogger())
			res, err := stage.Analyze(context.Background(), &scan.ParsedTransaction{}, "")
			require.NoError(t, err)
			assert.InDelta(t, tt.want, res.Score, 1e-9)
		})
	}
}

func TestPatternStage_MatcherErrorPropagates(t *testing.T) {
	stage := NewPatternStage(&fakeMatcher{err: errors.New("store down")}, testLogger())

	_, err := stage.Analyze(context.Background(), &scan.ParsedTransaction{}, "")
	assert.Error(t, err)
}

// fakeRunner returns a scripted prediction.
type fakeRunner struct {
	pred ml.Prediction
	err  error
}

func (f *fakeRunner) Infer(ctx context.Context, tx *scan.ParsedTransaction) (ml.Prediction, error) {
	return f.pred, f.err
}

func TestMLStage_FindingThresholds(t *testing.T) {
	tests := []struct {
		name         string
		score        float64
		wantFindings int
		wantSeverity scan.Severity
	}{
		{name: "below threshold", score: 0.5, wantFindings: 0},
		{name: "medium anomaly", score: 0.6, wantFindings: 1, wantSeverity: scan.SeverityMedium},
		{name: "high anomaly", score: 0.9, wantFindings: 1, wantSeverity: scan.SeverityHigh},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stage := NewMLStage(&fakeRunner{pred: ml.Prediction{
				AnomalyScore: tt.score,
				Confidence:   0.8,
				Signals:      []string{"unlimited-approval"},
			}}, testLogger())

			res, err := stage.Analyze(context.Background(), &scan.ParsedTransaction{}, "")
			require.NoError(t, err)
			assert.Equal(t, tt.score, res.Score)
			require.Len(t, res.Findings, tt.wantFindings)
			if tt.wantFindings > 0 {
				assert.Equal(t, "ml-anomaly", res.Findings[0].Kind)
				assert.Equal(t, tt.wantSeverity, res.Findings[0].Severity)
			}
		})
	}
}

func TestMLStage_NotReadyPropagates(t *testing.T) {
	stage := NewMLStage(&fakeRunner{err: scan.ErrModelNotReady}, testLogger())

	_, err := stage.Analyze(context.Background(), &scan.ParsedTransaction{}, "")
	assert.ErrorIs(t, err, scan.ErrModelNotReady)
}

// fakeHistory serves reputations from a map; an error applies to every
// lookup.
type fakeHistory struct {
	reps    map[string]*history.Reputation
	err     error
	lookups int
}

func (f *fakeHistory) Lookup(ctx context.Context, address string) (*history.Reputation, error) {
	f.lookups++
	if f.err != nil {
		return nil, f.err
	}
	return f.reps[address], nil
}

func TestAccountStage_CleanTransaction(t *testing.T) {
	stage := NewAccountStage(nil, testLogger())

	res, err := stage.Analyze(context.Background(), &scan.ParsedTransaction{
		Accounts: []string{"a", "b"},
		Instructions: []scan.Instruction{
			{Index: 0, Data: "0102"},
		},
	}, "")
	require.NoError(t, err)

	assert.Equal(t, scan.StatusOK, res.Status)
	assert.Zero(t, res.Score)
	assert.Empty(t, res.Findings)
}

func TestAccountStage_LocalHeuristics(t *testing.T) {
	stage := NewAccountStage(nil, testLogger())

	wallet := "walletX"
	res, err := stage.Analyze(context.Background(), &scan.ParsedTransaction{
		Accounts: []string{wallet, "b", "b"},
		Instructions: []scan.Instruction{
			{Index: 0, Data: "08ffffffffffffffff"},
		},
	}, wallet)
	require.NoError(t, err)

	kinds := make(map[string]bool)
	for _, f := range res.Findings {
		kinds[f.Kind] = true
	}
	assert.True(t, kinds["unlimited-approval"])
	assert.True(t, kinds["duplicate-accounts"])
	assert.True(t, kinds["wallet-exposed"])
	assert.Greater(t, res.Score, 0.0)
}

func TestAccountStage_FlaggedAccountFromHistory(t *testing.T) {
	hist := &fakeHistory{reps: map[string]*history.Reputation{
		"bad": {Address: "bad", Flagged: true, Label: "drainer-treasury", RiskScore: 0.9},
	}}
	stage := NewAccountStage(hist, testLogger())

	res, err := stage.Analyze(context.Background(), &scan.ParsedTransaction{
		Accounts: []string{"good", "bad"},
	}, "")
	require.NoError(t, err)

	assert.Equal(t, scan.StatusOK, res.Status)
	require.Len(t, res.Findings, 1)
	assert.Equal(t, "flagged-account", res.Findings[0].Kind)
	assert.Contains(t, res.Findings[0].Evidence, "drainer-treasury")
}

func TestAccountStage_HistoryFailureDegrades(t *testing.T) {
	hist := &fakeHistory{err: errors.New("redis unavailable")}
	stage := NewAccountStage(hist, testLogger())

	res, err := stage.Analyze(context.Background(), &scan.ParsedTransaction{
		Accounts: []string{"a"},
		Instructions: []scan.Instruction{
			{Index: 0, Data: "08ffffffffffffffff"},
		},
	}, "")
	require.NoError(t, err)

	// Degraded, but the local findings survive.
	assert.Equal(t, scan.StatusDegraded, res.Status)
	require.Len(t, res.Findings, 1)
	assert.Equal(t, "unlimited-approval", res.Findings[0].Kind)
}

func TestAccountStage_LookupBound(t *testing.T) {
	hist := &fakeHistory{}
	stage := NewAccountStage(hist, testLogger())

	tx := &scan.ParsedTransaction{}
	for i := 0; i < 50; i++ {
		tx.Accounts = append(tx.Accounts, string(rune('A'+i%26))+string(rune('a'+i/26)))
	}

	_, err := stage.Analyze(context.Background(), tx, "")
	require.NoError(t, err)
	assert.LessOrEqual(t, hist.lookups, 20)
}
