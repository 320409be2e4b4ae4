package main

import (
	"log/slog"
	"os"
	"testing"

	"github.com/itchyny/gojq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solguard/solguard/service/scan"
)

func compileFilters(t *testing.T, filters []string) []*gojq.Code {
	t.Helper()
	compiled := make([]*gojq.Code, len(filters))
	for i, filter := range filters {
		query, err := gojq.Parse(filter)
		require.NoError(t, err)
		compiled[i], err = gojq.Compile(query)
		require.NoError(t, err)
	}
	return compiled
}

func TestApplyJQFilters(t *testing.T) {
	verdict := &scan.Verdict{
		OverallRiskScore: 0.82,
		RiskLevel:        scan.RiskHigh,
		TriggeredFindings: []scan.Finding{
			{Kind: "unlimited-approval", Severity: scan.SeverityHigh},
		},
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))

	tests := []struct {
		name    string
		filters []string
		wantErr bool
	}{
		{
			name:    "no filters passes",
			filters: nil,
			wantErr: false,
		},
		{
			name:    "risk level match",
			filters: []string{`.risk_level == "high"`},
			wantErr: false,
		},
		{
			name:    "risk level mismatch",
			filters: []string{`.risk_level == "safe"`},
			wantErr: true,
		},
		{
			name:    "score threshold",
			filters: []string{`.overall_risk_score > 0.5`},
			wantErr: false,
		},
		{
			name:    "finding kind lookup",
			filters: []string{`.triggered_findings | any(.kind == "unlimited-approval")`},
			wantErr: false,
		},
		{
			name:    "all filters must hold",
			filters: []string{`.risk_level == "high"`, `.cache_hit`},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			compiled := compileFilters(t, tt.filters)
			err := applyJQFilters(compiled, tt.filters, verdict, logger)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestIsTruthy(t *testing.T) {
	assert.False(t, isTruthy(nil))
	assert.False(t, isTruthy(false))
	assert.True(t, isTruthy(true))
	assert.True(t, isTruthy(0.0))
	assert.True(t, isTruthy(""))
	assert.True(t, isTruthy([]interface{}{}))
	assert.True(t, isTruthy(map[string]interface{}{}))
}

func TestRiskAtLeast(t *testing.T) {
	assert.True(t, riskAtLeast(scan.RiskCritical, scan.RiskHigh))
	assert.True(t, riskAtLeast(scan.RiskHigh, scan.RiskHigh))
	assert.False(t, riskAtLeast(scan.RiskMedium, scan.RiskHigh))
	assert.False(t, riskAtLeast(scan.RiskSafe, scan.RiskLow))
}
