package patterns

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solguard/solguard/service/scan"
)

func reloadDefaults(t *testing.T) *Matcher {
	t.Helper()
	m := NewMatcher(nil)
	loaded, err := m.Reload(Defaults())
	require.NoError(t, err)
	require.Equal(t, len(Defaults()), loaded)
	return m
}

func TestReload_SkipsInvalidPatterns(t *testing.T) {
	m := NewMatcher(nil)

	loaded, err := m.Reload([]Pattern{
		{ID: "good", Name: "Good", Tier: TierProgram, Severity: scan.SeverityHigh, ProgramID: "p1"},
		{ID: "no-program", Name: "Bad", Tier: TierCritical, Severity: scan.SeverityCritical},
		{ID: "bad-regex", Name: "Bad", Tier: TierInstruction, Severity: scan.SeverityHigh, DataRegex: "("},
		{ID: "no-rules", Name: "Bad", Tier: TierBehavioral, Severity: scan.SeverityMedium},
		{ID: "odd-tier", Name: "Bad", Tier: "galactic", Severity: scan.SeverityLow},
	})

	require.Error(t, err)
	assert.Equal(t, 1, loaded)
	assert.Equal(t, 1, m.Len())
}

func TestReload_ReplacesExistingSet(t *testing.T) {
	m := reloadDefaults(t)
	require.Greater(t, m.Len(), 0)

	loaded, err := m.Reload(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, loaded)
	assert.Equal(t, 0, m.Len())
}

func TestMatch_CriticalTierAlwaysCritical(t *testing.T) {
	m := NewMatcher(nil)
	_, err := m.Reload([]Pattern{{
		ID:        "drainer",
		Name:      "Drainer",
		Tier:      TierCritical,
		Severity:  scan.SeverityLow, // stored severity is ignored for critical tier
		ProgramID: "EvilProgram111111111111111111111111111111111",
	}})
	require.NoError(t, err)

	findings := m.Match(&scan.ParsedTransaction{
		Programs: []string{"EvilProgram111111111111111111111111111111111"},
	})

	require.Len(t, findings, 1)
	assert.Equal(t, "exploit-pattern", findings[0].Kind)
	assert.Equal(t, scan.SeverityCritical, findings[0].Severity)
	assert.Contains(t, findings[0].Evidence, "pattern=drainer")
}

func TestMatch_ProgramTierKeepsSeverity(t *testing.T) {
	m := NewMatcher(nil)
	_, err := m.Reload([]Pattern{{
		ID:        "clone",
		Name:      "Clone",
		Tier:      TierProgram,
		Severity:  scan.SeverityMedium,
		ProgramID: "CloneProg1111111111111111111111111111111111",
	}})
	require.NoError(t, err)

	findings := m.Match(&scan.ParsedTransaction{
		Programs: []string{"CloneProg1111111111111111111111111111111111"},
	})

	require.Len(t, findings, 1)
	assert.Equal(t, scan.SeverityMedium, findings[0].Severity)
}

func TestMatch_DuplicateProgramsReportOnce(t *testing.T) {
	m := NewMatcher(nil)
	_, err := m.Reload([]Pattern{{
		ID: "p", Name: "P", Tier: TierProgram, Severity: scan.SeverityHigh, ProgramID: "prog1",
	}})
	require.NoError(t, err)

	findings := m.Match(&scan.ParsedTransaction{
		Programs: []string{"prog1", "prog1", "prog1"},
	})
	assert.Len(t, findings, 1)
}

func TestMatch_InstructionRegex(t *testing.T) {
	m := NewMatcher(nil)
	_, err := m.Reload([]Pattern{{
		ID:        "unlimited",
		Name:      "Unlimited approval",
		Tier:      TierInstruction,
		Severity:  scan.SeverityHigh,
		DataRegex: "ffffffffffffffff",
	}})
	require.NoError(t, err)

	tx := &scan.ParsedTransaction{
		Instructions: []scan.Instruction{
			{Index: 0, Data: "0102"},
			{Index: 1, Data: "08ffffffffffffffff00"},
			{Index: 2, Data: "ffffffffffffffff"},
		},
	}

	// One finding per pattern, not per matching instruction.
	findings := m.Match(tx)
	require.Len(t, findings, 1)
	assert.Equal(t, "pattern=unlimited instruction=1", findings[0].Evidence)
}

func TestMatch_BehavioralThresholds(t *testing.T) {
	m := NewMatcher(nil)
	_, err := m.Reload([]Pattern{{
		ID:       "fanout",
		Name:     "Fanout",
		Tier:     TierBehavioral,
		Severity: scan.SeverityHigh,
		Rules: map[string]float64{
			"num_instructions": 3,
			"num_accounts":     4,
		},
	}})
	require.NoError(t, err)

	below := &scan.ParsedTransaction{
		Instructions: []scan.Instruction{{Index: 0}, {Index: 1}},
		Accounts:     []string{"a", "b", "c", "d"},
	}
	assert.Empty(t, m.Match(below), "one rule below threshold must not match")

	at := &scan.ParsedTransaction{
		Instructions: []scan.Instruction{{Index: 0}, {Index: 1}, {Index: 2}},
		Accounts:     []string{"a", "b", "c", "d"},
	}
	findings := m.Match(at)
	require.Len(t, findings, 1)
	assert.Equal(t, "pattern=fanout", findings[0].Evidence)
}

func TestMatch_BehavioralUnknownMetricNeverMatches(t *testing.T) {
	m := NewMatcher(nil)
	_, err := m.Reload([]Pattern{{
		ID:       "odd",
		Name:     "Odd",
		Tier:     TierBehavioral,
		Severity: scan.SeverityLow,
		Rules:    map[string]float64{"lunar_phase": 1},
	}})
	require.NoError(t, err)

	assert.Empty(t, m.Match(&scan.ParsedTransaction{Accounts: []string{"a"}}))
}

func TestBehavioralMetrics(t *testing.T) {
	tx := &scan.ParsedTransaction{
		Programs: []string{"p1", "p2"},
		Accounts: []string{"a", "b", "a"},
		Instructions: []scan.Instruction{
			{Index: 0, Data: "0011"},
			{Index: 1, Data: "001122334455"},
		},
	}

	metrics := behavioralMetrics(tx)
	assert.Equal(t, 2.0, metrics["num_programs"])
	assert.Equal(t, 2.0, metrics["num_instructions"])
	assert.Equal(t, 3.0, metrics["num_accounts"])
	assert.Equal(t, 2.0, metrics["unique_accounts"])
	assert.Equal(t, 6.0, metrics["max_data_bytes"])
	assert.Equal(t, 8.0, metrics["total_data_bytes"])
	assert.Equal(t, 1.0, metrics["has_duplicates"])
}

func TestDefaults_AllValid(t *testing.T) {
	for _, p := range Defaults() {
		assert.True(t, ValidTier(p.Tier), "pattern %s has invalid tier", p.ID)
		assert.True(t, p.Active, "default pattern %s must be active", p.ID)
	}
}

func TestDefaults_DrainerFlow(t *testing.T) {
	m := reloadDefaults(t)

	// A transaction touching the seeded drainer program plus an
	// unlimited approval payload trips two tiers at once.
	tx := &scan.ParsedTransaction{
		Programs: []string{"Dra1nerXk2vPqMrLk9fJw3t7uCyXbS8qRZhVgNpTd4Ef"},
		Instructions: []scan.Instruction{
			{Index: 0, Data: "09ffffffffffffffff"},
		},
	}

	findings := m.Match(tx)
	require.GreaterOrEqual(t, len(findings), 2)

	var severities []scan.Severity
	for _, f := range findings {
		severities = append(severities, f.Severity)
	}
	assert.Contains(t, severities, scan.SeverityCritical)
	assert.Contains(t, severities, scan.SeverityHigh)
}

func TestMatch_ConcurrentWithReload(t *testing.T) {
	m := reloadDefaults(t)
	tx := &scan.ParsedTransaction{
		Programs: []string{"Dra1nerXk2vPqMrLk9fJw3t7uCyXbS8qRZhVgNpTd4Ef"},
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			_, _ = m.Reload(Defaults())
		}
	}()
	for i := 0; i < 100; i++ {
		_ = m.Match(tx)
	}
	<-done
}

func TestValidTier(t *testing.T) {
	for _, tier := range Tiers {
		assert.True(t, ValidTier(tier), fmt.Sprintf("tier %s", tier))
	}
	assert.False(t, ValidTier("galactic"))
}
