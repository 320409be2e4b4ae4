package main

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/solguard/solguard/service/temporal"
)

func TestPrintRefreshResult(t *testing.T) {
	result := &temporal.RefreshThreatIntelResult{
		PatternsUpserted: 4,
		AccountsStored:   7,
		PatternsLoaded:   12,
		RefreshTime:      time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC),
	}

	var out strings.Builder
	printRefreshResult(&out, result)

	assert.Contains(t, out.String(), "Patterns Upserted: 4")
	assert.Contains(t, out.String(), "Accounts Stored:   7")
	assert.Contains(t, out.String(), "Patterns Loaded:   12")
	assert.NotContains(t, out.String(), "Warning")
}

func TestPrintRefreshResult_PartialFailure(t *testing.T) {
	warning := "flagged account store unavailable"
	result := &temporal.RefreshThreatIntelResult{
		PatternsUpserted: 2,
		Error:            &warning,
	}

	var out strings.Builder
	printRefreshResult(&out, result)

	assert.Contains(t, out.String(), "Warning:           flagged account store unavailable")
}
