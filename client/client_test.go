package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solguard/solguard/service/patterns"
	"github.com/solguard/solguard/service/scan"
)

func TestScan_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/v1/scan", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]interface{}
		err := json.NewDecoder(r.Body).Decode(&body)
		require.NoError(t, err)
		assert.Equal(t, "wallet123", body["wallet"])
		assert.Equal(t, "quick", body["scan_type"])
		assert.Contains(t, body, "transaction")

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(scan.Verdict{
			OverallRiskScore: 0.12,
			RiskLevel:        scan.RiskSafe,
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	verdict, err := client.Scan(context.Background(),
		json.RawMessage(`{"programs":["11111111111111111111111111111112"]}`),
		"wallet123", scan.ScanQuick)
	require.NoError(t, err)
	assert.Equal(t, scan.RiskSafe, verdict.RiskLevel)
	assert.InDelta(t, 0.12, verdict.OverallRiskScore, 1e-9)
}

func TestScan_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{
			"error": "transaction payload has no recognizable structure",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	_, err := client.Scan(context.Background(), json.RawMessage(`42`), "", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no recognizable structure")
}

func TestScan_Overloaded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "1")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{
			"error": "overloaded: scan capacity saturated",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	_, err := client.Scan(context.Background(), json.RawMessage(`{}`), "", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overloaded")
}

func TestListPatterns_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
		assert.Equal(t, "/api/v1/patterns", r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"patterns": []patterns.Pattern{
				{ID: "known-drainer-program", Tier: patterns.TierCritical, Active: true},
				{ID: "unlimited-approval", Tier: patterns.TierInstruction, Active: true},
			},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	list, err := client.ListPatterns(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "known-drainer-program", list[0].ID)
}

func TestUpsertPattern_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/v1/patterns", r.URL.Path)

		var p patterns.Pattern
		require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		assert.Equal(t, "test-pattern", p.ID)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(p)
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	err := client.UpsertPattern(context.Background(), patterns.Pattern{
		ID:       "test-pattern",
		Name:     "Test Pattern",
		Tier:     patterns.TierProgram,
		Severity: scan.SeverityHigh,
	})
	assert.NoError(t, err)
}

func TestDeactivatePattern_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "DELETE", r.Method)
		assert.Equal(t, "/api/v1/patterns/test-pattern", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	err := client.DeactivatePattern(context.Background(), "test-pattern")
	assert.NoError(t, err)
}

func TestDeactivatePattern_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "pattern not found"})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	err := client.DeactivatePattern(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestStatus_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/status", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"model_state":     "ready",
			"patterns_loaded": 6,
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	status, err := client.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ready", status["model_state"])
}

func TestHealth(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()

	client := NewClient(healthy.URL, nil, nil)
	assert.NoError(t, client.Health(context.Background()))

	unhealthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer unhealthy.Close()

	client = NewClient(unhealthy.URL, nil, nil)
	assert.Error(t, client.Health(context.Background()))
}
