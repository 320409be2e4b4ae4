// Package client is the HTTP client for the solguard scan service.
// It wraps the service's REST API: submitting transactions for
// scanning, managing exploit patterns, and reading pipeline status.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/solguard/solguard/service/patterns"
	"github.com/solguard/solguard/service/scan"
)

// Client is the HTTP client for the solguard service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new solguard service client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Scan submits a transaction for scanning and returns the verdict.
// The transaction payload is passed through verbatim, so it may be a
// structured object or a base64 wire-format string. A completed scan
// returns a verdict even when the risk level is critical; an error
// means the scan itself could not run.
func (c *Client) Scan(ctx context.Context, transaction json.RawMessage, wallet string, scanType scan.ScanType) (*scan.Verdict, error) {
	reqBody := map[string]interface{}{
		"transaction": transaction,
	}
	if wallet != "" {
		reqBody["wallet"] = wallet
	}
	if scanType != "" {
		reqBody["scan_type"] = scanType
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/v1/scan", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var verdict scan.Verdict
	if err := json.NewDecoder(resp.Body).Decode(&verdict); err != nil {
		return nil, fmt.Errorf("failed to decode verdict: %w", err)
	}

	c.logger.Debug("scan completed",
		"risk_level", verdict.RiskLevel,
		"risk_score", verdict.OverallRiskScore,
		"cache_hit", verdict.CacheHit,
	)
	return &verdict, nil
}

// ListPatterns retrieves all exploit patterns known to the server.
func (c *Client) ListPatterns(ctx context.Context) ([]patterns.Pattern, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/v1/patterns", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var payload struct {
		Patterns []patterns.Pattern `json:"patterns"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode patterns: %w", err)
	}
	return payload.Patterns, nil
}

// UpsertPattern creates or replaces an exploit pattern on the server.
func (c *Client) UpsertPattern(ctx context.Context, p patterns.Pattern) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal pattern: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/v1/patterns", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	c.logger.Debug("pattern upserted", "pattern_id", p.ID, "tier", p.Tier)
	return nil
}

// DeactivatePattern removes a pattern from the active matching set.
func (c *Client) DeactivatePattern(ctx context.Context, id string) error {
	u := fmt.Sprintf("%s/api/v1/patterns/%s", c.baseURL, url.PathEscape(id))
	req, err := http.NewRequestWithContext(ctx, "DELETE", u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return c.parseErrorResponse(resp)
	}

	c.logger.Debug("pattern deactivated", "pattern_id", id)
	return nil
}

// Status reports pipeline health: model lifecycle state, loaded
// pattern count, registry sizes, and scan admission occupancy.
func (c *Client) Status(ctx context.Context) (map[string]interface{}, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/v1/status", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var status map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to decode status: %w", err)
	}
	return status, nil
}

// Health checks the server's health endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return fmt.Errorf("request failed: %s", errResp.Error)
}
