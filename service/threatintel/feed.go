// Package threatintel fetches exploit patterns and flagged accounts
// from an external intelligence feed. Refresh runs are driven by the
// Temporal worker; the scan path never calls out here.
package threatintel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/solguard/solguard/service/patterns"
)

// maxFeedBytes bounds how much of a feed response is read.
const maxFeedBytes = 10 << 20

// FlaggedAccount is an account address the feed attributes to abuse.
type FlaggedAccount struct {
	Address   string  `json:"address"`
	Label     string  `json:"label,omitempty"`
	RiskScore float64 `json:"risk_score"`
}

// Feed is the payload an intelligence feed serves.
type Feed struct {
	Patterns        []patterns.Pattern `json:"patterns"`
	FlaggedAccounts []FlaggedAccount   `json:"flagged_accounts"`
	GeneratedAt     time.Time          `json:"generated_at"`
}

// Fetcher retrieves a Feed over HTTP.
type Fetcher struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewFetcher creates a feed fetcher for url.
func NewFetcher(url string, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		url:        url,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

// Fetch downloads and decodes the feed.
func (f *Fetcher) Fetch(ctx context.Context) (*Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build feed request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch threat feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch threat feed: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, fmt.Errorf("read threat feed: %w", err)
	}

	var feed Feed
	if err := json.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("decode threat feed: %w", err)
	}

	f.logger.Info("fetched threat feed",
		"url", f.url,
		"patterns", len(feed.Patterns),
		"flagged_accounts", len(feed.FlaggedAccounts),
	)
	return &feed, nil
}
