package temporal

import (
	"context"
	"log/slog"
	"time"

	"github.com/solguard/solguard/service/history"
	"github.com/solguard/solguard/service/metrics"
	"github.com/solguard/solguard/service/patterns"
	"github.com/solguard/solguard/service/threatintel"
)

// RefreshThreatIntelInput contains the input parameters for a threat
// intelligence refresh run.
type RefreshThreatIntelInput struct {
	Source string `json:"source"` // e.g. "schedule", "manual"
}

// RefreshThreatIntelResult contains the result of a refresh run.
type RefreshThreatIntelResult struct {
	PatternsUpserted int       `json:"patterns_upserted"`
	AccountsStored   int       `json:"accounts_stored"`
	PatternsLoaded   int       `json:"patterns_loaded"`
	RefreshTime      time.Time `json:"refresh_time"`
	Error            *string   `json:"error,omitempty"`
}

// FetchThreatFeedResult contains the fetched feed.
type FetchThreatFeedResult struct {
	Feed *threatintel.Feed `json:"feed"`
}

// UpsertPatternsInput contains parameters for the UpsertPatterns activity.
type UpsertPatternsInput struct {
	Patterns []patterns.Pattern `json:"patterns"`
}

// UpsertPatternsResult contains the result of upserting patterns.
type UpsertPatternsResult struct {
	Upserted int `json:"upserted"`
	Skipped  int `json:"skipped"` // Rejected by validation
}

// StoreFlaggedAccountsInput contains parameters for the StoreFlaggedAccounts activity.
type StoreFlaggedAccountsInput struct {
	Accounts []threatintel.FlaggedAccount `json:"accounts"`
}

// StoreFlaggedAccountsResult contains the result of storing flagged accounts.
type StoreFlaggedAccountsResult struct {
	Stored int `json:"stored"`
}

// ReloadPatternsResult contains the result of reloading the matcher.
type ReloadPatternsResult struct {
	Loaded int `json:"loaded"`
}

// PatternStoreInterface defines the pattern store operations needed by activities.
// This allows for easy mocking in tests.
type PatternStoreInterface interface {
	Upsert(ctx context.Context, p patterns.Pattern) error
	Load(ctx context.Context) error
	Matcher() *patterns.Matcher
}

// HistoryInterface defines the account reputation operations needed by activities.
// This allows for easy mocking in tests.
type HistoryInterface interface {
	Put(ctx context.Context, rep history.Reputation, ttl time.Duration) error
}

// FeedFetcherInterface defines the feed operations needed by activities.
// This allows for easy mocking in tests.
type FeedFetcherInterface interface {
	Fetch(ctx context.Context) (*threatintel.Feed, error)
}

// flaggedAccountTTL is how long a flagged-account record stays in
// Redis without being refreshed by a later run.
const flaggedAccountTTL = 7 * 24 * time.Hour

// Activities holds the dependencies needed by Temporal activities.
// All dependencies are explicit; fetcher and historySvc may be nil,
// in which case the corresponding activity is a no-op.
type Activities struct {
	store      PatternStoreInterface
	historySvc HistoryInterface
	fetcher    FeedFetcherInterface
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
// If metrics is nil, no metrics will be recorded.
func NewActivities(
	store PatternStoreInterface,
	historySvc HistoryInterface,
	fetcher FeedFetcherInterface,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		store:      store,
		historySvc: historySvc,
		fetcher:    fetcher,
		metrics:    m,
		logger:     logger,
	}
}

// FetchThreatFeed downloads the external feed. With no fetcher
// configured it returns an empty feed so the workflow still reloads
// local patterns.
func (a *Activities) FetchThreatFeed(ctx context.Context) (*FetchThreatFeedResult, error) {
	if a.fetcher == nil {
		a.logger.Debug("no threat feed configured, skipping fetch")
		return &FetchThreatFeedResult{Feed: &threatintel.Feed{}}, nil
	}

	feed, err := a.fetcher.Fetch(ctx)
	if err != nil {
		a.logger.Error("failed to fetch threat feed", "error", err)
		return nil, err
	}
	return &FetchThreatFeedResult{Feed: feed}, nil
}

// UpsertPatterns writes feed patterns into the store. Individual
// invalid patterns are skipped, not fatal.
func (a *Activities) UpsertPatterns(ctx context.Context, input UpsertPatternsInput) (*UpsertPatternsResult, error) {
	result := &UpsertPatternsResult{}
	for _, p := range input.Patterns {
		if err := a.store.Upsert(ctx, p); err != nil {
			a.logger.Warn("skipping invalid feed pattern", "pattern_id", p.ID, "error", err)
			result.Skipped++
			continue
		}
		result.Upserted++
	}
	a.logger.Info("upserted feed patterns", "upserted", result.Upserted, "skipped", result.Skipped)
	return result, nil
}

// StoreFlaggedAccounts writes flagged accounts into the history
// backend for the account stage to pick up.
func (a *Activities) StoreFlaggedAccounts(ctx context.Context, input StoreFlaggedAccountsInput) (*StoreFlaggedAccountsResult, error) {
	result := &StoreFlaggedAccountsResult{}
	if a.historySvc == nil {
		a.logger.Debug("no history backend configured, skipping flagged accounts")
		return result, nil
	}

	now := time.Now().UTC()
	for _, acct := range input.Accounts {
		rep := history.Reputation{
			Address:   acct.Address,
			Flagged:   true,
			RiskScore: acct.RiskScore,
			Label:     acct.Label,
			UpdatedAt: now,
		}
		if err := a.historySvc.Put(ctx, rep, flaggedAccountTTL); err != nil {
			a.logger.Error("failed to store flagged account", "address", acct.Address, "error", err)
			return result, err
		}
		result.Stored++
	}
	a.logger.Info("stored flagged accounts", "count", result.Stored)
	return result, nil
}

// ReloadPatterns refreshes the in-memory matcher from the database.
func (a *Activities) ReloadPatterns(ctx context.Context) (*ReloadPatternsResult, error) {
	if err := a.store.Load(ctx); err != nil {
		a.logger.Error("failed to reload patterns", "error", err)
		return nil, err
	}
	return &ReloadPatternsResult{Loaded: a.store.Matcher().Len()}, nil
}
