package temporal

import (
	"fmt"
	"time"

	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

// RefreshThreatIntelWorkflow is the Temporal workflow that refreshes
// threat intelligence. It is triggered by a Temporal schedule at a
// configured interval (e.g., hourly).
//
// The workflow performs these steps:
// 1. Fetch the external feed (FetchThreatFeed activity)
// 2. Upsert feed patterns into Postgres (UpsertPatterns activity)
// 3. Store flagged accounts in Redis (StoreFlaggedAccounts activity)
// 4. Reload the in-memory matcher (ReloadPatterns activity)
//
// A failed feed fetch fails the run; serving instances keep their last
// good pattern set until the next successful refresh.
func RefreshThreatIntelWorkflow(ctx workflow.Context, input RefreshThreatIntelInput) (*RefreshThreatIntelResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("RefreshThreatIntelWorkflow started", "source", input.Source)

	result := &RefreshThreatIntelResult{
		RefreshTime: workflow.Now(ctx),
	}

	activityOptions := workflow.ActivityOptions{
		StartToCloseTimeout: 120 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, activityOptions)

	// Step 1: Fetch the external feed
	var fetchResult *FetchThreatFeedResult
	err := workflow.ExecuteActivity(ctx, a.FetchThreatFeed).Get(ctx, &fetchResult)
	if err != nil {
		errMsg := fmt.Sprintf("failed to fetch threat feed: %v", err)
		result.Error = &errMsg
		return result, fmt.Errorf("failed to fetch threat feed: %w", err)
	}

	feed := fetchResult.Feed
	logger.Info("fetched threat feed",
		"patterns", len(feed.Patterns),
		"flagged_accounts", len(feed.FlaggedAccounts),
	)

	// Step 2: Upsert feed patterns
	if len(feed.Patterns) > 0 {
		var upsertResult *UpsertPatternsResult
		err = workflow.ExecuteActivity(ctx, a.UpsertPatterns, UpsertPatternsInput{Patterns: feed.Patterns}).Get(ctx, &upsertResult)
		if err != nil {
			errMsg := fmt.Sprintf("failed to upsert patterns: %v", err)
			result.Error = &errMsg
			return result, fmt.Errorf("failed to upsert patterns: %w", err)
		}
		result.PatternsUpserted = upsertResult.Upserted
	}

	// Step 3: Store flagged accounts
	// Failures here are logged but don't fail the run; pattern state is
	// the primary artifact of a refresh.
	if len(feed.FlaggedAccounts) > 0 {
		var storeResult *StoreFlaggedAccountsResult
		err = workflow.ExecuteActivity(ctx, a.StoreFlaggedAccounts, StoreFlaggedAccountsInput{Accounts: feed.FlaggedAccounts}).Get(ctx, &storeResult)
		if err != nil {
			logger.Warn("failed to store flagged accounts", "error", err)
		} else {
			result.AccountsStored = storeResult.Stored
		}
	}

	// Step 4: Reload the in-memory matcher
	var reloadResult *ReloadPatternsResult
	err = workflow.ExecuteActivity(ctx, a.ReloadPatterns).Get(ctx, &reloadResult)
	if err != nil {
		errMsg := fmt.Sprintf("failed to reload patterns: %v", err)
		result.Error = &errMsg
		return result, fmt.Errorf("failed to reload patterns: %w", err)
	}
	result.PatternsLoaded = reloadResult.Loaded

	logger.Info("RefreshThreatIntelWorkflow completed successfully",
		"patterns_upserted", result.PatternsUpserted,
		"accounts_stored", result.AccountsStored,
		"patterns_loaded", result.PatternsLoaded,
	)

	return result, nil
}
