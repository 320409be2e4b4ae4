package temporal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solguard/solguard/service/history"
	"github.com/solguard/solguard/service/patterns"
	"github.com/solguard/solguard/service/scan"
	"github.com/solguard/solguard/service/threatintel"
)

type fakePatternStore struct {
	upserted  []patterns.Pattern
	upsertErr error
	loadErr   error
	matcher   *patterns.Matcher
}

func newFakePatternStore() *fakePatternStore {
	return &fakePatternStore{matcher: patterns.NewMatcher(nil)}
}

func (f *fakePatternStore) Upsert(ctx context.Context, p patterns.Pattern) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserted = append(f.upserted, p)
	return nil
}

func (f *fakePatternStore) Load(ctx context.Context) error {
	if f.loadErr != nil {
		return f.loadErr
	}
	_, err := f.matcher.Reload(f.upserted)
	return err
}

func (f *fakePatternStore) Matcher() *patterns.Matcher { return f.matcher }

type fakeHistory struct {
	stored map[string]history.Reputation
	putErr error
}

func (f *fakeHistory) Put(ctx context.Context, rep history.Reputation, ttl time.Duration) error {
	if f.putErr != nil {
		return f.putErr
	}
	if f.stored == nil {
		f.stored = make(map[string]history.Reputation)
	}
	f.stored[rep.Address] = rep
	return nil
}

type fakeFetcher struct {
	feed *threatintel.Feed
	err  error
}

func (f *fakeFetcher) Fetch(ctx context.Context) (*threatintel.Feed, error) {
	return f.feed, f.err
}

func TestFetchThreatFeed(t *testing.T) {
	t.Run("no fetcher configured returns empty feed", func(t *testing.T) {
		a := NewActivities(newFakePatternStore(), nil, nil, nil, nil)

		result, err := a.FetchThreatFeed(context.Background())
		require.NoError(t, err)
		require.NotNil(t, result.Feed)
		assert.Empty(t, result.Feed.Patterns)
	})

	t.Run("fetcher error surfaces", func(t *testing.T) {
		fetcher := &fakeFetcher{err: errors.New("feed unreachable")}
		a := NewActivities(newFakePatternStore(), nil, fetcher, nil, nil)

		_, err := a.FetchThreatFeed(context.Background())
		assert.Error(t, err)
	})
}

func TestUpsertPatterns(t *testing.T) {
	store := newFakePatternStore()
	a := NewActivities(store, nil, nil, nil, nil)

	result, err := a.UpsertPatterns(context.Background(), UpsertPatternsInput{
		Patterns: []patterns.Pattern{
			{
				ID:        "feed-1",
				Name:      "Feed pattern",
				Tier:      patterns.TierProgram,
				Severity:  scan.SeverityHigh,
				ProgramID: "SomeProgram11111111111111111111111111111111",
				Active:    true,
			},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Upserted)
	assert.Equal(t, 0, result.Skipped)
	assert.Len(t, store.upserted, 1)
}

func TestUpsertPatterns_SkipsInvalid(t *testing.T) {
	store := newFakePatternStore()
	store.upsertErr = errors.New("invalid pattern")
	a := NewActivities(store, nil, nil, nil, nil)

	result, err := a.UpsertPatterns(context.Background(), UpsertPatternsInput{
		Patterns: []patterns.Pattern{{ID: "bad"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Upserted)
	assert.Equal(t, 1, result.Skipped)
}

func TestStoreFlaggedAccounts(t *testing.T) {
	t.Run("stores accounts as flagged reputations", func(t *testing.T) {
		h := &fakeHistory{}
		a := NewActivities(newFakePatternStore(), h, nil, nil, nil)

		result, err := a.StoreFlaggedAccounts(context.Background(), StoreFlaggedAccountsInput{
			Accounts: []threatintel.FlaggedAccount{
				{Address: "Acct1", Label: "drainer", RiskScore: 0.9},
				{Address: "Acct2", Label: "mixer", RiskScore: 0.7},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, 2, result.Stored)

		rep := h.stored["Acct1"]
		assert.True(t, rep.Flagged)
		assert.Equal(t, "drainer", rep.Label)
	})

	t.Run("no history backend is a no-op", func(t *testing.T) {
		a := NewActivities(newFakePatternStore(), nil, nil, nil, nil)

		result, err := a.StoreFlaggedAccounts(context.Background(), StoreFlaggedAccountsInput{
			Accounts: []threatintel.FlaggedAccount{{Address: "Acct1"}},
		})
		require.NoError(t, err)
		assert.Equal(t, 0, result.Stored)
	})
}

func TestReloadPatterns(t *testing.T) {
	store := newFakePatternStore()
	store.upserted = []patterns.Pattern{
		{
			ID:        "p1",
			Name:      "P1",
			Tier:      patterns.TierProgram,
			Severity:  scan.SeverityMedium,
			ProgramID: "Prog1",
			Active:    true,
		},
	}
	a := NewActivities(store, nil, nil, nil, nil)

	result, err := a.ReloadPatterns(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Loaded)
}

func TestReloadPatterns_Error(t *testing.T) {
	store := newFakePatternStore()
	store.loadErr = errors.New("db down")
	a := NewActivities(store, nil, nil, nil, nil)

	_, err := a.ReloadPatterns(context.Background())
	assert.Error(t, err)
}

func TestMockScheduler(t *testing.T) {
	m := NewMockScheduler()

	require.NoError(t, m.CreateRefreshSchedule(context.Background(), time.Hour))
	assert.True(t, m.ScheduleExists())

	interval, ok := m.GetScheduleInterval()
	require.True(t, ok)
	assert.Equal(t, time.Hour, interval)

	require.NoError(t, m.DeleteRefreshSchedule(context.Background()))
	assert.False(t, m.ScheduleExists())
	assert.Error(t, m.DeleteRefreshSchedule(context.Background()))
}
