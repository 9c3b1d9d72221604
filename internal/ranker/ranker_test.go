package ranker

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/doceazedo/devlogs-feed/internal/config"
)

func testFeedConfig() config.FeedConfig {
	return config.FeedConfig{
		PriorityBucketHours: 1,
		DefaultLimit:        50,
		MaxLimit:            100,
		PreferenceBoost:     1.3,
		PreferencePenalty:   0.5,
		ShuffleVariance:     0,
	}
}

func TestRank_NewerBucketAlwaysBeatsOlderBucketRegardlessOfPriority(t *testing.T) {
	cfg := testFeedConfig()
	candidates := []Candidate{
		{URI: "A", Timestamp: 100, Priority: 0.9},  // bucket 0
		{URI: "B", Timestamp: 3700, Priority: 0.1}, // bucket 1, newer
	}
	resp := Rank(cfg, candidates, Preferences{}, Request{Limit: 10}, nil)
	assert.Equal(t, []string{"B", "A"}, resp.URIs)
}

func TestRank_SeenPostsExcluded(t *testing.T) {
	cfg := testFeedConfig()
	candidates := []Candidate{{URI: "A", Timestamp: 1000, Priority: 1}}
	resp := Rank(cfg, candidates, Preferences{Seen: map[string]struct{}{"A": {}}}, Request{Limit: 10}, nil)
	assert.Empty(t, resp.URIs)
}

func TestRank_PenalizedAuthorSortsBehindEquivalentBucket(t *testing.T) {
	cfg := testFeedConfig()
	candidates := []Candidate{
		{URI: "P", AuthorDID: "did:bad", Timestamp: 1000, Priority: 0.5},
		{URI: "Q", AuthorDID: "did:other", Timestamp: 1000, Priority: 0.5},
	}
	prefs := Preferences{Penalized: map[string]struct{}{"did:bad": {}}}
	resp := Rank(cfg, candidates, prefs, Request{Limit: 10}, nil)
	assert.Equal(t, []string{"Q", "P"}, resp.URIs)
}

func TestRank_BoostedAuthorSortsAhead(t *testing.T) {
	cfg := testFeedConfig()
	candidates := []Candidate{
		{URI: "P", AuthorDID: "did:good", Timestamp: 1000, Priority: 0.5},
		{URI: "Q", AuthorDID: "did:other", Timestamp: 1000, Priority: 0.5},
	}
	prefs := Preferences{Boosted: map[string]struct{}{"did:good": {}}}
	resp := Rank(cfg, candidates, prefs, Request{Limit: 10}, nil)
	assert.Equal(t, []string{"P", "Q"}, resp.URIs)
}

func TestRank_PaginationCursor(t *testing.T) {
	cfg := testFeedConfig()
	candidates := []Candidate{
		{URI: "A", Timestamp: 3000, Priority: 0.9},
		{URI: "B", Timestamp: 2000, Priority: 0.8},
		{URI: "C", Timestamp: 1000, Priority: 0.7},
	}
	first := Rank(cfg, candidates, Preferences{}, Request{Limit: 2}, nil)
	assert.Equal(t, []string{"A", "B"}, first.URIs)
	assert.Equal(t, "2", first.Cursor)

	second := Rank(cfg, candidates, Preferences{}, Request{Limit: 2, Cursor: first.Cursor}, nil)
	assert.Equal(t, []string{"C"}, second.URIs)
	assert.Empty(t, second.Cursor, "no cursor once the remainder is exhausted")
}

func TestRank_LimitClampedToMax(t *testing.T) {
	cfg := testFeedConfig()
	cfg.MaxLimit = 1
	candidates := []Candidate{
		{URI: "A", Timestamp: 1000, Priority: 0.9},
		{URI: "B", Timestamp: 1000, Priority: 0.8},
	}
	resp := Rank(cfg, candidates, Preferences{}, Request{Limit: 50}, nil)
	assert.Len(t, resp.URIs, 1)
}
