// Package ranker implements the request-time feed composition described in
// spec.md §4.H: recency bucketing, per-viewer preference modifiers, seen-item
// filtering, bounded jitter, and cursor-based pagination. It is pure given
// its inputs (the candidate posts plus the viewer's seen/preference sets) —
// the only non-determinism is the configured jitter, which is grounded on
// the teacher's use of math/rand for jittered backoff, narrowed here to a
// caller-supplied rand.Source so tests can fix the sequence.
package ranker

import (
	"math/rand"
	"strconv"

	"github.com/doceazedo/devlogs-feed/internal/config"
)

// Candidate is one post eligible for ranking, with the viewer-independent
// fields the ranker needs.
type Candidate struct {
	URI       string
	AuthorDID string
	Timestamp int64
	Priority  float32
}

// Request mirrors spec.md §4.H's {viewer_did?, cursor?, limit?}.
type Request struct {
	ViewerDID string
	Cursor    string
	Limit     int
}

// Response mirrors spec.md §4.H's {feed:[uri], cursor?}.
type Response struct {
	URIs   []string
	Cursor string
}

// Preferences is the viewer's boosted/penalized author partition (spec.md
// §4.H step 3); Seen is the viewer's seen-post set (step 2). Both may be nil
// for an anonymous request.
type Preferences struct {
	Boosted   map[string]struct{}
	Penalized map[string]struct{}
	Seen      map[string]struct{}
}

type ranked struct {
	uri     string
	bucket  int64
	display float64
}

// Rank composes candidates into a paginated response per spec.md §4.H steps
// 4-6. candidates must already be filtered to timestamp > cutoff by the
// caller (the store's ListPosts(cutoff) does this).
func Rank(cfg config.FeedConfig, candidates []Candidate, prefs Preferences, req Request, rng *rand.Rand) Response {
	bucketSeconds := int64(cfg.PriorityBucketHours * 3600)
	if bucketSeconds <= 0 {
		bucketSeconds = 1
	}

	items := make([]ranked, 0, len(candidates))
	for _, c := range candidates {
		if _, seen := prefs.Seen[c.URI]; seen {
			continue
		}
		modifier := 1.0
		if prefs.Boosted != nil {
			if _, ok := prefs.Boosted[c.AuthorDID]; ok {
				modifier = cfg.PreferenceBoost
			}
		}
		if prefs.Penalized != nil {
			if _, ok := prefs.Penalized[c.AuthorDID]; ok {
				modifier = cfg.PreferencePenalty
			}
		}
		jitter := 1.0
		if cfg.ShuffleVariance > 0 && rng != nil {
			jitter = 1 + (rng.Float64()*2-1)*cfg.ShuffleVariance
		}
		display := float64(c.Priority) * modifier * jitter

		items = append(items, ranked{
			uri:     c.URI,
			bucket:  floorDiv(c.Timestamp, bucketSeconds),
			display: display,
		})
	}

	sortRanked(items)

	limit := req.Limit
	if limit <= 0 {
		limit = cfg.DefaultLimit
	}
	if limit > cfg.MaxLimit {
		limit = cfg.MaxLimit
	}

	start := parseCursor(req.Cursor)
	if start > len(items) {
		start = len(items)
	}
	end := start + limit
	if end > len(items) {
		end = len(items)
	}

	uris := make([]string, 0, end-start)
	for _, it := range items[start:end] {
		uris = append(uris, it.uri)
	}

	resp := Response{URIs: uris}
	if end < len(items) {
		resp.Cursor = strconv.Itoa(end)
	}
	return resp
}

// sortRanked orders by recency bucket descending, then display priority
// descending — a stable insertion sort is adequate at feed page sizes and
// keeps equal-key ordering deterministic, matching spec.md §4.H step 5.
func sortRanked(items []ranked) {
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && less(items[j], items[j-1]); j-- {
			items[j], items[j-1] = items[j-1], items[j]
		}
	}
}

// less reports whether a should sort before b: larger bucket first, then
// larger display priority first.
func less(a, b ranked) bool {
	if a.bucket != b.bucket {
		return a.bucket > b.bucket
	}
	return a.display > b.display
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func parseCursor(cursor string) int {
	if cursor == "" {
		return 0
	}
	n, err := strconv.Atoi(cursor)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// DeterministicRand returns a jitter source seeded from a stable per-request
// value (e.g. a hash of viewer_did+cursor) so repeating the same request
// reproduces the same order. With the cursor in the seed each page is
// jittered independently, so an item can appear on more than one page.
// Callers needing true per-call randomness may pass any *rand.Rand instead.
func DeterministicRand(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}
