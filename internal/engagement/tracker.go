// Package engagement implements the denormalized reply/repost/like counter
// maintenance and repost-velocity spam detection described in spec.md §4.G.
// The per-author recent-repost frequency check is grounded on the pack's
// RepostAbuseFilter (internal/filter's sibling grounding source): an
// LRU-backed per-actor activity cache is read on every repost event instead
// of scanning the sidecar table, with the store's windowed COUNT as a
// fallback for actors the cache has evicted.
package engagement

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/doceazedo/devlogs-feed/internal/config"
	"github.com/doceazedo/devlogs-feed/internal/store"
)

// Backend is the subset of *store.Store the tracker needs, kept narrow so
// the tracker can be unit tested against a fake.
type Backend interface {
	InsertReply(parentURI, eventURI, actorDID string, ts int64) error
	InsertRepost(parentURI, eventURI, actorDID string, ts int64) error
	RepliesInWindow(parentURI string, sinceTs int64) (int, error)
	RepostsInWindow(parentURI string, sinceTs int64) (int, error)
	ReplyCount(parentURI string) (int, error)
	RepostCount(parentURI string) (int, error)
	LikeCount(postURI string) (int, error)
	ActorRepostFrequency(actorDID string, sinceTs int64) (int, error)
	UpsertEngagement(postURI string, counters store.EngagementCounters) error
	FlagSpammer(did, reason string, frequency *float64, flaggedAt int64, autoDetected bool) error
}

// recentActivity is the LRU-cached per-author repost count within the
// current velocity window, mirroring RepostAbuseFilter's UserActivityStats.
type recentActivity struct {
	reposts int
}

// Tracker maintains engagement counters and detects repost-velocity spam.
type Tracker struct {
	store Backend
	cfg   config.SpamConfig
	eng   config.EngagementConfig
	cache *lru.LRU[string, *recentActivity]
}

// ErrSpamDetected is returned by RecordRepost when the reposter's frequency
// within the velocity window meets or exceeds the configured threshold; the
// repost event itself is rejected per spec.md §4.G step 3.
var ErrSpamDetected = fmt.Errorf("spam detected: repost velocity threshold exceeded")

const repostActivityCacheSize = 4096

func New(backend Backend, spamCfg config.SpamConfig, engCfg config.EngagementConfig) *Tracker {
	window := time.Duration(spamCfg.VelocityWindowHours) * time.Hour
	cache := lru.NewLRU[string, *recentActivity](repostActivityCacheSize, nil, window)
	return &Tracker{store: backend, cfg: spamCfg, eng: engCfg, cache: cache}
}

// RecordLike is a no-op bookkeeping hook kept for symmetry: likes have no
// sidecar insert of their own (the likes table is written by the pipeline's
// InsertLike, not the tracker) but still trigger a counter recompute.
func (t *Tracker) RecordLike(postURI string, now int64) error {
	return t.recompute(postURI, now)
}

// RecordReply appends a reply event and recomputes postURI's counters.
func (t *Tracker) RecordReply(parentURI, eventURI, actorDID string, now int64) error {
	if err := t.store.InsertReply(parentURI, eventURI, actorDID, now); err != nil {
		return fmt.Errorf("insert reply: %w", err)
	}
	return t.recompute(parentURI, now)
}

// RecordRepost appends a repost event, recomputes counters, and checks the
// reposter's velocity. If the reposter exceeds the configured threshold, the
// author is flagged as a spammer and ErrSpamDetected is returned; the caller
// (pipeline orchestrator) should discard any in-flight state for that author
// and not treat the repost as accepted.
func (t *Tracker) RecordRepost(parentURI, eventURI, actorDID string, now int64) error {
	windowStart := now - int64(time.Duration(t.cfg.VelocityWindowHours)*time.Hour/time.Second)

	activity, ok := t.cache.Get(actorDID)
	if !ok {
		count, err := t.store.ActorRepostFrequency(actorDID, windowStart)
		if err != nil {
			return fmt.Errorf("load actor repost frequency: %w", err)
		}
		activity = &recentActivity{reposts: count}
	}
	frequency := float64(activity.reposts) / float64(t.cfg.VelocityWindowHours)

	if frequency >= float64(t.cfg.RepostThreshold) {
		freq := frequency
		reason := fmt.Sprintf("repost velocity %.2f reposts/h within %dh window", freq, t.cfg.VelocityWindowHours)
		if err := t.store.FlagSpammer(actorDID, reason, &freq, now, true); err != nil {
			return fmt.Errorf("flag spammer: %w", err)
		}
		return ErrSpamDetected
	}

	activity.reposts++
	t.cache.Add(actorDID, activity)

	if err := t.store.InsertRepost(parentURI, eventURI, actorDID, now); err != nil {
		return fmt.Errorf("insert repost: %w", err)
	}
	return t.recompute(parentURI, now)
}

// recompute reads the full sidecar counts plus the windowed counts for
// velocity and writes the denormalized projection, per spec.md §4.G step 2.
func (t *Tracker) recompute(postURI string, now int64) error {
	replyCount, err := t.store.ReplyCount(postURI)
	if err != nil {
		return fmt.Errorf("reply count: %w", err)
	}
	repostCount, err := t.store.RepostCount(postURI)
	if err != nil {
		return fmt.Errorf("repost count: %w", err)
	}
	likeCount, err := t.store.LikeCount(postURI)
	if err != nil {
		return fmt.Errorf("like count: %w", err)
	}

	windowStart := now - int64(time.Duration(t.cfg.VelocityWindowHours)*time.Hour/time.Second)
	repliesInWindow, err := t.store.RepliesInWindow(postURI, windowStart)
	if err != nil {
		return fmt.Errorf("replies in window: %w", err)
	}
	repostsInWindow, err := t.store.RepostsInWindow(postURI, windowStart)
	if err != nil {
		return fmt.Errorf("reposts in window: %w", err)
	}

	velocity := t.eng.WeightReply*float64(repliesInWindow) +
		t.eng.WeightRepost*float64(repostsInWindow) +
		0.1*t.eng.WeightLike*float64(likeCount)

	return t.store.UpsertEngagement(postURI, store.EngagementCounters{
		ReplyCount:    replyCount,
		RepostCount:   repostCount,
		LikeCount:     likeCount,
		VelocityScore: velocity,
		LastUpdated:   now,
	})
}
