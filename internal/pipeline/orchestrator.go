// Package pipeline wires the lexical analyzer, filter chain, ML worker,
// priority calculator, engagement tracker, and storage layer into the live
// ingestion path and its batch-flush/cleanup timers (spec.md §4.E, §4.I).
// The pending-queue-then-batch-flush shape is grounded on the teacher's
// poller: internal/atproto/poller.go also defers all persistence to a single
// periodic pass rather than writing inline from the per-event handler.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/doceazedo/devlogs-feed/internal/config"
	"github.com/doceazedo/devlogs-feed/internal/engagement"
	"github.com/doceazedo/devlogs-feed/internal/filter"
	"github.com/doceazedo/devlogs-feed/internal/lexical"
	"github.com/doceazedo/devlogs-feed/internal/mlworker"
	"github.com/doceazedo/devlogs-feed/internal/priority"
	"github.com/doceazedo/devlogs-feed/internal/store"
)

// RawPost is the protocol-agnostic shape the firehose and backfill
// collaborators both normalize into before handing a candidate to
// IngestPost, so the orchestrator's scoring logic has no AT Protocol
// wire-format dependency.
type RawPost struct {
	URI        string
	AuthorDID  string
	Text       string
	Lang       string
	CreatedAt  int64
	IsReply    bool
	FacetLinks []string
	Embed      *lexical.Embed
}

type likeItem struct {
	postURI string
	likeURI string
}

// Orchestrator owns the pending-posts/likes/deletes/like-deletes queues and
// the single mutual-exclusion boundary guarding them (spec.md §4.E step 9
// and the batch-flush loop). Likes are queued and flushed with the batch;
// reposts and replies bypass the queue and go straight to the engagement
// tracker — 4.G has no batching requirement of its own.
type Orchestrator struct {
	cfg    *config.ScoringConfig
	store  *store.Store
	filter *filter.Chain
	ml     *mlworker.Handle
	eng    *engagement.Tracker

	mu                 sync.Mutex
	pendingPosts       []store.Post
	pendingLikes       []likeItem
	pendingDeletes     []string
	pendingLikeDeletes []string

	lastFlushAt   atomic.Int64
	lastCleanupAt atomic.Int64
}

// Stats summarizes the orchestrator's live state for the admin/metrics
// surface (SPEC_FULL.md "New: Admin/metrics surface").
type Stats struct {
	PendingPosts       int
	PendingLikes       int
	PendingDeletes     int
	PendingLikeDeletes int
	LastFlushAt        int64
	LastCleanupAt      int64
}

// Stats reports the current pending-queue depths and maintenance timer
// watermarks.
func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Stats{
		PendingPosts:       len(o.pendingPosts),
		PendingLikes:       len(o.pendingLikes),
		PendingDeletes:     len(o.pendingDeletes),
		PendingLikeDeletes: len(o.pendingLikeDeletes),
		LastFlushAt:        o.lastFlushAt.Load(),
		LastCleanupAt:      o.lastCleanupAt.Load(),
	}
}

// New builds an Orchestrator. The filter chain's author-status predicates are
// bound to the live store so blocks/spam-flags applied mid-run take effect
// on the next event without reconstructing the chain.
func New(cfg *config.ScoringConfig, st *store.Store, ml *mlworker.Handle) *Orchestrator {
	caps := filter.Capabilities{IsBlocked: st.IsBlocked, IsSpammer: st.IsSpammer}
	return &Orchestrator{
		cfg:    cfg,
		store:  st,
		filter: filter.New(cfg, caps),
		ml:     ml,
		eng:    engagement.New(st, cfg.Spam, cfg.Engagement),
	}
}

// IngestPost runs the live-path scoring pipeline (spec.md §4.E steps 1-9) and
// appends an accepted post to the pending-posts queue. It returns whether the
// post was accepted and, if not, why — callers may use this for logging or
// metrics but must not treat rejection as an error.
func (o *Orchestrator) IngestPost(ctx context.Context, raw RawPost) (accepted bool, reason string) {
	defer func() {
		if accepted {
			postsAcceptedTotal.Inc()
		} else {
			postsRejectedTotal.WithLabelValues(reason).Inc()
		}
	}()

	if raw.IsReply {
		return false, "reply"
	}

	cand := filter.Candidate{
		AuthorDID:  raw.AuthorDID,
		Text:       raw.Text,
		LangTag:    raw.Lang,
		FacetLinks: raw.FacetLinks,
		Embed:      raw.Embed,
	}
	result := o.filter.Evaluate(cand)
	if !result.Pass {
		return false, string(result.Reason)
	}

	hasKeyword, _ := lexical.HasKeywords(raw.Text, o.cfg.Filter.GamedevKeywords)
	hasHashtag, _ := lexical.HasHashtags(raw.Text, o.cfg.Filter.GamedevHashtags)
	if !hasKeyword && !hasHashtag && !o.isInfluencer(raw.AuthorDID) {
		return false, "off_topic"
	}

	scores := o.ml.Score(ctx, raw.Text)
	if scores.NegativeRejection {
		return false, "negative_rejection"
	}

	media := lexical.AnalyzeEmbed(raw.Embed, raw.FacetLinks, raw.Text, o.cfg.Filter.PromoDomains)

	signals := priority.Signals{
		TopicScore:    scores.TopicScore,
		SemanticScore: scores.SemanticScore,
		EngagementBait: scores.QualityBait,
		Synthetic:     scores.QualitySynthetic,
		Authenticity:  scores.QualityAuthentic,
		IsFirstPerson: lexical.DetectFirstPerson(raw.Text),
		ImageCount:    media.ImageCount,
		HasVideo:      media.HasVideo,
		HasAltText:    media.HasAltText,
		LinkCount:     media.LinkCount,
		PromoLinks:    media.PromoLinks,
		TopicLabel:    scores.TopicLabel,
	}
	breakdown := priority.Calculate(o.cfg.Priority, o.cfg.Engagement, signals)
	if breakdown.FinalPriority < o.cfg.Priority.MinPriority {
		return false, "below_min_priority"
	}

	post := store.Post{
		URI:            raw.URI,
		AuthorDID:      raw.AuthorDID,
		Text:           raw.Text,
		Timestamp:      raw.CreatedAt,
		Priority:       float32(breakdown.FinalPriority),
		HasMedia:       media.HasMedia,
		ImageCount:     media.ImageCount,
		HasAltText:     media.HasAltText,
		HasVideo:       media.HasVideo,
		IsFirstPerson:  signals.IsFirstPerson,
		LinkCount:      media.LinkCount,
		PromoLinkCount: media.PromoLinks,
	}

	o.mu.Lock()
	o.pendingPosts = append(o.pendingPosts, post)
	o.mu.Unlock()
	return true, ""
}

func (o *Orchestrator) isInfluencer(did string) bool {
	for _, bypass := range o.cfg.Filter.InfluencerBypass {
		if bypass == did {
			return true
		}
	}
	return false
}

// IngestLike queues a like for the next flush, unscored per spec.md §4.E.
func (o *Orchestrator) IngestLike(postURI, likeURI string) {
	o.mu.Lock()
	o.pendingLikes = append(o.pendingLikes, likeItem{postURI: postURI, likeURI: likeURI})
	o.mu.Unlock()
}

// IngestPostDelete queues a post deletion for the next flush.
func (o *Orchestrator) IngestPostDelete(uri string) {
	o.mu.Lock()
	o.pendingDeletes = append(o.pendingDeletes, uri)
	o.mu.Unlock()
}

// IngestLikeDelete queues a like deletion for the next flush.
func (o *Orchestrator) IngestLikeDelete(likeURI string) {
	o.mu.Lock()
	o.pendingLikeDeletes = append(o.pendingLikeDeletes, likeURI)
	o.mu.Unlock()
}

// IngestReply records a reply event directly against the engagement tracker
// (spec.md §4.G) — replies bypass the pending-post queue entirely.
func (o *Orchestrator) IngestReply(parentURI, eventURI, actorDID string, now int64) error {
	return o.eng.RecordReply(parentURI, eventURI, actorDID, now)
}

// IngestRepost records a repost event directly against the engagement
// tracker. A returned engagement.ErrSpamDetected means the author was just
// flagged as a spammer and the repost itself was rejected.
func (o *Orchestrator) IngestRepost(parentURI, eventURI, actorDID string, now int64) error {
	return o.eng.RecordRepost(parentURI, eventURI, actorDID, now)
}

// flush drains the four pending queues under one lock, then performs the
// ordered storage pass described in spec.md §4.E: deletes before inserts, and
// pending likes referencing a just-deleted post are dropped rather than
// inserted.
func (o *Orchestrator) flush() error {
	o.mu.Lock()
	posts := o.pendingPosts
	likes := o.pendingLikes
	deletes := o.pendingDeletes
	likeDeletes := o.pendingLikeDeletes
	o.pendingPosts = nil
	o.pendingLikes = nil
	o.pendingDeletes = nil
	o.pendingLikeDeletes = nil
	o.mu.Unlock()

	if len(posts) == 0 && len(likes) == 0 && len(deletes) == 0 && len(likeDeletes) == 0 {
		return nil
	}
	flushStart := time.Now()
	defer func() {
		o.lastFlushAt.Store(time.Now().Unix())
		flushDurationSeconds.Observe(time.Since(flushStart).Seconds())
	}()

	deletedURIs := make(map[string]struct{}, len(deletes))
	for _, uri := range deletes {
		if err := o.store.DeletePost(uri); err != nil {
			return fmt.Errorf("flush: delete post %s: %w", uri, err)
		}
		deletedURIs[uri] = struct{}{}
	}

	for _, likeURI := range likeDeletes {
		if err := o.store.DeleteLike(likeURI); err != nil {
			return fmt.Errorf("flush: delete like %s: %w", likeURI, err)
		}
	}

	remainingLikes := likes[:0]
	for _, l := range likes {
		if _, deleted := deletedURIs[l.postURI]; deleted {
			continue
		}
		remainingLikes = append(remainingLikes, l)
	}

	if len(posts) > 0 {
		if err := o.store.InsertPosts(posts); err != nil {
			return fmt.Errorf("flush: insert posts: %w", err)
		}
	}
	for _, l := range remainingLikes {
		if err := o.store.InsertLike(l.postURI, l.likeURI); err != nil {
			return fmt.Errorf("flush: insert like %s: %w", l.likeURI, err)
		}
	}
	return nil
}

// RunFlushLoop runs the flush timer (spec.md §4.I, ~10s) until ctx is
// cancelled.
func (o *Orchestrator) RunFlushLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := o.flush(); err != nil {
				slog.Error("pipeline: flush failed", "error", err)
			}
		}
	}
}

// RunCleanupLoop runs the cleanup timer (spec.md §4.I, ~60s) until ctx is
// cancelled: purges stale engagement events, then stale/excess posts.
func (o *Orchestrator) RunCleanupLoop(ctx context.Context, interval time.Duration, now func() int64) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.cleanup(now())
		}
	}
}

func (o *Orchestrator) cleanup(now int64) {
	defer o.lastCleanupAt.Store(now)
	m := o.cfg.Maintenance
	engMaxAge := int64(m.EngagementMaxAgeHours) * 3600
	if _, err := o.store.PurgeStaleEngagement(now, engMaxAge); err != nil {
		slog.Error("pipeline: purge stale engagement failed", "error", err)
	}
	postMaxAge := int64(m.PostMaxAgeHours) * 3600
	deleted, err := o.store.PurgeStale(now, postMaxAge, m.MaxStoredPosts)
	if err != nil {
		slog.Error("pipeline: purge stale posts failed", "error", err)
		return
	}
	if deleted > 0 {
		slog.Info("pipeline: cleanup purged posts", "count", deleted)
	}
}
