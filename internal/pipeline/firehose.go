package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/bluesky-social/indigo/api/atproto"
	appbsky "github.com/bluesky-social/indigo/api/bsky"
	"github.com/bluesky-social/indigo/events"
	"github.com/bluesky-social/indigo/events/schedulers/autoscaling"
	lexutil "github.com/bluesky-social/indigo/lex/util"
	"github.com/bluesky-social/indigo/repo"
	"github.com/bluesky-social/indigo/repomgr"
	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/doceazedo/devlogs-feed/internal/engagement"
	"github.com/doceazedo/devlogs-feed/internal/lexical"
)

const (
	wsReadBufferSize  = 1024 * 16
	wsWriteBufferSize = 1024 * 16
)

const (
	collectionPost   = "app.bsky.feed.post"
	collectionLike   = "app.bsky.feed.like"
	collectionRepost = "app.bsky.feed.repost"
)

// Firehose subscribes to a relay's repo-commit stream and feeds normalized
// records into an Orchestrator. The connect/reconnect shape — exponential
// backoff over a gorilla/websocket dial, an autoscaling scheduler fanning
// commits out to worker goroutines — is grounded directly on the teacher
// corpus's firehose consumer (indigo + cenkalti/backoff/v4 + gorilla/websocket),
// carried over unchanged from spec.md §6's firehose interface.
type Firehose struct {
	RelayHost    string
	Orchestrator *Orchestrator
	Limit        int64 // 0 = unlimited, from FIREHOSE_LIMIT; checked only before each (re)connect, so a live connection is not cut off at the limit

	processed int64
}

// Run connects and reconnects until ctx is cancelled.
func (f *Firehose) Run(ctx context.Context) {
	address := fmt.Sprintf("wss://%s/xrpc/com.atproto.sync.subscribeRepos", f.RelayHost)
	headers := http.Header{}
	headers.Set("User-Agent", "devlogs-feed")

	dialer := websocket.Dialer{
		ReadBufferSize:   wsReadBufferSize,
		WriteBufferSize:  wsWriteBufferSize,
		HandshakeTimeout: 30 * time.Second,
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 10 * time.Minute
	bo.Multiplier = 1.5
	bo.MaxElapsedTime = 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if f.Limit > 0 && f.processed >= f.Limit {
			slog.Info("firehose: reached configured event limit, stopping", "limit", f.Limit)
			return
		}

		conn, _, err := dialer.Dial(address, headers)
		if err != nil {
			slog.Warn("firehose: dial failed, retrying", "error", err)
			time.Sleep(bo.NextBackOff())
			continue
		}
		bo.Reset()

		scheduler := autoscaling.NewScheduler(
			autoscaling.AutoscaleSettings{
				MaxConcurrency:           runtime.NumCPU(),
				Concurrency:              2,
				AutoscaleFrequency:       5 * time.Second,
				ThroughputBucketDuration: time.Second,
				ThroughputBucketCount:    10,
			},
			conn.RemoteAddr().String(),
			f.callbacks().EventHandler,
		)

		err = events.HandleRepoStream(ctx, conn, scheduler)
		conn.Close()
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			slog.Warn("firehose: stream ended, reconnecting", "error", err)
			time.Sleep(bo.NextBackOff())
		}
	}
}

func (f *Firehose) callbacks() *events.RepoStreamCallbacks {
	return &events.RepoStreamCallbacks{
		RepoCommit: func(evt *atproto.SyncSubscribeRepos_Commit) error {
			f.processed++
			rr, err := repo.ReadRepoFromCar(context.Background(), bytes.NewReader(evt.Blocks))
			if err != nil {
				// A malformed CAR block for one commit shouldn't kill the stream.
				return nil
			}
			for _, op := range evt.Ops {
				collection := strings.SplitN(op.Path, "/", 2)[0]
				switch op.Action {
				case string(repomgr.EvtKindCreateRecord), string(repomgr.EvtKindUpdateRecord):
					f.handleCreate(rr, evt, op, collection)
				case string(repomgr.EvtKindDeleteRecord):
					f.handleDelete(evt, op, collection)
				}
			}
			return nil
		},
	}
}

func (f *Firehose) handleCreate(rr *repo.Repo, evt *atproto.SyncSubscribeRepos_Commit, op *atproto.SyncSubscribeRepos_RepoOp, collection string) {
	switch collection {
	case collectionPost, collectionLike, collectionRepost:
	default:
		return
	}

	_, rec, err := rr.GetRecord(context.Background(), op.Path)
	if err != nil {
		return
	}
	decoder := lexutil.LexiconTypeDecoder{Val: rec}
	raw, err := decoder.MarshalJSON()
	if err != nil {
		return
	}

	uri := fmt.Sprintf("at://%s/%s", evt.Repo, op.Path)

	switch collection {
	case collectionPost:
		f.handlePostRecord(uri, evt.Repo, raw)
	case collectionLike:
		f.handleLikeRecord(uri, raw)
	case collectionRepost:
		f.handleRepostRecord(uri, evt.Repo, raw)
	}
}

func (f *Firehose) handlePostRecord(uri, authorDID string, raw []byte) {
	var post appbsky.FeedPost
	if err := json.Unmarshal(raw, &post); err != nil {
		return
	}
	createdAt, err := time.Parse(time.RFC3339, post.CreatedAt)
	if err != nil {
		createdAt = time.Now()
	}
	lang := ""
	if len(post.Langs) > 0 {
		lang = post.Langs[0]
	}

	f.Orchestrator.IngestPost(context.Background(), RawPost{
		URI:        uri,
		AuthorDID:  authorDID,
		Text:       post.Text,
		Lang:       lang,
		CreatedAt:  createdAt.Unix(),
		IsReply:    post.Reply != nil,
		FacetLinks: facetLinks(post.Facets),
		Embed:      convertEmbed(post.Embed),
	})
}

func (f *Firehose) handleLikeRecord(uri string, raw []byte) {
	var like appbsky.FeedLike
	if err := json.Unmarshal(raw, &like); err != nil || like.Subject == nil {
		return
	}
	f.Orchestrator.IngestLike(like.Subject.Uri, uri)
}

func (f *Firehose) handleRepostRecord(uri, authorDID string, raw []byte) {
	var repost appbsky.FeedRepost
	if err := json.Unmarshal(raw, &repost); err != nil || repost.Subject == nil {
		return
	}
	err := f.Orchestrator.IngestRepost(repost.Subject.Uri, uri, authorDID, time.Now().Unix())
	if err != nil {
		if err == engagement.ErrSpamDetected {
			slog.Info("firehose: reposter flagged as spammer", "author", authorDID)
			return
		}
		slog.Error("firehose: repost ingest failed", "error", err)
	}
}

func (f *Firehose) handleDelete(evt *atproto.SyncSubscribeRepos_Commit, op *atproto.SyncSubscribeRepos_RepoOp, collection string) {
	uri := fmt.Sprintf("at://%s/%s", evt.Repo, op.Path)
	switch collection {
	case collectionPost:
		f.Orchestrator.IngestPostDelete(uri)
	case collectionLike:
		f.Orchestrator.IngestLikeDelete(uri)
	}
}

// facetLinks extracts the URIs of any link facets, mirroring spec.md §4.A's
// "structured facets take priority over naive text scanning".
func facetLinks(facets []*appbsky.RichtextFacet) []string {
	var links []string
	for _, facet := range facets {
		for _, feature := range facet.Features {
			if feature.RichtextFacet_Link != nil && feature.RichtextFacet_Link.Uri != "" {
				links = append(links, feature.RichtextFacet_Link.Uri)
			}
		}
	}
	return links
}

// convertEmbed maps the AT Protocol embed union onto the protocol-agnostic
// lexical.Embed tagged union consumed by lexical.AnalyzeEmbed.
func convertEmbed(embed *appbsky.FeedPost_Embed) *lexical.Embed {
	if embed == nil {
		return nil
	}
	switch {
	case embed.EmbedImages != nil:
		return &lexical.Embed{Kind: lexical.EmbedImages, Images: convertImages(embed.EmbedImages.Images)}
	case embed.EmbedVideo != nil:
		return &lexical.Embed{Kind: lexical.EmbedVideo}
	case embed.EmbedExternal != nil && embed.EmbedExternal.External != nil:
		return &lexical.Embed{Kind: lexical.EmbedExternal, ExternalURI: embed.EmbedExternal.External.Uri}
	case embed.EmbedRecordWithMedia != nil && embed.EmbedRecordWithMedia.Media != nil:
		media := embed.EmbedRecordWithMedia.Media
		quoted := &lexical.Embed{}
		switch {
		case media.EmbedImages != nil:
			quoted = &lexical.Embed{Kind: lexical.EmbedImages, Images: convertImages(media.EmbedImages.Images)}
		case media.EmbedVideo != nil:
			quoted = &lexical.Embed{Kind: lexical.EmbedVideo}
		case media.EmbedExternal != nil && media.EmbedExternal.External != nil:
			quoted = &lexical.Embed{Kind: lexical.EmbedExternal, ExternalURI: media.EmbedExternal.External.Uri}
		}
		return &lexical.Embed{Kind: lexical.EmbedQuoteWithMedia, QuotedMedia: quoted}
	default:
		return nil
	}
}

func convertImages(images []*appbsky.EmbedImages_Image) []lexical.ImageRef {
	out := make([]lexical.ImageRef, 0, len(images))
	for _, img := range images {
		out = append(out, lexical.ImageRef{HasAlt: img.Alt != ""})
	}
	return out
}
