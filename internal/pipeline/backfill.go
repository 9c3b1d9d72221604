package pipeline

import (
	"context"
	"log/slog"

	"github.com/samber/lo"

	"github.com/doceazedo/devlogs-feed/internal/config"
	"github.com/doceazedo/devlogs-feed/internal/lexical"
)

// SearchResult is one post returned by a backfill query, already normalized
// to the orchestrator's protocol-agnostic shape.
type SearchResult struct {
	URI        string
	AuthorDID  string
	Text       string
	Lang       string
	CreatedAt  int64
	IsReply    bool
	FacetLinks []string
	Embed      *lexical.Embed
}

// SearchClient is the subset of the auxiliary-search HTTP client the backfill
// path needs. internal/atproto's Client implements this against
// app.bsky.feed.searchPosts, authenticated via com.atproto.server.createSession
// exactly as the teacher's bsky.Client authenticates before any other call.
type SearchClient interface {
	Authenticate(ctx context.Context) error
	SearchPosts(ctx context.Context, query string, cursor string, pageSize int) (results []SearchResult, nextCursor string, err error)
}

// Backfill runs the bootstrap backfill described in spec.md §4.E: iterate a
// short list of configured queries in order, dedupe by URI, process each
// returned post through the live-path pipeline, and stop once the accepted
// count reaches the configured limit.
type Backfill struct {
	Client       SearchClient
	Orchestrator *Orchestrator
	Config       config.BackfillConfig
}

// Run authenticates and processes every configured query in order. It
// returns the number of posts accepted.
func (b *Backfill) Run(ctx context.Context) (accepted int, err error) {
	if err := b.Client.Authenticate(ctx); err != nil {
		return 0, err
	}

	seen := make(map[string]struct{})
	pageSize := b.Config.PageSize
	if pageSize <= 0 {
		pageSize = 25
	}

	// A misconfigured query list might repeat an entry; lo.Uniq keeps the
	// configured order while dropping the duplicate queries outright, rather
	// than relying on the per-post seen-set to absorb the redundant work.
	queries := lo.Uniq(b.Config.Queries)

	for _, query := range queries {
		cursor := ""
		for {
			if accepted >= b.Config.Limit {
				slog.Info("backfill: reached configured limit", "accepted", accepted)
				return accepted, nil
			}

			results, next, err := b.Client.SearchPosts(ctx, query, cursor, pageSize)
			if err != nil {
				slog.Error("backfill: search query failed", "query", query, "error", err)
				break
			}
			if len(results) == 0 {
				break
			}

			for _, r := range results {
				if _, dup := seen[r.URI]; dup {
					continue
				}
				seen[r.URI] = struct{}{}

				ok, reason := b.Orchestrator.IngestPost(ctx, RawPost{
					URI:        r.URI,
					AuthorDID:  r.AuthorDID,
					Text:       r.Text,
					Lang:       r.Lang,
					CreatedAt:  r.CreatedAt,
					IsReply:    r.IsReply,
					FacetLinks: r.FacetLinks,
					Embed:      r.Embed,
				})
				if ok {
					accepted++
				} else {
					slog.Debug("backfill: post rejected", "uri", r.URI, "reason", reason)
				}
				if accepted >= b.Config.Limit {
					break
				}
			}

			if next == "" {
				break
			}
			cursor = next
		}
	}

	slog.Info("backfill: complete", "accepted", accepted, "queries", len(queries))
	return accepted, nil
}
