// Package server implements the HTTP/XRPC surface for devlogs-feed: the two
// feed-generator procedures (`app.bsky.feed.getFeedSkeleton`,
// `app.bsky.feed.describeFeedGenerator`), the interaction-reporting
// procedure (`app.bsky.feed.sendInteractions`), and an admin/metrics surface
// for operators. The chi-router-per-XRPC-method shape, graceful-shutdown
// Start, and response/logging/CORS middleware are carried over from the
// teacher's ActivityPub server (internal/server/server.go) and repointed at
// the feed generator's endpoints instead of actor/inbox/webfinger routing.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/doceazedo/devlogs-feed/internal/atproto"
	"github.com/doceazedo/devlogs-feed/internal/config"
	"github.com/doceazedo/devlogs-feed/internal/pipeline"
	"github.com/doceazedo/devlogs-feed/internal/ranker"
	"github.com/doceazedo/devlogs-feed/internal/store"
)

const version = "1.0.0"

// feedRecordName is the rkey of this generator's single
// app.bsky.feed.generator record. There is only one feed, so it is a
// constant rather than a configured list.
const feedRecordName = "devlogs"

// EndpointStatuser reports the backfill client's per-endpoint circuit state
// for the admin surface. Satisfied by *atproto.Client; nil when backfill is
// disabled, in which case the admin response simply omits the section.
type EndpointStatuser interface {
	EndpointStatuses() []atproto.EndpointStatus
}

// Server is the feed generator's HTTP server.
type Server struct {
	cfg        *config.Config
	scoringCfg *config.ScoringConfig
	store      *store.Store
	orch       *pipeline.Orchestrator
	backfill   EndpointStatuser

	router    *chi.Mux
	startedAt time.Time

	// Optional — set before Start() is called.
	logBroadcaster *LogBroadcaster
}

// New creates a new Server. backfill may be nil when the backfill path is
// disabled (SPEC_FULL.md §2's ENABLE_BACKFILL flag is off).
func New(cfg *config.Config, scoringCfg *config.ScoringConfig, st *store.Store, orch *pipeline.Orchestrator, backfill EndpointStatuser) *Server {
	s := &Server{
		cfg:        cfg,
		scoringCfg: scoringCfg,
		store:      st,
		orch:       orch,
		backfill:   backfill,
		startedAt:  time.Now(),
	}
	s.router = s.buildRouter()
	return s
}

// SetLogBroadcaster attaches a LogBroadcaster for the admin log-snapshot endpoint.
func (s *Server) SetLogBroadcaster(lb *LogBroadcaster) { s.logBroadcaster = lb }

// Start runs the HTTP server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) {
	addr := ":" + s.cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("starting HTTP server", "addr", addr, "feed_hostname", s.cfg.FeedHostname)

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
	}
}

func (s *Server) buildRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(loggingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Get("/api/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		jsonResponse(w, map[string]string{"status": "ok"}, http.StatusOK)
	})

	r.Get("/.well-known/did.json", s.handleDIDDocument)

	r.Route("/xrpc", func(r chi.Router) {
		r.Get("/app.bsky.feed.getFeedSkeleton", s.handleGetFeedSkeleton)
		r.Get("/app.bsky.feed.describeFeedGenerator", s.handleDescribeFeedGenerator)
		r.Post("/app.bsky.feed.sendInteractions", s.handleSendInteractions)
	})

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	if s.cfg.WebAdminPassword != "" {
		r.Route("/admin", func(r chi.Router) {
			r.Use(s.adminAuth)
			r.Get("/", s.handleAdminDashboard)
			r.Get("/api/stats", s.handleAdminStats)
			r.Get("/api/log", s.handleAdminLogSnapshot)
			r.Post("/api/ban", s.handleAdminBanAuthor)
		})
	}

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprintf(w, "devlogs-feed - a custom Bluesky feed generator.\nServing %s\n", s.feedURI())
	})

	return r
}

// feedURI builds this generator's at:// record identifier from the
// configured publishing DID and the fixed record name.
func (s *Server) feedURI() string {
	return "at://" + s.cfg.PublisherDID + "/app.bsky.feed.generator/" + feedRecordName
}

// ─── XRPC handlers ────────────────────────────────────────────────────────

// handleGetFeedSkeleton answers spec.md §4.H's serve_feed procedure: it
// lists unexpired candidates, resolves the requesting viewer's seen set and
// author preferences, and delegates ordering/pagination to internal/ranker.
// The real app.bsky.feed.getFeedSkeleton convention authenticates the viewer
// via a signed Authorization JWT; this generator accepts an explicit
// viewer_did query parameter instead, matching spec.md §4.H's
// {viewer_did?, cursor?, limit?} request shape without adding DID-document
// key resolution that nothing else in this system needs.
func (s *Server) handleGetFeedSkeleton(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if feed := q.Get("feed"); feed != "" && feed != s.feedURI() {
		http.Error(w, "unsupported feed", http.StatusBadRequest)
		return
	}

	viewerDID := q.Get("viewer_did")
	limit, _ := strconv.Atoi(q.Get("limit"))

	cutoff := time.Now().Unix() - int64(s.scoringCfg.Feed.CutoffHours)*3600
	posts, err := s.store.ListPosts(cutoff)
	if err != nil {
		slog.Error("getFeedSkeleton: list posts failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	candidates := make([]ranker.Candidate, 0, len(posts))
	for _, p := range posts {
		candidates = append(candidates, ranker.Candidate{
			URI:       p.URI,
			AuthorDID: p.AuthorDID,
			Timestamp: p.Timestamp,
			Priority:  p.Priority,
		})
	}

	var prefs ranker.Preferences
	var rng = ranker.DeterministicRand(time.Now().Unix())
	if viewerDID != "" {
		seen, err := s.store.SeenPosts(viewerDID, cutoff)
		if err != nil {
			slog.Warn("getFeedSkeleton: seen-post lookup failed", "viewer", viewerDID, "error", err)
		} else {
			prefs.Seen = seen
		}
		pset, err := s.store.Preferences(viewerDID, cutoff)
		if err != nil {
			slog.Warn("getFeedSkeleton: preference lookup failed", "viewer", viewerDID, "error", err)
		} else {
			prefs.Boosted = pset.Boosted
			prefs.Penalized = pset.Penalized
		}
		rng = ranker.DeterministicRand(stableSeed(viewerDID, q.Get("cursor")))
	}

	resp := ranker.Rank(s.scoringCfg.Feed, candidates, prefs, ranker.Request{
		ViewerDID: viewerDID,
		Cursor:    q.Get("cursor"),
		Limit:     limit,
	}, rng)

	type skeletonItem struct {
		Post string `json:"post"`
	}
	items := make([]skeletonItem, 0, len(resp.URIs))
	for _, uri := range resp.URIs {
		items = append(items, skeletonItem{Post: uri})
	}

	out := map[string]interface{}{"feed": items}
	if resp.Cursor != "" {
		out["cursor"] = resp.Cursor
	}
	jsonResponse(w, out, http.StatusOK)
}

// stableSeed derives a deterministic jitter seed from the viewer and cursor
// so that repeating the same viewer+cursor request reproduces the same order
// (ranker.DeterministicRand's contract), without needing real entropy. Each
// cursor gives a different seed, so order is not held fixed across pages.
func stableSeed(viewerDID, cursor string) int64 {
	var h int64 = 1469598103934665603 // FNV offset basis
	for _, b := range []byte(viewerDID + "|" + cursor) {
		h ^= int64(b)
		h *= 1099511628211 // FNV prime
	}
	if h < 0 {
		h = -h
	}
	return h
}

// handleDescribeFeedGenerator answers available_feeds(): this generator
// publishes exactly one feed.
func (s *Server) handleDescribeFeedGenerator(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, map[string]interface{}{
		"did": "did:web:" + s.cfg.FeedHostname,
		"feeds": []map[string]string{
			{"uri": s.feedURI()},
		},
	}, http.StatusOK)
}

// sendInteractionsRequest mirrors the subset of app.bsky.feed.sendInteractions
// this generator understands: seen/request-more/request-less tags per post.
type sendInteractionsRequest struct {
	Interactions []struct {
		Item  string `json:"item"`
		Event string `json:"event"`
	} `json:"interactions"`
}

// handleSendInteractions answers spec.md §4.H's handle_interactions
// procedure, recording each viewer interaction for the next request's
// seen-set/preference computation.
func (s *Server) handleSendInteractions(w http.ResponseWriter, r *http.Request) {
	viewerDID := r.URL.Query().Get("viewer_did")
	if viewerDID == "" {
		http.Error(w, "missing viewer_did", http.StatusBadRequest)
		return
	}

	var body sendInteractionsRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	now := time.Now().Unix()
	for _, ia := range body.Interactions {
		kind := interactionKindFromEvent(ia.Event)
		if kind == "" || ia.Item == "" {
			continue
		}
		if err := s.store.InsertInteraction(viewerDID, ia.Item, kind, now); err != nil {
			slog.Warn("sendInteractions: insert failed", "viewer", viewerDID, "item", ia.Item, "error", err)
		}
	}
	jsonResponse(w, map[string]string{}, http.StatusOK)
}

func interactionKindFromEvent(event string) store.InteractionKind {
	switch event {
	case "app.bsky.feed.defs#requestSeen", "seen":
		return store.InteractionSeen
	case "app.bsky.feed.defs#requestMore", "request_more":
		return store.InteractionRequestMore
	case "app.bsky.feed.defs#requestLess", "request_less":
		return store.InteractionRequestLess
	default:
		return ""
	}
}

// handleDIDDocument serves the minimal DID document a did:web feed-generator
// identity needs for App View discovery.
func (s *Server) handleDIDDocument(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, map[string]interface{}{
		"@context": []string{"https://www.w3.org/ns/did/v1"},
		"id":       "did:web:" + s.cfg.FeedHostname,
		"service": []map[string]string{
			{
				"id":              "#bsky_fg",
				"type":            "BskyFeedGenerator",
				"serviceEndpoint": "https://" + s.cfg.FeedHostname,
			},
		},
	}, http.StatusOK)
}

// ─── Utility functions ────────────────────────────────────────────────────

func jsonResponse(w http.ResponseWriter, v interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

// loggingMiddleware logs each HTTP request.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration", time.Since(start),
			"remote", r.RemoteAddr,
		)
	})
}

// corsMiddleware adds CORS headers — the App View calls getFeedSkeleton
// server-to-server, but the admin dashboard is fetched from a browser.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(status int) {
	rw.status = status
	rw.ResponseWriter.WriteHeader(status)
}

// Unwrap allows http.ResponseController to reach the underlying ResponseWriter
// so SetWriteDeadline works correctly (e.g. for long-lived SSE connections).
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
