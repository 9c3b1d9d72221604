package server

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// ─── Middleware ───────────────────────────────────────────────────────────

// adminAuth enforces HTTP Basic Auth using WEB_ADMIN as the password.
// Username is ignored — any value is accepted.
func (s *Server) adminAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, pass, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(pass), []byte(s.cfg.WebAdminPassword)) != 1 {
			w.Header().Set("WWW-Authenticate", `Basic realm="devlogs-feed admin"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ─── Handlers ─────────────────────────────────────────────────────────────

func (s *Server) handleAdminDashboard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, adminHTML)
}

// handleAdminStats reports the live ingestion/ranking state this generator
// has in place of the bridge's follower/federation counters (SPEC_FULL.md
// "New: Admin/metrics surface"): stored-post count, pending-queue depths,
// maintenance-timer watermarks, and the backfill client's per-endpoint
// circuit-breaker status.
func (s *Server) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	postCount, err := s.store.PostCount()
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	poolStats := s.store.PoolStats()
	pipelineStats := s.orch.Stats()

	resp := map[string]interface{}{
		"version":              version,
		"started_at":           s.startedAt.Unix(),
		"feed_uri":             s.feedURI(),
		"post_count":           postCount,
		"db_open_connections":  poolStats.OpenConnections,
		"db_in_use":            poolStats.InUse,
		"pending_posts":        pipelineStats.PendingPosts,
		"pending_likes":        pipelineStats.PendingLikes,
		"pending_deletes":      pipelineStats.PendingDeletes,
		"pending_like_deletes": pipelineStats.PendingLikeDeletes,
		"last_flush_at":        pipelineStats.LastFlushAt,
		"last_cleanup_at":      pipelineStats.LastCleanupAt,
	}
	if s.backfill != nil {
		resp["backfill_endpoints"] = s.backfill.EndpointStatuses()
	}
	jsonResponse(w, resp, http.StatusOK)
}

// banAuthorRequest is the body handleAdminBanAuthor expects.
type banAuthorRequest struct {
	DID               string `json:"did"`
	TriggeringPostURI string `json:"triggering_post_uri"`
}

// handleAdminBanAuthor is the write side of moderator-induced author bans
// (invariant 5): it inserts did into the blocked-author registry and
// cascades the deletion of its stored posts in the same step, so
// blocked_authors is no longer populated only by tests.
func (s *Server) handleAdminBanAuthor(w http.ResponseWriter, r *http.Request) {
	var req banAuthorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DID == "" {
		http.Error(w, "did is required", http.StatusBadRequest)
		return
	}
	if err := s.store.BlockAuthor(req.DID, req.TriggeringPostURI, time.Now().Unix()); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if err := s.store.DeletePostsByAuthor(req.DID); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"status": "banned", "did": req.DID}, http.StatusOK)
}

// handleAdminLogSnapshot returns the current ring-buffer contents as a JSON
// array of raw log lines. The client refreshes on demand instead of streaming.
func (s *Server) handleAdminLogSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.logBroadcaster == nil {
		jsonResponse(w, []string{}, http.StatusOK)
		return
	}
	lines := s.logBroadcaster.Lines()
	if lines == nil {
		lines = []string{}
	}
	jsonResponse(w, lines, http.StatusOK)
}

// ─── HTML template ──────────────────────────────────────────────────────────

const adminHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>devlogs-feed admin</title>
<style>
  body { font-family: system-ui, sans-serif; max-width: 760px; margin: 2rem auto; padding: 0 1rem; color: #1a1a1a; }
  h1 { font-size: 1.25rem; }
  table { border-collapse: collapse; width: 100%; margin-bottom: 1.5rem; }
  td, th { text-align: left; padding: 0.25rem 0.5rem; border-bottom: 1px solid #ddd; }
  pre { background: #f5f5f5; padding: 0.75rem; max-height: 20rem; overflow-y: auto; font-size: 0.8rem; }
</style>
</head>
<body>
<h1>devlogs-feed</h1>
<table id="stats"></table>
<h2>Ban an author</h2>
<form id="ban">
  <input name="did" placeholder="did:plc:..." size="40" required>
  <button type="submit">Ban &amp; purge posts</button>
</form>
<h2>Recent log lines</h2>
<pre id="log">loading…</pre>
<script>
async function refresh() {
  const stats = await (await fetch('/admin/api/stats')).json();
  const rows = Object.entries(stats).map(([k, v]) => {
    const val = typeof v === 'object' ? JSON.stringify(v) : v;
    return '<tr><td>' + k + '</td><td>' + val + '</td></tr>';
  }).join('');
  document.getElementById('stats').innerHTML = rows;

  const lines = await (await fetch('/admin/api/log')).json();
  document.getElementById('log').textContent = lines.join('\n');
}
document.getElementById('ban').addEventListener('submit', async (e) => {
  e.preventDefault();
  const did = new FormData(e.target).get('did');
  await fetch('/admin/api/ban', {
    method: 'POST',
    headers: {'Content-Type': 'application/json'},
    body: JSON.stringify({did}),
  });
  e.target.reset();
  refresh();
});
refresh();
setInterval(refresh, 5000);
</script>
</body>
</html>`
