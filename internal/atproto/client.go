// Package atproto is a thin XRPC HTTP client for the backfill path (spec.md
// §4.E, §6): it authenticates once via com.atproto.server.createSession and
// answers app.bsky.feed.searchPosts, satisfying internal/pipeline's
// SearchClient interface. The auth/401/429 handling below is carried over
// unchanged from the teacher's Bluesky XRPC client, which solved exactly this
// problem for its own outbound/inbound bridging calls.
package atproto

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/doceazedo/devlogs-feed/internal/lexical"
	"github.com/doceazedo/devlogs-feed/internal/pipeline"
)

// searchRateLimit caps outbound app.bsky.feed.searchPosts calls, independent
// of the PDS's own RateLimit-Remaining headroom — a defensive client-side
// ceiling so a misconfigured backfill loop can't itself trigger the server's
// rate limiting in the first place.
const searchRateLimit = 2 // requests per second
const searchRateBurst = 4

const defaultPDSURL = "https://bsky.social"

// Client is a thin XRPC HTTP client for the Bluesky PDS.
// It handles authentication and re-authenticates automatically on 401.
type Client struct {
	PDSURL      string
	Identifier  string
	AppPassword string

	mu                 sync.Mutex
	session            *Session
	http               *http.Client
	rateLimitRemaining int
	rateLimitReset     time.Time
	limiter            *rate.Limiter

	// reauth serialises re-authentication attempts so that concurrent callers
	// that both receive a 401 don't each independently call createSession —
	// which would cause each new session to immediately invalidate the
	// previous one (thundering herd on the token endpoint).
	reauth sync.Mutex

	circuitsMu sync.Mutex
	circuits   map[string]*endpointCircuit
}

// rateLimitWarnThreshold is the RateLimit-Remaining value below which we emit
// a warning so operators notice before requests start failing.
const rateLimitWarnThreshold = 10

// rateLimitRetryMax caps how long we'll sleep after a 429 before retrying.
const rateLimitRetryMax = 5 * time.Minute

// errRateLimited is returned by doRequest when the PDS responds with HTTP 429.
type errRateLimited struct {
	RetryAfter time.Duration
}

func (e *errRateLimited) Error() string {
	return fmt.Sprintf("rate limited by Bluesky PDS; retry after %s", e.RetryAfter.Round(time.Second))
}

// parseRetryAfter derives how long to wait from the 429 response headers.
// It checks Retry-After (seconds integer) first, then RateLimit-Reset (unix ts).
func parseRetryAfter(resp *http.Response) time.Duration {
	if s := resp.Header.Get("Retry-After"); s != "" {
		if secs, err := strconv.Atoi(s); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	if s := resp.Header.Get("RateLimit-Reset"); s != "" {
		if ts, err := strconv.ParseInt(s, 10, 64); err == nil {
			if d := time.Until(time.Unix(ts, 0)); d > 0 {
				return d
			}
		}
	}
	return 30 * time.Second // sane default when headers are absent
}

// NewClient creates a new Bluesky XRPC client. authHost overrides the
// default PDS URL when non-empty (config.BackfillConfig.AuthHost).
func NewClient(identifier, appPassword, authHost string) *Client {
	pdsURL := defaultPDSURL
	if authHost != "" {
		pdsURL = authHost
	}
	return &Client{
		PDSURL:      pdsURL,
		Identifier:  identifier,
		AppPassword: appPassword,
		http: &http.Client{
			Timeout: 15 * time.Second,
		},
		limiter:  rate.NewLimiter(searchRateLimit, searchRateBurst),
		circuits: make(map[string]*endpointCircuit),
	}
}

// Authenticate creates a new session via com.atproto.server.createSession.
// Must be called before any other operations.
func (c *Client) Authenticate(ctx context.Context) error {
	input := CreateSessionInput{
		Identifier: c.Identifier,
		Password:   c.AppPassword,
	}
	var session Session
	if err := c.xrpcPost(ctx, "com.atproto.server.createSession", input, &session); err != nil {
		return fmt.Errorf("atproto authenticate: %w", err)
	}
	c.mu.Lock()
	c.session = &session
	c.mu.Unlock()
	slog.Info("atproto authenticated", "did", session.DID, "handle", session.Handle)
	return nil
}

// singleAuthenticate refreshes the session exactly once per expired token.
//
// staleToken is the AccessJwt that was in use when the 401 was received.
// If another goroutine already refreshed the session by the time this
// goroutine acquires the reauth mutex (current JWT != staleToken), we skip
// the API call and return nil — the caller will retry with the already-fresh
// token.
func (c *Client) singleAuthenticate(ctx context.Context, staleToken string) error {
	c.reauth.Lock()
	defer c.reauth.Unlock()

	c.mu.Lock()
	var current string
	if c.session != nil {
		current = c.session.AccessJwt
	}
	c.mu.Unlock()

	if staleToken != "" && current != staleToken {
		return nil
	}

	slog.Warn("atproto token expired, re-authenticating")
	return c.Authenticate(ctx)
}

// SearchPosts queries app.bsky.feed.searchPosts and converts the results into
// pipeline.SearchResult, satisfying pipeline.SearchClient.
func (c *Client) SearchPosts(ctx context.Context, query, cursor string, pageSize int) ([]pipeline.SearchResult, string, error) {
	cb := c.circuitFor(c.PDSURL)
	if cb.isOpen() {
		return nil, "", fmt.Errorf("atproto searchPosts: circuit open for %s", c.PDSURL)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, "", fmt.Errorf("atproto searchPosts: rate limiter: %w", err)
	}

	params := url.Values{}
	params.Set("q", query)
	if pageSize > 0 {
		params.Set("limit", strconv.Itoa(pageSize))
	}
	if cursor != "" {
		params.Set("cursor", cursor)
	}

	var resp SearchPostsResponse
	if err := c.authedGet(ctx, "app.bsky.feed.searchPosts", params, &resp); err != nil {
		cb.recordFailure()
		return nil, "", fmt.Errorf("atproto searchPosts: %w", err)
	}
	cb.recordSuccess()

	results := make([]pipeline.SearchResult, 0, len(resp.Posts))
	for _, post := range resp.Posts {
		result, err := searchResultFromPostView(post)
		if err != nil {
			slog.Warn("atproto: skipping unparsable search result", "uri", post.URI, "error", err)
			continue
		}
		results = append(results, result)
	}
	return results, resp.Cursor, nil
}

func searchResultFromPostView(post PostView) (pipeline.SearchResult, error) {
	var record PostRecord
	if err := json.Unmarshal(post.Record, &record); err != nil {
		return pipeline.SearchResult{}, fmt.Errorf("decode record: %w", err)
	}
	createdAt, err := time.Parse(time.RFC3339, record.CreatedAt)
	if err != nil {
		createdAt = time.Now()
	}
	lang := ""
	if len(record.Langs) > 0 {
		lang = record.Langs[0]
	}
	return pipeline.SearchResult{
		URI:        post.URI,
		AuthorDID:  post.Author.DID,
		Text:       record.Text,
		Lang:       lang,
		CreatedAt:  createdAt.Unix(),
		IsReply:    record.Reply != nil,
		FacetLinks: facetLinks(record.Facets),
		Embed:      convertRecordEmbed(record.Embed),
	}, nil
}

func facetLinks(facets []Facet) []string {
	var links []string
	for _, facet := range facets {
		for _, feature := range facet.Features {
			if feature.Type == facetLinkType && feature.URI != "" {
				links = append(links, feature.URI)
			}
		}
	}
	return links
}

// convertRecordEmbed maps the REST-JSON embed shape (tagged by "$type") onto
// the protocol-agnostic lexical.Embed union, mirroring the firehose's
// convertEmbed for the CAR-decoded lexicon shape.
func convertRecordEmbed(e *RecordEmbed) *lexical.Embed {
	if e == nil {
		return nil
	}
	switch e.Type {
	case embedImagesType:
		images := make([]lexical.ImageRef, 0, len(e.Images))
		for _, img := range e.Images {
			images = append(images, lexical.ImageRef{HasAlt: img.Alt != ""})
		}
		return &lexical.Embed{Kind: lexical.EmbedImages, Images: images}
	case embedVideoType:
		return &lexical.Embed{Kind: lexical.EmbedVideo}
	case embedExternalType:
		if e.External == nil {
			return nil
		}
		return &lexical.Embed{Kind: lexical.EmbedExternal, ExternalURI: e.External.URI}
	case embedRecordWithMediaType:
		return &lexical.Embed{Kind: lexical.EmbedQuoteWithMedia, QuotedMedia: convertRecordEmbed(e.Media)}
	default:
		return nil
	}
}

// ─── Internal helpers ─────────────────────────────────────────────────────────

// errAuthExpired is returned by doRequest when the PDS signals that the
// current access token is no longer valid (HTTP 401 or ExpiredToken body).
var errAuthExpired = errors.New("auth expired")

func isAuthError(err error) bool {
	return errors.Is(err, errAuthExpired)
}

// authedGet performs an authenticated XRPC GET, re-authenticating on auth
// errors and backing off on rate-limit responses.
func (c *Client) authedGet(ctx context.Context, method string, params url.Values, out interface{}) error {
	staleToken := c.currentToken()

	err := c.xrpcGetWithAuth(ctx, method, params, out)
	if isAuthError(err) {
		if authErr := c.singleAuthenticate(ctx, staleToken); authErr != nil {
			return fmt.Errorf("re-authenticate: %w", authErr)
		}
		err = c.xrpcGetWithAuth(ctx, method, params, out)
	}
	var rl *errRateLimited
	if errors.As(err, &rl) {
		wait := rl.RetryAfter
		if wait > rateLimitRetryMax {
			wait = rateLimitRetryMax
		}
		slog.Warn("atproto rate limited on GET, backing off", "method", method, "retry_after", wait.Round(time.Second))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		err = c.xrpcGetWithAuth(ctx, method, params, out)
	}
	return err
}

// xrpcPost sends a POST to the XRPC endpoint without auth headers.
// Used only for createSession itself.
func (c *Client) xrpcPost(ctx context.Context, method string, body, out interface{}) error {
	return c.doPost(ctx, method, body, out, "")
}

func (c *Client) xrpcGetWithAuth(ctx context.Context, method string, params url.Values, out interface{}) error {
	rawURL := c.PDSURL + "/xrpc/" + method
	if len(params) > 0 {
		rawURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("create GET request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "devlogs-feed/1.0")
	if auth := c.authHeader(); auth != "" {
		req.Header.Set("Authorization", auth)
	}

	return c.doRequest(req, out)
}

func (c *Client) doPost(ctx context.Context, method string, body interface{}, out interface{}, authHeader string) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	rawURL := c.PDSURL + "/xrpc/" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("create POST request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "devlogs-feed/1.0")
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}

	return c.doRequest(req, out)
}

// updateRateLimit records the RateLimit-Remaining / RateLimit-Reset headers
// from any successful response and warns when headroom is critically low.
func (c *Client) updateRateLimit(resp *http.Response) {
	s := resp.Header.Get("RateLimit-Remaining")
	if s == "" {
		return
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return
	}
	var reset time.Time
	if rs := resp.Header.Get("RateLimit-Reset"); rs != "" {
		if ts, err := strconv.ParseInt(rs, 10, 64); err == nil {
			reset = time.Unix(ts, 0)
		}
	}
	c.mu.Lock()
	c.rateLimitRemaining = n
	c.rateLimitReset = reset
	c.mu.Unlock()
	if n <= rateLimitWarnThreshold {
		slog.Warn("atproto rate limit headroom low",
			"remaining", n,
			"reset_in", time.Until(reset).Round(time.Second),
		)
	}
}

func (c *Client) doRequest(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("http %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	c.updateRateLimit(resp)

	if resp.StatusCode == 401 {
		return errAuthExpired
	}
	if resp.StatusCode == 400 && strings.Contains(string(respBody), "ExpiredToken") {
		return errAuthExpired
	}
	if resp.StatusCode == 429 {
		return &errRateLimited{RetryAfter: parseRetryAfter(resp)}
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// authHeader returns the Bearer token header value from the current session.
func (c *Client) authHeader() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return ""
	}
	return "Bearer " + c.session.AccessJwt
}

// currentToken returns the raw AccessJwt from the current session, or empty
// string if not authenticated.
func (c *Client) currentToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return ""
	}
	return c.session.AccessJwt
}

// DID returns the authenticated user's DID, or empty string if not authenticated.
func (c *Client) DID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return ""
	}
	return c.session.DID
}
