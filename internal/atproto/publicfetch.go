package atproto

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"github.com/doceazedo/devlogs-feed/internal/lexical"
)

// publicAPIBase is Bluesky's unauthenticated read-only API, used only by the
// score-post CLI to fetch a single post by URL/AT-URI without requiring
// BLUESKY_IDENTIFIER/BLUESKY_PASSWORD. Grounded on original_source's
// utils/bluesky.rs fetch_post, which hits the same endpoint unauthenticated.
const publicAPIBase = "https://public.api.bsky.app/xrpc"

var profileURLPattern = regexp.MustCompile(`^https://[^/]+/profile/([^/]+)/post/([a-zA-Z0-9]+)$`)

// ParsePostURL resolves a Bluesky profile-URL of the form
// https://{host}/profile/{didOrHandle}/post/{rkey} into an
// at://{didOrHandle}/app.bsky.feed.post/{rkey} identifier. An input already
// in at:// form is returned unchanged. Returns "" if input matches neither
// shape, signalling to the caller that input should be treated as raw text.
func ParsePostURL(input string) string {
	if len(input) >= 5 && input[:5] == "at://" {
		return input
	}
	m := profileURLPattern.FindStringSubmatch(input)
	if m == nil {
		return ""
	}
	return fmt.Sprintf("at://%s/app.bsky.feed.post/%s", m[1], m[2])
}

// FetchedPost is the minimal shape the score-post CLI needs from a live post.
type FetchedPost struct {
	Text  string
	Lang  string
	Embed *lexical.Embed
}

type postThreadResponse struct {
	Thread struct {
		Post PostView `json:"post"`
	} `json:"thread"`
}

// FetchPost retrieves a single post by AT-URI from the public unauthenticated
// getPostThread endpoint (depth=0, no replies needed) for the score-post CLI.
func FetchPost(ctx context.Context, atURI string) (FetchedPost, error) {
	params := url.Values{}
	params.Set("uri", atURI)
	params.Set("depth", "0")
	reqURL := publicAPIBase + "/app.bsky.feed.getPostThread?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return FetchedPost{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return FetchedPost{}, fmt.Errorf("fetch post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return FetchedPost{}, fmt.Errorf("fetch post: unexpected status %d", resp.StatusCode)
	}

	var thread postThreadResponse
	if err := json.NewDecoder(resp.Body).Decode(&thread); err != nil {
		return FetchedPost{}, fmt.Errorf("decode response: %w", err)
	}

	var record PostRecord
	if err := json.Unmarshal(thread.Thread.Post.Record, &record); err != nil {
		return FetchedPost{}, fmt.Errorf("decode record: %w", err)
	}

	lang := ""
	if len(record.Langs) > 0 {
		lang = record.Langs[0]
	}
	return FetchedPost{
		Text:  record.Text,
		Lang:  lang,
		Embed: convertRecordEmbed(record.Embed),
	}, nil
}
