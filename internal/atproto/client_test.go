package atproto

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient("alice.test", "app-password", srv.URL)
	return c
}

func TestAuthenticate_StoresSession(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/xrpc/com.atproto.server.createSession", r.URL.Path)
		_ = json.NewEncoder(w).Encode(Session{DID: "did:plc:abc", Handle: "alice.test", AccessJwt: "token1"})
	})

	err := c.Authenticate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "did:plc:abc", c.DID())
	assert.Equal(t, "token1", c.currentToken())
}

func TestSearchPosts_ParsesResultsAndConvertsEmbeds(t *testing.T) {
	record := PostRecord{
		Type:      "app.bsky.feed.post",
		Text:      "shipping a gamedev devlog update",
		CreatedAt: "2026-01-01T00:00:00Z",
		Langs:     []string{"en"},
		Facets: []Facet{{
			Features: []FacetFeature{{Type: facetLinkType, URI: "https://example.com"}},
		}},
		Embed: &RecordEmbed{
			Type:   embedImagesType,
			Images: []EmbedImage{{Alt: "screenshot"}},
		},
	}
	recordJSON, err := json.Marshal(record)
	require.NoError(t, err)

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/xrpc/com.atproto.server.createSession":
			_ = json.NewEncoder(w).Encode(Session{DID: "did:plc:abc", AccessJwt: "token1"})
		case "/xrpc/app.bsky.feed.searchPosts":
			assert.Equal(t, "gamedev", r.URL.Query().Get("q"))
			_ = json.NewEncoder(w).Encode(SearchPostsResponse{
				Posts: []PostView{{
					URI:    "at://did:plc:abc/app.bsky.feed.post/1",
					Author: PostViewAuthor{DID: "did:plc:abc", Handle: "alice.test"},
					Record: recordJSON,
				}},
				Cursor: "next-page",
			})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	})

	require.NoError(t, c.Authenticate(context.Background()))
	results, cursor, err := c.SearchPosts(context.Background(), "gamedev", "", 25)
	require.NoError(t, err)
	assert.Equal(t, "next-page", cursor)
	require.Len(t, results, 1)

	got := results[0]
	assert.Equal(t, "at://did:plc:abc/app.bsky.feed.post/1", got.URI)
	assert.Equal(t, "shipping a gamedev devlog update", got.Text)
	assert.Equal(t, "en", got.Lang)
	assert.False(t, got.IsReply)
	assert.Equal(t, []string{"https://example.com"}, got.FacetLinks)
	require.NotNil(t, got.Embed)
	assert.True(t, got.Embed.Images[0].HasAlt)
}

func TestAuthedGet_ReauthenticatesOnce401(t *testing.T) {
	createSessionCalls := 0
	searchCalls := 0

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/xrpc/com.atproto.server.createSession":
			createSessionCalls++
			_ = json.NewEncoder(w).Encode(Session{DID: "did:plc:abc", AccessJwt: "token-" + string(rune('0'+createSessionCalls))})
		case "/xrpc/app.bsky.feed.searchPosts":
			searchCalls++
			if searchCalls == 1 {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_ = json.NewEncoder(w).Encode(SearchPostsResponse{})
		}
	})

	require.NoError(t, c.Authenticate(context.Background()))
	_, _, err := c.SearchPosts(context.Background(), "gamedev", "", 25)
	require.NoError(t, err)
	assert.Equal(t, 2, createSessionCalls, "should re-authenticate exactly once after the 401")
	assert.Equal(t, 2, searchCalls, "should retry the search call after re-authenticating")
}

func TestSearchPosts_SkipsUnparsableRecordsWithoutFailingTheQuery(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/xrpc/com.atproto.server.createSession":
			_ = json.NewEncoder(w).Encode(Session{DID: "did:plc:abc", AccessJwt: "token1"})
		case "/xrpc/app.bsky.feed.searchPosts":
			_ = json.NewEncoder(w).Encode(SearchPostsResponse{
				Posts: []PostView{{URI: "at://bad", Record: json.RawMessage(`not-json`)}},
			})
		}
	})

	require.NoError(t, c.Authenticate(context.Background()))
	results, _, err := c.SearchPosts(context.Background(), "gamedev", "", 25)
	require.NoError(t, err)
	assert.Empty(t, results)
}
