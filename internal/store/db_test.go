package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPostInsertIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	post := Post{URI: "at://did:plc:a/app.bsky.feed.post/1", AuthorDID: "did:plc:a", Text: "hello", Timestamp: 100, Priority: 0.5}

	require.NoError(t, s.InsertPosts([]Post{post, post}))

	posts, err := s.ListPosts(0)
	require.NoError(t, err)
	require.Len(t, posts, 1)
}

func TestLikeRequiresExistingPost(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.InsertLike("at://missing", "at://like/1"))

	n, err := s.LikeCount("at://missing")
	require.NoError(t, err)
	require.Zero(t, n, "like referencing a nonexistent post must not be recorded")

	post := Post{URI: "at://did:plc:a/app.bsky.feed.post/1", Timestamp: 100}
	require.NoError(t, s.InsertPosts([]Post{post}))
	require.NoError(t, s.InsertLike(post.URI, "at://like/2"))

	n, err = s.LikeCount(post.URI)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestDeletePostCascades(t *testing.T) {
	s := newTestStore(t)
	post := Post{URI: "at://did:plc:a/app.bsky.feed.post/1", Timestamp: 100}
	require.NoError(t, s.InsertPosts([]Post{post}))
	require.NoError(t, s.InsertLike(post.URI, "at://like/1"))
	require.NoError(t, s.UpsertEngagement(post.URI, EngagementCounters{LikeCount: 1, LastUpdated: 100}))

	require.NoError(t, s.DeletePost(post.URI))

	exists, err := s.PostExists(post.URI)
	require.NoError(t, err)
	require.False(t, exists)

	n, err := s.LikeCount(post.URI)
	require.NoError(t, err)
	require.Zero(t, n)

	eng, err := s.Engagement(post.URI)
	require.NoError(t, err)
	require.Zero(t, eng.LikeCount)
}

func TestBlockedAuthorCascadeDeletesPosts(t *testing.T) {
	s := newTestStore(t)
	author := "did:plc:spammer"
	require.NoError(t, s.InsertPosts([]Post{
		{URI: "at://1", AuthorDID: author, Timestamp: 100},
		{URI: "at://2", AuthorDID: author, Timestamp: 200},
	}))

	require.NoError(t, s.BlockAuthor(author, "at://1", 300))
	require.NoError(t, s.DeletePostsByAuthor(author))

	posts, err := s.ListPosts(0)
	require.NoError(t, err)
	require.Empty(t, posts)
	require.True(t, s.IsBlocked(author))
}

func TestInteractionInsertIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	post := Post{URI: "at://1", AuthorDID: "did:plc:a", Timestamp: 100}
	require.NoError(t, s.InsertPosts([]Post{post}))

	require.NoError(t, s.InsertInteraction("did:plc:viewer", post.URI, InteractionSeen, 500))
	require.NoError(t, s.InsertInteraction("did:plc:viewer", post.URI, InteractionSeen, 500))

	seen, err := s.SeenPosts("did:plc:viewer", 0)
	require.NoError(t, err)
	require.Contains(t, seen, post.URI)
}

func TestPreferencesPartitionsBoostedAndPenalized(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.InsertPosts([]Post{
		{URI: "at://boost", AuthorDID: "did:plc:good", Timestamp: 100},
		{URI: "at://penalize", AuthorDID: "did:plc:bad", Timestamp: 100},
	}))
	require.NoError(t, s.InsertInteraction("did:plc:viewer", "at://boost", InteractionRequestMore, 500))
	require.NoError(t, s.InsertInteraction("did:plc:viewer", "at://penalize", InteractionRequestLess, 500))

	prefs, err := s.Preferences("did:plc:viewer", 0)
	require.NoError(t, err)
	require.Contains(t, prefs.Boosted, "did:plc:good")
	require.Contains(t, prefs.Penalized, "did:plc:bad")
}

func TestPurgeStaleRemovesOldAndExcess(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.InsertPosts([]Post{
		{URI: "at://old", Timestamp: 1},
		{URI: "at://new", Timestamp: 1000},
	}))

	deleted, err := s.PurgeStale(1000, 500, 100)
	require.NoError(t, err)
	require.Equal(t, 1, deleted)

	posts, err := s.ListPosts(0)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	require.Equal(t, "at://new", posts[0].URI)
}
