package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doceazedo/devlogs-feed/internal/config"
	"github.com/doceazedo/devlogs-feed/internal/mlworker"
	"github.com/doceazedo/devlogs-feed/internal/store"
)

type fakeClassifier struct {
	topicScore float64
	bait       float64
	synthetic  float64
	authentic  float64
}

func (f *fakeClassifier) ClassifyBatch(ctx context.Context, texts, labels []string, template string) ([]map[string]float64, error) {
	out := make([]map[string]float64, len(texts))
	for i := range texts {
		m := map[string]float64{}
		for _, l := range labels {
			switch l {
			case "gamedev", "indie game development":
				m[l] = f.topicScore
			case "unrelated":
				m[l] = 1 - f.topicScore
			case "engagement bait or a call to action":
				m[l] = f.bait
			case "templated":
				m[l] = f.synthetic
			case "casual and personal":
				m[l] = f.authentic
			default:
				m[l] = 0
			}
		}
		out[i] = m
	}
	return out, nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i := range texts {
		out[i] = []float64{1, 0}
	}
	return out, nil
}

func newTestOrchestrator(t *testing.T, classifier *fakeClassifier) (*Orchestrator, *store.Store) {
	t.Helper()
	cfg := config.DefaultScoringConfig()
	cfg.Filter.MinTextLength = 5
	cfg.Priority.MinPriority = -10

	st, err := store.Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, st.Migrate())
	t.Cleanup(func() { st.Close() })

	handle := mlworker.Spawn(cfg.ML, classifier, fakeEmbedder{})
	return New(cfg, st, handle), st
}

func TestIngestPost_RejectsReplies(t *testing.T) {
	o, _ := newTestOrchestrator(t, &fakeClassifier{topicScore: 0.9})
	accepted, reason := o.IngestPost(context.Background(), RawPost{URI: "at://1", IsReply: true, Text: "hello gamedev world today"})
	assert.False(t, accepted)
	assert.Equal(t, "reply", reason)
}

func TestIngestPost_AcceptsOnTopicPost(t *testing.T) {
	o, _ := newTestOrchestrator(t, &fakeClassifier{topicScore: 0.9, authentic: 0.9})
	accepted, reason := o.IngestPost(context.Background(), RawPost{
		URI:       "at://1",
		AuthorDID: "did:plc:a",
		Text:      "just shipped a new gamedev devlog update today",
	})
	assert.True(t, accepted, reason)

	o.mu.Lock()
	defer o.mu.Unlock()
	require.Len(t, o.pendingPosts, 1)
	assert.Equal(t, "at://1", o.pendingPosts[0].URI)
}

func TestIngestPost_DropsOffTopicWithoutBypass(t *testing.T) {
	o, _ := newTestOrchestrator(t, &fakeClassifier{topicScore: 0.9})
	accepted, reason := o.IngestPost(context.Background(), RawPost{
		URI:       "at://1",
		AuthorDID: "did:plc:a",
		Text:      "just had lunch with some friends downtown",
	})
	assert.False(t, accepted)
	assert.Equal(t, "off_topic", reason)
}

func TestIngestPost_InfluencerBypassSkipsKeywordCheck(t *testing.T) {
	o, _ := newTestOrchestrator(t, &fakeClassifier{topicScore: 0.9, authentic: 0.9})
	o.cfg.Filter.InfluencerBypass = []string{"did:plc:vip"}

	accepted, reason := o.IngestPost(context.Background(), RawPost{
		URI:       "at://1",
		AuthorDID: "did:plc:vip",
		Text:      "just had lunch with some friends downtown",
	})
	assert.True(t, accepted, reason)
}

func TestFlush_OrdersDeletesBeforeInsertsAndDropsLikesForDeletedPosts(t *testing.T) {
	o, st := newTestOrchestrator(t, &fakeClassifier{topicScore: 0.9, authentic: 0.9})

	require.NoError(t, st.InsertPosts([]store.Post{{URI: "at://stale", Timestamp: 1}}))
	o.IngestPostDelete("at://stale")
	o.IngestLike("at://stale", "at://like/1")

	accepted, reason := o.IngestPost(context.Background(), RawPost{
		URI:       "at://fresh",
		AuthorDID: "did:plc:a",
		Text:      "just shipped a new gamedev devlog update today",
	})
	require.True(t, accepted, reason)

	require.NoError(t, o.flush())

	exists, err := st.PostExists("at://stale")
	require.NoError(t, err)
	assert.False(t, exists)

	n, err := st.LikeCount("at://stale")
	require.NoError(t, err)
	assert.Zero(t, n, "like referencing a deleted post must be dropped, not inserted")

	exists, err = st.PostExists("at://fresh")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestFlush_NoOpWhenQueuesEmpty(t *testing.T) {
	o, _ := newTestOrchestrator(t, &fakeClassifier{})
	require.NoError(t, o.flush())
}
