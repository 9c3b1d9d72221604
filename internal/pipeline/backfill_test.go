package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doceazedo/devlogs-feed/internal/config"
)

type fakeSearchClient struct {
	authenticated bool
	pages         map[string][]SearchResult
}

func (f *fakeSearchClient) Authenticate(ctx context.Context) error {
	f.authenticated = true
	return nil
}

func (f *fakeSearchClient) SearchPosts(ctx context.Context, query, cursor string, pageSize int) ([]SearchResult, string, error) {
	return f.pages[query], "", nil
}

func TestBackfill_DedupesAcrossQueriesAndRespectsLimit(t *testing.T) {
	o, _ := newTestOrchestrator(t, &fakeClassifier{topicScore: 0.9, authentic: 0.9})
	client := &fakeSearchClient{
		pages: map[string][]SearchResult{
			"gamedev": {
				{URI: "at://1", AuthorDID: "did:plc:a", Text: "shipping a gamedev devlog update today"},
				{URI: "at://2", AuthorDID: "did:plc:b", Text: "another gamedev devlog post right here"},
			},
			"indiedev": {
				{URI: "at://1", AuthorDID: "did:plc:a", Text: "shipping a gamedev devlog update today"},
				{URI: "at://3", AuthorDID: "did:plc:c", Text: "yet another gamedev devlog entry today"},
			},
		},
	}
	bf := &Backfill{Client: client, Orchestrator: o, Config: config.BackfillConfig{
		Queries: []string{"gamedev", "indiedev"}, Limit: 10, PageSize: 25,
	}}

	accepted, err := bf.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, client.authenticated)
	assert.Equal(t, 3, accepted, "at://1 must only be counted once across queries")
}

func TestBackfill_StopsAtLimit(t *testing.T) {
	o, _ := newTestOrchestrator(t, &fakeClassifier{topicScore: 0.9, authentic: 0.9})
	client := &fakeSearchClient{
		pages: map[string][]SearchResult{
			"gamedev": {
				{URI: "at://1", AuthorDID: "did:plc:a", Text: "shipping a gamedev devlog update today"},
				{URI: "at://2", AuthorDID: "did:plc:b", Text: "another gamedev devlog post right here"},
			},
		},
	}
	bf := &Backfill{Client: client, Orchestrator: o, Config: config.BackfillConfig{
		Queries: []string{"gamedev"}, Limit: 1, PageSize: 25,
	}}

	accepted, err := bf.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, accepted)
}
