package mlworker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doceazedo/devlogs-feed/internal/config"
)

type fakeClassifier struct {
	mu    sync.Mutex
	calls int
	fn    func(texts []string, labels []string) []map[string]float64
}

func (f *fakeClassifier) ClassifyBatch(_ context.Context, texts []string, labels []string, _ string) ([]map[string]float64, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.fn(texts, labels), nil
}

type fakeEmbedder struct {
	vectors map[string][]float64
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, t := range texts {
		out[i] = f.vectors[t]
	}
	return out, nil
}

func testConfig() config.MLConfig {
	return config.MLConfig{
		BatchSize:                  4,
		BatchTimeoutMs:             30,
		QueueSize:                  16,
		TopicLabels:                []string{"gamedev", "unrelated"},
		PositiveTopicLabels:        []string{"gamedev"},
		NegativeRejectionThreshold: 0.85,
		ReferenceCorpus:            []string{"ref"},
	}
}

func TestScore_PositiveTopicLabel(t *testing.T) {
	classifier := &fakeClassifier{fn: func(texts []string, labels []string) []map[string]float64 {
		out := make([]map[string]float64, len(texts))
		for i := range texts {
			out[i] = map[string]float64{"gamedev": 0.9, "unrelated": 0.1, "casual and personal": 0.5, "engagement bait or a call to action": 0.1, "templated": 0.1}
		}
		return out
	}}
	embedder := &fakeEmbedder{vectors: map[string][]float64{
		"ref":        {1, 0},
		"hello game": {1, 0},
	}}

	h := Spawn(testConfig(), classifier, embedder)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	s := h.Score(ctx, "hello game")
	assert.Equal(t, "gamedev", s.TopicLabel)
	assert.InDelta(t, 0.9, s.TopicScore, 0.001)
	assert.False(t, s.IsNegative)
	assert.InDelta(t, 1.0, s.SemanticScore, 0.001)
}

func TestScore_NegativeRejection(t *testing.T) {
	classifier := &fakeClassifier{fn: func(texts []string, labels []string) []map[string]float64 {
		out := make([]map[string]float64, len(texts))
		for i := range texts {
			out[i] = map[string]float64{"gamedev": 0.05, "unrelated": 0.95, "casual and personal": 0, "engagement bait or a call to action": 0, "templated": 0}
		}
		return out
	}}
	embedder := &fakeEmbedder{vectors: map[string][]float64{"ref": {1, 0}, "spam": {0, 1}}}

	h := Spawn(testConfig(), classifier, embedder)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	s := h.Score(ctx, "spam")
	assert.True(t, s.IsNegative)
	assert.True(t, s.NegativeRejection)
}

func TestScore_BatchesConcurrentRequests(t *testing.T) {
	var mu sync.Mutex
	maxBatch := 0
	classifier := &fakeClassifier{fn: func(texts []string, labels []string) []map[string]float64 {
		mu.Lock()
		if len(texts) > maxBatch {
			maxBatch = len(texts)
		}
		mu.Unlock()
		out := make([]map[string]float64, len(texts))
		for i := range texts {
			out[i] = map[string]float64{"gamedev": 0.5, "unrelated": 0.5}
		}
		return out
	}}
	embedder := &fakeEmbedder{vectors: map[string][]float64{"ref": {1, 0}}}

	cfg := testConfig()
	cfg.BatchTimeoutMs = 100
	h := Spawn(cfg, classifier, embedder)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			h.Score(ctx, "text")
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Greater(t, maxBatch, 1, "concurrent requests within the batch timeout should share a batch")
}
