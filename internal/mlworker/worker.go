// Package mlworker implements the batched ML scoring stage (spec.md §4.C):
// zero-shot topic classification, zero-shot quality assessment, and
// sentence-embedding similarity against a fixed reference corpus, all run on
// a dedicated goroutine that owns the long-lived model clients for its
// lifetime. The scheduling contract — blocking receive to open a batch, then
// timeout-bounded receives up to batch_size, then one combined inference pass
// per operation — mirrors the teacher's reply-channel poller loop in
// internal/atproto/poller.go generalized from a single-item to a batched
// request/reply-channel protocol, and is grounded directly on the reference
// implementation's mpsc + oneshot worker loop.
//
// Go has no in-process transformer-inference crate in this corpus, so the
// "zero-shot classifier" and "sentence embedder" are backed by langchaingo's
// llms.Model (structured zero-shot prompting against any configured
// OpenAI-compatible or Ollama endpoint) and embeddings.EmbedderClient
// respectively, per SPEC_FULL.md §3's domain-stack table.
package mlworker

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"

	"github.com/doceazedo/devlogs-feed/internal/config"
)

// Quality labels used for the zero-shot "sounds {label}" assessment.
const (
	labelAuthentic      = "casual and personal"
	labelEngagementBait  = "engagement bait or a call to action"
	labelSynthetic       = "templated"
)

var qualityLabels = []string{labelAuthentic, labelEngagementBait, labelSynthetic}

// Scores is the combined per-request ML result, matching spec.md §4.C step 4.
type Scores struct {
	TopicScore         float64
	TopicLabel         string
	IsNegative         bool
	NegativeRejection  bool
	QualityBait        float64
	QualitySynthetic   float64
	QualityAuthentic   float64
	SemanticScore      float64
	BestReferenceIndex int
}

// request is one Score{text, reply_channel} item on the worker's queue.
type request struct {
	text  string
	reply chan Scores
}

// Handle is the caller-facing API: a bounded channel of requests plus a
// Score method that hides the reply-channel plumbing. Safe for concurrent use.
type Handle struct {
	requests chan request
}

// Classifier is the zero-shot prompting surface the worker needs from an
// llms.Model: given a text and a set of labels with a prompt template,
// return a per-label score. Implementations wrap langchaingo's llms.Model;
// this narrow interface keeps the worker testable without a live backend.
type Classifier interface {
	ClassifyBatch(ctx context.Context, texts []string, labels []string, template string) ([]map[string]float64, error)
}

// Embedder is the sentence-embedding surface the worker needs. Implementations
// wrap langchaingo's embeddings.EmbedderClient.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)
}

// Spawn starts the worker goroutine and returns a Handle. referenceCorpus is
// embedded once at startup; its embeddings are the "pre-computed array of
// embeddings over a fixed set of reference posts" named in spec.md §4.C.
func Spawn(cfg config.MLConfig, classifier Classifier, embedder Embedder) *Handle {
	h := &Handle{requests: make(chan request, cfg.QueueSize)}

	referenceEmbeddings, err := embedder.EmbedBatch(context.Background(), cfg.ReferenceCorpus)
	if err != nil {
		slog.Error("ml worker: failed to embed reference corpus, semantic similarity disabled", "error", err)
		referenceEmbeddings = nil
	}

	go run(h.requests, cfg, classifier, embedder, referenceEmbeddings)
	return h
}

// Score enqueues text for scoring and blocks until the worker replies. If the
// worker has panicked (it is not restarted — spec.md §4.C's "no automatic
// restart" open question), every later request is answered with a zero Scores
// by the drain loop run starts on recovery. A zero Scores is also returned if
// ctx ends first.
func (h *Handle) Score(ctx context.Context, text string) Scores {
	reply := make(chan Scores, 1)
	select {
	case h.requests <- request{text: text, reply: reply}:
	case <-ctx.Done():
		return Scores{}
	}

	select {
	case s, ok := <-reply:
		if !ok {
			return Scores{}
		}
		return s
	case <-ctx.Done():
		return Scores{}
	}
}

// run is the dedicated worker loop: blocking receive opens a batch, then
// timeout-bounded receives grow it up to batch_size, then the three
// operations run once per batch before replies are dispatched.
func run(requests <-chan request, cfg config.MLConfig, classifier Classifier, embedder Embedder, referenceEmbeddings [][]float64) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("ml worker: panic, worker terminating; all future scores default to zero", "panic", r)
			go func() {
				for req := range requests {
					req.reply <- Scores{}
				}
			}()
		}
	}()

	timeout := time.Duration(cfg.BatchTimeoutMs) * time.Millisecond

	for {
		first, ok := <-requests
		if !ok {
			return
		}
		batch := []request{first}

		deadline := time.NewTimer(timeout)
	collect:
		for len(batch) < cfg.BatchSize {
			select {
			case req, ok := <-requests:
				if !ok {
					break collect
				}
				batch = append(batch, req)
			case <-deadline.C:
				break collect
			}
		}
		deadline.Stop()

		batchSize.Observe(float64(len(batch)))
		batchStart := time.Now()
		results := scoreBatch(context.Background(), cfg, classifier, embedder, referenceEmbeddings, batch)
		batchLatencySeconds.Observe(time.Since(batchStart).Seconds())
		for i, req := range batch {
			req.reply <- results[i]
			close(req.reply)
		}
	}
}

func scoreBatch(ctx context.Context, cfg config.MLConfig, classifier Classifier, embedder Embedder, referenceEmbeddings [][]float64, batch []request) []Scores {
	texts := make([]string, len(batch))
	for i, req := range batch {
		texts[i] = req.text
	}

	results := make([]Scores, len(batch))

	topicScores, err := classifier.ClassifyBatch(ctx, texts, cfg.TopicLabels, "This post is about {label}.")
	if err != nil {
		slog.Warn("ml worker: topic classification failed, defaulting to zero", "error", err)
		topicScores = make([]map[string]float64, len(batch))
	}
	for i, labelScores := range topicScores {
		top, topScore := argmax(labelScores)
		results[i].TopicLabel = top
		if isPositiveLabel(top, cfg.PositiveTopicLabels) {
			results[i].TopicScore = topScore
		} else {
			results[i].TopicScore = 1 - topScore
			results[i].IsNegative = true
			if topScore >= cfg.NegativeRejectionThreshold {
				results[i].NegativeRejection = true
			}
		}
	}

	qualityScores, err := classifier.ClassifyBatch(ctx, texts, qualityLabels, "This tweet sounds {label}.")
	if err != nil {
		slog.Warn("ml worker: quality assessment failed, defaulting to zero", "error", err)
		qualityScores = make([]map[string]float64, len(batch))
	}
	for i, labelScores := range qualityScores {
		results[i].QualityBait = labelScores[labelEngagementBait]
		results[i].QualitySynthetic = labelScores[labelSynthetic]
		results[i].QualityAuthentic = labelScores[labelAuthentic]
	}

	if len(referenceEmbeddings) > 0 {
		textEmbeddings, err := embedder.EmbedBatch(ctx, texts)
		if err != nil {
			slog.Warn("ml worker: embedding failed, semantic score defaults to zero", "error", err)
		} else {
			for i, vec := range textEmbeddings {
				best, bestIdx := bestCosineSimilarity(vec, referenceEmbeddings)
				results[i].SemanticScore = best
				results[i].BestReferenceIndex = bestIdx
			}
		}
	}

	return results
}

func isPositiveLabel(label string, positive []string) bool {
	for _, p := range positive {
		if strings.EqualFold(p, label) {
			return true
		}
	}
	return false
}

func argmax(scores map[string]float64) (string, float64) {
	var bestLabel string
	bestScore := -1.0
	for label, score := range scores {
		if score > bestScore {
			bestScore = score
			bestLabel = label
		}
	}
	if bestScore < 0 {
		return "", 0
	}
	return bestLabel, bestScore
}

func bestCosineSimilarity(vec []float64, references [][]float64) (float64, int) {
	best := -1.0
	bestIdx := -1
	for i, ref := range references {
		sim := cosineSimilarity(vec, ref)
		if sim > best {
			best = sim
			bestIdx = i
		}
	}
	if bestIdx < 0 {
		return 0, -1
	}
	return best, bestIdx
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// langchainClassifier adapts langchaingo's llms.Model into the Classifier
// interface by issuing one prompt per (text, label) candidate and parsing a
// 0-1 score out of the model's reply.
type langchainClassifier struct {
	model llms.Model
}

func NewLangchainClassifier(model llms.Model) Classifier {
	return &langchainClassifier{model: model}
}

func (c *langchainClassifier) ClassifyBatch(ctx context.Context, texts []string, labels []string, template string) ([]map[string]float64, error) {
	out := make([]map[string]float64, len(texts))
	for i, text := range texts {
		scores := make(map[string]float64, len(labels))
		for _, label := range labels {
			prompt := fmt.Sprintf(
				"%s\n\nText: %q\n\nOn a scale from 0.00 to 1.00, how well does this label apply? Reply with only the number.",
				strings.ReplaceAll(template, "{label}", label), text,
			)
			resp, err := llms.GenerateFromSinglePrompt(ctx, c.model, prompt)
			if err != nil {
				return nil, fmt.Errorf("classify %q against %q: %w", text, label, err)
			}
			scores[label] = parseScore(resp)
		}
		out[i] = scores
	}
	return out, nil
}

func parseScore(resp string) float64 {
	var v float64
	_, err := fmt.Sscanf(strings.TrimSpace(resp), "%f", &v)
	if err != nil {
		return 0
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// langchainEmbedder adapts langchaingo's embeddings.EmbedderClient into the
// Embedder interface.
type langchainEmbedder struct {
	client embeddings.Embedder
}

func NewLangchainEmbedder(client embeddings.Embedder) Embedder {
	return &langchainEmbedder{client: client}
}

func (e *langchainEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	vectors, err := e.client.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed documents: %w", err)
	}
	out := make([][]float64, len(vectors))
	for i, vec := range vectors {
		out[i] = make([]float64, len(vec))
		for j, f := range vec {
			out[i][j] = float64(f)
		}
	}
	return out, nil
}
