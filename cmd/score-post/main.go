// score-post runs a single post through the same filter-chain, ML-scoring,
// and priority-calculation path the live pipeline uses, printing a full
// trace of every accept/reject decision instead of writing anything to
// storage. It accepts a Bluesky post URL, an at:// URI, or raw text typed
// directly on the command line.
//
// Usage:
//
//	score-post https://bsky.app/profile/alice.bsky.social/post/abc123
//	score-post at://did:plc:example/app.bsky.feed.post/abc123
//	score-post --media --alt "shipped a new particle system today!"
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"

	"github.com/doceazedo/devlogs-feed/internal/atproto"
	"github.com/doceazedo/devlogs-feed/internal/config"
	"github.com/doceazedo/devlogs-feed/internal/filter"
	"github.com/doceazedo/devlogs-feed/internal/lexical"
	"github.com/doceazedo/devlogs-feed/internal/mlworker"
	"github.com/doceazedo/devlogs-feed/internal/priority"
)

var (
	flagMedia   bool
	flagVideo   bool
	flagAltText bool
)

func main() {
	root := &cobra.Command{
		Use:   "score-post <url|at-uri|text>",
		Short: "Trace a single post through the scoring pipeline",
		Args:  cobra.ExactArgs(1),
		RunE:  run,
	}
	root.Flags().BoolVarP(&flagMedia, "media", "m", false, "treat raw text input as having at least one image attached")
	root.Flags().BoolVarP(&flagVideo, "video", "v", false, "treat raw text input as having a video attached")
	root.Flags().BoolVarP(&flagAltText, "alt", "a", false, "treat raw text input's image as carrying alt text")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	input := args[0]

	text, lang, embed, err := resolveInput(ctx, input)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	cfg := config.Load()
	scoringCfg, err := config.LoadScoring(cfg.ScoringDefaultsPath, cfg.ScoringOverridePath)
	if err != nil {
		return fmt.Errorf("load scoring config: %w", err)
	}

	fmt.Printf("── input ──────────────────────────────────────────────\n")
	fmt.Printf("text: %s\n", text)
	if lang != "" {
		fmt.Printf("lang: %s\n", lang)
	}

	facetLinks := lexical.ExtractLinks(text)
	chain := filter.New(scoringCfg, filter.Capabilities{
		IsBlocked: func(string) bool { return false },
		IsSpammer: func(string) bool { return false },
	})
	cand := filter.Candidate{
		Text:       text,
		LangTag:    lang,
		FacetLinks: facetLinks,
		Embed:      embed,
	}

	fmt.Printf("\n── filter chain ───────────────────────────────────────\n")
	result := chain.Evaluate(cand)
	if !result.Pass {
		fmt.Printf("REJECTED at filter stage: %s (%s)\n", result.Reason, result.Detail)
		return nil
	}
	fmt.Println("passed")

	hasKeyword, keywordHits := lexical.HasKeywords(text, scoringCfg.Filter.GamedevKeywords)
	hasHashtag, hashtagHits := lexical.HasHashtags(text, scoringCfg.Filter.GamedevHashtags)
	fmt.Printf("\n── topic prefilter ────────────────────────────────────\n")
	fmt.Printf("keywords: %v (%d hits)   hashtags: %v (%d hits)\n", hasKeyword, keywordHits, hasHashtag, hashtagHits)
	if !hasKeyword && !hasHashtag {
		fmt.Println("REJECTED: off_topic")
		return nil
	}

	fmt.Printf("\n── ML scoring ─────────────────────────────────────────\n")
	scores, err := scoreOnce(ctx, cfg, scoringCfg, text)
	if err != nil {
		return fmt.Errorf("ml scoring: %w", err)
	}
	fmt.Printf("topic: %s (%.3f)   negative_rejection: %v\n", scores.TopicLabel, scores.TopicScore, scores.NegativeRejection)
	fmt.Printf("semantic: %.3f   bait: %.3f   synthetic: %.3f   authentic: %.3f\n",
		scores.SemanticScore, scores.QualityBait, scores.QualitySynthetic, scores.QualityAuthentic)
	if scores.NegativeRejection {
		fmt.Println("REJECTED: negative_rejection")
		return nil
	}

	media := lexical.AnalyzeEmbed(embed, facetLinks, text, scoringCfg.Filter.PromoDomains)
	fmt.Printf("\n── content signals ────────────────────────────────────\n")
	fmt.Printf("first_person: %v   images: %d (alt=%v)   video: %v   links: %d (%d promo)\n",
		lexical.DetectFirstPerson(text), media.ImageCount, media.HasAltText, media.HasVideo, media.LinkCount, media.PromoLinks)

	signals := priority.Signals{
		TopicScore:     scores.TopicScore,
		SemanticScore:  scores.SemanticScore,
		EngagementBait: scores.QualityBait,
		Synthetic:      scores.QualitySynthetic,
		Authenticity:   scores.QualityAuthentic,
		IsFirstPerson:  lexical.DetectFirstPerson(text),
		ImageCount:     media.ImageCount,
		HasVideo:       media.HasVideo,
		HasAltText:     media.HasAltText,
		LinkCount:      media.LinkCount,
		PromoLinks:     media.PromoLinks,
		TopicLabel:     scores.TopicLabel,
	}
	breakdown := priority.Calculate(scoringCfg.Priority, scoringCfg.Engagement, signals)

	fmt.Printf("\n── priority breakdown ─────────────────────────────────\n")
	fmt.Printf("topic term:       %+.3f\n", breakdown.TopicTerm)
	fmt.Printf("content modifier: %+.3f\n", breakdown.ContentModifier)
	fmt.Printf("engagement boost: %+.3f\n", breakdown.EngagementBoost)
	fmt.Printf("authenticity:     %+.3f\n", breakdown.AuthenticityBoost)
	fmt.Printf("label boost:      %+.3f\n", breakdown.LabelBoost)
	fmt.Printf("quality penalty:  -%.3f\n", breakdown.QualityPenalty)
	for _, b := range breakdown.BoostReasons {
		fmt.Printf("  + %s\n", b)
	}
	for _, p := range breakdown.PenaltyReasons {
		fmt.Printf("  - %s\n", p)
	}
	fmt.Printf("\nfinal priority: %.3f (%s confidence)\n", breakdown.FinalPriority, breakdown.Confidence)

	if breakdown.FinalPriority < scoringCfg.Priority.MinPriority {
		fmt.Println("\nREJECTED: below_min_priority")
		return nil
	}
	fmt.Println("\nACCEPTED")
	return nil
}

// resolveInput fetches live post content when given a URL/AT-URI, otherwise
// treats the argument as raw text and builds a synthetic embed from the
// media flags so --media/--video/--alt have something to attach to.
func resolveInput(ctx context.Context, input string) (text, lang string, embed *lexical.Embed, err error) {
	if atURI := atproto.ParsePostURL(input); atURI != "" {
		post, err := atproto.FetchPost(ctx, atURI)
		if err != nil {
			return "", "", nil, fmt.Errorf("fetch post: %w", err)
		}
		return post.Text, post.Lang, post.Embed, nil
	}

	text = strings.TrimSpace(input)
	if !flagMedia && !flagVideo {
		return text, "", nil, nil
	}
	e := &lexical.Embed{}
	switch {
	case flagVideo:
		e.Kind = lexical.EmbedVideo
	case flagMedia:
		e.Kind = lexical.EmbedImages
		e.Images = []lexical.ImageRef{{HasAlt: flagAltText}}
	}
	return text, "", e, nil
}

// scoreOnce builds a one-shot ML worker for a single scoring call. Unlike
// the live pipeline's long-running mlworker.Handle, the CLI only ever scores
// one text and exits, so there is no benefit to the batching behavior —
// Spawn/Score still gives the same classifier/embedder plumbing as the
// server binary without a second code path.
func scoreOnce(ctx context.Context, cfg *config.Config, scoringCfg *config.ScoringConfig, text string) (mlworker.Scores, error) {
	chatModel, err := ollama.New(ollama.WithServerURL(cfg.MLBackendURL), ollama.WithModel(cfg.MLModel))
	if err != nil {
		return mlworker.Scores{}, fmt.Errorf("create chat model: %w", err)
	}
	embedModel, err := ollama.New(ollama.WithServerURL(cfg.MLBackendURL), ollama.WithModel(cfg.MLEmbedModel))
	if err != nil {
		return mlworker.Scores{}, fmt.Errorf("create embedding model: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(embedModel)
	if err != nil {
		return mlworker.Scores{}, fmt.Errorf("create embedder: %w", err)
	}

	handle := mlworker.Spawn(scoringCfg.ML, mlworker.NewLangchainClassifier(chatModel), mlworker.NewLangchainEmbedder(embedder))
	return handle.Score(ctx, text), nil
}
