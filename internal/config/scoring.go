package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ScoringConfig holds every tunable used by the filter chain, ML worker,
// priority calculator, engagement tracker, ranker, maintenance loops, and
// backfill loop. It is read many times per event, so callers should treat
// the value returned by LoadScoring as immutable and share one pointer
// process-wide (per SPEC_FULL.md §2's "parsed config as immutable snapshot"
// guidance) rather than re-parsing it.
type ScoringConfig struct {
	Filter     FilterConfig     `yaml:"filter"`
	ML         MLConfig         `yaml:"ml"`
	Priority   PriorityConfig   `yaml:"priority"`
	Engagement EngagementConfig `yaml:"engagement"`
	Spam       SpamConfig       `yaml:"spam"`
	Feed       FeedConfig       `yaml:"feed"`
	Backfill   BackfillConfig   `yaml:"backfill"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
}

// FilterConfig backs the lexical analyzer and filter chain (spec.md §4.A-B).
type FilterConfig struct {
	MinTextLength     int      `yaml:"min_text_length"`
	MaxHashtags       int      `yaml:"max_hashtags"`
	GamedevKeywords   []string `yaml:"gamedev_keywords"`
	GamedevHashtags   []string `yaml:"gamedev_hashtags"`
	BlockedKeywords   []string `yaml:"blocked_keywords"`
	BlockedHashtags   []string `yaml:"blocked_hashtags"`
	PromoDomains      []string `yaml:"promo_domains"`
	InfluencerBypass  []string `yaml:"influencer_bypass_dids"`
}

// MLConfig backs the ML worker (spec.md §4.C).
type MLConfig struct {
	BatchSize          int      `yaml:"batch_size"`
	BatchTimeoutMs     int      `yaml:"batch_timeout_ms"`
	QueueSize          int      `yaml:"queue_size"`
	TopicLabels        []string `yaml:"topic_labels"`
	PositiveTopicLabels []string `yaml:"positive_topic_labels"`
	NegativeRejectionThreshold float64 `yaml:"negative_rejection_threshold"`
	ReferenceCorpus    []string `yaml:"reference_corpus"`
}

// PriorityConfig backs the priority calculator (spec.md §4.D).
type PriorityConfig struct {
	WeightTopic          float64            `yaml:"weight_topic"`
	WeightSemantic       float64            `yaml:"weight_semantic"`
	QualityThreshold     float64            `yaml:"quality_threshold"`
	FirstPersonBonus     float64            `yaml:"first_person_bonus"`
	VideoBonus           float64            `yaml:"video_bonus"`
	AltTextBonus         float64            `yaml:"alt_text_bonus"`
	ManyImagesThreshold  int                `yaml:"many_images_threshold"`
	ManyImagesPenalty    float64            `yaml:"many_images_penalty"`
	LinkPenaltyBase      float64            `yaml:"link_penalty_base"`
	PromoLinkPenalty     float64            `yaml:"promo_link_penalty"`
	MaxEngagementBoost   float64            `yaml:"max_engagement_boost"`
	EngagementVelocityScale float64         `yaml:"engagement_velocity_scale"`
	AuthenticityThreshold float64           `yaml:"authenticity_threshold"`
	LabelBoosts          map[string]float64 `yaml:"label_boosts"`
	MinPriority          float32            `yaml:"min_priority"`

	// Confidence tier bands, descending: priority >= StrongAt → Strong, etc.
	StrongAt   float32 `yaml:"confidence_strong_at"`
	HighAt     float32 `yaml:"confidence_high_at"`
	ModerateAt float32 `yaml:"confidence_moderate_at"`
}

// EngagementConfig backs the engagement tracker's velocity weighting (spec.md §4.G).
type EngagementConfig struct {
	WeightReply  float64 `yaml:"weight_reply"`
	WeightRepost float64 `yaml:"weight_repost"`
	WeightLike   float64 `yaml:"weight_like"`
}

// SpamConfig backs repost-velocity spam detection (spec.md §4.G).
type SpamConfig struct {
	VelocityWindowHours int `yaml:"velocity_window_hours"`
	RepostThreshold      int `yaml:"repost_threshold"`
}

// FeedConfig backs the request ranker (spec.md §4.H).
type FeedConfig struct {
	CutoffHours        int     `yaml:"cutoff_hours"`
	PriorityBucketHours float64 `yaml:"priority_bucket_hours"`
	ShuffleVariance    float64 `yaml:"shuffle_variance"`
	DefaultLimit       int     `yaml:"default_limit"`
	MaxLimit           int     `yaml:"max_limit"`
	PreferenceBoost    float64 `yaml:"preference_boost"`
	PreferencePenalty  float64 `yaml:"preference_penalty"`
}

// BackfillConfig backs the bootstrap backfill loop (spec.md §4.E).
type BackfillConfig struct {
	AuthHost string   `yaml:"auth_host"`
	Queries  []string `yaml:"queries"`
	Limit    int      `yaml:"limit"`
	PageSize int      `yaml:"page_size"`
}

// MaintenanceConfig backs the flush/cleanup timers (spec.md §4.I).
type MaintenanceConfig struct {
	FlushIntervalSeconds   int `yaml:"flush_interval_seconds"`
	CleanupIntervalSeconds int `yaml:"cleanup_interval_seconds"`
	MaxStoredPosts         int `yaml:"max_stored_posts"`
	PostMaxAgeHours        int `yaml:"post_max_age_hours"`
	EngagementMaxAgeHours  int `yaml:"engagement_max_age_hours"`
}

// DefaultScoringConfig returns the built-in fallback used when neither the
// defaults file nor the override file can be read — mirrors the teacher's
// "sane default when headers are absent" philosophy applied to config.
func DefaultScoringConfig() *ScoringConfig {
	return &ScoringConfig{
		Filter: FilterConfig{
			MinTextLength:   20,
			MaxHashtags:     5,
			GamedevKeywords: []string{"gamedev", "indiedev", "devlog", "pixelart", "godot", "unity", "unreal"},
			GamedevHashtags: []string{"gamedev", "indiedev", "devlog", "screenshotsaturday"},
			BlockedKeywords: []string{"nft", "crypto airdrop", "onlyfans"},
			BlockedHashtags: []string{"nft", "web3"},
			PromoDomains:    []string{"discord.gg", "cash.app", "t.me"},
		},
		ML: MLConfig{
			BatchSize:      8,
			BatchTimeoutMs: 200,
			QueueSize:      256,
			TopicLabels:    []string{"gamedev", "indie game development", "unrelated"},
			PositiveTopicLabels: []string{"gamedev", "indie game development"},
			NegativeRejectionThreshold: 0.85,
		},
		Priority: PriorityConfig{
			WeightTopic:             0.6,
			WeightSemantic:          0.4,
			QualityThreshold:        0.7,
			FirstPersonBonus:        0.1,
			VideoBonus:              0.15,
			AltTextBonus:            0.05,
			ManyImagesThreshold:     4,
			ManyImagesPenalty:       0.1,
			LinkPenaltyBase:         1.2,
			PromoLinkPenalty:        0.3,
			MaxEngagementBoost:      0.5,
			EngagementVelocityScale: 0.2,
			AuthenticityThreshold:   0.6,
			LabelBoosts:             map[string]float64{},
			MinPriority:             0.2,
			StrongAt:                1.5,
			HighAt:                  1.0,
			ModerateAt:              0.5,
		},
		Engagement: EngagementConfig{WeightReply: 1.0, WeightRepost: 1.0, WeightLike: 1.0},
		Spam:       SpamConfig{VelocityWindowHours: 1, RepostThreshold: 10},
		Feed: FeedConfig{
			CutoffHours:         72,
			PriorityBucketHours: 1,
			ShuffleVariance:     0.05,
			DefaultLimit:        50,
			MaxLimit:            100,
			PreferenceBoost:     1.3,
			PreferencePenalty:   0.5,
		},
		Backfill: BackfillConfig{
			AuthHost: "https://bsky.social",
			Queries:  []string{"gamedev", "indiedev", "#devlog"},
			Limit:    200,
			PageSize: 25,
		},
		Maintenance: MaintenanceConfig{
			FlushIntervalSeconds:   10,
			CleanupIntervalSeconds: 60,
			MaxStoredPosts:         50000,
			PostMaxAgeHours:        24 * 14,
			EngagementMaxAgeHours:  24 * 30,
		},
	}
}

// LoadScoring loads the defaults file, then — if present — replaces it
// wholesale with the override file's contents, per spec.md §6 ("If override
// is present its contents replace the defaults; no deep merge is required").
// Either path may be missing; a missing defaults file falls back to
// DefaultScoringConfig.
func LoadScoring(defaultsPath, overridePath string) (*ScoringConfig, error) {
	cfg := DefaultScoringConfig()
	if data, err := os.ReadFile(defaultsPath); err == nil {
		cfg = DefaultScoringConfig()
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse scoring defaults %s: %w", defaultsPath, err)
		}
	}

	if data, err := os.ReadFile(overridePath); err == nil {
		var override ScoringConfig
		if err := yaml.Unmarshal(data, &override); err != nil {
			return nil, fmt.Errorf("parse scoring override %s: %w", overridePath, err)
		}
		cfg = &override
	}

	return cfg, nil
}

// ConfidenceTier returns the display-only qualitative label for a priority
// value, per spec.md §4.D.
func (p PriorityConfig) ConfidenceTier(priority float32) string {
	switch {
	case priority >= p.StrongAt:
		return "Strong"
	case priority >= p.HighAt:
		return "High"
	case priority >= p.ModerateAt:
		return "Moderate"
	default:
		return "Low"
	}
}
