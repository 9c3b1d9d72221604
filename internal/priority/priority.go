// Package priority implements the pure PriorityBreakdown calculator
// (spec.md §4.D): a deterministic, total function from the ML worker's
// outputs plus the lexical/media content signals to a final priority score
// and a human-readable trace of every boost and penalty that contributed.
// No I/O, no config mutation — it only reads the *config.PriorityConfig
// snapshot it is handed.
package priority

import (
	"fmt"
	"math"

	"github.com/doceazedo/devlogs-feed/internal/config"
)

// Signals is everything the calculator needs: the ML worker's topic/quality/
// semantic outputs and the content signals derived from the lexical analyzer
// and media embed.
type Signals struct {
	TopicScore     float64
	SemanticScore  float64
	EngagementBait float64
	Synthetic      float64
	Authenticity   float64

	IsFirstPerson bool
	ImageCount    int
	HasVideo      bool
	HasAltText    bool
	LinkCount     int
	PromoLinks    int

	// EngagementVelocity, when > 0, is used directly; otherwise the boost
	// falls back to the raw weighted reply/repost/like counts.
	EngagementVelocity float64
	ReplyCount         int
	RepostCount        int
	LikeCount          int

	TopicLabel  string
	LabelBoost  float64 // additive delta for a per-label configured factor
}

// Breakdown is the calculator's output: the final priority plus the
// human-readable traces used by score-post and admin diagnostics.
type Breakdown struct {
	TopicTerm        float64
	QualityPenalty   float64
	ContentModifier  float64
	EngagementBoost  float64
	AuthenticityBoost float64
	LabelBoost       float64
	FinalPriority    float64
	Confidence       string
	TopicLabel       string
	BoostReasons     []string
	PenaltyReasons   []string
}

const (
	goodQualityBoostMin = 0.1
	engagementBoostMin  = 0.05
)

// Calculate is the pure function described by spec.md §4.D. All-zero signals
// produce an all-zero breakdown with empty boost/penalty lists. eng supplies
// the reply/repost/like weights used when no precomputed velocity is given.
func Calculate(cfg config.PriorityConfig, eng config.EngagementConfig, s Signals) Breakdown {
	var boosts, penalties []string

	topicTerm := cfg.WeightTopic*s.TopicScore + cfg.WeightSemantic*s.SemanticScore

	qualityPenalty := 0.0
	if s.EngagementBait >= cfg.QualityThreshold {
		qualityPenalty += s.EngagementBait
		penalties = append(penalties, fmt.Sprintf("engagement-bait: %s", signed(-s.EngagementBait)))
	}
	if s.Synthetic >= cfg.QualityThreshold {
		qualityPenalty += s.Synthetic
		penalties = append(penalties, fmt.Sprintf("synthetic: %s", signed(-s.Synthetic)))
	}

	contentModifier := 0.0
	if s.IsFirstPerson {
		contentModifier += cfg.FirstPersonBonus
		boosts = append(boosts, fmt.Sprintf("first-person: %s", signed(cfg.FirstPersonBonus)))
	}
	if s.HasVideo {
		contentModifier += cfg.VideoBonus
		boosts = append(boosts, fmt.Sprintf("video: %s", signed(cfg.VideoBonus)))
	}
	if s.ImageCount > 0 && s.HasAltText {
		contentModifier += cfg.AltTextBonus
		boosts = append(boosts, fmt.Sprintf("alt-text: %s", signed(cfg.AltTextBonus)))
	}
	if s.ImageCount >= cfg.ManyImagesThreshold {
		contentModifier -= cfg.ManyImagesPenalty
		penalties = append(penalties, fmt.Sprintf("images: %s (%d)", signed(-cfg.ManyImagesPenalty), s.ImageCount))
	}
	if s.LinkCount > 0 {
		linkPenalty := math.Pow(cfg.LinkPenaltyBase, float64(s.LinkCount))
		contentModifier -= linkPenalty
		penalties = append(penalties, fmt.Sprintf("links: %s (%d)", signed(-linkPenalty), s.LinkCount))
	}
	if s.PromoLinks > 0 {
		promoPenalty := float64(s.PromoLinks) * cfg.PromoLinkPenalty
		contentModifier -= promoPenalty
		penalties = append(penalties, fmt.Sprintf("promo-links: %s (%d)", signed(-promoPenalty), s.PromoLinks))
	}

	engagementBoost := computeEngagementBoost(cfg, eng, s)
	if engagementBoost >= engagementBoostMin {
		boosts = append(boosts, fmt.Sprintf("trending: %s", signed(engagementBoost)))
	}

	authenticityBoost := 0.0
	if s.Authenticity >= cfg.AuthenticityThreshold {
		authenticityBoost = s.Authenticity
	}
	if authenticityBoost >= goodQualityBoostMin {
		boosts = append(boosts, fmt.Sprintf("authentic: %s", signed(authenticityBoost)))
	}

	labelBoost := s.LabelBoost
	if factor, ok := cfg.LabelBoosts[s.TopicLabel]; ok {
		labelBoost = factor - 1
	}
	if labelBoost != 0 {
		boosts = append(boosts, fmt.Sprintf("topic: %s", signed(labelBoost)))
	}

	final := topicTerm + contentModifier + engagementBoost + authenticityBoost + labelBoost - qualityPenalty

	return Breakdown{
		TopicTerm:         topicTerm,
		QualityPenalty:    qualityPenalty,
		ContentModifier:   contentModifier,
		EngagementBoost:   engagementBoost,
		AuthenticityBoost: authenticityBoost,
		LabelBoost:        labelBoost,
		FinalPriority:     final,
		Confidence:        cfg.ConfidenceTier(float32(final)),
		TopicLabel:        s.TopicLabel,
		BoostReasons:      boosts,
		PenaltyReasons:    penalties,
	}
}

func computeEngagementBoost(cfg config.PriorityConfig, eng config.EngagementConfig, s Signals) float64 {
	weighted := s.EngagementVelocity
	if weighted <= 0 {
		weighted = eng.WeightReply*float64(s.ReplyCount) +
			eng.WeightRepost*float64(s.RepostCount) +
			eng.WeightLike*float64(s.LikeCount)
	}
	boost := math.Log1p(weighted) * cfg.EngagementVelocityScale
	if boost > cfg.MaxEngagementBoost {
		boost = cfg.MaxEngagementBoost
	}
	return boost
}

func signed(v float64) string {
	if v >= 0 {
		return fmt.Sprintf("+%.2f", v)
	}
	return fmt.Sprintf("%.2f", v)
}
