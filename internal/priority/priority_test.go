package priority

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/doceazedo/devlogs-feed/internal/config"
)

func TestCalculate_AllZeroSignalsProduceZeroPriority(t *testing.T) {
	cfg := config.DefaultScoringConfig()
	b := Calculate(cfg.Priority, cfg.Engagement, Signals{})
	assert.Zero(t, b.FinalPriority)
	assert.Empty(t, b.BoostReasons)
	assert.Empty(t, b.PenaltyReasons)
}

func TestCalculate_TopicWeighting(t *testing.T) {
	cfg := config.DefaultScoringConfig()
	b := Calculate(cfg.Priority, cfg.Engagement, Signals{TopicScore: 1, SemanticScore: 1})
	expected := cfg.Priority.WeightTopic + cfg.Priority.WeightSemantic
	assert.InDelta(t, expected, b.TopicTerm, 0.001)
}

func TestCalculate_QualityPenaltiesApplyAboveThreshold(t *testing.T) {
	cfg := config.DefaultScoringConfig()
	b := Calculate(cfg.Priority, cfg.Engagement, Signals{EngagementBait: 0.9, Synthetic: 0.9})
	assert.InDelta(t, 1.8, b.QualityPenalty, 0.001)
	assert.Len(t, b.PenaltyReasons, 2)
}

func TestCalculate_LinkPenaltyIsExponentialAndOnlyWhenPresent(t *testing.T) {
	cfg := config.DefaultScoringConfig()
	zeroLinks := Calculate(cfg.Priority, cfg.Engagement, Signals{})
	assert.Zero(t, zeroLinks.ContentModifier)

	twoLinks := Calculate(cfg.Priority, cfg.Engagement, Signals{LinkCount: 2})
	expectedPenalty := -1 * pow(cfg.Priority.LinkPenaltyBase, 2)
	assert.InDelta(t, expectedPenalty, twoLinks.ContentModifier, 0.001)
}

func TestCalculate_EngagementBoostCapped(t *testing.T) {
	cfg := config.DefaultScoringConfig()
	b := Calculate(cfg.Priority, cfg.Engagement, Signals{EngagementVelocity: 1_000_000})
	assert.InDelta(t, cfg.Priority.MaxEngagementBoost, b.EngagementBoost, 0.001)
}

func TestCalculate_AltTextBonusRequiresImages(t *testing.T) {
	cfg := config.DefaultScoringConfig()
	noImages := Calculate(cfg.Priority, cfg.Engagement, Signals{HasAltText: true})
	assert.Zero(t, noImages.ContentModifier)

	withImages := Calculate(cfg.Priority, cfg.Engagement, Signals{HasAltText: true, ImageCount: 1})
	assert.InDelta(t, cfg.Priority.AltTextBonus, withImages.ContentModifier, 0.001)
}

func TestCalculate_Deterministic(t *testing.T) {
	cfg := config.DefaultScoringConfig()
	s := Signals{TopicScore: 0.7, SemanticScore: 0.5, IsFirstPerson: true, LinkCount: 1}
	a := Calculate(cfg.Priority, cfg.Engagement, s)
	b := Calculate(cfg.Priority, cfg.Engagement, s)
	assert.Equal(t, a.FinalPriority, b.FinalPriority)
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}
