package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/doceazedo/devlogs-feed/internal/config"
)

func testCfg() *config.ScoringConfig {
	cfg := config.DefaultScoringConfig()
	return cfg
}

func TestMinLengthRejectsRegardlessOfOtherSignals(t *testing.T) {
	chain := New(testCfg(), Capabilities{})
	result := chain.Evaluate(Candidate{Text: "#gamedev"})
	assert.False(t, result.Pass)
	assert.Equal(t, ReasonMinLength, result.Reason)
}

func TestBlockedKeywordNeverReachesLaterChecks(t *testing.T) {
	chain := New(testCfg(), Capabilities{
		IsSpammer: func(string) bool { t.Fatal("spammer predicate should not run"); return false },
	})
	result := chain.Evaluate(Candidate{
		AuthorDID: "did:plc:whatever",
		Text:      "check out my new NFT collection dropping today, very exciting stuff",
	})
	assert.False(t, result.Pass)
	assert.Equal(t, ReasonBlockedKeyword, result.Reason)
}

func TestBlockedHashtagExactMatch(t *testing.T) {
	chain := New(testCfg(), Capabilities{})
	result := chain.Evaluate(Candidate{
		Text: "thoughts on the current #web3 landscape and where it is headed next",
	})
	assert.False(t, result.Pass)
	assert.Equal(t, ReasonBlockedHashtag, result.Reason)
}

func TestAuthorCapabilitiesInjected(t *testing.T) {
	cfg := testCfg()
	chain := New(cfg, Capabilities{
		IsBlocked: func(did string) bool { return did == "did:plc:blocked" },
		IsSpammer: func(did string) bool { return did == "did:plc:spammer" },
	})

	okText := "a perfectly long and ordinary devlog update about my weekend project"

	blocked := chain.Evaluate(Candidate{AuthorDID: "did:plc:blocked", Text: okText})
	assert.False(t, blocked.Pass)
	assert.Equal(t, ReasonBlockedAuthor, blocked.Reason)

	spammer := chain.Evaluate(Candidate{AuthorDID: "did:plc:spammer", Text: okText})
	assert.False(t, spammer.Pass)
	assert.Equal(t, ReasonSpammer, spammer.Reason)

	clean := chain.Evaluate(Candidate{AuthorDID: "did:plc:clean", Text: okText})
	assert.True(t, clean.Pass)
}

func TestPromoLinkRejected(t *testing.T) {
	chain := New(testCfg(), Capabilities{})
	result := chain.Evaluate(Candidate{
		Text: "come join my community server over at https://discord.gg/abc123 today",
	})
	assert.False(t, result.Pass)
	assert.Equal(t, ReasonPromoLink, result.Reason)
}

func TestTooManyHashtagsRejected(t *testing.T) {
	chain := New(testCfg(), Capabilities{})
	result := chain.Evaluate(Candidate{
		Text: "big devlog update today #a #b #c #d #e #f #g about my indie project",
	})
	assert.False(t, result.Pass)
	assert.Equal(t, ReasonTooManyHashtags, result.Reason)
}

func TestCleanCandidatePasses(t *testing.T) {
	chain := New(testCfg(), Capabilities{})
	result := chain.Evaluate(Candidate{
		AuthorDID: "did:plc:dev",
		Text:      "Just shipped the new lighting shader for my #gamedev project this week.",
	})
	assert.True(t, result.Pass)
	assert.Equal(t, ReasonNone, result.Reason)
}

func TestEnglishOnlyRejectsNonEnglishTag(t *testing.T) {
	chain := New(testCfg(), Capabilities{})
	result := chain.Evaluate(Candidate{
		Text:    "Aujourd'hui j'ai travaillé sur mon jeu vidéo indépendant toute la journée",
		LangTag: "fr",
	})
	assert.False(t, result.Pass)
	assert.Equal(t, ReasonNotEnglish, result.Reason)
}
