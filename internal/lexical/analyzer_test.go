package lexical

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasKeywords_WordBoundary(t *testing.T) {
	vocab := []string{"rust", "game jam"}

	ok, n := HasKeywords("I love RustBelt culture", vocab)
	assert.False(t, ok, "substring match inside RustBelt must not count")
	assert.Equal(t, 0, n)

	ok, n = HasKeywords("I'm learning Rust this weekend", vocab)
	assert.True(t, ok)
	assert.Equal(t, 1, n)

	ok, n = HasKeywords("Just submitted my game jam entry!", vocab)
	assert.True(t, ok, "multi-word phrase should match contiguous tokens")
	assert.Equal(t, 1, n)
}

func TestHasKeywords_CaseInsensitive(t *testing.T) {
	ok, _ := HasKeywords("GODOT is great", []string{"godot"})
	assert.True(t, ok)
}

func TestHasHashtags_ExactMatchOnly(t *testing.T) {
	ok, n := HasHashtags("check out #RustBeltLiving today", []string{"rust"})
	assert.False(t, ok, "substring of a hashtag must not count")
	assert.Equal(t, 0, n)

	ok, n = HasHashtags("#GameDev progress update", []string{"gamedev"})
	assert.True(t, ok)
	assert.Equal(t, 1, n)
}

func TestStripHashtagsAndCount(t *testing.T) {
	text := "hi #a #b there"
	assert.Equal(t, "hi there", StripHashtags(text))
	assert.Equal(t, 2, CountAllHashtags(text))
}

func TestCountLinksAndPromoDomain(t *testing.T) {
	text := "join my server at https://discord.gg/abc123 now"
	assert.Equal(t, 1, CountLinks(text))
	assert.True(t, IsPromoDomain("https://discord.gg/abc123", []string{"discord.gg"}))
	assert.False(t, IsPromoDomain("https://example.com", []string{"discord.gg"}))
}

func TestDetectFirstPerson(t *testing.T) {
	assert.True(t, DetectFirstPerson("I shipped a new build today"))
	assert.True(t, DetectFirstPerson("My game jam entry is done"))
	assert.False(t, DetectFirstPerson("This is neat devlog content"))
}

func TestAnalyzeEmbed_Images(t *testing.T) {
	embed := &Embed{
		Kind: EmbedImages,
		Images: []ImageRef{
			{HasAlt: true},
			{HasAlt: false},
		},
	}
	info := AnalyzeEmbed(embed, nil, "no links here", nil)
	assert.True(t, info.HasMedia)
	assert.Equal(t, 2, info.ImageCount)
	assert.True(t, info.HasAltText)
	assert.False(t, info.HasVideo)
}

func TestAnalyzeEmbed_QuoteWithMediaPromo(t *testing.T) {
	embed := &Embed{
		Kind: EmbedQuoteWithMedia,
		QuotedMedia: &Embed{
			Kind:        EmbedExternal,
			ExternalURI: "https://discord.gg/xyz",
		},
	}
	info := AnalyzeEmbed(embed, nil, "", []string{"discord.gg"})
	assert.Equal(t, 1, info.LinkCount)
	assert.Equal(t, 1, info.PromoLinks)
	assert.True(t, HasPromoLink(embed, nil, "", []string{"discord.gg"}))
}

func TestImageCountSaturates(t *testing.T) {
	imgs := make([]ImageRef, 300)
	info := AnalyzeEmbed(&Embed{Kind: EmbedImages, Images: imgs}, nil, "", nil)
	assert.Equal(t, maxImageCount, info.ImageCount)
}
