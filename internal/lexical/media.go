package lexical

// MediaInfo aggregates the content signals the priority calculator needs
// from a post's embed (spec.md §4.E step 2). It is built once per post by
// the pipeline orchestrator from whichever embed variant the firehose or
// backfill collaborator supplied.
type MediaInfo struct {
	HasMedia    bool
	ImageCount  int // saturates at 255 per spec.md §3 invariant 4
	HasAltText  bool
	HasVideo    bool
	LinkCount   int
	PromoLinks  int
}

const maxImageCount = 255

// ImageRef is one image attachment, carrying only the alt-text presence the
// priority calculator needs.
type ImageRef struct {
	HasAlt bool
}

// Embed is the protocol-agnostic tagged union mirroring the AT Protocol
// embed variants named in spec.md's glossary: Images, Video, External, or a
// quoted post optionally carrying its own media. Exactly one of the non-quote
// fields is meaningful per instance; QuotedMedia is additionally populated
// when Kind is EmbedQuoteWithMedia.
type Embed struct {
	Kind        EmbedKind
	Images      []ImageRef
	ExternalURI string
	QuotedMedia *Embed // populated only for EmbedQuoteWithMedia
}

// EmbedKind discriminates the Embed union, mirroring the original embed
// variant from spec.md's glossary ("Images | Video | External |
// QuoteWithMedia(_, MediaEmbed)").
type EmbedKind int

const (
	EmbedNone EmbedKind = iota
	EmbedImages
	EmbedVideo
	EmbedExternal
	EmbedQuoteWithMedia
)

// AnalyzeEmbed extracts MediaInfo from a post's embed plus its structured
// link facets and text, via an exhaustive switch over the embed union — the
// Go expression of spec.md §9's "extraction is best expressed as an
// exhaustive match" re-architecture guidance, grounded on the teacher's
// switch over ActivityPub attachment kinds in internal/ap/transmute.go.
func AnalyzeEmbed(e *Embed, facetLinks []string, text string, promoDomains []string) MediaInfo {
	info := MediaInfo{}

	var walk func(embed *Embed)
	walk = func(embed *Embed) {
		if embed == nil {
			return
		}
		switch embed.Kind {
		case EmbedImages:
			info.HasMedia = true
			n := len(embed.Images)
			if n > maxImageCount {
				n = maxImageCount
			}
			info.ImageCount += n
			for _, img := range embed.Images {
				if img.HasAlt {
					info.HasAltText = true
				}
			}
		case EmbedVideo:
			info.HasMedia = true
			info.HasVideo = true
		case EmbedExternal:
			info.HasMedia = true
			if embed.ExternalURI != "" {
				info.LinkCount++
				if IsPromoDomain(embed.ExternalURI, promoDomains) {
					info.PromoLinks++
				}
			}
		case EmbedQuoteWithMedia:
			walk(embed.QuotedMedia)
		}
	}
	walk(e)

	if info.ImageCount > maxImageCount {
		info.ImageCount = maxImageCount
	}

	// Links: structured facets take priority over naive text scanning, but
	// any link the facets missed (e.g. backfill records with no facet array)
	// is still caught by scanning the raw text, per spec.md §4.A.
	seen := make(map[string]struct{}, len(facetLinks))
	for _, link := range facetLinks {
		seen[link] = struct{}{}
		info.LinkCount++
		if IsPromoDomain(link, promoDomains) {
			info.PromoLinks++
		}
	}
	for _, link := range ExtractLinks(text) {
		if _, ok := seen[link]; ok {
			continue
		}
		seen[link] = struct{}{}
		info.LinkCount++
		if IsPromoDomain(link, promoDomains) {
			info.PromoLinks++
		}
	}

	return info
}

// HasPromoLink reports whether any link in facetLinks, the embed's external
// URI (including inside a quoted embed), or the raw text resolves to a
// configured promo domain. Used directly by the filter chain's PromoLink
// predicate so it does not need to build a full MediaInfo just to reject.
func HasPromoLink(e *Embed, facetLinks []string, text string, promoDomains []string) bool {
	for _, link := range facetLinks {
		if IsPromoDomain(link, promoDomains) {
			return true
		}
	}
	for _, link := range ExtractLinks(text) {
		if IsPromoDomain(link, promoDomains) {
			return true
		}
	}
	var walk func(embed *Embed) bool
	walk = func(embed *Embed) bool {
		if embed == nil {
			return false
		}
		switch embed.Kind {
		case EmbedExternal:
			return embed.ExternalURI != "" && IsPromoDomain(embed.ExternalURI, promoDomains)
		case EmbedQuoteWithMedia:
			return walk(embed.QuotedMedia)
		default:
			return false
		}
	}
	return walk(e)
}
