// Package atproto is a thin XRPC HTTP client for the backfill path (spec.md
// §4.E, §6): it authenticates once via com.atproto.server.createSession and
// answers app.bsky.feed.searchPosts, satisfying internal/pipeline's
// SearchClient interface.
package atproto

import "encoding/json"

// ─── Auth ─────────────────────────────────────────────────────────────────────

// Session holds credentials returned by com.atproto.server.createSession.
type Session struct {
	DID        string `json:"did"`
	Handle     string `json:"handle"`
	AccessJwt  string `json:"accessJwt"`
	RefreshJwt string `json:"refreshJwt"`
}

// CreateSessionInput is the request body for com.atproto.server.createSession.
type CreateSessionInput struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

// ─── Feed post record (app.bsky.feed.post) ────────────────────────────────────

// PostRecord is the lexicon record for a Bluesky post, as embedded (JSON-
// encoded, not CAR-decoded) in an app.bsky.feed.searchPosts result.
type PostRecord struct {
	Type      string       `json:"$type"`
	Text      string       `json:"text"`
	CreatedAt string       `json:"createdAt"`
	Facets    []Facet      `json:"facets,omitempty"`
	Reply     *Reply       `json:"reply,omitempty"`
	Langs     []string     `json:"langs,omitempty"`
	Embed     *RecordEmbed `json:"embed,omitempty"`
}

// Facet describes rich-text annotations (links, mentions, tags).
type Facet struct {
	Index    ByteSlice      `json:"index"`
	Features []FacetFeature `json:"features"`
}

// ByteSlice marks the byte range of a facet in the post text.
type ByteSlice struct {
	ByteStart int `json:"byteStart"`
	ByteEnd   int `json:"byteEnd"`
}

// facetLinkType is the $type discriminator for a link rich-text feature.
const facetLinkType = "app.bsky.richtext.facet#link"

// FacetFeature is one annotation within a facet. The $type field selects the variant:
//   - app.bsky.richtext.facet#link  → URI field is set
//   - app.bsky.richtext.facet#mention → DID field is set
//   - app.bsky.richtext.facet#tag   → Tag field is set
type FacetFeature struct {
	Type string `json:"$type"`
	URI  string `json:"uri,omitempty"`
	DID  string `json:"did,omitempty"`
	Tag  string `json:"tag,omitempty"`
}

// Reply holds root/parent references for a threaded reply.
type Reply struct {
	Root   Ref `json:"root"`
	Parent Ref `json:"parent"`
}

// Ref is a CID+URI pair identifying an AT Protocol record.
type Ref struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

// ─── Embeds ───────────────────────────────────────────────────────────────────

// $type discriminators for the app.bsky.embed.* union, as they appear in the
// plain-JSON record shape returned by searchPosts (as opposed to the
// generated-struct union indigo hands the firehose consumer).
const (
	embedImagesType          = "app.bsky.embed.images"
	embedVideoType           = "app.bsky.embed.video"
	embedExternalType        = "app.bsky.embed.external"
	embedRecordWithMediaType = "app.bsky.embed.recordWithMedia"
)

// RecordEmbed is the tagged union of embed variants a post record can carry.
// At most one of Images/External/Media is populated, selected by Type.
type RecordEmbed struct {
	Type     string          `json:"$type"`
	Images   []EmbedImage    `json:"images,omitempty"`
	External *EmbedExternal  `json:"external,omitempty"`
	Media    *RecordEmbed    `json:"media,omitempty"`
	Record   *EmbedSubRecord `json:"record,omitempty"`
}

// EmbedImage is one image within an app.bsky.embed.images embed.
type EmbedImage struct {
	Alt string `json:"alt"`
}

// EmbedExternal is the external-link card within an app.bsky.embed.external embed.
type EmbedExternal struct {
	URI   string `json:"uri"`
	Title string `json:"title"`
}

// EmbedSubRecord is the quoted-record reference within a recordWithMedia embed.
type EmbedSubRecord struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

// ─── app.bsky.feed.searchPosts ────────────────────────────────────────────────

// SearchPostsResponse is returned by app.bsky.feed.searchPosts.
type SearchPostsResponse struct {
	Posts  []PostView `json:"posts"`
	Cursor string     `json:"cursor"`
}

// PostView is one post in a searchPosts result set.
type PostView struct {
	URI    string          `json:"uri"`
	CID    string          `json:"cid"`
	Author PostViewAuthor  `json:"author"`
	Record json.RawMessage `json:"record"`
}

// PostViewAuthor holds basic author info within a PostView.
type PostViewAuthor struct {
	DID    string `json:"did"`
	Handle string `json:"handle"`
}
