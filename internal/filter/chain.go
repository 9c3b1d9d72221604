// Package filter implements the totally ordered reject-on-first-failure
// predicate chain that runs before the lexical topical check and before the
// ML worker is ever invoked. The ordering — cheap checks before expensive ones,
// blocklist checks before author checks — matches the teacher's
// ContentModerator (ordered checks accumulating issues) generalized to a
// short-circuiting chain, and the capability-injection style for
// is_blocked/is_spammer is grounded on the pack's RepostAbuseFilter pattern
// of supplying caller-owned predicates rather than baking lookups in.
package filter

import (
	"strings"

	"github.com/doceazedo/devlogs-feed/internal/config"
	"github.com/doceazedo/devlogs-feed/internal/lexical"
)

// Reason identifies which predicate rejected a post.
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonMinLength       Reason = "min_length"
	ReasonNotEnglish      Reason = "not_english"
	ReasonBlockedKeyword  Reason = "blocked_keyword"
	ReasonBlockedHashtag  Reason = "blocked_hashtag"
	ReasonBlockedAuthor   Reason = "blocked_author"
	ReasonSpammer         Reason = "spammer"
	ReasonPromoLink       Reason = "promo_link"
	ReasonTooManyHashtags Reason = "too_many_hashtags"
)

// Result is the outcome of running a Candidate through the Chain: either
// Pass (ok=true) or Reject with a Reason and a human-readable Detail for
// trace output (score-post, admin logs).
type Result struct {
	Pass   bool
	Reason Reason
	Detail string
}

func pass() Result { return Result{Pass: true} }

func reject(reason Reason, detail string) Result {
	return Result{Pass: false, Reason: reason, Detail: detail}
}

// Candidate carries the fields the chain's predicates need. LangTag is the
// post's declared language tag, if any. FacetLinks are the structured link
// facets extracted from the record (as opposed to text-scanned links).
type Candidate struct {
	AuthorDID  string
	Text       string
	LangTag    string
	FacetLinks []string
	Embed      *lexical.Embed
}

// Capabilities are the caller-supplied predicates the chain cannot answer on
// its own — live spammer/blocklist membership, generally backed by the
// storage layer. Neither predicate is called unless an AuthorDID is present.
type Capabilities struct {
	IsBlocked func(did string) bool
	IsSpammer func(did string) bool
}

// Chain evaluates a Candidate against the ordered predicate list described in
// spec.md §4.B, returning on the first failing predicate.
type Chain struct {
	cfg  *config.ScoringConfig
	caps Capabilities
}

func New(cfg *config.ScoringConfig, caps Capabilities) *Chain {
	return &Chain{cfg: cfg, caps: caps}
}

// Evaluate runs every predicate in order, stopping at the first rejection.
func (c *Chain) Evaluate(cand Candidate) Result {
	if r := c.minLength(cand); !r.Pass {
		return r
	}
	if r := c.englishOnly(cand); !r.Pass {
		return r
	}
	if r := c.blockedKeyword(cand); !r.Pass {
		return r
	}
	if r := c.blockedHashtag(cand); !r.Pass {
		return r
	}
	if r := c.authorStatus(cand); !r.Pass {
		return r
	}
	if r := c.promoLink(cand); !r.Pass {
		return r
	}
	if r := c.tooManyHashtags(cand); !r.Pass {
		return r
	}
	return pass()
}

func (c *Chain) minLength(cand Candidate) Result {
	stripped := lexical.StripHashtags(cand.Text)
	if len(stripped) < c.cfg.Filter.MinTextLength {
		return reject(ReasonMinLength, "stripped text shorter than minimum")
	}
	return pass()
}

func (c *Chain) englishOnly(cand Candidate) Result {
	if cand.LangTag == "" {
		return pass()
	}
	if !strings.HasPrefix(strings.ToLower(cand.LangTag), "en") {
		return reject(ReasonNotEnglish, cand.LangTag)
	}
	return pass()
}

func (c *Chain) blockedKeyword(cand Candidate) Result {
	lower := strings.ToLower(cand.Text)
	for _, kw := range c.cfg.Filter.BlockedKeywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(lower, kw) {
			return reject(ReasonBlockedKeyword, kw)
		}
	}
	return pass()
}

func (c *Chain) blockedHashtag(cand Candidate) Result {
	if ok, _ := lexical.HasHashtags(cand.Text, c.cfg.Filter.BlockedHashtags); ok {
		return reject(ReasonBlockedHashtag, "matched a blocked hashtag")
	}
	return pass()
}

func (c *Chain) authorStatus(cand Candidate) Result {
	if cand.AuthorDID == "" || c.caps.IsBlocked == nil && c.caps.IsSpammer == nil {
		return pass()
	}
	if c.caps.IsBlocked != nil && c.caps.IsBlocked(cand.AuthorDID) {
		return reject(ReasonBlockedAuthor, cand.AuthorDID)
	}
	if c.caps.IsSpammer != nil && c.caps.IsSpammer(cand.AuthorDID) {
		return reject(ReasonSpammer, cand.AuthorDID)
	}
	return pass()
}

func (c *Chain) promoLink(cand Candidate) Result {
	if lexical.HasPromoLink(cand.Embed, cand.FacetLinks, cand.Text, c.cfg.Filter.PromoDomains) {
		return reject(ReasonPromoLink, "link resolves to a configured promo domain")
	}
	return pass()
}

func (c *Chain) tooManyHashtags(cand Candidate) Result {
	n := lexical.CountAllHashtags(cand.Text)
	if n > c.cfg.Filter.MaxHashtags {
		return reject(ReasonTooManyHashtags, "hashtag count exceeds configured maximum")
	}
	return pass()
}
