// Package lexical implements the cheap, pure-function text analysis that
// runs ahead of the ML worker: keyword/hashtag matching, link extraction and
// promo-domain detection, and first-person voice detection (spec.md §4.A).
// All functions are O(n · |vocab|) and share a small set of compile-once
// regexes, mirroring the pack's text-matching idiom (see e.g. the regexes in
// lessucettes-adresu-kit's repost_abuse_filter.go).
package lexical

import (
	"regexp"
	"strings"
)

var (
	hashtagRe = regexp.MustCompile(`#([A-Za-z0-9_]+)`)
	urlRe     = regexp.MustCompile(`https?://[^\s]+`)
	wordSplitRe = regexp.MustCompile(`[^A-Za-z0-9]+`)
)

// firstPersonMarkers are checked case-insensitively as plain substrings of the
// space-padded text; a marker is not anchored to a word start, so "taxi "
// also contains "i ".
var firstPersonMarkers = []string{"i ", "i'", "we ", "we'", "my ", "our "}

// HasKeywords reports whether text contains a whole-word or whole-phrase,
// case-insensitive match against any entry in vocab, and how many distinct
// vocab entries matched. Single-word entries only match on word boundaries
// (split on non-alphanumerics) — "rust" must not match inside "RustBelt".
// Multi-word entries match over contiguous token windows.
func HasKeywords(text string, vocab []string) (bool, int) {
	if len(vocab) == 0 {
		return false, 0
	}
	tokens := wordSplitRe.Split(strings.ToLower(text), -1)
	tokens = removeEmpty(tokens)
	tokenSet := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		tokenSet[t] = struct{}{}
	}

	count := 0
	for _, entry := range vocab {
		entry = strings.ToLower(strings.TrimSpace(entry))
		if entry == "" {
			continue
		}
		entryWords := strings.Fields(entry)
		if len(entryWords) == 1 {
			if _, ok := tokenSet[entryWords[0]]; ok {
				count++
			}
			continue
		}
		if containsWindow(tokens, entryWords) {
			count++
		}
	}
	return count > 0, count
}

// containsWindow reports whether window appears as a contiguous subsequence of tokens.
func containsWindow(tokens, window []string) bool {
	if len(window) == 0 || len(window) > len(tokens) {
		return false
	}
	for i := 0; i+len(window) <= len(tokens); i++ {
		match := true
		for j, w := range window {
			if tokens[i+j] != w {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func removeEmpty(tokens []string) []string {
	out := tokens[:0]
	for _, t := range tokens {
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// HasHashtags reports whether text contains a "#word" token that is exactly
// (case-insensitively) equal to one of the configured hashtags, and how many
// distinct configured hashtags matched. A substring match of a configured tag
// inside a longer hashtag ("#rust" inside "#RustBeltLiving") does not count.
func HasHashtags(text string, configured []string) (bool, int) {
	if len(configured) == 0 {
		return false, 0
	}
	found := extractHashtags(text)
	wanted := make(map[string]struct{}, len(configured))
	for _, h := range configured {
		wanted[strings.ToLower(strings.TrimPrefix(h, "#"))] = struct{}{}
	}
	matched := make(map[string]struct{})
	for _, h := range found {
		if _, ok := wanted[h]; ok {
			matched[h] = struct{}{}
		}
	}
	return len(matched) > 0, len(matched)
}

// extractHashtags returns the lowercased tag bodies (without '#') of every
// "#word" token in text.
func extractHashtags(text string) []string {
	matches := hashtagRe.FindAllStringSubmatch(text, -1)
	tags := make([]string, 0, len(matches))
	for _, m := range matches {
		tags = append(tags, strings.ToLower(m[1]))
	}
	return tags
}

// CountAllHashtags returns the total number of "#word" occurrences in text,
// including duplicates.
func CountAllHashtags(text string) int {
	return len(hashtagRe.FindAllString(text, -1))
}

// StripHashtags returns text with every "#word" token removed and the result
// trimmed of surrounding whitespace, used for length checks in the filter chain.
func StripHashtags(text string) string {
	stripped := hashtagRe.ReplaceAllString(text, "")
	return strings.TrimSpace(collapseSpaces(stripped))
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// CountLinks returns the number of http(s) URLs present in text.
func CountLinks(text string) int {
	return len(urlRe.FindAllString(text, -1))
}

// ExtractLinks returns every http(s) URL span found in text.
func ExtractLinks(text string) []string {
	return urlRe.FindAllString(text, -1)
}

// IsPromoDomain reports whether rawURL's host is, or contains as a substring,
// one of the configured promotional domains. The host is derived by
// splitting on "://" then on the first "/".
func IsPromoDomain(rawURL string, promoDomains []string) bool {
	host := hostOf(rawURL)
	if host == "" {
		return false
	}
	host = strings.ToLower(host)
	for _, domain := range promoDomains {
		domain = strings.ToLower(strings.TrimSpace(domain))
		if domain != "" && strings.Contains(host, domain) {
			return true
		}
	}
	return false
}

func hostOf(rawURL string) string {
	parts := strings.SplitN(rawURL, "://", 2)
	rest := rawURL
	if len(parts) == 2 {
		rest = parts[1]
	}
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		rest = rest[:i]
	}
	return rest
}

// DetectFirstPerson reports whether text shows case-insensitive presence of
// any first-person marker ("i ", "i'", "we ", "we'", "my ", "our "). A
// leading/trailing space is added to text so a marker at the very start or
// end of the message is still matched.
func DetectFirstPerson(text string) bool {
	padded := " " + strings.ToLower(text) + " "
	for _, marker := range firstPersonMarkers {
		if strings.Contains(padded, marker) {
			return true
		}
	}
	return false
}
