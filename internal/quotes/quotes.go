// Package quotes turns raw post text into the short evidence snippets kept on
// each person, and selects the most topical ones.
package quotes

import (
	"regexp"
	"strings"
)

const (
	// MaxQuotes is the hard cap on quotes kept per person.
	MaxQuotes = 5
	// DefaultMinQuoteLength is the minimum cleaned length to accept a quote.
	DefaultMinQuoteLength = 12
	// DefaultMaxPerTopic is how many quotes each topic contributes before the
	// selected sets are merged.
	DefaultMaxPerTopic = 3
)

var (
	urlPattern      = regexp.MustCompile(`https?://\S+`)
	retweetPattern  = regexp.MustCompile(`^RT @\w+: `)
	hashtagPattern  = regexp.MustCompile(`#\w+`)
)

// CleanResult is the outcome of cleaning one raw text.
type CleanResult struct {
	Text     string
	URLs     []string
	Hashtags []string
}

// Clean normalizes raw post text in a fixed order: URLs are extracted and
// removed, a leading "RT @handle: " attribution is stripped, hashtags are
// extracted but left in place, and surrounding whitespace is trimmed.
// Cleaning is idempotent.
func Clean(raw string) CleanResult {
	result := CleanResult{
		URLs: urlPattern.FindAllString(raw, -1),
	}

	text := urlPattern.ReplaceAllString(raw, "")
	text = retweetPattern.ReplaceAllString(text, "")
	result.Hashtags = hashtagPattern.FindAllString(text, -1)
	result.Text = strings.TrimSpace(text)

	return result
}

// Accept reports whether a cleaned text qualifies as a quote: longer than
// minLen and not already present verbatim in existing. minLen <= 0 uses the
// default.
func Accept(cleaned string, existing []string, minLen int) bool {
	if minLen <= 0 {
		minLen = DefaultMinQuoteLength
	}
	if len(cleaned) <= minLen {
		return false
	}
	for _, q := range existing {
		if q == cleaned {
			return false
		}
	}
	return true
}

// Append adds a cleaned quote if it qualifies, holding the list at MaxQuotes.
func Append(existing []string, cleaned string, minLen int) []string {
	if !Accept(cleaned, existing, minLen) {
		return existing
	}
	if len(existing) >= MaxQuotes {
		return existing
	}
	return append(existing, cleaned)
}

// Select ranks candidates per topic by keyword score and merges the top
// DefaultMaxPerTopic of each topic, deduplicated and capped at MaxQuotes.
// When nothing matches any topic keyword, the first MaxQuotes candidates in
// discovery order are kept instead, so any person with raw text still gets
// representative quotes.
func Select(candidates []string) []string {
	return SelectN(candidates, DefaultMaxPerTopic)
}

// SelectN is Select with an explicit per-topic count.
func SelectN(candidates []string, maxPerTopic int) []string {
	if len(candidates) == 0 {
		return nil
	}
	if maxPerTopic <= 0 {
		maxPerTopic = DefaultMaxPerTopic
	}

	picked := make([]string, 0, MaxQuotes)
	seen := make(map[string]bool, MaxQuotes)

	for _, topic := range TopicNames() {
		for _, idx := range rankForTopic(candidates, topic, maxPerTopic) {
			q := candidates[idx]
			if seen[q] {
				continue
			}
			seen[q] = true
			picked = append(picked, q)
		}
	}

	if len(picked) == 0 {
		// No keyword matched anywhere; fall back to discovery order.
		for _, q := range candidates {
			if seen[q] {
				continue
			}
			seen[q] = true
			picked = append(picked, q)
			if len(picked) >= MaxQuotes {
				break
			}
		}
		return picked
	}

	if len(picked) > MaxQuotes {
		picked = picked[:MaxQuotes]
	}
	return picked
}

// rankForTopic returns the indices of the top-n candidates for a topic,
// descending by score, skipping zero scores. Ties keep discovery order.
func rankForTopic(candidates []string, topic string, n int) []int {
	type scored struct {
		idx   int
		score int
	}
	var ranked []scored
	for i, q := range candidates {
		if s := Score(q, topic); s > 0 {
			ranked = append(ranked, scored{idx: i, score: s})
		}
	}
	// Insertion sort keeps equal scores in discovery order.
	for i := 1; i < len(ranked); i++ {
		for j := i; j > 0 && ranked[j].score > ranked[j-1].score; j-- {
			ranked[j], ranked[j-1] = ranked[j-1], ranked[j]
		}
	}
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	out := make([]int, len(ranked))
	for i, r := range ranked {
		out[i] = r.idx
	}
	return out
}

// Score is the topic relevance of a quote: the sum over the topic's keywords
// of case-insensitive substring match counts. Unknown topics score 0.
func Score(quote, topic string) int {
	keywords, ok := topics[topic]
	if !ok {
		return 0
	}
	lower := strings.ToLower(quote)
	total := 0
	for _, kw := range keywords {
		total += strings.Count(lower, kw)
	}
	return total
}
