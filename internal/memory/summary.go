package memory

import (
	"regexp"
	"sort"
	"strings"
)

// maxSummaryKeywords caps the keyword list carried by a summary record.
const maxSummaryKeywords = 5

// tokenPattern matches word tokens, including simple apostrophe forms.
var tokenPattern = regexp.MustCompile(`\p{L}+(?:'\p{L}+)*`)

// ExtractKeywords returns the most frequent non-stopword tokens across the
// given texts, highest frequency first with ties broken alphabetically so
// the result is deterministic. At most limit keywords are returned.
func ExtractKeywords(texts []string, limit int) []string {
	if limit <= 0 || len(texts) == 0 {
		return nil
	}

	freq := map[string]int{}
	for _, t := range texts {
		for _, tok := range tokenPattern.FindAllString(strings.ToLower(t), -1) {
			if len(tok) < 3 {
				continue
			}
			if _, ok := stopwords[tok]; ok {
				continue
			}
			freq[tok]++
		}
	}
	if len(freq) == 0 {
		return nil
	}

	words := make([]string, 0, len(freq))
	for w := range freq {
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool {
		if freq[words[i]] != freq[words[j]] {
			return freq[words[i]] > freq[words[j]]
		}
		return words[i] < words[j]
	})

	if len(words) > limit {
		words = words[:limit]
	}
	return words
}

// mergeKeywords folds fresh keywords into an existing list, preserving the
// existing order, de-duplicating, and re-capping at maxSummaryKeywords.
// Fresh keywords win over the tail of the old list when the cap is hit.
func mergeKeywords(old, fresh []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, w := range fresh {
		if !seen[w] {
			seen[w] = true
			out = append(out, w)
		}
	}
	for _, w := range old {
		if !seen[w] {
			seen[w] = true
			out = append(out, w)
		}
	}
	if len(out) > maxSummaryKeywords {
		out = out[:maxSummaryKeywords]
	}
	return out
}

// stopwords is the filter list for keyword extraction. Short function words
// only — domain terms always survive.
var stopwords = func() map[string]struct{} {
	words := []string{
		"the", "and", "for", "are", "but", "not", "you", "all", "can", "had",
		"her", "was", "one", "our", "out", "day", "get", "has", "him", "his",
		"how", "man", "new", "now", "old", "see", "two", "way", "who", "did",
		"its", "let", "put", "say", "she", "too", "use", "that", "with",
		"have", "this", "will", "your", "from", "they", "know", "want",
		"been", "good", "much", "some", "time", "very", "when", "come",
		"here", "just", "like", "long", "make", "many", "more", "only",
		"over", "such", "take", "than", "them", "well", "were", "what",
		"about", "would", "there", "their", "which", "could", "should",
		"please", "tell", "does",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}()
