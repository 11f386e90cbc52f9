package processing

import (
	"regexp"
	"strings"
)

var (
	urlPattern      = regexp.MustCompile(`https?://\S+`)
	mentionPattern  = regexp.MustCompile(`[@#](\w+)`)
	specialPattern  = regexp.MustCompile(`[^\w\s.,!?;:]`)
	spacePattern    = regexp.MustCompile(`\s+`)
	minRelevantSize = 10
)

// fintechKeywords drive the relevance filter. A post needs two distinct hits.
var fintechKeywords = []string{
	"money", "bank", "loan", "save", "invest", "payment",
	"mobile", "digital", "fintech", "cash", "transfer",
	"mtn", "airtel", "uganda", "ugx",
}

// Clean strips URLs, unwraps @mentions and #hashtags, drops emoji and
// symbols, and collapses whitespace.
func Clean(text string) string {
	if text == "" {
		return ""
	}
	text = urlPattern.ReplaceAllString(text, "")
	text = mentionPattern.ReplaceAllString(text, "$1")
	text = specialPattern.ReplaceAllString(text, "")
	return strings.TrimSpace(spacePattern.ReplaceAllString(text, " "))
}

func keywordHits(text string) int {
	lower := strings.ToLower(text)
	hits := 0
	for _, kw := range fintechKeywords {
		if containsTerm(lower, kw) {
			hits++
		}
	}
	return hits
}

// IsRelevant reports whether cleaned text is about the fintech market
func IsRelevant(cleaned string) bool {
	if len(cleaned) < minRelevantSize {
		return false
	}
	return keywordHits(cleaned) >= 2
}

// RelevanceScore maps keyword hits onto [0,1], saturating at ten hits
func RelevanceScore(cleaned string) float64 {
	hits := keywordHits(cleaned)
	if hits >= 10 {
		return 1
	}
	return float64(hits) / 10
}
