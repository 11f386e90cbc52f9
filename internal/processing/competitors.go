package processing

import (
	"sort"
	"strings"

	"fintelli/internal/domain/post"
)

// competitorAliases lists the lowercase spellings users actually write
var competitorAliases = map[string][]string{
	"MTN MoMo":       {"mtn", "momo"},
	"Airtel Money":   {"airtel"},
	"Chipper Cash":   {"chipper"},
	"Stanbic Bank":   {"stanbic"},
	"Centenary Bank": {"centenary", "centebank"},
	"Equity Bank":    {"equity bank", "equity"},
	"DFCU Bank":      {"dfcu"},
	"Absa Bank":      {"absa"},
	"Ecobank":        {"ecobank"},
	"FlexPay":        {"flexpay"},
}

// Aliases returns the spellings matched for a competitor. Unknown
// competitors match on their lowercased name.
func Aliases(competitor string) []string {
	if a, ok := competitorAliases[competitor]; ok {
		return a
	}
	return []string{strings.ToLower(competitor)}
}

// Mentions reports whether text names the competitor by any alias
func Mentions(text, competitor string) bool {
	lower := strings.ToLower(text)
	for _, alias := range Aliases(competitor) {
		if containsTerm(lower, alias) {
			return true
		}
	}
	return false
}

// CompetitorStats is the local mention tally for one competitor
type CompetitorStats struct {
	Name         string
	Count        int
	ShareOfVoice float64
	Sentiment    Distribution
}

// CountCompetitorMentions tallies mentions and sentiment per competitor. Share of
// voice is each competitor's share of all competitor mentions in posts.
func CountCompetitorMentions(posts []post.Post, competitors []string) []CompetitorStats {
	stats := make([]CompetitorStats, len(competitors))
	total := 0
	for i, name := range competitors {
		stats[i].Name = name
		var mentioning []post.Post
		for _, p := range posts {
			if Mentions(p.Content, name) {
				mentioning = append(mentioning, p)
			}
		}
		stats[i].Count = len(mentioning)
		stats[i].Sentiment = SentimentDistribution(mentioning)
		total += len(mentioning)
	}

	if total > 0 {
		for i := range stats {
			stats[i].ShareOfVoice = float64(stats[i].Count) / float64(total)
		}
	}

	sort.SliceStable(stats, func(i, j int) bool { return stats[i].Count > stats[j].Count })
	return stats
}
