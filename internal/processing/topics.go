package processing

import (
	"sort"
	"strings"
)

// Topic names tracked across the market
const (
	TopicMobileMoney     = "Mobile Money"
	TopicDigitalBanking  = "Digital Banking"
	TopicMobileLending   = "Mobile Lending"
	TopicSavings         = "Savings & Investment"
	TopicCrossBorder     = "Cross-border Payments"
	TopicInsuranceTech   = "Insurance Technology"
	TopicRegulations     = "Regulations"
	maxTopicsPerPost     = 3
	topicMatchSaturation = 3.0
)

// FintechTopics maps each topic to the keywords that signal it
var FintechTopics = map[string][]string{
	TopicMobileMoney:    {"mtn", "airtel money", "mobile money", "momo", "send money", "cash out"},
	TopicDigitalBanking: {"bank", "account", "digital banking", "online banking", "agent banking"},
	TopicMobileLending:  {"loan", "okash", "branch", "credit", "borrow", "lending"},
	TopicSavings:        {"save", "investment", "interest", "savings", "invest"},
	TopicCrossBorder:    {"remittance", "diaspora", "international", "send abroad", "worldremit"},
	TopicInsuranceTech:  {"insurance", "insure", "premium", "claim", "health insurance"},
	TopicRegulations:    {"regulation", "bank of uganda", "compliance", "license", "policy", "tax", "levy"},
}

// TopicMatch is a detected topic with its keyword confidence
type TopicMatch struct {
	Topic      string
	Confidence float64
}

// ExtractTopics returns up to three topics ordered by confidence, then name
func ExtractTopics(text string) []TopicMatch {
	lower := strings.ToLower(text)

	var matches []TopicMatch
	for topic, keywords := range FintechTopics {
		hits := 0
		for _, kw := range keywords {
			if containsTerm(lower, kw) {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		conf := float64(hits) / topicMatchSaturation
		if conf > 1 {
			conf = 1
		}
		matches = append(matches, TopicMatch{Topic: topic, Confidence: conf})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Confidence != matches[j].Confidence {
			return matches[i].Confidence > matches[j].Confidence
		}
		return matches[i].Topic < matches[j].Topic
	})

	if len(matches) > maxTopicsPerPost {
		matches = matches[:maxTopicsPerPost]
	}
	return matches
}

// TopicNames projects matches to their names
func TopicNames(matches []TopicMatch) []string {
	names := make([]string, len(matches))
	for i, m := range matches {
		names[i] = m.Topic
	}
	return names
}
