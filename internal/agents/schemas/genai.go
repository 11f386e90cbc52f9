package schemas

import "google.golang.org/genai"

func float64Ptr(v float64) *float64 {
	return &v
}

var sentimentSchema = &genai.Schema{
	Type: "OBJECT",
	Properties: map[string]*genai.Schema{
		"overall": {
			Type: "STRING",
			Enum: []string{"positive", "negative", "neutral", "mixed"},
		},
		"score": {
			Type:        "NUMBER",
			Description: "Overall sentiment from -1 (negative) to 1 (positive)",
			Minimum:     float64Ptr(-1),
			Maximum:     float64Ptr(1),
		},
		"drivers": {
			Type:        "ARRAY",
			Description: "What is pushing sentiment up or down",
			Items:       &genai.Schema{Type: "STRING"},
		},
	},
	Required: []string{"overall", "score", "drivers"},
}

var healthSchema = &genai.Schema{
	Type: "OBJECT",
	Properties: map[string]*genai.Schema{
		"market_health": {
			Type: "STRING",
			Enum: []string{"strong", "stable", "caution", "weak"},
		},
		"health_score": {
			Type:    "NUMBER",
			Minimum: float64Ptr(0),
			Maximum: float64Ptr(1),
		},
		"opportunity_score": {
			Type:    "NUMBER",
			Minimum: float64Ptr(0),
			Maximum: float64Ptr(1),
		},
		"risk_level": {
			Type: "STRING",
			Enum: []string{"low", "medium", "high"},
		},
		"growth_segments": {
			Type:  "ARRAY",
			Items: &genai.Schema{Type: "STRING"},
		},
		"investment_opportunities": {
			Type:        "ARRAY",
			Description: "Specific investment openings, best first",
			Items: &genai.Schema{
				Type: "OBJECT",
				Properties: map[string]*genai.Schema{
					"segment":     {Type: "STRING"},
					"opportunity": {Type: "STRING"},
					"evidence":    {Type: "STRING"},
					"confidence": {
						Type:    "NUMBER",
						Minimum: float64Ptr(0),
						Maximum: float64Ptr(1),
					},
				},
				Required: []string{"segment", "opportunity", "confidence"},
			},
		},
	},
}

var competitorSchema = &genai.Schema{
	Type: "ARRAY",
	Items: &genai.Schema{
		Type: "OBJECT",
		Properties: map[string]*genai.Schema{
			"name":      {Type: "STRING"},
			"count":     {Type: "INTEGER"},
			"sentiment": {Type: "STRING", Enum: []string{"positive", "negative", "neutral"}},
			"summary":   {Type: "STRING"},
		},
		Required: []string{"name", "sentiment"},
	},
}

// AgentResultSchema is the structured-output schema handed to Gemini. It
// mirrors what Parse accepts; competitor mentions travel as a list because
// response schemas cannot describe maps with dynamic keys.
var AgentResultSchema = &genai.Schema{
	Type: "OBJECT",
	Properties: map[string]*genai.Schema{
		"sentiment_analysis": sentimentSchema,
		"trending_topics": {
			Type:  "ARRAY",
			Items: &genai.Schema{Type: "STRING"},
		},
		"insights": {
			Type:        "ARRAY",
			Description: "Short, actionable investment insights",
			Items:       &genai.Schema{Type: "STRING"},
		},
		"health_indicators":   healthSchema,
		"competitor_mentions": competitorSchema,
		"confidence": {
			Type:    "NUMBER",
			Minimum: float64Ptr(0),
			Maximum: float64Ptr(1),
		},
	},
	Required: []string{
		"sentiment_analysis", "trending_topics", "insights",
		"health_indicators", "competitor_mentions", "confidence",
	},
}
