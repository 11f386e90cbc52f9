package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"google.golang.org/genai"

	"fintelli/internal/adapters/ai"
	"fintelli/internal/agents/schemas"
	"fintelli/internal/metrics"
	"fintelli/pkg/errors"
	"fintelli/pkg/logger"
	"fintelli/pkg/templates"
)

const (
	briefingTemplate = "coordinator/daily_briefing"

	// DefaultBriefingConfidence applies when the model omits a confidence
	DefaultBriefingConfidence = 0.8
	// FallbackBriefingConfidence marks briefings built from the fixed template
	FallbackBriefingConfidence = 0.7

	maxKeyTakeaways = 5
)

// BriefingSection is one titled block of a daily briefing
type BriefingSection struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Briefing is the stakeholder summary written after a report is compiled
type Briefing struct {
	RunID            string            `json:"run_id"`
	Title            string            `json:"title"`
	ExecutiveSummary string            `json:"executive_summary"`
	Sections         []BriefingSection `json:"sections"`
	KeyTakeaways     []string          `json:"key_takeaways"`
	Confidence       float64           `json:"confidence"`
	Generated        bool              `json:"generated"` // false for the fixed template
	GeneratedAt      time.Time         `json:"generated_at"`
}

// BriefingSchema is the Gemini response schema for daily briefings
var BriefingSchema = &genai.Schema{
	Type: "OBJECT",
	Properties: map[string]*genai.Schema{
		"title":             {Type: "STRING"},
		"executive_summary": {Type: "STRING"},
		"sections": {
			Type: "ARRAY",
			Items: &genai.Schema{
				Type: "OBJECT",
				Properties: map[string]*genai.Schema{
					"title":   {Type: "STRING"},
					"content": {Type: "STRING"},
				},
				Required: []string{"title", "content"},
			},
		},
		"key_takeaways": {
			Type:  "ARRAY",
			Items: &genai.Schema{Type: "STRING"},
		},
		"confidence": {Type: "NUMBER"},
	},
	Required: []string{"title", "executive_summary", "sections", "key_takeaways"},
}

type briefingData struct {
	Region string
	Date   string
	Report schemas.CompiledReport
	Failed []string
}

// Briefer turns compiled reports into daily briefings
type Briefer struct {
	completion ai.CompletionService
	templates  *templates.Registry
	region     string
	timeout    time.Duration
	log        *logger.Logger
}

// NewBriefer creates a briefer. completion may be nil, in which case every
// briefing comes from the fixed template.
func NewBriefer(completion ai.CompletionService, region string, timeout time.Duration) *Briefer {
	if region == "" {
		region = "Uganda"
	}
	return &Briefer{
		completion: completion,
		templates:  templates.Get(),
		region:     region,
		timeout:    timeout,
		log:        logger.Get().With("component", "briefer"),
	}
}

// Brief summarises report for stakeholders. It never fails: an unusable
// completion yields the fixed-template briefing.
func (b *Briefer) Brief(ctx context.Context, report schemas.CompiledReport) Briefing {
	at := report.GeneratedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}

	out, err := b.generate(ctx, report, at)
	if err != nil {
		b.log.Warnw("Daily briefing fell back to template", "run_id", report.RunID, "error", err)
		metrics.RecordBriefing(false)
		out = b.fallback(report, at)
	} else {
		metrics.RecordBriefing(true)
	}
	out.RunID = report.RunID
	out.GeneratedAt = at
	return out
}

func (b *Briefer) generate(ctx context.Context, report schemas.CompiledReport, at time.Time) (Briefing, error) {
	if b.completion == nil {
		return Briefing{}, errors.Wrap(errors.ErrUnavailable, "no completion service")
	}

	prompt, err := b.templates.Render(briefingTemplate, briefingData{
		Region: b.region,
		Date:   at.Format("2006-01-02"),
		Report: report,
		Failed: report.FailedAgents(),
	})
	if err != nil {
		return Briefing{}, err
	}

	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}
	text, err := b.completion.Complete(ctx, prompt)
	if err != nil {
		return Briefing{}, errors.Wrap(err, "completion")
	}

	out, err := ParseBriefing(text)
	if err != nil {
		b.log.Debugw("Unparsable briefing", "output", templates.Truncate(200, text))
		return Briefing{}, err
	}
	out.Generated = true
	return out, nil
}

// ParseBriefing reads a briefing from model output. It fails with
// ErrUnparsable when there is no JSON object or it has neither a title nor
// an executive summary.
func ParseBriefing(text string) (Briefing, error) {
	body, ok := schemas.ExtractJSON(text)
	if !ok {
		return Briefing{}, errors.Wrap(errors.ErrUnparsable, "no JSON object in briefing")
	}

	var raw struct {
		Title            string            `json:"title"`
		ExecutiveSummary string            `json:"executive_summary"`
		Sections         []BriefingSection `json:"sections"`
		KeyTakeaways     []string          `json:"key_takeaways"`
		Confidence       *float64          `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return Briefing{}, errors.Wrapf(errors.ErrUnparsable, "decode briefing: %v", err)
	}

	out := Briefing{
		Title:            strings.TrimSpace(raw.Title),
		ExecutiveSummary: strings.TrimSpace(raw.ExecutiveSummary),
		Sections:         []BriefingSection{},
		KeyTakeaways:     []string{},
		Confidence:       DefaultBriefingConfidence,
	}
	if out.Title == "" && out.ExecutiveSummary == "" {
		return Briefing{}, errors.Wrap(errors.ErrUnparsable, "briefing has no title or summary")
	}

	for _, s := range raw.Sections {
		s.Title, s.Content = strings.TrimSpace(s.Title), strings.TrimSpace(s.Content)
		if s.Content != "" {
			out.Sections = append(out.Sections, s)
		}
	}
	for _, k := range raw.KeyTakeaways {
		if k = strings.TrimSpace(k); k != "" && len(out.KeyTakeaways) < maxKeyTakeaways {
			out.KeyTakeaways = append(out.KeyTakeaways, k)
		}
	}
	if raw.Confidence != nil {
		c := *raw.Confidence
		if c > 1 && c <= 100 {
			c /= 100
		}
		out.Confidence = math.Max(0, math.Min(1, c))
	}
	return out, nil
}

// fallback fills the fixed briefing template from the report's numbers
func (b *Briefer) fallback(report schemas.CompiledReport, at time.Time) Briefing {
	risk := report.RiskLevel
	if risk == "" {
		risk = "unknown"
	}

	developments := make([]string, 0, 3)
	for _, h := range report.Highlights {
		if len(developments) == 3 {
			break
		}
		if !h.Notice {
			developments = append(developments, h.Text)
		}
	}
	if len(developments) == 0 {
		developments = append(developments, "Mobile money remains the dominant channel for digital payments")
	}

	opps := make([]string, 0, 3)
	for _, o := range report.Opportunities {
		if len(opps) == 3 {
			break
		}
		opps = append(opps, o.Opportunity)
	}
	if len(opps) == 0 {
		opps = []string{
			"Rural financial inclusion initiatives",
			"Cross-border payment solutions",
			"Digital lending for small businesses",
		}
	}

	takeaways := []string{
		fmt.Sprintf("Market health score: %.1f/10", report.OverallHealth),
		fmt.Sprintf("Opportunity score: %.1f/10", report.OpportunityScore),
		fmt.Sprintf("Risk level: %s", risk),
	}
	if failed := report.FailedAgents(); len(failed) > 0 {
		takeaways = append(takeaways, "Unavailable this run: "+strings.Join(failed, ", "))
	}

	return Briefing{
		Title: fmt.Sprintf("%s Fintech Daily Briefing - %s", b.region, at.Format("2006-01-02")),
		ExecutiveSummary: fmt.Sprintf(
			"The %s fintech market scores %.1f/10 for health with %s risk. Mobile money adoption continues while digital lending and cross-border payments draw attention.",
			b.region, report.OverallHealth, risk),
		Sections: []BriefingSection{
			{
				Title: "Market Overview",
				Content: fmt.Sprintf("Market health %.1f/10, opportunity %.1f/10, risk %s, confidence %.0f%%.",
					report.OverallHealth, report.OpportunityScore, risk, report.Confidence*100),
			},
			{Title: "Key Developments", Content: strings.Join(developments, "; ")},
			{Title: "Investment Opportunities", Content: strings.Join(opps, "; ")},
		},
		KeyTakeaways: takeaways,
		Confidence:   FallbackBriefingConfidence,
	}
}
