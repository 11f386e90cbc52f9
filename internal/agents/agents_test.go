package agents

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fintelli/internal/adapters/ai"
	"fintelli/internal/agents/schemas"
	"fintelli/internal/domain/post"
	"fintelli/internal/processing"
	"fintelli/internal/vectorindex"
	"fintelli/pkg/errors"
)

// stubCompletion answers every prompt with a fixed reply
type stubCompletion struct {
	reply string
	err   error
	block bool
	calls atomic.Int32

	mu      sync.Mutex
	prompts []string
}

func (s *stubCompletion) Name() ai.ProviderName { return ai.ProviderNameOpenAI }

func (s *stubCompletion) Complete(ctx context.Context, prompt string) (string, error) {
	s.calls.Add(1)
	s.mu.Lock()
	s.prompts = append(s.prompts, prompt)
	s.mu.Unlock()
	if s.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return s.reply, s.err
}

func (s *stubCompletion) lastPrompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.prompts) == 0 {
		return ""
	}
	return s.prompts[len(s.prompts)-1]
}

type stubEvidence struct {
	evidence []vectorindex.Evidence
	err      error
}

func (s stubEvidence) Search(context.Context, string, int) ([]vectorindex.Evidence, error) {
	if s.err != nil {
		return []vectorindex.Evidence{}, s.err
	}
	return s.evidence, nil
}

type stubPosts struct {
	posts  []post.Post
	err    error
	called atomic.Int32
}

func (s *stubPosts) ListProcessed(context.Context, post.Window, int) ([]post.Post, error) {
	s.called.Add(1)
	return s.posts, s.err
}

var base = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

// fixturePosts runs raw text through the processor like the workflow does
func fixturePosts(contents ...string) []post.Post {
	raw := make([]post.Post, len(contents))
	for i, c := range contents {
		raw[i] = post.Post{
			ID:        fmt.Sprintf("p%d", i),
			Source:    post.SourceTwitter,
			Content:   c,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}
	}
	return processing.NewProcessor().Process(raw).Relevant
}

var marketPosts = []string{
	"MTN mobile money transfer was fast and reliable today, love the new app",
	"Airtel money agent charges are too high, the mobile money fees keep rising",
	"MTN momo loan approved in minutes, great mobile money service",
	"Airtel mobile money network down again, failed transaction and fraud worries",
	"Chipper Cash send money to Kenya was smooth, mobile money wallet works well",
	"Stanbic bank account opening on the mobile banking app was easy",
}

func TestSocialIntelligence_UnparsableOutputFallsBack(t *testing.T) {
	stub := &stubCompletion{reply: "Sorry, I can't analyse that right now."}
	ag := NewSocialIntelligence(Deps{Completion: stub}, time.Minute)
	req := Request{Query: "mobile money", Window: 24 * time.Hour, Posts: fixturePosts(marketPosts...)}

	res := ag.Analyze(context.Background(), req)

	assert.Equal(t, schemas.StatusFallback, res.Status)
	assert.Equal(t, 0.0, res.Confidence)
	require.NotEmpty(t, res.Insights)
	assert.NotEmpty(t, res.Insights[0])
	assert.NoError(t, res.Validate())

	// fallbacks are not cached
	ag.Analyze(context.Background(), req)
	assert.Equal(t, int32(2), stub.calls.Load())
}

func TestSocialIntelligence_ParsesAndCaches(t *testing.T) {
	stub := &stubCompletion{reply: "```json\n" + `{
		"sentiment_analysis": {"overall": "mixed", "score": 0.1, "drivers": ["fees", "speed"]},
		"trending_topics": [{"topic": "Mobile Money"}, "Mobile Lending"],
		"insights": ["Fee complaints cluster around agent cash-out"],
		"health_indicators": {},
		"competitor_mentions": {},
		"confidence": 0.8,
		"extra": "ignored"
	}` + "\n```"}
	ag := NewSocialIntelligence(Deps{Completion: stub}, time.Minute)
	req := Request{Query: "mobile money", Window: 24 * time.Hour, Posts: fixturePosts(marketPosts...)}

	first := ag.Run(context.Background(), req)
	require.Equal(t, schemas.StatusOK, first.Result.Status)
	assert.False(t, first.CacheHit)
	assert.Equal(t, "just computed", first.Freshness)
	assert.InDelta(t, 0.8, first.Result.Confidence, 1e-9)
	assert.Equal(t, "mixed", first.Result.SentimentAnalysis.Overall)
	assert.Equal(t, []string{"fees", "speed"}, first.Result.SentimentAnalysis.Drivers)
	assert.Equal(t, []string{"Mobile Money", "Mobile Lending"}, first.Result.TrendingTopics)
	assert.Equal(t, []string{"Fee complaints cluster around agent cash-out"}, first.Result.Insights)
	total := first.Result.SentimentAnalysis.Positive + first.Result.SentimentAnalysis.Negative + first.Result.SentimentAnalysis.Neutral
	assert.Greater(t, total, 0, "post counts come from the local tally")

	second := ag.Run(context.Background(), req)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Result.Insights, second.Result.Insights)
	assert.Equal(t, int32(1), stub.calls.Load())

	// a different window is a different cache key
	req.Window = 48 * time.Hour
	ag.Run(context.Background(), req)
	assert.Equal(t, int32(2), stub.calls.Load())
}

func TestSocialIntelligence_CachedResultIsNotShared(t *testing.T) {
	stub := &stubCompletion{reply: `{"insights": ["one"], "confidence": 0.5}`}
	ag := NewSocialIntelligence(Deps{Completion: stub}, time.Minute)
	req := Request{Query: "mobile money", Posts: fixturePosts(marketPosts...)}

	first := ag.Analyze(context.Background(), req)
	first.Insights[0] = "mutated"
	first.SentimentAnalysis.Overall = "mutated"

	second := ag.Analyze(context.Background(), req)
	assert.Equal(t, "one", second.Insights[0])
	assert.NotEqual(t, "mutated", second.SentimentAnalysis.Overall)
}

func TestSocialIntelligence_PromptCarriesPostsAndEvidence(t *testing.T) {
	stub := &stubCompletion{reply: `{"insights": ["ok"]}`}
	ev := stubEvidence{evidence: []vectorindex.Evidence{{
		DocID: "old-1", Content: "mobile money fees doubled last year", Source: post.SourceReddit,
		Sentiment: "negative", Similarity: 0.91, Topics: []string{"Mobile Money"},
	}}}
	ag := NewSocialIntelligence(Deps{Completion: stub, Evidence: ev, Region: "Uganda"}, time.Minute)

	res := ag.Analyze(context.Background(), Request{Query: "fees", Posts: fixturePosts(marketPosts...)})
	require.Equal(t, schemas.StatusOK, res.Status)

	prompt := stub.lastPrompt()
	assert.Contains(t, prompt, `"fees"`)
	assert.Contains(t, prompt, "Uganda")
	assert.Contains(t, prompt, "mobile money fees doubled last year")
	assert.Contains(t, prompt, "agent charges are too high")
	assert.NotContains(t, prompt, "Chipper Cash send money", "posts not matching the query are filtered out")
}

func TestSocialIntelligence_EvidenceFailureIsNotAnError(t *testing.T) {
	stub := &stubCompletion{reply: `{"insights": ["ok"]}`}
	ag := NewSocialIntelligence(Deps{Completion: stub, Evidence: stubEvidence{err: fmt.Errorf("index down")}}, time.Minute)

	res := ag.Analyze(context.Background(), Request{Query: "mobile money", Posts: fixturePosts(marketPosts...)})
	assert.Equal(t, schemas.StatusOK, res.Status)
	assert.NotContains(t, stub.lastPrompt(), "Related earlier posts")
}

func TestMarketSentiment_PopulatesHealthIndicators(t *testing.T) {
	stub := &stubCompletion{reply: `{
		"sentiment_analysis": "positive",
		"insights": ["Mobile money adoption keeps growing"],
		"confidence": 0.7
	}`}
	ag := NewMarketSentiment(Deps{Completion: stub}, time.Minute)

	res := ag.Analyze(context.Background(), Request{Hours: 24, Posts: fixturePosts(marketPosts...)})
	require.Equal(t, schemas.StatusOK, res.Status)

	h := res.HealthIndicators
	require.NotNil(t, h)
	assert.Contains(t, []string{"strong", "stable", "caution", "weak"}, h.MarketHealth)
	assert.Greater(t, h.HealthScore, 0.0)
	assert.Greater(t, h.OpportunityScore, 0.0)
	assert.Contains(t, []string{"low", "medium", "high"}, h.RiskLevel)
	assert.NotEmpty(t, h.RiskFactors, "fees, fraud and outages are mentioned")
	assert.Equal(t, "positive", res.SentimentAnalysis.Overall)
	assert.Contains(t, stub.lastPrompt(), "Segments by momentum")
}

func TestMarketSentiment_ModelHealthWins(t *testing.T) {
	stub := &stubCompletion{reply: `{
		"health_indicators": {"market_health": "strong", "health_score": 8, "risk_level": "low"},
		"confidence": 0.9
	}`}
	ag := NewMarketSentiment(Deps{Completion: stub}, time.Minute)

	res := ag.Analyze(context.Background(), Request{Hours: 24, Posts: fixturePosts(marketPosts...)})
	require.Equal(t, schemas.StatusOK, res.Status)
	assert.Equal(t, "strong", res.HealthIndicators.MarketHealth)
	assert.InDelta(t, 0.8, res.HealthIndicators.HealthScore, 1e-9)
	assert.Equal(t, "low", res.HealthIndicators.RiskLevel)
	assert.Greater(t, res.HealthIndicators.OpportunityScore, 0.0, "missing fields come from the local computation")
	assert.NotEmpty(t, res.Insights, "local insights fill in when the model gives none")
}

func TestMarketSentiment_FallbackStillHasHealth(t *testing.T) {
	stub := &stubCompletion{err: errors.Wrap(errors.ErrTimeout, "upstream")}
	ag := NewMarketSentiment(Deps{Completion: stub}, time.Minute)

	res := ag.Analyze(context.Background(), Request{Hours: 24, Posts: fixturePosts(marketPosts...)})
	assert.Equal(t, schemas.StatusFallback, res.Status)
	assert.Equal(t, 0.0, res.Confidence)
	assert.NotEqual(t, "unknown", res.HealthIndicators.MarketHealth)
	assert.NoError(t, res.Validate())
}

func TestCompetitorAnalysis_PopulatesMentions(t *testing.T) {
	stub := &stubCompletion{reply: `{
		"competitor_mentions": [
			{"name": "mtn momo", "sentiment": "positive", "sentiment_score": 0.6, "summary": "Praised for speed"},
			{"name": "Unknown Bank", "sentiment": "negative"}
		],
		"insights": ["MTN dominates conversation"],
		"confidence": 0.75
	}`}
	competitors := []string{"MTN MoMo", "Airtel Money", "Chipper Cash", "FlexPay"}
	ag := NewCompetitorAnalysis(Deps{Completion: stub}, time.Minute, competitors)

	res := ag.Analyze(context.Background(), Request{Posts: fixturePosts(marketPosts...)})
	require.Equal(t, schemas.StatusOK, res.Status)

	mtn, ok := res.CompetitorMentions["MTN MoMo"]
	require.True(t, ok)
	assert.Equal(t, 2, mtn.Count)
	assert.Equal(t, "positive", mtn.Sentiment)
	assert.Equal(t, "Praised for speed", mtn.Summary)

	airtel := res.CompetitorMentions["Airtel Money"]
	assert.Equal(t, 2, airtel.Count)
	assert.Equal(t, "negative", airtel.Sentiment)

	assert.NotContains(t, res.CompetitorMentions, "Unknown Bank")
	assert.NotContains(t, res.CompetitorMentions, "FlexPay", "competitors without mentions are omitted")

	sov := 0.0
	for _, m := range res.CompetitorMentions {
		assert.Greater(t, m.Count, 0)
		sov += m.ShareOfVoice
	}
	assert.InDelta(t, 1.0, sov, 1e-9)
}

func TestCompetitorAnalysis_FallbackKeepsMentionCounts(t *testing.T) {
	stub := &stubCompletion{reply: "not json"}
	ag := NewCompetitorAnalysis(Deps{Completion: stub}, time.Minute, []string{"MTN MoMo", "Airtel Money"})

	res := ag.Analyze(context.Background(), Request{Posts: fixturePosts(marketPosts...)})
	assert.Equal(t, schemas.StatusFallback, res.Status)
	require.Contains(t, res.CompetitorMentions, "MTN MoMo")
	assert.Equal(t, "Mention of MTN MoMo detected", res.CompetitorMentions["MTN MoMo"].Summary)
	assert.Greater(t, res.CompetitorMentions["MTN MoMo"].Count, 0)
}

func TestCompetitorAnalysis_InputIgnoresOrder(t *testing.T) {
	c := &competitorAnalysis{}
	a := c.input(Request{Competitors: []string{"Airtel Money", "MTN MoMo", "Airtel Money"}})
	b := c.input(Request{Competitors: []string{"MTN MoMo", " Airtel Money "}})
	assert.Equal(t, a, b)
}

func TestAgent_DeadlineYieldsFailedResult(t *testing.T) {
	stub := &stubCompletion{block: true}
	ag := NewSocialIntelligence(Deps{Completion: stub}, time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	res := ag.Analyze(ctx, Request{Query: "mobile money", Posts: fixturePosts(marketPosts...)})
	assert.Equal(t, schemas.StatusFailed, res.Status)
	assert.Equal(t, 0.0, res.Confidence)
	assert.NoError(t, res.Validate())
}

func TestAgent_LoadsPostsWhenNoneGiven(t *testing.T) {
	stub := &stubCompletion{reply: `{"insights": ["loaded"]}`}
	lister := &stubPosts{posts: fixturePosts(marketPosts...)}
	ag := NewSocialIntelligence(Deps{Completion: stub, Posts: lister}, time.Minute)

	res := ag.Analyze(context.Background(), Request{Query: "mobile money", Window: 6 * time.Hour})
	assert.Equal(t, schemas.StatusOK, res.Status)
	assert.Equal(t, int32(1), lister.called.Load())
	assert.Contains(t, stub.lastPrompt(), "last 6 hours")
}

func TestAgent_PostLoadFailureFallsBack(t *testing.T) {
	stub := &stubCompletion{reply: `{"insights": ["x"]}`}
	lister := &stubPosts{err: errors.NewConnectivityError("postgres", "list", fmt.Errorf("refused"))}
	ag := NewMarketSentiment(Deps{Completion: stub, Posts: lister}, time.Minute)

	res := ag.Analyze(context.Background(), Request{Hours: 24})
	assert.Equal(t, schemas.StatusFallback, res.Status)
	assert.NotEmpty(t, res.Insights)
	assert.Equal(t, int32(0), stub.calls.Load())
}

func TestAgent_ConcurrentCallsShareOneCompletion(t *testing.T) {
	stub := &stubCompletion{reply: `{"insights": ["shared"], "confidence": 0.6}`}
	ag := NewCompetitorAnalysis(Deps{Completion: stub}, time.Minute, []string{"MTN MoMo"})
	req := Request{Posts: fixturePosts(marketPosts...)}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := ag.Analyze(context.Background(), req)
			assert.Equal(t, schemas.StatusOK, res.Status)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), stub.calls.Load())
}

func TestCacheKey(t *testing.T) {
	k1 := CacheKey(schemas.AgentSocialIntelligence, "mobile money", time.Hour)
	assert.Equal(t, k1, CacheKey(schemas.AgentSocialIntelligence, "mobile money", time.Hour))
	assert.NotEqual(t, k1, CacheKey(schemas.AgentSocialIntelligence, "mobile money", 2*time.Hour))
	assert.NotEqual(t, k1, CacheKey(schemas.AgentSocialIntelligence, "loans", time.Hour))
	assert.NotEqual(t, k1, CacheKey(schemas.AgentMarketSentiment, "mobile money", time.Hour))
	assert.True(t, strings.HasPrefix(k1, schemas.AgentSocialIntelligence+":"))
}

func TestRegistry(t *testing.T) {
	stub := &stubCompletion{reply: `{"insights": ["ok"]}`}
	deps := Deps{Completion: stub}
	reg := NewRegistry(
		NewCompetitorAnalysis(deps, time.Minute, []string{"MTN MoMo"}),
		NewSocialIntelligence(deps, time.Minute),
		NewMarketSentiment(deps, time.Minute),
	)

	assert.Equal(t, schemas.AgentNames, reg.List())

	out, err := reg.Analyze(context.Background(), schemas.AgentSocialIntelligence, Request{Query: "momo", Posts: fixturePosts(marketPosts...)})
	require.NoError(t, err)
	assert.Equal(t, schemas.AgentSocialIntelligence, out.Result.AgentName)

	_, err = reg.Analyze(context.Background(), "unknownAgent", Request{})
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestRegistry_PurgeDropsExpiredResults(t *testing.T) {
	stub := &stubCompletion{reply: `{"insights": ["ok"], "confidence": 0.6}`}
	reg := NewRegistry(NewSocialIntelligence(Deps{Completion: stub}, time.Millisecond))

	reg.Analyze(context.Background(), schemas.AgentSocialIntelligence, Request{Query: "momo", Posts: fixturePosts(marketPosts...)})
	time.Sleep(5 * time.Millisecond)

	assert.Equal(t, 1, reg.Len())
	assert.Equal(t, 1, reg.Purge())
	assert.Equal(t, 0, reg.Purge())
	assert.Equal(t, 0, reg.Len())
}

func TestWindowHours(t *testing.T) {
	assert.Equal(t, 0, WindowHours(0))
	assert.Equal(t, 1, WindowHours(30*time.Minute))
	assert.Equal(t, 1, WindowHours(time.Hour))
	assert.Equal(t, 2, WindowHours(90*time.Minute))
	assert.Equal(t, 24, WindowHours(24*time.Hour))
}

func TestMarketSentiment_SubHourWindowKeepsLatestHour(t *testing.T) {
	posts := []post.Post{
		{ID: "recent", Content: "mobile money", Timestamp: base},
		{ID: "old", Content: "mobile money", Timestamp: base.Add(-3 * time.Hour)},
	}
	m := &marketSentiment{}
	req := Request{Window: 30 * time.Minute}
	req.Hours = windowHours(req)

	selected := m.selectPosts(posts, req)
	require.Len(t, selected, 1)
	assert.Equal(t, "recent", selected[0].ID)
	assert.Equal(t, "1", m.input(req))
}

func TestMarketSentiment_ModelOpportunitiesWin(t *testing.T) {
	stub := &stubCompletion{reply: `{
		"health_indicators": {
			"market_health": "stable",
			"investment_opportunities": [
				{"segment": "payments", "opportunity": "QR payments for market vendors", "evidence": "vendors ask for cashless options", "confidence": 0.7}
			]
		},
		"confidence": 0.8
	}`}
	ag := NewMarketSentiment(Deps{Completion: stub}, time.Minute)

	res := ag.Analyze(context.Background(), Request{Hours: 24, Posts: fixturePosts(marketPosts...)})
	require.Equal(t, schemas.StatusOK, res.Status)
	require.Len(t, res.HealthIndicators.Opportunities, 1)
	assert.Equal(t, "QR payments for market vendors", res.HealthIndicators.Opportunities[0].Opportunity)
	assert.Contains(t, stub.lastPrompt(), "investment_opportunities")
}

func TestMarketSentiment_LocalOpportunitiesFillIn(t *testing.T) {
	stub := &stubCompletion{reply: `{"health_indicators": {"market_health": "stable"}, "confidence": 0.8}`}
	ag := NewMarketSentiment(Deps{Completion: stub}, time.Minute)

	res := ag.Analyze(context.Background(), Request{Hours: 24, Posts: fixturePosts(marketPosts...)})
	require.Equal(t, schemas.StatusOK, res.Status)

	opps := res.HealthIndicators.Opportunities
	require.NotEmpty(t, opps)
	assert.LessOrEqual(t, len(opps), maxOpportunities)

	var lending *schemas.InvestmentOpportunity
	for i := range opps {
		assert.NotEmpty(t, opps[i].Evidence)
		assert.GreaterOrEqual(t, opps[i].Confidence, 0.0)
		assert.LessOrEqual(t, opps[i].Confidence, 1.0)
		if opps[i].Segment == "lending" {
			lending = &opps[i]
		}
	}
	require.NotNil(t, lending, "the well received loan post makes lending an opportunity")
	assert.Equal(t, "Digital micro-loans for small businesses", lending.Opportunity)
	assert.InDelta(t, 0.67, lending.Confidence, 0.02)
}

func TestDetectOpportunities_SkipsWeakSegments(t *testing.T) {
	got := detectOpportunities([]processing.SegmentTrend{
		{Segment: "mobile_money", Mentions: 8, MentionFrequency: 0.8, SentimentScore: 0.3, Direction: "declining"},
		{Segment: "savings", Mentions: 4, MentionFrequency: 0.4, SentimentScore: 0.45, Direction: "stable"},
		{Segment: "cross_border", Mentions: 3, MentionFrequency: 0.3, SentimentScore: 0.9, Direction: "rising"},
		{Segment: "unlisted", Mentions: 3, MentionFrequency: 0.3, SentimentScore: 0.9, Direction: "rising"},
	})
	require.Len(t, got, 1)
	assert.Equal(t, "cross_border", got[0].Segment)
	assert.Equal(t, "Cross-border payment and remittance solutions", got[0].Opportunity)
	assert.InDelta(t, 0.66, got[0].Confidence, 1e-9)
	assert.Equal(t, "3 posts (30%) discuss cross_border, sentiment 90%, rising", got[0].Evidence)
}
