package dev

import (
	"context"
	"time"

	"fintelli/internal/domain/post"
	"fintelli/internal/testsupport/seeds"
)

type devPost struct {
	id      string
	source  string
	author  string
	ago     time.Duration
	content string
}

// mentions of the major providers across platforms, spread over the last
// day so the default window covers them
var devPosts = []devPost{
	{"dev-tw-001", post.SourceTwitter, "kampala_trader", 1 * time.Hour,
		"MTN MoMo transaction fees went up again this week. Sending 50k now costs almost 1,500. This is getting expensive for small traders #MobileMoney"},
	{"dev-tw-002", post.SourceTwitter, "gulu_farmer", 2 * time.Hour,
		"Airtel Money has been reliable for me in Gulu. Withdrawals at the agent were instant today. Great service"},
	{"dev-tw-003", post.SourceTwitter, "jinja_boda", 3 * time.Hour,
		"MoMo app keeps failing when I try to pay for yaka. Third time this week the network is down. Very frustrating"},
	{"dev-rd-001", post.SourceReddit, "u/entebbe_dev", 4 * time.Hour,
		"Comparing MTN MoMo and Airtel Money for my small shop. Airtel is cheaper for transfers under 30k but MoMo agents are everywhere"},
	{"dev-rd-002", post.SourceReddit, "u/mbarara_saver", 5 * time.Hour,
		"Has anyone tried Chipper Cash for sending money from Kenya to Uganda? Rates look better than the banks and it was fast"},
	{"dev-fb-001", post.SourceFacebook, "Nakato Grace", 6 * time.Hour,
		"Scam alert! Someone called pretending to be MTN customer care asking for my MoMo PIN. Please never share your PIN"},
	{"dev-fb-002", post.SourceFacebook, "Okello James", 8 * time.Hour,
		"Stanbic FlexiPay made paying school fees so easy this term. No more queues at the bank"},
	{"dev-nw-001", post.SourceNews, "Daily Monitor", 10 * time.Hour,
		"Bank of Uganda reports mobile money transactions crossed UGX 15 trillion last quarter as adoption grows in rural districts"},
	{"dev-nw-002", post.SourceNews, "New Vision", 12 * time.Hour,
		"Government mobile money tax debate returns as operators warn that higher levies will push users back to cash"},
	{"dev-tw-004", post.SourceTwitter, "lira_mama", 14 * time.Hour,
		"Airtel Money reversed my wrong transaction within an hour. Customer care was helpful and quick. Thank you"},
	{"dev-tw-005", post.SourceTwitter, "mukono_student", 16 * time.Hour,
		"MoMo loans interest is too high. Borrowed 100k and paying back way more. Be careful with these mobile loans"},
	{"dev-rd-003", post.SourceReddit, "u/kla_fintech", 18 * time.Hour,
		"Why is there still no easy way to pay merchants with QR in Kampala? MTN MoMoPay works but fees for merchants are a problem"},
	{"dev-fb-003", post.SourceFacebook, "Namuli Sarah", 20 * time.Hour,
		"Airtel Money network was down the whole evening, could not send money to my mother in the village. Very bad service"},
	{"dev-tw-006", post.SourceTwitter, "fortportal_biz", 22 * time.Hour,
		"Chipper Cash and Wave are making cross border payments cheaper. Competition is good for Ugandans"},
}

// SeedPosts creates a day of raw fintech posts for development
func SeedPosts(ctx context.Context, s *seeds.Seeder) error {
	s = s.WithContext(ctx)
	for _, p := range devPosts {
		_, err := s.Post().
			WithID(p.id).
			WithSource(p.source).
			WithAuthor(p.author).
			WithContent(p.content).
			WithURL("https://example.ug/" + p.id).
			PostedAgo(p.ago).
			Insert()
		if err != nil {
			return err
		}
	}

	s.Log().Infow("Seeded posts", "count", len(devPosts))
	return nil
}
