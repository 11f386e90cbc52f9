package test

import (
	"context"
	"time"

	"fintelli/internal/domain/post"
	"fintelli/internal/testsupport/seeds"
)

// SeedPosts creates a minimal deterministic set of posts for integration tests
func SeedPosts(ctx context.Context, s *seeds.Seeder) error {
	s = s.WithContext(ctx)

	if _, err := s.Post().
		WithID("test-positive").
		WithSource(post.SourceTwitter).
		WithContent("Airtel Money withdrawals were fast and reliable today").
		PostedAgo(time.Hour).
		Insert(); err != nil {
		return err
	}

	if _, err := s.Post().
		WithID("test-negative").
		WithSource(post.SourceReddit).
		WithContent("MTN MoMo fees are too high and the app keeps failing").
		PostedAgo(2 * time.Hour).
		Insert(); err != nil {
		return err
	}

	_, err := s.Post().
		WithID("test-news").
		WithSource(post.SourceNews).
		WithContent("Bank of Uganda publishes new mobile money interoperability guidelines").
		PostedAgo(3 * time.Hour).
		Insert()
	return err
}
