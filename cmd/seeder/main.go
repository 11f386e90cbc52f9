package main

import (
	"context"
	"flag"

	devseeds "fintelli/cmd/seeder/seeds/dev"
	testseeds "fintelli/cmd/seeder/seeds/test"
	"fintelli/internal/adapters/config"
	pgclient "fintelli/internal/adapters/postgres"
	pgrepo "fintelli/internal/repository/postgres"
	"fintelli/internal/testsupport/seeds"
	"fintelli/pkg/logger"
)

func main() {
	env := flag.String("env", "dev", "Environment: dev, test")
	dryRun := flag.Bool("dry-run", false, "List seed functions without executing")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	if err := logger.Init(cfg.App.LogLevel, cfg.App.Env); err != nil {
		panic("failed to init logger: " + err.Error())
	}
	defer logger.Sync()

	log := logger.Get()

	log.Infow("Starting seeder",
		"environment", *env,
		"dry_run", *dryRun,
		"database", cfg.Postgres.Database,
	)

	seedFuncs := getSeedFunctions(*env)
	if len(seedFuncs) == 0 {
		log.Warnw("No seeds available for environment", "environment", *env)
		return
	}

	log.Infow("Found seed functions", "environment", *env, "count", len(seedFuncs))

	if *dryRun {
		log.Info("Dry-run mode: seed functions validated")
		return
	}

	ctx := context.Background()

	pg, err := pgclient.NewClient(ctx, cfg.Postgres)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pg.Close()

	if err := pg.EnsureVectorExtension(ctx); err != nil {
		log.Fatalf("Failed to enable pgvector: %v", err)
	}
	if err := pgrepo.EnsureSchema(ctx, pg.DB(), cfg.Embeddings.Dimensions); err != nil {
		log.Fatalf("Failed to ensure schema: %v", err)
	}

	seeder := seeds.New(pgrepo.NewPostRepository(pg.DB()))

	for i, seedFunc := range seedFuncs {
		log.Infow("Executing seed", "step", i+1, "total", len(seedFuncs))

		if err := seedFunc(ctx, seeder); err != nil {
			log.Errorw("Failed to execute seed",
				"step", i+1,
				"error", err,
			)
			return
		}

		log.Infow("Seed completed", "step", i+1)
	}

	log.Info("All seeds applied successfully")
}

// getSeedFunctions returns seed functions for the given environment
func getSeedFunctions(env string) []func(context.Context, *seeds.Seeder) error {
	switch env {
	case "dev":
		return []func(context.Context, *seeds.Seeder) error{
			devseeds.SeedPosts,
		}
	case "test":
		return []func(context.Context, *seeds.Seeder) error{
			testseeds.SeedPosts,
		}
	default:
		return nil
	}
}
