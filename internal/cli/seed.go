package cli

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"sb-quiz-service/internal/config"
	"sb-quiz-service/internal/domain"
	"sb-quiz-service/internal/infra/memory"
	pgstore "sb-quiz-service/internal/infra/postgres"
	rediscache "sb-quiz-service/internal/infra/redis"
	"sb-quiz-service/internal/logging"
)

// NewSeedCmd loads a YAML quiz catalog into Postgres.
func NewSeedCmd(configPath *string) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load a quiz catalog into Postgres",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd.Context(), *configPath, file)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "YAML catalog (defaults to quiz.catalog_file, then the built-in quizzes)")
	return cmd
}

func runSeed(ctx context.Context, configPath, file string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logging.New("quiz-seed", cfg.Log.Level, cfg.Log.Format)
	if cfg.Postgres.URL == "" {
		return fmt.Errorf("postgres url not configured")
	}
	if file == "" {
		file = cfg.Quiz.CatalogFile
	}

	catalog, err := loadCatalog(file)
	if err != nil {
		return err
	}

	db := openBunDB(cfg.Postgres.URL)
	defer db.Close()
	if err := runMigrations(ctx, db, log); err != nil {
		return err
	}

	pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	quizzes := sortedQuizzes(catalog)
	if err := pgstore.NewQuizLoader(pool).UpsertQuizzes(ctx, quizzes); err != nil {
		return err
	}

	if cfg.Redis.Addr != "" {
		client := newRedisClient(cfg)
		defer client.Close()
		cache := rediscache.NewQuizRepository(client, nil, time.Minute)
		for _, q := range quizzes {
			if err := cache.Invalidate(ctx, q.ID); err != nil {
				log.WithError(err).WithField("quiz_id", q.ID).Warn("invalidate cached quiz")
			}
		}
	}

	log.WithField("quizzes", len(quizzes)).Info("quiz catalog seeded")
	return nil
}

// loadCatalog reads path, or the catalog built into the binary when path is empty.
func loadCatalog(path string) (map[string]domain.Quiz, error) {
	if path == "" {
		return memory.SampleQuizzes(), nil
	}
	catalog, err := memory.LoadQuizFile(path)
	if err != nil {
		return nil, fmt.Errorf("load catalog %s: %w", path, err)
	}
	return catalog, nil
}

// sortedQuizzes orders the catalog by release date, then id.
func sortedQuizzes(catalog map[string]domain.Quiz) []domain.Quiz {
	quizzes := make([]domain.Quiz, 0, len(catalog))
	for _, q := range catalog {
		quizzes = append(quizzes, q)
	}
	sort.Slice(quizzes, func(i, j int) bool {
		if !quizzes[i].ReleaseAt.Equal(quizzes[j].ReleaseAt) {
			return quizzes[i].ReleaseAt.Before(quizzes[j].ReleaseAt)
		}
		return quizzes[i].ID < quizzes[j].ID
	})
	return quizzes
}

func newRedisClient(cfg config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}
