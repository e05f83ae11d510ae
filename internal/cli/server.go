package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"sb-quiz-service/internal/app"
	"sb-quiz-service/internal/config"
	"sb-quiz-service/internal/infra/memory"
	pgstore "sb-quiz-service/internal/infra/postgres"
	rediscache "sb-quiz-service/internal/infra/redis"
	"sb-quiz-service/internal/logging"
	transport "sb-quiz-service/internal/transport/http"
	"sb-quiz-service/internal/transport/telegram"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz server and the Telegram bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logging.New("quiz-service", cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = newRedisClient(cfg)
		defer redisClient.Close()
	}

	var pool *pgxpool.Pool
	var results app.ResultStore = memory.NewResultStore()
	if cfg.Postgres.URL != "" {
		db := openBunDB(cfg.Postgres.URL)
		defer db.Close()
		if err := runMigrations(ctx, db, log); err != nil {
			return err
		}
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()
		results = pgstore.NewResultStore(db)
	} else {
		log.Warn("no postgres configured, results are kept in memory")
	}

	loader, err := catalogLoader(cfg, pool)
	if err != nil {
		return err
	}

	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	var quizRepo app.QuizRepository
	var sessions app.SessionRepository
	if redisClient != nil {
		quizRepo = rediscache.NewQuizRepository(redisClient, loader, quizTTL)
		sessions = rediscache.NewSessionStore(redisClient, config.TTLDuration(cfg.Redis.TTL, 10*time.Minute))
	} else {
		quizRepo = memory.NewQuizRepository(loader, quizTTL)
		sessions = memory.NewSessionStore()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	identities := memory.NewIdentityDirectory(nil)
	service := app.NewQuizService(sessions, quizRepo, results,
		app.WithIdentityResolver(identities),
		app.WithLogger(log),
		app.WithMetrics(app.NewMetrics(registry)),
		app.WithTimeLimit(
			config.TTLDuration(cfg.Quiz.QuestionTimeLimit, app.DefaultQuestionTimeLimit),
			config.TTLDuration(cfg.Quiz.TimerGrace, app.DefaultTimerGrace),
		),
	)
	defer service.Close()
	if _, err := service.Boot(ctx); err != nil {
		return err
	}
	leaderboards := app.NewLeaderboardService(results, quizRepo, cfg.Quiz.LeaderboardSize)

	server := &http.Server{
		Addr: ":" + finalPort,
		Handler: transport.NewRouter(transport.RouterDeps{
			Service:        service,
			Leaderboards:   leaderboards,
			Identities:     identities,
			Gatherer:       registry,
			Logger:         log,
			AdminToken:     cfg.Server.AdminToken,
			AllowedOrigins: cfg.Server.AllowedOrigins,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("port", finalPort).Info("starting quiz service")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if cfg.Telegram.Token != "" {
		bot, err := telegram.New(telegram.Options{
			Token:       cfg.Telegram.Token,
			BotUsername: cfg.Telegram.BotUsername,
			PollTimeout: config.TTLDuration(cfg.Telegram.PollTimeout, 10*time.Second),
			IsAdmin:     cfg.IsAdmin,
		}, service, leaderboards, identities, log)
		if err != nil {
			stop()
			_ = g.Wait()
			return err
		}
		identities.SetFallback(bot)
		g.Go(func() error {
			return bot.Run(gctx)
		})
	} else {
		log.Info("no telegram token configured, bot disabled")
	}

	return g.Wait()
}

// catalogLoader picks where quiz content comes from: Postgres when configured, else
// the catalog file, else the quizzes built into the binary.
func catalogLoader(cfg config.Config, pool *pgxpool.Pool) (memory.QuizLoader, error) {
	if pool != nil {
		return pgstore.NewQuizLoader(pool), nil
	}
	catalog, err := loadCatalog(cfg.Quiz.CatalogFile)
	if err != nil {
		return nil, err
	}
	return memory.NewStaticQuizLoader(catalog), nil
}
