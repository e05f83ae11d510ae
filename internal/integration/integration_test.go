package integration

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"sb-quiz-service/internal/app"
	"sb-quiz-service/internal/domain"
	pgstore "sb-quiz-service/internal/infra/postgres"
	pgmigrations "sb-quiz-service/internal/infra/postgres/migrations"
	infraredis "sb-quiz-service/internal/infra/redis"
)

func TestQuizAttemptEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	db := migrateDB(t, ctx, pgURL)
	defer db.Close()

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	loader := pgstore.NewQuizLoader(pool)
	if err := loader.UpsertQuizzes(ctx, []domain.Quiz{sampleQuiz()}); err != nil {
		t.Fatalf("seed quiz: %v", err)
	}

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()

	quizRepo := infraredis.NewQuizRepository(redisClient, loader, 5*time.Minute)
	sessionStore := infraredis.NewSessionStore(redisClient, 5*time.Minute)
	results := pgstore.NewResultStore(db)
	identities := app.IdentityResolverFunc(func(_ context.Context, userID string) (domain.Identity, error) {
		return domain.Identity{Username: "alice", DisplayName: "Alice"}, nil
	})
	service := app.NewQuizService(sessionStore, quizRepo, results, app.WithIdentityResolver(identities))
	defer service.Close()

	if _, err := service.Boot(ctx); err != nil {
		t.Fatalf("boot: %v", err)
	}

	_, prompt, err := service.StartSession(ctx, "web:u1", "quiz-1", false)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if prompt.Index != 0 || prompt.Total != 2 {
		t.Fatalf("unexpected first prompt %+v", prompt)
	}

	res, err := service.SubmitAnswer(ctx, "web:u1", 0, 1)
	if err != nil {
		t.Fatalf("answer 1: %v", err)
	}
	if !res.Correct || res.Next == nil {
		t.Fatalf("expected correct answer with a next question, got %+v", res)
	}
	res, err = service.SubmitAnswer(ctx, "web:u1", 1, 1)
	if err != nil {
		t.Fatalf("answer 2: %v", err)
	}
	if res.Scorecard == nil || res.Scorecard.Score != 1 {
		t.Fatalf("expected completed attempt with score 1, got %+v", res)
	}

	if _, ok, err := sessionStore.Get(ctx, "web:u1"); err != nil || ok {
		t.Fatalf("session should be gone after completion, ok=%v err=%v", ok, err)
	}
	if _, _, err := service.StartSession(ctx, "web:u1", "quiz-1", false); err == nil {
		t.Fatalf("expected second attempt to be rejected")
	}

	attempt, err := results.GetAttempt(ctx, "web:u1", "quiz-1")
	if err != nil {
		t.Fatalf("get attempt: %v", err)
	}
	if attempt.Username != "alice" || len(attempt.Answers) != 2 || *attempt.Answers[1] != 1 {
		t.Fatalf("unexpected stored attempt %+v", attempt)
	}

	top, err := results.TopScores(ctx, "quiz-1", 10)
	if err != nil {
		t.Fatalf("top scores: %v", err)
	}
	if len(top) != 1 || top[0].UserID != "web:u1" {
		t.Fatalf("unexpected leaderboard %+v", top)
	}

	removed, err := results.Clear(ctx, "alice", "quiz-1")
	if err != nil || removed != 1 {
		t.Fatalf("clear: removed=%d err=%v", removed, err)
	}
	if attempted, err := results.HasAttempted(ctx, "web:u1", "quiz-1"); err != nil || attempted {
		t.Fatalf("flag should be cleared, attempted=%v err=%v", attempted, err)
	}
}

func TestAdminReplayReplacesStoredAttempt(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()

	db := migrateDB(t, ctx, pgURL)
	defer db.Close()
	results := pgstore.NewResultStore(db)

	record := domain.AttemptRecord{
		UserID: "tg:1", QuizID: "quiz-1", Username: "admin", DisplayName: "Admin",
		Score: 1, TotalQuestions: 2, TotalTimeSeconds: 10,
		Answers: []*int{domain.Choice(1), nil}, Timestamp: time.Now(),
	}
	if err := results.RecordAttempt(ctx, record, false); err != nil {
		t.Fatalf("first record: %v", err)
	}
	if err := results.RecordAttempt(ctx, record, false); err == nil {
		t.Fatalf("expected duplicate write to fail")
	}
	record.Score = 2
	if err := results.RecordAttempt(ctx, record, true); err != nil {
		t.Fatalf("replace: %v", err)
	}

	rows, err := results.TopScores(ctx, "quiz-1", 0)
	if err != nil {
		t.Fatalf("top scores: %v", err)
	}
	if len(rows) != 1 || rows[0].Score != 2 || rows[0].Answers[1] != nil {
		t.Fatalf("expected a single replaced row, got %+v", rows)
	}

	board, err := results.CombinedLeaderboard(ctx, 10)
	if err != nil {
		t.Fatalf("combined: %v", err)
	}
	if len(board) != 1 || board[0].TotalScore != 2 || board[0].DistinctQuizzes != 1 {
		t.Fatalf("unexpected combined board %+v", board)
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "quiz", "POSTGRES_PASSWORD": "quizpass", "POSTGRES_DB": "quizdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://quiz:quizpass@%s:%s/quizdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func migrateDB(t *testing.T, ctx context.Context, dsn string) *bun.DB {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		ID:    "quiz-1",
		Title: "Arithmetic",
		Live:  true,
		Questions: []domain.Question{
			{Text: "What is 2 + 2?", Options: []string{"3", "4", "5"}, CorrectOption: 1},
			{Text: "What is 3 - 3?", Options: []string{"0", "1"}, CorrectOption: 0},
		},
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
