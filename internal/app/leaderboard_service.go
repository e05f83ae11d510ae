package app

import (
	"context"
	"fmt"
	"sort"
	"time"

	"sb-quiz-service/internal/domain"
)

// DefaultLeaderboardSize matches the number of rows shown per leaderboard.
const DefaultLeaderboardSize = 10

// Review pairs a stored attempt with the quiz it was taken on.
type Review struct {
	Quiz    domain.Quiz          `json:"quiz"`
	Attempt domain.AttemptRecord `json:"attempt"`
}

// LeaderboardService holds the read-side use cases built on the result store and catalog.
type LeaderboardService struct {
	results ResultStore
	quizzes QuizRepository
	now     func() time.Time
	size    int
}

func NewLeaderboardService(results ResultStore, quizzes QuizRepository, size int) *LeaderboardService {
	if size <= 0 {
		size = DefaultLeaderboardSize
	}
	return &LeaderboardService{results: results, quizzes: quizzes, now: time.Now, size: size}
}

// Quiz returns catalog content for id.
func (s *LeaderboardService) Quiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	return s.quizzes.GetQuiz(ctx, quizID)
}

// LiveQuizzes lists quizzes open for play, ordered by id.
func (s *LeaderboardService) LiveQuizzes(ctx context.Context) ([]domain.Quiz, error) {
	all, err := s.quizzes.ListQuizzes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list quizzes: %w", err)
	}
	now := s.now()
	live := make([]domain.Quiz, 0, len(all))
	for _, q := range all {
		if q.IsLive(now) {
			live = append(live, q)
		}
	}
	sort.SliceStable(live, func(i, j int) bool { return live[i].ID < live[j].ID })
	return live, nil
}

// QuizLeaderboard returns the top attempts of a quiz. limit <= 0 uses the configured size.
func (s *LeaderboardService) QuizLeaderboard(ctx context.Context, quizID string, limit int) ([]domain.AttemptRecord, error) {
	if _, err := s.quizzes.GetQuiz(ctx, quizID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = s.size
	}
	return s.results.TopScores(ctx, quizID, limit)
}

// CombinedLeaderboard ranks users by their total score across quizzes.
func (s *LeaderboardService) CombinedLeaderboard(ctx context.Context, limit int) ([]domain.AggregateEntry, error) {
	if limit <= 0 {
		limit = s.size
	}
	return s.results.CombinedLeaderboard(ctx, limit)
}

// UserSummary aggregates a user's results across quizzes.
func (s *LeaderboardService) UserSummary(ctx context.Context, userID string) (domain.AggregateScore, error) {
	return s.results.AggregateAcrossQuizzes(ctx, userID)
}

// HasAttempted reports whether userID already completed quizID.
func (s *LeaderboardService) HasAttempted(ctx context.Context, userID, quizID string) (bool, error) {
	return s.results.HasAttempted(ctx, userID, quizID)
}

// Review loads a user's stored attempt for answer review.
func (s *LeaderboardService) Review(ctx context.Context, userID, quizID string) (Review, error) {
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return Review{}, err
	}
	attempt, err := s.results.GetAttempt(ctx, userID, quizID)
	if err != nil {
		return Review{}, err
	}
	return Review{Quiz: quiz, Attempt: attempt}, nil
}

// ListParticipants returns every attempt of a quiz in leaderboard order.
func (s *LeaderboardService) ListParticipants(ctx context.Context, quizID string) ([]domain.AttemptRecord, error) {
	return s.results.TopScores(ctx, quizID, 0)
}

// ClearAttempts removes a user's attempted flag and records so the quiz can be replayed.
func (s *LeaderboardService) ClearAttempts(ctx context.Context, userIDOrUsername, quizID string) (int, error) {
	n, err := s.results.Clear(ctx, userIDOrUsername, quizID)
	if err != nil {
		return 0, fmt.Errorf("clear attempts: %w", err)
	}
	return n, nil
}
