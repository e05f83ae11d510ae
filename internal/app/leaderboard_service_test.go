package app_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sb-quiz-service/internal/app"
	"sb-quiz-service/internal/domain"
	"sb-quiz-service/internal/infra/memory"
)

func newLeaderboard(t *testing.T) (*app.LeaderboardService, *memory.ResultStore) {
	t.Helper()
	results := memory.NewResultStore()
	quizzes := memory.NewQuizRepository(memory.NewStaticQuizLoader(testQuizzes()), time.Minute)
	return app.NewLeaderboardService(results, quizzes, 2), results
}

func seed(t *testing.T, results *memory.ResultStore, userID, quizID string, score, seconds int) {
	t.Helper()
	require.NoError(t, results.RecordAttempt(context.Background(), domain.AttemptRecord{
		UserID:           userID,
		QuizID:           quizID,
		Username:         userID,
		DisplayName:      userID,
		Score:            score,
		TotalTimeSeconds: seconds,
		Answers:          []*int{domain.Choice(0)},
	}, false))
}

func TestQuizLeaderboardOrdering(t *testing.T) {
	ctx := context.Background()
	lb, results := newLeaderboard(t)
	seed(t, results, "A", "quiz-1", 5, 30)
	seed(t, results, "B", "quiz-1", 5, 20)
	seed(t, results, "C", "quiz-1", 3, 10)

	top, err := lb.QuizLeaderboard(ctx, "quiz-1", 10)
	require.NoError(t, err)
	ids := []string{}
	for _, r := range top {
		ids = append(ids, r.UserID)
	}
	assert.Equal(t, []string{"B", "A", "C"}, ids)

	// configured size applies when no limit is given
	top, err = lb.QuizLeaderboard(ctx, "quiz-1", 0)
	require.NoError(t, err)
	assert.Len(t, top, 2)

	all, err := lb.ListParticipants(ctx, "quiz-1")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	_, err = lb.QuizLeaderboard(ctx, "missing", 10)
	require.ErrorIs(t, err, domain.ErrQuizNotFound)
}

func TestLiveQuizzesHidesUnreleased(t *testing.T) {
	lb, _ := newLeaderboard(t)
	live, err := lb.LiveQuizzes(context.Background())
	require.NoError(t, err)
	ids := []string{}
	for _, q := range live {
		ids = append(ids, q.ID)
	}
	assert.Equal(t, []string{"quiz-1", "quiz-2"}, ids)
}

func TestSummaryReviewAndClear(t *testing.T) {
	ctx := context.Background()
	lb, results := newLeaderboard(t)
	seed(t, results, "A", "quiz-1", 2, 30)
	seed(t, results, "A", "quiz-2", 1, 5)
	seed(t, results, "B", "quiz-1", 3, 50)

	summary, err := lb.UserSummary(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 3, summary.TotalScore)
	assert.Equal(t, 2, summary.DistinctQuizzes)

	combined, err := lb.CombinedLeaderboard(ctx, 0)
	require.NoError(t, err)
	require.Len(t, combined, 2)
	assert.Equal(t, "A", combined[0].UserID)

	review, err := lb.Review(ctx, "A", "quiz-2")
	require.NoError(t, err)
	assert.Equal(t, "Colours", review.Quiz.Title)
	assert.Equal(t, 1, review.Attempt.Score)

	n, err := lb.ClearAttempts(ctx, "A", "quiz-2")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = lb.Review(ctx, "A", "quiz-2")
	require.ErrorIs(t, err, domain.ErrAttemptNotFound)
}
