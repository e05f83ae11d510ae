package domain

import (
	"fmt"
	"time"
)

// Question models an MCQ question with exactly one correct option.
type Question struct {
	Text          string   `json:"text" yaml:"text"`
	Options       []string `json:"options" yaml:"options"`
	CorrectOption int      `json:"correctOption" yaml:"correct"`
}

// Quiz is an ordered collection of questions.
type Quiz struct {
	ID          string     `json:"id" yaml:"id"`
	Title       string     `json:"title" yaml:"title"`
	Description string     `json:"description,omitempty" yaml:"description"`
	Live        bool       `json:"live" yaml:"live"`
	ReleaseAt   time.Time  `json:"releaseAt,omitempty" yaml:"release_at"`
	Questions   []Question `json:"questions" yaml:"questions"`
}

// Validate checks the catalog invariants of a quiz.
func (q Quiz) Validate() error {
	if q.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidQuiz)
	}
	if len(q.Questions) == 0 {
		return fmt.Errorf("%w: %s has no questions", ErrInvalidQuiz, q.ID)
	}
	for i, question := range q.Questions {
		if len(question.Options) < 2 {
			return fmt.Errorf("%w: %s question %d needs at least two options", ErrInvalidQuiz, q.ID, i)
		}
		if question.CorrectOption < 0 || question.CorrectOption >= len(question.Options) {
			return fmt.Errorf("%w: %s question %d correct option %d out of range", ErrInvalidQuiz, q.ID, i, question.CorrectOption)
		}
	}
	return nil
}

// IsLive reports whether the quiz is open for play at now. A quiz is live once its
// flag is set or its release time has passed.
func (q Quiz) IsLive(now time.Time) bool {
	if q.Live {
		return true
	}
	return !q.ReleaseAt.IsZero() && !now.Before(q.ReleaseAt)
}

// Choice returns a recorded answer for option i.
func Choice(i int) *int {
	return &i
}

// QuestionPrompt is what adapters render for the current question.
type QuestionPrompt struct {
	QuizID    string    `json:"quizId"`
	QuizTitle string    `json:"quizTitle"`
	Index     int       `json:"index"`
	Total     int       `json:"total"`
	Text      string    `json:"text"`
	Options   []string  `json:"options"`
	Deadline  time.Time `json:"deadline"`
}

// Scorecard summarizes a completed attempt.
type Scorecard struct {
	QuizID           string `json:"quizId"`
	Score            int    `json:"score"`
	TotalQuestions   int    `json:"totalQuestions"`
	TotalTimeSeconds int    `json:"totalTimeSeconds"`
	Answers          []*int `json:"answers"`
}

// AdvanceResult is the outcome of an answer or a timeout.
type AdvanceResult struct {
	UserID        string          `json:"userId"`
	QuizID        string          `json:"quizId"`
	QuestionIndex int             `json:"questionIndex"`
	Accepted      bool            `json:"accepted"`
	Correct       bool            `json:"correct"`
	TimedOut      bool            `json:"timedOut"`
	CorrectOption int             `json:"correctOption"`
	Score         int             `json:"score"`
	Next          *QuestionPrompt `json:"next,omitempty"`
	Scorecard     *Scorecard      `json:"scorecard,omitempty"`
}

// Completed reports whether the advance finished the quiz.
func (r AdvanceResult) Completed() bool {
	return r.Scorecard != nil
}

// Identity is the display identity attached to attempt records.
type Identity struct {
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
}

// UnknownIdentity is used when identity resolution fails.
var UnknownIdentity = Identity{Username: "unknown", DisplayName: "User"}

// AttemptRecord is the persisted outcome of a completed session.
type AttemptRecord struct {
	ID               int64     `json:"id"`
	UserID           string    `json:"userId"`
	QuizID           string    `json:"quizId"`
	Username         string    `json:"username"`
	DisplayName      string    `json:"displayName"`
	Score            int       `json:"score"`
	TotalQuestions   int       `json:"totalQuestions"`
	TotalTimeSeconds int       `json:"totalTimeSeconds"`
	Answers          []*int    `json:"answers"`
	Timestamp        time.Time `json:"timestamp"`
}

// AggregateScore is a single user's totals across quizzes.
type AggregateScore struct {
	UserID          string `json:"userId"`
	TotalScore      int    `json:"totalScore"`
	DistinctQuizzes int    `json:"distinctQuizzes"`
}

// AggregateEntry is one row of the combined leaderboard.
type AggregateEntry struct {
	UserID           string `json:"userId"`
	DisplayName      string `json:"displayName"`
	TotalScore       int    `json:"totalScore"`
	DistinctQuizzes  int    `json:"distinctQuizzes"`
	TotalTimeSeconds int    `json:"totalTimeSeconds"`
}
