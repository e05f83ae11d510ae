package domain

import (
	"fmt"
	"time"
)

// Session is the in-progress state of one user's attempt at one quiz.
// Values are never mutated in place; Advance returns the next state.
type Session struct {
	ID                   string    `json:"id"`
	UserID               string    `json:"userId"`
	QuizID               string    `json:"quizId"`
	QuestionCount        int       `json:"questionCount"`
	CurrentQuestionIndex int       `json:"currentQuestionIndex"`
	Score                int       `json:"score"`
	StartTime            time.Time `json:"startTime"`
	Deadline             time.Time `json:"deadline"`
	Answers              []*int    `json:"answers"`
	Admin                bool      `json:"admin"`
}

// NewSession creates a fresh session positioned on the first question.
func NewSession(id, userID string, quiz Quiz, admin bool, now time.Time, limit time.Duration) (Session, error) {
	if err := quiz.Validate(); err != nil {
		return Session{}, err
	}
	return Session{
		ID:            id,
		UserID:        userID,
		QuizID:        quiz.ID,
		QuestionCount: len(quiz.Questions),
		StartTime:     now,
		Deadline:      now.Add(limit),
		Answers:       []*int{},
		Admin:         admin,
	}, nil
}

// Validate checks the structural invariants of a session row.
func (s Session) Validate() error {
	if s.UserID == "" || s.QuizID == "" {
		return fmt.Errorf("session %q: missing user or quiz", s.ID)
	}
	if len(s.Answers) != s.CurrentQuestionIndex {
		return fmt.Errorf("session %q: %d answers at question %d", s.ID, len(s.Answers), s.CurrentQuestionIndex)
	}
	if s.CurrentQuestionIndex < 0 || s.CurrentQuestionIndex > s.QuestionCount {
		return fmt.Errorf("session %q: question %d out of %d", s.ID, s.CurrentQuestionIndex, s.QuestionCount)
	}
	if s.Score < 0 || s.Score > s.CurrentQuestionIndex {
		return fmt.Errorf("session %q: score %d at question %d", s.ID, s.Score, s.CurrentQuestionIndex)
	}
	return nil
}

// Advance records answer for question expected and moves to the next question.
// It only applies when exactly expected answers are recorded so far; otherwise the
// session is returned unchanged with ok=false. A nil answer means the question timed out.
func (s Session) Advance(expected int, answer *int, correct bool, now time.Time, limit time.Duration) (Session, bool) {
	if expected != len(s.Answers) || expected != s.CurrentQuestionIndex || s.Finished() {
		return s, false
	}

	next := s
	next.Answers = make([]*int, len(s.Answers), len(s.Answers)+1)
	copy(next.Answers, s.Answers)
	next.Answers = append(next.Answers, answer)
	if correct && answer != nil {
		next.Score++
	}
	next.CurrentQuestionIndex++
	if next.Finished() {
		next.Deadline = time.Time{}
	} else {
		next.Deadline = now.Add(limit)
	}
	return next, true
}

// Finished reports whether every question has an answer recorded.
func (s Session) Finished() bool {
	return s.CurrentQuestionIndex >= s.QuestionCount
}

// ElapsedSeconds returns whole seconds since the session started.
func (s Session) ElapsedSeconds(now time.Time) int {
	d := now.Sub(s.StartTime)
	if d < 0 {
		return 0
	}
	return int(d / time.Second)
}

// Scorecard builds the final tally of a finished session.
func (s Session) Scorecard(now time.Time) Scorecard {
	answers := make([]*int, len(s.Answers))
	copy(answers, s.Answers)
	return Scorecard{
		QuizID:           s.QuizID,
		Score:            s.Score,
		TotalQuestions:   s.QuestionCount,
		TotalTimeSeconds: s.ElapsedSeconds(now),
		Answers:          answers,
	}
}
