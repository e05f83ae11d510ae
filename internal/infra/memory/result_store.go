package memory

import (
	"context"
	"sort"
	"sync"

	"sb-quiz-service/internal/domain"
)

type attemptKey struct {
	userID string
	quizID string
}

type attemptFlag struct {
	username string
}

// ResultStore keeps attempt records in memory. Writes take the exclusive lock so
// readers never observe a flag without its record.
type ResultStore struct {
	mu      sync.RWMutex
	nextID  int64
	flags   map[attemptKey]attemptFlag
	records []domain.AttemptRecord
}

func NewResultStore() *ResultStore {
	return &ResultStore{flags: make(map[attemptKey]attemptFlag)}
}

func (s *ResultStore) HasAttempted(_ context.Context, userID, quizID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.flags[attemptKey{userID, quizID}]
	return ok, nil
}

func (s *ResultStore) RecordAttempt(_ context.Context, record domain.AttemptRecord, replace bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := attemptKey{record.UserID, record.QuizID}
	if _, ok := s.flags[key]; ok && !replace {
		return domain.ErrAlreadyRecorded
	}
	if replace {
		s.removeLocked(func(r domain.AttemptRecord) bool {
			return r.UserID == record.UserID && r.QuizID == record.QuizID
		})
	}

	s.nextID++
	record.ID = s.nextID
	record.Answers = append([]*int(nil), record.Answers...)
	s.flags[key] = attemptFlag{username: record.Username}
	s.records = append(s.records, record)
	return nil
}

func (s *ResultStore) GetAttempt(_ context.Context, userID, quizID string) (domain.AttemptRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.records) - 1; i >= 0; i-- {
		if r := s.records[i]; r.UserID == userID && r.QuizID == quizID {
			return r, nil
		}
	}
	return domain.AttemptRecord{}, domain.ErrAttemptNotFound
}

func (s *ResultStore) TopScores(_ context.Context, quizID string, limit int) ([]domain.AttemptRecord, error) {
	s.mu.RLock()
	rows := make([]domain.AttemptRecord, 0)
	for _, r := range s.records {
		if r.QuizID == quizID {
			rows = append(rows, r)
		}
	}
	s.mu.RUnlock()

	// records are kept in insertion order, so a stable sort keeps ids ascending on ties
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Score != rows[j].Score {
			return rows[i].Score > rows[j].Score
		}
		return rows[i].TotalTimeSeconds < rows[j].TotalTimeSeconds
	})
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (s *ResultStore) AggregateAcrossQuizzes(_ context.Context, userID string) (domain.AggregateScore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agg := domain.AggregateScore{UserID: userID}
	quizzes := make(map[string]struct{})
	for _, r := range s.records {
		if r.UserID != userID {
			continue
		}
		agg.TotalScore += r.Score
		quizzes[r.QuizID] = struct{}{}
	}
	agg.DistinctQuizzes = len(quizzes)
	return agg, nil
}

func (s *ResultStore) CombinedLeaderboard(_ context.Context, limit int) ([]domain.AggregateEntry, error) {
	s.mu.RLock()
	byUser := make(map[string]*domain.AggregateEntry)
	quizzes := make(map[string]map[string]struct{})
	order := make([]string, 0)
	for _, r := range s.records {
		entry, ok := byUser[r.UserID]
		if !ok {
			entry = &domain.AggregateEntry{UserID: r.UserID}
			byUser[r.UserID] = entry
			quizzes[r.UserID] = make(map[string]struct{})
			order = append(order, r.UserID)
		}
		entry.DisplayName = r.DisplayName
		entry.TotalScore += r.Score
		entry.TotalTimeSeconds += r.TotalTimeSeconds
		quizzes[r.UserID][r.QuizID] = struct{}{}
	}
	s.mu.RUnlock()

	entries := make([]domain.AggregateEntry, 0, len(order))
	for _, userID := range order {
		entry := byUser[userID]
		entry.DistinctQuizzes = len(quizzes[userID])
		entries = append(entries, *entry)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].TotalScore != entries[j].TotalScore {
			return entries[i].TotalScore > entries[j].TotalScore
		}
		return entries[i].TotalTimeSeconds < entries[j].TotalTimeSeconds
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (s *ResultStore) Clear(_ context.Context, userIDOrUsername, quizID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	match := func(userID, username string) bool {
		return userID == userIDOrUsername || (username != "" && username == userIDOrUsername)
	}
	removed := s.removeLocked(func(r domain.AttemptRecord) bool {
		return r.QuizID == quizID && match(r.UserID, r.Username)
	})
	for key, flag := range s.flags {
		if key.quizID == quizID && match(key.userID, flag.username) {
			delete(s.flags, key)
		}
	}
	return removed, nil
}

func (s *ResultStore) removeLocked(drop func(domain.AttemptRecord) bool) int {
	kept := s.records[:0]
	removed := 0
	for _, r := range s.records {
		if drop(r) {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	s.records = kept
	return removed
}
