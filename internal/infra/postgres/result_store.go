package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"sb-quiz-service/internal/domain"
)

type attemptFlag struct {
	bun.BaseModel `bun:"table:attempt_flags,alias:f"`

	UserID      string    `bun:"user_id,pk"`
	QuizID      string    `bun:"quiz_id,pk"`
	Username    string    `bun:"username"`
	DisplayName string    `bun:"display_name"`
	Attempted   bool      `bun:"attempted"`
	UpdatedAt   time.Time `bun:"updated_at"`
}

type attemptRow struct {
	bun.BaseModel `bun:"table:attempt_records,alias:r"`

	ID               int64     `bun:"id,pk,autoincrement"`
	UserID           string    `bun:"user_id"`
	QuizID           string    `bun:"quiz_id"`
	Username         string    `bun:"username"`
	DisplayName      string    `bun:"display_name"`
	Score            int       `bun:"score"`
	TotalQuestions   int       `bun:"total_questions"`
	TotalTimeSeconds int       `bun:"total_time_seconds"`
	Answers          []*int    `bun:"answers,type:jsonb"`
	CreatedAt        time.Time `bun:"created_at"`
}

type aggregateRow struct {
	UserID           string `bun:"user_id"`
	DisplayName      string `bun:"display_name"`
	TotalScore       int    `bun:"total_score"`
	DistinctQuizzes  int    `bun:"distinct_quizzes"`
	TotalTimeSeconds int    `bun:"total_time_seconds"`
}

// ResultStore persists attempts in Postgres through bun. The attempted flag and the
// record are written in one transaction.
type ResultStore struct {
	db *bun.DB
}

func NewResultStore(db *bun.DB) *ResultStore {
	return &ResultStore{db: db}
}

func (s *ResultStore) HasAttempted(ctx context.Context, userID, quizID string) (bool, error) {
	exists, err := s.db.NewSelect().
		Model((*attemptFlag)(nil)).
		Where("user_id = ?", userID).
		Where("quiz_id = ?", quizID).
		Where("attempted").
		Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("check attempted: %w", err)
	}
	return exists, nil
}

func (s *ResultStore) RecordAttempt(ctx context.Context, record domain.AttemptRecord, replace bool) error {
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		flag := &attemptFlag{
			UserID:      record.UserID,
			QuizID:      record.QuizID,
			Username:    record.Username,
			DisplayName: record.DisplayName,
			Attempted:   true,
			UpdatedAt:   record.Timestamp,
		}
		upsert := tx.NewInsert().
			Model(flag).
			On("CONFLICT (user_id, quiz_id) DO UPDATE").
			Set("attempted = EXCLUDED.attempted").
			Set("username = EXCLUDED.username").
			Set("display_name = EXCLUDED.display_name").
			Set("updated_at = EXCLUDED.updated_at")
		if !replace {
			upsert = upsert.Where("f.attempted = FALSE")
		}
		res, err := upsert.Exec(ctx)
		if err != nil {
			return fmt.Errorf("upsert attempt flag: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return domain.ErrAlreadyRecorded
		}

		if replace {
			if _, err := tx.NewDelete().
				Model((*attemptRow)(nil)).
				Where("user_id = ?", record.UserID).
				Where("quiz_id = ?", record.QuizID).
				Exec(ctx); err != nil {
				return fmt.Errorf("delete previous attempts: %w", err)
			}
		}

		row := toRow(record)
		if _, err := tx.NewInsert().Model(row).Returning("id").Exec(ctx); err != nil {
			return fmt.Errorf("insert attempt: %w", err)
		}
		return nil
	})
}

func (s *ResultStore) GetAttempt(ctx context.Context, userID, quizID string) (domain.AttemptRecord, error) {
	var row attemptRow
	err := s.db.NewSelect().
		Model(&row).
		Where("user_id = ?", userID).
		Where("quiz_id = ?", quizID).
		OrderExpr("id DESC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.AttemptRecord{}, domain.ErrAttemptNotFound
	}
	if err != nil {
		return domain.AttemptRecord{}, fmt.Errorf("get attempt: %w", err)
	}
	return row.toDomain(), nil
}

func (s *ResultStore) TopScores(ctx context.Context, quizID string, limit int) ([]domain.AttemptRecord, error) {
	var rows []attemptRow
	q := s.db.NewSelect().
		Model(&rows).
		Where("quiz_id = ?", quizID).
		OrderExpr("score DESC, total_time_seconds ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("top scores: %w", err)
	}
	records := make([]domain.AttemptRecord, 0, len(rows))
	for _, r := range rows {
		records = append(records, r.toDomain())
	}
	return records, nil
}

func (s *ResultStore) AggregateAcrossQuizzes(ctx context.Context, userID string) (domain.AggregateScore, error) {
	agg := domain.AggregateScore{UserID: userID}
	err := s.db.NewSelect().
		TableExpr("attempt_records").
		ColumnExpr("COALESCE(SUM(score), 0)").
		ColumnExpr("COUNT(DISTINCT quiz_id)").
		Where("user_id = ?", userID).
		Scan(ctx, &agg.TotalScore, &agg.DistinctQuizzes)
	if err != nil {
		return domain.AggregateScore{}, fmt.Errorf("aggregate scores: %w", err)
	}
	return agg, nil
}

func (s *ResultStore) CombinedLeaderboard(ctx context.Context, limit int) ([]domain.AggregateEntry, error) {
	var rows []aggregateRow
	q := s.db.NewSelect().
		TableExpr("attempt_records").
		ColumnExpr("user_id").
		ColumnExpr("(ARRAY_AGG(display_name ORDER BY id DESC))[1] AS display_name").
		ColumnExpr("SUM(score) AS total_score").
		ColumnExpr("COUNT(DISTINCT quiz_id) AS distinct_quizzes").
		ColumnExpr("SUM(total_time_seconds) AS total_time_seconds").
		Group("user_id").
		OrderExpr("total_score DESC, total_time_seconds ASC, MIN(id) ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx, &rows); err != nil {
		return nil, fmt.Errorf("combined leaderboard: %w", err)
	}
	entries := make([]domain.AggregateEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, domain.AggregateEntry(r))
	}
	return entries, nil
}

func (s *ResultStore) Clear(ctx context.Context, userIDOrUsername, quizID string) (int, error) {
	var removed int64
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewDelete().
			Model((*attemptRow)(nil)).
			Where("quiz_id = ?", quizID).
			Where("(user_id = ? OR username = ?)", userIDOrUsername, userIDOrUsername).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("delete attempts: %w", err)
		}
		removed, _ = res.RowsAffected()

		if _, err := tx.NewDelete().
			Model((*attemptFlag)(nil)).
			Where("quiz_id = ?", quizID).
			Where("(user_id = ? OR username = ?)", userIDOrUsername, userIDOrUsername).
			Exec(ctx); err != nil {
			return fmt.Errorf("delete attempt flags: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int(removed), nil
}

func toRow(record domain.AttemptRecord) *attemptRow {
	return &attemptRow{
		UserID:           record.UserID,
		QuizID:           record.QuizID,
		Username:         record.Username,
		DisplayName:      record.DisplayName,
		Score:            record.Score,
		TotalQuestions:   record.TotalQuestions,
		TotalTimeSeconds: record.TotalTimeSeconds,
		Answers:          record.Answers,
		CreatedAt:        record.Timestamp,
	}
}

func (r attemptRow) toDomain() domain.AttemptRecord {
	return domain.AttemptRecord{
		ID:               r.ID,
		UserID:           r.UserID,
		QuizID:           r.QuizID,
		Username:         r.Username,
		DisplayName:      r.DisplayName,
		Score:            r.Score,
		TotalQuestions:   r.TotalQuestions,
		TotalTimeSeconds: r.TotalTimeSeconds,
		Answers:          r.Answers,
		Timestamp:        r.CreatedAt,
	}
}
