package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"sb-quiz-service/internal/domain"
)

const (
	// DefaultQuestionTimeLimit is how long a user has to answer one question.
	DefaultQuestionTimeLimit = 60 * time.Second
	// DefaultTimerGrace delays the expiry timer past the deadline shown to the user.
	DefaultTimerGrace = 2 * time.Second
	// DefaultIdentityTimeout caps one identity lookup during completion.
	DefaultIdentityTimeout = 3 * time.Second
)

// SessionRepository abstracts where live sessions are kept (in-memory, Redis, etc).
// QuizService is the only writer and serializes writes per user.
type SessionRepository interface {
	Get(ctx context.Context, userID string) (domain.Session, bool, error)
	Save(ctx context.Context, session domain.Session) error
	Delete(ctx context.Context, userID string) error
	// Purge removes every stored session and reports how many were dropped.
	Purge(ctx context.Context) (int, error)
}

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
	ListQuizzes(ctx context.Context) ([]domain.Quiz, error)
}

// ResultStore persists completed attempts and the attempted flags gating re-entry.
type ResultStore interface {
	HasAttempted(ctx context.Context, userID, quizID string) (bool, error)
	// RecordAttempt writes the attempted flag and the record atomically. Without replace
	// it fails with domain.ErrAlreadyRecorded when the flag is already set; with replace
	// prior records for the pair are removed first.
	RecordAttempt(ctx context.Context, record domain.AttemptRecord, replace bool) error
	GetAttempt(ctx context.Context, userID, quizID string) (domain.AttemptRecord, error)
	// TopScores orders by score desc, time asc, insertion order. limit <= 0 returns all rows.
	TopScores(ctx context.Context, quizID string, limit int) ([]domain.AttemptRecord, error)
	AggregateAcrossQuizzes(ctx context.Context, userID string) (domain.AggregateScore, error)
	CombinedLeaderboard(ctx context.Context, limit int) ([]domain.AggregateEntry, error)
	// Clear deletes the flag and records of a user (matched by id or username) for a quiz.
	Clear(ctx context.Context, userIDOrUsername, quizID string) (int, error)
}

// IdentityResolver looks up the display identity stored with attempt records.
type IdentityResolver interface {
	ResolveIdentity(ctx context.Context, userID string) (domain.Identity, error)
}

// IdentityResolverFunc adapts a function to IdentityResolver.
type IdentityResolverFunc func(ctx context.Context, userID string) (domain.Identity, error)

func (f IdentityResolverFunc) ResolveIdentity(ctx context.Context, userID string) (domain.Identity, error) {
	return f(ctx, userID)
}

// Option configures a QuizService.
type Option func(*QuizService)

func WithIdentityResolver(r IdentityResolver) Option {
	return func(s *QuizService) { s.identities = r }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(s *QuizService) { s.log = l }
}

func WithMetrics(m *Metrics) Option {
	return func(s *QuizService) { s.metrics = m }
}

func WithHub(h *Hub) Option {
	return func(s *QuizService) { s.hub = h }
}

// WithClock is meant for deterministic timestamps in tests.
func WithClock(now func() time.Time) Option {
	return func(s *QuizService) { s.now = now }
}

// WithTimeLimit sets the per-question limit and the slack before the expiry timer fires.
func WithTimeLimit(limit, grace time.Duration) Option {
	return func(s *QuizService) {
		if limit > 0 {
			s.limit = limit
		}
		if grace >= 0 {
			s.grace = grace
		}
	}
}

// WithIdentityTimeout bounds each identity lookup; on timeout the placeholder is used.
func WithIdentityTimeout(d time.Duration) Option {
	return func(s *QuizService) {
		if d > 0 {
			s.identityTimeout = d
		}
	}
}

// QuizService is the session engine: it owns every user's live attempt and resolves
// the race between answers and per-question timeouts.
type QuizService struct {
	sessions   SessionRepository
	quizzes    QuizRepository
	results    ResultStore
	identities IdentityResolver
	hub        *Hub
	metrics    *Metrics
	log        logrus.FieldLogger
	now        func() time.Time
	newID      func() string
	limit      time.Duration
	grace      time.Duration

	// identityTimeout bounds lookups made while a user's slot is held.
	identityTimeout time.Duration

	mu     sync.Mutex
	slots  map[string]*slot
	closed bool
}

// slot serializes all work on one user's session and owns its expiry timer.
type slot struct {
	mu    sync.Mutex
	timer *time.Timer
	// refs counts callers holding or waiting for mu; guarded by QuizService.mu.
	refs int
}

func (sl *slot) stop() {
	if sl.timer != nil {
		sl.timer.Stop()
		sl.timer = nil
	}
}

func NewQuizService(store SessionRepository, quizzes QuizRepository, results ResultStore, opts ...Option) *QuizService {
	s := &QuizService{
		sessions: store,
		quizzes:  quizzes,
		results:  results,
		log:      logrus.StandardLogger(),
		now:      time.Now,
		newID:    func() string { return uuid.NewString() },
		limit:    DefaultQuestionTimeLimit,
		grace:    DefaultTimerGrace,
		slots:    make(map[string]*slot),

		identityTimeout: DefaultIdentityTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.hub == nil {
		s.hub = NewHub()
	}
	if s.metrics == nil {
		s.metrics = NewMetrics(prometheus.NewRegistry())
	}
	return s
}

// Hub exposes the event fan-out adapters subscribe to.
func (s *QuizService) Hub() *Hub {
	return s.hub
}

// Boot discards sessions left behind by a previous process. Attempts in flight at a
// restart are lost and users start the quiz again.
func (s *QuizService) Boot(ctx context.Context) (int, error) {
	n, err := s.sessions.Purge(ctx)
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	s.metrics.ActiveSessions.Set(0)
	s.log.WithField("sessions", n).Info("cleaned up stale quiz sessions")
	return n, nil
}

// Close stops every pending timer. Sessions stay in the repository.
func (s *QuizService) Close() {
	s.mu.Lock()
	s.closed = true
	slots := make([]*slot, 0, len(s.slots))
	for _, sl := range s.slots {
		slots = append(slots, sl)
	}
	s.mu.Unlock()

	for _, sl := range slots {
		sl.mu.Lock()
		sl.stop()
		sl.mu.Unlock()
	}
}

// StartSession begins a new attempt, abandoning any session the user already has.
// The attempted check runs inside the user's critical section so a completion cannot
// land between the check and the new session.
func (s *QuizService) StartSession(ctx context.Context, userID, quizID string, admin bool) (domain.Session, domain.QuestionPrompt, error) {
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return domain.Session{}, domain.QuestionPrompt{}, err
	}

	sl := s.acquire(userID)
	defer s.release(userID, sl)

	if !admin && !quiz.IsLive(s.now()) {
		return domain.Session{}, domain.QuestionPrompt{}, fmt.Errorf("%w: %s is not live", domain.ErrQuizNotFound, quizID)
	}
	attempted, err := s.results.HasAttempted(ctx, userID, quizID)
	if err != nil {
		return domain.Session{}, domain.QuestionPrompt{}, fmt.Errorf("check attempted: %w", err)
	}
	if attempted && !admin {
		return domain.Session{}, domain.QuestionPrompt{}, domain.ErrAlreadyAttempted
	}

	previous, hadPrevious, err := s.sessions.Get(ctx, userID)
	if err != nil {
		return domain.Session{}, domain.QuestionPrompt{}, fmt.Errorf("load session: %w", err)
	}
	sl.stop()
	if hadPrevious {
		if err := s.sessions.Delete(ctx, userID); err != nil {
			return domain.Session{}, domain.QuestionPrompt{}, fmt.Errorf("delete session: %w", err)
		}
		s.metrics.SessionsAbandoned.Inc()
		s.log.WithFields(logrus.Fields{
			"user_id":  userID,
			"quiz_id":  previous.QuizID,
			"question": previous.CurrentQuestionIndex,
		}).Info("abandoned quiz session")
	}

	session, err := domain.NewSession(s.newID(), userID, quiz, admin, s.now(), s.limit)
	if err != nil {
		return domain.Session{}, domain.QuestionPrompt{}, err
	}
	if err := s.sessions.Save(ctx, session); err != nil {
		return domain.Session{}, domain.QuestionPrompt{}, fmt.Errorf("save session: %w", err)
	}
	s.armLocked(sl, session)

	if !hadPrevious {
		s.metrics.ActiveSessions.Inc()
	}
	s.metrics.SessionsStarted.Inc()
	s.log.WithFields(logrus.Fields{"user_id": userID, "quiz_id": quizID, "admin": admin}).Info("quiz session started")
	return session, promptFor(quiz, session), nil
}

// SubmitAnswer records the user's choice for questionIndex. A session whose final
// write failed is completed again instead.
func (s *QuizService) SubmitAnswer(ctx context.Context, userID string, questionIndex, optionIndex int) (domain.AdvanceResult, error) {
	return s.SubmitQuizAnswer(ctx, userID, "", questionIndex, optionIndex)
}

// SubmitQuizAnswer is SubmitAnswer for a prompt of quizID. An answer rendered for
// another quiz than the live session's is stale. An empty quizID skips the check.
func (s *QuizService) SubmitQuizAnswer(ctx context.Context, userID, quizID string, questionIndex, optionIndex int) (domain.AdvanceResult, error) {
	sl := s.acquire(userID)
	defer s.release(userID, sl)

	session, ok, err := s.sessions.Get(ctx, userID)
	if err != nil {
		return domain.AdvanceResult{}, fmt.Errorf("load session: %w", err)
	}
	if !ok {
		return domain.AdvanceResult{}, domain.ErrSessionExpired
	}
	if quizID != "" && quizID != session.QuizID {
		s.metrics.Answers.WithLabelValues("stale").Inc()
		return domain.AdvanceResult{}, fmt.Errorf("%w: prompt of %s, live quiz is %s", domain.ErrStaleAnswer, quizID, session.QuizID)
	}

	if session.Finished() {
		card, err := s.completeLocked(ctx, session)
		if err != nil {
			return domain.AdvanceResult{}, err
		}
		result := domain.AdvanceResult{UserID: userID, QuizID: session.QuizID, QuestionIndex: questionIndex, Score: card.Score, Scorecard: &card}
		s.hub.Publish(Event{Kind: EventCompleted, UserID: userID, Result: result})
		return result, nil
	}

	if questionIndex != session.CurrentQuestionIndex {
		s.metrics.Answers.WithLabelValues("stale").Inc()
		if session.Admin {
			return domain.AdvanceResult{UserID: userID, QuizID: session.QuizID, QuestionIndex: questionIndex, Score: session.Score}, nil
		}
		return domain.AdvanceResult{}, domain.ErrStaleAnswer
	}

	quiz, err := s.quizFor(ctx, session)
	if err != nil {
		return domain.AdvanceResult{}, err
	}
	question := quiz.Questions[questionIndex]
	if optionIndex < 0 || optionIndex >= len(question.Options) {
		return domain.AdvanceResult{}, fmt.Errorf("%w: %d", domain.ErrInvalidOption, optionIndex)
	}

	correct := optionIndex == question.CorrectOption
	result, applied, err := s.advanceLocked(ctx, sl, session, quiz, questionIndex, domain.Choice(optionIndex), correct)
	if err != nil {
		return result, err
	}
	if !applied {
		s.metrics.Answers.WithLabelValues("duplicate").Inc()
		return result, nil
	}

	if correct {
		s.metrics.Answers.WithLabelValues("correct").Inc()
	} else {
		s.metrics.Answers.WithLabelValues("incorrect").Inc()
	}
	s.publishAdvance(result)
	return result, nil
}

// ExpireCurrentQuestion advances past questionIndex with no credit. It is a no-op
// when the question was already answered.
func (s *QuizService) ExpireCurrentQuestion(ctx context.Context, userID string, questionIndex int) (domain.AdvanceResult, bool) {
	return s.expire(ctx, userID, "", questionIndex)
}

func (s *QuizService) expire(ctx context.Context, userID, sessionID string, questionIndex int) (domain.AdvanceResult, bool) {
	sl := s.acquire(userID)
	defer s.release(userID, sl)

	logger := s.log.WithFields(logrus.Fields{"user_id": userID, "question": questionIndex})

	session, ok, err := s.sessions.Get(ctx, userID)
	if err != nil {
		logger.WithError(err).Error("load session for timeout")
		return domain.AdvanceResult{}, false
	}
	if !ok || (sessionID != "" && session.ID != sessionID) {
		return domain.AdvanceResult{}, false
	}

	quiz, err := s.quizFor(ctx, session)
	if err != nil {
		logger.WithError(err).Error("load quiz for timeout")
		return domain.AdvanceResult{}, false
	}

	result, applied, err := s.advanceLocked(ctx, sl, session, quiz, questionIndex, nil, false)
	if err != nil {
		logger.WithError(err).Error("advance on timeout")
		if applied {
			s.hub.Publish(Event{Kind: EventCompletionFailed, UserID: userID, Result: result, Err: err.Error()})
		}
		return result, applied
	}
	if applied {
		s.metrics.Timeouts.Inc()
		logger.Debug("question timed out")
		s.publishAdvance(result)
	}
	return result, applied
}

// CompleteSession retries the completion of a session whose last write failed.
func (s *QuizService) CompleteSession(ctx context.Context, userID string) (domain.Scorecard, error) {
	sl := s.acquire(userID)
	defer s.release(userID, sl)

	session, ok, err := s.sessions.Get(ctx, userID)
	if err != nil {
		return domain.Scorecard{}, fmt.Errorf("load session: %w", err)
	}
	if !ok {
		return domain.Scorecard{}, domain.ErrSessionExpired
	}
	if !session.Finished() {
		return domain.Scorecard{}, domain.ErrSessionActive
	}
	card, err := s.completeLocked(ctx, session)
	if err != nil {
		return domain.Scorecard{}, err
	}
	s.hub.Publish(Event{Kind: EventCompleted, UserID: userID, Result: domain.AdvanceResult{
		UserID: userID, QuizID: card.QuizID, QuestionIndex: card.TotalQuestions - 1, Score: card.Score, Scorecard: &card,
	}})
	return card, nil
}

// GetActiveSession returns the user's live session, if any.
func (s *QuizService) GetActiveSession(ctx context.Context, userID string) (domain.Session, bool, error) {
	return s.sessions.Get(ctx, userID)
}

// CurrentQuestion renders the question the user is expected to answer now.
func (s *QuizService) CurrentQuestion(ctx context.Context, userID string) (domain.QuestionPrompt, error) {
	session, ok, err := s.sessions.Get(ctx, userID)
	if err != nil {
		return domain.QuestionPrompt{}, fmt.Errorf("load session: %w", err)
	}
	if !ok {
		return domain.QuestionPrompt{}, domain.ErrSessionExpired
	}
	if session.Finished() {
		return domain.QuestionPrompt{}, fmt.Errorf("%w: completion pending", domain.ErrPersistence)
	}
	quiz, err := s.quizFor(ctx, session)
	if err != nil {
		return domain.QuestionPrompt{}, err
	}
	return promptFor(quiz, session), nil
}

// ResetSession drops the user's live session without recording anything.
func (s *QuizService) ResetSession(ctx context.Context, userID string) error {
	sl := s.acquire(userID)
	defer s.release(userID, sl)

	sl.stop()
	_, existed, err := s.sessions.Get(ctx, userID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if err := s.sessions.Delete(ctx, userID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if existed {
		s.metrics.ActiveSessions.Dec()
	}
	s.hub.Publish(Event{Kind: EventReset, UserID: userID})
	s.log.WithField("user_id", userID).Info("quiz session reset")
	return nil
}

// advanceLocked applies the guarded append and then either arms the next question or
// completes the attempt. The caller holds sl.mu.
func (s *QuizService) advanceLocked(ctx context.Context, sl *slot, session domain.Session, quiz domain.Quiz, index int, answer *int, correct bool) (domain.AdvanceResult, bool, error) {
	result := domain.AdvanceResult{
		UserID:        session.UserID,
		QuizID:        session.QuizID,
		QuestionIndex: index,
		Score:         session.Score,
	}

	next, ok := session.Advance(index, answer, correct, s.now(), s.limit)
	if !ok {
		return result, false, nil
	}
	if err := s.sessions.Save(ctx, next); err != nil {
		return result, false, fmt.Errorf("save session: %w", err)
	}
	sl.stop()

	result.Accepted = true
	result.Correct = correct && answer != nil
	result.TimedOut = answer == nil
	result.CorrectOption = quiz.Questions[index].CorrectOption
	result.Score = next.Score

	if !next.Finished() {
		s.armLocked(sl, next)
		prompt := promptFor(quiz, next)
		result.Next = &prompt
		return result, true, nil
	}

	card, err := s.completeLocked(ctx, next)
	if err != nil {
		return result, true, err
	}
	result.Scorecard = &card
	return result, true, nil
}

// completeLocked writes the attempt through to the result store and only then drops
// the session, so a failed write can be retried without losing the score.
func (s *QuizService) completeLocked(ctx context.Context, session domain.Session) (domain.Scorecard, error) {
	card := session.Scorecard(s.now())
	identity := s.resolveIdentity(ctx, session.UserID)

	record := domain.AttemptRecord{
		UserID:           session.UserID,
		QuizID:           session.QuizID,
		Username:         identity.Username,
		DisplayName:      identity.DisplayName,
		Score:            card.Score,
		TotalQuestions:   card.TotalQuestions,
		TotalTimeSeconds: card.TotalTimeSeconds,
		Answers:          card.Answers,
		Timestamp:        s.now(),
	}

	logger := s.log.WithFields(logrus.Fields{"user_id": session.UserID, "quiz_id": session.QuizID})
	if err := s.results.RecordAttempt(ctx, record, session.Admin); err != nil {
		if !errors.Is(err, domain.ErrAlreadyRecorded) {
			s.metrics.PersistenceFailures.Inc()
			logger.WithError(err).Error("record attempt")
			return domain.Scorecard{}, fmt.Errorf("%w: %w", domain.ErrPersistence, err)
		}
		logger.Warn("attempt already recorded, treating completion as done")
	}

	if err := s.sessions.Delete(ctx, session.UserID); err != nil {
		logger.WithError(err).Warn("delete completed session")
	}
	s.metrics.ActiveSessions.Dec()
	s.metrics.Completions.Inc()
	logger.WithFields(logrus.Fields{"score": card.Score, "seconds": card.TotalTimeSeconds}).Info("quiz completed")
	return card, nil
}

func (s *QuizService) resolveIdentity(ctx context.Context, userID string) domain.Identity {
	if s.identities == nil {
		return domain.UnknownIdentity
	}
	ctx, cancel := context.WithTimeout(ctx, s.identityTimeout)
	defer cancel()
	identity, err := s.identities.ResolveIdentity(ctx, userID)
	if err != nil {
		s.log.WithError(err).WithField("user_id", userID).Warn("identity lookup failed, using placeholder")
		return domain.UnknownIdentity
	}
	if identity.Username == "" {
		identity.Username = domain.UnknownIdentity.Username
	}
	if identity.DisplayName == "" {
		identity.DisplayName = domain.UnknownIdentity.DisplayName
	}
	return identity
}

// armLocked schedules the expiry of the session's current question. The timer carries
// the session id and index so it cannot act on a later question or attempt.
func (s *QuizService) armLocked(sl *slot, session domain.Session) {
	sl.stop()

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}

	delay := session.Deadline.Sub(s.now()) + s.grace
	if delay < 0 {
		delay = 0
	}
	userID, sessionID, index := session.UserID, session.ID, session.CurrentQuestionIndex
	sl.timer = time.AfterFunc(delay, func() {
		s.expire(context.Background(), userID, sessionID, index)
	})
}

// acquire locks the user's slot, creating it on first use. Every acquire must be
// paired with release.
func (s *QuizService) acquire(userID string) *slot {
	s.mu.Lock()
	sl, ok := s.slots[userID]
	if !ok {
		sl = &slot{}
		s.slots[userID] = sl
	}
	sl.refs++
	s.mu.Unlock()

	sl.mu.Lock()
	return sl
}

// release unlocks the slot and forgets it once nobody holds it and no timer is armed.
func (s *QuizService) release(userID string, sl *slot) {
	sl.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	sl.refs--
	if sl.refs > 0 {
		return
	}
	// refs is zero, so no caller holds or waits for sl.mu
	sl.mu.Lock()
	idle := sl.timer == nil
	sl.mu.Unlock()
	if idle && s.slots[userID] == sl {
		delete(s.slots, userID)
	}
}

func (s *QuizService) quizFor(ctx context.Context, session domain.Session) (domain.Quiz, error) {
	quiz, err := s.quizzes.GetQuiz(ctx, session.QuizID)
	if err != nil {
		return domain.Quiz{}, err
	}
	if len(quiz.Questions) != session.QuestionCount {
		return domain.Quiz{}, fmt.Errorf("%w: %s changed during the session", domain.ErrQuizNotFound, session.QuizID)
	}
	return quiz, nil
}

func (s *QuizService) publishAdvance(result domain.AdvanceResult) {
	kind := EventAnswered
	switch {
	case result.Completed():
		kind = EventCompleted
	case result.TimedOut:
		kind = EventTimedOut
	}
	s.hub.Publish(Event{Kind: kind, UserID: result.UserID, Result: result})
}

func promptFor(quiz domain.Quiz, session domain.Session) domain.QuestionPrompt {
	q := quiz.Questions[session.CurrentQuestionIndex]
	options := make([]string, len(q.Options))
	copy(options, q.Options)
	return domain.QuestionPrompt{
		QuizID:    quiz.ID,
		QuizTitle: quiz.Title,
		Index:     session.CurrentQuestionIndex,
		Total:     len(quiz.Questions),
		Text:      q.Text,
		Options:   options,
		Deadline:  session.Deadline,
	}
}
