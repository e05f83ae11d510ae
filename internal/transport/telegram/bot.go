package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gopkg.in/telebot.v4"

	"sb-quiz-service/internal/app"
	"sb-quiz-service/internal/domain"
)

// Callback uniques of the inline buttons.
const (
	btnQuiz    = "quiz"
	btnStart   = "start"
	btnAnswer  = "ans"
	btnLB      = "lb"
	btnReview  = "review"
	btnShare   = "share"
	btnBrowse  = "browse"
	btnRetry   = "retry"
	combinedLB = "_combined"
)

const (
	dispatchWorkers = 8
	workerBuffer    = 32
)

// IdentityRecorder keeps the identity Telegram sent with an update.
type IdentityRecorder interface {
	Remember(userID string, identity domain.Identity)
}

// sender is the part of *telebot.Bot used to push messages outside a handler.
type sender interface {
	Send(to telebot.Recipient, what interface{}, opts ...interface{}) (*telebot.Message, error)
}

type Options struct {
	Token       string
	BotUsername string
	PollTimeout time.Duration
	IsAdmin     func(username string) bool
}

type Bot struct {
	bot          *telebot.Bot
	out          sender
	service      *app.QuizService
	leaderboards *app.LeaderboardService
	identities   IdentityRecorder
	isAdmin      func(string) bool
	botUsername  string
	log          logrus.FieldLogger
	now          func() time.Time
}

func New(opts Options, service *app.QuizService, leaderboards *app.LeaderboardService, identities IdentityRecorder, log logrus.FieldLogger) (*Bot, error) {
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 10 * time.Second
	}
	if opts.IsAdmin == nil {
		opts.IsAdmin = func(string) bool { return false }
	}
	b := &Bot{
		service:      service,
		leaderboards: leaderboards,
		identities:   identities,
		isAdmin:      opts.IsAdmin,
		botUsername:  opts.BotUsername,
		log:          log.WithField("component", "telegram"),
		now:          time.Now,
	}

	tb, err := telebot.NewBot(telebot.Settings{
		Token:  opts.Token,
		Poller: &telebot.LongPoller{Timeout: opts.PollTimeout},
		OnError: func(err error, c telebot.Context) {
			b.log.WithError(err).Error("telegram handler failed")
		},
	})
	if err != nil {
		return nil, fmt.Errorf("telebot.NewBot: %w", err)
	}
	b.bot = tb
	b.out = tb
	if b.botUsername == "" && tb.Me != nil {
		b.botUsername = tb.Me.Username
	}
	b.register()
	return b, nil
}

// ResolveIdentity looks a Telegram user up through the Bot API. Other users are
// reported as unknown.
func (b *Bot) ResolveIdentity(_ context.Context, userID string) (domain.Identity, error) {
	id, ok := chatID(userID)
	if !ok {
		return domain.Identity{}, fmt.Errorf("not a telegram user: %s", userID)
	}
	chat, err := b.bot.ChatByID(id)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("chat %d: %w", id, err)
	}
	return domain.Identity{Username: chat.Username, DisplayName: chat.FirstName}, nil
}

// Run polls Telegram and pushes engine events to chats until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	queue, cancel := b.service.Hub().SubscribeQueue(app.DefaultQueueBacklog)
	defer cancel()

	go b.bot.Start()
	defer b.bot.Stop()
	b.log.WithField("bot", b.botUsername).Info("telegram bot started")

	return b.pump(ctx, queue)
}

// pump drains the queue into sender workers. Events of one chat always go to the same
// worker so a user sees feedback, question and result in order, while a slow chat
// only delays the chats sharing its worker.
func (b *Bot) pump(ctx context.Context, queue *app.Queue) error {
	g, gctx := errgroup.WithContext(ctx)
	shards := make([]chan app.Event, dispatchWorkers)
	for i := range shards {
		ch := make(chan app.Event, workerBuffer)
		shards[i] = ch
		g.Go(func() error {
			for ev := range ch {
				b.dispatch(gctx, ev)
			}
			return nil
		})
	}

	dropped := 0
	for {
		ev, ok := queue.Next(gctx)
		if !ok {
			break
		}
		if n := queue.Dropped(); n > dropped {
			b.log.WithField("events", n-dropped).Error("telegram dispatch backlog overflowed")
			dropped = n
		}
		id, ok := chatID(ev.UserID)
		if !ok {
			continue
		}
		select {
		case shards[uint64(id)%dispatchWorkers] <- ev:
		case <-gctx.Done():
		}
	}

	for _, ch := range shards {
		close(ch)
	}
	return g.Wait()
}

func (b *Bot) register() {
	b.bot.Handle("/start", b.onStart)
	b.bot.Handle("/quizzes", b.onQuizzes)
	b.bot.Handle("/leaderboard", b.onLeaderboard)
	b.bot.Handle("/share", b.onShare)
	b.bot.Handle("/review", b.onReview)
	b.bot.Handle("/resetquiz", b.adminOnly(b.onResetQuiz))
	b.bot.Handle("/clearuser", b.adminOnly(b.onClearUser))
	b.bot.Handle("/listusers", b.adminOnly(b.onListUsers))

	b.bot.Handle(&telebot.InlineButton{Unique: btnQuiz}, b.callback(b.onQuizButton))
	b.bot.Handle(&telebot.InlineButton{Unique: btnStart}, b.callback(b.onStartButton))
	b.bot.Handle(&telebot.InlineButton{Unique: btnAnswer}, b.onAnswerButton)
	b.bot.Handle(&telebot.InlineButton{Unique: btnLB}, b.callback(b.onLeaderboardButton))
	b.bot.Handle(&telebot.InlineButton{Unique: btnReview}, b.callback(b.onReviewButton))
	b.bot.Handle(&telebot.InlineButton{Unique: btnShare}, b.callback(b.onShareButton))
	b.bot.Handle(&telebot.InlineButton{Unique: btnBrowse}, b.callback(b.onQuizzes))
	b.bot.Handle(&telebot.InlineButton{Unique: btnRetry}, b.callback(b.onRetryButton))
}

// remember records the sender identity and returns the engine user id.
func (b *Bot) remember(c telebot.Context) string {
	u := c.Sender()
	id := userID(u.ID)
	if b.identities != nil {
		b.identities.Remember(id, domain.Identity{Username: u.Username, DisplayName: u.FirstName})
	}
	return id
}

func (b *Bot) senderIsAdmin(c telebot.Context) bool {
	return c.Sender() != nil && b.isAdmin(c.Sender().Username)
}

func (b *Bot) adminOnly(next telebot.HandlerFunc) telebot.HandlerFunc {
	return func(c telebot.Context) error {
		if !b.senderIsAdmin(c) {
			return c.Send("⛔ Admin only command.")
		}
		return next(c)
	}
}

// callback acknowledges the button press before running next.
func (b *Bot) callback(next telebot.HandlerFunc) telebot.HandlerFunc {
	return func(c telebot.Context) error {
		_ = c.Respond()
		return next(c)
	}
}

func (b *Bot) onStart(c telebot.Context) error {
	b.remember(c)
	ctx := context.Background()
	if quizID := strings.TrimSpace(c.Message().Payload); quizID != "" {
		if _, err := b.leaderboards.Quiz(ctx, quizID); err == nil {
			return b.sendQuizDetails(ctx, c, quizID)
		}
	}
	live, err := b.leaderboards.LiveQuizzes(ctx)
	if err != nil {
		return err
	}
	markup := &telebot.ReplyMarkup{}
	markup.Inline(
		markup.Row(markup.Data("📚 Browse All Quizzes", btnBrowse)),
		markup.Row(markup.Data("🏆 View Leaderboards", btnLB, "")),
	)
	return c.Send(renderWelcome(len(live)), telebot.ModeHTML, markup)
}

func (b *Bot) onQuizzes(c telebot.Context) error {
	live, err := b.leaderboards.LiveQuizzes(context.Background())
	if err != nil {
		return err
	}
	if len(live) == 0 {
		return c.Send("⚠️ No quizzes available yet.")
	}
	markup := &telebot.ReplyMarkup{}
	rows := make([]telebot.Row, 0, len(live))
	for _, q := range live {
		rows = append(rows, markup.Row(markup.Data("📝 "+q.Title, btnQuiz, q.ID)))
	}
	markup.Inline(rows...)
	return c.Send("📚 <b>All Available Quizzes</b>", telebot.ModeHTML, markup)
}

func (b *Bot) onQuizButton(c telebot.Context) error {
	b.remember(c)
	return b.sendQuizDetails(context.Background(), c, c.Callback().Data)
}

func (b *Bot) sendQuizDetails(ctx context.Context, c telebot.Context, quizID string) error {
	admin := b.senderIsAdmin(c)
	quiz, err := b.leaderboards.Quiz(ctx, quizID)
	if err != nil || (!admin && !quiz.IsLive(b.now())) {
		return c.Send(userMessage(domain.ErrQuizNotFound))
	}
	attempted, err := b.leaderboards.HasAttempted(ctx, userID(c.Sender().ID), quizID)
	if err != nil {
		return err
	}

	markup := &telebot.ReplyMarkup{}
	rows := make([]telebot.Row, 0, 5)
	if !attempted || admin {
		rows = append(rows, markup.Row(markup.Data("▶️ Start Quiz", btnStart, quizID)))
	}
	if attempted {
		rows = append(rows, markup.Row(markup.Data("📝 Review My Answers", btnReview, quizID)))
	}
	rows = append(rows,
		markup.Row(markup.Data("🏆 Leaderboard", btnLB, quizID)),
		markup.Row(markup.Data("🔗 Share Quiz", btnShare, quizID)),
		markup.Row(markup.Data("◀️ Back to Quizzes", btnBrowse)),
	)
	markup.Inline(rows...)
	return c.Send(renderQuizDetails(quiz, attempted, admin), telebot.ModeHTML, markup)
}

func (b *Bot) onStartButton(c telebot.Context) error {
	id := b.remember(c)
	_, prompt, err := b.service.StartSession(context.Background(), id, c.Callback().Data, b.senderIsAdmin(c))
	if err != nil {
		return c.Send(userMessage(err))
	}
	return c.Send(renderQuestion(prompt, b.now()), telebot.ModeHTML, questionMarkup(prompt))
}

func (b *Bot) onAnswerButton(c telebot.Context) error {
	id := b.remember(c)
	answer, err := parseAnswer(c.Args())
	if err != nil {
		return c.Respond(&telebot.CallbackResponse{Text: "⚠️ Invalid answer"})
	}
	result, err := b.service.SubmitQuizAnswer(context.Background(), id, answer.quizID, answer.questionIndex, answer.optionIndex)
	if err != nil {
		return c.Respond(&telebot.CallbackResponse{Text: userMessage(err)})
	}
	if !result.Accepted && !result.Completed() {
		return c.Respond(&telebot.CallbackResponse{Text: userMessage(domain.ErrStaleAnswer)})
	}
	// the next question or the result arrives through the hub
	return c.Respond()
}

func (b *Bot) onRetryButton(c telebot.Context) error {
	id := b.remember(c)
	if _, err := b.service.CompleteSession(context.Background(), id); err != nil {
		return c.Send(userMessage(err))
	}
	return nil
}

func (b *Bot) onLeaderboard(c telebot.Context) error {
	return b.sendLeaderboard(c, strings.TrimSpace(c.Message().Payload))
}

func (b *Bot) onLeaderboardButton(c telebot.Context) error {
	return b.sendLeaderboard(c, c.Callback().Data)
}

func (b *Bot) sendLeaderboard(c telebot.Context, quizID string) error {
	ctx := context.Background()
	switch quizID {
	case "":
		live, err := b.leaderboards.LiveQuizzes(ctx)
		if err != nil {
			return err
		}
		markup := &telebot.ReplyMarkup{}
		rows := []telebot.Row{markup.Row(markup.Data("🌟 Combined Leaderboard", btnLB, combinedLB))}
		for _, q := range live {
			rows = append(rows, markup.Row(markup.Data("📖 "+q.Title, btnLB, q.ID)))
		}
		markup.Inline(rows...)
		return c.Send("🏆 <b>Select Leaderboard:</b>", telebot.ModeHTML, markup)
	case combinedLB:
		entries, err := b.leaderboards.CombinedLeaderboard(ctx, 0)
		if err != nil {
			return err
		}
		return c.Send(renderCombinedLeaderboard(entries), telebot.ModeHTML)
	}

	quiz, err := b.leaderboards.Quiz(ctx, quizID)
	if err != nil {
		return c.Send(userMessage(err))
	}
	rows, err := b.leaderboards.QuizLeaderboard(ctx, quizID, 0)
	if err != nil {
		return err
	}
	return c.Send(renderLeaderboard(quiz, rows, ShareLink(b.botUsername, quizID)), telebot.ModeHTML, telebot.NoPreview)
}

func (b *Bot) onShare(c telebot.Context) error {
	quizID := strings.TrimSpace(c.Message().Payload)
	if quizID == "" {
		return c.Send("Usage: /share quiz_id")
	}
	return b.sendShare(c, quizID)
}

func (b *Bot) onShareButton(c telebot.Context) error {
	return b.sendShare(c, c.Callback().Data)
}

func (b *Bot) sendShare(c telebot.Context, quizID string) error {
	quiz, err := b.leaderboards.Quiz(context.Background(), quizID)
	if err != nil {
		return c.Send(userMessage(err))
	}
	text := fmt.Sprintf("🔗 <b>Share this quiz:</b>\n\n📝 <b>%s</b>\n%s\n\n🔗 Link: %s\n\n<i>Anyone can click this link to start the quiz!</i>",
		escape(quiz.Title), escape(quiz.Description), ShareLink(b.botUsername, quizID))
	return c.Send(text, telebot.ModeHTML)
}

func (b *Bot) onReview(c telebot.Context) error {
	quizID := strings.TrimSpace(c.Message().Payload)
	if quizID == "" {
		return c.Send("Usage: /review quiz_id")
	}
	return b.sendReview(c, quizID)
}

func (b *Bot) onReviewButton(c telebot.Context) error {
	return b.sendReview(c, c.Callback().Data)
}

func (b *Bot) sendReview(c telebot.Context, quizID string) error {
	review, err := b.leaderboards.Review(context.Background(), b.remember(c), quizID)
	if err != nil {
		return c.Send(userMessage(err))
	}
	for _, msg := range renderReview(review.Quiz, review.Attempt) {
		if err := c.Send(msg, telebot.ModeHTML); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bot) onResetQuiz(c telebot.Context) error {
	if err := b.service.ResetSession(context.Background(), b.remember(c)); err != nil {
		return err
	}
	return c.Send("✅ Your active quiz session has been reset. You can start a new quiz now.")
}

func (b *Bot) onClearUser(c telebot.Context) error {
	args := c.Args()
	if len(args) < 2 {
		return c.Send("Usage: /clearuser username quiz_id")
	}
	target := strings.TrimPrefix(args[0], "@")
	n, err := b.leaderboards.ClearAttempts(context.Background(), target, args[1])
	if err != nil {
		return err
	}
	b.log.WithFields(logrus.Fields{"target": target, "quiz_id": args[1], "records": n}).Info("admin cleared attempts")
	return c.Send(fmt.Sprintf("✅ Cleared @%s from %s", target, args[1]))
}

func (b *Bot) onListUsers(c telebot.Context) error {
	quizID := strings.TrimSpace(c.Message().Payload)
	if quizID == "" {
		return c.Send("Usage: /listusers quiz_id")
	}
	rows, err := b.leaderboards.ListParticipants(context.Background(), quizID)
	if err != nil {
		return err
	}
	return c.Send(renderParticipants(quizID, rows), telebot.ModeHTML)
}

// dispatch pushes an engine event to the user's private chat.
func (b *Bot) dispatch(ctx context.Context, ev app.Event) {
	id, ok := chatID(ev.UserID)
	if !ok {
		return
	}
	to := telebot.ChatID(id)
	logger := b.log.WithFields(logrus.Fields{"user_id": ev.UserID, "event": ev.Kind})

	for _, m := range b.messagesFor(ctx, ev) {
		opts := append([]interface{}{telebot.ModeHTML}, m.opts...)
		if _, err := b.out.Send(to, m.text, opts...); err != nil {
			logger.WithError(err).Warn("send telegram message")
			return
		}
	}
}

type outgoing struct {
	text string
	opts []interface{}
}

func (b *Bot) messagesFor(ctx context.Context, ev app.Event) []outgoing {
	res := ev.Result
	switch ev.Kind {
	case app.EventAnswered, app.EventTimedOut, app.EventCompleted:
	case app.EventCompletionFailed:
		markup := &telebot.ReplyMarkup{}
		markup.Inline(markup.Row(markup.Data("🔁 Retry", btnRetry, res.QuizID)))
		return []outgoing{{text: userMessage(domain.ErrPersistence), opts: []interface{}{markup}}}
	default:
		return nil
	}

	quiz, err := b.leaderboards.Quiz(ctx, res.QuizID)
	if err != nil {
		b.log.WithError(err).WithField("quiz_id", res.QuizID).Warn("quiz for telegram message")
		return nil
	}

	out := make([]outgoing, 0, 2)
	if res.Accepted && res.QuestionIndex < len(quiz.Questions) {
		out = append(out, outgoing{text: renderFeedback(res, quiz.Questions[res.QuestionIndex].Options)})
	}
	if res.Next != nil {
		out = append(out, outgoing{text: renderQuestion(*res.Next, b.now()), opts: []interface{}{questionMarkup(*res.Next)}})
	}
	if res.Scorecard != nil {
		markup := &telebot.ReplyMarkup{}
		markup.Inline(
			markup.Row(markup.Data("📝 Review Answers", btnReview, res.QuizID)),
			markup.Row(markup.Data("🏆 Leaderboard", btnLB, res.QuizID)),
			markup.Row(markup.Data("📚 More Quizzes", btnBrowse)),
		)
		out = append(out, outgoing{
			text: renderResult(quiz.Title, *res.Scorecard, ShareLink(b.botUsername, res.QuizID)),
			opts: []interface{}{markup, telebot.NoPreview},
		})
	}
	return out
}

func questionMarkup(prompt domain.QuestionPrompt) *telebot.ReplyMarkup {
	markup := &telebot.ReplyMarkup{}
	rows := make([]telebot.Row, 0, len(prompt.Options))
	for i, option := range prompt.Options {
		rows = append(rows, markup.Row(markup.Data(
			fmt.Sprintf("%d. %s", i+1, option),
			btnAnswer,
			prompt.QuizID, strconv.Itoa(prompt.Index), strconv.Itoa(i),
		)))
	}
	markup.Inline(rows...)
	return markup
}

type answer struct {
	quizID        string
	questionIndex int
	optionIndex   int
}

// parseAnswer decodes the quizId|question|option payload of an answer button.
func parseAnswer(args []string) (answer, error) {
	if len(args) != 3 {
		return answer{}, fmt.Errorf("answer payload: want 3 fields, got %d", len(args))
	}
	q, err := strconv.Atoi(args[1])
	if err != nil {
		return answer{}, fmt.Errorf("answer question: %w", err)
	}
	opt, err := strconv.Atoi(args[2])
	if err != nil {
		return answer{}, fmt.Errorf("answer option: %w", err)
	}
	return answer{quizID: args[0], questionIndex: q, optionIndex: opt}, nil
}
