package telegram

import (
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"sb-quiz-service/internal/domain"
)

// maxMessageLen stays under Telegram's 4096 character limit.
const maxMessageLen = 4000

// UserPrefix namespaces Telegram users in the engine.
const UserPrefix = "tg:"

func userID(telegramID int64) string {
	return UserPrefix + strconv.FormatInt(telegramID, 10)
}

func chatID(userID string) (int64, bool) {
	if !strings.HasPrefix(userID, UserPrefix) {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(userID, UserPrefix), 10, 64)
	return id, err == nil
}

func escape(text string) string {
	return html.EscapeString(text)
}

// ShareLink is the deep link that opens the bot on a quiz.
func ShareLink(botUsername, quizID string) string {
	return fmt.Sprintf("https://t.me/%s?start=%s", botUsername, quizID)
}

func renderWelcome(liveCount int) string {
	return "🎯 <b>Welcome to the Quiz Bot!</b>\n\n" +
		fmt.Sprintf("📚 <b>Available Quizzes:</b> %d\n\n", liveCount) +
		"Choose a quiz below or use:\n" +
		"• /quizzes - List all quizzes\n" +
		"• /leaderboard - View leaderboards"
}

func renderQuizDetails(quiz domain.Quiz, attempted, admin bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🎯 <b>%s</b> 📖\n", escape(quiz.Title))
	if quiz.Description != "" {
		fmt.Fprintf(&b, "%s\n", escape(quiz.Description))
	}
	fmt.Fprintf(&b, "\n❓ %d questions\n\n", len(quiz.Questions))
	if attempted && !admin {
		b.WriteString("✅ <i>You have already completed this quiz!</i>")
	} else {
		b.WriteString("✨ <i>Ready to begin?</i>")
	}
	return b.String()
}

func renderQuestion(prompt domain.QuestionPrompt, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📝 <b>Question %d/%d</b>\n\n%s", prompt.Index+1, prompt.Total, escape(prompt.Text))
	if left := prompt.Deadline.Sub(now); left > 0 {
		fmt.Fprintf(&b, "\n\n⏱️ %ds to answer", int(left.Round(time.Second).Seconds()))
	}
	return b.String()
}

func renderFeedback(result domain.AdvanceResult, options []string) string {
	switch {
	case result.TimedOut:
		return "⏰ Time's up!"
	case result.Correct:
		return "✅ Correct!"
	case result.CorrectOption >= 0 && result.CorrectOption < len(options):
		return "❌ Wrong. Correct answer: " + escape(options[result.CorrectOption])
	default:
		return "❌ Wrong."
	}
}

func resultEmoji(score, total int) string {
	if total <= 0 {
		return "💪"
	}
	percentage := score * 100 / total
	switch {
	case percentage >= 80:
		return "🏆"
	case percentage >= 60:
		return "👏"
	default:
		return "💪"
	}
}

func renderResult(title string, card domain.Scorecard, shareLink string) string {
	return fmt.Sprintf("%s <b>Quiz Complete!</b>\n\nQuiz: %s\nScore: %d/%d\nTime: %ds\n\nShare: %s",
		resultEmoji(card.Score, card.TotalQuestions), escape(title), card.Score, card.TotalQuestions, card.TotalTimeSeconds, shareLink)
}

var medals = []string{"🥇", "🥈", "🥉"}

func rank(i int) string {
	if i < len(medals) {
		return medals[i]
	}
	return fmt.Sprintf("%d.", i+1)
}

func displayName(name, username string) string {
	switch {
	case name != "" && name != domain.UnknownIdentity.DisplayName:
		return name
	case username != "" && username != domain.UnknownIdentity.Username:
		return username
	case name != "":
		return name
	default:
		return "Anonymous"
	}
}

func renderLeaderboard(quiz domain.Quiz, rows []domain.AttemptRecord, shareLink string) string {
	header := fmt.Sprintf("🏆 <b>Leaderboard: %s</b>\n\n", escape(quiz.Title))
	if len(rows) == 0 {
		return header + "No results yet. Be the first!"
	}
	lines := make([]string, 0, len(rows))
	for i, r := range rows {
		lines = append(lines, fmt.Sprintf("%s <b>%s</b> - %d/%d (%ds)",
			rank(i), escape(displayName(r.DisplayName, r.Username)), r.Score, len(quiz.Questions), r.TotalTimeSeconds))
	}
	return header + strings.Join(lines, "\n") + "\n\n🔗 Share: " + shareLink
}

func renderCombinedLeaderboard(entries []domain.AggregateEntry) string {
	header := "🌟 <b>Combined Leaderboard</b>\n\n"
	if len(entries) == 0 {
		return header + "No results yet. Be the first!"
	}
	lines := make([]string, 0, len(entries))
	for i, e := range entries {
		lines = append(lines, fmt.Sprintf("%s <b>%s</b> - %d pts in %d quizzes (%ds)",
			rank(i), escape(displayName(e.DisplayName, "")), e.TotalScore, e.DistinctQuizzes, e.TotalTimeSeconds))
	}
	return header + strings.Join(lines, "\n")
}

func renderParticipants(quizID string, rows []domain.AttemptRecord) string {
	if len(rows) == 0 {
		return fmt.Sprintf("No users found for %s", escape(quizID))
	}
	var b strings.Builder
	fmt.Fprintf(&b, "👥 <b>Users in %s:</b>\n\n", escape(quizID))
	for i, r := range rows {
		name := r.Username
		if name == "" {
			name = domain.UnknownIdentity.Username
		}
		fmt.Fprintf(&b, "%d. @%s - Score: %d\n", i+1, escape(name), r.Score)
	}
	return b.String()
}

// renderReview returns the answer review split into messages that fit Telegram's limit.
func renderReview(quiz domain.Quiz, attempt domain.AttemptRecord) []string {
	parts := []string{fmt.Sprintf("📝 <b>Review: %s</b>\n\n📊 Score: %d/%d\n⏱️ Time: %ds\n",
		escape(quiz.Title), attempt.Score, len(quiz.Questions), attempt.TotalTimeSeconds)}

	for i, q := range quiz.Questions {
		var b strings.Builder
		fmt.Fprintf(&b, "<b>Q%d: %s</b>\n", i+1, escape(q.Text))
		var choice *int
		if i < len(attempt.Answers) {
			choice = attempt.Answers[i]
		}
		switch {
		case choice == nil || *choice < 0 || *choice >= len(q.Options):
			b.WriteString("⏰ Time's up - No answer\n")
		case *choice == q.CorrectOption:
			fmt.Fprintf(&b, "✅ Your answer: %s\n", escape(q.Options[*choice]))
		default:
			fmt.Fprintf(&b, "❌ Your answer: %s\n", escape(q.Options[*choice]))
			fmt.Fprintf(&b, "✓ Correct: %s\n", escape(q.Options[q.CorrectOption]))
		}
		parts = append(parts, b.String())
	}

	messages := make([]string, 0, 1)
	current := parts[0]
	for _, part := range parts[1:] {
		if len(current)+1+len(part) > maxMessageLen {
			messages = append(messages, current)
			current = part
			continue
		}
		current += "\n" + part
	}
	return append(messages, current)
}

func userMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrAlreadyAttempted):
		return "✅ You have already completed this quiz!"
	case errors.Is(err, domain.ErrQuizNotFound):
		return "⚠️ Quiz not found. Use /quizzes to see available quizzes."
	case errors.Is(err, domain.ErrStaleAnswer):
		return "⌛ This question is already closed."
	case errors.Is(err, domain.ErrSessionExpired):
		return "⚠️ Quiz session not found. Start the quiz again."
	case errors.Is(err, domain.ErrInvalidOption):
		return "⚠️ That option does not exist."
	case errors.Is(err, domain.ErrAttemptNotFound):
		return "⚠️ You haven't taken this quiz yet!"
	case errors.Is(err, domain.ErrPersistence):
		return "⚠️ We couldn't save your result. Tap retry in a moment."
	default:
		return "⚠️ Something went wrong. Please try again."
	}
}
