package http

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"sb-quiz-service/internal/app"
	"sb-quiz-service/internal/domain"
)

const (
	adminTokenHeader = "X-Admin-Token"
	// UserPrefix namespaces web users so they never collide with Telegram ids.
	UserPrefix = "web:"
)

// IdentityRecorder keeps the display identity a client sent with its request.
type IdentityRecorder interface {
	Remember(userID string, identity domain.Identity)
}

type APIHandler struct {
	service      *app.QuizService
	leaderboards *app.LeaderboardService
	identities   IdentityRecorder
	adminToken   string
}

func NewAPIHandler(service *app.QuizService, leaderboards *app.LeaderboardService, identities IdentityRecorder, adminToken string) *APIHandler {
	return &APIHandler{service: service, leaderboards: leaderboards, identities: identities, adminToken: adminToken}
}

func (h *APIHandler) RegisterRoutes(r chi.Router) {
	r.Get("/quizzes", h.listQuizzes)
	r.Get("/quizzes/{quizID}/leaderboard", h.quizLeaderboard)
	r.Get("/leaderboard", h.combinedLeaderboard)

	r.Post("/sessions", h.startSession)
	r.Get("/sessions/{userID}", h.getSession)
	r.Post("/sessions/{userID}/answers", h.submitAnswer)
	r.Post("/sessions/{userID}/complete", h.completeSession)
	r.Delete("/sessions/{userID}", h.resetSession)

	r.Get("/users/{userID}/summary", h.userSummary)
	r.Get("/users/{userID}/reviews/{quizID}", h.review)

	r.Group(func(admin chi.Router) {
		admin.Use(h.adminOnly)
		admin.Get("/admin/quizzes/{quizID}/participants", h.participants)
		admin.Delete("/admin/quizzes/{quizID}/attempts/{user}", h.clearAttempts)
	})
}

type quizSummary struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Description   string `json:"description,omitempty"`
	QuestionCount int    `json:"questionCount"`
}

func (h *APIHandler) listQuizzes(w http.ResponseWriter, r *http.Request) {
	quizzes, err := h.leaderboards.LiveQuizzes(r.Context())
	if err != nil {
		respondWithDomainError(w, err)
		return
	}
	out := make([]quizSummary, 0, len(quizzes))
	for _, q := range quizzes {
		out = append(out, quizSummary{ID: q.ID, Title: q.Title, Description: q.Description, QuestionCount: len(q.Questions)})
	}
	respondWithJSON(w, http.StatusOK, out)
}

func (h *APIHandler) quizLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	rows, err := h.leaderboards.QuizLeaderboard(r.Context(), chi.URLParam(r, "quizID"), limit)
	if err != nil {
		respondWithDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, rows)
}

func (h *APIHandler) combinedLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	rows, err := h.leaderboards.CombinedLeaderboard(r.Context(), limit)
	if err != nil {
		respondWithDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, rows)
}

type startRequest struct {
	UserID      string `json:"userId"`
	QuizID      string `json:"quizId"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
}

type sessionResponse struct {
	Session  domain.Session         `json:"session"`
	Question *domain.QuestionPrompt `json:"question,omitempty"`
}

func (h *APIHandler) startSession(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	if req.UserID == "" || req.QuizID == "" {
		respondWithError(w, http.StatusBadRequest, "userId and quizId are required")
		return
	}

	userID := UserPrefix + req.UserID
	if h.identities != nil {
		h.identities.Remember(userID, domain.Identity{Username: req.Username, DisplayName: req.DisplayName})
	}
	session, prompt, err := h.service.StartSession(r.Context(), userID, req.QuizID, h.isAdmin(r))
	if err != nil {
		respondWithDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, sessionResponse{Session: session, Question: &prompt})
}

func (h *APIHandler) getSession(w http.ResponseWriter, r *http.Request) {
	userID := UserPrefix + chi.URLParam(r, "userID")
	session, ok, err := h.service.GetActiveSession(r.Context(), userID)
	if err != nil {
		respondWithDomainError(w, err)
		return
	}
	if !ok {
		respondWithDomainError(w, domain.ErrSessionExpired)
		return
	}
	resp := sessionResponse{Session: session}
	if !session.Finished() {
		if prompt, err := h.service.CurrentQuestion(r.Context(), userID); err == nil {
			resp.Question = &prompt
		}
	}
	respondWithJSON(w, http.StatusOK, resp)
}

type answerRequest struct {
	// QuizID, when set, rejects answers rendered for another quiz than the live one.
	QuizID        string `json:"quizId,omitempty"`
	QuestionIndex int    `json:"questionIndex"`
	OptionIndex   int    `json:"optionIndex"`
}

func (h *APIHandler) submitAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	result, err := h.service.SubmitQuizAnswer(r.Context(), UserPrefix+chi.URLParam(r, "userID"), req.QuizID, req.QuestionIndex, req.OptionIndex)
	if err != nil {
		respondWithDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

func (h *APIHandler) completeSession(w http.ResponseWriter, r *http.Request) {
	card, err := h.service.CompleteSession(r.Context(), UserPrefix+chi.URLParam(r, "userID"))
	if err != nil {
		respondWithDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, card)
}

func (h *APIHandler) resetSession(w http.ResponseWriter, r *http.Request) {
	if err := h.service.ResetSession(r.Context(), UserPrefix+chi.URLParam(r, "userID")); err != nil {
		respondWithDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) userSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.leaderboards.UserSummary(r.Context(), UserPrefix+chi.URLParam(r, "userID"))
	if err != nil {
		respondWithDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, summary)
}

func (h *APIHandler) review(w http.ResponseWriter, r *http.Request) {
	review, err := h.leaderboards.Review(r.Context(), UserPrefix+chi.URLParam(r, "userID"), chi.URLParam(r, "quizID"))
	if err != nil {
		respondWithDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, review)
}

func (h *APIHandler) participants(w http.ResponseWriter, r *http.Request) {
	rows, err := h.leaderboards.ListParticipants(r.Context(), chi.URLParam(r, "quizID"))
	if err != nil {
		respondWithDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, rows)
}

// clearAttempts takes a full user id (tg:42, web:alice) or a username.
func (h *APIHandler) clearAttempts(w http.ResponseWriter, r *http.Request) {
	n, err := h.leaderboards.ClearAttempts(r.Context(), chi.URLParam(r, "user"), chi.URLParam(r, "quizID"))
	if err != nil {
		respondWithDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]int{"removed": n})
}

func (h *APIHandler) adminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.isAdmin(r) {
			respondWithDomainError(w, domain.ErrForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *APIHandler) isAdmin(r *http.Request) bool {
	if h.adminToken == "" {
		return false
	}
	token := r.Header.Get(adminTokenHeader)
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) == 1
}
