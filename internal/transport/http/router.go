package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/handlers"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"sb-quiz-service/internal/app"
	"sb-quiz-service/internal/logging"
)

// RouterDeps collects what the HTTP surface needs.
type RouterDeps struct {
	Service        *app.QuizService
	Leaderboards   *app.LeaderboardService
	Identities     IdentityRecorder
	Gatherer       prometheus.Gatherer
	Logger         logrus.FieldLogger
	AdminToken     string
	AllowedOrigins []string
}

func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(logging.Middleware(deps.Logger))
	r.Use(chiMiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	wsHandler := NewWSHandler(deps.Service, deps.Identities, deps.Logger)
	r.Get("/ws", wsHandler.ServeWS)

	api := NewAPIHandler(deps.Service, deps.Leaderboards, deps.Identities, deps.AdminToken)
	r.Route("/api", func(r chi.Router) {
		r.Use(chiMiddleware.Timeout(30 * time.Second))
		api.RegisterRoutes(r)
	})

	origins := deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return handlers.CORS(
		handlers.AllowedHeaders([]string{"Content-Type", adminTokenHeader}),
		handlers.AllowedMethods([]string{"GET", "POST", "DELETE", "OPTIONS"}),
		handlers.AllowedOrigins(origins),
	)(r)
}
