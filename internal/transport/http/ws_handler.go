package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"sb-quiz-service/internal/app"
	"sb-quiz-service/internal/domain"
)

type WSHandler struct {
	service    *app.QuizService
	identities IdentityRecorder
	log        logrus.FieldLogger
	upgrader   websocket.Upgrader
}

func NewWSHandler(service *app.QuizService, identities IdentityRecorder, log logrus.FieldLogger) *WSHandler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &WSHandler{
		service:    service,
		identities: identities,
		log:        log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type startPayload struct {
	QuizID string `json:"quizId"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// ServeWS upgrades HTTP requests to websockets. The client sends "start" and "answer"
// messages; everything the engine does to the session, including timeouts, is pushed
// back from the event hub.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	rawUser := r.URL.Query().Get("userId")
	if rawUser == "" {
		http.Error(w, "missing userId", http.StatusBadRequest)
		return
	}
	userID := UserPrefix + rawUser
	if h.identities != nil {
		h.identities.Remember(userID, domain.Identity{
			Username:    r.URL.Query().Get("username"),
			DisplayName: r.URL.Query().Get("name"),
		})
	}
	logger := h.log.WithField("user_id", userID)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WithError(err).Warn("ws upgrade failed")
		return
	}
	defer conn.Close()

	// the request context ends with the handler, timers keep running without it
	ctx := context.WithoutCancel(r.Context())

	events, cancel := h.service.Hub().Subscribe(userID)
	defer cancel()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	eventsDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				logger.WithError(err).Debug("ws write error")
				return
			}
		}
	}()

	go func() {
		defer close(eventsDone)
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage[any]{Type: string(ev.Kind), Payload: ev}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	sendError := func(err error) {
		send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
	}
	start := func(quizID string) {
		_, prompt, err := h.service.StartSession(ctx, userID, quizID, false)
		if err != nil {
			sendError(err)
			return
		}
		send <- outboundMessage[any]{Type: "question", Payload: prompt}
	}

	if quizID := r.URL.Query().Get("quizId"); quizID != "" {
		start(quizID)
	} else if prompt, err := h.service.CurrentQuestion(ctx, userID); err == nil {
		send <- outboundMessage[any]{Type: "question", Payload: prompt}
	}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "start":
			var payload startPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil || payload.QuizID == "" {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid start payload"}}
				continue
			}
			start(payload.QuizID)
		case "answer":
			var payload answerRequest
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid answer payload"}}
				continue
			}
			// accepted answers come back through the hub
			if _, err := h.service.SubmitQuizAnswer(ctx, userID, payload.QuizID, payload.QuestionIndex, payload.OptionIndex); err != nil {
				sendError(err)
			}
		case "complete":
			if _, err := h.service.CompleteSession(ctx, userID); err != nil {
				sendError(err)
			}
		default:
			send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "unsupported message type"}}
		}
	}

	close(closeSignals)
	<-eventsDone
	close(send)
	<-writerDone
}
